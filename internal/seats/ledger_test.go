package seats

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/vahan-live/internal/models"
)

var epoch = time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC)

func newLedger() *Ledger {
	return NewLedger(func() time.Time { return epoch })
}

func TestEnsure_Defaults(t *testing.T) {
	l := newLedger()

	bus, created := l.Ensure("B1", "route_1", models.KindSurface)
	assert.True(t, created)
	assert.Equal(t, models.SeatSingleTier, bus.Kind)
	assert.Equal(t, models.SeatCounter{Capacity: 50, Available: 50}, bus.Single)

	air, _ := l.Ensure("AI-101", "airway_1", models.KindAir)
	assert.Equal(t, models.SeatTwoTier, air.Kind)
	assert.Equal(t, 120, air.Economy.Capacity)
	assert.Equal(t, 30, air.Business.Available)

	again, created := l.Ensure("B1", "live_B1_1", models.KindSurface)
	assert.False(t, created)
	assert.Equal(t, "live_B1_1", again.RouteID)
}

func TestBook_NeverNegative(t *testing.T) {
	l := newLedger()
	l.Ensure("B1", "route_1", models.KindSurface)

	for i := 0; i < 50; i++ {
		_, booked, err := l.Book("B1", "")
		require.NoError(t, err)
		require.True(t, booked)
	}
	rec, booked, err := l.Book("B1", "")
	require.NoError(t, err)
	assert.False(t, booked)
	assert.Equal(t, 0, rec.Single.Available)
	assert.Equal(t, 50, rec.Single.Capacity)
}

func TestBook_TwoTier(t *testing.T) {
	l := newLedger()
	l.Seed(models.SeatRecord{
		VehicleID: "AI-101",
		RouteID:   "airway_1",
		Kind:      models.SeatTwoTier,
		Economy:   models.SeatCounter{Capacity: 120, Available: 45},
		Business:  models.SeatCounter{Capacity: 30, Available: 0},
	})

	rec, booked, err := l.Book("AI-101", models.TierEconomy)
	require.NoError(t, err)
	assert.True(t, booked)
	assert.Equal(t, 44, rec.Economy.Available)

	rec, booked, err = l.Book("AI-101", models.TierBusiness)
	require.NoError(t, err)
	assert.False(t, booked)
	assert.Equal(t, 0, rec.Business.Available)

	_, _, err = l.Book("AI-101", "first")
	assert.ErrorIs(t, err, ErrUnknownTier)
}

func TestBook_UnknownVehicle(t *testing.T) {
	l := newLedger()
	_, booked, err := l.Book("ghost", "")
	assert.ErrorIs(t, err, ErrUnknownVehicle)
	assert.False(t, booked)
}

func TestSeed_Clamps(t *testing.T) {
	l := newLedger()
	rec := l.Seed(models.SeatRecord{
		VehicleID: "B1",
		Kind:      models.SeatSingleTier,
		Single:    models.SeatCounter{Capacity: 50, Available: 80},
	})
	assert.Equal(t, 50, rec.Single.Available)
	assert.Equal(t, epoch, rec.UpdatedAt)

	rec = l.Seed(models.SeatRecord{
		VehicleID: "B2",
		Kind:      models.SeatSingleTier,
		Single:    models.SeatCounter{Capacity: 50, Available: -3},
	})
	assert.Equal(t, 0, rec.Single.Available)
}

func TestSnapshots(t *testing.T) {
	l := newLedger()
	l.Ensure("B2", "route_1", models.KindSurface)
	l.Ensure("B1", "route_1", models.KindSurface)
	l.Ensure("B3", "route_2", models.KindSurface)

	byRoute := l.SnapshotByRoute("route_1")
	require.Len(t, byRoute, 2)
	assert.Equal(t, "B1", byRoute[0].VehicleID)
	assert.Equal(t, "B2", byRoute[1].VehicleID)
	assert.NotNil(t, l.SnapshotByRoute("nowhere"))
	assert.Len(t, l.All(), 3)

	_, ok := l.Snapshot("B3")
	assert.True(t, ok)
	assert.True(t, l.Remove("B3"))
	assert.False(t, l.Remove("B3"))
	_, ok = l.Snapshot("B3")
	assert.False(t, ok)
}

func TestBook_ConcurrentNeverOversells(t *testing.T) {
	l := newLedger()
	l.Ensure("B1", "route_1", models.KindSurface)

	var wg sync.WaitGroup
	var mu sync.Mutex
	booked := 0
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok, _ := l.Book("B1", ""); ok {
				mu.Lock()
				booked++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	rec, _ := l.Snapshot("B1")
	assert.Equal(t, 50, booked)
	assert.Equal(t, 0, rec.Single.Available)
}
