package liveroute

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/vahan-live/internal/models"
)

func fixedClock() func() time.Time {
	ts := time.UnixMilli(1700000000000)
	return func() time.Time { return ts }
}

func staticIDs(ids ...string) func(string) bool {
	set := map[string]bool{}
	for _, id := range ids {
		set[id] = true
	}
	return func(id string) bool { return set[id] }
}

func TestAnnounce_AllocatesNamespacedID(t *testing.T) {
	m := NewManager(staticIDs("route_1"), fixedClock())

	r, created, err := m.Announce("B1", "X", models.KindSurface)
	require.NoError(t, err)
	assert.True(t, created)
	assert.True(t, IsLiveID(r.ID))
	assert.Equal(t, "live_B1_1700000000000", r.ID)
	assert.Equal(t, "X", r.Name)
	assert.Equal(t, "B1", r.OwnerID)
	assert.True(t, r.IsLive)
	assert.Empty(t, r.Stops)
	assert.Equal(t, StateAnnounced, m.StateOf(r.ID))
}

func TestAnnounce_ReannounceReturnsExisting(t *testing.T) {
	m := NewManager(nil, fixedClock())
	first, _, _ := m.Announce("B1", "X", models.KindSurface)
	second, created, err := m.Announce("B1", "Y", models.KindSurface)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, m.List(), 1)
}

func TestAnnounce_NeverReusesTornDownID(t *testing.T) {
	m := NewManager(nil, fixedClock())
	first, _, _ := m.Announce("B1", "X", models.KindSurface)
	_, ok := m.Teardown(first.ID)
	require.True(t, ok)

	second, created, err := m.Announce("B1", "X", models.KindSurface)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, StateTornDown, m.StateOf(first.ID))
}

func TestAnnounce_SanitizesOwner(t *testing.T) {
	m := NewManager(nil, fixedClock())
	r, _, err := m.Announce("TN 45/1234", "", models.KindAir)
	require.NoError(t, err)
	assert.Equal(t, "live_TN-45-1234_1700000000000", r.ID)
	assert.Equal(t, "Live: TN 45/1234", r.Name)
	assert.Equal(t, models.KindAir, r.Kind)

	_, _, err = m.Announce("", "X", models.KindSurface)
	assert.ErrorIs(t, err, models.ErrMalformed)
}

func TestAnnounce_AvoidsStaticCollision(t *testing.T) {
	m := NewManager(staticIDs("live_B1_1700000000000"), fixedClock())
	r, _, err := m.Announce("B1", "X", models.KindSurface)
	require.NoError(t, err)
	assert.Equal(t, "live_B1_1700000000000_1", r.ID)
}

func TestTouch_ActivatesOnce(t *testing.T) {
	m := NewManager(nil, fixedClock())
	r, _, _ := m.Announce("B1", "X", models.KindSurface)

	activated, err := m.Touch(r.ID, "B1")
	require.NoError(t, err)
	assert.True(t, activated)
	assert.Equal(t, StateActive, m.StateOf(r.ID))

	activated, err = m.Touch(r.ID, "B1")
	require.NoError(t, err)
	assert.False(t, activated)
}

func TestTouch_Errors(t *testing.T) {
	m := NewManager(staticIDs("route_1"), fixedClock())
	r, _, _ := m.Announce("B1", "X", models.KindSurface)

	_, err := m.Touch(r.ID, "intruder")
	assert.ErrorIs(t, err, ErrNotOwner)

	_, err = m.Touch("route_1", "B1")
	assert.ErrorIs(t, err, ErrStaticRoute)

	_, err = m.Touch("live_nope", "B1")
	assert.ErrorIs(t, err, ErrUnknownRoute)

	m.Teardown(r.ID)
	_, err = m.Touch(r.ID, "B1")
	assert.ErrorIs(t, err, ErrTornDown)
}

func TestClaim(t *testing.T) {
	m := NewManager(staticIDs("route_1"), fixedClock())
	r, _, _ := m.Announce("B1", "X", models.KindSurface)

	got, err := m.Claim("B1", r.ID)
	require.NoError(t, err)
	assert.Equal(t, r.ID, got.ID)

	_, err = m.Claim("B2", r.ID)
	assert.ErrorIs(t, err, ErrNotOwner)

	_, err = m.Claim("B2", "route_1")
	assert.ErrorIs(t, err, ErrStaticRoute)
}

func TestTeardown_Idempotent(t *testing.T) {
	m := NewManager(nil, fixedClock())
	r, _, _ := m.Announce("B1", "X", models.KindSurface)

	lr, ok := m.Teardown(r.ID)
	require.True(t, ok)
	assert.Equal(t, StateTornDown, lr.State)
	assert.Equal(t, "B1", lr.Owner)

	assert.NotPanics(t, func() {
		_, ok = m.Teardown(r.ID)
	})
	assert.False(t, ok)
	_, owned := m.OwnedBy("B1")
	assert.False(t, owned)
	_, found := m.Get(r.ID)
	assert.False(t, found)
	assert.Empty(t, m.List())
	assert.Equal(t, StateNone, m.StateOf("live_unknown"))
}

func TestList_CreationOrder(t *testing.T) {
	ts := time.UnixMilli(0)
	m := NewManager(nil, func() time.Time {
		ts = ts.Add(time.Second)
		return ts
	})
	m.Announce("B2", "first", models.KindSurface)
	m.Announce("B1", "second", models.KindSurface)

	routes := m.List()
	require.Len(t, routes, 2)
	assert.Equal(t, "B2", routes[0].OwnerID)
	assert.Equal(t, "B1", routes[1].OwnerID)
}

func TestAnnouncedBefore(t *testing.T) {
	ts := time.UnixMilli(0)
	m := NewManager(nil, func() time.Time { return ts })
	idle, _, _ := m.Announce("B1", "idle", models.KindSurface)
	busy, _, _ := m.Announce("B2", "busy", models.KindSurface)
	_, err := m.Touch(busy.ID, "B2")
	require.NoError(t, err)

	got := m.AnnouncedBefore(ts.Add(time.Minute))
	require.Len(t, got, 1)
	assert.Equal(t, idle.ID, got[0].Route.ID)
	assert.Empty(t, m.AnnouncedBefore(ts))
}
