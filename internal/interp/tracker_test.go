package interp

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/vahan-live/internal/models"
)

type fakeJob struct {
	fn      func(time.Time)
	stopped bool
}

func (j *fakeJob) Stop() { j.stopped = true }

type fakeScheduler struct {
	jobs []*fakeJob
}

func (s *fakeScheduler) Every(_ time.Duration, fn func(time.Time)) Stopper {
	j := &fakeJob{fn: fn}
	s.jobs = append(s.jobs, j)
	return j
}

func (s *fakeScheduler) fire(now time.Time) {
	for _, j := range s.jobs {
		if !j.stopped {
			j.fn(now)
		}
	}
}

func (s *fakeScheduler) running() int {
	n := 0
	for _, j := range s.jobs {
		if !j.stopped {
			n++
		}
	}
	return n
}

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }
func newFakeClock() *fakeClock               { return &fakeClock{now: time.Unix(1700000000, 0)} }

func newTestTracker(frames *[]Frame) (*Tracker, *fakeScheduler, *fakeClock) {
	sched := &fakeScheduler{}
	clock := newFakeClock()
	render := func(_ string, f Frame) { *frames = append(*frames, f) }
	return NewTracker(DefaultConfig(), sched, render, WithClock(clock.Now)), sched, clock
}

func TestTracker_FirstSampleRendersImmediately(t *testing.T) {
	var frames []Frame
	tr, sched, _ := newTestTracker(&frames)

	tr.Update("B1", Sample{Position: models.Position{Lat: 1, Lng: 2}, Heading: 370})
	require.Len(t, frames, 1)
	assert.Equal(t, models.Position{Lat: 1, Lng: 2}, frames[0].Position)
	assert.InDelta(t, 10, frames[0].Heading, 1e-9)
	assert.Empty(t, sched.jobs)
}

func TestTracker_AnimatesTowardTarget(t *testing.T) {
	var frames []Frame
	tr, sched, clock := newTestTracker(&frames)

	tr.Update("B1", Sample{Position: models.Position{}})
	// zero speed clamps the duration to the 10s maximum
	tr.Update("B1", Sample{Position: models.Position{Lng: 0.01}, Speed: 0})
	require.Equal(t, 1, sched.running())
	assert.Equal(t, 1, tr.Active())

	clock.Advance(5 * time.Second)
	sched.fire(clock.Now())
	last := frames[len(frames)-1]
	assert.InDelta(t, 0.005, last.Position.Lng, 1e-9)
	assert.InDelta(t, 45, last.Heading, 1e-6)
	assert.True(t, last.Moving)

	clock.Advance(5 * time.Second)
	sched.fire(clock.Now())
	last = frames[len(frames)-1]
	assert.InDelta(t, 0.01, last.Position.Lng, 1e-12)
	assert.InDelta(t, 90, last.Heading, 1e-6)
	assert.False(t, last.Moving)
	assert.Equal(t, 0, sched.running())
	assert.Equal(t, 0, tr.Active())
}

func TestTracker_NewSampleStartsFromDisplayedPosition(t *testing.T) {
	var frames []Frame
	tr, sched, clock := newTestTracker(&frames)

	tr.Update("B1", Sample{Position: models.Position{}})
	tr.Update("B1", Sample{Position: models.Position{Lng: 0.01}})
	clock.Advance(5 * time.Second)

	// a faster-than-animation update supersedes the first animation mid-flight
	tr.Update("B1", Sample{Position: models.Position{Lat: 0.01, Lng: 0.005}})
	require.Len(t, sched.jobs, 2)
	assert.True(t, sched.jobs[0].stopped)
	assert.False(t, sched.jobs[1].stopped)

	f, ok := tr.Frame("B1")
	require.True(t, ok)
	assert.InDelta(t, 0.005, f.Position.Lng, 1e-9)
	assert.InDelta(t, 0, f.Position.Lat, 1e-9)

	clock.Advance(time.Nanosecond)
	sched.fire(clock.Now())
	last := frames[len(frames)-1]
	assert.InDelta(t, 0.005, last.Position.Lng, 1e-6)
	// heading resumes from the frozen mid-turn value, not from the old target
	assert.InDelta(t, 45, last.Heading, 1e-3)
}

func TestTracker_StaleTickIgnored(t *testing.T) {
	var frames []Frame
	tr, sched, clock := newTestTracker(&frames)

	tr.Update("B1", Sample{Position: models.Position{}})
	tr.Update("B1", Sample{Position: models.Position{Lng: 0.01}})
	first := sched.jobs[0]
	tr.Update("B1", Sample{Position: models.Position{Lng: 0.02}})

	before := len(frames)
	clock.Advance(time.Second)
	first.fn(clock.Now())
	assert.Len(t, frames, before)
}

func TestTracker_CloseCancelsEverything(t *testing.T) {
	var frames []Frame
	tr, sched, _ := newTestTracker(&frames)

	for _, id := range []string{"B1", "B2", "B3"} {
		tr.Update(id, Sample{Position: models.Position{}})
		tr.Update(id, Sample{Position: models.Position{Lat: 0.01}})
	}
	require.Equal(t, 3, sched.running())

	tr.Remove("B2")
	assert.Equal(t, 2, sched.running())

	tr.Close()
	assert.Equal(t, 0, sched.running())
	_, ok := tr.Frame("B1")
	assert.False(t, ok)

	tr.Update("B1", Sample{Position: models.Position{Lat: 5}})
	assert.Equal(t, 0, sched.running())
}

func TestTickerScheduler_StopsGoroutine(t *testing.T) {
	var ticks int32
	s := TickerScheduler{}.Every(time.Millisecond, func(time.Time) {
		atomic.AddInt32(&ticks, 1)
	})

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&ticks) >= 2 }, time.Second, time.Millisecond)
	s.Stop()
	s.Stop()
	time.Sleep(10 * time.Millisecond)
	n := atomic.LoadInt32(&ticks)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, n, atomic.LoadInt32(&ticks))
}
