package interp

import (
	"sync"
	"time"

	"github.com/ukydev/vahan-live/internal/geo"
)

// RenderFunc receives every displayed frame. It runs with the tracker locked
// and must not call back into the Tracker.
type RenderFunc func(vehicleID string, f Frame)

type track struct {
	displayed Frame
	anim      *Animation
	stop      Stopper
}

// Tracker keeps one animation per vehicle for a single viewer.
type Tracker struct {
	mu     sync.Mutex
	cfg    Config
	sched  Scheduler
	render RenderFunc
	now    func() time.Time
	tracks map[string]*track
	closed bool
}

// Option customises a Tracker.
type Option func(*Tracker)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// NewTracker creates a tracker. A nil render func discards frames.
func NewTracker(cfg Config, sched Scheduler, render RenderFunc, opts ...Option) *Tracker {
	if render == nil {
		render = func(string, Frame) {}
	}
	if cfg.FrameInterval <= 0 {
		cfg.FrameInterval = DefaultConfig().FrameInterval
	}
	t := &Tracker{
		cfg:    cfg,
		sched:  sched,
		render: render,
		now:    time.Now,
		tracks: make(map[string]*track),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Update feeds a new sample. The currently displayed frame, not the previous
// target, becomes the start of the next animation.
func (t *Tracker) Update(vehicleID string, s Sample) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}

	now := t.now()
	tr, ok := t.tracks[vehicleID]
	if !ok {
		tr = &track{displayed: Frame{Position: s.Position, Heading: geo.NormalizeHeading(s.Heading)}}
		t.tracks[vehicleID] = tr
		t.render(vehicleID, tr.displayed)
		return
	}
	t.cancel(tr, now)

	start := tr.displayed
	targetHeading, ok := geo.BearingDegrees(start.Position, s.Position)
	if !ok {
		targetHeading = geo.NormalizeHeading(s.Heading)
	}
	if start.Position == s.Position && start.Heading == targetHeading {
		return
	}

	anim := &Animation{
		Start:         start.Position,
		Target:        s.Position,
		StartHeading:  start.Heading,
		TargetHeading: targetHeading,
		Begin:         now,
		Duration:      t.cfg.Duration(geo.DistanceMeters(start.Position, s.Position), s.Speed),
	}
	tr.anim = anim
	tr.stop = t.sched.Every(t.cfg.FrameInterval, func(at time.Time) {
		t.tick(vehicleID, anim, at)
	})
}

func (t *Tracker) tick(vehicleID string, anim *Animation, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tr, ok := t.tracks[vehicleID]
	if !ok || tr.anim != anim {
		return
	}
	tr.displayed = anim.At(now)
	if anim.Done(now) {
		tr.displayed.Moving = false
		tr.stop.Stop()
		tr.anim, tr.stop = nil, nil
	}
	t.render(vehicleID, tr.displayed)
}

// cancel freezes the in-flight animation at its current frame. Caller holds mu.
func (t *Tracker) cancel(tr *track, now time.Time) {
	if tr.anim == nil {
		return
	}
	tr.displayed = tr.anim.At(now)
	tr.stop.Stop()
	tr.anim, tr.stop = nil, nil
}

// Frame returns what is displayed for a vehicle right now.
func (t *Tracker) Frame(vehicleID string) (Frame, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tr, ok := t.tracks[vehicleID]
	if !ok {
		return Frame{}, false
	}
	if tr.anim != nil {
		return tr.anim.At(t.now()), true
	}
	return tr.displayed, true
}

// Remove stops and forgets a vehicle.
func (t *Tracker) Remove(vehicleID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if tr, ok := t.tracks[vehicleID]; ok {
		if tr.stop != nil {
			tr.stop.Stop()
		}
		delete(t.tracks, vehicleID)
	}
}

// Active returns the number of in-flight animations.
func (t *Tracker) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, tr := range t.tracks {
		if tr.anim != nil {
			n++
		}
	}
	return n
}

// Close cancels every animation. Later updates are ignored.
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, tr := range t.tracks {
		if tr.stop != nil {
			tr.stop.Stop()
		}
		delete(t.tracks, id)
	}
	t.closed = true
}
