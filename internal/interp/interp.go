// Package interp turns sparse position samples into continuous motion for a
// single viewer. It never touches the authoritative registry state.
package interp

import (
	"math"
	"time"

	"github.com/ukydev/vahan-live/internal/geo"
	"github.com/ukydev/vahan-live/internal/models"
)

// Sample is one position report as seen by a viewer.
type Sample struct {
	Position models.Position
	Heading  float64
	Speed    float64 // km/h
}

// Frame is what a viewer displays at a given instant.
type Frame struct {
	Position models.Position
	Heading  float64
	Moving   bool
}

// Config bounds animation timing.
type Config struct {
	MinDuration time.Duration
	MaxDuration time.Duration
	// MinSpeed is the floor applied to reported speed, in km/h.
	MinSpeed float64
	// FrameInterval is how often an in-flight animation is re-rendered.
	FrameInterval time.Duration
}

// DefaultConfig never snaps instantly and never crawls longer than 10s.
func DefaultConfig() Config {
	return Config{
		MinDuration:   time.Second,
		MaxDuration:   10 * time.Second,
		MinSpeed:      1,
		FrameInterval: 50 * time.Millisecond,
	}
}

// Duration derives animation time from distance and speed, clamped to the
// configured window.
func (c Config) Duration(distanceMeters, speedKmh float64) time.Duration {
	mps := math.Max(speedKmh, c.MinSpeed) / 3.6
	if mps <= 0 {
		return c.MaxDuration
	}
	d := time.Duration(distanceMeters / mps * float64(time.Second))
	if d < c.MinDuration {
		return c.MinDuration
	}
	if d > c.MaxDuration {
		return c.MaxDuration
	}
	return d
}

// EaseInOutCubic maps linear progress in [0,1] to eased progress.
func EaseInOutCubic(t float64) float64 {
	switch {
	case t <= 0:
		return 0
	case t >= 1:
		return 1
	case t < 0.5:
		return 4 * t * t * t
	default:
		return 1 - math.Pow(-2*t+2, 3)/2
	}
}

// Interpolate applies the easing curve to progress and blends both position
// and heading. Heading follows the shorter arc.
func Interpolate(start, target models.Position, fromHeading, toHeading, progress float64) Frame {
	e := EaseInOutCubic(progress)
	heading := geo.NormalizeHeading(fromHeading + geo.ShortestRotationDelta(fromHeading, toHeading)*e)
	return Frame{
		Position: geo.Lerp(start, target, e),
		Heading:  heading,
		Moving:   progress < 1,
	}
}

// Animation is a single start-to-target transition.
type Animation struct {
	Start         models.Position
	Target        models.Position
	StartHeading  float64
	TargetHeading float64
	Begin         time.Time
	Duration      time.Duration
}

// Progress returns linear progress in [0,1] at now.
func (a *Animation) Progress(now time.Time) float64 {
	if a.Duration <= 0 {
		return 1
	}
	p := float64(now.Sub(a.Begin)) / float64(a.Duration)
	return math.Max(0, math.Min(1, p))
}

// At returns the displayed frame at now.
func (a *Animation) At(now time.Time) Frame {
	return Interpolate(a.Start, a.Target, a.StartHeading, a.TargetHeading, a.Progress(now))
}

// Done reports whether the animation has reached its target.
func (a *Animation) Done(now time.Time) bool {
	return a.Progress(now) >= 1
}
