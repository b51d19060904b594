// Package reaper periodically evicts vehicles that stopped reporting.
package reaper

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
)

// Evictor removes every vehicle whose last update is before cutoff and
// returns the evicted ids. Evicting an already removed vehicle must be a
// no-op so a sweep racing an explicit disconnect notifies only once.
type Evictor interface {
	EvictStale(cutoff time.Time) []string
}

// Reaper runs Sweep every Interval.
type Reaper struct {
	Interval time.Duration
	Timeout  time.Duration
	Target   Evictor
	Now      func() time.Time
	Logger   *log.Entry
}

func New(interval, timeout time.Duration, target Evictor) *Reaper {
	return &Reaper{
		Interval: interval,
		Timeout:  timeout,
		Target:   target,
		Now:      time.Now,
		Logger:   log.WithField("component", "reaper"),
	}
}

// Sweep evicts vehicles idle for longer than Timeout as of now.
func (r *Reaper) Sweep(now time.Time) []string {
	evicted := r.Target.EvictStale(now.Add(-r.Timeout))
	if len(evicted) > 0 {
		r.Logger.WithFields(log.Fields{
			"count":    len(evicted),
			"vehicles": evicted,
		}).Info("Removed stale vehicles")
	}
	return evicted
}

// Run sweeps until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.Interval)
	defer ticker.Stop()

	r.Logger.WithFields(log.Fields{
		"interval": r.Interval.String(),
		"timeout":  r.Timeout.String(),
	}).Info("Staleness reaper started")

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(r.Now())
		}
	}
}
