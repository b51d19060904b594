package interp

import (
	"sync"
	"time"
)

// Stopper cancels a scheduled tick. Stop must be safe to call more than once
// and from inside the tick callback.
type Stopper interface {
	Stop()
}

// Scheduler runs fn every interval until stopped. It decouples the animation
// loop from any particular display surface.
type Scheduler interface {
	Every(interval time.Duration, fn func(now time.Time)) Stopper
}

// TickerScheduler drives ticks from time.Ticker, one goroutine per schedule.
type TickerScheduler struct{}

type tickerStopper struct {
	once sync.Once
	done chan struct{}
}

func (s *tickerStopper) Stop() {
	s.once.Do(func() { close(s.done) })
}

// Every starts a ticker goroutine that exits when the returned Stopper is stopped.
func (TickerScheduler) Every(interval time.Duration, fn func(now time.Time)) Stopper {
	s := &tickerStopper{done: make(chan struct{})}
	t := time.NewTicker(interval)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-s.done:
				return
			case now := <-t.C:
				select {
				case <-s.done:
					return
				default:
				}
				fn(now)
			}
		}
	}()
	return s
}
