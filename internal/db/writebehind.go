package db

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/ukydev/vahan-live/internal/models"
)

// WriteBehind persists vehicle statuses off the publish path. Saves are
// queued and written by Run; a full queue drops the save.
type WriteBehind struct {
	coll    StatusCollection
	queue   chan models.VehicleStatus
	timeout time.Duration
	log     *log.Entry
}

// NewWriteBehind creates a writer with a queue of size entries.
func NewWriteBehind(coll StatusCollection, size int, logger *log.Entry) *WriteBehind {
	if size <= 0 {
		size = 1024
	}
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	return &WriteBehind{
		coll:    coll,
		queue:   make(chan models.VehicleStatus, size),
		timeout: 5 * time.Second,
		log:     logger.WithField("component", "writebehind"),
	}
}

// Save queues a status without blocking.
func (w *WriteBehind) Save(s models.VehicleStatus) {
	select {
	case w.queue <- s:
	default:
		w.log.WithField("vehicle_id", s.VehicleID).Warn("Status queue full, dropping write")
	}
}

// Run writes queued statuses until ctx is cancelled, then drains what is
// already queued.
func (w *WriteBehind) Run(ctx context.Context) {
	for {
		select {
		case s := <-w.queue:
			w.write(s)
		case <-ctx.Done():
			w.drain()
			return
		}
	}
}

func (w *WriteBehind) drain() {
	for {
		select {
		case s := <-w.queue:
			w.write(s)
		default:
			return
		}
	}
}

func (w *WriteBehind) write(s models.VehicleStatus) {
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()
	if err := w.coll.UpsertStatus(ctx, s); err != nil {
		w.log.WithFields(log.Fields{
			"vehicle_id": s.VehicleID,
			"status":     s.Status,
		}).WithError(err).Warn("Failed to persist vehicle status")
	}
}
