package db

import (
	"context"

	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ukydev/vahan-live/internal/models"
)

// StatusCollection defines the interface for vehicle status operations.
type StatusCollection interface {
	UpsertStatus(ctx context.Context, status models.VehicleStatus) error
	FindStatuses(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (StatusCursor, error)
}

// StatusCursor defines the interface for status cursor operations.
type StatusCursor interface {
	All(ctx context.Context, out interface{}) error
	Close(ctx context.Context) error
}
