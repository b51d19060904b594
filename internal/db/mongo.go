package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ukydev/vahan-live/internal/models"
)

// StatusCollectionName holds one document per vehicle.
const StatusCollectionName = "vehicle_status"

var errNilCollection = errors.New("mongo collection is nil")

// ConnectMongo connects to MongoDB and verifies the connection with a ping.
func ConnectMongo(ctx context.Context, uri string) (*mongo.Client, error) {
	if uri == "" {
		return nil, fmt.Errorf("mongo uri is empty")
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo.Connect error: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo.Ping error: %w", err)
	}
	return client, nil
}

// MongoCollection wraps a MongoDB collection for vehicle status operations.
type MongoCollection struct {
	Collection *mongo.Collection
}

// NewStatusCollection returns the status collection of database dbName.
func NewStatusCollection(client *mongo.Client, dbName string) *MongoCollection {
	return &MongoCollection{Collection: client.Database(dbName).Collection(StatusCollectionName)}
}

// EnsureIndexes creates the unique vehicle id index.
func (c *MongoCollection) EnsureIndexes(ctx context.Context) error {
	if c.Collection == nil {
		return errNilCollection
	}
	_, err := c.Collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "vehicle_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	return err
}

// UpsertStatus replaces the status document for the vehicle.
func (c *MongoCollection) UpsertStatus(ctx context.Context, status models.VehicleStatus) error {
	if c.Collection == nil {
		return errNilCollection
	}
	_, err := c.Collection.UpdateOne(ctx,
		bson.M{"vehicle_id": status.VehicleID},
		bson.M{"$set": status},
		options.Update().SetUpsert(true),
	)
	return err
}

// mongoStatusCursor wraps a MongoDB cursor for status queries.
type mongoStatusCursor struct {
	cursor *mongo.Cursor
}

// All retrieves all results from the cursor.
func (m *mongoStatusCursor) All(ctx context.Context, out interface{}) error {
	return m.cursor.All(ctx, out)
}

// Close closes the cursor.
func (m *mongoStatusCursor) Close(ctx context.Context) error {
	return m.cursor.Close(ctx)
}

// FindStatuses queries status documents.
func (c *MongoCollection) FindStatuses(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (StatusCursor, error) {
	if c.Collection == nil {
		return nil, errNilCollection
	}
	cursor, err := c.Collection.Find(ctx, filter, opts...)
	if err != nil {
		return nil, err
	}
	return &mongoStatusCursor{cursor: cursor}, nil
}

// DeleteAll deletes all status documents from the collection.
func (c *MongoCollection) DeleteAll(ctx context.Context) error {
	if c.Collection == nil {
		return errNilCollection
	}
	_, err := c.Collection.DeleteMany(ctx, bson.M{})
	return err
}

// LoadActiveSince returns statuses of vehicles active after since, skipping
// vehicles that were stopped explicitly.
func LoadActiveSince(ctx context.Context, coll StatusCollection, since time.Time) ([]models.VehicleStatus, error) {
	cursor, err := coll.FindStatuses(ctx, bson.M{
		"last_active": bson.M{"$gt": since},
		"status":      bson.M{"$ne": models.StatusStopped},
	}, options.Find().SetSort(bson.D{{Key: "vehicle_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("finding statuses: %w", err)
	}
	defer cursor.Close(ctx)

	var out []models.VehicleStatus
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decoding statuses: %w", err)
	}
	return out, nil
}
