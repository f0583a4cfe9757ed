package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"referral-bot/models"
)

const eventsCollection = "events"

// Journal appends attribution and admin events to MongoDB
type Journal struct {
	client *mongo.Client
	events *mongo.Collection
}

// NewJournal connects to MongoDB and prepares the events collection
func NewJournal(ctx context.Context, uri, database string) (*Journal, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("error connecting to mongo: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("error pinging mongo: %w", err)
	}

	events := client.Database(database).Collection(eventsCollection)
	_, err = events.Indexes().CreateOne(connectCtx, mongo.IndexModel{
		Keys: bson.D{{Key: "type", Value: 1}, {Key: "created_at", Value: 1}},
	})
	if err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("error creating events index: %w", err)
	}

	return &Journal{client: client, events: events}, nil
}

// Record stores an event, filling its ID and timestamp when unset
func (j *Journal) Record(ctx context.Context, event models.Event) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	if _, err := j.events.InsertOne(ctx, event); err != nil {
		return fmt.Errorf("error recording %s event: %w", event.Type, err)
	}
	return nil
}

// Close disconnects from MongoDB
func (j *Journal) Close(ctx context.Context) error {
	return j.client.Disconnect(ctx)
}
