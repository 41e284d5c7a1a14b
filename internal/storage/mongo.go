package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/skypro1111/form-relay-service/internal/config"
	"github.com/skypro1111/form-relay-service/internal/protocol"
)

const mongoServerSelectionTimeout = 5 * time.Second

// MongoSink inserts one document per record into a MongoDB collection
type MongoSink struct {
	client     *mongo.Client
	collection *mongo.Collection
}

// NewMongoSink connects to MongoDB and verifies the server is reachable
func NewMongoSink(ctx context.Context, cfg *config.MongoConfig, logger *slog.Logger) (*MongoSink, error) {
	opts := options.Client().
		ApplyURI(cfg.URI()).
		SetServerSelectionTimeout(mongoServerSelectionTimeout)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	logger.Debug("Connected to MongoDB",
		slog.String("database", cfg.Database),
		slog.String("collection", cfg.Collection),
	)

	return &MongoSink{
		client:     client,
		collection: client.Database(cfg.Database).Collection(cfg.Collection),
	}, nil
}

// Insert stores rec as a flat document with receivedAt as a BSON date
func (s *MongoSink) Insert(ctx context.Context, rec *protocol.Record) error {
	if _, err := s.collection.InsertOne(ctx, mongoDocument(rec)); err != nil {
		return &StoreError{Backend: "mongo", Err: err}
	}
	return nil
}

// Close disconnects the client
func (s *MongoSink) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func mongoDocument(rec *protocol.Record) bson.M {
	return bson.M(rec.Document())
}
