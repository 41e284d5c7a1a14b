package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/skypro1111/form-relay-service/internal/config"
	"github.com/skypro1111/form-relay-service/internal/protocol"
)

// Sink persists decoded form records
type Sink interface {
	Insert(ctx context.Context, rec *protocol.Record) error
	Close(ctx context.Context) error
}

// StoreError wraps a failed insert with the backend that produced it
type StoreError struct {
	Backend string
	Err     error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s insert failed: %v", e.Backend, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// Open connects the sink selected by cfg.Driver
func Open(ctx context.Context, cfg *config.StorageConfig, logger *slog.Logger) (Sink, error) {
	switch cfg.Driver {
	case config.DriverMongo:
		return NewMongoSink(ctx, &cfg.Mongo, logger)
	case config.DriverRedis:
		return NewRedisSink(ctx, &cfg.Redis, logger)
	case config.DriverPostgres:
		return NewPostgresSink(ctx, &cfg.Postgres, logger)
	default:
		return nil, fmt.Errorf("unknown storage driver: %s", cfg.Driver)
	}
}
