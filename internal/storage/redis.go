package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/skypro1111/form-relay-service/internal/config"
	"github.com/skypro1111/form-relay-service/internal/protocol"
)

const redisPingTimeout = 2 * time.Second

// RedisSink appends JSON encoded records to a Redis list
type RedisSink struct {
	client *redis.Client
	key    string
}

// NewRedisSink connects to Redis and verifies the server with PING
func NewRedisSink(ctx context.Context, cfg *config.RedisConfig, logger *slog.Logger) (*RedisSink, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis at %s: %w", cfg.Addr, err)
	}

	logger.Debug("Connected to Redis",
		slog.String("addr", cfg.Addr),
		slog.String("key", cfg.Key),
	)

	return &RedisSink{client: client, key: cfg.Key}, nil
}

// Insert pushes rec onto the tail of the list
func (s *RedisSink) Insert(ctx context.Context, rec *protocol.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return &StoreError{Backend: "redis", Err: err}
	}
	if err := s.client.RPush(ctx, s.key, data).Err(); err != nil {
		return &StoreError{Backend: "redis", Err: err}
	}
	return nil
}

// Close closes the client
func (s *RedisSink) Close(ctx context.Context) error {
	return s.client.Close()
}
