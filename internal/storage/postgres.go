package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/skypro1111/form-relay-service/internal/config"
	"github.com/skypro1111/form-relay-service/internal/protocol"
)

// PostgresSink stores each record as a jsonb row
type PostgresSink struct {
	pool        *pgxpool.Pool
	insertQuery string
}

// NewPostgresSink opens a pool and creates the records table if needed.
// The table name is validated as a plain identifier by config.
func NewPostgresSink(ctx context.Context, cfg *config.PostgresConfig, logger *slog.Logger) (*PostgresSink, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	if _, err := pool.Exec(ctx, createTableQuery(cfg.Table)); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create table %s: %w", cfg.Table, err)
	}

	logger.Debug("Connected to PostgreSQL", slog.String("table", cfg.Table))

	return &PostgresSink{pool: pool, insertQuery: insertQuery(cfg.Table)}, nil
}

// Insert writes rec as one row
func (s *PostgresSink) Insert(ctx context.Context, rec *protocol.Record) error {
	fields, err := json.Marshal(rec.Fields)
	if err != nil {
		return &StoreError{Backend: "postgres", Err: err}
	}
	if _, err := s.pool.Exec(ctx, s.insertQuery, string(fields), rec.ReceivedAt); err != nil {
		return &StoreError{Backend: "postgres", Err: err}
	}
	return nil
}

// Close closes the pool
func (s *PostgresSink) Close(ctx context.Context) error {
	s.pool.Close()
	return nil
}

func createTableQuery(table string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id BIGSERIAL PRIMARY KEY,
	fields JSONB NOT NULL,
	received_at TIMESTAMPTZ NOT NULL
)`, table)
}

func insertQuery(table string) string {
	return fmt.Sprintf(`INSERT INTO %s (fields, received_at) VALUES ($1, $2)`, table)
}
