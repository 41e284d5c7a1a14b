package storage

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/skypro1111/form-relay-service/internal/config"
	"github.com/skypro1111/form-relay-service/internal/protocol"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestRedisSinkInsert(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	defer mr.Close()

	cfg := &config.RedisConfig{Addr: mr.Addr(), Key: "form_records"}
	sink, err := NewRedisSink(context.Background(), cfg, testLogger())
	if err != nil {
		t.Fatalf("NewRedisSink failed: %v", err)
	}
	defer sink.Close(context.Background())

	at := time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC)
	rec := protocol.NewRecord(map[string]string{"name": "Jane", "msg": "Hello World"}, at)

	// Same record twice: no deduplication.
	for i := 0; i < 2; i++ {
		if err := sink.Insert(context.Background(), rec); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
	}

	items, err := mr.List("form_records")
	if err != nil {
		t.Fatalf("Failed to read list: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("Expected 2 stored records, got %d", len(items))
	}

	var stored map[string]string
	if err := json.Unmarshal([]byte(items[0]), &stored); err != nil {
		t.Fatalf("Stored record is not JSON: %v", err)
	}
	if stored["name"] != "Jane" || stored["msg"] != "Hello World" {
		t.Errorf("Unexpected stored fields: %v", stored)
	}
	if stored[protocol.ReceivedAtField] != "2024-05-01T12:30:00Z" {
		t.Errorf("Expected receivedAt 2024-05-01T12:30:00Z, got %s", stored[protocol.ReceivedAtField])
	}
}

func TestRedisSinkInsertFailure(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}

	cfg := &config.RedisConfig{Addr: mr.Addr(), Key: "form_records"}
	sink, err := NewRedisSink(context.Background(), cfg, testLogger())
	if err != nil {
		t.Fatalf("NewRedisSink failed: %v", err)
	}
	defer sink.Close(context.Background())

	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err = sink.Insert(ctx, protocol.NewRecord(map[string]string{"a": "b"}, time.Now()))

	var storeErr *StoreError
	if !errors.As(err, &storeErr) {
		t.Fatalf("Expected *StoreError, got %v", err)
	}
	if storeErr.Backend != "redis" {
		t.Errorf("Expected backend redis, got %s", storeErr.Backend)
	}
}

func TestNewRedisSinkUnreachable(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	addr := mr.Addr()
	mr.Close()

	_, err = NewRedisSink(context.Background(), &config.RedisConfig{Addr: addr, Key: "k"}, testLogger())
	if err == nil || !strings.Contains(err.Error(), "failed to ping redis") {
		t.Errorf("Expected ping error, got %v", err)
	}
}

func TestOpenRedisDriver(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	defer mr.Close()

	cfg := config.Default().Storage
	cfg.Driver = config.DriverRedis
	cfg.Redis.Addr = mr.Addr()

	sink, err := Open(context.Background(), &cfg, testLogger())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer sink.Close(context.Background())

	if _, ok := sink.(*RedisSink); !ok {
		t.Errorf("Expected *RedisSink, got %T", sink)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	cfg := config.StorageConfig{Driver: "sqlite"}
	if _, err := Open(context.Background(), &cfg, testLogger()); err == nil {
		t.Error("Expected error for unknown driver")
	}
}

func TestStoreErrorUnwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := error(&StoreError{Backend: "mongo", Err: cause})

	if !errors.Is(err, cause) {
		t.Error("StoreError should unwrap to its cause")
	}
	if err.Error() != "mongo insert failed: connection reset" {
		t.Errorf("Unexpected message: %s", err.Error())
	}
}

func TestMongoDocument(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC)
	doc := mongoDocument(protocol.NewRecord(map[string]string{"name": "Jane"}, at))

	if doc["name"] != "Jane" {
		t.Errorf("Expected name Jane, got %v", doc["name"])
	}
	if ts, ok := doc[protocol.ReceivedAtField].(time.Time); !ok || !ts.Equal(at) {
		t.Errorf("Expected receivedAt as time.Time, got %T", doc[protocol.ReceivedAtField])
	}
}

func TestPostgresQueries(t *testing.T) {
	create := createTableQuery("form_records")
	if !strings.Contains(create, "CREATE TABLE IF NOT EXISTS form_records") {
		t.Errorf("Unexpected create query: %s", create)
	}
	if !strings.Contains(create, "fields JSONB NOT NULL") {
		t.Errorf("Expected jsonb fields column: %s", create)
	}

	insert := insertQuery("form_records")
	if insert != "INSERT INTO form_records (fields, received_at) VALUES ($1, $2)" {
		t.Errorf("Unexpected insert query: %s", insert)
	}
}
