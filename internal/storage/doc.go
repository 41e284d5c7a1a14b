// Package storage provides the record sinks the ingest server writes to.
// MongoDB is the default backend; Redis lists and PostgreSQL jsonb rows are
// available through the storage.driver setting.
package storage
