// Package backend builds the local storage port selected by configuration.
package backend

import (
	"context"

	"donations/internal/kv"
)

// CleanupFunc releases backend resources.
type CleanupFunc func() error

// Result contains the storage and an optional cleanup function.
type Result struct {
	Storage kv.Storage
	Cleanup CleanupFunc
}

// Close runs Cleanup when there is one.
func (r *Result) Close() error {
	if r == nil || r.Cleanup == nil {
		return nil
	}
	return r.Cleanup()
}

// Factory creates storage based on configuration
type Factory interface {
	Create(ctx context.Context, config Config) (*Result, error)
}

type Config struct {
	Type BackendType

	// File specific
	Directory string

	// SQLite specific
	SQLiteDBPath string

	// Redis specific
	RedisURL    string
	RedisPrefix string

	// Postgres specific
	PostgresURL string

	// QuotaBytes caps stored values; zero disables the cap.
	QuotaBytes int
}

type BackendType string

const (
	MemoryBackend   BackendType = "memory"
	FileBackend     BackendType = "file"
	SQLiteBackend   BackendType = "sqlite"
	RedisBackend    BackendType = "redis"
	PostgresBackend BackendType = "postgres"
)

func (bt BackendType) String() string {
	return string(bt)
}

func (bt BackendType) IsValid() bool {
	switch bt {
	case MemoryBackend, FileBackend, SQLiteBackend, RedisBackend, PostgresBackend:
		return true
	default:
		return false
	}
}
