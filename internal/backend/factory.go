package backend

import (
	"context"
	"fmt"

	"donations/internal/kv"
	"donations/internal/kv/file"
	"donations/internal/kv/memory"
	"donations/internal/kv/postgres"
	"donations/internal/kv/redis"
	"donations/internal/kv/sqlite"
	"donations/internal/log"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *log.Logger
}

func NewFactory(logger *log.Logger) Factory {
	if logger == nil {
		logger = log.Discard()
	}
	return &DefaultFactory{logger: logger.WithComponent(log.ComponentBackend)}
}

func (f *DefaultFactory) Create(ctx context.Context, config Config) (*Result, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	switch config.Type {
	case MemoryBackend:
		f.logger.Info("Initialized memory storage", "quota_bytes", config.QuotaBytes)
		return &Result{Storage: memory.New(config.QuotaBytes)}, nil
	case FileBackend:
		return f.createFileBackend(config)
	case SQLiteBackend:
		return f.createSQLiteBackend(config)
	case RedisBackend:
		return f.createRedisBackend(ctx, config)
	case PostgresBackend:
		return f.createPostgresBackend(ctx, config)
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
}

func (f *DefaultFactory) createFileBackend(config Config) (*Result, error) {
	s, err := file.New(config.Directory)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize file storage: %w", err)
	}
	f.logger.Info("Initialized file storage", "directory", config.Directory)
	return &Result{Storage: kv.WithQuota(s, config.QuotaBytes)}, nil
}

func (f *DefaultFactory) createSQLiteBackend(config Config) (*Result, error) {
	s, err := sqlite.Open(config.SQLiteDBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize SQLite storage: %w", err)
	}
	f.logger.Info("Initialized SQLite storage", "db_path", config.SQLiteDBPath)
	return &Result{Storage: kv.WithQuota(s, config.QuotaBytes), Cleanup: s.Close}, nil
}

func (f *DefaultFactory) createRedisBackend(ctx context.Context, config Config) (*Result, error) {
	s, err := redis.Open(ctx, config.RedisURL, config.RedisPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Redis storage: %w", err)
	}
	f.logger.Info("Initialized Redis storage", "prefix", config.RedisPrefix)
	return &Result{Storage: kv.WithQuota(s, config.QuotaBytes), Cleanup: s.Close}, nil
}

func (f *DefaultFactory) createPostgresBackend(ctx context.Context, config Config) (*Result, error) {
	s, err := postgres.Open(ctx, config.PostgresURL)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Postgres storage: %w", err)
	}
	f.logger.Info("Initialized Postgres storage")
	return &Result{Storage: kv.WithQuota(s, config.QuotaBytes), Cleanup: s.Close}, nil
}
