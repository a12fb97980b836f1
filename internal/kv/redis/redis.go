// Package redis keeps storage slots in Redis, for deployments where several
// processes share one local store.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"donations/internal/kv"
)

var _ kv.Storage = (*Store)(nil)

type Store struct {
	client *goredis.Client
	prefix string
}

// Open connects to addr, which may be a redis:// URL or a bare host:port.
func Open(ctx context.Context, addr, prefix string) (*Store, error) {
	url := addr
	if !strings.Contains(url, "://") {
		url = "redis://" + url
	}
	opt, err := goredis.ParseURL(url)
	if err != nil {
		opt = &goredis.Options{Addr: addr}
	}

	client := goredis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Store{client: client, prefix: prefix}, nil
}

func (s *Store) key(k string) string {
	return s.prefix + k
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	v, err := s.client.Get(ctx, s.key(key)).Result()
	if errors.Is(err, goredis.Nil) {
		return "", kv.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("redis get %q: %w", key, err)
	}
	return v, nil
}

func (s *Store) Set(ctx context.Context, key, value string) error {
	if err := s.client.Set(ctx, s.key(key), value, 0).Err(); err != nil {
		if strings.Contains(err.Error(), "OOM") {
			return fmt.Errorf("redis set %q: %w: %v", key, kv.ErrQuotaExceeded, err)
		}
		return fmt.Errorf("redis set %q: %w", key, err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.client.Close()
}
