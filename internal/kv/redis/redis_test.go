package redis

import (
	"context"
	"errors"
	"os"
	"strconv"
	"testing"
	"time"

	"donations/internal/kv"
)

// Integration test; runs only when REDIS_URL points at a disposable instance.
func TestRedisStoreIntegration(t *testing.T) {
	addr := os.Getenv("REDIS_URL")
	if addr == "" {
		t.Skip("REDIS_URL not set")
	}
	ctx := context.Background()
	prefix := "donations-test:" + strconv.FormatInt(time.Now().UnixNano(), 10) + ":"
	s, err := Open(ctx, addr, prefix)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	if _, err := s.Get(ctx, kv.KeyDonations); !errors.Is(err, kv.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := s.Set(ctx, kv.KeyDonations, `{}`); err != nil {
		t.Fatalf("set: %v", err)
	}
	if v, err := s.Get(ctx, kv.KeyDonations); err != nil || v != `{}` {
		t.Fatalf("unexpected get: v=%q err=%v", v, err)
	}
	s.client.Del(ctx, s.key(kv.KeyDonations))
}

func TestOpenUnreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := Open(ctx, "127.0.0.1:1", ""); err == nil {
		t.Fatalf("expected connection error")
	}
}
