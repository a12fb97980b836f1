package kv

import (
	"context"
	"fmt"
)

// Limited caps the size of each stored value, giving disk and Redis backends
// the same quota failure the in-memory store has.
type Limited struct {
	Storage
	maxBytes int
}

// WithQuota wraps s; maxBytes <= 0 returns s unchanged.
func WithQuota(s Storage, maxBytes int) Storage {
	if maxBytes <= 0 {
		return s
	}
	return &Limited{Storage: s, maxBytes: maxBytes}
}

func (l *Limited) Set(ctx context.Context, key, value string) error {
	if len(value) > l.maxBytes {
		return fmt.Errorf("set %q (%d bytes, limit %d): %w", key, len(value), l.maxBytes, ErrQuotaExceeded)
	}
	return l.Storage.Set(ctx, key, value)
}
