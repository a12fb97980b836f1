package backend

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"donations/internal/config"
	"donations/internal/kv"
)

func TestFromAppConfig(t *testing.T) {
	if _, err := FromAppConfig(nil); err == nil {
		t.Fatal("expected error for nil config")
	}
	if _, err := FromAppConfig(&config.Config{StorageBackend: "sheets"}); err == nil {
		t.Fatal("expected error for unknown backend")
	}
	cfg, err := FromAppConfig(&config.Config{StorageBackend: "sqlite", SQLiteDBPath: "x.db", StorageQuotaBytes: 10})
	if err != nil {
		t.Fatalf("FromAppConfig: %v", err)
	}
	if cfg.Type != SQLiteBackend || cfg.SQLiteDBPath != "x.db" || cfg.QuotaBytes != 10 {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{"memory", Config{Type: MemoryBackend}, ""},
		{"file without dir", Config{Type: FileBackend}, "storage directory"},
		{"sqlite without path", Config{Type: SQLiteBackend}, "SQLite database path"},
		{"redis without url", Config{Type: RedisBackend}, "Redis URL"},
		{"postgres without url", Config{Type: PostgresBackend}, "Postgres URL"},
		{"unknown", Config{Type: "sheets"}, "invalid backend type"},
		{"negative quota", Config{Type: MemoryBackend, QuotaBytes: -1}, "invalid quota"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestCreateBackends(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	f := NewFactory(nil)

	configs := []Config{
		{Type: MemoryBackend, QuotaBytes: 100},
		{Type: FileBackend, Directory: filepath.Join(dir, "slots"), QuotaBytes: 100},
		{Type: SQLiteBackend, SQLiteDBPath: filepath.Join(dir, "db", "donations.db"), QuotaBytes: 100},
	}
	for _, cfg := range configs {
		t.Run(cfg.Type.String(), func(t *testing.T) {
			res, err := f.Create(ctx, cfg)
			if err != nil {
				t.Fatalf("create: %v", err)
			}
			defer res.Close()

			if err := res.Storage.Set(ctx, kv.KeyDonations, "{}"); err != nil {
				t.Fatalf("set: %v", err)
			}
			if v, err := res.Storage.Get(ctx, kv.KeyDonations); err != nil || v != "{}" {
				t.Fatalf("get = %q, %v", v, err)
			}
			big := strings.Repeat("x", 200)
			if err := res.Storage.Set(ctx, kv.KeyDonations, big); !errors.Is(err, kv.ErrQuotaExceeded) {
				t.Fatalf("expected quota error, got %v", err)
			}
		})
	}
}

func TestCreateRedisUnreachable(t *testing.T) {
	_, err := NewFactory(nil).Create(context.Background(), Config{Type: RedisBackend, RedisURL: "redis://127.0.0.1:1/0"})
	if err == nil {
		t.Fatal("expected error for unreachable redis")
	}
}
