// Package admin keeps the demo admin flag in the "isAdmin" storage slot. The
// flag is shared by every client of the same storage; it hides the add-donation
// path and is not an authorization boundary.
package admin

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"

	"donations/internal/kv"
)

var (
	ErrDisabled      = errors.New("admin login is disabled")
	ErrWrongPassword = errors.New("wrong admin password")
)

type Gate struct {
	storage  kv.Storage
	password string
}

// NewGate returns a gate; an empty password disables Login.
func NewGate(storage kv.Storage, password string) *Gate {
	return &Gate{storage: storage, password: password}
}

// IsAdmin reports whether the flag is set. Read errors count as not set.
func (g *Gate) IsAdmin(ctx context.Context) bool {
	v, err := g.storage.Get(ctx, kv.KeyIsAdmin)
	return err == nil && v == "true"
}

func (g *Gate) Login(ctx context.Context, password string) error {
	if g.password == "" {
		return ErrDisabled
	}
	if subtle.ConstantTimeCompare([]byte(password), []byte(g.password)) != 1 {
		return ErrWrongPassword
	}
	return g.set(ctx, true)
}

func (g *Gate) Logout(ctx context.Context) error {
	return g.set(ctx, false)
}

func (g *Gate) set(ctx context.Context, on bool) error {
	v := "false"
	if on {
		v = "true"
	}
	if err := g.storage.Set(ctx, kv.KeyIsAdmin, v); err != nil {
		return fmt.Errorf("set admin flag: %w", err)
	}
	return nil
}
