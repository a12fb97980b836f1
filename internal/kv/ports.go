// Package kv defines the local persistent storage port: a set of string slots
// addressed by a fixed key, each holding a JSON document as text.
package kv

import (
	"context"
	"errors"
)

// Well-known slots.
const (
	KeyDonations = "donations"
	KeyExpenses  = "expenses"
	KeyIsAdmin   = "isAdmin"
)

var (
	// ErrNotFound is returned by Get when the slot has never been written.
	ErrNotFound = errors.New("kv: key not found")
	// ErrQuotaExceeded is returned by Set when a backend refuses a value for size.
	ErrQuotaExceeded = errors.New("kv: quota exceeded")
)

// Ports for storage adapters.
type (
	Getter interface {
		Get(ctx context.Context, key string) (string, error)
	}

	Setter interface {
		Set(ctx context.Context, key, value string) error
	}

	// Storage is the slot store the donation store reads and writes.
	Storage interface {
		Getter
		Setter
	}
)
