// Package worker consumes save observations and checks them against the
// shared local storage.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"donations/internal/amqp"
	"donations/internal/core"
	"donations/internal/kv"
	"donations/internal/log"
)

// Outcome of checking one observation against storage.
const (
	OutcomeVerified = "verified"
	// The slot changed after the observed save, usually because of a later save.
	OutcomeStale   = "stale"
	OutcomeMissing = "missing"
	OutcomeUnknown = "unknown_slot"
)

// Stats counts handled observations by outcome.
type Stats struct {
	Processed   int64
	Verified    int64
	Stale       int64
	Missing     int64
	Unknown     int64
	LastSavedAt time.Time
}

type SaveWorker struct {
	storage kv.Getter
	logger  *log.Logger

	mu    sync.Mutex
	stats Stats
}

func NewSaveWorker(storage kv.Getter, logger *log.Logger) *SaveWorker {
	if logger == nil {
		logger = log.Discard()
	}
	return &SaveWorker{storage: storage, logger: logger.WithComponent(log.ComponentWorker)}
}

// HandleSaveMessage records one observation. Only storage read failures are
// returned, so that the delivery is retried.
func (w *SaveWorker) HandleSaveMessage(ctx context.Context, msg *amqp.SaveMessage) error {
	outcome, err := w.check(ctx, msg)
	if err != nil {
		return fmt.Errorf("check %s slot: %w", msg.Slot, err)
	}
	w.record(outcome, msg.SavedAt)

	level := w.logger.InfoContext
	if outcome == OutcomeMissing || outcome == OutcomeUnknown {
		level = w.logger.WarnContext
	}
	level(ctx, "Save observed",
		log.FieldSlot, msg.Slot,
		log.FieldBuckets, msg.Buckets,
		log.FieldDonations, msg.Donations,
		log.FieldBytes, msg.Bytes,
		"saved_at", msg.SavedAt.Format(time.RFC3339),
		"outcome", outcome)
	return nil
}

func (w *SaveWorker) check(ctx context.Context, msg *amqp.SaveMessage) (string, error) {
	if msg.Slot != kv.KeyDonations && msg.Slot != kv.KeyExpenses {
		return OutcomeUnknown, nil
	}
	raw, err := w.storage.Get(ctx, msg.Slot)
	if errors.Is(err, kv.ErrNotFound) {
		return OutcomeMissing, nil
	}
	if err != nil {
		return "", err
	}
	if len(raw) != msg.Bytes {
		return OutcomeStale, nil
	}
	if msg.Slot == kv.KeyExpenses {
		if _, err := core.DecodeExpenses([]byte(raw)); err != nil {
			return OutcomeStale, nil
		}
		return OutcomeVerified, nil
	}
	ds, err := core.DecodeDataset([]byte(raw))
	if err != nil || len(ds) != msg.Buckets || ds.Count() != msg.Donations {
		return OutcomeStale, nil
	}
	return OutcomeVerified, nil
}

func (w *SaveWorker) record(outcome string, savedAt time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stats.Processed++
	switch outcome {
	case OutcomeVerified:
		w.stats.Verified++
	case OutcomeStale:
		w.stats.Stale++
	case OutcomeMissing:
		w.stats.Missing++
	case OutcomeUnknown:
		w.stats.Unknown++
	}
	if savedAt.After(w.stats.LastSavedAt) {
		w.stats.LastSavedAt = savedAt
	}
}

func (w *SaveWorker) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

// StartupCheck logs what the shared storage currently holds, so that a worker
// started after missed messages still reports the state it will verify against.
func (w *SaveWorker) StartupCheck(ctx context.Context) error {
	raw, err := w.storage.Get(ctx, kv.KeyDonations)
	switch {
	case errors.Is(err, kv.ErrNotFound):
		w.logger.InfoContext(ctx, "No donations saved locally yet")
		return nil
	case err != nil:
		return fmt.Errorf("read donations slot: %w", err)
	}
	ds, err := core.DecodeDataset([]byte(raw))
	if err != nil {
		w.logger.WarnContext(ctx, "Stored donations do not decode", log.FieldError, err)
		return nil
	}
	years := core.AvailableYears(ds)
	w.logger.InfoContext(ctx, "Startup storage check",
		log.FieldBuckets, len(ds),
		log.FieldDonations, ds.Count(),
		log.FieldBytes, len(raw),
		"total", core.AllYearsTotal(ds, years).String())
	return nil
}

// LogStats writes the running counters; called periodically by the worker binary.
func (w *SaveWorker) LogStats(ctx context.Context) {
	s := w.Stats()
	w.logger.InfoContext(ctx, "Save worker stats",
		"processed", s.Processed,
		"verified", s.Verified,
		"stale", s.Stale,
		"missing", s.Missing,
		"unknown", s.Unknown)
}
