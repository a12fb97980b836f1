// Package store resolves, persists and extends the donation dataset. It holds
// no dataset of its own: every call goes through the source chain or the
// storage port.
package store

import (
	"context"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"donations/data"
	"donations/internal/core"
	"donations/internal/kv"
	"donations/internal/log"
	"donations/internal/source"
)

// Source names reported by Load and in logs.
const (
	SourceRemote  = "remote"
	SourceLocal   = "local"
	SourceBundled = "bundled"
)

// SaveObservation describes a completed local save. It stands in for a remote
// write: observers may record or forward it but nothing is written back to the
// remote source.
type SaveObservation struct {
	Slot      string    `json:"slot"`
	Buckets   int       `json:"buckets"`
	Donations int       `json:"donations"`
	Bytes     int       `json:"bytes"`
	SavedAt   time.Time `json:"saved_at"`
}

type Observer interface {
	ObserveSave(ctx context.Context, obs SaveObservation) error
}

// Config selects the sources in front of local storage. Empty URLs and a nil
// Sheets source are left out of the chain; nil bundled documents default to the
// ones compiled into the binary.
type Config struct {
	DonationsURL  string
	ExpensesURL   string
	RemoteTimeout time.Duration
	HTTPClient    *http.Client
	Sheets        source.Source[core.Dataset]

	BundledDonations []byte
	BundledExpenses  []byte

	Observer Observer
	Now      func() time.Time
}

// Observations are queued and handed to the observer by a single goroutine, so
// Save returns once the local write is done.
const (
	observeQueueSize = 64
	observeTimeout   = 10 * time.Second
)

type DonationStore struct {
	storage    kv.Storage
	donations  []source.Source[core.Dataset]
	expenses   []source.Source[core.Expenses]
	observer   Observer
	logger     *log.Logger
	structured *log.StructuredLogger
	now        func() time.Time

	observeMu    sync.RWMutex
	closed       bool
	observations chan SaveObservation
	observerDone chan struct{}
}

func New(storage kv.Storage, cfg Config, logger *log.Logger) *DonationStore {
	if logger == nil {
		logger = log.Discard()
	}
	logger = logger.WithComponent(log.ComponentStore)

	var opts []source.RemoteOption
	if cfg.HTTPClient != nil {
		opts = append(opts, source.WithHTTPClient(cfg.HTTPClient))
	}
	if cfg.BundledDonations == nil {
		cfg.BundledDonations = data.Donations
	}
	if cfg.BundledExpenses == nil {
		cfg.BundledExpenses = data.Expenses
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	var donations []source.Source[core.Dataset]
	if cfg.DonationsURL != "" {
		donations = append(donations, source.NewRemote(SourceRemote, cfg.DonationsURL, cfg.RemoteTimeout, core.DecodeDataset, opts...))
	}
	if cfg.Sheets != nil {
		donations = append(donations, cfg.Sheets)
	}
	donations = append(donations,
		source.NewSlot(SourceLocal, kv.KeyDonations, storage, core.DecodeDataset),
		source.NewBundled(SourceBundled, cfg.BundledDonations, core.DecodeDataset),
	)

	var expenses []source.Source[core.Expenses]
	if cfg.ExpensesURL != "" {
		expenses = append(expenses, source.NewRemote(SourceRemote, cfg.ExpensesURL, cfg.RemoteTimeout, core.DecodeExpenses, opts...))
	}
	expenses = append(expenses,
		source.NewSlot(SourceLocal, kv.KeyExpenses, storage, core.DecodeExpenses),
		source.NewBundled(SourceBundled, cfg.BundledExpenses, core.DecodeExpenses),
	)

	s := &DonationStore{
		storage:    storage,
		donations:  donations,
		expenses:   expenses,
		observer:   cfg.Observer,
		logger:     logger,
		structured: log.NewStructuredLogger(logger),
		now:        cfg.Now,
	}
	if s.observer != nil {
		s.observations = make(chan SaveObservation, observeQueueSize)
		s.observerDone = make(chan struct{})
		go s.dispatchObservations()
	}
	return s
}

// Close hands any queued observations to the observer and stops the
// dispatcher. Saves after Close are not observed.
func (s *DonationStore) Close() {
	if s.observations == nil {
		return
	}
	s.observeMu.Lock()
	if s.closed {
		s.observeMu.Unlock()
		return
	}
	s.closed = true
	close(s.observations)
	s.observeMu.Unlock()
	<-s.observerDone
}

// Sources lists the donation chain in the order Load tries it.
func (s *DonationStore) Sources() []string {
	names := make([]string, 0, len(s.donations))
	for _, src := range s.donations {
		names = append(names, src.Name())
	}
	return names
}

// Load returns the first dataset the chain produces. It never fails: when every
// source fails the result is an empty dataset.
func (s *DonationStore) Load(ctx context.Context) core.Dataset {
	ds, _ := s.LoadWithSource(ctx)
	return ds
}

// LoadWithSource is Load that also names the source used, "" for the empty fallback.
func (s *DonationStore) LoadWithSource(ctx context.Context) (core.Dataset, string) {
	ds, name, err := source.First(ctx, s.logger, s.donations...)
	if err != nil {
		s.logger.ErrorContext(ctx, "All donation sources failed, using empty dataset", log.FieldError, err)
		return core.Dataset{}, ""
	}
	s.logger.InfoContext(ctx, "Donations loaded",
		log.FieldSource, name,
		log.FieldBuckets, len(ds),
		log.FieldDonations, ds.Count())
	return ds, name
}

// Save writes the whole dataset to the donations slot. A failed write returns a
// *core.PersistenceError; observer failures are only logged.
func (s *DonationStore) Save(ctx context.Context, ds core.Dataset) error {
	body, err := core.EncodeDataset(ds)
	if err != nil {
		return &core.PersistenceError{Key: kv.KeyDonations, Err: err}
	}
	if err := s.storage.Set(ctx, kv.KeyDonations, string(body)); err != nil {
		s.structured.LogError(ctx, "Failed to save donations", err, log.ComponentStore, log.OpSave,
			log.NewFields().With(log.FieldSlot, kv.KeyDonations))
		return &core.PersistenceError{Key: kv.KeyDonations, Err: err}
	}
	s.observe(ctx, SaveObservation{
		Slot:      kv.KeyDonations,
		Buckets:   len(ds),
		Donations: ds.Count(),
		Bytes:     len(body),
		SavedAt:   s.now().UTC(),
	})
	return nil
}

// Add validates and appends donor, then saves. The returned dataset is the
// original one whenever err is non-nil.
func (s *DonationStore) Add(ctx context.Context, ds core.Dataset, year int, month time.Month, donor core.Donation) (core.Dataset, error) {
	next, err := core.AddDonation(ds, year, month, donor)
	if err != nil {
		return ds, err
	}
	if err := s.Save(ctx, next); err != nil {
		return ds, err
	}
	added := next.Bucket(year, month)
	d := added[len(added)-1]
	s.structured.LogDonationAdded(ctx, year, month.String(), d.Name, d.Amount.Cents)
	return next, nil
}

// LoadExpenses resolves the expense list through its own chain; like Load it
// falls back to an empty list.
func (s *DonationStore) LoadExpenses(ctx context.Context) core.Expenses {
	xs, name, err := source.First(ctx, s.logger, s.expenses...)
	if err != nil {
		s.logger.ErrorContext(ctx, "All expense sources failed, using empty list", log.FieldError, err)
		return core.Expenses{}
	}
	s.logger.InfoContext(ctx, "Expenses loaded", log.FieldSource, name, "count", len(xs))
	return xs
}

func (s *DonationStore) SaveExpenses(ctx context.Context, xs core.Expenses) error {
	body, err := core.EncodeExpenses(xs)
	if err != nil {
		return &core.PersistenceError{Key: kv.KeyExpenses, Err: err}
	}
	if err := s.storage.Set(ctx, kv.KeyExpenses, string(body)); err != nil {
		s.structured.LogError(ctx, "Failed to save expenses", err, log.ComponentStore, log.OpSave,
			log.NewFields().With(log.FieldSlot, kv.KeyExpenses))
		return &core.PersistenceError{Key: kv.KeyExpenses, Err: err}
	}
	s.observe(ctx, SaveObservation{
		Slot:    kv.KeyExpenses,
		Bytes:   len(body),
		SavedAt: s.now().UTC(),
	})
	return nil
}

// Snapshot is the startup state of a consumer.
type Snapshot struct {
	Dataset  core.Dataset
	Source   string
	Expenses core.Expenses
}

// LoadAll resolves donations and expenses concurrently.
func (s *DonationStore) LoadAll(ctx context.Context) Snapshot {
	var snap Snapshot
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		snap.Dataset, snap.Source = s.LoadWithSource(gctx)
		return nil
	})
	g.Go(func() error {
		snap.Expenses = s.LoadExpenses(gctx)
		return nil
	})
	_ = g.Wait()
	return snap
}

// observe queues obs without blocking; a full queue drops it.
func (s *DonationStore) observe(ctx context.Context, obs SaveObservation) {
	s.logger.InfoContext(ctx, "Saved locally; remote copy is not written",
		log.FieldSlot, obs.Slot,
		log.FieldBytes, obs.Bytes)
	if s.observations == nil {
		return
	}
	s.observeMu.RLock()
	defer s.observeMu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.observations <- obs:
	default:
		s.logger.WarnContext(ctx, "Save observation dropped, queue full", log.FieldSlot, obs.Slot)
	}
}

func (s *DonationStore) dispatchObservations() {
	defer close(s.observerDone)
	for obs := range s.observations {
		ctx, cancel := context.WithTimeout(context.Background(), observeTimeout)
		if err := s.observer.ObserveSave(ctx, obs); err != nil {
			s.logger.WarnContext(ctx, "Save observer failed", log.FieldSlot, obs.Slot, log.FieldError, err)
		}
		cancel()
	}
}
