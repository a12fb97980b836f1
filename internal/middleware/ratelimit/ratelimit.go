// Package ratelimit caps write requests per client with a fixed window.
package ratelimit

import (
	"net/http"
	"strconv"
	"sync"
	"time"
)

// Config sets the budget. Zero fields take the DefaultConfig values.
type Config struct {
	RequestsPerMinute int
	// Window is the budget period; one minute unless set.
	Window time.Duration
	// IdleAfter forgets clients that have been quiet this long.
	IdleAfter     time.Duration
	SweepInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		RequestsPerMinute: 60,
		Window:            time.Minute,
		IdleAfter:         10 * time.Minute,
		SweepInterval:     5 * time.Minute,
	}
}

type bucket struct {
	opened time.Time
	seen   time.Time
	count  int
}

// Limiter tracks one bucket per client key and sweeps idle ones in the
// background until Stop.
type Limiter struct {
	cfg  Config
	now  func() time.Time
	stop chan struct{}
	once sync.Once

	mu       sync.Mutex
	buckets  map[string]*bucket
	rejected int64
}

// Stats is a point-in-time view of the limiter.
type Stats struct {
	Rejected int64
	Clients  int
}

func NewLimiter(cfg Config) *Limiter {
	def := DefaultConfig()
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = def.RequestsPerMinute
	}
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.IdleAfter <= 0 {
		cfg.IdleAfter = def.IdleAfter
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = def.SweepInterval
	}
	l := &Limiter{
		cfg:     cfg,
		now:     time.Now,
		stop:    make(chan struct{}),
		buckets: make(map[string]*bucket),
	}
	go l.sweepLoop()
	return l
}

// Allow spends one request of key's budget and reports whether any was left.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b := l.buckets[key]
	if b == nil || now.Sub(b.opened) >= l.cfg.Window {
		b = &bucket{opened: now}
		l.buckets[key] = b
	}
	b.seen = now
	b.count++
	if b.count > l.cfg.RequestsPerMinute {
		l.rejected++
		return false
	}
	return true
}

func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Stats{Rejected: l.rejected, Clients: len(l.buckets)}
}

func (l *Limiter) sweepLoop() {
	t := time.NewTicker(l.cfg.SweepInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			l.sweep()
		case <-l.stop:
			return
		}
	}
}

func (l *Limiter) sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := l.now().Add(-l.cfg.IdleAfter)
	for key, b := range l.buckets {
		if b.seen.Before(cutoff) {
			delete(l.buckets, key)
		}
	}
}

// Stop ends the sweeper. It is safe to call more than once.
func (l *Limiter) Stop() {
	l.once.Do(func() { close(l.stop) })
}

// Middleware limits by the key keyOf derives from each request. Rejected
// requests get Retry-After and are handed to onLimit, or a plain 429 when nil.
func (l *Limiter) Middleware(keyOf func(*http.Request) string, onLimit http.HandlerFunc) func(http.Handler) http.Handler {
	retryAfter := strconv.Itoa(int(l.cfg.Window.Seconds()))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if l.Allow(keyOf(r)) {
				next.ServeHTTP(w, r)
				return
			}
			w.Header().Set("Retry-After", retryAfter)
			if onLimit == nil {
				http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
				return
			}
			onLimit(w, r)
		})
	}
}
