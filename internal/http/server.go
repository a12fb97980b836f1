// Package http serves the donations dataset as a JSON API. The server holds the
// one in-memory dataset and serialises every change through the store.
package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"donations/internal/admin"
	"donations/internal/cache"
	"donations/internal/core"
	"donations/internal/log"
	"donations/internal/middleware/ratelimit"
	"donations/internal/middleware/security"
	"donations/internal/middleware/trace"
	"donations/internal/spreadsheet"
	"donations/internal/store"
)

// Options seeds the server. Dataset and Expenses are usually the result of
// store.LoadAll; Source is the name of the source that produced the dataset.
type Options struct {
	Addr     string
	Dataset  core.Dataset
	Expenses core.Expenses
	Source   string

	RequestsPerMinute int
	TrustedProxies    []string
	Now               func() time.Time
}

type Server struct {
	http.Server

	store      *store.DonationStore
	gate       *admin.Gate
	logger     *log.Logger
	structured *log.StructuredLogger
	now        func() time.Time

	// mu guards the dataset; writers hold it across the save.
	mu       sync.RWMutex
	dataset  core.Dataset
	expenses core.Expenses
	source   string

	yearCache    *cache.LRU[int, core.YearSummary]
	cacheManager *cache.Manager
	rateLimiter  *ratelimit.Limiter
	detector     *security.Detector
	tracer       *trace.Middleware

	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run http.Server.
func NewServer(opts Options, st *store.DonationStore, gate *admin.Gate, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Discard()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Dataset == nil {
		opts.Dataset = core.Dataset{}
	}
	if opts.Expenses == nil {
		opts.Expenses = core.Expenses{}
	}

	httpLogger := logger.WithComponent(log.ComponentHTTP)
	mux := http.NewServeMux()

	s := &Server{
		Server: http.Server{
			Addr:              opts.Addr,
			ReadHeaderTimeout: 10 * time.Second,
		},
		store:        st,
		gate:         gate,
		logger:       httpLogger,
		structured:   log.NewStructuredLogger(httpLogger),
		now:          opts.Now,
		dataset:      opts.Dataset,
		expenses:     opts.Expenses,
		source:       opts.Source,
		yearCache:    cache.NewLRU[int, core.YearSummary](50, 5*time.Minute),
		cacheManager: cache.NewManager(logger),
		rateLimiter:  ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: opts.RequestsPerMinute}),
		detector:     security.NewDetector(),
	}
	for _, cidr := range opts.TrustedProxies {
		if err := s.detector.AddTrustedProxy(cidr); err != nil {
			httpLogger.Warn("Ignoring trusted proxy", log.FieldError, err)
		}
	}
	s.tracer = trace.NewMiddleware(logger, s.detector.ExtractClientIP)

	s.cacheManager.Register(s.yearCache)
	s.cacheManager.StartCleanup(10 * time.Minute)

	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", handleReady)

	mux.HandleFunc("GET /api/donations", s.handleDonations)
	mux.Handle("POST /api/donations", s.limited(s.requireAdmin(http.HandlerFunc(s.handleAddDonation))))
	mux.HandleFunc("GET /api/years", s.handleYears)
	mux.HandleFunc("GET /api/years/{year}", s.handleYear)
	mux.HandleFunc("GET /api/summary", s.handleSummary)
	mux.HandleFunc("GET /api/expenses", s.handleExpenses)

	mux.HandleFunc("GET /api/template.xlsx", handleTemplate(spreadsheet.FormatXLSX))
	mux.HandleFunc("GET /api/template.csv", handleTemplate(spreadsheet.FormatCSV))
	mux.HandleFunc("GET /api/export.xlsx", s.handleExport(spreadsheet.FormatXLSX))
	mux.HandleFunc("GET /api/export.csv", s.handleExport(spreadsheet.FormatCSV))
	mux.Handle("POST /api/import", s.limited(s.requireAdmin(http.HandlerFunc(s.handleImport))))

	mux.Handle("GET /api/admin", security.NoStore(http.HandlerFunc(s.handleAdminStatus)))
	mux.Handle("POST /api/admin/login", security.NoStore(s.limited(http.HandlerFunc(s.handleLogin))))
	mux.Handle("POST /api/admin/logout", security.NoStore(http.HandlerFunc(s.handleLogout)))

	headers := security.NewHeadersMiddleware(security.DefaultHeadersConfig())
	var h http.Handler = s.flagSuspicious(mux)
	h = log.RequestIDMiddleware(trace.GetRequestIDFromRequest)(h)
	h = log.Middleware(httpLogger)(h)
	h = headers.Middleware(h)
	h = s.tracer.Middleware(h)
	s.Handler = h

	return s
}

// Dataset returns the current in-memory dataset. Callers must not modify it.
func (s *Server) Dataset() core.Dataset {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dataset
}

// limited applies the per-client rate limit; only writes are limited.
func (s *Server) limited(next http.Handler) http.Handler {
	return s.rateLimiter.Middleware(s.detector.ExtractClientIP, func(w http.ResponseWriter, r *http.Request) {
		log.FromContext(r.Context()).WarnContext(r.Context(), "Rate limit exceeded",
			log.FieldClientIP, s.detector.ExtractClientIP(r),
			log.FieldMethod, r.Method,
			log.FieldPath, r.URL.Path)
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded, try again later")
	})(next)
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.gate.IsAdmin(r.Context()) {
			writeError(w, http.StatusForbidden, "admin mode required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) flagSuspicious(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.detector.DetectSuspiciousRequest(r) {
			log.FromContext(r.Context()).WarnContext(r.Context(), "Suspicious request",
				log.FieldClientIP, s.detector.ExtractClientIP(r),
				log.FieldMethod, r.Method,
				log.FieldPath, r.URL.Path,
				log.FieldUserAgent, r.UserAgent())
		}
		next.ServeHTTP(w, r)
	})
}

// Shutdown stops background cleanup and then the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.cacheManager.Stop()
		s.rateLimiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func handleReady(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
