// Package source resolves a document through an ordered chain of providers:
// a remote URL, local storage slots and the bundled defaults. The first provider
// that answers with a decodable document wins.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"donations/internal/core"
	"donations/internal/kv"
	"donations/internal/log"
)

// ErrExhausted is returned by First when no source produced a document.
var ErrExhausted = errors.New("no source produced a document")

// maxBody caps how much of a remote response is read.
const maxBody = 10 << 20

// Source provides one candidate document.
type Source[T any] interface {
	Name() string
	Load(ctx context.Context) (T, error)
}

// Decoder turns raw document bytes into a value.
type Decoder[T any] func([]byte) (T, error)

// First tries sources in order, each exactly once, and returns the first success
// together with the name of the source that produced it. Failures are logged at
// warn level and the next source is tried.
func First[T any](ctx context.Context, logger *log.Logger, sources ...Source[T]) (T, string, error) {
	if logger == nil {
		logger = log.Discard()
	}
	var errs []error
	for _, s := range sources {
		v, err := s.Load(ctx)
		if err == nil {
			logger.DebugContext(ctx, "Source answered", log.FieldSource, s.Name())
			return v, s.Name(), nil
		}
		logger.WarnContext(ctx, "Source failed, falling back", log.FieldSource, s.Name(), log.FieldError, err)
		errs = append(errs, err)
	}
	var zero T
	return zero, "", errors.Join(append([]error{ErrExhausted}, errs...)...)
}

// Remote fetches a document with an HTTP GET. Only a 2xx answer with a decodable
// body counts as success.
type Remote[T any] struct {
	name    string
	url     string
	client  *http.Client
	timeout time.Duration
	decode  Decoder[T]
}

type RemoteOption func(*remoteOptions)

type remoteOptions struct {
	client *http.Client
}

// WithHTTPClient replaces http.DefaultClient.
func WithHTTPClient(c *http.Client) RemoteOption {
	return func(o *remoteOptions) { o.client = c }
}

// NewRemote builds a remote source. A zero timeout leaves the request bounded by ctx only.
func NewRemote[T any](name, url string, timeout time.Duration, decode Decoder[T], opts ...RemoteOption) *Remote[T] {
	o := remoteOptions{client: http.DefaultClient}
	for _, opt := range opts {
		opt(&o)
	}
	return &Remote[T]{name: name, url: url, client: o.client, timeout: timeout, decode: decode}
}

func (r *Remote[T]) Name() string { return r.name }

func (r *Remote[T]) Load(ctx context.Context) (T, error) {
	var zero T
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url, nil)
	if err != nil {
		return zero, &core.FetchError{Source: r.name, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return zero, &core.FetchError{Source: r.name, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBody))
		return zero, &core.FetchError{
			Source: r.name,
			Status: resp.StatusCode,
			Err:    errors.New(resp.Status),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return zero, &core.FetchError{Source: r.name, Err: fmt.Errorf("read body: %w", err)}
	}
	v, err := r.decode(body)
	if err != nil {
		return zero, &core.ParseError{Source: r.name, Err: err}
	}
	return v, nil
}

// Slot reads a document from a local storage slot.
type Slot[T any] struct {
	name    string
	key     string
	storage kv.Getter
	decode  Decoder[T]
}

func NewSlot[T any](name, key string, storage kv.Getter, decode Decoder[T]) *Slot[T] {
	return &Slot[T]{name: name, key: key, storage: storage, decode: decode}
}

func (s *Slot[T]) Name() string { return s.name }

// Load reports a never-written slot with an error wrapping kv.ErrNotFound.
func (s *Slot[T]) Load(ctx context.Context) (T, error) {
	var zero T
	raw, err := s.storage.Get(ctx, s.key)
	if errors.Is(err, kv.ErrNotFound) {
		return zero, fmt.Errorf("%s: slot %q: %w", s.name, s.key, err)
	}
	if err != nil {
		return zero, &core.FetchError{Source: s.name, Err: err}
	}
	v, err := s.decode([]byte(raw))
	if err != nil {
		return zero, &core.ParseError{Source: s.name, Err: err}
	}
	return v, nil
}

// Bundled decodes a document compiled into the binary.
type Bundled[T any] struct {
	name   string
	data   []byte
	decode Decoder[T]
}

func NewBundled[T any](name string, data []byte, decode Decoder[T]) *Bundled[T] {
	return &Bundled[T]{name: name, data: data, decode: decode}
}

func (b *Bundled[T]) Name() string { return b.name }

func (b *Bundled[T]) Load(context.Context) (T, error) {
	v, err := b.decode(b.data)
	if err != nil {
		var zero T
		return zero, &core.ParseError{Source: b.name, Err: err}
	}
	return v, nil
}

// Func adapts a plain function, mostly for tests.
type Func[T any] struct {
	SourceName string
	Fn         func(ctx context.Context) (T, error)
}

func (f Func[T]) Name() string { return f.SourceName }

func (f Func[T]) Load(ctx context.Context) (T, error) { return f.Fn(ctx) }
