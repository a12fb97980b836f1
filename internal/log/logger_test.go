package log

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"", slog.LevelInfo, false},
		{"INFO", slog.LevelInfo, false},
		{"debug", slog.LevelDebug, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"loud", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, %v", tt.in, got, err)
		}
	}
}

func TestLoggerTagsComponent(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Output: &buf, Component: ComponentStore, Level: slog.LevelDebug})
	l.Info("loaded", FieldSource, "remote")
	l.WithComponent(ComponentHTTP).Warn("slow")

	out := buf.String()
	if !strings.Contains(out, "component=store") || !strings.Contains(out, "source=remote") {
		t.Fatalf("missing fields: %s", out)
	}
	if !strings.Contains(out, "component=http") {
		t.Fatalf("component override missing: %s", out)
	}
}

func TestMiddlewareAndRequestID(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Output: &buf, Component: ComponentHTTP})
	h := Middleware(l)(RequestIDMiddleware(func(*http.Request) string { return "req-1" })(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			FromContext(r.Context()).Info("inside")
		})))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if !strings.Contains(buf.String(), "request_id=req-1") {
		t.Fatalf("request id not logged: %s", buf.String())
	}
	if FromContext(context.Background()).Component() != "unknown" {
		t.Fatalf("fallback logger should be unknown")
	}
}

func TestStructuredLogger(t *testing.T) {
	var buf bytes.Buffer
	sl := NewStructuredLogger(New(Config{Output: &buf, Component: ComponentApp}))
	sl.LogDonationAdded(context.Background(), 2024, "January", "Ann", 5000)
	sl.LogError(context.Background(), "save failed", errors.New("disk full"), ComponentStore, OpSave, nil)

	r := httptest.NewRequest(http.MethodGet, "/api/years", nil)
	sl.LogHTTPEnd(context.Background(), r, 503, 12, "10.0.0.1")

	out := buf.String()
	for _, want := range []string{"donor=Ann", "amount_cents=5000", `error="disk full"`, "operation=save", "level=ERROR", "status_code=503"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}
