package sheets

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	goption "google.golang.org/api/option"

	"donations/internal/core"
)

func newTestSource(t *testing.T, handler http.HandlerFunc) *Source {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	s, err := New(context.Background(), Config{SpreadsheetID: "sheet-123", SheetName: "Donations"}, nil,
		goption.WithEndpoint(srv.URL+"/"),
		goption.WithoutAuthentication(),
		goption.WithHTTPClient(srv.Client()),
	)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	return s
}

func TestLoadParsesRows(t *testing.T) {
	var gotPath string
	s := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"range": "Donations!A1:D5",
			"majorDimension": "ROWS",
			"values": [
				["Year", "Month", "Donor Name", "Donation Amount"],
				[2024, "January", "John Smith", 100],
				[2024, "January", "Sarah Johnson", 250.5],
				[2024, "February", "", 10],
				[2023, "December", "Emily Brown", 300]
			]
		}`))
	})

	ds, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !strings.Contains(gotPath, "sheet-123") {
		t.Errorf("request path = %q", gotPath)
	}
	if got := core.MonthTotal(ds, 2024, time.January).Cents; got != 35050 {
		t.Errorf("january total = %d", got)
	}
	if got := ds.Bucket(2024, time.February); len(got) != 0 {
		t.Errorf("row without a donor should be skipped: %+v", got)
	}
	if ds.Count() != 3 {
		t.Errorf("count = %d", ds.Count())
	}
}

func TestLoadMissingHeader(t *testing.T) {
	s := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"values": [["Who", "How much"]]}`))
	})
	var pe *core.ParseError
	if _, err := s.Load(context.Background()); !errors.As(err, &pe) {
		t.Fatalf("expected ParseError, got %v", err)
	}
}

func TestLoadAPIError(t *testing.T) {
	s := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":{"code":403,"message":"denied"}}`))
	})
	_, err := s.Load(context.Background())
	var fe *core.FetchError
	if !errors.As(err, &fe) || fe.Status != http.StatusForbidden {
		t.Fatalf("expected FetchError 403, got %v", err)
	}
}

func TestNewRequiresSpreadsheetID(t *testing.T) {
	if _, err := New(context.Background(), Config{}, nil); err == nil {
		t.Fatal("expected error without spreadsheet ID")
	}
}

func TestQuoteSheet(t *testing.T) {
	if got := quoteSheet("Bob's Donations"); got != "'Bob''s Donations'" {
		t.Errorf("quoteSheet = %q", got)
	}
}
