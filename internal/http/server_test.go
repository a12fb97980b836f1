package http

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"

	"donations/internal/admin"
	"donations/internal/core"
	"donations/internal/kv"
	"donations/internal/kv/memory"
	"donations/internal/spreadsheet"
	"donations/internal/store"
)

const testPassword = "s3cret"

var fixedNow = time.Date(2024, time.June, 15, 12, 0, 0, 0, time.UTC)

func seedDataset() core.Dataset {
	return core.Dataset{
		{Year: 2023, Month: time.December}: {{Name: "Emily Brown", Amount: core.Money{Cents: 30000}}},
		{Year: 2024, Month: time.January}: {
			{Name: "John Smith", Amount: core.Money{Cents: 10000}},
			{Name: "Sarah Johnson", Amount: core.Money{Cents: 25000}},
		},
		{Year: 2024, Month: time.February}: {{Name: "Mike Davis", Amount: core.Money{Cents: 15000}}},
	}
}

type testEnv struct {
	srv     *Server
	storage *memory.Store
}

func newTestEnv(t *testing.T, storage *memory.Store, password string) *testEnv {
	t.Helper()
	if storage == nil {
		storage = memory.New(0)
	}
	st := store.New(storage, store.Config{Now: func() time.Time { return fixedNow }}, nil)
	srv := NewServer(Options{
		Addr:              ":0",
		Dataset:           seedDataset(),
		Expenses:          core.Expenses{json.RawMessage(`{"what":"rent"}`)},
		Source:            store.SourceBundled,
		RequestsPerMinute: 1000,
		Now:               func() time.Time { return fixedNow },
	}, st, admin.NewGate(storage, password), nil)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return &testEnv{srv: srv, storage: storage}
}

func (e *testEnv) do(t *testing.T, method, path, contentType, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rr := httptest.NewRecorder()
	e.srv.Handler.ServeHTTP(rr, req)
	return rr
}

func (e *testEnv) login(t *testing.T) {
	t.Helper()
	rr := e.do(t, http.MethodPost, "/api/admin/login", "application/json", `{"password":"`+testPassword+`"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("login status=%d body=%s", rr.Code, rr.Body.String())
	}
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
}

func TestHealthAndReady(t *testing.T) {
	env := newTestEnv(t, nil, testPassword)
	for path, want := range map[string]string{"/healthz": "ok", "/readyz": "ready"} {
		rr := env.do(t, http.MethodGet, path, "", "")
		if rr.Code != http.StatusOK || rr.Body.String() != want {
			t.Fatalf("%s status=%d body=%q", path, rr.Code, rr.Body.String())
		}
	}
}

func TestMiddlewareHeaders(t *testing.T) {
	env := newTestEnv(t, nil, testPassword)
	req := httptest.NewRequest(http.MethodGet, "/api/years", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rr := httptest.NewRecorder()
	env.srv.Handler.ServeHTTP(rr, req)

	if got := rr.Header().Get("X-Request-ID"); got != "abc-123" {
		t.Fatalf("request id = %q", got)
	}
	if rr.Header().Get("X-Content-Type-Options") != "nosniff" || rr.Header().Get("X-Frame-Options") != "DENY" {
		t.Fatalf("security headers missing: %v", rr.Header())
	}
	if !strings.HasPrefix(rr.Header().Get("Content-Type"), "application/json") {
		t.Fatalf("content type = %q", rr.Header().Get("Content-Type"))
	}
}

func TestReadEndpoints(t *testing.T) {
	env := newTestEnv(t, nil, testPassword)

	var donations struct {
		Source    string                       `json:"source"`
		Count     int                          `json:"count"`
		Donations map[string][]json.RawMessage `json:"donations"`
	}
	decode(t, env.do(t, http.MethodGet, "/api/donations", "", ""), &donations)
	if donations.Source != store.SourceBundled || donations.Count != 4 || len(donations.Donations["2024-January"]) != 2 {
		t.Fatalf("donations = %+v", donations)
	}

	var years yearsResponse
	decode(t, env.do(t, http.MethodGet, "/api/years", "", ""), &years)
	if !reflect.DeepEqual(years.Available, []int{2024, 2023}) {
		t.Fatalf("available = %v", years.Available)
	}
	if !reflect.DeepEqual(years.Recent, []int{2024, 2023, 2022, 2021, 2020}) {
		t.Fatalf("recent = %v", years.Recent)
	}

	var year struct {
		Year   int     `json:"year"`
		Total  float64 `json:"total"`
		Months []struct {
			Month string  `json:"month"`
			Total float64 `json:"total"`
		} `json:"months"`
	}
	decode(t, env.do(t, http.MethodGet, "/api/years/2024", "", ""), &year)
	if year.Year != 2024 || year.Total != 500 || len(year.Months) != 12 {
		t.Fatalf("year = %+v", year)
	}
	if year.Months[0].Month != "January" || year.Months[0].Total != 350 || year.Months[5].Total != 0 {
		t.Fatalf("months = %+v", year.Months)
	}

	var summary struct {
		Total float64 `json:"total"`
		Years []struct {
			Year  int     `json:"year"`
			Total float64 `json:"total"`
		} `json:"years"`
	}
	decode(t, env.do(t, http.MethodGet, "/api/summary", "", ""), &summary)
	if summary.Total != 800 || len(summary.Years) != 2 || summary.Years[1].Total != 300 {
		t.Fatalf("summary = %+v", summary)
	}

	var expenses []map[string]string
	decode(t, env.do(t, http.MethodGet, "/api/expenses", "", ""), &expenses)
	if len(expenses) != 1 || expenses[0]["what"] != "rent" {
		t.Fatalf("expenses = %+v", expenses)
	}

	for _, path := range []string{"/api/years/24", "/api/years/abcd", "/api/years/0999"} {
		if rr := env.do(t, http.MethodGet, path, "", ""); rr.Code != http.StatusBadRequest {
			t.Fatalf("%s status=%d", path, rr.Code)
		}
	}
}

func TestAdminLogin(t *testing.T) {
	t.Run("wrong password", func(t *testing.T) {
		env := newTestEnv(t, nil, testPassword)
		rr := env.do(t, http.MethodPost, "/api/admin/login", "application/json", `{"password":"nope"}`)
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("status=%d", rr.Code)
		}
		if rr.Header().Get("Cache-Control") != "no-store" {
			t.Fatalf("login response should not be cached")
		}
	})

	t.Run("disabled without password", func(t *testing.T) {
		env := newTestEnv(t, nil, "")
		rr := env.do(t, http.MethodPost, "/api/admin/login", "application/json", `{"password":""}`)
		if rr.Code != http.StatusForbidden {
			t.Fatalf("status=%d", rr.Code)
		}
	})

	t.Run("login then logout", func(t *testing.T) {
		env := newTestEnv(t, nil, testPassword)
		env.login(t)
		if v, _ := env.storage.Get(context.Background(), kv.KeyIsAdmin); v != "true" {
			t.Fatalf("isAdmin slot = %q", v)
		}
		var status adminResponse
		decode(t, env.do(t, http.MethodGet, "/api/admin", "", ""), &status)
		if !status.Admin {
			t.Fatalf("expected admin mode")
		}
		if rr := env.do(t, http.MethodPost, "/api/admin/logout", "", ""); rr.Code != http.StatusOK {
			t.Fatalf("logout status=%d", rr.Code)
		}
		if v, _ := env.storage.Get(context.Background(), kv.KeyIsAdmin); v != "false" {
			t.Fatalf("isAdmin slot = %q", v)
		}
	})
}

func TestAddDonationRequiresAdmin(t *testing.T) {
	env := newTestEnv(t, nil, testPassword)
	rr := env.do(t, http.MethodPost, "/api/donations", "application/json", `{"year":2024,"month":"March","name":"X","amount":"5"}`)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("status=%d", rr.Code)
	}
	if env.srv.Dataset().Count() != 4 {
		t.Fatalf("dataset changed without admin")
	}
}

func TestAddDonation(t *testing.T) {
	env := newTestEnv(t, nil, testPassword)
	env.login(t)

	// Warm the cache so the add has to purge it.
	env.do(t, http.MethodGet, "/api/years/2024", "", "")

	rr := env.do(t, http.MethodPost, "/api/donations", "application/json",
		`{"year":2024,"month":"january","name":"  Ann  ","amount":"12,50"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	var resp struct {
		Month     string        `json:"month"`
		Donation  core.Donation `json:"donation"`
		MonthSum  float64       `json:"month_total"`
		YearTotal float64       `json:"year_total"`
	}
	decode(t, rr, &resp)
	if resp.Month != "January" || resp.Donation.Name != "Ann" || resp.Donation.Amount.Cents != 1250 {
		t.Fatalf("resp = %+v", resp)
	}
	if resp.MonthSum != 362.5 || resp.YearTotal != 512.5 {
		t.Fatalf("totals = %+v", resp)
	}

	jan := env.srv.Dataset().Bucket(2024, time.January)
	if len(jan) != 3 || jan[2].Name != "Ann" {
		t.Fatalf("january bucket = %+v", jan)
	}

	raw, err := env.storage.Get(context.Background(), kv.KeyDonations)
	if err != nil {
		t.Fatalf("donations slot: %v", err)
	}
	saved, err := core.DecodeDataset([]byte(raw))
	if err != nil || saved.Count() != 5 {
		t.Fatalf("saved dataset count=%d err=%v", saved.Count(), err)
	}

	var year struct {
		Total float64 `json:"total"`
	}
	decode(t, env.do(t, http.MethodGet, "/api/years/2024", "", ""), &year)
	if year.Total != 512.5 {
		t.Fatalf("year total after add = %v", year.Total)
	}
}

func TestAddDonationNumericFieldsAndDefaults(t *testing.T) {
	env := newTestEnv(t, nil, testPassword)
	env.login(t)

	rr := env.do(t, http.MethodPost, "/api/donations", "application/json", `{"name":"Bob","amount":20}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	if got := env.srv.Dataset().Bucket(2024, time.June); len(got) != 1 || got[0].Amount.Cents != 2000 {
		t.Fatalf("june bucket = %+v", got)
	}

	rr = env.do(t, http.MethodPost, "/api/donations", "application/json", `{"year":2023,"month":3,"name":"Cy","amount":1.5}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	if got := env.srv.Dataset().Bucket(2023, time.March); len(got) != 1 || got[0].Amount.Cents != 150 {
		t.Fatalf("march bucket = %+v", got)
	}
}

func TestAddDonationRejects(t *testing.T) {
	cases := []struct {
		name string
		body string
		code int
	}{
		{"empty name", `{"year":2024,"month":"March","name":"  ","amount":"5"}`, http.StatusUnprocessableEntity},
		{"bad amount", `{"year":2024,"month":"March","name":"X","amount":"abc"}`, http.StatusUnprocessableEntity},
		{"zero amount", `{"year":2024,"month":"March","name":"X","amount":"0"}`, http.StatusUnprocessableEntity},
		{"negative amount", `{"year":2024,"month":"March","name":"X","amount":"-3"}`, http.StatusUnprocessableEntity},
		{"bad month", `{"year":2024,"month":"Marzo","name":"X","amount":"5"}`, http.StatusUnprocessableEntity},
		{"bad year", `{"year":24,"month":"March","name":"X","amount":"5"}`, http.StatusUnprocessableEntity},
		{"malformed json", `{"year":`, http.StatusBadRequest},
		{"unknown field", `{"donor":"X"}`, http.StatusBadRequest},
	}
	env := newTestEnv(t, nil, testPassword)
	env.login(t)
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := env.do(t, http.MethodPost, "/api/donations", "application/json", tc.body)
			if rr.Code != tc.code {
				t.Fatalf("status=%d want %d body=%s", rr.Code, tc.code, rr.Body.String())
			}
			if env.srv.Dataset().Count() != 4 {
				t.Fatalf("dataset changed on rejected add")
			}
		})
	}
	if _, err := env.storage.Get(context.Background(), kv.KeyDonations); err != kv.ErrNotFound {
		t.Fatalf("rejected adds must not write the slot, got %v", err)
	}
}

func TestAddDonationQuotaExceeded(t *testing.T) {
	env := newTestEnv(t, memory.New(40), testPassword)
	env.login(t)

	rr := env.do(t, http.MethodPost, "/api/donations", "application/json", `{"year":2024,"month":"March","name":"X","amount":"5"}`)
	if rr.Code != http.StatusInsufficientStorage {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	if env.srv.Dataset().Count() != 4 || env.srv.Dataset().Bucket(2024, time.March) != nil {
		t.Fatalf("dataset changed after failed save")
	}
}

func TestCSVEndpoints(t *testing.T) {
	env := newTestEnv(t, nil, testPassword)

	rr := env.do(t, http.MethodGet, "/api/template.csv", "", "")
	if rr.Code != http.StatusOK || !strings.HasPrefix(rr.Body.String(), "Year,Month,Donor Name,Donation Amount\n") {
		t.Fatalf("template status=%d body=%q", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Header().Get("Content-Disposition"), "donations_template.csv") {
		t.Fatalf("template disposition = %q", rr.Header().Get("Content-Disposition"))
	}

	rr = env.do(t, http.MethodGet, "/api/export.csv", "", "")
	lines := strings.Split(strings.TrimSpace(rr.Body.String()), "\n")
	if len(lines) != 5 || lines[1] != "2023,December,Emily Brown,300" {
		t.Fatalf("export = %q", rr.Body.String())
	}
	if !strings.Contains(rr.Header().Get("Content-Disposition"), "donations_2024-06-15.csv") {
		t.Fatalf("export disposition = %q", rr.Header().Get("Content-Disposition"))
	}
}

func TestWorkbookEndpoints(t *testing.T) {
	env := newTestEnv(t, nil, testPassword)

	rr := env.do(t, http.MethodGet, "/api/template.xlsx", "", "")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Header().Get("Content-Type"), "spreadsheetml") {
		t.Fatalf("template status=%d type=%q", rr.Code, rr.Header().Get("Content-Type"))
	}
	if !strings.Contains(rr.Header().Get("Content-Disposition"), "donations_template.xlsx") {
		t.Fatalf("template disposition = %q", rr.Header().Get("Content-Disposition"))
	}
	tmpl, report, err := spreadsheet.ReadXLSX(rr.Body)
	if err != nil || report.Imported != 4 || tmpl.Count() != 4 {
		t.Fatalf("template workbook: %v %+v", err, report)
	}

	rr = env.do(t, http.MethodGet, "/api/export.xlsx", "", "")
	if !strings.Contains(rr.Header().Get("Content-Disposition"), "donations_2024-06-15.xlsx") {
		t.Fatalf("export disposition = %q", rr.Header().Get("Content-Disposition"))
	}
	exported, _, err := spreadsheet.ReadXLSX(rr.Body)
	if err != nil {
		t.Fatalf("export workbook: %v", err)
	}
	if !reflect.DeepEqual(exported, seedDataset()) {
		t.Fatalf("exported = %+v", exported)
	}
}

func multipartFile(t *testing.T, filename string, content []byte) (string, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("form file: %v", err)
	}
	_, _ = fw.Write(content)
	_ = mw.Close()
	return mw.FormDataContentType(), buf.String()
}

func TestImportWorkbook(t *testing.T) {
	ds := core.Dataset{{Year: 2024, Month: time.March}: {{Name: "Zoe", Amount: core.Money{Cents: 4025}}}}
	var workbook bytes.Buffer
	if err := spreadsheet.WriteXLSX(&workbook, ds); err != nil {
		t.Fatalf("workbook: %v", err)
	}

	t.Run("multipart xlsx", func(t *testing.T) {
		env := newTestEnv(t, nil, testPassword)
		env.login(t)
		ct, body := multipartFile(t, "donations.xlsx", workbook.Bytes())
		rr := env.do(t, http.MethodPost, "/api/import", ct, body)
		if rr.Code != http.StatusOK {
			t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
		}
		if got := env.srv.Dataset().Bucket(2024, time.March); len(got) != 1 || got[0].Amount.Cents != 4025 {
			t.Fatalf("march = %+v", got)
		}
	})

	t.Run("raw xlsx body", func(t *testing.T) {
		env := newTestEnv(t, nil, testPassword)
		env.login(t)
		rr := env.do(t, http.MethodPost, "/api/import?mode=replace", spreadsheet.FormatXLSX.ContentType(), workbook.String())
		if rr.Code != http.StatusOK {
			t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
		}
		if !reflect.DeepEqual(env.srv.Dataset(), ds) {
			t.Fatalf("dataset = %+v", env.srv.Dataset())
		}
	})

	t.Run("legacy xls rejected", func(t *testing.T) {
		env := newTestEnv(t, nil, testPassword)
		env.login(t)
		ct, body := multipartFile(t, "donations.xls", []byte{0xD0, 0xCF, 0x11, 0xE0})
		rr := env.do(t, http.MethodPost, "/api/import", ct, body)
		if rr.Code != http.StatusBadRequest || !strings.Contains(rr.Body.String(), ".xlsx") {
			t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
		}
		if env.srv.Dataset().Count() != 4 {
			t.Fatalf("dataset changed on rejected import")
		}
	})
}

func TestImport(t *testing.T) {
	const csvBody = "Year,Month,Donor Name,Donation Amount\n2024,March,Zoe,40\n2024,March,,10\n"

	t.Run("requires admin", func(t *testing.T) {
		env := newTestEnv(t, nil, testPassword)
		if rr := env.do(t, http.MethodPost, "/api/import", "text/csv", csvBody); rr.Code != http.StatusForbidden {
			t.Fatalf("status=%d", rr.Code)
		}
	})

	t.Run("merge", func(t *testing.T) {
		env := newTestEnv(t, nil, testPassword)
		env.login(t)
		rr := env.do(t, http.MethodPost, "/api/import", "text/csv", csvBody)
		if rr.Code != http.StatusOK {
			t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
		}
		var resp importResponse
		decode(t, rr, &resp)
		if resp.Mode != "merge" || resp.Rows != 2 || resp.Imported != 1 || len(resp.Skipped) != 1 || resp.Donations != 5 {
			t.Fatalf("resp = %+v", resp)
		}
		if resp.Skipped[0].Line != 3 {
			t.Fatalf("skipped = %+v", resp.Skipped)
		}
		if got := env.srv.Dataset().Bucket(2024, time.March); len(got) != 1 || got[0].Name != "Zoe" {
			t.Fatalf("march = %+v", got)
		}
	})

	t.Run("replace via multipart", func(t *testing.T) {
		env := newTestEnv(t, nil, testPassword)
		env.login(t)

		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		fw, err := mw.CreateFormFile("file", "donations.csv")
		if err != nil {
			t.Fatalf("form file: %v", err)
		}
		_, _ = fw.Write([]byte(csvBody))
		_ = mw.Close()

		rr := env.do(t, http.MethodPost, "/api/import?mode=replace", mw.FormDataContentType(), buf.String())
		if rr.Code != http.StatusOK {
			t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
		}
		if got := env.srv.Dataset(); got.Count() != 1 || len(got) != 1 {
			t.Fatalf("replaced dataset = %+v", got)
		}
	})

	t.Run("bad mode and missing columns", func(t *testing.T) {
		env := newTestEnv(t, nil, testPassword)
		env.login(t)
		if rr := env.do(t, http.MethodPost, "/api/import?mode=append", "text/csv", csvBody); rr.Code != http.StatusBadRequest {
			t.Fatalf("bad mode status=%d", rr.Code)
		}
		if rr := env.do(t, http.MethodPost, "/api/import", "text/csv", "Name,Amount\nA,1\n"); rr.Code != http.StatusBadRequest {
			t.Fatalf("missing columns status=%d", rr.Code)
		}
		if env.srv.Dataset().Count() != 4 {
			t.Fatalf("dataset changed on rejected import")
		}
	})
}

func TestRateLimitOnWrites(t *testing.T) {
	storage := memory.New(0)
	st := store.New(storage, store.Config{}, nil)
	srv := NewServer(Options{RequestsPerMinute: 2, Dataset: seedDataset()}, st, admin.NewGate(storage, testPassword), nil)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rr := httptest.NewRecorder()
		srv.Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/admin/login", strings.NewReader(`{"password":"x"}`)))
		codes = append(codes, rr.Code)
	}
	if !reflect.DeepEqual(codes, []int{http.StatusUnauthorized, http.StatusUnauthorized, http.StatusTooManyRequests}) {
		t.Fatalf("codes = %v", codes)
	}

	// Reads are not limited.
	rr := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/summary", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("read status=%d", rr.Code)
	}
}

func TestErrorStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{&core.ValidationError{Field: "name", Err: core.ErrEmptyName}, http.StatusUnprocessableEntity},
		{&core.PersistenceError{Key: kv.KeyDonations, Err: kv.ErrQuotaExceeded}, http.StatusInsufficientStorage},
		{&core.PersistenceError{Key: kv.KeyDonations, Err: context.DeadlineExceeded}, http.StatusServiceUnavailable},
		{context.Canceled, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := errorStatus(tc.err); got != tc.want {
			t.Errorf("errorStatus(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}
