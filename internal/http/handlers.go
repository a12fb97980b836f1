package http

import (
	"errors"
	"net/http"
	"strings"

	"donations/internal/admin"
	"donations/internal/core"
	"donations/internal/log"
	"donations/internal/spreadsheet"
)

const recentYearCount = 5

type donationsResponse struct {
	Source    string       `json:"source"`
	Buckets   int          `json:"buckets"`
	Count     int          `json:"count"`
	Donations core.Dataset `json:"donations"`
}

type yearsResponse struct {
	Available []int `json:"available"`
	Recent    []int `json:"recent"`
}

type monthView struct {
	Month     string          `json:"month"`
	Total     core.Money      `json:"total"`
	Donations []core.Donation `json:"donations"`
}

type yearView struct {
	Year   int         `json:"year"`
	Total  core.Money  `json:"total"`
	Months []monthView `json:"months"`
}

type yearTotal struct {
	Year  int        `json:"year"`
	Total core.Money `json:"total"`
}

type summaryResponse struct {
	Total core.Money  `json:"total"`
	Years []yearTotal `json:"years"`
}

type addDonationRequest struct {
	Year   int        `json:"year"`
	Month  flexString `json:"month"`
	Name   string     `json:"name"`
	Amount flexString `json:"amount"`
}

type addDonationResponse struct {
	Year      int           `json:"year"`
	Month     string        `json:"month"`
	Donation  core.Donation `json:"donation"`
	MonthSum  core.Money    `json:"month_total"`
	YearTotal core.Money    `json:"year_total"`
}

type skippedView struct {
	Line   int    `json:"line"`
	Reason string `json:"reason"`
}

type importResponse struct {
	Mode      string        `json:"mode"`
	Rows      int           `json:"rows"`
	Imported  int           `json:"imported"`
	Skipped   []skippedView `json:"skipped"`
	Buckets   int           `json:"buckets"`
	Donations int           `json:"donations"`
}

type loginRequest struct {
	Password string `json:"password"`
}

type adminResponse struct {
	Admin bool `json:"admin"`
}

func (s *Server) handleDonations(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	resp := donationsResponse{
		Source:    s.source,
		Buckets:   len(s.dataset),
		Count:     s.dataset.Count(),
		Donations: s.dataset,
	}
	s.mu.RUnlock()
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleYears(w http.ResponseWriter, r *http.Request) {
	ds := s.Dataset()
	writeJSON(w, http.StatusOK, yearsResponse{
		Available: core.AvailableYears(ds),
		Recent:    core.RecentYears(s.now(), recentYearCount),
	})
}

func (s *Server) handleYear(w http.ResponseWriter, r *http.Request) {
	year, err := parseYear(r.PathValue("year"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, newYearView(s.yearSummary(year)))
}

// yearSummary serves from the cache. Writers purge it before releasing mu, so
// an entry never outlives the dataset it was computed from.
func (s *Server) yearSummary(year int) core.YearSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if cached, ok := s.yearCache.Get(year); ok {
		return cached
	}
	summary := core.SummarizeYear(s.dataset, year)
	s.yearCache.Set(year, summary)
	return summary
}

func newYearView(ys core.YearSummary) yearView {
	v := yearView{Year: ys.Year, Total: ys.Total, Months: make([]monthView, 0, len(ys.Months))}
	for _, m := range ys.Months {
		donations := m.Donations
		if donations == nil {
			donations = []core.Donation{}
		}
		v.Months = append(v.Months, monthView{Month: m.Month.String(), Total: m.Total, Donations: donations})
	}
	return v
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	ds := s.Dataset()
	years := core.AvailableYears(ds)
	resp := summaryResponse{
		Total: core.AllYearsTotal(ds, years),
		Years: make([]yearTotal, 0, len(years)),
	}
	for _, y := range years {
		resp.Years = append(resp.Years, yearTotal{Year: y, Total: core.YearTotal(ds, y)})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleExpenses(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	xs := s.expenses
	s.mu.RUnlock()
	writeJSON(w, http.StatusOK, xs)
}

func (s *Server) handleAddDonation(w http.ResponseWriter, r *http.Request) {
	var req addDonationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	now := s.now()
	year := req.Year
	if year == 0 {
		year = now.Year()
	}
	month := now.Month()
	if strings.TrimSpace(string(req.Month)) != "" {
		m, err := core.ParseMonth(string(req.Month))
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, (&core.ValidationError{Field: "month", Err: err}).Error())
			return
		}
		month = m
	}
	amount, err := core.ParseAmount(string(req.Amount))
	if err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}
	donor := core.Donation{Name: sanitizeName(req.Name), Amount: amount}

	s.mu.Lock()
	next, err := s.store.Add(r.Context(), s.dataset, year, month, donor)
	if err != nil {
		s.mu.Unlock()
		status := errorStatus(err)
		if status >= http.StatusInternalServerError {
			s.structured.LogError(r.Context(), "Failed to add donation", err, log.ComponentHTTP, log.OpAdd,
				log.NewFields().WithDonation(year, month.String(), donor.Name, donor.Amount.Cents))
		}
		writeError(w, status, err.Error())
		return
	}
	s.dataset = next
	s.yearCache.Purge()
	s.mu.Unlock()

	bucket := next.Bucket(year, month)
	writeJSON(w, http.StatusCreated, addDonationResponse{
		Year:      year,
		Month:     month.String(),
		Donation:  bucket[len(bucket)-1],
		MonthSum:  core.MonthTotal(next, year, month),
		YearTotal: core.YearTotal(next, year),
	})
}

func handleTemplate(format spreadsheet.Format) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", format.ContentType())
		w.Header().Set("Content-Disposition", `attachment; filename="donations_template.`+string(format)+`"`)
		_ = spreadsheet.WriteTemplateAs(w, format)
	}
}

func (s *Server) handleExport(format spreadsheet.Format) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ds := s.Dataset()
		w.Header().Set("Content-Type", format.ContentType())
		w.Header().Set("Content-Disposition", `attachment; filename="donations_`+s.now().Format("2006-01-02")+`.`+string(format)+`"`)
		if err := spreadsheet.Write(w, ds, format); err != nil {
			s.structured.LogError(r.Context(), "Export failed", err, log.ComponentHTTP, log.OpExport,
				log.LogFields{"format": string(format)})
		}
	}
}

// handleImport accepts an xlsx workbook or a CSV document, raw or as the
// "file" field of a multipart form. mode=replace swaps the dataset; the default merges into it.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	mode := r.URL.Query().Get("mode")
	if mode == "" {
		mode = "merge"
	}
	if mode != "merge" && mode != "replace" {
		writeError(w, http.StatusBadRequest, "mode must be merge or replace")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxImportBody)
	body := r.Body
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		file, header, err := r.FormFile("file")
		if err != nil {
			writeError(w, http.StatusBadRequest, "missing file field")
			return
		}
		defer file.Close()
		if _, err := spreadsheet.FormatFromName(header.Filename); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		body = file
	}

	imported, report, err := spreadsheet.Read(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.mu.Lock()
	next := imported
	if mode == "merge" {
		next = core.Merge(s.dataset, imported)
	}
	if err := s.store.Save(r.Context(), next); err != nil {
		s.mu.Unlock()
		writeError(w, errorStatus(err), err.Error())
		return
	}
	s.dataset = next
	s.yearCache.Purge()
	s.mu.Unlock()

	log.FromContext(r.Context()).InfoContext(r.Context(), "Donations imported",
		log.FieldOperation, log.OpImport,
		"mode", mode,
		"rows", report.Rows,
		"imported", report.Imported,
		"skipped", len(report.Skipped))

	resp := importResponse{
		Mode:      mode,
		Rows:      report.Rows,
		Imported:  report.Imported,
		Skipped:   make([]skippedView, 0, len(report.Skipped)),
		Buckets:   len(next),
		Donations: next.Count(),
	}
	for _, sk := range report.Skipped {
		resp.Skipped = append(resp.Skipped, skippedView{Line: sk.Line, Reason: sk.Reason})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAdminStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, adminResponse{Admin: s.gate.IsAdmin(r.Context())})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	err := s.gate.Login(r.Context(), req.Password)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, adminResponse{Admin: true})
	case errors.Is(err, admin.ErrDisabled):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, admin.ErrWrongPassword):
		log.FromContext(r.Context()).WarnContext(r.Context(), "Admin login rejected")
		writeError(w, http.StatusUnauthorized, err.Error())
	default:
		writeError(w, http.StatusServiceUnavailable, err.Error())
	}
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.gate.Logout(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, adminResponse{Admin: false})
}
