// Package spreadsheet converts between donation datasets and the tabular
// layout used for bulk import: Year, Month, Donor Name, Donation Amount. Excel
// workbooks are the primary format; CSV is accepted and produced as well.
package spreadsheet

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"donations/internal/core"
)

const (
	ColYear   = "Year"
	ColMonth  = "Month"
	ColName   = "Donor Name"
	ColAmount = "Donation Amount"
)

// Header is the column order written by exports and the template.
var Header = []string{ColYear, ColMonth, ColName, ColAmount}

var ErrMissingColumns = errors.New("missing required columns")

// SkippedRow records a data row that was not imported. Line is 1-based and
// counts the header.
type SkippedRow struct {
	Line   int
	Reason string
}

type ImportReport struct {
	Rows     int
	Imported int
	Skipped  []SkippedRow
}

// FromRows builds a dataset from a header row followed by data rows. Columns are
// located by header name, so extra or reordered columns are fine. Rows missing
// any of the four fields, or with values that do not parse, are skipped.
func FromRows(rows [][]string) (core.Dataset, ImportReport, error) {
	var report ImportReport
	if len(rows) == 0 {
		return core.Dataset{}, report, fmt.Errorf("%w: empty sheet", ErrMissingColumns)
	}

	idx := map[string]int{}
	for i, h := range rows[0] {
		idx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	cols := make([]int, len(Header))
	var missing []string
	for i, name := range Header {
		c, ok := idx[strings.ToLower(name)]
		if !ok {
			missing = append(missing, name)
		}
		cols[i] = c
	}
	if len(missing) > 0 {
		return core.Dataset{}, report, fmt.Errorf("%w: %s", ErrMissingColumns, strings.Join(missing, ", "))
	}

	ds := core.Dataset{}
	for i, row := range rows[1:] {
		line := i + 2
		if isBlank(row) {
			continue
		}
		report.Rows++
		year, month, donor, reason := parseRow(row, cols)
		if reason != "" {
			report.Skipped = append(report.Skipped, SkippedRow{Line: line, Reason: reason})
			continue
		}
		next, err := core.AddDonation(ds, year, month, donor)
		if err != nil {
			report.Skipped = append(report.Skipped, SkippedRow{Line: line, Reason: err.Error()})
			continue
		}
		ds = next
		report.Imported++
	}
	return ds, report, nil
}

func parseRow(row []string, cols []int) (int, time.Month, core.Donation, string) {
	get := func(i int) string {
		if cols[i] >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[cols[i]])
	}
	yearStr, monthStr, name, amountStr := get(0), get(1), get(2), get(3)
	if yearStr == "" || monthStr == "" || name == "" || amountStr == "" {
		return 0, 0, core.Donation{}, "missing field"
	}
	year, err := strconv.Atoi(yearStr)
	if err != nil {
		// Sheets may hand back whole numbers as "2024.0".
		f, ferr := strconv.ParseFloat(yearStr, 64)
		if ferr != nil || f != float64(int(f)) {
			return 0, 0, core.Donation{}, fmt.Sprintf("invalid year %q", yearStr)
		}
		year = int(f)
	}
	month, err := core.ParseMonth(monthStr)
	if err != nil {
		return 0, 0, core.Donation{}, err.Error()
	}
	f, err := strconv.ParseFloat(strings.ReplaceAll(amountStr, ",", "."), 64)
	if err != nil {
		return 0, 0, core.Donation{}, fmt.Sprintf("invalid amount %q", amountStr)
	}
	amount, err := core.MoneyFromFloat(f)
	if err != nil {
		return 0, 0, core.Donation{}, fmt.Sprintf("invalid amount %q", amountStr)
	}
	return year, month, core.Donation{Name: name, Amount: amount}, ""
}

func isBlank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// ReadCSV imports a CSV document with a header row.
func ReadCSV(r io.Reader) (core.Dataset, ImportReport, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	rows, err := cr.ReadAll()
	if err != nil {
		return core.Dataset{}, ImportReport{}, fmt.Errorf("read csv: %w", err)
	}
	return FromRows(rows)
}

// ToRows flattens a dataset in chronological bucket order, donations in
// display order, preceded by the header.
func ToRows(ds core.Dataset) [][]string {
	rows := [][]string{append([]string(nil), Header...)}
	for _, k := range ds.Keys() {
		for _, d := range ds[k] {
			amount, _ := d.Amount.MarshalJSON()
			rows = append(rows, []string{strconv.Itoa(k.Year), k.Month.String(), d.Name, string(amount)})
		}
	}
	return rows
}

func WriteCSV(w io.Writer, ds core.Dataset) error {
	return writeRows(w, ToRows(ds))
}

var templateDonations = []struct {
	year   int
	month  string
	name   string
	amount int
}{
	{2024, "January", "John Smith", 100},
	{2024, "January", "Sarah Johnson", 250},
	{2024, "February", "Mike Davis", 150},
	{2023, "December", "Emily Brown", 300},
}

// TemplateRows are the sample rows of the downloadable template.
func TemplateRows() [][]string {
	rows := [][]string{append([]string(nil), Header...)}
	for _, d := range templateDonations {
		rows = append(rows, []string{strconv.Itoa(d.year), d.month, d.name, strconv.Itoa(d.amount)})
	}
	return rows
}

func WriteTemplate(w io.Writer) error {
	return writeRows(w, TemplateRows())
}

func writeRows(w io.Writer, rows [][]string) error {
	writer := csv.NewWriter(w)
	if err := writer.WriteAll(rows); err != nil {
		return fmt.Errorf("write csv: %w", err)
	}
	return nil
}
