package spreadsheet

import (
	"bytes"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"donations/internal/core"
)

func TestTemplateImportsCleanly(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteTemplate(&buf); err != nil {
		t.Fatalf("template: %v", err)
	}
	ds, report, err := ReadCSV(&buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if report.Rows != 4 || report.Imported != 4 || len(report.Skipped) != 0 {
		t.Fatalf("report = %+v", report)
	}
	jan := ds.Bucket(2024, time.January)
	if len(jan) != 2 || jan[0].Name != "John Smith" || jan[1].Name != "Sarah Johnson" {
		t.Fatalf("january bucket = %+v", jan)
	}
	if got := core.YearTotal(ds, 2024).Cents; got != 50000 {
		t.Fatalf("2024 total = %d", got)
	}
	if got := core.YearTotal(ds, 2023).Cents; got != 30000 {
		t.Fatalf("2023 total = %d", got)
	}
}

func TestFromRowsSkipsIncompleteRows(t *testing.T) {
	rows := [][]string{
		{"Donation Amount", "Donor Name", "Notes", "Month", "Year"},
		{"50", "Ann", "", "March", "2023"},
		{"", "NoAmount", "", "March", "2023"},
		{"10", "", "", "March", "2023"},
		{"", "", "", "", ""},
		{"abc", "Bad", "", "March", "2023"},
		{"5", "BadMonth", "", "Marzo", "2023"},
		{"0", "Zero", "", "March", "2023"},
		{"12,5", "Comma", "", "march", "2023.0"},
		{"7", "Short"},
	}
	ds, report, err := FromRows(rows)
	if err != nil {
		t.Fatalf("from rows: %v", err)
	}
	want := []core.Donation{
		{Name: "Ann", Amount: core.Money{Cents: 5000}},
		{Name: "Comma", Amount: core.Money{Cents: 1250}},
	}
	if got := ds.Bucket(2023, time.March); !reflect.DeepEqual(got, want) {
		t.Fatalf("bucket = %+v", got)
	}
	if report.Rows != 8 || report.Imported != 2 || len(report.Skipped) != 6 {
		t.Fatalf("report = %+v", report)
	}
	if report.Skipped[0].Line != 3 {
		t.Fatalf("first skipped line = %d", report.Skipped[0].Line)
	}
}

func TestFromRowsMissingColumns(t *testing.T) {
	_, _, err := FromRows([][]string{{"Year", "Month", "Name"}})
	if !errors.Is(err, ErrMissingColumns) {
		t.Fatalf("expected ErrMissingColumns, got %v", err)
	}
	if !strings.Contains(err.Error(), "Donor Name") || !strings.Contains(err.Error(), "Donation Amount") {
		t.Fatalf("error should name missing columns: %v", err)
	}
	if _, _, err := FromRows(nil); !errors.Is(err, ErrMissingColumns) {
		t.Fatalf("expected ErrMissingColumns for empty sheet, got %v", err)
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	ds := core.Dataset{
		{Year: 2024, Month: time.January}:  {{Name: "John, Jr.", Amount: core.Money{Cents: 10050}}},
		{Year: 2022, Month: time.June}:     {{Name: "Ann", Amount: core.Money{Cents: 700}}, {Name: "Bob", Amount: core.Money{Cents: 1}}},
		{Year: 2023, Month: time.December}: {{Name: "Emily Brown", Amount: core.Money{Cents: 30000}}},
	}
	var buf bytes.Buffer
	if err := WriteCSV(&buf, ds); err != nil {
		t.Fatalf("write: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if lines[0] != "Year,Month,Donor Name,Donation Amount" || lines[1] != "2022,June,Ann,7" {
		t.Fatalf("unexpected csv:\n%s", buf.String())
	}
	back, _, err := ReadCSV(&buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !reflect.DeepEqual(ds, back) {
		t.Fatalf("round trip mismatch: %+v", back)
	}
}
