package spreadsheet

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"donations/internal/core"
)

// SheetName is the worksheet written by exports and the template. Imports read
// the first sheet whatever its name.
const SheetName = "Donations"

type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// ContentType is the media type served for f.
func (f Format) ContentType() string {
	if f == FormatXLSX {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "text/csv; charset=utf-8"
}

var (
	// ErrLegacyWorkbook rejects binary .xls files, which excelize cannot open.
	ErrLegacyWorkbook = errors.New("legacy .xls workbooks are not supported, save the file as .xlsx")
	ErrUnknownFormat  = errors.New("unknown spreadsheet format")
)

var (
	zipMagic = []byte("PK\x03\x04")
	oleMagic = []byte{0xD0, 0xCF, 0x11, 0xE0}
)

// ParseFormat accepts "csv" or "xlsx", case-insensitively.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case FormatCSV:
		return FormatCSV, nil
	case FormatXLSX:
		return FormatXLSX, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
}

// FormatFromName picks the format from a file extension; anything that is not
// a workbook is treated as CSV.
func FormatFromName(name string) (Format, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".xlsx", ".xlsm":
		return FormatXLSX, nil
	case ".xls":
		return "", ErrLegacyWorkbook
	}
	return FormatCSV, nil
}

// Read imports a workbook or a CSV document, told apart by their leading bytes.
func Read(r io.Reader) (core.Dataset, ImportReport, error) {
	br := bufio.NewReader(r)
	head, _ := br.Peek(len(zipMagic))
	switch {
	case bytes.Equal(head, zipMagic):
		return ReadXLSX(br)
	case bytes.Equal(head, oleMagic):
		return core.Dataset{}, ImportReport{}, ErrLegacyWorkbook
	}
	return ReadCSV(br)
}

// ReadXLSX imports the first worksheet of a workbook. Cells are read unformatted
// so that currency or thousands formats do not leak into amounts.
func ReadXLSX(r io.Reader) (core.Dataset, ImportReport, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return core.Dataset{}, ImportReport{}, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return core.Dataset{}, ImportReport{}, fmt.Errorf("%w: workbook has no sheets", ErrMissingColumns)
	}
	rows, err := f.GetRows(sheets[0], excelize.Options{RawCellValue: true})
	if err != nil {
		return core.Dataset{}, ImportReport{}, fmt.Errorf("read sheet %q: %w", sheets[0], err)
	}
	return FromRows(rows)
}

// WriteXLSX exports ds as a single-sheet workbook with numeric year and amount cells.
func WriteXLSX(w io.Writer, ds core.Dataset) error {
	rows := [][]any{headerCells()}
	for _, k := range ds.Keys() {
		for _, d := range ds[k] {
			rows = append(rows, []any{k.Year, k.Month.String(), d.Name, d.Amount.Float()})
		}
	}
	return writeWorkbook(w, rows)
}

// WriteTemplateXLSX writes the template rows as a workbook.
func WriteTemplateXLSX(w io.Writer) error {
	rows := [][]any{headerCells()}
	for _, d := range templateDonations {
		rows = append(rows, []any{d.year, d.month, d.name, d.amount})
	}
	return writeWorkbook(w, rows)
}

// Write exports ds in format.
func Write(w io.Writer, ds core.Dataset, format Format) error {
	if format == FormatXLSX {
		return WriteXLSX(w, ds)
	}
	return WriteCSV(w, ds)
}

// WriteTemplateAs writes the template in format.
func WriteTemplateAs(w io.Writer, format Format) error {
	if format == FormatXLSX {
		return WriteTemplateXLSX(w)
	}
	return WriteTemplate(w)
}

func headerCells() []any {
	cells := make([]any, len(Header))
	for i, h := range Header {
		cells[i] = h
	}
	return cells
}

func writeWorkbook(w io.Writer, rows [][]any) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), SheetName); err != nil {
		return fmt.Errorf("name sheet: %w", err)
	}
	for i := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(SheetName, cell, &rows[i]); err != nil {
			return fmt.Errorf("write row %d: %w", i+1, err)
		}
	}
	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}
