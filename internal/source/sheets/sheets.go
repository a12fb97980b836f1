// Package sheets reads a donation dataset from a Google Sheets tab laid out like
// the import template: Year, Month, Donor Name, Donation Amount.
package sheets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"google.golang.org/api/googleapi"
	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"donations/internal/core"
	"donations/internal/log"
	"donations/internal/source"
	"donations/internal/spreadsheet"
)

const Name = "sheets"

var _ source.Source[core.Dataset] = (*Source)(nil)

type Config struct {
	SpreadsheetID string
	SheetName     string
	// Service account credentials, inline JSON or a file path.
	CredentialsJSON string
	CredentialsFile string
	// OAuth user credentials, used when no service account is set: the client
	// secret plus the token file written by sheets-login.
	OAuthClientJSON string
	OAuthClientFile string
	OAuthTokenFile  string
}

type Source struct {
	svc           *gsheet.Service
	spreadsheetID string
	sheetName     string
	logger        *log.Logger
}

// New creates a read-only Sheets source. Extra client options are appended after
// the credentials, so tests can point the client at a local endpoint.
func New(ctx context.Context, cfg Config, logger *log.Logger, opts ...goption.ClientOption) (*Source, error) {
	if strings.TrimSpace(cfg.SpreadsheetID) == "" {
		return nil, errors.New("missing spreadsheet ID")
	}
	if cfg.SheetName == "" {
		cfg.SheetName = "Donations"
	}
	if logger == nil {
		logger = log.Discard()
	}

	var clientOpts []goption.ClientOption
	switch {
	case cfg.CredentialsJSON != "":
		clientOpts = append(clientOpts, goption.WithCredentialsJSON([]byte(cfg.CredentialsJSON)))
	case cfg.CredentialsFile != "":
		b, err := os.ReadFile(cfg.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		clientOpts = append(clientOpts, goption.WithCredentialsJSON(b))
	case cfg.OAuthTokenFile != "":
		secret, err := ReadClientSecret(cfg.OAuthClientJSON, cfg.OAuthClientFile)
		if err != nil {
			return nil, err
		}
		opt, err := tokenOption(ctx, secret, cfg.OAuthTokenFile)
		if err != nil {
			return nil, err
		}
		clientOpts = append(clientOpts, opt)
	}
	clientOpts = append(clientOpts, goption.WithScopes(gsheet.SpreadsheetsReadonlyScope))
	clientOpts = append(clientOpts, opts...)

	svc, err := gsheet.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return &Source{
		svc:           svc,
		spreadsheetID: cfg.SpreadsheetID,
		sheetName:     cfg.SheetName,
		logger:        logger.WithComponent(log.ComponentSheets),
	}, nil
}

func (s *Source) Name() string { return Name }

// Load reads the whole tab. Rows that fail the presence check are skipped and
// counted; a tab without the expected header is a ParseError.
func (s *Source) Load(ctx context.Context) (core.Dataset, error) {
	resp, err := s.svc.Spreadsheets.Values.Get(s.spreadsheetID, quoteSheet(s.sheetName)).
		ValueRenderOption("UNFORMATTED_VALUE").
		Context(ctx).Do()
	if err != nil {
		fe := &core.FetchError{Source: Name, Err: err}
		var gerr *googleapi.Error
		if errors.As(err, &gerr) {
			fe.Status = gerr.Code
		}
		return nil, fe
	}

	rows := make([][]string, 0, len(resp.Values))
	for _, r := range resp.Values {
		rows = append(rows, toStrings(r))
	}
	ds, report, err := spreadsheet.FromRows(rows)
	if err != nil {
		return nil, &core.ParseError{Source: Name, Err: err}
	}
	if len(report.Skipped) > 0 {
		s.logger.WarnContext(ctx, "Skipped incomplete sheet rows",
			"skipped", len(report.Skipped), "imported", report.Imported, "sheet", s.sheetName)
	}
	return ds, nil
}

// quoteSheet renders a sheet name as an A1 range covering the whole tab.
func quoteSheet(name string) string {
	return "'" + strings.ReplaceAll(name, "'", "''") + "'"
}

func toStrings(in []interface{}) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = strings.TrimSpace(fmt.Sprint(v))
	}
	return out
}
