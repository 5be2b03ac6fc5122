package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"dividi/internal/history"
	ports "dividi/internal/sheets"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"
)

const defaultSheetName = "Settlements"

type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	sheetName     string

	mu            sync.Mutex
	headerWritten bool
}

var _ ports.SettlementExporter = (*Client)(nil)

// Config selects the spreadsheet and the service account used to reach it.
// ServiceAccountJSON wins over ServiceAccountFile.
type Config struct {
	SpreadsheetID      string
	SheetName          string
	ServiceAccountJSON string
	ServiceAccountFile string
}

func New(ctx context.Context, cfg Config) (*Client, error) {
	spreadsheetID := strings.TrimSpace(cfg.SpreadsheetID)
	if spreadsheetID == "" {
		return nil, errors.New("missing GOOGLE_SPREADSHEET_ID")
	}
	sheetName := strings.TrimSpace(cfg.SheetName)
	if sheetName == "" {
		sheetName = defaultSheetName
	}

	credentialsJSON, err := loadCredentials(ctx, cfg)
	if err != nil {
		return nil, err
	}

	svc, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(credentialsJSON),
		goption.WithScopes(gsheet.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}

	slog.InfoContext(ctx, "Google Sheets service created",
		"spreadsheet_id", spreadsheetID,
		"sheet", sheetName)

	return &Client{svc: svc, spreadsheetID: spreadsheetID, sheetName: sheetName}, nil
}

func loadCredentials(ctx context.Context, cfg Config) ([]byte, error) {
	inline := strings.TrimSpace(cfg.ServiceAccountJSON)
	file := strings.TrimSpace(cfg.ServiceAccountFile)

	switch {
	case inline != "":
		slog.DebugContext(ctx, "Using inline service account credentials")
		return []byte(inline), nil
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		slog.DebugContext(ctx, "Read service account file", "path", file, "size", len(data))
		return data, nil
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}
}

// Export appends one row per transfer and returns the updated A1 range.
func (c *Client) Export(ctx context.Context, rec history.Record) (string, error) {
	if c.svc == nil {
		return "", errors.New("sheets service not initialized")
	}

	if err := c.ensureHeader(ctx); err != nil {
		return "", err
	}

	vr := &gsheet.ValueRange{Values: ports.Rows(rec)}
	resp, err := c.svc.Spreadsheets.Values.Append(c.spreadsheetID, c.dataRange(), vr).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("append to sheet %s: %w", c.sheetName, err)
	}

	ref := c.dataRange()
	if resp.Updates != nil && resp.Updates.UpdatedRange != "" {
		ref = resp.Updates.UpdatedRange
	}
	return ref, nil
}

// ensureHeader writes the column titles once when row 1 is empty.
func (c *Client) ensureHeader(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.headerWritten {
		return nil
	}

	rng := fmt.Sprintf("%s!A1:E1", c.sheetName)
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("read header %s: %w", rng, err)
	}
	if len(resp.Values) == 0 {
		vr := &gsheet.ValueRange{Values: [][]any{ports.Header}}
		if _, err := c.svc.Spreadsheets.Values.Update(c.spreadsheetID, rng, vr).
			ValueInputOption("RAW").Context(ctx).Do(); err != nil {
			return fmt.Errorf("write header %s: %w", rng, err)
		}
		slog.InfoContext(ctx, "Wrote export sheet header", "sheet", c.sheetName)
	}
	c.headerWritten = true
	return nil
}

func (c *Client) dataRange() string {
	return fmt.Sprintf("%s!A:E", c.sheetName)
}
