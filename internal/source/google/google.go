package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"villagecash/internal/core"
	"villagecash/internal/source"
)

const defaultSheet = "Collections"

// Client stores collection records in one sheet, one row per record, under a
// header row (ID, Village ID, Village Name, Date, Households, Amount).
type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	sheet         string
	now           func() time.Time
}

var _ source.Backend = (*Client)(nil)

// NewFromEnv creates a Sheets client using environment variables.
// Required: GOOGLE_SPREADSHEET_ID
// Optional: GOOGLE_SHEET_NAME (default "Collections").
func NewFromEnv(ctx context.Context) (*Client, error) {
	return New(ctx,
		strings.TrimSpace(os.Getenv("GOOGLE_SPREADSHEET_ID")),
		strings.TrimSpace(os.Getenv("GOOGLE_SHEET_NAME")))
}

// New creates a Sheets client authenticated with service account credentials
// from GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE or
// GOOGLE_APPLICATION_CREDENTIALS.
func New(ctx context.Context, spreadsheetID, sheet string) (*Client, error) {
	if spreadsheetID == "" {
		return nil, errors.New("missing GOOGLE_SPREADSHEET_ID")
	}
	if sheet == "" {
		sheet = defaultSheet
	}
	svc, err := newSheetsService(ctx)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}
	return &Client{svc: svc, spreadsheetID: spreadsheetID, sheet: sheet, now: time.Now}, nil
}

func newSheetsService(ctx context.Context) (*gsheet.Service, error) {
	serviceAccountJSON := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_JSON"))
	serviceAccountFile := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_FILE"))
	if serviceAccountJSON == "" && serviceAccountFile == "" {
		serviceAccountFile = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}

	var credentialsJSON []byte
	switch {
	case serviceAccountJSON != "":
		slog.InfoContext(ctx, "Using inline JSON credentials")
		credentialsJSON = []byte(serviceAccountJSON)
	case serviceAccountFile != "":
		slog.InfoContext(ctx, "Reading credentials from file", "path", serviceAccountFile)
		b, err := os.ReadFile(serviceAccountFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		credentialsJSON = b
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}

	service, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(credentialsJSON),
		goption.WithScopes(gsheet.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	slog.InfoContext(ctx, "Google Sheets service created successfully")
	return service, nil
}

func (c *Client) readRows(ctx context.Context) ([]sheetRow, error) {
	if c.svc == nil {
		return nil, errors.New("sheets service not initialized")
	}
	rng := fmt.Sprintf("%s!A:F", c.sheet)
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rng, err)
	}
	return parseRows(resp.Values), nil
}

// FetchRecords implements source.Loader.
func (c *Client) FetchRecords(ctx context.Context, q source.Query) ([]core.RawRecord, error) {
	rows, err := c.readRows(ctx)
	if err != nil {
		return nil, err
	}
	var out []core.RawRecord
	for _, r := range rows {
		rec, _ := core.FromRaw(r.Raw)
		if q.Matches(rec) {
			out = append(out, r.Raw)
		}
	}
	return out, nil
}

// FetchServerTime implements source.Loader. Sheets has no clock of its own,
// so the local clock is used.
func (c *Client) FetchServerTime(context.Context) (time.Time, error) {
	return c.now(), nil
}

// Create implements source.Persister by appending a row.
func (c *Client) Create(ctx context.Context, in core.RawRecord) (core.RawRecord, error) {
	rec, err := core.FromRaw(in)
	if err != nil {
		return nil, err
	}
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	if rec.Village.IsZero() {
		return nil, &core.ValidationError{Field: "village", Reason: "village id or name required"}
	}
	rows, err := c.readRows(ctx)
	if err != nil {
		return nil, err
	}
	if err := conflict(rows, rec, ""); err != nil {
		return nil, err
	}

	rec.ID = uuid.NewString()
	rng := fmt.Sprintf("%s!A:F", c.sheet)
	vr := &gsheet.ValueRange{Values: [][]any{rowValues(rec)}}
	_, err = c.svc.Spreadsheets.Values.Append(c.spreadsheetID, rng, vr).
		ValueInputOption("USER_ENTERED").InsertDataOption("INSERT_ROWS").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("append to sheet %s: %w", c.sheet, err)
	}
	slog.InfoContext(ctx, "Collection appended to sheet", "id", rec.ID, "sheet", c.sheet, "day", rec.Date)
	return core.ToRaw(rec), nil
}

// Update implements source.Persister by rewriting the record's row.
func (c *Client) Update(ctx context.Context, id string, patch core.RawRecord) (core.RawRecord, error) {
	rows, err := c.readRows(ctx)
	if err != nil {
		return nil, err
	}
	row, ok := findRow(rows, id)
	if !ok {
		return nil, &core.NotFoundError{ID: id}
	}
	base, _ := core.FromRaw(row.Raw)
	merged, err := core.Merge(base, patch)
	if err != nil {
		return nil, err
	}
	if err := merged.Validate(); err != nil {
		return nil, err
	}
	if err := conflict(rows, merged, id); err != nil {
		return nil, err
	}

	rng := fmt.Sprintf("%s!A%d:F%d", c.sheet, row.Number, row.Number)
	vr := &gsheet.ValueRange{Values: [][]any{rowValues(merged)}}
	_, err = c.svc.Spreadsheets.Values.Update(c.spreadsheetID, rng, vr).
		ValueInputOption("USER_ENTERED").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("update %s: %w", rng, err)
	}
	return core.ToRaw(merged), nil
}

// Delete implements source.Persister by clearing the record's row.
func (c *Client) Delete(ctx context.Context, id string) error {
	rows, err := c.readRows(ctx)
	if err != nil {
		return err
	}
	row, ok := findRow(rows, id)
	if !ok {
		return &core.NotFoundError{ID: id}
	}
	rng := fmt.Sprintf("%s!A%d:F%d", c.sheet, row.Number, row.Number)
	if _, err := c.svc.Spreadsheets.Values.Clear(c.spreadsheetID, rng, &gsheet.ClearValuesRequest{}).Context(ctx).Do(); err != nil {
		return fmt.Errorf("clear %s: %w", rng, err)
	}
	slog.InfoContext(ctx, "Collection row cleared", "id", id, "range", rng)
	return nil
}

// ListVillages implements source.VillageLister from the distinct villages
// referenced by rows, in sheet order.
func (c *Client) ListVillages(ctx context.Context) ([]core.Village, error) {
	rows, err := c.readRows(ctx)
	if err != nil {
		return nil, err
	}
	return villagesOf(rows), nil
}
