// Package ledger appends issued keys to a Google Sheet used as an audit trail.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"obsidian/internal/config"
	"obsidian/internal/infrastructure"
	"obsidian/internal/storage"
)

// Header is the first row expected in the ledger sheet
var Header = []interface{}{"Serial", "Order", "Duration (minutes)", "Created at"}

// Ledger writes rows to one sheet of a spreadsheet
type Ledger struct {
	svc           *sheets.Service
	spreadsheetID string
	sheet         string
	logger        *slog.Logger
}

// New creates a ledger. A credentials file from config is used unless opts
// already supply a client.
func New(ctx context.Context, cfg config.LedgerConfig, logger *slog.Logger, opts ...option.ClientOption) (*Ledger, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("ledger spreadsheet id is not configured")
	}
	if logger == nil {
		logger = slog.Default()
	}

	clientOpts := make([]option.ClientOption, 0, len(opts)+1)
	if cfg.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	clientOpts = append(clientOpts, opts...)

	svc, err := sheets.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets service: %w", err)
	}

	sheet := cfg.SheetName
	if sheet == "" {
		sheet = config.DefaultLedgerSheet
	}

	return &Ledger{
		svc:           svc,
		spreadsheetID: cfg.SpreadsheetID,
		sheet:         sheet,
		logger:        infrastructure.WithComponent(logger, "ledger"),
	}, nil
}

// Row renders one key as a sheet row
func Row(k storage.SerialKey) []interface{} {
	duration := "lifetime"
	if k.DurationMinutes != nil {
		duration = strconv.Itoa(*k.DurationMinutes)
	}
	return []interface{}{k.Serial, k.OrderID, duration, k.CreatedAt.UTC().Format(time.RFC3339)}
}

// AppendKeys appends one row per key below the existing data
func (l *Ledger) AppendKeys(ctx context.Context, keys []storage.SerialKey) error {
	if len(keys) == 0 {
		return nil
	}

	values := make([][]interface{}, 0, len(keys))
	for _, k := range keys {
		values = append(values, Row(k))
	}

	resp, err := l.svc.Spreadsheets.Values.Append(
		l.spreadsheetID,
		l.sheet+"!A:D",
		&sheets.ValueRange{Values: values},
	).ValueInputOption("RAW").InsertDataOption("INSERT_ROWS").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to append ledger rows: %w", err)
	}

	var updated int64
	if resp.Updates != nil {
		updated = resp.Updates.UpdatedRows
	}
	l.logger.InfoContext(ctx, "ledger rows appended",
		slog.Int("keys", len(keys)),
		slog.Int64("updated_rows", updated),
	)
	return nil
}

// EnsureHeader writes Header to the first row when the sheet is empty
func (l *Ledger) EnsureHeader(ctx context.Context) error {
	resp, err := l.svc.Spreadsheets.Values.Get(l.spreadsheetID, l.sheet+"!A1:D1").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to read ledger header: %w", err)
	}
	if len(resp.Values) > 0 {
		return nil
	}

	_, err = l.svc.Spreadsheets.Values.Update(
		l.spreadsheetID,
		l.sheet+"!A1:D1",
		&sheets.ValueRange{Values: [][]interface{}{Header}},
	).ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to write ledger header: %w", err)
	}
	return nil
}
