package exporter

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"obsidian/internal/storage"
)

// XLSXContentType is the media type of WriteKeysXLSX output
const XLSXContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

const (
	keysSheet    = "Keys"
	summarySheet = "Summary"
)

// KeyHeaders are the column titles of a key export
var KeyHeaders = []string{"Serial", "Order", "Duration (minutes)", "Claimed", "Claimed at", "Linked to", "Created at"}

// KeyRecord renders one key as export columns
func KeyRecord(k storage.SerialKey) []string {
	linked := ""
	if k.LinkedTo != nil {
		linked = *k.LinkedTo
	}
	return []string{
		k.Serial,
		k.OrderID,
		formatDuration(k.DurationMinutes),
		formatBool(k.Claimed()),
		formatTime(k.ClaimedAt),
		linked,
		formatTime(&k.CreatedAt),
	}
}

// KeyRecords renders keys as export rows
func KeyRecords(keys []storage.SerialKey) [][]string {
	records := make([][]string, 0, len(keys))
	for _, k := range keys {
		records = append(records, KeyRecord(k))
	}
	return records
}

// WriteKeysXLSX writes a workbook with the keys and a summary sheet to w
func WriteKeysXLSX(w io.Writer, keys []storage.SerialKey, stats storage.KeyStats) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", keysSheet); err != nil {
		return fmt.Errorf("failed to rename sheet: %w", err)
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}

	if err := setRow(f, keysSheet, 1, KeyHeaders); err != nil {
		return err
	}
	for i, record := range KeyRecords(keys) {
		if err := setRow(f, keysSheet, i+2, record); err != nil {
			return err
		}
	}
	lastCol, _ := excelize.ColumnNumberToName(len(KeyHeaders))
	if err := f.SetCellStyle(keysSheet, "A1", lastCol+"1", bold); err != nil {
		return fmt.Errorf("failed to style header: %w", err)
	}
	if err := f.SetColWidth(keysSheet, "A", lastCol, 22); err != nil {
		return fmt.Errorf("failed to size columns: %w", err)
	}
	if err := f.SetPanes(keysSheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
		return fmt.Errorf("failed to freeze header: %w", err)
	}

	if _, err := f.NewSheet(summarySheet); err != nil {
		return fmt.Errorf("failed to add summary sheet: %w", err)
	}
	summary := [][]string{
		{"Metric", "Value"},
		{"Total", formatInt(stats.Total)},
		{"Claimed", formatInt(stats.Claimed)},
		{"Unclaimed", formatInt(stats.Unclaimed)},
		{"Lifetime", formatInt(stats.Lifetime)},
	}
	for i, row := range summary {
		if err := setRow(f, summarySheet, i+1, row); err != nil {
			return err
		}
	}
	if err := f.SetCellStyle(summarySheet, "A1", "B1", bold); err != nil {
		return fmt.Errorf("failed to style summary: %w", err)
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

func setRow(f *excelize.File, sheet string, row int, values []string) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	cells := make([]interface{}, len(values))
	for i, v := range values {
		cells[i] = v
	}
	if err := f.SetSheetRow(sheet, cell, &cells); err != nil {
		return fmt.Errorf("failed to write %s row %d: %w", sheet, row, err)
	}
	return nil
}
