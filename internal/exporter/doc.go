// Package exporter renders serial keys for audit downloads.
//
// Two formats are supported:
//
// CSV: WriteCSV streams headers and records to any io.Writer, optionally with
// a UTF-8 BOM so Excel detects the encoding.
//
// XLSX: WriteKeysXLSX builds a workbook with a "Keys" sheet holding one row per
// key and a "Summary" sheet with the totals.
//
// Example usage:
//
//	w.Header().Set("Content-Type", exporter.XLSXContentType)
//	err := exporter.WriteKeysXLSX(w, keys, stats)
//
//	err = exporter.WriteCSV(w, exporter.WriteOptions{
//		Headers:   exporter.KeyHeaders,
//		Records:   exporter.KeyRecords(keys),
//		BOMPrefix: true,
//	})
package exporter
