// internal/output/csv.go
package output

import (
	"encoding/csv"
	"fmt"
	"io"

	"github.com/valpere/SiteHarvester/pkg/types"
)

// CSVWriter writes records as CSV. The header is derived from every record
// written, so rows are buffered until Close.
type CSVWriter struct {
	writer    *csv.Writer
	delimiter rune
	records   []*types.Record
}

// NewCSVWriter creates a CSV writer over w
func NewCSVWriter(w io.Writer) *CSVWriter {
	return &CSVWriter{writer: csv.NewWriter(w), delimiter: ','}
}

// WithDelimiter sets the field delimiter
func (w *CSVWriter) WithDelimiter(d rune) *CSVWriter {
	w.delimiter = d
	w.writer.Comma = d
	return w
}

// Write buffers records until Close
func (w *CSVWriter) Write(records []*types.Record) error {
	w.records = append(w.records, records...)
	return nil
}

// Close writes the header and every row
func (w *CSVWriter) Close() error {
	if w.writer == nil {
		return nil
	}
	defer func() { w.writer = nil }()

	fields := Columns(w.records)
	if err := w.writer.Write(fields); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for _, r := range w.records {
		row := r.Row()
		record := make([]string, len(fields))
		for i, field := range fields {
			record[i] = cellString(row[field])
		}
		if err := w.writer.Write(record); err != nil {
			return fmt.Errorf("failed to write record: %w", err)
		}
	}

	w.writer.Flush()
	return w.writer.Error()
}
