// internal/output/json.go
package output

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/valpere/SiteHarvester/pkg/types"
)

// JSONWriter writes records as one indented JSON array
type JSONWriter struct {
	w       io.Writer
	records []*types.Record
	closed  bool
}

// NewJSONWriter creates a JSON writer over w
func NewJSONWriter(w io.Writer) *JSONWriter {
	return &JSONWriter{w: w, records: []*types.Record{}}
}

// Write buffers records until Close
func (w *JSONWriter) Write(records []*types.Record) error {
	if w.closed {
		return fmt.Errorf("json writer is closed")
	}
	w.records = append(w.records, records...)
	return nil
}

// Close encodes the buffered array
func (w *JSONWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	if w.records == nil {
		w.records = []*types.Record{}
	}
	encoder := json.NewEncoder(w.w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(w.records)
}

// JSONLWriter writes one JSON object per line
type JSONLWriter struct {
	enc *json.Encoder
}

// NewJSONLWriter creates a JSON lines writer over w
func NewJSONLWriter(w io.Writer) *JSONLWriter {
	return &JSONLWriter{enc: json.NewEncoder(w)}
}

// Write encodes records immediately
func (w *JSONLWriter) Write(records []*types.Record) error {
	for _, r := range records {
		if err := w.enc.Encode(r); err != nil {
			return fmt.Errorf("failed to encode record %s: %w", r.ExternalKey, err)
		}
	}
	return nil
}

// Close is a no-op
func (w *JSONLWriter) Close() error { return nil }
