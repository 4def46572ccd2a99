// internal/output/types.go
package output

import (
	"fmt"
	"sort"
	"strings"

	"github.com/valpere/SiteHarvester/pkg/types"
)

// Format is a dataset export format
type Format string

const (
	FormatJSON  Format = "json"
	FormatJSONL Format = "jsonl"
	FormatCSV   Format = "csv"
	FormatExcel Format = "xlsx"
)

// ValidFormats returns all supported export formats
func ValidFormats() []Format {
	return []Format{FormatJSON, FormatJSONL, FormatCSV, FormatExcel}
}

// ParseFormat accepts a format name or a file extension
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), ".")) {
	case "", "json":
		return FormatJSON, nil
	case "jsonl", "ndjson":
		return FormatJSONL, nil
	case "csv":
		return FormatCSV, nil
	case "xlsx", "excel":
		return FormatExcel, nil
	}
	return "", fmt.Errorf("unsupported output format: %s", s)
}

// ContentType returns the MIME type served for the format
func (f Format) ContentType() string {
	switch f {
	case FormatCSV:
		return "text/csv; charset=utf-8"
	case FormatExcel:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case FormatJSONL:
		return "application/x-ndjson"
	default:
		return "application/json"
	}
}

// Extension returns the file extension without the dot
func (f Format) Extension() string {
	return string(f)
}

// Writer writes records in one format. Records may be written in several
// calls; Close finishes the document.
type Writer interface {
	Write(records []*types.Record) error
	Close() error
}

// Columns returns the tabular header for records: the fixed record columns
// followed by every attribute column, sorted
func Columns(records []*types.Record) []string {
	cols := types.RowColumns()
	seen := make(map[string]bool)
	var attrs []string
	for _, r := range records {
		for k := range r.Attributes {
			col := "attr_" + k
			if !seen[col] {
				seen[col] = true
				attrs = append(attrs, col)
			}
		}
	}
	sort.Strings(attrs)
	return append(cols, attrs...)
}

func cellString(v interface{}) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
