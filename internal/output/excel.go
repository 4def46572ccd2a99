// internal/output/excel.go
package output

import (
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"

	"github.com/valpere/SiteHarvester/internal/utils"
	"github.com/valpere/SiteHarvester/pkg/types"
)

// Excel limits
const (
	DefaultExcelMaxCellLength = 32767
	DefaultExcelMaxSheetRows  = 1048576
)

// ExcelConfig configures the workbook layout
type ExcelConfig struct {
	SheetName     string         `yaml:"sheet_name" json:"sheet_name"`
	AutoFilter    bool           `yaml:"auto_filter" json:"auto_filter"`
	FreezeHeader  bool           `yaml:"freeze_header" json:"freeze_header"`
	MaxSheetRows  int            `yaml:"max_sheet_rows" json:"max_sheet_rows"`
	MaxCellLength int            `yaml:"max_cell_length" json:"max_cell_length"`
	ColumnWidths  map[string]int `yaml:"column_widths,omitempty" json:"column_widths,omitempty"`
}

// DefaultExcelConfig returns a "Products" sheet with a frozen, filterable header
func DefaultExcelConfig() ExcelConfig {
	return ExcelConfig{
		SheetName:     "Products",
		AutoFilter:    true,
		FreezeHeader:  true,
		MaxSheetRows:  DefaultExcelMaxSheetRows,
		MaxCellLength: DefaultExcelMaxCellLength,
		ColumnWidths:  map[string]int{"url": 60, "name": 40, "description": 80, "images": 60},
	}
}

// ExcelWriter writes records to an xlsx workbook streamed to w on Close
type ExcelWriter struct {
	w       io.Writer
	config  ExcelConfig
	logger  utils.Logger
	records []*types.Record
	closed  bool
}

// NewExcelWriter creates an Excel writer over w
func NewExcelWriter(w io.Writer, config ExcelConfig, logger utils.Logger) *ExcelWriter {
	def := DefaultExcelConfig()
	if config.SheetName == "" {
		config.SheetName = def.SheetName
	}
	if config.MaxSheetRows <= 1 || config.MaxSheetRows > DefaultExcelMaxSheetRows {
		config.MaxSheetRows = def.MaxSheetRows
	}
	if config.MaxCellLength <= 0 || config.MaxCellLength > DefaultExcelMaxCellLength {
		config.MaxCellLength = def.MaxCellLength
	}
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	return &ExcelWriter{w: w, config: config, logger: logger}
}

// Write buffers records until Close
func (w *ExcelWriter) Write(records []*types.Record) error {
	if w.closed {
		return fmt.Errorf("excel writer is closed")
	}
	w.records = append(w.records, records...)
	return nil
}

// Close lays out the workbook and writes it
func (w *ExcelWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	f := excelize.NewFile()
	defer f.Close()

	headers := Columns(w.records)
	headerStyle, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true},
		Fill:      excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"#DDEBF7"}},
		Alignment: &excelize.Alignment{Vertical: "center"},
	})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}

	perSheet := w.config.MaxSheetRows - 1
	sheets := 0
	for start := 0; start < len(w.records) || sheets == 0; start += perSheet {
		end := start + perSheet
		if end > len(w.records) {
			end = len(w.records)
		}
		name := w.config.SheetName
		if sheets > 0 {
			name = fmt.Sprintf("%s_%d", w.config.SheetName, sheets+1)
		}
		if err := w.sheet(f, sheets, name, headers, headerStyle, w.records[start:end]); err != nil {
			return err
		}
		sheets++
	}
	if sheets > 1 {
		w.logger.Infof("Dataset split over %d sheets", sheets)
	}

	if err := f.Write(w.w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

func (w *ExcelWriter) sheet(f *excelize.File, index int, name string, headers []string, headerStyle int, records []*types.Record) error {
	if index == 0 {
		if err := f.SetSheetName("Sheet1", name); err != nil {
			return fmt.Errorf("failed to name sheet: %w", err)
		}
	} else if _, err := f.NewSheet(name); err != nil {
		return fmt.Errorf("failed to create sheet %s: %w", name, err)
	}

	for col, header := range headers {
		cell, _ := excelize.CoordinatesToCellName(col+1, 1)
		if err := f.SetCellValue(name, cell, header); err != nil {
			return err
		}
		if width, ok := w.config.ColumnWidths[header]; ok {
			colName, _ := excelize.ColumnNumberToName(col + 1)
			if err := f.SetColWidth(name, colName, colName, float64(width)); err != nil {
				return err
			}
		}
	}
	last, _ := excelize.CoordinatesToCellName(len(headers), 1)
	if err := f.SetCellStyle(name, "A1", last, headerStyle); err != nil {
		return err
	}

	truncated := 0
	for i, r := range records {
		row := r.Row()
		for col, header := range headers {
			value := cellString(row[header])
			if utf8.RuneCountInString(value) > w.config.MaxCellLength {
				value = string([]rune(value)[:w.config.MaxCellLength])
				truncated++
			}
			if value == "" {
				continue
			}
			cell, _ := excelize.CoordinatesToCellName(col+1, i+2)
			if err := f.SetCellValue(name, cell, value); err != nil {
				return err
			}
		}
	}
	if truncated > 0 {
		w.logger.Warnf("Truncated %d cells on sheet %s to %d characters", truncated, name, w.config.MaxCellLength)
	}

	if w.config.FreezeHeader {
		if err := f.SetPanes(name, &excelize.Panes{
			Freeze:      true,
			YSplit:      1,
			TopLeftCell: "A2",
			ActivePane:  "bottomLeft",
		}); err != nil {
			return fmt.Errorf("failed to freeze header: %w", err)
		}
	}
	if w.config.AutoFilter && len(records) > 0 {
		lastCell, _ := excelize.CoordinatesToCellName(len(headers), len(records)+1)
		if err := f.AutoFilter(name, "A1:"+lastCell, nil); err != nil {
			return fmt.Errorf("failed to add auto filter: %w", err)
		}
	}
	return nil
}
