// internal/output/manager.go
package output

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/valpere/SiteHarvester/internal/utils"
	"github.com/valpere/SiteHarvester/pkg/types"
)

// Config selects the export format and destination
type Config struct {
	Format Format      `yaml:"format" json:"format"`
	File   string      `yaml:"file,omitempty" json:"file,omitempty"`
	Excel  ExcelConfig `yaml:"excel" json:"excel"`
}

// Manager builds writers for a configured format
type Manager struct {
	config Config
	logger utils.Logger
}

// NewManager creates an output manager
func NewManager(cfg Config, logger utils.Logger) (*Manager, error) {
	format, err := ParseFormat(string(cfg.Format))
	if err != nil {
		return nil, err
	}
	cfg.Format = format
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	return &Manager{config: cfg, logger: logger}, nil
}

// Format returns the configured format
func (m *Manager) Format() Format { return m.config.Format }

// NewWriter returns a writer over w for the configured format
func (m *Manager) NewWriter(w io.Writer) (Writer, error) {
	return NewWriter(m.config.Format, w, m.config.Excel, m.logger)
}

// NewWriter returns a writer over w for format
func NewWriter(format Format, w io.Writer, excel ExcelConfig, logger utils.Logger) (Writer, error) {
	switch format {
	case FormatJSON:
		return NewJSONWriter(w), nil
	case FormatJSONL:
		return NewJSONLWriter(w), nil
	case FormatCSV:
		return NewCSVWriter(w), nil
	case FormatExcel:
		return NewExcelWriter(w, excel, logger), nil
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}
}

// Write writes records to w using the configured format
func (m *Manager) Write(w io.Writer, records []*types.Record) error {
	writer, err := m.NewWriter(w)
	if err != nil {
		return fmt.Errorf("failed to get writer: %w", err)
	}
	if err := writer.Write(records); err != nil {
		writer.Close()
		return err
	}
	return writer.Close()
}

// WriteFile writes records to path, or to the configured file when path is
// empty, creating parent directories as needed
func (m *Manager) WriteFile(path string, records []*types.Record) (string, error) {
	if path == "" {
		path = m.config.File
	}
	if path == "" {
		return "", fmt.Errorf("output file is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create output file: %w", err)
	}
	if err := m.Write(f, records); err != nil {
		f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	m.logger.WithFields(map[string]interface{}{
		"file":    path,
		"format":  string(m.config.Format),
		"records": len(records),
	}).Info("Dataset exported")
	return path, nil
}
