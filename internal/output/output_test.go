// internal/output/output_test.go
package output

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/valpere/SiteHarvester/pkg/types"
)

func sampleRecords() []*types.Record {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return []*types.Record{
		{
			ExternalKey: "101",
			URL:         "https://shop.example/p/101",
			Site:        "shop",
			Stage:       types.StageDetail,
			Name:        "Runner",
			Price:       "49.90",
			Sizes:       []string{"40", "41"},
			Attributes:  map[string]string{"color": "red"},
			ExtractedAt: at,
		},
		{
			ExternalKey: "102",
			URL:         "https://shop.example/p/102",
			Site:        "shop",
			Stage:       types.StageList,
			Name:        "Walker, \"classic\"",
			Attributes:  map[string]string{"material": "leather"},
			ExtractedAt: at,
		},
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"", FormatJSON, false},
		{"JSON", FormatJSON, false},
		{"ndjson", FormatJSONL, false},
		{".csv", FormatCSV, false},
		{"excel", FormatExcel, false},
		{"xlsx", FormatExcel, false},
		{"pdf", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFormat(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestColumns_AppendsSortedAttributes(t *testing.T) {
	cols := Columns(sampleRecords())
	n := len(types.RowColumns())
	require.Len(t, cols, n+2)
	assert.Equal(t, "external_key", cols[0])
	assert.Equal(t, []string{"attr_color", "attr_material"}, cols[n:])
}

func TestJSONWriter(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONWriter(&buf)
	recs := sampleRecords()
	require.NoError(t, w.Write(recs[:1]))
	require.NoError(t, w.Write(recs[1:]))
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())

	var got []types.Record
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	require.Len(t, got, 2)
	assert.Equal(t, "102", got[1].ExternalKey)
	assert.Equal(t, []string{"40", "41"}, got[0].Sizes)
}

func TestJSONWriter_EmptyIsArray(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONWriter(&buf)
	require.NoError(t, w.Close())
	assert.Equal(t, "[]", strings.TrimSpace(buf.String()))
}

func TestJSONLWriter(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf)
	require.NoError(t, w.Write(sampleRecords()))
	require.NoError(t, w.Close())

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	var r types.Record
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &r))
	assert.Equal(t, "101", r.ExternalKey)
}

func TestCSVWriter(t *testing.T) {
	var buf bytes.Buffer
	w := NewCSVWriter(&buf)
	require.NoError(t, w.Write(sampleRecords()))
	require.NoError(t, w.Close())

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)

	header := rows[0]
	index := make(map[string]int)
	for i, h := range header {
		index[h] = i
	}
	assert.Equal(t, "40|41", rows[1][index["sizes"]])
	assert.Equal(t, "red", rows[1][index["attr_color"]])
	assert.Equal(t, "", rows[1][index["attr_material"]])
	assert.Equal(t, "Walker, \"classic\"", rows[2][index["name"]])
}

func TestCSVWriter_Delimiter(t *testing.T) {
	var buf bytes.Buffer
	w := NewCSVWriter(&buf).WithDelimiter(';')
	require.NoError(t, w.Write(sampleRecords()[:1]))
	require.NoError(t, w.Close())
	assert.True(t, strings.HasPrefix(buf.String(), "external_key;url;"))
}

func TestExcelWriter(t *testing.T) {
	var buf bytes.Buffer
	w := NewExcelWriter(&buf, DefaultExcelConfig(), nil)
	require.NoError(t, w.Write(sampleRecords()))
	require.NoError(t, w.Close())

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows("Products")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "external_key", rows[0][0])
	assert.Equal(t, "101", rows[1][0])
	assert.Equal(t, "102", rows[2][0])
}

func TestExcelWriter_SplitsSheetsAndTruncates(t *testing.T) {
	recs := sampleRecords()
	recs[0].Description = strings.Repeat("x", 50)

	var buf bytes.Buffer
	w := NewExcelWriter(&buf, ExcelConfig{SheetName: "Data", MaxSheetRows: 2, MaxCellLength: 10}, nil)
	require.NoError(t, w.Write(recs))
	require.NoError(t, w.Close())

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{"Data", "Data_2"}, f.GetSheetList())
	first, err := f.GetRows("Data")
	require.NoError(t, err)
	require.Len(t, first, 2)
	second, err := f.GetRows("Data_2")
	require.NoError(t, err)
	require.Len(t, second, 2)
	assert.Equal(t, "102", second[1][0])

	col := 0
	for i, h := range first[0] {
		if h == "description" {
			col = i
		}
	}
	assert.Equal(t, strings.Repeat("x", 10), first[1][col])
}

func TestManager_WriteFile(t *testing.T) {
	m, err := NewManager(Config{Format: "csv"}, nil)
	require.NoError(t, err)
	assert.Equal(t, FormatCSV, m.Format())

	path := filepath.Join(t.TempDir(), "out", "products.csv")
	got, err := m.WriteFile(path, sampleRecords())
	require.NoError(t, err)
	assert.Equal(t, path, got)

	_, err = m.WriteFile("", nil)
	assert.Error(t, err)
}

func TestNewManager_RejectsUnknownFormat(t *testing.T) {
	_, err := NewManager(Config{Format: "xml"}, nil)
	assert.Error(t, err)
}
