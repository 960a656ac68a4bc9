package source

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/ethpandaops/dqc/pkg/backend/memory"
)

// ErrNoHeader is returned when a file has no header row
var ErrNoHeader = errors.New("file has no header row")

// ReadCSV reads a CSV batch. The first record names the columns.
func ReadCSV(r io.Reader, batchID string, opts ...memory.Option) (*memory.Table, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV: %w", err)
	}

	return fromRecords(batchID, records, opts...)
}

// ReadXLSX reads a sheet of a workbook, the first sheet when sheet is empty.
func ReadXLSX(r io.Reader, sheet, batchID string, opts ...memory.Option) (*memory.Table, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	if sheet == "" {
		sheet = f.GetSheetName(0)
	}

	records, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %s: %w", sheet, err)
	}

	return fromRecords(batchID, records, opts...)
}

// fromRecords builds a table from string records. Short rows, which
// spreadsheets produce for trailing empty cells, are padded with nulls.
func fromRecords(batchID string, records [][]string, opts ...memory.Option) (*memory.Table, error) {
	if len(records) == 0 {
		return nil, ErrNoHeader
	}

	columns := make([]string, len(records[0]))
	for i, header := range records[0] {
		columns[i] = strings.TrimSpace(header)
	}

	rows := make([][]any, 0, len(records)-1)

	for i, record := range records[1:] {
		if len(record) > len(columns) {
			return nil, fmt.Errorf("%w: row %d has %d cells, expected %d",
				memory.ErrColumnLength, i, len(record), len(columns))
		}

		row := make([]any, len(columns))
		for j, cell := range record {
			row[j] = ParseCell(cell)
		}

		rows = append(rows, row)
	}

	return memory.FromRows(batchID, columns, rows, opts...)
}

// ParseCell types a textual cell: empty is null, then int, finite float and
// bool are tried before falling back to the trimmed string.
func ParseCell(cell string) any {
	s := strings.TrimSpace(cell)
	if s == "" {
		return nil
	}

	if i, err := strconv.Atoi(s); err == nil {
		return i
	}

	if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
		return f
	}

	switch strings.ToLower(s) {
	case "true":
		return true
	case "false":
		return false
	}

	return s
}
