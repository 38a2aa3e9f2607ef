package logfile

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/smartbiofloc/biofloc/pkg/types"
)

// ColumnTimestamp is the optional column carried into Row.Timestamp.
const ColumnTimestamp = "timestamp"

// ErrUnsupportedFormat is returned by Read for file extensions other than
// .csv and .xlsx.
var ErrUnsupportedFormat = errors.New("logfile: unsupported file format")

// ErrEmpty is returned when the table has no header row.
var ErrEmpty = errors.New("logfile: no header row")

// Row is one replayable data row.
type Row struct {
	// Line is the 1-based row number in the source table, header included,
	// so it matches what a spreadsheet shows.
	Line int

	// Timestamp is the raw timestamp cell, or "" when the column is absent.
	Timestamp string

	Reading types.Reading
}

// RowError describes a data row that could not be turned into a Reading.
type RowError struct {
	Line   int
	Column string
	Value  string
}

func (e RowError) Error() string {
	return fmt.Sprintf("line %d: column %s: %q is not a number", e.Line, e.Column, e.Value)
}

// Log is the parsed content of one log file.
type Log struct {
	Rows    []Row
	Skipped []RowError
}

// Read opens path and parses it according to its extension.
func Read(path string) (*Log, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("logfile: %w", err)
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return ReadCSV(f)
	case ".xlsx":
		return ReadXLSX(f)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(path))
	}
}

// ReadCSV parses a comma-separated log. Rows may have fewer fields than the
// header; missing trailing cells read as blank.
func ReadCSV(r io.Reader) (*Log, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var (
		records [][]string
		lines   []int
	)
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("logfile: parse csv: %w", err)
		}
		line, _ := cr.FieldPos(0)
		records = append(records, rec)
		lines = append(lines, line)
	}
	return fromRecords(records, lines)
}

// ReadXLSX parses the first sheet of an Excel workbook.
func ReadXLSX(r io.Reader) (*Log, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("logfile: open xlsx: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrEmpty
	}
	rows, err := f.GetRows(sheets[0], excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("logfile: read sheet %q: %w", sheets[0], err)
	}
	return fromRecords(rows, nil)
}

// fromRecords maps the header, then converts every non-blank data row.
// lines holds the source line of each record; nil means records[i] sits on
// line i+1.
func fromRecords(records [][]string, lines []int) (*Log, error) {
	lineOf := func(i int) int {
		if lines == nil {
			return i + 1
		}
		return lines[i]
	}

	start := 0
	for start < len(records) && blank(records[start]) {
		start++
	}
	if start == len(records) {
		return nil, ErrEmpty
	}

	index := make(map[string]int, len(records[start]))
	for i, name := range records[start] {
		key := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))
		if _, dup := index[key]; !dup {
			index[key] = i
		}
	}
	for _, f := range types.Features {
		if _, ok := index[string(f)]; !ok {
			return nil, fmt.Errorf("logfile: missing column %q", f)
		}
	}
	tsCol, hasTS := index[ColumnTimestamp]

	log := &Log{Rows: []Row{}, Skipped: []RowError{}}
	for i := start + 1; i < len(records); i++ {
		rec := records[i]
		if blank(rec) {
			continue
		}
		row := Row{Line: lineOf(i)}
		if hasTS {
			row.Timestamp = cell(rec, tsCol)
		}

		var rowErr *RowError
		for _, f := range types.Features {
			raw := cell(rec, index[string(f)])
			v, ok := parseCell(raw)
			if !ok {
				rowErr = &RowError{Line: lineOf(i), Column: string(f), Value: raw}
				break
			}
			row.Reading.Set(f, v)
		}
		if rowErr != nil {
			log.Skipped = append(log.Skipped, *rowErr)
			continue
		}
		log.Rows = append(log.Rows, row)
	}
	return log, nil
}

// parseCell converts a cell to a finite float. A blank cell is 0.
func parseCell(raw string) (float64, bool) {
	if raw == "" {
		return 0, true
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

func cell(rec []string, i int) string {
	if i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}

func blank(rec []string) bool {
	for _, c := range rec {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
