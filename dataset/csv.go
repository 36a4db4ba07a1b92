package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

var ErrEmptyCSV = errors.New("no columns to parse from file")

// Table is a parsed CSV file with a header row.
type Table struct {
	Columns []string
	Rows    [][]string
}

// ReadCSV parses a headed CSV. A UTF-8 or UTF-16 byte order mark, as written
// by spreadsheet exports, is detected and stripped.
func ReadCSV(r io.Reader) (*Table, error) {
	decoded := transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder()))
	reader := csv.NewReader(decoded)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrEmptyCSV
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	columns := make([]string, len(header))
	for i, name := range header {
		columns[i] = strings.TrimSpace(name)
	}

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV rows: %w", err)
	}
	return &Table{Columns: columns, Rows: rows}, nil
}

// WriteCSV writes a header row followed by rows.
func WriteCSV(w io.Writer, columns []string, rows [][]string) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(columns); err != nil {
		return err
	}
	if err := writer.WriteAll(rows); err != nil {
		return err
	}
	return writer.Error()
}

// Index returns the position of each column by name.
func (t *Table) Index() map[string]int {
	index := make(map[string]int, len(t.Columns))
	for i, name := range t.Columns {
		if _, dup := index[name]; !dup {
			index[name] = i
		}
	}
	return index
}
