package dataset

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
)

// Dataset holds the training matrix in RequiredFeatures order with the
// binary outcome as labels.
type Dataset struct {
	Features [][]float64
	Labels   []int
}

func (d *Dataset) Len() int {
	return len(d.Labels)
}

// ParseRaw reads the header-less source file: eight features then outcome.
func ParseRaw(r io.Reader) (*Dataset, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = len(RequiredFeatures) + 1
	reader.TrimLeadingSpace = true

	ds := &Dataset{}
	line := 0
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse dataset: %w", err)
		}
		line++
		if err := ds.appendRow(record, line); err != nil {
			return nil, err
		}
	}
	if ds.Len() == 0 {
		return nil, errors.New("dataset is empty")
	}
	return ds, nil
}

// ReadFile loads the local copy written by WriteFile.
func ReadFile(path string) (*Dataset, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	table, err := ReadCSV(file)
	if err != nil {
		return nil, err
	}
	index := table.Index()
	positions := make([]int, 0, len(RequiredFeatures)+1)
	for _, name := range Columns() {
		pos, ok := index[name]
		if !ok {
			return nil, fmt.Errorf("dataset %s: missing column %s", path, name)
		}
		positions = append(positions, pos)
	}

	ds := &Dataset{}
	for i, row := range table.Rows {
		ordered := make([]string, len(positions))
		for j, pos := range positions {
			ordered[j] = row[pos]
		}
		if err := ds.appendRow(ordered, i+2); err != nil {
			return nil, fmt.Errorf("dataset %s: %w", path, err)
		}
	}
	if ds.Len() == 0 {
		return nil, fmt.Errorf("dataset %s is empty", path)
	}
	return ds, nil
}

// WriteFile stores the dataset with a header row, creating parent dirs.
func (d *Dataset) WriteFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	rows := make([][]string, len(d.Features))
	for i, features := range d.Features {
		row := make([]string, 0, len(features)+1)
		for _, v := range features {
			row = append(row, FormatFloat(v))
		}
		rows[i] = append(row, strconv.Itoa(d.Labels[i]))
	}

	tmp := path + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := WriteCSV(file, Columns(), rows); err != nil {
		file.Close()
		os.Remove(tmp)
		return err
	}
	if err := file.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func (d *Dataset) appendRow(record []string, line int) error {
	features := make([]float64, len(RequiredFeatures))
	for i := range RequiredFeatures {
		v, err := strconv.ParseFloat(strings.TrimSpace(record[i]), 64)
		if err != nil {
			return fmt.Errorf("line %d: column %s: %w", line, RequiredFeatures[i], err)
		}
		features[i] = v
	}
	outcome, err := strconv.ParseFloat(strings.TrimSpace(record[len(RequiredFeatures)]), 64)
	if err != nil {
		return fmt.Errorf("line %d: column %s: %w", line, OutcomeColumn, err)
	}
	d.Features = append(d.Features, features)
	d.Labels = append(d.Labels, int(math.Round(outcome)))
	return nil
}
