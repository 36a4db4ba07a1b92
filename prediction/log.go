package prediction

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"sync"

	"diabetesml/dataset"
)

// RealtimeLog appends one CSV row per served prediction. The header is
// written only when the file is new or empty.
type RealtimeLog struct {
	path    string
	columns []string
	mu      sync.Mutex
}

func NewRealtimeLog(path string, columns []string) *RealtimeLog {
	return &RealtimeLog{path: path, columns: columns}
}

func (l *RealtimeLog) Path() string {
	return l.path
}

func (l *RealtimeLog) Append(row []string) (err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return err
	}
	file, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := file.Close(); err == nil {
			err = cerr
		}
	}()

	info, err := file.Stat()
	if err != nil {
		return err
	}

	writer := csv.NewWriter(file)
	if info.Size() == 0 {
		if err := writer.Write(l.columns); err != nil {
			return err
		}
	}
	if err := writer.Write(row); err != nil {
		return err
	}
	writer.Flush()
	return writer.Error()
}

// BatchWriter overwrites the batch output file on every call.
type BatchWriter struct {
	path string
}

func NewBatchWriter(path string) *BatchWriter {
	return &BatchWriter{path: path}
}

func (b *BatchWriter) Path() string {
	return b.path
}

func (b *BatchWriter) Write(columns []string, rows [][]string) error {
	if err := os.MkdirAll(filepath.Dir(b.path), 0o755); err != nil {
		return err
	}
	file, err := os.Create(b.path)
	if err != nil {
		return err
	}
	if err := dataset.WriteCSV(file, columns, rows); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}
