package dataset

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"
)

// Fetcher downloads the Pima Indians diabetes dataset once and keeps a local
// copy at Path.
type Fetcher struct {
	URL    string
	Path   string
	client *http.Client
	logger *zap.Logger
}

func NewFetcher(url, path string, timeout time.Duration, logger *zap.Logger) *Fetcher {
	return &Fetcher{
		URL:    url,
		Path:   path,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// Fetch always downloads, then overwrites the local copy.
func (f *Fetcher) Fetch(ctx context.Context) (*Dataset, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.URL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download dataset: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("failed to download dataset: unexpected status %s", resp.Status)
	}

	ds, err := ParseRaw(resp.Body)
	if err != nil {
		return nil, err
	}
	if err := ds.WriteFile(f.Path); err != nil {
		return nil, fmt.Errorf("failed to save dataset: %w", err)
	}

	f.logger.Info("Dataset downloaded",
		zap.String("url", f.URL),
		zap.String("path", f.Path),
		zap.Int("rows", ds.Len()))
	return ds, nil
}

// LoadOrFetch prefers the local copy and only downloads when it is absent.
func (f *Fetcher) LoadOrFetch(ctx context.Context) (*Dataset, error) {
	ds, err := ReadFile(f.Path)
	if err == nil {
		f.logger.Debug("Dataset loaded from disk", zap.String("path", f.Path), zap.Int("rows", ds.Len()))
		return ds, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	return f.Fetch(ctx)
}

// Exists reports whether the local copy is present.
func (f *Fetcher) Exists() bool {
	_, err := os.Stat(f.Path)
	return err == nil
}
