package training

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const DefaultWatchDebounce = 500 * time.Millisecond

// Reloader is satisfied by Manager.
type Reloader interface {
	Reload() error
}

// WatchModel reloads the serving model whenever the model file is replaced
// on disk, until ctx is done. The parent directory is watched because the
// model is written with a rename.
func WatchModel(ctx context.Context, path string, reloader Reloader, debounce time.Duration, logger *zap.Logger) error {
	if debounce <= 0 {
		debounce = DefaultWatchDebounce
	}
	target, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create model dir: %w", err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	logger.Info("Watching model file", zap.String("path", target))

	timer := time.NewTimer(debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			timer.Reset(debounce)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Warn("Model watcher error", zap.Error(err))
		case <-timer.C:
			logger.Info("Model file changed, reloading", zap.String("path", target))
			if err := reloader.Reload(); err != nil {
				logger.Warn("Model reload after change failed", zap.Error(err))
			}
		}
	}
}
