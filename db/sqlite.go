package db

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var migrations embed.FS

// TrainingRun is one completed training of the served model.
type TrainingRun struct {
	ID         int64     `db:"id" json:"id"`
	ModelType  string    `db:"model_type" json:"model_type"`
	ModelPath  string    `db:"model_path" json:"model_path"`
	NumTrees   int       `db:"num_trees" json:"num_trees"`
	MaxDepth   int       `db:"max_depth" json:"max_depth"`
	Seed       int64     `db:"seed" json:"seed"`
	TrainRows  int       `db:"train_rows" json:"train_rows"`
	TestRows   int       `db:"test_rows" json:"test_rows"`
	Accuracy   float64   `db:"accuracy" json:"accuracy"`
	Precision  float64   `db:"precision" json:"precision"`
	Recall     float64   `db:"recall" json:"recall"`
	DurationMs int64     `db:"duration_ms" json:"duration_ms"`
	TrainedAt  time.Time `db:"trained_at" json:"trained_at"`
}

// Store keeps training history in SQLite.
type Store struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// Open connects to the SQLite file at path and brings the schema up to date.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database dir: %w", err)
	}
	database, err := sqlx.Connect("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	store := &Store{db: database, logger: logger}
	if err := store.migrate(); err != nil {
		database.Close()
		return nil, err
	}
	// SQLite allows a single writer.
	database.SetMaxOpenConns(1)
	logger.Info("Training store ready", zap.String("path", path))
	return store, nil
}

func (s *Store) migrate() error {
	source, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("failed to read migrations: %w", err)
	}
	driver, err := sqlite3.WithInstance(s.db.DB, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) RecordTrainingRun(ctx context.Context, run TrainingRun) (int64, error) {
	if run.TrainedAt.IsZero() {
		run.TrainedAt = time.Now()
	}
	run.TrainedAt = run.TrainedAt.UTC()

	res, err := s.db.NamedExecContext(ctx, `
		INSERT INTO training_runs (
			model_type, model_path, num_trees, max_depth, seed,
			train_rows, test_rows, accuracy, precision, recall,
			duration_ms, trained_at
		) VALUES (
			:model_type, :model_path, :num_trees, :max_depth, :seed,
			:train_rows, :test_rows, :accuracy, :precision, :recall,
			:duration_ms, :trained_at
		)`, run)
	if err != nil {
		return 0, fmt.Errorf("failed to record training run: %w", err)
	}
	return res.LastInsertId()
}

// ListTrainingRuns returns the newest runs first.
func (s *Store) ListTrainingRuns(ctx context.Context, limit int) ([]TrainingRun, error) {
	if limit <= 0 {
		limit = 20
	}
	runs := make([]TrainingRun, 0)
	err := s.db.SelectContext(ctx, &runs, `
		SELECT id, model_type, model_path, num_trees, max_depth, seed,
		       train_rows, test_rows, accuracy, precision, recall,
		       duration_ms, trained_at
		FROM training_runs
		ORDER BY trained_at DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list training runs: %w", err)
	}
	return runs, nil
}
