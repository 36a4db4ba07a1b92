package training

import (
	"context"
	"fmt"
	"sync"

	"diabetesml/ml"
	"diabetesml/monitoring"

	"go.uber.org/zap"
)

const (
	SourceDisk    = "disk"
	SourceTrained = "trained"
)

// LoadOrTrain loads the model file and falls back to training a new one.
// It returns the model and where it came from.
func LoadOrTrain(ctx context.Context, modelType, path string, trainer *Trainer, logger *zap.Logger) (ml.MLModel, string, error) {
	model, err := ml.LoadModel(modelType, path)
	if err == nil {
		logger.Info("Model loaded", zap.String("path", path))
		return model, SourceDisk, nil
	}
	logger.Warn("Failed to load model, training a new one", zap.String("path", path), zap.Error(err))

	if trainer == nil {
		return nil, "", fmt.Errorf("failed to load model: %w", err)
	}
	result, err := trainer.Train(ctx)
	if err != nil {
		return nil, "", err
	}
	return result.Model, SourceTrained, nil
}

// Manager owns the serving model: the first load, explicit reloads from disk
// and retraining. Swaps go through the holder so readers never block.
type Manager struct {
	modelType string
	path      string
	trainer   *Trainer
	holder    *ml.Holder
	health    *monitoring.Health
	logger    *zap.Logger

	// serialises reload and retrain
	mu sync.Mutex
}

func NewManager(trainer *Trainer, holder *ml.Holder, health *monitoring.Health, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := trainer.Config()
	return &Manager{
		modelType: cfg.ModelType,
		path:      cfg.ModelPath,
		trainer:   trainer,
		holder:    holder,
		health:    health,
		logger:    logger,
	}
}

func (m *Manager) ModelPath() string {
	return m.path
}

// Init loads or trains the first model. On failure the holder stays empty and
// the error is reported to health; the service keeps running.
func (m *Manager) Init(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	model, source, err := LoadOrTrain(ctx, m.modelType, m.path, m.trainer, m.logger)
	if err != nil {
		m.logger.Error("No model available", zap.Error(err))
		m.failed(err)
		return err
	}
	m.swap(model, source)
	return nil
}

// Reload replaces the serving model with the file on disk. The current model
// is kept if the file cannot be loaded.
func (m *Manager) Reload() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	model, err := ml.LoadModel(m.modelType, m.path)
	if err != nil {
		err = fmt.Errorf("failed to reload model: %w", err)
		m.logger.Warn("Reload failed", zap.Error(err))
		m.failed(err)
		return err
	}
	m.swap(model, SourceDisk)
	return nil
}

// Retrain trains a new model, persists it and swaps it in.
func (m *Manager) Retrain(ctx context.Context) (*Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	result, err := m.trainer.Train(ctx)
	if err != nil {
		m.logger.Error("Retrain failed", zap.Error(err))
		m.failed(err)
		return nil, err
	}
	m.swap(result.Model, SourceTrained)
	return result, nil
}

func (m *Manager) swap(model ml.Classifier, source string) {
	m.holder.Store(model)
	if m.health != nil {
		m.health.ModelLoaded(source)
	}
	m.logger.Info("Serving model swapped", zap.String("source", source))
}

func (m *Manager) failed(err error) {
	if m.health != nil {
		m.health.ModelFailed(err)
	}
}
