package training

import (
	"context"
	"errors"
	"fmt"
	"time"

	"diabetesml/dataset"
	"diabetesml/db"
	"diabetesml/ml"

	"go.uber.org/zap"
)

type Config struct {
	ModelType string
	ModelPath string
	NumTrees  int
	MaxDepth  int
	Seed      int64
	TestRatio float64
}

// DatasetSource supplies the training data, downloading it when needed.
type DatasetSource interface {
	LoadOrFetch(ctx context.Context) (*dataset.Dataset, error)
}

// RunRecorder persists a summary of every completed training.
type RunRecorder interface {
	RecordTrainingRun(ctx context.Context, run db.TrainingRun) (int64, error)
}

type Result struct {
	Model     ml.MLModel    `json:"-"`
	Metrics   ml.Metrics    `json:"metrics"`
	TrainRows int           `json:"train_rows"`
	TestRows  int           `json:"test_rows"`
	Duration  time.Duration `json:"duration_ns"`
	TrainedAt time.Time     `json:"trained_at"`
	ModelPath string        `json:"model_path"`
}

type Trainer struct {
	config   Config
	source   DatasetSource
	recorder RunRecorder
	logger   *zap.Logger
}

// NewTrainer returns a trainer. recorder may be nil.
func NewTrainer(config Config, source DatasetSource, recorder RunRecorder, logger *zap.Logger) *Trainer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Trainer{config: config, source: source, recorder: recorder, logger: logger}
}

func (t *Trainer) Config() Config {
	return t.config
}

// Train fits a fresh model, reports its holdout metrics and overwrites the
// model file. Metrics are informational and never block persistence.
func (t *Trainer) Train(ctx context.Context) (*Result, error) {
	if t.config.ModelPath == "" {
		return nil, errors.New("model path is required")
	}
	start := time.Now()

	data, err := t.source.LoadOrFetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load dataset: %w", err)
	}
	if data.Len() == 0 {
		return nil, errors.New("dataset is empty")
	}

	trainX, trainY, testX, testY := ml.TrainTestSplit(data.Features, data.Labels, t.config.TestRatio, t.config.Seed)
	if len(trainX) == 0 {
		return nil, errors.New("no rows left for training")
	}

	model, err := ml.NewModel(t.config.ModelType, t.config.NumTrees, t.config.MaxDepth, t.config.Seed)
	if err != nil {
		return nil, err
	}
	if err := model.Train(trainX, trainY); err != nil {
		return nil, fmt.Errorf("failed to train model: %w", err)
	}

	var metrics ml.Metrics
	if len(testX) > 0 {
		metrics, err = ml.Evaluate(model, testX, testY)
		if err != nil {
			return nil, fmt.Errorf("failed to evaluate model: %w", err)
		}
	}
	if rf, ok := model.(*ml.RandomForest); ok {
		rf.Accuracy = metrics.Accuracy
		rf.FeatureNames = dataset.FeatureNames()
	}
	t.logger.Info("Model trained",
		zap.String("type", t.config.ModelType),
		zap.Int("train_rows", len(trainX)),
		zap.Int("test_rows", len(testX)),
		zap.Float64("accuracy", metrics.Accuracy),
		zap.Float64("precision", metrics.Precision),
		zap.Float64("recall", metrics.Recall),
	)

	if err := model.Save(t.config.ModelPath); err != nil {
		return nil, fmt.Errorf("failed to save model: %w", err)
	}

	result := &Result{
		Model:     model,
		Metrics:   metrics,
		TrainRows: len(trainX),
		TestRows:  len(testX),
		Duration:  time.Since(start),
		TrainedAt: time.Now(),
		ModelPath: t.config.ModelPath,
	}
	t.record(ctx, result)
	return result, nil
}

func (t *Trainer) record(ctx context.Context, result *Result) {
	if t.recorder == nil {
		return
	}
	run := db.TrainingRun{
		ModelType:  t.config.ModelType,
		ModelPath:  t.config.ModelPath,
		NumTrees:   t.config.NumTrees,
		MaxDepth:   t.config.MaxDepth,
		Seed:       t.config.Seed,
		TrainRows:  result.TrainRows,
		TestRows:   result.TestRows,
		Accuracy:   result.Metrics.Accuracy,
		Precision:  result.Metrics.Precision,
		Recall:     result.Metrics.Recall,
		DurationMs: result.Duration.Milliseconds(),
		TrainedAt:  result.TrainedAt,
	}
	if _, err := t.recorder.RecordTrainingRun(ctx, run); err != nil {
		t.logger.Warn("Failed to record training run", zap.Error(err))
	}
}
