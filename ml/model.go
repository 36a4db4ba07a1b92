package ml

import (
	"errors"
	"os"
	"path/filepath"
)

const (
	TypeDecisionTree = "decision_tree"
	TypeRandomForest = "random_forest"
)

var (
	ErrNotTrained    = errors.New("model not trained")
	ErrModelNotReady = errors.New("model not ready")
	ErrFeatureCount  = errors.New("unexpected feature count")
)

// Classifier is the read-only side used when serving predictions.
type Classifier interface {
	// Predict returns the class label and its probability.
	Predict(features []float64) (int, float64, error)
	PredictProba(features []float64) ([]float64, error)
}

type MLModel interface {
	Classifier
	Train(features [][]float64, labels []int) error
	Save(path string) error
	Load(path string) error
}

// writeFileAtomic replaces path in one rename so readers and file watchers
// never observe a half-written model.
func writeFileAtomic(path string, payload []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
