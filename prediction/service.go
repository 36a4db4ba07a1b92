package prediction

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"diabetesml/dataset"
	"diabetesml/ml"
	"diabetesml/monitoring"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Result is one served single prediction.
type Result struct {
	ID            string          `json:"id"`
	Prediction    int             `json:"prediction"`
	Probabilities []float64       `json:"probabilities"`
	Input         *dataset.Record `json:"input"`
	Record        *dataset.Record `json:"record"`
	CreatedAt     time.Time       `json:"created_at"`
}

func (r *Result) probability(class int) float64 {
	if class < len(r.Probabilities) {
		return r.Probabilities[class]
	}
	return 0
}

// ProbabilityNoDiabetes is P(class 0) rendered as a two-decimal percentage.
func (r *Result) ProbabilityNoDiabetes() string {
	return FormatPercent(r.probability(0))
}

// ProbabilityDiabetes is P(class 1) rendered as a two-decimal percentage.
func (r *Result) ProbabilityDiabetes() string {
	return FormatPercent(r.probability(1))
}

func FormatPercent(p float64) string {
	return fmt.Sprintf("%.2f%%", p*100)
}

// ModelSource hands out the currently serving model.
type ModelSource interface {
	Get() (ml.Classifier, error)
}

// Service runs predictions against the serving model and records them.
type Service struct {
	models   ModelSource
	log      *RealtimeLog
	batch    *BatchWriter
	history  *History
	health   *monitoring.Health
	logger   *zap.Logger
	features []string
}

// NewService wires the prediction path. log, batch, history and health are
// optional.
func NewService(models ModelSource, log *RealtimeLog, batch *BatchWriter, history *History, health *monitoring.Health, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		models:   models,
		log:      log,
		batch:    batch,
		history:  history,
		health:   health,
		logger:   logger,
		features: dataset.FeatureNames(),
	}
}

func (s *Service) History() *History {
	return s.history
}

// Predict validates rec, runs the model and appends the outcome to the
// real-time log. rec is not modified.
func (s *Service) Predict(ctx context.Context, rec *dataset.Record) (*Result, error) {
	if _, err := ValidateRecord(rec, s.features); err != nil {
		return nil, err
	}
	vector, err := FeatureVector(rec, s.features)
	if err != nil {
		return nil, err
	}
	model, err := s.models.Get()
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	label, _, err := model.Predict(vector)
	if err != nil {
		return nil, err
	}
	proba, err := model.PredictProba(vector)
	if err != nil {
		return nil, err
	}

	record := rec.Clone()
	record.Set(dataset.PredictionColumn, label)

	result := &Result{
		ID:            uuid.NewString(),
		Prediction:    label,
		Probabilities: proba,
		Input:         rec.Clone(),
		Record:        record,
		CreatedAt:     time.Now(),
	}

	s.appendLog(record)
	if s.history != nil {
		s.history.Add(result)
	}
	if s.health != nil {
		s.health.PredictionServed(1, false)
	}
	return result, nil
}

// PredictBatch scores every row of an uploaded CSV. The returned records
// keep the file's column order followed by Prediction.
func (s *Service) PredictBatch(ctx context.Context, r io.Reader) ([]*dataset.Record, error) {
	table, err := dataset.ReadCSV(r)
	if err != nil {
		return nil, err
	}
	if err := ValidateColumns(table.Columns, s.features); err != nil {
		return nil, err
	}
	model, err := s.models.Get()
	if err != nil {
		return nil, err
	}

	index := table.Index()
	records := make([]*dataset.Record, 0, len(table.Rows))
	outRows := make([][]string, 0, len(table.Rows))
	for i, row := range table.Rows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		vector := make([]float64, len(s.features))
		for j, feature := range s.features {
			cell := cellAt(row, index[feature])
			v, ok := toFloat(cell)
			if !ok {
				return nil, &ValueError{Feature: feature, Value: describe(cell), Row: i + 1}
			}
			vector[j] = v
		}
		label, _, err := model.Predict(vector)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+1, err)
		}

		rec := dataset.NewRecord()
		out := make([]string, 0, len(table.Columns)+1)
		for c, column := range table.Columns {
			cell := cellAt(row, c)
			rec.Set(column, dataset.CellValue(cell))
			out = append(out, cell)
		}
		rec.Set(dataset.PredictionColumn, label)
		out = append(out, fmt.Sprint(label))

		records = append(records, rec)
		outRows = append(outRows, out)
	}

	if s.batch != nil {
		columns := append(append([]string(nil), table.Columns...), dataset.PredictionColumn)
		if err := s.batch.Write(columns, outRows); err != nil {
			s.logWriteFailed("batch output", s.batch.Path(), err)
		}
	}
	if s.health != nil {
		s.health.PredictionServed(len(records), true)
	}
	s.logger.Info("Batch prediction served", zap.Int("rows", len(records)))
	return records, nil
}

func (s *Service) appendLog(record *dataset.Record) {
	if s.log == nil {
		return
	}
	row := make([]string, 0, len(s.features)+1)
	for _, feature := range s.features {
		value, _ := record.Get(feature)
		row = append(row, cellText(value))
	}
	value, _ := record.Get(dataset.PredictionColumn)
	row = append(row, cellText(value))
	if err := s.log.Append(row); err != nil {
		s.logWriteFailed("prediction log", s.log.Path(), err)
	}
}

func (s *Service) logWriteFailed(what, path string, err error) {
	s.logger.Warn("Failed to write "+what, zap.String("path", path), zap.Error(err))
	if s.health != nil {
		s.health.LogWriteFailed(err)
	}
}

func cellAt(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return row[i]
}

func cellText(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case json.Number:
		return v.String()
	case float64:
		return dataset.FormatFloat(v)
	default:
		return fmt.Sprint(v)
	}
}
