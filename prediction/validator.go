package prediction

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"diabetesml/dataset"
)

// ValidationError names every required feature that is absent.
type ValidationError struct {
	Missing []string
}

func (e *ValidationError) Error() string {
	return "Missing feature(s): " + strings.Join(e.Missing, ", ")
}

// ValueError reports a feature that is present but not numeric.
type ValueError struct {
	Feature string
	Value   any
	Row     int
}

func (e *ValueError) Error() string {
	if e.Row > 0 {
		return fmt.Sprintf("row %d: could not convert %s value %v to float", e.Row, e.Feature, e.Value)
	}
	return fmt.Sprintf("could not convert %s value %v to float", e.Feature, e.Value)
}

// ValidateRecord is a presence check only and returns rec unchanged.
func ValidateRecord(rec *dataset.Record, required []string) (*dataset.Record, error) {
	if rec == nil {
		return nil, &ValidationError{Missing: append([]string(nil), required...)}
	}
	if missing := missingFeatures(rec.Has, required); len(missing) > 0 {
		return nil, &ValidationError{Missing: missing}
	}
	return rec, nil
}

// ValidateColumns checks a CSV header against the required features.
func ValidateColumns(columns []string, required []string) error {
	present := make(map[string]bool, len(columns))
	for _, c := range columns {
		present[c] = true
	}
	has := func(name string) bool { return present[name] }
	if missing := missingFeatures(has, required); len(missing) > 0 {
		return &ValidationError{Missing: missing}
	}
	return nil
}

func missingFeatures(has func(string) bool, required []string) []string {
	var missing []string
	for _, feature := range required {
		if !has(feature) {
			missing = append(missing, feature)
		}
	}
	return missing
}

// FeatureVector pulls the required features out of rec in order. JSON
// numbers and numeric strings are accepted.
func FeatureVector(rec *dataset.Record, required []string) ([]float64, error) {
	vector := make([]float64, len(required))
	for i, feature := range required {
		value, _ := rec.Get(feature)
		v, ok := toFloat(value)
		if !ok {
			return nil, &ValueError{Feature: feature, Value: describe(value)}
		}
		vector[i] = v
	}
	return vector, nil
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func describe(value any) any {
	switch v := value.(type) {
	case nil:
		return "null"
	case string:
		return strconv.Quote(v)
	default:
		return v
	}
}
