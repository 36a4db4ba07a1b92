package ml

import (
	"fmt"
)

// NewModel returns an untrained model of the given type.
func NewModel(modelType string, numTrees, maxDepth int, seed int64) (MLModel, error) {
	switch modelType {
	case TypeRandomForest, "":
		return NewRandomForest(numTrees, maxDepth, seed), nil
	case TypeDecisionTree:
		return NewDecisionTree(maxDepth), nil
	default:
		return nil, fmt.Errorf("unsupported model type %q", modelType)
	}
}

func LoadModel(modelType, path string) (MLModel, error) {
	model, err := NewModel(modelType, 0, 0, 0)
	if err != nil {
		return nil, err
	}
	if err := model.Load(path); err != nil {
		return nil, err
	}
	return model, nil
}
