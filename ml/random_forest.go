package ml

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"os"
	"time"
)

// RandomForest averages the class distributions of bootstrap-trained trees.
// Training is reproducible for a given Seed.
type RandomForest struct {
	NumTrees    int
	MaxDepth    int
	MaxFeatures int
	Seed        int64

	FeatureNames []string
	Accuracy     float64
	TrainedAt    time.Time

	trees       []*DecisionTree
	numClasses  int
	numFeatures int
}

type forestFile struct {
	Type         string     `json:"type"`
	NumTrees     int        `json:"num_trees"`
	MaxDepth     int        `json:"max_depth"`
	MaxFeatures  int        `json:"max_features"`
	Seed         int64      `json:"seed"`
	NumClasses   int        `json:"num_classes"`
	NumFeatures  int        `json:"num_features"`
	FeatureNames []string   `json:"feature_names,omitempty"`
	Accuracy     float64    `json:"accuracy"`
	TrainedAt    time.Time  `json:"trained_at"`
	Trees        []treeFile `json:"trees"`
}

func NewRandomForest(numTrees, maxDepth int, seed int64) *RandomForest {
	return &RandomForest{NumTrees: numTrees, MaxDepth: maxDepth, Seed: seed}
}

func (rf *RandomForest) Train(features [][]float64, labels []int) error {
	if err := checkTrainingSet(features, labels); err != nil {
		return err
	}
	if rf.NumTrees <= 0 {
		rf.NumTrees = 100
	}

	rf.numFeatures = len(features[0])
	rf.numClasses = numClasses(labels)
	maxFeatures := rf.MaxFeatures
	if maxFeatures <= 0 {
		maxFeatures = int(math.Sqrt(float64(rf.numFeatures)))
		if maxFeatures < 1 {
			maxFeatures = 1
		}
	}

	rng := rand.New(rand.NewSource(rf.Seed))
	n := len(labels)
	trees := make([]*DecisionTree, rf.NumTrees)
	for t := range trees {
		treeRng := rand.New(rand.NewSource(rng.Int63()))
		sample := make([]int, n)
		for i := range sample {
			sample[i] = treeRng.Intn(n)
		}
		tree := &DecisionTree{MaxDepth: rf.MaxDepth, MaxFeatures: maxFeatures}
		tree.fit(features, labels, sample, rf.numClasses, treeRng)
		trees[t] = tree
	}
	rf.trees = trees
	rf.TrainedAt = time.Now().UTC()
	return nil
}

func (rf *RandomForest) Predict(features []float64) (int, float64, error) {
	proba, err := rf.PredictProba(features)
	if err != nil {
		return 0, 0, err
	}
	label := argmax(proba)
	return label, proba[label], nil
}

func (rf *RandomForest) PredictProba(features []float64) ([]float64, error) {
	if len(rf.trees) == 0 {
		return nil, ErrNotTrained
	}
	if len(features) != rf.numFeatures {
		return nil, fmt.Errorf("%w: expected %d, got %d", ErrFeatureCount, rf.numFeatures, len(features))
	}
	proba := make([]float64, rf.numClasses)
	for _, tree := range rf.trees {
		dist, err := tree.leafDistribution(features)
		if err != nil {
			return nil, err
		}
		for i, p := range dist {
			proba[i] += p
		}
	}
	for i := range proba {
		proba[i] /= float64(len(rf.trees))
	}
	return proba, nil
}

func (rf *RandomForest) Save(path string) error {
	if len(rf.trees) == 0 {
		return ErrNotTrained
	}
	file := forestFile{
		Type:         TypeRandomForest,
		NumTrees:     len(rf.trees),
		MaxDepth:     rf.MaxDepth,
		MaxFeatures:  rf.MaxFeatures,
		Seed:         rf.Seed,
		NumClasses:   rf.numClasses,
		NumFeatures:  rf.numFeatures,
		FeatureNames: rf.FeatureNames,
		Accuracy:     rf.Accuracy,
		TrainedAt:    rf.TrainedAt,
		Trees:        make([]treeFile, len(rf.trees)),
	}
	for i, tree := range rf.trees {
		file.Trees[i] = tree.snapshot()
	}
	payload, err := json.Marshal(file)
	if err != nil {
		return err
	}
	return writeFileAtomic(path, payload)
}

func (rf *RandomForest) Load(path string) error {
	payload, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var file forestFile
	if err := json.Unmarshal(payload, &file); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	if file.Type != TypeRandomForest {
		return fmt.Errorf("%s holds a %q model, want %q", path, file.Type, TypeRandomForest)
	}
	if len(file.Trees) == 0 {
		return errors.New("model file has no trees")
	}
	if file.NumClasses < 2 || file.NumFeatures < 1 {
		return fmt.Errorf("model file has invalid shape: %d classes, %d features", file.NumClasses, file.NumFeatures)
	}

	trees := make([]*DecisionTree, len(file.Trees))
	for i, tf := range file.Trees {
		tree := &DecisionTree{}
		if err := tree.restore(tf); err != nil {
			return fmt.Errorf("tree %d: %w", i, err)
		}
		if tree.numFeatures != file.NumFeatures || tree.numClasses != file.NumClasses {
			return fmt.Errorf("tree %d does not match forest shape", i)
		}
		trees[i] = tree
	}

	rf.NumTrees = file.NumTrees
	rf.MaxDepth = file.MaxDepth
	rf.MaxFeatures = file.MaxFeatures
	rf.Seed = file.Seed
	rf.FeatureNames = file.FeatureNames
	rf.Accuracy = file.Accuracy
	rf.TrainedAt = file.TrainedAt
	rf.numClasses = file.NumClasses
	rf.numFeatures = file.NumFeatures
	rf.trees = trees
	return nil
}
