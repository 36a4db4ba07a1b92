package ml

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"os"
	"sort"
)

// DecisionTree is a CART classifier stored as a flat node slice. Leaves keep
// the class distribution of the samples that reached them.
type DecisionTree struct {
	MaxDepth        int
	MaxFeatures     int
	MinSamplesSplit int

	nodes       []TreeNode
	numClasses  int
	numFeatures int
}

type TreeNode struct {
	FeatureIdx   int       `json:"feature_idx"`
	Threshold    float64   `json:"threshold"`
	LeftChild    int       `json:"left_child"`
	RightChild   int       `json:"right_child"`
	ClassLabel   int       `json:"class_label"`
	IsLeaf       bool      `json:"is_leaf"`
	Distribution []float64 `json:"distribution"`
}

type treeFile struct {
	Type        string     `json:"type"`
	MaxDepth    int        `json:"max_depth"`
	NumClasses  int        `json:"num_classes"`
	NumFeatures int        `json:"num_features"`
	Nodes       []TreeNode `json:"nodes"`
}

// NewDecisionTree returns a tree limited to maxDepth levels; 0 means unbounded.
func NewDecisionTree(maxDepth int) *DecisionTree {
	return &DecisionTree{MaxDepth: maxDepth}
}

func (dt *DecisionTree) Train(features [][]float64, labels []int) error {
	if err := checkTrainingSet(features, labels); err != nil {
		return err
	}
	indices := make([]int, len(labels))
	for i := range indices {
		indices[i] = i
	}
	dt.fit(features, labels, indices, numClasses(labels), nil)
	return nil
}

// fit grows the tree on the given sample indices, which may repeat for
// bootstrap samples. With rng set, each split only looks at MaxFeatures
// randomly chosen features.
func (dt *DecisionTree) fit(features [][]float64, labels []int, indices []int, classes int, rng *rand.Rand) {
	dt.numClasses = classes
	dt.numFeatures = len(features[0])
	dt.nodes = dt.nodes[:0]
	dt.grow(features, labels, indices, 0, rng)
}

func (dt *DecisionTree) grow(features [][]float64, labels []int, indices []int, depth int, rng *rand.Rand) int {
	dist := distribution(labels, indices, dt.numClasses)
	label := argmax(dist)
	nodeIdx := len(dt.nodes)
	dt.nodes = append(dt.nodes, TreeNode{
		FeatureIdx:   -1,
		LeftChild:    -1,
		RightChild:   -1,
		ClassLabel:   label,
		IsLeaf:       true,
		Distribution: dist,
	})

	minSplit := dt.MinSamplesSplit
	if minSplit < 2 {
		minSplit = 2
	}
	if (dt.MaxDepth > 0 && depth >= dt.MaxDepth) || len(indices) < minSplit || isPure(dist) {
		return nodeIdx
	}

	feature, threshold, ok := dt.findBestSplit(features, labels, indices, rng)
	if !ok {
		return nodeIdx
	}
	left, right := partition(features, indices, feature, threshold)
	if len(left) == 0 || len(right) == 0 {
		return nodeIdx
	}

	leftIdx := dt.grow(features, labels, left, depth+1, rng)
	rightIdx := dt.grow(features, labels, right, depth+1, rng)

	node := &dt.nodes[nodeIdx]
	node.FeatureIdx = feature
	node.Threshold = threshold
	node.LeftChild = leftIdx
	node.RightChild = rightIdx
	node.IsLeaf = false
	return nodeIdx
}

func (dt *DecisionTree) Predict(features []float64) (int, float64, error) {
	dist, err := dt.leafDistribution(features)
	if err != nil {
		return 0, 0, err
	}
	label := argmax(dist)
	return label, dist[label], nil
}

func (dt *DecisionTree) PredictProba(features []float64) ([]float64, error) {
	dist, err := dt.leafDistribution(features)
	if err != nil {
		return nil, err
	}
	return append([]float64(nil), dist...), nil
}

func (dt *DecisionTree) leafDistribution(features []float64) ([]float64, error) {
	if len(dt.nodes) == 0 {
		return nil, ErrNotTrained
	}
	if len(features) != dt.numFeatures {
		return nil, fmt.Errorf("%w: expected %d, got %d", ErrFeatureCount, dt.numFeatures, len(features))
	}
	idx := 0
	for {
		node := dt.nodes[idx]
		if node.IsLeaf {
			return node.Distribution, nil
		}
		if node.FeatureIdx < 0 || node.FeatureIdx >= len(features) {
			return nil, errors.New("feature index out of range")
		}
		if features[node.FeatureIdx] <= node.Threshold {
			idx = node.LeftChild
		} else {
			idx = node.RightChild
		}
		if idx < 0 || idx >= len(dt.nodes) {
			return nil, errors.New("invalid tree state")
		}
	}
}

func (dt *DecisionTree) Save(path string) error {
	if len(dt.nodes) == 0 {
		return ErrNotTrained
	}
	payload, err := json.Marshal(dt.snapshot())
	if err != nil {
		return err
	}
	return writeFileAtomic(path, payload)
}

func (dt *DecisionTree) Load(path string) error {
	payload, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var file treeFile
	if err := json.Unmarshal(payload, &file); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	if file.Type != "" && file.Type != TypeDecisionTree {
		return fmt.Errorf("%s holds a %s model", path, file.Type)
	}
	return dt.restore(file)
}

func (dt *DecisionTree) snapshot() treeFile {
	return treeFile{
		Type:        TypeDecisionTree,
		MaxDepth:    dt.MaxDepth,
		NumClasses:  dt.numClasses,
		NumFeatures: dt.numFeatures,
		Nodes:       dt.nodes,
	}
}

func (dt *DecisionTree) restore(file treeFile) error {
	if len(file.Nodes) == 0 {
		return ErrNotTrained
	}
	if file.NumClasses < 2 {
		return fmt.Errorf("model has %d classes, want at least 2", file.NumClasses)
	}
	if file.NumFeatures < 1 {
		return fmt.Errorf("model has %d features, want at least 1", file.NumFeatures)
	}
	for i, node := range file.Nodes {
		if len(node.Distribution) != file.NumClasses {
			return fmt.Errorf("node %d: distribution has %d classes, want %d", i, len(node.Distribution), file.NumClasses)
		}
		if node.IsLeaf {
			if !validDistribution(node.Distribution) {
				return fmt.Errorf("node %d: leaf has an empty distribution", i)
			}
			continue
		}
		if node.FeatureIdx < 0 || node.FeatureIdx >= file.NumFeatures {
			return fmt.Errorf("node %d: feature index %d out of range", i, node.FeatureIdx)
		}
		if node.LeftChild <= i || node.RightChild <= i || node.LeftChild >= len(file.Nodes) || node.RightChild >= len(file.Nodes) {
			return fmt.Errorf("node %d: invalid children", i)
		}
	}
	dt.MaxDepth = file.MaxDepth
	dt.numClasses = file.NumClasses
	dt.numFeatures = file.NumFeatures
	dt.nodes = file.Nodes
	return nil
}

func (dt *DecisionTree) findBestSplit(features [][]float64, labels []int, indices []int, rng *rand.Rand) (int, float64, bool) {
	candidates := candidateFeatures(dt.numFeatures, dt.MaxFeatures, rng)

	bestFeature := -1
	bestThreshold := 0.0
	bestImpurity := 0.0

	type sample struct {
		value float64
		label int
	}
	samples := make([]sample, len(indices))
	total := make([]float64, dt.numClasses)
	for _, i := range indices {
		total[labels[i]]++
	}
	n := float64(len(indices))

	for _, featureIdx := range candidates {
		for k, i := range indices {
			samples[k] = sample{value: features[i][featureIdx], label: labels[i]}
		}
		sort.Slice(samples, func(a, b int) bool { return samples[a].value < samples[b].value })

		leftCounts := make([]float64, dt.numClasses)
		for k := 0; k < len(samples)-1; k++ {
			leftCounts[samples[k].label]++
			if samples[k].value == samples[k+1].value {
				continue
			}
			leftN := float64(k + 1)
			rightN := n - leftN
			impurity := (leftN/n)*giniCounts(leftCounts, leftN) + (rightN/n)*giniRemainder(total, leftCounts, rightN)
			if bestFeature == -1 || impurity < bestImpurity {
				bestImpurity = impurity
				bestFeature = featureIdx
				bestThreshold = (samples[k].value + samples[k+1].value) / 2
			}
		}
	}
	if bestFeature == -1 {
		return -1, 0, false
	}
	return bestFeature, bestThreshold, true
}

func candidateFeatures(numFeatures, maxFeatures int, rng *rand.Rand) []int {
	if rng == nil || maxFeatures <= 0 || maxFeatures >= numFeatures {
		all := make([]int, numFeatures)
		for i := range all {
			all[i] = i
		}
		return all
	}
	return rng.Perm(numFeatures)[:maxFeatures]
}

func partition(features [][]float64, indices []int, featureIdx int, threshold float64) ([]int, []int) {
	left := make([]int, 0, len(indices)/2)
	right := make([]int, 0, len(indices)/2)
	for _, i := range indices {
		if features[i][featureIdx] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	return left, right
}

func giniCounts(counts []float64, n float64) float64 {
	if n == 0 {
		return 0
	}
	impurity := 1.0
	for _, c := range counts {
		p := c / n
		impurity -= p * p
	}
	return impurity
}

func giniRemainder(total, left []float64, n float64) float64 {
	if n == 0 {
		return 0
	}
	impurity := 1.0
	for i := range total {
		p := (total[i] - left[i]) / n
		impurity -= p * p
	}
	return impurity
}

func distribution(labels []int, indices []int, classes int) []float64 {
	dist := make([]float64, classes)
	if len(indices) == 0 {
		return dist
	}
	for _, i := range indices {
		dist[labels[i]]++
	}
	for i := range dist {
		dist[i] /= float64(len(indices))
	}
	return dist
}

func argmax(values []float64) int {
	best := 0
	for i, v := range values {
		if v > values[best] {
			best = i
		}
	}
	return best
}

func isPure(dist []float64) bool {
	nonZero := 0
	for _, p := range dist {
		if p > 0 {
			nonZero++
		}
	}
	return nonZero <= 1
}

func validDistribution(dist []float64) bool {
	total := 0.0
	for _, p := range dist {
		if p < 0 || math.IsNaN(p) {
			return false
		}
		total += p
	}
	return total > 0
}

func numClasses(labels []int) int {
	classes := 2
	for _, label := range labels {
		if label+1 > classes {
			classes = label + 1
		}
	}
	return classes
}

func checkTrainingSet(features [][]float64, labels []int) error {
	if len(features) == 0 || len(labels) == 0 {
		return errors.New("features or labels empty")
	}
	if len(features) != len(labels) {
		return errors.New("features and labels size mismatch")
	}
	width := len(features[0])
	if width == 0 {
		return errors.New("features have no columns")
	}
	for i, row := range features {
		if len(row) != width {
			return fmt.Errorf("row %d has %d features, want %d", i, len(row), width)
		}
		if labels[i] < 0 {
			return fmt.Errorf("row %d has negative label %d", i, labels[i])
		}
	}
	return nil
}
