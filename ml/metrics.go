package ml

// Metrics of a classifier on a holdout set; precision and recall are for
// the positive class (label 1).
type Metrics struct {
	Accuracy  float64 `json:"accuracy"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	Samples   int     `json:"samples"`
}

func Evaluate(model Classifier, testX [][]float64, testY []int) (Metrics, error) {
	metrics := Metrics{Samples: len(testX)}
	if len(testX) == 0 {
		return metrics, nil
	}

	var correct, truePositive, predictedPositive, actualPositive int
	for i, features := range testX {
		label, _, err := model.Predict(features)
		if err != nil {
			return Metrics{}, err
		}
		if label == testY[i] {
			correct++
		}
		if label == 1 {
			predictedPositive++
		}
		if testY[i] == 1 {
			actualPositive++
			if label == 1 {
				truePositive++
			}
		}
	}

	metrics.Accuracy = float64(correct) / float64(len(testX))
	if predictedPositive > 0 {
		metrics.Precision = float64(truePositive) / float64(predictedPositive)
	}
	if actualPositive > 0 {
		metrics.Recall = float64(truePositive) / float64(actualPositive)
	}
	return metrics, nil
}
