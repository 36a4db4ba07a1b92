package dataset

const (
	OutcomeColumn    = "Outcome"
	PredictionColumn = "Prediction"
)

// RequiredFeatures is the fixed model input order.
var RequiredFeatures = []string{
	"Pregnancies",
	"Glucose",
	"BloodPressure",
	"SkinThickness",
	"Insulin",
	"BMI",
	"DiabetesPedigreeFunction",
	"Age",
}

func FeatureNames() []string {
	return append([]string(nil), RequiredFeatures...)
}

// Columns is the schema of the training file: features then outcome.
func Columns() []string {
	return append(FeatureNames(), OutcomeColumn)
}

// LogColumns is the header of the real-time prediction log.
func LogColumns() []string {
	return append(FeatureNames(), PredictionColumn)
}
