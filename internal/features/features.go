// Package features turns extracted report parameters into the 13-feature
// vector used by the heart disease classifier.
package features

import (
	"github.com/adverant/nexus/reportscan-worker/internal/errors"
)

// Names lists the classifier features in vector order.
var Names = []string{
	"age", "sex", "cp", "trestbps", "chol", "fbs", "restecg",
	"thalach", "exang", "oldpeak", "slope", "ca", "thal",
}

// Dimensions is the vector length.
const Dimensions = 13

// FastingSugarThreshold is the mg/dL level above which fbs is 1.
const FastingSugarThreshold = 120

// DefaultMinParameters is how many parameters a report must yield before
// its vector is used for prediction.
const DefaultMinParameters = 5

// SourceFields maps each classifier feature to the report field it is read from.
var SourceFields = map[string]string{
	"age":      "age",
	"sex":      "sex",
	"cp":       "chest_pain",
	"trestbps": "blood_pressure",
	"chol":     "cholesterol",
	"fbs":      "blood_sugar",
	"restecg":  "ecg",
	"thalach":  "heart_rate",
	"exang":    "angina",
	"oldpeak":  "oldpeak",
	"slope":    "slope",
	"ca":       "vessels",
	"thal":     "thalassemia",
}

// Vector holds one value per entry in Names. Present marks the features
// that came from the report rather than the zero default.
type Vector struct {
	Values  [Dimensions]float64
	Present [Dimensions]bool
}

// Count returns how many features were read from the report.
func (v Vector) Count() int {
	n := 0
	for _, ok := range v.Present {
		if ok {
			n++
		}
	}
	return n
}

// Float32 returns the values in the layout vector stores expect.
func (v Vector) Float32() []float32 {
	out := make([]float32, Dimensions)
	for i, x := range v.Values {
		out[i] = float32(x)
	}
	return out
}

// Map returns the vector keyed by classifier feature name.
func (v Vector) Map() map[string]float64 {
	out := make(map[string]float64, Dimensions)
	for i, name := range Names {
		out[name] = v.Values[i]
	}
	return out
}

// FromParameters maps report fields, keyed by field name, onto classifier
// features. Missing features are 0. Blood sugar becomes the fbs flag.
func FromParameters(params map[string]float64) Vector {
	var v Vector
	for i, name := range Names {
		value, ok := params[SourceFields[name]]
		if !ok {
			continue
		}
		if name == "fbs" {
			value = boolToFloat(value > FastingSugarThreshold)
		}
		v.Values[i] = value
		v.Present[i] = true
	}
	return v
}

// Accept builds the vector and enforces the minimum parameter count.
func Accept(jobID string, params map[string]float64, minParameters int) (Vector, error) {
	v := FromParameters(params)
	if v.Count() < minParameters {
		return v, errors.NewInsufficientParametersError(jobID, v.Count(), minParameters)
	}
	return v, nil
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
