package processor

import (
	"fmt"
	"strconv"
)

// Range is an inclusive plausibility bound.
type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Contains reports whether v lies within the bound.
func (r Range) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

// normalRanges are the acceptance bounds used to raise warnings. They are
// wider than the healthy ranges shown to patients.
var normalRanges = map[Field]Range{
	FieldAge:           {18, 100},
	FieldSex:           {0, 1},
	FieldChestPain:     {0, 3},
	FieldBloodPressure: {90, 200},
	FieldCholesterol:   {100, 400},
	FieldBloodSugar:    {70, 200},
	FieldECG:           {0, 2},
	FieldHeartRate:     {60, 200},
	FieldAngina:        {0, 1},
	FieldOldpeak:       {0, 6},
	FieldSlope:         {0, 2},
	FieldVessels:       {0, 3},
	FieldThalassemia:   {0, 3},
}

// ValidationWarning records a value outside its normal range.
type ValidationWarning struct {
	Field Field   `json:"field"`
	Value float64 `json:"value"`
	Range Range   `json:"range"`
}

func (w ValidationWarning) String() string {
	return fmt.Sprintf("%s: %s is outside normal range (%s-%s)",
		w.Field, formatNumber(w.Value), formatNumber(w.Range.Min), formatNumber(w.Range.Max))
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Validator flags out-of-range values without removing them.
type Validator struct {
	ranges map[Field]Range
}

// DefaultRanges returns a copy of the built-in range table.
func DefaultRanges() map[Field]Range {
	return copyRanges(normalRanges)
}

func copyRanges(src map[Field]Range) map[Field]Range {
	dst := make(map[Field]Range, len(src))
	for f, r := range src {
		dst[f] = r
	}
	return dst
}

// NewValidator creates a Validator with its own copy of ranges. A nil table
// means DefaultRanges.
func NewValidator(ranges map[Field]Range) *Validator {
	if ranges == nil {
		ranges = normalRanges
	}
	return &Validator{ranges: copyRanges(ranges)}
}

// Validate returns the parameters unchanged together with one warning per
// out-of-range value, in field order.
func (v *Validator) Validate(params Parameters) (Parameters, []ValidationWarning) {
	validated := make(map[Field]float64, params.Len())
	var warnings []ValidationWarning

	for _, f := range params.Fields() {
		value := params.values[f]
		validated[f] = value

		bound, ok := v.ranges[f]
		if !ok || bound.Contains(value) {
			continue
		}
		warnings = append(warnings, ValidationWarning{Field: f, Value: value, Range: bound})
	}

	return Parameters{values: validated}, warnings
}
