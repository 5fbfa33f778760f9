package processor

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Field names one clinical parameter read from a report.
type Field string

const (
	FieldAge           Field = "age"
	FieldSex           Field = "sex"
	FieldChestPain     Field = "chest_pain"
	FieldBloodPressure Field = "blood_pressure"
	FieldCholesterol   Field = "cholesterol"
	FieldBloodSugar    Field = "blood_sugar"
	FieldECG           Field = "ecg"
	FieldHeartRate     Field = "heart_rate"
	FieldAngina        Field = "angina"
	FieldOldpeak       Field = "oldpeak"
	FieldSlope         Field = "slope"
	FieldVessels       Field = "vessels"
	FieldThalassemia   Field = "thalassemia"
)

var fieldOrder = []Field{
	FieldAge,
	FieldSex,
	FieldChestPain,
	FieldBloodPressure,
	FieldCholesterol,
	FieldBloodSugar,
	FieldECG,
	FieldHeartRate,
	FieldAngina,
	FieldOldpeak,
	FieldSlope,
	FieldVessels,
	FieldThalassemia,
}

// AllFields returns every field in table order.
func AllFields() []Field {
	return append([]Field(nil), fieldOrder...)
}

// Valid reports whether f is one of the known fields.
func (f Field) Valid() bool {
	for _, known := range fieldOrder {
		if f == known {
			return true
		}
	}
	return false
}

// Parameters maps fields to extracted values. Iteration and JSON output
// follow table order. The zero value is an empty set.
type Parameters struct {
	values map[Field]float64
}

// NewParameters builds a set from a plain map, ignoring unknown fields.
func NewParameters(values map[Field]float64) Parameters {
	p := Parameters{}
	for f, v := range values {
		if f.Valid() {
			p = p.with(f, v)
		}
	}
	return p
}

func (p Parameters) with(f Field, v float64) Parameters {
	next := make(map[Field]float64, len(p.values)+1)
	for k, val := range p.values {
		next[k] = val
	}
	next[f] = v
	return Parameters{values: next}
}

// Get returns the value for f and whether it was extracted.
func (p Parameters) Get(f Field) (float64, bool) {
	v, ok := p.values[f]
	return v, ok
}

// Len returns the number of extracted fields.
func (p Parameters) Len() int {
	return len(p.values)
}

// Fields returns the present fields in table order.
func (p Parameters) Fields() []Field {
	fields := make([]Field, 0, len(p.values))
	for _, f := range fieldOrder {
		if _, ok := p.values[f]; ok {
			fields = append(fields, f)
		}
	}
	return fields
}

// Map returns a copy keyed by field name.
func (p Parameters) Map() map[string]float64 {
	out := make(map[string]float64, len(p.values))
	for f, v := range p.values {
		out[string(f)] = v
	}
	return out
}

// Equal reports whether both sets hold the same fields and values.
func (p Parameters) Equal(other Parameters) bool {
	if p.Len() != other.Len() {
		return false
	}
	for f, v := range p.values {
		if ov, ok := other.values[f]; !ok || ov != v {
			return false
		}
	}
	return true
}

func (p Parameters) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range p.Fields() {
		if i > 0 {
			buf.WriteByte(',')
		}
		fmt.Fprintf(&buf, "%q:%s", f, strconv.FormatFloat(p.values[f], 'g', -1, 64))
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (p *Parameters) UnmarshalJSON(data []byte) error {
	var raw map[string]float64
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	values := make(map[Field]float64, len(raw))
	for k, v := range raw {
		f := Field(k)
		if !f.Valid() {
			return fmt.Errorf("unknown parameter field %q", k)
		}
		values[f] = v
	}
	*p = Parameters{values: values}
	return nil
}
