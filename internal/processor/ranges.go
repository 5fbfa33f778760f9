package processor

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// rangeFile is the on-disk form of a range table:
//
//	blood_pressure: {min: 90, max: 160}
//	cholesterol: {min: 120, max: 350}
type rangeFile map[string]struct {
	Min *float64 `yaml:"min"`
	Max *float64 `yaml:"max"`
}

// LoadRanges reads range overrides from a YAML file and merges them over
// DefaultRanges. A side left out keeps its default.
func LoadRanges(path string) (map[Field]Range, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read ranges file: %w", err)
	}
	return ParseRanges(data)
}

// ParseRanges is LoadRanges for in-memory YAML.
func ParseRanges(data []byte) (map[Field]Range, error) {
	var overrides rangeFile
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return nil, fmt.Errorf("failed to parse ranges: %w", err)
	}

	ranges := DefaultRanges()

	for name, o := range overrides {
		f := Field(name)
		if !f.Valid() {
			return nil, fmt.Errorf("unknown field %q in ranges", name)
		}
		r := ranges[f]
		if o.Min != nil {
			r.Min = *o.Min
		}
		if o.Max != nil {
			r.Max = *o.Max
		}
		if r.Min > r.Max {
			return nil, fmt.Errorf("range for %s has min %v above max %v", name, r.Min, r.Max)
		}
		ranges[f] = r
	}

	return ranges, nil
}
