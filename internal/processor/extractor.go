package processor

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/adverant/nexus/reportscan-worker/internal/logging"
)

// CoerceFunc converts a pattern's first capture group into a value.
// Returning false makes the extractor try the field's next pattern.
type CoerceFunc func(capture string) (float64, bool)

// FieldRule is one row of the pattern table: a field and its patterns,
// most specific first.
type FieldRule struct {
	Field    Field
	Patterns []*regexp.Regexp
	Coerce   CoerceFunc
}

func numeric(capture string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(capture), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func sexFlag(capture string) (float64, bool) {
	switch strings.ToLower(strings.TrimSpace(capture)) {
	case "m", "male":
		return 1, true
	default:
		return 0, true
	}
}

func patterns(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(exprs))
	for i, expr := range exprs {
		out[i] = regexp.MustCompile(`(?i)` + expr)
	}
	return out
}

var defaultRules = []FieldRule{
	{
		Field: FieldAge,
		Patterns: patterns(
			`age[\s:]*(\d{1,3})`,
			`(\d{1,3})\s*(?:years?|yrs?|yo)`,
		),
		Coerce: numeric,
	},
	{
		Field: FieldSex,
		Patterns: patterns(
			`(?:sex|gender)[\s:]*(male|female|m|f)`,
			`\b(male|female)\b`,
			`\b([mf])\b`,
		),
		Coerce: sexFlag,
	},
	{
		Field: FieldChestPain,
		Patterns: patterns(
			`(?:chest pain|cp)[\s:]*(\d)`,
			`chest\s*pain[\s:]*(\d)`,
		),
		Coerce: numeric,
	},
	{
		Field: FieldBloodPressure,
		Patterns: patterns(
			`(?:blood pressure|bp|trestbps)[\s:]*(\d{2,3})`,
			`pressure[\s:]*(\d{2,3})`,
			`(\d{2,3})\s*mmhg`,
			`systolic[\s:]*(\d{2,3})`,
			`diastolic[\s:]*(\d{2,3})`,
		),
		Coerce: numeric,
	},
	{
		Field: FieldCholesterol,
		Patterns: patterns(
			`(?:cholesterol|chol)[\s:]*(\d{2,4})`,
			`(\d{2,4})\s*mg/dl`,
		),
		Coerce: numeric,
	},
	{
		Field: FieldBloodSugar,
		Patterns: patterns(
			`(?:blood sugar|fbs|glucose)[\s:]*(\d{2,3})`,
			`sugar[\s:]*(\d{2,3})`,
			`(\d{2,3})\s*mg/dl`,
		),
		Coerce: numeric,
	},
	{
		Field: FieldECG,
		Patterns: patterns(
			`(?:ecg|restecg)[\s:]*(\d)`,
			`electrocardiogram[\s:]*(\d)`,
		),
		Coerce: numeric,
	},
	{
		Field: FieldHeartRate,
		Patterns: patterns(
			`(?:heart rate|hr|thalach)[\s:]*(\d{2,3})`,
			`heart\s*rate[\s:]*(\d{2,3})`,
			`pulse[\s:]*(\d{2,3})`,
			`(\d{2,3})\s*bpm`,
		),
		Coerce: numeric,
	},
	{
		Field: FieldAngina,
		Patterns: patterns(
			`(?:angina|exang)[\s:]*([01])`,
		),
		Coerce: numeric,
	},
	{
		Field: FieldOldpeak,
		Patterns: patterns(
			`(?:oldpeak|st depression)[\s:]*(\d+\.?\d*)`,
			`st\s*depression[\s:]*(\d+\.?\d*)`,
			`(\d+\.?\d*)\s*mm`,
		),
		Coerce: numeric,
	},
	{
		Field: FieldSlope,
		Patterns: patterns(
			`slope[\s:]*(\d)`,
		),
		Coerce: numeric,
	},
	{
		Field: FieldVessels,
		Patterns: patterns(
			`(?:vessels|ca|major vessels)[\s:]*(\d)`,
		),
		Coerce: numeric,
	},
	{
		Field: FieldThalassemia,
		Patterns: patterns(
			`(?:thal|thalassemia)[\s:]*(\d)`,
		),
		Coerce: numeric,
	},
}

// DefaultRules returns the built-in pattern table in field order.
func DefaultRules() []FieldRule {
	return append([]FieldRule(nil), defaultRules...)
}

// Extractor applies a pattern table to recognized text.
type Extractor struct {
	rules  []FieldRule
	logger *logging.Logger
}

// NewExtractor creates an Extractor. With no rules, DefaultRules is used.
func NewExtractor(rules ...FieldRule) *Extractor {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	return &Extractor{
		rules:  rules,
		logger: logging.NewLogger("Extractor"),
	}
}

// Extract returns every field for which some pattern matched. Fields are
// matched independently, so two fields may read the same span of text.
func (e *Extractor) Extract(text string) Parameters {
	values := make(map[Field]float64)

	for _, rule := range e.rules {
		if v, ok := e.matchField(rule, text); ok {
			values[rule.Field] = v
		}
	}

	e.logger.Debug("extraction finished", "chars", len(text), "parameters", len(values))
	return Parameters{values: values}
}

func (e *Extractor) matchField(rule FieldRule, text string) (float64, bool) {
	coerce := rule.Coerce
	if coerce == nil {
		coerce = numeric
	}

	for i, re := range rule.Patterns {
		m := re.FindStringSubmatch(text)
		if len(m) < 2 {
			continue
		}
		v, ok := coerce(m[1])
		if !ok {
			e.logger.Debug("unparseable capture", "field", rule.Field, "pattern", i, "capture", m[1])
			continue
		}
		e.logger.Debug("field matched", "field", rule.Field, "pattern", i, "value", v)
		return v, true
	}

	return 0, false
}
