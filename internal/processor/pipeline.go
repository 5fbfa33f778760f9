package processor

import (
	"context"
	"fmt"
	"image"
	"strings"

	"github.com/adverant/nexus/reportscan-worker/internal/errors"
	"github.com/adverant/nexus/reportscan-worker/internal/logging"
)

// Outcome messages for the terminal pipeline states.
const (
	MessageEngineUnavailable = "text recognition engine is unavailable"
	MessageNoText            = "no text extracted"
	MessageNoParameters      = "no parameters could be extracted from the recognized text"
)

// ExtractionOutcome is the single result handed back to callers.
type ExtractionOutcome struct {
	Success    bool                `json:"success"`
	Code       errors.ErrorCode    `json:"code,omitempty"`
	RawText    string              `json:"raw_text"`
	Parameters Parameters          `json:"parameters"`
	Warnings   []ValidationWarning `json:"warnings"`
	Message    string              `json:"message"`
	Profile    string              `json:"profile,omitempty"`
}

func failure(code errors.ErrorCode, rawText, message string) ExtractionOutcome {
	return ExtractionOutcome{
		Code:     code,
		RawText:  rawText,
		Warnings: []ValidationWarning{},
		Message:  message,
	}
}

// Pipeline runs normalize, recognize, extract and validate for one image.
// It holds no per-call state and is safe for concurrent use.
type Pipeline struct {
	engine     Engine
	normalizer ImageNormalizer
	recognizer *Recognizer
	extractor  *Extractor
	validator  *Validator
	logger     *logging.Logger
}

// PipelineOption customizes a Pipeline.
type PipelineOption func(*Pipeline)

// WithNormalizer replaces the OpenCV normalizer.
func WithNormalizer(n ImageNormalizer) PipelineOption {
	return func(p *Pipeline) { p.normalizer = n }
}

// WithProfiles replaces the default recognition profiles.
func WithProfiles(profiles ...RecognitionProfile) PipelineOption {
	return func(p *Pipeline) { p.recognizer = NewRecognizer(p.engine, profiles...) }
}

// WithRules replaces the default pattern table.
func WithRules(rules ...FieldRule) PipelineOption {
	return func(p *Pipeline) { p.extractor = NewExtractor(rules...) }
}

// WithRanges replaces the default normal ranges.
func WithRanges(ranges map[Field]Range) PipelineOption {
	return func(p *Pipeline) { p.validator = NewValidator(ranges) }
}

// NewPipeline creates a Pipeline around engine.
func NewPipeline(engine Engine, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		engine:     engine,
		normalizer: NewNormalizer(),
		recognizer: NewRecognizer(engine),
		extractor:  NewExtractor(),
		validator:  NewValidator(nil),
		logger:     logging.NewLogger("Pipeline"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Engine returns the recognition engine the pipeline was built with.
func (p *Pipeline) Engine() Engine {
	return p.engine
}

// Process extracts validated parameters from img. Every failure is reported
// in the outcome; Process itself never fails.
func (p *Pipeline) Process(ctx context.Context, img image.Image) ExtractionOutcome {
	if !p.engine.IsAvailable(ctx) {
		p.logger.Error("recognition engine unavailable", "engine", p.engine.Name())
		return failure(errors.ErrorEngineUnavailable, "", fmt.Sprintf("%s: %s", MessageEngineUnavailable, p.engine.Name()))
	}

	normalized, err := p.normalizer.Normalize(img)
	if err != nil {
		p.logger.Error("normalization failed", "error", err)
		return failure(errors.ErrorImageDecodeFailed, "", fmt.Sprintf("image could not be prepared for recognition: %v", err))
	}

	recognized := p.recognizer.Recognize(ctx, normalized)
	text := strings.TrimSpace(recognized.Text)
	if text == "" {
		p.logger.Info("no text recognized", "engine", p.engine.Name())
		return failure(errors.ErrorNoTextExtracted, "", MessageNoText)
	}
	p.logger.Debug("text recognized", "profile", recognized.Profile.Name, "chars", len(text))

	outcome := p.ProcessText(text)
	outcome.Profile = recognized.Profile.Name
	return outcome
}

// ProcessText runs extraction and validation on text recognized elsewhere.
func (p *Pipeline) ProcessText(text string) ExtractionOutcome {
	text = strings.TrimSpace(text)
	if text == "" {
		return failure(errors.ErrorNoTextExtracted, "", MessageNoText)
	}

	extracted := p.extractor.Extract(text)
	if extracted.Len() == 0 {
		p.logger.Info("no parameters matched", "chars", len(text))
		return failure(errors.ErrorNoParametersExtracted, text, MessageNoParameters)
	}

	validated, warnings := p.validator.Validate(extracted)
	if warnings == nil {
		warnings = []ValidationWarning{}
	}
	for _, w := range warnings {
		p.logger.Warn("value outside normal range", "field", w.Field, "value", w.Value, "min", w.Range.Min, "max", w.Range.Max)
	}

	return ExtractionOutcome{
		Success:    true,
		RawText:    text,
		Parameters: validated,
		Warnings:   warnings,
		Message:    fmt.Sprintf("Successfully extracted %d parameters", validated.Len()),
	}
}
