package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adverant/nexus/reportscan-worker/internal/errors"
)

type countingNormalizer struct {
	calls atomic.Int32
	err   error
}

func (c *countingNormalizer) Normalize(img image.Image) (*NormalizedImage, error) {
	c.calls.Add(1)
	if c.err != nil {
		return nil, c.err
	}
	return NewNormalizedImage(image.NewGray(img.Bounds())), nil
}

func newTestPipeline(engine Engine) (*Pipeline, *countingNormalizer) {
	n := &countingNormalizer{}
	return NewPipeline(engine, WithNormalizer(n)), n
}

func reportImage() image.Image {
	return image.NewRGBA(image.Rect(0, 0, 32, 32))
}

func TestProcessEngineUnavailable(t *testing.T) {
	engine := &fakeEngine{available: false}
	p, n := newTestPipeline(engine)

	out := p.Process(context.Background(), reportImage())

	assert.False(t, out.Success)
	assert.Equal(t, errors.ErrorEngineUnavailable, out.Code)
	assert.Contains(t, out.Message, MessageEngineUnavailable)
	assert.Empty(t, out.RawText)
	assert.Equal(t, 0, out.Parameters.Len())
	assert.Empty(t, out.Warnings)
	assert.Equal(t, int32(0), n.calls.Load())
	assert.Equal(t, 0, engine.callCount())
}

func TestProcessNoText(t *testing.T) {
	p, _ := newTestPipeline(&fakeEngine{available: true})

	out := p.Process(context.Background(), reportImage())

	assert.False(t, out.Success)
	assert.Equal(t, errors.ErrorNoTextExtracted, out.Code)
	assert.Equal(t, MessageNoText, out.Message)
	assert.Empty(t, out.RawText)
}

func TestProcessNoParametersKeepsRawText(t *testing.T) {
	prose := "The quick brown fox jumps over the lazy dog."
	p, _ := newTestPipeline(&fakeEngine{available: true, outputs: map[string]string{"auto": prose}})

	out := p.Process(context.Background(), reportImage())

	assert.False(t, out.Success)
	assert.Equal(t, errors.ErrorNoParametersExtracted, out.Code)
	assert.Equal(t, MessageNoParameters, out.Message)
	assert.Equal(t, prose, out.RawText)
	assert.Equal(t, 0, out.Parameters.Len())
}

func TestProcessSuccessWithWarnings(t *testing.T) {
	report := "Patient age: 45, Sex: Male, BP: 130, Chol: 210 mg/dL"
	engine := &fakeEngine{available: true, outputs: map[string]string{
		"whitelist-block": "Patient age 45",
		"auto":            report,
	}}
	p, n := newTestPipeline(engine)

	out := p.Process(context.Background(), reportImage())

	require.True(t, out.Success)
	assert.Empty(t, out.Code)
	assert.Equal(t, report, out.RawText)
	assert.Equal(t, "auto", out.Profile)
	assert.Equal(t, 5, out.Parameters.Len())
	assert.Equal(t, "Successfully extracted 5 parameters", out.Message)
	assert.Equal(t, int32(1), n.calls.Load())

	require.Len(t, out.Warnings, 1)
	assert.Equal(t, FieldBloodSugar, out.Warnings[0].Field)

	chol, _ := out.Parameters.Get(FieldCholesterol)
	assert.Equal(t, 210.0, chol)
}

func TestProcessNormalizeFailure(t *testing.T) {
	n := &countingNormalizer{err: fmt.Errorf("bad raster")}
	p := NewPipeline(&fakeEngine{available: true}, WithNormalizer(n))

	out := p.Process(context.Background(), reportImage())

	assert.False(t, out.Success)
	assert.Equal(t, errors.ErrorImageDecodeFailed, out.Code)
	assert.Contains(t, out.Message, "bad raster")
}

func TestProcessIsDeterministic(t *testing.T) {
	engine := &fakeEngine{available: true, outputs: map[string]string{
		"auto": "Age: 61 Sex: F Cholesterol: 305 Heart Rate: 58 bpm Oldpeak: 3.1",
	}}
	p, _ := newTestPipeline(engine)

	first := p.Process(context.Background(), reportImage())
	second := p.Process(context.Background(), reportImage())

	a, err := json.Marshal(first)
	require.NoError(t, err)
	b, err := json.Marshal(second)
	require.NoError(t, err)
	assert.JSONEq(t, string(a), string(b))
}

func TestProcessTextEmpty(t *testing.T) {
	p, _ := newTestPipeline(&fakeEngine{available: true})

	out := p.ProcessText("   ")
	assert.Equal(t, errors.ErrorNoTextExtracted, out.Code)
}

func TestProcessTextCustomRanges(t *testing.T) {
	p := NewPipeline(&fakeEngine{available: true}, WithRanges(map[Field]Range{FieldAge: {Min: 50, Max: 60}}))

	out := p.ProcessText("Age: 45")

	require.True(t, out.Success)
	require.Len(t, out.Warnings, 1)
	assert.Equal(t, "age: 45 is outside normal range (50-60)", out.Warnings[0].String())
}

func TestOutcomeJSONShape(t *testing.T) {
	p, _ := newTestPipeline(&fakeEngine{available: true})

	data, err := json.Marshal(p.ProcessText("BP: 130"))
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, true, decoded["success"])
	assert.Equal(t, "BP: 130", decoded["raw_text"])
	assert.Equal(t, map[string]any{"blood_pressure": 130.0}, decoded["parameters"])
	assert.Equal(t, []any{}, decoded["warnings"])
}
