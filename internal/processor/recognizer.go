package processor

import (
	"context"
	"strings"

	"github.com/adverant/nexus/reportscan-worker/internal/logging"
)

// Recognizer runs the engine once per profile and keeps the longest text.
type Recognizer struct {
	engine   Engine
	profiles []RecognitionProfile
	logger   *logging.Logger
}

// NewRecognizer creates a Recognizer. With no profiles, DefaultProfiles is used.
func NewRecognizer(engine Engine, profiles ...RecognitionProfile) *Recognizer {
	if len(profiles) == 0 {
		profiles = DefaultProfiles()
	}
	return &Recognizer{
		engine:   engine,
		profiles: append([]RecognitionProfile(nil), profiles...),
		logger:   logging.NewLogger("Recognizer"),
	}
}

// Recognize returns the longest trimmed text any profile produced. Engine
// errors count as empty output. A cancelled context stops the loop and the
// best result so far is returned.
func (r *Recognizer) Recognize(ctx context.Context, img *NormalizedImage) RecognizedText {
	var best RecognizedText

	for _, profile := range r.profiles {
		if ctx.Err() != nil {
			r.logger.Warn("recognition interrupted", "profile", profile.Name, "error", ctx.Err())
			break
		}

		text, err := r.engine.Recognize(ctx, img, profile)
		if err != nil {
			r.logger.Debug("profile failed", "engine", r.engine.Name(), "profile", profile.Name, "error", err)
			continue
		}

		text = strings.TrimSpace(text)
		r.logger.Debug("profile finished", "profile", profile.Name, "chars", len(text))

		if len(text) > len(best.Text) {
			best = RecognizedText{Text: text, Profile: profile}
		}
	}

	return best
}
