package processor

import (
	"fmt"
	"strings"

	"github.com/adverant/nexus/reportscan-worker/internal/clients"
)

// Engine backends accepted by NewEngine.
const (
	EngineTesseract = "tesseract"
	EngineVision    = "vision"
)

// NewEngine builds the named recognition engine. language is a Tesseract
// language list such as "eng" or "eng+deu".
func NewEngine(name, language, visionURL string) (Engine, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case EngineTesseract, "":
		var languages []string
		for _, lang := range strings.Split(language, "+") {
			if lang = strings.TrimSpace(lang); lang != "" {
				languages = append(languages, lang)
			}
		}
		return NewTesseractEngine(&TesseractConfig{Languages: languages}), nil
	case EngineVision:
		if visionURL == "" {
			return nil, fmt.Errorf("vision engine requires a service URL")
		}
		return NewVisionEngine(clients.NewVisionClient(visionURL), visionLanguage(language)), nil
	default:
		return nil, fmt.Errorf("unknown recognition engine %q", name)
	}
}

// visionLanguage maps Tesseract codes to the two-letter form the vision
// service expects.
func visionLanguage(language string) string {
	first := strings.TrimSpace(strings.Split(language, "+")[0])
	switch first {
	case "", "eng":
		return "en"
	case "deu":
		return "de"
	case "fra":
		return "fr"
	case "spa":
		return "es"
	}
	return first
}
