package language

import (
	"strings"

	"github.com/pemistahl/lingua-go"

	"mailmaestro/internal/logger"
)

// DefaultLanguage is assumed whenever detection is inconclusive.
const DefaultLanguage = "en"

// Detector wraps statistical language detection for prompt selection. The
// result is an ISO 639-1 code; failures are logged and never propagated.
type Detector struct {
	detector lingua.LanguageDetector
	logger   logger.Logger
}

func NewDetector(log logger.Logger) *Detector {
	langs := []lingua.Language{
		lingua.English,
		lingua.Spanish,
		lingua.German,
		lingua.French,
		lingua.Italian,
		lingua.Portuguese,
		lingua.Dutch,
	}

	return &Detector{
		detector: lingua.NewLanguageDetectorBuilder().
			FromLanguages(langs...).
			Build(),
		logger: log,
	}
}

func (d *Detector) Detect(text string) string {
	if strings.TrimSpace(text) == "" {
		return DefaultLanguage
	}

	lang, ok := d.detector.DetectLanguageOf(text)
	if !ok {
		d.logger.Debugw("Language detection inconclusive, assuming English")
		return DefaultLanguage
	}

	return strings.ToLower(lang.IsoCode639_1().String())
}
