// Package langdetect flags headlines that are not in English. The script
// heuristic is always applied; lingua detection is opt-in because building
// the detector loads every language model.
package langdetect

import (
	"strings"
	"sync"
	"unicode"

	lingua "github.com/pemistahl/lingua-go"
)

const DefaultNonLatinRatio = 0.3

// minLetters is the shortest sample lingua is trusted with.
const minLetters = 6

var (
	detectorOnce sync.Once
	detector     lingua.LanguageDetector
)

// NonLatinRatio is the share of letters in text that are not Latin script.
// Text without letters has ratio 0.
func NonLatinRatio(text string) float64 {
	letters := 0
	nonLatin := 0
	for _, r := range text {
		if !unicode.IsLetter(r) {
			continue
		}
		letters++
		if !unicode.Is(unicode.Latin, r) {
			nonLatin++
		}
	}
	if letters == 0 {
		return 0
	}
	return float64(nonLatin) / float64(letters)
}

// Classifier decides whether a headline is English.
type Classifier struct {
	maxNonLatin float64
	useLingua   bool
}

func NewClassifier(maxNonLatinRatio float64, useLingua bool) *Classifier {
	if maxNonLatinRatio <= 0 || maxNonLatinRatio > 1 {
		maxNonLatinRatio = DefaultNonLatinRatio
	}
	return &Classifier{maxNonLatin: maxNonLatinRatio, useLingua: useLingua}
}

// IsNonEnglish reports whether text should be filtered and the reason.
func (c *Classifier) IsNonEnglish(text string) (bool, string) {
	if NonLatinRatio(text) > c.maxNonLatin {
		return true, "non_latin_script"
	}
	if !c.useLingua {
		return false, ""
	}
	code := DetectISO6391(text)
	if code != "" && code != "en" {
		return true, "detected_" + code
	}
	return false, ""
}

// DetectISO6391 returns the two-letter code of the detected language, or ""
// when the sample is too short or detection is not confident.
func DetectISO6391(text string) string {
	sample := strings.TrimSpace(text)
	if sample == "" {
		return ""
	}

	letterCount := 0
	for _, r := range sample {
		if unicode.IsLetter(r) {
			letterCount++
		}
	}
	if letterCount < minLetters {
		return ""
	}

	language, exists := getDetector().DetectLanguageOf(sample)
	if !exists {
		return ""
	}

	code := strings.ToLower(language.IsoCode639_1().String())
	if len(code) != 2 {
		return ""
	}
	return code
}

func getDetector() lingua.LanguageDetector {
	detectorOnce.Do(func() {
		detector = lingua.NewLanguageDetectorBuilder().
			FromAllLanguages().
			WithMinimumRelativeDistance(0.25).
			Build()
	})
	return detector
}
