package language

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// ErrUnknownLanguage is returned for hints that do not name a known language.
var ErrUnknownLanguage = errors.New("unknown language")

// Bibliographic ISO 639-2 codes and English words that tag parsing does not
// accept directly.
var aliases = map[string]string{
	"fre":        "fr",
	"ger":        "de",
	"chi":        "zh",
	"dut":        "nl",
	"english":    "en",
	"spanish":    "es",
	"french":     "fr",
	"german":     "de",
	"italian":    "it",
	"portuguese": "pt",
	"japanese":   "ja",
	"korean":     "ko",
	"chinese":    "zh",
	"russian":    "ru",
	"arabic":     "ar",
	"hindi":      "hi",
	"dutch":      "nl",
	"polish":     "pl",
	"swedish":    "sv",
	"danish":     "da",
	"norwegian":  "no",
	"finnish":    "fi",
}

// IsAuto reports whether the hint requests automatic language detection.
func IsAuto(hint string) bool {
	hint = strings.ToLower(strings.TrimSpace(hint))
	return hint == "" || hint == "auto"
}

// Normalize converts a language hint to the base ISO 639 code of the language.
// Automatic detection hints normalize to the empty string.
func Normalize(hint string) (string, error) {
	if IsAuto(hint) {
		return "", nil
	}
	key := strings.ToLower(strings.TrimSpace(hint))
	if code, ok := aliases[key]; ok {
		return code, nil
	}

	tag, err := language.Parse(strings.ReplaceAll(key, "_", "-"))
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrUnknownLanguage, hint)
	}
	base, confidence := tag.Base()
	if confidence == language.No || base.String() == "und" {
		return "", fmt.Errorf("%w: %q", ErrUnknownLanguage, hint)
	}
	return base.String(), nil
}

// DisplayName returns the English name of a language code, or the code itself
// when it cannot be named.
func DisplayName(code string) string {
	if IsAuto(code) {
		return "auto-detect"
	}
	normalized, err := Normalize(code)
	if err != nil {
		return code
	}
	tag, err := language.Parse(normalized)
	if err != nil {
		return normalized
	}
	if name := display.English.Languages().Name(tag); name != "" {
		return name
	}
	return normalized
}
