package language

import (
	"errors"
	"testing"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"", ""},
		{" ", ""},
		{"auto", ""},
		{"AUTO", ""},
		{"en", "en"},
		{"EN", "en"},
		{"en-US", "en"},
		{"en_GB", "en"},
		{"pt-BR", "pt"},
		{"eng", "en"},
		{"spa", "es"},
		{"deu", "de"},
		{"ger", "de"},
		{"fre", "fr"},
		{"dut", "nl"},
		{"english", "en"},
		{"French", "fr"},
		{"GERMAN", "de"},
		{"ja", "ja"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := Normalize(tt.input)
			if err != nil {
				t.Fatalf("Normalize(%q) returned error: %v", tt.input, err)
			}
			if got != tt.expected {
				t.Errorf("Normalize(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestNormalizeRejectsGarbage(t *testing.T) {
	for _, input := range []string{"not a language", "12", "en--us"} {
		if _, err := Normalize(input); !errors.Is(err, ErrUnknownLanguage) {
			t.Errorf("Normalize(%q) error = %v, want ErrUnknownLanguage", input, err)
		}
	}
}

func TestDisplayName(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"", "auto-detect"},
		{"en", "English"},
		{"ger", "German"},
		{"fr-CA", "French"},
		{"not a language", "not a language"},
	}
	for _, tt := range tests {
		if got := DisplayName(tt.input); got != tt.expected {
			t.Errorf("DisplayName(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}
