package config

import (
	"errors"
	"testing"
)

func validJobConfig() JobConfig {
	return JobConfig{
		SourceLang: "grc",
		TargetLang: "en",
		Style:      StyleNatural,
		InputPaths: []string{"texts/mark.txt"},
	}
}

func TestJobConfig_ValidPasses(t *testing.T) {
	cfg := validJobConfig()
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() failed: %v", err)
	}
}

func TestJobConfig_NormalizeDefaultsStyle(t *testing.T) {
	cfg := validJobConfig()
	cfg.Style = ""
	cfg.Normalize()
	if cfg.Style != StyleNatural {
		t.Errorf("style = %q, want natural", cfg.Style)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() failed after Normalize: %v", err)
	}
}

func TestJobConfig_RejectsUnknownStyle(t *testing.T) {
	cfg := validJobConfig()
	cfg.Style = "freeform"
	err := cfg.Validate()
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("got %v, want ValidationError", err)
	}
}

func TestJobConfig_RejectsEmptyInputs(t *testing.T) {
	cfg := validJobConfig()
	cfg.InputPaths = nil
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for empty input_paths")
	}
}

func TestJobConfig_RejectsMissingSourceLang(t *testing.T) {
	cfg := validJobConfig()
	cfg.SourceLang = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for empty source_lang")
	}
}

func TestJobConfig_RejectsBogusLanguageTag(t *testing.T) {
	cfg := validJobConfig()
	cfg.TargetLang = "not a language"
	err := cfg.Validate()
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("got %v, want ValidationError", err)
	}
	if verr.Field != "target_lang" {
		t.Errorf("field = %q, want target_lang", verr.Field)
	}
}

func TestJobConfig_CanonicalMapIsHashable(t *testing.T) {
	cfg := validJobConfig()
	cfg.Options = map[string]string{"glossary": "default"}

	m := cfg.CanonicalMap()
	if m["source_lang"] != "grc" || m["target_lang"] != "en" {
		t.Errorf("canonical map = %v", m)
	}
	if _, ok := m["options"]; !ok {
		t.Error("options must be present when set")
	}
}
