package config

import (
	_ "embed"
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"golang.org/x/text/language"
)

//go:embed schema.cue
var jobSchemaCUE string

// Rendering styles accepted in job configs.
const (
	StyleNatural   = "natural"
	StyleLiteral   = "literal"
	StyleAnnotated = "annotated"
)

// JobConfig describes one translation run. Immutable once the job is
// created; the engine stores the exact JSON it validated.
type JobConfig struct {
	SourceLang string            `json:"source_lang"`
	TargetLang string            `json:"target_lang"`
	Style      string            `json:"style"`
	InputPaths []string          `json:"input_paths"`
	Options    map[string]string `json:"options,omitempty"`
}

// ValidationError reports a rejected job config.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid job config: %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("invalid job config: %s", e.Message)
}

// Normalize fills defaulted fields. Call before Validate.
func (c *JobConfig) Normalize() {
	if c.Style == "" {
		c.Style = StyleNatural
	}
}

// Validate checks the config against the embedded CUE schema and verifies
// that both language fields are well-formed BCP 47 tags.
func (c *JobConfig) Validate() error {
	ctx := cuecontext.New()

	schema := ctx.CompileString(jobSchemaCUE)
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile job schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#JobConfig"))
	if !def.Exists() {
		return fmt.Errorf("job schema: #JobConfig not found")
	}

	val := ctx.Encode(c)
	if err := val.Err(); err != nil {
		return fmt.Errorf("encode job config: %w", err)
	}

	unified := def.Unify(val)
	if err := unified.Validate(cue.Concrete(true), cue.Final()); err != nil {
		return &ValidationError{Message: err.Error()}
	}

	if _, err := language.Parse(c.SourceLang); err != nil {
		return &ValidationError{Field: "source_lang", Message: fmt.Sprintf("%q is not a valid language tag", c.SourceLang)}
	}
	if _, err := language.Parse(c.TargetLang); err != nil {
		return &ValidationError{Field: "target_lang", Message: fmt.Sprintf("%q is not a valid language tag", c.TargetLang)}
	}

	return nil
}

// CanonicalMap renders the config as a map suitable for canonical JSON
// hashing: string-typed leaves only, stable shape.
func (c *JobConfig) CanonicalMap() map[string]any {
	m := map[string]any{
		"source_lang": c.SourceLang,
		"target_lang": c.TargetLang,
		"style":       c.Style,
		"input_paths": c.InputPaths,
	}
	if len(c.Options) > 0 {
		opts := make(map[string]any, len(c.Options))
		for k, v := range c.Options {
			opts[k] = v
		}
		m["options"] = opts
	}
	return m
}
