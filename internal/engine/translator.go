package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/scribe/internal/config"
	"github.com/roach88/scribe/internal/event"
)

// Translator is the built-in runner. It reads each input document,
// normalizes it to NFC, renders it according to the configured style, and
// writes a single renderings.json into the output directory.
//
// Rendering is deterministic: the same inputs and config always produce the
// same output bytes, so output hashes in receipts are reproducible.
type Translator struct{}

// NewTranslator returns the built-in runner.
func NewTranslator() *Translator { return &Translator{} }

type rendering struct {
	Source     string `json:"source"`
	SourceLang string `json:"source_lang"`
	TargetLang string `json:"target_lang"`
	Style      string `json:"style"`
	Text       string `json:"text"`
}

// Run implements Runner. Cancellation is checked between documents, never
// mid-document, so every finished item stays finished.
func (t *Translator) Run(ctx context.Context, task Task) (Result, error) {
	total := int64(len(task.Config.InputPaths))
	task.Log(event.LevelInfo, "translator", fmt.Sprintf("translating %d documents", total))
	task.Progress("translate", 0, 0, total)

	renderings := make([]rendering, 0, total)
	for i, inputPath := range task.Config.InputPaths {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		if task.Cancelled() {
			task.Log(event.LevelInfo, "translator", "stopping at cancel request")
			return Result{}, ErrCancelled
		}

		text, err := readDocument(inputPath)
		if err != nil {
			return Result{}, fmt.Errorf("read %s: %w", inputPath, err)
		}

		renderings = append(renderings, rendering{
			Source:     filepath.Base(inputPath),
			SourceLang: task.Config.SourceLang,
			TargetLang: task.Config.TargetLang,
			Style:      task.Config.Style,
			Text:       renderStyled(text, task.Config),
		})

		done := int64(i + 1)
		task.Progress("translate", done*100/total, done, total)
	}

	output, err := writeRenderings(task.OutputDir, renderings)
	if err != nil {
		return Result{}, err
	}

	task.Progress("finalize", 100, total, total)
	task.Log(event.LevelInfo, "translator", "all documents rendered")
	return Result{Outputs: []Output{output}}, nil
}

func readDocument(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return norm.NFC.String(string(data)), nil
}

// renderStyled applies the configured style. A real backend plugs in here;
// the built-in rendering tags the text so style and direction are visible in
// outputs and tests.
func renderStyled(text string, cfg config.JobConfig) string {
	switch cfg.Style {
	case config.StyleLiteral:
		return fmt.Sprintf("[%s->%s literal] %s", cfg.SourceLang, cfg.TargetLang, text)
	case config.StyleAnnotated:
		return fmt.Sprintf("[%s->%s annotated] %s\n---\nsource retained for review", cfg.SourceLang, cfg.TargetLang, text)
	default:
		return fmt.Sprintf("[%s->%s] %s", cfg.SourceLang, cfg.TargetLang, text)
	}
}

func writeRenderings(outputDir string, renderings []rendering) (Output, error) {
	data, err := json.MarshalIndent(renderings, "", "  ")
	if err != nil {
		return Output{}, fmt.Errorf("marshal renderings: %w", err)
	}
	data = append(data, '\n')

	path := filepath.Join(outputDir, "renderings.json")
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return Output{}, err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return Output{}, fmt.Errorf("write renderings: %w", err)
	}

	sum := sha256.Sum256(data)
	return Output{
		Name:      "renderings.json",
		Path:      path,
		SHA256:    hex.EncodeToString(sum[:]),
		SizeBytes: int64(len(data)),
	}, nil
}
