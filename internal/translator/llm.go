package translator

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"

	"subtrans/internal/llm"
)

// unitSeparator keeps units apart in the prompt and the response. The
// marker never appears in natural subtitle text.
const unitSeparator = "<<<SUB>>>"

// llmTranslator translates units through an OpenAI-compatible chat
// endpoint. One instance is bound to one model; fallback across models
// is the execution engine's job.
type llmTranslator struct {
	client *llm.Client
	model  string
}

// NewLLMTranslator creates a provider bound to the given model.
func NewLLMTranslator(client *llm.Client, model string) Provider {
	return &llmTranslator{client: client, model: model}
}

func (t *llmTranslator) Name() string {
	return t.model
}

func (t *llmTranslator) Translate(ctx context.Context, req Request) ([]Result, error) {
	if len(req.Units) == 0 {
		return nil, nil
	}

	systemPrompt := t.buildSystemPrompt(req)
	userPrompt := t.buildUserPrompt(req)

	content, err := t.client.Complete(ctx, t.model, systemPrompt, userPrompt)
	if err != nil {
		return nil, &ProviderError{Provider: t.model, Reason: "API call failed", Err: err}
	}

	return t.parseResponse(req.Units, content)
}

// buildSystemPrompt builds the translation instructions
func (t *llmTranslator) buildSystemPrompt(req Request) string {
	source := "the source language (auto-detect it)"
	if req.Source != language.Und {
		source = display.English.Languages().Name(req.Source)
	}
	target := display.English.Languages().Name(req.Target)

	var prompt strings.Builder
	prompt.WriteString("You are a professional subtitle translation expert. Translate subtitle segments from " + source + " to " + target + ".\n")

	prompt.WriteString("\n=== TRANSLATION GUIDELINES ===\n")
	prompt.WriteString("1. Each segment is a complete sentence or stand-alone phrase; translate it as a whole\n")
	prompt.WriteString("2. Maintain character voice, tone and terminology consistently across segments\n")
	prompt.WriteString("3. Ensure the " + target + " text flows naturally while preserving meaning\n")
	prompt.WriteString("4. Keep translations concise enough for screen reading\n")
	prompt.WriteString("5. Keep the line breaks inside a segment; they separate speakers or stacked display lines\n")

	prompt.WriteString("\n=== OUTPUT FORMAT ===\n")
	prompt.WriteString("Return ONLY the translated segments, in the same order, separated by " + unitSeparator + " on its own line.\n")
	prompt.WriteString("Do not include any explanations, notes, numbering, or additional text.\n")
	prompt.WriteString(fmt.Sprintf("The number of output segments must be exactly %d.\n", len(req.Units)))

	return prompt.String()
}

// buildUserPrompt renders the context block and the unit payload.
func (t *llmTranslator) buildUserPrompt(req Request) string {
	var prompt strings.Builder

	if len(req.Context) > 0 {
		prompt.WriteString("=== PRECEDING CONTEXT (already translated, do not re-translate) ===\n")
		for _, ex := range req.Context {
			prompt.WriteString(fmt.Sprintf("%s => %s\n", ex.Source, ex.Translated))
		}
		prompt.WriteString("\n=== SEGMENTS TO TRANSLATE ===\n")
	}

	texts := make([]string, len(req.Units))
	for i, u := range req.Units {
		texts[i] = u.Text
	}
	prompt.WriteString(strings.Join(texts, "\n"+unitSeparator+"\n"))

	return prompt.String()
}

// parseResponse enforces the one-result-per-unit contract.
func (t *llmTranslator) parseResponse(units []Unit, content string) ([]Result, error) {
	parts := strings.Split(content, unitSeparator)

	results := make([]Result, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		results = append(results, Result{Text: part})
	}

	if len(results) != len(units) {
		return nil, &ProviderError{
			Provider: t.model,
			Reason:   "translation count mismatch",
			Expected: len(units),
			Got:      len(results),
		}
	}

	for i := range results {
		results[i].ID = units[i].ID
	}
	return results, nil
}
