package narrative

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"driftwatch/internal/core"
	"driftwatch/internal/cost"
	"driftwatch/internal/ledger"
	"driftwatch/internal/llm"
	"driftwatch/internal/logger"
)

// Name limits. Longer model output is replaced by the fallback name.
const (
	MaxNameWords = 6
	MaxNameRunes = 50
)

// Naming is the display name and description of a narrative.
type Naming struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Namer asks a cheap model to name newly founded narratives.
type Namer struct {
	gen    llm.Generator
	ledger *ledger.Ledger
	model  string
	log    *slog.Logger
}

// NewNamer creates a namer. A nil generator always yields fallback names.
func NewNamer(gen llm.Generator, l *ledger.Ledger, model string) *Namer {
	return &Namer{gen: gen, ledger: l, model: model, log: logger.Get()}
}

// Model returns the naming model.
func (n *Namer) Model() string { return n.model }

// FallbackName is used when naming fails or is skipped.
func FallbackName(id string) string {
	short := id
	if len(short) > 8 {
		short = short[:8]
	}
	return "Narrative " + short
}

// Name returns a name for the narrative whose first cluster compressed to
// payload. Failures are logged and answered with the fallback name, so the
// returned error is informational and always a GenerationFailed error.
func (n *Namer) Name(ctx context.Context, narrativeID string, payload core.CompressedPayload) (Naming, error) {
	fallback := Naming{Name: FallbackName(narrativeID)}
	if n == nil || n.gen == nil {
		return fallback, nil
	}

	prompt := buildNamingPrompt(payload)
	key := ledger.Key(ledger.TaskNaming, n.model, core.Fingerprint(prompt))
	if n.ledger != nil {
		if entry, ok, err := n.ledger.Lookup(ctx, key); err == nil && ok {
			return parseNaming(entry.Text, fallback), nil
		}
	}

	raw, err := n.gen.Generate(ctx, prompt, n.model)
	if err != nil {
		n.log.Warn("narrative naming failed", "narrative", narrativeID, "error", err)
		return fallback, core.NewError(core.KindGenerationFailed, "name", narrativeID, err)
	}
	if n.ledger != nil {
		entry := core.CacheEntry{
			Key:   key,
			Kind:  core.CacheResponse,
			Model: n.model,
			Text:  raw,
			Cost:  cost.CallCost(ledger.TaskNaming, n.model, prompt, raw),
		}
		if err := n.ledger.Record(ctx, ledger.TaskNaming, entry); err != nil {
			return fallback, err
		}
	}
	return parseNaming(raw, fallback), nil
}

// Project returns the naming Name would produce if it is already cached,
// and otherwise whether a call would be made and its projected cost.
func (n *Namer) Project(ctx context.Context, narrativeID string, payload core.CompressedPayload) (Naming, bool, float64, error) {
	fallback := Naming{Name: FallbackName(narrativeID)}
	if n == nil || n.gen == nil {
		return fallback, false, 0, nil
	}
	prompt := buildNamingPrompt(payload)
	if n.ledger != nil {
		entry, ok, err := n.ledger.Lookup(ctx, ledger.Key(ledger.TaskNaming, n.model, core.Fingerprint(prompt)))
		if err != nil {
			return fallback, false, 0, err
		}
		if ok {
			return parseNaming(entry.Text, fallback), false, 0, nil
		}
	}
	return fallback, true, cost.ProjectedCallCost(ledger.TaskNaming, n.model, cost.EstimateTokenCount(prompt)), nil
}

func buildNamingPrompt(payload core.CompressedPayload) string {
	var prompt strings.Builder
	prompt.WriteString("You are naming a news storyline that spans several articles.\n\n")
	prompt.WriteString(payload.Text)
	prompt.WriteString("\n\nInstructions:\n")
	fmt.Fprintf(&prompt, "1. Give the storyline a short name of at most %d words\n", MaxNameWords)
	prompt.WriteString("2. Write a one-sentence description of what the storyline is about\n")
	prompt.WriteString("3. Be specific: name the actors and the event, not the general topic\n\n")
	prompt.WriteString(`Respond with JSON only: {"name": "...", "description": "..."}`)
	return prompt.String()
}

func parseNaming(raw string, fallback Naming) Naming {
	var out Naming
	if err := json.Unmarshal([]byte(llm.CleanJSON(raw)), &out); err != nil {
		return fallback
	}
	out.Name = strings.TrimSpace(out.Name)
	out.Description = strings.TrimSpace(out.Description)
	if !validName(out.Name) {
		out.Name = fallback.Name
	}
	return out
}

func validName(name string) bool {
	if name == "" {
		return false
	}
	return len(strings.Fields(name)) <= MaxNameWords && len([]rune(name)) <= MaxNameRunes
}
