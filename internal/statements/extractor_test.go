package statements

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"driftwatch/internal/core"
	"driftwatch/internal/ledger"
	"driftwatch/internal/llm"
)

const sampleResponse = "```json\n" + `[
  {"actor": "Central bank", "action": "raised rates", "reason": "inflation", "consequence": "higher mortgages", "full_statement": "The central bank raised rates to fight inflation.", "confidence": 0.9},
  {"actor": "Analysts", "action": "expect a pause", "reason": "", "consequence": "", "full_statement": "Analysts expect a pause in summer.", "confidence": 0.4},
  {"actor": "Banks", "action": "passed on costs", "reason": "", "consequence": "", "full_statement": "Banks passed higher costs to borrowers.", "confidence": 0.7},
  {"actor": "Traders", "action": "sold bonds", "reason": "", "consequence": "", "full_statement": "Traders sold government bonds.", "confidence": 0.8},
  {"actor": "Unions", "action": "demanded raises", "reason": "", "consequence": "", "full_statement": "Unions demanded matching pay raises.", "confidence": 0.95}
]` + "\n```"

func article(id string) core.Article {
	a := core.Article{
		ID:          id,
		SourceID:    "wire",
		PublishedAt: time.Date(2025, 2, 3, 9, 0, 0, 0, time.UTC),
		Title:       "Rates rise again " + id,
		RawText:     "<p>The central bank raised rates.</p>",
	}
	a.Fingerprint = core.Fingerprint(core.ArticleText(a))
	return a
}

func TestExtractFiltersAndCaps(t *testing.T) {
	gen := &llm.ScriptedGenerator{Rules: []llm.ScriptRule{{Contains: "key statements", Response: sampleResponse}}}
	l := ledger.New(nil)
	ex := NewLLMExtractor(gen, l, DefaultConfig())

	got, err := ex.Extract(context.Background(), article("a1"))
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d statements, want 3", len(got))
	}
	for _, s := range got {
		if s.Confidence < 0.5 {
			t.Errorf("kept low-confidence statement %q", s.Text)
		}
		if s.ArticleID != "a1" || s.SourceID != "wire" || s.Fingerprint == "" {
			t.Errorf("statement provenance = %+v", s)
		}
	}
	if got[0].ID != "a1#s1" || got[2].ID != "a1#s3" {
		t.Errorf("IDs = %s, %s", got[0].ID, got[2].ID)
	}

	if _, err := ex.Extract(context.Background(), article("a1")); err != nil {
		t.Fatal(err)
	}
	if gen.CallCount() != 1 || l.Calls(ledger.TaskExtract) != 1 {
		t.Errorf("generator calls = %d, charged = %d; want 1 and 1", gen.CallCount(), l.Calls(ledger.TaskExtract))
	}
	cached, err := ex.Cached(context.Background(), article("a1"))
	if err != nil || !cached {
		t.Errorf("Cached() = %v, %v", cached, err)
	}
}

func TestExtractBadResponse(t *testing.T) {
	gen := &llm.ScriptedGenerator{Rules: []llm.ScriptRule{{Contains: "key statements", Response: "no statements today"}}}
	ex := NewLLMExtractor(gen, ledger.New(nil), DefaultConfig())
	if _, err := ex.Extract(context.Background(), article("a1")); !errors.Is(err, core.ErrGenerationFailed) {
		t.Errorf("error = %v, want GenerationFailed", err)
	}
}

func TestCollectIsolatesFailures(t *testing.T) {
	gen := &llm.ScriptedGenerator{Rules: []llm.ScriptRule{
		{Contains: "Rates rise again bad", Err: errors.New("model overloaded")},
		{Contains: "key statements", Response: sampleResponse},
	}}
	ex := NewLLMExtractor(gen, ledger.New(nil), DefaultConfig())
	articles := []core.Article{article("a1"), article("bad"), article("a2")}

	got, err := Collect(context.Background(), ex, articles, 2)
	if err == nil || !strings.Contains(err.Error(), "bad") {
		t.Errorf("error = %v, want failure for article bad", err)
	}
	if len(got) != 6 {
		t.Fatalf("got %d statements, want 6", len(got))
	}
	if got[0].ArticleID != "a1" || got[5].ArticleID != "a2" {
		t.Error("statements should keep article order")
	}
}

func TestSignificance(t *testing.T) {
	if got := Significance(0.3, 0.8, 0.5); got < 0.4-1e-9 || got > 0.4+1e-9 {
		t.Errorf("Significance = %v, want 0.4", got)
	}
}
