package compress

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"driftwatch/internal/core"
	"driftwatch/internal/cost"
	"driftwatch/internal/ledger"
)

func sampleDocs() []core.Document {
	return []core.Document{
		{
			ID: "a2", SourceID: "reuters", Vector: []float64{1, 0.1, 0},
			Text: "The central bank raised interest rates by half a point on Tuesday. Officials cited persistent inflation in housing and services. Markets had expected a smaller increase from the bank. Analysts now expect a pause before the summer.",
		},
		{
			ID: "a1", SourceID: "bbc", Vector: []float64{1, 0, 0},
			Text: "Interest rates rose again as the central bank fought inflation. The decision surprised bond traders across Europe. Mortgage holders face higher monthly payments this year.",
		},
		{
			ID: "a3", SourceID: "ap", Vector: []float64{0.9, 0.2, 0},
			Text: "A half point rate increase was announced by the central bank. Housing costs remain the largest driver of inflation. Retail groups warned about weaker spending over the holidays.",
		},
	}
}

func TestSplitSentences(t *testing.T) {
	tests := []struct {
		name string
		text string
		min  int
		want int
	}{
		{"empty", "", 5, 0},
		{"single without punctuation", "just one long sentence here", 5, 1},
		{"drops short fragments", "Ok. This sentence is long enough to keep. No!", 10, 1},
		{"mixed terminators", "First sentence here! Second one here? Third sentence here.", 5, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SplitSentences(tt.text, tt.min)
			if len(got) != tt.want {
				t.Errorf("SplitSentences() = %q, want %d sentences", got, tt.want)
			}
		})
	}
}

func TestTextRankScoresEverySentence(t *testing.T) {
	sentences := []string{
		"Rates rose sharply at the central bank meeting.",
		"The central bank meeting ended with higher rates.",
		"Football fans celebrated a late winner on Sunday.",
	}
	scores, err := TextRank(sentences)
	if err != nil {
		t.Fatalf("TextRank() error = %v", err)
	}
	if len(scores) != len(sentences) {
		t.Fatalf("got %d scores, want %d", len(scores), len(sentences))
	}
	if scores[2] >= scores[0] || scores[2] >= scores[1] {
		t.Errorf("unrelated sentence should rank lowest, scores = %v", scores)
	}
}

func TestMedoidPicksCentralMember(t *testing.T) {
	docs := []core.Document{
		{ID: "edge-a", Vector: []float64{1, 0}},
		{ID: "centre", Vector: []float64{1, 1}},
		{ID: "edge-b", Vector: []float64{0, 1}},
	}
	if got := docs[Medoid(docs)].ID; got != "centre" {
		t.Errorf("Medoid() = %s, want centre", got)
	}
}

func TestCompressProducesStructuredPayload(t *testing.T) {
	c := New(nil, DefaultConfig())
	payload, err := c.Compress(context.Background(), sampleDocs())
	if err != nil {
		t.Fatalf("Compress() error = %v", err)
	}
	if payload.Degraded {
		t.Error("payload should not be degraded")
	}
	if strings.Join(payload.MemberIDs, ",") != "a1,a2,a3" {
		t.Errorf("MemberIDs = %v, want sorted", payload.MemberIDs)
	}
	for _, want := range []string{"Key points:", "Important terms:", "Sources (3)"} {
		if !strings.Contains(payload.Text, want) {
			t.Errorf("payload text missing %q:\n%s", want, payload.Text)
		}
	}
	if payload.TokenEstimate != cost.EstimateTokenCount(payload.Text) {
		t.Errorf("TokenEstimate = %d, want %d", payload.TokenEstimate, cost.EstimateTokenCount(payload.Text))
	}
}

func TestCompressRespectsBudget(t *testing.T) {
	long := strings.Repeat("The committee debated the proposal at great length without reaching agreement. ", 200)
	docs := []core.Document{
		{ID: "x", SourceID: "s1", Vector: []float64{1, 0}, Text: long},
		{ID: "y", SourceID: "s2", Vector: []float64{1, 0.1}, Text: long + " Extra detail about the vote count."},
		{ID: "z", SourceID: "s3", Vector: []float64{1, 0.2}, Text: strings.Repeat("x", 20000)},
	}
	for _, budget := range []int{5, 40, 200, 1000} {
		t.Run(fmt.Sprintf("budget=%d", budget), func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.TokenBudget = budget
			payload, err := New(nil, cfg).Compress(context.Background(), docs)
			if err != nil {
				t.Fatalf("Compress() error = %v", err)
			}
			if payload.TokenEstimate > budget {
				t.Errorf("TokenEstimate = %d exceeds budget %d", payload.TokenEstimate, budget)
			}
			if cost.EstimateTokenCount(payload.Text) > budget {
				t.Errorf("text estimate exceeds budget %d", budget)
			}
		})
	}
}

func TestCompressDegradesWhenRankingFails(t *testing.T) {
	l := ledger.New(nil)
	cfg := DefaultConfig()
	cfg.TokenBudget = 20
	c := New(l, cfg).WithRanker(func([]string) ([]float64, error) {
		return nil, errors.New("ranking exploded")
	})

	payload, err := c.Compress(context.Background(), sampleDocs())
	if !errors.Is(err, core.ErrCompressionFailed) {
		t.Fatalf("error = %v, want CompressionFailed", err)
	}
	if !payload.Degraded {
		t.Error("payload should be degraded")
	}
	if payload.MedoidID == "" || payload.TokenEstimate > cfg.TokenBudget {
		t.Errorf("degraded payload = %+v", payload)
	}

	_, ok, _ := l.Lookup(context.Background(), c.Key(payload.MemberIDs))
	if ok {
		t.Error("degraded payload must not be cached")
	}
}

func TestCompressUsesLedger(t *testing.T) {
	l := ledger.New(nil)
	calls := 0
	c := New(l, DefaultConfig()).WithRanker(func(s []string) ([]float64, error) {
		calls++
		return TextRank(s)
	})

	docs := sampleDocs()
	first, err := c.Compress(context.Background(), docs)
	if err != nil {
		t.Fatal(err)
	}
	reversed := []core.Document{docs[2], docs[1], docs[0]}
	second, err := c.Compress(context.Background(), reversed)
	if err != nil {
		t.Fatal(err)
	}
	if calls != 1 {
		t.Errorf("ranker called %d times, want 1", calls)
	}
	if first.Text != second.Text {
		t.Error("cached payload differs from the original")
	}
	if l.RunCost() != 0 {
		t.Errorf("compression charged %v, want 0", l.RunCost())
	}
}

func TestCompressEmpty(t *testing.T) {
	if _, err := New(nil, DefaultConfig()).Compress(context.Background(), nil); !errors.Is(err, ErrNoMembers) {
		t.Errorf("error = %v, want ErrNoMembers", err)
	}
}
