package gemini

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/goliatone/go-govnotify/core"
	"google.golang.org/genai"
)

type fakeGenerator struct {
	model    string
	input    string
	config   *genai.GenerateContentConfig
	response string
	err      error
}

func (f *fakeGenerator) GenerateContent(_ context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.model = model
	f.config = config
	if len(contents) > 0 && len(contents[0].Parts) > 0 {
		f.input = contents[0].Parts[0].Text
	}
	if f.err != nil {
		return nil, f.err
	}
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: genai.NewContentFromText(f.response, genai.RoleModel)}},
	}, nil
}

func TestSummarize_ReturnsModelText(t *testing.T) {
	generator := &fakeGenerator{response: "  Raises the reserve factor to 20%.  "}
	summarizer := NewWithGenerator(Config{}, generator)

	summary, err := summarizer.Summarize(context.Background(), "Proposal body")
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if summary != "Raises the reserve factor to 20%." {
		t.Fatalf("unexpected summary %q", summary)
	}
	if generator.model != DefaultModel {
		t.Fatalf("expected default model, got %q", generator.model)
	}
	if generator.config == nil || generator.config.SystemInstruction == nil {
		t.Fatalf("expected system instruction to be set")
	}
}

func TestSummarize_TruncatesInput(t *testing.T) {
	generator := &fakeGenerator{response: "ok"}
	summarizer := NewWithGenerator(Config{MaxInputChars: 5}, generator)
	if _, err := summarizer.Summarize(context.Background(), "ééééééééé"); err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if generator.input != "ééééé" {
		t.Fatalf("expected rune-safe truncation, got %q", generator.input)
	}
}

func TestSummarize_Failures(t *testing.T) {
	failing := NewWithGenerator(Config{}, &fakeGenerator{err: errors.New("quota exceeded")})
	if _, err := failing.Summarize(context.Background(), "text"); err == nil || !strings.Contains(err.Error(), "generate content") {
		t.Fatalf("expected wrapped generate error, got %v", err)
	}
	empty := NewWithGenerator(Config{}, &fakeGenerator{response: " "})
	if _, err := empty.Summarize(context.Background(), "text"); err == nil {
		t.Fatalf("expected empty text to fail")
	}
	if _, err := empty.Summarize(context.Background(), "   "); err == nil {
		t.Fatalf("expected blank input to fail")
	}
}

func TestSummarizer_FeedsEnricherFallback(t *testing.T) {
	summarizer := NewWithGenerator(Config{}, &fakeGenerator{err: errors.New("unavailable")})
	cfg := core.DefaultConfig().Enrichment
	cfg.Enabled = true
	cfg.RetryDelay = 0
	enricher := core.NewEnricher(summarizer, cfg)
	enrichment := enricher.Summarize(context.Background(), "Proposal body")
	if enrichment.Summary != core.SummaryFallback(core.EnrichmentAttempts) {
		t.Fatalf("expected fallback summary, got %#v", enrichment)
	}
}

func TestNew_RequiresAPIKey(t *testing.T) {
	if _, err := New(context.Background(), Config{}); err == nil {
		t.Fatalf("expected missing api key error")
	}
}
