package core

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestEnricher_FallsBackAfterExactlyThreeAttempts(t *testing.T) {
	summarizer := &alwaysFailSummarizer{}
	enricher := NewEnricher(summarizer, EnrichmentConfig{RetryDelay: 2 * time.Second})
	var waits []time.Duration
	enricher.Policy.Sleep = func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}

	got := enricher.Summarize(context.Background(), "DAO Vote\n\nVoting on XYZ proposal")
	if !got.Fallback {
		t.Fatalf("expected fallback enrichment")
	}
	if got.Summary != SummaryFallback(3) {
		t.Fatalf("unexpected fallback text %q", got.Summary)
	}
	if summarizer.calls != 3 {
		t.Fatalf("expected exactly 3 summarizer calls, got %d", summarizer.calls)
	}
	if len(waits) != 2 || waits[0] != 2*time.Second || waits[1] != 2*time.Second {
		t.Fatalf("expected two fixed 2s waits, got %v", waits)
	}
	if got.Err == nil {
		t.Fatalf("expected last error to be retained")
	}
}

func TestEnricher_FallbackReportsAttemptsMade(t *testing.T) {
	summarizer := &alwaysFailSummarizer{}
	enricher := NewEnricher(summarizer, EnrichmentConfig{RetryDelay: time.Second})
	enricher.Policy.Sleep = func(context.Context, time.Duration) error {
		return context.Canceled
	}

	got := enricher.Summarize(context.Background(), "DAO Vote")
	if !got.Fallback || got.Attempts != 1 || summarizer.calls != 1 {
		t.Fatalf("expected fallback after one call, got %+v calls=%d", got, summarizer.calls)
	}
	if got.Summary != "[summary unavailable: summarization failed after 1 attempt]" {
		t.Fatalf("unexpected fallback text %q", got.Summary)
	}
	if SummaryFallback(EnrichmentAttempts) != "[summary unavailable: summarization failed after 3 attempts]" {
		t.Fatalf("unexpected exhausted fallback text %q", SummaryFallback(EnrichmentAttempts))
	}
}

func TestEnricher_RecoversOnThirdAttempt(t *testing.T) {
	summarizer := &scriptedSummarizer{
		results: []error{errors.New("429"), errors.New("503")},
		summary: "  A short summary.  ",
	}
	enricher := NewEnricher(summarizer, EnrichmentConfig{})
	enricher.Policy.Sleep = noSleep

	got := enricher.Summarize(context.Background(), "text")
	if got.Fallback || got.Summary != "A short summary." || got.Attempts != 3 {
		t.Fatalf("unexpected enrichment %+v", got)
	}
}

func TestEnricher_EmptySummaryCountsAsFailure(t *testing.T) {
	summarizer := &scriptedSummarizer{summary: "   "}
	enricher := NewEnricher(summarizer, EnrichmentConfig{})
	enricher.Policy.Sleep = noSleep

	got := enricher.Summarize(context.Background(), "text")
	if !got.Fallback || summarizer.callCount() != 3 {
		t.Fatalf("expected fallback after 3 empty summaries, got %+v calls=%d", got, summarizer.callCount())
	}
}

func TestEnricher_DisabledOrEmptyInputSkipsSummarizer(t *testing.T) {
	var nilEnricher *Enricher
	if got := nilEnricher.Summarize(context.Background(), "text"); got != (Enrichment{}) {
		t.Fatalf("expected zero enrichment for nil enricher, got %+v", got)
	}

	summarizer := &scriptedSummarizer{summary: "s"}
	enricher := NewEnricher(summarizer, EnrichmentConfig{})
	if got := enricher.Summarize(context.Background(), "   "); got.Summary != "" || summarizer.callCount() != 0 {
		t.Fatalf("expected summarizer to be skipped for blank input")
	}
}

func TestEnricher_TruncatesInput(t *testing.T) {
	var seen string
	enricher := &Enricher{
		Summarizer: summarizerFunc(func(_ context.Context, text string) (string, error) {
			seen = text
			return "ok", nil
		}),
		MaxInputChars: 5,
	}
	enricher.Summarize(context.Background(), "héllo world")
	if seen != "héllo" {
		t.Fatalf("expected rune-safe truncation, got %q", seen)
	}
}

func TestEnrichmentText_JoinsTitleAndBody(t *testing.T) {
	got := EnrichmentText(Event{Title: " DAO Vote ", Body: "Voting on XYZ proposal"})
	if got != "DAO Vote\n\nVoting on XYZ proposal" {
		t.Fatalf("unexpected enrichment text %q", got)
	}
	if got := EnrichmentText(Event{Title: "Only title"}); strings.Contains(got, "\n") {
		t.Fatalf("expected no separator without body, got %q", got)
	}
}

type summarizerFunc func(ctx context.Context, text string) (string, error)

func (f summarizerFunc) Summarize(ctx context.Context, text string) (string, error) {
	return f(ctx, text)
}
