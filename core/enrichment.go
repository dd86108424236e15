package core

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const (
	// EnrichmentAttempts bounds summarization calls per delivery attempt.
	EnrichmentAttempts       = 3
	DefaultEnrichmentTimeout = 20 * time.Second
	DefaultMaxInputChars     = 8000
)

// SummaryFallback is the text sent in place of a summary. attempts is the
// number of summarizer calls actually made, which is EnrichmentAttempts
// unless the delivery context ended first.
func SummaryFallback(attempts int) string {
	if attempts == 1 {
		return "[summary unavailable: summarization failed after 1 attempt]"
	}
	return fmt.Sprintf("[summary unavailable: summarization failed after %d attempts]", attempts)
}

type Enrichment struct {
	Summary  string
	Attempts int
	Fallback bool
	Err      error
}

// Enricher wraps a Summarizer with a per-call timeout and a bounded retry
// policy. It never returns an error to the caller.
type Enricher struct {
	Summarizer    Summarizer
	Policy        RetryPolicy
	Timeout       time.Duration
	MaxInputChars int
}

func NewEnricher(summarizer Summarizer, cfg EnrichmentConfig) *Enricher {
	return &Enricher{
		Summarizer: summarizer,
		Policy: RetryPolicy{
			MaxAttempts: EnrichmentAttempts,
			Delay:       cfg.RetryDelay,
		},
		Timeout:       cfg.Timeout,
		MaxInputChars: cfg.MaxInputChars,
	}
}

func (e *Enricher) Enabled() bool {
	return e != nil && e.Summarizer != nil
}

func (e *Enricher) Summarize(ctx context.Context, text string) Enrichment {
	if !e.Enabled() {
		return Enrichment{}
	}
	text = truncateRunes(strings.TrimSpace(text), e.MaxInputChars)
	if text == "" {
		return Enrichment{}
	}
	policy := e.Policy
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = EnrichmentAttempts
	}
	timeout := e.Timeout
	if timeout <= 0 {
		timeout = DefaultEnrichmentTimeout
	}

	summary, attempts, err := RetryValue(ctx, policy, func(ctx context.Context) (string, error) {
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		out, err := e.Summarizer.Summarize(callCtx, text)
		if err != nil {
			return "", err
		}
		out = strings.TrimSpace(out)
		if out == "" {
			return "", fmt.Errorf("core: summarizer returned empty text")
		}
		return out, nil
	}, "")
	if err != nil {
		return Enrichment{
			Summary:  SummaryFallback(attempts),
			Attempts: attempts,
			Fallback: true,
			Err:      err,
		}
	}
	return Enrichment{Summary: summary, Attempts: attempts}
}

// EnrichmentText is the text handed to the summarizer for an event.
func EnrichmentText(event Event) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(event.Title))
	if body := strings.TrimSpace(event.Body); body != "" {
		b.WriteString("\n\n")
		b.WriteString(body)
	}
	return b.String()
}

func truncateRunes(text string, limit int) string {
	if limit <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit])
}
