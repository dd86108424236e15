package gemini

import (
	"context"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-govnotify/core"
	"google.golang.org/genai"
)

const (
	ProviderID   = "gemini"
	DefaultModel = "gemini-2.5-flash"

	defaultMaxInputChars   = 8000
	defaultMaxOutputTokens = 256
)

const systemPrompt = "You summarize DAO governance proposals for a chat notification. " +
	"Reply with at most three short sentences in neutral language. " +
	"State what the proposal changes and who it affects. Do not add opinions or markdown."

type Config struct {
	APIKey          string
	Model           string
	BaseURL         string
	MaxInputChars   int
	MaxOutputTokens int32
}

func DefaultConfig() Config {
	return Config{
		Model:           DefaultModel,
		MaxInputChars:   defaultMaxInputChars,
		MaxOutputTokens: defaultMaxOutputTokens,
	}
}

// ContentGenerator is the part of *genai.Models the summarizer calls.
type ContentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Summarizer implements core.Summarizer over the Gemini API. Timeouts and
// retries belong to core.Enricher.
type Summarizer struct {
	cfg       Config
	generator ContentGenerator
}

func New(ctx context.Context, cfg Config) (*Summarizer, error) {
	cfg = withDefaults(cfg)
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, geminiError("gemini: api key is required", goerrors.CategoryBadInput, http.StatusBadRequest)
	}
	clientConfig := &genai.ClientConfig{
		APIKey:  strings.TrimSpace(cfg.APIKey),
		Backend: genai.BackendGeminiAPI,
	}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		clientConfig.HTTPOptions = genai.HTTPOptions{BaseURL: base}
	}
	client, err := genai.NewClient(ctx, clientConfig)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryExternal, "gemini: create client").
			WithCode(http.StatusBadGateway).
			WithTextCode(core.ServiceErrorExternal)
	}
	return NewWithGenerator(cfg, client.Models), nil
}

func NewWithGenerator(cfg Config, generator ContentGenerator) *Summarizer {
	return &Summarizer{cfg: withDefaults(cfg), generator: generator}
}

func (s *Summarizer) Summarize(ctx context.Context, text string) (string, error) {
	if s == nil || s.generator == nil {
		return "", geminiError("gemini: summarizer is not configured", goerrors.CategoryInternal, http.StatusInternalServerError)
	}
	text = truncate(strings.TrimSpace(text), s.cfg.MaxInputChars)
	if text == "" {
		return "", geminiError("gemini: nothing to summarize", goerrors.CategoryBadInput, http.StatusBadRequest)
	}
	res, err := s.generator.GenerateContent(ctx, s.cfg.Model,
		[]*genai.Content{genai.NewContentFromText(text, genai.RoleUser)},
		&genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
			Temperature:       genai.Ptr[float32](0.2),
			MaxOutputTokens:   s.cfg.MaxOutputTokens,
		},
	)
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryExternal, "gemini: generate content").
			WithCode(http.StatusBadGateway).
			WithTextCode(core.ServiceErrorExternal)
	}
	if res == nil {
		return "", geminiError("gemini: empty response", goerrors.CategoryExternal, http.StatusBadGateway)
	}
	summary := strings.TrimSpace(res.Text())
	if summary == "" {
		return "", geminiError("gemini: response carried no text", goerrors.CategoryExternal, http.StatusBadGateway)
	}
	return summary, nil
}

func withDefaults(cfg Config) Config {
	defaults := DefaultConfig()
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = defaults.Model
	}
	if cfg.MaxInputChars <= 0 {
		cfg.MaxInputChars = defaults.MaxInputChars
	}
	if cfg.MaxOutputTokens <= 0 {
		cfg.MaxOutputTokens = defaults.MaxOutputTokens
	}
	return cfg
}

func truncate(text string, limit int) string {
	if limit <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit])
}

func geminiError(message string, category goerrors.Category, code int) error {
	textCode := core.ServiceErrorExternal
	switch category {
	case goerrors.CategoryBadInput:
		textCode = core.ServiceErrorBadInput
	case goerrors.CategoryInternal:
		textCode = core.ServiceErrorInternal
	}
	return goerrors.New(message, category).
		WithCode(code).
		WithTextCode(textCode)
}

var _ core.Summarizer = (*Summarizer)(nil)
