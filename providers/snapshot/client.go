package snapshot

import (
	"context"
	"net/http"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-govnotify/core"
	"github.com/goliatone/go-govnotify/transport"
)

const (
	ProviderID = "snapshot"
	HubURL     = "https://hub.snapshot.org/graphql"

	// AuthenticationHeader is where Snapshot puts the webhook secret.
	AuthenticationHeader = "Authentication"
)

const proposalQuery = `query Proposal($id: String!) {
  proposal(id: $id) {
    id
    title
    body
    choices
    start
    end
    link
    space { id name }
  }
}`

type Config struct {
	HubURL       string
	FetchTimeout time.Duration
	Retry        core.RetryPolicy
}

func DefaultConfig() Config {
	return Config{
		HubURL:       HubURL,
		FetchTimeout: 10 * time.Second,
		Retry:        core.RetryPolicy{MaxAttempts: 3, Delay: time.Second},
	}
}

// Proposal is the hub's view of a proposal. Start and End are unix seconds.
type Proposal struct {
	ID      string   `json:"id"`
	Title   string   `json:"title"`
	Body    string   `json:"body"`
	Choices []string `json:"choices"`
	Start   int64    `json:"start"`
	End     int64    `json:"end"`
	Link    string   `json:"link"`
	Space   struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"space"`
}

// Client fetches proposals from the Snapshot hub over GraphQL.
type Client struct {
	cfg     Config
	adapter core.TransportAdapter
}

func NewClient(cfg Config, adapter core.TransportAdapter) *Client {
	defaults := DefaultConfig()
	cfg.HubURL = strings.TrimSpace(cfg.HubURL)
	if cfg.HubURL == "" {
		cfg.HubURL = defaults.HubURL
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = defaults.FetchTimeout
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry.MaxAttempts = defaults.Retry.MaxAttempts
		if cfg.Retry.Delay <= 0 {
			cfg.Retry.Delay = defaults.Retry.Delay
		}
	}
	if cfg.Retry.Retryable == nil {
		cfg.Retry.Retryable = retryableFetchError
	}
	if adapter == nil {
		adapter = transport.NewGraphQLAdapter(cfg.HubURL, nil)
	}
	return &Client{cfg: cfg, adapter: adapter}
}

// FetchProposal returns a not-found error when the hub has no such proposal,
// which is what it answers for deleted ones.
func (c *Client) FetchProposal(ctx context.Context, proposalID string) (Proposal, error) {
	proposalID = strings.TrimSpace(proposalID)
	if proposalID == "" {
		return Proposal{}, snapshotError("snapshot: proposal id is required", goerrors.CategoryBadInput, http.StatusBadRequest, nil)
	}
	var out Proposal
	_, err := c.cfg.Retry.Do(ctx, func(ctx context.Context) error {
		proposal, err := c.fetchOnce(ctx, proposalID)
		if err != nil {
			return err
		}
		out = proposal
		return nil
	})
	if err != nil {
		return Proposal{}, err
	}
	return out, nil
}

func (c *Client) fetchOnce(ctx context.Context, proposalID string) (Proposal, error) {
	res, err := c.adapter.Do(ctx, core.TransportRequest{
		URL:     c.cfg.HubURL,
		Timeout: c.cfg.FetchTimeout,
		Metadata: map[string]any{
			"query":          proposalQuery,
			"operation_name": "Proposal",
			"variables":      map[string]any{"id": proposalID},
		},
	})
	if err != nil {
		return Proposal{}, err
	}
	var data struct {
		Proposal *Proposal `json:"proposal"`
	}
	if err := transport.DecodeGraphQL(res, &data); err != nil {
		return Proposal{}, err
	}
	if data.Proposal == nil {
		return Proposal{}, snapshotError(
			"snapshot: proposal not found",
			goerrors.CategoryNotFound,
			http.StatusNotFound,
			map[string]any{"proposal_id": proposalID},
		)
	}
	return *data.Proposal, nil
}

func retryableFetchError(err error) bool {
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		return true
	}
	switch rich.Category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation, goerrors.CategoryNotFound, goerrors.CategoryAuth:
		return false
	}
	return true
}
