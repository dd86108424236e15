package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-govnotify/core"
	"github.com/goliatone/go-govnotify/ratelimit"
	"github.com/goliatone/go-govnotify/transport"
)

const (
	ProviderID = "telegram"
	APIBaseURL = "https://api.telegram.org"

	// SecretTokenHeader carries the secret given to setWebhook on every update.
	SecretTokenHeader = "X-Telegram-Bot-Api-Secret-Token"
)

type Config struct {
	Token       string
	APIBaseURL  string
	SendTimeout time.Duration
	// EnablePreview turns link previews on. Notifications carry a proposal
	// link, so the zero value keeps them off.
	EnablePreview bool
}

func DefaultConfig() Config {
	return Config{
		APIBaseURL:  APIBaseURL,
		SendTimeout: 10 * time.Second,
	}
}

// Client talks to the Bot API through a transport adapter. It implements
// core.ChatSender, so one failed recipient never affects another. Sends are
// throttled per chat once Telegram answers 429.
type Client struct {
	cfg     Config
	adapter core.TransportAdapter
	limiter *ratelimit.AdaptivePolicy
}

func New(cfg Config, adapter core.TransportAdapter) (*Client, error) {
	defaults := DefaultConfig()
	cfg.Token = strings.TrimSpace(cfg.Token)
	if cfg.Token == "" {
		return nil, telegramError("telegram: bot token is required", goerrors.CategoryBadInput, http.StatusBadRequest, nil)
	}
	if strings.TrimSpace(cfg.APIBaseURL) == "" {
		cfg.APIBaseURL = defaults.APIBaseURL
	}
	cfg.APIBaseURL = strings.TrimRight(strings.TrimSpace(cfg.APIBaseURL), "/")
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = defaults.SendTimeout
	}
	if adapter == nil {
		adapter = transport.NewRESTAdapter(nil)
	}
	return &Client{
		cfg:     cfg,
		adapter: adapter,
		limiter: ratelimit.NewAdaptivePolicy(ratelimit.NewMemoryStateStore()),
	}, nil
}

// SetRateLimitPolicy replaces the per-chat throttle. A nil policy disables it.
func (c *Client) SetRateLimitPolicy(policy *ratelimit.AdaptivePolicy) {
	c.limiter = policy
}

type sendMessageRequest struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview,omitempty"`
}

// Send posts text to the private chat of userID.
func (c *Client) Send(ctx context.Context, userID string, text string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return telegramError("telegram: chat id is required", goerrors.CategoryBadInput, http.StatusBadRequest, nil)
	}
	if _, err := strconv.ParseInt(userID, 10, 64); err != nil {
		return telegramError(
			fmt.Sprintf("telegram: chat id %q is not numeric", userID),
			goerrors.CategoryBadInput,
			http.StatusBadRequest,
			map[string]any{"user_id": userID},
		)
	}
	if strings.TrimSpace(text) == "" {
		return telegramError("telegram: message text is required", goerrors.CategoryBadInput, http.StatusBadRequest, nil)
	}
	key := ratelimit.Key{ProviderID: ProviderID, Bucket: userID}
	if err := c.limiter.BeforeCall(ctx, key); err != nil {
		return err
	}
	_, meta, err := c.call(ctx, "sendMessage", sendMessageRequest{
		ChatID:                userID,
		Text:                  text,
		DisableWebPagePreview: !c.cfg.EnablePreview,
	})
	if meta.StatusCode != 0 {
		if limitErr := c.limiter.AfterCall(ctx, key, meta); limitErr != nil && err == nil {
			return limitErr
		}
	}
	return err
}

// Reply answers a bot update in the chat it came from.
func (c *Client) Reply(ctx context.Context, chatID int64, text string) error {
	return c.Send(ctx, strconv.FormatInt(chatID, 10), text)
}

type setWebhookRequest struct {
	URL            string   `json:"url"`
	SecretToken    string   `json:"secret_token,omitempty"`
	AllowedUpdates []string `json:"allowed_updates,omitempty"`
}

// SetWebhook points the bot at url. Telegram echoes secret back in
// SecretTokenHeader on every update.
func (c *Client) SetWebhook(ctx context.Context, url string, secret string) error {
	url = strings.TrimSpace(url)
	if url == "" {
		return telegramError("telegram: webhook url is required", goerrors.CategoryBadInput, http.StatusBadRequest, nil)
	}
	_, _, err := c.call(ctx, "setWebhook", setWebhookRequest{
		URL:            url,
		SecretToken:    strings.TrimSpace(secret),
		AllowedUpdates: []string{"message"},
	})
	return err
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Description string          `json:"description"`
	ErrorCode   int             `json:"error_code"`
	Result      json.RawMessage `json:"result"`
	Parameters  struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

// call returns the decoded result plus the response facts the rate limit
// policy consumes. meta.StatusCode is zero when no response arrived.
func (c *Client) call(ctx context.Context, method string, payload any) (json.RawMessage, ratelimit.Response, error) {
	var meta ratelimit.Response
	if c == nil || c.adapter == nil {
		return nil, meta, telegramError("telegram: client is not configured", goerrors.CategoryInternal, http.StatusInternalServerError, nil)
	}
	req, err := transport.JSONRequest(c.cfg.APIBaseURL+"/bot"+c.cfg.Token+"/"+method, payload, c.cfg.SendTimeout)
	if err != nil {
		return nil, meta, err
	}
	res, err := c.adapter.Do(ctx, req)
	if err != nil {
		return nil, meta, c.redact(method, err)
	}
	meta.StatusCode = res.StatusCode
	meta.Headers = res.Headers
	var decoded apiResponse
	if len(res.Body) > 0 {
		if err := json.Unmarshal(res.Body, &decoded); err != nil && res.StatusCode < 300 {
			return nil, meta, telegramWrapError(err, "telegram: decode "+method+" response", map[string]any{"method": method})
		}
	}
	if decoded.ErrorCode == http.StatusTooManyRequests {
		meta.StatusCode = http.StatusTooManyRequests
	}
	meta.RetryAfter = time.Duration(decoded.Parameters.RetryAfter) * time.Second
	if res.StatusCode >= 200 && res.StatusCode < 300 && decoded.OK {
		return decoded.Result, meta, nil
	}
	metadata := map[string]any{"method": method, "status_code": res.StatusCode}
	if decoded.ErrorCode != 0 {
		metadata["error_code"] = decoded.ErrorCode
	}
	if decoded.Parameters.RetryAfter > 0 {
		metadata["retry_after"] = decoded.Parameters.RetryAfter
	}
	category := goerrors.CategoryExternal
	switch {
	case res.StatusCode == http.StatusTooManyRequests || decoded.ErrorCode == http.StatusTooManyRequests:
		category = goerrors.CategoryRateLimit
	case res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden:
		category = goerrors.CategoryAuth
	}
	description := strings.TrimSpace(decoded.Description)
	if description == "" {
		description = "request was not accepted"
	}
	return nil, meta, telegramError(fmt.Sprintf("telegram: %s: %s", method, description), category, http.StatusBadGateway, metadata)
}

// redact rebuilds transport failures so the bot token embedded in the
// request path never appears in error text.
func (c *Client) redact(method string, err error) error {
	category := goerrors.CategoryExternal
	var rich *goerrors.Error
	if goerrors.As(err, &rich) && rich.Category != "" {
		category = rich.Category
	}
	message := strings.ReplaceAll(err.Error(), c.cfg.Token, "<redacted>")
	return telegramError("telegram: "+method+": "+message, category, http.StatusBadGateway, map[string]any{"method": method})
}

var _ core.ChatSender = (*Client)(nil)
