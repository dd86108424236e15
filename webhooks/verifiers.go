package webhooks

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/goliatone/go-govnotify/core"
)

// HeaderTokenVerifier compares a shared secret carried in a header, the way
// Snapshot (Authentication) and Telegram (X-Telegram-Bot-Api-Secret-Token)
// authenticate their webhooks.
type HeaderTokenVerifier struct {
	Header string
	Token  string
}

func (v HeaderTokenVerifier) Verify(_ context.Context, req core.InboundRequest) error {
	expected := strings.TrimSpace(v.Token)
	if expected == "" {
		return fmt.Errorf("webhooks: verification token is required")
	}
	actual := headerValue(req.Headers, v.Header)
	if actual == "" {
		return fmt.Errorf("webhooks: %s verification header is required", strings.TrimSpace(v.Header))
	}
	if subtle.ConstantTimeCompare([]byte(actual), []byte(expected)) != 1 {
		return fmt.Errorf("webhooks: verification token mismatch")
	}
	return nil
}

type HeaderHMACVerifier struct {
	Header   string
	Prefix   string
	Secret   string
	Encoding string // hex | base64
}

func (v HeaderHMACVerifier) Verify(_ context.Context, req core.InboundRequest) error {
	header := headerValue(req.Headers, v.Header)
	if header == "" {
		return fmt.Errorf("webhooks: %s signature header is required", strings.TrimSpace(v.Header))
	}
	secret := strings.TrimSpace(v.Secret)
	if secret == "" {
		return fmt.Errorf("webhooks: signature secret is required")
	}
	signature := strings.TrimSpace(strings.TrimPrefix(header, strings.TrimSpace(v.Prefix)))
	if signature == "" {
		return fmt.Errorf("webhooks: signature value is required")
	}

	var (
		decoded []byte
		err     error
	)
	switch strings.ToLower(strings.TrimSpace(v.Encoding)) {
	case "base64":
		decoded, err = base64.StdEncoding.DecodeString(signature)
	default:
		decoded, err = hex.DecodeString(signature)
	}
	if err != nil {
		return fmt.Errorf("webhooks: decode signature: %w", err)
	}
	if !hmac.Equal(decoded, Sign(secret, req.Body)) {
		return fmt.Errorf("webhooks: signature verification failed")
	}
	return nil
}

// Sign returns the raw HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) []byte {
	mac := hmac.New(sha256.New, []byte(strings.TrimSpace(secret)))
	_, _ = mac.Write(body)
	return mac.Sum(nil)
}

// AnyVerifier accepts a request when any verifier accepts it.
type AnyVerifier []Verifier

func (v AnyVerifier) Verify(ctx context.Context, req core.InboundRequest) error {
	var lastErr error
	for _, verifier := range v {
		if verifier == nil {
			continue
		}
		if err := verifier.Verify(ctx, req); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	if lastErr == nil {
		return fmt.Errorf("webhooks: no verifier configured")
	}
	return lastErr
}

var (
	_ Verifier = HeaderTokenVerifier{}
	_ Verifier = HeaderHMACVerifier{}
	_ Verifier = AnyVerifier(nil)
)
