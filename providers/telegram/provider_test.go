package telegram

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-govnotify/core"
	"github.com/goliatone/go-govnotify/transport"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client, err := New(Config{Token: "123:abc", APIBaseURL: server.URL}, transport.NewRESTAdapter(server.Client()))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestSend_PostsSendMessage(t *testing.T) {
	var gotPath string
	var got sendMessageRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":1}}`))
	})

	if err := client.Send(context.Background(), "4242", "hello"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if gotPath != "/bot123:abc/sendMessage" {
		t.Fatalf("unexpected path %q", gotPath)
	}
	if got.ChatID != "4242" || got.Text != "hello" || !got.DisableWebPagePreview {
		t.Fatalf("unexpected payload: %#v", got)
	}
}

func TestSend_EnablePreviewTurnsPreviewOn(t *testing.T) {
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":2}}`))
	}))
	t.Cleanup(server.Close)
	client, err := New(Config{Token: "123:abc", APIBaseURL: server.URL, EnablePreview: true}, transport.NewRESTAdapter(server.Client()))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	if err := client.Send(context.Background(), "4242", "hello"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if disabled, _ := got["disable_web_page_preview"].(bool); disabled {
		t.Fatalf("expected previews left on, got %#v", got)
	}
}

func TestSend_OkFalseIsFailure(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"ok":false,"description":"chat not found"}`))
	})
	err := client.Send(context.Background(), "1", "hello")
	if err == nil || !strings.Contains(err.Error(), "chat not found") {
		t.Fatalf("expected chat not found failure, got %v", err)
	}
}

func TestSend_RateLimitCarriesRetryAfter(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"ok":false,"error_code":429,"description":"Too Many Requests","parameters":{"retry_after":7}}`))
	})
	err := client.Send(context.Background(), "1", "hello")
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %v", err)
	}
	if rich.Category != goerrors.CategoryRateLimit {
		t.Fatalf("expected rate limit category, got %q", rich.Category)
	}
	if rich.Metadata["retry_after"] != 7 {
		t.Fatalf("expected retry_after metadata, got %#v", rich.Metadata)
	}
}

func TestSend_ThrottledChatFailsFast(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var body sendMessageRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.ChatID == "1" {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"ok":false,"error_code":429,"description":"Too Many Requests","parameters":{"retry_after":30}}`))
			return
		}
		_, _ = w.Write([]byte(`{"ok":true,"result":{}}`))
	})
	ctx := context.Background()
	if err := client.Send(ctx, "1", "first"); err == nil {
		t.Fatalf("expected 429 failure")
	}
	err := client.Send(ctx, "1", "second")
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) || rich.TextCode != core.ServiceErrorRateLimited {
		t.Fatalf("expected local throttle error, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected throttled send to skip the api, got %d calls", calls.Load())
	}
	if err := client.Send(ctx, "2", "other chat"); err != nil {
		t.Fatalf("expected other chat to send, got %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected two api calls, got %d", calls.Load())
	}
}

func TestSend_RejectsNonNumericChat(t *testing.T) {
	client := newTestClient(t, func(http.ResponseWriter, *http.Request) {
		t.Errorf("no request expected")
	})
	if err := client.Send(context.Background(), "alice", "hi"); err == nil {
		t.Fatalf("expected non-numeric chat id to fail")
	}
}

func TestSend_TransportErrorHidesToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := server.URL
	server.Close()
	client, err := New(Config{Token: "999:secret-token", APIBaseURL: url}, transport.NewRESTAdapter(nil))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	err = client.Send(context.Background(), "1", "hi")
	if err == nil {
		t.Fatalf("expected connection failure")
	}
	if strings.Contains(err.Error(), "secret-token") {
		t.Fatalf("expected token to be redacted, got %v", err)
	}
}

func TestSetWebhook_SendsSecret(t *testing.T) {
	var got setWebhookRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/setWebhook") {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"ok":true,"result":true}`))
	})
	if err := client.SetWebhook(context.Background(), "https://bot.example.com/telegram/webhook", "s3cret"); err != nil {
		t.Fatalf("set webhook: %v", err)
	}
	if got.URL != "https://bot.example.com/telegram/webhook" || got.SecretToken != "s3cret" {
		t.Fatalf("unexpected webhook payload: %#v", got)
	}
}

func TestNew_RequiresToken(t *testing.T) {
	if _, err := New(Config{}, nil); err == nil {
		t.Fatalf("expected missing token error")
	}
}

func TestParseUpdate_Command(t *testing.T) {
	update, err := ParseUpdate([]byte(`{"update_id":10,"message":{"message_id":3,"from":{"id":77},"chat":{"id":77,"type":"private"},"text":"/Subscribe@govbot project aave.eth"}}`))
	if err != nil {
		t.Fatalf("parse update: %v", err)
	}
	if update.SenderID() != "77" {
		t.Fatalf("unexpected sender %q", update.SenderID())
	}
	name, args, ok := update.Message.Command()
	if !ok || name != "subscribe" || len(args) != 2 || args[1] != "aave.eth" {
		t.Fatalf("unexpected command parse: %q %v %v", name, args, ok)
	}
	if _, _, ok := (&Message{Text: "hello"}).Command(); ok {
		t.Fatalf("expected plain text not to be a command")
	}
	if _, err := ParseUpdate([]byte(`{"message":{}}`)); err == nil {
		t.Fatalf("expected missing update_id error")
	}
}
