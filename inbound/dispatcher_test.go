package inbound

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/goliatone/go-govnotify/core"
)

func telegramRequest(updateID int) core.InboundRequest {
	return core.InboundRequest{
		ProviderID: "telegram",
		Surface:    SurfaceTelegramCommand,
		Metadata:   map[string]any{"update_id": updateID},
	}
}

func TestDispatcher_DropsDuplicateTelegramUpdates(t *testing.T) {
	store := NewMemoryClaimStore()
	handler := &stubInboundHandler{surface: SurfaceTelegramCommand, result: core.InboundResult{Accepted: true, StatusCode: http.StatusOK}}
	dispatcher := NewDispatcher(stubInboundVerifier{}, store)
	if err := dispatcher.Register(handler); err != nil {
		t.Fatalf("register handler: %v", err)
	}

	first, err := dispatcher.Dispatch(context.Background(), telegramRequest(1001))
	if err != nil {
		t.Fatalf("dispatch first update: %v", err)
	}
	if !first.Accepted || first.Metadata["surface"] != SurfaceTelegramCommand {
		t.Fatalf("unexpected first result: %+v", first)
	}

	second, err := dispatcher.Dispatch(context.Background(), telegramRequest(1001))
	if err != nil {
		t.Fatalf("dispatch duplicate update: %v", err)
	}
	if second.Metadata["deduped"] != true {
		t.Fatalf("expected deduped marker, got %+v", second.Metadata)
	}
	if handler.calls != 1 {
		t.Fatalf("expected one handler call, got %d", handler.calls)
	}
	if _, err := dispatcher.Dispatch(context.Background(), telegramRequest(1002)); err != nil {
		t.Fatalf("dispatch next update: %v", err)
	}
	if handler.calls != 2 {
		t.Fatalf("expected distinct update to be handled, got %d calls", handler.calls)
	}
}

func TestDispatcher_CompletedKeyExpiresAfterTTL(t *testing.T) {
	store := NewMemoryClaimStore()
	now := time.Date(2026, 4, 2, 8, 0, 0, 0, time.UTC)
	store.Now = func() time.Time { return now }
	handler := &stubInboundHandler{surface: SurfaceTelegramCommand, result: core.InboundResult{Accepted: true, StatusCode: http.StatusOK}}
	dispatcher := NewDispatcher(nil, store)
	dispatcher.KeyTTL = time.Minute
	if err := dispatcher.Register(handler); err != nil {
		t.Fatalf("register handler: %v", err)
	}

	for i := 0; i < 2; i++ {
		if _, err := dispatcher.Dispatch(context.Background(), telegramRequest(7)); err != nil {
			t.Fatalf("dispatch %d: %v", i, err)
		}
	}
	if handler.calls != 1 {
		t.Fatalf("expected duplicate suppressed inside ttl, got %d", handler.calls)
	}
	now = now.Add(2 * time.Minute)
	if _, err := dispatcher.Dispatch(context.Background(), telegramRequest(7)); err != nil {
		t.Fatalf("dispatch after ttl: %v", err)
	}
	if handler.calls != 2 {
		t.Fatalf("expected handler to run after ttl, got %d", handler.calls)
	}
}

func TestDispatcher_FailedHandlerReleasesClaim(t *testing.T) {
	store := NewMemoryClaimStore()
	handler := &stubInboundHandler{surface: SurfaceTelegramCommand, err: errors.New("store offline")}
	dispatcher := NewDispatcher(nil, store)
	if err := dispatcher.Register(handler); err != nil {
		t.Fatalf("register handler: %v", err)
	}
	if _, err := dispatcher.Dispatch(context.Background(), telegramRequest(9)); err == nil {
		t.Fatalf("expected handler failure")
	}

	handler.err = nil
	handler.result = core.InboundResult{Accepted: true, StatusCode: http.StatusOK}
	if _, err := dispatcher.Dispatch(context.Background(), telegramRequest(9)); err != nil {
		t.Fatalf("expected retry to succeed: %v", err)
	}
	if handler.calls != 2 {
		t.Fatalf("expected retry to reach the handler, got %d calls", handler.calls)
	}
	if got := store.Attempts("telegram:telegram.command:9"); got != 2 {
		t.Fatalf("expected two claims, got %d", got)
	}
}

func TestMemoryClaimStore_ProcessingLeaseExpires(t *testing.T) {
	store := NewMemoryClaimStore()
	now := time.Date(2026, 4, 2, 8, 0, 0, 0, time.UTC)
	store.Now = func() time.Time { return now }
	ctx := context.Background()

	claimID, accepted, err := store.Claim(ctx, "k", time.Minute)
	if err != nil || !accepted {
		t.Fatalf("expected first claim, got accepted=%v err=%v", accepted, err)
	}
	if _, accepted, _ := store.Claim(ctx, "k", time.Minute); accepted {
		t.Fatalf("expected live claim to block")
	}
	now = now.Add(2 * time.Minute)
	reclaimID, accepted, err := store.Claim(ctx, "k", time.Minute)
	if err != nil || !accepted || reclaimID == claimID {
		t.Fatalf("expected fresh claim after lease expiry, got %q accepted=%v err=%v", reclaimID, accepted, err)
	}
	if err := store.Complete(ctx, claimID); err != nil {
		t.Fatalf("complete stale claim: %v", err)
	}
	if _, accepted, _ := store.Claim(ctx, "k", time.Minute); accepted {
		t.Fatalf("expected stale completion to leave the live claim in place")
	}
}

func TestDispatcher_RejectsUnknownSurfaceAndUnverified(t *testing.T) {
	dispatcher := NewDispatcher(stubInboundVerifier{err: errors.New("bad secret")}, NewMemoryClaimStore())
	if err := dispatcher.Register(&stubInboundHandler{surface: "interaction"}); err == nil {
		t.Fatalf("expected unsupported surface error")
	}
	handler := &stubInboundHandler{surface: SurfaceTelegramCommand}
	if err := dispatcher.Register(handler); err != nil {
		t.Fatalf("register handler: %v", err)
	}
	if err := dispatcher.Register(handler); err == nil {
		t.Fatalf("expected duplicate registration conflict")
	}
	result, err := dispatcher.Dispatch(context.Background(), telegramRequest(1))
	if err == nil || result.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 rejection, got %+v err=%v", result, err)
	}
	if handler.calls != 0 {
		t.Fatalf("expected handler not called")
	}
}

type stubInboundVerifier struct {
	err error
}

func (v stubInboundVerifier) Verify(context.Context, core.InboundRequest) error {
	return v.err
}

type stubInboundHandler struct {
	surface string
	result  core.InboundResult
	err     error
	calls   int
}

func (h *stubInboundHandler) Surface() string {
	return h.surface
}

func (h *stubInboundHandler) Handle(context.Context, core.InboundRequest) (core.InboundResult, error) {
	h.calls++
	if h.err != nil {
		return core.InboundResult{}, h.err
	}
	return h.result, nil
}
