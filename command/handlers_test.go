package command

import (
	"context"
	"errors"
	"testing"

	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-govnotify/core"
)

func TestSubscribeCommand_ExecuteDelegatesAndStoresResult(t *testing.T) {
	expected := core.Subscription{UserID: "42", Projects: []string{"aave.eth"}, Keywords: []string{}}
	called := false
	svc := &stubMutatingService{
		subscribeFn: func(_ context.Context, userID string, delta core.SubscriptionDelta) (core.Subscription, error) {
			called = true
			if userID != "42" || len(delta.Projects) != 1 || delta.Projects[0] != "aave.eth" {
				t.Fatalf("unexpected subscribe payload: %q %#v", userID, delta)
			}
			return expected, nil
		},
	}

	collector := gocmd.NewResult[core.Subscription]()
	ctx := gocmd.ContextWithResult(context.Background(), collector)
	err := NewSubscribeCommand(svc).Execute(ctx, SubscribeMessage{
		UserID: "42",
		Delta:  core.SubscriptionDelta{Projects: []string{"aave.eth"}},
	})
	if err != nil {
		t.Fatalf("execute subscribe: %v", err)
	}
	if !called {
		t.Fatalf("expected subscribe invocation")
	}
	result, ok := collector.Load()
	if !ok {
		t.Fatalf("expected result to be stored")
	}
	if result.UserID != "42" || len(result.Projects) != 1 {
		t.Fatalf("unexpected result: %#v", result)
	}
}

func TestMutationCommands_DelegateToService(t *testing.T) {
	t.Run("unsubscribe", func(t *testing.T) {
		svc := &stubMutatingService{
			unsubscribeFn: func(_ context.Context, userID string, delta core.SubscriptionDelta) (core.Subscription, error) {
				if userID != "7" || !delta.Tickers {
					t.Fatalf("unexpected unsubscribe payload: %q %#v", userID, delta)
				}
				return core.EmptySubscription(userID), nil
			},
		}
		collector := gocmd.NewResult[core.Subscription]()
		ctx := gocmd.ContextWithResult(context.Background(), collector)
		if err := NewUnsubscribeCommand(svc).Execute(ctx, UnsubscribeMessage{UserID: "7", Delta: core.SubscriptionDelta{Tickers: true}}); err != nil {
			t.Fatalf("execute unsubscribe: %v", err)
		}
		if result, ok := collector.Load(); !ok || !result.IsEmpty() {
			t.Fatalf("expected empty subscription result, got %#v", result)
		}
	})

	t.Run("ingest", func(t *testing.T) {
		svc := &stubMutatingService{
			ingestFn: func(_ context.Context, event core.Event) (core.IngestResult, error) {
				return core.IngestResult{EventID: event.EventID, Matched: []string{"1", "2"}, Created: true, Enqueued: true}, nil
			},
		}
		collector := gocmd.NewResult[core.IngestResult]()
		ctx := gocmd.ContextWithResult(context.Background(), collector)
		if err := NewIngestEventCommand(svc).Execute(ctx, IngestEventMessage{Event: sampleEvent()}); err != nil {
			t.Fatalf("execute ingest: %v", err)
		}
		result, ok := collector.Load()
		if !ok || result.EventID != "prop-1:created" || len(result.Matched) != 2 {
			t.Fatalf("unexpected ingest result: %#v", result)
		}
	})

	t.Run("redeliver", func(t *testing.T) {
		var got string
		svc := &stubMutatingService{
			redeliverFn: func(_ context.Context, eventID string) error {
				got = eventID
				return nil
			},
		}
		if err := NewRedeliverEventCommand(svc).Execute(context.Background(), RedeliverEventMessage{EventID: "prop-1:created"}); err != nil {
			t.Fatalf("execute redeliver: %v", err)
		}
		if got != "prop-1:created" {
			t.Fatalf("expected redeliver for prop-1:created, got %q", got)
		}
	})
}

func TestCommands_PropagateServiceErrors(t *testing.T) {
	boom := errors.New("store unavailable")
	svc := &stubMutatingService{
		subscribeFn: func(context.Context, string, core.SubscriptionDelta) (core.Subscription, error) {
			return core.Subscription{}, boom
		},
		redeliverFn: func(context.Context, string) error { return boom },
	}
	if err := NewSubscribeCommand(svc).Execute(context.Background(), SubscribeMessage{UserID: "1", Delta: core.SubscriptionDelta{Tickers: true}}); !errors.Is(err, boom) {
		t.Fatalf("expected subscribe error to propagate, got %v", err)
	}
	if err := NewRedeliverEventCommand(svc).Execute(context.Background(), RedeliverEventMessage{EventID: "x"}); !errors.Is(err, boom) {
		t.Fatalf("expected redeliver error to propagate, got %v", err)
	}
}

func TestMessages_Validate(t *testing.T) {
	cases := []struct {
		name    string
		msg     interface{ Validate() error }
		wantErr bool
	}{
		{"subscribe ok", SubscribeMessage{UserID: "1", Delta: core.SubscriptionDelta{Keywords: []string{"grant"}}}, false},
		{"subscribe missing user", SubscribeMessage{Delta: core.SubscriptionDelta{Keywords: []string{"grant"}}}, true},
		{"subscribe blank values", SubscribeMessage{UserID: "1", Delta: core.SubscriptionDelta{Keywords: []string{"  "}}}, true},
		{"unsubscribe tickers only", UnsubscribeMessage{UserID: "1", Delta: core.SubscriptionDelta{Tickers: true}}, false},
		{"ingest ok", IngestEventMessage{Event: sampleEvent()}, false},
		{"ingest invalid kind", IngestEventMessage{Event: core.Event{EventID: "e", SpaceID: "s", Title: "t", Kind: "voted"}}, true},
		{"redeliver missing id", RedeliverEventMessage{}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.msg.Validate()
			if (err != nil) != tc.wantErr {
				t.Fatalf("expected error=%v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestMessageTypes_AreNamespaced(t *testing.T) {
	types := []string{
		SubscribeMessage{}.Type(),
		UnsubscribeMessage{}.Type(),
		IngestEventMessage{}.Type(),
		RedeliverEventMessage{}.Type(),
	}
	seen := map[string]bool{}
	for _, typ := range types {
		if seen[typ] {
			t.Fatalf("duplicate message type %q", typ)
		}
		seen[typ] = true
	}
	if (SubscribeMessage{}).Type() != "govnotify.command.subscription.subscribe" {
		t.Fatalf("unexpected subscribe type %q", SubscribeMessage{}.Type())
	}
}

func sampleEvent() core.Event {
	return core.Event{
		EventID: "prop-1:created",
		Kind:    core.EventKindCreated,
		SpaceID: "aave.eth",
		Title:   "Raise $AAVE reserve factor",
		Body:    "Proposal body",
	}
}

type stubMutatingService struct {
	subscribeFn   func(ctx context.Context, userID string, delta core.SubscriptionDelta) (core.Subscription, error)
	unsubscribeFn func(ctx context.Context, userID string, delta core.SubscriptionDelta) (core.Subscription, error)
	ingestFn      func(ctx context.Context, event core.Event) (core.IngestResult, error)
	redeliverFn   func(ctx context.Context, eventID string) error
}

func (s *stubMutatingService) Subscribe(ctx context.Context, userID string, delta core.SubscriptionDelta) (core.Subscription, error) {
	if s.subscribeFn == nil {
		return core.Subscription{}, errors.New("subscribe not stubbed")
	}
	return s.subscribeFn(ctx, userID, delta)
}

func (s *stubMutatingService) Unsubscribe(ctx context.Context, userID string, delta core.SubscriptionDelta) (core.Subscription, error) {
	if s.unsubscribeFn == nil {
		return core.Subscription{}, errors.New("unsubscribe not stubbed")
	}
	return s.unsubscribeFn(ctx, userID, delta)
}

func (s *stubMutatingService) Ingest(ctx context.Context, event core.Event) (core.IngestResult, error) {
	if s.ingestFn == nil {
		return core.IngestResult{}, errors.New("ingest not stubbed")
	}
	return s.ingestFn(ctx, event)
}

func (s *stubMutatingService) Redeliver(ctx context.Context, eventID string) error {
	if s.redeliverFn == nil {
		return errors.New("redeliver not stubbed")
	}
	return s.redeliverFn(ctx, eventID)
}
