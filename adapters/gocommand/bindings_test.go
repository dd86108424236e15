package gocommand

import (
	"context"
	"testing"

	"github.com/goliatone/go-command"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-govnotify/core"
)

func TestBind_RoutesCommandsAndQueriesToService(t *testing.T) {
	ctx := context.Background()
	queue := &recordingQueue{}
	svc, err := core.NewService(core.DefaultConfig(), core.WithNotificationQueue(queue))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	adapter := NewRegistryAdapter(command.NewRegistry())
	bindings, err := Bind(adapter, svc)
	if err != nil {
		t.Fatalf("bind: %v", err)
	}
	defer bindings.Close()
	if err := adapter.Initialize(); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	sub, err := Subscribe(ctx, "42", core.SubscriptionDelta{Keywords: []string{"Treasury"}})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if len(sub.Keywords) != 1 || sub.Keywords[0] != "treasury" {
		t.Fatalf("expected normalized keyword, got %#v", sub.Keywords)
	}

	result, err := Ingest(ctx, core.Event{
		EventID: "p9:created",
		Kind:    core.EventKindCreated,
		SpaceID: "ens.eth",
		Title:   "Treasury diversification",
	})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if len(result.Matched) != 1 || result.Matched[0] != "42" || !result.Enqueued {
		t.Fatalf("unexpected ingest result: %#v", result)
	}

	record, err := GetMatchRecord(ctx, "p9:created")
	if err != nil {
		t.Fatalf("get match record: %v", err)
	}
	if len(record.Pending()) != 1 {
		t.Fatalf("expected one pending recipient, got %v", record.Pending())
	}
	if err := Redeliver(ctx, "p9:created"); err != nil {
		t.Fatalf("redeliver: %v", err)
	}
	if len(queue.published) != 2 {
		t.Fatalf("expected ingest and redeliver to publish, got %d", len(queue.published))
	}

	after, err := Unsubscribe(ctx, "42", core.SubscriptionDelta{Keywords: []string{"treasury"}})
	if err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
	if !after.IsEmpty() {
		t.Fatalf("expected empty subscription, got %#v", after)
	}
	page, err := ListSubscriptions(ctx, "", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	for _, item := range page.Items {
		if item.UserID == "42" && !item.IsEmpty() {
			t.Fatalf("expected user 42 to hold no criteria, got %#v", item)
		}
	}
}

func TestBind_BlankUserIsBadInput(t *testing.T) {
	svc, err := core.NewService(core.DefaultConfig(), core.WithNotificationQueue(&recordingQueue{}))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	adapter := NewRegistryAdapter(command.NewRegistry())
	bindings, err := Bind(adapter, svc)
	if err != nil {
		t.Fatalf("bind: %v", err)
	}
	defer bindings.Close()

	_, err = GetSubscription(context.Background(), "  ")
	if err == nil {
		t.Fatalf("expected blank user id to be rejected")
	}
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) || rich.TextCode != core.ServiceErrorBadInput {
		t.Fatalf("expected bad input envelope, got %v", err)
	}
}

func TestBind_RequiresService(t *testing.T) {
	if _, err := Bind(NewRegistryAdapter(nil), nil); err == nil {
		t.Fatalf("expected missing service error")
	}
}

type recordingQueue struct {
	published []core.Notification
}

func (q *recordingQueue) Publish(_ context.Context, notification core.Notification) error {
	q.published = append(q.published, notification)
	return nil
}
