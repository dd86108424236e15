package core

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestParseEventKind(t *testing.T) {
	tests := map[string]EventKind{
		"proposal/created": EventKindCreated,
		"proposal/start":   EventKindStarted,
		"Proposal/End":     EventKindEnded,
		"deleted":          EventKindDeleted,
	}
	for raw, want := range tests {
		got, err := ParseEventKind(raw)
		if err != nil || got != want {
			t.Fatalf("ParseEventKind(%q) = %q, %v; want %q", raw, got, err, want)
		}
	}
	if _, err := ParseEventKind("proposal/archived"); !errors.Is(err, ErrInvalidEventKind) {
		t.Fatalf("expected invalid kind error, got %v", err)
	}
}

func TestEventValidate(t *testing.T) {
	if err := daoVoteEvent().Validate(); err != nil {
		t.Fatalf("expected valid event, got %v", err)
	}

	now := time.Now().UTC()
	invalid := []Event{
		{Kind: EventKindCreated, SpaceID: "s1", Title: "t"},
		{EventID: "e1", Kind: EventKindCreated, Title: "t"},
		{EventID: "e1", Kind: EventKindCreated, SpaceID: "s1", Title: "  "},
		{EventID: "e1", Kind: "archived", SpaceID: "s1", Title: "t"},
		{EventID: "e1", Kind: EventKindCreated, SpaceID: "s1", Title: "t", Start: now, End: now.Add(-time.Hour)},
	}
	for i, event := range invalid {
		if err := event.Validate(); !errors.Is(err, ErrInvalidEvent) {
			t.Fatalf("case %d: expected invalid event, got %v", i, err)
		}
	}

	emptyBody := daoVoteEvent()
	emptyBody.Body = ""
	if err := emptyBody.Validate(); err != nil {
		t.Fatalf("empty body must be accepted, got %v", err)
	}
}

func TestEventNormalized_DerivesTickers(t *testing.T) {
	got := daoVoteEvent().Normalized()
	if diff := cmp.Diff([]string{"DAO", "VOTE", "XYZ"}, got.Tickers); diff != "" {
		t.Fatalf("tickers mismatch (-want +got):\n%s", diff)
	}
}

func TestSubscriptionApplyUpsert_IsSetUnion(t *testing.T) {
	sub := EmptySubscription("u1").ApplyUpsert(SubscriptionDelta{
		Projects: []string{"s1", "s1", " s2 "},
		Keywords: []string{"Vote", "vote"},
	})
	sub = sub.ApplyUpsert(SubscriptionDelta{Projects: []string{"s2", "s3"}, Symbols: []string{"$uni"}})

	want := Subscription{
		UserID:   "u1",
		Projects: []string{"s1", "s2", "s3"},
		Keywords: []string{"vote"},
		Tickers:  true,
		Symbols:  []string{"UNI"},
	}
	if diff := cmp.Diff(want, sub); diff != "" {
		t.Fatalf("subscription mismatch (-want +got):\n%s", diff)
	}
}

func TestSubscriptionApplyRemove_IsSetDifference(t *testing.T) {
	sub := Subscription{
		UserID:   "u1",
		Projects: []string{"s1", "s2"},
		Keywords: []string{"vote"},
		Tickers:  true,
	}
	got := sub.ApplyRemove(SubscriptionDelta{Projects: []string{"s2", "s9"}, Tickers: true})
	if diff := cmp.Diff([]string{"s1"}, got.Projects); diff != "" {
		t.Fatalf("projects mismatch (-want +got):\n%s", diff)
	}
	if got.Tickers {
		t.Fatalf("expected tickers opt-out")
	}
	if diff := cmp.Diff([]string{"vote"}, got.Keywords); diff != "" {
		t.Fatalf("keywords must be untouched (-want +got):\n%s", diff)
	}

	empty := got.ApplyRemove(SubscriptionDelta{Projects: []string{"s1"}, Keywords: []string{"vote"}})
	if !empty.IsEmpty() {
		t.Fatalf("expected empty subscription after removing everything")
	}
}

func TestSubscriptionApplyRemove_LastSymbolDropsTickerOptIn(t *testing.T) {
	sub := EmptySubscription("u1").ApplyUpsert(SubscriptionDelta{Symbols: []string{"AAVE", "UNI"}})

	narrowed := sub.ApplyRemove(SubscriptionDelta{Symbols: []string{"aave"}})
	if !narrowed.Tickers || len(narrowed.Symbols) != 1 || narrowed.Symbols[0] != "UNI" {
		t.Fatalf("expected UNI to stay subscribed, got %+v", narrowed)
	}

	cleared := narrowed.ApplyRemove(SubscriptionDelta{Symbols: []string{"$UNI"}})
	if cleared.Tickers || len(cleared.Symbols) != 0 || !cleared.IsEmpty() {
		t.Fatalf("expected removing the last symbol to clear the ticker opt-in, got %+v", cleared)
	}
	unrelated := Event{EventID: "e9", Kind: EventKindCreated, SpaceID: "s9", Title: "Treasury grant", Body: "fund the new team"}
	if Matches(unrelated, cleared) {
		t.Fatalf("expected a cleared subscription to match nothing")
	}

	all := EmptySubscription("u2").ApplyUpsert(SubscriptionDelta{Tickers: true})
	if got := all.ApplyRemove(SubscriptionDelta{Symbols: []string{"AAVE"}}); !got.Tickers {
		t.Fatalf("expected removing an unsubscribed symbol to keep the all-tickers opt-in")
	}
}

func TestMatchRecord_PendingAndRecipients(t *testing.T) {
	record := NewMatchRecord(daoVoteEvent(), []string{"u2", "u1", " ", "u3"}, time.Now())
	record.Deliveries["u2"] = DeliveryStatus{Delivered: true}

	if diff := cmp.Diff([]string{"u1", "u2", "u3"}, record.Recipients()); diff != "" {
		t.Fatalf("recipients mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"u1", "u3"}, record.Pending()); diff != "" {
		t.Fatalf("pending mismatch (-want +got):\n%s", diff)
	}
	if record.Deliveries["u1"].State() != DeliveryStatePending || record.Deliveries["u2"].State() != DeliveryStateDelivered {
		t.Fatalf("unexpected delivery states")
	}
}
