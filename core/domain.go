package core

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"
)

var (
	ErrInvalidEvent          = errors.New("core: invalid event")
	ErrInvalidEventKind      = errors.New("core: invalid event kind")
	ErrInvalidUserID         = errors.New("core: user id is required")
	ErrMatchRecordNotFound   = errors.New("core: match record not found")
	ErrDeliveryIncomplete    = errors.New("core: delivery incomplete")
	ErrInvalidNotification   = errors.New("core: invalid notification")
	ErrEventNotFound         = errors.New("core: event not found")
	ErrSubscriptionUnchanged = errors.New("core: subscription delta is empty")
)

type EventKind string

const (
	EventKindCreated EventKind = "created"
	EventKindStarted EventKind = "started"
	EventKindEnded   EventKind = "ended"
	EventKindDeleted EventKind = "deleted"
)

// ParseEventKind accepts the lifecycle tag either bare ("created") or in the
// "proposal/<verb>" form used by the Snapshot webhook ("proposal/start").
func ParseEventKind(raw string) (EventKind, error) {
	value := strings.ToLower(strings.TrimSpace(raw))
	if idx := strings.LastIndex(value, "/"); idx >= 0 {
		value = value[idx+1:]
	}
	switch value {
	case "created", "create":
		return EventKindCreated, nil
	case "started", "start":
		return EventKindStarted, nil
	case "ended", "end":
		return EventKindEnded, nil
	case "deleted", "delete":
		return EventKindDeleted, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidEventKind, raw)
}

func (k EventKind) Valid() bool {
	switch k {
	case EventKindCreated, EventKindStarted, EventKindEnded, EventKindDeleted:
		return true
	}
	return false
}

// Event is one proposal lifecycle occurrence. It is immutable once stored.
type Event struct {
	EventID    string    `json:"event_id"`
	Kind       EventKind `json:"kind"`
	SpaceID    string    `json:"space_id"`
	SpaceName  string    `json:"space_name,omitempty"`
	ProposalID string    `json:"proposal_id,omitempty"`
	Title      string    `json:"title"`
	Body       string    `json:"body"`
	Tickers    []string  `json:"tickers,omitempty"`
	Choices    []string  `json:"choices,omitempty"`
	Link       string    `json:"link,omitempty"`
	Start      time.Time `json:"start,omitzero"`
	End        time.Time `json:"end,omitzero"`
	Expire     time.Time `json:"expire,omitzero"`
	ReceivedAt time.Time `json:"received_at,omitzero"`
}

// Validate rejects events the matcher must never see.
func (e Event) Validate() error {
	var problems []string
	if strings.TrimSpace(e.EventID) == "" {
		problems = append(problems, "event_id is required")
	}
	if strings.TrimSpace(e.SpaceID) == "" {
		problems = append(problems, "space_id is required")
	}
	if strings.TrimSpace(e.Title) == "" {
		problems = append(problems, "title is required")
	}
	if !e.Kind.Valid() {
		problems = append(problems, fmt.Sprintf("kind %q is not a lifecycle tag", e.Kind))
	}
	if !e.Start.IsZero() && !e.End.IsZero() && e.End.Before(e.Start) {
		problems = append(problems, "end precedes start")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidEvent, strings.Join(problems, "; "))
	}
	return nil
}

// Normalized trims identifiers and derives the ticker set from title and body.
func (e Event) Normalized() Event {
	out := e
	out.EventID = strings.TrimSpace(e.EventID)
	out.SpaceID = strings.TrimSpace(e.SpaceID)
	out.ProposalID = strings.TrimSpace(e.ProposalID)
	out.Choices = append([]string(nil), e.Choices...)
	out.Tickers = ExtractTickers(e.Title, e.Body)
	return out
}

// Subscription holds one user's interest criteria. Set fields are kept sorted
// and de-duplicated.
type Subscription struct {
	UserID    string    `json:"user_id"`
	Projects  []string  `json:"projects"`
	Keywords  []string  `json:"keywords"`
	Tickers   bool      `json:"tickers"`
	Symbols   []string  `json:"symbols,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitzero"`
}

func EmptySubscription(userID string) Subscription {
	return Subscription{
		UserID:   strings.TrimSpace(userID),
		Projects: []string{},
		Keywords: []string{},
		Symbols:  []string{},
	}
}

// IsEmpty reports whether the subscription can never match an event.
func (s Subscription) IsEmpty() bool {
	return len(s.Projects) == 0 && len(s.Keywords) == 0 && !s.Tickers
}

// SubscriptionDelta carries the values added by a subscribe or removed by an
// unsubscribe. Tickers expresses intent: true toggles the ticker opt-in.
type SubscriptionDelta struct {
	Projects []string `json:"projects,omitempty"`
	Keywords []string `json:"keywords,omitempty"`
	Symbols  []string `json:"symbols,omitempty"`
	Tickers  bool     `json:"tickers,omitempty"`
}

func (d SubscriptionDelta) Normalized() SubscriptionDelta {
	return SubscriptionDelta{
		Projects: NormalizeProjects(d.Projects),
		Keywords: NormalizeKeywords(d.Keywords),
		Symbols:  NormalizeSymbols(d.Symbols),
		Tickers:  d.Tickers,
	}
}

func (d SubscriptionDelta) IsEmpty() bool {
	return len(d.Projects) == 0 && len(d.Keywords) == 0 && len(d.Symbols) == 0 && !d.Tickers
}

// ApplyUpsert merges the delta into the subscription by set-union.
func (s Subscription) ApplyUpsert(delta SubscriptionDelta) Subscription {
	delta = delta.Normalized()
	out := s.clone()
	out.Projects = unionSorted(out.Projects, delta.Projects)
	out.Keywords = unionSorted(out.Keywords, delta.Keywords)
	out.Symbols = unionSorted(out.Symbols, delta.Symbols)
	if delta.Tickers || len(delta.Symbols) > 0 {
		out.Tickers = true
	}
	return out
}

// ApplyRemove removes the delta's values by set-difference. Removing the
// last symbol also drops the ticker opt-in, otherwise the empty symbol set
// would widen the subscription to every ticker.
func (s Subscription) ApplyRemove(delta SubscriptionDelta) Subscription {
	delta = delta.Normalized()
	out := s.clone()
	out.Projects = differenceSorted(out.Projects, delta.Projects)
	out.Keywords = differenceSorted(out.Keywords, delta.Keywords)
	hadSymbols := len(out.Symbols) > 0
	out.Symbols = differenceSorted(out.Symbols, delta.Symbols)
	if delta.Tickers || (hadSymbols && len(out.Symbols) == 0) {
		out.Tickers = false
	}
	return out
}

func (s Subscription) clone() Subscription {
	out := s
	out.Projects = NormalizeProjects(s.Projects)
	out.Keywords = NormalizeKeywords(s.Keywords)
	out.Symbols = NormalizeSymbols(s.Symbols)
	return out
}

type DeliveryState string

const (
	DeliveryStatePending   DeliveryState = "pending"
	DeliveryStateDelivered DeliveryState = "delivered"
)

// DeliveryStatus tracks one recipient of a match record. Delivered moves
// from false to true once and never back.
type DeliveryStatus struct {
	Delivered   bool      `json:"delivered"`
	DeliveredAt time.Time `json:"delivered_at,omitzero"`
	Attempts    int       `json:"attempts"`
	LastError   string    `json:"last_error,omitempty"`
}

func (d DeliveryStatus) State() DeliveryState {
	if d.Delivered {
		return DeliveryStateDelivered
	}
	return DeliveryStatePending
}

// MatchRecord is the fan-out artifact for one matched event.
type MatchRecord struct {
	EventID    string                    `json:"event_id"`
	Event      Event                     `json:"event"`
	Deliveries map[string]DeliveryStatus `json:"deliveries"`
	CreatedAt  time.Time                 `json:"created_at,omitzero"`
}

func NewMatchRecord(event Event, userIDs []string, now time.Time) MatchRecord {
	deliveries := make(map[string]DeliveryStatus, len(userIDs))
	for _, userID := range userIDs {
		userID = strings.TrimSpace(userID)
		if userID == "" {
			continue
		}
		deliveries[userID] = DeliveryStatus{}
	}
	return MatchRecord{
		EventID:    strings.TrimSpace(event.EventID),
		Event:      event,
		Deliveries: deliveries,
		CreatedAt:  now,
	}
}

// Pending returns recipients whose status is still pending, sorted.
func (r MatchRecord) Pending() []string {
	out := make([]string, 0, len(r.Deliveries))
	for userID, status := range r.Deliveries {
		if !status.Delivered {
			out = append(out, userID)
		}
	}
	sort.Strings(out)
	return out
}

func (r MatchRecord) Recipients() []string {
	out := make([]string, 0, len(r.Deliveries))
	for userID := range r.Deliveries {
		out = append(out, userID)
	}
	sort.Strings(out)
	return out
}

// Notification is the transport payload. It references the match record and
// carries no delivery state.
type Notification struct {
	EventID string
}

type IngestResult struct {
	EventID  string
	Matched  []string
	Created  bool
	Enqueued bool
}

type DeliveryReport struct {
	EventID   string
	Delivered []string
	Failed    []string
	Skipped   []string
	Enriched  Enrichment
}

func (r DeliveryReport) Complete() bool {
	return len(r.Failed) == 0
}

type SubscriptionPage struct {
	Items      []Subscription `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

func NormalizeProjects(values []string) []string {
	return normalizeSet(values, strings.TrimSpace)
}

func NormalizeKeywords(values []string) []string {
	return normalizeSet(values, func(value string) string {
		return strings.ToLower(strings.TrimSpace(value))
	})
}

func NormalizeSymbols(values []string) []string {
	return normalizeSet(values, func(value string) string {
		return strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(value)), "$")
	})
}

func normalizeSet(values []string, fn func(string) string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		value = fn(value)
		if value == "" {
			continue
		}
		out = append(out, value)
	}
	sort.Strings(out)
	return slices.Compact(out)
}

func unionSorted(base []string, extra []string) []string {
	merged := make([]string, 0, len(base)+len(extra))
	merged = append(append(merged, base...), extra...)
	sort.Strings(merged)
	return slices.Compact(merged)
}

func differenceSorted(base []string, remove []string) []string {
	if len(remove) == 0 {
		return append([]string{}, base...)
	}
	drop := make(map[string]struct{}, len(remove))
	for _, value := range remove {
		drop[value] = struct{}{}
	}
	out := make([]string, 0, len(base))
	for _, value := range base {
		if _, ok := drop[value]; ok {
			continue
		}
		out = append(out, value)
	}
	return out
}

func copyAnyMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}
