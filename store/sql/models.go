package sqlstore

import (
	"time"

	"github.com/goliatone/go-govnotify/core"
	"github.com/uptrace/bun"
)

const (
	termKindProject = "project"
	termKindKeyword = "keyword"
	termKindSymbol  = "symbol"
)

type eventRecord struct {
	bun.BaseModel `bun:"table:events,alias:ev"`

	EventID    string     `bun:"event_id,pk"`
	Kind       string     `bun:"kind,notnull"`
	SpaceID    string     `bun:"space_id,notnull"`
	SpaceName  string     `bun:"space_name,notnull"`
	ProposalID string     `bun:"proposal_id,notnull"`
	Title      string     `bun:"title,notnull"`
	Body       string     `bun:"body,notnull"`
	Tickers    []string   `bun:"tickers,type:jsonb,notnull"`
	Choices    []string   `bun:"choices,type:jsonb,notnull"`
	Link       string     `bun:"link,notnull"`
	StartAt    *time.Time `bun:"start_at,nullzero"`
	EndAt      *time.Time `bun:"end_at,nullzero"`
	ExpireAt   *time.Time `bun:"expire_at,nullzero"`
	ReceivedAt time.Time  `bun:"received_at,nullzero,notnull,default:current_timestamp"`
}

type subscriptionRecord struct {
	bun.BaseModel `bun:"table:subscriptions,alias:sub"`

	UserID    string    `bun:"user_id,pk"`
	Tickers   bool      `bun:"tickers,notnull"`
	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type subscriptionTermRecord struct {
	bun.BaseModel `bun:"table:subscription_terms,alias:st"`

	UserID    string    `bun:"user_id,pk"`
	Kind      string    `bun:"kind,pk"`
	Value     string    `bun:"value,pk"`
	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

type matchRecordRow struct {
	bun.BaseModel `bun:"table:match_records,alias:mr"`

	EventID   string     `bun:"event_id,pk"`
	Event     core.Event `bun:"event,type:jsonb,notnull"`
	CreatedAt time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

type matchDeliveryRecord struct {
	bun.BaseModel `bun:"table:match_deliveries,alias:md"`

	EventID     string     `bun:"event_id,pk"`
	UserID      string     `bun:"user_id,pk"`
	Delivered   bool       `bun:"delivered,notnull"`
	DeliveredAt *time.Time `bun:"delivered_at,nullzero"`
	Attempts    int        `bun:"attempts,notnull"`
	LastError   string     `bun:"last_error,notnull"`
	UpdatedAt   time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type outboxRecord struct {
	bun.BaseModel `bun:"table:notification_outbox,alias:nob"`

	ID             string         `bun:"id,pk"`
	JobID          string         `bun:"job_id,notnull"`
	IdempotencyKey string         `bun:"idempotency_key,notnull"`
	Parameters     map[string]any `bun:"parameters,type:jsonb,notnull"`
	Status         string         `bun:"status,notnull"`
	Attempts       int            `bun:"attempts,notnull"`
	AvailableAt    time.Time      `bun:"available_at,notnull"`
	LeaseUntil     *time.Time     `bun:"lease_until,nullzero"`
	ClaimID        *string        `bun:"claim_id"`
	LastError      string         `bun:"last_error,notnull"`
	CreatedAt      time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt      time.Time      `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type webhookDeliveryRecord struct {
	bun.BaseModel `bun:"table:webhook_deliveries,alias:wd"`

	ID            string     `bun:"id,pk"`
	ProviderID    string     `bun:"provider_id,notnull"`
	DeliveryID    string     `bun:"delivery_id,notnull"`
	Status        string     `bun:"status,notnull"`
	Attempts      int        `bun:"attempts,notnull"`
	ClaimID       *string    `bun:"claim_id"`
	LeaseUntil    *time.Time `bun:"lease_until,nullzero"`
	NextAttemptAt *time.Time `bun:"next_attempt_at,nullzero"`
	LastError     string     `bun:"last_error,notnull"`
	Payload       []byte     `bun:"payload"`
	CreatedAt     time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt     time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

func newEventRecord(event core.Event) *eventRecord {
	record := &eventRecord{
		EventID:    event.EventID,
		Kind:       string(event.Kind),
		SpaceID:    event.SpaceID,
		SpaceName:  event.SpaceName,
		ProposalID: event.ProposalID,
		Title:      event.Title,
		Body:       event.Body,
		Tickers:    nonNilStrings(event.Tickers),
		Choices:    nonNilStrings(event.Choices),
		Link:       event.Link,
		StartAt:    timePointer(event.Start),
		EndAt:      timePointer(event.End),
		ExpireAt:   timePointer(event.Expire),
		ReceivedAt: event.ReceivedAt.UTC(),
	}
	if record.ReceivedAt.IsZero() {
		record.ReceivedAt = time.Now().UTC()
	}
	return record
}

func (r *eventRecord) toDomain() core.Event {
	if r == nil {
		return core.Event{}
	}
	return core.Event{
		EventID:    r.EventID,
		Kind:       core.EventKind(r.Kind),
		SpaceID:    r.SpaceID,
		SpaceName:  r.SpaceName,
		ProposalID: r.ProposalID,
		Title:      r.Title,
		Body:       r.Body,
		Tickers:    nonNilStrings(r.Tickers),
		Choices:    append([]string(nil), r.Choices...),
		Link:       r.Link,
		Start:      timeValue(r.StartAt),
		End:        timeValue(r.EndAt),
		Expire:     timeValue(r.ExpireAt),
		ReceivedAt: r.ReceivedAt.UTC(),
	}
}

func subscriptionToDomain(record subscriptionRecord, terms []subscriptionTermRecord) core.Subscription {
	sub := core.EmptySubscription(record.UserID)
	sub.Tickers = record.Tickers
	sub.UpdatedAt = record.UpdatedAt.UTC()
	for _, term := range terms {
		switch term.Kind {
		case termKindProject:
			sub.Projects = append(sub.Projects, term.Value)
		case termKindKeyword:
			sub.Keywords = append(sub.Keywords, term.Value)
		case termKindSymbol:
			sub.Symbols = append(sub.Symbols, term.Value)
		}
	}
	sub.Projects = core.NormalizeProjects(sub.Projects)
	sub.Keywords = core.NormalizeKeywords(sub.Keywords)
	sub.Symbols = core.NormalizeSymbols(sub.Symbols)
	return sub
}

func termsForDelta(userID string, delta core.SubscriptionDelta, now time.Time) []subscriptionTermRecord {
	terms := make([]subscriptionTermRecord, 0, len(delta.Projects)+len(delta.Keywords)+len(delta.Symbols))
	add := func(kind string, values []string) {
		for _, value := range values {
			terms = append(terms, subscriptionTermRecord{UserID: userID, Kind: kind, Value: value, CreatedAt: now})
		}
	}
	add(termKindProject, delta.Projects)
	add(termKindKeyword, delta.Keywords)
	add(termKindSymbol, delta.Symbols)
	return terms
}

func matchRecordToDomain(row matchRecordRow, deliveries []matchDeliveryRecord) core.MatchRecord {
	record := core.MatchRecord{
		EventID:    row.EventID,
		Event:      row.Event,
		Deliveries: make(map[string]core.DeliveryStatus, len(deliveries)),
		CreatedAt:  row.CreatedAt.UTC(),
	}
	for _, delivery := range deliveries {
		record.Deliveries[delivery.UserID] = core.DeliveryStatus{
			Delivered:   delivery.Delivered,
			DeliveredAt: timeValue(delivery.DeliveredAt),
			Attempts:    delivery.Attempts,
			LastError:   delivery.LastError,
		}
	}
	return record
}

func nonNilStrings(values []string) []string {
	if values == nil {
		return []string{}
	}
	return append([]string{}, values...)
}

func timePointer(value time.Time) *time.Time {
	if value.IsZero() {
		return nil
	}
	utc := value.UTC()
	return &utc
}

func timeValue(value *time.Time) time.Time {
	if value == nil {
		return time.Time{}
	}
	return value.UTC()
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
