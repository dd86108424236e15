package snapshot

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-govnotify/core"
)

// Payload is the body Snapshot posts for every proposal lifecycle event:
//
//	{"id":"proposal/0x..","event":"proposal/created","space":"aave.eth","expire":1620947058}
type Payload struct {
	ID     string `json:"id"`
	Event  string `json:"event"`
	Space  string `json:"space"`
	Expire int64  `json:"expire"`
}

func ParsePayload(body []byte) (Payload, error) {
	var payload Payload
	if err := json.Unmarshal(body, &payload); err != nil {
		return Payload{}, snapshotWrapError(err, goerrors.CategoryBadInput, "snapshot: decode webhook payload", http.StatusBadRequest, nil)
	}
	payload.ID = strings.TrimSpace(payload.ID)
	payload.Event = strings.TrimSpace(payload.Event)
	payload.Space = strings.TrimSpace(payload.Space)
	var missing []string
	if payload.ID == "" {
		missing = append(missing, "id")
	}
	if payload.Event == "" {
		missing = append(missing, "event")
	}
	if payload.Space == "" {
		missing = append(missing, "space")
	}
	if len(missing) > 0 {
		return Payload{}, snapshotError(
			fmt.Sprintf("snapshot: payload is missing %s", strings.Join(missing, ", ")),
			goerrors.CategoryBadInput,
			http.StatusBadRequest,
			map[string]any{"missing": missing},
		)
	}
	if _, err := payload.Kind(); err != nil {
		return Payload{}, snapshotWrapError(err, goerrors.CategoryBadInput, "snapshot: unsupported event", http.StatusBadRequest, map[string]any{"event": payload.Event})
	}
	return payload, nil
}

func (p Payload) Kind() (core.EventKind, error) {
	return core.ParseEventKind(p.Event)
}

// ProposalID strips the "proposal/" prefix Snapshot puts on ids.
func (p Payload) ProposalID() string {
	id := strings.TrimSpace(p.ID)
	if idx := strings.LastIndex(id, "/"); idx >= 0 {
		id = id[idx+1:]
	}
	return id
}

// DeliveryID is stable across Snapshot's retries of one event.
func (p Payload) DeliveryID() string {
	return p.Event + ":" + p.ID
}

// EventID names the stored event: one per proposal and lifecycle kind.
func (p Payload) EventID() string {
	kind, err := p.Kind()
	if err != nil {
		return ""
	}
	return p.ProposalID() + ":" + string(kind)
}

func (p Payload) ExpireTime() time.Time {
	if p.Expire <= 0 {
		return time.Time{}
	}
	return time.Unix(p.Expire, 0).UTC()
}

// DeliveryIDExtractor reads the delivery id from a webhook body. It matches
// webhooks.DeliveryIDExtractor.
func DeliveryIDExtractor(req core.InboundRequest) (string, error) {
	payload, err := ParsePayload(req.Body)
	if err != nil {
		return "", err
	}
	return payload.DeliveryID(), nil
}
