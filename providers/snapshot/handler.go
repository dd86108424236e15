package snapshot

import (
	"context"
	"net/http"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-govnotify/core"
	glog "github.com/goliatone/go-logger/glog"
)

type Ingester interface {
	Ingest(ctx context.Context, event core.Event) (core.IngestResult, error)
}

type ProposalFetcher interface {
	FetchProposal(ctx context.Context, proposalID string) (Proposal, error)
}

// WebhookHandler turns a verified Snapshot webhook into an ingested event.
// It satisfies webhooks.Handler.
type WebhookHandler struct {
	Proposals ProposalFetcher
	Ingester  Ingester
	Logger    glog.Logger
	Now       func() time.Time
}

func NewWebhookHandler(proposals ProposalFetcher, ingester Ingester) *WebhookHandler {
	return &WebhookHandler{Proposals: proposals, Ingester: ingester, Logger: glog.Nop()}
}

func (h *WebhookHandler) Handle(ctx context.Context, req core.InboundRequest) (core.InboundResult, error) {
	if h == nil || h.Proposals == nil || h.Ingester == nil {
		return core.InboundResult{}, snapshotError("snapshot: webhook handler is not configured", goerrors.CategoryInternal, http.StatusInternalServerError, nil)
	}
	payload, err := ParsePayload(req.Body)
	if err != nil {
		return core.InboundResult{Accepted: false, StatusCode: http.StatusBadRequest}, err
	}
	event, err := h.BuildEvent(ctx, payload)
	if err != nil {
		return core.InboundResult{}, err
	}
	result, err := h.Ingester.Ingest(ctx, event)
	if err != nil {
		return core.InboundResult{}, err
	}
	return core.InboundResult{
		Accepted:   true,
		StatusCode: http.StatusOK,
		Metadata: map[string]any{
			"event_id": result.EventID,
			"matched":  len(result.Matched),
			"enqueued": result.Enqueued,
		},
	}, nil
}

// BuildEvent fetches the proposal behind payload. A deleted proposal the hub
// no longer knows becomes a minimal event titled with its id.
func (h *WebhookHandler) BuildEvent(ctx context.Context, payload Payload) (core.Event, error) {
	kind, err := payload.Kind()
	if err != nil {
		return core.Event{}, snapshotWrapError(err, goerrors.CategoryBadInput, "snapshot: unsupported event", http.StatusBadRequest, nil)
	}
	event := core.Event{
		EventID:    payload.EventID(),
		Kind:       kind,
		SpaceID:    payload.Space,
		ProposalID: payload.ProposalID(),
		Expire:     payload.ExpireTime(),
		ReceivedAt: h.now(),
	}

	proposal, err := h.Proposals.FetchProposal(ctx, payload.ProposalID())
	if err != nil {
		if kind == core.EventKindDeleted {
			h.logger().Warn("deleted proposal not on hub, using minimal event",
				"proposal_id", payload.ProposalID(),
				"space_id", payload.Space,
				"error", err.Error(),
			)
			event.Title = payload.ProposalID()
			return event, nil
		}
		return core.Event{}, err
	}

	event.Title = strings.TrimSpace(proposal.Title)
	if event.Title == "" {
		event.Title = payload.ProposalID()
	}
	event.Body = proposal.Body
	event.Choices = append([]string(nil), proposal.Choices...)
	event.Link = proposal.Link
	event.SpaceName = proposal.Space.Name
	if proposal.Start > 0 {
		event.Start = time.Unix(proposal.Start, 0).UTC()
	}
	if proposal.End > 0 {
		event.End = time.Unix(proposal.End, 0).UTC()
	}
	return event, nil
}

func (h *WebhookHandler) now() time.Time {
	if h.Now != nil {
		return h.Now().UTC()
	}
	return time.Now().UTC()
}

func (h *WebhookHandler) logger() glog.Logger {
	if h.Logger == nil {
		return glog.Nop()
	}
	return h.Logger
}
