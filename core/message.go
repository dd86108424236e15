package core

import (
	"fmt"
	"strings"
	"time"
)

// MaxMessageRunes is the chat network's per-message limit.
const MaxMessageRunes = 4096

const messageTimeLayout = "2006-01-02 15:04 UTC"

var eventKindLabels = map[EventKind]string{
	EventKindCreated: "Proposal created",
	EventKindStarted: "Voting started",
	EventKindEnded:   "Voting ended",
	EventKindDeleted: "Proposal deleted",
}

// RenderNotification builds the plain-text message sent to every recipient
// of a match record.
func RenderNotification(event Event, enrichment Enrichment) string {
	var b strings.Builder
	b.WriteString("An event matching your subscription has occurred:\n\n")

	label, ok := eventKindLabels[event.Kind]
	if !ok {
		label = string(event.Kind)
	}
	writeLine(&b, "Event", label)
	space := strings.TrimSpace(event.SpaceID)
	if name := strings.TrimSpace(event.SpaceName); name != "" && name != space {
		space = fmt.Sprintf("%s (%s)", name, space)
	}
	writeLine(&b, "Space", space)
	writeLine(&b, "Title", event.Title)
	writeLine(&b, "Proposal ID", event.ProposalID)
	writeTime(&b, "Start", event.Start)
	writeTime(&b, "End", event.End)
	writeTime(&b, "Expire", event.Expire)
	if len(event.Choices) > 0 {
		writeLine(&b, "Choices", strings.Join(event.Choices, ", "))
	}
	writeLine(&b, "Link", event.Link)

	if summary := strings.TrimSpace(enrichment.Summary); summary != "" {
		b.WriteString("\nSummary:\n")
		b.WriteString(summary)
		b.WriteString("\n")
	}
	return truncateRunes(strings.TrimRight(b.String(), "\n"), MaxMessageRunes)
}

func writeLine(b *strings.Builder, label string, value string) {
	value = strings.TrimSpace(value)
	if value == "" {
		return
	}
	b.WriteString(label)
	b.WriteString(": ")
	b.WriteString(value)
	b.WriteString("\n")
}

func writeTime(b *strings.Builder, label string, value time.Time) {
	if value.IsZero() {
		return
	}
	writeLine(b, label, value.UTC().Format(messageTimeLayout))
}
