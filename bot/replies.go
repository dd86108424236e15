package bot

import (
	"fmt"
	"strings"

	"github.com/goliatone/go-govnotify/core"
)

const (
	welcomeText = "Welcome to the Crypto Governance Event Notifications bot!\n\n" +
		"Subscribe to be notified of governance proposal actions in real-time. " +
		"Notifications can be set for specific projects, keywords, tickers, and proposal events (created, started, ended, deleted). " +
		"Send /help for the list of commands."

	helpText = "Available commands:\n\n" +
		"/start - Start the bot and get some tips\n" +
		"/subscribe - Subscribe to projects, keywords and tickers\n" +
		"    To subscribe to projects: /subscribe project project1 project2\n" +
		"    To subscribe to keywords: /subscribe keyword keyword1 keyword2\n" +
		"    To subscribe to tickers: /subscribe ticker AAVE UNI\n" +
		"    To subscribe to every ticker mention: /subscribe tickers\n" +
		"/unsubscribe - Unsubscribe from projects, keywords and tickers\n" +
		"    To unsubscribe from projects: /unsubscribe project project1 project2\n" +
		"    To unsubscribe from keywords: /unsubscribe keyword keyword1 keyword2\n" +
		"    To unsubscribe from tickers: /unsubscribe ticker AAVE UNI\n" +
		"    To stop ticker notifications: /unsubscribe tickers\n" +
		"/list_subscriptions - List your current subscriptions\n" +
		"/help - Show this help message"

	missingArgumentsText = "Please provide a project or keyword."
	noSubscriptionsText  = "You have no subscriptions."
	unknownCommandText   = "Unknown command. Send /help for the list of commands."
)

// changeReply renders the confirmation for a subscribe ("subscribed to") or
// unsubscribe ("unsubscribed from") of delta.
func changeReply(verb string, delta core.SubscriptionDelta) string {
	var lines []string
	if line := listLine(verb, "project", "projects", delta.Projects); line != "" {
		lines = append(lines, line)
	}
	if line := listLine(verb, "keyword", "keywords", delta.Keywords); line != "" {
		lines = append(lines, line)
	}
	if line := listLine(verb, "ticker", "tickers", delta.Symbols); line != "" {
		lines = append(lines, line)
	}
	if delta.Tickers && len(delta.Symbols) == 0 {
		lines = append(lines, fmt.Sprintf("Successfully %s all ticker mentions", verb))
	}
	return strings.Join(lines, "\n")
}

func listLine(verb string, singular string, plural string, values []string) string {
	switch len(values) {
	case 0:
		return ""
	case 1:
		return fmt.Sprintf("Successfully %s %s: %s", verb, singular, values[0])
	default:
		return fmt.Sprintf("Successfully %s %s: %s", verb, plural, strings.Join(values, ", "))
	}
}

func listReply(sub core.Subscription) string {
	var lines []string
	if len(sub.Projects) > 0 {
		lines = append(lines, "Your current project subscriptions: "+strings.Join(sub.Projects, ", "))
	}
	if len(sub.Keywords) > 0 {
		lines = append(lines, "Your current keyword subscriptions: "+strings.Join(sub.Keywords, ", "))
	}
	if sub.Tickers {
		if len(sub.Symbols) > 0 {
			lines = append(lines, "Your current ticker subscriptions: "+strings.Join(sub.Symbols, ", "))
		} else {
			lines = append(lines, "You are subscribed to all ticker mentions.")
		}
	}
	if len(lines) == 0 {
		return noSubscriptionsText
	}
	return strings.Join(lines, "\n")
}
