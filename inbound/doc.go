// Package inbound routes verified, deduplicated requests to the handler
// registered for their surface, such as Telegram bot commands.
package inbound
