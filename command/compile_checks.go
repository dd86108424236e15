package command

import (
	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-govnotify/core"
)

var (
	_ gocmd.Commander[SubscribeMessage]      = (*SubscribeCommand)(nil)
	_ gocmd.Commander[UnsubscribeMessage]    = (*UnsubscribeCommand)(nil)
	_ gocmd.Commander[IngestEventMessage]    = (*IngestEventCommand)(nil)
	_ gocmd.Commander[RedeliverEventMessage] = (*RedeliverEventCommand)(nil)

	_ MutatingService = (*core.Service)(nil)
)
