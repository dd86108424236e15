package query

import (
	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-govnotify/core"
)

var (
	_ gocmd.Querier[GetSubscriptionMessage, core.Subscription]       = (*GetSubscriptionQuery)(nil)
	_ gocmd.Querier[ListSubscriptionsMessage, core.SubscriptionPage] = (*ListSubscriptionsQuery)(nil)
	_ gocmd.Querier[GetMatchRecordMessage, core.MatchRecord]         = (*GetMatchRecordQuery)(nil)

	_ SubscriptionReader = (*core.Service)(nil)
	_ MatchRecordReader  = (*core.Service)(nil)
)
