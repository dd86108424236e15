package sqlstore

import "github.com/goliatone/go-govnotify/core"

var (
	_ core.StoreProvider          = (*RepositoryFactory)(nil)
	_ core.RepositoryStoreFactory = (*RepositoryFactory)(nil)
	_ core.NotificationQueue      = core.JobNotificationQueue{Enqueuer: (*OutboxQueue)(nil)}
)
