package core

import glog "github.com/goliatone/go-logger/glog"

var (
	_ NotificationService = (*Service)(nil)
	_ DeliveryProcessor   = (*DeliveryWorker)(nil)
	_ NotificationQueue   = JobNotificationQueue{}

	_ Logger         = glog.Nop()
	_ LoggerProvider = glog.ProviderFromLogger(glog.Nop())
)
