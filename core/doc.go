// Package core holds the notification domain: subscriptions, events, the
// matcher, match records and the delivery worker, plus the service that
// ties ingestion to the delivery queue. Storage, transport and chat adapters
// depend on this package; core does not depend on them.
package core
