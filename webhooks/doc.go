// Package webhooks verifies and dedupes inbound event webhooks before they
// reach ingestion.
//
// Each delivery moves through a leased claim lifecycle:
// pending/retry_ready -> processing -> processed|dead.
// A delivery whose handler failed is retried by the sender's own redelivery
// once its backoff elapses; a processed delivery is answered as deduped.
package webhooks
