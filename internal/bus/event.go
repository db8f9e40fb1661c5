package bus

import "time"

// Event kinds published by the sync core. Subscribers filter by prefix,
// e.g. "outbox." or "network.".
const (
	KindNetworkStatusChanged = "network.status_changed"

	KindContactsReconciled = "sync.contacts_reconciled"
	KindContactsSyncFailed = "sync.contacts_failed"

	KindBatchQueued    = "outbox.batch_queued"
	KindBatchSending   = "outbox.batch_sending"
	KindBatchCompleted = "outbox.batch_completed"
	KindBatchFailed    = "outbox.batch_failed"

	KindAdvisoryRaised = "advisory.raised"
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
