package notification

import (
	"database/sql"
	"time"
)

// LogEntry is an append-only audit record of a delivery outcome.
// Corresponds to the 'delivery_log' table.
type LogEntry struct {
	ID           int64
	SubscriberID int64
	Channel      Channel
	Tier         Tier
	Outcome      Outcome
	ProviderID   sql.NullString // message id / sid returned by the provider
	Detail       sql.NullString // error detail for failed or skipped outcomes
	CreatedAt    time.Time
}
