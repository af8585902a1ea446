package notification

import "time"

// UnsubscribeToken is a single-use link credential issued at send time.
type UnsubscribeToken struct {
	Token        string
	SubscriberID int64
	ExpiresAt    time.Time
	Used         bool
	CreatedAt    time.Time
}

// Expired reports whether the token can no longer be redeemed at now.
func (t *UnsubscribeToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}
