package notification

import (
	"context"
	"errors"
	"time"
)

var ErrTokenNotFound = errors.New("unsubscribe token not found")

// LogRepository persists delivery audit records.
type LogRepository interface {
	Append(ctx context.Context, e *LogEntry) error
	ListBySubscriber(ctx context.Context, subscriberID int64, limit int) ([]*LogEntry, error)
	// CountSince groups outcomes recorded at or after since.
	CountSince(ctx context.Context, since time.Time) (map[Outcome]int, error)
}

// TokenRepository persists unsubscribe tokens.
type TokenRepository interface {
	Create(ctx context.Context, t *UnsubscribeToken) error
	Get(ctx context.Context, token string) (*UnsubscribeToken, error)
	// MarkUsed flips used=false to used=true and reports whether this caller did it.
	MarkUsed(ctx context.Context, token string) (bool, error)
	// DeleteExpired drops unused tokens past their expiry. Used tokens stay so
	// a repeat click still resolves to "already unsubscribed".
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// RateLimitRepository stores per (client, endpoint) hits for a sliding window.
type RateLimitRepository interface {
	// Hit records a hit at now unless limit hits already exist inside the
	// window, and reports whether the request is allowed.
	Hit(ctx context.Context, client, endpoint string, limit int, window time.Duration, now time.Time) (bool, error)
	Purge(ctx context.Context, before time.Time) (int64, error)
}
