package subscriber

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"horoscope_dispatcher/internal/domain/notification"
)

var ErrNotFound = errors.New("subscriber not found")

// ContentUpdate is what the dispatcher remembers about the reading it just sent.
type ContentUpdate struct {
	Tier            notification.Tier
	PatternID       string
	MorningFriction bool
	CasualCloseAt   sql.NullTime
	HistoryLimit    int
}

// Stats is a coarse headcount for operators.
type Stats struct {
	Active   int
	Inactive int
}

// Repository defines the operations for persisting and retrieving Subscribers.
type Repository interface {
	// Upsert inserts by email or overwrites the profile of an existing row
	// (including IsActive). Delivery bookkeeping columns are left untouched.
	Upsert(ctx context.Context, s *Subscriber) error
	GetByID(ctx context.Context, id int64) (*Subscriber, error)
	GetByEmail(ctx context.Context, email string) (*Subscriber, error)
	// ListActiveBatch returns up to limit active subscribers with ID > afterID, ordered by ID.
	ListActiveBatch(ctx context.Context, afterID int64, limit int) ([]*Subscriber, error)
	Deactivate(ctx context.Context, id int64) error
	// ClaimSend sets the tier's last-sent timestamp to now only if it still
	// equals expected. It reports false when another writer got there first.
	ClaimSend(ctx context.Context, id int64, tier notification.Tier, expected sql.NullTime, now time.Time) (bool, error)
	RecordContent(ctx context.Context, id int64, u ContentUpdate) error
	Stats(ctx context.Context) (Stats, error)
}
