package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"horoscope_dispatcher/internal/domain/notification"
)

// PostgresNotificationRepository stores the delivery log, unsubscribe tokens
// and rate-limit hits.
type PostgresNotificationRepository struct {
	db *sql.DB
}

func NewPostgresNotificationRepository(db *sql.DB) *PostgresNotificationRepository {
	return &PostgresNotificationRepository{db: db}
}

// --- Delivery log ---

func (r *PostgresNotificationRepository) Append(ctx context.Context, e *notification.LogEntry) error {
	query := `INSERT INTO delivery_log (subscriber_id, channel, tier, outcome, provider_id, detail)
               VALUES ($1, $2, $3, $4, $5, $6)
               RETURNING id, created_at`
	err := r.db.QueryRowContext(ctx, query, e.SubscriberID, string(e.Channel), string(e.Tier), string(e.Outcome), e.ProviderID, e.Detail).
		Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		return fmt.Errorf("error appending delivery log entry: %w", err)
	}
	return nil
}

func (r *PostgresNotificationRepository) ListBySubscriber(ctx context.Context, subscriberID int64, limit int) ([]*notification.LogEntry, error) {
	query := `SELECT id, subscriber_id, channel, tier, outcome, provider_id, detail, created_at
               FROM delivery_log WHERE subscriber_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2`
	rows, err := r.db.QueryContext(ctx, query, subscriberID, limit)
	if err != nil {
		return nil, fmt.Errorf("error listing delivery log: %w", err)
	}
	defer rows.Close()

	entries := make([]*notification.LogEntry, 0)
	for rows.Next() {
		e := &notification.LogEntry{}
		var channel, tier, outcome string
		if err := rows.Scan(&e.ID, &e.SubscriberID, &channel, &tier, &outcome, &e.ProviderID, &e.Detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("error scanning delivery log entry: %w", err)
		}
		e.Channel, e.Tier, e.Outcome = notification.Channel(channel), notification.Tier(tier), notification.Outcome(outcome)
		entries = append(entries, e)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating delivery log: %w", err)
	}
	return entries, nil
}

func (r *PostgresNotificationRepository) CountSince(ctx context.Context, since time.Time) (map[notification.Outcome]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT outcome, COUNT(*) FROM delivery_log WHERE created_at >= $1 GROUP BY outcome`, since)
	if err != nil {
		return nil, fmt.Errorf("error counting delivery outcomes: %w", err)
	}
	defer rows.Close()

	counts := make(map[notification.Outcome]int)
	for rows.Next() {
		var outcome string
		var n int
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, fmt.Errorf("error scanning outcome count: %w", err)
		}
		counts[notification.Outcome(outcome)] = n
	}
	return counts, rows.Err()
}

// PostgresTokenRepository stores single-use unsubscribe tokens.
type PostgresTokenRepository struct {
	db *sql.DB
}

func NewPostgresTokenRepository(db *sql.DB) *PostgresTokenRepository {
	return &PostgresTokenRepository{db: db}
}

func (r *PostgresTokenRepository) Create(ctx context.Context, t *notification.UnsubscribeToken) error {
	query := `INSERT INTO unsubscribe_tokens (token, subscriber_id, expires_at, used)
               VALUES ($1, $2, $3, $4)
               RETURNING created_at`
	if err := r.db.QueryRowContext(ctx, query, t.Token, t.SubscriberID, t.ExpiresAt, t.Used).Scan(&t.CreatedAt); err != nil {
		return fmt.Errorf("error creating unsubscribe token: %w", err)
	}
	return nil
}

func (r *PostgresTokenRepository) Get(ctx context.Context, token string) (*notification.UnsubscribeToken, error) {
	query := `SELECT token, subscriber_id, expires_at, used, created_at FROM unsubscribe_tokens WHERE token = $1`
	t := &notification.UnsubscribeToken{}
	err := r.db.QueryRowContext(ctx, query, token).Scan(&t.Token, &t.SubscriberID, &t.ExpiresAt, &t.Used, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notification.ErrTokenNotFound
		}
		return nil, fmt.Errorf("error getting unsubscribe token: %w", err)
	}
	return t, nil
}

func (r *PostgresTokenRepository) MarkUsed(ctx context.Context, token string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE unsubscribe_tokens SET used = TRUE WHERE token = $1 AND used = FALSE`, token)
	if err != nil {
		return false, fmt.Errorf("error marking token used: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("error reading token update result: %w", err)
	}
	if n == 1 {
		return true, nil
	}
	if _, err := r.Get(ctx, token); err != nil {
		return false, err
	}
	return false, nil
}

func (r *PostgresTokenRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM unsubscribe_tokens WHERE expires_at <= $1 AND NOT used`, now)
	if err != nil {
		return 0, fmt.Errorf("error deleting expired tokens: %w", err)
	}
	return res.RowsAffected()
}

// PostgresRateLimitRepository is the sliding-window limiter used when Redis
// is not configured.
type PostgresRateLimitRepository struct {
	db *sql.DB
}

func NewPostgresRateLimitRepository(db *sql.DB) *PostgresRateLimitRepository {
	return &PostgresRateLimitRepository{db: db}
}

func (r *PostgresRateLimitRepository) Hit(ctx context.Context, client, endpoint string, limit int, window time.Duration, now time.Time) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("error starting rate-limit transaction: %w", err)
	}
	defer tx.Rollback()

	// Serialise concurrent hits for the same key.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, client+"|"+endpoint); err != nil {
		return false, fmt.Errorf("error locking rate-limit key: %w", err)
	}

	var count int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM rate_limit_hits WHERE client = $1 AND endpoint = $2 AND hit_at > $3`,
		client, endpoint, now.Add(-window)).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("error counting rate-limit hits: %w", err)
	}
	if count >= limit {
		return false, tx.Commit()
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO rate_limit_hits (client, endpoint, hit_at) VALUES ($1, $2, $3)`, client, endpoint, now); err != nil {
		return false, fmt.Errorf("error recording rate-limit hit: %w", err)
	}
	return true, tx.Commit()
}

func (r *PostgresRateLimitRepository) Purge(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM rate_limit_hits WHERE hit_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("error purging rate-limit hits: %w", err)
	}
	return res.RowsAffected()
}
