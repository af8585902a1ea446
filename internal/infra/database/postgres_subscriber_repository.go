package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"horoscope_dispatcher/internal/domain/notification"
	"horoscope_dispatcher/internal/domain/subscriber"
	"horoscope_dispatcher/internal/domain/zodiac"

	"github.com/lib/pq"
)

type PostgresSubscriberRepository struct {
	db *sql.DB
}

func NewPostgresSubscriberRepository(db *sql.DB) *PostgresSubscriberRepository {
	return &PostgresSubscriberRepository{db: db}
}

const subscriberColumns = `id, email, phone, first_name, birthdate, sign, timezone, delivery_method,
               partner_name, partner_birthdate, partner_sign, consent_given, consent_at, is_active, morning_sent_at, evening_sent_at,
               morning_friction, casual_close_at, recent_pattern_ids, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubscriber(row rowScanner) (*subscriber.Subscriber, error) {
	s := &subscriber.Subscriber{}
	var sign, channel string
	var partnerSign sql.NullString
	var patterns pq.StringArray
	err := row.Scan(&s.ID, &s.Email, &s.Phone, &s.FirstName, &s.Birthdate, &sign, &s.Timezone, &channel,
		&s.PartnerName, &s.PartnerBirthdate, &partnerSign, &s.ConsentGiven, &s.ConsentAt, &s.IsActive, &s.MorningSentAt, &s.EveningSentAt,
		&s.MorningFriction, &s.CasualCloseAt, &patterns, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	s.Sign = zodiac.Sign(sign)
	s.Channel = subscriber.Channel(channel)
	s.PartnerSign = zodiac.Sign(partnerSign.String)
	s.RecentPatternIDs = []string(patterns)
	return s, nil
}

// Upsert inserts by email or refreshes the profile of the existing row,
// reactivating it when s.IsActive is set.
func (r *PostgresSubscriberRepository) Upsert(ctx context.Context, s *subscriber.Subscriber) error {
	query := `INSERT INTO subscribers (email, phone, first_name, birthdate, sign, timezone, delivery_method,
                                      consent_given, consent_at, is_active,
                                      partner_name, partner_birthdate, partner_sign)
               VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
               ON CONFLICT (email) DO UPDATE SET
                   phone = EXCLUDED.phone,
                   first_name = EXCLUDED.first_name,
                   birthdate = EXCLUDED.birthdate,
                   sign = EXCLUDED.sign,
                   timezone = EXCLUDED.timezone,
                   delivery_method = EXCLUDED.delivery_method,
                   consent_given = EXCLUDED.consent_given,
                   consent_at = EXCLUDED.consent_at,
                   is_active = EXCLUDED.is_active,
                   partner_name = EXCLUDED.partner_name,
                   partner_birthdate = EXCLUDED.partner_birthdate,
                   partner_sign = EXCLUDED.partner_sign,
                   updated_at = NOW()
               RETURNING ` + subscriberColumns

	row := r.db.QueryRowContext(ctx, query, s.Email, s.Phone, s.FirstName, s.Birthdate, string(s.Sign), s.Timezone,
		string(s.Channel), s.ConsentGiven, s.ConsentAt, s.IsActive,
		s.PartnerName, s.PartnerBirthdate, sql.NullString{String: string(s.PartnerSign), Valid: s.PartnerSign != ""})
	stored, err := scanSubscriber(row)
	if err != nil {
		return fmt.Errorf("error upserting subscriber: %w", err)
	}
	*s = *stored
	return nil
}

func (r *PostgresSubscriberRepository) GetByID(ctx context.Context, id int64) (*subscriber.Subscriber, error) {
	query := `SELECT ` + subscriberColumns + ` FROM subscribers WHERE id = $1`
	s, err := scanSubscriber(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, subscriber.ErrNotFound
		}
		return nil, fmt.Errorf("error getting subscriber by ID: %w", err)
	}
	return s, nil
}

func (r *PostgresSubscriberRepository) GetByEmail(ctx context.Context, email string) (*subscriber.Subscriber, error) {
	query := `SELECT ` + subscriberColumns + ` FROM subscribers WHERE email = $1`
	s, err := scanSubscriber(r.db.QueryRowContext(ctx, query, email))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, subscriber.ErrNotFound
		}
		return nil, fmt.Errorf("error getting subscriber by email: %w", err)
	}
	return s, nil
}

func (r *PostgresSubscriberRepository) ListActiveBatch(ctx context.Context, afterID int64, limit int) ([]*subscriber.Subscriber, error) {
	query := `SELECT ` + subscriberColumns + `
               FROM subscribers WHERE is_active = TRUE AND id > $1 ORDER BY id LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("error listing active subscribers: %w", err)
	}
	defer rows.Close()

	subs := make([]*subscriber.Subscriber, 0, limit)
	for rows.Next() {
		s, err := scanSubscriber(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning active subscriber: %w", err)
		}
		subs = append(subs, s)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating active subscribers: %w", err)
	}
	return subs, nil
}

func (r *PostgresSubscriberRepository) Deactivate(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `UPDATE subscribers SET is_active = FALSE, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("error deactivating subscriber: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return subscriber.ErrNotFound
	}
	return nil
}

// ClaimSend is an optimistic lock on the tier's last-sent column. Claiming
// the morning tier also clears the friction flag so a stale flag never
// gates today's evening reading.
func (r *PostgresSubscriberRepository) ClaimSend(ctx context.Context, id int64, tier notification.Tier, expected sql.NullTime, now time.Time) (bool, error) {
	query := `UPDATE subscribers
               SET morning_sent_at = $2, morning_friction = FALSE, updated_at = NOW()
               WHERE id = $1 AND morning_sent_at IS NOT DISTINCT FROM $3`
	if tier == notification.TierEvening {
		query = `UPDATE subscribers
               SET evening_sent_at = $2, updated_at = NOW()
               WHERE id = $1 AND evening_sent_at IS NOT DISTINCT FROM $3`
	}

	res, err := r.db.ExecContext(ctx, query, id, now, expected)
	if err != nil {
		return false, fmt.Errorf("error claiming %s send: %w", tier, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("error reading claim result: %w", err)
	}
	return n == 1, nil
}

func (r *PostgresSubscriberRepository) RecordContent(ctx context.Context, id int64, u subscriber.ContentUpdate) error {
	query := `UPDATE subscribers SET
                   morning_friction = CASE WHEN $2 THEN $3 ELSE morning_friction END,
                   casual_close_at = COALESCE($4, casual_close_at),
                   recent_pattern_ids = CASE
                       WHEN $5 = '' THEN recent_pattern_ids
                       ELSE (array_append(recent_pattern_ids, $5::TEXT))[
                           GREATEST(cardinality(recent_pattern_ids) + 2 - $6, 1):]
                   END,
                   updated_at = NOW()
               WHERE id = $1`

	limit := u.HistoryLimit
	if limit <= 0 {
		limit = 1 << 20
	}
	res, err := r.db.ExecContext(ctx, query, id, u.Tier == notification.TierMorning, u.MorningFriction, u.CasualCloseAt, u.PatternID, limit)
	if err != nil {
		return fmt.Errorf("error recording content: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return subscriber.ErrNotFound
	}
	return nil
}

func (r *PostgresSubscriberRepository) Stats(ctx context.Context) (subscriber.Stats, error) {
	var st subscriber.Stats
	query := `SELECT COUNT(*) FILTER (WHERE is_active), COUNT(*) FILTER (WHERE NOT is_active) FROM subscribers`
	if err := r.db.QueryRowContext(ctx, query).Scan(&st.Active, &st.Inactive); err != nil {
		return st, fmt.Errorf("error counting subscribers: %w", err)
	}
	return st, nil
}
