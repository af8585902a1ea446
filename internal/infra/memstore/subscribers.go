// Package memstore keeps every repository in process memory. It backs
// STORE=memory and the service tests.
package memstore

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"horoscope_dispatcher/internal/domain/notification"
	"horoscope_dispatcher/internal/domain/subscriber"
)

type SubscriberRepository struct {
	mu     sync.Mutex
	rows   map[int64]*subscriber.Subscriber
	nextID int64
	now    func() time.Time
}

func NewSubscriberRepository() *SubscriberRepository {
	return &SubscriberRepository{rows: make(map[int64]*subscriber.Subscriber), now: time.Now}
}

func clone(s *subscriber.Subscriber) *subscriber.Subscriber {
	c := *s
	c.RecentPatternIDs = append([]string(nil), s.RecentPatternIDs...)
	return &c
}

func (r *SubscriberRepository) findByEmail(email string) *subscriber.Subscriber {
	for _, s := range r.rows {
		if s.Email == email {
			return s
		}
	}
	return nil
}

func (r *SubscriberRepository) Upsert(_ context.Context, s *subscriber.Subscriber) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	existing := r.findByEmail(s.Email)
	if existing == nil {
		r.nextID++
		row := clone(s)
		row.ID = r.nextID
		row.CreatedAt, row.UpdatedAt = now, now
		row.MorningSentAt, row.EveningSentAt = sql.NullTime{}, sql.NullTime{}
		row.MorningFriction, row.CasualCloseAt, row.RecentPatternIDs = false, sql.NullTime{}, nil
		r.rows[row.ID] = row
		*s = *clone(row)
		return nil
	}

	existing.Phone = s.Phone
	existing.FirstName = s.FirstName
	existing.Birthdate = s.Birthdate
	existing.Sign = s.Sign
	existing.Timezone = s.Timezone
	existing.Channel = s.Channel
	existing.PartnerName = s.PartnerName
	existing.PartnerBirthdate = s.PartnerBirthdate
	existing.PartnerSign = s.PartnerSign
	existing.ConsentGiven = s.ConsentGiven
	existing.ConsentAt = s.ConsentAt
	existing.IsActive = s.IsActive
	existing.UpdatedAt = now
	*s = *clone(existing)
	return nil
}

func (r *SubscriberRepository) GetByID(_ context.Context, id int64) (*subscriber.Subscriber, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.rows[id]
	if !ok {
		return nil, subscriber.ErrNotFound
	}
	return clone(s), nil
}

func (r *SubscriberRepository) GetByEmail(_ context.Context, email string) (*subscriber.Subscriber, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.findByEmail(email)
	if s == nil {
		return nil, subscriber.ErrNotFound
	}
	return clone(s), nil
}

func (r *SubscriberRepository) ListActiveBatch(_ context.Context, afterID int64, limit int) ([]*subscriber.Subscriber, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*subscriber.Subscriber, 0)
	for id, s := range r.rows {
		if id > afterID && s.IsActive {
			out = append(out, clone(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *SubscriberRepository) Deactivate(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.rows[id]
	if !ok {
		return subscriber.ErrNotFound
	}
	s.IsActive = false
	s.UpdatedAt = r.now()
	return nil
}

func sameInstant(a, b sql.NullTime) bool {
	if a.Valid != b.Valid {
		return false
	}
	return !a.Valid || a.Time.Equal(b.Time)
}

func (r *SubscriberRepository) ClaimSend(_ context.Context, id int64, tier notification.Tier, expected sql.NullTime, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.rows[id]
	if !ok {
		return false, subscriber.ErrNotFound
	}

	claimed := sql.NullTime{Time: now, Valid: true}
	switch tier {
	case notification.TierEvening:
		if !sameInstant(s.EveningSentAt, expected) {
			return false, nil
		}
		s.EveningSentAt = claimed
	default:
		if !sameInstant(s.MorningSentAt, expected) {
			return false, nil
		}
		s.MorningSentAt = claimed
		s.MorningFriction = false
	}
	s.UpdatedAt = r.now()
	return true, nil
}

func (r *SubscriberRepository) RecordContent(_ context.Context, id int64, u subscriber.ContentUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.rows[id]
	if !ok {
		return subscriber.ErrNotFound
	}
	if u.Tier == notification.TierMorning {
		s.MorningFriction = u.MorningFriction
	}
	if u.CasualCloseAt.Valid {
		s.CasualCloseAt = u.CasualCloseAt
	}
	if u.PatternID != "" {
		s.RecentPatternIDs = append(s.RecentPatternIDs, u.PatternID)
		if u.HistoryLimit > 0 && len(s.RecentPatternIDs) > u.HistoryLimit {
			s.RecentPatternIDs = append([]string(nil), s.RecentPatternIDs[len(s.RecentPatternIDs)-u.HistoryLimit:]...)
		}
	}
	s.UpdatedAt = r.now()
	return nil
}

func (r *SubscriberRepository) Stats(_ context.Context) (subscriber.Stats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var st subscriber.Stats
	for _, s := range r.rows {
		if s.IsActive {
			st.Active++
		} else {
			st.Inactive++
		}
	}
	return st, nil
}
