package memstore

import (
	"context"
	"sync"
	"time"

	"horoscope_dispatcher/internal/domain/notification"
)

type LogRepository struct {
	mu      sync.Mutex
	entries []*notification.LogEntry
	now     func() time.Time
}

func NewLogRepository() *LogRepository {
	return &LogRepository{now: time.Now}
}

func (r *LogRepository) Append(_ context.Context, e *notification.LogEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e.ID = int64(len(r.entries) + 1)
	if e.CreatedAt.IsZero() {
		e.CreatedAt = r.now()
	}
	c := *e
	r.entries = append(r.entries, &c)
	return nil
}

// ListBySubscriber returns newest first.
func (r *LogRepository) ListBySubscriber(_ context.Context, subscriberID int64, limit int) ([]*notification.LogEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*notification.LogEntry, 0)
	for i := len(r.entries) - 1; i >= 0; i-- {
		if r.entries[i].SubscriberID != subscriberID {
			continue
		}
		c := *r.entries[i]
		out = append(out, &c)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *LogRepository) CountSince(_ context.Context, since time.Time) (map[notification.Outcome]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := make(map[notification.Outcome]int)
	for _, e := range r.entries {
		if !e.CreatedAt.Before(since) {
			counts[e.Outcome]++
		}
	}
	return counts, nil
}

type TokenRepository struct {
	mu     sync.Mutex
	tokens map[string]*notification.UnsubscribeToken
}

func NewTokenRepository() *TokenRepository {
	return &TokenRepository{tokens: make(map[string]*notification.UnsubscribeToken)}
}

func (r *TokenRepository) Create(_ context.Context, t *notification.UnsubscribeToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *t
	r.tokens[t.Token] = &c
	return nil
}

func (r *TokenRepository) Get(_ context.Context, token string) (*notification.UnsubscribeToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tokens[token]
	if !ok {
		return nil, notification.ErrTokenNotFound
	}
	c := *t
	return &c, nil
}

func (r *TokenRepository) MarkUsed(_ context.Context, token string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tokens[token]
	if !ok {
		return false, notification.ErrTokenNotFound
	}
	if t.Used {
		return false, nil
	}
	t.Used = true
	return true, nil
}

func (r *TokenRepository) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for k, t := range r.tokens {
		if !t.Used && t.Expired(now) {
			delete(r.tokens, k)
			n++
		}
	}
	return n, nil
}

type RateLimitRepository struct {
	mu   sync.Mutex
	hits map[string][]time.Time
}

func NewRateLimitRepository() *RateLimitRepository {
	return &RateLimitRepository{hits: make(map[string][]time.Time)}
}

func (r *RateLimitRepository) Hit(_ context.Context, client, endpoint string, limit int, window time.Duration, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := client + "|" + endpoint
	cutoff := now.Add(-window)
	kept := r.hits[key][:0]
	for _, h := range r.hits[key] {
		if h.After(cutoff) {
			kept = append(kept, h)
		}
	}
	if len(kept) >= limit {
		r.hits[key] = kept
		return false, nil
	}
	r.hits[key] = append(kept, now)
	return true, nil
}

func (r *RateLimitRepository) Purge(_ context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for key, hs := range r.hits {
		kept := hs[:0]
		for _, h := range hs {
			if h.Before(before) {
				n++
				continue
			}
			kept = append(kept, h)
		}
		if len(kept) == 0 {
			delete(r.hits, key)
		} else {
			r.hits[key] = kept
		}
	}
	return n, nil
}

