package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"horoscope_dispatcher/internal/app/content"
	"horoscope_dispatcher/internal/domain/apperr"
	"horoscope_dispatcher/internal/domain/notification"
	"horoscope_dispatcher/internal/domain/subscriber"
	"horoscope_dispatcher/internal/domain/zodiac"
	"horoscope_dispatcher/internal/infra/email"
	"horoscope_dispatcher/internal/infra/memstore"
	"horoscope_dispatcher/internal/infra/sms"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

type fixedClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fixedClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

type fakeEmail struct {
	mu      sync.Mutex
	sent    []string
	subject []string
	texts   []string
	failFor map[string]bool
}

func (f *fakeEmail) SendEmail(_ context.Context, to, subject, _, text string) (email.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, to)
	f.subject = append(f.subject, subject)
	f.texts = append(f.texts, text)
	if f.failFor[to] {
		return email.Result{Attempts: 3}, &apperr.TransportError{Channel: "email", Attempts: 3, Err: errors.New("smtp unavailable")}
	}
	return email.Result{Success: true, ProviderID: fmt.Sprintf("em-%d", len(f.sent)), Attempts: 1}, nil
}

// lastToken pulls the unsubscribe token out of the most recent message.
func (f *fakeEmail) lastToken() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.texts) == 0 {
		return ""
	}
	text := f.texts[len(f.texts)-1]
	i := strings.Index(text, "token=")
	if i < 0 {
		return ""
	}
	return strings.Fields(text[i+len("token="):])[0]
}

func (f *fakeEmail) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fakeSMS struct {
	mu   sync.Mutex
	sent []string
}

func (f *fakeSMS) SendSMS(_ context.Context, to, _ string) (sms.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, to)
	return sms.Result{Success: true, SegmentsSent: 1, TotalSegments: 1, ProviderIDs: []string{"SM1"}, Attempts: 1}, nil
}

// stubGenerator lets tests decide the morning friction flag per subscriber.
type stubGenerator struct {
	mu       sync.Mutex
	friction map[int64]bool
	panicFor int64
	failFor  int64
	calls    int
}

func (g *stubGenerator) Generate(_ context.Context, s *subscriber.Subscriber, tier notification.Tier, now time.Time) (content.Reading, error) {
	g.mu.Lock()
	g.calls++
	friction := g.friction[s.ID]
	g.mu.Unlock()

	if s.ID == g.panicFor {
		panic("template exploded")
	}
	if s.ID == g.failFor {
		return content.Reading{}, errors.New("model unavailable")
	}
	return content.Reading{
		Name:        s.DisplayName(),
		Sign:        s.Sign,
		Tier:        tier,
		Text:        "Today favors patient progress.",
		PatternID:   "B",
		Friction:    tier == notification.TierMorning && friction,
		Strategy:    content.StrategyTemplate,
		GeneratedAt: now,
	}, nil
}

type fakeAlerts struct {
	mu       sync.Mutex
	messages []string
}

func (f *fakeAlerts) SendMessage(_ int64, text string) error {
	f.mu.Lock()
	f.messages = append(f.messages, text)
	f.mu.Unlock()
	return nil
}

type harness struct {
	subs   *memstore.SubscriberRepository
	logs   *memstore.LogRepository
	tokens *memstore.TokenRepository
	gen    *stubGenerator
	email  *fakeEmail
	sms    *fakeSMS
	alerts *fakeAlerts
	clock  *fixedClock
	deps   DispatcherDeps
	cfg    DispatchConfig
}

func quietLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

// 2026-10-15 13:00 UTC is 09:00 in New York (EDT).
var nyMorning = time.Date(2026, time.October, 15, 13, 0, 0, 0, time.UTC)

func newHarness() *harness {
	h := &harness{
		subs:   memstore.NewSubscriberRepository(),
		logs:   memstore.NewLogRepository(),
		tokens: memstore.NewTokenRepository(),
		gen:    &stubGenerator{friction: map[int64]bool{}},
		email:  &fakeEmail{failFor: map[string]bool{}},
		sms:    &fakeSMS{},
		alerts: &fakeAlerts{},
		clock:  &fixedClock{t: nyMorning},
	}
	h.deps = DispatcherDeps{
		Subscribers: h.subs,
		Logs:        h.logs,
		Tokens:      h.tokens,
		Content:     h.gen,
		Email:       h.email,
		SMS:         h.sms,
		Clock:       h.clock,
		Alerts:      h.alerts,
		AdminChatID: 42,
	}
	h.cfg = DispatchConfig{
		MorningHour:    9,
		EveningHour:    19,
		BatchSize:      2,
		BaseURL:        "https://example.test",
		PatternHistory: 3,
	}
	return h
}

func (h *harness) dispatcher() *Dispatcher {
	return NewDispatcher(h.deps, h.cfg, quietLogger())
}

func (h *harness) seed(t *testing.T, addr, tz string, ch subscriber.Channel) *subscriber.Subscriber {
	t.Helper()
	s := &subscriber.Subscriber{
		Email:        addr,
		Birthdate:    time.Date(1990, time.June, 15, 0, 0, 0, 0, time.UTC),
		Sign:         zodiac.Gemini,
		Timezone:     tz,
		Channel:      ch,
		ConsentGiven: true,
		IsActive:     true,
	}
	if ch.IncludesSMS() {
		s.Phone = sql.NullString{String: "+14155550134", Valid: true}
	}
	require.NoError(t, h.subs.Upsert(context.Background(), s))
	return s
}

func (h *harness) reload(t *testing.T, id int64) *subscriber.Subscriber {
	t.Helper()
	s, err := h.subs.GetByID(context.Background(), id)
	require.NoError(t, err)
	return s
}

func (h *harness) logFor(t *testing.T, id int64) []*notification.LogEntry {
	t.Helper()
	entries, err := h.logs.ListBySubscriber(context.Background(), id, 50)
	require.NoError(t, err)
	return entries
}
