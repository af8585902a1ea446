package app

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"horoscope_dispatcher/internal/app/content"
	"horoscope_dispatcher/internal/domain/apperr"
	"horoscope_dispatcher/internal/domain/notification"
	"horoscope_dispatcher/internal/domain/subscriber"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunTickSelectsDueSubscribersAcrossTimezones(t *testing.T) {
	h := newHarness()
	ny := h.seed(t, "ny@example.com", "America/New_York", subscriber.ChannelEmail)
	h.seed(t, "london@example.com", "Europe/London", subscriber.ChannelEmail)
	h.seed(t, "tokyo@example.com", "Asia/Tokyo", subscriber.ChannelEmail)
	h.seed(t, "kolkata@example.com", "Asia/Kolkata", subscriber.ChannelEmail)
	h.seed(t, "la@example.com", "America/Los_Angeles", subscriber.ChannelEmail)

	report, err := h.dispatcher().RunTick(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 5, report.Considered)
	assert.Equal(t, 1, report.Due)
	assert.Equal(t, 1, report.Sent)
	assert.Equal(t, 0, report.Failed)
	assert.False(t, report.TimedOut)
	assert.Equal(t, []string{"ny@example.com"}, h.email.sent)

	got := h.reload(t, ny.ID)
	require.True(t, got.MorningSentAt.Valid)
	assert.True(t, got.MorningSentAt.Time.Equal(nyMorning))
	assert.Equal(t, []string{"B"}, got.RecentPatternIDs)
}

func TestRunTickSendsAtMostOncePerDay(t *testing.T) {
	h := newHarness()
	h.seed(t, "ny@example.com", "America/New_York", subscriber.ChannelEmail)
	d := h.dispatcher()

	first, err := d.RunTick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, first.Sent)

	h.clock.Set(nyMorning.Add(30 * time.Minute))
	second, err := d.RunTick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, second.Due)
	assert.Equal(t, 0, second.Sent)
	assert.Equal(t, 1, second.Skipped)
	assert.Equal(t, 1, h.email.count())

	h.clock.Set(nyMorning.Add(24 * time.Hour))
	third, err := d.RunTick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, third.Sent)
	assert.Equal(t, 2, h.email.count())
}

func TestRunTickIsolatesFailuresAndStillMarksSent(t *testing.T) {
	h := newHarness()
	bad := h.seed(t, "bad@example.com", "America/New_York", subscriber.ChannelEmail)
	boom := h.seed(t, "boom@example.com", "America/New_York", subscriber.ChannelEmail)
	good := h.seed(t, "good@example.com", "America/New_York", subscriber.ChannelEmail)
	h.email.failFor["bad@example.com"] = true
	h.gen.panicFor = boom.ID

	report, err := h.dispatcher().RunTick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, report.Due)
	assert.Equal(t, 1, report.Sent)
	assert.Equal(t, 2, report.Failed)

	// The failed send still consumed today's slot.
	assert.True(t, h.reload(t, bad.ID).MorningSentAt.Valid)
	assert.True(t, h.reload(t, good.ID).MorningSentAt.Valid)

	entries := h.logFor(t, bad.ID)
	require.Len(t, entries, 1)
	assert.Equal(t, notification.OutcomeFailed, entries[0].Outcome)
	assert.Contains(t, entries[0].Detail.String, "smtp unavailable")

	goodEntries := h.logFor(t, good.ID)
	require.Len(t, goodEntries, 1)
	assert.Equal(t, notification.OutcomeSuccess, goodEntries[0].Outcome)
	assert.Equal(t, "em-2", goodEntries[0].ProviderID.String)

	require.Len(t, h.alerts.messages, 1)
	assert.Contains(t, h.alerts.messages[0], "2 failed")
}

func TestContentFailureIsLoggedPerChannel(t *testing.T) {
	h := newHarness()
	s := h.seed(t, "both@example.com", "America/New_York", subscriber.ChannelBoth)
	h.gen.failFor = s.ID

	_, err := h.dispatcher().SendNow(context.Background(), s, notification.TierMorning)
	require.Error(t, err)

	entries := h.logFor(t, s.ID)
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.Equal(t, notification.OutcomeFailed, e.Outcome)
		assert.Contains(t, e.Detail.String, "content generation failed")
	}
	assert.Zero(t, h.email.count())
	assert.True(t, h.reload(t, s.ID).MorningSentAt.Valid)
}

func TestSendFansOutToEveryPreferredChannel(t *testing.T) {
	h := newHarness()
	s := h.seed(t, "both@example.com", "America/New_York", subscriber.ChannelBoth)

	res, err := h.dispatcher().SendNow(context.Background(), s, notification.TierMorning)
	require.NoError(t, err)
	require.Len(t, res.Channels, 2)
	assert.Equal(t, notification.ChannelEmail, res.Channels[0].Channel)
	assert.Equal(t, notification.ChannelSMS, res.Channels[1].Channel)
	assert.True(t, res.Success())
	assert.Equal(t, []string{"+14155550134"}, h.sms.sent)
	assert.Equal(t, "Your Daily Horoscope, Friend", h.email.subject[0])
	assert.Equal(t, "gemini", res.Metadata["sign"])
	assert.Len(t, h.logFor(t, s.ID), 2)
}

func TestDisabledChannelIsSkipped(t *testing.T) {
	h := newHarness()
	h.deps.SMS = nil
	s := h.seed(t, "sms@example.com", "America/New_York", subscriber.ChannelSMS)

	report, err := h.dispatcher().RunTick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 0, report.Failed)

	entries := h.logFor(t, s.ID)
	require.Len(t, entries, 1)
	assert.Equal(t, notification.OutcomeSkipped, entries[0].Outcome)
	assert.Contains(t, entries[0].Detail.String, "sms channel is not configured")
}

func TestSMSWithoutPhoneFailsOnlyThatChannel(t *testing.T) {
	h := newHarness()
	s := h.seed(t, "both@example.com", "America/New_York", subscriber.ChannelBoth)
	s.Phone = sql.NullString{}

	res, err := h.dispatcher().SendNow(context.Background(), s, notification.TierMorning)
	require.NoError(t, err)
	assert.True(t, res.Success())
	assert.Equal(t, notification.OutcomeSuccess, res.Channels[0].Outcome)
	assert.Equal(t, notification.OutcomeFailed, res.Channels[1].Outcome)
	assert.Contains(t, res.Channels[1].Error, "phone")
	assert.Empty(t, h.sms.sent)
}

func TestConcurrentSendsClaimOnce(t *testing.T) {
	h := newHarness()
	s := h.seed(t, "race@example.com", "America/New_York", subscriber.ChannelEmail)
	d := h.dispatcher()

	const workers = 10
	var wg sync.WaitGroup
	var mu sync.Mutex
	var sent, already int
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			snapshot := *s
			_, err := d.SendNow(context.Background(), &snapshot, notification.TierMorning)
			mu.Lock()
			defer mu.Unlock()
			if _, ok := apperr.AsAlreadySent(err); ok {
				already++
			} else if err == nil {
				sent++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, sent)
	assert.Equal(t, workers-1, already)
	assert.Equal(t, 1, h.email.count())
}

func TestSendNowReportsPriorTimestamp(t *testing.T) {
	h := newHarness()
	s := h.seed(t, "ny@example.com", "America/New_York", subscriber.ChannelEmail)
	d := h.dispatcher()

	_, err := d.SendNow(context.Background(), s, notification.TierMorning)
	require.NoError(t, err)

	h.clock.Set(nyMorning.Add(2 * time.Hour))
	_, err = d.SendNow(context.Background(), h.reload(t, s.ID), notification.TierMorning)
	as, ok := apperr.AsAlreadySent(err)
	require.True(t, ok)
	assert.True(t, as.LastSentAt.Equal(nyMorning))
}

func TestEveningTierFollowsMorningFriction(t *testing.T) {
	h := newHarness()
	h.cfg.EveningEnabled = true
	friction := h.seed(t, "friction@example.com", "UTC", subscriber.ChannelEmail)
	calm := h.seed(t, "calm@example.com", "UTC", subscriber.ChannelEmail)
	h.gen.friction[friction.ID] = true
	d := h.dispatcher()

	h.clock.Set(time.Date(2026, time.October, 15, 9, 0, 0, 0, time.UTC))
	morning, err := d.RunTick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, morning.Sent)
	assert.True(t, h.reload(t, friction.ID).MorningFriction)
	assert.False(t, h.reload(t, calm.ID).MorningFriction)

	h.clock.Set(time.Date(2026, time.October, 15, 19, 0, 0, 0, time.UTC))
	evening, err := d.RunTick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, evening.Due)
	assert.Equal(t, 1, evening.Sent)
	assert.Equal(t, 1, evening.Skipped)
	assert.Equal(t, "Your Evening Reflection, Friend", h.email.subject[len(h.email.subject)-1])
	assert.True(t, h.reload(t, friction.ID).EveningSentAt.Valid)
	assert.False(t, h.reload(t, calm.ID).EveningSentAt.Valid)
}

func TestEveningTierUsesSubscriberLocalDay(t *testing.T) {
	h := newHarness()
	h.cfg.EveningEnabled = true
	la := h.seed(t, "la@example.com", "America/Los_Angeles", subscriber.ChannelEmail)
	h.gen.friction[la.ID] = true
	d := h.dispatcher()

	// 09:00 PDT on Oct 15.
	h.clock.Set(time.Date(2026, time.October, 15, 16, 0, 0, 0, time.UTC))
	morning, err := d.RunTick(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, morning.Sent)

	// 19:00 PDT on Oct 15 is already Oct 16 in UTC.
	h.clock.Set(time.Date(2026, time.October, 16, 2, 0, 0, 0, time.UTC))
	evening, err := d.RunTick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, evening.Due)
	assert.Equal(t, 1, evening.Sent)
	assert.Zero(t, evening.Skipped)
	assert.True(t, h.reload(t, la.ID).EveningSentAt.Valid)
}

func TestRenderFailureIsLoggedPerChannel(t *testing.T) {
	h := newHarness()
	s := h.seed(t, "both@example.com", "America/New_York", subscriber.ChannelBoth)
	d := h.dispatcher()
	d.render = func(content.Reading, content.RenderOptions) (content.Message, error) {
		return content.Message{}, errors.New("template broken")
	}

	_, err := d.SendNow(context.Background(), s, notification.TierMorning)
	require.Error(t, err)

	entries := h.logFor(t, s.ID)
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.Equal(t, notification.OutcomeFailed, e.Outcome)
		assert.Contains(t, e.Detail.String, "content rendering failed")
	}
	assert.Zero(t, h.email.count())
}

func TestEveningNotSentWithoutMorningToday(t *testing.T) {
	h := newHarness()
	h.cfg.EveningEnabled = true
	s := h.seed(t, "stale@example.com", "UTC", subscriber.ChannelEmail)
	// Friction left over from yesterday's morning.
	_, err := h.subs.ClaimSend(context.Background(), s.ID, notification.TierMorning, sql.NullTime{}, time.Date(2026, time.October, 14, 9, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.NoError(t, h.subs.RecordContent(context.Background(), s.ID, subscriber.ContentUpdate{Tier: notification.TierMorning, MorningFriction: true}))

	_, err = h.dispatcher().SendNow(context.Background(), h.reload(t, s.ID), notification.TierEvening)
	assert.ErrorIs(t, err, ErrNotWarranted)
}

func TestSubscriberWithoutConsentIsSkipped(t *testing.T) {
	h := newHarness()
	s := h.seed(t, "noconsent@example.com", "America/New_York", subscriber.ChannelEmail)
	s.ConsentGiven = false
	require.NoError(t, h.subs.Upsert(context.Background(), s))

	report, err := h.dispatcher().RunTick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Skipped)
	assert.Zero(t, h.email.count())
	assert.False(t, h.reload(t, s.ID).MorningSentAt.Valid)
}

func TestInactiveSubscribersAreInvisibleToTick(t *testing.T) {
	h := newHarness()
	s := h.seed(t, "gone@example.com", "America/New_York", subscriber.ChannelEmail)
	require.NoError(t, h.subs.Deactivate(context.Background(), s.ID))

	report, err := h.dispatcher().RunTick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.Considered)
	assert.Zero(t, h.email.count())
}

func TestRunTickStopsAtDeadline(t *testing.T) {
	h := newHarness()
	h.seed(t, "ny@example.com", "America/New_York", subscriber.ChannelEmail)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := h.dispatcher().RunTick(ctx)
	require.NoError(t, err)
	assert.True(t, report.TimedOut)
	assert.Equal(t, 0, report.Considered)
	require.Len(t, h.alerts.messages, 1)
	assert.Contains(t, h.alerts.messages[0], "deadline")
}

func TestRunTickPurgesExpiredTokens(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	require.NoError(t, h.tokens.Create(ctx, &notification.UnsubscribeToken{Token: "old", SubscriberID: 1, ExpiresAt: nyMorning.Add(-time.Minute)}))
	require.NoError(t, h.tokens.Create(ctx, &notification.UnsubscribeToken{Token: "fresh", SubscriberID: 1, ExpiresAt: nyMorning.Add(time.Hour)}))
	require.NoError(t, h.tokens.Create(ctx, &notification.UnsubscribeToken{Token: "redeemed", SubscriberID: 1, ExpiresAt: nyMorning.Add(-time.Minute), Used: true}))

	_, err := h.dispatcher().RunTick(ctx)
	require.NoError(t, err)

	_, err = h.tokens.Get(ctx, "old")
	assert.ErrorIs(t, err, notification.ErrTokenNotFound)
	_, err = h.tokens.Get(ctx, "fresh")
	assert.NoError(t, err)
	_, err = h.tokens.Get(ctx, "redeemed")
	assert.NoError(t, err)
}

func TestSendIssuesUnsubscribeToken(t *testing.T) {
	h := newHarness()
	h.cfg.TokenTTL = 48 * time.Hour
	s := h.seed(t, "ny@example.com", "America/New_York", subscriber.ChannelEmail)

	_, err := h.dispatcher().SendNow(context.Background(), s, notification.TierMorning)
	require.NoError(t, err)

	token := h.email.lastToken()
	require.NotEmpty(t, token)
	assert.True(t, strings.Contains(h.email.texts[0], "https://example.test/unsubscribe?token="))
	tok, err := h.tokens.Get(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, s.ID, tok.SubscriberID)
	assert.True(t, tok.ExpiresAt.Equal(nyMorning.Add(48*time.Hour)))
}

func TestSentTodayFollowsIdempotencyClock(t *testing.T) {
	s := &subscriber.Subscriber{Timezone: "Pacific/Auckland"}
	// 09:00 on the 16th in Auckland (NZDT) is 20:00 UTC on the 15th.
	last := sql.NullTime{Time: time.Date(2026, time.October, 15, 20, 0, 0, 0, time.UTC), Valid: true}
	now := time.Date(2026, time.October, 16, 1, 0, 0, 0, time.UTC)

	utc := NewDispatcher(DispatcherDeps{}, DispatchConfig{IdempotencyClock: IdempotencyUTC}, quietLogger())
	local := NewDispatcher(DispatcherDeps{}, DispatchConfig{IdempotencyClock: IdempotencyLocal}, quietLogger())

	assert.False(t, utc.SentToday(s, last, now))
	assert.True(t, local.SentToday(s, last, now))
	assert.False(t, local.SentToday(s, sql.NullTime{}, now))
}

func TestIsDueUsesLocalHour(t *testing.T) {
	d := NewDispatcher(DispatcherDeps{}, DispatchConfig{MorningHour: 9, EveningHour: 19}, quietLogger())
	ny := &subscriber.Subscriber{Timezone: "America/New_York"}

	assert.True(t, d.IsDue(ny, notification.TierMorning, nyMorning.Add(59*time.Minute)))
	assert.False(t, d.IsDue(ny, notification.TierMorning, nyMorning.Add(time.Hour)))
	assert.True(t, d.IsDue(ny, notification.TierEvening, nyMorning.Add(10*time.Hour)))

	broken := &subscriber.Subscriber{Timezone: "Nowhere/Special"}
	assert.True(t, d.IsDue(broken, notification.TierMorning, time.Date(2026, time.October, 15, 9, 0, 0, 0, time.UTC)))
}
