package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"runtime/debug"
	"time"

	"horoscope_dispatcher/internal/app/content"
	"horoscope_dispatcher/internal/domain/apperr"
	"horoscope_dispatcher/internal/domain/notification"
	"horoscope_dispatcher/internal/domain/subscriber"
	domainTelegram "horoscope_dispatcher/internal/domain/telegram"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrNotWarranted means the evening tier has nothing to follow up on today.
	ErrNotWarranted = errors.New("evening reading not warranted")
	ErrNoConsent    = errors.New("subscriber has not given consent")
)

const (
	IdempotencyUTC   = "utc"
	IdempotencyLocal = "local"
)

type DispatchConfig struct {
	MorningHour    int
	EveningEnabled bool
	EveningHour    int
	// IdempotencyClock picks the calendar used for "already sent today":
	// "utc" (default) or the subscriber's "local" zone.
	IdempotencyClock   string
	BatchSize          int
	TickTimeout        time.Duration
	TokenTTL           time.Duration
	BaseURL            string
	PatternHistory     int
	RateLimitRetention time.Duration
}

type DispatcherDeps struct {
	Subscribers subscriber.Repository
	Logs        notification.LogRepository
	Tokens      notification.TokenRepository
	RateLimits  notification.RateLimitRepository // optional, purged each tick
	Content     ContentGenerator
	Email       EmailSender // nil disables the channel
	SMS         SMSSender   // nil disables the channel
	Clock       Clock
	Recorder    Recorder
	Alerts      domainTelegram.Client // optional operator alerts
	AdminChatID int64
}

// ChannelResult is the outcome of one channel for one send.
type ChannelResult struct {
	Channel       notification.Channel `json:"channel"`
	Outcome       notification.Outcome `json:"outcome"`
	ProviderID    string               `json:"provider_id,omitempty"`
	Attempts      int                  `json:"attempts,omitempty"`
	SegmentsSent  int                  `json:"segments_sent,omitempty"`
	TotalSegments int                  `json:"total_segments,omitempty"`
	Error         string               `json:"error,omitempty"`
}

// SendResult aggregates a send across the subscriber's channels.
type SendResult struct {
	SubscriberID int64             `json:"subscriber_id"`
	Tier         notification.Tier `json:"tier"`
	SentAt       time.Time         `json:"sent_at"`
	PatternID    string            `json:"pattern_id,omitempty"`
	Channels     []ChannelResult   `json:"channels"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// Success reports whether at least one channel delivered.
func (r SendResult) Success() bool {
	for _, c := range r.Channels {
		if c.Outcome == notification.OutcomeSuccess {
			return true
		}
	}
	return false
}

func (r SendResult) allSkipped() bool {
	for _, c := range r.Channels {
		if c.Outcome != notification.OutcomeSkipped {
			return false
		}
	}
	return len(r.Channels) > 0
}

// TickReport summarises one scheduled pass.
type TickReport struct {
	TickID     string    `json:"tick_id"`
	StartedAt  time.Time `json:"started_at"`
	Considered int       `json:"considered"`
	Due        int       `json:"due"`
	Sent       int       `json:"sent"`
	Skipped    int       `json:"skipped"`
	Failed     int       `json:"failed"`
	TimedOut   bool      `json:"timed_out"`
}

type Dispatcher struct {
	deps   DispatcherDeps
	cfg    DispatchConfig
	logger *logrus.Entry
	render func(content.Reading, content.RenderOptions) (content.Message, error)
}

func NewDispatcher(deps DispatcherDeps, cfg DispatchConfig, logger *logrus.Entry) *Dispatcher {
	if deps.Clock == nil {
		deps.Clock = SystemClock{}
	}
	if deps.Recorder == nil {
		deps.Recorder = nopRecorder{}
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 200
	}
	if cfg.IdempotencyClock == "" {
		cfg.IdempotencyClock = IdempotencyUTC
	}
	return &Dispatcher{deps: deps, cfg: cfg, logger: logger, render: content.Render}
}

func (d *Dispatcher) tiers() []notification.Tier {
	if d.cfg.EveningEnabled {
		return []notification.Tier{notification.TierMorning, notification.TierEvening}
	}
	return []notification.Tier{notification.TierMorning}
}

func (d *Dispatcher) sendHour(tier notification.Tier) int {
	if tier == notification.TierEvening {
		return d.cfg.EveningHour
	}
	return d.cfg.MorningHour
}

// IsDue is an hour-granularity test in the subscriber's own zone.
func (d *Dispatcher) IsDue(s *subscriber.Subscriber, tier notification.Tier, now time.Time) bool {
	return now.In(s.Location()).Hour() == d.sendHour(tier)
}

// SentToday reports whether last falls on now's calendar day in the
// configured idempotency clock.
func (d *Dispatcher) SentToday(s *subscriber.Subscriber, last sql.NullTime, now time.Time) bool {
	if !last.Valid {
		return false
	}
	loc := time.UTC
	if d.cfg.IdempotencyClock == IdempotencyLocal {
		loc = s.Location()
	}
	return sameDay(last.Time, now, loc)
}

// morningSentLocally reports whether the morning reading went out on the
// subscriber's current local day. The evening tier follows up on that
// morning whatever calendar the duplicate check uses.
func morningSentLocally(s *subscriber.Subscriber, now time.Time) bool {
	return s.MorningSentAt.Valid && sameDay(s.MorningSentAt.Time, now, s.Location())
}

func sameDay(a, b time.Time, loc *time.Location) bool {
	ay, am, ad := a.In(loc).Date()
	by, bm, bd := b.In(loc).Date()
	return ay == by && am == bm && ad == bd
}

func lastSent(s *subscriber.Subscriber, tier notification.Tier) sql.NullTime {
	if tier == notification.TierEvening {
		return s.EveningSentAt
	}
	return s.MorningSentAt
}

// RunTick evaluates every active subscriber once. Per-subscriber failures are
// logged and counted; only a failure to read the subscriber list aborts it.
func (d *Dispatcher) RunTick(ctx context.Context) (TickReport, error) {
	now := d.deps.Clock.Now()
	report := TickReport{TickID: uuid.NewString()[:8], StartedAt: now}
	log := d.logger.WithField("tick_id", report.TickID)
	log.WithField("now", now.UTC().Format(time.RFC3339)).Info("Tick started")

	if d.cfg.TickTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.TickTimeout)
		defer cancel()
	}
	d.cleanup(ctx, now, log)

	var afterID int64
batches:
	for {
		if ctx.Err() != nil {
			report.TimedOut = true
			break
		}
		batch, err := d.deps.Subscribers.ListActiveBatch(ctx, afterID, d.cfg.BatchSize)
		if err != nil {
			if ctx.Err() != nil {
				report.TimedOut = true
				break
			}
			d.finishTick(report, now, log)
			return report, fmt.Errorf("listing active subscribers: %w", err)
		}
		for _, s := range batch {
			if ctx.Err() != nil {
				report.TimedOut = true
				break batches
			}
			report.Considered++
			for _, tier := range d.tiers() {
				d.processTier(ctx, s, tier, now, &report, log)
			}
		}
		if len(batch) < d.cfg.BatchSize {
			break
		}
		afterID = batch[len(batch)-1].ID
	}

	d.finishTick(report, now, log)
	return report, nil
}

func (d *Dispatcher) processTier(ctx context.Context, s *subscriber.Subscriber, tier notification.Tier, now time.Time, report *TickReport, log *logrus.Entry) {
	if !d.IsDue(s, tier, now) {
		return
	}
	report.Due++

	log = log.WithFields(logrus.Fields{"subscriber_id": s.ID, "tier": tier})
	res, err := d.deliverSafely(ctx, s, tier, now)
	if _, already := apperr.AsAlreadySent(err); already || errors.Is(err, ErrNotWarranted) || errors.Is(err, ErrNoConsent) {
		report.Skipped++
		log.WithError(err).Debug("Subscriber skipped")
		return
	}
	if err != nil {
		report.Failed++
		log.WithError(err).Error("Subscriber pipeline failed")
		return
	}
	switch {
	case res.Success():
		report.Sent++
	case res.allSkipped():
		report.Skipped++
	default:
		report.Failed++
		log.Warn("No channel delivered")
	}
}

func (d *Dispatcher) finishTick(report TickReport, now time.Time, log *logrus.Entry) {
	elapsed := d.deps.Clock.Now().Sub(now)
	d.deps.Recorder.TickCompleted(report, elapsed)

	entry := log.WithFields(logrus.Fields{
		"considered": report.Considered,
		"due":        report.Due,
		"sent":       report.Sent,
		"skipped":    report.Skipped,
		"failed":     report.Failed,
		"timed_out":  report.TimedOut,
	})
	if report.TimedOut {
		entry.Warn("Tick stopped at deadline")
	} else {
		entry.Info("Tick finished")
	}

	if d.deps.Alerts != nil && d.deps.AdminChatID != 0 && (report.Failed > 0 || report.TimedOut) {
		msg := fmt.Sprintf("Tick %s: %d sent, %d failed, %d skipped of %d due", report.TickID, report.Sent, report.Failed, report.Skipped, report.Due)
		if report.TimedOut {
			msg += " (stopped at deadline)"
		}
		if err := d.deps.Alerts.SendMessage(d.deps.AdminChatID, msg); err != nil {
			log.WithError(err).Warn("Failed to send tick alert")
		}
	}
}

func (d *Dispatcher) cleanup(ctx context.Context, now time.Time, log *logrus.Entry) {
	if d.deps.Tokens != nil {
		if n, err := d.deps.Tokens.DeleteExpired(ctx, now); err != nil {
			log.WithError(err).Warn("Failed to purge expired tokens")
		} else if n > 0 {
			log.WithField("count", n).Debug("Purged expired tokens")
		}
	}
	if d.deps.RateLimits != nil && d.cfg.RateLimitRetention > 0 {
		if _, err := d.deps.RateLimits.Purge(ctx, now.Add(-d.cfg.RateLimitRetention)); err != nil {
			log.WithError(err).Warn("Failed to purge rate-limit hits")
		}
	}
}

// SendNow runs the per-subscriber pipeline outside the schedule: the due-hour
// test is skipped, the one-send-per-day test is not.
func (d *Dispatcher) SendNow(ctx context.Context, s *subscriber.Subscriber, tier notification.Tier) (SendResult, error) {
	return d.deliverSafely(ctx, s, tier, d.deps.Clock.Now())
}

func (d *Dispatcher) deliverSafely(ctx context.Context, s *subscriber.Subscriber, tier notification.Tier, now time.Time) (res SendResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.WithFields(logrus.Fields{
				"subscriber_id": s.ID,
				"tier":          tier,
				"stack":         string(debug.Stack()),
			}).Errorf("Recovered panic in delivery: %v", r)
			err = fmt.Errorf("panic during delivery: %v", r)
		}
	}()
	return d.deliver(ctx, s, tier, now)
}

func (d *Dispatcher) deliver(ctx context.Context, s *subscriber.Subscriber, tier notification.Tier, now time.Time) (SendResult, error) {
	if !s.ConsentGiven {
		return SendResult{}, ErrNoConsent
	}
	expected := lastSent(s, tier)
	if d.SentToday(s, expected, now) {
		return SendResult{}, &apperr.AlreadySentError{LastSentAt: expected.Time}
	}
	if tier == notification.TierEvening && !(s.MorningFriction && morningSentLocally(s, now)) {
		return SendResult{}, ErrNotWarranted
	}

	claimed, err := d.deps.Subscribers.ClaimSend(ctx, s.ID, tier, expected, now)
	if err != nil {
		return SendResult{}, fmt.Errorf("claiming %s send: %w", tier, err)
	}
	if !claimed {
		// Someone else sent in between; report their timestamp.
		fresh, err := d.deps.Subscribers.GetByID(ctx, s.ID)
		if err != nil {
			return SendResult{}, fmt.Errorf("reloading subscriber after lost claim: %w", err)
		}
		return SendResult{}, &apperr.AlreadySentError{LastSentAt: lastSent(fresh, tier).Time}
	}

	log := d.logger.WithFields(logrus.Fields{"subscriber_id": s.ID, "tier": tier})
	res := SendResult{SubscriberID: s.ID, Tier: tier, SentAt: now}
	channels := channelsFor(s)

	reading, err := d.deps.Content.Generate(ctx, s, tier, now)
	if err != nil {
		res.Channels = failAll(channels, fmt.Sprintf("content generation failed: %v", err))
		d.appendLog(ctx, s.ID, tier, res.Channels, now, log)
		return res, fmt.Errorf("generating content: %w", err)
	}
	res.PatternID = reading.PatternID

	msg, err := d.render(reading, content.RenderOptions{UnsubscribeURL: d.unsubscribeURL(ctx, s, now, log)})
	if err != nil {
		res.Channels = failAll(channels, fmt.Sprintf("content rendering failed: %v", err))
		d.appendLog(ctx, s.ID, tier, res.Channels, now, log)
		return res, fmt.Errorf("rendering content: %w", err)
	}
	res.Metadata = msg.Metadata

	res.Channels = d.fanOut(ctx, s, channels, msg)
	d.appendLog(ctx, s.ID, tier, res.Channels, now, log)

	update := subscriber.ContentUpdate{
		Tier:            tier,
		PatternID:       reading.PatternID,
		MorningFriction: reading.Friction,
		HistoryLimit:    d.cfg.PatternHistory,
	}
	if reading.CasualClose != "" {
		update.CasualCloseAt = sql.NullTime{Time: now, Valid: true}
	}
	if err := d.deps.Subscribers.RecordContent(ctx, s.ID, update); err != nil {
		log.WithError(err).Warn("Failed to record content history")
	}

	log.WithField("success", res.Success()).Info("Delivery finished")
	return res, nil
}

func channelsFor(s *subscriber.Subscriber) []notification.Channel {
	var out []notification.Channel
	if s.Channel.IncludesEmail() {
		out = append(out, notification.ChannelEmail)
	}
	if s.Channel.IncludesSMS() {
		out = append(out, notification.ChannelSMS)
	}
	return out
}

func failAll(channels []notification.Channel, detail string) []ChannelResult {
	out := make([]ChannelResult, 0, len(channels))
	for _, ch := range channels {
		out = append(out, ChannelResult{Channel: ch, Outcome: notification.OutcomeFailed, Error: detail})
	}
	return out
}

// fanOut delivers to every channel concurrently; results keep channel order.
func (d *Dispatcher) fanOut(ctx context.Context, s *subscriber.Subscriber, channels []notification.Channel, msg content.Message) []ChannelResult {
	results := make([]ChannelResult, len(channels))
	var g errgroup.Group
	for i, ch := range channels {
		g.Go(func() error {
			results[i] = d.sendOn(ctx, s, ch, msg)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (d *Dispatcher) sendOn(ctx context.Context, s *subscriber.Subscriber, ch notification.Channel, msg content.Message) ChannelResult {
	out := ChannelResult{Channel: ch}
	switch ch {
	case notification.ChannelEmail:
		if d.deps.Email == nil {
			out.Outcome, out.Error = notification.OutcomeSkipped, (&apperr.ConfigurationError{Channel: string(ch)}).Error()
			return out
		}
		res, err := d.deps.Email.SendEmail(ctx, s.Email, msg.Subject, msg.HTML, msg.Text)
		out.ProviderID, out.Attempts = res.ProviderID, res.Attempts
		if err != nil {
			out.Outcome, out.Error = notification.OutcomeFailed, err.Error()
			return out
		}
	case notification.ChannelSMS:
		if d.deps.SMS == nil {
			out.Outcome, out.Error = notification.OutcomeSkipped, (&apperr.ConfigurationError{Channel: string(ch)}).Error()
			return out
		}
		if !s.Phone.Valid || s.Phone.String == "" {
			out.Outcome, out.Error = notification.OutcomeFailed, apperr.Validation("phone", "no phone number on file").Error()
			return out
		}
		res, err := d.deps.SMS.SendSMS(ctx, s.Phone.String, msg.SMS)
		out.Attempts, out.SegmentsSent, out.TotalSegments = res.Attempts, res.SegmentsSent, res.TotalSegments
		if len(res.ProviderIDs) > 0 {
			out.ProviderID = res.ProviderIDs[0]
		}
		if err != nil {
			out.Outcome, out.Error = notification.OutcomeFailed, err.Error()
			return out
		}
	}
	out.Outcome = notification.OutcomeSuccess
	return out
}

func (d *Dispatcher) appendLog(ctx context.Context, subscriberID int64, tier notification.Tier, results []ChannelResult, now time.Time, log *logrus.Entry) {
	for _, r := range results {
		entry := &notification.LogEntry{
			SubscriberID: subscriberID,
			Channel:      r.Channel,
			Tier:         tier,
			Outcome:      r.Outcome,
			ProviderID:   sql.NullString{String: r.ProviderID, Valid: r.ProviderID != ""},
			Detail:       sql.NullString{String: r.Error, Valid: r.Error != ""},
			CreatedAt:    now,
		}
		if err := d.deps.Logs.Append(ctx, entry); err != nil {
			log.WithError(err).WithField("channel", r.Channel).Error("Failed to append delivery log")
		}
		d.deps.Recorder.DeliveryRecorded(r.Channel, tier, r.Outcome)
		log.WithFields(logrus.Fields{"channel": r.Channel, "outcome": r.Outcome, "detail": r.Error}).Info("Delivery recorded")
	}
}

// unsubscribeURL issues a single-use token. A failure only costs the link.
func (d *Dispatcher) unsubscribeURL(ctx context.Context, s *subscriber.Subscriber, now time.Time, log *logrus.Entry) string {
	if d.deps.Tokens == nil || d.cfg.BaseURL == "" {
		return ""
	}
	ttl := d.cfg.TokenTTL
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	tok := &notification.UnsubscribeToken{
		Token:        uuid.NewString(),
		SubscriberID: s.ID,
		ExpiresAt:    now.Add(ttl),
		CreatedAt:    now,
	}
	if err := d.deps.Tokens.Create(ctx, tok); err != nil {
		log.WithError(err).Warn("Failed to issue unsubscribe token")
		return ""
	}
	return d.cfg.BaseURL + "/unsubscribe?token=" + url.QueryEscape(tok.Token)
}
