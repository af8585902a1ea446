package app

import (
	"context"
	"time"

	"horoscope_dispatcher/internal/app/content"
	"horoscope_dispatcher/internal/domain/notification"
	"horoscope_dispatcher/internal/domain/subscriber"
	"horoscope_dispatcher/internal/infra/email"
	"horoscope_dispatcher/internal/infra/sms"
)

type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, html, text string) (email.Result, error)
}

type SMSSender interface {
	SendSMS(ctx context.Context, to, text string) (sms.Result, error)
}

type ContentGenerator interface {
	Generate(ctx context.Context, s *subscriber.Subscriber, tier notification.Tier, now time.Time) (content.Reading, error)
}

// Recorder receives delivery and tick outcomes, e.g. for metrics.
type Recorder interface {
	DeliveryRecorded(channel notification.Channel, tier notification.Tier, outcome notification.Outcome)
	TickCompleted(report TickReport, elapsed time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) DeliveryRecorded(notification.Channel, notification.Tier, notification.Outcome) {}
func (nopRecorder) TickCompleted(TickReport, time.Duration)                                        {}
