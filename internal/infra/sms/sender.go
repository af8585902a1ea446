// Package sms delivers text messages through a provider transport, splitting
// long bodies into segments and retrying each segment with backoff.
package sms

import (
	"context"
	"fmt"

	"horoscope_dispatcher/internal/domain/apperr"
	"horoscope_dispatcher/internal/domain/contact"
	"horoscope_dispatcher/internal/infra/retry"

	"github.com/sirupsen/logrus"
)

const channelName = "sms"

// Transport performs one provider call for one segment and returns the
// provider's message id.
type Transport interface {
	Name() string
	Deliver(ctx context.Context, to, body string) (string, error)
}

type Options struct {
	MaxLength      int
	PrefixSegments bool
	Retry          retry.Policy
}

// Result describes a (possibly partial) multi-segment send.
type Result struct {
	Success       bool
	SegmentsSent  int
	TotalSegments int
	ProviderIDs   []string
	Attempts      int
}

type Sender struct {
	transport Transport
	opts      Options
	logger    *logrus.Entry
}

func NewSender(t Transport, opts Options, logger *logrus.Entry) *Sender {
	if opts.MaxLength <= 0 {
		opts.MaxLength = DefaultMaxLength
	}
	if opts.Retry.Attempts <= 0 {
		opts.Retry = retry.DefaultPolicy()
	}
	return &Sender{
		transport: t,
		opts:      opts,
		logger:    logger.WithFields(logrus.Fields{"channel": channelName, "provider": t.Name()}),
	}
}

// SendSMS sends text to the given number. Segments go out in order; the first
// segment that still fails after retries stops the send and the result reports
// how many segments made it.
func (s *Sender) SendSMS(ctx context.Context, to, text string) (Result, error) {
	dst, ok := contact.NormalizePhone(to)
	if !ok {
		return Result{}, apperr.Validation("phone", "%q is not a valid phone number", to)
	}

	bodies := wireSegments(Split(text, s.opts.MaxLength), s.opts.PrefixSegments)
	if len(bodies) == 0 {
		return Result{}, apperr.Validation("text", "message body is empty")
	}

	res := Result{TotalSegments: len(bodies)}
	log := s.logger.WithField("segments", len(bodies))
	for i, body := range bodies {
		var providerID string
		attempts, err := retry.Do(ctx, s.opts.Retry, func(ctx context.Context, attempt int) error {
			id, err := s.transport.Deliver(ctx, dst, body)
			if err != nil {
				log.WithError(err).WithFields(logrus.Fields{"segment": i + 1, "attempt": attempt}).Warn("SMS segment attempt failed")
				return err
			}
			providerID = id
			return nil
		})
		res.Attempts += attempts
		if err != nil {
			if apperr.IsValidation(err) {
				return res, err
			}
			return res, &apperr.TransportError{
				Channel:  channelName,
				Attempts: attempts,
				Err:      fmt.Errorf("segment %d/%d: %w", i+1, len(bodies), err),
			}
		}
		res.SegmentsSent++
		res.ProviderIDs = append(res.ProviderIDs, providerID)
	}

	res.Success = true
	log.WithField("provider_ids", res.ProviderIDs).Info("SMS delivered")
	return res, nil
}
