// Package email delivers multipart (HTML + plain text) mail through a
// provider transport with bounded retries.
package email

import (
	"context"
	"strings"

	"horoscope_dispatcher/internal/domain/apperr"
	"horoscope_dispatcher/internal/domain/contact"
	"horoscope_dispatcher/internal/infra/retry"

	"github.com/sirupsen/logrus"
)

const channelName = "email"

// Envelope is one message to one recipient.
type Envelope struct {
	To      string
	Subject string
	HTML    string
	Text    string
}

// Transport performs a single provider call and returns the provider's
// message id, if it reports one.
type Transport interface {
	Name() string
	Deliver(ctx context.Context, env Envelope) (string, error)
}

type Result struct {
	Success    bool
	ProviderID string
	Attempts   int
}

type Sender struct {
	transport Transport
	policy    retry.Policy
	logger    *logrus.Entry
}

func NewSender(t Transport, policy retry.Policy, logger *logrus.Entry) *Sender {
	if policy.Attempts <= 0 {
		policy = retry.DefaultPolicy()
	}
	return &Sender{
		transport: t,
		policy:    policy,
		logger:    logger.WithFields(logrus.Fields{"channel": channelName, "provider": t.Name()}),
	}
}

// SendEmail validates the recipient and subject, then delivers with retries.
// Exhausted retries yield an *apperr.TransportError.
func (s *Sender) SendEmail(ctx context.Context, to, subject, html, text string) (Result, error) {
	to = contact.NormalizeEmail(to)
	if !contact.IsValidEmail(to) {
		return Result{}, apperr.Validation("email", "%q is not a valid email address", to)
	}
	if strings.TrimSpace(subject) == "" {
		return Result{}, apperr.Validation("subject", "subject is empty")
	}
	if strings.TrimSpace(html) == "" && strings.TrimSpace(text) == "" {
		return Result{}, apperr.Validation("body", "message body is empty")
	}

	env := Envelope{To: to, Subject: subject, HTML: html, Text: text}
	var providerID string
	attempts, err := retry.Do(ctx, s.policy, func(ctx context.Context, attempt int) error {
		id, err := s.transport.Deliver(ctx, env)
		if err != nil {
			s.logger.WithError(err).WithField("attempt", attempt).Warn("Email attempt failed")
			return err
		}
		providerID = id
		return nil
	})
	if err != nil {
		if apperr.IsValidation(err) {
			return Result{Attempts: attempts}, err
		}
		return Result{Attempts: attempts}, &apperr.TransportError{Channel: channelName, Attempts: attempts, Err: err}
	}

	s.logger.WithFields(logrus.Fields{"attempts": attempts, "provider_id": providerID}).Info("Email delivered")
	return Result{Success: true, ProviderID: providerID, Attempts: attempts}, nil
}
