package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"horoscope_dispatcher/internal/domain/apperr"
	"horoscope_dispatcher/internal/domain/contact"
	"horoscope_dispatcher/internal/domain/notification"
	"horoscope_dispatcher/internal/domain/subscriber"
	"horoscope_dispatcher/internal/domain/zodiac"

	"github.com/sirupsen/logrus"
)

// SignupRequest is the raw signup form; the service validates every field.
type SignupRequest struct {
	Email          string `json:"email"`
	Phone          string `json:"phone"`
	Birthdate      string `json:"birthdate"`
	FirstName      string `json:"first_name"`
	Timezone       string `json:"timezone"`
	DeliveryMethod string `json:"delivery_method"`
	ConsentGiven   bool   `json:"consent_given"`

	// Optional; both must be given for couples readings.
	PartnerName      string `json:"partner_name"`
	PartnerBirthdate string `json:"partner_birthdate"`
}

type SignupResult struct {
	Subscriber *subscriber.Subscriber
	Send       *SendResult
	// SendError explains why no immediate send happened, e.g. already sent today.
	SendError string
}

type UnsubscribeResult struct {
	SubscriberID        int64
	AlreadyUnsubscribed bool
}

type SubscriptionConfig struct {
	DefaultTimezone       string
	AllowEmailUnsubscribe bool
}

type SubscriptionService struct {
	subs       subscriber.Repository
	tokens     notification.TokenRepository
	dispatcher *Dispatcher
	clock      Clock
	cfg        SubscriptionConfig
	logger     *logrus.Entry
}

func NewSubscriptionService(
	subs subscriber.Repository,
	tokens notification.TokenRepository,
	dispatcher *Dispatcher,
	clock Clock,
	cfg SubscriptionConfig,
	logger *logrus.Entry,
) *SubscriptionService {
	if clock == nil {
		clock = SystemClock{}
	}
	if cfg.DefaultTimezone == "" {
		cfg.DefaultTimezone = "UTC"
	}
	return &SubscriptionService{
		subs:       subs,
		tokens:     tokens,
		dispatcher: dispatcher,
		clock:      clock,
		cfg:        cfg,
		logger:     logger,
	}
}

// Signup validates the form, upserts by email (reactivating a previous
// subscriber) and attempts an immediate morning send.
func (s *SubscriptionService) Signup(ctx context.Context, req SignupRequest) (*SignupResult, error) {
	candidate, err := s.validateSignup(req)
	if err != nil {
		return nil, err
	}

	existing, err := s.subs.GetByEmail(ctx, candidate.Email)
	switch {
	case err == nil:
		candidate.Sign = existing.Sign
		if !existing.Birthdate.Equal(candidate.Birthdate) || existing.Sign == "" {
			candidate.Sign = zodiac.Derive(candidate.Birthdate)
		}
	case errors.Is(err, subscriber.ErrNotFound):
		candidate.Sign = zodiac.Derive(candidate.Birthdate)
	default:
		return nil, fmt.Errorf("looking up subscriber: %w", err)
	}

	if err := s.subs.Upsert(ctx, candidate); err != nil {
		return nil, fmt.Errorf("saving subscriber: %w", err)
	}
	log := s.logger.WithField("subscriber_id", candidate.ID)
	log.WithFields(logrus.Fields{"sign": candidate.Sign, "channel": candidate.Channel, "reactivated": existing != nil}).Info("Subscriber signed up")

	result := &SignupResult{Subscriber: candidate}
	res, err := s.dispatcher.SendNow(ctx, candidate, notification.TierMorning)
	if len(res.Channels) > 0 {
		result.Send = &res
	}
	if err != nil {
		log.WithError(err).Warn("Immediate send after signup did not complete")
		result.SendError = err.Error()
	}
	return result, nil
}

func (s *SubscriptionService) validateSignup(req SignupRequest) (*subscriber.Subscriber, error) {
	now := s.clock.Now()

	email := contact.NormalizeEmail(req.Email)
	if !contact.IsValidEmail(email) {
		return nil, apperr.Validation("email", "a valid email address is required")
	}
	birthdate, err := zodiac.ParseBirthdate(req.Birthdate, now)
	if err != nil {
		return nil, apperr.Validation("birthdate", "%v", err)
	}
	channel, ok := subscriber.ParseChannel(strings.ToLower(strings.TrimSpace(req.DeliveryMethod)))
	if !ok {
		return nil, apperr.Validation("delivery_method", "must be one of email, sms, both")
	}

	var phone sql.NullString
	if raw := strings.TrimSpace(req.Phone); raw != "" {
		normalized, ok := contact.NormalizePhone(raw)
		if !ok {
			return nil, apperr.Validation("phone", "%q is not a valid phone number", raw)
		}
		phone = sql.NullString{String: normalized, Valid: true}
	}
	if channel.IncludesSMS() && !phone.Valid {
		return nil, apperr.Validation("phone", "a phone number is required for SMS delivery")
	}

	tz := strings.TrimSpace(req.Timezone)
	if tz == "" {
		tz = s.cfg.DefaultTimezone
	}
	if !contact.IsValidTimezone(tz) {
		return nil, apperr.Validation("timezone", "%q is not a recognised IANA timezone", tz)
	}
	if !req.ConsentGiven {
		return nil, apperr.Validation("consent_given", "consent is required to receive messages")
	}

	var firstName sql.NullString
	if name := strings.TrimSpace(req.FirstName); name != "" {
		firstName = sql.NullString{String: name, Valid: true}
	}

	sub := &subscriber.Subscriber{
		Email:        email,
		Phone:        phone,
		FirstName:    firstName,
		Birthdate:    birthdate,
		Timezone:     tz,
		Channel:      channel,
		ConsentGiven: true,
		ConsentAt:    sql.NullTime{Time: now, Valid: true},
		IsActive:     true,
	}
	if err := applyPartner(sub, req, now); err != nil {
		return nil, err
	}
	return sub, nil
}

func applyPartner(sub *subscriber.Subscriber, req SignupRequest, now time.Time) error {
	name := strings.TrimSpace(req.PartnerName)
	rawBirthdate := strings.TrimSpace(req.PartnerBirthdate)
	switch {
	case name == "" && rawBirthdate == "":
		return nil
	case name == "":
		return apperr.Validation("partner_name", "a partner name is required with a partner birthdate")
	case rawBirthdate == "":
		return apperr.Validation("partner_birthdate", "a partner birthdate is required with a partner name")
	}
	if !sub.FirstName.Valid {
		return apperr.Validation("first_name", "a first name is required for couples readings")
	}
	birthdate, err := zodiac.ParseBirthdate(rawBirthdate, now)
	if err != nil {
		return apperr.Validation("partner_birthdate", "%v", err)
	}
	sub.PartnerName = sql.NullString{String: name, Valid: true}
	sub.PartnerBirthdate = sql.NullTime{Time: birthdate, Valid: true}
	sub.PartnerSign = zodiac.Derive(birthdate)
	return nil
}

// activeByEmail hides inactive subscribers behind NotFound.
func (s *SubscriptionService) activeByEmail(ctx context.Context, raw string) (*subscriber.Subscriber, error) {
	email := contact.NormalizeEmail(raw)
	if email == "" {
		return nil, apperr.Validation("email", "email is required")
	}
	sub, err := s.subs.GetByEmail(ctx, email)
	if errors.Is(err, subscriber.ErrNotFound) {
		return nil, apperr.NotFound("subscriber", email)
	}
	if err != nil {
		return nil, fmt.Errorf("looking up subscriber: %w", err)
	}
	if !sub.IsActive {
		return nil, apperr.NotFound("subscriber", email)
	}
	return sub, nil
}

// RequestSend delivers today's morning reading on demand. A second call on
// the same day fails with AlreadySentError.
func (s *SubscriptionService) RequestSend(ctx context.Context, email string) (SendResult, error) {
	sub, err := s.activeByEmail(ctx, email)
	if err != nil {
		return SendResult{}, err
	}
	return s.dispatcher.SendNow(ctx, sub, notification.TierMorning)
}

// Unsubscribe deactivates by email. Repeating it is harmless.
func (s *SubscriptionService) Unsubscribe(ctx context.Context, rawEmail string) (UnsubscribeResult, error) {
	email := contact.NormalizeEmail(rawEmail)
	if email == "" {
		return UnsubscribeResult{}, apperr.Validation("email", "email is required")
	}
	sub, err := s.subs.GetByEmail(ctx, email)
	if errors.Is(err, subscriber.ErrNotFound) {
		return UnsubscribeResult{}, apperr.NotFound("subscriber", email)
	}
	if err != nil {
		return UnsubscribeResult{}, fmt.Errorf("looking up subscriber: %w", err)
	}
	return s.deactivate(ctx, sub)
}

func (s *SubscriptionService) deactivate(ctx context.Context, sub *subscriber.Subscriber) (UnsubscribeResult, error) {
	res := UnsubscribeResult{SubscriberID: sub.ID}
	if !sub.IsActive {
		res.AlreadyUnsubscribed = true
		return res, nil
	}
	if err := s.subs.Deactivate(ctx, sub.ID); err != nil {
		return res, fmt.Errorf("deactivating subscriber %d: %w", sub.ID, err)
	}
	s.logger.WithField("subscriber_id", sub.ID).Info("Subscriber unsubscribed")
	return res, nil
}

// UnsubscribeByToken redeems a single-use link. A used or expired token never
// changes the account.
func (s *SubscriptionService) UnsubscribeByToken(ctx context.Context, token string) (UnsubscribeResult, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return UnsubscribeResult{}, apperr.Validation("token", "token is required")
	}
	tok, err := s.tokens.Get(ctx, token)
	if errors.Is(err, notification.ErrTokenNotFound) {
		return UnsubscribeResult{}, apperr.NotFound("unsubscribe token", token)
	}
	if err != nil {
		return UnsubscribeResult{}, fmt.Errorf("loading unsubscribe token: %w", err)
	}
	if tok.Used {
		return UnsubscribeResult{SubscriberID: tok.SubscriberID, AlreadyUnsubscribed: true}, nil
	}
	if tok.Expired(s.clock.Now()) {
		return UnsubscribeResult{}, apperr.Validation("token", "this unsubscribe link has expired")
	}

	won, err := s.tokens.MarkUsed(ctx, token)
	if err != nil {
		return UnsubscribeResult{}, fmt.Errorf("redeeming unsubscribe token: %w", err)
	}
	if !won {
		return UnsubscribeResult{SubscriberID: tok.SubscriberID, AlreadyUnsubscribed: true}, nil
	}

	sub, err := s.subs.GetByID(ctx, tok.SubscriberID)
	if errors.Is(err, subscriber.ErrNotFound) {
		return UnsubscribeResult{}, apperr.NotFound("subscriber", fmt.Sprint(tok.SubscriberID))
	}
	if err != nil {
		return UnsubscribeResult{}, fmt.Errorf("loading subscriber %d: %w", tok.SubscriberID, err)
	}
	return s.deactivate(ctx, sub)
}

// UnsubscribeByEmailLink is the unauthenticated GET variant; it is only
// honoured when ALLOW_EMAIL_UNSUBSCRIBE is set.
func (s *SubscriptionService) UnsubscribeByEmailLink(ctx context.Context, email string) (UnsubscribeResult, error) {
	if !s.cfg.AllowEmailUnsubscribe {
		return UnsubscribeResult{}, apperr.Validation("email", "unsubscribing by email link is disabled; use the link from your message")
	}
	return s.Unsubscribe(ctx, email)
}
