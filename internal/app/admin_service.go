package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"horoscope_dispatcher/internal/domain/apperr"
	"horoscope_dispatcher/internal/domain/contact"
	"horoscope_dispatcher/internal/domain/notification"
	"horoscope_dispatcher/internal/domain/subscriber"
)

// Custom application-level errors for admin service
var ErrAdminNotAuthorized = fmt.Errorf("performing user is not authorized as an admin")
var ErrSubscriberAlreadyInactive = fmt.Errorf("subscriber is already inactive")

// AdminStats is the operator's overview.
type AdminStats struct {
	Subscribers subscriber.Stats
	// Outcomes counts delivery log entries over the last 24 hours.
	Outcomes map[notification.Outcome]int
}

type AdminService struct {
	subs            subscriber.Repository
	logs            notification.LogRepository
	dispatcher      *Dispatcher
	clock           Clock
	adminTelegramID int64
}

func NewAdminService(subs subscriber.Repository, logs notification.LogRepository, dispatcher *Dispatcher, clock Clock, adminID int64) *AdminService {
	if clock == nil {
		clock = SystemClock{}
	}
	return &AdminService{
		subs:            subs,
		logs:            logs,
		dispatcher:      dispatcher,
		clock:           clock,
		adminTelegramID: adminID,
	}
}

func (s *AdminService) IsAdmin(userID int64) bool {
	return s.adminTelegramID != 0 && userID == s.adminTelegramID
}

// Stats returns subscriber headcount and the last day's delivery outcomes.
func (s *AdminService) Stats(ctx context.Context, performingAdminID int64) (*AdminStats, error) {
	if !s.IsAdmin(performingAdminID) {
		return nil, ErrAdminNotAuthorized
	}
	st, err := s.subs.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load subscriber stats: %w", err)
	}
	outcomes, err := s.logs.CountSince(ctx, s.clock.Now().Add(-24*time.Hour))
	if err != nil {
		return nil, fmt.Errorf("failed to count delivery outcomes: %w", err)
	}
	return &AdminStats{Subscribers: st, Outcomes: outcomes}, nil
}

func (s *AdminService) lookup(ctx context.Context, rawEmail string) (*subscriber.Subscriber, error) {
	email := contact.NormalizeEmail(rawEmail)
	sub, err := s.subs.GetByEmail(ctx, email)
	if errors.Is(err, subscriber.ErrNotFound) {
		return nil, apperr.NotFound("subscriber", email)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscriber by email: %w", err)
	}
	return sub, nil
}

// Deactivate handles the business logic for deactivating a subscriber.
func (s *AdminService) Deactivate(ctx context.Context, performingAdminID int64, email string) (*subscriber.Subscriber, error) {
	if !s.IsAdmin(performingAdminID) {
		return nil, ErrAdminNotAuthorized
	}
	target, err := s.lookup(ctx, email)
	if err != nil {
		return nil, err
	}
	if !target.IsActive {
		return target, ErrSubscriberAlreadyInactive
	}
	if err := s.subs.Deactivate(ctx, target.ID); err != nil {
		return nil, fmt.Errorf("failed to deactivate subscriber: %w", err)
	}
	target.IsActive = false
	return target, nil
}

// SendNow pushes the morning reading to one active subscriber outside the schedule.
func (s *AdminService) SendNow(ctx context.Context, performingAdminID int64, email string) (SendResult, error) {
	if !s.IsAdmin(performingAdminID) {
		return SendResult{}, ErrAdminNotAuthorized
	}
	target, err := s.lookup(ctx, email)
	if err != nil {
		return SendResult{}, err
	}
	if !target.IsActive {
		return SendResult{}, apperr.NotFound("subscriber", target.Email)
	}
	return s.dispatcher.SendNow(ctx, target, notification.TierMorning)
}
