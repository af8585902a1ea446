package app

import (
	"context"
	"testing"

	"horoscope_dispatcher/internal/domain/apperr"
	"horoscope_dispatcher/internal/domain/notification"
	"horoscope_dispatcher/internal/domain/subscriber"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const adminID int64 = 42

func (h *harness) admin() *AdminService {
	return NewAdminService(h.subs, h.logs, h.dispatcher(), h.clock, adminID)
}

func TestAdminRejectsOtherUsers(t *testing.T) {
	h := newHarness()
	svc := h.admin()

	_, err := svc.Stats(context.Background(), 7)
	assert.ErrorIs(t, err, ErrAdminNotAuthorized)
	_, err = svc.Deactivate(context.Background(), 7, "emma@example.com")
	assert.ErrorIs(t, err, ErrAdminNotAuthorized)
	_, err = svc.SendNow(context.Background(), 7, "emma@example.com")
	assert.ErrorIs(t, err, ErrAdminNotAuthorized)
	assert.False(t, NewAdminService(h.subs, h.logs, nil, nil, 0).IsAdmin(0))
}

func TestAdminStatsAndDeactivate(t *testing.T) {
	h := newHarness()
	svc := h.admin()
	ctx := context.Background()
	h.seed(t, "emma@example.com", "America/New_York", subscriber.ChannelEmail)
	h.seed(t, "liam@example.com", "America/New_York", subscriber.ChannelEmail)

	res, err := svc.SendNow(ctx, adminID, "Emma@example.com")
	require.NoError(t, err)
	assert.True(t, res.Success())

	target, err := svc.Deactivate(ctx, adminID, "liam@example.com")
	require.NoError(t, err)
	assert.False(t, target.IsActive)
	_, err = svc.Deactivate(ctx, adminID, "liam@example.com")
	assert.ErrorIs(t, err, ErrSubscriberAlreadyInactive)

	_, err = svc.SendNow(ctx, adminID, "liam@example.com")
	assert.True(t, apperr.IsNotFound(err))
	_, err = svc.Deactivate(ctx, adminID, "nobody@example.com")
	assert.True(t, apperr.IsNotFound(err))

	stats, err := svc.Stats(ctx, adminID)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Subscribers.Active)
	assert.Equal(t, 1, stats.Subscribers.Inactive)
	assert.Equal(t, 1, stats.Outcomes[notification.OutcomeSuccess])
}
