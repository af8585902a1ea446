package metrics

import (
	"testing"
	"time"

	"horoscope_dispatcher/internal/app"
	"horoscope_dispatcher/internal/domain/notification"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ app.Recorder = (*Collectors)(nil)

func TestCollectorsRecordDeliveriesAndTicks(t *testing.T) {
	c := New()
	require.NoError(t, c.Register(prometheus.NewRegistry()))

	c.DeliveryRecorded(notification.ChannelEmail, notification.TierMorning, notification.OutcomeSuccess)
	c.DeliveryRecorded(notification.ChannelEmail, notification.TierMorning, notification.OutcomeSuccess)
	c.DeliveryRecorded(notification.ChannelSMS, notification.TierMorning, notification.OutcomeFailed)
	c.TickCompleted(app.TickReport{Due: 3, TimedOut: true}, 2*time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.Deliveries.WithLabelValues("email", "morning", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Deliveries.WithLabelValues("sms", "morning", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Ticks.WithLabelValues("true")))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.TickDue))
}

func TestRegisterTwiceFails(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, New().Register(reg))
	assert.Error(t, New().Register(reg))
}

func TestObserveHTTP(t *testing.T) {
	c := New()
	c.ObserveHTTP("/signup", 201, time.Millisecond)
	c.ObserveHTTP("/signup", 429, time.Millisecond)
	c.ObserveHTTP("/signup", 400, time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.HTTPRequests.WithLabelValues("/signup", "2xx")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.HTTPRequests.WithLabelValues("/signup", "4xx")))
}
