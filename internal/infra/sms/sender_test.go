package sms

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"horoscope_dispatcher/internal/domain/apperr"
	"horoscope_dispatcher/internal/infra/retry"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	mu    sync.Mutex
	calls []string
	// fail decides per call whether to fail; index is the 0-based call number.
	fail func(call int, body string) error
}

func (f *fakeTransport) Name() string { return "fake" }

func (f *fakeTransport) Deliver(_ context.Context, _, body string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	call := len(f.calls)
	f.calls = append(f.calls, body)
	if f.fail != nil {
		if err := f.fail(call, body); err != nil {
			return "", err
		}
	}
	return fmt.Sprintf("SM%d", call), nil
}

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func noSleepPolicy() retry.Policy {
	p := retry.DefaultPolicy()
	p.Sleep = func(context.Context, time.Duration) error { return nil }
	return p
}

func TestSendSMSSingleSegment(t *testing.T) {
	tr := &fakeTransport{}
	s := NewSender(tr, Options{Retry: noSleepPolicy()}, testLogger())

	res, err := s.SendSMS(context.Background(), "(415) 555-0134", "Hello Gemini")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 1, res.SegmentsSent)
	assert.Equal(t, 1, res.TotalSegments)
	assert.Equal(t, []string{"SM0"}, res.ProviderIDs)
	assert.Equal(t, []string{"Hello Gemini"}, tr.calls)
}

func TestSendSMSInvalidPhoneNeverCallsTransport(t *testing.T) {
	tr := &fakeTransport{}
	s := NewSender(tr, Options{Retry: noSleepPolicy()}, testLogger())

	_, err := s.SendSMS(context.Background(), "555-01", "Hello")
	require.Error(t, err)
	assert.True(t, apperr.IsValidation(err))
	assert.Empty(t, tr.calls)
}

func TestSendSMSRetriesSegment(t *testing.T) {
	tr := &fakeTransport{fail: func(call int, _ string) error {
		if call < 2 {
			return errors.New("gateway timeout")
		}
		return nil
	}}
	s := NewSender(tr, Options{Retry: noSleepPolicy()}, testLogger())

	res, err := s.SendSMS(context.Background(), "4155550134", "Hello")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 3, res.Attempts)
}

func TestSendSMSStopsAtFirstFailedSegment(t *testing.T) {
	text := strings.Repeat("stars ", 60) // 360 runes, three segments at 160
	tr := &fakeTransport{fail: func(_ int, body string) error {
		if strings.HasPrefix(body, "[2/") {
			return errors.New("carrier down")
		}
		return nil
	}}
	s := NewSender(tr, Options{PrefixSegments: true, Retry: noSleepPolicy()}, testLogger())

	res, err := s.SendSMS(context.Background(), "+14155550134", text)
	require.Error(t, err)
	var te *apperr.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "sms", te.Channel)
	assert.Equal(t, retry.DefaultAttempts, te.Attempts)

	assert.False(t, res.Success)
	assert.Equal(t, 1, res.SegmentsSent)
	assert.Equal(t, 3, res.TotalSegments)
	// one call for segment 1, three for segment 2, none for segment 3
	require.Len(t, tr.calls, 1+retry.DefaultAttempts)
	for _, c := range tr.calls {
		assert.NotContains(t, c, "[3/3]")
	}
}

func TestSendSMSPermanentErrorNotRetried(t *testing.T) {
	tr := &fakeTransport{fail: func(int, string) error {
		return retry.Permanent(errors.New("number blocked"))
	}}
	s := NewSender(tr, Options{Retry: noSleepPolicy()}, testLogger())

	_, err := s.SendSMS(context.Background(), "+14155550134", "Hello")
	require.Error(t, err)
	assert.Len(t, tr.calls, 1)
}
