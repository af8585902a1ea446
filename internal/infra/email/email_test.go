package email

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"horoscope_dispatcher/internal/domain/apperr"
	"horoscope_dispatcher/internal/infra/retry"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	calls int
	err   func(call int) error
	last  Envelope
}

func (f *fakeTransport) Name() string { return "fake" }

func (f *fakeTransport) Deliver(_ context.Context, env Envelope) (string, error) {
	f.calls++
	f.last = env
	if f.err != nil {
		if err := f.err(f.calls); err != nil {
			return "", err
		}
	}
	return "msg-1", nil
}

func quietLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func instantRetry() retry.Policy {
	p := retry.DefaultPolicy()
	p.Sleep = func(context.Context, time.Duration) error { return nil }
	return p
}

func TestSendEmailSuccess(t *testing.T) {
	tr := &fakeTransport{}
	s := NewSender(tr, instantRetry(), quietLogger())

	res, err := s.SendEmail(context.Background(), " Emma@Example.com ", "Your morning reading", "<p>hi</p>", "hi")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "msg-1", res.ProviderID)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, "emma@example.com", tr.last.To)
}

func TestSendEmailValidation(t *testing.T) {
	tr := &fakeTransport{}
	s := NewSender(tr, instantRetry(), quietLogger())

	_, err := s.SendEmail(context.Background(), "not-an-address", "s", "<p>x</p>", "x")
	assert.True(t, apperr.IsValidation(err))
	_, err = s.SendEmail(context.Background(), "a@example.com", "  ", "<p>x</p>", "x")
	assert.True(t, apperr.IsValidation(err))
	_, err = s.SendEmail(context.Background(), "a@example.com", "s", "", "")
	assert.True(t, apperr.IsValidation(err))
	assert.Zero(t, tr.calls)
}

func TestSendEmailExhaustsRetries(t *testing.T) {
	tr := &fakeTransport{err: func(int) error { return errors.New("connection reset") }}
	s := NewSender(tr, instantRetry(), quietLogger())

	res, err := s.SendEmail(context.Background(), "a@example.com", "s", "<p>x</p>", "x")
	require.Error(t, err)
	var te *apperr.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "email", te.Channel)
	assert.Equal(t, 3, te.Attempts)
	assert.False(t, res.Success)
	assert.Equal(t, 3, tr.calls)
}

func TestSendEmailRecoversOnSecondAttempt(t *testing.T) {
	tr := &fakeTransport{err: func(call int) error {
		if call == 1 {
			return errors.New("421 try later")
		}
		return nil
	}}
	s := NewSender(tr, instantRetry(), quietLogger())

	res, err := s.SendEmail(context.Background(), "a@example.com", "s", "<p>x</p>", "x")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Attempts)
}

func TestSMTPTransportBuildsMultipart(t *testing.T) {
	tr := NewSMTPTransport(SMTPConfig{Host: "smtp.example.com", Username: "u", Password: "p", From: "stars@example.com", FromName: "Daily Stars"})
	var gotAddr string
	var gotMsg []byte
	tr.send = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr = addr
		gotMsg = msg
		assert.Equal(t, "stars@example.com", from)
		assert.Equal(t, []string{"emma@example.com"}, to)
		return nil
	}

	id, err := tr.Deliver(context.Background(), Envelope{To: "emma@example.com", Subject: "Good morning", HTML: "<p>hello</p>", Text: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "smtp.example.com:587", gotAddr)
	assert.True(t, strings.HasSuffix(id, "@smtp.example.com>"))

	raw := string(gotMsg)
	assert.Contains(t, raw, "Content-Type: multipart/alternative")
	assert.Contains(t, raw, "text/plain; charset=UTF-8")
	assert.Contains(t, raw, "text/html; charset=UTF-8")
	assert.Contains(t, raw, "<p>hello</p>")
	assert.Less(t, strings.Index(raw, "text/plain"), strings.Index(raw, "text/html"))
}

func TestResendTransport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "Good morning", body["subject"])
		_, _ = w.Write([]byte(`{"id":"re_123"}`))
	}))
	defer srv.Close()

	tr := NewResendTransport("key", "stars@example.com")
	tr.endpoint = srv.URL
	id, err := tr.Deliver(context.Background(), Envelope{To: "a@example.com", Subject: "Good morning", HTML: "<p>x</p>"})
	require.NoError(t, err)
	assert.Equal(t, "re_123", id)
}

func TestResendClientErrorIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"message":"invalid from"}`))
	}))
	defer srv.Close()

	tr := NewResendTransport("key", "bad")
	tr.endpoint = srv.URL
	s := NewSender(tr, instantRetry(), quietLogger())
	res, err := s.SendEmail(context.Background(), "a@example.com", "s", "<p>x</p>", "x")
	require.Error(t, err)
	assert.Equal(t, 1, res.Attempts)
	assert.Contains(t, err.Error(), "invalid from")
}

func TestMailgunTransport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v3/mg.example.com/messages", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "api", user)
		assert.Equal(t, "key", pass)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "a@example.com", r.PostForm.Get("to"))
		assert.Equal(t, "Good morning", r.PostForm.Get("subject"))
		assert.Equal(t, "plain", r.PostForm.Get("text"))
		_, _ = w.Write([]byte(`{"id":"<mg-1@example.com>","message":"Queued. Thank you."}`))
	}))
	defer srv.Close()

	tr := NewMailgunTransport("key", "mg.example.com", "us", "stars@example.com")
	assert.Equal(t, mailgunUSBase+"/mg.example.com/messages", tr.endpoint)
	tr.endpoint = srv.URL + "/v3/mg.example.com/messages"
	id, err := tr.Deliver(context.Background(), Envelope{To: "a@example.com", Subject: "Good morning", HTML: "<p>x</p>", Text: "plain"})
	require.NoError(t, err)
	assert.Equal(t, "<mg-1@example.com>", id)
}

func TestMailgunRegion(t *testing.T) {
	assert.True(t, strings.HasPrefix(NewMailgunTransport("k", "d", " EU ", "f").endpoint, mailgunEUBase))
	assert.True(t, strings.HasPrefix(NewMailgunTransport("k", "d", "", "f").endpoint, mailgunUSBase))
}

func TestMailgunServerErrorIsRetried(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	tr := NewMailgunTransport("key", "mg.example.com", "us", "stars@example.com")
	tr.endpoint = srv.URL
	s := NewSender(tr, instantRetry(), quietLogger())
	res, err := s.SendEmail(context.Background(), "a@example.com", "s", "<p>x</p>", "x")

	var terr *apperr.TransportError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, 3, calls)
}

func TestSendGridTransport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		var body sendgridMail
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Len(t, body.Personalizations, 1)
		assert.Equal(t, "a@example.com", body.Personalizations[0].To[0].Email)
		assert.Equal(t, "stars@example.com", body.From.Email)
		require.Len(t, body.Content, 2)
		assert.Equal(t, "text/plain", body.Content[0].Type)
		assert.Equal(t, "text/html", body.Content[1].Type)
		w.Header().Set("X-Message-Id", "sg-42")
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	tr := NewSendGridTransport("key", "stars@example.com")
	tr.endpoint = srv.URL
	id, err := tr.Deliver(context.Background(), Envelope{To: "a@example.com", Subject: "Good morning", HTML: "<p>x</p>", Text: "x"})
	require.NoError(t, err)
	assert.Equal(t, "sg-42", id)
}

func TestSendGridClientErrorIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"errors":[{"message":"sender not verified"}]}`))
	}))
	defer srv.Close()

	tr := NewSendGridTransport("key", "stars@example.com")
	tr.endpoint = srv.URL
	s := NewSender(tr, instantRetry(), quietLogger())
	res, err := s.SendEmail(context.Background(), "a@example.com", "s", "<p>x</p>", "x")
	require.Error(t, err)
	assert.Equal(t, 1, res.Attempts)
	assert.Contains(t, err.Error(), "sender not verified")
}
