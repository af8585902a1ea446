package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"horoscope_dispatcher/internal/infra/retry"
)

const sendgridAPIURL = "https://api.sendgrid.com/v3/mail/send"

// SendGridTransport sends through the SendGrid v3 mail API.
type SendGridTransport struct {
	apiKey   string
	from     string
	endpoint string
	client   *http.Client
}

func NewSendGridTransport(apiKey, from string) *SendGridTransport {
	return &SendGridTransport{
		apiKey:   apiKey,
		from:     from,
		endpoint: sendgridAPIURL,
		client:   &http.Client{Timeout: 15 * time.Second},
	}
}

func (t *SendGridTransport) Name() string { return "sendgrid" }

type sendgridAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type sendgridContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type sendgridMail struct {
	Personalizations []struct {
		To []sendgridAddress `json:"to"`
	} `json:"personalizations"`
	From    sendgridAddress   `json:"from"`
	Subject string            `json:"subject"`
	Content []sendgridContent `json:"content"`
}

func (t *SendGridTransport) Deliver(ctx context.Context, env Envelope) (string, error) {
	mail := sendgridMail{From: sendgridAddress{Email: t.from}, Subject: env.Subject}
	mail.Personalizations = make([]struct {
		To []sendgridAddress `json:"to"`
	}, 1)
	mail.Personalizations[0].To = []sendgridAddress{{Email: env.To}}
	// SendGrid requires text/plain before text/html.
	if strings.TrimSpace(env.Text) != "" {
		mail.Content = append(mail.Content, sendgridContent{Type: "text/plain", Value: env.Text})
	}
	if strings.TrimSpace(env.HTML) != "" {
		mail.Content = append(mail.Content, sendgridContent{Type: "text/html", Value: env.HTML})
	}

	payload, err := json.Marshal(mail)
	if err != nil {
		return "", retry.Permanent(err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", retry.Permanent(err)
	}
	req.Header.Set("Authorization", "Bearer "+t.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("sendgrid request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var errResp struct {
			Errors []struct {
				Message string `json:"message"`
			} `json:"errors"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		msgs := make([]string, 0, len(errResp.Errors))
		for _, e := range errResp.Errors {
			msgs = append(msgs, e.Message)
		}
		return "", statusError("sendgrid", resp.StatusCode, strings.Join(msgs, "; "))
	}
	// 202 Accepted carries no body; the id comes back as a header.
	return resp.Header.Get("X-Message-Id"), nil
}
