package email

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"horoscope_dispatcher/internal/infra/retry"
)

const (
	mailgunUSBase = "https://api.mailgun.net/v3"
	mailgunEUBase = "https://api.eu.mailgun.net/v3"
)

// MailgunTransport posts form-encoded messages to the Mailgun API.
type MailgunTransport struct {
	apiKey   string
	from     string
	endpoint string
	client   *http.Client
}

// NewMailgunTransport targets the EU API when region is "eu", the US one otherwise.
func NewMailgunTransport(apiKey, domain, region, from string) *MailgunTransport {
	base := mailgunUSBase
	if strings.EqualFold(strings.TrimSpace(region), "eu") {
		base = mailgunEUBase
	}
	return &MailgunTransport{
		apiKey:   apiKey,
		from:     from,
		endpoint: base + "/" + domain + "/messages",
		client:   &http.Client{Timeout: 15 * time.Second},
	}
}

func (t *MailgunTransport) Name() string { return "mailgun" }

func (t *MailgunTransport) Deliver(ctx context.Context, env Envelope) (string, error) {
	form := url.Values{}
	form.Set("from", t.from)
	form.Set("to", env.To)
	form.Set("subject", env.Subject)
	form.Set("text", env.Text)
	form.Set("html", env.HTML)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", retry.Permanent(err)
	}
	req.SetBasicAuth("api", t.apiKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("mailgun request failed: %w", err)
	}
	defer resp.Body.Close()

	var body struct {
		ID      string `json:"id"`
		Message string `json:"message"`
	}
	decodeErr := json.NewDecoder(resp.Body).Decode(&body)
	if resp.StatusCode >= http.StatusBadRequest {
		return "", statusError("mailgun", resp.StatusCode, body.Message)
	}
	if decodeErr != nil {
		return "", fmt.Errorf("decoding mailgun response: %w", decodeErr)
	}
	return body.ID, nil
}
