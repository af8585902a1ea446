package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"horoscope_dispatcher/internal/infra/retry"
)

const resendAPIURL = "https://api.resend.com/emails"

// ResendTransport sends through the Resend HTTP API.
type ResendTransport struct {
	apiKey   string
	from     string
	endpoint string
	client   *http.Client
}

func NewResendTransport(apiKey, from string) *ResendTransport {
	return &ResendTransport{
		apiKey:   apiKey,
		from:     from,
		endpoint: resendAPIURL,
		client:   &http.Client{Timeout: 15 * time.Second},
	}
}

func (t *ResendTransport) Name() string { return "resend" }

func (t *ResendTransport) Deliver(ctx context.Context, env Envelope) (string, error) {
	payload, err := json.Marshal(map[string]interface{}{
		"from":    t.from,
		"to":      []string{env.To},
		"subject": env.Subject,
		"html":    env.HTML,
		"text":    env.Text,
	})
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
		return "", fmt.Errorf("resend request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var errResp struct {
			Message string `json:"message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		return "", statusError("resend", resp.StatusCode, errResp.Message)
	}

	var ok struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&ok); err != nil {
		return "", fmt.Errorf("decoding resend response: %w", err)
	}
	return ok.ID, nil
}

// statusError wraps a provider rejection. Client errors other than 429 are
// permanent; everything else is worth another attempt.
func statusError(provider string, code int, msg string) error {
	err := fmt.Errorf("%s error %d: %s", provider, code, msg)
	if code < http.StatusInternalServerError && code != http.StatusTooManyRequests {
		return retry.Permanent(err)
	}
	return err
}
