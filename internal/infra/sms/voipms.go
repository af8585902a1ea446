package sms

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

const voipmsAPIURL = "https://voip.ms/api/v1/rest.php"

// VoipmsTransport sends segments through the VoIP.ms REST API.
type VoipmsTransport struct {
	username string
	password string
	did      string
	endpoint string
	client   *http.Client
}

func NewVoipmsTransport(username, password, did string) *VoipmsTransport {
	return &VoipmsTransport{
		username: username,
		password: password,
		did:      digitsOnly(did),
		endpoint: voipmsAPIURL,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (t *VoipmsTransport) Name() string { return "voipms" }

func (t *VoipmsTransport) Deliver(ctx context.Context, to, body string) (string, error) {
	q := url.Values{}
	q.Set("api_username", t.username)
	q.Set("api_password", t.password)
	q.Set("method", "sendSMS")
	q.Set("did", t.did)
	// VoIP.ms expects bare NANP digits without the country code.
	q.Set("dst", strings.TrimPrefix(digitsOnly(to), "1"))
	q.Set("message", body)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return "", retry.Permanent(err)
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("voipms request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return "", fmt.Errorf("voipms returned HTTP %d", resp.StatusCode)
	}

	var payload struct {
		Status string      `json:"status"`
		SMS    json.Number `json:"sms"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decoding voipms response: %w", err)
	}
	if payload.Status != "success" {
		return "", retry.Permanent(fmt.Errorf("voipms API error: %s", payload.Status))
	}
	return payload.SMS.String(), nil
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
