package sms

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"horoscope_dispatcher/internal/infra/retry"

	"github.com/twilio/twilio-go"
	twilioclient "github.com/twilio/twilio-go/client"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// TwilioTransport sends segments through the Twilio Messages API.
type TwilioTransport struct {
	client *twilio.RestClient
	from   string
}

func NewTwilioTransport(accountSID, authToken, from string) *TwilioTransport {
	return &TwilioTransport{
		client: twilio.NewRestClientWithParams(twilio.ClientParams{
			Username: accountSID,
			Password: authToken,
		}),
		from: from,
	}
}

func (t *TwilioTransport) Name() string { return "twilio" }

func (t *TwilioTransport) Deliver(ctx context.Context, to, body string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	params := &twilioApi.CreateMessageParams{}
	params.SetTo(to)
	params.SetFrom(t.from)
	params.SetBody(body)

	resp, err := t.client.Api.CreateMessage(params)
	if err != nil {
		var restErr *twilioclient.TwilioRestError
		// 4xx means Twilio refused the request itself; repeating it will not help.
		if errors.As(err, &restErr) && restErr.Status >= http.StatusBadRequest && restErr.Status < http.StatusInternalServerError && restErr.Status != http.StatusTooManyRequests {
			return "", retry.Permanent(fmt.Errorf("twilio rejected message (code %d): %s", restErr.Code, restErr.Message))
		}
		return "", fmt.Errorf("twilio request failed: %w", err)
	}
	if resp.Sid == nil {
		return "", nil
	}
	return *resp.Sid, nil
}
