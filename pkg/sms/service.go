// Package sms sends booking-confirmation texts through Twilio. The sender is
// disabled (never an error path) when credentials are not configured.
package sms

import (
	"fmt"

	"github.com/brightline-ai/voice-agent-gateway/pkg/logger"
	"github.com/twilio/twilio-go"
	api "github.com/twilio/twilio-go/rest/api/v2010"
	"go.uber.org/zap"
)

// Sender delivers SMS messages.
type Sender interface {
	Send(to, body string) error
	Enabled() bool
}

// TwilioSender implements Sender over the Twilio REST API.
type TwilioSender struct {
	client  *twilio.RestClient
	from    string
	enabled bool
}

// NewTwilioSender creates the sender. Missing credentials disable it.
func NewTwilioSender(accountSID, authToken, from string) *TwilioSender {
	if accountSID == "" || authToken == "" || from == "" {
		logger.Base().Warn("twilio credentials not provided, sms confirmations disabled")
		return &TwilioSender{enabled: false}
	}
	return &TwilioSender{
		client:  twilio.NewRestClientWithParams(twilio.ClientParams{Username: accountSID, Password: authToken}),
		from:    from,
		enabled: true,
	}
}

// Enabled reports whether the sender can deliver messages.
func (s *TwilioSender) Enabled() bool {
	return s.enabled
}

// Send delivers one message.
func (s *TwilioSender) Send(to, body string) error {
	if !s.enabled {
		return fmt.Errorf("sms sender is disabled")
	}

	params := &api.CreateMessageParams{}
	params.SetTo(to)
	params.SetFrom(s.from)
	params.SetBody(body)

	resp, err := s.client.Api.CreateMessage(params)
	if err != nil {
		return fmt.Errorf("failed to send sms: %w", err)
	}
	if resp.Sid != nil {
		logger.Base().Info("sms sent", zap.String("sid", *resp.Sid))
	}
	return nil
}
