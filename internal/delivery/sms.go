package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/mugisham37/authcore/pkg/httpclient"
)

// SMSGatewayConfig holds the settings for the HTTP SMS gateway.
type SMSGatewayConfig struct {
	URL    string
	APIKey string
	From   string
}

// SMSSender delivers SMS verification codes through an HTTP gateway. Requests
// go through a circuit breaker so a failing gateway degrades fast instead of
// stalling logins.
type SMSSender struct {
	client *httpclient.CircuitBreakerClient
	cfg    SMSGatewayConfig
}

// NewSMSSender creates an SMS sender over the given circuit-breaker client.
func NewSMSSender(client *httpclient.CircuitBreakerClient, cfg SMSGatewayConfig) *SMSSender {
	return &SMSSender{client: client, cfg: cfg}
}

// Name returns the name of this sender.
func (s *SMSSender) Name() string {
	return "sms"
}

type smsRequest struct {
	To      string `json:"to"`
	From    string `json:"from"`
	Message string `json:"message"`
}

// Send posts the message to the gateway and treats any non-2xx reply as a
// delivery failure.
func (s *SMSSender) Send(ctx context.Context, msg *Message) error {
	payload, err := json.Marshal(smsRequest{
		To:      msg.Recipient,
		From:    s.cfg.From,
		Message: msg.Body,
	})
	if err != nil {
		return fmt.Errorf("failed to encode sms request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create sms request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)

	resp, err := s.client.Do(ctx, req)
	if err != nil {
		return fmt.Errorf("sms gateway request failed: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// ParseResponseError consumes and closes the body.
		return fmt.Errorf("sms delivery failed: %w", httpclient.ParseResponseError(resp, "sms-gateway"))
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return nil
}
