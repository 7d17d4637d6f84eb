package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

type SMSConfig struct {
	GatewayURL string
	APIKey     string
	Sender     string
}

// SMSChannel posts messages to an HTTP SMS gateway.
type SMSChannel struct {
	cfg    SMSConfig
	client *http.Client
}

func NewSMSChannel(cfg SMSConfig, client *http.Client) *SMSChannel {
	if client == nil {
		client = &http.Client{}
	}
	return &SMSChannel{cfg: cfg, client: client}
}

func (s *SMSChannel) Type() ChannelType { return ChannelSMS }

type smsRequest struct {
	To      string `json:"to"`
	From    string `json:"from"`
	Message string `json:"message"`
}

func (s *SMSChannel) Send(ctx context.Context, to string, msg Message) error {
	if s.cfg.GatewayURL == "" {
		return fmt.Errorf("sms: gateway url not configured")
	}
	payload, err := json.Marshal(smsRequest{To: to, From: s.cfg.Sender, Message: msg.shortText()})
	if err != nil {
		return fmt.Errorf("sms: marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.GatewayURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("sms: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("sms: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("sms: gateway returned %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}
	return nil
}
