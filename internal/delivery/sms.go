package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// SMSSender posts codes to an SMS gateway.
type SMSSender struct {
	baseURL string
	apiKey  string
	from    string
	client  *http.Client
}

func NewSMSSender(baseURL, apiKey, from string) *SMSSender {
	return &SMSSender{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		from:    from,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

type smsRequest struct {
	APIKey  string `json:"api_key"`
	From    string `json:"from"`
	To      string `json:"to"`
	SMS     string `json:"sms"`
	Type    string `json:"type"`
	Channel string `json:"channel"`
}

func (s *SMSSender) Send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(smsRequest{
		APIKey:  s.apiKey,
		From:    s.from,
		To:      msg.To,
		SMS:     smsText(msg),
		Type:    "plain",
		Channel: "generic",
	})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/sms/send", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("SMS gateway error (status %d): %s", resp.StatusCode, string(b))
	}
	return nil
}

func smsText(msg Message) string {
	minutes := int(time.Until(msg.ExpiresAt).Round(time.Minute).Minutes())
	if minutes < 1 {
		minutes = 1
	}
	return fmt.Sprintf("Your voting verification code is %s. Valid for %d minutes, one-time use only.", msg.Code, minutes)
}
