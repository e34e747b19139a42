package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

var ErrSlackDisabled = errors.New("slack disabled")

// Slack posts task alerts to an incoming webhook.
type Slack struct {
	Webhook  string
	Username string
	Client   *http.Client
}

// NewSlack returns nil when no webhook is configured, so callers can drop
// it straight into a Multi.
func NewSlack(webhook string) *Slack {
	if webhook == "" {
		return nil
	}
	return &Slack{
		Webhook:  webhook,
		Username: "sertus",
		Client:   &http.Client{Timeout: 10 * time.Second},
	}
}

type slackPayload struct {
	Text     string `json:"text"`
	Username string `json:"username,omitempty"`
}

func (s *Slack) Send(ctx context.Context, title, text string) error {
	if s == nil || s.Webhook == "" {
		return ErrSlackDisabled
	}
	body, err := json.Marshal(slackPayload{
		Text:     "*" + title + "*\n```" + text + "```",
		Username: s.Username,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.Webhook, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.Client.Do(req)
	if err != nil {
		return fmt.Errorf("slack webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("slack webhook: unexpected status %s", resp.Status)
	}
	return nil
}
