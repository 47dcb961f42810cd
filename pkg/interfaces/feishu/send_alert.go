package feishu

import (
	"context"
	"fmt"
)

// alertPayload is the bot channel message shape
type alertPayload struct {
	Type    string       `json:"type"`
	Content alertContent `json:"content"`
}

type alertContent struct {
	Text string `json:"text"`
}

// SendAlertText posts a text alert to the bot channel. When no alert
// endpoint is configured the send is silently skipped; the alert is
// already persisted by the caller.
func (c *Client) SendAlertText(ctx context.Context, text string) error {
	if !c.config.HasAlertChannel() {
		c.logger.WithField("text", text).Debug("Alert channel not configured, skipping send")
		return nil
	}

	payload := alertPayload{
		Type:    "text",
		Content: alertContent{Text: text},
	}

	resp, err := c.makeRequest(ctx, c.config.AlertURL, c.config.AlertToken, payload)
	if err != nil {
		return fmt.Errorf("failed to send alert: %w", err)
	}
	defer resp.Body.Close()

	if err := c.handleResponse(resp); err != nil {
		return err
	}

	c.logger.WithField("text", text).Info("Dispatched alert to notification channel")
	return nil
}
