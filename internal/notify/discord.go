// Package notify delivers matched messages to a Discord-style webhook.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/nhle/mailwatch/internal/model"
)

const (
	alertContent = "**EMAIL ALERT**"
	embedTitle   = "Email Details:"
	embedColor   = 3447003 // blue
	footerText   = "Mailwatch Keyword Notifier v1.0"
	senderName   = "Mailwatch Keyword Notifier"
	avatarURL    = "https://uxwing.com/wp-content/themes/uxwing/download/signs-and-symbols/alert-bell-icon.png"
)

// payload is the webhook request body.
type payload struct {
	Content     string  `json:"content"`
	Embeds      []embed `json:"embeds"`
	Username    string  `json:"username"`
	AvatarURL   string  `json:"avatar_url"`
	Attachments []any   `json:"attachments"`
}

type embed struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Color       int    `json:"color"`
	Footer      footer `json:"footer"`
}

type footer struct {
	Text string `json:"text"`
}

// Discord posts one webhook call per matched message. Delivery is
// fire-and-forget: no retry, no backoff, no queue.
type Discord struct {
	url    string
	client *http.Client
	log    *zap.Logger
}

// NewDiscord creates a notifier for the given webhook URL with an
// explicit request timeout.
func NewDiscord(url string, timeout time.Duration, log *zap.Logger) *Discord {
	return &Discord{
		url:    url,
		client: &http.Client{Timeout: timeout},
		log:    log.With(zap.String("component", "notify.discord")),
	}
}

// Notify builds and delivers the alert for one message. Discord answers
// a successful webhook with 204 No Content; any other status is a
// delivery error.
func (d *Discord) Notify(ctx context.Context, msg *model.Candidate) error {
	p := payload{
		Content: alertContent,
		Embeds: []embed{{
			Title: embedTitle,
			Description: fmt.Sprintf(
				"**From:** %s\n**Recipient:** %s\n**Subject:** %s",
				msg.FromHeader, msg.Recipient, msg.Subject,
			),
			Color:  embedColor,
			Footer: footer{Text: footerText},
		}},
		Username:    senderName,
		AvatarURL:   avatarURL,
		Attachments: []any{},
	}

	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encoding webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, d.url, bytes.NewReader(body),
	)
	if err != nil {
		return fmt.Errorf("building webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, detail)
	}

	d.log.Info("webhook sent",
		zap.String("from", msg.FromHeader),
		zap.String("subject", msg.Subject),
	)
	return nil
}
