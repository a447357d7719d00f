package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Embed colours by the status word in the title.
const (
	colourOK      = 0x2ecc71
	colourFailed  = 0xe74c3c
	colourNeutral = 0x95a5a6
)

// DiscordSender posts to a webhook as a single embed.
type DiscordSender struct {
	webhookURL string
	client     *http.Client
}

// NewDiscordSender creates a sender for webhookURL.
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

type discordEmbed struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Color       int    `json:"color"`
}

// Send posts title and message as an embed. Discord answers 204 on success.
func (d *DiscordSender) Send(ctx context.Context, title, message string) error {
	body, err := json.Marshal(map[string][]discordEmbed{
		"embeds": {{Title: title, Description: message, Color: embedColour(title)}},
	})
	if err != nil {
		return fmt.Errorf("discord: marshal payload: %w", err)
	}
	return postJSON(ctx, d.client, "discord", d.webhookURL, body)
}

func embedColour(title string) int {
	switch {
	case strings.HasSuffix(title, "COMPLETED"):
		return colourOK
	case strings.HasSuffix(title, "FAILED"):
		return colourFailed
	default:
		return colourNeutral
	}
}

// Name returns "discord".
func (d *DiscordSender) Name() string { return "discord" }
