// Package notify delivers canvas replies and announcements over HTTP
// webhooks.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/louisbranch/pixelwall/internal/services/canvas/storage"
)

// embedColor is the accent color of announcement embeds.
const embedColor = 0x5865F2

// Config configures a Webhook notifier.
type Config struct {
	// ReplyBaseURL is joined with the opaque reply handle of each event.
	ReplyBaseURL string
	// AnnounceURL receives announcement embeds. Empty disables announcements.
	AnnounceURL string
	// AuthToken, when set, is sent as a Bot authorization header.
	AuthToken string
	Client    *http.Client
}

// Webhook posts JSON messages to chat webhooks.
type Webhook struct {
	replyBaseURL string
	announceURL  string
	authToken    string
	client       *http.Client
}

// NewWebhook builds a notifier from cfg.
func NewWebhook(cfg Config) *Webhook {
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Webhook{
		replyBaseURL: strings.TrimRight(strings.TrimSpace(cfg.ReplyBaseURL), "/"),
		announceURL:  strings.TrimSpace(cfg.AnnounceURL),
		authToken:    strings.TrimSpace(cfg.AuthToken),
		client:       client,
	}
}

type messageBody struct {
	Content string  `json:"content,omitempty"`
	Embeds  []embed `json:"embeds,omitempty"`
}

type embed struct {
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Image       *embedImage  `json:"image,omitempty"`
	Color       int          `json:"color"`
	Timestamp   string       `json:"timestamp,omitempty"`
	Footer      *embedFooter `json:"footer,omitempty"`
}

type embedImage struct {
	URL string `json:"url"`
}

type embedFooter struct {
	Text string `json:"text"`
}

// Reply posts text to the reply base URL joined with handle. Without a base
// URL or handle there is nobody to reply to and the call is a no-op.
func (w *Webhook) Reply(ctx context.Context, handle, text string) error {
	handle = strings.Trim(strings.TrimSpace(handle), "/")
	if w.replyBaseURL == "" || handle == "" {
		return nil
	}
	return w.post(ctx, w.replyBaseURL+"/"+handle, messageBody{Content: text})
}

// Announce posts an embed to the announce URL when one is configured.
func (w *Webhook) Announce(ctx context.Context, announcement storage.Announcement) error {
	if w.announceURL == "" {
		return nil
	}
	item := embed{
		Title:       announcement.Title,
		Description: announcement.Description,
		Color:       embedColor,
	}
	if announcement.ImageURL != "" {
		item.Image = &embedImage{URL: announcement.ImageURL}
	}
	if !announcement.Timestamp.IsZero() {
		item.Timestamp = announcement.Timestamp.UTC().Format(time.RFC3339)
	}
	if announcement.Footer != "" {
		item.Footer = &embedFooter{Text: announcement.Footer}
	}
	return w.post(ctx, w.announceURL, messageBody{Embeds: []embed{item}})
}

func (w *Webhook) post(ctx context.Context, url string, body messageBody) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode webhook body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if w.authToken != "" {
		req.Header.Set("Authorization", "Bot "+w.authToken)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %s", resp.Status)
	}
	return nil
}

// Nop discards every notification.
type Nop struct{}

// Reply does nothing.
func (Nop) Reply(context.Context, string, string) error {
	return nil
}

// Announce does nothing.
func (Nop) Announce(context.Context, storage.Announcement) error {
	return nil
}

var (
	_ storage.Notifier = (*Webhook)(nil)
	_ storage.Notifier = Nop{}
)
