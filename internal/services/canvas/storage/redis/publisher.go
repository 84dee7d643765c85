package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/louisbranch/pixelwall/internal/services/canvas/storage"
)

// DefaultPixelChannel is the pub/sub channel live viewers subscribe to.
const DefaultPixelChannel = "public-pixel"

// PixelUpdate is the JSON message published for each placed pixel.
type PixelUpdate struct {
	Type      string `json:"type"`
	X         int    `json:"x"`
	Y         int    `json:"y"`
	Color     string `json:"color"`
	UserID    string `json:"userId"`
	Username  string `json:"username"`
	Timestamp string `json:"timestamp"`
}

// NewPixelUpdate converts a stored pixel into its published form.
func NewPixelUpdate(pixel storage.Pixel) PixelUpdate {
	return PixelUpdate{
		Type:      "pixel_update",
		X:         pixel.X,
		Y:         pixel.Y,
		Color:     pixel.Color,
		UserID:    pixel.OwnerID,
		Username:  pixel.OwnerName,
		Timestamp: pixel.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

// Publisher fans placed pixels out over Redis PUBLISH.
type Publisher struct {
	client  *Client
	channel string
}

// NewPublisher builds a publisher. An empty channel uses DefaultPixelChannel.
func NewPublisher(client *Client, channel string) *Publisher {
	if channel == "" {
		channel = DefaultPixelChannel
	}
	return &Publisher{client: client, channel: channel}
}

// PublishPixel publishes one pixel update.
func (p *Publisher) PublishPixel(ctx context.Context, pixel storage.Pixel) error {
	if p == nil || p.client == nil {
		return fmt.Errorf("redis publisher is not configured")
	}
	data, err := json.Marshal(NewPixelUpdate(pixel))
	if err != nil {
		return fmt.Errorf("encode pixel update: %w", err)
	}
	if err := p.client.Publish(ctx, p.channel, data).Err(); err != nil {
		return fmt.Errorf("publish pixel update: %w", err)
	}
	return nil
}

var _ storage.PixelPublisher = (*Publisher)(nil)
