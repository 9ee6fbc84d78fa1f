// Package console is a stand-in chat client that logs outbound traffic.
//
// Concrete Discord/Slack clients live outside this module; console keeps
// the daemon runnable without one so the runtime, stream server, and hook
// pipeline can be driven end to end.
package console

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/dguik/discode/internal/chat"
)

// Client logs sends and edits instead of talking to a platform.
type Client struct {
	logger *slog.Logger

	mu        sync.Mutex
	onMessage chat.MessageFunc
	nextID    atomic.Int64
}

// New creates a console client.
func New(logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{logger: logger}
}

func (c *Client) Platform() chat.Platform { return chat.PlatformDiscord }

func (c *Client) Connect(ctx context.Context) error {
	c.logger.Info("console chat client connected")
	return nil
}

func (c *Client) Disconnect() error { return nil }

func (c *Client) OnMessage(fn chat.MessageFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onMessage = fn
}

// Inject delivers a message as if it arrived from the platform (used by
// local tooling and tests).
func (c *Client) Inject(ctx context.Context, agentType, content, projectName, channelID string) error {
	c.mu.Lock()
	fn := c.onMessage
	c.mu.Unlock()
	if fn == nil {
		return fmt.Errorf("no message handler registered")
	}
	id := fmt.Sprintf("console-%d", c.nextID.Add(1))
	return fn(ctx, agentType, content, projectName, channelID, id, "", nil)
}

func (c *Client) SendToChannel(ctx context.Context, channelID, text string) error {
	c.logger.Info("chat send", "channel", channelID, "text", text)
	return nil
}

func (c *Client) SendToChannelWithID(ctx context.Context, channelID, text string) (string, error) {
	id := fmt.Sprintf("console-%d", c.nextID.Add(1))
	c.logger.Info("chat send", "channel", channelID, "id", id, "text", text)
	return id, nil
}

func (c *Client) UpdateMessage(ctx context.Context, channelID, messageID, text string) error {
	c.logger.Info("chat edit", "channel", channelID, "id", messageID, "text", text)
	return nil
}

func (c *Client) AddReactionToMessage(ctx context.Context, channelID, messageID, emoji string) error {
	c.logger.Info("chat react", "channel", channelID, "id", messageID, "emoji", emoji)
	return nil
}

func (c *Client) ReplaceOwnReactionOnMessage(ctx context.Context, channelID, messageID, fromEmoji, toEmoji string) error {
	c.logger.Info("chat react swap", "channel", channelID, "id", messageID, "from", fromEmoji, "to", toEmoji)
	return nil
}
