// Package chat defines the contract the bridge consumes from a chat
// platform client. Concrete Discord/Slack clients live outside the core;
// the bridge only sees these interfaces.
//
// Optional capabilities (message editing, thread replies, id-returning
// sends, file sends) are separate interfaces detected by type assertion.
// Callers must branch on capability presence rather than assume it.
package chat

import "context"

// Platform identifies the connected chat service. Message chunking limits
// depend on it.
type Platform string

const (
	PlatformDiscord Platform = "discord"
	PlatformSlack   Platform = "slack"
)

// Attachment is a file attached to an inbound message.
type Attachment struct {
	FileName string
	URL      string
	Size     int64
}

// MessageFunc handles one inbound chat message. instanceID and messageID
// may be empty; attachments may be nil.
type MessageFunc func(ctx context.Context, agentType, content, projectName, channelID, messageID, instanceID string, attachments []Attachment) error

// Client is the required chat surface.
type Client interface {
	Platform() Platform
	Connect(ctx context.Context) error
	Disconnect() error
	OnMessage(fn MessageFunc)
	SendToChannel(ctx context.Context, channelID, text string) error
	AddReactionToMessage(ctx context.Context, channelID, messageID, emoji string) error
	ReplaceOwnReactionOnMessage(ctx context.Context, channelID, messageID, fromEmoji, toEmoji string) error
}

// IDSender sends a message and returns the new message's id, enabling
// later edits and thread anchoring.
type IDSender interface {
	SendToChannelWithID(ctx context.Context, channelID, text string) (string, error)
}

// MessageUpdater edits a previously sent message in place.
type MessageUpdater interface {
	UpdateMessage(ctx context.Context, channelID, messageID, text string) error
}

// ThreadReplier posts a reply threaded under an anchor message.
type ThreadReplier interface {
	ReplyInThread(ctx context.Context, channelID, anchorMessageID, text string) error
}

// ThreadIDReplier posts a thread reply and returns the reply's id.
type ThreadIDReplier interface {
	ReplyInThreadWithID(ctx context.Context, channelID, anchorMessageID, text string) (string, error)
}

// FileSender posts a message with local file attachments.
type FileSender interface {
	SendToChannelWithFiles(ctx context.Context, channelID, text string, localPaths []string) error
}

// ChannelConfig describes one agent channel to create during onboarding.
type ChannelConfig struct {
	AgentType  string
	InstanceID string
}

// ChannelCreator provisions per-agent channels for a project.
type ChannelCreator interface {
	CreateAgentChannels(ctx context.Context, guildID, projectName string, configs []ChannelConfig, customName string) (map[string]string, error)
}

// MaxMessageLen returns the platform's message length budget used by the
// response chunkers and the streaming clamp.
func MaxMessageLen(p Platform) int {
	if p == PlatformSlack {
		return 3900
	}
	return 1900
}
