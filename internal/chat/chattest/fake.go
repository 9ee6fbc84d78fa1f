// Package chattest provides a recording fake chat client for tests.
package chattest

import (
	"context"
	"fmt"
	"sync"

	"github.com/dguik/discode/internal/chat"
)

// Call is one recorded chat-client invocation.
type Call struct {
	Method    string
	ChannelID string
	MessageID string
	Text      string
	Extra     []string
}

// Fake is a chat client that records every call. It implements all
// optional capabilities; use Bare for a client without them.
type Fake struct {
	PlatformName chat.Platform

	// FailSends makes every outbound call return an error.
	FailSends bool

	// UpdateGate, when non-nil, blocks UpdateMessage until the channel is
	// closed (or receives). Used to test flush/finalize ordering.
	UpdateGate chan struct{}

	mu        sync.Mutex
	calls     []Call
	onMessage chat.MessageFunc
	nextID    int
	connected bool
}

// NewFake creates a discord-flavored fake.
func NewFake() *Fake {
	return &Fake{PlatformName: chat.PlatformDiscord}
}

func (f *Fake) record(c Call) error {
	f.mu.Lock()
	f.calls = append(f.calls, c)
	f.mu.Unlock()
	if f.FailSends {
		return fmt.Errorf("chattest: send failed")
	}
	return nil
}

// Calls returns a snapshot of recorded calls.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Call, len(f.calls))
	copy(out, f.calls)
	return out
}

// CallsTo returns recorded calls for one method.
func (f *Fake) CallsTo(method string) []Call {
	var out []Call
	for _, c := range f.Calls() {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

// Reset clears recorded calls.
func (f *Fake) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}

// Deliver invokes the registered message callback as the platform would.
func (f *Fake) Deliver(ctx context.Context, agentType, content, projectName, channelID, messageID, instanceID string, attachments []chat.Attachment) error {
	f.mu.Lock()
	fn := f.onMessage
	f.mu.Unlock()
	if fn == nil {
		return fmt.Errorf("chattest: no message callback registered")
	}
	return fn(ctx, agentType, content, projectName, channelID, messageID, instanceID, attachments)
}

func (f *Fake) Platform() chat.Platform { return f.PlatformName }

func (f *Fake) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = true
	return nil
}

func (f *Fake) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	return nil
}

func (f *Fake) OnMessage(fn chat.MessageFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onMessage = fn
}

func (f *Fake) SendToChannel(ctx context.Context, channelID, text string) error {
	return f.record(Call{Method: "SendToChannel", ChannelID: channelID, Text: text})
}

func (f *Fake) SendToChannelWithID(ctx context.Context, channelID, text string) (string, error) {
	f.mu.Lock()
	f.nextID++
	id := fmt.Sprintf("m%d", f.nextID)
	f.mu.Unlock()
	if err := f.record(Call{Method: "SendToChannelWithID", ChannelID: channelID, MessageID: id, Text: text}); err != nil {
		return "", err
	}
	return id, nil
}

func (f *Fake) SendToChannelWithFiles(ctx context.Context, channelID, text string, localPaths []string) error {
	return f.record(Call{Method: "SendToChannelWithFiles", ChannelID: channelID, Text: text, Extra: localPaths})
}

func (f *Fake) UpdateMessage(ctx context.Context, channelID, messageID, text string) error {
	if f.UpdateGate != nil {
		select {
		case <-f.UpdateGate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return f.record(Call{Method: "UpdateMessage", ChannelID: channelID, MessageID: messageID, Text: text})
}

func (f *Fake) ReplyInThread(ctx context.Context, channelID, anchorMessageID, text string) error {
	return f.record(Call{Method: "ReplyInThread", ChannelID: channelID, MessageID: anchorMessageID, Text: text})
}

func (f *Fake) ReplyInThreadWithID(ctx context.Context, channelID, anchorMessageID, text string) (string, error) {
	f.mu.Lock()
	f.nextID++
	id := fmt.Sprintf("m%d", f.nextID)
	f.mu.Unlock()
	if err := f.record(Call{Method: "ReplyInThreadWithID", ChannelID: channelID, MessageID: anchorMessageID, Text: text, Extra: []string{id}}); err != nil {
		return "", err
	}
	return id, nil
}

func (f *Fake) AddReactionToMessage(ctx context.Context, channelID, messageID, emoji string) error {
	return f.record(Call{Method: "AddReactionToMessage", ChannelID: channelID, MessageID: messageID, Text: emoji})
}

func (f *Fake) ReplaceOwnReactionOnMessage(ctx context.Context, channelID, messageID, fromEmoji, toEmoji string) error {
	return f.record(Call{Method: "ReplaceOwnReactionOnMessage", ChannelID: channelID, MessageID: messageID, Text: fromEmoji + "->" + toEmoji, Extra: []string{fromEmoji, toEmoji}})
}

// Bare wraps a Fake exposing only the required chat.Client surface, hiding
// all optional capabilities from type assertions.
type Bare struct {
	F *Fake
}

func (b Bare) Platform() chat.Platform         { return b.F.Platform() }
func (b Bare) Connect(ctx context.Context) error { return b.F.Connect(ctx) }
func (b Bare) Disconnect() error               { return b.F.Disconnect() }
func (b Bare) OnMessage(fn chat.MessageFunc)   { b.F.OnMessage(fn) }

func (b Bare) SendToChannel(ctx context.Context, channelID, text string) error {
	return b.F.SendToChannel(ctx, channelID, text)
}

func (b Bare) AddReactionToMessage(ctx context.Context, channelID, messageID, emoji string) error {
	return b.F.AddReactionToMessage(ctx, channelID, messageID, emoji)
}

func (b Bare) ReplaceOwnReactionOnMessage(ctx context.Context, channelID, messageID, fromEmoji, toEmoji string) error {
	return b.F.ReplaceOwnReactionOnMessage(ctx, channelID, messageID, fromEmoji, toEmoji)
}
