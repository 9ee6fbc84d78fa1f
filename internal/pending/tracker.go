// Package pending correlates chat messages with agent turns.
//
// One entry per instance key tracks the originating message, the
// start-of-turn anchor, and whether a structured hook event has arrived.
// Reactions on the originating message encode the outcome: hourglass while
// pending, check on completion, cross on error. Completed entries stay
// readable for 30 seconds so a late stop-hook can still post thread
// replies.
package pending

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dguik/discode/internal/chat"
)

// Reaction emojis for the originating message.
const (
	ReactionPending   = "⏳"
	ReactionCompleted = "✅"
	ReactionError     = "❌"
)

// CompletedTTL is how long completed entries remain readable.
const CompletedTTL = 30 * time.Second

// previewLimit caps the prompt preview shown in start messages.
const previewLimit = 200

// Key builds the tracker key "<project>:<instanceKey>". An absent
// instanceID defaults to the agent type.
func Key(project, agentType, instanceID string) string {
	if instanceID == "" {
		instanceID = agentType
	}
	return project + ":" + instanceID
}

// Entry is one tracked turn.
type Entry struct {
	ChannelID      string
	MessageID      string
	StartMessageID string
	HookActive     bool
	PromptPreview  string
	CompletedAt    time.Time
}

// Tracker owns the active and recently-completed maps. All transitions are
// serialized by its mutex; chat failures are logged and swallowed so the
// pipeline never wedges on a failed send.
type Tracker struct {
	client chat.Client
	logger *slog.Logger

	// ttl is the recently-completed retention; overridable in tests.
	ttl time.Duration

	mu                sync.Mutex
	active            map[string]*Entry
	recentlyCompleted map[string]*Entry
	timers            map[string]*time.Timer
}

// NewTracker creates a tracker bound to a chat client.
func NewTracker(client chat.Client, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		client:            client,
		logger:            logger,
		ttl:               CompletedTTL,
		active:            make(map[string]*Entry),
		recentlyCompleted: make(map[string]*Entry),
		timers:            make(map[string]*time.Timer),
	}
}

// SetCompletedTTL overrides the recently-completed retention (tests).
func (t *Tracker) SetCompletedTTL(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ttl = d
}

// MarkPending starts tracking a turn for the originating message and
// reacts with the pending hourglass. Any recently-completed entry for the
// key is evicted; an existing active entry is replaced.
func (t *Tracker) MarkPending(ctx context.Context, project, agentType, channelID, messageID, instanceID string) {
	key := Key(project, agentType, instanceID)

	t.mu.Lock()
	t.evictCompletedLocked(key)
	t.active[key] = &Entry{ChannelID: channelID, MessageID: messageID}
	t.mu.Unlock()

	if messageID == "" {
		return
	}
	if err := t.client.AddReactionToMessage(ctx, channelID, messageID, ReactionPending); err != nil {
		t.logger.Warn("pending reaction failed", "key", key, "error", err)
	}
}

// EnsurePending creates an entry with no originating message when none is
// active. No reaction is sent.
func (t *Tracker) EnsurePending(project, agentType, channelID, instanceID string) {
	key := Key(project, agentType, instanceID)
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.active[key]; ok {
		return
	}
	t.evictCompletedLocked(key)
	t.active[key] = &Entry{ChannelID: channelID}
}

// SetPromptPreview stores the prompt preview for a later EnsureStartMessage.
func (t *Tracker) SetPromptPreview(project, agentType, preview, instanceID string) {
	key := Key(project, agentType, instanceID)
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.active[key]; ok {
		e.PromptPreview = preview
	}
}

// EnsureStartMessage posts the start-of-turn anchor carrying the prompt
// preview and returns its message id. Idempotent: an existing anchor id is
// returned unchanged. No-op (returning "") when no entry is active, no
// preview is known, or the chat client cannot return message ids.
func (t *Tracker) EnsureStartMessage(ctx context.Context, project, agentType, instanceID, promptText string) string {
	key := Key(project, agentType, instanceID)

	t.mu.Lock()
	e, ok := t.active[key]
	if !ok {
		t.mu.Unlock()
		return ""
	}
	if e.StartMessageID != "" {
		id := e.StartMessageID
		t.mu.Unlock()
		return id
	}
	preview := promptText
	if preview == "" {
		preview = e.PromptPreview
	}
	channelID := e.ChannelID
	t.mu.Unlock()

	if preview == "" {
		return ""
	}
	sender, ok := t.client.(chat.IDSender)
	if !ok {
		return ""
	}
	id, err := sender.SendToChannelWithID(ctx, channelID, "📝 Prompt: "+clampPreview(preview))
	if err != nil {
		t.logger.Warn("start message failed", "key", key, "error", err)
		return ""
	}

	t.mu.Lock()
	if e, ok := t.active[key]; ok && e.StartMessageID == "" {
		e.StartMessageID = id
	}
	t.mu.Unlock()
	return id
}

func clampPreview(s string) string {
	runes := []rune(s)
	if len(runes) <= previewLimit {
		return s
	}
	return string(runes[:previewLimit]) + "…"
}

// SetHookActive flags that a structured hook event arrived for the active
// entry, suppressing the buffer fallback.
func (t *Tracker) SetHookActive(project, agentType, instanceID string) {
	key := Key(project, agentType, instanceID)
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.active[key]; ok {
		e.HookActive = true
	}
}

// IsHookActive reports the hook flag for the active entry.
func (t *Tracker) IsHookActive(project, agentType, instanceID string) bool {
	key := Key(project, agentType, instanceID)
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.active[key]
	return ok && e.HookActive
}

// HasPending reports whether an active entry exists.
func (t *Tracker) HasPending(project, agentType, instanceID string) bool {
	key := Key(project, agentType, instanceID)
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.active[key]
	return ok
}

// GetPending returns a copy of the entry for the key, falling back to the
// recently-completed map so late stop-hooks can still find their turn.
func (t *Tracker) GetPending(project, agentType, instanceID string) (Entry, bool) {
	key := Key(project, agentType, instanceID)
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.active[key]; ok {
		return *e, true
	}
	if e, ok := t.recentlyCompleted[key]; ok {
		return *e, true
	}
	return Entry{}, false
}

// MarkCompleted resolves the turn: the pending reaction becomes a check
// and the entry moves to the recently-completed map for the TTL window.
func (t *Tracker) MarkCompleted(ctx context.Context, project, agentType, instanceID string) {
	key := Key(project, agentType, instanceID)

	t.mu.Lock()
	e, ok := t.active[key]
	if !ok {
		t.mu.Unlock()
		return
	}
	delete(t.active, key)
	e.CompletedAt = time.Now()
	t.recentlyCompleted[key] = e
	t.evictTimerLocked(key)
	t.timers[key] = time.AfterFunc(t.ttl, func() {
		t.mu.Lock()
		delete(t.recentlyCompleted, key)
		delete(t.timers, key)
		t.mu.Unlock()
	})
	channelID, messageID := e.ChannelID, e.MessageID
	t.mu.Unlock()

	if messageID == "" {
		return
	}
	if err := t.client.ReplaceOwnReactionOnMessage(ctx, channelID, messageID, ReactionPending, ReactionCompleted); err != nil {
		t.logger.Warn("completed reaction failed", "key", key, "error", err)
	}
}

// MarkError resolves the turn as failed: the pending reaction becomes a
// cross and the entry is deleted immediately (not cached).
func (t *Tracker) MarkError(ctx context.Context, project, agentType, instanceID string) {
	key := Key(project, agentType, instanceID)

	t.mu.Lock()
	e, ok := t.active[key]
	delete(t.active, key)
	t.evictCompletedLocked(key)
	t.mu.Unlock()

	if !ok || e.MessageID == "" {
		return
	}
	if err := t.client.ReplaceOwnReactionOnMessage(ctx, e.ChannelID, e.MessageID, ReactionPending, ReactionError); err != nil {
		t.logger.Warn("error reaction failed", "key", key, "error", err)
	}
}

func (t *Tracker) evictCompletedLocked(key string) {
	delete(t.recentlyCompleted, key)
	t.evictTimerLocked(key)
}

func (t *Tracker) evictTimerLocked(key string) {
	if timer, ok := t.timers[key]; ok {
		timer.Stop()
		delete(t.timers, key)
	}
}
