// Package streaming maintains one edit-in-place status message per active
// agent turn. Tool activity streams into the message body under a
// debounce; finalizing posts a fresh completion message, never an edit.
package streaming

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/rivo/uniseg"

	"github.com/dguik/discode/internal/chat"
)

// DebounceInterval is how long appended text coalesces before a flush.
const DebounceInterval = 750 * time.Millisecond

// DoneHeader is the default completion message.
const DoneHeader = "✅ Done"

const truncatedPrefix = "...(truncated)\n"

type entry struct {
	channelID    string
	messageID    string
	currentText  string
	historyLines []string

	timer     *time.Timer
	flushDone chan struct{} // non-nil while a flush is in flight
}

// Updater owns the streaming entries. At most one flush is in flight per
// entry; Finalize awaits it so the completion message never races behind
// a stale edit.
type Updater struct {
	client   chat.Client
	logger   *slog.Logger
	debounce time.Duration

	mu      sync.Mutex
	entries map[string]*entry
}

// NewUpdater creates an updater bound to a chat client.
func NewUpdater(client chat.Client, logger *slog.Logger) *Updater {
	if logger == nil {
		logger = slog.Default()
	}
	return &Updater{
		client:   client,
		logger:   logger,
		debounce: DebounceInterval,
		entries:  make(map[string]*entry),
	}
}

// SetDebounce overrides the debounce interval (tests).
func (u *Updater) SetDebounce(d time.Duration) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.debounce = d
}

// Start begins streaming into the given message, replacing any existing
// entry for the key and cancelling its pending flush timer.
func (u *Updater) Start(key, channelID, messageID string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if old, ok := u.entries[key]; ok && old.timer != nil {
		old.timer.Stop()
	}
	u.entries[key] = &entry{channelID: channelID, messageID: messageID}
}

// MessageID returns the message id the key currently streams into.
func (u *Updater) MessageID(key string) string {
	u.mu.Lock()
	defer u.mu.Unlock()
	if e, ok := u.entries[key]; ok {
		return e.messageID
	}
	return ""
}

// Append replaces the entry's status text and schedules a flush.
func (u *Updater) Append(ctx context.Context, key, text string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	e, ok := u.entries[key]
	if !ok {
		return
	}
	e.currentText = text
	u.scheduleFlushLocked(key, e)
}

// AppendCumulative appends a history line and rebuilds the status text
// from the full history, then schedules a flush.
func (u *Updater) AppendCumulative(ctx context.Context, key, text string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	e, ok := u.entries[key]
	if !ok {
		return
	}
	e.historyLines = append(e.historyLines, text)
	e.currentText = strings.Join(e.historyLines, "\n")
	u.scheduleFlushLocked(key, e)
}

// ClearHistory drops the accumulated history lines (end of turn).
func (u *Updater) ClearHistory(key string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if e, ok := u.entries[key]; ok {
		e.historyLines = nil
	}
}

func (u *Updater) scheduleFlushLocked(key string, e *entry) {
	if e.timer != nil {
		e.timer.Stop()
	}
	e.timer = time.AfterFunc(u.debounce, func() {
		u.flush(key, e)
	})
}

// flush pushes the entry's current text as a message edit. Skipped when
// the entry has been superseded or a flush is already in flight.
func (u *Updater) flush(key string, e *entry) {
	u.mu.Lock()
	if u.entries[key] != e || e.flushDone != nil {
		u.mu.Unlock()
		return
	}
	done := make(chan struct{})
	e.flushDone = done
	channelID, messageID := e.channelID, e.messageID
	text := ClampForPlatform(u.client.Platform(), e.currentText)
	u.mu.Unlock()

	defer func() {
		u.mu.Lock()
		if e.flushDone == done {
			e.flushDone = nil
		}
		u.mu.Unlock()
		close(done)
	}()

	updater, ok := u.client.(chat.MessageUpdater)
	if !ok || messageID == "" || text == "" {
		return
	}
	if err := updater.UpdateMessage(context.Background(), channelID, messageID, text); err != nil {
		u.logger.Warn("status edit failed", "key", key, "error", err)
	}
}

// Finalize ends the turn: awaits any in-flight flush, removes the entry,
// and posts a fresh completion message. A stale completion is a no-op
// when expectedMessageID no longer matches the entry (a newer turn has
// replaced it).
func (u *Updater) Finalize(ctx context.Context, key, header, expectedMessageID string) {
	u.mu.Lock()
	e, ok := u.entries[key]
	if !ok {
		u.mu.Unlock()
		return
	}
	if expectedMessageID != "" && e.messageID != expectedMessageID {
		u.mu.Unlock()
		return
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	done := e.flushDone
	channelID := e.channelID
	delete(u.entries, key)
	u.mu.Unlock()

	if done != nil {
		<-done
	}
	if header == "" {
		header = DoneHeader
	}
	if err := u.client.SendToChannel(ctx, channelID, header); err != nil {
		u.logger.Warn("completion message failed", "key", key, "error", err)
	}
}

// CancelAll stops every pending flush timer (bridge shutdown).
func (u *Updater) CancelAll() {
	u.mu.Lock()
	defer u.mu.Unlock()
	for _, e := range u.entries {
		if e.timer != nil {
			e.timer.Stop()
		}
	}
	u.entries = make(map[string]*entry)
}

// ClampForPlatform trims text to the platform's message budget, keeping
// the tail and marking the cut. Trims on grapheme boundaries so emoji and
// joined clusters are never split.
func ClampForPlatform(p chat.Platform, text string) string {
	limit := chat.MaxMessageLen(p)
	if len([]rune(text)) <= limit {
		return text
	}
	keep := limit - len([]rune(truncatedPrefix))
	return truncatedPrefix + tailGraphemes(text, keep)
}

// tailGraphemes returns the trailing portion of s holding at most max
// runes, cut on a grapheme cluster boundary.
func tailGraphemes(s string, max int) string {
	total := len([]rune(s))
	if total <= max {
		return s
	}
	skip := total - max
	seen := 0
	state := -1
	rest := s
	for len(rest) > 0 {
		cluster, tail, _, newState := uniseg.FirstGraphemeClusterInString(rest, state)
		seen += len([]rune(cluster))
		rest = tail
		state = newState
		if seen >= skip {
			return rest
		}
	}
	return ""
}
