// Package router dispatches inbound chat messages to agent windows.
//
// Each message is sanitized, resolved to a project instance, and typed
// into the instance's PTY window (or submitted to its SDK runner). A
// screen-capture fallback synthesizes a reply when no structured hook
// event arrives within the stability window.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/dguik/discode/internal/chat"
	"github.com/dguik/discode/internal/config"
	"github.com/dguik/discode/internal/pending"
	"github.com/dguik/discode/internal/runtime"
	"github.com/dguik/discode/internal/sdk"
	"github.com/dguik/discode/internal/state"
	"github.com/dguik/discode/internal/streaming"
)

// MaxMessageLen rejects inbound messages longer than this.
const MaxMessageLen = 10000

// fallbackMaxChecks bounds the stability retakes before deferring to a
// future stop-hook.
const fallbackMaxChecks = 3

// ErrEmptyMessage and ErrMessageTooLong classify sanitize failures.
var (
	ErrEmptyMessage   = fmt.Errorf("message is empty")
	ErrMessageTooLong = fmt.Errorf("message exceeds %d characters", MaxMessageLen)
)

// Router routes inbound chat messages.
type Router struct {
	cfg      *config.Config
	store    state.Store
	tracker  *pending.Tracker
	rt       *runtime.Runtime
	runners  *sdk.Registry
	injector *runtime.Injector
	client   chat.Client
	logger   *slog.Logger

	httpClient *http.Client

	mu        sync.Mutex
	instLocks map[string]*sync.Mutex
	fallbacks map[string]chan struct{}
}

// New creates a router.
func New(cfg *config.Config, store state.Store, tracker *pending.Tracker, rt *runtime.Runtime, runners *sdk.Registry, injector *runtime.Injector, client chat.Client, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		cfg:        cfg,
		store:      store,
		tracker:    tracker,
		rt:         rt,
		runners:    runners,
		injector:   injector,
		client:     client,
		logger:     logger,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		instLocks:  make(map[string]*sync.Mutex),
		fallbacks:  make(map[string]chan struct{}),
	}
}

// Register installs the router as the chat client's message callback.
func (r *Router) Register() {
	r.client.OnMessage(r.Handle)
}

// Stop cancels all scheduled buffer fallbacks.
func (r *Router) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, cancel := range r.fallbacks {
		close(cancel)
		delete(r.fallbacks, key)
	}
}

// Sanitize validates and cleans inbound message content.
func Sanitize(content string) (string, error) {
	cleaned := strings.ReplaceAll(content, "\x00", "")
	if strings.TrimSpace(cleaned) == "" {
		return "", ErrEmptyMessage
	}
	if len([]rune(cleaned)) > MaxMessageLen {
		return "", ErrMessageTooLong
	}
	return cleaned, nil
}

func (r *Router) instLock(key string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.instLocks[key]
	if !ok {
		l = &sync.Mutex{}
		r.instLocks[key] = l
	}
	return l
}

// Handle processes one inbound chat message. Messages for the same
// instance are serialized end to end.
func (r *Router) Handle(ctx context.Context, agentType, content, projectName, channelID, messageID, instanceID string, attachments []chat.Attachment) error {
	key := pending.Key(projectName, agentType, instanceID)
	lock := r.instLock(key)
	lock.Lock()
	defer lock.Unlock()

	fail := func(userMsg string) {
		r.tracker.MarkError(ctx, projectName, agentType, instanceID)
		if err := r.client.SendToChannel(ctx, channelID, userMsg); err != nil {
			r.logger.Warn("error notice failed", "channel", channelID, "error", err)
		}
	}

	text, err := Sanitize(content)
	if err != nil {
		r.logger.Info("message rejected", "project", projectName, "agent", agentType, "reason", err)
		fail("Message rejected")
		return nil
	}

	project, ok := r.store.GetProject(projectName)
	if !ok {
		fail("Unknown project " + projectName)
		return nil
	}
	resolvedID, instance, ok := r.resolveInstance(project, agentType, instanceID)
	if !ok {
		fail("No " + agentType + " instance for " + projectName)
		return nil
	}

	if instance.RuntimeType == state.RuntimeTypeSDK {
		return r.dispatchSDK(ctx, project, agentType, channelID, messageID, instanceID, resolvedID, text, fail)
	}
	return r.dispatchPTY(ctx, project, instance, agentType, channelID, messageID, instanceID, text, attachments)
}

func (r *Router) resolveInstance(project *state.Project, agentType, instanceID string) (string, *state.Instance, bool) {
	if instanceID != "" {
		inst, ok := project.Instances[instanceID]
		if !ok {
			return "", nil, false
		}
		return instanceID, &inst, true
	}
	return project.PrimaryInstance(agentType)
}

func (r *Router) dispatchSDK(ctx context.Context, project *state.Project, agentType, channelID, messageID, instanceID, resolvedID, text string, fail func(string)) error {
	r.tracker.MarkPending(ctx, project.ProjectName, agentType, channelID, messageID, instanceID)
	runner, ok := r.runners.Get(project.ProjectName, resolvedID)
	if !ok {
		fail("SDK runner not found")
		return nil
	}
	r.tracker.SetPromptPreview(project.ProjectName, agentType, text, instanceID)
	if err := runner.SubmitMessage(ctx, text); err != nil {
		r.logger.Warn("sdk submit failed", "project", project.ProjectName, "instance", resolvedID, "error", err)
		fail("Agent submission failed")
	}
	return nil
}

func (r *Router) dispatchPTY(ctx context.Context, project *state.Project, instance *state.Instance, agentType, channelID, messageID, instanceID, text string, attachments []chat.Attachment) error {
	fullText := text
	if len(attachments) > 0 {
		paths := r.downloadAttachments(project.ProjectPath, attachments)
		for _, path := range paths {
			fullText += " [file:" + path + "]"
			if instance.ContainerMode && instance.ContainerID != "" {
				if err := r.injector.InjectFile(instance.ContainerID, path); err != nil {
					r.logger.Warn("container inject failed", "container", instance.ContainerID, "error", err)
				}
			}
		}
	}

	if messageID != "" {
		r.tracker.MarkPending(ctx, project.ProjectName, agentType, channelID, messageID, instanceID)
	} else {
		r.tracker.EnsurePending(project.ProjectName, agentType, channelID, instanceID)
	}
	r.tracker.SetPromptPreview(project.ProjectName, agentType, text, instanceID)

	session := project.TmuxSession
	if session == "" {
		session = r.rt.GetOrCreateSession(project.ProjectName)
	}
	window := instance.TmuxWindow

	if err := r.rt.TypeKeysToWindow(session, window, fullText); err != nil {
		r.logger.Warn("type keys failed", "window", session+":"+window, "error", err)
		r.tracker.MarkError(ctx, project.ProjectName, agentType, instanceID)
		if err := r.client.SendToChannel(ctx, channelID, "Agent window unavailable"); err != nil {
			r.logger.Warn("error notice failed", "channel", channelID, "error", err)
		}
		return nil
	}
	// The staging split keeps agent TUIs from treating the text plus
	// Enter as one in-progress paste.
	if delay := r.cfg.SubmitDelayMS; delay > 0 {
		time.Sleep(time.Duration(delay) * time.Millisecond)
	}
	if err := r.rt.SendEnterToWindow(session, window); err != nil {
		r.logger.Warn("send enter failed", "window", session+":"+window, "error", err)
	}

	r.scheduleFallback(project.ProjectName, agentType, channelID, instanceID, session, window)
	return nil
}

// scheduleFallback arms the screen-capture fallback for a dispatched
// message, replacing any fallback already armed for the instance. Timing
// env vars are re-read per schedule so tests can override them.
func (r *Router) scheduleFallback(projectName, agentType, channelID, instanceID, session, window string) {
	key := pending.Key(projectName, agentType, instanceID)
	initial := time.Duration(config.EnvInt("DISCODE_BUFFER_FALLBACK_INITIAL_MS", r.cfg.BufferFallbackInitialMS)) * time.Millisecond
	stable := time.Duration(config.EnvInt("DISCODE_BUFFER_FALLBACK_STABLE_MS", r.cfg.BufferFallbackStableMS)) * time.Millisecond

	cancel := make(chan struct{})
	r.mu.Lock()
	if old, ok := r.fallbacks[key]; ok {
		close(old)
	}
	r.fallbacks[key] = cancel
	r.mu.Unlock()

	baseline, _ := r.rt.GetWindowBuffer(session, window)
	go r.runFallback(cancel, key, projectName, agentType, channelID, instanceID, session, window, baseline, initial, stable)
}

func (r *Router) runFallback(cancel chan struct{}, key, projectName, agentType, channelID, instanceID, session, window, prev string, initial, stable time.Duration) {
	defer func() {
		r.mu.Lock()
		if r.fallbacks[key] == cancel {
			delete(r.fallbacks, key)
		}
		r.mu.Unlock()
	}()

	delay := initial
	for checks := 0; checks <= fallbackMaxChecks; checks++ {
		select {
		case <-cancel:
			return
		case <-time.After(delay):
		}
		delay = stable

		// A structured hook owns this turn now, or it already resolved.
		if r.tracker.IsHookActive(projectName, agentType, instanceID) ||
			!r.tracker.HasPending(projectName, agentType, instanceID) {
			return
		}

		cur, err := r.rt.GetWindowBuffer(session, window)
		if err != nil {
			r.logger.Warn("fallback capture failed", "window", session+":"+window, "error", err)
			return
		}
		if cur != prev {
			prev = cur
			continue
		}

		// Screen is stable: synthesize the reply unless it is just an
		// idle prompt shape.
		ctx := context.Background()
		block := ExtractLastCommandBlock(cur)
		if block != "" {
			msg := "```\n" + streaming.ClampForPlatform(r.client.Platform(), block) + "\n```"
			if err := r.client.SendToChannel(ctx, channelID, msg); err != nil {
				r.logger.Warn("fallback send failed", "channel", channelID, "error", err)
			}
		}
		r.tracker.MarkCompleted(ctx, projectName, agentType, instanceID)
		return
	}
	// Screen never settled; a future stop-hook finishes the turn.
	r.logger.Debug("buffer fallback gave up", "key", key)
}
