package hooks

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dguik/discode/internal/chat"
	"github.com/dguik/discode/internal/pending"
	"github.com/dguik/discode/internal/state"
)

// Event is the normalized agent hook payload.
type Event struct {
	ProjectName     string `json:"projectName"`
	AgentType       string `json:"agentType"`
	InstanceID      string `json:"instanceId,omitempty"`
	Type            string `json:"type"`
	Text            string `json:"text,omitempty"`
	Message         string `json:"message,omitempty"`
	Thinking        string `json:"thinking,omitempty"`
	Model           string `json:"model,omitempty"`
	Source          string `json:"source,omitempty"`
	Reason          string `json:"reason,omitempty"`
	ToolName        string `json:"toolName,omitempty"`
	ToolInput       string `json:"toolInput,omitempty"`
	TaskID          string `json:"taskId,omitempty"`
	TaskSubject     string `json:"taskSubject,omitempty"`
	TeammateName    string `json:"teammateName,omitempty"`
	TeamName        string `json:"teamName,omitempty"`
	Error           string `json:"error,omitempty"`
	SubmittedPrompt string `json:"submittedPrompt,omitempty"`
}

// eventContext is a resolved event: project, instance, and channel.
type eventContext struct {
	ev          Event
	project     *state.Project
	instanceID  string
	instance    *state.Instance
	channelID   string
	instanceKey string
}

func (p *Pipeline) handleEvent(w http.ResponseWriter, r *http.Request) {
	var ev Event
	if !decodeBody(w, r, &ev) {
		return
	}
	if ev.ProjectName == "" || ev.AgentType == "" || ev.Type == "" {
		httpError(w, http.StatusBadRequest, "projectName, agentType, and type are required")
		return
	}

	ec, status, msg := p.resolve(ev)
	if status != 0 {
		httpError(w, status, msg)
		return
	}

	rid := requestID()
	p.logger.Debug("hook event", "rid", rid, "type", ev.Type, "project", ev.ProjectName, "instance", ec.instanceKey)

	// A structured event arriving at all means the agent's hooks work;
	// the screen-capture fallback stands down for this turn.
	p.tracker.SetHookActive(ev.ProjectName, ev.AgentType, ev.InstanceID)

	p.dispatch(r.Context(), ec)
	httpOK(w, nil)
}

// resolve maps the event onto a project, instance, and channel. Returns a
// non-zero HTTP status on failure.
func (p *Pipeline) resolve(ev Event) (*eventContext, int, string) {
	project, ok := p.store.GetProject(ev.ProjectName)
	if !ok {
		return nil, http.StatusNotFound, "unknown project " + ev.ProjectName
	}

	var instanceID string
	var instance *state.Instance
	if ev.InstanceID != "" {
		inst, ok := project.Instances[ev.InstanceID]
		if !ok {
			return nil, http.StatusNotFound, "unknown instance " + ev.InstanceID
		}
		instanceID, instance = ev.InstanceID, &inst
	} else {
		id, inst, ok := project.PrimaryInstance(ev.AgentType)
		if !ok {
			return nil, http.StatusNotFound, "no instance for agent " + ev.AgentType
		}
		instanceID, instance = id, inst
	}

	if instance.ChannelID == "" {
		return nil, http.StatusNotFound, "instance has no channel"
	}

	instanceKey := ev.InstanceID
	if instanceKey == "" {
		instanceKey = ev.AgentType
	}
	return &eventContext{
		ev:          ev,
		project:     project,
		instanceID:  instanceID,
		instance:    instance,
		channelID:   instance.ChannelID,
		instanceKey: instanceKey,
	}, 0, ""
}

func (p *Pipeline) dispatch(ctx context.Context, ec *eventContext) {
	switch ec.ev.Type {
	case "prompt.submit":
		p.onPromptSubmit(ctx, ec)
	case "session.start":
		p.onSessionStart(ctx, ec)
	case "thinking.start":
		p.cancelLifecycleTimer(ec.key())
	case "tool.activity":
		p.onToolActivity(ctx, ec)
	case "session.idle":
		p.onSessionIdle(ctx, ec)
	case "session.end":
		p.send(ctx, ec.channelID, "Session ended: "+ec.ev.Reason)
	case "permission.request":
		p.onPermissionRequest(ctx, ec)
	case "task.completed":
		p.onTaskCompleted(ctx, ec)
	case "tool.failure":
		p.onToolFailure(ctx, ec)
	case "teammate.idle":
		p.onTeammateIdle(ctx, ec)
	default:
		p.logger.Debug("unhandled hook event type", "type", ec.ev.Type)
	}
}

func (ec *eventContext) key() string {
	return pending.Key(ec.ev.ProjectName, ec.ev.AgentType, ec.ev.InstanceID)
}

// send posts to the channel, swallowing failures so one bad send cannot
// wedge the pipeline.
func (p *Pipeline) send(ctx context.Context, channelID, text string) {
	if text == "" {
		return
	}
	if err := p.client.SendToChannel(ctx, channelID, text); err != nil {
		p.logger.Warn("channel send failed", "channel", channelID, "error", err)
	}
}

func (p *Pipeline) onPromptSubmit(ctx context.Context, ec *eventContext) {
	ev := ec.ev
	id := p.tracker.EnsureStartMessage(ctx, ev.ProjectName, ev.AgentType, ev.InstanceID, ev.Text)
	if id != "" {
		p.updater.Start(ec.key(), ec.channelID, id)
		return
	}
	if ev.Text != "" {
		p.send(ctx, ec.channelID, "📝 Prompt: "+ev.Text)
	}
}

// onSessionStart arms the lifecycle timer: a session that produces no AI
// activity within the grace period closes its pending turn so the user's
// message does not hang on an hourglass forever. Startup replays are
// ignored.
func (p *Pipeline) onSessionStart(ctx context.Context, ec *eventContext) {
	ev := ec.ev
	if ev.Source == "startup" {
		return
	}
	key := ec.key()

	p.mu.Lock()
	grace := p.lifecycleGrace
	if old, ok := p.lifecycleTimers[key]; ok {
		old.Stop()
	}
	p.lifecycleTimers[key] = time.AfterFunc(grace, func() {
		p.mu.Lock()
		delete(p.lifecycleTimers, key)
		p.mu.Unlock()

		entry, ok := p.tracker.GetPending(ev.ProjectName, ev.AgentType, ev.InstanceID)
		if !ok || entry.StartMessageID != "" {
			return
		}
		p.logger.Debug("lifecycle timer closing silent session", "key", key)
		p.tracker.MarkCompleted(context.Background(), ev.ProjectName, ev.AgentType, ev.InstanceID)
	})
	p.mu.Unlock()
}

func (p *Pipeline) cancelLifecycleTimer(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if timer, ok := p.lifecycleTimers[key]; ok {
		timer.Stop()
		delete(p.lifecycleTimers, key)
	}
}

func (p *Pipeline) onToolActivity(ctx context.Context, ec *eventContext) {
	ev := ec.ev
	key := ec.key()
	p.cancelLifecycleTimer(key)

	// Make sure a status message exists to stream into.
	if p.updater.MessageID(key) == "" {
		if id := p.tracker.EnsureStartMessage(ctx, ev.ProjectName, ev.AgentType, ev.InstanceID, ""); id != "" {
			p.updater.Start(key, ec.channelID, id)
		}
	}
	line := "🔧 " + ev.ToolName
	if input := strings.TrimSpace(ev.ToolInput); input != "" {
		line += ": " + clampLine(input, 120)
	}
	p.updater.AppendCumulative(ctx, key, line)
}

func clampLine(s string, max int) string {
	runes := []rune(strings.ReplaceAll(s, "\n", " "))
	if len(runes) <= max {
		return string(runes)
	}
	return string(runes[:max]) + "…"
}

// onSessionIdle posts the final response and thinking, finalizes the
// streaming status message, and completes the turn.
func (p *Pipeline) onSessionIdle(ctx context.Context, ec *eventContext) {
	ev := ec.ev
	key := ec.key()
	p.cancelLifecycleTimer(key)

	entry, _ := p.tracker.GetPending(ev.ProjectName, ev.AgentType, ev.InstanceID)

	text := ev.Text
	if text == "" {
		text = ev.Message
	}
	if p.cfg.ShowUsage && ev.Model != "" {
		text = strings.TrimRight(text+"\n\n📊 "+ev.Model, "\n")
	}
	for _, chunk := range SplitForPlatform(p.client.Platform(), text) {
		p.send(ctx, ec.channelID, chunk)
	}

	if p.cfg.ShowThinking && ev.Thinking != "" {
		p.postThinking(ctx, ec, entry.StartMessageID, ev.Thinking)
	}

	p.updater.Finalize(ctx, key, "", entry.StartMessageID)
	p.updater.ClearHistory(key)
	p.tracker.MarkCompleted(ctx, ev.ProjectName, ev.AgentType, ev.InstanceID)
}

// postThinking posts thinking text as fenced code, threaded under the
// start message when the client supports thread replies.
func (p *Pipeline) postThinking(ctx context.Context, ec *eventContext, anchorID, thinking string) {
	// Leave headroom for the code fence inside the platform budget.
	limit := chat.MaxMessageLen(p.client.Platform()) - 10
	replier, canThread := p.client.(chat.ThreadReplier)
	for _, chunk := range SplitText(thinking, limit) {
		block := "```\n" + chunk + "\n```"
		if canThread && anchorID != "" {
			if err := replier.ReplyInThread(ctx, ec.channelID, anchorID, block); err != nil {
				p.logger.Warn("thread reply failed", "channel", ec.channelID, "error", err)
			}
			continue
		}
		p.send(ctx, ec.channelID, block)
	}
}

func (p *Pipeline) onPermissionRequest(ctx context.Context, ec *eventContext) {
	ev := ec.ev
	msg := fmt.Sprintf("🔐 Permission needed: `%s`", ev.ToolName)
	if input := strings.TrimSpace(ev.ToolInput); input != "" {
		msg += fmt.Sprintf(" `%s`", clampLine(input, 120))
	}
	p.send(ctx, ec.channelID, msg)
}

func (p *Pipeline) onTaskCompleted(ctx context.Context, ec *eventContext) {
	ev := ec.ev
	msg := "✅ Task completed"
	if ev.TeammateName != "" {
		msg += " [" + ev.TeammateName + "]"
	}
	if ev.TaskSubject != "" {
		msg += ": " + ev.TaskSubject
	}
	p.send(ctx, ec.channelID, msg)
}

func (p *Pipeline) onToolFailure(ctx context.Context, ec *eventContext) {
	ev := ec.ev
	msg := fmt.Sprintf("⚠️ *%s failed*", ev.ToolName)
	if ev.Error != "" {
		msg += ": " + ev.Error
	}
	p.send(ctx, ec.channelID, msg)
}

// onTeammateIdle reports an idle teammate. Hooks report teamName and
// teammateName inconsistently: absent fields are omitted, never invented.
func (p *Pipeline) onTeammateIdle(ctx context.Context, ec *eventContext) {
	ev := ec.ev
	if ev.TeammateName == "" {
		p.send(ctx, ec.channelID, "💤 idle")
		return
	}
	msg := fmt.Sprintf("💤 *[%s]* idle", ev.TeammateName)
	if ev.TeamName != "" {
		msg += " (" + ev.TeamName + ")"
	}
	p.send(ctx, ec.channelID, msg)
}
