// Package bridge is the composition root: it owns the chat client, state
// store, PTY runtime, servers, and routing components, and wires them
// together for the daemon's lifetime.
package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/dguik/discode/internal/chat"
	"github.com/dguik/discode/internal/config"
	"github.com/dguik/discode/internal/hooks"
	"github.com/dguik/discode/internal/pending"
	"github.com/dguik/discode/internal/router"
	"github.com/dguik/discode/internal/runtime"
	"github.com/dguik/discode/internal/sdk"
	"github.com/dguik/discode/internal/state"
	"github.com/dguik/discode/internal/streaming"
	"github.com/dguik/discode/internal/streamserver"
)

// Bridge couples the chat platform to the agent runtime.
type Bridge struct {
	cfg    *config.Config
	client chat.Client
	store  state.Store
	logger *slog.Logger

	rt       *runtime.Runtime
	tracker  *pending.Tracker
	updater  *streaming.Updater
	runners  *sdk.Registry
	injector *runtime.Injector
	router   *router.Router
	hooks    *hooks.Pipeline
	stream   *streamserver.Server

	started bool
}

// New builds the bridge and its components. Nothing starts until Start.
func New(cfg *config.Config, client chat.Client, store state.Store, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	rt := runtime.New(logger)
	tracker := pending.NewTracker(client, logger)
	updater := streaming.NewUpdater(client, logger)
	runners := sdk.NewRegistry()
	injector := runtime.NewInjector()

	b := &Bridge{
		cfg:      cfg,
		client:   client,
		store:    store,
		logger:   logger,
		rt:       rt,
		tracker:  tracker,
		updater:  updater,
		runners:  runners,
		injector: injector,
	}
	b.router = router.New(cfg, store, tracker, rt, runners, injector, client, logger)
	b.hooks = hooks.New(cfg, store, tracker, updater, rt, client, logger)
	b.stream = streamserver.New(cfg.StreamSocket, rt, logger)
	return b
}

// Runtime exposes the PTY runtime for callers that spawn windows (CLI,
// onboarding).
func (b *Bridge) Runtime() *runtime.Runtime { return b.rt }

// Runners exposes the SDK runner registry for platform integrations.
func (b *Bridge) Runners() *sdk.Registry { return b.runners }

// Start connects the chat client, restores persisted windows, registers
// the message router, and starts the hook and stream servers.
func (b *Bridge) Start(ctx context.Context) error {
	if b.started {
		return nil
	}

	if err := b.client.Connect(ctx); err != nil {
		return fmt.Errorf("connect chat client: %w", err)
	}

	if err := b.store.Reload(); err != nil {
		b.logger.Warn("state reload failed", "error", err)
	}
	b.bootstrap()

	b.router.Register()

	if err := b.hooks.Start(); err != nil {
		b.stopPartial()
		return err
	}
	if err := b.stream.Start(); err != nil {
		b.stopPartial()
		return err
	}

	b.started = true
	b.logger.Info("bridge started", "projects", len(b.store.Projects()))
	return nil
}

// bootstrap restores runtime sessions and windows from persisted project
// records: each instance with a recorded command line that is not
// currently live is re-spawned, preserving its container binding.
func (b *Bridge) bootstrap() {
	for _, project := range b.store.Projects() {
		session := project.TmuxSession
		if session == "" {
			session = b.rt.GetOrCreateSession(project.ProjectName)
		}

		// Agent hooks in this session reach back over HTTP.
		b.rt.SetSessionEnv(session, "DISCODE_HOOK_PORT", strconv.Itoa(b.cfg.HookPort))
		if b.cfg.HookToken != "" {
			b.rt.SetSessionEnv(session, "DISCODE_HOOK_TOKEN", b.cfg.HookToken)
		}

		for instanceID, inst := range project.Instances {
			if inst.RuntimeType == state.RuntimeTypeSDK || inst.CommandLine == "" || inst.TmuxWindow == "" {
				continue
			}
			if b.rt.WindowExists(session, inst.TmuxWindow) {
				continue
			}
			command := inst.CommandLine
			if inst.ContainerMode && inst.ContainerID != "" && !strings.HasPrefix(command, "docker ") {
				command = runtime.ContainerCommand(inst.ContainerID, command)
			}
			if err := b.rt.StartAgentInWindow(session, inst.TmuxWindow, command); err != nil {
				b.logger.Warn("window restore failed",
					"project", project.ProjectName, "instance", instanceID, "error", err)
			}
		}
	}
}

// stopPartial tears down whatever a failed Start already brought up.
func (b *Bridge) stopPartial() {
	b.hooks.Stop()
	b.stream.Stop()
	b.rt.Close()
	if err := b.client.Disconnect(); err != nil {
		b.logger.Warn("chat disconnect failed", "error", err)
	}
}

// Stop shuts everything down, best effort, tolerating partial init.
func (b *Bridge) Stop() {
	b.runners.DisposeAll()
	b.router.Stop()
	b.updater.CancelAll()
	b.stream.Stop()
	b.hooks.Stop()
	b.rt.Close()
	if err := b.client.Disconnect(); err != nil {
		b.logger.Warn("chat disconnect failed", "error", err)
	}
	b.started = false
	b.logger.Info("bridge stopped")
}
