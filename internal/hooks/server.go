// Package hooks receives structured lifecycle events from agents over
// HTTP and turns them into chat activity: start-of-turn anchors, streamed
// status edits, final responses, and pending-tracker transitions.
//
// The server also exposes runtime control routes (ensure/input/windows/
// stop) and a websocket bridge publishing styled frames to browser
// clients. Every non-GET route requires bearer auth against the shared
// hook token.
package hooks

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dguik/discode/internal/chat"
	"github.com/dguik/discode/internal/config"
	"github.com/dguik/discode/internal/pending"
	"github.com/dguik/discode/internal/runtime"
	"github.com/dguik/discode/internal/state"
	"github.com/dguik/discode/internal/streaming"
)

// Request limits.
const (
	maxBodyBytes = 1 << 20
	readTimeout  = 10 * time.Second
)

// lifecycleGrace is how long after session.start the pipeline waits for AI
// activity before closing the turn (sessions that never produce output).
const lifecycleGrace = 5 * time.Second

// Pipeline is the hook HTTP server and event dispatcher.
type Pipeline struct {
	cfg     *config.Config
	store   state.Store
	tracker *pending.Tracker
	updater *streaming.Updater
	rt      *runtime.Runtime
	client  chat.Client
	logger  *slog.Logger

	httpSrv *http.Server

	mu              sync.Mutex
	lifecycleTimers map[string]*time.Timer
	lifecycleGrace  time.Duration
}

// New creates the pipeline.
func New(cfg *config.Config, store state.Store, tracker *pending.Tracker, updater *streaming.Updater, rt *runtime.Runtime, client chat.Client, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		cfg:             cfg,
		store:           store,
		tracker:         tracker,
		updater:         updater,
		rt:              rt,
		client:          client,
		logger:          logger,
		lifecycleTimers: make(map[string]*time.Timer),
		lifecycleGrace:  lifecycleGrace,
	}
}

// SetLifecycleGrace overrides the session.start grace period (tests).
func (p *Pipeline) SetLifecycleGrace(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lifecycleGrace = d
}

// routes builds the HTTP mux.
func (p *Pipeline) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", p.handleHealth)
	mux.HandleFunc("POST /opencode-event", p.auth(p.handleEvent))
	mux.HandleFunc("POST /runtime/ensure", p.auth(p.handleRuntimeEnsure))
	mux.HandleFunc("POST /runtime/focus", p.auth(p.handleRuntimeFocus))
	mux.HandleFunc("POST /runtime/input", p.auth(p.handleRuntimeInput))
	mux.HandleFunc("GET /runtime/windows", p.handleRuntimeWindows)
	mux.HandleFunc("POST /runtime/stop", p.auth(p.handleRuntimeStop))
	mux.HandleFunc("POST /send-files", p.auth(p.handleSendFiles))
	mux.HandleFunc("GET /runtime/stream", p.handleStream)
	return mux
}

// Start begins serving on the configured port.
func (p *Pipeline) Start() error {
	mux := p.routes()

	addr := fmt.Sprintf("127.0.0.1:%d", p.cfg.HookPort)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("hook server listen on %s: %w", addr, err)
	}
	p.httpSrv = &http.Server{
		Handler:     mux,
		ReadTimeout: readTimeout,
	}
	go func() {
		if err := p.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			p.logger.Error("hook server failed", "error", err)
		}
	}()
	p.logger.Info("hook server listening", "addr", addr)
	return nil
}

// Addr returns the server's listen address.
func (p *Pipeline) Addr() string {
	return fmt.Sprintf("127.0.0.1:%d", p.cfg.HookPort)
}

// Stop shuts the server down and cancels lifecycle timers.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	for key, timer := range p.lifecycleTimers {
		timer.Stop()
		delete(p.lifecycleTimers, key)
	}
	p.mu.Unlock()
	if p.httpSrv != nil {
		p.httpSrv.Close()
	}
}

// httpError writes the {status, message} error body.
func httpError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{"status": status, "message": message})
}

func httpOK(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if payload == nil {
		payload = map[string]any{"status": http.StatusOK, "message": "ok"}
	}
	json.NewEncoder(w).Encode(payload)
}

// auth enforces bearer authentication against the shared hook token.
func (p *Pipeline) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := p.cfg.HookToken
		if token == "" {
			httpError(w, http.StatusUnauthorized, "hook token not configured")
			return
		}
		header := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
			httpError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		if subtle.ConstantTimeCompare([]byte(header[len(prefix):]), []byte(token)) != 1 {
			httpError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next(w, r)
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		httpError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func (p *Pipeline) handleHealth(w http.ResponseWriter, r *http.Request) {
	httpOK(w, map[string]any{"status": "ok"})
}

type runtimeEnsureRequest struct {
	Session     string `json:"session"`
	Window      string `json:"window"`
	CommandLine string `json:"commandLine"`
}

func (p *Pipeline) handleRuntimeEnsure(w http.ResponseWriter, r *http.Request) {
	var req runtimeEnsureRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Session == "" || req.Window == "" || req.CommandLine == "" {
		httpError(w, http.StatusBadRequest, "session, window, and commandLine are required")
		return
	}
	if err := p.rt.StartAgentInWindow(req.Session, req.Window, req.CommandLine); err != nil {
		httpError(w, http.StatusInternalServerError, err.Error())
		return
	}
	httpOK(w, nil)
}

type windowRequest struct {
	WindowID string `json:"windowId"`
	Text     string `json:"text,omitempty"`
	Enter    bool   `json:"enter,omitempty"`
}

func (p *Pipeline) handleRuntimeFocus(w http.ResponseWriter, r *http.Request) {
	var req windowRequest
	if !decodeBody(w, r, &req) {
		return
	}
	id, err := runtime.ParseWindowID(req.WindowID)
	if err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !p.rt.WindowExists(id.Session, id.Window) {
		httpError(w, http.StatusNotFound, "window not found")
		return
	}
	httpOK(w, nil)
}

func (p *Pipeline) handleRuntimeInput(w http.ResponseWriter, r *http.Request) {
	var req windowRequest
	if !decodeBody(w, r, &req) {
		return
	}
	id, err := runtime.ParseWindowID(req.WindowID)
	if err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !p.rt.WindowExists(id.Session, id.Window) {
		httpError(w, http.StatusNotFound, "window not found")
		return
	}
	if err := p.rt.TypeKeysToWindow(id.Session, id.Window, req.Text); err != nil {
		httpError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if req.Enter {
		if err := p.rt.SendEnterToWindow(id.Session, id.Window); err != nil {
			httpError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	httpOK(w, nil)
}

func (p *Pipeline) handleRuntimeWindows(w http.ResponseWriter, r *http.Request) {
	session := r.URL.Query().Get("session")
	httpOK(w, map[string]any{"windows": p.rt.ListWindows(session)})
}

func (p *Pipeline) handleRuntimeStop(w http.ResponseWriter, r *http.Request) {
	var req windowRequest
	if !decodeBody(w, r, &req) {
		return
	}
	id, err := runtime.ParseWindowID(req.WindowID)
	if err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !p.rt.StopWindow(id.Session, id.Window) {
		httpError(w, http.StatusNotFound, "window not found")
		return
	}
	httpOK(w, nil)
}

type sendFilesRequest struct {
	ChannelID string   `json:"channelId"`
	Text      string   `json:"text,omitempty"`
	Files     []string `json:"files"`
}

func (p *Pipeline) handleSendFiles(w http.ResponseWriter, r *http.Request) {
	var req sendFilesRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.ChannelID == "" || len(req.Files) == 0 {
		httpError(w, http.StatusBadRequest, "channelId and files are required")
		return
	}
	sender, ok := p.client.(chat.FileSender)
	if !ok {
		httpError(w, http.StatusNotImplemented, "chat client cannot send files")
		return
	}
	if err := sender.SendToChannelWithFiles(r.Context(), req.ChannelID, req.Text, req.Files); err != nil {
		httpError(w, http.StatusInternalServerError, err.Error())
		return
	}
	httpOK(w, nil)
}

// requestID tags log lines for one hook request.
func requestID() string {
	return uuid.NewString()[:8]
}
