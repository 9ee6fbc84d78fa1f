// Package runtime manages PTY windows for agent processes.
//
// Each window is a child process attached to a pseudo-terminal and a
// virtual screen. Windows are grouped into sessions (one per project) and
// keyed by "<session>:<window>". Output flows chunk-by-chunk through the
// terminal query responder and into the screen; frame events fire after
// every mutation.
package runtime

import (
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/dguik/discode/internal/vt"
)

// Sentinel errors surfaced to runtime callers.
var (
	ErrWindowNotFound   = fmt.Errorf("window not found")
	ErrWindowNotRunning = fmt.Errorf("window not running")
)

// FrameFunc observes a window's screen mutation. bufferLen is the length
// of the window's plain-text buffer after the write.
type FrameFunc func(id WindowID, bufferLen int)

// ExitFunc observes a window exit. exitCode is nil when the child was
// killed by a signal or never started.
type ExitFunc func(id WindowID, exitCode *int, signal string)

// Runtime owns all PTY windows. All map mutation happens through its
// methods; windows themselves serialize screen access internally.
type Runtime struct {
	mu         sync.Mutex
	sessions   map[string]string   // project → session name
	sessionEnv map[string][]string // session → KEY=VALUE bindings
	windows    map[string]*window  // canonical window id → window

	onFrame []FrameFunc
	onExit  []ExitFunc

	logger *slog.Logger
}

// New creates an empty runtime.
func New(logger *slog.Logger) *Runtime {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runtime{
		sessions:   make(map[string]string),
		sessionEnv: make(map[string][]string),
		windows:    make(map[string]*window),
		logger:     logger,
	}
}

// OnFrame registers a frame observer. Not safe to call after windows start.
func (r *Runtime) OnFrame(fn FrameFunc) {
	r.onFrame = append(r.onFrame, fn)
}

// OnExit registers an exit observer. Not safe to call after windows start.
func (r *Runtime) OnExit(fn ExitFunc) {
	r.onExit = append(r.onExit, fn)
}

// GetOrCreateSession maps a project to its session namespace. Idempotent;
// the session name is the sanitized project name.
func (r *Runtime) GetOrCreateSession(project string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if name, ok := r.sessions[project]; ok {
		return name
	}
	name := sanitizeSessionName(project)
	r.sessions[project] = name
	return name
}

func sanitizeSessionName(name string) string {
	var b strings.Builder
	for _, c := range strings.ToLower(name) {
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '-', c == '_':
			b.WriteRune(c)
		default:
			b.WriteRune('-')
		}
	}
	if b.Len() == 0 {
		return "session"
	}
	return b.String()
}

// SetSessionEnv attaches an env binding applied to windows spawned later
// in the session.
func (r *Runtime) SetSessionEnv(session, key, value string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessionEnv[session] = append(r.sessionEnv[session], key+"="+value)
}

// WindowExists reports whether the window record exists.
func (r *Runtime) WindowExists(session, windowName string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.windows[WindowID{session, windowName}.String()]
	return ok
}

// StartAgentInWindow spawns commandLine via the platform shell with a PTY
// attached. A no-op when the window already exists and has not exited.
func (r *Runtime) StartAgentInWindow(session, windowName, commandLine string) error {
	id := WindowID{Session: session, Window: windowName}

	r.mu.Lock()
	if existing, ok := r.windows[id.String()]; ok {
		existing.mu.Lock()
		status := existing.status
		existing.mu.Unlock()
		if status != StatusExited {
			r.mu.Unlock()
			return nil
		}
	}
	w := newWindow(id, commandLine, r.logger)
	r.windows[id.String()] = w
	env := append(os.Environ(), r.sessionEnv[session]...)
	r.mu.Unlock()

	onFrame := func() {
		n := w.bufferLen()
		for _, fn := range r.onFrame {
			fn(id, n)
		}
	}
	onExit := func() {
		info := w.info()
		for _, fn := range r.onExit {
			fn(id, info.ExitCode, info.Signal)
		}
	}

	r.logger.Info("starting agent window", "window", id.String(), "command", commandLine)
	return w.spawn(env, onFrame, onExit)
}

// CommandLine returns the command a window was started with (used to
// restore windows across daemon restarts).
func (r *Runtime) CommandLine(session, windowName string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.windows[WindowID{session, windowName}.String()]
	if !ok {
		return "", false
	}
	return w.commandLine, true
}

func (r *Runtime) lookup(session, windowName string) (*window, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.windows[WindowID{session, windowName}.String()]
	if !ok {
		return nil, fmt.Errorf("%s:%s: %w", session, windowName, ErrWindowNotFound)
	}
	return w, nil
}

// SendKeysToWindow writes bytes verbatim followed by a newline (submits a
// shell command line).
func (r *Runtime) SendKeysToWindow(session, windowName, keys string) error {
	w, err := r.lookup(session, windowName)
	if err != nil {
		return err
	}
	return w.write([]byte(keys + "\n"))
}

// TypeKeysToWindow writes bytes verbatim without a newline, staging input
// ahead of a separate Enter.
func (r *Runtime) TypeKeysToWindow(session, windowName, keys string) error {
	w, err := r.lookup(session, windowName)
	if err != nil {
		return err
	}
	return w.write([]byte(keys))
}

// SendEnterToWindow writes a carriage return.
func (r *Runtime) SendEnterToWindow(session, windowName string) error {
	w, err := r.lookup(session, windowName)
	if err != nil {
		return err
	}
	return w.write([]byte("\r"))
}

// WriteWindow writes raw bytes to the window's PTY (stream-server input).
func (r *Runtime) WriteWindow(session, windowName string, data []byte) error {
	w, err := r.lookup(session, windowName)
	if err != nil {
		return err
	}
	return w.write(data)
}

// GetWindowBuffer returns the plain-text snapshot of the current frame
// with trailing blank lines trimmed. Exited windows retain their final
// frame.
func (r *Runtime) GetWindowBuffer(session, windowName string) (string, error) {
	w, err := r.lookup(session, windowName)
	if err != nil {
		return "", err
	}
	return w.buffer(), nil
}

// GetWindowFrame returns the styled frame, optionally resizing the window
// first (cols/rows <= 0 keep the current size).
func (r *Runtime) GetWindowFrame(session, windowName string, cols, rows int) (vt.Frame, error) {
	w, err := r.lookup(session, windowName)
	if err != nil {
		return vt.Frame{}, err
	}
	if cols > 0 && rows > 0 {
		w.resize(cols, rows)
	}
	return w.frame(), nil
}

// ResizeWindow changes the window's PTY and screen dimensions.
func (r *Runtime) ResizeWindow(session, windowName string, cols, rows int) error {
	w, err := r.lookup(session, windowName)
	if err != nil {
		return err
	}
	w.resize(cols, rows)
	return nil
}

// WindowStatus returns the lifecycle status of a window.
func (r *Runtime) WindowStatus(session, windowName string) (Status, error) {
	w, err := r.lookup(session, windowName)
	if err != nil {
		return "", err
	}
	return w.info().Status, nil
}

// ListWindows returns window info, filtered to one session when session is
// non-empty, ordered by window id.
func (r *Runtime) ListWindows(session string) []WindowInfo {
	r.mu.Lock()
	ids := make([]string, 0, len(r.windows))
	for id, w := range r.windows {
		if session != "" && w.id.Session != session {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	infos := make([]WindowInfo, 0, len(ids))
	for _, id := range ids {
		infos = append(infos, r.windows[id].info())
	}
	r.mu.Unlock()
	return infos
}

// StopWindow terminates the window's child process (SIGTERM, then SIGKILL
// after 1.5 s). Returns true when the window exists, including already
// exited windows; false when it does not.
func (r *Runtime) StopWindow(session, windowName string) bool {
	w, err := r.lookup(session, windowName)
	if err != nil {
		return false
	}
	return w.stop()
}

// Close SIGTERMs every live window. Best effort.
func (r *Runtime) Close() {
	r.mu.Lock()
	windows := make([]*window, 0, len(r.windows))
	for _, w := range r.windows {
		windows = append(windows, w)
	}
	r.mu.Unlock()
	for _, w := range windows {
		w.stop()
	}
}
