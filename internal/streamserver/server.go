// Package streamserver publishes styled terminal frames to local TUI
// clients over a unix stream socket.
//
// Each connection speaks newline-delimited JSON: clients subscribe to
// windows at a viewport size and receive full frames or sparse patch
// diffs; keyboard input, resizes, and focus changes flow back. Flushes
// are coalesced per subscription and carry a monotonically increasing
// sequence number.
package streamserver

import (
	"bufio"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dguik/discode/internal/runtime"
)

// Flush policy defaults.
const (
	// MinEmitInterval coalesces bursts of frame events per subscription.
	MinEmitInterval = 50 * time.Millisecond

	// PatchThresholdRatio is the largest changed-line ratio still sent as
	// a patch; above it a full frame is cheaper.
	PatchThresholdRatio = 0.55

	// sendQueueLimit is the backpressure threshold: a client whose
	// outbound queue is full is dropped so it can reconnect and resync.
	sendQueueLimit = 256
)

// Server is the stream socket server.
type Server struct {
	socketPath string
	rt         *runtime.Runtime
	logger     *slog.Logger

	minEmitInterval time.Duration
	patchThreshold  float64

	mu     sync.Mutex
	ln     net.Listener
	conns  map[*conn]struct{}
	closed bool
}

// New creates a server bound to a runtime. Frame and exit events are
// registered immediately; the socket opens on Start.
func New(socketPath string, rt *runtime.Runtime, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		socketPath:      socketPath,
		rt:              rt,
		logger:          logger,
		minEmitInterval: MinEmitInterval,
		patchThreshold:  PatchThresholdRatio,
		conns:           make(map[*conn]struct{}),
	}
	rt.OnFrame(func(id runtime.WindowID, bufferLen int) {
		s.notifyFrame(id)
	})
	rt.OnExit(func(id runtime.WindowID, exitCode *int, signal string) {
		s.notifyExit(id, exitCode, signal)
	})
	return s
}

// SetMinEmitInterval overrides the coalescing interval (tests).
func (s *Server) SetMinEmitInterval(d time.Duration) {
	s.minEmitInterval = d
}

// SocketPath returns the socket path the server listens on.
func (s *Server) SocketPath() string { return s.socketPath }

// Start opens the unix socket and begins accepting connections.
func (s *Server) Start() error {
	// A stale socket from a crashed daemon blocks the bind.
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()
	go s.acceptLoop(ln)
	s.logger.Info("stream server listening", "socket", s.socketPath)
	return nil
}

// Stop closes the listener and all connections and removes the socket.
func (s *Server) Stop() {
	s.mu.Lock()
	s.closed = true
	ln := s.ln
	conns := make([]*conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	if ln != nil {
		ln.Close()
	}
	for _, c := range conns {
		c.close()
	}
	os.Remove(s.socketPath)
}

func (s *Server) acceptLoop(ln net.Listener) {
	for {
		nc, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn("accept failed", "error", err)
			return
		}
		c := &conn{
			id:   uuid.NewString(),
			nc:   nc,
			srv:  s,
			out:  make(chan []byte, sendQueueLimit),
			subs: make(map[string]*subscription),
		}
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			nc.Close()
			return
		}
		s.conns[c] = struct{}{}
		s.mu.Unlock()
		go c.writeLoop()
		go c.readLoop()
	}
}

func (s *Server) dropConn(c *conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
}

// notifyFrame fans a window's frame event out to its subscriptions.
func (s *Server) notifyFrame(id runtime.WindowID) {
	s.mu.Lock()
	conns := make([]*conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	for _, c := range conns {
		if sub := c.subscription(id.String()); sub != nil {
			c.flush(sub)
		}
	}
}

// notifyExit tells subscribers the window's child exited. Subscriptions
// are retained so the final frame stays visible; further input gets
// window_missing errors.
func (s *Server) notifyExit(id runtime.WindowID, exitCode *int, signal string) {
	s.mu.Lock()
	conns := make([]*conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	for _, c := range conns {
		sub := c.subscription(id.String())
		if sub == nil {
			continue
		}
		c.flush(sub) // final frame first
		sub.mu.Lock()
		sub.exited = true
		sub.mu.Unlock()
		c.send(windowExitMsg{Type: "window-exit", WindowID: id.String(), ExitCode: exitCode, Signal: signal})
	}
}

// subscription tracks one (connection, window) stream and its flush state.
type subscription struct {
	id runtime.WindowID

	mu             sync.Mutex
	seq            uint64
	lastPlain      []string
	lastLineSigs   []uint64
	lastSig        uint64
	hasEmitted     bool
	lastEmit       time.Time
	pendingFlush   *time.Timer
	exited         bool
	runtimeErrSent bool
}

type conn struct {
	id  string
	nc  net.Conn
	srv *Server
	out chan []byte

	mu     sync.Mutex
	subs   map[string]*subscription
	closed bool

	closeOnce sync.Once
}

func (c *conn) subscription(windowID string) *subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subs[windowID]
}

func (c *conn) close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		close(c.out)
		subs := c.subs
		c.subs = make(map[string]*subscription)
		c.mu.Unlock()
		// Timers are stopped outside c.mu: flushes lock sub.mu then c.mu
		// through send, so taking them in the other order would deadlock.
		for _, sub := range subs {
			sub.mu.Lock()
			if sub.pendingFlush != nil {
				sub.pendingFlush.Stop()
			}
			sub.mu.Unlock()
		}
		c.nc.Close()
		c.srv.dropConn(c)
	})
}

func (c *conn) writeLoop() {
	for data := range c.out {
		if _, err := c.nc.Write(append(data, '\n')); err != nil {
			go c.close()
			return
		}
	}
}

// send enqueues one outbound message. A full queue means the client is
// not keeping up; it is dropped rather than blocking frame fan-out.
func (c *conn) send(msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.srv.logger.Warn("encode outbound message", "error", err)
		return
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	select {
	case c.out <- data:
		c.mu.Unlock()
	default:
		c.mu.Unlock()
		c.srv.logger.Warn("dropping slow stream client", "conn", c.id)
		go c.close()
	}
}

func (c *conn) sendError(code, message string) {
	c.send(errorMsg{Type: "error", Code: code, Message: message})
}

func (c *conn) readLoop() {
	defer c.close()
	scanner := bufio.NewScanner(c.nc)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var msg clientMessage
		if err := json.Unmarshal(line, &msg); err != nil {
			c.sendError(ErrCodeProtocolError, "malformed message")
			continue
		}
		c.handle(msg)
	}
}

func (c *conn) handle(msg clientMessage) {
	switch msg.Type {
	case msgSubscribe, msgResize:
		c.subscribe(msg)
	case msgUnsubscribe:
		c.mu.Lock()
		if sub, ok := c.subs[msg.WindowID]; ok {
			sub.mu.Lock()
			if sub.pendingFlush != nil {
				sub.pendingFlush.Stop()
			}
			sub.mu.Unlock()
			delete(c.subs, msg.WindowID)
		}
		c.mu.Unlock()
	case msgInput:
		c.input(msg)
	case msgFocus:
		// Focus is advisory; nothing to route locally.
	default:
		c.sendError(ErrCodeProtocolError, "unknown message type "+msg.Type)
	}
}

// subscribe begins (or resizes, which implicitly re-subscribes) a window
// stream and emits an immediate frame.
func (c *conn) subscribe(msg clientMessage) {
	id, err := runtime.ParseWindowID(msg.WindowID)
	if err != nil {
		c.sendError(ErrCodeProtocolError, err.Error())
		return
	}
	if !c.srv.rt.WindowExists(id.Session, id.Window) {
		c.sendError(ErrCodeUnknownWindow, "no such window "+msg.WindowID)
		return
	}
	if msg.Cols > 0 && msg.Rows > 0 {
		if err := c.srv.rt.ResizeWindow(id.Session, id.Window, msg.Cols, msg.Rows); err != nil {
			c.sendError(ErrCodeRuntimeError, err.Error())
			return
		}
	}

	c.mu.Lock()
	sub, ok := c.subs[msg.WindowID]
	if !ok {
		sub = &subscription{id: id}
		c.subs[msg.WindowID] = sub
	}
	c.mu.Unlock()

	// Resize invalidates patch baselines: the next emit is a full frame.
	sub.mu.Lock()
	sub.hasEmitted = false
	sub.lastSig = 0
	sub.mu.Unlock()
	c.flush(sub)
}

func (c *conn) input(msg clientMessage) {
	sub := c.subscription(msg.WindowID)
	if sub == nil {
		c.sendError(ErrCodeUnknownWindow, "not subscribed to "+msg.WindowID)
		return
	}
	sub.mu.Lock()
	exited := sub.exited
	sub.mu.Unlock()
	if exited {
		c.sendError(ErrCodeWindowMissing, "window "+msg.WindowID+" has exited")
		return
	}
	data, err := base64.StdEncoding.DecodeString(msg.BytesBase64)
	if err != nil {
		c.sendError(ErrCodeProtocolError, "bad bytesBase64")
		return
	}
	if err := c.srv.rt.WriteWindow(sub.id.Session, sub.id.Window, data); err != nil {
		if errors.Is(err, runtime.ErrWindowNotRunning) || errors.Is(err, runtime.ErrWindowNotFound) {
			c.sendError(ErrCodeWindowMissing, err.Error())
		} else {
			c.sendError(ErrCodeRuntimeError, err.Error())
		}
	}
}

// flush emits the window's current frame to this subscription, coalescing
// bursts and skipping frames whose signature has not changed.
func (c *conn) flush(sub *subscription) {
	frame, err := c.srv.rt.GetWindowFrame(sub.id.Session, sub.id.Window, 0, 0)
	if err != nil {
		sub.mu.Lock()
		sent := sub.runtimeErrSent
		sub.runtimeErrSent = true
		sub.mu.Unlock()
		if !sent {
			c.sendError(ErrCodeRuntimeError, err.Error())
		}
		return
	}

	styled := StyledLines(frame)
	sig := Signature(styled, frame.CursorRow, frame.CursorCol, frame.CursorVisible)

	sub.mu.Lock()
	defer sub.mu.Unlock()
	sub.runtimeErrSent = false

	if sub.hasEmitted && sig == sub.lastSig {
		return
	}
	now := time.Now()
	if sub.hasEmitted && now.Sub(sub.lastEmit) < c.srv.minEmitInterval {
		// Too soon: arm a trailing flush at the interval boundary.
		if sub.pendingFlush == nil {
			delay := c.srv.minEmitInterval - now.Sub(sub.lastEmit)
			sub.pendingFlush = time.AfterFunc(delay, func() {
				sub.mu.Lock()
				sub.pendingFlush = nil
				sub.mu.Unlock()
				c.flush(sub)
			})
		}
		return
	}

	plain := frame.PlainLines()
	lineSigs := make([]uint64, len(styled))
	for i, ln := range styled {
		lineSigs[i] = lineSignature(ln)
	}

	windowID := sub.id.String()
	lineCount := len(styled)

	usePatch := false
	var changed []int
	if sub.hasEmitted && len(sub.lastLineSigs) == lineCount {
		for i := range lineSigs {
			if lineSigs[i] != sub.lastLineSigs[i] {
				changed = append(changed, i)
			}
		}
		ratio := float64(len(changed)) / float64(lineCount)
		usePatch = ratio <= c.srv.patchThreshold
	}

	if usePatch {
		plainOps := make([]plainPatchOp, len(changed))
		styledOps := make([]patchOp, len(changed))
		for i, idx := range changed {
			plainOps[i] = plainPatchOp{Index: idx, Line: plain[idx]}
			styledOps[i] = patchOp{Index: idx, Line: styled[idx]}
		}
		sub.seq++
		c.send(patchMsg{
			Type: "patch", Seq: sub.seq, WindowID: windowID, LineCount: lineCount,
			CursorRow: frame.CursorRow, CursorCol: frame.CursorCol, CursorVisible: frame.CursorVisible,
			Ops: plainOps,
		})
		sub.seq++
		c.send(patchStyledMsg{
			Type: "patch-styled", Seq: sub.seq, WindowID: windowID, LineCount: lineCount,
			CursorRow: frame.CursorRow, CursorCol: frame.CursorCol, CursorVisible: frame.CursorVisible,
			Ops: styledOps,
		})
	} else {
		sub.seq++
		c.send(frameMsg{
			Type: "frame", Seq: sub.seq, WindowID: windowID, Lines: plain,
			CursorRow: frame.CursorRow, CursorCol: frame.CursorCol, CursorVisible: frame.CursorVisible,
		})
		sub.seq++
		c.send(styledFrameMsg{
			Type: "frame-styled", Seq: sub.seq, WindowID: windowID, Lines: styled,
			CursorRow: frame.CursorRow, CursorCol: frame.CursorCol, CursorVisible: frame.CursorVisible,
			LineCount: lineCount,
		})
	}

	sub.lastPlain = plain
	sub.lastLineSigs = lineSigs
	sub.lastSig = sig
	sub.lastEmit = now
	sub.hasEmitted = true
}
