package hooks

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dguik/discode/internal/runtime"
	"github.com/dguik/discode/internal/streamserver"
)

// wsPollInterval paces frame publication to websocket clients. Browser
// clients tolerate more latency than local TUIs; polling keeps the bridge
// independent of the unix-socket subscription fan-out.
const wsPollInterval = 100 * time.Millisecond

var upgrader = websocket.Upgrader{
	ReadBufferSize:  16 * 1024,
	WriteBufferSize: 64 * 1024,
	// The server binds to localhost only; same-machine browsers are fine.
	CheckOrigin: func(r *http.Request) bool { return true },
}

type wsInbound struct {
	Type        string `json:"type"`
	WindowID    string `json:"windowId"`
	Cols        int    `json:"cols,omitempty"`
	Rows        int    `json:"rows,omitempty"`
	BytesBase64 string `json:"bytesBase64,omitempty"`
}

type wsFrame struct {
	Type          string                    `json:"type"`
	Seq           uint64                    `json:"seq"`
	WindowID      string                    `json:"windowId"`
	Lines         []streamserver.StyledLine `json:"lines"`
	CursorRow     int                       `json:"cursorRow"`
	CursorCol     int                       `json:"cursorCol"`
	CursorVisible bool                      `json:"cursorVisible"`
	LineCount     int                       `json:"lineCount"`
}

type wsError struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// handleStream upgrades to a websocket and publishes styled frames for
// the subscribed window, accepting input and resize messages back.
func (p *Pipeline) handleStream(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer ws.Close()

	var id runtime.WindowID
	subscribed := make(chan struct{})
	inbound := make(chan wsInbound, 16)

	go func() {
		defer close(inbound)
		first := true
		for {
			var msg wsInbound
			if err := ws.ReadJSON(&msg); err != nil {
				return
			}
			if first {
				if msg.Type != "subscribe" {
					continue
				}
				parsed, err := runtime.ParseWindowID(msg.WindowID)
				if err != nil {
					continue
				}
				id = parsed
				first = false
				close(subscribed)
			}
			select {
			case inbound <- msg:
			default:
			}
		}
	}()

	select {
	case <-subscribed:
	case <-time.After(readTimeout):
		return
	case <-r.Context().Done():
		return
	}

	if !p.rt.WindowExists(id.Session, id.Window) {
		data, _ := json.Marshal(wsError{Type: "error", Code: streamserver.ErrCodeUnknownWindow, Message: "no such window"})
		ws.WriteMessage(websocket.TextMessage, data)
		return
	}

	ticker := time.NewTicker(wsPollInterval)
	defer ticker.Stop()

	var seq uint64
	var lastSig uint64
	emitted := false

	for {
		select {
		case msg, ok := <-inbound:
			if !ok {
				return
			}
			switch msg.Type {
			case "subscribe", "resize":
				if msg.Cols > 0 && msg.Rows > 0 {
					_ = p.rt.ResizeWindow(id.Session, id.Window, msg.Cols, msg.Rows)
				}
				emitted = false // force a full frame at the new size
			case "input":
				data, err := base64.StdEncoding.DecodeString(msg.BytesBase64)
				if err != nil {
					continue
				}
				if err := p.rt.WriteWindow(id.Session, id.Window, data); err != nil {
					out, _ := json.Marshal(wsError{Type: "error", Code: streamserver.ErrCodeWindowMissing, Message: err.Error()})
					ws.WriteMessage(websocket.TextMessage, out)
				}
			}
		case <-ticker.C:
			frame, err := p.rt.GetWindowFrame(id.Session, id.Window, 0, 0)
			if err != nil {
				return
			}
			styled := streamserver.StyledLines(frame)
			sig := streamserver.Signature(styled, frame.CursorRow, frame.CursorCol, frame.CursorVisible)
			if emitted && sig == lastSig {
				continue
			}
			seq++
			out := wsFrame{
				Type: "frame-styled", Seq: seq, WindowID: id.String(), Lines: styled,
				CursorRow: frame.CursorRow, CursorCol: frame.CursorCol,
				CursorVisible: frame.CursorVisible, LineCount: len(styled),
			}
			if err := ws.WriteJSON(out); err != nil {
				return
			}
			lastSig = sig
			emitted = true
		case <-r.Context().Done():
			return
		}
	}
}
