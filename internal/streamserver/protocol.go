package streamserver

import (
	"hash/fnv"

	"github.com/dguik/discode/internal/vt"
)

// Client → server message types.
const (
	msgSubscribe   = "subscribe"
	msgUnsubscribe = "unsubscribe"
	msgResize      = "resize"
	msgInput       = "input"
	msgFocus       = "focus"
)

// Error codes carried by error frames.
const (
	ErrCodeUnknownWindow = "unknown_window"
	ErrCodeWindowMissing = "window_missing"
	ErrCodeRuntimeError  = "runtime_error"
	ErrCodeProtocolError = "protocol_error"
)

// clientMessage is any inbound line-delimited JSON message.
type clientMessage struct {
	Type        string `json:"type"`
	WindowID    string `json:"windowId"`
	Cols        int    `json:"cols,omitempty"`
	Rows        int    `json:"rows,omitempty"`
	BytesBase64 string `json:"bytesBase64,omitempty"`
}

// StyledSegment is one styled text run in the wire format.
type StyledSegment struct {
	Text      string `json:"text"`
	FG        string `json:"fg,omitempty"`
	BG        string `json:"bg,omitempty"`
	Bold      bool   `json:"bold,omitempty"`
	Italic    bool   `json:"italic,omitempty"`
	Underline bool   `json:"underline,omitempty"`
}

// StyledLine is one row of styled segments.
type StyledLine struct {
	Segments []StyledSegment `json:"segments"`
}

type frameMsg struct {
	Type          string   `json:"type"`
	Seq           uint64   `json:"seq"`
	WindowID      string   `json:"windowId"`
	Lines         []string `json:"lines"`
	CursorRow     int      `json:"cursorRow"`
	CursorCol     int      `json:"cursorCol"`
	CursorVisible bool     `json:"cursorVisible"`
}

type styledFrameMsg struct {
	Type          string       `json:"type"`
	Seq           uint64       `json:"seq"`
	WindowID      string       `json:"windowId"`
	Lines         []StyledLine `json:"lines"`
	CursorRow     int          `json:"cursorRow"`
	CursorCol     int          `json:"cursorCol"`
	CursorVisible bool         `json:"cursorVisible"`
	LineCount     int          `json:"lineCount"`
}

type patchOp struct {
	Index int        `json:"index"`
	Line  StyledLine `json:"line"`
}

type patchStyledMsg struct {
	Type          string    `json:"type"`
	Seq           uint64    `json:"seq"`
	WindowID      string    `json:"windowId"`
	LineCount     int       `json:"lineCount"`
	CursorRow     int       `json:"cursorRow"`
	CursorCol     int       `json:"cursorCol"`
	CursorVisible bool      `json:"cursorVisible"`
	Ops           []patchOp `json:"ops"`
}

type plainPatchOp struct {
	Index int    `json:"index"`
	Line  string `json:"line"`
}

type patchMsg struct {
	Type          string         `json:"type"`
	Seq           uint64         `json:"seq"`
	WindowID      string         `json:"windowId"`
	LineCount     int            `json:"lineCount"`
	CursorRow     int            `json:"cursorRow"`
	CursorCol     int            `json:"cursorCol"`
	CursorVisible bool           `json:"cursorVisible"`
	Ops           []plainPatchOp `json:"ops"`
}

type windowExitMsg struct {
	Type     string `json:"type"`
	WindowID string `json:"windowId"`
	ExitCode *int   `json:"exitCode,omitempty"`
	Signal   string `json:"signal,omitempty"`
}

type errorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// StyledLines converts a VT frame into the wire representation.
func StyledLines(frame vt.Frame) []StyledLine {
	lines := make([]StyledLine, len(frame.Lines))
	for i, ln := range frame.Lines {
		segs := make([]StyledSegment, len(ln.Segments))
		for j, seg := range ln.Segments {
			segs[j] = StyledSegment{
				Text:      seg.Text,
				FG:        seg.Style.FG,
				BG:        seg.Style.BG,
				Bold:      seg.Style.Bold,
				Italic:    seg.Style.Italic,
				Underline: seg.Style.Underline,
			}
		}
		lines[i] = StyledLine{Segments: segs}
	}
	return lines
}

// Signature hashes styled lines plus cursor state for change detection.
func Signature(lines []StyledLine, cursorRow, cursorCol int, cursorVisible bool) uint64 {
	h := fnv.New64a()
	for _, ln := range lines {
		for _, seg := range ln.Segments {
			h.Write([]byte(seg.Text))
			h.Write([]byte{0})
			h.Write([]byte(seg.FG))
			h.Write([]byte(seg.BG))
			var attrs byte
			if seg.Bold {
				attrs |= 1
			}
			if seg.Italic {
				attrs |= 2
			}
			if seg.Underline {
				attrs |= 4
			}
			h.Write([]byte{attrs})
		}
		h.Write([]byte{0xff})
	}
	h.Write([]byte{byte(cursorRow), byte(cursorCol)})
	if cursorVisible {
		h.Write([]byte{1})
	} else {
		h.Write([]byte{0})
	}
	return h.Sum64()
}

// lineSignature hashes one styled line for patch diffing.
func lineSignature(ln StyledLine) uint64 {
	h := fnv.New64a()
	for _, seg := range ln.Segments {
		h.Write([]byte(seg.Text))
		h.Write([]byte{0})
		h.Write([]byte(seg.FG))
		h.Write([]byte(seg.BG))
		var attrs byte
		if seg.Bold {
			attrs |= 1
		}
		if seg.Italic {
			attrs |= 2
		}
		if seg.Underline {
			attrs |= 4
		}
		h.Write([]byte{attrs})
	}
	return h.Sum64()
}
