package vt

import "strings"

// Segment is a run of adjacent same-style cells.
type Segment struct {
	Text  string `json:"text"`
	Style Style  `json:"-"`
}

// FrameLine is one rendered screen row.
type FrameLine struct {
	Segments []Segment
}

// Frame is a styled snapshot of the visible screen. Lines hold run-merged
// segments; a blank line collapses to a single space-filled segment.
type Frame struct {
	Cols          int
	Rows          int
	Lines         []FrameLine
	CursorRow     int
	CursorCol     int
	CursorVisible bool
}

// Snapshot renders the visible viewport. Because incomplete escapes are
// carried between writes, the frame never contains partial sequences.
func (s *Screen) Snapshot() Frame {
	f := Frame{
		Cols:          s.cols,
		Rows:          s.rows,
		Lines:         make([]FrameLine, s.rows),
		CursorRow:     s.cursorRow,
		CursorCol:     s.cursorCol,
		CursorVisible: s.cursorVisible,
	}
	for r := 0; r < s.rows; r++ {
		f.Lines[r] = renderLine(s.viewLine(r))
	}
	return f
}

// renderLine merges adjacent cells with identical styles into segments.
// Wide-character continuation cells (empty Char) contribute nothing.
func renderLine(line []Cell) FrameLine {
	var segs []Segment
	var b strings.Builder
	var cur Style
	started := false
	flush := func() {
		if b.Len() > 0 {
			segs = append(segs, Segment{Text: b.String(), Style: cur})
			b.Reset()
		}
	}
	for _, cell := range line {
		if cell.Char == "" {
			continue
		}
		if !started || cell.Style != cur {
			flush()
			cur = cell.Style
			started = true
		}
		b.WriteString(cell.Char)
	}
	flush()
	if len(segs) == 0 {
		segs = []Segment{{Text: strings.Repeat(" ", len(line))}}
	}
	return FrameLine{Segments: segs}
}

// PlainLines returns the viewport as plain text rows with trailing spaces
// trimmed.
func (s *Screen) PlainLines() []string {
	lines := make([]string, s.rows)
	for r := 0; r < s.rows; r++ {
		var b strings.Builder
		for _, cell := range s.viewLine(r) {
			b.WriteString(cell.Char)
		}
		lines[r] = strings.TrimRight(b.String(), " ")
	}
	return lines
}

// PlainText returns the viewport as a single string with trailing blank
// lines trimmed.
func (s *Screen) PlainText() string {
	lines := s.PlainLines()
	end := len(lines)
	for end > 0 && lines[end-1] == "" {
		end--
	}
	return strings.Join(lines[:end], "\n")
}

// PlainLines renders a frame's rows as plain text with trailing spaces
// trimmed (helper for callers holding only a Frame).
func (f Frame) PlainLines() []string {
	lines := make([]string, len(f.Lines))
	for i, ln := range f.Lines {
		var b strings.Builder
		for _, seg := range ln.Segments {
			b.WriteString(seg.Text)
		}
		lines[i] = strings.TrimRight(b.String(), " ")
	}
	return lines
}
