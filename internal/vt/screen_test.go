package vt

import (
	"reflect"
	"strings"
	"testing"
)

func writeString(s *Screen, str string) {
	s.Write([]byte(str))
}

func TestPlainPrint(t *testing.T) {
	s := NewScreen(20, 6, 0)
	writeString(s, "hello")

	if got := s.PlainText(); got != "hello" {
		t.Errorf("PlainText() = %q, want %q", got, "hello")
	}
	row, col := s.Cursor()
	if row != 0 || col != 5 {
		t.Errorf("cursor = (%d,%d), want (0,5)", row, col)
	}
}

func TestCRLF(t *testing.T) {
	s := NewScreen(20, 6, 0)
	writeString(s, "one\r\ntwo\r\nthree")

	want := "one\ntwo\nthree"
	if got := s.PlainText(); got != want {
		t.Errorf("PlainText() = %q, want %q", got, want)
	}
}

func TestTruecolorSplitAcrossChunks(t *testing.T) {
	s := NewScreen(40, 6, 0)
	writeString(s, "\x1b[38;2;255")
	writeString(s, ";255;255mWHITE\x1b[0m")

	frame := s.Snapshot()
	seg := frame.Lines[0].Segments[0]
	if !strings.HasSuffix(seg.Text, "WHITE") {
		t.Errorf("segment text = %q, want suffix WHITE", seg.Text)
	}
	if seg.Style.FG != "#ffffff" {
		t.Errorf("fg = %q, want #ffffff", seg.Style.FG)
	}
	for _, ln := range frame.Lines {
		for _, sg := range ln.Segments {
			if strings.Contains(sg.Text, ";255m") {
				t.Errorf("partial escape leaked into frame: %q", sg.Text)
			}
		}
	}
}

func TestDeferredWrap(t *testing.T) {
	s := NewScreen(20, 6, 0)
	writeString(s, "ABCDEFGHIJ0123456789")

	row, col := s.Cursor()
	if row != 0 || col != 19 {
		t.Errorf("after filling row: cursor = (%d,%d), want (0,19)", row, col)
	}

	writeString(s, "\x1b[31m")
	writeString(s, "X")

	row, col = s.Cursor()
	if row != 1 || col != 1 {
		t.Errorf("after wrap: cursor = (%d,%d), want (1,1)", row, col)
	}
	lines := s.PlainLines()
	if lines[0] != "ABCDEFGHIJ0123456789" {
		t.Errorf("line 0 = %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "X") {
		t.Errorf("line 1 = %q, want X prefix", lines[1])
	}
	frame := s.Snapshot()
	if frame.Lines[1].Segments[0].Style.FG != ansi16[1] {
		t.Errorf("X style fg = %q, want %q", frame.Lines[1].Segments[0].Style.FG, ansi16[1])
	}
}

func TestWrapCountsCells(t *testing.T) {
	s := NewScreen(20, 6, 0)
	writeString(s, strings.Repeat("a", 20))

	// Deferred: row unchanged, col pinned at cols-1.
	if row, col := s.Cursor(); row != 0 || col != 19 {
		t.Errorf("cursor = (%d,%d), want (0,19)", row, col)
	}
	writeString(s, "b")
	if row, col := s.Cursor(); row != 1 || col != 1 {
		t.Errorf("cursor = (%d,%d), want (1,1)", row, col)
	}
}

func TestAltScreenRestore(t *testing.T) {
	s := NewScreen(20, 6, 0)
	writeString(s, "primary")
	before := s.Snapshot()

	writeString(s, "\x1b[?1049h")
	writeString(s, "alt")
	if got := s.PlainText(); !strings.Contains(got, "alt") {
		t.Fatalf("alt buffer missing content: %q", got)
	}
	writeString(s, "\x1b[?1049l")

	after := s.Snapshot()
	if !reflect.DeepEqual(before, after) {
		t.Errorf("alt screen round trip changed frame:\nbefore %+v\nafter  %+v", before, after)
	}
	if got := s.PlainText(); strings.Contains(got, "alt") {
		t.Errorf("primary buffer contains alt content: %q", got)
	}
	if !strings.Contains(s.PlainText(), "primary") {
		t.Errorf("primary content lost: %q", s.PlainText())
	}
}

func TestAltScreenReenterNoop(t *testing.T) {
	s := NewScreen(20, 6, 0)
	writeString(s, "keep")
	writeString(s, "\x1b[?1049h")
	writeString(s, "overlay")
	writeString(s, "\x1b[?1049h") // already on alt
	writeString(s, "\x1b[?1049l")

	if got := s.PlainText(); got != "keep" {
		t.Errorf("PlainText() = %q, want %q", got, "keep")
	}
}

func TestAltScreenRowCount(t *testing.T) {
	s := NewScreen(20, 6, 0)
	writeString(s, "\x1b[?1049h")
	for i := 0; i < 20; i++ {
		writeString(s, "line\r\n")
	}
	if len(s.lines) != s.rows {
		t.Errorf("alt lines = %d, want %d", len(s.lines), s.rows)
	}
}

func TestResizeWhileOnAltScreen(t *testing.T) {
	s := NewScreen(40, 10, 0)
	writeString(s, "primary content")
	writeString(s, "\x1b[?1049h")
	s.Resize(25, 8)
	writeString(s, "\x1b[?1049l")

	if s.Cols() != 25 || s.Rows() != 8 {
		t.Fatalf("size = %dx%d, want 25x8", s.Cols(), s.Rows())
	}
	for i, line := range s.lines {
		if len(line) != 25 {
			t.Errorf("restored line %d has %d cells, want 25", i, len(line))
		}
	}
	if got := s.PlainText(); !strings.Contains(got, "primary content") {
		t.Errorf("primary content lost across alt resize: %q", got)
	}
}

func TestCellCountInvariant(t *testing.T) {
	s := NewScreen(24, 8, 0)
	inputs := []string{
		"hello\r\nworld",
		"\x1b[5;10H\x1b[31mred",
		"\x1b[2J\x1b[H",
		"\x1b[4@shift",
		"\x1b[3P",
		"한글과 漢字 😀",
		strings.Repeat("x", 100),
		"\x1b[?1049htui\x1b[?1049l",
	}
	for _, in := range inputs {
		writeString(s, in)
		for i, line := range s.lines {
			if len(line) != s.cols {
				t.Fatalf("after %q: line %d has %d cells, want %d", in, i, len(line), s.cols)
			}
		}
	}
}

func TestChunkSplitRoundTrip(t *testing.T) {
	input := "plain \x1b[1;32mgreen\x1b[0m\r\n\x1b[38;5;208morange\x1b[0m " +
		"\x1b[2;5H@\x1b[6n\x1b]0;title\x07tail 漢 😀 é"

	whole := NewScreen(40, 8, 0)
	whole.Write([]byte(input))
	want := whole.Snapshot()

	for split := 1; split < len(input); split++ {
		s := NewScreen(40, 8, 0)
		s.Write([]byte(input[:split]))
		s.Write([]byte(input[split:]))
		if got := s.Snapshot(); !reflect.DeepEqual(got, want) {
			t.Fatalf("split at %d diverged", split)
		}
	}
}

func TestScrollRegion(t *testing.T) {
	s := NewScreen(20, 6, 0)
	// Fill all six rows.
	writeString(s, "r0\r\nr1\r\nr2\r\nr3\r\nr4\r\nr5")
	// Region rows 2..5 (1-based), cursor to bottom of region, line feed.
	writeString(s, "\x1b[2;5r")
	if s.scrollTop != 1 || s.scrollBottom != 4 {
		t.Fatalf("region = [%d,%d], want [1,4]", s.scrollTop, s.scrollBottom)
	}
	writeString(s, "\x1b[5;1H\nnew")

	lines := s.PlainLines()
	if lines[0] != "r0" || lines[5] != "r5" {
		t.Errorf("rows outside region moved: %v", lines)
	}
	if lines[1] != "r2" {
		t.Errorf("row 1 = %q, want r2 (scrolled)", lines[1])
	}
	if lines[4] != "new" {
		t.Errorf("row 4 = %q, want new", lines[4])
	}
}

func TestScrollRegionRejectsInvalid(t *testing.T) {
	s := NewScreen(20, 6, 0)
	writeString(s, "\x1b[5;2r") // top >= bottom
	if s.scrollTop != 0 || s.scrollBottom != 5 {
		t.Errorf("invalid region accepted: [%d,%d]", s.scrollTop, s.scrollBottom)
	}
	writeString(s, "\x1b[1;99r") // bottom > rows
	if s.scrollTop != 0 || s.scrollBottom != 5 {
		t.Errorf("oversize region accepted: [%d,%d]", s.scrollTop, s.scrollBottom)
	}
}

func TestReverseIndexScrollsDown(t *testing.T) {
	s := NewScreen(20, 6, 0)
	writeString(s, "top\r\nsecond")
	writeString(s, "\x1b[1;1H\x1bM")

	lines := s.PlainLines()
	if lines[0] != "" {
		t.Errorf("line 0 = %q, want blank", lines[0])
	}
	if lines[1] != "top" {
		t.Errorf("line 1 = %q, want top", lines[1])
	}
}

func TestScrollbackGrows(t *testing.T) {
	s := NewScreen(20, 6, 100)
	for i := 0; i < 50; i++ {
		writeString(s, "line\r\n")
	}
	if len(s.lines) > 100 {
		t.Errorf("lines = %d, exceeds scrollback budget 100", len(s.lines))
	}
	if len(s.lines) <= s.rows {
		t.Errorf("lines = %d, scrollback did not grow", len(s.lines))
	}
	frame := s.Snapshot()
	if len(frame.Lines) != s.rows {
		t.Errorf("frame rows = %d, want %d", len(frame.Lines), s.rows)
	}
}

func TestEraseDisplay(t *testing.T) {
	s := NewScreen(20, 6, 0)
	writeString(s, "aaaa\r\nbbbb\r\ncccc")
	writeString(s, "\x1b[2;2H\x1b[0J")

	lines := s.PlainLines()
	if lines[0] != "aaaa" {
		t.Errorf("line 0 = %q, want aaaa", lines[0])
	}
	if lines[1] != "b" {
		t.Errorf("line 1 = %q, want b", lines[1])
	}
	if lines[2] != "" {
		t.Errorf("line 2 = %q, want blank", lines[2])
	}
}

func TestInsertDeleteChars(t *testing.T) {
	s := NewScreen(20, 6, 0)
	writeString(s, "abcdef")
	writeString(s, "\x1b[1;3H\x1b[2@")
	if got := s.PlainLines()[0]; got != "ab  cdef" {
		t.Errorf("after ICH: %q, want %q", got, "ab  cdef")
	}
	writeString(s, "\x1b[2P")
	if got := s.PlainLines()[0]; got != "abcdef" {
		t.Errorf("after DCH: %q, want %q", got, "abcdef")
	}
	writeString(s, "\x1b[2X")
	if got := s.PlainLines()[0]; got != "ab  ef" {
		t.Errorf("after ECH: %q, want %q", got, "ab  ef")
	}
}

func TestInsertDeleteLines(t *testing.T) {
	s := NewScreen(20, 6, 0)
	writeString(s, "r0\r\nr1\r\nr2")
	writeString(s, "\x1b[2;1H\x1b[1L")
	lines := s.PlainLines()
	if lines[1] != "" || lines[2] != "r1" {
		t.Errorf("after IL: %v", lines[:4])
	}
	writeString(s, "\x1b[1M")
	lines = s.PlainLines()
	if lines[1] != "r1" || lines[2] != "r2" {
		t.Errorf("after DL: %v", lines[:4])
	}
}

func TestWideCharacters(t *testing.T) {
	s := NewScreen(20, 6, 0)
	writeString(s, "한글")
	if _, col := s.Cursor(); col != 4 {
		t.Errorf("cursor col = %d, want 4 after two wide chars", col)
	}
	if got := s.PlainLines()[0]; got != "한글" {
		t.Errorf("line = %q, want 한글", got)
	}

	s = NewScreen(20, 6, 0)
	writeString(s, "漢")
	if _, col := s.Cursor(); col != 2 {
		t.Errorf("cursor col = %d, want 2", col)
	}

	s = NewScreen(20, 6, 0)
	writeString(s, "😀")
	if _, col := s.Cursor(); col != 2 {
		t.Errorf("emoji cursor col = %d, want 2", col)
	}
}

func TestWideCharNeverSplits(t *testing.T) {
	s := NewScreen(20, 6, 0)
	writeString(s, strings.Repeat("a", 19))
	writeString(s, "漢")

	lines := s.PlainLines()
	if strings.Contains(lines[0], "漢") {
		t.Errorf("wide char split across right edge: %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "漢") {
		t.Errorf("line 1 = %q, want 漢 prefix", lines[1])
	}
}

func TestZWJCluster(t *testing.T) {
	s := NewScreen(20, 6, 0)
	writeString(s, "👨‍💻")

	cell := s.viewLine(0)[0]
	if cell.Char != "👨‍💻" {
		t.Errorf("cluster = %q, want single-cell ZWJ sequence", cell.Char)
	}
	if _, col := s.Cursor(); col != 2 {
		t.Errorf("cursor col = %d, want 2", col)
	}
}

func TestModifierAndFlagClusters(t *testing.T) {
	// Skin-tone modifier joins its base emoji.
	s := NewScreen(20, 6, 0)
	writeString(s, "👍\U0001f3fdx")
	line := s.viewLine(0)
	if line[0].Char != "👍\U0001f3fd" {
		t.Errorf("modifier cluster = %q, want base+modifier in one cell", line[0].Char)
	}

	// Regional-indicator pair forms one flag cluster.
	s = NewScreen(20, 6, 0)
	writeString(s, "\U0001f1fa\U0001f1f8x")
	line = s.viewLine(0)
	if line[0].Char != "\U0001f1fa\U0001f1f8" {
		t.Errorf("flag cluster = %q, want both indicators in one cell", line[0].Char)
	}
	var found bool
	for _, cell := range line[1:] {
		if cell.Char == "x" {
			found = true
		}
	}
	if !found {
		t.Error("char after flag cluster lost")
	}

	// Variation selector joins.
	s = NewScreen(20, 6, 0)
	writeString(s, "☂️")
	if got := s.viewLine(0)[0].Char; got != "☂️" {
		t.Errorf("variation-selector cluster = %q", got)
	}
}

func TestCombiningMark(t *testing.T) {
	s := NewScreen(20, 6, 0)
	writeString(s, "e\u0301x")

	line := s.viewLine(0)
	if line[0].Char != "e\u0301" {
		t.Errorf("cell 0 = %q, want e with combining acute", line[0].Char)
	}
	if line[1].Char != "x" {
		t.Errorf("cell 1 = %q, want x", line[1].Char)
	}
}

func TestSGRPalettes(t *testing.T) {
	tests := []struct {
		name  string
		input string
		fg    string
		bg    string
		bold  bool
	}{
		{"basic red", "\x1b[31mx", ansi16[1], "", false},
		{"bright cyan bg", "\x1b[106mx", "", ansi16[14], false},
		{"bold", "\x1b[1mx", "", "", true},
		{"256 cube", "\x1b[38;5;196mx", "#ff0000", "", false},
		{"256 gray", "\x1b[38;5;232mx", "#080808", "", false},
		{"256 ansi", "\x1b[48;5;1mx", "", ansi16[1], false},
		{"truecolor", "\x1b[38;2;1;2;3mx", "#010203", "", false},
		{"reset keeps default", "\x1b[31;0mx", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewScreen(20, 6, 0)
			writeString(s, tt.input)
			st := s.viewLine(0)[0].Style
			if st.FG != tt.fg || st.BG != tt.bg || st.Bold != tt.bold {
				t.Errorf("style = %+v, want fg=%q bg=%q bold=%v", st, tt.fg, tt.bg, tt.bold)
			}
		})
	}
}

func TestPalette256Values(t *testing.T) {
	if got := Palette256(16); got != "#000000" {
		t.Errorf("Palette256(16) = %q, want #000000", got)
	}
	if got := Palette256(231); got != "#ffffff" {
		t.Errorf("Palette256(231) = %q, want #ffffff", got)
	}
	if got := Palette256(255); got != "#eeeeee" {
		t.Errorf("Palette256(255) = %q, want #eeeeee", got)
	}
	// 196 = 16 + 5*36: pure red at max cube level.
	if got := Palette256(196); got != "#ff0000" {
		t.Errorf("Palette256(196) = %q, want #ff0000", got)
	}
}

func TestOriginMode(t *testing.T) {
	s := NewScreen(20, 6, 0)
	writeString(s, "\x1b[2;5r\x1b[?6h\x1b[1;1HX")

	lines := s.PlainLines()
	if lines[1] != "X" {
		t.Errorf("origin-mode home row = %v, want X on row 1", lines[:3])
	}
}

func TestCursorVisibility(t *testing.T) {
	s := NewScreen(20, 6, 0)
	if !s.CursorVisible() {
		t.Fatal("cursor should start visible")
	}
	writeString(s, "\x1b[?25l")
	if s.CursorVisible() {
		t.Error("DECTCEM reset ignored")
	}
	writeString(s, "\x1b[?25h")
	if !s.CursorVisible() {
		t.Error("DECTCEM set ignored")
	}
}

func TestPrivateModeStorage(t *testing.T) {
	s := NewScreen(20, 6, 0)
	writeString(s, "\x1b[?2004h")
	if !s.PrivateMode(2004) {
		t.Error("mode 2004 not stored")
	}
	writeString(s, "\x1b[?2004l")
	if s.PrivateMode(2004) {
		t.Error("mode 2004 not cleared")
	}
	// 7 and 25 default to enabled when never toggled.
	if !s.PrivateMode(7) || !s.PrivateMode(25) {
		t.Error("default-enabled modes report disabled")
	}
}

func TestResize(t *testing.T) {
	s := NewScreen(40, 10, 0)
	writeString(s, strings.Repeat("a", 30))
	s.Resize(25, 8)

	if s.Cols() != 25 || s.Rows() != 8 {
		t.Fatalf("size = %dx%d, want 25x8", s.Cols(), s.Rows())
	}
	for i, line := range s.lines {
		if len(line) != 25 {
			t.Errorf("line %d has %d cells, want 25", i, len(line))
		}
	}
	row, col := s.Cursor()
	if row >= 8 || col >= 25 {
		t.Errorf("cursor (%d,%d) out of bounds after resize", row, col)
	}
}

func TestUnknownSequencesCounted(t *testing.T) {
	s := NewScreen(20, 6, 0)
	writeString(s, "\x1b[99z")
	writeString(s, "\x1bQ")
	if s.UnknownSeqs() != 2 {
		t.Errorf("UnknownSeqs() = %d, want 2", s.UnknownSeqs())
	}
}

func TestRIS(t *testing.T) {
	s := NewScreen(20, 6, 0)
	writeString(s, "\x1b[31mcontent\x1b[2;4r")
	writeString(s, "\x1bc")

	if got := s.PlainText(); got != "" {
		t.Errorf("after RIS: %q, want empty", got)
	}
	if s.scrollTop != 0 || s.scrollBottom != 5 {
		t.Errorf("region not reset: [%d,%d]", s.scrollTop, s.scrollBottom)
	}
}

func TestBlankLineCollapsesToSingleSegment(t *testing.T) {
	s := NewScreen(20, 6, 0)
	frame := s.Snapshot()
	for i, ln := range frame.Lines {
		if len(ln.Segments) != 1 {
			t.Fatalf("blank line %d has %d segments", i, len(ln.Segments))
		}
		if ln.Segments[0].Text != strings.Repeat(" ", 20) {
			t.Fatalf("blank line %d = %q", i, ln.Segments[0].Text)
		}
	}
}

func TestOSCSwallowed(t *testing.T) {
	s := NewScreen(20, 6, 0)
	writeString(s, "\x1b]0;window title\x07after")
	if got := s.PlainText(); got != "after" {
		t.Errorf("PlainText() = %q, want after", got)
	}
	writeString(s, "\x1b]0;st terminated\x1b\\!")
	if got := s.PlainText(); got != "after!" {
		t.Errorf("PlainText() = %q, want after!", got)
	}
}
