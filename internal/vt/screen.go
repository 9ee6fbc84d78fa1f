package vt

// Screen dimension bounds. Callers asking for anything outside are clamped.
const (
	MinCols = 20
	MaxCols = 300
	MinRows = 6
	MaxRows = 200
)

// Screen is a virtual terminal: a styled cell grid with scrollback, scroll
// regions, an alternate buffer, and VT100 wrap semantics. It is not safe
// for concurrent use; the owning window serializes access.
type Screen struct {
	cols, rows int
	scrollback int

	// lines holds scrollback plus the visible viewport on the primary
	// buffer (always at least rows entries); exactly rows entries on the
	// alternate buffer.
	lines [][]Cell

	cursorRow, cursorCol int // viewport-relative
	savedRow, savedCol   int
	cur                  Style

	usingAlt     bool
	savedPrimary *primaryState

	scrollTop, scrollBottom int // inclusive, viewport-relative
	wrapPending             bool
	originMode              bool
	cursorVisible           bool
	privateModes            map[int]bool

	carry       []byte
	unknownSeqs int

	// Cluster target for width-0 continuation runes: absolute line index
	// and column of the most recently printed cell.
	clusterLine, clusterCol int
	clusterValid            bool
}

// primaryState is the snapshot taken when entering the alternate screen.
type primaryState struct {
	lines                   [][]Cell
	cursorRow, cursorCol    int
	savedRow, savedCol      int
	scrollTop, scrollBottom int
	originMode              bool
	cursorVisible           bool
	wrapPending             bool
}

// NewScreen creates a screen with the given dimensions, clamped to the
// supported bounds. The scrollback budget is at least rows*4 lines.
func NewScreen(cols, rows, scrollback int) *Screen {
	cols = clampInt(cols, MinCols, MaxCols)
	rows = clampInt(rows, MinRows, MaxRows)
	if scrollback < rows*4 {
		scrollback = rows * 4
	}
	s := &Screen{
		cols:          cols,
		rows:          rows,
		scrollback:    scrollback,
		scrollBottom:  rows - 1,
		cursorVisible: true,
		privateModes:  make(map[int]bool),
	}
	s.lines = blankLines(rows, cols, Style{})
	return s
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func blankLines(n, cols int, st Style) [][]Cell {
	lines := make([][]Cell, n)
	for i := range lines {
		lines[i] = blankLine(cols, st)
	}
	return lines
}

func blankLine(cols int, st Style) []Cell {
	line := make([]Cell, cols)
	for i := range line {
		line[i] = Cell{Char: " ", Style: st}
	}
	return line
}

// Cols returns the screen width.
func (s *Screen) Cols() int { return s.cols }

// Rows returns the screen height.
func (s *Screen) Rows() int { return s.rows }

// Cursor returns the viewport-relative cursor position.
func (s *Screen) Cursor() (row, col int) { return s.cursorRow, s.cursorCol }

// CursorVisible reports the DECTCEM state.
func (s *Screen) CursorVisible() bool { return s.cursorVisible }

// UsingAltScreen reports whether the alternate buffer is active.
func (s *Screen) UsingAltScreen() bool { return s.usingAlt }

// UnknownSeqs returns the count of unrecognized escape sequences seen.
func (s *Screen) UnknownSeqs() int { return s.unknownSeqs }

// PrivateMode returns the stored state of a DEC private mode. Modes 7 and
// 25 default to enabled when never toggled.
func (s *Screen) PrivateMode(mode int) bool {
	if v, ok := s.privateModes[mode]; ok {
		return v
	}
	return mode == 7 || mode == 25
}

// PrivateModeSet reports whether the mode has been explicitly toggled.
func (s *Screen) PrivateModeSet(mode int) bool {
	_, ok := s.privateModes[mode]
	return ok
}

// SetPrivateMode records a private-mode change observed outside the write
// path (used by the query responder tracking h/l sequences).
func (s *Screen) SetPrivateMode(mode int, on bool) {
	s.privateModes[mode] = on
}

// Write consumes a chunk of terminal output. Incomplete trailing escape
// sequences are carried into the next write, so frames never observe a
// partial sequence.
func (s *Screen) Write(data []byte) {
	buf := data
	if len(s.carry) > 0 {
		buf = make([]byte, 0, len(s.carry)+len(data))
		buf = append(buf, s.carry...)
		buf = append(buf, data...)
		s.carry = nil
	}
	actions, carry, unknown := parse(buf)
	s.unknownSeqs += unknown
	s.carry = append([]byte(nil), carry...)
	for _, a := range actions {
		s.apply(a)
	}
}

// viewStart returns the absolute index of the first viewport line.
func (s *Screen) viewStart() int {
	if s.usingAlt {
		return 0
	}
	return len(s.lines) - s.rows
}

func (s *Screen) viewLine(row int) []Cell {
	return s.lines[s.viewStart()+row]
}

func (s *Screen) apply(a action) {
	if a.kind != actPrint {
		s.clusterValid = false
	}
	switch a.kind {
	case actPrint:
		s.print(a.ch)
	case actCR:
		s.cursorCol = 0
		s.wrapPending = false
	case actLF:
		s.lineFeed()
	case actBS:
		if s.cursorCol > 0 {
			s.cursorCol--
		}
		s.wrapPending = false
	case actTab:
		next := (s.cursorCol/8 + 1) * 8
		if next > s.cols-1 {
			next = s.cols - 1
		}
		s.cursorCol = next
		s.wrapPending = false
	case actDECSC:
		s.savedRow, s.savedCol = s.cursorRow, s.cursorCol
	case actDECRC:
		s.cursorRow = clampInt(s.savedRow, 0, s.rows-1)
		s.cursorCol = clampInt(s.savedCol, 0, s.cols-1)
		s.wrapPending = false
	case actRIS:
		s.reset()
	case actIndex:
		s.lineFeed()
	case actNextLine:
		s.cursorCol = 0
		s.lineFeed()
	case actReverseIndex:
		s.reverseIndex()
	case actCSI:
		s.csi(a)
	}
}

func (s *Screen) reset() {
	cols, rows, scrollback := s.cols, s.rows, s.scrollback
	*s = *NewScreen(cols, rows, scrollback)
}

func (s *Screen) print(r rune) {
	if c := s.clusterCell(); c != nil && joinsCluster(c.Char, r) {
		c.Char += string(r)
		return
	}
	w := runeCellWidth(r)
	if w == 0 {
		// Continuation rune with no cell to join; nothing to place.
		return
	}
	if s.wrapPending {
		s.wrapPending = false
		s.cursorCol = 0
		s.lineFeed()
	}
	if w == 2 && s.cursorCol >= s.cols-1 {
		// Wide characters never split across the right edge.
		s.cursorCol = 0
		s.lineFeed()
	}
	line := s.viewLine(s.cursorRow)
	line[s.cursorCol] = Cell{Char: string(r), Style: s.cur}
	s.clusterLine = s.viewStart() + s.cursorRow
	s.clusterCol = s.cursorCol
	s.clusterValid = true
	if w == 2 && s.cursorCol+1 < s.cols {
		line[s.cursorCol+1] = Cell{Char: "", Style: s.cur}
	}
	s.cursorCol += w
	if s.cursorCol >= s.cols {
		s.cursorCol = s.cols - 1
		s.wrapPending = true
	}
}

func (s *Screen) clusterCell() *Cell {
	if !s.clusterValid || s.clusterLine >= len(s.lines) {
		return nil
	}
	line := s.lines[s.clusterLine]
	if s.clusterCol >= len(line) {
		return nil
	}
	return &line[s.clusterCol]
}

// lineFeed advances the cursor within the scroll region, scrolling the
// region up by one when the cursor sits on its bottom row.
func (s *Screen) lineFeed() {
	if s.cursorRow == s.scrollBottom {
		s.scrollUp(1)
		return
	}
	if s.cursorRow < s.rows-1 {
		s.cursorRow++
	}
}

func (s *Screen) reverseIndex() {
	if s.cursorRow == s.scrollTop {
		s.scrollDown(1)
		return
	}
	if s.cursorRow > 0 {
		s.cursorRow--
	}
}

// scrollUp scrolls the region up by n. On the primary buffer with a
// full-height region the retired lines become scrollback; the alternate
// buffer and partial regions discard them.
func (s *Screen) scrollUp(n int) {
	if n <= 0 {
		return
	}
	fullRegion := s.scrollTop == 0 && s.scrollBottom == s.rows-1
	if fullRegion && !s.usingAlt {
		for i := 0; i < n; i++ {
			s.lines = append(s.lines, blankLine(s.cols, s.cur))
		}
		if len(s.lines) > s.scrollback {
			trim := len(s.lines) - s.scrollback
			s.lines = s.lines[trim:]
		}
		s.clusterValid = false
		return
	}
	vs := s.viewStart()
	top, bottom := vs+s.scrollTop, vs+s.scrollBottom
	for i := 0; i < n; i++ {
		copy(s.lines[top:bottom], s.lines[top+1:bottom+1])
		s.lines[bottom] = blankLine(s.cols, s.cur)
	}
	s.clusterValid = false
}

func (s *Screen) scrollDown(n int) {
	if n <= 0 {
		return
	}
	vs := s.viewStart()
	top, bottom := vs+s.scrollTop, vs+s.scrollBottom
	for i := 0; i < n; i++ {
		copy(s.lines[top+1:bottom+1], s.lines[top:bottom])
		s.lines[top] = blankLine(s.cols, s.cur)
	}
	s.clusterValid = false
}

func (s *Screen) csi(a action) {
	if a.private == '?' {
		switch a.final {
		case 'h':
			s.setPrivateModes(a.params, true)
		case 'l':
			s.setPrivateModes(a.params, false)
		default:
			s.unknownSeqs++
		}
		return
	}
	if a.private != 0 {
		s.unknownSeqs++
		return
	}
	switch a.final {
	case 'A':
		s.moveCursor(s.cursorRow-param(a.params, 0, 1), s.cursorCol)
	case 'B':
		s.moveCursor(s.cursorRow+param(a.params, 0, 1), s.cursorCol)
	case 'C':
		s.moveCursor(s.cursorRow, s.cursorCol+param(a.params, 0, 1))
	case 'D':
		s.moveCursor(s.cursorRow, s.cursorCol-param(a.params, 0, 1))
	case 'E':
		s.moveCursor(s.cursorRow+param(a.params, 0, 1), 0)
	case 'F':
		s.moveCursor(s.cursorRow-param(a.params, 0, 1), 0)
	case 'G':
		s.moveCursor(s.cursorRow, param(a.params, 0, 1)-1)
	case 'H', 'f':
		row := param(a.params, 0, 1) - 1
		col := param(a.params, 1, 1) - 1
		if s.originMode {
			row += s.scrollTop
		}
		s.moveCursor(row, col)
	case 'd':
		row := param(a.params, 0, 1) - 1
		if s.originMode {
			row += s.scrollTop
		}
		s.moveCursor(row, s.cursorCol)
	case 'r':
		s.setScrollRegion(a.params)
	case 'J':
		s.eraseDisplay(param(a.params, 0, 0))
	case 'K':
		s.eraseLine(param(a.params, 0, 0))
	case '@':
		s.insertChars(param(a.params, 0, 1))
	case 'P':
		s.deleteChars(param(a.params, 0, 1))
	case 'X':
		s.eraseChars(param(a.params, 0, 1))
	case 'L':
		s.insertLines(param(a.params, 0, 1))
	case 'M':
		s.deleteLines(param(a.params, 0, 1))
	case 'S':
		s.scrollUp(param(a.params, 0, 1))
	case 'T':
		s.scrollDown(param(a.params, 0, 1))
	case 'm':
		applySGR(&s.cur, a.params)
	case 's':
		s.savedRow, s.savedCol = s.cursorRow, s.cursorCol
	case 'u':
		s.cursorRow = clampInt(s.savedRow, 0, s.rows-1)
		s.cursorCol = clampInt(s.savedCol, 0, s.cols-1)
		s.wrapPending = false
	default:
		s.unknownSeqs++
	}
}

func (s *Screen) moveCursor(row, col int) {
	s.cursorRow = clampInt(row, 0, s.rows-1)
	s.cursorCol = clampInt(col, 0, s.cols-1)
	s.wrapPending = false
}

// param(a.params, 0, 0) == 0 for erase modes means "default 0", so erase
// helpers receive the raw mode value.

func (s *Screen) setPrivateModes(params []int, on bool) {
	for _, p := range params {
		switch p {
		case 1049, 1047, 47:
			if on {
				s.enterAlt()
			} else {
				s.leaveAlt()
			}
		case 6:
			s.originMode = on
			s.cursorCol = 0
			if on {
				s.cursorRow = s.scrollTop
			} else {
				s.cursorRow = 0
			}
			s.wrapPending = false
		case 25:
			s.cursorVisible = on
		}
		s.privateModes[p] = on
	}
}

func (s *Screen) setScrollRegion(params []int) {
	top := param(params, 0, 1)
	bottom := param(params, 1, s.rows)
	if top < 1 || top >= bottom || bottom > s.rows {
		return
	}
	s.scrollTop = top - 1
	s.scrollBottom = bottom - 1
	if s.originMode {
		s.moveCursor(s.scrollTop, 0)
	} else {
		s.moveCursor(0, 0)
	}
}

func (s *Screen) enterAlt() {
	if s.usingAlt {
		return
	}
	s.savedPrimary = &primaryState{
		lines:         s.lines,
		cursorRow:     s.cursorRow,
		cursorCol:     s.cursorCol,
		savedRow:      s.savedRow,
		savedCol:      s.savedCol,
		scrollTop:     s.scrollTop,
		scrollBottom:  s.scrollBottom,
		originMode:    s.originMode,
		cursorVisible: s.cursorVisible,
		wrapPending:   s.wrapPending,
	}
	s.usingAlt = true
	s.lines = blankLines(s.rows, s.cols, s.cur)
	s.cursorRow, s.cursorCol = 0, 0
	s.scrollTop, s.scrollBottom = 0, s.rows-1
	s.originMode = false
	s.wrapPending = false
	s.clusterValid = false
}

func (s *Screen) leaveAlt() {
	if !s.usingAlt || s.savedPrimary == nil {
		return
	}
	p := s.savedPrimary
	s.lines = p.lines
	s.cursorRow, s.cursorCol = p.cursorRow, p.cursorCol
	s.savedRow, s.savedCol = p.savedRow, p.savedCol
	s.scrollTop, s.scrollBottom = p.scrollTop, p.scrollBottom
	s.originMode = p.originMode
	s.cursorVisible = p.cursorVisible
	s.wrapPending = p.wrapPending
	s.usingAlt = false
	s.savedPrimary = nil
	s.clusterValid = false

	// A resize while on the alternate buffer left the snapshot at the old
	// width; normalize it to the current one.
	for i, line := range s.lines {
		if len(line) < s.cols {
			padded := make([]Cell, s.cols)
			copy(padded, line)
			for j := len(line); j < s.cols; j++ {
				padded[j] = Cell{Char: " "}
			}
			s.lines[i] = padded
		} else if len(line) > s.cols {
			s.lines[i] = line[:s.cols]
		}
	}
	for len(s.lines) < s.rows {
		s.lines = append(s.lines, blankLine(s.cols, Style{}))
	}
	s.cursorRow = clampInt(s.cursorRow, 0, s.rows-1)
	s.cursorCol = clampInt(s.cursorCol, 0, s.cols-1)
	if s.scrollBottom > s.rows-1 {
		s.scrollBottom = s.rows - 1
	}
	if s.scrollTop >= s.scrollBottom {
		s.scrollTop, s.scrollBottom = 0, s.rows-1
	}
}

func (s *Screen) eraseDisplay(mode int) {
	switch mode {
	case 0:
		s.eraseLine(0)
		for r := s.cursorRow + 1; r < s.rows; r++ {
			s.clearLine(r)
		}
	case 1:
		s.eraseLine(1)
		for r := 0; r < s.cursorRow; r++ {
			s.clearLine(r)
		}
	case 2:
		for r := 0; r < s.rows; r++ {
			s.clearLine(r)
		}
	case 3:
		for r := 0; r < s.rows; r++ {
			s.clearLine(r)
		}
		if !s.usingAlt && len(s.lines) > s.rows {
			s.lines = s.lines[len(s.lines)-s.rows:]
		}
	}
	s.clusterValid = false
}

func (s *Screen) clearLine(row int) {
	line := s.viewLine(row)
	for i := range line {
		line[i] = Cell{Char: " ", Style: s.cur}
	}
}

func (s *Screen) eraseLine(mode int) {
	line := s.viewLine(s.cursorRow)
	switch mode {
	case 0:
		for i := s.cursorCol; i < s.cols; i++ {
			line[i] = Cell{Char: " ", Style: s.cur}
		}
	case 1:
		for i := 0; i <= s.cursorCol && i < s.cols; i++ {
			line[i] = Cell{Char: " ", Style: s.cur}
		}
	case 2:
		for i := range line {
			line[i] = Cell{Char: " ", Style: s.cur}
		}
	}
	s.clusterValid = false
}

func (s *Screen) insertChars(n int) {
	line := s.viewLine(s.cursorRow)
	if n > s.cols-s.cursorCol {
		n = s.cols - s.cursorCol
	}
	copy(line[s.cursorCol+n:], line[s.cursorCol:])
	for i := s.cursorCol; i < s.cursorCol+n; i++ {
		line[i] = Cell{Char: " ", Style: s.cur}
	}
	s.clusterValid = false
}

func (s *Screen) deleteChars(n int) {
	line := s.viewLine(s.cursorRow)
	if n > s.cols-s.cursorCol {
		n = s.cols - s.cursorCol
	}
	copy(line[s.cursorCol:], line[s.cursorCol+n:])
	for i := s.cols - n; i < s.cols; i++ {
		line[i] = Cell{Char: " ", Style: s.cur}
	}
	s.clusterValid = false
}

func (s *Screen) eraseChars(n int) {
	line := s.viewLine(s.cursorRow)
	for i := s.cursorCol; i < s.cursorCol+n && i < s.cols; i++ {
		line[i] = Cell{Char: " ", Style: s.cur}
	}
	s.clusterValid = false
}

func (s *Screen) insertLines(n int) {
	if s.cursorRow < s.scrollTop || s.cursorRow > s.scrollBottom {
		return
	}
	vs := s.viewStart()
	top, bottom := vs+s.cursorRow, vs+s.scrollBottom
	for i := 0; i < n && top < bottom; i++ {
		copy(s.lines[top+1:bottom+1], s.lines[top:bottom])
		s.lines[top] = blankLine(s.cols, s.cur)
	}
	if n > 0 && top == bottom {
		s.lines[top] = blankLine(s.cols, s.cur)
	}
	s.clusterValid = false
}

func (s *Screen) deleteLines(n int) {
	if s.cursorRow < s.scrollTop || s.cursorRow > s.scrollBottom {
		return
	}
	vs := s.viewStart()
	top, bottom := vs+s.cursorRow, vs+s.scrollBottom
	for i := 0; i < n && top < bottom; i++ {
		copy(s.lines[top:bottom], s.lines[top+1:bottom+1])
		s.lines[bottom] = blankLine(s.cols, s.cur)
	}
	if n > 0 && top == bottom {
		s.lines[top] = blankLine(s.cols, s.cur)
	}
	s.clusterValid = false
}

// Resize pads or truncates every line to the new width, clamps the cursor,
// refits the scroll region, and grows the scrollback budget. Deferred
// wraps are cancelled. On the primary buffer, and on the primary snapshot
// held while the alternate buffer is active, a height change keeps the
// cursor on its line: shrinking drops rows below the cursor before
// retiring top rows to scrollback, and growing pulls rows back from
// scrollback before adding blank rows at the bottom.
func (s *Screen) Resize(cols, rows int) {
	cols = clampInt(cols, MinCols, MaxCols)
	rows = clampInt(rows, MinRows, MaxRows)
	if cols == s.cols && rows == s.rows {
		return
	}
	for i, line := range s.lines {
		if len(line) < cols {
			padded := make([]Cell, cols)
			copy(padded, line)
			for j := len(line); j < cols; j++ {
				padded[j] = Cell{Char: " "}
			}
			s.lines[i] = padded
		} else if len(line) > cols {
			s.lines[i] = line[:cols]
		}
	}
	refit := func(lines [][]Cell, cursorRow int) ([][]Cell, int) {
		drop := min(max(s.rows-rows, 0), s.rows-1-cursorRow)
		lines = lines[:len(lines)-drop]
		cursorRow += rows - s.rows + drop
		for len(lines) < rows {
			lines = append(lines, blankLine(cols, Style{}))
			cursorRow--
		}
		return lines, cursorRow
	}
	if s.usingAlt {
		if len(s.lines) > rows {
			s.lines = s.lines[:rows]
		}
		for len(s.lines) < rows {
			s.lines = append(s.lines, blankLine(cols, Style{}))
		}
		if p := s.savedPrimary; p != nil {
			p.lines, p.cursorRow = refit(p.lines, p.cursorRow)
		}
	} else {
		s.lines, s.cursorRow = refit(s.lines, s.cursorRow)
	}
	s.cols, s.rows = cols, rows
	if s.scrollback < rows*4 {
		s.scrollback = rows * 4
	}
	s.cursorRow = clampInt(s.cursorRow, 0, rows-1)
	s.cursorCol = clampInt(s.cursorCol, 0, cols-1)
	if s.scrollBottom > rows-1 {
		s.scrollBottom = rows - 1
	}
	if s.scrollTop >= s.scrollBottom {
		s.scrollTop, s.scrollBottom = 0, rows-1
	}
	s.wrapPending = false
	s.clusterValid = false
}
