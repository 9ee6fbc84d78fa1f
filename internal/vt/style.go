package vt

import "fmt"

// Style holds the rendition attributes inherited by newly written cells.
// Colors are hex strings ("#rrggbb"); empty means the terminal default.
type Style struct {
	FG        string
	BG        string
	Bold      bool
	Italic    bool
	Underline bool
	Inverse   bool
}

// Cell is one displayable grapheme cluster plus its style. Combining marks
// and ZWJ sequences are appended to Char so the whole cluster lives in one
// cell. The trailing cell of a wide character holds an empty Char.
type Cell struct {
	Char  string
	Style Style
}

// ansi16 is the base 16-color palette (xterm defaults).
var ansi16 = [16]string{
	"#000000", "#cd0000", "#00cd00", "#cdcd00",
	"#0000ee", "#cd00cd", "#00cdcd", "#e5e5e5",
	"#7f7f7f", "#ff0000", "#00ff00", "#ffff00",
	"#5c5cff", "#ff00ff", "#00ffff", "#ffffff",
}

// cubeLevels are the channel values of the 6x6x6 color cube (indices 16..231).
var cubeLevels = [6]int{0, 95, 135, 175, 215, 255}

// Palette256 returns the hex color for a 256-color palette index.
// Out-of-range indices are clamped into the palette.
func Palette256(n int) string {
	if n < 0 {
		n = 0
	}
	if n > 255 {
		n = 255
	}
	if n < 16 {
		return ansi16[n]
	}
	if n < 232 {
		n -= 16
		r := cubeLevels[n/36]
		g := cubeLevels[(n/6)%6]
		b := cubeLevels[n%6]
		return fmt.Sprintf("#%02x%02x%02x", r, g, b)
	}
	v := 8 + (n-232)*10
	return fmt.Sprintf("#%02x%02x%02x", v, v, v)
}

// applySGR mutates the style according to one SGR parameter list.
// An empty parameter list is treated as a reset, per ECMA-48.
func applySGR(st *Style, params []int) {
	if len(params) == 0 {
		*st = Style{}
		return
	}
	for i := 0; i < len(params); i++ {
		p := params[i]
		switch {
		case p == 0:
			*st = Style{}
		case p == 1:
			st.Bold = true
		case p == 22:
			st.Bold = false
		case p == 3:
			st.Italic = true
		case p == 23:
			st.Italic = false
		case p == 4:
			st.Underline = true
		case p == 24:
			st.Underline = false
		case p == 7:
			st.Inverse = true
		case p == 27:
			st.Inverse = false
		case p >= 30 && p <= 37:
			st.FG = ansi16[p-30]
		case p >= 90 && p <= 97:
			st.FG = ansi16[p-90+8]
		case p >= 40 && p <= 47:
			st.BG = ansi16[p-40]
		case p >= 100 && p <= 107:
			st.BG = ansi16[p-100+8]
		case p == 39:
			st.FG = ""
		case p == 49:
			st.BG = ""
		case p == 38 || p == 48:
			color, consumed := extendedColor(params[i+1:])
			if consumed == 0 {
				return
			}
			if p == 38 {
				st.FG = color
			} else {
				st.BG = color
			}
			i += consumed
		}
	}
}

// extendedColor parses the tail of a 38/48 sequence: "5;N" or "2;R;G;B".
// Returns the color and the number of parameters consumed (0 if malformed).
func extendedColor(params []int) (string, int) {
	if len(params) == 0 {
		return "", 0
	}
	switch params[0] {
	case 5:
		if len(params) < 2 {
			return "", 0
		}
		return Palette256(params[1]), 2
	case 2:
		if len(params) < 4 {
			return "", 0
		}
		r := clampChannel(params[1])
		g := clampChannel(params[2])
		b := clampChannel(params[3])
		return fmt.Sprintf("#%02x%02x%02x", r, g, b), 4
	}
	return "", 0
}

func clampChannel(v int) int {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return v
}
