package vt

import (
	"fmt"
	"strconv"
	"strings"
)

// Fixed OSC 10/11 color reports (light foreground on near-black).
const (
	oscForeground = "rgb:e5e5/e5e5/e5e5"
	oscBackground = "rgb:0a0a/0a0a/0a0a"
)

// Pixel cell size reported for CSI 14t window-size queries.
const (
	cellPixelWidth  = 8
	cellPixelHeight = 16
)

// Responder answers terminal query sequences found in child output. Agents
// running under a PTY probe their terminal (cursor position, colors,
// keyboard protocol, graphics support); without answers many of them hang
// or degrade. The runtime feeds each output chunk here before the screen,
// writing any generated response straight back to the PTY.
//
// Partial query sequences at a chunk boundary are carried into the next
// call. The responder also tracks private-mode h/l changes so later DECRQM
// queries report them.
type Responder struct {
	carry []byte
}

// Respond scans one output chunk and returns the bytes to write back to
// the PTY, if any.
func (rp *Responder) Respond(data []byte, scr *Screen) []byte {
	buf := data
	if len(rp.carry) > 0 {
		buf = make([]byte, 0, len(rp.carry)+len(data))
		buf = append(buf, rp.carry...)
		buf = append(buf, data...)
		rp.carry = nil
	}

	var out []byte
	i := 0
	for i < len(buf) {
		if buf[i] != 0x1b {
			i++
			continue
		}
		if i+1 >= len(buf) {
			rp.carry = append([]byte(nil), buf[i:]...)
			break
		}
		switch buf[i+1] {
		case '[':
			resp, n, ok := rp.respondCSI(buf[i:], scr)
			if !ok {
				rp.carry = append([]byte(nil), buf[i:]...)
				return out
			}
			out = append(out, resp...)
			i += n
		case ']':
			resp, n, ok := rp.respondOSC(buf[i:])
			if !ok {
				rp.carry = append([]byte(nil), buf[i:]...)
				return out
			}
			out = append(out, resp...)
			i += n
		case '_':
			resp, n, ok := rp.respondAPC(buf[i:])
			if !ok {
				rp.carry = append([]byte(nil), buf[i:]...)
				return out
			}
			out = append(out, resp...)
			i += n
		default:
			i += 2
		}
	}
	return out
}

// respondCSI handles one CSI sequence starting at data[0]==ESC, data[1]=='['.
// Returns the response (may be nil), bytes consumed, and completeness.
func (rp *Responder) respondCSI(data []byte, scr *Screen) ([]byte, int, bool) {
	i := 2
	start := i
	for i < len(data) && data[i] >= 0x30 && data[i] <= 0x3f {
		i++
	}
	paramEnd := i
	for i < len(data) && data[i] >= 0x20 && data[i] <= 0x2f {
		i++
	}
	if i >= len(data) {
		return nil, 0, false
	}
	final := data[i]
	if final < 0x40 || final > 0x7e {
		return nil, i + 1, true
	}
	consumed := i + 1
	params := string(data[start:paramEnd])
	inter := string(data[paramEnd:i])

	switch final {
	case 'n':
		switch params {
		case "5":
			return []byte("\x1b[0n"), consumed, true
		case "6":
			row, col := scr.Cursor()
			return []byte(fmt.Sprintf("\x1b[%d;%dR", row+1, col+1)), consumed, true
		case "?6":
			row, col := scr.Cursor()
			return []byte(fmt.Sprintf("\x1b[?%d;%dR", row+1, col+1)), consumed, true
		}
	case 'p':
		if inter == "$" && strings.HasPrefix(params, "?") {
			mode, err := strconv.Atoi(params[1:])
			if err != nil {
				return nil, consumed, true
			}
			state := 2
			if scr.PrivateMode(mode) {
				state = 1
			}
			return []byte(fmt.Sprintf("\x1b[?%d;%d$y", mode, state)), consumed, true
		}
	case 'u':
		if params == "?" {
			// Kitty keyboard protocol query: no enhancements active.
			return []byte("\x1b[?0u"), consumed, true
		}
	case 't':
		if params == "14" {
			return []byte(fmt.Sprintf("\x1b[4;%d;%dt", scr.Rows()*cellPixelHeight, scr.Cols()*cellPixelWidth)), consumed, true
		}
	case 'c':
		if params == "" || params == "0" {
			// Primary device attributes: report VT102.
			return []byte("\x1b[?6c"), consumed, true
		}
	case 'h', 'l':
		if strings.HasPrefix(params, "?") {
			on := final == 'h'
			for _, f := range strings.Split(params[1:], ";") {
				if mode, err := strconv.Atoi(f); err == nil {
					scr.SetPrivateMode(mode, on)
				}
			}
		}
	}
	return nil, consumed, true
}

// respondOSC handles OSC color queries (10, 11, 4;N) terminated by BEL or ST.
func (rp *Responder) respondOSC(data []byte) ([]byte, int, bool) {
	end, termLen := -1, 0
	for i := 2; i < len(data); i++ {
		if data[i] == 0x07 {
			end, termLen = i, 1
			break
		}
		if data[i] == 0x1b {
			if i+1 >= len(data) {
				return nil, 0, false
			}
			if data[i+1] == '\\' {
				end, termLen = i, 2
				break
			}
		}
	}
	if end < 0 {
		return nil, 0, false
	}
	consumed := end + termLen
	body := string(data[2:end])

	switch {
	case body == "10;?":
		return []byte("\x1b]10;" + oscForeground + "\x1b\\"), consumed, true
	case body == "11;?":
		return []byte("\x1b]11;" + oscBackground + "\x1b\\"), consumed, true
	case strings.HasPrefix(body, "4;") && strings.HasSuffix(body, ";?"):
		idxStr := strings.TrimSuffix(strings.TrimPrefix(body, "4;"), ";?")
		idx, err := strconv.Atoi(idxStr)
		if err != nil {
			return nil, consumed, true
		}
		hex := Palette256(idx)
		r, g, b := hex[1:3], hex[3:5], hex[5:7]
		resp := fmt.Sprintf("\x1b]4;%d;rgb:%s%s/%s%s/%s%s\x1b\\", idx, r, r, g, g, b, b)
		return []byte(resp), consumed, true
	}
	return nil, consumed, true
}

// respondAPC answers kitty graphics queries (ESC _ G ... ESC \).
func (rp *Responder) respondAPC(data []byte) ([]byte, int, bool) {
	end := -1
	for i := 2; i < len(data); i++ {
		if data[i] == 0x1b {
			if i+1 >= len(data) {
				return nil, 0, false
			}
			if data[i+1] == '\\' {
				end = i + 2
				break
			}
		}
	}
	if end < 0 {
		return nil, 0, false
	}
	if len(data) > 2 && data[2] == 'G' {
		return []byte("\x1b_Gi=31337;OK\x1b\\"), end, true
	}
	return nil, end, true
}
