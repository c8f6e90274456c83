// Package keys maps human-readable key names to Linux evdev key codes.
//
// Names are lowercase evdev names without the KEY_ prefix ("a", "leftshift",
// "capslock"). Parse also accepts the prefixed form ("KEY_A"), a few common
// aliases, and numeric codes ("30", "0x1e").
package keys

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/roach88/keyrx/internal/ir"
)

// Well-known key codes used by tests and defaults.
const (
	Esc        ir.KeyCode = 1
	Tab        ir.KeyCode = 15
	A          ir.KeyCode = 30
	B          ir.KeyCode = 48
	C          ir.KeyCode = 46
	D          ir.KeyCode = 32
	F          ir.KeyCode = 33
	J          ir.KeyCode = 36
	H          ir.KeyCode = 35
	K          ir.KeyCode = 37
	L          ir.KeyCode = 38
	Space      ir.KeyCode = 57
	CapsLock   ir.KeyCode = 58
	LeftCtrl   ir.KeyCode = 29
	LeftShift  ir.KeyCode = 42
	LeftAlt    ir.KeyCode = 56
	LeftMeta   ir.KeyCode = 125
	Left       ir.KeyCode = 105
	Right      ir.KeyCode = 106
	Up         ir.KeyCode = 103
	Down       ir.KeyCode = 108
	ScrollLock ir.KeyCode = 70
)

var names = map[ir.KeyCode]string{
	1: "esc", 2: "1", 3: "2", 4: "3", 5: "4", 6: "5", 7: "6", 8: "7", 9: "8", 10: "9", 11: "0",
	12: "minus", 13: "equal", 14: "backspace", 15: "tab",
	16: "q", 17: "w", 18: "e", 19: "r", 20: "t", 21: "y", 22: "u", 23: "i", 24: "o", 25: "p",
	26: "leftbrace", 27: "rightbrace", 28: "enter", 29: "leftctrl",
	30: "a", 31: "s", 32: "d", 33: "f", 34: "g", 35: "h", 36: "j", 37: "k", 38: "l",
	39: "semicolon", 40: "apostrophe", 41: "grave", 42: "leftshift", 43: "backslash",
	44: "z", 45: "x", 46: "c", 47: "v", 48: "b", 49: "n", 50: "m",
	51: "comma", 52: "dot", 53: "slash", 54: "rightshift", 55: "kpasterisk", 56: "leftalt",
	57: "space", 58: "capslock",
	59: "f1", 60: "f2", 61: "f3", 62: "f4", 63: "f5", 64: "f6", 65: "f7", 66: "f8", 67: "f9", 68: "f10",
	69: "numlock", 70: "scrolllock",
	71: "kp7", 72: "kp8", 73: "kp9", 74: "kpminus", 75: "kp4", 76: "kp5", 77: "kp6", 78: "kpplus",
	79: "kp1", 80: "kp2", 81: "kp3", 82: "kp0", 83: "kpdot",
	86: "102nd", 87: "f11", 88: "f12",
	96: "kpenter", 97: "rightctrl", 98: "kpslash", 99: "sysrq", 100: "rightalt",
	102: "home", 103: "up", 104: "pageup", 105: "left", 106: "right", 107: "end", 108: "down",
	109: "pagedown", 110: "insert", 111: "delete",
	113: "mute", 114: "volumedown", 115: "volumeup", 119: "pause",
	125: "leftmeta", 126: "rightmeta", 127: "compose",
	183: "f13", 184: "f14", 185: "f15", 186: "f16", 187: "f17", 188: "f18", 189: "f19", 190: "f20",
	191: "f21", 192: "f22", 193: "f23", 194: "f24",
	163: "nextsong", 164: "playpause", 165: "previoussong",
}

var aliases = map[string]string{
	"escape":   "esc",
	"return":   "enter",
	"ctrl":     "leftctrl",
	"lctrl":    "leftctrl",
	"rctrl":    "rightctrl",
	"shift":    "leftshift",
	"lshift":   "leftshift",
	"rshift":   "rightshift",
	"alt":      "leftalt",
	"lalt":     "leftalt",
	"ralt":     "rightalt",
	"altgr":    "rightalt",
	"meta":     "leftmeta",
	"super":    "leftmeta",
	"win":      "leftmeta",
	"caps":     "capslock",
	"bksp":     "backspace",
	"del":      "delete",
	"period":   "dot",
	"backtick": "grave",
	"lbracket": "leftbrace",
	"rbracket": "rightbrace",
	"pgup":     "pageup",
	"pgdn":     "pagedown",
	"scrlk":    "scrolllock",
	"menu":     "compose",
}

var codes = func() map[string]ir.KeyCode {
	m := make(map[string]ir.KeyCode, len(names))
	for code, name := range names {
		m[name] = code
	}
	return m
}()

// separators are ignored in names, so "caps_lock" and "left-ctrl" resolve.
var separators = strings.NewReplacer("_", "", "-", "")

// Parse resolves a key name or numeric code.
func Parse(s string) (ir.KeyCode, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	name = separators.Replace(strings.TrimPrefix(name, "key_"))
	if name == "" {
		return 0, fmt.Errorf("empty key name")
	}

	if code, ok := codes[name]; ok {
		return code, nil
	}
	if canonical, ok := aliases[name]; ok {
		return codes[canonical], nil
	}

	// Digits are names, so numeric codes need a 0x prefix or more than one digit.
	if n, err := strconv.ParseUint(name, 0, 16); err == nil && len(name) > 1 {
		code := ir.KeyCode(n)
		if code == ir.KeyNone || code > ir.MaxKeyCode {
			return 0, fmt.Errorf("key code %s out of range 1..%#x", s, uint16(ir.MaxKeyCode))
		}
		return code, nil
	}

	return 0, fmt.Errorf("unknown key %q", s)
}

// MustParse is Parse for fixtures; it panics on unknown names.
func MustParse(s string) ir.KeyCode {
	code, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return code
}

// Name returns the canonical name of code, or its hex form when unnamed.
func Name(code ir.KeyCode) string {
	if name, ok := names[code]; ok {
		return name
	}
	return fmt.Sprintf("%#x", uint16(code))
}
