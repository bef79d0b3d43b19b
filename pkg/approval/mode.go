// Package approval gates interaction entries behind a tiered permission
// policy before they reach a processor.
//
// Modes determine what a batch may do without asking:
//   - Ask: every write and every shell command needs confirmation
//   - Safe: reads anywhere, writes inside the workspace, read-only shell
//   - Auto: full workspace access, confirmation for anything external
//   - Yolo: no confirmation at all
package approval

import (
	"fmt"
	"strings"
)

// Mode is an approval level.
type Mode int

const (
	ModeAsk Mode = iota
	ModeSafe
	ModeAuto
	ModeYolo
)

var modeNames = [...]string{"ask", "safe", "auto", "yolo"}

func (m Mode) String() string {
	if m < 0 || int(m) >= len(modeNames) {
		return "unknown"
	}
	return modeNames[m]
}

// ParseMode converts a mode name or one of its aliases.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ask", "explicit", "manual":
		return ModeAsk, nil
	case "safe", "readonly", "read-only":
		return ModeSafe, nil
	case "auto", "automatic", "workspace":
		return ModeAuto, nil
	case "yolo", "full", "dangerous":
		return ModeYolo, nil
	default:
		return ModeAsk, fmt.Errorf("unknown approval mode: %s (valid: ask, safe, auto, yolo)", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler so modes read from YAML
// and JSON by name.
func (m *Mode) UnmarshalText(text []byte) error {
	parsed, err := ParseMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
