package fieldlayout

import (
	"fmt"
	"strings"
)

// Alliance selects which side of the field the tag layout origin is on.
type Alliance int

const (
	// Unknown resolves to Blue.
	Unknown Alliance = iota
	Blue
	Red
)

func (a Alliance) String() string {
	switch a {
	case Blue:
		return "blue"
	case Red:
		return "red"
	default:
		return "unknown"
	}
}

// ParseAlliance accepts "blue", "red", "unknown" or an empty string, case insensitive.
func ParseAlliance(s string) (Alliance, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "blue":
		return Blue, nil
	case "red":
		return Red, nil
	case "", "unknown":
		return Unknown, nil
	default:
		return Unknown, fmt.Errorf("unknown alliance %q, must be one of blue, red, unknown", s)
	}
}
