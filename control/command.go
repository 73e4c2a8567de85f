package control

import (
	"bytes"
	"strconv"
)

var (
	cmdMarker   = []byte(`"cmd"`)
	speedMarker = []byte(`"speed"`)
)

// Directive is the mapping instruction carried by a command message.
type Directive int

const (
	// DirectiveNone means the message carried no start, stop or reset.
	DirectiveNone Directive = iota
	// DirectiveStart resumes mapping.
	DirectiveStart
	// DirectiveStop pauses mapping.
	DirectiveStop
	// DirectiveReset clears the map and pose.
	DirectiveReset
)

func (d Directive) String() string {
	switch d {
	case DirectiveStart:
		return "start"
	case DirectiveStop:
		return "stop"
	case DirectiveReset:
		return "reset"
	default:
		return "none"
	}
}

// directives in match priority order; a message naming several only carries the first.
var directives = []struct {
	marker    []byte
	directive Directive
}{
	{[]byte(`"start"`), DirectiveStart},
	{[]byte(`"stop"`), DirectiveStop},
	{[]byte(`"reset"`), DirectiveReset},
}

// Command is a parsed inbound message.
type Command struct {
	Directive Directive
	// HasSpeed is set when the message carried a usable speed; Speed is already clamped.
	HasSpeed bool
	Speed    int
}

// Empty reports whether the command changes nothing.
func (c Command) Empty() bool {
	return c.Directive == DirectiveNone && !c.HasSpeed
}

// ParseCommand extracts a command from a loosely structured text message such as
// {"cmd":"start"} or {"speed":3}. Matching is by substring, not by schema, so unknown fields and
// malformed JSON are tolerated; anything unrecognized yields an empty command.
func ParseCommand(msg []byte) Command {
	var c Command
	if bytes.Contains(msg, cmdMarker) {
		for _, d := range directives {
			if bytes.Contains(msg, d.marker) {
				c.Directive = d.directive
				break
			}
		}
	}
	if idx := bytes.Index(msg, speedMarker); idx >= 0 {
		rest := msg[idx+len(speedMarker):]
		if colon := bytes.IndexByte(rest, ':'); colon >= 0 {
			if speed, ok := parseLeadingInt(rest[colon+1:]); ok {
				c.HasSpeed = true
				c.Speed = ClampSpeed(speed)
			}
		}
	}
	return c
}

// parseLeadingInt reads an optionally signed integer after any leading spaces, stopping at the
// first non digit. Values too large for an int saturate.
func parseLeadingInt(b []byte) (int, bool) {
	i := 0
	for i < len(b) && (b[i] == ' ' || b[i] == '\t') {
		i++
	}
	start := i
	if i < len(b) && (b[i] == '-' || b[i] == '+') {
		i++
	}
	digits := i
	for i < len(b) && b[i] >= '0' && b[i] <= '9' {
		i++
	}
	if i == digits {
		return 0, false
	}
	v, err := strconv.Atoi(string(b[start:i]))
	if err != nil {
		// only a range error is possible here
		if b[start] == '-' {
			return MinSpeed, true
		}
		return MaxSpeed, true
	}
	return v, true
}

// Apply writes the command into the control state. Reset is only requested here; the control
// cycle consumes it.
func (c Command) Apply(s *State) {
	switch c.Directive {
	case DirectiveStart:
		s.SetMappingActive(true)
	case DirectiveStop:
		s.SetMappingActive(false)
	case DirectiveReset:
		s.RequestReset()
	case DirectiveNone:
	}
	if c.HasSpeed {
		s.SetSpeed(c.Speed)
	}
}
