package protocol

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Kind tells what a single protocol line asks the session to do
type Kind byte

const (
	// Line matched neither command shape
	KindIgnored Kind = iota

	// Six hex digits: change the session's drawing color
	KindSetColor

	// Four numbers: append a segment in the session's color
	KindDrawSegment
)

func (k Kind) String() string {
	switch k {
	case KindSetColor:
		return "set_color"
	case KindDrawSegment:
		return "draw_segment"
	default:
		return "ignored"
	}
}

var (
	colorLine   = regexp.MustCompile(`^[0-9A-Fa-f]{6}$`)
	segmentLine = regexp.MustCompile(`^-?\d+\.?\d* -?\d+\.?\d* -?\d+\.?\d* -?\d+\.?\d*$`)
)

// Command is the typed result of parsing one line.
// Color is set only for KindSetColor, Coords only for KindDrawSegment.
type Command struct {
	Kind   Kind
	Color  Color
	Coords [4]float64
}

// Ignored is returned for every line that is not a command
var Ignored = Command{Kind: KindIgnored}

// ParseLine classifies one line of the wire protocol. It never fails:
// anything that is not a color or a segment is Ignored.
func ParseLine(line string) Command {
	if colorLine.MatchString(line) {
		c, err := ParseColor(line)
		if err != nil {
			return Ignored
		}
		return Command{Kind: KindSetColor, Color: c}
	}

	if segmentLine.MatchString(line) {
		var coords [4]float64
		for i, field := range strings.Split(line, " ") {
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				// Unlike plain float parsing, an out of range value does not
				// become ±Inf: the whole line is dropped.
				return Ignored
			}
			coords[i] = v
		}
		return Command{Kind: KindDrawSegment, Coords: coords}
	}

	return Ignored
}

// Color is an RGB triple with no alpha channel
type Color struct {
	R, G, B uint8
}

// Black is the color every session starts with
var Black = Color{}

// ParseColor decodes a 6 hex digit string such as "1A2B3C". A leading '#' is accepted.
func ParseColor(s string) (Color, error) {
	s = strings.TrimPrefix(s, "#")
	if len(s) != 6 {
		return Color{}, fmt.Errorf("color %q: want 6 hex digits", s)
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return Color{}, fmt.Errorf("color %q: %w", s, err)
	}
	return Color{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v)}, nil
}

// Hex renders the color as "#rrggbb"
func (c Color) Hex() string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

func (c Color) String() string {
	return c.Hex()
}

func (c Color) MarshalText() ([]byte, error) {
	return []byte(c.Hex()), nil
}

func (c *Color) UnmarshalText(text []byte) error {
	parsed, err := ParseColor(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
