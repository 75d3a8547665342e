package viewport

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// Step is how far one pan event moves the view
const Step = 10.0

var ErrUnknownDirection = errors.New("unknown pan direction")

type Direction string

const (
	Up    Direction = "up"
	Down  Direction = "down"
	Left  Direction = "left"
	Right Direction = "right"
)

// ParseDirection accepts up/down/left/right in any case
func ParseDirection(s string) (Direction, error) {
	d := Direction(strings.ToLower(strings.TrimSpace(s)))
	switch d {
	case Up, Down, Left, Right:
		return d, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownDirection, s)
}

// Offset is the translation applied to every segment at render time
type Offset struct {
	DX float64 `json:"dx"`
	DY float64 `json:"dy"`
}

func (o Offset) String() string {
	return fmt.Sprintf("Offset: (%g, %g)", o.DX, o.DY)
}

type Viewport struct {
	offset   Offset
	onChange func(Offset)
	mu       sync.Mutex
}

func New() *Viewport {
	return &Viewport{}
}

// OnChange sets a hook called after every pan with the new offset
func (v *Viewport) OnChange(fn func(Offset)) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.onChange = fn
}

// Pan moves the view one step. Panning up shows content further up,
// so the scene shifts down on screen.
func (v *Viewport) Pan(d Direction) (Offset, error) {
	v.mu.Lock()
	switch d {
	case Up:
		v.offset.DY += Step
	case Down:
		v.offset.DY -= Step
	case Left:
		v.offset.DX += Step
	case Right:
		v.offset.DX -= Step
	default:
		v.mu.Unlock()
		return Offset{}, fmt.Errorf("%w: %q", ErrUnknownDirection, d)
	}
	offset := v.offset
	fn := v.onChange
	v.mu.Unlock()

	if fn != nil {
		fn(offset)
	}
	return offset, nil
}

func (v *Viewport) Offset() Offset {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.offset
}
