package scene

import (
	"sync"

	"github.com/Vexusssek/rysowanienakolokwium/internal/protocol"
)

// Segment is one drawn line. Values are never modified after Append.
type Segment struct {
	X1    float64        `json:"x1"`
	Y1    float64        `json:"y1"`
	X2    float64        `json:"x2"`
	Y2    float64        `json:"y2"`
	Color protocol.Color `json:"color"`
}

// The shared drawing every session appends to
type Scene struct {
	segments []Segment
	mu       sync.RWMutex

	listeners map[uint64]func()
	nextID    uint64
	lmu       sync.RWMutex
}

// Creates an empty scene
func New() *Scene {
	return &Scene{
		segments:  make([]Segment, 0),
		listeners: make(map[uint64]func()),
	}
}

// Appends a segment after everything appended before it, then fires the
// render trigger. Callbacks run outside the scene lock.
func (s *Scene) Append(seg Segment) {
	s.mu.Lock()
	s.segments = append(s.segments, seg)
	s.mu.Unlock()

	s.notify()
}

// Returns a copy of the segments in append order
func (s *Scene) Snapshot() []Segment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	segments := make([]Segment, len(s.segments))
	copy(segments, s.segments)
	return segments
}

func (s *Scene) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.segments)
}

// OnAppend registers a redraw callback invoked after every Append.
// It may be called concurrently from many sessions and must not block.
// The returned func removes the callback.
func (s *Scene) OnAppend(fn func()) (cancel func()) {
	s.lmu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.lmu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.lmu.Lock()
			delete(s.listeners, id)
			s.lmu.Unlock()
		})
	}
}

func (s *Scene) notify() {
	s.lmu.RLock()
	listeners := make([]func(), 0, len(s.listeners))
	for _, fn := range s.listeners {
		listeners = append(listeners, fn)
	}
	s.lmu.RUnlock()

	for _, fn := range listeners {
		fn()
	}
}
