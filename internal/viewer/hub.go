package viewer

import (
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Vexusssek/rysowanienakolokwium/internal/ratelimit"
	"github.com/Vexusssek/rysowanienakolokwium/internal/scene"
	"github.com/Vexusssek/rysowanienakolokwium/internal/viewport"
)

// Frame is everything a viewer needs to paint the scene
type Frame struct {
	Offset   viewport.Offset `json:"offset"`
	Count    int             `json:"count"`
	Segments []scene.Segment `json:"segments"`
}

func BuildFrame(sc *scene.Scene, vp *viewport.Viewport) Frame {
	segments := sc.Snapshot()
	return Frame{
		Offset:   vp.Offset(),
		Count:    len(segments),
		Segments: segments,
	}
}

type Config struct {
	// Frames per second pushed to viewers, with bursts
	FrameRate  float64
	FrameBurst int

	// Pan commands per second accepted from one viewer
	PanRate  float64
	PanBurst int
}

func DefaultConfig() Config {
	return Config{
		FrameRate:  30,
		FrameBurst: 5,
		PanRate:    20,
		PanBurst:   10,
	}
}

// Hub pushes frames to connected viewers whenever the scene or the viewport
// changes. Redraw requests are coalesced: many appends between two frames
// produce one frame.
type Hub struct {
	scene    *scene.Scene
	viewport *viewport.Viewport
	config   Config
	logger   *zap.Logger

	// Registered viewers
	clients map[*Client]bool

	// Register requests from viewers
	register chan *Client

	// Unregister requests from viewers
	unregister chan *Client

	// Pending redraw, at most one
	redraw chan struct{}

	limiter *ratelimit.Limiter
	dirty   bool

	cancelTrigger func()
	done          chan struct{}
	stopOnce      sync.Once
	mu            sync.RWMutex
}

// NewHub subscribes to the scene's render trigger and to viewport changes
func NewHub(sc *scene.Scene, vp *viewport.Viewport, config Config, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		scene:      sc,
		viewport:   vp,
		config:     config,
		logger:     logger,
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		redraw:     make(chan struct{}, 1),
		limiter:    ratelimit.NewLimiter(config.FrameRate, config.FrameBurst),
		done:       make(chan struct{}),
	}
	h.cancelTrigger = sc.OnAppend(h.RequestRedraw)
	vp.OnChange(func(viewport.Offset) { h.RequestRedraw() })
	return h
}

// RequestRedraw never blocks; it is called from session goroutines
func (h *Hub) RequestRedraw() {
	select {
	case h.redraw <- struct{}{}:
	default:
	}
}

func (h *Hub) Run() {
	// Armed only while a throttled frame is pending
	retry := time.NewTimer(time.Hour)
	retry.Stop()
	defer retry.Stop()

	for {
		select {
		case <-h.done:
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			// Late joiners get the current picture right away
			data, err := h.encodeFrame()

			h.mu.Lock()
			h.clients[client] = true
			if err == nil {
				h.sendTo(client, data)
			}
			count := len(h.clients)
			h.mu.Unlock()

			h.logger.Info("Viewer joined", zap.String("viewer", client.id), zap.Int("viewers", count))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				h.logger.Info("Viewer left", zap.String("viewer", client.id), zap.Int("viewers", len(h.clients)))
			}
			h.mu.Unlock()

		case <-h.redraw:
			h.dirty = true
			if wait := h.flush(); wait > 0 {
				retry.Reset(wait)
			}

		case <-retry.C:
			if !h.dirty {
				continue
			}
			if wait := h.flush(); wait > 0 {
				retry.Reset(wait)
			}
		}
	}
}

// Stop disconnects every viewer and detaches from the scene
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		h.cancelTrigger()
		close(h.done)
	})
}

// flush pushes a frame if the frame limiter allows it. Otherwise it leaves
// the hub dirty and returns how long to wait before trying again.
func (h *Hub) flush() time.Duration {
	if h.ClientCount() == 0 {
		h.dirty = false
		return 0
	}
	if !h.limiter.Allow() {
		return max(h.limiter.Delay(), time.Millisecond)
	}
	h.dirty = false

	data, err := h.encodeFrame()
	if err != nil {
		h.logger.Error("Failed to encode frame", zap.Error(err))
		return 0
	}

	h.mu.Lock()
	for client := range h.clients {
		h.sendTo(client, data)
	}
	h.mu.Unlock()
	return 0
}

// sendTo drops viewers that cannot keep up. Caller holds h.mu.
func (h *Hub) sendTo(client *Client, data []byte) {
	select {
	case client.send <- data:
	default:
		if _, ok := h.clients[client]; ok {
			delete(h.clients, client)
			close(client.send)
			h.logger.Warn("Dropping slow viewer", zap.String("viewer", client.id))
		}
	}
}

func (h *Hub) encodeFrame() ([]byte, error) {
	return json.Marshal(BuildFrame(h.scene, h.viewport))
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
