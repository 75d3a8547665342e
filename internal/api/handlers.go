package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/Vexusssek/rysowanienakolokwium/internal/db"
	"github.com/Vexusssek/rysowanienakolokwium/internal/render"
	"github.com/Vexusssek/rysowanienakolokwium/internal/scene"
	"github.com/Vexusssek/rysowanienakolokwium/internal/viewer"
	"github.com/Vexusssek/rysowanienakolokwium/internal/viewport"
)

// SessionCounter reports on the line-protocol listener
type SessionCounter interface {
	ActiveSessions() int64
	Accepted() int64
}

type API struct {
	scene    *scene.Scene
	viewport *viewport.Viewport
	hub      *viewer.Hub
	sessions SessionCounter
	database *db.Database
	logger   *zap.Logger
	started  time.Time
}

type Deps struct {
	Scene    *scene.Scene
	Viewport *viewport.Viewport
	Hub      *viewer.Hub
	Sessions SessionCounter
	Database *db.Database
	Logger   *zap.Logger
}

func New(deps Deps) *API {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &API{
		scene:    deps.Scene,
		viewport: deps.Viewport,
		hub:      deps.Hub,
		sessions: deps.Sessions,
		database: deps.Database,
		logger:   logger,
		started:  time.Now(),
	}
}

// Routes builds the HTTP surface: JSON API plus the /ws live viewer
func (a *API) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(requestLogger(a.logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", a.HealthHandler)
	if a.hub != nil {
		r.Get("/ws", a.hub.ServeWs)
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/stats", a.StatsHandler)

		r.Get("/scene", a.SceneHandler)
		r.Get("/scene.pdf", a.ScenePDFHandler)

		r.Get("/viewport", a.ViewportHandler)
		r.Post("/viewport/pan", a.PanHandler)

		r.Get("/sessions", a.ListSessionsHandler)
		r.Get("/sessions/{id}", a.GetSessionHandler)
	})

	return r
}

func requestLogger(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Debug("HTTP request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", chimiddleware.GetReqID(r.Context())),
			)
		})
	}
}

func (a *API) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		a.logger.Warn("Error encoding JSON response", zap.Error(err))
	}
}

func (a *API) errorResponse(w http.ResponseWriter, status int, message string) {
	a.jsonResponse(w, status, map[string]string{"error": message})
}

func (a *API) HealthHandler(w http.ResponseWriter, r *http.Request) {
	a.jsonResponse(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) StatsHandler(w http.ResponseWriter, r *http.Request) {
	stats := map[string]any{
		"segments":       a.scene.Len(),
		"uptime_seconds": int64(time.Since(a.started).Seconds()),
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	}

	if a.sessions != nil {
		stats["active_sessions"] = a.sessions.ActiveSessions()
		stats["accepted_connections"] = a.sessions.Accepted()
	}
	if a.hub != nil {
		stats["viewers"] = a.hub.ClientCount()
	}
	if a.database != nil {
		dbStats, err := a.database.GetStats()
		if err == nil {
			stats["ledger"] = dbStats
		} else {
			a.logger.Warn("Failed to read ledger stats", zap.Error(err))
		}
	}

	a.jsonResponse(w, http.StatusOK, stats)
}

// Scene handlers

func (a *API) SceneHandler(w http.ResponseWriter, r *http.Request) {
	a.jsonResponse(w, http.StatusOK, viewer.BuildFrame(a.scene, a.viewport))
}

func (a *API) ScenePDFHandler(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := render.WritePDF(&buf, a.scene.Snapshot(), a.viewport.Offset(), render.Options{}); err != nil {
		a.logger.Error("Failed to render scene", zap.Error(err))
		a.errorResponse(w, http.StatusInternalServerError, "Failed to render scene")
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `inline; filename="scene.pdf"`)
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	buf.WriteTo(w)
}

// Viewport handlers

type PanRequest struct {
	Direction string `json:"direction"`
}

func (a *API) ViewportHandler(w http.ResponseWriter, r *http.Request) {
	a.jsonResponse(w, http.StatusOK, a.viewport.Offset())
}

func (a *API) PanHandler(w http.ResponseWriter, r *http.Request) {
	var req PanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.errorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	dir, err := viewport.ParseDirection(req.Direction)
	if err != nil {
		a.errorResponse(w, http.StatusBadRequest, "Direction must be up, down, left or right")
		return
	}

	offset, err := a.viewport.Pan(dir)
	if err != nil {
		a.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	a.jsonResponse(w, http.StatusOK, offset)
}

// Session ledger handlers

func (a *API) ListSessionsHandler(w http.ResponseWriter, r *http.Request) {
	if a.database == nil {
		a.errorResponse(w, http.StatusServiceUnavailable, "Session ledger disabled")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if offset < 0 {
		offset = 0
	}

	sessions, err := a.database.ListSessions(limit, offset)
	if err != nil {
		a.logger.Error("Failed to list sessions", zap.Error(err))
		a.errorResponse(w, http.StatusInternalServerError, "Failed to list sessions")
		return
	}

	a.jsonResponse(w, http.StatusOK, map[string]any{
		"sessions": sessions,
		"limit":    limit,
		"offset":   offset,
	})
}

func (a *API) GetSessionHandler(w http.ResponseWriter, r *http.Request) {
	if a.database == nil {
		a.errorResponse(w, http.StatusServiceUnavailable, "Session ledger disabled")
		return
	}

	id := chi.URLParam(r, "id")

	session, err := a.database.GetSession(id)
	if errors.Is(err, db.ErrNotFound) {
		a.errorResponse(w, http.StatusNotFound, "Session not found")
		return
	}
	if err != nil {
		a.logger.Error("Failed to get session", zap.String("session", id), zap.Error(err))
		a.errorResponse(w, http.StatusInternalServerError, "Failed to get session")
		return
	}

	a.jsonResponse(w, http.StatusOK, session)
}
