package main

import (
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/Vexusssek/rysowanienakolokwium/internal/api"
	"github.com/Vexusssek/rysowanienakolokwium/internal/config"
	"github.com/Vexusssek/rysowanienakolokwium/internal/db"
	"github.com/Vexusssek/rysowanienakolokwium/internal/discovery"
	"github.com/Vexusssek/rysowanienakolokwium/internal/logging"
	"github.com/Vexusssek/rysowanienakolokwium/internal/retention"
	"github.com/Vexusssek/rysowanienakolokwium/internal/scene"
	"github.com/Vexusssek/rysowanienakolokwium/internal/server"
	"github.com/Vexusssek/rysowanienakolokwium/internal/session"
	"github.com/Vexusssek/rysowanienakolokwium/internal/viewer"
	"github.com/Vexusssek/rysowanienakolokwium/internal/viewport"
)

func main() {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Debug)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	database, err := db.New(cfg.DBPath)
	if err != nil {
		logger.Fatal("Failed to initialize session ledger", zap.Error(err))
	}
	defer database.Close()

	if n, err := database.CloseDanglingSessions(time.Now()); err != nil {
		logger.Warn("Failed to close dangling sessions", zap.Error(err))
	} else if n > 0 {
		logger.Info("Closed sessions left open by a previous run", zap.Int64("count", n))
	}

	sc := scene.New()
	vp := viewport.New()

	hub := viewer.NewHub(sc, vp, viewer.Config{
		FrameRate:  cfg.FrameRate,
		FrameBurst: cfg.FrameBurst,
		PanRate:    viewer.DefaultConfig().PanRate,
		PanBurst:   viewer.DefaultConfig().PanBurst,
	}, logger.Named("viewer"))
	go hub.Run()

	srv, err := server.Listen(cfg.TCPAddr, sc, server.Options{
		Logger: logger.Named("tcp"),
		SessionOptions: []session.Option{
			session.WithRecorder(database),
			session.WithMaxLineBytes(cfg.MaxLineBytes),
			session.WithIdleTimeout(cfg.IdleTimeout),
		},
	})
	if err != nil {
		logger.Fatal("Failed to start drawing server", zap.Error(err))
	}

	sweeper := retention.New(database, retention.Config{
		Interval: cfg.RetentionInterval,
		MaxAge:   cfg.RetentionMaxAge,
	}, logger.Named("retention"))
	sweeper.Start()

	if cfg.MDNSEnabled {
		port, err := cfg.TCPPort()
		if err != nil {
			logger.Warn("mDNS disabled: cannot determine TCP port", zap.Error(err))
		} else if responder, err := discovery.Advertise(port, discovery.Options{Instance: cfg.MDNSInstance}); err != nil {
			logger.Warn("mDNS disabled", zap.Error(err))
		} else {
			defer responder.Shutdown()
			logger.Info("📡 Advertising over mDNS", zap.String("service", discovery.ServiceType), zap.Int("port", port))
		}
	}

	apiHandler := api.New(api.Deps{
		Scene:    sc,
		Viewport: vp,
		Hub:      hub,
		Sessions: srv,
		Database: database,
		Logger:   logger.Named("http"),
	})

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           apiHandler.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("🌐 HTTP API starting", zap.String("addr", cfg.HTTPAddr))
		logger.Info("Endpoints:")
		logger.Info("  - Viewer:    GET /ws (send up|down|left|right to pan)")
		logger.Info("  - Health:    GET /health")
		logger.Info("  - Stats:     GET /api/stats")
		logger.Info("  - Scene:     GET /api/scene, GET /api/scene.pdf")
		logger.Info("  - Viewport:  GET /api/viewport, POST /api/viewport/pan")
		logger.Info("  - Sessions:  GET /api/sessions, GET /api/sessions/{id}")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed", zap.Error(err))
		}
	}()

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("Shutting down server...")
		srv.Close()
	}()

	if err := srv.Serve(); err != nil && !errors.Is(err, server.ErrServerClosed) {
		logger.Error("Drawing server stopped", zap.Error(err))
	}

	httpServer.Close()
	sweeper.Stop()
	hub.Stop()
}
