// Command nvr runs the recording engine: it loads configuration, opens
// the SQLite side store, starts the discovery agent and the stream
// keeper that reconciles recording contexts against it, and serves the
// block-store read API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/revere-project/revere/internal/api"
	"github.com/revere-project/revere/internal/config"
	"github.com/revere-project/revere/internal/database"
	"github.com/revere-project/revere/internal/discovery"
	"github.com/revere-project/revere/internal/eventbus"
	"github.com/revere-project/revere/internal/logging"
	"github.com/revere-project/revere/internal/recording"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	logBuffer := logging.GetLogBuffer()
	handler := logging.NewStreamHandler(logBuffer, os.Stderr, slog.LevelInfo)
	logger := slog.New(handler)
	slog.SetDefault(logger)

	if err := run(*configPath, logger); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(configPath string, logger *slog.Logger) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	dbCfg := database.DefaultConfig(cfg.System.StoragePath)
	if cfg.System.Database.Path != "" {
		dbCfg.Path = cfg.System.Database.Path
	}
	db, err := database.Open(dbCfg)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	migrator := database.NewMigrator(db)
	if err := migrator.Run(ctx); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	bus, err := eventbus.New(eventbus.DefaultConfig(), logger)
	if err != nil {
		return fmt.Errorf("start event bus: %w", err)
	}
	defer bus.Stop()

	motionStore := recording.NewMotionRepository(db.DB)

	engineCfg := cfg.Storage.Engine
	if engineCfg.TopDir == "" {
		engineCfg.TopDir = cfg.System.StoragePath
	}

	keeper := recording.NewStreamKeeper(recording.KeeperOptions{
		TopDir:        engineCfg.TopDir,
		BlockSize:     engineCfg.BlockSize,
		RetentionDays: cfg.Storage.Retention.DefaultDays,
		Bus:           bus,
		Enabled:       func(id string) bool { return true },
		MotionSink:    motionStore,
	})
	if err := keeper.Start(ctx); err != nil {
		return fmt.Errorf("start stream keeper: %w", err)
	}
	defer keeper.Stop()

	agent := discovery.NewAgent(
		&discovery.ConfigProvider{Cameras: func() []discovery.ConfiguredCamera { return configuredCameras(cfg) }},
		credentialResolver(cfg),
		func(id string) bool { return true },
		bus,
	)
	agent.Start(ctx)
	defer agent.Stop()

	storageHandler := api.NewStorageHandler(keeper.Reader, nil, motionStore, keeper)

	router := setupRouter(storageHandler, logBuffer)

	addr := fmt.Sprintf(":%d", httpPort(cfg))
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("shutting down", "signal", sig.String())
	case err := <-errChan:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
	return nil
}

// configuredCameras translates the static camera list from config into
// the shape the discovery agent's static provider consumes.
func configuredCameras(cfg *config.Config) []discovery.ConfiguredCamera {
	out := make([]discovery.ConfiguredCamera, 0, len(cfg.Cameras))
	for _, c := range cfg.Cameras {
		out = append(out, discovery.ConfiguredCamera{
			ID:      c.ID,
			Name:    c.Name,
			RTSPURL: c.Stream.URL,
			Enabled: c.Enabled,
		})
	}
	return out
}

// credentialResolver looks a camera's RTSP credentials up from its
// static configuration entry.
func credentialResolver(cfg *config.Config) discovery.CredentialResolver {
	return func(id string) (string, string, bool) {
		for _, c := range cfg.Cameras {
			if c.ID == id {
				if c.Stream.Username == "" {
					return "", "", false
				}
				return c.Stream.Username, c.Stream.Password, true
			}
		}
		return "", "", false
	}
}

func httpPort(cfg *config.Config) int {
	if cfg.System.Database.Port != 0 {
		return cfg.System.Database.Port
	}
	return 8080
}

func setupRouter(storageHandler *api.StorageHandler, logBuffer *logging.RingBuffer) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		api.OK(w, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Mount("/storage/cameras", storageHandler.Routes())
		r.Get("/logs/stream", handleLogStream(logBuffer))
	})

	return r
}

// handleLogStream serves a Server-Sent-Events feed of newly logged
// entries, backed by the structured log ring buffer's subscriber fanout.
func handleLogStream(buffer *logging.RingBuffer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			api.InternalError(w, "streaming unsupported")
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")

		ch := buffer.Subscribe()
		defer buffer.Unsubscribe(ch)

		for _, entry := range buffer.GetRecent(50) {
			fmt.Fprintf(w, "data: %s\n\n", logging.LogEntryToJSON(entry))
		}
		flusher.Flush()

		for {
			select {
			case entry := <-ch:
				fmt.Fprintf(w, "data: %s\n\n", logging.LogEntryToJSON(entry))
				flusher.Flush()
			case <-r.Context().Done():
				return
			}
		}
	}
}
