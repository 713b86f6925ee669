// Command taskdeckd is the taskdeck server daemon.
// It serves the board API, streams events to browsers, and drives
// agent sessions through the execution gateway.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"taskdeck/agent"
	"taskdeck/board"
	"taskdeck/config"
	"taskdeck/gateway"
	"taskdeck/internal/version"
	"taskdeck/server"
	"taskdeck/session"
	"taskdeck/stream"
	"taskdeck/task"
)

var (
	configPath = flag.String("config", "taskdeck.yaml", "path to config file")
	webDir     = flag.String("web", "./web", "directory with board UI assets (skipped if missing)")
)

func main() {
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config %s: %v", *configPath, err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.LogLevel),
	}))

	logger.Info("starting taskdeckd",
		"version", version.Version,
		"commit", version.Commit,
	)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Fatalf("Failed to create data dir %s: %v", cfg.DataDir, err)
	}
	store, err := task.NewSQLiteStore(filepath.Join(cfg.DataDir, "taskdeck.db"))
	if err != nil {
		log.Fatalf("Failed to open task store: %v", err)
	}
	defer store.Close() //nolint:errcheck

	roster, err := agent.NewRoster(cfg.Agents)
	if err != nil {
		log.Fatalf("Invalid agent roster: %v", err)
	}

	var gw *gateway.Client
	if cfg.Gateway.Enabled {
		gw = gateway.New(gateway.Config{
			BaseURL: cfg.Gateway.BaseURL,
			Token:   cfg.Gateway.Token,
		})
		logger.Info("gateway enabled", "base_url", cfg.Gateway.BaseURL)
	} else {
		logger.Info("gateway disabled: running as a plain task board")
	}

	hub := stream.NewHub(logger)
	orch := board.New(board.Config{
		Store:     store,
		Roster:    roster,
		Composer:  agent.NewComposer(cfg.Project, roster.Lead().Name),
		Sessions:  session.NewRegistry(),
		Gateway:   gw,
		GatewayOn: cfg.Gateway.Enabled,
		Bus:       hub,
		Logger:    logger,
		HumanName: cfg.Project.HumanName,
	})

	srv := server.New(*cfg, orch, hub, version.Version, logger)
	if gw != nil {
		srv.SetGatewayProber(gw)
	}
	if info, err := os.Stat(*webDir); err == nil && info.IsDir() {
		srv.SetStaticFS(os.DirFS(*webDir))
		logger.Info("serving board UI", "dir", *webDir)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		log.Fatalf("Server failed: %v", err)
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Stop(ctx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	logger.Info("shutdown complete")
}

// loadConfig reads the config file when it exists and otherwise falls
// back to defaults plus environment overrides, so the daemon runs with
// no file at all.
func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config.FromEnv(), nil
	}
	return config.Load(path)
}

func logLevel(name string) slog.Level {
	switch name {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
