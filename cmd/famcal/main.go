package main

import (
	"context"
	"errors"
	"flag"
	"io/fs"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/dukerupert/famcal/internal/auth"
	"github.com/dukerupert/famcal/internal/config"
	"github.com/dukerupert/famcal/internal/database"
	"github.com/dukerupert/famcal/internal/logging"
	"github.com/dukerupert/famcal/internal/offline"
	"github.com/dukerupert/famcal/internal/recurrence"
	"github.com/dukerupert/famcal/internal/remote"
	"github.com/dukerupert/famcal/internal/server"
	"github.com/dukerupert/famcal/internal/store"
	ws "github.com/dukerupert/famcal/internal/websocket"
)

func main() {
	configPath := flag.String("config", "famcal.yaml", "path to the YAML config file")
	remoteURL := flag.String("remote", "", `remote store base URL, or "memory" for an in-process store`)
	flag.Parse()

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Fatalf("failed to load .env: %v", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if *remoteURL != "" {
		cfg.Remote.URL = *remoteURL
	}

	logger := logging.Setup(cfg.Log.Level, cfg.Log.Format)

	db, err := database.Open(cfg.Database.Path)
	if err != nil {
		logger.Error("failed to open database", "path", cfg.Database.Path, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	var (
		remoteStore offline.RemoteStore
		conn        offline.Connectivity
		session     offline.SessionChecker
	)
	if cfg.Remote.URL == config.MemoryRemote {
		logger.Warn("using in-process remote store, data is lost on exit")
		remoteStore = remote.NewMemoryStore()
		conn = remote.NewSwitch(true)
		session = auth.AlwaysReady
	} else {
		remoteStore = remote.NewClient(remote.Config{
			BaseURL: cfg.Remote.URL,
			Token:   cfg.Remote.Token,
			Timeout: cfg.Remote.Timeout,
		})
		conn = remote.NewProbe(cfg.Remote.URL, 0)
		var secret []byte
		if cfg.Remote.JWTSecret != "" {
			secret = []byte(cfg.Remote.JWTSecret)
		}
		session = auth.NewTokenSession(cfg.Remote.Token, secret)
	}

	hub := ws.NewHub(logger)
	adapter := offline.New(offline.Config{
		Local:   store.NewLocalStore(db),
		Queue:   store.NewQueueStore(db),
		Remote:  remoteStore,
		Conn:    conn,
		Session: session,
		Expander: recurrence.Expander{
			MaxInstances: cfg.Recurrence.MaxInstances,
			WindowMonths: cfg.Recurrence.DefaultWindowMonths,
		},
		Notifier: hub,
		Logger:   logger,
	})

	sched, err := offline.NewScheduler(adapter, cfg.Sync.Schedule, logger)
	if err != nil {
		logger.Error("invalid sync schedule", "schedule", cfg.Sync.Schedule, "error", err)
		os.Exit(1)
	}
	sched.Start()

	srv := server.New(adapter, hub, logger)

	cleanupCtx, stopCleanup := context.WithCancel(context.Background())
	go func() {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				srv.RateLimiter().Cleanup()
			case <-cleanupCtx.Done():
				return
			}
		}
	}()

	httpServer := &http.Server{
		Addr:         cfg.Listen,
		Handler:      srv.Router(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("famcal listening", "addr", cfg.Listen, "remote", cfg.Remote.URL)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	stopCleanup()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	sched.Stop(ctx)
}
