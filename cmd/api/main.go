package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/eltffn/dane-table-app/internal/app"
	"github.com/eltffn/dane-table-app/internal/config"
	"github.com/eltffn/dane-table-app/internal/history"
	"github.com/eltffn/dane-table-app/internal/livesync"
	"github.com/eltffn/dane-table-app/internal/store"
)

func main() {
	cfg := config.Load()

	zapCfg := zap.NewProductionConfig()
	if cfg.Debug {
		zapCfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	logger, err := zapCfg.Build()
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dataStore := store.New(cfg.DataDir, cfg.DefaultFile, logger)
	if err := dataStore.EnsureFiles(); err != nil {
		// Startup continues; routes degrade to empty documents until the
		// storage directory becomes writable.
		logger.Warn("storage initialization failed", zap.Error(err))
	}

	var hist *history.Service
	if strings.TrimSpace(cfg.HistoryDir) != "" {
		hist, err = history.New(cfg.HistoryDir)
		if err != nil {
			logger.Fatal("history init failed", zap.Error(err))
		}
		logger.Info("write history enabled", zap.String("dir", cfg.HistoryDir))
	}

	var fanout *livesync.RedisFanout
	if strings.TrimSpace(cfg.RedisURL) != "" {
		fanout, err = livesync.NewRedisFanout(cfg.RedisURL, logger)
		if err != nil {
			logger.Fatal("redis connection failed", zap.Error(err))
		}
		defer fanout.Close()
		logger.Info("redis fanout enabled")
	}

	hub := livesync.NewHub(dataStore, fanoutOrNil(fanout), logger)
	go hub.Run(ctx)
	if fanout != nil {
		go fanout.Run(ctx, hub.Broadcast)
	}

	watcher := livesync.NewWatcher(dataStore, logger)
	if err := watcher.Start(ctx); err != nil {
		logger.Warn("file watcher unavailable", zap.Error(err))
	}

	service := app.New(cfg, dataStore, hist, logger)
	httpServer := app.NewHTTPServer(service, hub, cfg.CORSOrigin, logger)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// No write timeout: websocket connections at /ws are long-lived.
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		logger.Info("listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", zap.Error(err))
	}
}

// fanoutOrNil avoids handing the hub a typed nil behind its interface.
func fanoutOrNil(fanout *livesync.RedisFanout) livesync.Publisher {
	if fanout == nil {
		return nil
	}
	return fanout
}
