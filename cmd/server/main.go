package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	apihttp "webtorrent/internal/api/http"
	"webtorrent/internal/app"
	"webtorrent/internal/metrics"
	"webtorrent/internal/services/torrent/engine/anacrolix"
	"webtorrent/internal/telemetry"
	"webtorrent/internal/usecase"
)

func main() {
	cfg := app.LoadConfig()
	logger := newLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	metrics.Register(prometheus.DefaultRegisterer)

	shutdownTracer, err := telemetry.Init(context.Background(), "webtorrent")
	if err != nil {
		logger.Warn("otel init failed", slog.String("error", err.Error()))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	logger.Info("configuration loaded",
		slog.String("service", "webtorrent"),
		slog.String("httpAddr", cfg.HTTPAddr),
		slog.String("logLevel", cfg.LogLevel),
		slog.String("logFormat", cfg.LogFormat),
		slog.String("storageMode", cfg.StorageMode),
		slog.Int64("memoryLimitBytes", cfg.MemoryLimitBytes),
		slog.String("dataDir", cfg.TorrentDataDir),
		slog.Int("maxSessions", cfg.MaxSessions),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine, err := anacrolix.New(anacrolix.Config{
		DataDir:          cfg.TorrentDataDir,
		StorageMode:      cfg.StorageMode,
		MemoryLimitBytes: cfg.MemoryLimitBytes,
		MemorySpillDir:   cfg.MemorySpillDir,
		MaxSessions:      cfg.MaxSessions,
		ReadaheadBytes:   cfg.ReadaheadBytes,
		Logger:           logger,
	})
	if err != nil {
		logger.Error("torrent engine init failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	storageSettings := app.NewStorageSettingsManager(
		cfg.TorrentDataDir,
		cfg.StorageMode,
		app.StorageSettings{MaxSessions: cfg.MaxSessions, MemoryLimitBytes: cfg.MemoryLimitBytes},
		engine,
	)

	listStatesUC := usecase.ListTorrentStates{Engine: engine}
	handler := apihttp.NewServer(usecase.CreateTorrent{Engine: engine},
		apihttp.WithLogger(logger),
		apihttp.WithDeleteTorrent(usecase.DeleteTorrent{Engine: engine}),
		apihttp.WithGetTorrentState(usecase.GetTorrentState{Engine: engine}),
		apihttp.WithListTorrentStates(listStatesUC),
		apihttp.WithListFiles(usecase.ListFiles{Engine: engine}),
		apihttp.WithSelectFile(usecase.SelectFile{Engine: engine}),
		apihttp.WithDeselectFile(usecase.DeselectFile{Engine: engine}),
		apihttp.WithStreamFile(usecase.StreamFile{Engine: engine}),
		apihttp.WithStorageSettings(storageSettings),
		apihttp.WithAllowedOrigins(cfg.CORSAllowedOrigins),
		apihttp.WithRateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst),
	)

	go broadcastStates(rootCtx, handler)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Streams stay open for as long as the client plays.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	logger.Info("server started", slog.String("addr", cfg.HTTPAddr))

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	handler.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown error", slog.String("error", err.Error()))
	}
	if err := engine.Close(); err != nil {
		logger.Warn("engine close error", slog.String("error", err.Error()))
	}

	logger.Info("server stopped")
}

// broadcastStates pushes torrent and file progress to WebSocket clients
// until ctx is done.
func broadcastStates(ctx context.Context, handler *apihttp.Server) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			handler.BroadcastCurrentStates(ctx)
		}
	}
}

func newLogger(levelRaw, formatRaw string) *slog.Logger {
	level := parseLogLevel(levelRaw)
	options := &slog.HandlerOptions{Level: level}
	format := strings.ToLower(strings.TrimSpace(formatRaw))
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, options))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, options))
}

func parseLogLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
