package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"layza/internal/chat"
	"layza/internal/config"
	"layza/internal/ratelimit"
	"layza/internal/server"
	"layza/internal/store"
	"layza/internal/tutorclient"
	"layza/internal/util"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := util.InitLogger(cfg.LogLevel)

	snapshotter, err := newSnapshotter(cfg)
	if err != nil {
		logger.Error("failed to init snapshot backend", "backend", cfg.SnapshotBackend, "err", err)
		os.Exit(1)
	}
	chatStore, err := store.New(snapshotter)
	if err != nil {
		logger.Error("failed to load chat state", "err", err)
		os.Exit(1)
	}

	api := tutorclient.NewClient(cfg.TutorAPIURL)

	var chatOptions []chat.Option
	if cfg.MaxImageBytes > 0 {
		chatOptions = append(chatOptions, chat.WithMaxImageBytes(cfg.MaxImageBytes))
	}
	if cfg.FeedbackThreshold > 0 {
		chatOptions = append(chatOptions, chat.WithFeedbackThreshold(cfg.FeedbackThreshold))
	}
	chatService := chat.NewService(chatStore, api, chatOptions...)

	var chatLimiter *ratelimit.FixedWindowLimiter
	if cfg.ChatRateLimitPerMinute > 0 {
		if cfg.RedisAddr != "" {
			chatLimiter, err = ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, "layza:chat:ratelimit", cfg.ChatRateLimitPerMinute, time.Minute)
		} else {
			chatLimiter, err = ratelimit.NewFixedWindowLimiter(cfg.ChatRateLimitPerMinute, time.Minute)
		}
		if err != nil {
			logger.Error("failed to init rate limiter", "err", err)
			os.Exit(1)
		}
	}

	httpServer := server.New(server.Config{
		Store:          chatStore,
		Chat:           chatService,
		API:            api,
		RecordingLimit: time.Duration(cfg.RecordingLimitSeconds) * time.Second,
		ChatLimiter:    chatLimiter,
	})

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("layza server listening", "addr", addr, "tutor_api", cfg.TutorAPIURL, "snapshot_backend", cfg.SnapshotBackend)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}
}

func newSnapshotter(cfg config.FileConfig) (store.Snapshotter, error) {
	switch cfg.SnapshotBackend {
	case config.SnapshotFile:
		return store.NewFileSnapshotter(cfg.SnapshotPath)
	case config.SnapshotRedis:
		return store.NewRedisSnapshotter(cfg.RedisAddr, cfg.RedisPassword, cfg.SnapshotKey), nil
	case config.SnapshotPostgres:
		return store.NewGormSnapshotter(cfg.DatabaseURL, cfg.SnapshotKey)
	default:
		return nil, fmt.Errorf("unknown snapshot backend %q", cfg.SnapshotBackend)
	}
}
