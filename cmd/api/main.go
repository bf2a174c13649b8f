// Package main はAPIサーバーのエントリーポイントです。
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	kitlog "github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/yourusername/session-scribe/internal/auth"
	"github.com/yourusername/session-scribe/internal/bot"
	"github.com/yourusername/session-scribe/internal/config"
	"github.com/yourusername/session-scribe/internal/jobs"
	"github.com/yourusername/session-scribe/internal/storage"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := kitlog.NewLogfmtLogger(kitlog.NewSyncWriter(os.Stderr))
	logger = kitlog.With(logger, "ts", kitlog.DefaultTimestampUTC, "caller", kitlog.DefaultCaller)

	// 設定の読み込み
	cfg, err := config.Load()
	if err != nil {
		level.Error(logger).Log("msg", "failed to load config", "err", err)
		os.Exit(1)
	}
	logger = level.NewFilter(logger, levelOption(cfg.LogLevel))

	if err := run(cfg, logger); err != nil {
		level.Error(logger).Log("msg", "server stopped with error", "err", err)
		os.Exit(1)
	}
}

func levelOption(name string) level.Option {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return level.AllowDebug()
	case "warn", "warning":
		return level.AllowWarn()
	case "error":
		return level.AllowError()
	default:
		return level.AllowInfo()
	}
}

func run(cfg *config.Config, logger kitlog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	manager, err := setupJobs(cfg, reg, logger)
	if err != nil {
		return err
	}
	hooks, closeHooks, err := setupHooks(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeHooks()
	loop := bot.NewLoop(manager, setupMessenger(cfg, logger), cfg.NotifyPollInterval(), kitlog.With(logger, "component", "notifier"), hooks...)

	// Ginのモードを設定
	gin.SetMode(cfg.GinMode)
	router := newRouter(cfg, manager, reg, logger)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	manager.Start(gctx)
	g.Go(func() error {
		return loop.Run(gctx)
	})
	g.Go(func() error {
		level.Info(logger).Log("msg", "starting API server", "addr", srv.Addr, "mode", cfg.GinMode, "workers", cfg.Workers)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		level.Info(logger).Log("msg", "shutting down")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			level.Warn(logger).Log("msg", "http shutdown", "err", err)
		}
		return manager.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func newRouter(cfg *config.Config, manager *jobs.Manager, reg *prometheus.Registry, logger kitlog.Logger) *gin.Engine {
	// Ginルーターの初期化（デフォルトミドルウェア: Logger, Recovery）
	router := gin.Default()

	// CORSミドルウェアの設定（カンマ区切りの文字列を配列に変換）
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = strings.Split(cfg.CORSAllowedOrigins, ",")
	corsConfig.AllowHeaders = []string{
		"Origin",
		"Content-Type",
		"Accept",
		"Authorization",
		"X-API-Token",
	}
	router.Use(cors.New(corsConfig))

	setupRoutes(router, cfg, manager, reg, logger)
	return router
}

// handleHealth はヘルスチェックエンドポイントのハンドラーです。
func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "session-scribe-api",
		"version": "0.1.0",
	})
}

// setupRoutes は API グループと認証周りの配線を行います。
func setupRoutes(router *gin.Engine, cfg *config.Config, manager *jobs.Manager, reg *prometheus.Registry, logger kitlog.Logger) {
	// 誰でも叩けるヘルスチェックとメトリクス
	router.GET("/health", handleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})))

	authManager := auth.NewManager(cfg.APITokenHash)
	if !authManager.Enabled() {
		level.Warn(logger).Log("msg", "API_TOKEN_HASH is empty; API is not protected")
	}

	api := router.Group("/api")
	api.Use(authManager.RequireToken())
	{
		sessions := storage.NewLocal(cfg.SessionsDir)
		level.Info(logger).Log("msg", "serving guild sessions", "root", sessions.Root())
		handler := bot.NewHandler(manager, sessions, kitlog.With(logger, "component", "http"))
		handler.Register(api)
	}
}
