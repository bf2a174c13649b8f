package main

import (
	"context"
	"fmt"

	kitlog "github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/yourusername/session-scribe/internal/bot"
	"github.com/yourusername/session-scribe/internal/config"
	"github.com/yourusername/session-scribe/internal/events"
	"github.com/yourusername/session-scribe/internal/jobs"
	"github.com/yourusername/session-scribe/internal/pipeline"
	"github.com/yourusername/session-scribe/internal/report"
)

func setupJobs(cfg *config.Config, reg prometheus.Registerer, logger kitlog.Logger) (*jobs.Manager, error) {
	runner := pipeline.NewWhisperX(pipeline.WhisperXConfig{
		Path:    cfg.WhisperXPath,
		HFToken: cfg.HFToken,
	}, kitlog.With(logger, "component", "whisperx"))

	manager, err := jobs.NewManager(jobs.Config{
		Workers:       cfg.Workers,
		JobTimeout:    cfg.JobTimeout(),
		Retention:     cfg.JobRetention(),
		SweepInterval: cfg.SweepInterval(),
		Defaults: pipeline.Options{
			Model:       cfg.TranscriptionModel,
			Language:    cfg.Language,
			Diarization: cfg.EnableDiarization,
			MinSpeakers: cfg.MinSpeakers,
			MaxSpeakers: cfg.MaxSpeakers,
		},
	}, runner, jobs.NewMetrics(reg), kitlog.With(logger, "component", "jobs"))
	if err != nil {
		return nil, fmt.Errorf("failed to set up jobs: %w", err)
	}
	return manager, nil
}

func setupMessenger(cfg *config.Config, logger kitlog.Logger) bot.Messenger {
	if cfg.NotifyWebhookURL == "" {
		return bot.NewLogMessenger(kitlog.With(logger, "component", "notifier"))
	}
	return bot.NewWebhookMessenger(cfg.NotifyWebhookURL, nil)
}

// setupHooks は QUEUE_REDIS_URL が設定されている場合に、完了イベント配信とレポート投入を用意します。
func setupHooks(ctx context.Context, cfg *config.Config, logger kitlog.Logger) ([]bot.CompletionHook, func(), error) {
	if cfg.QueueRedisURL == "" {
		return nil, func() {}, nil
	}

	redisClient, err := events.Connect(ctx, cfg.QueueRedisURL)
	if err != nil {
		return nil, nil, err
	}
	reportClient, err := report.NewClient(cfg.QueueRedisURL)
	if err != nil {
		_ = redisClient.Close()
		return nil, nil, err
	}

	level.Info(logger).Log("msg", "completion hooks enabled", "events_prefix", cfg.EventsChannelPrefix, "report_queue", cfg.ReportQueue)
	hooks := []bot.CompletionHook{
		events.NewPublisher(redisClient, cfg.EventsChannelPrefix),
		report.NewScheduler(reportClient, cfg.ReportQueue),
	}
	closeAll := func() {
		_ = reportClient.Close()
		_ = redisClient.Close()
	}
	return hooks, closeAll, nil
}
