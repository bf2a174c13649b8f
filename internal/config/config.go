// Package config は環境変数から設定を読み込み、アプリケーション全体で使用する設定を提供します。
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config はアプリケーションの設定を保持する構造体です。
type Config struct {
	// サーバー設定
	Port               string // APIサーバーのポート番号
	GinMode            string // Ginの実行モード (debug, release, test)
	CORSAllowedOrigins string // CORS許可オリジン（カンマ区切り）
	APITokenHash       string // ボット連携用トークンのbcryptハッシュ
	LogLevel           string // ログレベル (debug, info, warn, error)

	// 録音セッション
	SessionsDir string // セッション音声の保存ルート（<dir>/<guildId>/...）

	// ジョブ/ワーカー設定
	Workers             int // 同時に実行する文字起こしジョブ数
	JobTimeoutMinutes   int // 1ジョブあたりの実行時間上限（分）
	JobRetentionMinutes int // 終了済みジョブを保持する時間（分）
	JobSweepSeconds     int // 期限切れジョブを掃除する間隔（秒）

	// 文字起こし設定
	TranscriptionModel string // WhisperX モデル名
	Language           string // 既定の言語コード（空なら自動判定）
	EnableDiarization  bool   // 話者分離を行うか
	HFToken            string // 話者分離モデル用 HuggingFace トークン
	MinSpeakers        int
	MaxSpeakers        int
	WhisperXPath       string // whisperx 実行ファイルのパス

	// 通知設定
	NotifyWebhookURL string // 完了通知を送る Webhook URL（空ならログ出力のみ）
	NotifyPollMillis int    // 通知キューを確認する間隔（ミリ秒）

	// 外部連携（任意）
	QueueRedisURL       string // 完了イベント配信・レポートキュー用Redis接続URL（空なら無効）
	EventsChannelPrefix string // Redis Pub/Sub のチャンネル接頭辞
	ReportQueue         string // レポート生成タスクを投入する Asynq キュー名
}

// Load は環境変数から設定を読み込みます。
// .env.local ファイルが存在する場合はそこから読み込みます。
func Load() (*Config, error) {
	// .env.local ファイルを読み込む（存在しない場合はスキップ）
	loadEnvFile()

	config := &Config{
		// サーバー設定
		Port:               getEnv("PORT", "8080"),
		GinMode:            getEnv("GIN_MODE", "debug"),
		CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173"),
		APITokenHash:       getEnv("API_TOKEN_HASH", ""),
		LogLevel:           getEnv("LOG_LEVEL", "info"),

		// 録音セッション
		SessionsDir: getEnv("SESSIONS_DIR", "Sessions"),

		// ジョブ/ワーカー設定
		Workers:             getEnvAsInt("TRANSCRIBE_WORKERS", 4),
		JobTimeoutMinutes:   getEnvAsInt("JOB_TIMEOUT_MINUTES", 30),
		JobRetentionMinutes: getEnvAsInt("JOB_RETENTION_MINUTES", 60),
		JobSweepSeconds:     getEnvAsInt("JOB_SWEEP_SECONDS", 60),

		// 文字起こし設定
		TranscriptionModel: getEnv("TRANSCRIPTION_MODEL", "large-v3"),
		Language:           getEnv("TRANSCRIPTION_LANGUAGE", ""),
		EnableDiarization:  getEnvAsBool("TRANSCRIPTION_DIARIZATION", false),
		HFToken:            getEnv("HF_TOKEN", ""),
		MinSpeakers:        getEnvAsInt("TRANSCRIPTION_MIN_SPEAKERS", 1),
		MaxSpeakers:        getEnvAsInt("TRANSCRIPTION_MAX_SPEAKERS", 10),
		WhisperXPath:       getEnv("WHISPERX_PATH", "whisperx"),

		// 通知設定
		NotifyWebhookURL: getEnv("NOTIFY_WEBHOOK_URL", ""),
		NotifyPollMillis: getEnvAsInt("NOTIFY_POLL_MILLIS", 500),

		// 外部連携
		QueueRedisURL:       getEnv("QUEUE_REDIS_URL", ""),
		EventsChannelPrefix: getEnv("EVENTS_CHANNEL_PREFIX", "transcription:events"),
		ReportQueue:         getEnv("REPORT_QUEUE", "reports"),
	}

	// 必須設定のバリデーション
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func loadEnvFile() {
	if err := godotenv.Load(".env.local"); err == nil {
		return
	}

	cwd, err := os.Getwd()
	if err != nil {
		return
	}

	parent := filepath.Dir(cwd)
	if parent == "" || parent == cwd {
		return
	}

	_ = godotenv.Load(filepath.Join(parent, ".env.local"))
}

// Validate は設定の妥当性を検証します。
func (c *Config) Validate() error {
	if c.Workers <= 0 {
		return fmt.Errorf("TRANSCRIBE_WORKERS must be positive, got %d", c.Workers)
	}
	if c.JobTimeoutMinutes <= 0 {
		return fmt.Errorf("JOB_TIMEOUT_MINUTES must be positive, got %d", c.JobTimeoutMinutes)
	}
	if c.MinSpeakers > c.MaxSpeakers {
		return fmt.Errorf("TRANSCRIPTION_MIN_SPEAKERS (%d) exceeds TRANSCRIPTION_MAX_SPEAKERS (%d)", c.MinSpeakers, c.MaxSpeakers)
	}

	// 本番環境では厳格にチェックする
	if c.GinMode == "release" {
		if c.APITokenHash == "" {
			return fmt.Errorf("API_TOKEN_HASH is required in release mode")
		}
		if c.SessionsDir == "" {
			return fmt.Errorf("SESSIONS_DIR is required in release mode")
		}
		if c.EnableDiarization && c.HFToken == "" {
			return fmt.Errorf("HF_TOKEN is required when diarization is enabled in release mode")
		}
	}

	return nil
}

// JobTimeout は1ジョブの実行上限を返します。
func (c *Config) JobTimeout() time.Duration {
	return time.Duration(c.JobTimeoutMinutes) * time.Minute
}

// JobRetention は終了済みジョブの保持期間を返します。0以下なら10分とします。
func (c *Config) JobRetention() time.Duration {
	if c.JobRetentionMinutes <= 0 {
		return 10 * time.Minute
	}
	return time.Duration(c.JobRetentionMinutes) * time.Minute
}

// SweepInterval は掃除間隔を返します。
func (c *Config) SweepInterval() time.Duration {
	if c.JobSweepSeconds <= 0 {
		return time.Minute
	}
	return time.Duration(c.JobSweepSeconds) * time.Second
}

// NotifyPollInterval は通知キューの確認間隔を返します。
func (c *Config) NotifyPollInterval() time.Duration {
	if c.NotifyPollMillis <= 0 {
		return 500 * time.Millisecond
	}
	return time.Duration(c.NotifyPollMillis) * time.Millisecond
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します。
func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvAsInt は環境変数を整数として取得します。
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsBool は環境変数を真偽値として取得します。
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := strings.TrimSpace(os.Getenv(key))
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
