// Package events は終了したジョブを Redis Pub/Sub へ流します。
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/yourusername/session-scribe/internal/jobs"
)

type publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// Event は購読側へ送る JSON です。
type Event struct {
	JobID       string          `json:"jobId"`
	GuildID     string          `json:"guildId"`
	Status      jobs.Status     `json:"status"`
	ResultPath  string          `json:"resultPath,omitempty"`
	Error       *jobs.ErrorInfo `json:"error,omitempty"`
	SubmittedAt time.Time       `json:"submittedAt"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
}

// Publisher はギルドごとのチャンネル <prefix>:<guildID> へイベントを送ります。
type Publisher struct {
	client publisher
	prefix string
}

// NewPublisher は Publisher を作成します。
func NewPublisher(client publisher, prefix string) *Publisher {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = "transcription:events"
	}
	return &Publisher{client: client, prefix: prefix}
}

// Channel はギルドのチャンネル名を返します。
func (p *Publisher) Channel(guildID string) string {
	return p.prefix + ":" + guildID
}

// OnCompleted は終了したジョブを1件送ります。
func (p *Publisher) OnCompleted(ctx context.Context, job jobs.Job) error {
	body, err := json.Marshal(Event{
		JobID:       job.ID,
		GuildID:     job.GuildID,
		Status:      job.Status,
		ResultPath:  job.ResultPath,
		Error:       job.Error,
		SubmittedAt: job.SubmittedAt,
		CompletedAt: job.CompletedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	if err := p.client.Publish(ctx, p.Channel(job.GuildID), body).Err(); err != nil {
		return fmt.Errorf("failed to publish event for job %s: %w", job.ID, err)
	}
	return nil
}

// Connect は Redis URL からクライアントを作成し、疎通を確認します。
func Connect(ctx context.Context, redisURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect redis: %w", err)
	}
	return client, nil
}
