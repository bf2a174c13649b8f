// Package report は完了したトランスクリプトをレポート生成ワーカーへ asynq で引き渡します。
package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/yourusername/session-scribe/internal/jobs"
)

// TaskTypeRender はレポート生成タスクの種別です。
const TaskTypeRender = "report:render"

// Payload は report:render タスクのペイロードです。
type Payload struct {
	JobID          string `json:"jobId"`
	GuildID        string `json:"guildId"`
	TranscriptPath string `json:"transcriptPath"`
}

type enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Scheduler は completed のジョブごとにタスクを1件投入します。
type Scheduler struct {
	client   enqueuer
	queue    string
	maxRetry int
}

// NewScheduler は Scheduler を作成します。
func NewScheduler(client enqueuer, queue string) *Scheduler {
	if queue == "" {
		queue = "reports"
	}
	return &Scheduler{client: client, queue: queue, maxRetry: 3}
}

// NewClient は Redis URL から asynq クライアントを作成します。
func NewClient(redisURL string) (*asynq.Client, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	return asynq.NewClient(opt), nil
}

// NewTask は report:render タスクを作成します。
func NewTask(job jobs.Job) (*asynq.Task, error) {
	body, err := json.Marshal(Payload{
		JobID:          job.ID,
		GuildID:        job.GuildID,
		TranscriptPath: job.ResultPath,
	})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeRender, body), nil
}

// OnCompleted は completed のジョブをキューへ投入します。それ以外は何もしません。
// ジョブIDをタスクIDに使うため、同じジョブを二度投入しても1件になります。
func (s *Scheduler) OnCompleted(ctx context.Context, job jobs.Job) error {
	if job.Status != jobs.StatusCompleted {
		return nil
	}
	task, err := NewTask(job)
	if err != nil {
		return err
	}
	_, err = s.client.EnqueueContext(ctx, task,
		asynq.Queue(s.queue),
		asynq.TaskID(job.ID),
		asynq.MaxRetry(s.maxRetry),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to enqueue report for job %s: %w", job.ID, err)
	}
	return nil
}
