// Package jobs は文字起こしジョブの非同期実行（受付・キュー・ワーカー・通知・状態参照）を提供します。
package jobs

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	kitlog "github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/yourusername/session-scribe/internal/pipeline"
)

// Config は Manager の設定です。
type Config struct {
	Workers       int
	JobTimeout    time.Duration
	Retention     time.Duration
	SweepInterval time.Duration
	Defaults      pipeline.Options // リクエストで指定がない場合の文字起こしオプション
}

// Manager はジョブの投入と状態管理を担います。
type Manager struct {
	cfg        Config
	store      *Store
	registry   *Registry
	queue      *Queue
	dispatcher *Dispatcher
	pool       *Pool
	metrics    *Metrics
	logger     kitlog.Logger

	validateAudio    func(path string) error
	validateMetadata func(path string) error

	mu          sync.Mutex
	stopSweeper context.CancelFunc
	sweeperDone chan struct{}
	closed      bool
}

// SubmitRequest は Submit の入力です。空の項目は Config.Defaults で補います。
type SubmitRequest struct {
	AudioPath    string
	MetadataPath string
	Model        string
	Language     string
	Diarization  *bool
}

// SubmitResult は Submit の結果です。
type SubmitResult struct {
	JobID   string `json:"jobId"`
	Created bool   `json:"created"`
	Status  Status `json:"status"`
}

// NewManager は Manager を初期化します。
func NewManager(cfg Config, runner pipeline.Runner, metrics *Metrics, logger kitlog.Logger) (*Manager, error) {
	if runner == nil {
		return nil, errors.New("runner is nil")
	}
	if cfg.Workers <= 0 {
		return nil, errors.New("workers must be positive")
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 10 * time.Minute
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	if logger == nil {
		logger = kitlog.NewNopLogger()
	}

	registry := NewRegistry()
	store := NewStore()
	queue := NewQueue(registry)
	dispatcher := NewDispatcher(registry)
	pool := NewPool(PoolConfig{Workers: cfg.Workers, Timeout: cfg.JobTimeout}, queue, store, dispatcher, runner, metrics, kitlog.With(logger, "component", "worker"))

	return &Manager{
		cfg:              cfg,
		store:            store,
		registry:         registry,
		queue:            queue,
		dispatcher:       dispatcher,
		pool:             pool,
		metrics:          metrics,
		logger:           logger,
		validateAudio:    validateAudioFile,
		validateMetadata: validateMetadataFile,
	}, nil
}

// Start はワーカーと期限切れジョブの掃除をバックグラウンドで起動します。
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopSweeper != nil {
		return
	}

	m.pool.Start(ctx)

	sweepCtx, cancel := context.WithCancel(ctx)
	m.stopSweeper = cancel
	m.sweeperDone = make(chan struct{})
	go m.sweepLoop(sweepCtx, m.sweeperDone)
}

// Shutdown はキューを閉じ、ワーカーの停止を ctx の期限まで待ちます。
// Shutdown 以降の Submit は Unavailable を返します。
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	stop, done := m.stopSweeper, m.sweeperDone
	m.closed = true
	m.mu.Unlock()

	if stop != nil {
		stop()
		<-done
	}
	m.queue.Close()
	return m.pool.Stop(ctx)
}

// Submit はジョブを受け付けます。同じ入力の未終了ジョブがあれば、そのIDを返します。
func (m *Manager) Submit(ctx context.Context, guildID string, req SubmitRequest) (SubmitResult, error) {
	if err := ctx.Err(); err != nil {
		return SubmitResult{}, err
	}
	if m.isClosed() {
		return SubmitResult{}, newError(CodeUnavailable, "service is shutting down; try again later", nil)
	}
	guildID = strings.TrimSpace(guildID)
	if guildID == "" {
		return SubmitResult{}, newError(CodeInvalidInput, "guildID is required", nil)
	}
	audioPath := strings.TrimSpace(req.AudioPath)
	if audioPath == "" {
		return SubmitResult{}, newError(CodeInvalidInput, "audio path is required", nil)
	}
	if err := m.validateAudio(audioPath); err != nil {
		return SubmitResult{}, err
	}
	metadataPath := strings.TrimSpace(req.MetadataPath)
	if metadataPath != "" {
		if err := m.validateMetadata(metadataPath); err != nil {
			return SubmitResult{}, err
		}
	}

	opts := m.options(req)
	payload := Payload{
		AudioPath:    audioPath,
		MetadataPath: metadataPath,
		Options:      opts,
	}
	job, created, err := m.store.CreateOrGet(guildID, InputKey(audioPath, opts), payload)
	if err != nil {
		return SubmitResult{}, err
	}
	m.metrics.submitted(created)

	logger := kitlog.With(m.logger, "guild_id", guildID, "job_id", job.ID)
	if created {
		if !m.queue.Enqueue(guildID, job.ID) {
			m.abandon(logger, job)
			return SubmitResult{}, newError(CodeUnavailable, "service is shutting down; try again later", nil)
		}
		m.metrics.setQueueDepth(m.queue.Len())
		level.Info(logger).Log("msg", "job queued", "audio", audioPath, "model", opts.Model, "diarization", opts.Diarization)
	} else {
		level.Debug(logger).Log("msg", "duplicate submission", "status", job.Status)
	}

	return SubmitResult{JobID: job.ID, Created: created, Status: job.Status}, nil
}

// abandon はキューに積めなかったジョブを取り消し、重複判定から外します。
func (m *Manager) abandon(logger kitlog.Logger, job Job) {
	final, err := m.store.Transition(job.ID, StatusQueued, StatusCancelled, Fields{
		Error: &ErrorInfo{Kind: KindCancelled, Message: "service is shutting down"},
	})
	if err != nil {
		level.Error(logger).Log("msg", "cancel unqueued job", "err", err)
		return
	}
	m.metrics.finished(final)
	m.dispatcher.Notify(final)
	level.Warn(logger).Log("msg", "job rejected during shutdown")
}

func (m *Manager) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *Manager) options(req SubmitRequest) pipeline.Options {
	opts := m.cfg.Defaults
	if model := strings.TrimSpace(req.Model); model != "" {
		opts.Model = model
	}
	if lang := strings.TrimSpace(req.Language); lang != "" {
		opts.Language = lang
	}
	if req.Diarization != nil {
		opts.Diarization = *req.Diarization
	}
	return opts
}

// Status はジョブの最新状態を返します。ワーカーを待つことはありません。
func (m *Manager) Status(guildID, jobID string) (Job, error) {
	return m.store.Get(guildID, jobID)
}

// List はギルドのジョブを新しい順に返します。
func (m *Manager) List(guildID string) []Job {
	return m.store.List(guildID)
}

// Cancel は queued のジョブを取り消します。実行中・終了済みのジョブは Conflict です。
func (m *Manager) Cancel(guildID, jobID string) (Job, error) {
	job, err := m.store.Get(guildID, jobID)
	if err != nil {
		return Job{}, err
	}
	switch {
	case job.Status == StatusRunning:
		return job, newError(CodeConflict, "job "+jobID+" is running and cannot be cancelled; wait for it to finish", nil)
	case job.Status.Terminal():
		return job, newError(CodeConflict, "job "+jobID+" has already finished", nil)
	}

	final, err := m.store.Transition(jobID, StatusQueued, StatusCancelled, Fields{
		Error: &ErrorInfo{Kind: KindCancelled, Message: "cancelled by request"},
	})
	if err != nil {
		return final, err
	}
	m.queue.Remove(guildID, jobID)
	m.metrics.setQueueDepth(m.queue.Len())
	m.metrics.finished(final)
	m.dispatcher.Notify(final)

	level.Info(m.logger).Log("msg", "job cancelled", "guild_id", guildID, "job_id", jobID)
	return final, nil
}

// Subscribe はジョブ完了時の通知先を登録します。
func (m *Manager) Subscribe(guildID, jobID string, target Target) error {
	if _, err := m.store.Get(guildID, jobID); err != nil {
		return err
	}
	return m.dispatcher.Subscribe(guildID, target, func() (Job, error) {
		return m.store.Get(guildID, jobID)
	})
}

// Drain は未送信の通知を取り出します。コマンド処理側の単一の文脈からのみ呼び出してください。
func (m *Manager) Drain() Outbox {
	return m.dispatcher.Drain()
}

// Ready は通知が積まれたことを知らせるチャネルを返します。
func (m *Manager) Ready() <-chan struct{} {
	return m.dispatcher.Ready()
}

// Sweep は保持期間を過ぎた終了済みジョブを削除し、削除件数を返します。
func (m *Manager) Sweep() int {
	evicted := m.store.EvictTerminalOlderThan(m.cfg.Retention)
	for _, job := range evicted {
		m.dispatcher.Forget(job.GuildID, job.ID)
	}
	if len(evicted) > 0 {
		level.Debug(m.logger).Log("msg", "evicted finished jobs", "count", len(evicted), "remaining", m.store.Len())
	}
	return len(evicted)
}

func (m *Manager) sweepLoop(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}
