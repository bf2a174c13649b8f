package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	kitlog "github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/yourusername/session-scribe/internal/pipeline"
)

// PoolConfig はワーカープールの設定です。
type PoolConfig struct {
	Workers int
	Timeout time.Duration // 0以下なら無制限
}

// Pool は固定数のワーカーでキューのジョブを実行します。
type Pool struct {
	size       int
	timeout    time.Duration
	queue      *Queue
	store      *Store
	dispatcher *Dispatcher
	runner     pipeline.Runner
	metrics    *Metrics
	logger     kitlog.Logger

	wg     sync.WaitGroup
	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewPool は Pool を作成します。Start を呼ぶまでワーカーは動きません。
func NewPool(cfg PoolConfig, queue *Queue, store *Store, dispatcher *Dispatcher, runner pipeline.Runner, metrics *Metrics, logger kitlog.Logger) *Pool {
	size := cfg.Workers
	if size <= 0 {
		size = 1
	}
	if logger == nil {
		logger = kitlog.NewNopLogger()
	}
	return &Pool{
		size:       size,
		timeout:    cfg.Timeout,
		queue:      queue,
		store:      store,
		dispatcher: dispatcher,
		runner:     runner,
		metrics:    metrics,
		logger:     logger,
	}
}

// Start はワーカーをバックグラウンドで起動します。
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}

	ctx, p.cancel = context.WithCancel(ctx)
	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go p.loop(ctx, i+1)
	}
	level.Info(p.logger).Log("msg", "worker pool started", "workers", p.size, "timeout", p.timeout)
}

// Stop はワーカーを停止し、実行中のジョブが戻るのを ctx の期限まで待ちます。
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	cancel := p.cancel
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) loop(ctx context.Context, workerID int) {
	defer p.wg.Done()
	logger := kitlog.With(p.logger, "worker", workerID)

	for {
		task, ok := p.queue.Dequeue(ctx)
		if !ok || ctx.Err() != nil {
			level.Debug(logger).Log("msg", "worker stopped")
			return
		}
		p.metrics.setQueueDepth(p.queue.Len())
		p.process(ctx, logger, task)
	}
}

// process は1ジョブを queued -> running -> 終了状態まで進めます。
func (p *Pool) process(ctx context.Context, logger kitlog.Logger, task Task) {
	logger = kitlog.With(logger, "guild_id", task.GuildID, "job_id", task.JobID)

	job, err := p.store.Transition(task.JobID, StatusQueued, StatusRunning, Fields{})
	if err != nil {
		// キャンセル済みまたは他のワーカーが取得済み
		level.Debug(logger).Log("msg", "skip job", "err", err)
		return
	}

	p.metrics.workerBusy(1)
	defer p.metrics.workerBusy(-1)

	defer func() {
		if r := recover(); r != nil {
			level.Error(logger).Log("msg", "worker panic", "panic", fmt.Sprint(r))
			p.finish(logger, job.ID, StatusFailed, Fields{Error: &ErrorInfo{Kind: KindUnknown, Message: fmt.Sprintf("internal error: %v", r)}})
		}
	}()

	level.Info(logger).Log("msg", "job started", "audio", job.Payload.AudioPath)
	start := time.Now()
	resultPath, runErr := p.invoke(ctx, logger, job)
	elapsed := time.Since(start)
	p.metrics.observePipeline(elapsed)

	if runErr == nil && resultPath == "" {
		runErr = pipeline.NewError(pipeline.KindUnknown, "pipeline returned no transcript path", nil)
	}
	if runErr != nil {
		level.Error(logger).Log("msg", "job failed", "elapsed", elapsed, "err", runErr)
		p.finish(logger, job.ID, StatusFailed, Fields{Error: errorInfo(runErr)})
		return
	}
	level.Info(logger).Log("msg", "job completed", "elapsed", elapsed, "result", resultPath)
	p.finish(logger, job.ID, StatusCompleted, Fields{ResultPath: resultPath})
}

func (p *Pool) finish(logger kitlog.Logger, jobID string, next Status, fields Fields) {
	final, err := p.store.Transition(jobID, StatusRunning, next, fields)
	if err != nil {
		level.Error(logger).Log("msg", "record job result", "status", next, "err", err)
		return
	}
	p.metrics.finished(final)
	p.dispatcher.Notify(final)
}

type outcome struct {
	path string
	err  error
}

// invoke はワーカー自身の文脈でパイプラインを呼び出し、タイムアウトを適用します。
// 期限を過ぎた呼び出しは中断を要求したうえで待たずに見捨てます。
func (p *Pool) invoke(ctx context.Context, logger kitlog.Logger, job Job) (string, error) {
	runCtx, cancel := ctx, context.CancelFunc(func() {})
	if p.timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, p.timeout)
	}
	defer cancel()

	req := pipeline.Request{
		JobID:        job.ID,
		GuildID:      job.GuildID,
		AudioPath:    job.Payload.AudioPath,
		MetadataPath: job.Payload.MetadataPath,
		Options:      job.Payload.Options,
	}

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("pipeline panic: %v", r)}
			}
		}()
		path, err := p.runner.Run(runCtx, req)
		done <- outcome{path: path, err: err}
	}()

	select {
	case out := <-done:
		return out.path, out.err
	case <-runCtx.Done():
	}

	// 期限と完了が同時だった場合は結果を優先する
	select {
	case out := <-done:
		return out.path, out.err
	default:
	}

	p.metrics.pipelineAbandoned()
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		level.Warn(logger).Log("msg", "pipeline call abandoned after timeout", "timeout", p.timeout)
		return "", &timeoutError{after: p.timeout}
	}
	level.Warn(logger).Log("msg", "pipeline call abandoned on shutdown")
	return "", pipeline.NewError(pipeline.KindUnknown, "worker stopped before the pipeline finished", runCtx.Err())
}

type timeoutError struct {
	after time.Duration
}

func (e *timeoutError) Error() string {
	return fmt.Sprintf("pipeline did not finish within %s", e.after)
}

func errorInfo(err error) *ErrorInfo {
	var te *timeoutError
	if errors.As(err, &te) {
		return &ErrorInfo{Kind: KindTimeout, Message: err.Error()}
	}
	return &ErrorInfo{Kind: ErrorKind(pipeline.KindOf(err)), Message: err.Error()}
}
