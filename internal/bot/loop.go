package bot

import (
	"context"
	"time"

	kitlog "github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/yourusername/session-scribe/internal/jobs"
)

// Outbox は Loop が取り出す通知の供給元です。
type Outbox interface {
	Drain() jobs.Outbox
	Ready() <-chan struct{}
}

// CompletionHook はジョブが終了するたびに1回呼ばれます。
type CompletionHook interface {
	OnCompleted(ctx context.Context, job jobs.Job) error
}

// Loop はコマンド処理側の単一ゴルーチンで通知を取り出して送信します。
type Loop struct {
	outbox    Outbox
	messenger Messenger
	hooks     []CompletionHook
	interval  time.Duration
	logger    kitlog.Logger
}

// NewLoop は Loop を作成します。interval は Ready を取りこぼした場合の保険の周期です。
func NewLoop(outbox Outbox, messenger Messenger, interval time.Duration, logger kitlog.Logger, hooks ...CompletionHook) *Loop {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	if logger == nil {
		logger = kitlog.NewNopLogger()
	}
	return &Loop{
		outbox:    outbox,
		messenger: messenger,
		hooks:     hooks,
		interval:  interval,
		logger:    logger,
	}
}

// Run は ctx が終わるまで通知を送り続けます。終了前に残りを1度だけ送ります。
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			l.Flush(flushCtx)
			cancel()
			return nil
		case <-l.outbox.Ready():
			l.Flush(ctx)
		case <-ticker.C:
			l.Flush(ctx)
		}
	}
}

// Flush は溜まっている通知をすべて処理し、送信できた件数を返します。
func (l *Loop) Flush(ctx context.Context) int {
	out := l.outbox.Drain()
	if out.Empty() {
		return 0
	}

	sent := 0
	for _, d := range out.Deliveries {
		msg := NewMessage(d)
		if err := l.messenger.Send(ctx, msg); err != nil {
			level.Error(l.logger).Log("msg", "notification failed", "job_id", d.Job.ID, "channel_id", d.Target.ChannelID, "err", err)
			continue
		}
		sent++
	}
	for _, job := range out.Completed {
		for _, hook := range l.hooks {
			if err := hook.OnCompleted(ctx, job); err != nil {
				level.Warn(l.logger).Log("msg", "completion hook failed", "job_id", job.ID, "err", err)
			}
		}
	}
	level.Debug(l.logger).Log("msg", "outbox flushed", "sent", sent, "completed", len(out.Completed))
	return sent
}
