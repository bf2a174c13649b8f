package jobs

import (
	"sync"
)

// Delivery は購読者1件への完了通知です。
type Delivery struct {
	Target Target
	Job    Job
}

// Outbox は Drain でまとめて取り出す未送信の通知です。
type Outbox struct {
	Deliveries []Delivery
	Completed  []Job // 購読者の有無に関係なく、終了したジョブごとに1件
}

// Empty は取り出すものがないかを返します。
func (o Outbox) Empty() bool {
	return len(o.Deliveries) == 0 && len(o.Completed) == 0
}

// Dispatcher は終了したジョブの通知を単一の消費者向けキューへ積みます。
// ワーカーは Notify で積むだけで、外部への送信は Drain を呼ぶ側が行います。
type Dispatcher struct {
	registry *Registry

	mu         sync.Mutex
	deliveries []Delivery
	completed  []Job
	ready      chan struct{}
}

// NewDispatcher は Dispatcher を作成します。
func NewDispatcher(registry *Registry) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		ready:    make(chan struct{}, 1),
	}
}

// Subscribe は current が返すジョブの完了通知先として target を登録します。
// current はギルドのロックを保持したまま呼び出し、その時点の状態で判定します。
// 終了済みのジョブへの新規登録は NotFound を返します（Status で確認してください）。
func (d *Dispatcher) Subscribe(guildID string, target Target, current func() (Job, error)) error {
	if target.ChannelID == "" {
		return newError(CodeInvalidInput, "target channel is required", nil)
	}

	g := d.registry.GetOrCreate(guildID)
	g.mu.Lock()
	defer g.mu.Unlock()

	job, err := current()
	if err != nil {
		return err
	}

	sub := g.subscription(job.ID, false)
	if sub != nil {
		if sub.delivered[target] || sub.queued[target] {
			return nil
		}
		for _, t := range sub.pending {
			if t == target {
				return nil
			}
		}
		if sub.fired {
			return newError(CodeNotFound, "job "+job.ID+" already finished", nil)
		}
	}
	if job.Status.Terminal() {
		return newError(CodeNotFound, "job "+job.ID+" already finished", nil)
	}

	sub = g.subscription(job.ID, true)
	sub.pending = append(sub.pending, target)
	return nil
}

// Notify は終了したジョブの通知を積みます。同じジョブに対しては1度だけ有効です。
func (d *Dispatcher) Notify(job Job) {
	if !job.Status.Terminal() {
		return
	}

	g := d.registry.GetOrCreate(job.GuildID)
	g.mu.Lock()
	sub := g.subscription(job.ID, true)
	if sub.fired {
		g.mu.Unlock()
		return
	}
	sub.fired = true
	targets := sub.pending
	sub.pending = nil
	for _, t := range targets {
		sub.queued[t] = true
	}
	g.mu.Unlock()

	d.mu.Lock()
	for _, t := range targets {
		d.deliveries = append(d.deliveries, Delivery{Target: t, Job: job})
	}
	d.completed = append(d.completed, job)
	d.mu.Unlock()

	d.wake()
}

// Drain は積まれた通知を取り出します。送信済みの (job, target) は二度と返しません。
func (d *Dispatcher) Drain() Outbox {
	d.mu.Lock()
	pending := d.deliveries
	completed := d.completed
	d.deliveries = nil
	d.completed = nil
	d.mu.Unlock()

	out := Outbox{Completed: completed}
	for _, del := range pending {
		g := d.registry.GetOrCreate(del.Job.GuildID)
		g.mu.Lock()
		sub := g.subscription(del.Job.ID, false)
		if sub == nil {
			// Forget 済み。積まれた時点で未送信なので1度だけ送る。
			out.Deliveries = append(out.Deliveries, del)
		} else if !sub.delivered[del.Target] {
			sub.delivered[del.Target] = true
			delete(sub.queued, del.Target)
			out.Deliveries = append(out.Deliveries, del)
		}
		g.mu.Unlock()
	}
	return out
}

// Ready は通知が積まれたときにシグナルを受け取るチャネルを返します。
func (d *Dispatcher) Ready() <-chan struct{} {
	return d.ready
}

// Forget は削除されたジョブの購読状態を破棄します。
func (d *Dispatcher) Forget(guildID, jobID string) {
	g, ok := d.registry.Lookup(guildID)
	if !ok {
		return
	}
	g.mu.Lock()
	delete(g.subs, jobID)
	g.mu.Unlock()
}

func (d *Dispatcher) wake() {
	select {
	case d.ready <- struct{}{}:
	default:
	}
}
