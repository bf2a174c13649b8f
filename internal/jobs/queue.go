package jobs

import (
	"context"
	"sync"
)

// Queue は queued ジョブをワーカーへ渡すギルド単位のFIFOキューです。
// ギルド内は投入順、ギルド間は滞留のあるギルドをラウンドロビンで取り出します。
type Queue struct {
	registry *Registry

	mu     sync.Mutex
	ring   []*Guild // 滞留のあるギルド（取り出し順）
	inRing map[*Guild]bool
	size   int
	ready  chan struct{} // 投入のたびに close して待機中のワーカーを起こす
	closed bool
}

// NewQueue は Queue を作成します。
func NewQueue(registry *Registry) *Queue {
	return &Queue{
		registry: registry,
		inRing:   make(map[*Guild]bool),
		ready:    make(chan struct{}),
	}
}

// Enqueue はジョブをギルドの末尾に追加します。ブロックしません。
// クローズ後は追加せず false を返します。
func (q *Queue) Enqueue(guildID, jobID string) bool {
	g := q.registry.GetOrCreate(guildID)

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}

	g.backlog = append(g.backlog, jobID)
	q.size++
	if !q.inRing[g] {
		q.inRing[g] = true
		q.ring = append(q.ring, g)
	}

	close(q.ready)
	q.ready = make(chan struct{})
	return true
}

// TryDequeue は取り出せるタスクがあれば返します。
func (q *Queue) TryDequeue() (Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.popLocked()
}

// Dequeue はタスクを取り出すまで待機します。
// ctx の終了またはキューのクローズで false を返します。
func (q *Queue) Dequeue(ctx context.Context) (Task, bool) {
	for {
		q.mu.Lock()
		if task, ok := q.popLocked(); ok {
			q.mu.Unlock()
			return task, true
		}
		if q.closed {
			q.mu.Unlock()
			return Task{}, false
		}
		ready := q.ready
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return Task{}, false
		case <-ready:
		}
	}
}

func (q *Queue) popLocked() (Task, bool) {
	for len(q.ring) > 0 {
		g := q.ring[0]
		q.ring = q.ring[1:]

		if len(g.backlog) == 0 {
			delete(q.inRing, g)
			continue
		}

		jobID := g.backlog[0]
		g.backlog = g.backlog[1:]
		q.size--

		if len(g.backlog) > 0 {
			q.ring = append(q.ring, g)
		} else {
			delete(q.inRing, g)
		}
		return Task{GuildID: g.id, JobID: jobID}, true
	}
	return Task{}, false
}

// Remove はキャンセルされたジョブを滞留から取り除きます。
func (q *Queue) Remove(guildID, jobID string) bool {
	g, ok := q.registry.Lookup(guildID)
	if !ok {
		return false
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	for i, id := range g.backlog {
		if id == jobID {
			g.backlog = append(g.backlog[:i:i], g.backlog[i+1:]...)
			q.size--
			return true
		}
	}
	return false
}

// Len は滞留しているタスク数を返します。
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Close はキューを閉じ、待機中のワーカーを解放します。
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.ready)
}
