package jobs

import (
	"sync"
)

// Guild はギルド単位に分離された可変状態（キューの滞留分と通知購読）をまとめたものです。
type Guild struct {
	id string

	// backlog は Queue.mu で保護します。
	backlog []string

	mu   sync.Mutex
	subs map[string]*subscription // jobID -> 購読状態
}

// subscription は1ジョブ分の通知購読状態です。
type subscription struct {
	pending   []Target
	queued    map[Target]bool // Notify で送信待ちに積んだ宛先
	delivered map[Target]bool
	fired     bool
}

func (g *Guild) subscription(jobID string, create bool) *subscription {
	sub, ok := g.subs[jobID]
	if !ok && create {
		sub = &subscription{
			queued:    make(map[Target]bool),
			delivered: make(map[Target]bool),
		}
		g.subs[jobID] = sub
	}
	return sub
}

// Registry はギルドIDから Guild への対応を遅延生成で管理します。
// 一度作成した Guild はプロセス終了まで削除しません。
type Registry struct {
	mu     sync.RWMutex
	guilds map[string]*Guild
}

// NewRegistry は空の Registry を作成します。
func NewRegistry() *Registry {
	return &Registry{guilds: make(map[string]*Guild)}
}

// GetOrCreate はギルドの状態を返します。初回アクセス時に作成します。
func (r *Registry) GetOrCreate(guildID string) *Guild {
	r.mu.RLock()
	g, ok := r.guilds[guildID]
	r.mu.RUnlock()
	if ok {
		return g
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if g, ok := r.guilds[guildID]; ok {
		return g
	}
	g = &Guild{
		id:   guildID,
		subs: make(map[string]*subscription),
	}
	r.guilds[guildID] = g
	return g
}

// Lookup は作成済みのギルド状態を返します。作成はしません。
func (r *Registry) Lookup(guildID string) (*Guild, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.guilds[guildID]
	return g, ok
}
