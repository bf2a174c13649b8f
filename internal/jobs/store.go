package jobs

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store はジョブ状態をメモリ上に保持します。
// ジョブIDとギルドごとの入力指紋の2つで索引し、返す値はすべてコピーです。
type Store struct {
	mu     sync.RWMutex
	jobs   map[string]*Job
	active map[string]map[string]string // guildID -> inputKey -> jobID（未終了のみ）
	now    func() time.Time
	newID  func() string
}

// NewStore は Store を作成します。
func NewStore() *Store {
	return &Store{
		jobs:   make(map[string]*Job),
		active: make(map[string]map[string]string),
		now:    time.Now,
		newID:  func() string { return uuid.NewString() },
	}
}

// CreateOrGet は同じ入力の未終了ジョブがあればそれを返し、なければ queued で作成します。
func (s *Store) CreateOrGet(guildID, inputKey string, payload Payload) (Job, bool, error) {
	if guildID == "" {
		return Job{}, false, newError(CodeInvalidInput, "guildID is required", nil)
	}
	if inputKey == "" {
		return Job{}, false, newError(CodeInvalidInput, "inputKey is required", nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.active[guildID][inputKey]; ok {
		if existing, ok := s.jobs[id]; ok && !existing.Status.Terminal() {
			return existing.clone(), false, nil
		}
	}

	job := &Job{
		ID:          s.newID(),
		GuildID:     guildID,
		InputKey:    inputKey,
		Status:      StatusQueued,
		Payload:     payload,
		SubmittedAt: s.now().UTC(),
	}
	s.jobs[job.ID] = job

	keys, ok := s.active[guildID]
	if !ok {
		keys = make(map[string]string)
		s.active[guildID] = keys
	}
	keys[inputKey] = job.ID

	return job.clone(), true, nil
}

// Transition は現在の状態が expected の場合に限り next へ遷移させます。
func (s *Store) Transition(jobID string, expected, next Status, fields Fields) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return Job{}, notFound(jobID)
	}
	if job.Status != expected {
		return job.clone(), conflict(jobID, job.Status, expected)
	}
	if !canTransition(expected, next) {
		return job.clone(), newError(CodeConflict, "transition "+string(expected)+" -> "+string(next)+" is not allowed", nil)
	}
	if next == StatusCompleted && fields.ResultPath == "" {
		return job.clone(), newError(CodeInvalidInput, "resultPath is required for completed jobs", nil)
	}

	now := s.now().UTC()
	job.Status = next
	switch next {
	case StatusRunning:
		job.StartedAt = &now
	case StatusCompleted:
		job.CompletedAt = &now
		job.ResultPath = fields.ResultPath
		job.Error = nil
	case StatusFailed, StatusCancelled:
		job.CompletedAt = &now
		job.ResultPath = ""
		job.Error = fields.Error
		if job.Error == nil {
			kind := KindUnknown
			if next == StatusCancelled {
				kind = KindCancelled
			}
			job.Error = &ErrorInfo{Kind: kind, Message: string(next)}
		}
	}

	if next.Terminal() {
		if keys := s.active[job.GuildID]; keys[job.InputKey] == job.ID {
			delete(keys, job.InputKey)
		}
	}
	return job.clone(), nil
}

// Get はジョブ情報を取得します。別ギルドのジョブは存在しないものとして扱います。
func (s *Store) Get(guildID, jobID string) (Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[jobID]
	if !ok || job.GuildID != guildID {
		return Job{}, notFound(jobID)
	}
	return job.clone(), nil
}

// List はギルドのジョブを新しい順に返します。
func (s *Store) List(guildID string) []Job {
	s.mu.RLock()
	out := make([]Job, 0)
	for _, job := range s.jobs {
		if job.GuildID == guildID {
			out = append(out, job.clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].SubmittedAt.After(out[j].SubmittedAt)
	})
	return out
}

// EvictTerminalOlderThan は終了から retention 以上経過したジョブを削除し、削除したものを返します。
func (s *Store) EvictTerminalOlderThan(retention time.Duration) []Job {
	cutoff := s.now().UTC().Add(-retention)

	s.mu.Lock()
	defer s.mu.Unlock()

	var evicted []Job
	for id, job := range s.jobs {
		if !job.Status.Terminal() || job.CompletedAt == nil {
			continue
		}
		if job.CompletedAt.After(cutoff) {
			continue
		}
		evicted = append(evicted, job.clone())
		delete(s.jobs, id)
	}
	return evicted
}

// Len は保持しているジョブ数を返します。
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}
