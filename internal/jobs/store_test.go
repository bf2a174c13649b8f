package jobs

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newClockedStore(now *time.Time) *Store {
	s := NewStore()
	s.now = func() time.Time { return *now }
	return s
}

func TestStoreCreateOrGetDeduplicatesActiveJobs(t *testing.T) {
	s := NewStore()

	first, created, err := s.CreateOrGet("guild-1", "key-a", Payload{AudioPath: "/a.wav"})
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, StatusQueued, first.Status)

	again, created, err := s.CreateOrGet("guild-1", "key-a", Payload{AudioPath: "/a.wav"})
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, first.ID, again.ID)

	other, created, err := s.CreateOrGet("guild-2", "key-a", Payload{AudioPath: "/a.wav"})
	require.NoError(t, err)
	require.True(t, created)
	require.NotEqual(t, first.ID, other.ID)
}

func TestStoreCreateOrGetAfterTerminalCreatesNewJob(t *testing.T) {
	s := NewStore()
	first, _, err := s.CreateOrGet("g", "k", Payload{})
	require.NoError(t, err)
	_, err = s.Transition(first.ID, StatusQueued, StatusCancelled, Fields{})
	require.NoError(t, err)

	second, created, err := s.CreateOrGet("g", "k", Payload{})
	require.NoError(t, err)
	require.True(t, created)
	require.NotEqual(t, first.ID, second.ID)
}

func TestStoreCreateOrGetRejectsEmptyKeys(t *testing.T) {
	s := NewStore()
	_, _, err := s.CreateOrGet("", "k", Payload{})
	require.ErrorIs(t, err, ErrInvalidInput)
	_, _, err = s.CreateOrGet("g", "", Payload{})
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestStoreTransitionIsCompareAndSet(t *testing.T) {
	s := NewStore()
	job, _, err := s.CreateOrGet("g", "k", Payload{})
	require.NoError(t, err)

	running, err := s.Transition(job.ID, StatusQueued, StatusRunning, Fields{})
	require.NoError(t, err)
	require.NotNil(t, running.StartedAt)

	_, err = s.Transition(job.ID, StatusQueued, StatusRunning, Fields{})
	require.ErrorIs(t, err, ErrConflict)

	_, err = s.Transition(job.ID, StatusRunning, StatusCancelled, Fields{})
	require.ErrorIs(t, err, ErrConflict)

	_, err = s.Transition(job.ID, StatusRunning, StatusCompleted, Fields{})
	require.ErrorIs(t, err, ErrInvalidInput)

	done, err := s.Transition(job.ID, StatusRunning, StatusCompleted, Fields{ResultPath: "/out.json"})
	require.NoError(t, err)
	require.Equal(t, "/out.json", done.ResultPath)
	require.Nil(t, done.Error)
	require.NotNil(t, done.CompletedAt)

	_, err = s.Transition(job.ID, StatusCompleted, StatusRunning, Fields{})
	require.ErrorIs(t, err, ErrConflict)

	_, err = s.Transition("missing", StatusQueued, StatusRunning, Fields{})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestStoreFailedJobCarriesError(t *testing.T) {
	s := NewStore()
	job, _, _ := s.CreateOrGet("g", "k", Payload{})
	_, err := s.Transition(job.ID, StatusQueued, StatusRunning, Fields{})
	require.NoError(t, err)

	failed, err := s.Transition(job.ID, StatusRunning, StatusFailed, Fields{})
	require.NoError(t, err)
	require.NotNil(t, failed.Error)
	require.Equal(t, KindUnknown, failed.Error.Kind)
	require.Empty(t, failed.ResultPath)
}

func TestStoreGetIsGuildScoped(t *testing.T) {
	s := NewStore()
	job, _, _ := s.CreateOrGet("guild-a", "k", Payload{})

	got, err := s.Get("guild-a", job.ID)
	require.NoError(t, err)
	require.Equal(t, job.ID, got.ID)

	_, err = s.Get("guild-b", job.ID)
	require.ErrorIs(t, err, ErrNotFound)

	var jerr *Error
	require.True(t, errors.As(err, &jerr))
	require.Equal(t, CodeNotFound, jerr.Code)
}

func TestStoreReturnsCopies(t *testing.T) {
	s := NewStore()
	job, _, _ := s.CreateOrGet("g", "k", Payload{})
	running, _ := s.Transition(job.ID, StatusQueued, StatusRunning, Fields{})

	*running.StartedAt = time.Time{}
	again, err := s.Get("g", job.ID)
	require.NoError(t, err)
	require.False(t, again.StartedAt.IsZero())
}

func TestStoreListNewestFirst(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	s := newClockedStore(&now)

	a, _, _ := s.CreateOrGet("g", "a", Payload{})
	now = now.Add(time.Second)
	b, _, _ := s.CreateOrGet("g", "b", Payload{})
	_, _, _ = s.CreateOrGet("other", "c", Payload{})

	list := s.List("g")
	require.Len(t, list, 2)
	require.Equal(t, b.ID, list[0].ID)
	require.Equal(t, a.ID, list[1].ID)
	require.Empty(t, s.List("nobody"))
}

func TestStoreEvictTerminalOlderThan(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	s := newClockedStore(&now)

	done, _, _ := s.CreateOrGet("g", "done", Payload{})
	_, _ = s.Transition(done.ID, StatusQueued, StatusCancelled, Fields{})
	queued, _, _ := s.CreateOrGet("g", "queued", Payload{})

	now = now.Add(5 * time.Minute)
	require.Empty(t, s.EvictTerminalOlderThan(10*time.Minute))

	now = now.Add(6 * time.Minute)
	evicted := s.EvictTerminalOlderThan(10 * time.Minute)
	require.Len(t, evicted, 1)
	require.Equal(t, done.ID, evicted[0].ID)

	_, err := s.Get("g", done.ID)
	require.ErrorIs(t, err, ErrNotFound)
	_, err = s.Get("g", queued.ID)
	require.NoError(t, err)
	require.Equal(t, 1, s.Len())
}
