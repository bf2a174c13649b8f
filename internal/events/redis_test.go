package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/session-scribe/internal/jobs"
)

type fakePublisher struct {
	channel string
	message []byte
	err     error
}

func (f *fakePublisher) Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
	f.channel = channel
	f.message, _ = message.([]byte)
	return redis.NewIntResult(1, f.err)
}

func TestPublisherSendsGuildScopedEvent(t *testing.T) {
	fake := &fakePublisher{}
	p := NewPublisher(fake, "scribe:events:")
	done := time.Date(2024, 5, 1, 10, 5, 0, 0, time.UTC)

	err := p.OnCompleted(context.Background(), jobs.Job{
		ID:          "job-1",
		GuildID:     "g1",
		Status:      jobs.StatusFailed,
		Error:       &jobs.ErrorInfo{Kind: jobs.KindTimeout, Message: "too slow"},
		CompletedAt: &done,
	})
	require.NoError(t, err)
	require.Equal(t, "scribe:events:g1", fake.channel)

	var ev Event
	require.NoError(t, json.Unmarshal(fake.message, &ev))
	require.Equal(t, "job-1", ev.JobID)
	require.Equal(t, jobs.StatusFailed, ev.Status)
	require.Equal(t, jobs.KindTimeout, ev.Error.Kind)
	require.True(t, done.Equal(*ev.CompletedAt))
}

func TestPublisherWrapsErrors(t *testing.T) {
	boom := errors.New("connection refused")
	p := NewPublisher(&fakePublisher{err: boom}, "")
	require.Equal(t, "transcription:events:g", p.Channel("g"))

	err := p.OnCompleted(context.Background(), jobs.Job{ID: "j", GuildID: "g", Status: jobs.StatusCompleted})
	require.ErrorIs(t, err, boom)
}

func TestConnectRejectsBadURL(t *testing.T) {
	_, err := Connect(context.Background(), "not-a-url")
	require.Error(t, err)
}
