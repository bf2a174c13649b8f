package bot

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/session-scribe/internal/jobs"
)

type fakeOutbox struct {
	mu    sync.Mutex
	out   jobs.Outbox
	ready chan struct{}
}

func newFakeOutbox() *fakeOutbox {
	return &fakeOutbox{ready: make(chan struct{}, 1)}
}

func (f *fakeOutbox) push(d jobs.Delivery) {
	f.mu.Lock()
	f.out.Deliveries = append(f.out.Deliveries, d)
	f.out.Completed = append(f.out.Completed, d.Job)
	f.mu.Unlock()
	select {
	case f.ready <- struct{}{}:
	default:
	}
}

func (f *fakeOutbox) Drain() jobs.Outbox {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.out
	f.out = jobs.Outbox{}
	return out
}

func (f *fakeOutbox) Ready() <-chan struct{} { return f.ready }

type recordingMessenger struct {
	mu   sync.Mutex
	msgs []Message
	err  error
}

func (r *recordingMessenger) Send(ctx context.Context, msg Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.msgs = append(r.msgs, msg)
	return nil
}

func (r *recordingMessenger) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}

type hookFunc func(ctx context.Context, job jobs.Job) error

func (f hookFunc) OnCompleted(ctx context.Context, job jobs.Job) error { return f(ctx, job) }

func TestLoopSendsOnReady(t *testing.T) {
	outbox := newFakeOutbox()
	messenger := &recordingMessenger{}
	var hooked atomic.Int32
	loop := NewLoop(outbox, messenger, time.Hour, nil,
		hookFunc(func(ctx context.Context, job jobs.Job) error { hooked.Add(1); return nil }),
		hookFunc(func(ctx context.Context, job jobs.Job) error { return errors.New("ignored") }),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	outbox.push(jobs.Delivery{
		Target: jobs.Target{ChannelID: "c1", UserID: "u1"},
		Job:    jobs.Job{ID: "j1", Status: jobs.StatusCompleted, ResultPath: "/t.json"},
	})
	require.Eventually(t, func() bool { return messenger.count() == 1 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return hooked.Load() == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	msg := messenger.msgs[0]
	require.Equal(t, "c1", msg.ChannelID)
	require.Contains(t, msg.Content, "<@u1>")
	require.Contains(t, msg.Content, "/t.json")
}

func TestLoopFlushContinuesAfterSendFailure(t *testing.T) {
	outbox := newFakeOutbox()
	outbox.push(jobs.Delivery{Target: jobs.Target{ChannelID: "c"}, Job: jobs.Job{ID: "j", Status: jobs.StatusFailed}})
	loop := NewLoop(outbox, &recordingMessenger{err: errors.New("down")}, 0, nil)

	require.Zero(t, loop.Flush(context.Background()))
	require.Zero(t, loop.Flush(context.Background()))
}

func TestFormatContent(t *testing.T) {
	failed := formatContent(jobs.Target{}, jobs.Job{ID: "j", Status: jobs.StatusFailed, Error: &jobs.ErrorInfo{Kind: jobs.KindTimeout, Message: "too slow"}})
	require.Contains(t, failed, "failed (Timeout): too slow")

	cancelled := formatContent(jobs.Target{}, jobs.Job{ID: "j", Status: jobs.StatusCancelled})
	require.Contains(t, cancelled, "cancelled")
}

func TestWebhookMessengerRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	m := NewWebhookMessenger(srv.URL, srv.Client())
	m.backoff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }

	require.NoError(t, m.Send(context.Background(), Message{ChannelID: "c", Job: jobs.Job{ID: "j"}}))
	require.Equal(t, int32(3), calls.Load())
}

func TestWebhookMessengerStopsOnClientError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	m := NewWebhookMessenger(srv.URL, srv.Client())
	m.backoff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }

	require.Error(t, m.Send(context.Background(), Message{ChannelID: "c", Job: jobs.Job{ID: "j"}}))
	require.Equal(t, int32(1), calls.Load())
}
