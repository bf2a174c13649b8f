package jobs

import (
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/yourusername/session-scribe/internal/pipeline"
)

// writeWAV は mimetype が audio/wav と判定する最小の WAV ファイルを作成します。
func writeWAV(t *testing.T, dir, name string) string {
	t.Helper()
	data := make([]byte, 44+64)
	copy(data[0:4], "RIFF")
	binary.LittleEndian.PutUint32(data[4:8], uint32(len(data)-8))
	copy(data[8:12], "WAVE")
	copy(data[12:16], "fmt ")
	binary.LittleEndian.PutUint32(data[16:20], 16)
	binary.LittleEndian.PutUint16(data[20:22], 1)
	binary.LittleEndian.PutUint16(data[22:24], 1)
	binary.LittleEndian.PutUint32(data[24:28], 16000)
	binary.LittleEndian.PutUint32(data[28:32], 32000)
	binary.LittleEndian.PutUint16(data[32:34], 2)
	binary.LittleEndian.PutUint16(data[34:36], 16)
	copy(data[36:40], "data")
	binary.LittleEndian.PutUint32(data[40:44], 64)

	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

// gateRunner は release されるまで戻らない Runner です。
type gateRunner struct {
	started chan pipeline.Request
	release chan struct{}

	mu    sync.Mutex
	calls int
}

func newGateRunner() *gateRunner {
	return &gateRunner{
		started: make(chan pipeline.Request, 16),
		release: make(chan struct{}),
	}
}

func (r *gateRunner) Run(ctx context.Context, req pipeline.Request) (string, error) {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()

	r.started <- req
	select {
	case <-r.release:
		return req.AudioPath + ".transcript.json", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (r *gateRunner) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func (r *gateRunner) waitStarted(t *testing.T) pipeline.Request {
	t.Helper()
	select {
	case req := <-r.started:
		return req
	case <-time.After(2 * time.Second):
		t.Fatal("pipeline was not invoked")
		return pipeline.Request{}
	}
}

func waitForStatus(t *testing.T, m *Manager, guildID, jobID string, want Status) Job {
	t.Helper()
	var job Job
	require.Eventually(t, func() bool {
		var err error
		job, err = m.Status(guildID, jobID)
		return err == nil && job.Status == want
	}, 2*time.Second, 5*time.Millisecond, "job %s never reached %s", jobID, want)
	return job
}

func newTestManager(t *testing.T, workers int, timeout time.Duration, runner pipeline.Runner) *Manager {
	t.Helper()
	m, err := NewManager(Config{
		Workers:    workers,
		JobTimeout: timeout,
		Retention:  time.Minute,
		Defaults:   pipeline.Options{Model: "large-v3", MinSpeakers: 1, MaxSpeakers: 10},
	}, runner, NewMetrics(nil), nil)
	require.NoError(t, err)
	return m
}

func startManager(t *testing.T, m *Manager) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	m.Start(ctx)
	t.Cleanup(func() {
		cancel()
		shutdownCtx, done := context.WithTimeout(context.Background(), 2*time.Second)
		defer done()
		_ = m.Shutdown(shutdownCtx)
	})
}
