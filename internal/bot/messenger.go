package bot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	kitlog "github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// Messenger は通知をチャット側へ届けます。Loop からのみ呼び出されます。
type Messenger interface {
	Send(ctx context.Context, msg Message) error
}

// WebhookMessenger は通知を JSON で Webhook へ POST します。
type WebhookMessenger struct {
	url        string
	client     *http.Client
	maxRetries uint64
	backoff    func() backoff.BackOff
}

// NewWebhookMessenger は WebhookMessenger を作成します。
func NewWebhookMessenger(url string, client *http.Client) *WebhookMessenger {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &WebhookMessenger{
		url:        url,
		client:     client,
		maxRetries: 3,
		backoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			b.MaxElapsedTime = 30 * time.Second
			return b
		},
	}
}

// Send は 5xx と通信エラーのみ再試行します。
func (w *WebhookMessenger) Send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := w.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)

		switch {
		case resp.StatusCode >= 500:
			return fmt.Errorf("webhook responded %d", resp.StatusCode)
		case resp.StatusCode >= 300:
			return backoff.Permanent(fmt.Errorf("webhook responded %d", resp.StatusCode))
		}
		return nil
	}

	b := backoff.WithContext(backoff.WithMaxRetries(w.backoff(), w.maxRetries), ctx)
	if err := backoff.Retry(op, b); err != nil {
		return fmt.Errorf("failed to deliver notification for job %s: %w", msg.Job.ID, err)
	}
	return nil
}

// LogMessenger は送信先がない環境向けに通知をログへ書くだけの Messenger です。
type LogMessenger struct {
	logger kitlog.Logger
}

// NewLogMessenger は LogMessenger を作成します。
func NewLogMessenger(logger kitlog.Logger) *LogMessenger {
	if logger == nil {
		logger = kitlog.NewNopLogger()
	}
	return &LogMessenger{logger: logger}
}

// Send は通知をログへ出力します。
func (l *LogMessenger) Send(ctx context.Context, msg Message) error {
	return level.Info(l.logger).Log("msg", "notification", "channel_id", msg.ChannelID, "user_id", msg.UserID, "job_id", msg.Job.ID, "status", msg.Job.Status, "content", msg.Content)
}
