package bot

import (
	"fmt"
	"strings"
	"time"

	"github.com/yourusername/session-scribe/internal/jobs"
)

// Message はチャンネルへ送る通知です。
type Message struct {
	ChannelID string   `json:"channelId"`
	UserID    string   `json:"userId,omitempty"`
	Content   string   `json:"content"`
	Job       jobs.Job `json:"job"`
}

// NewMessage は配送1件分の通知文を組み立てます。
func NewMessage(d jobs.Delivery) Message {
	return Message{
		ChannelID: d.Target.ChannelID,
		UserID:    d.Target.UserID,
		Content:   formatContent(d.Target, d.Job),
		Job:       d.Job,
	}
}

func formatContent(target jobs.Target, job jobs.Job) string {
	var b strings.Builder
	if target.UserID != "" {
		fmt.Fprintf(&b, "<@%s> ", target.UserID)
	}

	switch job.Status {
	case jobs.StatusCompleted:
		fmt.Fprintf(&b, "✅ Transcription `%s` finished.", job.ID)
		if job.StartedAt != nil && job.CompletedAt != nil {
			fmt.Fprintf(&b, " Took %s.", job.CompletedAt.Sub(*job.StartedAt).Round(time.Second))
		}
		fmt.Fprintf(&b, "\nTranscript: `%s`", job.ResultPath)
	case jobs.StatusCancelled:
		fmt.Fprintf(&b, "🚫 Transcription `%s` was cancelled.", job.ID)
	default:
		fmt.Fprintf(&b, "❌ Transcription `%s` failed", job.ID)
		if job.Error != nil {
			fmt.Fprintf(&b, " (%s): %s", job.Error.Kind, job.Error.Message)
		} else {
			b.WriteString(".")
		}
	}
	return b.String()
}
