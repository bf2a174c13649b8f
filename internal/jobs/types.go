package jobs

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"time"

	"github.com/yourusername/session-scribe/internal/pipeline"
)

// Status はジョブの実行状態を表します。
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal は終了状態かどうかを返します。
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// canTransition は許可された状態遷移かを判定します。
func canTransition(from, to Status) bool {
	switch from {
	case StatusQueued:
		return to == StatusRunning || to == StatusCancelled
	case StatusRunning:
		return to == StatusCompleted || to == StatusFailed
	default:
		return false
	}
}

// ErrorKind はジョブ失敗の種別です。
type ErrorKind string

const (
	KindInvalidInput                = ErrorKind(pipeline.KindInvalidInput)
	KindModelUnavailable            = ErrorKind(pipeline.KindModelUnavailable)
	KindResourceExhausted           = ErrorKind(pipeline.KindResourceExhausted)
	KindUnknown                     = ErrorKind(pipeline.KindUnknown)
	KindTimeout           ErrorKind = "Timeout"
	KindCancelled         ErrorKind = "Cancelled"
)

// ErrorInfo はジョブ失敗時のエラー情報を保持します。
type ErrorInfo struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// Payload はジョブの入力です。
type Payload struct {
	AudioPath    string           `json:"audioPath"`
	MetadataPath string           `json:"metadataPath,omitempty"`
	Options      pipeline.Options `json:"options"`
}

// Job はジョブの現在状態を表します。
type Job struct {
	ID          string     `json:"jobId"`
	GuildID     string     `json:"guildId"`
	InputKey    string     `json:"inputKey"`
	Status      Status     `json:"status"`
	Payload     Payload    `json:"payload"`
	SubmittedAt time.Time  `json:"submittedAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	ResultPath  string     `json:"resultPath,omitempty"`
	Error       *ErrorInfo `json:"error,omitempty"`
}

func (j *Job) clone() Job {
	out := *j
	if j.StartedAt != nil {
		t := *j.StartedAt
		out.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		out.CompletedAt = &t
	}
	if j.Error != nil {
		e := *j.Error
		out.Error = &e
	}
	return out
}

// Fields は遷移と同時に設定する項目です。
type Fields struct {
	ResultPath string
	Error      *ErrorInfo
}

// Target は完了通知の送り先です。
type Target struct {
	ChannelID string `json:"channelId"`
	UserID    string `json:"userId,omitempty"`
}

// Task はキューから取り出される実行単位です。
type Task struct {
	GuildID string
	JobID   string
}

// InputKey は重複判定用の入力指紋を計算します。
func InputKey(audioPath string, opts pipeline.Options) string {
	h := sha256.New()
	fmt.Fprintf(h, "audio=%s\n", filepath.Clean(audioPath))
	fmt.Fprintf(h, "diarization=%t\n", opts.Diarization)
	fmt.Fprintf(h, "model=%s\nlanguage=%s\n", opts.Model, opts.Language)
	fmt.Fprintf(h, "speakers=%d-%d\n", opts.MinSpeakers, opts.MaxSpeakers)
	return hex.EncodeToString(h.Sum(nil))
}
