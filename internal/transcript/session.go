package transcript

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"
)

// Session は録音側が書き出すセッションメタデータのうち、成果物へ添付する項目です。
type Session struct {
	SessionID       string          `json:"session_id,omitempty"`
	GuildID         string          `json:"guild_id,omitempty"`
	ChannelID       string          `json:"channel_id,omitempty"`
	Participants    json.RawMessage `json:"participants,omitempty"`
	StartTime       string          `json:"start_time,omitempty"`
	EndTime         string          `json:"end_time,omitempty"`
	DurationSeconds *float64        `json:"duration_seconds,omitempty"`
	FilePath        string          `json:"file_path,omitempty"`
	Language        string          `json:"language,omitempty"`
}

type rawSession struct {
	Session
	Duration *float64 `json:"duration,omitempty"`
}

// LoadSession はメタデータファイルを読み込みます。未知のフィールドは無視します。
func LoadSession(path string) (*Session, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read session metadata: %w", err)
	}
	var raw rawSession
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("session metadata must be a JSON object: %w", err)
	}

	s := raw.Session
	if s.DurationSeconds == nil {
		s.DurationSeconds = raw.Duration
	}
	if s.DurationSeconds == nil {
		if d, ok := duration(s.StartTime, s.EndTime); ok {
			s.DurationSeconds = &d
		}
	}
	return &s, nil
}

// ExpectedSpeakers は参加者数を返します。参加者が読めない場合は 0 です。
func (s *Session) ExpectedSpeakers() int {
	if s == nil || len(s.Participants) == 0 {
		return 0
	}
	var list []json.RawMessage
	if err := json.Unmarshal(s.Participants, &list); err != nil {
		return 0
	}
	return len(list)
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
}

func parseTime(v string) (time.Time, bool) {
	v = strings.TrimSpace(v)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func duration(start, end string) (float64, bool) {
	if start == "" || end == "" {
		return 0, false
	}
	s, ok := parseTime(start)
	if !ok {
		return 0, false
	}
	e, ok := parseTime(end)
	if !ok {
		return 0, false
	}
	return e.Sub(s).Seconds(), true
}
