// Package transcript は文字起こし結果の保存形式（JSON）と、その検証・書き込みを扱います。
package transcript

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// FormatVersion は出力する JSON のスキーマバージョンです。
const FormatVersion = "1.0"

// Word は単語単位のアライメントです。
type Word struct {
	Word       string  `json:"word"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Confidence float64 `json:"confidence"`
}

// Segment は連続した発話の区間です。
type Segment struct {
	StartTime    float64 `json:"start_time"`
	EndTime      float64 `json:"end_time"`
	Text         string  `json:"text"`
	SpeakerLabel string  `json:"speaker_label,omitempty"`
	Words        []Word  `json:"words,omitempty"`
}

// Duration は区間の長さ（秒）を返します。
func (s Segment) Duration() float64 {
	return s.EndTime - s.StartTime
}

// Metadata はトランスクリプト全体の概要です。
type Metadata struct {
	CreatedAt          string  `json:"created_at"`
	FormatVersion      string  `json:"format_version"`
	TranscriptionModel string  `json:"transcription_model"`
	TotalSegments      int     `json:"total_segments"`
	TotalDuration      float64 `json:"total_duration"`
}

// RunLog は1回の文字起こし実行の記録です。
type RunLog struct {
	Timestamp       string             `json:"timestamp"`
	RuntimeSeconds  float64            `json:"runtime_seconds"`
	ModelName       string             `json:"model_name"`
	AccuracyMetrics map[string]float64 `json:"accuracy_metrics"`
	Errors          []string           `json:"errors"`
	Successful      bool               `json:"successful"`
}

// NewRunLog は開始時刻と終了時刻から RunLog を作成します。
func NewRunLog(model string, started, finished time.Time, metrics map[string]float64, errs []string) RunLog {
	if metrics == nil {
		metrics = map[string]float64{}
	}
	if errs == nil {
		errs = []string{}
	}
	return RunLog{
		Timestamp:       started.Format(time.RFC3339Nano),
		RuntimeSeconds:  finished.Sub(started).Seconds(),
		ModelName:       model,
		AccuracyMetrics: metrics,
		Errors:          errs,
		Successful:      len(errs) == 0,
	}
}

// Transcript は保存される成果物全体です。
type Transcript struct {
	Metadata Metadata  `json:"metadata"`
	Segments []Segment `json:"segments"`
	Log      RunLog    `json:"log"`
	Session  *Session  `json:"session,omitempty"`
}

// Build は区間と実行記録からトランスクリプトを組み立てます。
func Build(segments []Segment, log RunLog, session *Session, now time.Time) Transcript {
	if segments == nil {
		segments = []Segment{}
	}
	var total float64
	for _, s := range segments {
		if s.EndTime > total {
			total = s.EndTime
		}
	}
	return Transcript{
		Metadata: Metadata{
			CreatedAt:          now.Format(time.RFC3339Nano),
			FormatVersion:      FormatVersion,
			TranscriptionModel: log.ModelName,
			TotalSegments:      len(segments),
			TotalDuration:      total,
		},
		Segments: segments,
		Log:      log,
		Session:  session,
	}
}

// Validate は保存前の整合性を確認します。
func (t Transcript) Validate() error {
	var errs []error
	if t.Metadata.FormatVersion == "" {
		errs = append(errs, errors.New("metadata.format_version is required"))
	}
	if t.Metadata.TotalSegments != len(t.Segments) {
		errs = append(errs, fmt.Errorf("metadata.total_segments is %d but %d segments present", t.Metadata.TotalSegments, len(t.Segments)))
	}
	if t.Log.ModelName == "" {
		errs = append(errs, errors.New("log.model_name is required"))
	}
	if t.Log.Successful != (len(t.Log.Errors) == 0) {
		errs = append(errs, errors.New("log.successful does not match log.errors"))
	}
	for i, s := range t.Segments {
		if s.Duration() <= 0 {
			errs = append(errs, fmt.Errorf("segment %d: start_time %.3f must be less than end_time %.3f", i, s.StartTime, s.EndTime))
		}
		for _, w := range s.Words {
			if w.Start < s.StartTime || w.End > s.EndTime {
				errs = append(errs, fmt.Errorf("segment %d: word %q (%.3f-%.3f) outside segment", i, w.Word, w.Start, w.End))
			}
		}
	}
	return errors.Join(errs...)
}

// Paths は音声ファイル名とジョブIDから成果物のパスを決めます。
// <dir>/<stem>_<jobID>_transcript.json と <dir>/<stem>_<jobID>_transcription.log を返します。
// jobID が空なら <stem>_transcript.json のようにジョブIDを含めません。
func Paths(dir, audioPath, jobID string) (transcriptPath, logPath string) {
	base := filepath.Base(audioPath)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	if jobID != "" {
		name += "_" + jobID
	}
	return filepath.Join(dir, name+"_transcript.json"), filepath.Join(dir, name+"_transcription.log")
}

// Write は検証したうえでトランスクリプトを path へ書き込みます。
func Write(path string, t Transcript) error {
	if err := t.Validate(); err != nil {
		return fmt.Errorf("invalid transcript: %w", err)
	}
	return writeJSON(path, t)
}

// WriteLog は実行記録のみを path へ書き込みます。
func WriteLog(path string, log RunLog) error {
	return writeJSON(path, log)
}

func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", filepath.Base(path), err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	return nil
}
