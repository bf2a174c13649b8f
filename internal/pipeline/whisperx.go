package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	kitlog "github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/yourusername/session-scribe/internal/transcript"
)

// commandResult は外部プロセスの実行結果です。
type commandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// commandRunner はテストで差し替えられるようにプロセス実行を抽象化します。
type commandRunner interface {
	Run(ctx context.Context, name string, args ...string) (commandResult, error)
}

type execRunner struct{}

func (r *execRunner) Run(ctx context.Context, name string, args ...string) (commandResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := commandResult{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		result.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		}
		return result, err
	}
	return result, nil
}

// WhisperXConfig は WhisperX の設定です。
type WhisperXConfig struct {
	Path      string // whisperx 実行ファイル
	HFToken   string // 話者分離モデルの取得に使う Hugging Face トークン
	OutputDir string // 空なら音声ファイルと同じディレクトリ
}

// WhisperX は whisperx CLI を呼び出し、結果を成果物として保存する Runner です。
type WhisperX struct {
	path      string
	hfToken   string
	outputDir string
	runner    commandRunner
	logger    kitlog.Logger
	now       func() time.Time
	mkdirTemp func(dir, pattern string) (string, error)
	removeAll func(path string) error
}

// NewWhisperX は WhisperX を作成します。
func NewWhisperX(cfg WhisperXConfig, logger kitlog.Logger) *WhisperX {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		path = "whisperx"
	}
	if logger == nil {
		logger = kitlog.NewNopLogger()
	}
	return &WhisperX{
		path:      path,
		hfToken:   cfg.HFToken,
		outputDir: cfg.OutputDir,
		runner:    &execRunner{},
		logger:    logger,
		now:       time.Now,
		mkdirTemp: os.MkdirTemp,
		removeAll: os.RemoveAll,
	}
}

// Run は文字起こし（と必要なら話者分離）を実行し、トランスクリプトのパスを返します。
func (w *WhisperX) Run(ctx context.Context, req Request) (string, error) {
	info, err := os.Stat(req.AudioPath)
	if err != nil {
		return "", NewError(KindInvalidInput, fmt.Sprintf("cannot access audio: %s", req.AudioPath), err)
	}
	if info.IsDir() {
		return "", NewError(KindInvalidInput, fmt.Sprintf("audio path is a directory: %s", req.AudioPath), nil)
	}

	var session *transcript.Session
	if req.MetadataPath != "" {
		session, err = transcript.LoadSession(req.MetadataPath)
		if err != nil {
			return "", NewError(KindInvalidInput, "cannot load session metadata", err)
		}
	}

	opts := req.Options
	if opts.Model == "" {
		opts.Model = "large-v3"
	}
	if opts.Language == "" && session != nil {
		opts.Language = session.Language
	}
	if opts.Diarization && w.hfToken == "" {
		return "", NewError(KindModelUnavailable, "diarization requires a Hugging Face token", nil)
	}

	tempDir, err := w.mkdirTemp("", "whisperx-*")
	if err != nil {
		return "", NewError(KindResourceExhausted, "cannot create working directory", err)
	}
	defer func() { _ = w.removeAll(tempDir) }()

	logger := kitlog.With(w.logger, "job_id", req.JobID, "model", opts.Model)
	started := w.now()
	res, err := w.runner.Run(ctx, w.path, w.args(req.AudioPath, tempDir, opts)...)
	if err != nil {
		level.Debug(logger).Log("msg", "whisperx failed", "exit_code", res.ExitCode, "stderr", tail(res.Stderr, 2000))
		return "", classify(ctx, err, res)
	}

	raw, err := os.ReadFile(filepath.Join(tempDir, stem(req.AudioPath)+".json"))
	if err != nil {
		return "", NewError(KindUnknown, "whisperx produced no JSON output", err)
	}
	var out whisperxOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", NewError(KindUnknown, "cannot decode whisperx output", err)
	}

	segments, dropped := out.segments()
	metrics := out.accuracy()
	if dropped > 0 {
		metrics["dropped_segments"] = float64(dropped)
		level.Warn(logger).Log("msg", "dropped segments with invalid timing", "count", dropped)
	}
	finished := w.now()
	runLog := transcript.NewRunLog(opts.Model, started, finished, metrics, nil)
	doc := transcript.Build(segments, runLog, session, finished)

	dir := w.outputDir
	if dir == "" {
		dir = filepath.Dir(req.AudioPath)
	}
	transcriptPath, logPath := transcript.Paths(dir, req.AudioPath, req.JobID)
	if err := transcript.Write(transcriptPath, doc); err != nil {
		return "", NewError(KindUnknown, "cannot save transcript", err)
	}
	if err := transcript.WriteLog(logPath, runLog); err != nil {
		level.Warn(logger).Log("msg", "cannot save transcription log", "err", err)
	}

	level.Info(logger).Log("msg", "transcript written", "path", transcriptPath, "segments", len(segments), "runtime", finished.Sub(started))
	return transcriptPath, nil
}

func (w *WhisperX) args(audioPath, outDir string, opts Options) []string {
	args := []string{
		audioPath,
		"--model", opts.Model,
		"--output_dir", outDir,
		"--output_format", "json",
	}
	if opts.Language != "" {
		args = append(args, "--language", opts.Language)
	}
	if opts.Diarization {
		args = append(args, "--diarize", "--hf_token", w.hfToken)
		if opts.MinSpeakers > 0 {
			args = append(args, "--min_speakers", strconv.Itoa(opts.MinSpeakers))
		}
		if opts.MaxSpeakers > 0 {
			args = append(args, "--max_speakers", strconv.Itoa(opts.MaxSpeakers))
		}
	}
	return args
}

var (
	oomMarkers   = []string{"out of memory", "outofmemoryerror", "bad_alloc", "cannot allocate memory"}
	modelMarkers = []string{"401 client error", "gated repo", "repository not found", "could not download", "no such model", "invalid model size"}
	inputMarkers = []string{"invalid data found when processing input", "failed to load audio", "no such file or directory"}
)

// classify は失敗をエンジンのエラー種別へ対応付けます。
func classify(ctx context.Context, err error, res commandResult) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return NewError(KindUnknown, "whisperx interrupted", ctxErr)
	}
	if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
		return NewError(KindModelUnavailable, "whisperx executable not found", err)
	}

	stderr := strings.ToLower(res.Stderr)
	msg := fmt.Sprintf("whisperx exited with code %d", res.ExitCode)
	if t := tail(strings.TrimSpace(res.Stderr), 300); t != "" {
		msg += ": " + t
	}
	switch {
	case containsAny(stderr, oomMarkers):
		return NewError(KindResourceExhausted, msg, err)
	case containsAny(stderr, modelMarkers):
		return NewError(KindModelUnavailable, msg, err)
	case containsAny(stderr, inputMarkers):
		return NewError(KindInvalidInput, msg, err)
	default:
		return NewError(KindUnknown, msg, err)
	}
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

func stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// whisperxOutput は whisperx --output_format json の出力です。
type whisperxOutput struct {
	Segments []whisperxSegment `json:"segments"`
	Language string            `json:"language"`
}

type whisperxSegment struct {
	Start      float64        `json:"start"`
	End        float64        `json:"end"`
	Text       string         `json:"text"`
	Speaker    string         `json:"speaker"`
	AvgLogprob *float64       `json:"avg_logprob"`
	Words      []whisperxWord `json:"words"`
}

type whisperxWord struct {
	Word  string   `json:"word"`
	Start *float64 `json:"start"`
	End   *float64 `json:"end"`
	Score float64  `json:"score"`
}

// segments は出力を保存形式へ変換します。時刻の不正な区間は除外し、その件数を返します。
func (o whisperxOutput) segments() ([]transcript.Segment, int) {
	out := make([]transcript.Segment, 0, len(o.Segments))
	dropped := 0
	for _, s := range o.Segments {
		if s.End <= s.Start {
			dropped++
			continue
		}
		seg := transcript.Segment{
			StartTime:    s.Start,
			EndTime:      s.End,
			Text:         strings.TrimSpace(s.Text),
			SpeakerLabel: s.Speaker,
		}
		for _, w := range s.Words {
			// 数字などアライメントできなかった単語は時刻を持たない
			if w.Start == nil || w.End == nil {
				continue
			}
			start, end := math.Max(*w.Start, s.Start), math.Min(*w.End, s.End)
			if start > end {
				continue
			}
			seg.Words = append(seg.Words, transcript.Word{
				Word:       strings.TrimSpace(w.Word),
				Start:      start,
				End:        end,
				Confidence: w.Score,
			})
		}
		out = append(out, seg)
	}
	return out, dropped
}

// accuracy は区間の平均対数確率と単語スコアから信頼度の指標を求めます。
func (o whisperxOutput) accuracy() map[string]float64 {
	metrics := map[string]float64{}

	var confidences []float64
	var words int
	var wordTotal float64
	for _, s := range o.Segments {
		if s.AvgLogprob != nil {
			confidences = append(confidences, 1/(1+math.Exp(-*s.AvgLogprob)))
		}
		for _, w := range s.Words {
			if w.Start == nil {
				continue
			}
			words++
			wordTotal += w.Score
		}
	}
	if len(confidences) > 0 {
		lo, hi, sum := confidences[0], confidences[0], 0.0
		for _, c := range confidences {
			lo = math.Min(lo, c)
			hi = math.Max(hi, c)
			sum += c
		}
		metrics["average_confidence"] = sum / float64(len(confidences))
		metrics["min_confidence"] = lo
		metrics["max_confidence"] = hi
	}
	if words > 0 {
		metrics["word_level_confidence"] = wordTotal / float64(words)
		metrics["total_words"] = float64(words)
	}
	return metrics
}
