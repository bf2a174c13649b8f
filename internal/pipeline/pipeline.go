// Package pipeline は文字起こしエンジン（音声認識 + 話者分離）との境界を定義します。
package pipeline

import (
	"context"
	"errors"
	"fmt"
)

// Kind はパイプライン失敗の分類です。
type Kind string

const (
	KindInvalidInput      Kind = "InvalidInput"
	KindModelUnavailable  Kind = "ModelUnavailable"
	KindResourceExhausted Kind = "ResourceExhausted"
	KindUnknown           Kind = "Unknown"
)

// Options は文字起こしの実行オプションです。
type Options struct {
	Model       string `json:"model"`
	Language    string `json:"language,omitempty"`
	Diarization bool   `json:"diarization"`
	MinSpeakers int    `json:"minSpeakers,omitempty"`
	MaxSpeakers int    `json:"maxSpeakers,omitempty"`
}

// Request は1回の実行に必要な入力です。
type Request struct {
	JobID        string
	GuildID      string
	AudioPath    string
	MetadataPath string
	Options      Options
}

// Runner は文字起こしパイプラインを同期的に実行します。
// 成功時は生成したトランスクリプトのパスを返します。
type Runner interface {
	Run(ctx context.Context, req Request) (string, error)
}

// RunnerFunc は関数を Runner として扱うためのアダプタです。
type RunnerFunc func(ctx context.Context, req Request) (string, error)

// Run は f(ctx, req) を呼び出します。
func (f RunnerFunc) Run(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// Error はエンジンから返る分類付きエラーです。
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

// NewError は Error を作成します。
func NewError(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// KindOf はエラーの分類を返します。分類のないエラーは Unknown です。
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) && pe.Kind != "" {
		return pe.Kind
	}
	return KindUnknown
}
