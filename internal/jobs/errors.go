package jobs

import "fmt"

// Code は呼び出し元へ同期的に返すエラーの分類です。
type Code string

const (
	CodeNotFound     Code = "NOT_FOUND"
	CodeConflict     Code = "CONFLICT"
	CodeInvalidInput Code = "INVALID_INPUT"
	CodeUnavailable  Code = "UNAVAILABLE"
)

// Error は Submit/Status/Cancel/Subscribe が返すエラーです。
type Error struct {
	Code    Code
	Message string
	Err     error
}

var (
	ErrNotFound     = &Error{Code: CodeNotFound, Message: "job not found"}
	ErrConflict     = &Error{Code: CodeConflict, Message: "conflicting job state"}
	ErrInvalidInput = &Error{Code: CodeInvalidInput, Message: "invalid input"}
	ErrUnavailable  = &Error{Code: CodeUnavailable, Message: "service is shutting down"}
)

func newError(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is はコードが一致すれば同一のエラーとみなします。
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

func notFound(jobID string) *Error {
	return newError(CodeNotFound, fmt.Sprintf("job %s not found", jobID), nil)
}

func conflict(jobID string, current, want Status) *Error {
	return newError(CodeConflict, fmt.Sprintf("job %s is %s, expected %s", jobID, current, want), nil)
}
