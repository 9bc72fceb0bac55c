package conversion

import (
	"errors"
	"fmt"
)

// Reason names a policy rejection. Rejections never change any state.
type Reason string

const (
	ReasonInsufficientCredits Reason = "insufficient_credits"
	ReasonDailyLimitReached   Reason = "daily_limit_reached"
	ReasonFileTooLarge        Reason = "file_too_large"
	ReasonSessionNotFound     Reason = "session_not_found"
	ReasonUnsupportedFormat   Reason = "unsupported_format"
	ReasonUnsupportedMedia    Reason = "unsupported_media"
)

var reasonMessages = map[Reason]string{
	ReasonInsufficientCredits: "not enough credits",
	ReasonDailyLimitReached:   "daily conversion limit reached",
	ReasonFileTooLarge:        "file is too large",
	ReasonSessionNotFound:     "no pending upload, send a file first",
	ReasonUnsupportedFormat:   "format not available for this file",
	ReasonUnsupportedMedia:    "only video and audio files are supported",
}

type RejectionError struct {
	Reason Reason
	Detail string
}

func (e *RejectionError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s", reasonMessages[e.Reason], e.Detail)
	}
	return reasonMessages[e.Reason]
}

// Message is the user-facing text for the rejection.
func (e *RejectionError) Message() string {
	return reasonMessages[e.Reason]
}

func (e *RejectionError) Is(target error) bool {
	t, ok := target.(*RejectionError)
	return ok && t.Reason == e.Reason
}

var (
	ErrInsufficientCredits = &RejectionError{Reason: ReasonInsufficientCredits}
	ErrDailyLimitReached   = &RejectionError{Reason: ReasonDailyLimitReached}
	ErrFileTooLarge        = &RejectionError{Reason: ReasonFileTooLarge}
	ErrSessionNotFound     = &RejectionError{Reason: ReasonSessionNotFound}
	ErrUnsupportedFormat   = &RejectionError{Reason: ReasonUnsupportedFormat}
	ErrUnsupportedMedia    = &RejectionError{Reason: ReasonUnsupportedMedia}
)

func reject(reason Reason, format string, args ...any) error {
	return &RejectionError{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

var (
	ErrDownloadFailed  = errors.New("download failed")
	ErrTranscodeFailed = errors.New("transcode failed")
	ErrStageFailed     = errors.New("stage failed")
)

// FailureError is a transient pipeline failure. Nothing was charged and the
// caller may upload again.
type FailureError struct {
	Step State
	Err  error
}

func (e *FailureError) Error() string {
	return fmt.Sprintf("%s: %v", e.sentinel(), e.Err)
}

func (e *FailureError) Unwrap() error {
	return e.Err
}

func (e *FailureError) Is(target error) bool {
	return target == e.sentinel()
}

func (e *FailureError) sentinel() error {
	switch e.Step {
	case StateDownloaded:
		return ErrDownloadFailed
	case StateTranscoded:
		return ErrTranscodeFailed
	default:
		return ErrStageFailed
	}
}

func fail(step State, err error) error {
	return &FailureError{Step: step, Err: err}
}
