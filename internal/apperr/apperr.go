// Package apperr defines the daemon's stable error-code taxonomy. Task and
// artifact rows persist a Code alongside a human-readable message so a
// restarted process (or a remote UI) can branch on failure kind without
// parsing strings.
package apperr

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrConflict        = errors.New("conflict")
)

// Code is a stable identifier persisted on tasks and artifacts.
type Code string

const (
	TextExtractFail   Code = "TEXT_EXTRACT_FAIL"
	PDFConvertTimeout Code = "PDF_CONVERT_TIMEOUT"
	PDFConvertFail    Code = "PDF_CONVERT_FAIL"
	ThumbRenderFail   Code = "THUMB_RENDER_FAIL"
	OpenAIRateLimit   Code = "OPENAI_RATE_LIMIT"
	OpenAIAuth        Code = "OPENAI_AUTH"
	EmbedDimMismatch  Code = "EMBED_DIM_MISMATCH"
	WatchdogTimeout   Code = "WATCHDOG_TIMEOUT"
	StoreConflict     Code = "STORE_CONFLICT"
	JSONCorrupted     Code = "JSON_CORRUPTED"
	Unknown           Code = "UNKNOWN"
)

// Error pairs a stable Code with a human-readable message and, optionally,
// the underlying cause. It implements error and Unwrap so callers can still
// use errors.Is/As against sentinels above or a wrapped cause.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func New(code Code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

func Wrap(code Code, msg string, cause error) *Error {
	return &Error{Code: code, Message: msg, Cause: cause}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// CodeOf extracts the Code from err if it (or something it wraps) is an
// *Error, else returns Unknown.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return Unknown
}
