package tts

import (
	"context"
	"errors"
	"fmt"

	"github.com/voicenexus/voicenexus/internal/voice"
)

// Common pipeline errors
var (
	// ErrAdmissionRejected indicates the admission queue is at capacity
	ErrAdmissionRejected = errors.New("server busy, admission queue is full")

	// ErrAssetNotFound indicates no reference audio for the voice/emotion pair
	ErrAssetNotFound = voice.ErrAssetNotFound

	// ErrSynthesisFailed indicates the engine or the exclusive section failed
	ErrSynthesisFailed = errors.New("speech synthesis failed")

	// ErrClassifierDegraded indicates the sentiment classifier fell back to the default label
	ErrClassifierDegraded = errors.New("sentiment classification degraded")

	// ErrInstanceUnreachable indicates a cluster backend could not be reached
	ErrInstanceUnreachable = errors.New("backend instance unreachable")

	// ErrInvalidRequest indicates a request that failed validation
	ErrInvalidRequest = errors.New("invalid request")

	// ErrCanceled indicates the caller went away before synthesis started
	ErrCanceled = errors.New("request canceled")
)

// ErrorCode identifies specific error types
type ErrorCode string

const (
	ErrorCodeAdmissionRejected   ErrorCode = "ADMISSION_REJECTED"
	ErrorCodeAssetNotFound       ErrorCode = "ASSET_NOT_FOUND"
	ErrorCodeSynthesisFailed     ErrorCode = "SYNTHESIS_FAILED"
	ErrorCodeClassifierDegraded  ErrorCode = "CLASSIFIER_DEGRADED"
	ErrorCodeInstanceUnreachable ErrorCode = "INSTANCE_UNREACHABLE"
	ErrorCodeInvalidRequest      ErrorCode = "INVALID_REQUEST"
	ErrorCodeCanceled            ErrorCode = "CANCELED"
	ErrorCodeTimeout             ErrorCode = "TIMEOUT"
	ErrorCodeInternal            ErrorCode = "INTERNAL"
)

var codeSentinels = map[ErrorCode]error{
	ErrorCodeAdmissionRejected:   ErrAdmissionRejected,
	ErrorCodeAssetNotFound:       ErrAssetNotFound,
	ErrorCodeSynthesisFailed:     ErrSynthesisFailed,
	ErrorCodeClassifierDegraded:  ErrClassifierDegraded,
	ErrorCodeInstanceUnreachable: ErrInstanceUnreachable,
	ErrorCodeInvalidRequest:      ErrInvalidRequest,
	ErrorCodeCanceled:            ErrCanceled,
}

// TTSError represents a pipeline error with additional context
type TTSError struct {
	Code    ErrorCode
	Message string
	Cause   error
	Context map[string]interface{}
}

// Error implements the error interface
func (e *TTSError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *TTSError) Unwrap() error {
	return e.Cause
}

// Is matches the sentinel that corresponds to the error code, so
// errors.Is(err, ErrSynthesisFailed) holds for any SYNTHESIS_FAILED error.
func (e *TTSError) Is(target error) bool {
	s, ok := codeSentinels[e.Code]
	return ok && s == target
}

// NewTTSError creates a new TTS error with context
func NewTTSError(code ErrorCode, message string, cause error) *TTSError {
	return &TTSError{
		Code:    code,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

// WithContext adds context to the error
func (e *TTSError) WithContext(key string, value interface{}) *TTSError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// RequestID returns the request id recorded in the error context, if any.
func (e *TTSError) RequestID() string {
	id, _ := e.Context["request_id"].(string)
	return id
}

// IsRetryable returns true if the client may retry the same request later
func (e *TTSError) IsRetryable() bool {
	switch e.Code {
	case ErrorCodeAdmissionRejected,
		ErrorCodeInstanceUnreachable,
		ErrorCodeTimeout:
		return true
	default:
		return false
	}
}

// CodeOf returns the error code carried by err, classifying bare sentinels
// and context errors as well.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var te *TTSError
	if errors.As(err, &te) {
		return te.Code
	}
	for code, sentinel := range codeSentinels {
		if errors.Is(err, sentinel) {
			return code
		}
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return ErrorCodeTimeout
	case errors.Is(err, context.Canceled):
		return ErrorCodeCanceled
	}
	return ErrorCodeInternal
}
