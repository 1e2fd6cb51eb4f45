package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/voicenexus/voicenexus/internal/queue"
	"github.com/voicenexus/voicenexus/internal/tts"
)

// statusClientClosedRequest is reported when the caller went away first.
const statusClientClosedRequest = 499

// retryAfter is the hint sent with a rejected request, in seconds.
const retryAfter = 5

// ErrorResponse is the JSON body of every error reply.
type ErrorResponse struct {
	Detail         string          `json:"detail"`
	Code           tts.ErrorCode   `json:"code"`
	RequestID      string          `json:"request_id,omitempty"`
	AttemptedPaths []string        `json:"attempted_paths,omitempty"`
	Queue          *queue.Snapshot `json:"queue,omitempty"`
}

// StatusFor maps an error code to its HTTP status.
func StatusFor(code tts.ErrorCode) int {
	switch code {
	case tts.ErrorCodeAdmissionRejected:
		return http.StatusServiceUnavailable
	case tts.ErrorCodeAssetNotFound:
		return http.StatusNotFound
	case tts.ErrorCodeInvalidRequest:
		return http.StatusBadRequest
	case tts.ErrorCodeInstanceUnreachable:
		return http.StatusBadGateway
	case tts.ErrorCodeTimeout:
		return http.StatusGatewayTimeout
	case tts.ErrorCodeCanceled:
		return statusClientClosedRequest
	default:
		return http.StatusInternalServerError
	}
}

// NewErrorResponse builds the reply body for err.
func NewErrorResponse(err error, requestID string) ErrorResponse {
	resp := ErrorResponse{
		Detail:    err.Error(),
		Code:      tts.CodeOf(err),
		RequestID: requestID,
	}

	var te *tts.TTSError
	if errors.As(err, &te) {
		resp.Detail = te.Message
		if te.Cause != nil {
			resp.Detail += ": " + te.Cause.Error()
		}
		if id := te.RequestID(); id != "" {
			resp.RequestID = id
		}
		if paths, ok := te.Context["attempted_paths"].([]string); ok {
			resp.AttemptedPaths = paths
		}
		if snap, ok := te.Context["queue"].(queue.Snapshot); ok && te.Code == tts.ErrorCodeAdmissionRejected {
			resp.Queue = &snap
		}
	}
	return resp
}

// writeError renders err with the status its code maps to.
func writeError(w http.ResponseWriter, err error, requestID string) {
	resp := NewErrorResponse(err, requestID)
	status := StatusFor(resp.Code)
	if resp.Code == tts.ErrorCodeAdmissionRejected {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	}
	if resp.RequestID != "" {
		w.Header().Set(headerRequestID, resp.RequestID)
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
