package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"

	"github.com/voicenexus/voicenexus/internal/audio"
	"github.com/voicenexus/voicenexus/internal/outputs"
	"github.com/voicenexus/voicenexus/internal/queue"
	"github.com/voicenexus/voicenexus/internal/tts"
)

// SpeechRequest is the body of POST /v1/audio/speech. Zero numeric fields
// take the service defaults.
type SpeechRequest struct {
	Model             string  `json:"model"`
	Input             string  `json:"input"`
	Voice             string  `json:"voice"`
	Emotion           string  `json:"emotion"`
	ResponseFormat    string  `json:"response_format"`
	Speed             float64 `json:"speed"`
	Temperature       float64 `json:"temperature"`
	TopP              float64 `json:"top_p"`
	TopK              int     `json:"top_k"`
	RepetitionPenalty float64 `json:"repetition_penalty"`
	SaveAudio         bool    `json:"save_audio"`
	SaveName          string  `json:"save_name"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"service": s.config.Service,
		"version": s.config.Version,
		"status":  "running",
		"engine":  s.config.Controller.EngineName(),
	})
}

func (s *Server) handleVoices(w http.ResponseWriter, _ *http.Request) {
	listing, err := s.config.Catalog.List()
	if err != nil {
		s.logger.Error("Failed to list voices", "error", err)
		writeError(w, tts.NewTTSError(tts.ErrorCodeInternal, "failed to list voices", err), "")
		return
	}
	writeJSON(w, http.StatusOK, listing)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	limit := s.config.Uploader.MaxSize()
	r.Body = http.MaxBytesReader(w, r.Body, limit+maxJSONBody)

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeJSON(w, http.StatusOK, uploadFailure(fmt.Errorf("unable to read upload: %w", err)))
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusOK, uploadFailure(errors.New("missing form file \"file\"")))
		return
	}
	defer func() { _ = file.Close() }()

	// one byte past the limit is enough to report the upload as too large
	data, err := io.ReadAll(io.LimitReader(file, limit+1))
	if err != nil {
		writeJSON(w, http.StatusOK, uploadFailure(fmt.Errorf("unable to read upload: %w", err)))
		return
	}

	res, err := s.config.Uploader.Upload(r.FormValue("voice_id"), r.FormValue("emotion"), header.Filename, data)
	if err != nil {
		s.logger.Warn("Upload refused", "filename", header.Filename, "error", err)
		writeJSON(w, http.StatusOK, uploadFailure(err))
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func uploadFailure(err error) map[string]any {
	return map[string]any{"success": false, "message": err.Error()}
}

// handleSpeech never queues a caller-chosen id. A client X-Request-ID is
// kept as a correlation id and echoed in X-Correlation-ID.
func (s *Server) handleSpeech(w http.ResponseWriter, r *http.Request) {
	correlationID := r.Header.Get(headerRequestID)
	if correlationID != "" {
		w.Header().Set(headerCorrelationID, correlationID)
	}

	var body SpeechRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	if err := dec.Decode(&body); err != nil {
		writeError(w, tts.NewTTSError(tts.ErrorCodeInvalidRequest, "invalid request body", err), "")
		return
	}
	format, err := audio.ParseFormat(body.ResponseFormat)
	if err != nil {
		writeError(w, tts.NewTTSError(tts.ErrorCodeInvalidRequest, "response_format must be wav or mp3", err), "")
		return
	}

	res, err := s.config.Controller.Synthesize(r.Context(), tts.Request{
		CorrelationID:     correlationID,
		Text:              body.Input,
		Voice:             body.Voice,
		Emotion:           body.Emotion,
		Speed:             body.Speed,
		Temperature:       body.Temperature,
		TopP:              body.TopP,
		TopK:              body.TopK,
		RepetitionPenalty: body.RepetitionPenalty,
	})
	if err != nil {
		writeError(w, err, "")
		return
	}

	data, err := s.config.Encoder.Encode(r.Context(), res.Audio, format)
	if err != nil {
		s.logger.Error("Encoding failed", "request_id", res.RequestID, "format", format, "error", err)
		writeError(w, tts.NewTTSError(tts.ErrorCodeInternal, "failed to encode audio", err), res.RequestID)
		return
	}

	if body.SaveAudio {
		s.saveOutput(w, res.RequestID, body.SaveName, format, data)
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=speech.%s", format))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set(headerRequestID, res.RequestID)
	w.Header().Set(headerQueuePosition, strconv.Itoa(res.Position))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// saveOutput stores the encoded audio. A failure is logged and the
// response is still served.
func (s *Server) saveOutput(w http.ResponseWriter, requestID, name string, format audio.Format, data []byte) {
	if s.config.Outputs == nil {
		s.logger.Warn("save_audio requested but the output store is disabled", "request_id", requestID)
		return
	}
	if name == "" {
		name = requestID
	}
	name = outputs.SanitizeName(name)
	if path.Ext(name) != "."+string(format) {
		name += "." + string(format)
	}
	e, err := s.config.Outputs.Put(name, data)
	if err != nil {
		s.logger.Warn("Failed to save output", "request_id", requestID, "name", name, "error", err)
		return
	}
	w.Header().Set(headerOutputName, e.Name)
}

func (s *Server) handleQueueStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.config.Controller.Queue().Snapshot())
}

// StatsResponse is the body of GET /v1/stats.
type StatsResponse struct {
	Engine     string              `json:"engine"`
	Queue      queue.Stats         `json:"queue"`
	Entries    []queue.Entry       `json:"entries"`
	Executor   tts.ExecutorStats   `json:"executor"`
	Waiting    int                 `json:"executor_waiting"`
	Controller tts.ControllerStats `json:"controller"`
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	ctrl := s.config.Controller
	writeJSON(w, http.StatusOK, StatsResponse{
		Engine:     ctrl.EngineName(),
		Queue:      ctrl.Queue().Stats(),
		Entries:    ctrl.Queue().Entries(),
		Executor:   ctrl.Executor().Stats(),
		Waiting:    ctrl.Executor().Waiting(),
		Controller: ctrl.Stats(),
	})
}

func (s *Server) handleOutputs(w http.ResponseWriter, _ *http.Request) {
	list := []outputs.Entry{}
	if s.config.Outputs != nil {
		list = s.config.Outputs.List()
	}
	writeJSON(w, http.StatusOK, map[string]any{"outputs": list})
}

func (s *Server) handleOutput(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if s.config.Outputs == nil {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Detail: "output store disabled", Code: tts.ErrorCodeAssetNotFound})
		return
	}

	data, e, err := s.config.Outputs.Get(name)
	if err != nil {
		if errors.Is(err, outputs.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, ErrorResponse{Detail: fmt.Sprintf("output %q not found", name), Code: tts.ErrorCodeAssetNotFound})
			return
		}
		writeError(w, tts.NewTTSError(tts.ErrorCodeInternal, "failed to read output", err), "")
		return
	}

	contentType := "application/octet-stream"
	if f, err := audio.ParseFormat(trimDot(path.Ext(e.Name))); err == nil && path.Ext(e.Name) != "" {
		contentType = f.ContentType()
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", e.Name))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func trimDot(ext string) string {
	if ext != "" && ext[0] == '.' {
		return ext[1:]
	}
	return ext
}
