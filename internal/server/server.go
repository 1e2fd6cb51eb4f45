package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"

	"github.com/voicenexus/voicenexus/internal/audio"
	"github.com/voicenexus/voicenexus/internal/outputs"
	"github.com/voicenexus/voicenexus/internal/tts"
	"github.com/voicenexus/voicenexus/internal/voice"
)

const (
	headerRequestID     = "X-Request-ID"
	headerCorrelationID = "X-Correlation-ID"
	headerQueuePosition = "X-Queue-Position"
	headerOutputName    = "X-Output-Name"

	maxJSONBody     = 1 << 20
	shutdownTimeout = 10 * time.Second
)

// Config wires a Server to its collaborators. Outputs may be nil, which
// disables saved outputs.
type Config struct {
	Service string
	Version string

	Controller *tts.Controller
	Catalog    *voice.Catalog
	Uploader   *voice.Uploader
	Encoder    *audio.Encoder
	Outputs    *outputs.Store
}

// Server is the HTTP front end of one synthesis instance.
type Server struct {
	config Config
	mux    *http.ServeMux
	logger *log.Logger
}

// New returns a Server with all routes registered.
func New(config Config) (*Server, error) {
	if config.Controller == nil {
		return nil, errors.New("controller cannot be nil")
	}
	if config.Catalog == nil || config.Uploader == nil {
		return nil, errors.New("voice catalog and uploader are required")
	}
	if config.Encoder == nil {
		config.Encoder = audio.NewEncoder(nil)
	}
	if config.Service == "" {
		config.Service = "VoiceNexus"
	}

	s := &Server{
		config: config,
		mux:    http.NewServeMux(),
		logger: log.WithPrefix("http"),
	}

	s.mux.HandleFunc("GET /{$}", s.handleHealth)
	s.mux.HandleFunc("GET /v1/voices", s.handleVoices)
	s.mux.HandleFunc("POST /v1/voices/upload", s.handleUpload)
	s.mux.HandleFunc("POST /v1/audio/speech", s.handleSpeech)
	s.mux.HandleFunc("GET /v1/queue/status", s.handleQueueStatus)
	s.mux.HandleFunc("GET /v1/stats", s.handleStats)
	s.mux.HandleFunc("GET /v1/outputs", s.handleOutputs)
	s.mux.HandleFunc("GET /v1/outputs/{name}", s.handleOutput)
	return s, nil
}

// Handler returns the root handler with logging and panic recovery.
func (s *Server) Handler() http.Handler {
	return s.recoverer(s.logRequests(s.mux))
}

// ListenAndServe serves on addr until ctx is canceled, then drains
// in-flight requests.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("unable to listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is ListenAndServe over an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	s.logger.Info("Listening", "addr", ln.Addr().String(),
		"max_upload", humanize.IBytes(uint64(s.config.Uploader.MaxSize())), //nolint:gosec
		"queue", s.config.Controller.Queue().Capacity())

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(b)
	r.bytes += n
	return n, err
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)
		if rec.status == 0 {
			rec.status = http.StatusOK
		}
		s.logger.Debug("Request", "method", r.Method, "path", r.URL.Path,
			"status", rec.status, "bytes", rec.bytes, "duration", time.Since(start))
	})
}

func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				if v == http.ErrAbortHandler {
					panic(v)
				}
				s.logger.Error("Handler panic", "path", r.URL.Path, "panic", v)
				writeError(w, tts.NewTTSError(tts.ErrorCodeInternal, "internal server error", nil), "")
			}
		}()
		next.ServeHTTP(w, r)
	})
}
