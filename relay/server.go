// Package relay exposes the analysis client over a small local HTTP API
// so browser front ends can submit and poll without talking to the backend
// directly.
package relay

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"go_analyzer/analysis"
	"go_analyzer/logging"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

// Tracker admits requests while the process is not shutting down.
// *shutdown.Manager implements it.
type Tracker interface {
	Track(name string, fn func() error) error
}

// Config holds relay options.
type Config struct {
	AllowedOrigins []string
	MaxFileSize    int64
}

// Server handles /api/analyze and /api/result/{taskId}.
type Server struct {
	submitter analysis.Submitter
	querier   analysis.StatusQuerier
	tracker   Tracker
	logger    *logging.Logger
	config    Config
}

var errShuttingDown = errors.New("relay: shutting down")

// New creates a Server. tracker may be nil.
func New(submitter analysis.Submitter, querier analysis.StatusQuerier, tracker Tracker, logger *logging.Logger, config Config) (*Server, error) {
	if submitter == nil || querier == nil {
		return nil, analysis.ErrNilClient
	}
	if logger == nil {
		return nil, analysis.ErrNilLogger
	}
	if len(config.AllowedOrigins) == 0 {
		config.AllowedOrigins = []string{"*"}
	}
	return &Server{
		submitter: submitter,
		querier:   querier,
		tracker:   tracker,
		logger:    logger.Named("relay"),
		config:    config,
	}, nil
}

// Handler returns the full router with middleware.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(s.logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.config.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Cache-Control", "Pragma"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Route("/api", s.Attach)
	return r
}

// Attach mounts the API routes on r.
func (s *Server) Attach(r chi.Router) {
	r.Post("/analyze", s.handleAnalyze)
	r.Get("/result/{taskId}", s.handleResult)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	s.track(w, "analyze", func() {
		file, err := s.readUpload(w, r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		taskID, err := s.submitter.Submit(r.Context(), file)
		if err != nil {
			if r.Context().Err() != nil {
				return
			}
			code := submitStatus(err)
			if code == http.StatusTooManyRequests {
				w.Header().Set("Retry-After", "1")
				writeError(w, code, "too many submissions, try again shortly")
				return
			}
			writeError(w, code, analysis.UserMessage(err))
			return
		}

		writeJSON(w, http.StatusOK, map[string]string{"taskId": taskID})
	})
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskId")

	s.track(w, "result", func() {
		out, err := s.querier.PollOnce(r.Context(), taskID)
		if err != nil {
			if r.Context().Err() != nil {
				return
			}
			s.logger.Warn("status query failed", zap.String("task_id", taskID), zap.Error(err))
			writeError(w, http.StatusBadGateway, analysis.MsgLostConnection)
			return
		}

		switch out.Kind {
		case analysis.OutcomePending:
			writeJSON(w, http.StatusAccepted, map[string]string{"status": "processing"})
		case analysis.OutcomeSuccess:
			w.Header().Set("Content-Type", out.ContentType)
			w.Header().Set("Cache-Control", "no-store")
			w.WriteHeader(http.StatusOK)
			w.Write(out.Payload)
		default:
			writeError(w, http.StatusBadGateway, out.Message)
		}
	})
}

// readUpload extracts the "image" part of a multipart request.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) (*analysis.File, error) {
	if s.config.MaxFileSize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxFileSize+(1<<20))
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, errors.New("the uploaded file is too large")
		}
		return nil, errors.New("No image file provided")
	}
	defer r.MultipartForm.RemoveAll()

	f, header, err := r.FormFile("image")
	if err != nil {
		return nil, errors.New("No image file provided")
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, errors.New("could not read the uploaded file")
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "application/octet-stream" {
		contentType = ""
	}
	return analysis.NewFile(header.Filename, contentType, data), nil
}

func (s *Server) track(w http.ResponseWriter, name string, fn func()) {
	if s.tracker == nil {
		fn()
		return
	}
	err := s.tracker.Track(name, func() error {
		fn()
		return nil
	})
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, errShuttingDown.Error())
	}
}

// submitStatus maps a submission failure onto the relay's status code.
func submitStatus(err error) int {
	if errors.Is(err, analysis.ErrRateLimited) {
		return http.StatusTooManyRequests
	}
	var se *analysis.SubmitError
	if !errors.As(err, &se) {
		return http.StatusInternalServerError
	}
	switch se.Kind {
	case analysis.KindValidation:
		return http.StatusBadRequest
	case analysis.KindConfig:
		return http.StatusInternalServerError
	default:
		return http.StatusBadGateway
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	if msg == "" {
		msg = http.StatusText(code)
	}
	writeJSON(w, code, map[string]string{"error": msg})
}

// HTTPServer wraps Handler in an http.Server listening on addr.
func (s *Server) HTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       time.Minute,
	}
}
