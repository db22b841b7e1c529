package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/delsolprime/backoffice/internal/bulk"
	"github.com/delsolprime/backoffice/internal/citations"
	"github.com/delsolprime/backoffice/internal/crm"
	"github.com/delsolprime/backoffice/internal/generate"
	"github.com/delsolprime/backoffice/internal/indexnow"
	"github.com/delsolprime/backoffice/internal/linking"
	"github.com/delsolprime/backoffice/internal/property"
	"github.com/delsolprime/backoffice/internal/store"
	"github.com/delsolprime/backoffice/internal/translate"
)

// maxBodyBytes caps request bodies; article payloads can be large
const maxBodyBytes = 8 << 20

var errNotConfigured = errors.New("service not configured")

const corsAllowHeaders = "authorization, x-client-info, apikey, content-type"

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the response code for the access log
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
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

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)

		fields := []zap.Field{
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Int("bytes", rec.bytes),
			zap.Duration("duration", time.Since(start)),
		}
		if rec.status >= http.StatusInternalServerError {
			s.logger.Warn("request failed", fields...)
			return
		}
		s.logger.Debug("request", fields...)
	})
}

func (s *Server) recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				if v == http.ErrAbortHandler {
					panic(v)
				}
				s.logger.Error("handler panic",
					zap.String("path", r.URL.Path),
					zap.Any("panic", v),
					zap.Stack("stack"))
				writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type errorBody struct {
	Success *bool  `json:"success,omitempty"`
	Error   string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decode reads a JSON body into v. An empty body leaves v untouched.
func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return &requestError{msg: fmt.Sprintf("invalid JSON body: %v", err)}
	}
	return nil
}

// requestError is a malformed request detected by the server itself
type requestError struct{ msg string }

func (e *requestError) Error() string { return e.msg }

func badRequest(msg string) error { return &requestError{msg: msg} }

// statusFor maps service errors onto HTTP status codes
func statusFor(err error) int {
	var reqErr *requestError
	switch {
	case errors.As(err, &reqErr),
		errors.Is(err, crm.ErrValidation),
		errors.Is(err, linking.ErrClusterRequired),
		errors.Is(err, translate.ErrUnsupportedLanguage),
		errors.Is(err, translate.ErrNotEnglish),
		errors.Is(err, citations.ErrMissingInput),
		errors.Is(err, property.ErrMissingReference),
		errors.Is(err, indexnow.ErrNoURLs),
		errors.Is(err, generate.ErrMissingTopic),
		errors.Is(err, bulk.ErrUnknownOperation):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound),
		errors.Is(err, crm.ErrNotFound),
		errors.Is(err, linking.ErrEmptyCluster),
		errors.Is(err, property.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, bulk.ErrAlreadyRunning),
		errors.Is(err, bulk.ErrNotRunning):
		return http.StatusConflict
	case errors.Is(err, errNotConfigured),
		errors.Is(err, property.ErrNotConfigured),
		errors.Is(err, translate.ErrNoProvider),
		errors.Is(err, generate.ErrNoProvider),
		errors.Is(err, indexnow.ErrNoKey):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request error", zap.String("path", r.URL.Path), zap.Error(err))
	}
	f := false
	writeJSON(w, status, errorBody{Success: &f, Error: err.Error()})
}
