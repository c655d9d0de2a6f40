// Package httpx provides the HTTP server wrapper, JSON response helpers and
// middleware shared by the agroyield binaries, plus the outbound client
// used for imagery requests.
package httpx

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/HatiCode/agroyield/pkg/errs"
	agrotls "github.com/HatiCode/agroyield/pkg/tls"
)

// Server is an http.Server that shuts down gracefully when its context ends.
type Server struct {
	server   *http.Server
	logger   *slog.Logger
	certFile string
	keyFile  string
}

// NewServer creates a server on addr. Analysis requests carry whole rasters,
// so the read and write timeouts are generous.
func NewServer(addr string, handler http.Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		server: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       60 * time.Second,
			WriteTimeout:      120 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		logger: logger,
	}
}

// EnableTLS serves HTTPS with the given certificate pair. cfg may carry a
// client CA pool for mutual TLS.
func (s *Server) EnableTLS(cfg *tls.Config, certFile, keyFile string) {
	s.server.TLSConfig = cfg
	s.certFile = certFile
	s.keyFile = keyFile
}

// Run serves until ctx is canceled, then drains in-flight requests for up
// to drain before returning.
func (s *Server) Run(ctx context.Context, drain time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if s.certFile != "" {
			s.logger.Info("starting HTTPS server", "addr", s.server.Addr)
			err = s.server.ListenAndServeTLS(s.certFile, s.keyFile)
		} else {
			s.logger.Info("starting HTTP server", "addr", s.server.Addr)
			err = s.server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("stopping HTTP server", "drain", drain)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), drain)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	if err := <-errCh; err != nil {
		return fmt.Errorf("server failed: %w", err)
	}
	s.logger.Info("HTTP server stopped")
	return nil
}

// ErrorResponse is the body of every error answer.
type ErrorResponse struct {
	Error string    `json:"error"`
	Code  errs.Code `json:"code,omitempty"`
}

// WriteJSON encodes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	return nil
}

// WriteError answers {"error": msg, "code": code}. The status comes from
// the error's code; errors without one map to 500.
func WriteError(w http.ResponseWriter, err error) {
	code := errs.CodeOf(err)
	if jsonErr := WriteJSON(w, code.HTTPStatus(), ErrorResponse{Error: err.Error(), Code: code}); jsonErr != nil {
		slog.Error("failed to write error response", "error", jsonErr, "original_error", err)
	}
}

// WriteErrorMessage answers with an explicit status and message.
func WriteErrorMessage(w http.ResponseWriter, status int, message string) {
	if err := WriteJSON(w, status, ErrorResponse{Error: message}); err != nil {
		slog.Error("failed to write error message", "error", err, "message", message)
	}
}

// HealthHandler answers 200 while check succeeds and 503 with the check's
// error otherwise. A nil check always succeeds.
func HealthHandler(check func() error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			if err := check(); err != nil {
				WriteErrorMessage(w, http.StatusServiceUnavailable, err.Error())
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			slog.Error("failed to write health response", "error", err)
		}
	}
}

// Observer receives one call per completed request.
type Observer func(route string, status int, elapsed time.Duration)

// LoggingMiddleware logs each request and reports it to observe, which may
// be nil. route labels the handler so metrics stay low-cardinality.
func LoggingMiddleware(logger *slog.Logger, route string, observe Observer) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			elapsed := time.Since(start)

			if observe != nil {
				observe(route, rec.status, elapsed)
			}
			logger.Info("HTTP request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.status,
				"duration_ms", elapsed.Milliseconds(),
			)
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// RecoveryMiddleware turns a handler panic into a logged 500.
func RecoveryMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if v := recover(); v != nil {
					logger.Error("panic recovered", "error", v, "method", r.Method, "path", r.URL.Path)
					WriteErrorMessage(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// NewClient creates an outbound client. When tlsCfg is enabled the
// transport trusts tlsCfg.CAFile and presents the certificate pair if set.
func NewClient(tlsCfg agrotls.Config, timeout time.Duration) (*http.Client, error) {
	clientTLS, err := agrotls.ClientConfig(tlsCfg)
	if err != nil {
		return nil, fmt.Errorf("create TLS config: %w", err)
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 4,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 5 * time.Second,
			TLSClientConfig:     clientTLS,
		},
	}, nil
}
