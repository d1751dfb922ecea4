// Package httpapi serves the filter pipeline over HTTP: generating filters
// from category documents, linting scripts, dry-running them against
// messages, detecting patterns, and managing stored scripts.
//
// Every route sits under /api/v1 and needs "Authorization: Bearer <key>".
package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/migadu/sieveforge/analyze"
	"github.com/migadu/sieveforge/config"
	"github.com/migadu/sieveforge/consts"
	"github.com/migadu/sieveforge/logger"
	"github.com/migadu/sieveforge/pkg/metrics"
	"github.com/migadu/sieveforge/storage"
)

// Server represents the HTTP API server
type Server struct {
	addr         string
	apiKey       string
	allowedHosts []string
	pipeline     *analyze.Pipeline
	repo         storage.Repository
	server       *http.Server
	tls          bool
	tlsCertFile  string
	tlsKeyFile   string
	maxBodyBytes int64
	readTimeout  time.Duration
	writeTimeout time.Duration
}

// New creates a new HTTP API server. repo may be nil, which disables the
// script routes.
func New(pipeline *analyze.Pipeline, repo storage.Repository, cfg config.HTTPAPIConfig) (*Server, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required for HTTP API server")
	}
	if cfg.TLS && (cfg.TLSCertFile == "" || cfg.TLSKeyFile == "") {
		return nil, fmt.Errorf("TLS certificate and key files are required when TLS is enabled")
	}
	readTimeout, err := cfg.GetReadTimeout()
	if err != nil {
		return nil, fmt.Errorf("http_api.read_timeout: %w", err)
	}
	writeTimeout, err := cfg.GetWriteTimeout()
	if err != nil {
		return nil, fmt.Errorf("http_api.write_timeout: %w", err)
	}

	return &Server{
		addr:         cfg.Addr,
		apiKey:       cfg.APIKey,
		allowedHosts: cfg.AllowedHosts,
		pipeline:     pipeline,
		repo:         repo,
		tls:          cfg.TLS,
		tlsCertFile:  cfg.TLSCertFile,
		tlsKeyFile:   cfg.TLSKeyFile,
		maxBodyBytes: cfg.MaxBodyBytes,
		readTimeout:  readTimeout,
		writeTimeout: writeTimeout,
	}, nil
}

// Start runs the server until ctx is cancelled. Startup and serve errors
// are sent to errChan.
func Start(ctx context.Context, pipeline *analyze.Pipeline, repo storage.Repository, cfg config.HTTPAPIConfig, errChan chan error) {
	server, err := New(pipeline, repo, cfg)
	if err != nil {
		errChan <- fmt.Errorf("failed to create HTTP API server: %w", err)
		return
	}

	protocol := "HTTP"
	if cfg.TLS {
		protocol = "HTTPS"
	}
	logger.Info("HTTP API: Starting server", "protocol", protocol, "addr", cfg.Addr)
	if err := server.start(ctx); err != nil && err != http.ErrServerClosed && ctx.Err() == nil {
		errChan <- fmt.Errorf("HTTP API server failed: %w", err)
	}
}

func (s *Server) start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  s.readTimeout,
		WriteTimeout: s.writeTimeout,
	}

	go func() {
		<-ctx.Done()
		logger.Info("HTTP API: Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("HTTP API: Error shutting down server", "error", err)
		}
	}()

	if s.tls {
		return s.server.ListenAndServeTLS(s.tlsCertFile, s.tlsKeyFile)
	}
	return s.server.ListenAndServe()
}

// Handler returns the router with all middleware attached.
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()

	router.Use(s.metricsMiddleware)
	router.Use(s.loggingMiddleware)
	router.Use(s.allowedHostsMiddleware)
	router.Use(s.authMiddleware)

	v1 := router.PathPrefix("/api/v1").Subrouter()

	v1.HandleFunc("/filters/generate", s.handleGenerate).Methods("POST")
	v1.HandleFunc("/filters/validate", s.handleValidate).Methods("POST")
	v1.HandleFunc("/filters/test", s.handleTest).Methods("POST")
	v1.HandleFunc("/patterns/detect", s.handleDetect).Methods("POST")

	v1.HandleFunc("/scripts", s.handleListScripts).Methods("GET")
	v1.HandleFunc("/scripts/{name}", s.handleGetScript).Methods("GET")
	v1.HandleFunc("/scripts/{name}", s.handlePutScript).Methods("PUT")
	v1.HandleFunc("/scripts/{name}", s.handleDeleteScript).Methods("DELETE")

	v1.HandleFunc("/health", s.handleHealth).Methods("GET")

	return router
}

// Middleware functions

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := "unmatched"
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		metrics.HTTPRequestsTotal.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// loggingMiddleware tags every request with an ID, echoed in X-Request-ID
// and stored in the context under consts.RequestIDKey.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)
		r = r.WithContext(context.WithValue(r.Context(), consts.RequestIDKey, requestID))

		logger.Debug("HTTP API: Request", "method", r.Method, "path", r.URL.Path, "remote", r.RemoteAddr, "request_id", requestID)
		next.ServeHTTP(w, r)
		logger.Debug("HTTP API: Request completed", "method", r.Method, "path", r.URL.Path, "request_id", requestID, "duration", time.Since(start))
	})
}

func (s *Server) allowedHostsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(s.allowedHosts) == 0 {
			next.ServeHTTP(w, r)
			return
		}

		clientIP := getClientIP(r)

		allowed := false
		for _, allowedHost := range s.allowedHosts {
			if allowedHost == clientIP {
				allowed = true
				break
			}
			if strings.Contains(allowedHost, "/") {
				if _, cidr, err := net.ParseCIDR(allowedHost); err == nil {
					if ip := net.ParseIP(clientIP); ip != nil && cidr.Contains(ip) {
						allowed = true
						break
					}
				}
			}
		}

		if !allowed {
			s.writeError(w, http.StatusForbidden, "Host not allowed")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			s.writeError(w, http.StatusUnauthorized, "Authorization header required")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			s.writeError(w, http.StatusUnauthorized, "Authorization header must be 'Bearer <token>'")
			return
		}

		if subtle.ConstantTimeCompare([]byte(parts[1]), []byte(s.apiKey)) != 1 {
			s.writeError(w, http.StatusForbidden, "Invalid API key")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Utility functions

func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		return strings.TrimSpace(ips[0])
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, _ := net.SplitHostPort(r.RemoteAddr)
	return host
}

func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body := r.Body
	if s.maxBodyBytes > 0 {
		body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, http.StatusRequestEntityTooLarge, "Request body too large")
		} else {
			s.writeError(w, http.StatusBadRequest, "Failed to read request body")
		}
		return nil, false
	}
	return data, true
}

func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	data, ok := s.readBody(w, r)
	if !ok {
		return false
	}
	if err := json.Unmarshal(data, v); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON: "+err.Error())
		return false
	}
	return true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Warn("HTTP API: Error encoding JSON response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// writeDomainError maps the pipeline's sentinel errors to status codes.
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, consts.ErrScriptNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, consts.ErrInvalidInput),
		errors.Is(err, consts.ErrInvalidFilter),
		errors.Is(err, consts.ErrInvalidAddress):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, consts.ErrScriptRejected),
		errors.Is(err, consts.ErrEmptyResult):
		s.writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		logger.Error("HTTP API: Request failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}
