// Package server exposes the OAuth consent endpoints.
package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/joshsymonds/awayreply/internal/auth"
)

const (
	msgAuthOK   = "Authentication successful!"
	msgAuthFail = "Error occurred during authentication."
)

// Authorizer runs the consent flow.
type Authorizer interface {
	AuthURL() string
	Exchange(ctx context.Context, state, code string) error
	Authorized(ctx context.Context) (bool, error)
}

// Handler serves the auth endpoints for one account.
type Handler struct {
	Auth    Authorizer
	Account string
	Logger  *slog.Logger
}

// NewRouter wires the handler's routes.
func NewRouter(h *Handler) http.Handler {
	r := mux.NewRouter()
	r.Use(h.logRequests)
	r.HandleFunc("/auth/google", h.Authorize).Methods(http.MethodGet)
	r.HandleFunc("/auth/callback", h.Callback).Methods(http.MethodGet)
	r.HandleFunc("/healthz", h.Health).Methods(http.MethodGet)
	return r
}

// Authorize redirects to the provider consent screen.
func (h *Handler) Authorize(w http.ResponseWriter, r *http.Request) {
	h.Logger.InfoContext(r.Context(), "starting authorization", "account", h.Account)
	http.Redirect(w, r, h.Auth.AuthURL(), http.StatusFound)
}

// Callback exchanges the authorization code and reports the outcome as plain text.
func (h *Handler) Callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	ctx := r.Context()
	h.Logger.InfoContext(ctx, "authorization callback", "account", h.Account)

	if denied := q.Get("error"); denied != "" {
		h.Logger.WarnContext(ctx, "authorization denied", "account", h.Account, "error", denied)
		writeText(w, http.StatusBadRequest, msgAuthFail)
		return
	}
	err := h.Auth.Exchange(ctx, q.Get("state"), q.Get("code"))
	switch {
	case err == nil:
		writeText(w, http.StatusOK, msgAuthOK)
	case errors.Is(err, auth.ErrMissingCode), errors.Is(err, auth.ErrInvalidState):
		h.Logger.WarnContext(ctx, "rejected authorization callback", "account", h.Account, "error", err)
		writeText(w, http.StatusBadRequest, msgAuthFail)
	default:
		h.Logger.ErrorContext(ctx, "exchange authorization code", "account", h.Account, "error", err)
		writeText(w, http.StatusBadGateway, msgAuthFail)
	}
}

// Health reports liveness and whether credentials are held.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ok, err := h.Auth.Authorized(r.Context())
	if err != nil {
		h.Logger.ErrorContext(r.Context(), "check credentials", "error", err)
		writeText(w, http.StatusServiceUnavailable, "credential store unavailable")
		return
	}
	if !ok {
		writeText(w, http.StatusOK, "ok (not authorized; visit /auth/google)")
		return
	}
	writeText(w, http.StatusOK, "ok")
}

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		h.Logger.DebugContext(r.Context(), "http request",
			"method", r.Method, "path", r.URL.Path, "status", sw.status, "duration", time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (s *statusWriter) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func writeText(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, msg)
}

// NewHTTPServer returns an http.Server with conservative timeouts.
func NewHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
}
