// Copyright 2026 The Gatewarden Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package http is the gateway's thin HTTP surface: upstream login,
// downstream OIDC endpoints, the per-request auth check that vends child
// tokens, and the usual middleware stack.
package http

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/gatewarden/gatewarden/internal/audit"
	"github.com/gatewarden/gatewarden/internal/observability/metrics"
	"github.com/gatewarden/gatewarden/internal/oidcserver"
	"github.com/gatewarden/gatewarden/internal/token"
	"github.com/gatewarden/gatewarden/internal/tokencache"
	upstream "github.com/gatewarden/gatewarden/internal/upstream/oidc"
)

const stateCookieName = "gatewarden_state"

// Handler holds HTTP handlers and dependencies
type Handler struct {
	provider      *upstream.Provider
	tokenService  *token.Service
	tokenCache    *tokencache.Service
	oidcService   *oidcserver.Service
	tokenStore    token.Store
	auditLogger   audit.Logger
	authMetrics   *metrics.AuthMetrics
	clock         clockwork.Clock
	cookieName    string
	cookieSecure  bool
	defaultScopes []string
}

// NewHandler creates a new HTTP handler
func NewHandler(
	provider *upstream.Provider,
	tokenService *token.Service,
	tokenCache *tokencache.Service,
	oidcService *oidcserver.Service,
	tokenStore token.Store,
	auditLogger audit.Logger,
	authMetrics *metrics.AuthMetrics,
	clock clockwork.Clock,
	cookieName string,
	cookieSecure bool,
	defaultScopes []string,
) *Handler {
	return &Handler{
		provider:      provider,
		tokenService:  tokenService,
		tokenCache:    tokenCache,
		oidcService:   oidcService,
		tokenStore:    tokenStore,
		auditLogger:   auditLogger,
		authMetrics:   authMetrics,
		clock:         clock,
		cookieName:    cookieName,
		cookieSecure:  cookieSecure,
		defaultScopes: defaultScopes,
	}
}

// NewRouter creates a new HTTP router
func NewRouter(h *Handler, rateLimiter *RateLimiter) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RateLimitMiddleware(rateLimiter))
	r.Use(func(handler http.Handler) http.Handler {
		return otelhttp.NewHandler(handler, "http_request",
			otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
				return r.Method + " " + r.URL.Path
			}),
		)
	})
	r.Use(LoggingMiddleware())
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/health", h.HealthCheck)

	// Upstream login flow
	r.Get("/login", h.Login)
	r.Get("/login/callback", h.LoginCallback)

	// Per-request auth check and child-token delegation
	r.With(h.AuthMiddleware).Get("/auth", h.Auth)

	// Downstream OIDC provider surface
	r.Get("/.well-known/openid-configuration", h.Discovery)
	r.Get("/.well-known/jwks.json", h.JWKS)
	r.With(h.AuthMiddleware).Get("/auth/openid/login", h.OpenIDLogin)
	r.Post("/auth/openid/token", h.OpenIDToken)

	return r
}

// HealthCheck reports liveness.
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Login starts the upstream authentication flow.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	state, err := randomState()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    state,
		Path:     "/",
		HttpOnly: true,
		Secure:   h.cookieSecure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   600,
	})
	http.Redirect(w, r, h.provider.RedirectURL(state), http.StatusFound)
}

// LoginCallback finishes the upstream flow: it redeems the authorization
// code, verifies the identity token, and mints the session token.
func (h *Handler) LoginCallback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")
	if code == "" || state == "" {
		respondError(w, http.StatusBadRequest, "missing code or state")
		return
	}
	cookie, err := r.Cookie(stateCookieName)
	if err != nil || subtle.ConstantTimeCompare([]byte(cookie.Value), []byte(state)) != 1 {
		h.loginFailed(r, "", "state mismatch")
		respondError(w, http.StatusForbidden, "login state mismatch")
		return
	}

	info, err := h.provider.CreateUserInfo(r.Context(), code, state)
	if err != nil {
		h.loginFailed(r, "", err.Error())
		var httpErr *upstream.HTTPError
		if errors.As(err, &httpErr) {
			respondError(w, http.StatusBadGateway, "upstream provider error")
			return
		}
		respondError(w, http.StatusForbidden, "authentication failed")
		return
	}

	t, err := h.tokenService.CreateSessionToken(r.Context(), info, h.defaultScopes, getClientIP(r))
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to create session token",
			slog.String("username", info.Username),
			slog.String("error", err.Error()),
		)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     h.cookieName,
		Value:    t.String(),
		Path:     "/",
		HttpOnly: true,
		Secure:   h.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	h.auditLogger.Log(r.Context(), audit.Event{
		Type:      audit.TypeLoginSuccess,
		ActorID:   info.Username,
		Resource:  "session",
		IPAddress: getClientIP(r),
		Metadata:  map[string]any{"token_key": t.Key},
	})

	http.Redirect(w, r, "/", http.StatusFound)
}

// Auth is the per-request authorization check called by the ingress. On
// success it reports the user's identity; with delegation parameters it
// also vends a child token.
func (h *Handler) Auth(w http.ResponseWriter, r *http.Request) {
	data := GetTokenData(r.Context())

	required := r.URL.Query()["scope"]
	for _, scope := range required {
		if !hasScope(data.Scopes, scope) {
			respondError(w, http.StatusForbidden, "missing required scope")
			return
		}
	}

	response := map[string]any{
		"username": data.Username,
		"scopes":   data.Scopes,
	}

	switch {
	case r.URL.Query().Get("notebook") == "true":
		child, err := h.tokenCache.GetNotebookToken(r.Context(), data, getClientIP(r))
		if err != nil {
			slog.ErrorContext(r.Context(), "failed to get notebook token",
				slog.String("username", data.Username),
				slog.String("error", err.Error()),
			)
			respondError(w, http.StatusInternalServerError, "internal error")
			return
		}
		w.Header().Set("X-Auth-Request-Token", child.String())
		response["token"] = child.String()
	case r.URL.Query().Get("delegate_to") != "":
		service := r.URL.Query().Get("delegate_to")
		scopes := r.URL.Query()["delegate_scope"]
		child, err := h.tokenCache.GetInternalToken(r.Context(), data, service, scopes, getClientIP(r))
		if err != nil {
			slog.ErrorContext(r.Context(), "failed to get internal token",
				slog.String("username", data.Username),
				slog.String("service", service),
				slog.String("error", err.Error()),
			)
			respondError(w, http.StatusInternalServerError, "internal error")
			return
		}
		w.Header().Set("X-Auth-Request-Token", child.String())
		response["token"] = child.String()
	}

	w.Header().Set("X-Auth-Request-User", data.Username)
	respondJSON(w, http.StatusOK, response)
}

func (h *Handler) loginFailed(r *http.Request, username, reason string) {
	if h.authMetrics != nil {
		h.authMetrics.LoginFailures.Add(r.Context(), 1)
	}
	h.auditLogger.Log(r.Context(), audit.Event{
		Type:      audit.TypeLoginFailed,
		ActorID:   username,
		Resource:  "session",
		IPAddress: getClientIP(r),
		Metadata:  map[string]any{"reason": reason},
	})
}

func hasScope(scopes []string, want string) bool {
	for _, s := range scopes {
		if s == want {
			return true
		}
	}
	return false
}

func randomState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
