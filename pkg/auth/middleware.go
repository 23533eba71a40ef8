package auth

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"
)

// Middleware provides HTTP authentication middleware.
// It is thin and delegates authentication logic to AuthService.
type Middleware struct {
	authService AuthService
	// anonymous lets requests without an Authorization header through.
	anonymous bool
	logger    *zap.Logger
}

// NewMiddleware creates a new auth middleware. With allowAnonymous, requests that carry no
// token pass through without claims and run against the shared connection pool.
func NewMiddleware(authService AuthService, allowAnonymous bool, logger *zap.Logger) *Middleware {
	return &Middleware{
		authService: authService,
		anonymous:   allowAnonymous,
		logger:      logger,
	}
}

// RequireAuth validates the bearer token and stores claims and token in the request context.
func (m *Middleware) RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, token, err := m.authService.ValidateRequest(r)
		if err != nil {
			if m.anonymous && errors.Is(err, ErrMissingAuthorization) {
				next(w, r)
				return
			}
			m.unauthorized(w, "Authentication required")
			return
		}

		next(w, r.WithContext(WithClaims(r.Context(), claims, token)))
	}
}

// Handler adapts RequireAuth to http.Handler.
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return m.RequireAuth(next.ServeHTTP)
}

// unauthorized returns a 401 response with JSON error body.
func (m *Middleware) unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="ekaya-query-gateway"`)
	w.WriteHeader(http.StatusUnauthorized)
	if err := json.NewEncoder(w).Encode(map[string]string{
		"error":   "unauthorized",
		"message": message,
	}); err != nil {
		m.logger.Error("Failed to write unauthorized response", zap.Error(err))
	}
}
