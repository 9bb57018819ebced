package httpx

import (
	"net/http"
	"strings"

	"github.com/rs/cors"

	"realtime-chat/internal/app"
	"realtime-chat/pkg/auth"
	"realtime-chat/pkg/ratelimit"
)

type Middleware struct {
	cors   *cors.Cors
	auth   *auth.JWT
	rlimit *ratelimit.Limiter
}

// NewMiddleware builds the shared middleware stack from config
func NewMiddleware(cfg app.Config) *Middleware {
	return &Middleware{
		cors: cors.New(cors.Options{
			AllowedOrigins:   cfg.CORSAllow,
			AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
			AllowedHeaders:   []string{"*"},
			AllowCredentials: true,
		}),
		auth:   auth.New(cfg.JWTSecret),
		rlimit: ratelimit.New(cfg.RateLimitMax, cfg.RateLimitWindow),
	}
}

// Wrap applies CORS + rate limiting to a handler
func (m *Middleware) Wrap(h http.Handler) http.Handler {
	return m.cors.Handler(m.rlimit.Middleware(h))
}

// Auth enforces JWT auth and adds user ID to the request context
func (m *Middleware) Auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tok := bearerToken(r)
		if tok == "" {
			http.Error(w, "no token", http.StatusUnauthorized)
			return
		}
		uid, err := m.auth.Verify(tok)
		if err != nil {
			http.Error(w, "bad token", http.StatusUnauthorized)
			return
		}
		// Pass along the user ID for downstream handlers
		next.ServeHTTP(w, r.WithContext(auth.WithUser(r.Context(), uid)))
	})
}

// OptionalAuth attaches an identity when a valid token is presented and
// lets the request through anonymously otherwise. Used by /ws, where the
// relay accepts unauthenticated connections.
func (m *Middleware) OptionalAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tok := bearerToken(r)
		if tok == "" {
			// Browsers cannot set headers on WebSocket dials
			tok = r.URL.Query().Get("token")
		}
		if tok != "" {
			if uid, err := m.auth.Verify(tok); err == nil {
				r = r.WithContext(auth.WithUser(r.Context(), uid))
			}
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) string {
	b := r.Header.Get("Authorization")
	if !strings.HasPrefix(b, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(b, "Bearer ")
}
