package httpx

import (
	"net/http"

	"log/slog"
	"realtime-chat/internal/app"
	"realtime-chat/internal/store"
	"realtime-chat/internal/ws"
	"realtime-chat/pkg/auth"
	"realtime-chat/pkg/metrics"
)

// NewRouter wires up all HTTP routes, middleware, and handlers
func NewRouter(cfg app.Config, logger *slog.Logger, relay *ws.Relay, broker *ws.RedisBroker, db *store.Postgres) http.Handler {
	mw := NewMiddleware(cfg)

	// Auth API
	j := auth.New(cfg.JWTSecret)
	authAPI := &AuthAPI{DB: db, JWT: j}

	mux := http.NewServeMux()

	// Health / readiness / metrics
	mux.Handle("/healthz", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(200) }))
	mux.Handle("/readyz", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Not ready when the broker exhausted its reconnect budget or
		// postgres is unreachable; existing connections stay up either way.
		if h := broker.Health(); h == ws.StatusDown {
			logger.Warn("readyz.fail", "reason", "broker", "status", h)
			http.Error(w, "broker down", http.StatusServiceUnavailable)
			return
		}
		if err := db.Ping(r.Context()); err != nil {
			logger.Warn("readyz.fail", "reason", "postgres", "err", err)
			http.Error(w, "db down", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(200)
	}))
	mux.Handle("/metrics", metrics.Handler())

	// WebSocket endpoint: identity is optional, the relay treats
	// tokenless connections as anonymous
	mux.Handle("/ws", mw.OptionalAuth(http.HandlerFunc(relay.ServeWS)))

	// Auth endpoints
	mux.Handle("/api/auth/register", http.HandlerFunc(authAPI.Register))
	mux.Handle("/api/auth/login", http.HandlerFunc(authAPI.Login))
	mux.Handle("/api/auth/refresh", http.HandlerFunc(authAPI.Refresh))
	mux.Handle("/api/auth/logout", http.HandlerFunc(authAPI.Logout))
	mux.Handle("/api/auth/me", mw.Auth(http.HandlerFunc(authAPI.Me)))

	// CORS + rate limit applied globally
	return mw.Wrap(mux)
}
