package app

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	authapi "vigil/cmd/internal/auth/api"
)

// routes builds the root router: ops endpoints plus the auth surfaces.
func (a *App) routes(auth *authapi.Handler) http.Handler {
	r := chi.NewRouter()
	a.useMiddleware(r)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	r.Get("/readyz", a.handleReady)
	r.Method(http.MethodGet, "/metrics", a.metrics.Handler())

	auth.Routes(r)
	return r
}

// useMiddleware installs the shared stack. Recoverer sits inside the logger
// so a recovered panic is logged as a 500.
func (a *App) useMiddleware(r chi.Router) {
	r.Use(WithRequestID)
	r.Use(func(next http.Handler) http.Handler { return WithRequestLogging(next, a.log, a.metrics) })
	r.Use(middleware.Recoverer)
	r.Use(WithSecurityHeaders)
}

func (a *App) handleReady(w http.ResponseWriter, r *http.Request) {
	if a.cfg.ReadinessRequireDB && !a.backend.durable() {
		http.Error(w, "db not configured", http.StatusServiceUnavailable)
		return
	}
	if err := a.backend.ping(r.Context()); err != nil {
		a.log.Info("readyz.db.not_ready", "store", a.backend.kind, "err", err)
		http.Error(w, "db not ready", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready\n"))
}
