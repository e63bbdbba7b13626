package gateway

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/psibackend/internal/api"
	"github.com/psibackend/internal/metrics"
	"github.com/sirupsen/logrus"
)

// Route binds an API Gateway path to its handler. Method dispatch is left to
// the handler, as it is behind API Gateway.
type Route struct {
	Path    string
	Handler api.Handler
	// Limited routes are public and pass through the per-IP rate limiter.
	Limited bool
}

func NewRouter(routes []Route, limiter *RateLimiter, log logrus.FieldLogger) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", metrics.Handler())

	for _, route := range routes {
		var h http.Handler = Adapt(route.Handler, log)
		if route.Limited && limiter != nil {
			h = limiter.Handler(h)
		}
		r.Handle(route.Path, h)
	}
	return r
}
