package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kapitalwerk/contract-api/internal/platform/httpx"
)

const (
	apiPrefix      = "/api/v1"
	requestTimeout = 60 * time.Second
)

// RouteRegistrar mounts a route group.
type RouteRegistrar func(r chi.Router)

type routes struct {
	middlewares         []func(http.Handler) http.Handler
	health              *HealthHandlers
	me                  RouteRegistrar
	internal            RouteRegistrar
	internalMiddlewares []func(http.Handler) http.Handler
}

// Option configures NewRouter.
type Option func(*routes)

// WithMiddlewares adds middleware run for every request, after request ids and timeouts.
func WithMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(rt *routes) { rt.middlewares = append(rt.middlewares, mw...) }
}

// WithHealthHandlers serves /healthz and /readyz from h.
func WithHealthHandlers(h *HealthHandlers) Option {
	return func(rt *routes) { rt.health = h }
}

// WithMeRoutes mounts the investor routes under /api/v1/me.
func WithMeRoutes(reg RouteRegistrar) Option {
	return func(rt *routes) { rt.me = reg }
}

// WithInternalRoutes mounts Pub/Sub push routes under /api/v1/internal.
func WithInternalRoutes(reg RouteRegistrar) Option {
	return func(rt *routes) { rt.internal = reg }
}

// WithInternalMiddlewares guards the /api/v1/internal group.
func WithInternalMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(rt *routes) { rt.internalMiddlewares = append(rt.internalMiddlewares, mw...) }
}

// NewRouter builds the HTTP surface: health endpoints at the root, investor routes under
// /api/v1/me and push routes under /api/v1/internal. A group without a registrar is not
// mounted, so its paths answer 404.
func NewRouter(opts ...Option) chi.Router {
	rt := routes{}
	for _, opt := range opts {
		if opt != nil {
			opt(&rt)
		}
	}
	if rt.health == nil {
		rt.health = NewHealthHandlers()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Timeout(requestTimeout))
	for _, mw := range rt.middlewares {
		if mw != nil {
			r.Use(mw)
		}
	}
	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("route_not_found", "no route for "+req.URL.Path, http.StatusNotFound))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("method_not_allowed", "method "+req.Method+" not allowed on "+req.URL.Path, http.StatusMethodNotAllowed))
	})

	r.Get("/healthz", rt.health.Healthz)
	r.Get("/readyz", rt.health.Readyz)

	if rt.me != nil {
		r.Route(apiPrefix+"/me", rt.me)
	}
	if rt.internal != nil {
		r.Route(apiPrefix+"/internal", func(group chi.Router) {
			group.Use(rt.internalMiddlewares...)
			rt.internal(group)
		})
	}
	return r
}
