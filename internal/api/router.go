package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/cloudradar/livemap/pkg/logger"
)

// Router wires the API handlers, the websocket endpoint and the middleware
type Router struct {
	handler        *Handler
	websocket      http.HandlerFunc
	allowedOrigins []string
	logger         *logger.Logger
}

// NewRouter creates a new router. websocket serves /ws and may be nil.
func NewRouter(handler *Handler, websocket http.HandlerFunc, allowedOrigins []string, logger *logger.Logger) *Router {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	return &Router{
		handler:        handler,
		websocket:      websocket,
		allowedOrigins: allowedOrigins,
		logger:         logger.Named("router"),
	}
}

// Routes builds the HTTP handler
func (rt *Router) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(rt.requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: rt.allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", rt.handler.GetHealth)
	if rt.websocket != nil {
		r.Get("/ws", rt.websocket)
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/markers", rt.handler.GetMarkers)
		r.Get("/markers/{id}/icon", rt.handler.GetMarkerIcon)

		r.Get("/selection", rt.handler.GetSelection)
		r.Put("/selection/{id}", rt.handler.PutSelection)
		r.Delete("/selection", rt.handler.DeleteSelection)

		r.Get("/status", rt.handler.GetStatus)
		r.Get("/metrics", rt.handler.GetMetrics)

		r.Get("/toggle", rt.handler.GetToggle)
		r.Post("/toggle", rt.handler.PostToggle)
	})

	return r
}

// requestLogger logs every request through the application logger
func (rt *Router) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		rt.logger.Debug("HTTP request",
			logger.String("method", r.Method),
			logger.String("path", r.URL.Path),
			logger.Int("status", ww.Status()),
			logger.Duration("duration", time.Since(start)),
			logger.String("request_id", middleware.GetReqID(r.Context())))
	})
}
