// Package httpapi exposes an api.Engine as JSON over HTTP.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/petrijr/flowstate/pkg/api"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// Options configures the router.
type Options struct {
	Engine api.Engine
	Logger *slog.Logger

	// CORSOrigins is the allow-list for cross-origin requests. Empty means "*".
	CORSOrigins []string

	// Metrics, if set, is mounted at GET /metrics.
	Metrics http.Handler

	// Dispatcher, if set, enables POST /instances/{id}/enqueue.
	Dispatcher Dispatcher

	// Clock stamps the health endpoint. Defaults to time.Now.
	Clock func() time.Time
}

// Dispatcher queues an action for background execution.
type Dispatcher interface {
	EnqueueActionAt(ctx context.Context, instanceID, actionID string, at time.Time) (string, error)
}

// NewRouter builds the HTTP handler.
func NewRouter(opts Options) http.Handler {
	h := &handler{
		eng:        opts.Engine,
		dispatcher: opts.Dispatcher,
		logger:     opts.Logger,
		now:        opts.Clock,
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	if h.now == nil {
		h.now = time.Now
	}

	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(h.logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"Location"},
		MaxAge:         300,
	}))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeProblem(w, http.StatusNotFound, "", "no route for "+r.URL.Path)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeProblem(w, http.StatusMethodNotAllowed, "", r.Method+" is not allowed on "+r.URL.Path)
	})

	r.Get("/", h.health)
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}

	r.Route("/definitions", func(r chi.Router) {
		r.Post("/", h.registerDefinition)
		r.Get("/", h.listDefinitions)
		r.Get("/{id}", h.getDefinition)
	})

	r.Route("/instances", func(r chi.Router) {
		r.Post("/", h.createInstance)
		r.Get("/", h.listInstances)
		r.Get("/{id}", h.getInstance)
		r.Post("/{id}/execute", h.executeAction)
		r.Get("/{id}/actions", h.availableActions)
		r.Get("/{id}/events", h.listEvents)
		if opts.Dispatcher != nil {
			r.Post("/{id}/enqueue", h.enqueueAction)
		}
	})

	return r
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			level := slog.LevelDebug
			if status >= http.StatusInternalServerError {
				level = slog.LevelError
			}
			logger.LogAttrs(r.Context(), level, "http request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", status),
				slog.Int("bytes", ww.BytesWritten()),
				slog.Duration("duration", time.Since(start)),
				slog.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}
