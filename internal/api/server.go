// Package api exposes the HTTP interface for the topic scraper service.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/iantaiahn/topicscraper/internal/jobs"
	"github.com/iantaiahn/topicscraper/internal/memory"
	"github.com/iantaiahn/topicscraper/internal/metrics"
	"github.com/iantaiahn/topicscraper/internal/pipeline"
)

// Version is reported by the root endpoint.
const Version = "1.0.0"

// Enqueuer accepts queued jobs; *dispatcher.Dispatcher satisfies it.
type Enqueuer interface {
	Enqueue(ctx context.Context, item jobs.QueueItem) error
}

// Runner executes the scrape pipeline synchronously.
type Runner interface {
	Run(ctx context.Context, req pipeline.Request) (pipeline.Result, error)
}

// URLPolicy rejects URLs the service must not fetch.
type URLPolicy interface {
	Check(rawURL string) error
}

// ClientLimiter throttles job submissions per client.
type ClientLimiter interface {
	Allow(client string) error
}

// Dependencies are the collaborators behind the handlers. Reports, Hosts,
// Limiter and Sampler are optional.
type Dependencies struct {
	Jobs       jobs.Store
	Dispatcher Enqueuer
	Runner     Runner
	Reports    jobs.ReportReader
	Hosts      URLPolicy
	Limiter    ClientLimiter
	IDs        jobs.IDGenerator
	Clock      jobs.Clock
	Sampler    memory.Sampler
	Logger     *zap.Logger
}

// Options tune HTTP behavior.
type Options struct {
	AuthEnabled    bool
	APIKey         string
	CORSOrigins    []string
	EnqueueTimeout time.Duration
	// StoreBackend is reported by /health ("redis" or "memory").
	StoreBackend string
	// MaxContentLength is the default for synchronous requests.
	MaxContentLength int
	// Headless is the default browser mode for synchronous requests.
	Headless bool
}

// Server wires HTTP handlers to the job service.
type Server struct {
	router  chi.Router
	handler http.Handler
	deps    Dependencies
	opts    Options
	jobs    *JobHandler
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Dependencies, opts Options) *Server {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if opts.EnqueueTimeout <= 0 {
		opts.EnqueueTimeout = 5 * time.Second
	}
	logger := deps.Logger.Named("api")
	s := &Server{
		deps:   deps,
		opts:   opts,
		jobs:   NewJobHandler(deps, opts.EnqueueTimeout),
		logger: logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(traceRouteMiddleware)
	r.Use(corsMiddleware(opts.CORSOrigins))

	r.Get("/", s.root)
	r.Get("/healthz", s.healthz)
	r.Get("/health", s.health)
	r.Handle("/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		if opts.AuthEnabled {
			r.Use(apiKeyMiddleware(opts.APIKey))
		}
		r.Post("/start-process/", s.jobs.Start)
		r.Get("/status/{job_id}", s.jobs.Status)
		r.Get("/result/{job_id}", s.jobs.Result)
		r.Get("/reports/{job_id}", s.jobs.Report)
		r.Get("/jobs", s.jobs.List)
		r.Delete("/jobs/{job_id}", s.jobs.Delete)

		r.Post("/process/", s.process(outputAll))
		r.Post("/filter_text/", s.process(outputCleaned))
		r.Post("/topics/", s.process(outputTopics))
		r.Post("/wordcloud/", s.process(outputClouds))
	})

	s.router = r
	s.handler = otelhttp.NewHandler(r, "http.server",
		otelhttp.WithFilter(func(r *http.Request) bool {
			return r.URL.Path != "/metrics" && r.URL.Path != "/healthz"
		}),
	)
	return s
}

// Handler returns the traced router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) root(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service": "Topic Scraper API",
		"version": Version,
		"endpoints": map[string]string{
			"start_process": "POST /start-process/",
			"check_status":  "GET /status/{job_id}",
			"get_result":    "GET /result/{job_id}",
			"get_report":    "GET /reports/{job_id}",
			"delete_job":    "DELETE /jobs/{job_id}",
			"list_jobs":     "GET /jobs",
			"health_check":  "GET /health",
			"process":       "POST /process/",
			"filter_text":   "POST /filter_text/",
			"topics":        "POST /topics/",
			"wordcloud":     "POST /wordcloud/",
		},
	})
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status":          "healthy",
		"store":           s.opts.StoreBackend,
		"redis_connected": s.opts.StoreBackend == "redis",
		"timestamp":       s.now().Format(time.RFC3339),
	}
	if s.deps.Sampler != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if sample, err := s.deps.Sampler.Sample(ctx); err == nil {
			body["memory_mb"] = roundMB(sample.ResidentMB)
		} else {
			s.logger.Warn("memory sample failed", zap.Error(err))
		}
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) now() time.Time {
	if s.deps.Clock != nil {
		return s.deps.Clock.Now()
	}
	return time.Now().UTC()
}

func roundMB(mb float64) float64 {
	return float64(int64(mb*100+0.5)) / 100
}
