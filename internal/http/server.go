// Package http exposes the ledger, capture, chat and notification services as
// a JSON API on a chi router.
package http

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"ledgerlens/internal/chat"
	"ledgerlens/internal/log"
	"ledgerlens/internal/middleware/ratelimit"
	"ledgerlens/internal/middleware/security"
	"ledgerlens/internal/middleware/trace"
	"ledgerlens/internal/notify"
	"ledgerlens/internal/services"
)

// multipartOverhead is added to the upload cap to leave room for the
// multipart envelope around the file itself.
const multipartOverhead = 1 << 20

// Deps are the services the API is a thin layer over.
type Deps struct {
	Ledger *services.LedgerService
	Chat   *chat.Assistant
	Notify *notify.Center
	// Events serves GET /api/events; nil disables the stream.
	Events http.Handler
	Logger *log.Logger

	MaxUploadBytes     int64
	RateLimitPerMinute int
	// Ready reports readiness for /readyz; nil means always ready.
	Ready func(ctx context.Context) error
}

type Server struct {
	http.Server
	deps     Deps
	logger   *log.Logger
	limiter  *ratelimit.Limiter
	detector *security.Detector
	tracer   *trace.Middleware
}

func NewServer(addr string, deps Deps) *Server {
	if deps.MaxUploadBytes <= 0 {
		deps.MaxUploadBytes = 10 << 20
	}
	detector := security.NewDetector()
	s := &Server{
		deps:     deps,
		logger:   deps.Logger.WithComponent(log.ComponentHTTP),
		limiter:  ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: deps.RateLimitPerMinute}),
		detector: detector,
		tracer:   trace.NewMiddleware(deps.Logger, detector.ExtractClientIP),
	}
	s.Server = http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		// No WriteTimeout: the event stream is long-lived.
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(s.tracer.Middleware)
	r.Use(chimw.Recoverer)
	r.Use(s.detector.Middleware(s.deps.Logger))
	r.Use(security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)

	r.Route("/api", func(r chi.Router) {
		r.Use(s.limiter.Middleware(s.detector.ExtractClientIP, s.onRateLimit))

		r.Group(func(r chi.Router) {
			r.Use(security.BodyLimit(64 << 10))

			r.Get("/expenses", s.handleListExpenses)
			r.Post("/expenses", s.handleCreateExpense)
			r.Delete("/expenses/{id}", s.handleDeleteExpense)
			r.Get("/categories", s.handleCategories)

			r.Get("/previews/{id}", s.handleGetPreview)
			r.Patch("/previews/{id}/candidates/{index}", s.handleEditCandidate)
			r.Delete("/previews/{id}/candidates/{index}", s.handleDropCandidate)
			r.Post("/previews/{id}/confirm", s.handleConfirmPreview)
			r.Delete("/previews/{id}", s.handleCancelPreview)

			r.Get("/chat", s.handleTranscript)
			r.Post("/chat", s.handleAsk)

			r.Get("/notifications", s.handleNotifications)
			r.Delete("/notifications/{id}", s.handleDismissNotification)
		})

		r.Group(func(r chi.Router) {
			r.Use(security.BodyLimit(s.deps.MaxUploadBytes + multipartOverhead))

			r.Post("/imports/spreadsheet", s.handleImportSpreadsheet)
			r.Post("/imports/image", s.handleImportImage)
		})

		if s.deps.Events != nil {
			r.Method(http.MethodGet, "/events", s.deps.Events)
		}
	})

	return r
}

func (s *Server) onRateLimit(w http.ResponseWriter, r *http.Request) {
	s.logger.WarnContext(r.Context(), "Rate limit exceeded",
		log.FieldClientIP, s.detector.ExtractClientIP(r),
		log.FieldPath, r.URL.Path)
	writeJSON(w, r, http.StatusTooManyRequests, errorBody("rate limit exceeded, please try again later"))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ready != nil {
		if err := s.deps.Ready(r.Context()); err != nil {
			writeJSON(w, r, http.StatusServiceUnavailable, map[string]string{"status": "not ready", "error": err.Error()})
			return
		}
	}
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ready"})
}

// Shutdown stops the limiter cleanup and drains the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.limiter.Stop()
	s.logger.InfoContext(ctx, "Shutting down HTTP server",
		log.FieldOperation, log.OpShutdown,
		"requests_served", s.tracer.GetMetrics().TotalRequests,
		"rate_limited", s.limiter.GetMetrics().TotalHits,
		"suspicious", s.detector.GetMetrics().SuspiciousRequests)
	return s.Server.Shutdown(ctx)
}
