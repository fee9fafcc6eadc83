/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Structured request logging (zap)
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the register frontend

FISCAL LOCK:
  Routes that present financial figures (reports, previews, closes,
  cortes) sit behind the fiscal-lock guard. If the startup self-test
  failed they answer 423 Locked with the failing cases for the rest of
  the process lifetime. Recording sales and opening shifts stay available
  so the register keeps working; nothing it records is lost.

ROUTE GROUPS:
  /health               Liveness
  /metrics              Prometheus
  /api/sales/*          Sale log (unguarded)
  /api/shifts           Open shift (unguarded)
  /api/shifts/current/* Shift reads and close (guarded)
  /api/reports/*        Range reports (guarded)
  /api/cortes/*         Z-reports (guarded)
  /api/tools/*          Calculators (guarded)
  /api/audit/*          Self-test result

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/fenixpos/fiscal-engine/fiscal"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(requestLogger(h.log.Named("http")))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/health", h.Health)
	r.Handle("/metrics", h.Metrics.Handler())

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Sale log
		r.Route("/sales", func(r chi.Router) {
			r.Post("/", h.AppendSales)
			r.Get("/{id}", h.GetSale)
		})

		// Self-test
		r.Route("/audit", func(r chi.Router) {
			r.Get("/", h.GetAudit)
			r.Post("/run", h.RunAudit)
		})

		r.Post("/shifts", h.OpenShift)

		// Everything below presents figures
		r.Group(func(r chi.Router) {
			r.Use(h.fiscalLockGuard)

			r.Route("/shifts/current", func(r chi.Router) {
				r.Get("/", h.CurrentShift)
				r.Get("/preview", h.PreviewShift)
				r.Post("/close", h.CloseShift)
			})

			r.Route("/reports", func(r chi.Router) {
				r.Get("/kpis", h.GetKPIs)
				r.Get("/treasury", h.GetTreasury)
				r.Get("/payment-methods", h.GetPaymentMethods)
				r.Get("/range", h.GetRangeReport)
			})

			r.Route("/cortes", func(r chi.Router) {
				r.Get("/", h.ListCortes)
				r.Post("/import", h.ImportCorte)
				r.Get("/{id}", h.GetCorte)
			})

			r.Route("/tools", func(r chi.Router) {
				r.Post("/foreign-cash-tax", h.ForeignCashTax)
				r.Post("/customer-balance", h.CustomerBalance)
			})
		})
	})

	return r
}

// fiscalLockGuard refuses requests while the self-test has not passed.
func (h *Handler) fiscalLockGuard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		err := h.Lock.Err()
		if err == nil {
			next.ServeHTTP(w, r)
			return
		}
		h.Metrics.LockedRequests.Inc()

		resp := ErrorResponse{Error: "Fiscal figures are not audited", Code: "FISCAL_LOCK"}
		var st *fiscal.SelfTestError
		if errors.As(err, &st) {
			resp.Details = st.Failures
		}
		writeJSON(w, http.StatusLocked, resp)
	})
}

// requestLogger logs one line per request.
func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				log.Info("http request",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", ww.Status()),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("duration", time.Since(start)),
					zap.String("request_id", middleware.GetReqID(r.Context())))
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
