package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/retailhub/lottery-sync/internal/api/handler"
	apimw "github.com/retailhub/lottery-sync/internal/api/middleware"
	"github.com/retailhub/lottery-sync/internal/service"
)

// Services groups what the local API serves.
type Services struct {
	Sync     *service.SyncAdminService
	Packs    *service.PackService
	Days     *service.DayCloseService
	Trigger  handler.Triggerer
	DB       handler.Pinger
	Breaker  func() string
	Registry prometheus.Gatherer
}

// NewRouter wires the chi router, attaches all middleware, and registers
// every route.
func NewRouter(svc Services, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.Recoverer)
	r.Use(chimw.RequestSize(1 << 20))
	r.Use(apimw.CorrelationID)
	r.Use(apimw.RequestLogger(logger, "/health", "/metrics"))

	hh := handler.NewHealthHandler(svc.DB, svc.Breaker)
	sh := handler.NewSyncHandler(svc.Sync, svc.Trigger, logger)
	ph := handler.NewPackHandler(svc.Packs, logger)
	dh := handler.NewDayHandler(svc.Days, logger)

	r.Get("/health", hh.Health)
	if svc.Registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(svc.Registry, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1/stores/{storeID}", func(r chi.Router) {
		r.Route("/sync", func(r chi.Router) {
			r.Get("/status", sh.Status)
			r.Post("/run", sh.Run)
			r.Get("/items/{itemID}", sh.GetItem)
			r.Get("/dlq/stats", sh.DeadLetterStats)
			r.Get("/dlq", sh.DeadLetterItems)
			r.Post("/dlq/{itemID}/restore", sh.Restore)
		})

		r.Post("/packs", ph.Receive)
		r.Get("/packs/{packID}", ph.Get)
		r.Post("/packs/{packID}/activate", ph.Activate)
		r.Post("/packs/{packID}/return", ph.Return)

		r.Post("/days/{dayID}/prepare-close", dh.PrepareClose)
		r.Post("/days/{dayID}/commit-close", dh.CommitClose)
		r.Post("/days/{dayID}/cancel-close", dh.CancelClose)
	})

	return r
}
