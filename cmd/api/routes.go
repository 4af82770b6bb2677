package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/josh-kwaku/tutor-settlement/internal/handler"
	"github.com/josh-kwaku/tutor-settlement/internal/middleware"
)

type routerDeps struct {
	logger      *zap.Logger
	tokenSecret string
	allowed     []string
	health      *handler.HealthHandler
	settlements *handler.SettlementHandler
}

func newRouter(d routerDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logging(d.logger))
	r.Use(middleware.Recovery)

	r.Get("/health/live", d.health.Liveness)
	r.Get("/health/ready", d.health.Readiness)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(d.tokenSecret, d.allowed))

		r.Post("/settlements", d.settlements.Settle)
		r.Get("/bookings/{bookingID}/ledger", d.settlements.GetLedger)
		r.Get("/bookings/{bookingID}/processing-errors", d.settlements.GetProcessingErrors)
	})

	return r
}
