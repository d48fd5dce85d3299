package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/hackgods/booking-settlement-engine/internal/booking"
	"github.com/hackgods/booking-settlement-engine/internal/notify"
	"github.com/hackgods/booking-settlement-engine/internal/reservation"
)

type RouterConfig struct {
	Bookings     *booking.Service
	Reservations *reservation.Manager
	Realtime     *notify.Registry
	Postgres     Pinger
	Redis        Pinger
	Gatherer     prometheus.Gatherer
	Logger       zerolog.Logger
	JWTSecret    string
	Env          string
	Version      string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Apply middleware
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(middleware.Recoverer)

	// Health endpoints
	health := NewHealthHandler(cfg.Postgres, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	bookings := &bookingHandlers{svc: cfg.Bookings, logger: cfg.Logger}
	reservations := &reservationHandlers{mgr: cfg.Reservations, logger: cfg.Logger}

	r.Route("/v1", func(r chi.Router) {
		r.Use(Authenticate(cfg.JWTSecret))

		r.Post("/reservations", reservations.create)
		r.Get("/reservations/{id}", reservations.get)
		r.Post("/reservations/{id}/confirm", reservations.confirm)
		r.Post("/reservations/{id}/release", reservations.release)

		r.Post("/bookings", bookings.create)
		r.Get("/bookings", bookings.listByPatient)
		r.Get("/bookings/{id}", bookings.get)
		r.Post("/bookings/{id}/confirm", bookings.action(bookings.confirm))
		r.Post("/bookings/{id}/decline", bookings.action(bookings.decline))
		r.Post("/bookings/{id}/cancel", bookings.action(bookings.cancel))
		r.Post("/bookings/{id}/complete", bookings.action(bookings.complete))
		r.Post("/bookings/{id}/no-show", bookings.action(bookings.noShow))
		r.Post("/bookings/{id}/reschedule", bookings.proposeReschedule)
		r.Post("/bookings/{id}/reschedule/respond", bookings.respondReschedule)
		r.Get("/bookings/{id}/events", bookings.events)

		r.Get("/actors/{userID}/events", bookings.actorEvents)

		r.Get("/providers/{id}/bookings", bookings.listByProvider)
		r.Get("/providers/{id}/availability", bookings.availability)
		r.Get("/providers/{id}/reservations/stats", reservations.stats)

		if cfg.Realtime != nil {
			r.Get("/realtime", func(w http.ResponseWriter, req *http.Request) {
				a, ok := actor(w, req)
				if !ok {
					return
				}
				cfg.Realtime.ServeWS(w, req, a.UserID, a.Role)
			})
		}
	})

	return r
}
