/**
 * @description
 * This file sets up the HTTP router for the review service: public submission
 * and listing, the admin moderation surface, coupon status/redemption, and the
 * operational endpoints. Standard middleware provides request logging, panic
 * recovery (mapped to 500 with no internal detail leaked), per-request
 * timeouts, and CORS for the browser front end.
 *
 * @dependencies
 * - net/http: Standard Go library.
 * - github.com/go-chi/chi/v5, github.com/go-chi/cors: Routing and CORS.
 * - github.com/prometheus/client_golang/prometheus/promhttp: Metrics endpoint.
 */

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Pinger reports database reachability for the readiness endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Routes creates and returns the router for the review service.
func Routes(h *Handlers, auth *AdminAuth, db Pinger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Admin-Key"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok","service":"review-service"}`))
	})
	r.Get("/health/db", func(w http.ResponseWriter, r *http.Request) {
		if db == nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unavailable"}`))
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if err := db.Ping(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unavailable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", promhttp.Handler())

	// Public surface.
	r.Post("/reviews", h.SubmitReviewHandler)
	r.With(DetectAdmin(auth)).Get("/reviews", h.ListReviewsHandler)
	r.Get("/coupons/{code}", h.CouponStatusHandler)
	r.Post("/admin/login", h.AdminLoginHandler)

	// Admin surface.
	r.Group(func(r chi.Router) {
		r.Use(RequireAdmin(auth))

		r.Get("/reviews/{id}", h.GetReviewHandler)
		r.Put("/reviews", h.ModerateReviewHandler)
		r.Delete("/reviews/{id}", h.RemoveReviewHandler)
		r.Post("/tokens", h.IssueTokenHandler)
		r.Post("/coupons/{code}/redeem", h.RedeemCouponHandler)
	})

	return r
}
