package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"fx-arena/internal/auth"
	"fx-arena/internal/health"
	"fx-arena/internal/httputil"
	"fx-arena/internal/margin"
	"fx-arena/internal/metrics"
	"fx-arena/internal/orders"
)

type RouterDeps struct {
	OrderHandler  *orders.Handler
	MarginHandler *margin.Handler
	HealthHandler *health.Handler
	AuthService   *auth.Service
	InternalToken string
	QuotesWS      http.Handler
}

// authed adapts a userID-taking handler to http.HandlerFunc, rejecting
// requests whose auth context is missing.
func authed(fn func(http.ResponseWriter, *http.Request, string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := UserID(r)
		if !ok {
			httputil.WriteJSON(w, http.StatusUnauthorized, httputil.ErrorResponse{Error: "unauthorized"})
			return
		}
		fn(w, r, userID)
	}
}

func NewRouter(d RouterDeps) http.Handler {
	r := chi.NewRouter()

	// CORS middleware for development
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" {
				origin = "*"
			}
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Use(SecurityHeaders)
	r.Use(RateLimitMiddleware)
	r.Use(metrics.Middleware)

	r.Get("/health", d.HealthHandler.Get)
	r.Get("/health/live", d.HealthHandler.Live)
	r.Get("/health/ready", d.HealthHandler.Ready)
	r.Get("/health/full", d.HealthHandler.Full)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if d.QuotesWS != nil {
			r.Get("/quotes/ws", d.QuotesWS.ServeHTTP)
		}
		r.Group(func(r chi.Router) {
			r.Use(WithAuth(d.AuthService))
			r.Post("/orders", authed(d.OrderHandler.Place))
			r.Get("/orders", authed(d.OrderHandler.List))
			r.Get("/orders/{orderID}", authed(func(w http.ResponseWriter, r *http.Request, userID string) {
				d.OrderHandler.Get(w, r, userID, chi.URLParam(r, "orderID"))
			}))
			r.Delete("/orders/{orderID}", authed(func(w http.ResponseWriter, r *http.Request, userID string) {
				d.OrderHandler.Cancel(w, r, userID, chi.URLParam(r, "orderID"))
			}))
			r.Get("/positions", authed(d.OrderHandler.Positions))
			r.Get("/positions/{positionID}", authed(func(w http.ResponseWriter, r *http.Request, userID string) {
				d.OrderHandler.GetPosition(w, r, userID, chi.URLParam(r, "positionID"))
			}))
			r.Post("/positions/{positionID}/close", authed(func(w http.ResponseWriter, r *http.Request, userID string) {
				d.OrderHandler.Close(w, r, userID, chi.URLParam(r, "positionID"))
			}))
			r.Get("/margin/status", authed(d.MarginHandler.Status))
		})
		r.Group(func(r chi.Router) {
			r.Use(InternalAuth(d.InternalToken))
			r.Post("/internal/contests/{contestID}/sweep", func(w http.ResponseWriter, r *http.Request) {
				d.OrderHandler.Sweep(w, r, chi.URLParam(r, "contestID"))
			})
			r.Post("/internal/contests/{contestID}/finish", func(w http.ResponseWriter, r *http.Request) {
				d.OrderHandler.Finish(w, r, chi.URLParam(r, "contestID"))
			})
		})
	})
	return r
}
