// SPDX-License-Identifier: MIT

// Package api is the HTTP control surface: auth, job CRUD and control,
// the push stream, health and metrics.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vodub/vodub/internal/auth"
	"github.com/vodub/vodub/internal/gateway"
	"github.com/vodub/vodub/internal/health"
	"github.com/vodub/vodub/internal/service"
)

// Server bundles the API's collaborators.
type Server struct {
	svc    *service.Service
	auth   *auth.Manager
	hub    *gateway.Hub
	health *health.Manager
}

func NewServer(svc *service.Service, am *auth.Manager, hub *gateway.Hub, hm *health.Manager) *Server {
	return &Server{svc: svc, auth: am, hub: hub, health: hm}
}

// Router assembles the full route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(httprate.LimitByIP(300, time.Minute))

	// Public surface.
	r.Get("/healthz", s.handleHealthz)
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/auth/login", s.handleLogin)

	// Everything else requires a session.
	r.Group(func(r chi.Router) {
		r.Use(s.auth.Middleware(func(w http.ResponseWriter, _ *http.Request, err error) {
			writeError(w, err)
		}))

		r.Post("/auth/logout", s.handleLogout)
		r.Get("/auth/me", s.handleMe)

		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", s.handleCreateJob)
			r.Get("/", s.handleListJobs)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetJob)
				r.Delete("/", s.handleDeleteJob)
				r.Post("/cancel", s.handleCancel)
				r.Post("/retry", s.handleRetry)
				r.Post("/resume", s.handleResume)
				r.Post("/control", s.handleControl)
				r.Get("/logs", s.handleLogs)
			})
		})

		r.Route("/api/events", func(r chi.Router) {
			r.Get("/stream", s.hub.ServeSSE)
			r.Post("/subscribe", s.handleSubscribe)
			r.Post("/unsubscribe", s.handleUnsubscribe)
		})
	})

	return r
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := s.health.Check(r.Context())
	status := http.StatusOK
	if resp.Status == health.StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
