package handler

import (
	"github.com/go-chi/chi/v5"

	"github.com/medflow/nurse-station/pkg/auth"
	"github.com/medflow/nurse-station/pkg/logger"
)

// Handlers groups the handlers served under /api/v1.
type Handlers struct {
	Items      *ItemHandler
	Lots       *LotHandler
	Treatments *TreatmentHandler
	Dashboard  *DashboardHandler
}

// Mount registers the API routes on r. Every route needs a valid token;
// deleting catalog rows and lots needs the admin role.
func (h *Handlers) Mount(r chi.Router, m *auth.Manager, log *logger.Logger) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(auth.Middleware(m, log))

		r.Route("/items", func(r chi.Router) {
			r.Get("/", h.Items.List)
			r.Post("/", h.Items.Create)
			r.Get("/groups", h.Items.Groups)
			r.Get("/resolve", h.Items.Resolve)
			r.Get("/{kind}/{id}", h.Items.Get)
			r.With(auth.RequireRole(auth.RoleAdmin)).Delete("/{kind}/{id}", h.Items.Delete)
		})

		r.Route("/lots", func(r chi.Router) {
			r.Get("/", h.Lots.List)
			r.Post("/", h.Lots.AddStock)
			r.Get("/available", h.Lots.Available)
			r.With(auth.RequireRole(auth.RoleAdmin)).Delete("/{kind}/{id}", h.Lots.Delete)
		})

		r.Post("/stock/cut", h.Lots.Cut)

		r.Route("/treatments", func(r chi.Router) {
			r.Get("/", h.Treatments.List)
			r.Post("/", h.Treatments.Create)
			r.Get("/{id}", h.Treatments.Get)
			r.Put("/{id}", h.Treatments.Update)
			r.Delete("/{id}", h.Treatments.Delete)
		})

		r.Route("/dashboard", func(r chi.Router) {
			r.Get("/drug-summary", h.Dashboard.DrugSummary)
			r.Get("/monthly-cost", h.Dashboard.MonthlyCost)
			r.Get("/top-items", h.Dashboard.TopItems)
			r.Get("/departments", h.Dashboard.Departments)
			r.Get("/symptoms", h.Dashboard.Symptoms)
			r.Get("/alerts", h.Dashboard.Alerts)
		})
	})
}
