// Package handler exposes the pharmacy services over HTTP.
package handler

import (
	"github.com/go-chi/chi/v5"
	"github.com/medflow/medflow-pharmacy/pkg/httputil"
	"github.com/medflow/medflow-pharmacy/pkg/permissions"
)

// Routes mounts the pharmacy API under /api/v1/pharmacy
func Routes(r chi.Router, dispense *DispenseHandler, stock *StockHandler) {
	r.Route("/api/v1/pharmacy", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(httputil.RequirePermission(permissions.Dispense))
			r.Post("/prescriptions/{id}/dispense/charge", dispense.Charge)
			r.Post("/prescriptions/{id}/dispense/sale", dispense.Sale)
			r.Get("/dispenses/{id}", dispense.Get)
		})

		r.Group(func(r chi.Router) {
			r.Use(httputil.RequirePermission(permissions.StockRead))
			r.Get("/products/{id}/lots", stock.ListLots)
			r.Get("/products/{id}/allocation", stock.PreviewAllocation)
			r.Get("/movements", stock.ListMovements)
		})

		r.With(httputil.RequirePermission(permissions.StockWrite)).Post("/lots/receipts", stock.Receive)
		r.With(httputil.RequirePermission(permissions.StockAdjust)).Post("/lots/{id}/adjust", stock.Adjust)
	})
}
