package handler

import (
	"net/http"

	"github.com/xenking/bundle-pricing/internal/domain/order"
)

// Handler serves the order API, delegating to the order service.
type Handler struct {
	orders *order.Service
}

// NewHandler constructs a Handler over the order service.
func NewHandler(orders *order.Service) *Handler {
	return &Handler{orders: orders}
}

// Register mounts the API routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/quote", h.Quote)
	mux.HandleFunc("POST /api/orders", h.PlaceOrder)
	mux.HandleFunc("GET /api/orders/{id}", h.GetOrder)
}
