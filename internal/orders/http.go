package orders

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// HTTPHandler is the thin REST surface over the service. Creation returns
// 202 Accepted: confirmation happens asynchronously once the inventory
// outcome arrives, and the status endpoint is the read model for it.
type HTTPHandler struct {
	svc *Service
}

func NewHTTPHandler(svc *Service) *HTTPHandler {
	return &HTTPHandler{svc: svc}
}

func (h *HTTPHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/orders", h.createOrder)
	r.Get("/orders", h.listOrders)
	r.Get("/orders/{orderID}", h.getOrder)
	return r
}

func (h *HTTPHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	var cmd CreateOrderCommand
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	order, err := h.svc.CreateOrder(r.Context(), cmd)
	if err != nil {
		if errors.Is(err, ErrValidation) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		log.Error().Err(err).Msg("Failed to create order")
		writeError(w, http.StatusInternalServerError, "failed to create order")
		return
	}
	writeJSON(w, http.StatusAccepted, order)
}

func (h *HTTPHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "orderID")
	order, err := h.svc.GetOrder(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			writeError(w, http.StatusNotFound, "order not found")
			return
		}
		log.Error().Err(err).Str("orderId", id).Msg("Failed to fetch order")
		writeError(w, http.StatusInternalServerError, "failed to fetch order")
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (h *HTTPHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	var (
		out []*Order
		err error
	)
	if customerID := r.URL.Query().Get("customerId"); customerID != "" {
		out, err = h.svc.ListOrdersByCustomer(r.Context(), customerID)
	} else {
		out, err = h.svc.ListOrders(r.Context())
	}
	if err != nil {
		log.Error().Err(err).Msg("Failed to list orders")
		writeError(w, http.StatusInternalServerError, "failed to list orders")
		return
	}
	if out == nil {
		out = []*Order{}
	}
	writeJSON(w, http.StatusOK, out)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
