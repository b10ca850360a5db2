package orders

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/marketflow/checkout/internal/auth"
	"github.com/marketflow/checkout/internal/domain"
)

// Handler serves order reads. All order mutations go through the checkout
// orchestrator.
type Handler struct {
	repo   *OrderRepository
	logger *slog.Logger
}

func NewHandler(repo *OrderRepository, logger *slog.Logger) *Handler {
	return &Handler{
		repo:   repo,
		logger: logger,
	}
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	actor, err := auth.FromRequest(r)
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, "missing user identity")
		return
	}

	var orders []domain.Order
	if actor.Admin() {
		orders, err = h.repo.ListAll(r.Context())
	} else {
		orders, err = h.repo.ListByUser(r.Context(), actor.UserID)
	}
	if err != nil {
		h.logger.Error("failed to list orders", "error", err, "user_id", actor.UserID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, orders)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	actor, err := auth.FromRequest(r)
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, "missing user identity")
		return
	}

	id := r.PathValue("id")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "missing order id")
		return
	}

	order, err := h.repo.GetByID(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to get order", "error", err, "order_id", id)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if order == nil || !actor.CanAccess(order.UserID) {
		h.writeError(w, http.StatusNotFound, "order not found")
		return
	}

	h.writeJSON(w, http.StatusOK, order)
}

func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	actor, err := auth.FromRequest(r)
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, "missing user identity")
		return
	}

	if !actor.Admin() {
		h.writeError(w, http.StatusForbidden, "access denied")
		return
	}

	stats, err := h.repo.Stats(r.Context())
	if err != nil {
		h.logger.Error("failed to compute order stats", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
