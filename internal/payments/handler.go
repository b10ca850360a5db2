package payments

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/marketflow/checkout/internal/auth"
	"github.com/marketflow/checkout/internal/domain"
)

// Handler serves payment ledger reads. Settlement endpoints live with the
// checkout orchestrator.
type Handler struct {
	repo   *PaymentRepository
	logger *slog.Logger
}

func NewHandler(repo *PaymentRepository, logger *slog.Logger) *Handler {
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

	var payments []domain.Payment
	if actor.Admin() {
		payments, err = h.repo.ListAll(r.Context())
	} else {
		payments, err = h.repo.ListByUser(r.Context(), actor.UserID)
	}
	if err != nil {
		h.logger.Error("failed to list payments", "error", err, "user_id", actor.UserID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, payments)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	actor, err := auth.FromRequest(r)
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, "missing user identity")
		return
	}

	id := r.PathValue("id")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "missing payment id")
		return
	}

	payment, err := h.repo.GetByID(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to get payment", "error", err, "payment_id", id)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if payment == nil || !actor.CanAccess(payment.UserID) {
		h.writeError(w, http.StatusNotFound, "payment not found")
		return
	}

	h.writeJSON(w, http.StatusOK, payment)
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
