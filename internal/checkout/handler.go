package checkout

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/marketflow/checkout/internal/auth"
	"github.com/marketflow/checkout/internal/domain"
	"github.com/marketflow/checkout/internal/gateway"
)

type Handler struct {
	service *Service
	logger  *slog.Logger
}

func NewHandler(service *Service, logger *slog.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

type createOrderRequest struct {
	PaymentMethod string `json:"payment_method"`
	VendorID      string `json:"vendor_id"`
	Billing       struct {
		Name  string `json:"name"`
		Email string `json:"email"`
		Phone string `json:"phone"`
	} `json:"billing"`
}

func (h *Handler) HandleCreateOrder(w http.ResponseWriter, r *http.Request) {
	actor, err := auth.FromRequest(r)
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, "missing user identity")
		return
	}

	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	billing := gateway.BillingInfo{
		Name:  req.Billing.Name,
		Email: req.Billing.Email,
		Phone: req.Billing.Phone,
	}

	result, err := h.service.CreateOrder(r.Context(), actor, domain.PaymentMethod(req.PaymentMethod), req.VendorID, billing)
	if err != nil {
		h.writeServiceError(w, err, "failed to create order", "user_id", actor.UserID)
		return
	}

	h.writeJSON(w, http.StatusCreated, result)
}

func (h *Handler) HandleCancelOrder(w http.ResponseWriter, r *http.Request) {
	actor, err := auth.FromRequest(r)
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, "missing user identity")
		return
	}

	id := r.PathValue("id")
	order, err := h.service.CancelOrder(r.Context(), actor, id)
	if err != nil {
		h.writeServiceError(w, err, "failed to cancel order", "order_id", id)
		return
	}

	h.writeJSON(w, http.StatusOK, order)
}

func (h *Handler) HandleRetryPayment(w http.ResponseWriter, r *http.Request) {
	actor, err := auth.FromRequest(r)
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, "missing user identity")
		return
	}

	var req createOrderRequest
	if r.Body != nil {
		// Billing details are optional on retry; decode errors on an
		// empty body are not failures.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	billing := gateway.BillingInfo{
		Name:  req.Billing.Name,
		Email: req.Billing.Email,
		Phone: req.Billing.Phone,
	}

	id := r.PathValue("id")
	result, err := h.service.RetryPayment(r.Context(), actor, id, billing)
	if err != nil {
		h.writeServiceError(w, err, "failed to retry payment", "order_id", id)
		return
	}

	h.writeJSON(w, http.StatusOK, result)
}

type confirmCardRequest struct {
	IntentID string `json:"intent_id"`
}

func (h *Handler) HandleConfirmCardPayment(w http.ResponseWriter, r *http.Request) {
	actor, err := auth.FromRequest(r)
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, "missing user identity")
		return
	}

	var req confirmCardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.IntentID == "" {
		h.writeError(w, http.StatusBadRequest, "missing intent_id")
		return
	}

	result, settled, err := h.service.ConfirmCardPayment(r.Context(), actor, req.IntentID)
	if err != nil {
		h.writeServiceError(w, err, "failed to confirm card payment", "intent_id", req.IntentID)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"settled": settled,
		"order":   result.Order,
		"payment": result.Payment,
	})
}

func (h *Handler) HandleRegisterCashPayment(w http.ResponseWriter, r *http.Request) {
	actor, err := auth.FromRequest(r)
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, "missing user identity")
		return
	}

	id := r.PathValue("id")
	payment, err := h.service.RegisterCashPayment(r.Context(), actor, id)
	if err != nil {
		h.writeServiceError(w, err, "failed to register cash payment", "order_id", id)
		return
	}

	h.writeJSON(w, http.StatusCreated, payment)
}

type updateStatusRequest struct {
	Status string `json:"status"`
}

func (h *Handler) HandleUpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	actor, err := auth.FromRequest(r)
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, "missing user identity")
		return
	}

	var req updateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Status == "" {
		h.writeError(w, http.StatusBadRequest, "missing status")
		return
	}

	id := r.PathValue("id")
	order, err := h.service.UpdateOrderStatus(r.Context(), actor, id, domain.OrderStatus(req.Status))
	if err != nil {
		h.writeServiceError(w, err, "failed to update order status", "order_id", id)
		return
	}

	h.writeJSON(w, http.StatusOK, order)
}

// webhookPayload mirrors the provider's transaction-processed notification.
// The external order id arrives as a number.
type webhookPayload struct {
	Obj struct {
		ID      json.Number `json:"id"`
		Success bool        `json:"success"`
		Order   struct {
			ID json.Number `json:"id"`
		} `json:"order"`
	} `json:"obj"`
}

// HandleGatewayWebhook accepts the provider's server-to-server settlement
// notification. Every outcome except an internal failure is acknowledged
// with 200 so the provider stops retrying.
func (h *Handler) HandleGatewayWebhook(w http.ResponseWriter, r *http.Request) {
	var payload webhookPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid webhook payload")
		return
	}

	event := GatewayEvent{
		Success:         payload.Obj.Success,
		ExternalOrderID: payload.Obj.Order.ID.String(),
		TransactionID:   payload.Obj.ID.String(),
	}
	if event.ExternalOrderID == "" {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	if err := h.service.HandleGatewayEvent(r.Context(), event); err != nil {
		h.logger.Error("failed to process gateway webhook", "error", err, "external_order_id", event.ExternalOrderID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}

// HandleGatewayCallback serves the browser redirect after a hosted payment
// page. It only reflects the query flags back; settlement authority belongs
// to the webhook alone.
func (h *Handler) HandleGatewayCallback(w http.ResponseWriter, r *http.Request) {
	success := r.URL.Query().Get("success") == "true"
	h.writeJSON(w, http.StatusOK, map[string]any{
		"success":           success,
		"external_order_id": r.URL.Query().Get("order"),
	})
}

// writeServiceError maps domain errors onto HTTP statuses. Unknown errors
// are logged and reported as 500.
func (h *Handler) writeServiceError(w http.ResponseWriter, err error, msg string, logArgs ...any) {
	var stockErr *domain.InsufficientStockError
	var extErr *domain.ExternalServiceError

	switch {
	case errors.Is(err, domain.ErrInvalidPaymentMethod), errors.Is(err, domain.ErrEmptyCart):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrOrderNotFound),
		errors.Is(err, domain.ErrPaymentNotFound),
		errors.Is(err, domain.ErrProductNotFound),
		errors.Is(err, domain.ErrCartItemNotFound):
		h.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrForbidden):
		h.writeError(w, http.StatusForbidden, err.Error())
	case errors.As(err, &stockErr), errors.Is(err, domain.ErrAlreadyPaid), errors.Is(err, domain.ErrInvalidTransition):
		h.writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &extErr):
		h.logger.Error(msg, append([]any{"error", err}, logArgs...)...)
		h.writeError(w, http.StatusBadGateway, "payment provider unavailable")
	default:
		h.logger.Error(msg, append([]any{"error", err}, logArgs...)...)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
	}
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
