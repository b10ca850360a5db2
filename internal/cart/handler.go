package cart

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/marketflow/checkout/internal/auth"
	"github.com/marketflow/checkout/internal/catalog"
	"github.com/marketflow/checkout/internal/domain"
)

type Handler struct {
	repo     *CartRepository
	products *catalog.ProductRepository
	logger   *slog.Logger
}

func NewHandler(repo *CartRepository, products *catalog.ProductRepository, logger *slog.Logger) *Handler {
	return &Handler{
		repo:     repo,
		products: products,
		logger:   logger,
	}
}

type cartItemView struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name,omitempty"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	LineTotal decimal.Decimal `json:"line_total"`
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	actor, err := auth.FromRequest(r)
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, "missing user identity")
		return
	}

	items, err := h.repo.GetItems(r.Context(), actor.UserID)
	if err != nil {
		h.logger.Error("failed to get cart", "error", err, "user_id", actor.UserID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	views := make([]cartItemView, 0, len(items))
	for _, item := range items {
		view := cartItemView{ProductID: item.ProductID, Quantity: item.Quantity}
		product, err := h.products.GetProduct(r.Context(), item.ProductID)
		if err != nil {
			h.logger.Error("failed to load product for cart", "error", err, "product_id", item.ProductID)
			h.writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		if product != nil {
			view.Name = product.Name
			view.UnitPrice = product.Price
			view.LineTotal = product.Price.Mul(decimal.NewFromInt(int64(item.Quantity)))
		}
		views = append(views, view)
	}

	h.writeJSON(w, http.StatusOK, views)
}

type addItemRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

func (h *Handler) HandleAddItem(w http.ResponseWriter, r *http.Request) {
	actor, err := auth.FromRequest(r)
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, "missing user identity")
		return
	}

	var req addItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.ProductID == "" || req.Quantity < 1 {
		h.writeError(w, http.StatusBadRequest, "product_id and quantity >= 1 are required")
		return
	}

	product, err := h.products.GetProduct(r.Context(), req.ProductID)
	if err != nil {
		h.logger.Error("failed to get product", "error", err, "product_id", req.ProductID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if product == nil {
		h.writeError(w, http.StatusNotFound, domain.ErrProductNotFound.Error())
		return
	}

	if err := h.repo.UpsertItem(r.Context(), actor.UserID, req.ProductID, req.Quantity); err != nil {
		h.logger.Error("failed to add cart item", "error", err, "user_id", actor.UserID, "product_id", req.ProductID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.logger.Info("cart item added", "user_id", actor.UserID, "product_id", req.ProductID, "quantity", req.Quantity)
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "added"})
}

type updateItemRequest struct {
	Quantity int `json:"quantity"`
}

func (h *Handler) HandleUpdateItem(w http.ResponseWriter, r *http.Request) {
	actor, err := auth.FromRequest(r)
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, "missing user identity")
		return
	}

	productID := r.PathValue("productId")
	if productID == "" {
		h.writeError(w, http.StatusBadRequest, "missing product id")
		return
	}

	var req updateItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Quantity < 1 {
		h.writeError(w, http.StatusBadRequest, "quantity must be >= 1")
		return
	}

	updated, err := h.repo.UpdateItem(r.Context(), actor.UserID, productID, req.Quantity)
	if err != nil {
		h.logger.Error("failed to update cart item", "error", err, "user_id", actor.UserID, "product_id", productID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if !updated {
		h.writeError(w, http.StatusNotFound, domain.ErrCartItemNotFound.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (h *Handler) HandleRemoveItem(w http.ResponseWriter, r *http.Request) {
	actor, err := auth.FromRequest(r)
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, "missing user identity")
		return
	}

	productID := r.PathValue("productId")
	if productID == "" {
		h.writeError(w, http.StatusBadRequest, "missing product id")
		return
	}

	removed, err := h.repo.RemoveItem(r.Context(), actor.UserID, productID)
	if err != nil {
		h.logger.Error("failed to remove cart item", "error", err, "user_id", actor.UserID, "product_id", productID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if !removed {
		h.writeError(w, http.StatusNotFound, domain.ErrCartItemNotFound.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

func (h *Handler) HandleClear(w http.ResponseWriter, r *http.Request) {
	actor, err := auth.FromRequest(r)
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, "missing user identity")
		return
	}

	if err := h.repo.Clear(r.Context(), actor.UserID); err != nil {
		h.logger.Error("failed to clear cart", "error", err, "user_id", actor.UserID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
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
