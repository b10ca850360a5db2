package checkout

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/marketflow/checkout/internal/domain"
	"github.com/marketflow/checkout/internal/gateway"
)

func newTestHandler(f *testFixture) *Handler {
	return NewHandler(f.service, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestHandler_HandleCreateOrder(t *testing.T) {
	t.Run("creates an order for the header identity", func(t *testing.T) {
		f := newFixture(product("p1", "10.00", 5))
		f.carts.add("user-1", "p1", 1)
		handler := newTestHandler(f)

		req := httptest.NewRequest(http.MethodPost, "/checkout", strings.NewReader(`{"payment_method":"cash"}`))
		req.Header.Set("X-User-ID", "user-1")
		rec := httptest.NewRecorder()

		handler.HandleCreateOrder(rec, req)

		if rec.Code != http.StatusCreated {
			t.Fatalf("expected status 201, got %d: %s", rec.Code, rec.Body.String())
		}

		var result CheckoutResult
		if err := json.NewDecoder(rec.Body).Decode(&result); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if result.Order.UserID != "user-1" {
			t.Errorf("expected order for user-1, got %s", result.Order.UserID)
		}
	})

	t.Run("rejects requests without identity", func(t *testing.T) {
		handler := newTestHandler(newFixture())

		req := httptest.NewRequest(http.MethodPost, "/checkout", strings.NewReader(`{"payment_method":"cash"}`))
		rec := httptest.NewRecorder()

		handler.HandleCreateOrder(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Errorf("expected status 401, got %d", rec.Code)
		}
	})

	t.Run("maps empty cart to 400", func(t *testing.T) {
		handler := newTestHandler(newFixture())

		req := httptest.NewRequest(http.MethodPost, "/checkout", strings.NewReader(`{"payment_method":"cash"}`))
		req.Header.Set("X-User-ID", "user-1")
		rec := httptest.NewRecorder()

		handler.HandleCreateOrder(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d: %s", rec.Code, rec.Body.String())
		}
	})

	t.Run("maps stock conflicts to 409", func(t *testing.T) {
		f := newFixture(product("p1", "10.00", 1))
		f.carts.add("user-1", "p1", 2)
		handler := newTestHandler(f)

		req := httptest.NewRequest(http.MethodPost, "/checkout", strings.NewReader(`{"payment_method":"cash"}`))
		req.Header.Set("X-User-ID", "user-1")
		rec := httptest.NewRecorder()

		handler.HandleCreateOrder(rec, req)

		if rec.Code != http.StatusConflict {
			t.Errorf("expected status 409, got %d: %s", rec.Code, rec.Body.String())
		}
	})

	t.Run("maps gateway outages to 502", func(t *testing.T) {
		f := newFixture(product("p1", "10.00", 5))
		f.gateway.failStep = "auth"
		f.carts.add("user-1", "p1", 1)
		handler := newTestHandler(f)

		req := httptest.NewRequest(http.MethodPost, "/checkout", strings.NewReader(`{"payment_method":"gateway"}`))
		req.Header.Set("X-User-ID", "user-1")
		rec := httptest.NewRecorder()

		handler.HandleCreateOrder(rec, req)

		if rec.Code != http.StatusBadGateway {
			t.Errorf("expected status 502, got %d: %s", rec.Code, rec.Body.String())
		}
	})
}

func TestHandler_HandleGatewayWebhook(t *testing.T) {
	checkoutGateway := func(t *testing.T) (*testFixture, *Handler, *domain.Order) {
		t.Helper()
		f := newFixture(product("p1", "10.00", 5))
		f.carts.add("user-1", "p1", 1)
		result, err := f.service.CreateOrder(context.Background(), buyer, domain.PaymentMethodGateway, "", gateway.BillingInfo{})
		if err != nil {
			t.Fatalf("checkout failed: %v", err)
		}
		return f, newTestHandler(f), result.Order
	}

	t.Run("acknowledges and settles a success event", func(t *testing.T) {
		f, handler, order := checkoutGateway(t)

		body := `{"obj":{"id":900123,"success":true,"order":{"id":"` + order.ExternalOrderID + `"}}}`
		for i := 0; i < 2; i++ {
			req := httptest.NewRequest(http.MethodPost, "/payments/gateway/webhook", strings.NewReader(body))
			rec := httptest.NewRecorder()

			handler.HandleGatewayWebhook(rec, req)

			if rec.Code != http.StatusOK {
				t.Fatalf("delivery %d: expected status 200, got %d: %s", i+1, rec.Code, rec.Body.String())
			}
		}

		settled, _ := f.orders.GetByID(context.Background(), order.ID)
		if settled.PaymentStatus != domain.PaymentStatusPaid {
			t.Errorf("expected paid, got %s", settled.PaymentStatus)
		}
		if settled.ExternalTxnID != "900123" {
			t.Errorf("expected external txn id 900123, got %s", settled.ExternalTxnID)
		}
		if f.paid.len() != 1 {
			t.Errorf("expected 1 paid event, got %d", f.paid.len())
		}
	})

	t.Run("acknowledges unmatched external order ids", func(t *testing.T) {
		_, handler, _ := checkoutGateway(t)

		body := `{"obj":{"id":900124,"success":true,"order":{"id":"remote-unknown"}}}`
		req := httptest.NewRequest(http.MethodPost, "/payments/gateway/webhook", strings.NewReader(body))
		rec := httptest.NewRecorder()

		handler.HandleGatewayWebhook(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rec.Code)
		}
	})

	t.Run("rejects malformed payloads", func(t *testing.T) {
		_, handler, _ := checkoutGateway(t)

		req := httptest.NewRequest(http.MethodPost, "/payments/gateway/webhook", strings.NewReader(`{not json`))
		rec := httptest.NewRecorder()

		handler.HandleGatewayWebhook(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rec.Code)
		}
	})
}

func TestHandler_HandleGatewayCallback(t *testing.T) {
	t.Run("reflects the query flags without mutating anything", func(t *testing.T) {
		f, handler, order := func() (*testFixture, *Handler, *domain.Order) {
			f := newFixture(product("p1", "10.00", 5))
			f.carts.add("user-1", "p1", 1)
			result, err := f.service.CreateOrder(context.Background(), buyer, domain.PaymentMethodGateway, "", gateway.BillingInfo{})
			if err != nil {
				t.Fatalf("checkout failed: %v", err)
			}
			return f, newTestHandler(f), result.Order
		}()

		req := httptest.NewRequest(http.MethodGet, "/payments/gateway/callback?success=true&order="+order.ExternalOrderID, nil)
		rec := httptest.NewRecorder()

		handler.HandleGatewayCallback(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rec.Code)
		}

		var resp map[string]any
		if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if resp["success"] != true {
			t.Errorf("expected success true, got %v", resp["success"])
		}

		// The callback is informational only; settlement still requires the
		// webhook.
		unchanged, _ := f.orders.GetByID(context.Background(), order.ID)
		if unchanged.PaymentStatus != domain.PaymentStatusPending {
			t.Errorf("expected payment still pending, got %s", unchanged.PaymentStatus)
		}
	})
}

func TestHandler_HandleUpdateOrderStatus(t *testing.T) {
	t.Run("requires the admin role", func(t *testing.T) {
		f := newFixture(product("p1", "10.00", 5))
		f.carts.add("user-1", "p1", 1)
		result, err := f.service.CreateOrder(context.Background(), buyer, domain.PaymentMethodCash, "", gateway.BillingInfo{})
		if err != nil {
			t.Fatalf("checkout failed: %v", err)
		}
		handler := newTestHandler(f)

		req := httptest.NewRequest(http.MethodPatch, "/orders/"+result.Order.ID+"/status", strings.NewReader(`{"status":"processing"}`))
		req.SetPathValue("id", result.Order.ID)
		req.Header.Set("X-User-ID", "user-1")
		rec := httptest.NewRecorder()

		handler.HandleUpdateOrderStatus(rec, req)

		if rec.Code != http.StatusForbidden {
			t.Errorf("expected status 403, got %d: %s", rec.Code, rec.Body.String())
		}
	})
}
