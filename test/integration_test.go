//go:build integration

package test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/marketflow/checkout/internal/auth"
	"github.com/marketflow/checkout/internal/cart"
	"github.com/marketflow/checkout/internal/catalog"
	"github.com/marketflow/checkout/internal/checkout"
	"github.com/marketflow/checkout/internal/domain"
	"github.com/marketflow/checkout/internal/gateway"
	"github.com/marketflow/checkout/internal/orders"
	"github.com/marketflow/checkout/internal/payments"
	"github.com/marketflow/checkout/internal/processor"
)

// Seeded product ids from the migrations.
const (
	productKeyboard = "11111111-1111-1111-1111-111111111111"
	productMouse    = "22222222-2222-2222-2222-222222222222"
	productHub      = "33333333-3333-3333-3333-333333333333"
	productStand    = "44444444-4444-4444-4444-444444444444"
)

type testEnv struct {
	products *catalog.ProductRepository
	carts    *cart.CartRepository
	orders   *orders.OrderRepository
	payments *payments.PaymentRepository
	service  *checkout.Service
	cleanup  func()
}

// fakeGateway emulates the hosted payment provider's three-call session
// sequence.
func fakeGateway() *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/tokens", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"token":"test-token"}`)
	})
	remoteOrderID := 7000
	mux.HandleFunc("POST /ecommerce/orders", func(w http.ResponseWriter, r *http.Request) {
		remoteOrderID++
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"id": remoteOrderID})
	})
	mux.HandleFunc("POST /acceptance/payment_keys", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"token":"session-token"}`)
	})
	return httptest.NewServer(mux)
}

func setupEnv(ctx context.Context, t *testing.T) *testEnv {
	t.Helper()

	pg := SetupPostgres(ctx, t)

	db, err := OpenDB(pg.ConnStr)
	if err != nil {
		pg.Cleanup()
		t.Fatalf("failed to open database: %v", err)
	}

	gw := fakeGateway()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	httpClient := &http.Client{Timeout: 10 * time.Second}

	productRepo := catalog.NewProductRepository(db)
	cartRepo := cart.NewCartRepository(db)
	orderRepo := orders.NewOrderRepository(db)
	paymentRepo := payments.NewPaymentRepository(db)

	service := checkout.NewService(
		productRepo, cartRepo, orderRepo, paymentRepo,
		gateway.NewClient(gw.URL, "test-key", "int-1", "iframe-1", httpClient),
		processor.NewClient("http://localhost:1", "sk_test", httpClient),
		decimal.NewFromFloat(0.10),
		logger,
	)

	return &testEnv{
		products: productRepo,
		carts:    cartRepo,
		orders:   orderRepo,
		payments: paymentRepo,
		service:  service,
		cleanup: func() {
			gw.Close()
			_ = db.Close()
			pg.Cleanup()
		},
	}
}

func TestCashCheckoutFlow(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	env := setupEnv(ctx, t)
	defer env.cleanup()

	actor := auth.Actor{UserID: "cust-1", Scope: auth.ScopeSelf}

	if err := env.carts.UpsertItem(ctx, actor.UserID, productKeyboard, 2); err != nil {
		t.Fatalf("failed to add keyboard to cart: %v", err)
	}
	if err := env.carts.UpsertItem(ctx, actor.UserID, productMouse, 1); err != nil {
		t.Fatalf("failed to add mouse to cart: %v", err)
	}

	result, err := env.service.CreateOrder(ctx, actor, domain.PaymentMethodCash, "", gateway.BillingInfo{})
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}

	order := result.Order
	if order.OrderStatus != domain.OrderStatusPending {
		t.Fatalf("expected order status pending, got %s", order.OrderStatus)
	}
	if order.PaymentStatus != domain.PaymentStatusPending {
		t.Fatalf("expected payment status pending, got %s", order.PaymentStatus)
	}

	// 2 * 120.00 + 35.50 = 275.50, commission 27.55
	if !order.TotalPrice.Equal(decimal.RequireFromString("275.50")) {
		t.Fatalf("expected total 275.50, got %s", order.TotalPrice)
	}
	if !order.AdminCommission.Equal(decimal.RequireFromString("27.55")) {
		t.Fatalf("expected commission 27.55, got %s", order.AdminCommission)
	}
	if !order.SellerAmount.Equal(decimal.RequireFromString("247.95")) {
		t.Fatalf("expected seller amount 247.95, got %s", order.SellerAmount)
	}

	keyboard, err := env.products.GetProduct(ctx, productKeyboard)
	if err != nil {
		t.Fatalf("failed to get keyboard: %v", err)
	}
	if keyboard.Stock != 23 {
		t.Fatalf("expected keyboard stock 23, got %d", keyboard.Stock)
	}

	items, err := env.carts.GetItems(ctx, actor.UserID)
	if err != nil {
		t.Fatalf("failed to get cart: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("expected empty cart after checkout, got %d items", len(items))
	}

	fetched, err := env.orders.GetByID(ctx, order.ID)
	if err != nil {
		t.Fatalf("failed to fetch order: %v", err)
	}
	if fetched == nil {
		t.Fatal("order not found in database")
	}
	if len(fetched.Items) != 2 {
		t.Fatalf("expected 2 order items, got %d", len(fetched.Items))
	}
}

func TestCheckoutInsufficientStockRollsBack(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	env := setupEnv(ctx, t)
	defer env.cleanup()

	actor := auth.Actor{UserID: "cust-2", Scope: auth.ScopeSelf}

	if err := env.carts.UpsertItem(ctx, actor.UserID, productKeyboard, 2); err != nil {
		t.Fatalf("failed to add keyboard to cart: %v", err)
	}
	// Stand is seeded at zero stock.
	if err := env.carts.UpsertItem(ctx, actor.UserID, productStand, 1); err != nil {
		t.Fatalf("failed to add stand to cart: %v", err)
	}

	_, err := env.service.CreateOrder(ctx, actor, domain.PaymentMethodCash, "", gateway.BillingInfo{})

	var stockErr *domain.InsufficientStockError
	if !errors.As(err, &stockErr) {
		t.Fatalf("expected insufficient stock error, got %v", err)
	}
	if stockErr.ProductID != productStand {
		t.Fatalf("expected stock error for stand, got %s", stockErr.ProductID)
	}

	keyboard, err := env.products.GetProduct(ctx, productKeyboard)
	if err != nil {
		t.Fatalf("failed to get keyboard: %v", err)
	}
	if keyboard.Stock != 25 {
		t.Fatalf("expected keyboard stock unchanged at 25, got %d", keyboard.Stock)
	}

	userOrders, err := env.orders.ListByUser(ctx, actor.UserID)
	if err != nil {
		t.Fatalf("failed to list orders: %v", err)
	}
	if len(userOrders) != 0 {
		t.Fatalf("expected no orders after failed checkout, got %d", len(userOrders))
	}

	items, err := env.carts.GetItems(ctx, actor.UserID)
	if err != nil {
		t.Fatalf("failed to get cart: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected cart untouched with 2 items, got %d", len(items))
	}
}

func TestCancelRestoresStock(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	env := setupEnv(ctx, t)
	defer env.cleanup()

	actor := auth.Actor{UserID: "cust-3", Scope: auth.ScopeSelf}

	if err := env.carts.UpsertItem(ctx, actor.UserID, productHub, 3); err != nil {
		t.Fatalf("failed to add hub to cart: %v", err)
	}

	result, err := env.service.CreateOrder(ctx, actor, domain.PaymentMethodCash, "", gateway.BillingInfo{})
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}

	hub, err := env.products.GetProduct(ctx, productHub)
	if err != nil {
		t.Fatalf("failed to get hub: %v", err)
	}
	if hub.Stock != 12 {
		t.Fatalf("expected hub stock 12 after checkout, got %d", hub.Stock)
	}

	cancelled, err := env.service.CancelOrder(ctx, actor, result.Order.ID)
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if cancelled.OrderStatus != domain.OrderStatusCancelled {
		t.Fatalf("expected status cancelled, got %s", cancelled.OrderStatus)
	}
	if cancelled.PaymentStatus != domain.PaymentStatusFailed {
		t.Fatalf("expected payment status failed, got %s", cancelled.PaymentStatus)
	}

	hub, err = env.products.GetProduct(ctx, productHub)
	if err != nil {
		t.Fatalf("failed to get hub: %v", err)
	}
	if hub.Stock != 15 {
		t.Fatalf("expected hub stock restored to 15, got %d", hub.Stock)
	}

	// Cancelling again must fail, and must not restore stock twice.
	if _, err := env.service.CancelOrder(ctx, actor, result.Order.ID); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition on double cancel, got %v", err)
	}
	hub, err = env.products.GetProduct(ctx, productHub)
	if err != nil {
		t.Fatalf("failed to get hub: %v", err)
	}
	if hub.Stock != 15 {
		t.Fatalf("expected hub stock still 15 after double cancel, got %d", hub.Stock)
	}
}

func TestGatewayWebhookSettlesOnce(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	env := setupEnv(ctx, t)
	defer env.cleanup()

	actor := auth.Actor{UserID: "cust-4", Scope: auth.ScopeSelf}

	if err := env.carts.UpsertItem(ctx, actor.UserID, productMouse, 2); err != nil {
		t.Fatalf("failed to add mouse to cart: %v", err)
	}

	result, err := env.service.CreateOrder(ctx, actor, domain.PaymentMethodGateway, "", gateway.BillingInfo{
		Name: "Test Customer", Email: "cust-4@example.com", Phone: "+201000000000",
	})
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}
	if result.RedirectURL == "" {
		t.Fatal("expected redirect URL for gateway checkout")
	}
	if result.Order.ExternalOrderID == "" {
		t.Fatal("expected external order id to be set")
	}

	event := checkout.GatewayEvent{
		Success:         true,
		ExternalOrderID: result.Order.ExternalOrderID,
		TransactionID:   "txn-abc",
	}

	for i := 0; i < 2; i++ {
		if err := env.service.HandleGatewayEvent(ctx, event); err != nil {
			t.Fatalf("webhook delivery %d failed: %v", i+1, err)
		}
	}

	settled, err := env.orders.GetByID(ctx, result.Order.ID)
	if err != nil {
		t.Fatalf("failed to fetch order: %v", err)
	}
	if settled.PaymentStatus != domain.PaymentStatusPaid {
		t.Fatalf("expected payment status paid, got %s", settled.PaymentStatus)
	}
	if settled.OrderStatus != domain.OrderStatusProcessing {
		t.Fatalf("expected order status processing, got %s", settled.OrderStatus)
	}
	if settled.ExternalTxnID != "txn-abc" {
		t.Fatalf("expected external txn id txn-abc, got %s", settled.ExternalTxnID)
	}

	attempt, err := env.payments.LatestByOrderAndMethod(ctx, result.Order.ID, domain.PaymentMethodGateway)
	if err != nil {
		t.Fatalf("failed to fetch payment attempt: %v", err)
	}
	if attempt == nil {
		t.Fatal("expected a gateway payment attempt")
	}
	if attempt.Status != domain.PaymentStatusPaid {
		t.Fatalf("expected payment attempt paid, got %s", attempt.Status)
	}
}

func TestRetryPaymentMintsNewSession(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	env := setupEnv(ctx, t)
	defer env.cleanup()

	actor := auth.Actor{UserID: "cust-5", Scope: auth.ScopeSelf}

	if err := env.carts.UpsertItem(ctx, actor.UserID, productKeyboard, 1); err != nil {
		t.Fatalf("failed to add keyboard to cart: %v", err)
	}

	result, err := env.service.CreateOrder(ctx, actor, domain.PaymentMethodGateway, "", gateway.BillingInfo{})
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}
	firstExternalID := result.Order.ExternalOrderID

	retried, err := env.service.RetryPayment(ctx, actor, result.Order.ID, gateway.BillingInfo{})
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if retried.RedirectURL == "" {
		t.Fatal("expected redirect URL on retry")
	}
	if retried.Order.ExternalOrderID == firstExternalID {
		t.Fatal("expected a new external order id on retry")
	}

	// The abandoned session's webhook must no longer match.
	if err := env.service.HandleGatewayEvent(ctx, checkout.GatewayEvent{
		Success: true, ExternalOrderID: firstExternalID, TransactionID: "txn-stale",
	}); err != nil {
		t.Fatalf("stale webhook failed: %v", err)
	}

	order, err := env.orders.GetByID(ctx, result.Order.ID)
	if err != nil {
		t.Fatalf("failed to fetch order: %v", err)
	}
	if order.PaymentStatus != domain.PaymentStatusPending {
		t.Fatalf("expected payment still pending after stale webhook, got %s", order.PaymentStatus)
	}

	// Settle against the fresh session.
	if err := env.service.HandleGatewayEvent(ctx, checkout.GatewayEvent{
		Success: true, ExternalOrderID: retried.Order.ExternalOrderID, TransactionID: "txn-fresh",
	}); err != nil {
		t.Fatalf("fresh webhook failed: %v", err)
	}

	order, err = env.orders.GetByID(ctx, result.Order.ID)
	if err != nil {
		t.Fatalf("failed to fetch order: %v", err)
	}
	if order.PaymentStatus != domain.PaymentStatusPaid {
		t.Fatalf("expected payment paid after fresh webhook, got %s", order.PaymentStatus)
	}

	// Paid orders reject further retries.
	if _, err := env.service.RetryPayment(ctx, actor, result.Order.ID, gateway.BillingInfo{}); !errors.Is(err, domain.ErrAlreadyPaid) {
		t.Fatalf("expected already paid error, got %v", err)
	}
}

func TestKafkaConnection(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	brokers, cleanup := SetupKafka(ctx, t)
	defer cleanup()

	if len(brokers) == 0 {
		t.Fatal("expected at least one broker")
	}

	t.Logf("kafka brokers: %v", brokers)
}
