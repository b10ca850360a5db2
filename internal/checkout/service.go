// Package checkout drives cart-to-order conversion, stock reservation,
// payment initialization and settlement. It is the only writer of order and
// payment state.
package checkout

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/marketflow/checkout/internal/auth"
	"github.com/marketflow/checkout/internal/domain"
	"github.com/marketflow/checkout/internal/gateway"
	"github.com/marketflow/checkout/internal/processor"
)

// CatalogStore is the external catalog surface checkout consumes. The
// conditional decrement is the only mandatory mutual-exclusion point in the
// subsystem.
type CatalogStore interface {
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	DecrementStockIfSufficient(ctx context.Context, id string, qty int) (bool, error)
	IncrementStock(ctx context.Context, id string, qty int) error
}

type CartStore interface {
	GetItems(ctx context.Context, userID string) ([]domain.CartItem, error)
	RemoveItems(ctx context.Context, userID string, productIDs []string) error
}

type OrderStore interface {
	Create(ctx context.Context, order *domain.Order) error
	Delete(ctx context.Context, id string) error
	GetByID(ctx context.Context, id string) (*domain.Order, error)
	GetByExternalOrderID(ctx context.Context, externalOrderID string) (*domain.Order, error)
	UpdateStatus(ctx context.Context, id string, status domain.OrderStatus) (*domain.Order, error)
	SetExternalOrder(ctx context.Context, id, externalOrderID string) error
	MarkPaid(ctx context.Context, id, externalTxnID string) (bool, error)
	MarkCancelled(ctx context.Context, id string) (bool, error)
	ClaimItemRestore(ctx context.Context, orderID, productID string) (bool, error)
	ReleaseItemRestore(ctx context.Context, orderID, productID string) error
}

type PaymentStore interface {
	Create(ctx context.Context, payment *domain.Payment) error
	GetByTransactionID(ctx context.Context, transactionID string, method domain.PaymentMethod) (*domain.Payment, error)
	LatestByOrderAndMethod(ctx context.Context, orderID string, method domain.PaymentMethod) (*domain.Payment, error)
	UpdateStatus(ctx context.Context, id string, status domain.PaymentStatus, transactionID string) error
	ResolvePending(ctx context.Context, orderID string, method domain.PaymentMethod, status domain.PaymentStatus, transactionID string) error
}

type GatewayClient interface {
	AuthToken(ctx context.Context) (string, error)
	CreateRemoteOrder(ctx context.Context, token string, amountCents int64) (string, error)
	CreatePaymentSession(ctx context.Context, token, remoteOrderID string, amountCents int64, billing gateway.BillingInfo) (string, error)
	RedirectURL(sessionToken string) string
}

type CardProcessor interface {
	CreateIntent(ctx context.Context, amountCents int64, orderID, userID string) (*processor.Intent, error)
	GetIntent(ctx context.Context, id string) (*processor.Intent, error)
}

// Publisher is the best-effort event broadcast. Publish failures never fail
// the underlying operation.
type Publisher interface {
	Publish(ctx context.Context, key string, event any) error
}

type Service struct {
	catalog        CatalogStore
	carts          CartStore
	orders         OrderStore
	payments       PaymentStore
	gateway        GatewayClient
	processor      CardProcessor
	commissionRate decimal.Decimal
	logger         *slog.Logger

	createdPublisher   Publisher
	paidPublisher      Publisher
	cancelledPublisher Publisher

	ordersCreated  metric.Int64Counter
	ordersSettled  metric.Int64Counter
	stockConflicts metric.Int64Counter
}

type Option func(*Service)

// WithPublishers wires the per-topic event producers. Any of them may be nil.
func WithPublishers(created, paid, cancelled Publisher) Option {
	return func(s *Service) {
		s.createdPublisher = created
		s.paidPublisher = paid
		s.cancelledPublisher = cancelled
	}
}

func NewService(
	catalog CatalogStore,
	carts CartStore,
	orders OrderStore,
	payments PaymentStore,
	gw GatewayClient,
	proc CardProcessor,
	commissionRate decimal.Decimal,
	logger *slog.Logger,
	opts ...Option,
) *Service {
	meter := otel.Meter("checkout")
	ordersCreated, _ := meter.Int64Counter("checkout.orders.created")
	ordersSettled, _ := meter.Int64Counter("checkout.orders.settled")
	stockConflicts, _ := meter.Int64Counter("checkout.stock.conflicts")

	s := &Service{
		catalog:        catalog,
		carts:          carts,
		orders:         orders,
		payments:       payments,
		gateway:        gw,
		processor:      proc,
		commissionRate: commissionRate,
		logger:         logger,
		ordersCreated:  ordersCreated,
		ordersSettled:  ordersSettled,
		stockConflicts: stockConflicts,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// CheckoutResult carries the method-specific continuation alongside the
// created order.
type CheckoutResult struct {
	Order        *domain.Order   `json:"order"`
	Payment      *domain.Payment `json:"payment,omitempty"`
	ClientSecret string          `json:"client_secret,omitempty"`
	RedirectURL  string          `json:"redirect_url,omitempty"`
}

// CreateOrder converts the actor's cart into an order. No mutation happens
// before the cart reconciles cleanly; stock is taken with per-line
// conditional decrements, compensated on mid-order failure.
func (s *Service) CreateOrder(ctx context.Context, actor auth.Actor, method domain.PaymentMethod, vendorID string, billing gateway.BillingInfo) (*CheckoutResult, error) {
	if !method.Valid() {
		return nil, domain.ErrInvalidPaymentMethod
	}

	lines, err := s.reconcileCart(ctx, actor.UserID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	order := &domain.Order{
		UserID:        actor.UserID,
		VendorID:      vendorID,
		PaymentMethod: method,
		OrderStatus:   domain.OrderStatusPending,
		PaymentStatus: domain.PaymentStatusPending,
		CreatedAt:     now,
	}

	total := decimal.Zero
	for _, line := range lines {
		item := domain.OrderItem{
			ProductID: line.product.ID,
			Quantity:  line.quantity,
			UnitPrice: line.product.Price,
			LineTotal: domain.RoundMoney(line.product.Price.Mul(decimal.NewFromInt(int64(line.quantity)))),
		}
		order.Items = append(order.Items, item)
		total = total.Add(item.LineTotal)
	}

	order.TotalPrice = domain.RoundMoney(total)
	order.AdminCommission = domain.RoundMoney(order.TotalPrice.Mul(s.commissionRate))
	order.SellerAmount = order.TotalPrice.Sub(order.AdminCommission)

	if err := s.orders.Create(ctx, order); err != nil {
		return nil, err
	}

	if err := s.takeStock(ctx, order, lines); err != nil {
		return nil, err
	}

	purchased := make([]string, 0, len(order.Items))
	for _, item := range order.Items {
		purchased = append(purchased, item.ProductID)
	}
	if err := s.carts.RemoveItems(ctx, actor.UserID, purchased); err != nil {
		// Stock and order are already committed; a stale cart is
		// self-healed on the next checkout.
		s.logger.Error("failed to clear purchased cart items", "error", err, "user_id", actor.UserID, "order_id", order.ID)
	}

	s.ordersCreated.Add(ctx, 1)

	result := &CheckoutResult{Order: order}
	switch method {
	case domain.PaymentMethodCash:
		// Settlement on delivery happens outside this subsystem.

	case domain.PaymentMethodCard:
		if err := s.initCardPayment(ctx, actor, order, result); err != nil {
			s.publish(ctx, s.createdPublisher, order.ID, s.createdEvent(order))
			return nil, err
		}

	case domain.PaymentMethodGateway:
		if err := s.initGatewaySession(ctx, actor, order, billing, result); err != nil {
			// The order stays in pending/pending with stock taken;
			// retry-payment resumes from here.
			s.publish(ctx, s.createdPublisher, order.ID, s.createdEvent(order))
			return nil, err
		}
	}

	s.publish(ctx, s.createdPublisher, order.ID, s.createdEvent(order))

	s.logger.Info("order created",
		"order_id", order.ID,
		"user_id", actor.UserID,
		"payment_method", method,
		"total_price", order.TotalPrice.String(),
	)

	return result, nil
}

// takeStock decrements each line conditionally. On the first conditional
// failure it re-credits every earlier line and deletes the order, so partial
// success is never visible.
func (s *Service) takeStock(ctx context.Context, order *domain.Order, lines []checkoutLine) error {
	for i, line := range lines {
		ok, err := s.catalog.DecrementStockIfSufficient(ctx, line.product.ID, line.quantity)
		if err == nil && !ok {
			s.stockConflicts.Add(ctx, 1)
			// The reconciliation snapshot is stale once another sale
			// wins the decrement; report the live count.
			available := line.product.Stock
			if fresh, readErr := s.catalog.GetProduct(ctx, line.product.ID); readErr == nil && fresh != nil {
				available = fresh.Stock
			}
			err = &domain.InsufficientStockError{
				ProductID: line.product.ID,
				Requested: line.quantity,
				Available: available,
			}
		}
		if err != nil {
			for j := 0; j < i; j++ {
				if rbErr := s.catalog.IncrementStock(ctx, lines[j].product.ID, lines[j].quantity); rbErr != nil {
					s.logger.Error("stock rollback failed",
						"error", rbErr,
						"order_id", order.ID,
						"product_id", lines[j].product.ID,
					)
				}
			}
			if delErr := s.orders.Delete(ctx, order.ID); delErr != nil {
				s.logger.Error("failed to delete aborted order", "error", delErr, "order_id", order.ID)
			}
			return err
		}
	}
	return nil
}

func (s *Service) initCardPayment(ctx context.Context, actor auth.Actor, order *domain.Order, result *CheckoutResult) error {
	intent, err := s.processor.CreateIntent(ctx, domain.MinorUnits(order.TotalPrice), order.ID, actor.UserID)
	if err != nil {
		return err
	}

	payment := &domain.Payment{
		UserID:        actor.UserID,
		OrderID:       order.ID,
		Method:        domain.PaymentMethodCard,
		Amount:        order.TotalPrice,
		Status:        domain.PaymentStatusPending,
		TransactionID: intent.ID,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.payments.Create(ctx, payment); err != nil {
		return err
	}

	result.Payment = payment
	result.ClientSecret = intent.ClientSecret
	return nil
}

func (s *Service) initGatewaySession(ctx context.Context, actor auth.Actor, order *domain.Order, billing gateway.BillingInfo, result *CheckoutResult) error {
	redirectURL, err := s.mintGatewaySession(ctx, actor, order, billing)
	if err != nil {
		return err
	}

	result.RedirectURL = redirectURL
	result.Order = order
	return nil
}

// mintGatewaySession runs the auth-token / remote-order / payment-session
// sequence, overwrites the stored external order id and records a pending
// payment attempt.
func (s *Service) mintGatewaySession(ctx context.Context, actor auth.Actor, order *domain.Order, billing gateway.BillingInfo) (string, error) {
	amountCents := domain.MinorUnits(order.TotalPrice)

	token, err := s.gateway.AuthToken(ctx)
	if err != nil {
		return "", err
	}

	remoteOrderID, err := s.gateway.CreateRemoteOrder(ctx, token, amountCents)
	if err != nil {
		return "", err
	}

	session, err := s.gateway.CreatePaymentSession(ctx, token, remoteOrderID, amountCents, billing)
	if err != nil {
		return "", err
	}

	if err := s.orders.SetExternalOrder(ctx, order.ID, remoteOrderID); err != nil {
		return "", err
	}
	order.ExternalOrderID = remoteOrderID

	payment := &domain.Payment{
		UserID:    actor.UserID,
		OrderID:   order.ID,
		Method:    domain.PaymentMethodGateway,
		Amount:    order.TotalPrice,
		Status:    domain.PaymentStatusPending,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.payments.Create(ctx, payment); err != nil {
		return "", err
	}

	return s.gateway.RedirectURL(session), nil
}

// RetryPayment mints a new gateway session for an order whose payment never
// arrived. No new order, no stock mutation; the previous session is
// abandoned, not voided.
func (s *Service) RetryPayment(ctx context.Context, actor auth.Actor, orderID string, billing gateway.BillingInfo) (*CheckoutResult, error) {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil || !actor.CanAccess(order.UserID) {
		return nil, domain.ErrOrderNotFound
	}

	if order.PaymentMethod != domain.PaymentMethodGateway {
		return nil, domain.ErrInvalidPaymentMethod
	}
	if order.PaymentStatus == domain.PaymentStatusPaid {
		return nil, domain.ErrAlreadyPaid
	}
	if order.PaymentStatus != domain.PaymentStatusPending {
		return nil, domain.ErrInvalidTransition
	}

	redirectURL, err := s.mintGatewaySession(ctx, actor, order, billing)
	if err != nil {
		return nil, err
	}

	s.logger.Info("payment retry initialized", "order_id", order.ID, "external_order_id", order.ExternalOrderID)

	return &CheckoutResult{Order: order, RedirectURL: redirectURL}, nil
}

// GatewayEvent is the provider's server-to-server settlement notification.
type GatewayEvent struct {
	Success         bool
	ExternalOrderID string
	TransactionID   string
}

// HandleGatewayEvent settles an order from a webhook. Unmatched external
// order ids are acknowledged silently to satisfy the provider's retry
// contract, and replays of a success event apply at most one transition.
func (s *Service) HandleGatewayEvent(ctx context.Context, event GatewayEvent) error {
	if !event.Success || event.ExternalOrderID == "" {
		return nil
	}

	order, err := s.orders.GetByExternalOrderID(ctx, event.ExternalOrderID)
	if err != nil {
		return err
	}
	if order == nil {
		s.logger.Info("webhook for unknown external order ignored", "external_order_id", event.ExternalOrderID)
		return nil
	}

	settled, err := s.orders.MarkPaid(ctx, order.ID, event.TransactionID)
	if err != nil {
		return err
	}
	if !settled {
		// Replay of an already-applied success event.
		return nil
	}

	if err := s.payments.ResolvePending(ctx, order.ID, domain.PaymentMethodGateway, domain.PaymentStatusPaid, event.TransactionID); err != nil {
		s.logger.Error("failed to resolve pending gateway payment", "error", err, "order_id", order.ID)
	}

	s.ordersSettled.Add(ctx, 1)
	s.publish(ctx, s.paidPublisher, order.ID, domain.OrderPaidEvent{
		OrderID:       order.ID,
		UserID:        order.UserID,
		Amount:        order.TotalPrice,
		TransactionID: event.TransactionID,
		Timestamp:     time.Now().UTC(),
	})

	s.logger.Info("order settled via gateway webhook", "order_id", order.ID, "external_txn_id", event.TransactionID)
	return nil
}

// ConfirmCardPayment polls the processor for the intent's terminal state.
// Non-success leaves everything untouched so the client can poll again.
func (s *Service) ConfirmCardPayment(ctx context.Context, actor auth.Actor, intentID string) (*CheckoutResult, bool, error) {
	payment, err := s.payments.GetByTransactionID(ctx, intentID, domain.PaymentMethodCard)
	if err != nil {
		return nil, false, err
	}
	if payment == nil || !actor.CanAccess(payment.UserID) {
		return nil, false, domain.ErrPaymentNotFound
	}

	order, err := s.orders.GetByID(ctx, payment.OrderID)
	if err != nil {
		return nil, false, err
	}
	if order == nil {
		return nil, false, domain.ErrOrderNotFound
	}

	intent, err := s.processor.GetIntent(ctx, intentID)
	if err != nil {
		return nil, false, err
	}

	result := &CheckoutResult{Order: order, Payment: payment}
	if intent.Status != processor.StatusSucceeded {
		return result, false, nil
	}

	if err := s.payments.UpdateStatus(ctx, payment.ID, domain.PaymentStatusPaid, intentID); err != nil {
		return nil, false, err
	}
	payment.Status = domain.PaymentStatusPaid

	settled, err := s.orders.MarkPaid(ctx, order.ID, "")
	if err != nil {
		return nil, false, err
	}

	if settled {
		s.ordersSettled.Add(ctx, 1)
		s.publish(ctx, s.paidPublisher, order.ID, domain.OrderPaidEvent{
			OrderID:       order.ID,
			UserID:        order.UserID,
			Amount:        order.TotalPrice,
			TransactionID: intentID,
			Timestamp:     time.Now().UTC(),
		})
	}

	order.PaymentStatus = domain.PaymentStatusPaid
	if order.OrderStatus == domain.OrderStatusPending {
		order.OrderStatus = domain.OrderStatusProcessing
	}

	s.logger.Info("card payment confirmed", "order_id", order.ID, "intent_id", intentID)
	return result, true, nil
}

// RegisterCashPayment records the pending cash attempt for an order, once.
// Nothing is ever marked paid here; cash settles on delivery outside this
// subsystem.
func (s *Service) RegisterCashPayment(ctx context.Context, actor auth.Actor, orderID string) (*domain.Payment, error) {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil || !actor.CanAccess(order.UserID) {
		return nil, domain.ErrOrderNotFound
	}

	if order.PaymentMethod != domain.PaymentMethodCash {
		return nil, domain.ErrInvalidPaymentMethod
	}

	existing, err := s.payments.LatestByOrderAndMethod(ctx, orderID, domain.PaymentMethodCash)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	payment := &domain.Payment{
		UserID:    order.UserID,
		OrderID:   order.ID,
		Method:    domain.PaymentMethodCash,
		Amount:    order.TotalPrice,
		Status:    domain.PaymentStatusPending,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.payments.Create(ctx, payment); err != nil {
		return nil, err
	}

	return payment, nil
}

// CancelOrder cancels a pending order, fails its payment axis and restores
// every line item's stock. All restores must complete or the cancellation is
// reported failed; calling again on an order whose restores failed completes
// only the outstanding ones.
func (s *Service) CancelOrder(ctx context.Context, actor auth.Actor, orderID string) (*domain.Order, error) {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil || !actor.CanAccess(order.UserID) {
		return nil, domain.ErrOrderNotFound
	}

	cancelled, err := s.orders.MarkCancelled(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	if !cancelled {
		return s.resumeCancellation(ctx, order.ID)
	}

	if _, err := s.restoreStock(ctx, order); err != nil {
		return nil, err
	}

	return s.finishCancellation(ctx, order), nil
}

// resumeCancellation handles a cancel call that lost the MarkCancelled
// claim. If the order is already cancelled but a restore was left behind by
// a failed attempt, the outstanding restores run now; otherwise the call is
// a plain invalid transition.
func (s *Service) resumeCancellation(ctx context.Context, orderID string) (*domain.Order, error) {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil || order.OrderStatus != domain.OrderStatusCancelled {
		return nil, domain.ErrInvalidTransition
	}

	restored, err := s.restoreStock(ctx, order)
	if err != nil {
		return nil, err
	}
	if !restored {
		return nil, domain.ErrInvalidTransition
	}

	return s.finishCancellation(ctx, order), nil
}

// restoreStock re-credits each line item's stock at most once across all
// cancellation attempts, claiming the item before touching the catalog and
// releasing the claim when the increment fails. Reports whether this call
// restored anything.
func (s *Service) restoreStock(ctx context.Context, order *domain.Order) (bool, error) {
	var restored bool
	var restoreErr error
	for _, item := range order.Items {
		claimed, err := s.orders.ClaimItemRestore(ctx, order.ID, item.ProductID)
		if err != nil {
			restoreErr = err
			continue
		}
		if !claimed {
			continue
		}
		if err := s.catalog.IncrementStock(ctx, item.ProductID, item.Quantity); err != nil {
			s.logger.Error("failed to restore stock on cancellation",
				"error", err,
				"order_id", order.ID,
				"product_id", item.ProductID,
				"quantity", item.Quantity,
			)
			if relErr := s.orders.ReleaseItemRestore(ctx, order.ID, item.ProductID); relErr != nil {
				s.logger.Error("failed to release restore claim", "error", relErr, "order_id", order.ID, "product_id", item.ProductID)
			}
			restoreErr = err
			continue
		}
		restored = true
	}
	return restored, restoreErr
}

func (s *Service) finishCancellation(ctx context.Context, order *domain.Order) *domain.Order {
	if err := s.payments.ResolvePending(ctx, order.ID, order.PaymentMethod, domain.PaymentStatusFailed, ""); err != nil {
		s.logger.Error("failed to fail pending payments on cancellation", "error", err, "order_id", order.ID)
	}

	order.OrderStatus = domain.OrderStatusCancelled
	order.PaymentStatus = domain.PaymentStatusFailed

	s.publish(ctx, s.cancelledPublisher, order.ID, domain.OrderCancelledEvent{
		OrderID:   order.ID,
		UserID:    order.UserID,
		Items:     order.Items,
		Timestamp: time.Now().UTC(),
	})

	s.logger.Info("order cancelled and stock restored", "order_id", order.ID, "user_id", order.UserID)
	return order
}

// UpdateOrderStatus applies an administrative forward transition on the
// fulfillment axis. Cancellation is not reachable through here.
func (s *Service) UpdateOrderStatus(ctx context.Context, actor auth.Actor, orderID string, status domain.OrderStatus) (*domain.Order, error) {
	if !actor.Admin() {
		return nil, domain.ErrForbidden
	}

	if !status.Valid() || status == domain.OrderStatusCancelled {
		return nil, domain.ErrInvalidTransition
	}

	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, domain.ErrOrderNotFound
	}

	if !order.OrderStatus.CanAdvanceTo(status) {
		return nil, domain.ErrInvalidTransition
	}

	updated, err := s.orders.UpdateStatus(ctx, orderID, status)
	if err != nil {
		return nil, err
	}
	if updated == nil {
		return nil, domain.ErrOrderNotFound
	}

	s.logger.Info("order status updated", "order_id", orderID, "status", status)
	return updated, nil
}

func (s *Service) createdEvent(order *domain.Order) domain.OrderCreatedEvent {
	return domain.OrderCreatedEvent{
		OrderID:       order.ID,
		UserID:        order.UserID,
		PaymentMethod: order.PaymentMethod,
		TotalPrice:    order.TotalPrice,
		Items:         order.Items,
		Timestamp:     order.CreatedAt,
	}
}

func (s *Service) publish(ctx context.Context, pub Publisher, key string, event any) {
	if pub == nil {
		return
	}
	if err := pub.Publish(ctx, key, event); err != nil {
		s.logger.Error("failed to publish event", "error", err, "key", key)
	}
}
