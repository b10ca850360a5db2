package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/marketflow/checkout/internal/cart"
	"github.com/marketflow/checkout/internal/catalog"
	"github.com/marketflow/checkout/internal/checkout"
	"github.com/marketflow/checkout/internal/gateway"
	"github.com/marketflow/checkout/internal/messaging"
	"github.com/marketflow/checkout/internal/orders"
	"github.com/marketflow/checkout/internal/payments"
	"github.com/marketflow/checkout/internal/processor"
	"github.com/marketflow/checkout/internal/telemetry"
)

func main() {
	ctx := context.Background()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	shutdownTracer, err := telemetry.InitTracerProvider(ctx, "checkout", "0.1.0")
	if err != nil {
		logger.Error("failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(ctx) }()

	metricsHandler, shutdownMeter, err := telemetry.InitMeterProvider("checkout", "0.1.0")
	if err != nil {
		logger.Error("failed to initialize meter", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownMeter(ctx) }()

	postgresURL := os.Getenv("POSTGRES_URL")
	if postgresURL == "" {
		logger.Error("POSTGRES_URL environment variable is required")
		os.Exit(1)
	}

	db, err := telemetry.OpenDB("postgres", postgresURL)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	if err := db.PingContext(ctx); err != nil {
		logger.Error("failed to ping database", "error", err)
		os.Exit(1)
	}

	commissionRate := decimal.NewFromFloat(0.10)
	if raw := os.Getenv("COMMISSION_RATE"); raw != "" {
		commissionRate, err = decimal.NewFromString(raw)
		if err != nil {
			logger.Error("invalid COMMISSION_RATE", "error", err, "value", raw)
			os.Exit(1)
		}
	}

	httpClient := &http.Client{
		Timeout:   10 * time.Second,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}

	gatewayClient := gateway.NewClient(
		requireEnv(logger, "GATEWAY_BASE_URL"),
		requireEnv(logger, "GATEWAY_API_KEY"),
		requireEnv(logger, "GATEWAY_INTEGRATION_ID"),
		requireEnv(logger, "GATEWAY_IFRAME_ID"),
		httpClient,
	)
	processorClient := processor.NewClient(
		requireEnv(logger, "PROCESSOR_BASE_URL"),
		requireEnv(logger, "PROCESSOR_SECRET_KEY"),
		httpClient,
	)

	productRepo := catalog.NewProductRepository(db)
	cartRepo := cart.NewCartRepository(db)
	orderRepo := orders.NewOrderRepository(db)
	paymentRepo := payments.NewPaymentRepository(db)

	var opts []checkout.Option
	if kafkaBrokers := os.Getenv("KAFKA_BROKERS"); kafkaBrokers != "" {
		brokers := strings.Split(kafkaBrokers, ",")
		created := messaging.NewProducer(brokers, messaging.TopicOrderCreated)
		paid := messaging.NewProducer(brokers, messaging.TopicOrderPaid)
		cancelled := messaging.NewProducer(brokers, messaging.TopicOrderCancelled)
		defer func() {
			_ = created.Close()
			_ = paid.Close()
			_ = cancelled.Close()
		}()
		opts = append(opts, checkout.WithPublishers(created, paid, cancelled))
	} else {
		logger.Warn("KAFKA_BROKERS not set, lifecycle events disabled")
	}

	service := checkout.NewService(
		productRepo, cartRepo, orderRepo, paymentRepo,
		gatewayClient, processorClient,
		commissionRate, logger, opts...,
	)

	catalogHandler := catalog.NewHandler(productRepo, logger)
	cartHandler := cart.NewHandler(cartRepo, productRepo, logger)
	orderHandler := orders.NewHandler(orderRepo, logger)
	paymentHandler := payments.NewHandler(paymentRepo, logger)
	checkoutHandler := checkout.NewHandler(service, logger)

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", metricsHandler)

	mux.HandleFunc("GET /products", telemetry.WithHTTPRoute(catalogHandler.HandleList))
	mux.HandleFunc("GET /products/{id}", telemetry.WithHTTPRoute(catalogHandler.HandleGet))

	mux.HandleFunc("GET /cart", telemetry.WithHTTPRoute(cartHandler.HandleGet))
	mux.HandleFunc("POST /cart/items", telemetry.WithHTTPRoute(cartHandler.HandleAddItem))
	mux.HandleFunc("PATCH /cart/items/{productId}", telemetry.WithHTTPRoute(cartHandler.HandleUpdateItem))
	mux.HandleFunc("DELETE /cart/items/{productId}", telemetry.WithHTTPRoute(cartHandler.HandleRemoveItem))
	mux.HandleFunc("DELETE /cart", telemetry.WithHTTPRoute(cartHandler.HandleClear))

	mux.HandleFunc("POST /checkout", telemetry.WithHTTPRoute(checkoutHandler.HandleCreateOrder))

	mux.HandleFunc("GET /orders", telemetry.WithHTTPRoute(orderHandler.HandleList))
	mux.HandleFunc("GET /orders/{id}", telemetry.WithHTTPRoute(orderHandler.HandleGet))
	mux.HandleFunc("GET /admin/orders/stats", telemetry.WithHTTPRoute(orderHandler.HandleStats))
	mux.HandleFunc("POST /orders/{id}/cancel", telemetry.WithHTTPRoute(checkoutHandler.HandleCancelOrder))
	mux.HandleFunc("POST /orders/{id}/retry-payment", telemetry.WithHTTPRoute(checkoutHandler.HandleRetryPayment))
	mux.HandleFunc("POST /orders/{id}/payments/cash", telemetry.WithHTTPRoute(checkoutHandler.HandleRegisterCashPayment))
	mux.HandleFunc("PATCH /orders/{id}/status", telemetry.WithHTTPRoute(checkoutHandler.HandleUpdateOrderStatus))

	mux.HandleFunc("GET /payments", telemetry.WithHTTPRoute(paymentHandler.HandleList))
	mux.HandleFunc("GET /payments/{id}", telemetry.WithHTTPRoute(paymentHandler.HandleGet))
	mux.HandleFunc("POST /payments/card/confirm", telemetry.WithHTTPRoute(checkoutHandler.HandleConfirmCardPayment))
	mux.HandleFunc("POST /payments/gateway/webhook", telemetry.WithHTTPRoute(checkoutHandler.HandleGatewayWebhook))
	mux.HandleFunc("GET /payments/gateway/callback", telemetry.WithHTTPRoute(checkoutHandler.HandleGatewayCallback))

	port := os.Getenv("PORT")
	if port == "" {
		port = "8081"
	}

	server := &http.Server{
		Addr: ":" + port,
		Handler: otelhttp.NewHandler(mux, "checkout",
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				if r.Pattern != "" {
					return r.Pattern
				}
				return r.Method + " " + r.URL.Path
			}),
		),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("starting checkout service", "port", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}

func requireEnv(logger *slog.Logger, name string) string {
	v := os.Getenv(name)
	if v == "" {
		logger.Error("missing required environment variable", "name", name)
		os.Exit(1)
	}
	return v
}
