package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/marketflow/checkout/internal/messaging"
	"github.com/marketflow/checkout/internal/worker"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	kafkaBrokers := os.Getenv("KAFKA_BROKERS")
	if kafkaBrokers == "" {
		logger.Error("KAFKA_BROKERS environment variable is required")
		os.Exit(1)
	}

	emailServiceURL := os.Getenv("EMAIL_SERVICE_URL")
	if emailServiceURL == "" {
		logger.Error("EMAIL_SERVICE_URL environment variable is required")
		os.Exit(1)
	}

	brokers := strings.Split(kafkaBrokers, ",")

	httpClient := &http.Client{
		Timeout: 10 * time.Second,
	}

	handler := worker.NewNotificationHandler(emailServiceURL, httpClient, logger)

	subscriptions := []struct {
		topic  string
		handle func(ctx context.Context, payload []byte) error
	}{
		{messaging.TopicOrderCreated, handler.HandleOrderCreated},
		{messaging.TopicOrderPaid, handler.HandleOrderPaid},
		{messaging.TopicOrderCancelled, handler.HandleOrderCancelled},
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
		<-stop
		logger.Info("shutting down")
		cancel()
	}()

	logger.Info("starting notification worker", "brokers", brokers)

	var wg sync.WaitGroup
	for _, sub := range subscriptions {
		consumer := messaging.NewConsumer(brokers, sub.topic, "notification-worker")

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { _ = consumer.Close() }()

			if err := consumer.Consume(ctx, sub.handle); err != nil {
				if ctx.Err() == context.Canceled {
					logger.Info("consumer stopped", "topic", sub.topic)
					return
				}
				logger.Error("consumer error", "error", err, "topic", sub.topic)
				cancel()
			}
		}()
	}

	wg.Wait()
}
