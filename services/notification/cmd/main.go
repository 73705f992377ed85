package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sakashimaa/go-order-management/pkg/config"
	"github.com/sakashimaa/go-order-management/pkg/db"
	"github.com/sakashimaa/go-order-management/pkg/inbox"
	"github.com/sakashimaa/go-order-management/pkg/utils"
	"github.com/sakashimaa/go-order-management/services/notification/internal/email"
	"github.com/sakashimaa/go-order-management/services/notification/internal/service"
	"github.com/sakashimaa/go-order-management/services/notification/internal/transport/kafka"
	"go.uber.org/zap"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println(".env not found, using system envs")
	}

	cfg := config.MustLoad()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := utils.InitTracer(ctx, utils.TracerConfig{
		ServiceName: cfg.Service,
		Environment: cfg.Env,
		Endpoint:    cfg.Tracing.Endpoint,
		SampleRatio: cfg.Tracing.SampleRatio,
	})
	if err != nil {
		log.Fatalf("Error starting telemetry: %v", err)
	}

	logger, err := config.NewLogger(cfg.LoggerConfig())
	if err != nil {
		log.Fatalf("Error creating logger: %v", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	if err := db.RunMigrations(cfg.Postgres.MigrationsPath, cfg.Postgres.URL); err != nil {
		log.Fatalf("error running migrations: %v", err)
	}

	pool, err := db.NewPostgresDB(ctx, cfg.Postgres)
	if err != nil {
		log.Fatalf("error creating postgres db: %v", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	emailSender := email.NewSMTPSender(cfg.SMTP, logger)
	notificationService := service.NewNotificationService(
		emailSender,
		inbox.NewDeduplicator(pool, logger),
		logger,
		service.NewMetrics(reg),
	)

	consumer := kafka.NewConsumer(notificationService, logger)

	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)

		if err := consumer.Start(ctx, cfg.Kafka.Brokers, cfg.Kafka.GroupID, cfg.Kafka.Topic); err != nil {
			logger.Error("consumer stopped", zap.Error(err))
			stop()
		}
	}()

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		Registry: reg,
	}))
	metricsServer := &http.Server{
		Addr:              cfg.Metrics.Port,
		Handler:           metricsMux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Println("Metrics server is listening on " + cfg.Metrics.Port + " 📈")

		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("Metrics serving failed: %v", err)
		}
	}()

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.SendString("Notification Service is alive!")
	})

	go func() {
		log.Println("HTTP Server listening on port: " + cfg.HTTP.Port)
		if err := app.Listen(cfg.HTTP.Port); err != nil {
			log.Fatalf("Error listening on HTTP: %v", err)
		}
	}()

	logger.Info("notification service started!", zap.Strings("brokers", cfg.Kafka.Brokers))

	<-ctx.Done()

	shutdownCtx, exit := context.WithTimeout(context.Background(), 5*time.Second)
	defer exit()

	select {
	case <-consumerDone:
	case <-shutdownCtx.Done():
		log.Println("Consumer did not stop in time")
	}

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Printf("Error shutting down HTTP: %v\n", err)
	}

	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("Error shutting down metrics server: %v\n", err)
	}

	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Printf("Error closing telemetry: %v\n", err)
	} else {
		log.Printf("Closed telemetry successfully")
	}

	pool.Close()
	log.Println("✅ Postgres pool closed")
}
