package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sakashimaa/go-order-management/pkg/config"
	"github.com/sakashimaa/go-order-management/pkg/db"
	"github.com/sakashimaa/go-order-management/pkg/kafka"
	outbox "github.com/sakashimaa/go-order-management/pkg/outbox/repository"
	"github.com/sakashimaa/go-order-management/pkg/outbox/worker"
	"github.com/sakashimaa/go-order-management/pkg/utils"
	"github.com/sakashimaa/go-order-management/services/order/internal/publisher"
	"github.com/sakashimaa/go-order-management/services/order/internal/repository"
	"github.com/sakashimaa/go-order-management/services/order/internal/service"
	httpTransport "github.com/sakashimaa/go-order-management/services/order/internal/transport/http"
	"github.com/sakashimaa/go-order-management/services/order/internal/transport/http/handler"
	myValidator "github.com/sakashimaa/go-order-management/services/order/pkg/validator"
	"go.uber.org/zap"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println(".env not found, using system envs")
	}

	cfg := config.MustLoad()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger, err := config.NewLogger(cfg.LoggerConfig())
	if err != nil {
		log.Fatalf("Error creating logger: %v", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	tp, err := utils.InitTracer(ctx, utils.TracerConfig{
		ServiceName: cfg.Service,
		Environment: cfg.Env,
		Endpoint:    cfg.Tracing.Endpoint,
		SampleRatio: cfg.Tracing.SampleRatio,
	})
	if err != nil {
		log.Fatalf("Error init tracer: %v", err)
	}

	if err := db.RunMigrations(cfg.Postgres.MigrationsPath, cfg.Postgres.URL); err != nil {
		log.Fatalf("error running migrations: %v", err)
	}

	pool, err := db.NewPostgresDB(ctx, cfg.Postgres)
	if err != nil {
		log.Fatalf("error creating postgres db: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr: cfg.Redis.Addr,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Warn("redis is unreachable, product cache will miss", zap.Error(err))
	}

	kafkaProducer, err := kafka.NewProducer(cfg.Kafka.Brokers, logger)
	if err != nil {
		log.Fatalf("error creating kafka producer: %v", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	productRepo := repository.NewProductRepository(pool, logger)
	customerRepo := repository.NewCustomerRepository(pool, logger)
	orderRepo := repository.NewOrderRepository(pool, logger)
	outboxRepo := outbox.NewOutboxRepository(logger, outbox.WithMaxAttempts(cfg.Outbox.MaxAttempts))

	outboxProcessor := worker.NewOutboxProcessor(
		pool,
		outboxRepo,
		kafkaProducer,
		logger,
		worker.WithBatchSize(cfg.Outbox.BatchSize),
		worker.WithInterval(cfg.Outbox.Interval),
		worker.WithGracePeriod(cfg.Outbox.GracePeriod),
		worker.WithMetrics(reg),
	)

	go outboxProcessor.Start(ctx)

	validator := myValidator.NewValidator()

	productService := service.NewCachedProductService(
		service.NewProductService(productRepo, outboxRepo, pool, validator, logger),
		redisClient,
		cfg.Redis.CacheTTL,
		logger,
	)
	customerService := service.NewCustomerService(customerRepo, validator, logger)
	orderService := service.NewOrderService(
		pool,
		logger,
		productRepo,
		customerRepo,
		orderRepo,
		outboxRepo,
		publisher.NewKafkaPublisher(kafkaProducer, cfg.Kafka.Topic, logger),
		cfg.Order,
		service.WithProductCache(productService),
		service.WithOrderMetrics(service.NewMetrics(reg)),
		service.WithTopic(cfg.Kafka.Topic),
	)

	app := httpTransport.NewApp(&httpTransport.Handlers{
		Product:  handler.NewProductHandler(productService, validator, logger, cfg.HTTP.Timeout),
		Customer: handler.NewCustomerHandler(customerService, logger, cfg.HTTP.Timeout),
		Order:    handler.NewOrderHandler(orderService, validator, logger, cfg.HTTP.Timeout),
	}, cfg.Limiter)

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

	go func() {
		log.Println("HTTP Server listening on port: " + cfg.HTTP.Port)
		if err := app.Listen(cfg.HTTP.Port); err != nil {
			log.Fatalf("Error listening on HTTP: %v", err)
		}
	}()

	logger.Info("order service started!", zap.String("env", cfg.Env))

	<-ctx.Done()

	log.Println("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Printf("Error shutting down HTTP: %v\n", err)
	} else {
		log.Printf("HTTP Server stopped")
	}

	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("Error shutting down metrics server: %v\n", err)
	}

	if err := kafkaProducer.Close(); err != nil {
		log.Printf("Kafka close error: %v", err)
	} else {
		log.Printf("Kafka producer closed")
	}

	if err := redisClient.Close(); err != nil {
		log.Printf("Redis close error: %v", err)
	}

	pool.Close()
	log.Println("✅ Postgres pool closed")

	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Printf("❌ Error closing telemetry: %v\n", err)
	} else {
		log.Println("✅ Telemetry closed")
	}
}
