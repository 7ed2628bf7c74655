package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"marketplace-service/config"
	"marketplace-service/internal/api"
	"marketplace-service/internal/broker"
	"marketplace-service/internal/idgen"
	"marketplace-service/internal/redisclient"
	"marketplace-service/internal/service"
	"marketplace-service/internal/store"
	"marketplace-service/internal/store/memstore"
	"marketplace-service/internal/util"
	"marketplace-service/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting marketplace service",
		zap.String("env", cfg.Server.Env),
		zap.String("database_driver", cfg.Database.Driver))

	if cfg.Observ.JaegerEndpoint != "" {
		tp, err := util.InitTracer(cfg.Observ.JaegerEndpoint)
		if err != nil {
			logger.Fatal("Failed to initialize tracer", zap.Error(err))
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tp.Shutdown(ctx); err != nil {
				logger.Error("Error shutting down tracer", zap.Error(err))
			}
		}()
	}

	var repo store.TxStore
	var checks []api.ReadinessCheck
	switch cfg.Database.Driver {
	case config.DriverMemory:
		repo = memstore.New()
		logger.Warn("Using in-memory store; data is lost on exit")
	default:
		if cfg.Database.MigrateOnStart {
			if err := store.Migrate(cfg.Database.URL); err != nil {
				logger.Fatal("Failed to migrate database", zap.Error(err))
			}
			logger.Info("Database migrated")
		}
		db, err := store.NewStore(cfg.Database.URL)
		if err != nil {
			logger.Fatal("Failed to connect to database", zap.Error(err))
		}
		defer db.Close()
		repo = db
		checks = append(checks, api.ReadinessCheck{Name: "postgres", Check: db.Ping})
		logger.Info("Database connected")
	}

	var cache service.ProductCache
	var locker service.Locker
	if cfg.Redis.Enabled {
		redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		defer redisClient.Close()
		cache, locker = redisClient, redisClient
		checks = append(checks, api.ReadinessCheck{Name: "redis", Check: redisClient.Ping})
		logger.Info("Redis connected")
	}

	var events service.EventPublisher
	if cfg.Kafka.Enabled {
		orderProducer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder)
		defer orderProducer.Close()
		productProducer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicProduct)
		defer productProducer.Close()
		events = broker.NewEventPublisher(orderProducer, productProducer)
		logger.Info("Kafka producers initialized")
	}

	ids := idgen.New()
	orderService := service.NewOrderService(repo, ids, locker, events, cfg.Business.IdempotencyLockTTL)
	productService := service.NewProductService(repo, ids, cache, events, cfg.Business.ProductCacheTTL)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	var paymentWorker *worker.PaymentEventWorker
	if cfg.Kafka.Enabled {
		consumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicPayment, cfg.Kafka.ConsumerGroup)
		paymentWorker = worker.NewPaymentEventWorker(consumer, service.NewPaymentEventHandler(orderService))
		go func() {
			if err := paymentWorker.Start(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Payment event worker error", zap.Error(err))
			}
		}()
	}

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(
		orderService,
		productService,
		api.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.Issuer),
		api.PageConfig{DefaultLimit: cfg.Business.DefaultPageSize, MaxLimit: cfg.Business.MaxPageSize},
		checks...,
	)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	workerCancel()
	if paymentWorker != nil {
		if err := paymentWorker.Stop(); err != nil {
			logger.Error("Failed to stop payment event worker", zap.Error(err))
		}
	}

	logger.Info("Server exited")
}
