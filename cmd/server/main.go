package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"booking-service/config"
	"booking-service/internal/access"
	"booking-service/internal/api"
	"booking-service/internal/broker"
	"booking-service/internal/filestore"
	"booking-service/internal/redisclient"
	"booking-service/internal/service"
	"booking-service/internal/store"
	"booking-service/internal/util"
	"booking-service/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting booking service", zap.String("events_mode", cfg.Kafka.EventsMode))

	tp, err := util.InitTracer(cfg.Observ.JaegerEndpoint)
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Warn("Error shutting down tracer", zap.Error(err))
		}
	}()

	ctx := context.Background()

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()
	logger.Info("Database connected")

	if cfg.Database.MigrateOnStart {
		if err := db.Migrate(ctx); err != nil {
			logger.Fatal("Failed to apply schema", zap.Error(err))
		}
		logger.Info("Database schema applied")
	}

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()
	logger.Info("Redis connected")

	files, err := filestore.NewS3Store(ctx, cfg.Storage)
	if err != nil {
		logger.Fatal("Failed to initialize receipt storage", zap.Error(err))
	}
	if err := files.EnsureBucket(ctx); err != nil {
		logger.Fatal("Failed to prepare receipt bucket", zap.Error(err), zap.String("bucket", cfg.Storage.Bucket))
	}
	logger.Info("Receipt storage ready", zap.String("bucket", cfg.Storage.Bucket))

	resolver := access.NewResolver(db, cfg.Business.RoleCacheTTL)
	catalog := service.NewCatalog(db, cfg.Business.CatalogCacheTTL)
	fanout := service.NewNotificationFanout(db, resolver)

	// Inline mode hands events straight to the fan-out; otherwise they go
	// through Kafka and a consumer group feeds the same worker.
	var (
		publisher service.EventPublisher
		consumer  *broker.Consumer
	)
	if cfg.Kafka.EventsMode != "inline" {
		producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicEvents)
		defer producer.Close()
		publisher = broker.NewEventPublisher(producer)
		consumer = broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicEvents, cfg.Kafka.ConsumerGroup, cfg.Kafka.TopicDead)
		logger.Info("Kafka producer initialized", zap.Strings("brokers", cfg.Kafka.Brokers))
	}

	notificationWorker := worker.NewNotificationWorker(consumer, fanout, cfg.Business.FanoutMaxAttempts)
	if publisher == nil {
		publisher = broker.NewInlinePublisher(notificationWorker.Process)
	}

	paymentService := service.NewPaymentService(db, resolver, files, publisher, cfg.Business.MaxReceiptBytes)
	reservationService := service.NewReservationService(db, catalog, paymentService, resolver, publisher, redisClient,
		service.ReservationConfig{
			DefaultDuration: cfg.Business.DefaultBookingDuration,
			IdempotencyTTL:  cfg.Business.IdempotencyTTL,
		})

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	go func() {
		if err := notificationWorker.Start(workerCtx); err != nil {
			logger.Error("Notification worker error", zap.Error(err))
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(api.Dependencies{
		Catalog:      catalog,
		Reservations: reservationService,
		Payments:     paymentService,
		Inbox:        fanout,
		Checks: map[string]api.Pinger{
			"postgres": db,
			"redis":    redisClient,
		},
		RateLimit:       rate.Limit(cfg.Server.RateLimitPerSec),
		RateBurst:       cfg.Server.RateLimitBurst,
		MaxReceiptBytes: cfg.Business.MaxReceiptBytes,
	})
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
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

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Server forced to shutdown", zap.Error(err))
	}

	workerCancel()
	if err := notificationWorker.Stop(); err != nil {
		logger.Warn("Failed to stop notification worker", zap.Error(err))
	}

	logger.Info("Server exited")
}
