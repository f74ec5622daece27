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

	"jewelry-store/config"
	"jewelry-store/internal/api"
	"jewelry-store/internal/broker"
	"jewelry-store/internal/redisclient"
	"jewelry-store/internal/service"
	"jewelry-store/internal/store"
	"jewelry-store/internal/util"
	"jewelry-store/internal/worker"

	"github.com/gin-gonic/gin"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

func main() {
	app := &cli.App{
		Name:  "jewelry-store",
		Usage: "order lifecycle and inventory service",
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the HTTP API and event workers",
				Action: serve,
			},
			{
				Name:   "init-db",
				Usage:  "apply the bootstrap schema",
				Action: initDB,
			},
		},
		Action: serve,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func setup() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := util.InitLogger(cfg.Server.Env, cfg.Server.LogLevel); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, nil
}

func initDB(c *cli.Context) error {
	cfg, err := setup()
	if err != nil {
		return err
	}
	defer util.SyncLogger()

	db, err := store.NewStore(cfg.Database.Driver, cfg.Database.URL)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.Migrate(c.Context); err != nil {
		return err
	}
	util.GetLogger().Info("Schema applied", zap.String("driver", cfg.Database.Driver))
	return nil
}

func serve(c *cli.Context) error {
	cfg, err := setup()
	if err != nil {
		return err
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting jewelry store service", zap.String("env", cfg.Server.Env))

	if cfg.Observ.JaegerEndpoint != "" {
		tp, err := util.InitTracer(cfg.Observ.JaegerEndpoint)
		if err != nil {
			return fmt.Errorf("failed to initialize tracer: %w", err)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tp.Shutdown(ctx); err != nil {
				logger.Warn("Error shutting down tracer", zap.Error(err))
			}
		}()
	}

	db, err := store.NewStore(cfg.Database.Driver, cfg.Database.URL)
	if err != nil {
		return err
	}
	defer db.Close()
	logger.Info("Database connected", zap.String("driver", cfg.Database.Driver))

	if cfg.Database.Driver == store.DriverSQLite {
		if err := db.Migrate(c.Context); err != nil {
			return err
		}
	}

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}
	defer redisClient.Close()
	logger.Info("Redis connected")

	policy, err := service.NewTransitionPolicy(cfg.Business.TransitionPolicy)
	if err != nil {
		return err
	}

	notifier := service.NewNotificationService(service.NewLogEmailSender())

	var events service.EventPublisher = service.NewLocalPublisher(notifier)
	if cfg.KafkaEnabled() {
		producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrderEvents)
		defer producer.Close()
		events = broker.NewEventPublisher(producer)
		logger.Info("Kafka producer initialized", zap.Strings("brokers", cfg.Kafka.Brokers))
	}

	clock := util.SystemClock{}
	productService := service.NewProductService(db, clock)
	orderService := service.NewOrderService(db, productService, events, redisClient, service.OrderServiceConfig{
		Policy:         policy,
		Clock:          clock,
		IdempotencyTTL: cfg.Business.IdempotencyTTL,
		NotifyTimeout:  cfg.Business.NotificationTimeout,
	})
	paymentService := service.NewPaymentService(orderService, db, redisClient, cfg.Business.PaymentLockTTL)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	var stops []func() error
	if cfg.KafkaEnabled() {
		notificationWorker := worker.NewNotificationWorker(
			broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrderEvents, cfg.Kafka.NotificationConsumerGroup),
			notifier)
		paymentWorker := worker.NewPaymentWorker(
			broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicPaymentEvents, cfg.Kafka.PaymentConsumerGroup),
			paymentService)

		go func() {
			if err := notificationWorker.Start(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Notification worker error", zap.Error(err))
			}
		}()
		go func() {
			if err := paymentWorker.Start(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Payment worker error", zap.Error(err))
			}
		}()
		stops = append(stops, notificationWorker.Stop, paymentWorker.Stop)
	}

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(productService, orderService, paymentService, cfg.Business.WebhookSecret)
	handler.AddReadinessCheck("database", db)
	handler.AddReadinessCheck("redis", redisClient)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serverErr:
		return fmt.Errorf("failed to start server: %w", err)
	}

	logger.Info("Shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Server forced to shutdown", zap.Error(err))
	}

	workerCancel()
	for _, stop := range stops {
		if err := stop(); err != nil {
			logger.Warn("Error stopping worker", zap.Error(err))
		}
	}

	logger.Info("Server exited")
	return nil
}
