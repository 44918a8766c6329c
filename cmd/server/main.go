package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vantage-grc/reporting-pipeline/internal/aggregation"
	"github.com/vantage-grc/reporting-pipeline/internal/automation"
	"github.com/vantage-grc/reporting-pipeline/internal/config"
	"github.com/vantage-grc/reporting-pipeline/internal/database"
	"github.com/vantage-grc/reporting-pipeline/internal/export"
	"github.com/vantage-grc/reporting-pipeline/internal/handlers"
	eventstream "github.com/vantage-grc/reporting-pipeline/internal/kafka"
	"github.com/vantage-grc/reporting-pipeline/internal/lifecycle"
	"github.com/vantage-grc/reporting-pipeline/internal/metrics"
	"github.com/vantage-grc/reporting-pipeline/internal/notification"
	"github.com/vantage-grc/reporting-pipeline/internal/registry"
	"github.com/vantage-grc/reporting-pipeline/internal/validation"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "reporting-pipeline",
		Short: "Automated regulatory report pipeline",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config file")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the pipeline server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}

	migrate := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(configPath)
			if err != nil {
				return err
			}
			return database.RunMigrations(cfg.Database, cfg.GetDatabaseDSN())
		},
	}

	root.AddCommand(serve, migrate)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runServer() error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := cfg.InitLogger()
	if err != nil {
		return fmt.Errorf("failed to init logger: %w", err)
	}
	defer logger.Sync()

	db, err := database.Connect(cfg.Database, cfg.GetDatabaseDSN())
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	if err := database.RunMigrations(cfg.Database, cfg.GetDatabaseDSN()); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.GetRedisAddr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.Database,
		PoolSize: cfg.Redis.PoolSize,
	})
	defer redisClient.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	collector := metrics.NewCollector()

	templates := registry.NewRepository(db, logger)
	instances := lifecycle.NewRepository(db, logger)
	results := validation.NewResultRepository(db, logger)
	rules := automation.NewRepository(db, logger)

	var producer *eventstream.Producer
	var workflow *lifecycle.Service
	if cfg.Kafka.Enabled {
		producer = eventstream.NewProducer(cfg.Kafka, logger)
		defer producer.Close()
		workflow = lifecycle.NewService(instances, producer, logger)
	} else {
		workflow = lifecycle.NewService(instances, nil, logger)
	}

	stores := aggregation.NewSQLStores(db).Stores()
	aggregator := aggregation.NewEngine(cfg.Pipeline.Aggregation, stores, logger)
	validator := validation.NewEngine(cfg.Pipeline.Validation, logger)
	notifier := notification.NewNotifier(cfg.Notification, logger)
	locker := automation.NewRedisLocker(redisClient, cfg.Scheduler.RunLockTTL)
	exporter := export.NewExporter(cfg.Export, logger)

	executor := automation.NewExecutor(
		rules, templates, aggregator, validator, results,
		workflow, notifier, locker, collector, logger)

	scheduler := automation.NewScheduler(cfg.Scheduler, rules, executor, logger)
	if cfg.Scheduler.Enabled {
		if err := scheduler.Start(ctx); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
		defer scheduler.Stop()
	}

	if cfg.Kafka.Enabled {
		consumer := eventstream.NewConsumer(cfg.Kafka, scheduler, logger)
		defer consumer.Close()
		go func() {
			if err := consumer.Run(ctx); err != nil {
				logger.Error("Event consumer stopped", zap.Error(err))
			}
		}()
	}

	handler := handlers.NewHandler(
		templates, workflow, validator, results, aggregator,
		scheduler, rules, exporter, collector, logger)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	handler.RegisterRoutes(router, cfg.Monitoring)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.HTTPPort),
		Handler:      router,
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: cfg.Server.Timeout,
	}

	go func() {
		logger.Info("HTTP server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	return server.Shutdown(shutdownCtx)
}
