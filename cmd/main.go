package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"ledger-engine/internal/api"
	"ledger-engine/internal/config"
	"ledger-engine/internal/domain/account"
	"ledger-engine/internal/domain/customer"
	"ledger-engine/internal/event"
	"ledger-engine/internal/infrastructure/database/postgres"
	"ledger-engine/internal/infrastructure/logging"
	"ledger-engine/internal/infrastructure/memory"
	"ledger-engine/internal/interest"
	"ledger-engine/internal/ledger"
	"ledger-engine/internal/onboarding"
	"ledger-engine/internal/rates"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

var defaultRates = map[string]string{
	"USD/EUR": "0.92",
	"USD/GBP": "0.79",
	"USD/JPY": "151.40",
	"EUR/GBP": "0.86",
}

// closer releases one resource on shutdown.
type closer struct {
	name string
	fn   func()
}

type store struct {
	accounts  account.Repository
	customers customer.Repository
	closers   []closer
}

type services struct {
	ledger     *ledger.Ledger
	customers  customer.CustomerService
	onboarding *onboarding.Orchestrator
	rates      *rates.Service
	interest   *interest.MonthlyInterestJob
}

func main() {
	cfg, logger := initializeApp()
	ctx := context.Background()

	st, err := initializeStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize storage", "driver", cfg.Storage.Driver, "error", err)
		os.Exit(1)
	}

	notifier, notifierClosers := initializeNotifier(cfg, logger)
	quotes, ratesClosers, err := initializeRates(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize exchange rates", "error", err)
		os.Exit(1)
	}

	svc, err := initializeServices(cfg, st, notifier, quotes, logger)
	if err != nil {
		logger.Error("Failed to initialize services", "error", err)
		os.Exit(1)
	}

	cronScheduler := startBatchJobs(cfg, logger, svc.interest)
	router, stopRouter := api.SetupRouter(api.Services{
		Accounts:   svc.ledger,
		Customers:  svc.customers,
		Onboarding: svc.onboarding,
		Rates:      svc.rates,
	}, cfg, logger)

	closers := []closer{{name: "router", fn: stopRouter}}
	closers = append(closers, ratesClosers...)
	closers = append(closers, notifierClosers...)
	closers = append(closers, st.closers...)

	srv, serverErrors, shutdownChan := startServer(cfg, router, logger)
	handleShutdown(srv, cronScheduler, shutdownChan, serverErrors, logger)
	releaseResources(closers, logger)
}

func initializeApp() (*config.Config, *slog.Logger) {
	cfg, err := config.LoadConfig(".")
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.Logger)
	logger.Info("Application starting...", "config_source", viper.ConfigFileUsed())

	return cfg, logger
}

func initializeStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*store, error) {
	switch strings.ToLower(cfg.Storage.Driver) {
	case "memory":
		logger.Warn("Using in-memory storage; data is lost on restart")
		accounts := memory.NewAccountRepository(logger)
		return &store{
			accounts:  accounts,
			customers: memory.NewCustomerRepository(accounts, logger),
		}, nil
	case "", "postgres":
		logger.Info("Initializing database connection pool...")
		dbPool, err := postgres.NewConnectionPool(ctx, cfg.Database, logger)
		if err != nil {
			return nil, err
		}
		if cfg.Database.AutoMigrate {
			if err := postgres.Migrate(ctx, dbPool, logger); err != nil {
				dbPool.Close()
				return nil, err
			}
		}
		return &store{
			accounts:  postgres.NewAccountRepository(dbPool, logger),
			customers: postgres.NewCustomerRepository(dbPool, logger),
			closers:   []closer{{name: "database", fn: dbPool.Close}},
		}, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}

// initializeNotifier publishes to RabbitMQ when enabled and reachable, and
// falls back to logging events otherwise.
func initializeNotifier(cfg *config.Config, logger *slog.Logger) (event.Notifier, []closer) {
	if !cfg.RabbitMQ.Enabled {
		logger.Info("RabbitMQ disabled, events are logged only")
		return event.NewLogSink(logger), nil
	}

	conn, err := amqp.Dial(cfg.RabbitMQ.URL)
	if err != nil {
		logger.Warn("Failed to connect to RabbitMQ, events are logged only", "error", err)
		return event.NewLogSink(logger), nil
	}
	publisher, err := event.NewRabbitMQPublisher(conn, cfg.RabbitMQ.ExchangeName, logger)
	if err != nil {
		logger.Warn("Failed to set up RabbitMQ publisher, events are logged only", "error", err)
		_ = conn.Close()
		return event.NewLogSink(logger), nil
	}

	sink := event.NewAsyncSink(publisher, 5*time.Second, logger)
	logger.Info("Publishing events to RabbitMQ", "exchange", cfg.RabbitMQ.ExchangeName)
	return sink, []closer{
		{name: "event sink", fn: sink.Close},
		{name: "rabbitmq channel", fn: func() {
			if err := publisher.Close(); err != nil {
				logger.Warn("Failed to close RabbitMQ channel", "error", err)
			}
		}},
		{name: "rabbitmq", fn: func() {
			if err := conn.Close(); err != nil {
				logger.Warn("Failed to close RabbitMQ connection", "error", err)
			}
		}},
	}
}

func initializeRates(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*rates.Service, []closer, error) {
	table := cfg.Rates.Static
	if len(table) == 0 {
		table = defaultRates
	}
	provider, err := rates.NewStaticProvider("static", table)
	if err != nil {
		return nil, nil, err
	}
	racer := rates.NewRacer([]rates.Provider{provider}, cfg.Rates.Timeout, logger)

	if !cfg.Redis.Enabled {
		return rates.NewService(racer, nil, cfg.Redis.QuoteTTL, logger), nil, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("Redis unreachable, exchange-rate quotes are not cached", "addr", cfg.Redis.Addr, "error", err)
		_ = client.Close()
		return rates.NewService(racer, nil, cfg.Redis.QuoteTTL, logger), nil, nil
	}

	cache := rates.NewRedisCache(client, "", logger)
	logger.Info("Caching exchange-rate quotes in Redis", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.QuoteTTL)
	return rates.NewService(racer, cache, cfg.Redis.QuoteTTL, logger), []closer{{name: "redis", fn: func() {
		if err := cache.Close(); err != nil {
			logger.Warn("Failed to close Redis client", "error", err)
		}
	}}}, nil
}

func initializeServices(cfg *config.Config, st *store, notifier event.Notifier, quotes *rates.Service, logger *slog.Logger) (*services, error) {
	logger.Info("Initializing application components...")

	opts, err := ledger.OptionsFromConfig(cfg.Ledger)
	if err != nil {
		return nil, err
	}
	l := ledger.New(st.accounts, notifier, opts, logger)
	customerService := customer.NewCustomerService(st.customers, notifier, logger)

	rating, err := onboarding.ParseRiskRating(cfg.Onboarding.DefaultRisk)
	if err != nil {
		return nil, err
	}
	orchestrator := onboarding.NewOrchestrator(customerService, l,
		onboarding.StaticCreditBureau{Score: cfg.Onboarding.DefaultScore},
		onboarding.StaticRiskEngine{Rating: rating},
		notifier, onboarding.ConfigFrom(cfg.Onboarding), logger)

	processor := interest.NewProcessor(l, cfg.Batch.InterestConcurrency, logger)

	return &services{
		ledger:     l,
		customers:  customerService,
		onboarding: orchestrator,
		rates:      quotes,
		interest:   interest.NewMonthlyInterestJob(st.accounts, processor, logger),
	}, nil
}

func startServer(cfg *config.Config, router http.Handler, logger *slog.Logger) (*http.Server, <-chan error, <-chan os.Signal) {
	logger.Info("Setting up HTTP server...", "port", cfg.Server.Port)
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
		ErrorLog:     slog.NewLogLogger(logger.Handler(), slog.LevelError),
	}

	shutdownChan := make(chan os.Signal, 1)
	signal.Notify(shutdownChan, syscall.SIGINT, syscall.SIGTERM)

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info(fmt.Sprintf("Server listening on port %d", cfg.Server.Port))
		err := srv.ListenAndServe()
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server error", "error", err)
			serverErrors <- err
		} else {
			logger.Info("Server closed gracefully.")
			serverErrors <- nil
		}
	}()
	return srv, serverErrors, shutdownChan
}

func handleShutdown(srv *http.Server, cronScheduler *cron.Cron, shutdownChan <-chan os.Signal, serverErrors <-chan error, logger *slog.Logger) {
	logger.Info("Shutdown handler started. Waiting for signal or server error...")

	var triggerReason string
	select {
	case sig := <-shutdownChan:
		triggerReason = "signal: " + sig.String()
		logger.Info("Shutdown signal received.", "signal", sig.String())
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server exited unexpectedly before signal", "error", err)
			os.Exit(1)
		}
		triggerReason = "server exited"
		logger.Info("Server goroutine finished before signal.", "error", err)
	}

	logger.Info("Starting graceful shutdown...", "trigger", triggerReason)

	logger.Info("Stopping cron scheduler...")
	cronCtx := cronScheduler.Stop()
	select {
	case <-cronCtx.Done():
		logger.Info("Cron scheduler stopped gracefully.")
	case <-time.After(15 * time.Second):
		logger.Warn("Cron scheduler shutdown timed out.")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	logger.Info("Shutting down HTTP server...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server graceful shutdown failed", "error", err)
		}
		if err := srv.Close(); err != nil {
			logger.Error("HTTP server forced close failed", "error", err)
		}
	} else {
		logger.Info("HTTP server gracefully stopped.")
	}

	logger.Info("Waiting for server goroutine to confirm exit...")
	select {
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("Server goroutine exited with unexpected error after shutdown", "error", err)
		} else {
			logger.Info("Server goroutine confirmed exit.")
		}
	case <-time.After(5 * time.Second):
		logger.Warn("Timed out waiting for server goroutine confirmation.")
	}
}

// releaseResources runs closers in order. Event sinks come before the
// connections they write to.
func releaseResources(closers []closer, logger *slog.Logger) {
	for _, c := range closers {
		logger.Info("Releasing resource", "resource", c.name)
		c.fn()
	}
	logger.Info("Application shutdown process complete.")
}

func startBatchJobs(cfg *config.Config, logger *slog.Logger, interestJob *interest.MonthlyInterestJob) *cron.Cron {
	logger.Info("Initializing batch job scheduler...")
	c := cron.New()

	scheduleSpec := cfg.Batch.InterestSchedule
	if scheduleSpec == "" {
		scheduleSpec = "0 1 1 * *"
		logger.Warn("Batch interest schedule not configured, using default", "schedule", scheduleSpec)
	}
	jobTimeout := cfg.Batch.InterestTimeout
	if jobTimeout <= 0 {
		jobTimeout = 1 * time.Hour
	} else {
		jobTimeout = jobTimeout * time.Second
	}

	jobID, err := c.AddJob(scheduleSpec, cron.FuncJob(func() {
		jobLogger := logger.With("job_name", "MonthlyInterest")
		jobLogger.Info("Cron triggered: Running monthly interest job.")

		ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		defer cancel()

		result, runErr := interestJob.Run(ctx)
		if runErr != nil {
			jobLogger.Error("Monthly interest job finished with error", slog.Any("error", runErr))
			return
		}
		jobLogger.Info("Monthly interest job finished.",
			slog.String("period", result.Period),
			slog.Int("succeeded", result.SuccessCount), slog.Int("failed", result.FailureCount), slog.Int("skipped", result.SkippedCount))
	}))

	if err != nil {
		logger.Error("Failed to schedule monthly interest job", "schedule", scheduleSpec, slog.Any("error", err))
	} else {
		logger.Info("Scheduled monthly interest job", "schedule", scheduleSpec, "job_id", jobID)
	}

	c.Start()
	logger.Info("Cron scheduler started.")
	return c
}

func setupLogger(cfg config.LoggerConfig) *slog.Logger {
	return logging.NewLogger(cfg)
}
