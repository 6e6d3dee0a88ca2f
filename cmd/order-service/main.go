package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/drluca/orderflow/config"
	"github.com/drluca/orderflow/internal/database"
	"github.com/drluca/orderflow/internal/eventbus"
	"github.com/drluca/orderflow/internal/idempotency"
	"github.com/drluca/orderflow/internal/metrics"
	"github.com/drluca/orderflow/internal/orders"
	"github.com/drluca/orderflow/internal/outbox"
)

func main() {
	// Setup structured logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	cfg, err := config.LoadConfig(".", "order-service")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	applyLogLevel(cfg.LogLevel)
	log.Info().Str("appName", cfg.AppName).Msg("Application starting")

	db, err := database.New(database.Settings{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		Name:     cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize Database")
	}
	defer db.Close()

	bus, err := eventbus.NewRabbitMQManager(eventbus.RabbitMQConfig{
		URL:           cfg.RabbitMQURL,
		Exchange:      cfg.ExchangeName,
		ExchangeType:  cfg.RabbitMQExchangeType,
		PrefetchCount: cfg.RabbitMQPrefetch,
		ConsumerTag:   cfg.ConsumerTag,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize RabbitMQ Manager")
	}
	defer bus.Close()

	var cache *idempotency.SeenCache
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		cache = idempotency.NewSeenCache(client, time.Duration(cfg.SeenCacheTTLH)*time.Hour)
		log.Info().Str("addr", cfg.RedisAddr).Msg("Duplicate-event cache enabled")
	}

	m := metrics.New("order_service")
	repo := orders.NewPostgresRepository(db)
	ledger := idempotency.NewPostgresLedger(db)
	queue := outbox.NewPostgresStore(db)
	svc := orders.NewService(repo, queue, db, ledger, cache, m)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dispatcher := outbox.NewDispatcher(queue, bus, time.Duration(cfg.OutboxIntervalMS)*time.Millisecond, cfg.OutboxBatchSize, m)
	go dispatcher.Run(ctx)

	if err := bus.Subscribe(ctx, orders.Group, orders.SubscribedTypes(), svc.HandleInventoryOutcome); err != nil {
		log.Fatal().Err(err).Msg("Failed to subscribe to inventory outcomes")
	}

	router := chi.NewRouter()
	router.Mount("/", orders.NewHTTPHandler(svc).Routes())
	router.Handle("/metrics", metrics.Handler())

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info().Int("port", cfg.HTTPPort).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Application shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
	cancel()
}

func applyLogLevel(level string) {
	switch strings.ToLower(level) {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
