/**
 * @description
 * This is the main entry point for the peer-network-service. It loads configuration, connects
 * the stores and brokers, builds the relationship, group, matching, risk and transfer
 * components, and serves the HTTP API until it receives a shutdown signal.
 *
 * @dependencies
 * - github.com/joho/godotenv: For loading .env files during local development.
 * - github.com/jackc/pgx/v5: PostgreSQL driver. Without DATABASE_URL the in-memory stores are used.
 * - github.com/redis/go-redis/v9: Shared rate limiter across replicas.
 * - pkg/rabbitmq: Event publishing and the review-decision consumer.
 * - internal/graph: Optional Neo4j trust graph projection.
 * - internal/metrics: Prometheus instrumentation.
 */

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

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/transfa/peer-network-service/internal/api"
	"github.com/transfa/peer-network-service/internal/app"
	"github.com/transfa/peer-network-service/internal/config"
	"github.com/transfa/peer-network-service/internal/graph"
	"github.com/transfa/peer-network-service/internal/metrics"
	"github.com/transfa/peer-network-service/internal/resilience"
	"github.com/transfa/peer-network-service/internal/store"
	"github.com/transfa/peer-network-service/pkg/executorclient"
	"github.com/transfa/peer-network-service/pkg/profileclient"
	rmrabbit "github.com/transfa/peer-network-service/pkg/rabbitmq"
	"github.com/transfa/peer-network-service/pkg/validatorclient"
)

type stores struct {
	rels   store.RelationshipStore
	groups store.GroupStore
	ledger store.TransactionLedger
	locker app.Locker
}

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file found, relying on environment variables")
	}

	cfg, err := config.LoadConfig(".")
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger := newLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	logger.Info("starting peer-network-service", "port", cfg.ServerPort)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	data, closeStores, err := openStores(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialise stores", "error", err)
		os.Exit(1)
	}
	defer closeStores()

	var publisher rmrabbit.Publisher
	if producer, err := rmrabbit.NewEventProducer(cfg.RabbitMQURL, logger); err != nil {
		logger.Warn("rabbitmq producer unavailable; using fallback", "error", err)
	} else {
		defer producer.Close()
		publisher = producer
		logger.Info("rabbitmq producer connected")
	}

	var recorder *metrics.Recorder
	var appMetrics app.Recorder
	breakerOpts := []resilience.BreakerOption{}
	if cfg.MetricsEnabled {
		recorder = metrics.NewRecorder()
		appMetrics = recorder
		breakerOpts = append(breakerOpts, resilience.WithStateChangeHook(recorder.BreakerHook()))
	}

	limiterCfg := resilience.RateLimitConfig{Limit: cfg.RateLimitPerMinute, Window: time.Minute}
	limiter, closeLimiter := newRateLimiter(ctx, cfg, limiterCfg, logger)
	defer closeLimiter()

	breaker := resilience.NewBreaker(resilience.BreakerConfig{
		FailureThreshold: cfg.BreakerFailureThreshold,
		Cooldown:         time.Duration(cfg.BreakerCooldownSeconds) * time.Second,
	}, breakerOpts...)
	guard := resilience.NewGuard(limiter, breaker, resilience.GuardConfig{
		Retry: resilience.RetryConfig{
			MaxAttempts: cfg.RetryMaxAttempts,
			Delay:       time.Duration(cfg.RetryDelayMillis) * time.Millisecond,
		},
		AttemptTimeout: time.Duration(cfg.ExecutorTimeoutSeconds) * time.Second,
	}, logger)

	profiles := profileclient.NewClient(cfg.ProfileServiceURL, cfg.InternalAPIKey)
	validator := validatorclient.NewClient(cfg.PaymentValidatorURL, cfg.InternalAPIKey)
	executor := executorclient.NewClient(cfg.TransferExecutorURL, cfg.InternalAPIKey, logger)

	var observers []app.OutcomeObserver
	var ties api.TieReader
	if strings.TrimSpace(cfg.GraphURI) != "" {
		graphClient, err := graph.NewNeo4jClient(ctx, graph.Options{
			URI:      cfg.GraphURI,
			Database: cfg.GraphDatabase,
			Username: cfg.GraphUsername,
			Password: cfg.GraphPassword,
		})
		if err != nil {
			logger.Warn("trust graph unavailable; projection disabled", "error", err)
		} else {
			defer graphClient.Close(context.Background())
			projection := graph.NewProjection(graphClient, logger)
			observers = append(observers, projection)
			ties = projection
			logger.Info("trust graph connected")
		}
	}

	registry := app.NewGroupRegistry(data.groups, data.rels, profiles, publisher, appMetrics, logger)
	matcher := app.NewMatcher(data.rels, data.groups, matchConfig(cfg), appMetrics, logger)
	risk := app.NewRiskAssessor(data.ledger, validator, app.NewCountryGeoChecker(cfg.BlockedCountries()), app.RiskConfig{
		MaxAmount:          cfg.RiskMaxAmountKobo,
		HourlyTransferCap:  cfg.RiskHourlyTransferCap,
		BlockThreshold:     cfg.RiskBlockThreshold,
		ReviewThreshold:    cfg.RiskReviewThreshold,
		SuspiciousPatterns: cfg.SuspiciousPatterns(),
	}, appMetrics, logger)

	service := app.NewService(app.Dependencies{
		Relationships: data.rels,
		Ledger:        data.ledger,
		Groups:        registry,
		Matcher:       matcher,
		Risk:          risk,
		Guard:         guard,
		Executor:      executor,
		Publisher:     publisher,
		Observers:     observers,
		Metrics:       appMetrics,
		Allocation: app.AllocationConfig{
			DailyLimit:   cfg.DailyLimitKobo,
			MonthlyLimit: cfg.MonthlyLimitKobo,
		},
		Locker: data.locker,
		Logger: logger,
	})
	grouper := app.NewAutoGrouper(registry, data.groups, data.ledger, profiles, app.AutoGroupConfig{
		MinGroupSize: cfg.AutoGroupMinSize,
	}, logger)

	scheduler := app.NewScheduler(app.NewJobs(grouper, service, logger), logger, app.ScheduleConfig{
		AutoGroup:   cfg.AutoGroupSchedule,
		StaleReview: cfg.StaleReviewSchedule,
	})
	scheduler.Start()

	var consumer *rmrabbit.Consumer
	if c, err := rmrabbit.NewConsumer(cfg.RabbitMQURL, cfg.ReviewPrefetch, logger); err != nil {
		logger.Warn("rabbitmq consumer unavailable; review decisions only via http", "error", err)
	} else {
		reviews := app.NewReviewDecisionConsumer(service, logger)
		bindings := map[string]rmrabbit.Handler{
			app.ReviewRoutingKey: reviews.HandleMessage,
		}
		if err := c.ConsumeWithBindings(rmrabbit.DefaultExchange, cfg.ReviewDecisionQueue, bindings); err != nil {
			logger.Error("review decision consumer failed to start", "error", err)
			os.Exit(1)
		}
		consumer = c
	}

	routerCfg := api.RouterConfig{
		AllowedOrigins: cfg.AllowedOrigins(),
		JWTSigningKey:  cfg.JWTSigningKey,
		InternalAPIKey: cfg.InternalAPIKey,
	}
	if recorder != nil {
		routerCfg.Instrument = recorder.Middleware
		routerCfg.Metrics = recorder.Handler()
	}
	if strings.TrimSpace(cfg.JWTSigningKey) == "" {
		logger.Warn("JWT_SIGNING_KEY not set; customer routes will reject every request")
	}
	if strings.TrimSpace(cfg.InternalAPIKey) == "" {
		logger.Warn("INTERNAL_API_KEY not set; internal routes are unauthenticated")
	}
	handlers := api.NewHandlers(service, grouper, ties, logger)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.ServerPort),
		Handler:           api.PeerNetworkRoutes(handlers, routerCfg),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server stopped unexpectedly", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown started")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	}
	if consumer != nil {
		consumer.Close()
		select {
		case <-consumer.Done():
		case <-shutdownCtx.Done():
			logger.Warn("review consumer still draining at shutdown")
		}
	}
	select {
	case <-scheduler.Stop().Done():
	case <-shutdownCtx.Done():
		logger.Warn("scheduled jobs still running at shutdown")
	}
	logger.Info("shutdown complete")
}

func matchConfig(cfg config.Config) app.MatchConfig {
	return app.MatchConfig{
		CandidatePoolSize: cfg.MatchCandidatePoolSize,
		MaxPeerResults:    cfg.MatchMaxResults,
		MaxGroupResults:   cfg.MatchMaxGroupResults,
		PeerThreshold:     cfg.MatchPeerThreshold,
		GroupThreshold:    cfg.MatchGroupThreshold,
	}
}

func newLogger(level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	var handler slog.Handler
	if format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// openStores connects PostgreSQL when DATABASE_URL is set and falls back to memory otherwise.
func openStores(ctx context.Context, cfg config.Config, logger *slog.Logger) (stores, func(), error) {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		logger.Warn("DATABASE_URL not set; using in-memory stores")
		return stores{
			rels:   store.NewMemoryRelationshipStore(),
			groups: store.NewMemoryGroupStore(),
			ledger: store.NewMemoryLedger(),
		}, func() {}, nil
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return stores{}, nil, fmt.Errorf("unable to parse database URL: %w", err)
	}
	poolConfig.MaxConns = 50
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute
	// Disable prepared statement caching to prevent conflicts
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return stores{}, nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	repository := store.NewPostgresRepository(dbpool)
	if err := repository.EnsureSchema(ctx); err != nil {
		dbpool.Close()
		return stores{}, nil, err
	}
	logger.Info("database connection established")
	return stores{
		rels:   repository.Relationships(),
		groups: repository.Groups(),
		ledger: repository.Ledger(),
		locker: repository.Locks(logger),
	}, dbpool.Close, nil
}

// newRateLimiter prefers Redis so replicas share one quota, and falls back to a local limiter.
func newRateLimiter(ctx context.Context, cfg config.Config, limiterCfg resilience.RateLimitConfig, logger *slog.Logger) (resilience.RateLimiter, func()) {
	local := func() (resilience.RateLimiter, func()) {
		limiter := resilience.NewMemoryRateLimiter(limiterCfg, nil)
		go limiter.RunCleanup(ctx, 5*time.Minute)
		return limiter, func() {}
	}
	if cfg.RedisURL == "" {
		logger.Info("redis url missing; using in-process rate limiter")
		return local()
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Warn("redis url parse failed; using in-process rate limiter", "error", err)
		return local()
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis ping failed; using in-process rate limiter", "error", err)
		client.Close()
		return local()
	}
	logger.Info("redis connected")
	limiter := resilience.NewRedisRateLimiter(client, cfg.RedisRateLimitPrefix, app.ExecuteOperation, limiterCfg)
	return limiter, func() { client.Close() }
}
