/**
 * @description
 * This is the main entry point for the agentpay-service. It is responsible for
 * initializing all components of the service, including configuration, database
 * connection, the payment gateway client, message brokers, the Redis rate limiter,
 * the application services, the maintenance scheduler and the HTTP server. It wires
 * everything together and starts the service.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - github.com/redis/go-redis/v9: distributed rate limiting.
 * - github.com/joho/godotenv: optional .env loading for local development.
 * - internal/api, internal/app, internal/config, internal/store: Internal packages for the service.
 * - pkg/gatewayclient: Client for the mobile-money payment gateway.
 * - pkg/rabbitmq: Client for RabbitMQ.
 */

package main

import (
	"context"
	"fmt"
	"log"
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
	"github.com/transfa/agentpay-service/internal/api"
	"github.com/transfa/agentpay-service/internal/app"
	"github.com/transfa/agentpay-service/internal/config"
	"github.com/transfa/agentpay-service/internal/store"
	"github.com/transfa/agentpay-service/pkg/gatewayclient"
	rmrabbit "github.com/transfa/agentpay-service/pkg/rabbitmq"
)

func main() {
	// Load .env for local development; deployed environments set real variables.
	if err := godotenv.Load(); err != nil {
		log.Println("level=info component=bootstrap msg=\"no .env file found; using environment\"")
	}

	// Load application configuration from environment variables.
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	if len(cfg.SessionSigningKey) < 32 {
		log.Fatalf("level=fatal component=bootstrap msg=\"session signing key must be at least 32 bytes\" env=SESSION_SIGNING_KEY")
	}
	if strings.TrimSpace(cfg.GatewayBaseURL) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"gateway base url must be configured\" env=GATEWAY_BASE_URL")
	}

	log.Printf("level=info component=bootstrap msg=\"starting agentpay-service\" port=%s", cfg.ServerPort)

	// Establish a connection pool to the PostgreSQL database.
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}
	poolConfig.MaxConns = 50
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to prevent conflicts behind poolers.
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", err)
	}
	defer dbpool.Close()
	log.Println("level=info component=bootstrap msg=\"database connected\"")

	if cfg.AutoMigrate {
		migrateCtx, cancelMigrate := context.WithTimeout(context.Background(), 30*time.Second)
		if err := store.EnsureSchema(migrateCtx, dbpool); err != nil {
			cancelMigrate()
			log.Fatalf("level=fatal component=bootstrap msg=\"schema migration failed\" err=%v", err)
		}
		cancelMigrate()
		log.Println("level=info component=bootstrap msg=\"schema ensured\"")
	}

	// Initialize the RabbitMQ producer. Payments must keep working without the broker,
	// so a connection failure falls back to a no-op publisher.
	var eventProducer rmrabbit.Publisher = &rmrabbit.EventProducerFallback{}
	if strings.TrimSpace(cfg.RabbitMQURL) == "" {
		log.Println("level=warn component=bootstrap msg=\"rabbitmq url missing; events disabled\" env=RABBITMQ_URL")
	} else if producer, err := rmrabbit.NewEventProducer(cfg.RabbitMQURL); err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", err)
	} else {
		eventProducer = producer
		defer producer.Close()
		log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
	}

	var redisClient *redis.Client
	rateLimitingEnabled := cfg.LoginRateLimitPerMinute > 0 || cfg.PaymentRateLimitPerMinute > 0
	if rateLimitingEnabled {
		if strings.TrimSpace(cfg.RedisURL) == "" {
			log.Println("level=warn component=bootstrap msg=\"redis url missing; rate limiting disabled\" env=REDIS_URL")
		} else {
			redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
			if parseErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; rate limiting disabled\" err=%v", parseErr)
			} else {
				redisClient = redis.NewClient(redisOptions)
				pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancelPing()
				if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
					log.Printf("level=warn component=bootstrap msg=\"redis ping failed; rate limiting disabled\" err=%v", pingErr)
					redisClient.Close()
					redisClient = nil
				} else {
					defer redisClient.Close()
					log.Println("level=info component=bootstrap msg=\"redis connected\"")
				}
			}
		}
	}
	var rateLimiter app.RateLimiter
	if redisClient != nil {
		rateLimiter = app.NewRedisRateLimiter(redisClient, cfg.RedisRateLimitPrefix)
	}

	// Initialize the client for the payment gateway.
	gatewayClient := gatewayclient.NewClient(gatewayclient.Config{
		BaseURL: cfg.GatewayBaseURL,
		Credentials: gatewayclient.Credentials{
			MerchantUID: cfg.GatewayMerchantUID,
			APIUserID:   cfg.GatewayAPIUserID,
			APIKey:      cfg.GatewayAPIKey,
		},
		ChannelName: cfg.GatewayChannelName,
		ServiceName: cfg.GatewayServiceName,
		Timeout:     cfg.GatewayTimeout(),
	})

	// Initialize the data access layer and the application services.
	repository := store.NewPostgresRepository(dbpool)
	sessionService := app.NewSessionService(repository, cfg.SessionSigningKey, cfg.SessionTTL())
	accountService := app.NewAccountService(repository, sessionService, rateLimiter, cfg.LoginRateLimitPerMinute)
	paymentService := app.NewPaymentService(repository, gatewayClient, eventProducer, app.PaymentServiceConfig{
		DefaultCurrency:      cfg.DefaultCurrency,
		GatewayTimeout:       cfg.GatewayTimeout(),
		RateLimiter:          rateLimiter,
		SubmitLimitPerMinute: cfg.PaymentRateLimitPerMinute,
	})
	queryService := app.NewQueryService(repository)

	bootstrapCtx, cancelBootstrap := context.WithTimeout(context.Background(), 15*time.Second)
	if _, err := accountService.BootstrapAdmin(bootstrapCtx, cfg.AdminEmail, cfg.AdminPassword, cfg.AdminFullName); err != nil {
		log.Printf("level=error component=bootstrap msg=\"admin bootstrap failed\" err=%v", err)
	}
	cancelBootstrap()

	// Session revocation requests from other back-office services.
	if strings.TrimSpace(cfg.RabbitMQURL) != "" {
		rabbitConsumer, err := rmrabbit.NewConsumer(cfg.RabbitMQURL)
		if err != nil {
			log.Printf("level=warn component=bootstrap msg=\"rabbitmq consumer unavailable; session revocation events disabled\" err=%v", err)
		} else {
			defer rabbitConsumer.Close()
			revocationConsumer := app.NewSessionRevocationConsumer(sessionService)
			bindings := map[string]rmrabbit.Handler{
				app.EventSessionRevoke: revocationConsumer.HandleMessage,
			}
			queueOptions := rmrabbit.QueueOptions{
				Prefetch:           cfg.SessionEventPrefetch,
				DeadLetterExchange: cfg.SessionEventDeadLetterExchange,
			}
			if err := rabbitConsumer.ConsumeWithBindings(rmrabbit.EventsExchange, cfg.SessionEventQueue, queueOptions, bindings); err != nil {
				log.Fatalf("level=fatal component=bootstrap msg=\"session consumer start failed\" err=%v", err)
			}
		}
	}

	// Maintenance jobs run on the cron scheduler with structured logging.
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	jobs := app.NewMaintenanceJobs(repository, cfg.SessionTTL(), cfg.IdempotencyKeyTTL(), logger)
	scheduler := app.NewScheduler(jobs, logger, cfg.MaintenanceSchedule)
	if err := scheduler.Start(); err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"maintenance scheduler start failed\" schedule=%q err=%v", cfg.MaintenanceSchedule, err)
	}

	// Initialize the API handlers and router.
	handlers := api.NewHandlers(accountService, paymentService, queryService)
	router := api.NewRouter(handlers, sessionService, cfg.AllowedOrigins())

	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	log.Printf("level=info component=http msg=\"server listening\" addr=%s", serverAddr)

	server := &http.Server{
		Addr:              serverAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("level=fatal component=http msg=\"server stopped unexpectedly\" err=%v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Println("level=info component=http msg=\"shutdown started\"")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("level=error component=http msg=\"shutdown failed\" err=%v", err)
	}
	<-scheduler.Stop().Done()

	log.Println("level=info component=http msg=\"shutdown complete\"")
}
