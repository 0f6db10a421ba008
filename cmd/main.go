/**
 * @description
 * This is the main entry point for the treasury-service. It is responsible for
 * initializing all components of the service, including configuration, database connection,
 * external API clients, message brokers, repositories, the core application services,
 * and the HTTP server. It wires everything together and starts the service.
 *
 * @dependencies
 * - log, net/http: Standard Go libraries for logging and HTTP server functionality.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - internal/api, internal/app, internal/config, internal/secure, internal/store: Internal packages.
 * - pkg/payoutclient: Client for the payout provider API.
 * - pkg/rabbitmq: Client for RabbitMQ.
 */

package main

import (
	"context"
	"fmt"
	"log"
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

	"github.com/poolvault/treasury-service/internal/api"
	"github.com/poolvault/treasury-service/internal/app"
	"github.com/poolvault/treasury-service/internal/config"
	"github.com/poolvault/treasury-service/internal/secure"
	"github.com/poolvault/treasury-service/internal/store"
	"github.com/poolvault/treasury-service/pkg/payoutclient"
	rmrabbit "github.com/poolvault/treasury-service/pkg/rabbitmq"
)

func main() {
	// Load a local .env file if present, then the full configuration.
	_ = godotenv.Load()
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	if strings.TrimSpace(cfg.InternalAPIKey) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"internal api key must be configured\" env=INTERNAL_API_KEY")
	}
	if strings.TrimSpace(cfg.JWTSecret) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"jwt secret must be configured\" env=JWT_SECRET")
	}

	log.Printf("level=info component=bootstrap msg=\"starting treasury-service\" port=%s", cfg.ServerPort)

	// The field codec protects beneficiary and provider payload columns;
	// boot must fail loudly if the key is absent or malformed.
	codec, err := secure.NewCodec(cfg.FieldEncryptionKey)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"field encryption key invalid\" env=FIELD_ENCRYPTION_KEY err=%v", err)
	}

	// Establish a connection pool to the PostgreSQL database.
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}

	poolConfig.MaxConns = 100
	poolConfig.MinConns = 20
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to prevent conflicts
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", err)
	}
	defer dbpool.Close()
	log.Println("level=info component=bootstrap msg=\"database connected\"")

	// Initialize the RabbitMQ producer to publish events. A broker outage at
	// startup degrades to the no-op fallback rather than blocking boot.
	var producer rmrabbit.Publisher = &rmrabbit.EventProducerFallback{}
	if eventProducer, prodErr := rmrabbit.NewEventProducer(cfg.RabbitMQURL); prodErr != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", prodErr)
	} else {
		producer = eventProducer
		defer eventProducer.Close()
		log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
	}

	// Initialize the client for the payout provider API.
	payoutClient := payoutclient.NewClient(cfg.PayoutAPIBaseURL, cfg.PayoutAPISecretKey)

	var redisClient *redis.Client
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

	// Initialize the data access layer (repository).
	repository := store.NewPostgresRepository(dbpool, codec)

	// Initialize the core application services with their dependencies.
	treasuryService := app.NewService(repository, producer, cfg.PINMaxAttempts, cfg.PINLockoutSeconds)
	payoutExecutor := app.NewExecutor(repository, payoutClient, producer, treasuryService)

	if redisClient != nil {
		limiter := app.NewRedisRateLimiter(redisClient, cfg.RedisRateLimitPrefix)
		payoutExecutor.SetExecuteRateLimiter(limiter, app.RateLimitPolicy{
			Limit:  cfg.ExecuteRateLimitPerMinute,
			Window: time.Minute,
		})
		treasuryService.SetCreditRateLimiter(limiter, app.RateLimitPolicy{
			Limit:  cfg.WebhookRateLimitPerMinute,
			Window: time.Minute,
		})
	}

	// Consume settled-payment events from the payment service alongside the
	// webhook; the credit path is idempotent so double delivery is harmless.
	if consumer, consErr := rmrabbit.NewConsumer(cfg.RabbitMQURL); consErr != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq consumer unavailable; relying on webhook only\" err=%v", consErr)
	} else {
		defer consumer.Close()
		paymentConsumer := app.NewPaymentEventConsumer(treasuryService)
		bindings := map[string]func([]byte) bool{
			rmrabbit.RoutingKeyPaymentConfirmed: paymentConsumer.HandleMessage,
		}
		if consErr := consumer.ConsumeWithBindings(rmrabbit.PaymentEventsExchange, "treasury_service.payment_confirmed", bindings); consErr != nil {
			log.Printf("level=warn component=bootstrap msg=\"failed to start payment event consumer\" err=%v", consErr)
		} else {
			log.Println("level=info component=bootstrap msg=\"payment event consumer started\"")
		}
	}

	// Start the recovery sweeper so unresolved payout recoveries surface in
	// the logs on a schedule.
	sweeper, err := app.NewRecoverySweeper(repository, cfg.RecoverySweepSchedule)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"recovery sweep schedule invalid\" schedule=%q err=%v", cfg.RecoverySweepSchedule, err)
	}
	sweeper.Start()
	defer sweeper.Stop()

	// Initialize the API handlers and router.
	treasuryHandlers := api.NewTreasuryHandlers(treasuryService, payoutExecutor)
	router := api.TreasuryRoutes(treasuryHandlers, cfg.JWTSecret, cfg.InternalAPIKey, cfg.AllowedOriginList())

	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	log.Printf("level=info component=http msg=\"server listening\" addr=%s", serverAddr)

	server := &http.Server{
		Addr:    serverAddr,
		Handler: router,
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

	log.Println("level=info component=http msg=\"shutdown complete\"")
}
