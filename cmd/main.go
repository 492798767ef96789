/**
 * @description
 * This is the main entry point for the wallet-service. It is responsible for
 * initializing all components of the service, including configuration, the
 * persistence backend, message brokers, repositories, the core application
 * service, scheduled jobs, and the HTTP server. It wires everything together
 * and starts the service.
 *
 * @dependencies
 * - log, net/http: Standard Go libraries for logging and HTTP server functionality.
 * - github.com/go-chi/chi/v5: For HTTP routing.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - github.com/redis/go-redis/v9: Redis client.
 * - internal/api, internal/app, internal/config, internal/store: Internal packages for the service.
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

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/sprp/wallet-service/internal/api"
	"github.com/sprp/wallet-service/internal/app"
	"github.com/sprp/wallet-service/internal/config"
	"github.com/sprp/wallet-service/internal/store"
	rmrabbit "github.com/sprp/wallet-service/pkg/rabbitmq"
)

func main() {
	// Load application configuration from environment variables.
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	if strings.TrimSpace(cfg.JWTSecret) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"jwt secret must be configured\" env=JWT_SECRET")
	}

	log.Printf("level=info component=bootstrap msg=\"starting wallet-service\" port=%s", cfg.ServerPort)

	// Pick the persistence backend. Postgres is preferred when configured,
	// then Redis; an in-memory store keeps local development friction-free.
	var repository store.Repository
	switch {
	case strings.TrimSpace(cfg.DatabaseURL) != "":
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

		pgRepo := store.NewPostgresRepository(dbpool)
		schemaCtx, cancelSchema := context.WithTimeout(context.Background(), 10*time.Second)
		if err := pgRepo.EnsureSchema(schemaCtx); err != nil {
			cancelSchema()
			log.Fatalf("level=fatal component=bootstrap msg=\"schema setup failed\" err=%v", err)
		}
		cancelSchema()
		repository = pgRepo
		log.Println("level=info component=bootstrap msg=\"database connected\" backend=postgres")
	case strings.TrimSpace(cfg.RedisURL) != "":
		redisOptions, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatalf("level=fatal component=bootstrap msg=\"redis url parse failed\" err=%v", err)
		}
		storeClient := redis.NewClient(redisOptions)
		defer storeClient.Close()

		pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
		if err := storeClient.Ping(pingCtx).Err(); err != nil {
			cancelPing()
			log.Fatalf("level=fatal component=bootstrap msg=\"redis connection failed\" err=%v", err)
		}
		cancelPing()
		repository = store.NewRedisRepository(storeClient)
		log.Println("level=info component=bootstrap msg=\"redis connected\" backend=redis")
	default:
		repository = store.NewMemoryRepository()
		log.Println("level=warn component=bootstrap msg=\"no DATABASE_URL or REDIS_URL configured; using in-memory store\" backend=memory")
	}

	// Initialize the RabbitMQ producer to publish wallet events.
	var publisher rmrabbit.Publisher
	rabbitProducer, err := rmrabbit.NewEventProducer(cfg.RabbitMQURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", err)
		publisher = &rmrabbit.EventProducerFallback{}
	} else {
		defer rabbitProducer.Close()
		publisher = rabbitProducer
		log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
	}

	// Initialize the core application service with its dependencies.
	sessionTTL := time.Duration(cfg.SessionTTLMinutes) * time.Minute
	walletService := app.NewService(repository, publisher, []byte(cfg.JWTSecret), sessionTTL)

	// Login rate limiting needs Redis; without it the limiter is skipped.
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
		if parseErr != nil {
			log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; login rate limiting disabled\" err=%v", parseErr)
		} else {
			limiterClient := redis.NewClient(redisOptions)
			defer limiterClient.Close()
			walletService.SetLoginRateLimiter(
				app.NewLoginRateLimiter(limiterClient, cfg.RedisRateLimitPrefix, cfg.LoginRateLimitPerMinute),
			)
		}
	} else {
		log.Println("level=warn component=bootstrap msg=\"redis url missing; login rate limiting disabled\" env=REDIS_URL")
	}

	// Wire up the experience consumer: recorded transactions earn XP.
	if rabbitConsumer, consErr := rmrabbit.NewConsumer(cfg.RabbitMQURL); consErr != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq consumer unavailable; experience events disabled\" err=%v", consErr)
	} else {
		defer rabbitConsumer.Close()
		xpConsumer := app.NewExperienceConsumer(walletService)
		bindings := map[string]func([]byte) bool{
			rmrabbit.RoutingTransactionRecorded: xpConsumer.HandleMessage,
		}
		if err := rabbitConsumer.ConsumeWithBindings(rmrabbit.EventsExchange, cfg.ExperienceEventQueue, bindings); err != nil {
			log.Printf("level=warn component=bootstrap msg=\"experience consumer start failed\" err=%v", err)
		}
	}

	// Start the loan due reminder scheduler.
	slogger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	jobs := app.NewJobs(repository, publisher, slogger)
	scheduler := app.NewScheduler(jobs, slogger, cfg)
	scheduler.Start()

	// Initialize the API handlers.
	walletHandlers := api.NewWalletHandlers(walletService)

	// Set up the HTTP router and define the API routes.
	router := chi.NewRouter()
	router.Mount("/", api.WalletRoutes(walletHandlers, []byte(cfg.JWTSecret)))

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

	<-scheduler.Stop().Done()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("level=error component=http msg=\"shutdown failed\" err=%v", err)
	}

	log.Println("level=info component=http msg=\"shutdown complete\"")
}
