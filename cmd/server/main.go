/**
 * @description
 * This is the main entry point for the access service. It is responsible for
 * initializing all components of the service, including configuration, database
 * connection, the payment provider client, the user directory client, the
 * message broker producer, repositories, the reconciliation service, the sync
 * scheduler, and the HTTP server. It wires everything together and starts the
 * service.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - github.com/redis/go-redis/v9: Redis client.
 * - github.com/joho/godotenv: .env loading for local development.
 * - internal/api, internal/app, internal/config, internal/store: Internal packages.
 * - pkg/stripeclient, pkg/userclient, pkg/rabbitmq: External collaborators.
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

	"github.com/memberly/access-service/internal/api"
	"github.com/memberly/access-service/internal/app"
	"github.com/memberly/access-service/internal/config"
	"github.com/memberly/access-service/internal/store"
	"github.com/memberly/access-service/pkg/rabbitmq"
	"github.com/memberly/access-service/pkg/stripeclient"
	"github.com/memberly/access-service/pkg/userclient"
)

func main() {
	// Load .env if present; real deployments configure via environment.
	_ = godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	if strings.TrimSpace(cfg.StripeAPIKey) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"provider api key must be configured\" env=STRIPE_API_KEY")
	}
	if strings.TrimSpace(cfg.InternalAPIKey) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"internal api key must be configured\" env=INTERNAL_API_KEY")
	}

	log.Printf("level=info component=bootstrap msg=\"starting access-service\" port=%s", cfg.ServerPort)

	// Establish a connection pool to the PostgreSQL database.
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}
	poolConfig.MaxConns = 50
	poolConfig.MinConns = 5
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

	// Redis backs the customer-index cache and webhook deduplication. The
	// service degrades to database-only operation without it.
	var redisClient *redis.Client
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
		if parseErr != nil {
			log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; caching disabled\" err=%v", parseErr)
		} else {
			redisClient = redis.NewClient(redisOptions)
			pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancelPing()
			if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis ping failed; caching disabled\" err=%v", pingErr)
				redisClient.Close()
				redisClient = nil
			} else {
				defer redisClient.Close()
				log.Println("level=info component=bootstrap msg=\"redis connected\"")
			}
		}
	}

	// Initialize the RabbitMQ producer for access notifications. The broker
	// being down must not block reconciliation.
	rabbitProducer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; notifications disabled\" err=%v", err)
		rabbitProducer = nil
	} else {
		defer rabbitProducer.Close()
		log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
	}

	// External collaborators.
	providerClient := stripeclient.NewClient(cfg.StripeAPIBaseURL, cfg.StripeAPIKey)
	userClient := userclient.NewClient(cfg.UserServiceURL, cfg.InternalAPIKey)

	// Data access layer.
	repository := store.NewPostgresRepository(dbpool)
	catalogRepository := store.NewCatalogRepository(dbpool)
	customerIndex := store.NewCachedCustomerIndex(repository, redisClient, "")
	repo := store.NewCustomerCachedRepository(repository, customerIndex)

	// Core reconciliation service.
	accessService := app.NewService(repo, catalogRepository, providerClient, userClient, publisherOrNil(rabbitProducer), cfg.AccessLinkBaseURL)

	// Scheduled backfill sync, if configured.
	scheduler := app.NewScheduler(accessService)
	if strings.TrimSpace(cfg.SyncSchedule) != "" {
		if err := scheduler.Start(cfg.SyncSchedule, cfg.SyncWindowDays); err != nil {
			log.Fatalf("level=fatal component=bootstrap msg=\"sync scheduler start failed\" schedule=%q err=%v", cfg.SyncSchedule, err)
		}
		defer scheduler.Stop()
		log.Printf("level=info component=bootstrap msg=\"sync scheduler started\" schedule=%q window_days=%d", cfg.SyncSchedule, cfg.SyncWindowDays)
	}

	// HTTP layer.
	handler := api.NewHandler(accessService, catalogRepository)
	webhookHandler := api.NewWebhookHandler(accessService, cfg.StripeWebhookSecret, redisClient)
	router := api.NewRouter(handler, webhookHandler, api.RouterConfig{
		JWKSURL:        cfg.JWKSURL,
		InternalAPIKey: cfg.InternalAPIKey,
		AllowedOrigins: strings.Split(cfg.AllowedOrigins, ","),
	})

	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	server := &http.Server{
		Addr:    serverAddr,
		Handler: router,
	}

	go func() {
		log.Printf("level=info component=http msg=\"server listening\" addr=%s", serverAddr)
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

// publisherOrNil converts a possibly nil concrete producer into the service's
// Publisher interface without wrapping a typed nil.
func publisherOrNil(producer *rabbitmq.EventProducer) app.Publisher {
	if producer == nil {
		return nil
	}
	return producer
}
