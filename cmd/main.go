/**
 * @description
 * This is the main entry point for the review service. It is responsible for
 * initializing all components of the service, including configuration, the
 * database connection pool, external API clients (Cloudinary, Brevo), the
 * message broker producer, repositories, the core application service, the
 * coupon-email retry scheduler, and the HTTP server. It wires everything
 * together and starts the service.
 *
 * @dependencies
 * - log, net/http: Standard Go libraries for logging and HTTP server functionality.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - github.com/joho/godotenv: For loading .env files during local development.
 * - github.com/redis/go-redis/v9: Redis client for rate limiting.
 * - github.com/robfig/cron/v3: Scheduler for the coupon-email retry sweep.
 * - internal/api, internal/app, internal/config, internal/store, internal/token: Internal packages.
 * - pkg/brevo, pkg/cloudinary, pkg/rabbitmq: External service clients.
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
	"github.com/robfig/cron/v3"

	"github.com/natural-uncle888/official-natural-uncle/internal/api"
	"github.com/natural-uncle888/official-natural-uncle/internal/app"
	"github.com/natural-uncle888/official-natural-uncle/internal/config"
	"github.com/natural-uncle888/official-natural-uncle/internal/store"
	"github.com/natural-uncle888/official-natural-uncle/internal/token"
	"github.com/natural-uncle888/official-natural-uncle/pkg/brevo"
	"github.com/natural-uncle888/official-natural-uncle/pkg/cloudinary"
	"github.com/natural-uncle888/official-natural-uncle/pkg/rabbitmq"
)

func main() {
	// Load .env for local development. In deployed environments the file is
	// absent and real environment variables are used.
	if err := godotenv.Load(); err != nil {
		log.Println("level=info component=bootstrap msg=\"no .env file found; using environment variables\"")
	}

	// Load application configuration from environment variables.
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config invalid\" err=%v", err)
	}

	log.Printf("level=info component=bootstrap msg=\"starting review-service\" port=%s", cfg.ServerPort)

	// Establish a connection pool to the PostgreSQL database.
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}
	poolConfig.MaxConns = 25
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to stay compatible with pooled
	// managed Postgres (pgbouncer in transaction mode).
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", err)
	}
	defer dbpool.Close()
	log.Println("level=info component=bootstrap msg=\"database connected\"")

	// Initialize the RabbitMQ producer to publish lifecycle events. The broker
	// is optional: without it, events are dropped and everything else works.
	var producer rabbitmq.Publisher = &rabbitmq.NoopPublisher{}
	if strings.TrimSpace(cfg.RabbitMQURL) != "" {
		eventProducer, prodErr := rabbitmq.NewEventProducer(cfg.RabbitMQURL)
		if prodErr != nil {
			log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; events disabled\" err=%v", prodErr)
		} else {
			producer = eventProducer
			defer eventProducer.Close()
			log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
		}
	}

	// Redis is used for submission and coupon-lookup rate limiting. Missing or
	// unreachable Redis disables rate limiting rather than blocking boot.
	var redisClient *redis.Client
	rateLimitingEnabled := cfg.SubmitRateLimitPerMinute > 0 || cfg.CouponStatusRateLimitPerMinute > 0
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
	var limiter *app.RedisRateLimiter
	if redisClient != nil {
		limiter = app.NewRedisRateLimiter(redisClient, cfg.RedisRateLimitPrefix)
	}

	// Initialize the signer for review-submission tokens.
	signer, err := token.NewSigner(cfg.TokenSecret, time.Duration(cfg.TokenTTLHours)*time.Hour)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"token signer init failed\" err=%v", err)
	}

	// Initialize the external service clients.
	uploader := cloudinary.NewClient(
		cfg.CloudinaryCloudName,
		cfg.CloudinaryAPIKey,
		cfg.CloudinaryAPISecret,
		cfg.CloudinaryFolder,
		cfg.CloudinaryMaxWidth,
	)
	mailer := brevo.NewClient(cfg.BrevoKey, cfg.BrevoSenderEmail, cfg.BrevoSenderName, cfg.BrandName)

	// Initialize the data access layer (repository).
	repository := store.NewPostgresRepository(dbpool)

	// Initialize the core application service with its dependencies.
	reviewService := app.NewService(repository, signer, uploader, mailer, producer, app.Config{
		MinImages:               cfg.MinImages,
		MaxImages:               cfg.MaxImages,
		MaxImageBytes:           cfg.MaxImageBytes,
		CouponPrefix:            cfg.CouponPrefix,
		CouponCodeMaxAttempts:   cfg.CouponCodeMaxAttempts,
		ModerationMaxRetries:    cfg.ModerationMaxRetries,
		ResendCouponOnReapprove: cfg.ResendCouponOnReapprove,
	})

	// Schedule the coupon-email retry sweep when configured.
	if strings.TrimSpace(cfg.EmailRetrySchedule) != "" {
		scheduler := cron.New()
		_, cronErr := scheduler.AddFunc(cfg.EmailRetrySchedule, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()
			if retried := reviewService.RetryCouponEmails(ctx, 50); retried > 0 {
				log.Printf("level=info component=scheduler msg=\"coupon email retry sweep finished\" retried=%d", retried)
			}
		})
		if cronErr != nil {
			log.Fatalf("level=fatal component=bootstrap msg=\"email retry schedule invalid\" schedule=%q err=%v", cfg.EmailRetrySchedule, cronErr)
		}
		scheduler.Start()
		defer scheduler.Stop()
		log.Printf("level=info component=scheduler msg=\"coupon email retry sweep scheduled\" schedule=%q", cfg.EmailRetrySchedule)
	}

	// Initialize the API handlers and router.
	auth := api.NewAdminAuth(
		cfg.AdminKey,
		cfg.AdminKeyHash,
		cfg.AdminSessionSecret,
		time.Duration(cfg.AdminSessionTTLMinutes)*time.Minute,
	)
	handlers := api.NewHandlers(reviewService, auth, limiter, cfg.SubmitRateLimitPerMinute, cfg.CouponStatusRateLimitPerMinute)
	router := api.Routes(handlers, auth, dbpool)

	// Start the HTTP server.
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
