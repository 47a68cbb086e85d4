package cli

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"evaliq-attempt-service/internal/app"
	"evaliq-attempt-service/internal/config"
	"evaliq-attempt-service/internal/infra/memory"
	"evaliq-attempt-service/internal/infra/postgres"
	"evaliq-attempt-service/internal/infra/rabbitmq"
	redisstore "evaliq-attempt-service/internal/infra/redis"
	"evaliq-attempt-service/internal/infra/sqlite"
	transport "evaliq-attempt-service/internal/transport/http"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the attempt server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

// backends holds the storage picked by the store driver.
type backends struct {
	loader  memory.QuizLoader
	records app.AttemptRepository
	closers []func()
}

func (b *backends) close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

func openBackends(ctx context.Context, cfg config.Config) (*backends, error) {
	b := &backends{}
	switch cfg.StoreDriver() {
	case config.DriverPostgres:
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return nil, err
		}
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, pool.Close)
		b.loader = postgres.NewQuizLoader(pool)
		b.records = postgres.NewAttemptRepository(pool)
	case config.DriverSQLite:
		store, err := sqlite.Open(ctx, sqlite.DSN(cfg.Store.SQLitePath))
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, func() { _ = store.Close() })
		b.loader = store
		b.records = store
	default:
		loader := memory.NewStaticQuizLoader()
		if cfg.Quiz.SeedPath != "" {
			quizzes, err := loadQuizFile(cfg.Quiz.SeedPath)
			if err != nil {
				return nil, err
			}
			for _, quiz := range quizzes {
				loader.Put(quiz)
			}
			log.Printf("loaded %d quizzes from %s", len(quizzes), cfg.Quiz.SeedPath)
		}
		b.loader = loader
		b.records = memory.NewAttemptRepository()
	}
	return b, nil
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	b, err := openBackends(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.close()

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
	}
	redisTTL := config.TTLDuration(cfg.Redis.TTL, 24*time.Hour)

	quizTTL := config.TTLDuration(cfg.Quiz.TTL, 10*time.Minute)
	var quizRepo app.QuizRepository
	var stores app.SessionStoreProvider
	if redisClient != nil {
		quizRepo = redisstore.NewQuizRepository(redisClient, b.loader, quizTTL)
		stores = redisstore.NewSessionStore(redisClient, redisTTL)
	} else {
		quizRepo = memory.NewQuizRepository(b.loader, quizTTL)
		stores = memory.NewSessionStore()
	}

	opts := app.Options{
		FailOpen:        cfg.Attempt.FailOpen,
		TickInterval:    config.TTLDuration(cfg.Attempt.TickInterval, time.Second),
		StoreTimeout:    config.TTLDuration(cfg.Attempt.StoreTimeout, 10*time.Second),
		ResultRetention: config.TTLDuration(cfg.Attempt.ResultTTL, 2*time.Hour),
	}
	if cfg.RabbitMQ.URL != "" {
		publisher, err := rabbitmq.Dial(cfg.RabbitMQ.URL, cfg.AttemptQueue())
		if err != nil {
			return err
		}
		defer publisher.Close()
		opts.Notifier = publisher
	}

	service := app.NewAttemptService(quizRepo, b.records, stores, opts)
	defer service.Shutdown()

	janitorCtx, stopJanitor := context.WithCancel(ctx)
	defer stopJanitor()
	go service.RunJanitor(janitorCtx,
		config.TTLDuration(cfg.Attempt.SweepInterval, time.Minute),
		config.TTLDuration(cfg.Attempt.IdleTTL, 30*time.Minute))

	server := &http.Server{
		Addr:        ":" + finalPort,
		Handler:     transport.NewRouter(service, cfg.Server.AllowedOrigins),
		ReadTimeout: 15 * time.Second,
		// WriteTimeout stays unset: it would cut long-lived websocket connections.
	}

	go func() {
		log.Printf("starting attempt service on :%s (store=%s)", finalPort, cfg.StoreDriver())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("failed to start server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Println("shutting down server...")
	case <-ctx.Done():
		log.Println("context canceled, shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
