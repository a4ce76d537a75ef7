package cli

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"geo-trivia-service/internal/app"
	"geo-trivia-service/internal/config"
	"geo-trivia-service/internal/infra/csvstore"
	"geo-trivia-service/internal/infra/opentdb"
	pgsource "geo-trivia-service/internal/infra/postgres"
	rediscache "geo-trivia-service/internal/infra/redis"
	transport "geo-trivia-service/internal/transport/http"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the trivia server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "5001"
	}

	capacity := cfg.Cache.Capacity
	if capacity <= 0 {
		capacity = 10
	}

	clientOpts := []opentdb.Option{
		opentdb.WithTimeout(config.Duration(cfg.Provider.Timeout, 5*time.Second)),
	}
	if cfg.Provider.URL != "" {
		clientOpts = append(clientOpts, opentdb.WithBaseURL(cfg.Provider.URL))
	}
	var fetcher app.Fetcher = opentdb.NewClient(clientOpts...)

	if cfg.Redis.Addr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		redisTTL := config.Duration(cfg.Redis.TTL, 10*time.Minute)
		fetcher = rediscache.NewQuestionCache(redisClient, fetcher, capacity, redisTTL)
	}

	var source csvstore.PairSource
	if cfg.Postgres.URL != "" {
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
		source = pgsource.NewPairSource(pool)
	} else {
		datasetPath := cfg.Dataset.Path
		if datasetPath == "" {
			datasetPath = "data/geography_questions.csv"
		}
		source = csvstore.NewFileSource(datasetPath)
	}

	store := csvstore.NewStore(source)
	if err := store.Reload(ctx); err != nil {
		// A degraded local store only matters once the provider fails too.
		log.Printf("dataset load failed: %v", err)
	}

	controller := app.NewController(fetcher, store, app.ControllerConfig{
		Capacity:    capacity,
		MaxAttempts: cfg.Cache.MaxAttempts,
		BackoffBase: config.Duration(cfg.Cache.BackoffBase, 2*time.Second),
		Cooldown:    config.Duration(cfg.Cache.Cooldown, time.Minute),
	})
	session := app.NewSession(controller)
	handler := transport.NewHandler(session)

	mux := http.NewServeMux()
	handler.Register(mux)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Printf("starting trivia service on :%s", finalPort)
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
