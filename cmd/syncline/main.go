package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/syncline-io/syncline/internal/authz"
	"github.com/syncline-io/syncline/internal/config"
	"github.com/syncline-io/syncline/internal/eventbus"
	"github.com/syncline-io/syncline/internal/eventstore"
	"github.com/syncline-io/syncline/internal/handlers"
	"github.com/syncline-io/syncline/internal/integration"
	"github.com/syncline-io/syncline/internal/lake"
	"github.com/syncline-io/syncline/internal/logging"
	"github.com/syncline-io/syncline/internal/messaging"
	"github.com/syncline-io/syncline/internal/models"
	"github.com/syncline-io/syncline/internal/projection"
	"github.com/syncline-io/syncline/internal/readmodel"
	"github.com/syncline-io/syncline/internal/scheduler"
	"github.com/syncline-io/syncline/internal/search"
	"github.com/syncline-io/syncline/internal/server"
	"github.com/syncline-io/syncline/internal/service"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := logging.New(logging.ParseLevel(cfg.Logging.Level), cfg.Logging.Format)
	logging.SetDefault(logger)

	connString := cfg.Database.Postgres.ConnString()

	// Run database migrations
	logger.Info("running database migrations")
	m, err := migrate.New("file://migrations", connString)
	if err != nil {
		log.Fatalf("Failed to initialize migrations: %v", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	logger.Info("database migrations completed")

	ctx := context.Background()

	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		log.Fatalf("Failed to create connection pool: %v", err)
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		log.Fatalf("Failed to ping database: %v", err)
	}

	events, err := eventstore.NewPostgresStore(ctx, connString)
	if err != nil {
		log.Fatalf("Failed to connect event store: %v", err)
	}
	defer events.Close()

	bus := eventbus.New(logger)

	// Optional NATS publisher for cross-process hand-off
	var publisher messaging.Publisher
	if cfg.NATS.Enabled {
		natsCfg := messaging.DefaultNATSConfig()
		natsCfg.URL = cfg.NATS.URL
		natsCfg.Name = cfg.NATS.Name
		client, err := messaging.NewNATSClient(natsCfg)
		if err != nil {
			log.Fatalf("Failed to connect to NATS: %v", err)
		}
		defer client.Close()
		publisher = client
		logger.Info("connected to NATS", "url", cfg.NATS.URL)
	}

	// Optional Redis cache for the serving zone
	var cache *lake.ServingCache
	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			log.Fatalf("Failed to ping Redis: %v", err)
		}
		defer client.Close()
		cache = lake.NewServingCache(client, cfg.Redis.TTL, logger)
		logger.Info("serving cache enabled", "addr", cfg.Redis.Addr)
	}

	rules, err := lake.LoadRules(cfg.Lake.RulesPath)
	if err != nil {
		log.Fatalf("Failed to load normalization rules: %v", err)
	}

	repo := lake.NewPostgresRepository(pool)
	lakeMgr := lake.NewManager(repo, rules, events, bus, cache, logger)

	docs := readmodel.NewPostgresStore(pool)
	registry, err := projection.Bootstrap(bus, events, docs, logger)
	if err != nil {
		log.Fatalf("Failed to bootstrap projections: %v", err)
	}
	logger.Info("projections registered", "projections", registry.Names())

	// Optional OpenSearch mirror of the canonical zone
	if cfg.OpenSearch.Enabled {
		searchCfg := search.Config{
			URL:           cfg.OpenSearch.URL,
			Username:      cfg.OpenSearch.Username,
			Password:      cfg.OpenSearch.Password,
			TLSSkipVerify: cfg.OpenSearch.TLSSkipVerify,
			IndexPrefix:   cfg.OpenSearch.IndexPrefix,
		}
		indexer, err := search.NewIndexer(searchCfg, repo, logger)
		if err != nil {
			log.Fatalf("Failed to create OpenSearch indexer: %v", err)
		}
		bus.Subscribe(models.EventRecordCanonicalized, indexer.HandleEvent)
		logger.Info("canonical search indexing enabled", "url", cfg.OpenSearch.URL)
	}

	configs := integration.NewPostgresConfigProvider(pool)
	jobs := scheduler.NewPostgresJobStore(pool)

	sched := scheduler.NewManager(configs, jobs, publisher, scheduler.Config{
		TickInterval:        cfg.Sync.TickInterval,
		DefaultPollInterval: minutes(cfg.Sync.PollIntervalMinutes),
	}, logger)

	schedCtx, schedCancel := context.WithCancel(ctx)
	defer schedCancel()
	sched.Start(schedCtx)

	eventSvc := service.NewEventService(events, bus, publisher, logger)

	// RBAC integration supplies real per-caller filters; standalone
	// deployments run unrestricted.
	filters := func(*http.Request) authz.Filter { return authz.AllowAll{} }

	handler := handlers.NewHandler(lakeMgr, sched, jobs, registry, eventSvc, filters, logger)
	router := server.NewRouter(handler)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("syncline listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	sched.Stop()

	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Server.WriteTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}
	logger.Info("server stopped")
}

func minutes(n int) time.Duration {
	return time.Duration(n) * time.Minute
}
