package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/fjod/go_cart/storefront/internal/breaker"
	"github.com/fjod/go_cart/storefront/internal/cart"
	"github.com/fjod/go_cart/storefront/internal/catalog"
	"github.com/fjod/go_cart/storefront/internal/config"
	"github.com/fjod/go_cart/storefront/internal/events"
	storegrpc "github.com/fjod/go_cart/storefront/internal/grpc"
	storehttp "github.com/fjod/go_cart/storefront/internal/http"
	"github.com/fjod/go_cart/storefront/internal/localstore"
	"github.com/fjod/go_cart/storefront/internal/repository"
	"github.com/fjod/go_cart/storefront/internal/search"
	"github.com/fjod/go_cart/storefront/internal/session"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and gRPC health endpoints",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, log, err := setup()
		if err != nil {
			return err
		}
		defer log.Sync()

		return serve(cmd.Context(), cfg, log)
	},
}

// openRemote connects the configured remote cart store and makes sure its
// schema is in place.
func openRemote(ctx context.Context, cfg *config.Config) (repository.RemoteStore, error) {
	switch cfg.RemoteDriver {
	case "postgres":
		db, err := repository.OpenPostgres(ctx, &repository.Credentials{
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			DBName:   cfg.Postgres.DBName,
		})
		if err != nil {
			return nil, err
		}
		if err := repository.RunPostgresMigrations(db, cfg.Postgres.MigrationsDirPath); err != nil {
			_ = db.Close()
			return nil, err
		}
		return repository.NewPostgresRepository(db), nil
	default:
		db, err := repository.ConnectMongoDB(ctx, cfg.MongoURI, cfg.MongoDBName)
		if err != nil {
			return nil, err
		}
		repo := repository.NewMongoRepository(db)
		if err := repo.CreateIndexes(ctx); err != nil {
			_ = repo.Close(ctx)
			return nil, err
		}
		return repo, nil
	}
}

func openCatalog(ctx context.Context, cfg *config.Config, log *zap.Logger) (catalog.Catalog, func(), error) {
	sqliteCatalog, err := catalog.NewSQLiteCatalog(cfg.CatalogDBPath)
	if err != nil {
		return nil, nil, err
	}
	if err := sqliteCatalog.RunMigrations(cfg.CatalogMigrationsPath); err != nil {
		_ = sqliteCatalog.Close()
		return nil, nil, fmt.Errorf("catalog migrations: %w", err)
	}

	if cfg.RedisAddr == "" {
		return sqliteCatalog, func() { _ = sqliteCatalog.Close() }, nil
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       0,
	})
	cleanup := func() {
		_ = redisClient.Close()
		_ = sqliteCatalog.Close()
	}
	if err := redisClient.Ping(ctx).Err(); err != nil {
		// The cache is optional; fall back to the database.
		log.Warn("redis unavailable, serving catalog uncached", zap.Error(err))
		return sqliteCatalog, cleanup, nil
	}
	log.Info("redis ping succeeded", zap.String("addr", cfg.RedisAddr))

	return catalog.NewCachedCatalog(sqliteCatalog, redisClient, log), cleanup, nil
}

func serve(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	healthReporter := storegrpc.NewHealthReporter(log)

	store, err := openRemote(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close(context.Background())
	log.Info("connected to remote store", zap.String("driver", cfg.RemoteDriver))

	remote := breaker.New(store, breaker.Settings{
		Name:          "remote-store",
		MaxFailures:   cfg.BreakerMaxFailures,
		OpenTimeout:   cfg.BreakerOpenTimeout,
		OnStateChange: healthReporter.SetRemoteStoreHealthy,
	})

	cat, closeCatalog, err := openCatalog(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeCatalog()

	local, err := localstore.NewSQLiteStore(cfg.LocalStorePath)
	if err != nil {
		return err
	}
	defer local.Close()

	var publisher events.Publisher = events.Nop{}
	if len(cfg.KafkaBrokers) > 0 {
		publisher = events.NewKafkaPublisher(cfg.KafkaTopic, cfg.KafkaBrokers...)
		log.Info("publishing checkout events", zap.Strings("brokers", cfg.KafkaBrokers), zap.String("topic", cfg.KafkaTopic))
	}
	defer publisher.Close()

	var refiner search.Refiner
	if cfg.GenAIAPIKey != "" {
		r, err := search.NewGenAIRefiner(ctx, cfg.GenAIAPIKey, cfg.GenAIModel)
		if err != nil {
			log.Warn("search refinement disabled", zap.Error(err))
		} else {
			refiner = r
		}
	}

	cartOptions := []cart.Option{
		cart.WithCheckoutConcurrency(cfg.CheckoutConcurrency),
		cart.WithRetainFailed(cfg.CheckoutRetainFailed),
		cart.WithMergeOnLogin(cfg.CartMergeOnLogin),
		cart.WithRemoteTimeout(cfg.RemoteTimeout),
	}
	registry := session.NewRegistry(session.Deps{
		Remote:      remote,
		Local:       local,
		Catalog:     cat,
		Events:      publisher,
		Logger:      log,
		JWTSecret:   []byte(cfg.JWTSecret),
		CartOptions: cartOptions,
	}, cfg.SessionIdleTTL)
	defer registry.Close()

	router := storehttp.NewRouter(storehttp.RouterConfig{
		RequestTimeout:     cfg.RequestTimeout,
		MaxRequestBodySize: cfg.MaxRequestBodySize,
		RateLimitRPS:       cfg.RateLimitRPS,
		RateLimitBurst:     cfg.RateLimitBurst,
	}, storehttp.Deps{
		Sessions: registry,
		Catalog:  cat,
		Search:   search.NewService(cat, refiner, log),
		Logger:   log,
	})

	httpServer := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      otelhttp.NewHandler(router, "storefront"),
		ReadTimeout:  cfg.RequestTimeout,
		WriteTimeout: cfg.RequestTimeout,
	}

	lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		return fmt.Errorf("failed to listen on grpc port: %w", err)
	}
	grpcServer := storegrpc.NewServer(healthReporter)

	errCh := make(chan error, 2)
	go func() {
		log.Info("grpc health listening", zap.String("port", cfg.GRPCPort))
		if err := grpcServer.Serve(lis); err != nil {
			errCh <- fmt.Errorf("grpc server: %w", err)
		}
	}()
	go func() {
		log.Info("http server listening", zap.String("port", cfg.HTTPPort))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down storefront")
	case err := <-errCh:
		log.Error("server failed", zap.Error(err))
		stop()
	}

	healthReporter.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", zap.Error(err))
	}
	grpcServer.GracefulStop()

	log.Info("storefront stopped")
	return nil
}
