package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/fjod/go_cart/storefront/internal/cache"
	"github.com/fjod/go_cart/storefront/internal/config"
	"github.com/fjod/go_cart/storefront/internal/consumer"
	storefrontgrpc "github.com/fjod/go_cart/storefront/internal/grpc"
	h "github.com/fjod/go_cart/storefront/internal/http"
	"github.com/fjod/go_cart/storefront/internal/publisher"
	"github.com/fjod/go_cart/storefront/internal/repository"
	"github.com/fjod/go_cart/storefront/internal/repository/memory"
	"github.com/fjod/go_cart/storefront/internal/service"
	"github.com/fjod/go_cart/storefront/internal/settings"
	"github.com/fjod/go_cart/storefront/pkg/logger"
	"github.com/fjod/go_cart/storefront/pkg/telemetry"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// backend is everything the storefront needs from its store.
type backend interface {
	repository.Store
	repository.SettingsReader
	repository.SettingsWriter
	repository.OutboxRepository
	Ping(ctx context.Context) error
	Close() error
}

var errEphemeralStorage = errors.New("in-memory storage loses orders on restart; pass --dev to allow it")

type serveOptions struct {
	skipMigrations bool
	dev            bool
}

func newServeCommand() *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, gRPC health endpoint and background workers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger.Init(cfg.LogLevel)
			return serve(cmd.Context(), cfg, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.skipMigrations, "skip-migrations", false, "do not apply migrations on startup")
	cmd.Flags().BoolVar(&opts.dev, "dev", false, "allow STORAGE_DRIVER=memory for local development")

	return cmd
}

func openBackend(cfg *config.Config, opts serveOptions) (backend, error) {
	if cfg.StorageDriver == config.StorageDriverMemory {
		if !opts.dev {
			return nil, errEphemeralStorage
		}
		slog.Warn("using in-memory storage, data is lost on restart")
		return memory.NewMemoryStore(), nil
	}

	repo, err := repository.NewRepository(&cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if !opts.skipMigrations {
		if err := repo.RunMigrations(&cfg.DB); err != nil {
			repo.Close()
			return nil, err
		}
		slog.Info("database migrations completed")
	}
	return repo, nil
}

func openCache(ctx context.Context, cfg *config.Config) (cache.SettingsCache, func()) {
	if cfg.RedisAddr == "" {
		slog.Info("settings cache disabled")
		return nil, func() {}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	c := cache.NewRedisCache(client, cfg.SettingsTTL)

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := c.Ping(pingCtx); err != nil {
		// settings fall back to the database while redis is down
		slog.Warn("redis ping failed", "addr", cfg.RedisAddr, "error", err)
	} else {
		slog.Info("redis ping succeeded", "addr", cfg.RedisAddr)
	}
	return c, func() { client.Close() }
}

func serve(ctx context.Context, cfg *config.Config, opts serveOptions) error {
	shutdownTracer, err := telemetry.SetupTracer(ctx, cfg.Telemetry)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(flushCtx); err != nil {
			slog.Error("tracer shutdown failed", "error", err)
		}
	}()

	store, err := openBackend(cfg, opts)
	if err != nil {
		return err
	}
	defer store.Close()

	settingsCache, closeCache := openCache(ctx, cfg)
	defer closeCache()
	settingsProvider := settings.NewProvider(store, settingsCache, cfg.DefaultSettings)

	notifier := publisher.NewOutboxNotifier(store)
	cartService := service.NewCartService(store, settingsProvider)
	checkoutService := service.NewCheckoutService(store, cartService, cfg.Checkout)
	orderService := service.NewOrderService(store, settingsProvider, notifier, cfg.Checkout)

	router := h.NewRouter(h.RouterConfig{
		Cart:           h.NewCartHandler(cartService, cfg.RequestTimeout),
		Checkout:       h.NewCheckoutHandler(checkoutService, cfg.RequestTimeout),
		Orders:         h.NewOrdersHandler(orderService, cfg.RequestTimeout),
		Settings:       h.NewSettingsHandler(settingsProvider, cfg.RequestTimeout),
		AdminToken:     cfg.AdminToken,
		RequestTimeout: cfg.RequestTimeout,
		Health:         store,
	})
	if cfg.AdminToken == "" {
		slog.Warn("ADMIN_TOKEN is not set, admin routes are disabled")
	}

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		return fmt.Errorf("listen on grpc port: %w", err)
	}
	grpcServer := storefrontgrpc.NewServer(store)

	workersCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()
	workers, workersCtx := errgroup.WithContext(workersCtx)

	workers.Go(func() error {
		grpcServer.WatchDependencies(workersCtx)
		return nil
	})

	if len(cfg.KafkaBrokers) > 0 {
		poller := publisher.NewOutboxPoller(store, cfg.NotificationsTopic, cfg.KafkaBrokers...)
		defer poller.Close()
		workers.Go(func() error {
			poller.Run(workersCtx)
			return nil
		})

		payments := consumer.NewPaymentConsumer(orderService, cfg.PaymentsTopic, cfg.PaymentsGroupID, cfg.KafkaBrokers...)
		defer payments.Close()
		workers.Go(func() error {
			payments.Run(workersCtx)
			return nil
		})
		slog.Info("kafka workers started", "brokers", cfg.KafkaBrokers)
	} else {
		slog.Warn("KAFKA_BROKERS is not set, notifications stay in the outbox")
	}

	servers, serversCtx := errgroup.WithContext(ctx)
	servers.Go(func() error {
		slog.Info("http server listening", "port", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	servers.Go(func() error {
		return grpcServer.Serve(lis)
	})
	servers.Go(func() error {
		<-serversCtx.Done()
		slog.Info("shutting down storefront...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		grpcServer.GracefulStop()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	err = servers.Wait()

	stopWorkers()
	done := make(chan struct{})
	go func() {
		_ = workers.Wait()
		close(done)
	}()
	select {
	case <-done:
		slog.Info("workers stopped cleanly")
	case <-time.After(cfg.ShutdownTimeout):
		slog.Warn("workers didn't stop in time")
	}

	slog.Info("storefront stopped")
	return err
}
