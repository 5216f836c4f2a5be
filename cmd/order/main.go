package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/example/marketplace/gateway"
	"github.com/example/marketplace/pkg/config"
	"github.com/example/marketplace/pkg/discovery"
	"github.com/example/marketplace/pkg/grpc"
	"github.com/example/marketplace/pkg/metrics"
	"github.com/example/marketplace/pkg/reconcile"
	"github.com/example/marketplace/pkg/repository"
	"github.com/example/marketplace/pkg/store"
	"go.uber.org/zap"
)

type collaborator interface {
	reconcile.Persister
	store.Lister
	Ping(ctx context.Context) error
	Close() error
}

func main() {
	configPath := flag.String("config", "config/order-config.yaml", "path to the YAML config file")
	flag.Parse()

	// Load config
	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// Setup logger
	logger, err := cfg.Log.NewLogger()
	if err != nil {
		panic(fmt.Sprintf("Failed to create logger: %v", err))
	}
	defer logger.Sync()

	logger.Info("Starting order service",
		zap.String("name", cfg.Server.Name),
		zap.Int("grpc_port", cfg.Server.Port),
		zap.Int("http_port", cfg.Gateway.Port))

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// The persistence collaborator every mutation reconciles against
	var orders collaborator = repository.NewMemoryRepository()
	if cfg.MySQL.Enabled {
		orders, err = repository.NewMySQLRepository(&cfg.MySQL)
		if err != nil {
			logger.Fatal("Failed to connect to MySQL", zap.Error(err))
		}
	} else {
		logger.Warn("MySQL disabled, orders are kept in memory only")
	}
	defer orders.Close()

	m := metrics.New()
	observers := []reconcile.Observer{m}

	if cfg.Redis.Enabled {
		cache := repository.NewRedisRepository(&cfg.Redis, logger.Named("redis"))
		defer cache.Close()
		if err := cache.Ping(ctx); err != nil {
			logger.Warn("Redis connection failed", zap.Error(err))
		} else {
			logger.Info("Redis connected successfully")
		}
		observers = append(observers, cache)
	}

	var auditReader gateway.AuditReader
	if cfg.MongoDB.Enabled {
		audit, err := repository.NewMongoRepository(&cfg.MongoDB, logger.Named("audit"))
		if err != nil {
			logger.Fatal("Failed to connect to MongoDB", zap.Error(err))
		}
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			audit.Close(closeCtx)
		}()
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := audit.Ping(pingCtx); err != nil {
			logger.Warn("MongoDB connection failed", zap.Error(err))
		} else {
			logger.Info("MongoDB connected successfully")
		}
		cancel()
		observers = append(observers, audit)
		auditReader = audit
	}

	// Hydrate the in-process store from durable records
	st := store.New()
	n, err := st.Hydrate(ctx, orders, cfg.Reconcile.HydratePageSize)
	if err != nil {
		logger.Fatal("Failed to hydrate store", zap.Error(err))
	}
	for _, verr := range st.Verify() {
		logger.Error("Order invariant violated", zap.Error(verr))
	}
	logger.Info("Store hydrated", zap.Int("orders", n))

	system := actor.NewActorSystem()
	coord := reconcile.NewCoordinator(system, st, orders,
		reconcile.WithLogger(logger.Named("reconcile")),
		reconcile.WithObservers(observers...))

	gw := gateway.NewGateway(cfg, logger.Named("gateway"), st, coord, m)
	if auditReader != nil {
		gw.SetAuditReader(auditReader)
	}
	gw.SetupRoutes()

	health := grpc.NewHealthServer(&cfg.Server, orders, logger.Named("health"))
	go health.Watch(ctx)

	// Start servers in goroutines
	serverErr := make(chan error, 2)
	go func() {
		if err := gw.Start(); err != nil {
			serverErr <- fmt.Errorf("gateway: %w", err)
		}
	}()
	go func() {
		if err := health.Start(); err != nil {
			serverErr <- fmt.Errorf("health: %w", err)
		}
	}()

	// Connect to etcd for service discovery
	var sd *discovery.ServiceDiscovery
	if cfg.Etcd.Enabled {
		sd, err = discovery.NewServiceDiscovery(&cfg.Etcd, logger.Named("discovery"))
		if err != nil {
			logger.Warn("Failed to connect to etcd, continuing without service discovery", zap.Error(err))
		} else {
			err = sd.Register(ctx,
				&discovery.ServiceInstance{Name: cfg.Server.Name, Host: cfg.Server.Host, Port: cfg.Server.Port},
				&discovery.ServiceInstance{Name: cfg.Server.Name + "-http", Host: cfg.Gateway.Host, Port: cfg.Gateway.Port},
			)
			if err != nil {
				logger.Error("Failed to register service", zap.Error(err))
			} else {
				peers, derr := sd.Discover(ctx, cfg.Server.Name)
				if derr != nil {
					logger.Warn("Failed to list registered instances", zap.Error(derr))
				}
				logger.Info("Service registered in etcd",
					zap.String("name", cfg.Server.Name),
					zap.Int("instances", len(peers)))
			}
		}
	}

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info("Received shutdown signal")
	case err := <-serverErr:
		logger.Error("Server error", zap.Error(err))
	}

	if sd != nil {
		deregCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := sd.Deregister(deregCtx); err != nil {
			logger.Error("Failed to deregister service", zap.Error(err))
		}
		cancel()
		sd.Close()
	}

	if err := gw.Stop(10 * time.Second); err != nil {
		logger.Error("Failed to stop gateway", zap.Error(err))
	}
	health.Stop()
	stop()

	// Drain in-flight reconciliations before closing the collaborators
	if err := coord.Close(); err != nil {
		logger.Error("Failed to stop order actors", zap.Error(err))
	}

	logger.Info("Service stopped")
}
