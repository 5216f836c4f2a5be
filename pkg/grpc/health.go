package grpc

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/example/marketplace/pkg/config"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// Pinger is a dependency whose reachability decides the serving status.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthServer exposes the standard gRPC health service for the order
// service. The status follows the persistence collaborator: while it cannot
// be reached every mutation would roll back, so the service reports
// NOT_SERVING.
type HealthServer struct {
	config   *config.ServerConfig
	logger   *zap.Logger
	health   *health.Server
	server   *grpc.Server
	pinger   Pinger
	interval time.Duration
}

func NewHealthServer(cfg *config.ServerConfig, pinger Pinger, logger *zap.Logger) *HealthServer {
	hs := health.NewServer()
	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	reflection.Register(srv)

	return &HealthServer{
		config:   cfg,
		logger:   logger,
		health:   hs,
		server:   srv,
		pinger:   pinger,
		interval: 10 * time.Second,
	}
}

// Check pings the collaborator once and updates the serving status.
func (s *HealthServer) Check(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	status := healthpb.HealthCheckResponse_SERVING
	if s.pinger != nil {
		if err := s.pinger.Ping(ctx); err != nil {
			s.logger.Warn("Health check failed", zap.Error(err))
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(s.config.Name, status)
	return status
}

// Watch re-checks health until ctx ends.
func (s *HealthServer) Watch(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		checkCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		s.Check(checkCtx)
		cancel()
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *HealthServer) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.logger.Info("Health service started", zap.String("address", addr))
	return s.server.Serve(lis)
}

func (s *HealthServer) Stop() {
	s.health.Shutdown()
	s.server.GracefulStop()
}
