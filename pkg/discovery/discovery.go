package discovery

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/example/marketplace/pkg/config"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

// ServiceDiscovery registers this process in etcd under a lease so peers can
// find the gateway and health endpoints.
type ServiceDiscovery struct {
	client  *clientv3.Client
	config  *config.EtcdConfig
	logger  *zap.Logger
	leaseID clientv3.LeaseID
}

type ServiceInstance struct {
	Name string
	Host string
	Port int
}

// Key is the etcd key an instance is registered under.
func (i *ServiceInstance) Key(prefix string) string {
	return fmt.Sprintf("%s%s/%s:%d", prefix, i.Name, i.Host, i.Port)
}

func (i *ServiceInstance) Addr() string {
	return fmt.Sprintf("%s:%d", i.Host, i.Port)
}

func NewServiceDiscovery(cfg *config.EtcdConfig, logger *zap.Logger) (*ServiceDiscovery, error) {
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: cfg.DialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to etcd: %w", err)
	}

	return &ServiceDiscovery{
		client: cli,
		config: cfg,
		logger: logger,
	}, nil
}

// Register puts every instance under one lease and keeps it alive until ctx ends.
func (sd *ServiceDiscovery) Register(ctx context.Context, instances ...*ServiceInstance) error {
	ttl := sd.config.LeaseTTL
	if ttl <= 0 {
		ttl = 30
	}
	lease, err := sd.client.Grant(ctx, ttl)
	if err != nil {
		return fmt.Errorf("failed to create lease: %w", err)
	}
	sd.leaseID = lease.ID

	for _, instance := range instances {
		if _, err := sd.client.Put(ctx, instance.Key(sd.config.Prefix), instance.Addr(), clientv3.WithLease(lease.ID)); err != nil {
			return fmt.Errorf("failed to register %s: %w", instance.Name, err)
		}
	}

	ch, err := sd.client.KeepAlive(ctx, lease.ID)
	if err != nil {
		return fmt.Errorf("failed to keep alive: %w", err)
	}

	go func() {
		for range ch {
		}
		sd.logger.Warn("etcd lease keep-alive ended", zap.Int64("lease_id", int64(lease.ID)))
	}()

	return nil
}

func (sd *ServiceDiscovery) Discover(ctx context.Context, serviceName string) ([]*ServiceInstance, error) {
	key := fmt.Sprintf("%s%s/", sd.config.Prefix, serviceName)

	resp, err := sd.client.Get(ctx, key, clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("failed to discover service: %w", err)
	}

	var instances []*ServiceInstance
	for _, kv := range resp.Kvs {
		instance, err := parseInstance(serviceName, string(kv.Value))
		if err != nil {
			sd.logger.Warn("Skipping malformed service address",
				zap.String("key", string(kv.Key)), zap.Error(err))
			continue
		}
		instances = append(instances, instance)
	}

	return instances, nil
}

func parseInstance(name, addr string) (*ServiceInstance, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("invalid port %q: %w", portStr, err)
	}
	return &ServiceInstance{Name: name, Host: host, Port: port}, nil
}

// Deregister revokes the lease, removing every key registered with it.
func (sd *ServiceDiscovery) Deregister(ctx context.Context) error {
	if sd.leaseID == 0 {
		return nil
	}
	if _, err := sd.client.Revoke(ctx, sd.leaseID); err != nil {
		return fmt.Errorf("failed to deregister service: %w", err)
	}
	sd.leaseID = 0
	return nil
}

func (sd *ServiceDiscovery) Close() error {
	return sd.client.Close()
}
