package registry

// etcd is used as a phonebook for servers:
//
//	Key:   {prefix}{service}/{addr}
//	Value: JSON-encoded Instance
//
// Registration uses TTL leases: if a server dies without deregistering, the lease
// expires and the entry disappears on its own.

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

const DefaultPrefix = "/ipcrpc/"

// EtcdOption configures NewEtcdRegistry.
type EtcdOption func(*EtcdRegistry)

func WithPrefix(prefix string) EtcdOption {
	return func(r *EtcdRegistry) { r.prefix = prefix }
}

func WithDialTimeout(d time.Duration) EtcdOption {
	return func(r *EtcdRegistry) { r.dialTimeout = d }
}

func WithEtcdLogger(l *zap.Logger) EtcdOption {
	return func(r *EtcdRegistry) { r.logger = l }
}

// EtcdRegistry implements Registry on etcd v3.
type EtcdRegistry struct {
	client      *clientv3.Client // Safe for concurrent use
	prefix      string
	dialTimeout time.Duration
	logger      *zap.Logger

	mu     sync.Mutex
	leases map[string]clientv3.LeaseID // key -> lease kept alive by this process
}

// NewEtcdRegistry connects to the given etcd endpoints.
func NewEtcdRegistry(endpoints []string, opts ...EtcdOption) (*EtcdRegistry, error) {
	r := &EtcdRegistry{
		prefix:      DefaultPrefix,
		dialTimeout: 5 * time.Second,
		logger:      zap.NewNop(),
		leases:      make(map[string]clientv3.LeaseID),
	}
	for _, opt := range opts {
		opt(r)
	}
	c, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: r.dialTimeout,
		Logger:      r.logger.Named("etcd"),
	})
	if err != nil {
		return nil, fmt.Errorf("registry: connect etcd: %w", err)
	}
	r.client = c
	return r, nil
}

func (r *EtcdRegistry) servicePrefix(service string) string {
	return r.prefix + service + "/"
}

// Register grants a lease, stores the instance under it and keeps the lease alive in
// the background. The lease id is tracked per key so several servers can share one
// EtcdRegistry.
func (r *EtcdRegistry) Register(ctx context.Context, service string, instance Instance, ttl int64) error {
	lease, err := r.client.Grant(ctx, ttl)
	if err != nil {
		return fmt.Errorf("registry: grant lease: %w", err)
	}

	val, err := json.Marshal(instance)
	if err != nil {
		return err
	}

	key := r.servicePrefix(service) + instance.Addr
	if _, err := r.client.Put(ctx, key, string(val), clientv3.WithLease(lease.ID)); err != nil {
		return fmt.Errorf("registry: put %s: %w", key, err)
	}

	// KeepAlive outlives the registration call, so it must not use ctx.
	ch, err := r.client.KeepAlive(context.Background(), lease.ID)
	if err != nil {
		return fmt.Errorf("registry: keep alive: %w", err)
	}
	go func() {
		for range ch {
		}
		r.logger.Debug("lease keep-alive stopped", zap.String("key", key))
	}()

	r.mu.Lock()
	r.leases[key] = lease.ID
	r.mu.Unlock()

	r.logger.Info("instance registered",
		zap.String("service", service),
		zap.String("addr", instance.Addr),
		zap.Int64("ttl", ttl),
	)
	return nil
}

// Deregister removes an instance. When this process registered it, the lease is
// revoked, which also stops its keep-alive.
func (r *EtcdRegistry) Deregister(ctx context.Context, service string, addr string) error {
	key := r.servicePrefix(service) + addr

	r.mu.Lock()
	id, ok := r.leases[key]
	delete(r.leases, key)
	r.mu.Unlock()

	if ok {
		if _, err := r.client.Revoke(ctx, id); err != nil {
			return fmt.Errorf("registry: revoke lease: %w", err)
		}
		return nil
	}
	if _, err := r.client.Delete(ctx, key); err != nil {
		return fmt.Errorf("registry: delete %s: %w", key, err)
	}
	return nil
}

// Discover returns every instance currently registered for service.
func (r *EtcdRegistry) Discover(ctx context.Context, service string) ([]Instance, error) {
	resp, err := r.client.Get(ctx, r.servicePrefix(service), clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("registry: discover %s: %w", service, err)
	}

	instances := make([]Instance, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var instance Instance
		if err := json.Unmarshal(kv.Value, &instance); err != nil {
			r.logger.Warn("malformed registry entry skipped", zap.ByteString("key", kv.Key), zap.Error(err))
			continue
		}
		instances = append(instances, instance)
	}
	return instances, nil
}

// Watch re-reads the full instance list on every change under the service prefix.
func (r *EtcdRegistry) Watch(ctx context.Context, service string) <-chan []Instance {
	ch := make(chan []Instance, 1)

	go func() {
		defer close(ch)
		watchChan := r.client.Watch(ctx, r.servicePrefix(service), clientv3.WithPrefix())
		for range watchChan {
			instances, err := r.Discover(ctx, service)
			if err != nil {
				r.logger.Warn("watch refresh failed", zap.String("service", service), zap.Error(err))
				continue
			}
			select {
			case ch <- instances:
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch
}

// Close revokes every lease this process still holds and closes the client.
func (r *EtcdRegistry) Close() error {
	r.mu.Lock()
	leases := r.leases
	r.leases = make(map[string]clientv3.LeaseID)
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), r.dialTimeout)
	defer cancel()
	for key, id := range leases {
		if _, err := r.client.Revoke(ctx, id); err != nil {
			r.logger.Warn("lease revoke failed", zap.String("key", key), zap.Error(err))
		}
	}
	return r.client.Close()
}
