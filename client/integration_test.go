package client

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"ipcrpc/loadbalance"
	"ipcrpc/middleware"
	"ipcrpc/registry"
	"ipcrpc/rpc"
	"ipcrpc/server"
)

// etcdRegistry connects to a local etcd, skipping the test when none is running.
func etcdRegistry(t *testing.T) *registry.EtcdRegistry {
	t.Helper()
	reg, err := registry.NewEtcdRegistry([]string{"127.0.0.1:2379"},
		registry.WithPrefix("/ipcrpc-it/"),
		registry.WithDialTimeout(time.Second),
	)
	if err != nil {
		t.Skipf("etcd unavailable: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := reg.Discover(ctx, "probe"); err != nil {
		reg.Close()
		t.Skipf("etcd unavailable: %v", err)
	}
	t.Cleanup(func() { reg.Close() })
	return reg
}

// TestMultiServerWithEtcd runs the full path:
// Client → Registry(etcd) → LB → ipc.Connection → rpc.Host → Middleware → handler.
func TestMultiServerWithEtcd(t *testing.T) {
	reg := etcdRegistry(t)

	for i := 0; i < 2; i++ {
		svr := server.NewServer("arith",
			server.WithRegistry(reg, "Arith", registry.Instance{Weight: 10}, server.DefaultTTL),
			server.WithHostOptions(rpc.WithMiddleware(middleware.RecoverMiddleware(nil))),
		)
		iface, _ := arith(t)
		require.NoError(t, svr.Register(iface))
		errc := make(chan error, 1)
		go func() { errc <- svr.Serve(context.Background(), "tcp", "127.0.0.1:0") }()
		t.Cleanup(func() {
			svr.Shutdown(3 * time.Second)
			<-errc
		})
	}

	require.Eventually(t, func() bool {
		instances, err := reg.Discover(context.Background(), "Arith")
		return err == nil && len(instances) == 2
	}, 5*time.Second, 50*time.Millisecond)

	c := NewClient(reg, &loadbalance.RoundRobinBalancer{})
	_, add := arith(t)

	for i := int32(1); i <= 10; i++ {
		sess, err := c.Dial(context.Background(), "Arith")
		require.NoError(t, err)

		args := &rpc.Args[Args]{Value: Args{A: i, B: i * 10}}
		status, err := Call(context.Background(), sess, add, args, rpc.ReplyWithArgs)
		require.NoError(t, err)
		require.Equal(t, rpc.StatusReplied, status)
		require.Equal(t, i+i*10, args.Value.Result, "request %d", i)
		sess.Close()
	}
}
