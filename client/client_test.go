package client

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ipcrpc/ipc"
	"ipcrpc/loadbalance"
	"ipcrpc/registry"
	"ipcrpc/rpc"
	"ipcrpc/server"
)

type Args struct {
	A, B   int32
	Result int32
}

func arith(t *testing.T) (*rpc.Interface, *rpc.Invoker[Args]) {
	t.Helper()
	iface := rpc.NewInterface("Arith")
	add := rpc.MustInvoker("Add", func(ctx context.Context, args *rpc.Args[Args]) error {
		args.Value.Result = args.Value.A + args.Value.B
		return nil
	})
	require.NoError(t, iface.Add(add))
	return iface, add
}

// startServer runs a registered server and returns it once it is discoverable.
func startServer(t *testing.T, reg registry.Registry) *server.Server {
	t.Helper()
	svr := server.NewServer("arith", server.WithRegistry(reg, "arith", registry.Instance{Weight: 1}, server.DefaultTTL))
	iface, _ := arith(t)
	require.NoError(t, svr.Register(iface))

	errc := make(chan error, 1)
	go func() { errc <- svr.Serve(context.Background(), "tcp", "127.0.0.1:0") }()
	t.Cleanup(func() {
		svr.Shutdown(5 * time.Second)
		<-errc
	})

	addrOf := func() string {
		if a := svr.Addr(); a != nil {
			return a.String()
		}
		return ""
	}
	require.Eventually(t, func() bool {
		instances, _ := reg.Discover(context.Background(), "arith")
		for _, inst := range instances {
			if inst.Addr == addrOf() {
				return true
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond)
	return svr
}

func TestClientCall(t *testing.T) {
	reg := registry.NewMemoryRegistry()
	startServer(t, reg)

	c := NewClient(reg, nil)
	sess, err := c.Dial(context.Background(), "arith")
	require.NoError(t, err)
	defer sess.Close()

	_, add := arith(t)

	// Call Arith.Add(1, 2) = 3
	args := &rpc.Args[Args]{Value: Args{A: 1, B: 2}}
	status, err := Call(context.Background(), sess, add, args, rpc.ReplyWithArgs)
	require.NoError(t, err)
	require.Equal(t, rpc.StatusReplied, status)
	assert.Equal(t, int32(3), args.Value.Result)

	// Call again: Add(10, 20) = 30
	args = &rpc.Args[Args]{Value: Args{A: 10, B: 20}}
	status, err = Call(context.Background(), sess, add, args, rpc.ReplyWithArgs)
	require.NoError(t, err)
	require.Equal(t, rpc.StatusReplied, status)
	assert.Equal(t, int32(30), args.Value.Result)
}

func TestClientNoInstances(t *testing.T) {
	c := NewClient(registry.NewMemoryRegistry(), nil)
	_, err := c.Dial(context.Background(), "missing")
	assert.True(t, errors.Is(err, registry.ErrNotFound), "got %v", err)
}

func TestClientUnreachableInstance(t *testing.T) {
	reg := registry.NewMemoryRegistry()
	require.NoError(t, reg.Register(context.Background(), "dead", registry.Instance{Addr: "127.0.0.1:1", Network: "tcp"}, 10))

	c := NewClient(reg, nil, WithDialTimeout(300*time.Millisecond))
	_, err := c.Dial(context.Background(), "dead")
	assert.Error(t, err)
}

func TestClientBalancesSessions(t *testing.T) {
	reg := registry.NewMemoryRegistry()
	a := startServer(t, reg)
	b := startServer(t, reg)

	c := NewClient(reg, &loadbalance.RoundRobinBalancer{})
	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		sess, err := c.Dial(context.Background(), "arith")
		require.NoError(t, err)
		seen[sess.Instance().Addr] = true
		t.Cleanup(func() { sess.Close() })
	}
	assert.True(t, seen[a.Addr().String()])
	assert.True(t, seen[b.Addr().String()])
}

func TestCallReconnectsLostSession(t *testing.T) {
	reg := registry.NewMemoryRegistry()
	first := startServer(t, reg)

	c := NewClient(reg, nil)
	sess, err := c.Dial(context.Background(), "arith")
	require.NoError(t, err)
	defer sess.Close()
	old := sess.Conn()

	// The first server goes away; a replacement registers under the same service.
	startServer(t, reg)
	require.NoError(t, first.Shutdown(5*time.Second))
	select {
	case <-old.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("session not closed by shutdown")
	}

	_, add := arith(t)
	args := &rpc.Args[Args]{Value: Args{A: 4, B: 5}}
	status, err := Call(context.Background(), sess, add, args, rpc.ReplyWithArgs)
	require.NoError(t, err)
	require.Equal(t, rpc.StatusReplied, status)
	assert.Equal(t, int32(9), args.Value.Result)

	assert.NotSame(t, old, sess.Conn())
	assert.Equal(t, ipc.StateActive, sess.Conn().State())
	assert.Equal(t, 0, sess.Host().Depth())
}

func TestServerCallsBackIntoClient(t *testing.T) {
	reg := registry.NewMemoryRegistry()

	// The server's Add asks the client for a bias before answering.
	biasIface := rpc.NewInterface("Client")
	bias := rpc.MustInvoker("Bias", func(ctx context.Context, args *rpc.Args[Args]) error {
		args.Value.Result = 1000
		return nil
	})
	require.NoError(t, biasIface.Add(bias))

	remoteBias := rpc.MustInvoker[Args]("Bias", nil)
	require.NoError(t, rpc.NewInterface("Client").Add(remoteBias))

	iface := rpc.NewInterface("Arith")
	require.NoError(t, iface.Add(rpc.MustInvoker("Add", func(ctx context.Context, args *rpc.Args[Args]) error {
		b := &rpc.Args[Args]{}
		status, err := rpc.Emit(ctx, rpc.HostFrom(ctx), remoteBias, b, rpc.ReplyWithArgs)
		if err != nil || status != rpc.StatusReplied {
			return errors.New("bias unavailable")
		}
		args.Value.Result = args.Value.A + args.Value.B + b.Value.Result
		return nil
	})))

	svr := server.NewServer("arith",
		server.WithRegistry(reg, "arith", registry.Instance{}, server.DefaultTTL),
	)
	require.NoError(t, svr.Register(iface))
	errc := make(chan error, 1)
	go func() { errc <- svr.Serve(context.Background(), "tcp", "127.0.0.1:0") }()
	t.Cleanup(func() {
		svr.Shutdown(5 * time.Second)
		<-errc
	})
	require.Eventually(t, func() bool {
		instances, _ := reg.Discover(context.Background(), "arith")
		return len(instances) == 1
	}, 5*time.Second, 10*time.Millisecond)

	c := NewClient(reg, nil, WithInterfaces(biasIface))
	sess, err := c.Dial(context.Background(), "arith")
	require.NoError(t, err)
	defer sess.Close()

	_, add := arith(t)
	args := &rpc.Args[Args]{Value: Args{A: 1, B: 2}}
	status, err := Call(context.Background(), sess, add, args, rpc.ReplyWithArgs)
	require.NoError(t, err)
	require.Equal(t, rpc.StatusReplied, status)
	assert.Equal(t, int32(1003), args.Value.Result)
}
