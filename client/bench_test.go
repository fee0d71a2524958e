package client

import (
	"context"
	"testing"
	"time"

	"ipcrpc/registry"
	"ipcrpc/rpc"
	"ipcrpc/server"
)

func setupSession(b *testing.B) (*Session, *rpc.Invoker[Args]) {
	b.Helper()
	reg := registry.NewMemoryRegistry()

	svr := server.NewServer("arith", server.WithRegistry(reg, "Arith", registry.Instance{}, server.DefaultTTL))
	iface := rpc.NewInterface("Arith")
	add := rpc.MustInvoker("Add", func(ctx context.Context, args *rpc.Args[Args]) error {
		args.Value.Result = args.Value.A + args.Value.B
		return nil
	})
	if err := iface.Add(add); err != nil {
		b.Fatal(err)
	}
	if err := svr.Register(iface); err != nil {
		b.Fatal(err)
	}
	go svr.Serve(context.Background(), "tcp", "127.0.0.1:0")
	b.Cleanup(func() { svr.Shutdown(3 * time.Second) })

	deadline := time.Now().Add(5 * time.Second)
	for {
		instances, _ := reg.Discover(context.Background(), "Arith")
		if len(instances) > 0 {
			break
		}
		if time.Now().After(deadline) {
			b.Fatal("server not registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	sess, err := NewClient(reg, nil).Dial(context.Background(), "Arith")
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { sess.Close() })

	remote := rpc.MustInvoker[Args]("Add", nil)
	if err := rpc.NewInterface("Arith").Add(remote); err != nil {
		b.Fatal(err)
	}
	return sess, remote
}

// BenchmarkSerialCall measures one blocking round trip at a time.
func BenchmarkSerialCall(b *testing.B) {
	sess, add := setupSession(b)
	args := &rpc.Args[Args]{Value: Args{A: 1, B: 2}}
	ctx := context.Background()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		status, err := Call(ctx, sess, add, args, rpc.ReplyWithArgs)
		if err != nil || status != rpc.StatusReplied {
			b.Fatalf("call failed: %v %v", status, err)
		}
	}
}

// BenchmarkNonBlockingCall measures fire-and-forget sends.
func BenchmarkNonBlockingCall(b *testing.B) {
	sess, add := setupSession(b)
	args := &rpc.Args[Args]{Value: Args{A: 1, B: 2}}
	ctx := context.Background()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		status, err := Call(ctx, sess, add, args, rpc.NonBlocking)
		if err != nil || status != rpc.StatusSent {
			b.Fatalf("call failed: %v %v", status, err)
		}
	}
}
