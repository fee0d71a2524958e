package rpc

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"ipcrpc/ipc"
	"ipcrpc/middleware"
	"ipcrpc/transport"
)

type addArgs struct {
	A      int32
	B      int32
	Result int32
}

// connect links a server and a client connection over loopback TCP.
func connect(t *testing.T, serverOpts ...ipc.Option) (server, client *ipc.Connection) {
	t.Helper()
	ep := transport.NewTCP(transport.RoleServer, "127.0.0.1:0")
	require.NoError(t, ep.Bind())

	ctx := context.Background()
	server, err := ipc.Initialize(ctx, transport.RoleServer, "rpc", append([]ipc.Option{ipc.WithEndpoint(ep)}, serverOpts...)...)
	require.NoError(t, err)
	client, err = ipc.Initialize(ctx, transport.RoleClient, "rpc", ipc.WithTCP(ep.Addr()))
	require.NoError(t, err)
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})

	wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, server.Wait(wctx))
	require.NoError(t, client.Wait(wctx))
	return server, client
}

// serve drives h on its own goroutine until the test ends.
func serve(t *testing.T, h *Host) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.Serve(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func mathInterface(t *testing.T, add Handler[addArgs]) (*Interface, *Invoker[addArgs]) {
	t.Helper()
	iface := NewInterface("math")
	inv := MustInvoker("add", add)
	require.NoError(t, iface.Add(inv))
	return iface, inv
}

func sum(ctx context.Context, args *Args[addArgs]) error {
	args.Value.Result = args.Value.A + args.Value.B
	return nil
}

func TestMathAdd(t *testing.T) {
	server, client := connect(t)

	remote := NewHost(server)
	iface, _ := mathInterface(t, sum)
	require.NoError(t, remote.Register(iface))
	serve(t, remote)

	local := NewHost(client)
	_, add := mathInterface(t, nil)

	args := &Args[addArgs]{Value: addArgs{A: 2, B: 3}}
	status, err := Emit(context.Background(), local, add, args, ReplyWithArgs)
	require.NoError(t, err)
	require.Equal(t, StatusReplied, status)
	assert.Equal(t, int32(5), args.Value.Result)
	assert.Equal(t, int32(2), args.Value.A)
	assert.Equal(t, 0, local.Depth())
}

func TestReplyWithoutArgsLeavesValue(t *testing.T) {
	server, client := connect(t)

	remote := NewHost(server)
	iface, _ := mathInterface(t, sum)
	require.NoError(t, remote.Register(iface))
	serve(t, remote)

	local := NewHost(client)
	_, add := mathInterface(t, nil)

	args := &Args[addArgs]{Value: addArgs{A: 2, B: 3}}
	status, err := Emit(context.Background(), local, add, args, 0)
	require.NoError(t, err)
	require.Equal(t, StatusReplied, status)
	assert.Equal(t, int32(0), args.Value.Result)
}

func TestReplyWithPayload(t *testing.T) {
	server, client := connect(t)

	type empty struct{}
	reverse := func(ctx context.Context, args *Args[empty]) error {
		out := bytes.Clone(args.Payload)
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
		args.Payload = out
		return nil
	}

	remote := NewHost(server)
	iface := NewInterface("text")
	require.NoError(t, iface.Add(MustInvoker("reverse", reverse)))
	require.NoError(t, remote.Register(iface))
	serve(t, remote)

	local := NewHost(client)
	callIface := NewInterface("text")
	inv := MustInvoker[empty]("reverse", nil)
	require.NoError(t, callIface.Add(inv))

	args := &Args[empty]{Payload: []byte("hello")}
	status, err := Emit(context.Background(), local, inv, args, ReplyWithPayload)
	require.NoError(t, err)
	require.Equal(t, StatusReplied, status)
	assert.Equal(t, "olleh", string(args.Payload))
}

func TestNonBlockingCall(t *testing.T) {
	server, client := connect(t)

	seen := make(chan int32, 1)
	remote := NewHost(server)
	iface, _ := mathInterface(t, func(ctx context.Context, args *Args[addArgs]) error {
		seen <- args.Value.A
		return nil
	})
	require.NoError(t, remote.Register(iface))
	serve(t, remote)

	local := NewHost(client)
	_, add := mathInterface(t, nil)

	args := &Args[addArgs]{Value: addArgs{A: 7}}
	status, err := Emit(context.Background(), local, add, args, NonBlocking|ReplyWithArgs)
	require.NoError(t, err)
	assert.Equal(t, StatusSent, status)
	assert.Equal(t, 0, local.Depth())

	select {
	case a := <-seen:
		assert.Equal(t, int32(7), a)
	case <-time.After(5 * time.Second):
		t.Fatal("handler never ran")
	}

	// No reply comes back for a non-blocking call.
	time.Sleep(20 * time.Millisecond)
	n, err := local.Dispatch(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestUnhandledInvoker(t *testing.T) {
	server, client := connect(t)

	remote := NewHost(server)
	serve(t, remote)

	local := NewHost(client)
	_, add := mathInterface(t, nil)

	args := &Args[addArgs]{Value: addArgs{A: 1, B: 1, Result: -1}}
	status, err := Emit(context.Background(), local, add, args, ReplyWithArgs)
	require.NoError(t, err)
	assert.Equal(t, StatusUnhandled, status)
	assert.Equal(t, int32(-1), args.Value.Result)
}

func TestHandlerFailure(t *testing.T) {
	server, client := connect(t)

	remote := NewHost(server)
	iface, _ := mathInterface(t, func(ctx context.Context, args *Args[addArgs]) error {
		args.Value.Result = 99
		return errors.New("overflow")
	})
	require.NoError(t, remote.Register(iface))
	serve(t, remote)

	local := NewHost(client)
	_, add := mathInterface(t, nil)

	args := &Args[addArgs]{Value: addArgs{A: 1, B: 1}}
	status, err := Emit(context.Background(), local, add, args, ReplyWithArgs)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, status)
	assert.Equal(t, int32(0), args.Value.Result)
}

func TestNestedCallDepth(t *testing.T) {
	server, client := connect(t)

	var local, remote *Host
	type depths struct{ before, after int }
	remoteDepths := make(chan depths, 1)
	var localDepthInInner int

	// Client side serves cb.inner and calls math.outer.
	local = NewHost(client)
	cb := NewInterface("cb")
	require.NoError(t, cb.Add(MustInvoker("inner", func(ctx context.Context, args *Args[addArgs]) error {
		localDepthInInner = local.Depth()
		args.Value.Result = args.Value.A * 10
		return nil
	})))
	require.NoError(t, local.Register(cb))
	outerCall := MustInvoker[addArgs]("outer", nil)
	require.NoError(t, NewInterface("math").Add(outerCall))

	// Server side serves math.outer, which calls back into cb.inner.
	remote = NewHost(server)
	innerCall := MustInvoker[addArgs]("inner", nil)
	require.NoError(t, NewInterface("cb").Add(innerCall))
	math := NewInterface("math")
	require.NoError(t, math.Add(MustInvoker("outer", func(ctx context.Context, args *Args[addArgs]) error {
		var d depths
		d.before = remote.Depth()
		nested := &Args[addArgs]{Value: addArgs{A: args.Value.A}}
		status, err := Emit(ctx, remote, innerCall, nested, ReplyWithArgs)
		if err != nil || status != StatusReplied {
			return errors.New("nested call failed")
		}
		d.after = remote.Depth()
		remoteDepths <- d
		args.Value.Result = nested.Value.Result + 1
		return nil
	})))
	require.NoError(t, remote.Register(math))
	serve(t, remote)

	args := &Args[addArgs]{Value: addArgs{A: 4}}
	status, err := Emit(context.Background(), local, outerCall, args, ReplyWithArgs)
	require.NoError(t, err)
	require.Equal(t, StatusReplied, status)
	assert.Equal(t, int32(41), args.Value.Result)

	// Awaiting outer plus serving inner.
	assert.Equal(t, 2, localDepthInInner)
	assert.Equal(t, 0, local.Depth())

	d := <-remoteDepths
	assert.Equal(t, 1, d.before)
	assert.Equal(t, d.before, d.after)
}

func TestNestedCallRespectsStackDepth(t *testing.T) {
	server, client := connect(t)

	nestedErr := make(chan error, 1)
	var remote *Host
	remote = NewHost(server, WithStackDepth(1))
	innerCall := MustInvoker[addArgs]("inner", nil)
	require.NoError(t, NewInterface("cb").Add(innerCall))
	math := NewInterface("math")
	require.NoError(t, math.Add(MustInvoker("outer", func(ctx context.Context, args *Args[addArgs]) error {
		_, err := Emit(ctx, remote, innerCall, &Args[addArgs]{}, 0)
		nestedErr <- err
		return err
	})))
	require.NoError(t, remote.Register(math))
	serve(t, remote)

	local := NewHost(client)
	outerCall := MustInvoker[addArgs]("outer", nil)
	require.NoError(t, NewInterface("math").Add(outerCall))

	status, err := Emit(context.Background(), local, outerCall, &Args[addArgs]{}, 0)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, status)
	assert.ErrorIs(t, <-nestedErr, ErrCapacityExceeded)
}

func TestTimeoutRestoresStack(t *testing.T) {
	server, client := connect(t)

	core, logs := observer.New(zap.WarnLevel)
	local := NewHost(client, WithTimeout(50*time.Millisecond), WithLogger(zap.New(core)))
	_, add := mathInterface(t, nil)

	// The remote host is not pumped yet, so the call cannot be answered in time.
	remote := NewHost(server)
	iface, _ := mathInterface(t, sum)
	require.NoError(t, remote.Register(iface))

	args := &Args[addArgs]{Value: addArgs{A: 1, B: 2, Result: -1}}
	before := local.Depth()
	start := time.Now()
	status, err := Emit(context.Background(), local, add, args, ReplyWithArgs)
	require.NoError(t, err)
	assert.Equal(t, StatusTimedOut, status)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, before, local.Depth())
	assert.Equal(t, int32(-1), args.Value.Result)

	// The late reply is dropped as a desync.
	serve(t, remote)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ok, err := local.Process(ctx, true)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, logs.FilterMessage("reply does not match call stack, dropped").Len())
	assert.Equal(t, 0, local.Depth())
}

func TestDisconnectWhileWaiting(t *testing.T) {
	server, client := connect(t)

	local := NewHost(client, WithTimeout(NoTimeout))
	_, add := mathInterface(t, nil)

	type result struct {
		status Status
		err    error
	}
	done := make(chan result, 1)
	go func() {
		status, err := Emit(context.Background(), local, add, &Args[addArgs]{}, ReplyWithArgs)
		done <- result{status, err}
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, server.Close())

	select {
	case r := <-done:
		require.NoError(t, r.err)
		assert.Equal(t, StatusDisconnected, r.status)
	case <-time.After(5 * time.Second):
		t.Fatal("Emit did not return after disconnect")
	}

	status, err := Emit(context.Background(), local, add, &Args[addArgs]{}, 0)
	require.NoError(t, err)
	assert.Equal(t, StatusDisconnected, status)
}

func TestCrossEndianCall(t *testing.T) {
	// The server announces itself as big-endian, so the client corrects byte order.
	server, client := connect(t, ipc.WithPlatform(ipc.PlatformBigEndian))
	require.Equal(t, ipc.PlatformBigEndian, client.RemotePlatform())

	type scaled struct {
		Factor uint32
		Offset int16
		Result uint64
	}
	var payloadSeen []byte

	remote := NewHost(server)
	iface := NewInterface("math")
	require.NoError(t, iface.Add(MustInvoker("scale", func(ctx context.Context, args *Args[scaled]) error {
		payloadSeen = bytes.Clone(args.Payload)
		args.Value.Result = uint64(args.Value.Factor)*1000 + uint64(args.Value.Offset)
		return nil
	})))
	require.NoError(t, remote.Register(iface))
	serve(t, remote)

	local := NewHost(client)
	inv := MustInvoker[scaled]("scale", nil)
	require.NoError(t, NewInterface("math").Add(inv))

	args := &Args[scaled]{Value: scaled{Factor: 0x01020304, Offset: 0x0102}, Payload: []byte{1, 2, 3, 4}}
	status, err := Emit(context.Background(), local, inv, args, ReplyWithArgs|ReplyWithPayload)
	require.NoError(t, err)
	require.Equal(t, StatusReplied, status)

	assert.Equal(t, uint64(0x01020304)*1000+0x0102, args.Value.Result)
	assert.Equal(t, uint32(0x01020304), args.Value.Factor)
	assert.Equal(t, []byte{1, 2, 3, 4}, args.Payload)
	assert.Equal(t, []byte{1, 2, 3, 4}, payloadSeen)
}

func TestTakeMessageKeepsPayload(t *testing.T) {
	server, client := connect(t)

	type empty struct{}
	var kept []byte
	var remote *Host
	remote = NewHost(server)
	iface := NewInterface("blob")
	require.NoError(t, iface.Add(MustInvoker("store", func(ctx context.Context, args *Args[empty]) error {
		msg := remote.TakeMessage()
		if msg == nil {
			return errors.New("no message")
		}
		if remote.TakeMessage() != nil {
			return errors.New("message taken twice")
		}
		kept = args.Payload
		return nil
	})))
	require.NoError(t, remote.Register(iface))
	serve(t, remote)

	local := NewHost(client)
	inv := MustInvoker[empty]("store", nil)
	require.NoError(t, NewInterface("blob").Add(inv))

	status, err := Emit(context.Background(), local, inv, &Args[empty]{Payload: []byte("abc")}, 0)
	require.NoError(t, err)
	require.Equal(t, StatusReplied, status)
	assert.Equal(t, "abc", string(kept))
}

func TestDispatchDrainsQueue(t *testing.T) {
	server, client := connect(t)

	total := int32(0)
	remote := NewHost(server)
	iface, _ := mathInterface(t, func(ctx context.Context, args *Args[addArgs]) error {
		total += args.Value.A
		return nil
	})
	require.NoError(t, remote.Register(iface))

	local := NewHost(client)
	_, add := mathInterface(t, nil)
	for i := int32(1); i <= 3; i++ {
		status, err := Emit(context.Background(), local, add, &Args[addArgs]{Value: addArgs{A: i}}, NonBlocking)
		require.NoError(t, err)
		require.Equal(t, StatusSent, status)
	}

	handled := 0
	deadline := time.Now().Add(5 * time.Second)
	for handled < 3 && time.Now().Before(deadline) {
		n, err := remote.Dispatch(context.Background())
		require.NoError(t, err)
		handled += n
		time.Sleep(5 * time.Millisecond)
	}
	assert.Equal(t, 3, handled)
	assert.Equal(t, int32(6), total)
}

func TestMiddlewareSeesCall(t *testing.T) {
	server, client := connect(t)

	calls := make(chan middleware.Call, 1)
	record := func(next middleware.HandlerFunc) middleware.HandlerFunc {
		return func(ctx context.Context, call *middleware.Call) error {
			calls <- *call
			return next(ctx, call)
		}
	}

	remote := NewHost(server, WithMiddleware(middleware.LoggingMiddleware(nil), record))
	iface, _ := mathInterface(t, sum)
	require.NoError(t, remote.Register(iface))
	serve(t, remote)

	local := NewHost(client)
	_, add := mathInterface(t, nil)
	status, err := Emit(context.Background(), local, add, &Args[addArgs]{}, 0)
	require.NoError(t, err)
	require.Equal(t, StatusReplied, status)

	call := <-calls
	assert.Equal(t, "math.add", call.Method())
	assert.Equal(t, add.Opcode(), call.Opcode)
	assert.Equal(t, 1, call.Depth)
	assert.Equal(t, 12, call.Size)
	assert.Negative(t, call.Transaction)
}

func TestMiddlewareRejectionFailsCall(t *testing.T) {
	server, client := connect(t)

	remote := NewHost(server, WithMiddleware(middleware.RateLimitMiddleware(1, 1)))
	iface, _ := mathInterface(t, sum)
	require.NoError(t, remote.Register(iface))
	serve(t, remote)

	local := NewHost(client)
	_, add := mathInterface(t, nil)

	status, err := Emit(context.Background(), local, add, &Args[addArgs]{}, 0)
	require.NoError(t, err)
	assert.Equal(t, StatusReplied, status)

	status, err = Emit(context.Background(), local, add, &Args[addArgs]{}, 0)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, status)
}

func TestHostFromContext(t *testing.T) {
	server, client := connect(t)

	remote := NewHost(server)
	seen := make(chan *Host, 1)
	iface, _ := mathInterface(t, func(ctx context.Context, args *Args[addArgs]) error {
		seen <- HostFrom(ctx)
		return nil
	})
	require.NoError(t, remote.Register(iface))
	serve(t, remote)

	local := NewHost(client)
	_, add := mathInterface(t, nil)
	status, err := Emit(context.Background(), local, add, &Args[addArgs]{}, 0)
	require.NoError(t, err)
	require.Equal(t, StatusReplied, status)

	assert.Same(t, remote, <-seen)
	assert.Nil(t, HostFrom(context.Background()))
}
