//go:build unix

package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestPipeRoundTrip(t *testing.T) {
	name := fmt.Sprintf("ipcrpc_test_%d_%d", os.Getpid(), time.Now().UnixNano())
	server := NewPipe(RoleServer, name)
	client := NewPipe(RoleClient, name)
	defer client.Close()

	sc, cc := connectPair(t, server, client)

	_, err := cc.WriteFull(context.Background(), []byte("ping"))
	require.NoError(t, err)
	buf := make([]byte, 4)
	_, err = sc.ReadFull(context.Background(), buf)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(buf))

	require.NoError(t, server.Close())
	_, statErr := os.Stat(server.Address())
	assert.True(t, os.IsNotExist(statErr), "socket file should be removed")
}

func TestRetryBusyStopsOnOtherErrors(t *testing.T) {
	calls := 0
	boom := errors.New("boom")
	err := retryBusy(context.Background(), func() error {
		calls++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestRetryBusyIsBounded(t *testing.T) {
	calls := 0
	err := retryBusy(context.Background(), func() error {
		calls++
		return unix.EAGAIN
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, unix.EAGAIN)
	assert.Equal(t, BusyRetries, calls)
}

func TestRetryBusyRecovers(t *testing.T) {
	calls := 0
	err := retryBusy(context.Background(), func() error {
		calls++
		if calls < 3 {
			return unix.EAGAIN
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestListenPipeKeepsLiveOwner(t *testing.T) {
	name := fmt.Sprintf("ipcrpc_live_%d_%d", os.Getpid(), time.Now().UnixNano())
	owner, err := listenPipe(name)
	require.NoError(t, err)
	defer owner.Close()

	_, err = listenPipe(name)
	assert.ErrorIs(t, err, ErrAddrInUse)

	_, statErr := os.Stat(pipeAddress(name))
	require.NoError(t, statErr, "owner's socket must stay in place")
	c, err := net.Dial("unix", pipeAddress(name))
	require.NoError(t, err)
	c.Close()
}

func TestListenPipeReplacesStaleSocket(t *testing.T) {
	name := fmt.Sprintf("ipcrpc_stale_%d_%d", os.Getpid(), time.Now().UnixNano())
	stale, err := net.Listen("unix", pipeAddress(name))
	require.NoError(t, err)
	stale.(*net.UnixListener).SetUnlinkOnClose(false)
	require.NoError(t, stale.Close())
	_, statErr := os.Stat(pipeAddress(name))
	require.NoError(t, statErr, "closed listener leaves its socket file")

	l, err := listenPipe(name)
	require.NoError(t, err)
	defer l.Close()
	c, err := net.Dial("unix", pipeAddress(name))
	require.NoError(t, err)
	c.Close()
}
