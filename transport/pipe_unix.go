//go:build unix

package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"
)

func pipeAddress(name string) string {
	return filepath.Join(os.TempDir(), name+".sock")
}

func listenPipe(name string) (net.Listener, error) {
	address := pipeAddress(name)
	if err := os.MkdirAll(filepath.Dir(address), 0o751); err != nil {
		return nil, err
	}
	if err := clearStale(address); err != nil {
		return nil, err
	}
	l, err := net.Listen("unix", address)
	if err != nil {
		return nil, err
	}
	if ul, ok := l.(*net.UnixListener); ok {
		ul.SetUnlinkOnClose(true)
	}
	_ = os.Chmod(address, 0o600)
	return l, nil
}

// clearStale removes a socket file left by a crashed server. A socket that still
// accepts belongs to a live server and is left alone.
func clearStale(address string) error {
	if _, err := os.Stat(address); err != nil {
		return nil
	}
	c, err := net.DialTimeout("unix", address, time.Second)
	if err == nil {
		c.Close()
		return fmt.Errorf("%w: %s", ErrAddrInUse, address)
	}
	if errors.Is(err, unix.ECONNREFUSED) {
		_ = os.Remove(address)
	}
	return nil
}

func dialPipe(ctx context.Context, address string) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, "unix", address)
}

func removePipe(address string) {
	_ = os.Remove(address)
}

// isBusy reports the unix equivalent of ERROR_PIPE_BUSY: a full accept backlog.
func isBusy(err error) bool {
	return errors.Is(err, unix.EAGAIN)
}
