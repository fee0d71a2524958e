//go:build windows

package transport

import (
	"context"
	"errors"
	"net"
	"time"

	"golang.org/x/sys/windows"
	"gopkg.in/natefinch/npipe.v2"
)

// dialWait bounds how long a single pipe open waits for a free instance.
const dialWait = 2 * time.Second

func pipeAddress(name string) string {
	return `\\.\pipe\` + name
}

func listenPipe(name string) (net.Listener, error) {
	return npipe.Listen(pipeAddress(name))
}

func dialPipe(ctx context.Context, address string) (net.Conn, error) {
	timeout := dialWait
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < timeout {
			timeout = left
		}
	}
	if timeout <= 0 {
		return nil, context.DeadlineExceeded
	}
	return npipe.DialTimeout(address, timeout)
}

func removePipe(string) {}

func isBusy(err error) bool {
	return errors.Is(err, windows.ERROR_PIPE_BUSY)
}
