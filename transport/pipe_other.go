//go:build !unix && !windows

package transport

import (
	"context"
	"net"
)

func pipeAddress(name string) string { return name }

func listenPipe(string) (net.Listener, error) { return nil, ErrUnsupported }

func dialPipe(context.Context, string) (net.Conn, error) { return nil, ErrUnsupported }

func removePipe(string) {}

func isBusy(error) bool { return false }
