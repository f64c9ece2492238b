package util

import (
	"context"
	"errors"
	"io"
	"net"
	"syscall"
)

// DefaultBufSize is the standard buffer size for stream I/O (32 KiB).
const DefaultBufSize = 32 * 1024

// IsExpectedClose reports whether err is a normal end of a stream:
// EOF, a closed connection, a broken pipe or a reset.  These show up on
// the surviving side whenever a peer hangs up and are not worth an
// error log line.
func IsExpectedClose(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return true
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.EPIPE || errno == syscall.ECONNRESET
	}
	return false
}

// CloseOnDone closes c once ctx is done.  The returned stop function
// releases the watcher without closing c.
func CloseOnDone(ctx context.Context, c io.Closer) (stop func()) {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			c.Close()
		case <-done:
		}
	}()
	return func() { close(done) }
}
