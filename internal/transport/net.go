package transport

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"golang.org/x/net/netutil"

	"spdev/config"
)

// NetDialer connects over tcp or unix sockets.
type NetDialer struct {
	Timeout time.Duration
}

// Dial connects to ep over its scheme's network.
func (d *NetDialer) Dial(ctx context.Context, ep config.Endpoint) (Conn, error) {
	dialer := net.Dialer{Timeout: d.Timeout, KeepAlive: 30 * time.Second}
	c, err := dialer.DialContext(ctx, ep.Scheme, ep.Address)
	if err != nil {
		return nil, err
	}
	return newStreamConn(c, ep.Scheme+"://"+ep.Address), nil
}

// Close is a no-op for stateless dialers.
func (d *NetDialer) Close() error { return nil }

// netListener wraps a net.Listener.
type netListener struct {
	ln     net.Listener
	scheme string
}

// ListenNet listens on a tcp address or a unix socket path.  With
// maxConns > 0 at most that many connections are open at once; further
// peers wait in the kernel backlog.
func ListenNet(scheme, address string, maxConns int) (Listener, error) {
	if scheme == config.SchemeUnix {
		removeStaleSocket(address)
	}
	ln, err := net.Listen(scheme, address)
	if err != nil {
		return nil, fmt.Errorf("listen on %s://%s: %w", scheme, address, err)
	}
	if maxConns > 0 {
		ln = netutil.LimitListener(ln, maxConns)
	}
	return &netListener{ln: ln, scheme: scheme}, nil
}

func (l *netListener) Accept() (Conn, error) {
	c, err := l.ln.Accept()
	if err != nil {
		return nil, err
	}
	remote := c.RemoteAddr().String()
	if l.scheme == config.SchemeUnix {
		remote = "unix:" + l.ln.Addr().String()
	}
	return newStreamConn(c, remote), nil
}

func (l *netListener) Close() error { return l.ln.Close() }
func (l *netListener) Addr() string { return l.ln.Addr().String() }

// removeStaleSocket unlinks a socket file nobody answers on, left
// behind by a process that did not shut down cleanly.
func removeStaleSocket(path string) {
	fi, err := os.Stat(path)
	if err != nil || fi.Mode()&os.ModeSocket == 0 {
		return
	}
	if c, err := net.DialTimeout("unix", path, 100*time.Millisecond); err == nil {
		c.Close()
		return
	}
	os.Remove(path)
}
