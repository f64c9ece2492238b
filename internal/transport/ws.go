package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/net/netutil"

	"spdev/config"
	"spdev/internal/sp"
	"spdev/internal/wire"
)

const wsBufferSize = 32 * 1024

// wsConn sends one binary websocket message per frame.
type wsConn struct {
	ws        *websocket.Conn
	writeLock sync.Mutex // one data writer at a time
	remote    string
}

func newWSConn(ws *websocket.Conn) *wsConn {
	ws.SetReadLimit(wire.MaxFrameSize + 64)
	return &wsConn{ws: ws, remote: "ws://" + ws.RemoteAddr().String()}
}

func (c *wsConn) ReadMsg() (*sp.Message, error) {
	t, data, err := c.ws.ReadMessage()
	if err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return nil, io.EOF
		}
		return nil, err
	}
	if t != websocket.BinaryMessage {
		return nil, fmt.Errorf("unexpected websocket message type %d", t)
	}
	return wire.Unmarshal(data)
}

func (c *wsConn) WriteMsg(msg *sp.Message) error {
	data, err := wire.Marshal(msg)
	if err != nil {
		return err
	}
	c.writeLock.Lock()
	defer c.writeLock.Unlock()
	return c.ws.WriteMessage(websocket.BinaryMessage, data)
}

// Close says goodbye before closing so the peer sees a clean end.  It
// does not take writeLock: a WriteMsg stuck on a stalled peer must not
// keep the connection open.  WriteControl gives up at its deadline.
func (c *wsConn) Close() error {
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "")
	c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)) //nolint:errcheck
	return c.ws.Close()
}

func (c *wsConn) RemoteAddr() string { return c.remote }

// ── Dialer ───────────────────────────────────────────────────────────

// WSDialer connects to websocket endpoints.
type WSDialer struct {
	Timeout time.Duration
}

// Dial performs the websocket handshake with ep.
func (d *WSDialer) Dial(ctx context.Context, ep config.Endpoint) (Conn, error) {
	u := url.URL{Scheme: "ws", Host: ep.Address, Path: ep.Path}
	dialer := websocket.Dialer{
		HandshakeTimeout: d.Timeout,
		ReadBufferSize:   wsBufferSize,
		WriteBufferSize:  wsBufferSize,
	}
	ws, resp, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket handshake with %s: %s: %w", u.String(), resp.Status, err)
		}
		return nil, err
	}
	return newWSConn(ws), nil
}

// Close is a no-op for stateless dialers.
func (d *WSDialer) Close() error { return nil }

// ── Listener ─────────────────────────────────────────────────────────

// wsListener serves websocket upgrades on one path and queues the
// resulting connections for Accept.
type wsListener struct {
	ln     net.Listener
	srv    *http.Server
	conns  chan Conn
	done   chan struct{}
	once   sync.Once
	failed chan struct{}
	err    error
}

// ListenWS accepts websockets on address at path.
func ListenWS(address, path string, maxConns int) (Listener, error) {
	ln, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("listen on ws://%s: %w", address, err)
	}
	if maxConns > 0 {
		ln = netutil.LimitListener(ln, maxConns)
	}
	l := &wsListener{
		ln:     ln,
		conns:  make(chan Conn),
		done:   make(chan struct{}),
		failed: make(chan struct{}),
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  wsBufferSize,
		WriteBufferSize: wsBufferSize,
		CheckOrigin:     func(*http.Request) bool { return true },
	}
	mux := http.NewServeMux()
	mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return // Upgrade already replied
		}
		c := newWSConn(ws)
		select {
		case l.conns <- c:
		case <-l.done:
			c.Close()
		}
	})
	l.srv = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		err := l.srv.Serve(ln)
		if !errors.Is(err, http.ErrServerClosed) {
			l.err = err
			close(l.failed)
		}
	}()
	return l, nil
}

func (l *wsListener) Accept() (Conn, error) {
	select {
	case c := <-l.conns:
		return c, nil
	case <-l.done:
		return nil, net.ErrClosed
	case <-l.failed:
		return nil, l.err
	}
}

// Close stops the server.  Upgraded connections are hijacked and stay
// open; their owners close them.
func (l *wsListener) Close() error {
	var err error
	l.once.Do(func() {
		close(l.done)
		err = l.srv.Close()
	})
	return err
}

func (l *wsListener) Addr() string { return l.ln.Addr().String() }
