package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"spdev/config"
	"spdev/internal/errors"
	"spdev/internal/metrics"
	"spdev/internal/retry"
	"spdev/internal/sp"
	"spdev/internal/sp/inproc"
	"spdev/util"
)

// Port is one side of a device as the network sees it: the in-process
// address the device's socket is bound at, and the protocol remote
// peers speak towards it.  Every connection gets its own socket of
// that protocol, connected to the device socket.
type Port struct {
	Layer    *inproc.Layer
	Addr     string      // e.g. inproc://dev0/front
	Protocol sp.Protocol // complement of the device socket's protocol
	Logger   *util.Logger
	Metrics  *metrics.Collector
}

var quiet = util.NewLogger(0)

func (p *Port) logger() *util.Logger {
	if p.Logger == nil {
		return quiet
	}
	return p.Logger
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// Attach pumps messages between conn and the device until either end
// goes away, then closes both.  It returns nil when the peer hung up
// and errors.ErrShutdown when the device side was torn down.
func (p *Port) Attach(ctx context.Context, conn Conn) error {
	id := uuid.NewString()[:8]
	log := p.logger()

	s, err := p.Layer.Socket(sp.AFSP, p.Protocol)
	if err == nil {
		if err = p.Layer.Connect(s, p.Addr); err != nil {
			p.Layer.Close(s) //nolint:errcheck
		}
	}
	if err != nil {
		conn.Close()
		if sp.IsShutdown(err) {
			return errors.ErrShutdown
		}
		return fmt.Errorf("attach %s to %s: %w", conn.RemoteAddr(), p.Addr, err)
	}

	p.Metrics.ConnectionOpened()
	defer p.Metrics.ConnectionClosed()
	log.Verbose("[%s] %s attached to %s as %s", id, conn.RemoteAddr(), p.Addr, p.Protocol)

	var once sync.Once
	teardown := closerFunc(func() error {
		once.Do(func() {
			conn.Close()
			p.Layer.Close(s) //nolint:errcheck
		})
		return nil
	})
	stop := util.CloseOnDone(ctx, teardown)
	defer stop()

	results := make(chan error, 2)
	pumps := 1
	go func() { results <- p.inbound(conn, s) }()
	if p.Protocol.CanRecv() {
		pumps++
		go func() { results <- p.outbound(conn, s) }()
	}

	// The first pump to stop tells why; the rest stop because of
	// teardown.
	first := <-results
	teardown.Close()
	for i := 1; i < pumps; i++ {
		<-results
	}

	switch {
	case first == nil:
		log.Verbose("[%s] %s detached", id, conn.RemoteAddr())
	case errors.IsShutdown(first):
		log.Debug("[%s] %s detached: device shut down", id, conn.RemoteAddr())
	default:
		log.Warn("[%s] %s: %v", id, conn.RemoteAddr(), first)
	}
	return first
}

// inbound moves messages from the peer into the device.  A socket that
// cannot send still reads, to notice the peer hanging up.
func (p *Port) inbound(conn Conn, s sp.Socket) error {
	for {
		msg, err := conn.ReadMsg()
		if err != nil {
			return peerErr(err)
		}
		if !p.Protocol.CanSend() {
			continue
		}
		if err := p.Layer.SendMsg(s, msg, sp.Blocking); err != nil {
			return deviceErr(err)
		}
	}
}

// outbound moves messages from the device to the peer.
func (p *Port) outbound(conn Conn, s sp.Socket) error {
	for {
		msg, _, err := p.Layer.RecvMsg(s, sp.Blocking)
		if err != nil {
			return deviceErr(err)
		}
		if err := conn.WriteMsg(msg); err != nil {
			return peerErr(err)
		}
	}
}

func peerErr(err error) error {
	if util.IsExpectedClose(err) {
		return nil
	}
	return err
}

func deviceErr(err error) error {
	if sp.IsShutdown(err) {
		return errors.ErrShutdown
	}
	return fmt.Errorf("device socket: %w", err)
}

// ── Accept and redial loops ──────────────────────────────────────────

// Serve attaches every connection ln accepts until ctx is done or ln
// fails.  A run of failing accepts pauses the loop rather than ending
// it.
func (p *Port) Serve(ctx context.Context, ln Listener) error {
	log := p.logger()
	defer ln.Close()
	stop := util.CloseOnDone(ctx, ln)
	defer stop()

	log.Verbose("listening on %s for %s", ln.Addr(), p.Addr)

	guard := retry.Breaker{
		MaxFailures: 5,
		Cooldown:    time.Second,
		OnStateChange: func(from, to retry.State) {
			log.Debug("accept guard on %s: %s -> %s", ln.Addr(), from, to)
		},
	}
	for {
		var conn Conn
		err := guard.Execute(func() error {
			var err error
			conn, err = ln.Accept()
			return err
		})
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			switch {
			case errors.Is(err, retry.ErrOpen):
				if !sleep(ctx, guard.RetryIn()) {
					return nil
				}
			case errors.IsRetryable(err):
				log.Warn("accept on %s: %v", ln.Addr(), err)
				p.Metrics.RecordError(err.Error())
			default:
				return errors.Wrap("accept", ln.Addr(), err)
			}
			continue
		}
		go p.Attach(ctx, conn) //nolint:errcheck
	}
}

// Redial keeps one connection to ep attached: it dials with backoff,
// attaches, and dials again when the peer goes away.  It returns nil
// once ctx is done or the device shuts down.
func (p *Port) Redial(ctx context.Context, d Dialer, ep config.Endpoint, b retry.Backoff) error {
	log := p.logger()
	pause := b.InitialDelay
	b.OnRetry = func(attempt int, err error, wait time.Duration) {
		p.Metrics.Redial()
		log.Verbose("dial %s (attempt %d): %v; retrying in %v", ep, attempt, err, wait.Truncate(time.Millisecond))
	}

	for {
		var conn Conn
		err := b.Do(ctx, func(int) error {
			c, err := d.Dial(ctx, ep)
			if err != nil {
				if ctx.Err() != nil {
					return retry.Permanent(ctx.Err())
				}
				return errors.Wrap("dial", ep.String(), err)
			}
			conn = c
			return nil
		})
		if ctx.Err() != nil {
			if conn != nil {
				conn.Close()
			}
			return nil
		}
		if err != nil {
			return err
		}

		if err := p.Attach(ctx, conn); errors.IsShutdown(err) {
			return nil
		}
		if ctx.Err() != nil {
			return nil
		}
		log.Verbose("connection to %s lost; redialing", ep)
		if !sleep(ctx, pause) {
			return nil
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
