// Package transport carries device traffic between processes.  A
// transport moves whole messages (body plus control) over a network
// connection; what happens to them inside the process is the device's
// job.
//
// Stream transports (tcp, unix, quic) frame each message as one CBOR
// item from package wire.  Websockets send one binary message per
// frame.  A Port plugs accepted or dialed connections into one side of
// a device running on an in-process socket layer.
package transport

import (
	"context"
	"fmt"
	"time"

	"spdev/config"
	"spdev/internal/sp"
)

// Conn is a message connection to one remote peer.  ReadMsg and
// WriteMsg may run concurrently with each other but not with
// themselves.
type Conn interface {
	ReadMsg() (*sp.Message, error)
	WriteMsg(msg *sp.Message) error
	Close() error
	RemoteAddr() string
}

// Dialer opens outbound message connections.
type Dialer interface {
	// Dial connects to a connect endpoint.
	Dial(ctx context.Context, ep config.Endpoint) (Conn, error)

	// Close releases long-lived resources held by the dialer.
	// Stateless dialers return nil.
	Close() error
}

// Listener accepts inbound message connections.  Close unblocks a
// pending Accept.
type Listener interface {
	Accept() (Conn, error)
	Close() error
	Addr() string
}

// Options tune every transport.
type Options struct {
	DialTimeout time.Duration
	MaxConns    int    // per listener, 0 = unlimited
	QUICKey     string // seeds the shared QUIC certificate
}

func (o Options) dialTimeout() time.Duration {
	if o.DialTimeout <= 0 {
		return config.DefaultDialTimeout
	}
	return o.DialTimeout
}

func (o Options) quicKey() string {
	if o.QUICKey == "" {
		return config.DefaultQUICKey
	}
	return o.QUICKey
}

// NewDialer returns the dialer for scheme.
func NewDialer(scheme string, opts Options) (Dialer, error) {
	switch scheme {
	case config.SchemeTCP, config.SchemeUnix:
		return &NetDialer{Timeout: opts.dialTimeout()}, nil
	case config.SchemeQUIC:
		return NewQUICDialer(opts.quicKey(), opts.dialTimeout())
	case config.SchemeWS:
		return &WSDialer{Timeout: opts.dialTimeout()}, nil
	default:
		return nil, fmt.Errorf("no dialer for scheme %q", scheme)
	}
}

// Listen opens a listener for a listen endpoint.
func Listen(ep config.Endpoint, opts Options) (Listener, error) {
	if !ep.Listen {
		return nil, fmt.Errorf("%s is not a listen endpoint", ep)
	}
	switch ep.Scheme {
	case config.SchemeTCP, config.SchemeUnix:
		return ListenNet(ep.Scheme, ep.Address, opts.MaxConns)
	case config.SchemeQUIC:
		return ListenQUIC(ep.Address, opts.quicKey(), opts.MaxConns)
	case config.SchemeWS:
		return ListenWS(ep.Address, ep.Path, opts.MaxConns)
	default:
		return nil, fmt.Errorf("no listener for scheme %q", ep.Scheme)
	}
}
