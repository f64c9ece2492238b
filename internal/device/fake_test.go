package device

import (
	"testing"

	"spdev/internal/errors"
	"spdev/internal/sp"
)

// fakeSocket is a scripted socket.  Receives pop inbound and then fail
// with recvErr (sp.ErrTerminated when nil); sends append to sent unless
// sendErr is set.
type fakeSocket struct {
	domain   sp.Domain
	protocol sp.Protocol
	rcvFd    int
	sndFd    int
	inbound  []*sp.Message
	recvErr  error
	sendErr  error
	sent     []*sp.Message
}

type fakeLayer struct {
	sockets []*fakeSocket
}

func rawSocket(p sp.Protocol, msgs ...string) *fakeSocket {
	s := &fakeSocket{domain: sp.AFSPRaw, protocol: p, rcvFd: sp.NoFd, sndFd: sp.NoFd}
	if p.CanRecv() {
		s.rcvFd = 100
	}
	if p.CanSend() {
		s.sndFd = 101
	}
	for _, m := range msgs {
		s.inbound = append(s.inbound, &sp.Message{Body: []byte(m)})
	}
	return s
}

func newFake(socks ...*fakeSocket) *fakeLayer {
	return &fakeLayer{sockets: socks}
}

func (l *fakeLayer) lookup(s sp.Socket) (*fakeSocket, error) {
	if !s.Valid() || int(s) >= len(l.sockets) {
		return nil, sp.ErrBadSocket
	}
	return l.sockets[s], nil
}

func (l *fakeLayer) GetOption(s sp.Socket, level sp.Level, option sp.Option) (int, error) {
	sock, err := l.lookup(s)
	if err != nil {
		return 0, err
	}
	fd := func(v int) (int, error) {
		if v == sp.NoFd {
			return 0, sp.ErrNoSuchOption
		}
		return v, nil
	}
	switch option {
	case sp.OptDomain:
		return int(sock.domain), nil
	case sp.OptProtocol:
		return int(sock.protocol), nil
	case sp.OptRcvFd:
		return fd(sock.rcvFd)
	case sp.OptSndFd:
		return fd(sock.sndFd)
	}
	return 0, sp.ErrNoSuchOption
}

func (l *fakeLayer) RecvMsg(s sp.Socket, flags sp.Flags) (*sp.Message, int, error) {
	sock, err := l.lookup(s)
	if err != nil {
		return nil, 0, err
	}
	if len(sock.inbound) == 0 {
		if sock.recvErr != nil {
			return nil, 0, sock.recvErr
		}
		return nil, 0, sp.ErrTerminated
	}
	msg := sock.inbound[0]
	sock.inbound = sock.inbound[1:]
	return msg, len(msg.Body), nil
}

func (l *fakeLayer) SendMsg(s sp.Socket, msg *sp.Message, flags sp.Flags) error {
	sock, err := l.lookup(s)
	if err != nil {
		return err
	}
	if sock.sendErr != nil {
		return sock.sendErr
	}
	sock.sent = append(sock.sent, msg)
	return nil
}

func bodies(msgs []*sp.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = string(m.Body)
	}
	return out
}

// mustPanicFatal runs f and returns the *errors.FatalError it panics with.
func mustPanicFatal(t *testing.T, f func()) *errors.FatalError {
	t.Helper()
	var fe *errors.FatalError
	func() {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			var ok bool
			if fe, ok = r.(*errors.FatalError); !ok {
				t.Fatalf("panic value = %T (%v), want *errors.FatalError", r, r)
			}
		}()
		f()
	}()
	if fe == nil {
		t.Fatal("expected a fatal panic")
	}
	return fe
}
