// Package inproc is an in-process scalable-protocols socket layer.
//
// It implements sp.Layer for sockets that live inside one process and
// talk to each other through bounded in-memory queues.  Message bodies
// are opaque.  The layer only knows where a message may go: fan-out
// for PUB, SURVEYOR and BUS, backtrace routing for replies (route.go),
// round-robin otherwise.  Protocol state machines are out of its scope.
// Its job is to give devices real sockets to forward between: each
// socket exposes pipe-backed readiness descriptors that poll(2) and
// select(2) understand, blocking and non-blocking receive and send, and
// close/terminate semantics that wake every blocked caller.
//
// All state is guarded by one layer-wide lock.  Devices never take it;
// they only see it indirectly through the sp.Layer calls.
package inproc

import (
	"fmt"
	"sync"

	"spdev/internal/sp"
)

// DefaultQueueLen is the inbound queue capacity of every socket.
const DefaultQueueLen = 64

// Layer is a set of in-process sockets.
type Layer struct {
	mu       sync.Mutex
	cond     *sync.Cond
	sockets  map[sp.Socket]*socket
	bound    map[string]*socket
	retired  []*socket // closed sockets whose descriptors were handed out
	next     sp.Socket
	term     bool
	queueLen int
}

// Option configures a Layer.
type Option func(*Layer)

// WithQueueLen sets the per-socket inbound queue capacity.
func WithQueueLen(n int) Option {
	return func(l *Layer) {
		if n > 0 {
			l.queueLen = n
		}
	}
}

// New creates an empty layer.
func New(opts ...Option) *Layer {
	l := &Layer{
		sockets:  make(map[sp.Socket]*socket),
		bound:    make(map[string]*socket),
		queueLen: DefaultQueueLen,
	}
	l.cond = sync.NewCond(&l.mu)
	for _, o := range opts {
		o(l)
	}
	return l
}

type socket struct {
	id       sp.Socket
	domain   sp.Domain
	protocol sp.Protocol
	inbound  []*sp.Message
	pending  [][]byte // backtraces of unanswered requests
	peers    []*socket
	rr       int
	rcv, snd *efd // nil when the protocol lacks the direction
	addrs    []string
	closed   bool
	exported bool // a descriptor left the layer through GetOption
}

// ── Socket lifecycle ─────────────────────────────────────────────────

// Socket creates a socket.
func (l *Layer) Socket(domain sp.Domain, protocol sp.Protocol) (sp.Socket, error) {
	if domain != sp.AFSP && domain != sp.AFSPRaw {
		return sp.NoSocket, fmt.Errorf("domain %d: %w", domain, sp.ErrInvalid)
	}
	if protocol.String() == "unknown" {
		return sp.NoSocket, fmt.Errorf("protocol %d: %w", protocol, sp.ErrInvalid)
	}

	sock := &socket{domain: domain, protocol: protocol}
	var err error
	if protocol.CanRecv() {
		if sock.rcv, err = newEFD(); err != nil {
			return sp.NoSocket, fmt.Errorf("rcvfd: %w", err)
		}
	}
	if protocol.CanSend() {
		if sock.snd, err = newEFD(); err != nil {
			sock.rcv.close()
			return sp.NoSocket, fmt.Errorf("sndfd: %w", err)
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.term {
		sock.rcv.close()
		sock.snd.close()
		return sp.NoSocket, sp.ErrTerminated
	}
	sock.id = l.next
	l.next++
	l.sockets[sock.id] = sock
	return sock.id, nil
}

// Bind makes s reachable at addr.
func (l *Layer) Bind(s sp.Socket, addr string) error {
	if addr == "" {
		return fmt.Errorf("bind: empty address: %w", sp.ErrInvalid)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	sock, err := l.lookup(s)
	if err != nil {
		return err
	}
	if _, taken := l.bound[addr]; taken {
		return fmt.Errorf("bind %s: %w", addr, sp.ErrAddrInUse)
	}
	l.bound[addr] = sock
	sock.addrs = append(sock.addrs, addr)
	return nil
}

// Connect pairs s with the socket bound at addr.
func (l *Layer) Connect(s sp.Socket, addr string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	sock, err := l.lookup(s)
	if err != nil {
		return err
	}
	target, ok := l.bound[addr]
	if !ok {
		return fmt.Errorf("connect %s: %w", addr, sp.ErrConnRefused)
	}
	if target == sock {
		return fmt.Errorf("connect %s: socket connected to itself: %w", addr, sp.ErrInvalid)
	}
	if !containsPeer(sock.peers, target) {
		sock.peers = append(sock.peers, target)
		target.peers = append(target.peers, sock)
	}
	l.refreshAround(sock)
	l.refreshAround(target)
	l.cond.Broadcast()
	return nil
}

// Close closes s.  Blocked and later calls on s fail with
// sp.ErrBadSocket; queued messages are discarded.
func (l *Layer) Close(s sp.Socket) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	sock, err := l.lookup(s)
	if err != nil {
		return err
	}
	delete(l.sockets, s)
	for _, addr := range sock.addrs {
		delete(l.bound, addr)
	}
	for _, p := range sock.peers {
		p.peers = removePeer(p.peers, sock)
		l.refresh(p)
	}
	sock.peers = nil
	sock.inbound = nil
	sock.pending = nil
	sock.closed = true

	// Leave the descriptors readable so that a poller blocked on them
	// wakes up and its next call observes ErrBadSocket.  Descriptors
	// handed out via GetOption stay open until Term so they cannot be
	// reused under a poller that is still watching them.
	l.refresh(sock)
	if sock.exported {
		l.retired = append(l.retired, sock)
	} else {
		sock.rcv.close()
		sock.snd.close()
	}
	l.cond.Broadcast()
	return nil
}

// Term tears the layer down.  Every blocked and later call fails with
// sp.ErrTerminated.  Term is idempotent.
func (l *Layer) Term() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.term {
		return
	}
	l.term = true

	all := l.retired
	for _, sock := range l.sockets {
		sock.closed = true
		l.refresh(sock)
		all = append(all, sock)
	}
	l.cond.Broadcast()

	for _, sock := range all {
		sock.rcv.close()
		sock.snd.close()
	}
	l.sockets = map[sp.Socket]*socket{}
	l.bound = map[string]*socket{}
	l.retired = nil
}

// ── sp.Layer ─────────────────────────────────────────────────────────

// GetOption implements sp.Layer.
func (l *Layer) GetOption(s sp.Socket, level sp.Level, option sp.Option) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	sock, err := l.lookup(s)
	if err != nil {
		return 0, err
	}
	if level != sp.SolSocket {
		return 0, sp.ErrNoSuchOption
	}

	switch option {
	case sp.OptDomain:
		return int(sock.domain), nil
	case sp.OptProtocol:
		return int(sock.protocol), nil
	case sp.OptRcvFd:
		if sock.rcv == nil {
			return 0, sp.ErrNoSuchOption
		}
		sock.exported = true
		return sock.rcv.fd(), nil
	case sp.OptSndFd:
		if sock.snd == nil {
			return 0, sp.ErrNoSuchOption
		}
		sock.exported = true
		return sock.snd.fd(), nil
	default:
		return 0, sp.ErrNoSuchOption
	}
}

// RecvMsg implements sp.Layer.
func (l *Layer) RecvMsg(s sp.Socket, flags sp.Flags) (*sp.Message, int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	sock, err := l.lookup(s)
	if err != nil {
		return nil, 0, err
	}
	if !sock.protocol.CanRecv() {
		return nil, 0, sp.ErrNotSupported
	}

	for {
		if l.term {
			return nil, 0, sp.ErrTerminated
		}
		if sock.closed {
			return nil, 0, sp.ErrBadSocket
		}
		if len(sock.inbound) > 0 {
			msg := sock.inbound[0]
			sock.inbound[0] = nil
			sock.inbound = sock.inbound[1:]
			sock.received(msg)
			l.refreshAround(sock)
			l.cond.Broadcast()
			return msg, len(msg.Body), nil
		}
		if flags&sp.DontWait != 0 {
			return nil, 0, sp.ErrAgain
		}
		l.cond.Wait()
	}
}

// SendMsg implements sp.Layer.
//
// PUB, SURVEYOR and BUS sockets hand a copy to every peer with room
// and never block.  Raw REP and RESPONDENT sockets send a reply to the
// peer named by the backtrace in its control payload.  Every other
// socket sends round-robin to peers with room.
//
// A blocking send waits for room (or for a first peer).  A
// non-blocking send never fails for lack of room: when no peer can
// take the message right now it is discarded, the way a raw socket
// drops traffic for a pipe that is full or gone.  A device relies on
// this, since the readiness it saw may be stale by the time it sends.
func (l *Layer) SendMsg(s sp.Socket, msg *sp.Message, flags sp.Flags) error {
	if msg == nil {
		return fmt.Errorf("send: nil message: %w", sp.ErrInvalid)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	sock, err := l.lookup(s)
	if err != nil {
		return err
	}
	if !sock.protocol.CanSend() {
		return sp.ErrNotSupported
	}
	sock.replying(msg)

	for {
		if l.term {
			return sp.ErrTerminated
		}
		if sock.closed {
			return sp.ErrBadSocket
		}

		switch {
		case fansOut(sock.protocol):
			l.fanOut(sock, msg)
			l.cond.Broadcast()
			return nil

		case routesReplies(sock):
			id, rest, ok := popPipeKey(msg.Control)
			if !ok {
				return nil
			}
			p := l.peerByID(sock, id)
			if p == nil {
				return nil
			}
			if l.hasRoom(p) {
				msg.Control = rest
				l.deliver(sock, p, msg)
				l.cond.Broadcast()
				return nil
			}

		default:
			if p := l.pickPeer(sock); p != nil {
				l.deliver(sock, p, msg)
				l.cond.Broadcast()
				return nil
			}
		}

		if flags&sp.DontWait != 0 {
			return nil
		}
		l.cond.Wait()
	}
}

// ── Convenience ──────────────────────────────────────────────────────

// Send sends body with an empty control payload.
func (l *Layer) Send(s sp.Socket, body []byte, flags sp.Flags) error {
	return l.SendMsg(s, &sp.Message{Body: body}, flags)
}

// Recv receives one message body.
func (l *Layer) Recv(s sp.Socket, flags sp.Flags) ([]byte, error) {
	msg, _, err := l.RecvMsg(s, flags)
	if err != nil {
		return nil, err
	}
	return msg.Body, nil
}

// ── internals (l.mu held) ────────────────────────────────────────────

func (l *Layer) lookup(s sp.Socket) (*socket, error) {
	if l.term {
		return nil, sp.ErrTerminated
	}
	sock, ok := l.sockets[s]
	if !ok {
		return nil, sp.ErrBadSocket
	}
	return sock, nil
}

func (l *Layer) hasRoom(p *socket) bool {
	return !p.closed && p.protocol.CanRecv() && len(p.inbound) < l.queueLen
}

func (l *Layer) pickPeer(sock *socket) *socket {
	n := len(sock.peers)
	for i := 0; i < n; i++ {
		p := sock.peers[(sock.rr+i)%n]
		if l.hasRoom(p) {
			sock.rr = (sock.rr + i + 1) % n
			return p
		}
	}
	return nil
}

// refresh brings sock's descriptors in line with its queues.
func (l *Layer) refresh(sock *socket) {
	if sock.closed {
		sock.rcv.set(true)
		sock.snd.set(true)
		return
	}
	sock.rcv.set(len(sock.inbound) > 0)
	room := false
	for _, p := range sock.peers {
		if l.hasRoom(p) {
			room = true
			break
		}
	}
	sock.snd.set(room)
}

// refreshAround refreshes sock and every socket whose send side
// depends on sock's queue.
func (l *Layer) refreshAround(sock *socket) {
	l.refresh(sock)
	for _, p := range sock.peers {
		l.refresh(p)
	}
}

func containsPeer(peers []*socket, p *socket) bool {
	for _, q := range peers {
		if q == p {
			return true
		}
	}
	return false
}

func removePeer(peers []*socket, p *socket) []*socket {
	out := peers[:0]
	for _, q := range peers {
		if q != p {
			out = append(out, q)
		}
	}
	return out
}
