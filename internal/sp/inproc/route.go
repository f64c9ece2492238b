package inproc

import (
	"bytes"
	"encoding/binary"

	"spdev/internal/sp"
)

// ── Backtraces ───────────────────────────────────────────────────────
//
// Raw REP, RESPONDENT and BUS sockets push the key of the peer a
// message came from onto the front of its control payload.  A reply
// sent on such a socket pops the key again and goes to that peer only.
// Keys are four bytes, big endian, top bit clear; a device moves the
// control payload untouched, so the key survives the trip through it.

const pipeKeySize = 4

// maxPending bounds the backtraces a cooked REP or RESPONDENT socket
// keeps for requests it has not answered.
const maxPending = 1024

func pipeKey(s sp.Socket) []byte {
	var k [pipeKeySize]byte
	binary.BigEndian.PutUint32(k[:], uint32(s)&0x7fffffff)
	return k[:]
}

// popPipeKey splits the first key off control.
func popPipeKey(control []byte) (sp.Socket, []byte, bool) {
	if len(control) < pipeKeySize || control[0]&0x80 != 0 {
		return sp.NoSocket, control, false
	}
	return sp.Socket(binary.BigEndian.Uint32(control)), control[pipeKeySize:], true
}

// stampsOrigin reports whether sock records where each message came
// from.
func stampsOrigin(sock *socket) bool {
	if sock.domain != sp.AFSPRaw {
		return false
	}
	switch sock.protocol {
	case sp.Rep, sp.Respondent, sp.Bus:
		return true
	}
	return false
}

// routesReplies reports whether sends on sock go back along the
// backtrace instead of to any peer.
func routesReplies(sock *socket) bool {
	return stampsOrigin(sock) && sock.protocol != sp.Bus
}

// remembersRequests reports whether sock answers requests: a reply
// sent without a control payload gets the backtrace of the oldest
// unanswered request.
func remembersRequests(sock *socket) bool {
	return sock.domain == sp.AFSP && (sock.protocol == sp.Rep || sock.protocol == sp.Respondent)
}

// fansOut reports whether one send reaches every peer.
func fansOut(p sp.Protocol) bool {
	return p == sp.Pub || p == sp.Surveyor || p == sp.Bus
}

// received records the backtrace of a request handed to the user.
func (sock *socket) received(msg *sp.Message) {
	if !remembersRequests(sock) {
		return
	}
	if len(sock.pending) == maxPending {
		sock.pending[0] = nil
		sock.pending = sock.pending[1:]
	}
	sock.pending = append(sock.pending, msg.Control)
}

// replying attaches or retires the backtrace of the request msg
// answers.
func (sock *socket) replying(msg *sp.Message) {
	if !remembersRequests(sock) || len(sock.pending) == 0 {
		return
	}
	if len(msg.Control) == 0 {
		msg.Control = sock.pending[0]
		sock.pending[0] = nil
		sock.pending = sock.pending[1:]
		return
	}
	for i, bt := range sock.pending {
		if bytes.Equal(bt, msg.Control) {
			sock.pending = append(sock.pending[:i], sock.pending[i+1:]...)
			return
		}
	}
}

func (l *Layer) peerByID(sock *socket, id sp.Socket) *socket {
	for _, p := range sock.peers {
		if p.id == id {
			return p
		}
	}
	return nil
}

// deliver queues msg on p, stamping the sender when p asks for it.
// The caller has checked that p has room.
func (l *Layer) deliver(from, p *socket, msg *sp.Message) {
	if stampsOrigin(p) {
		control := make([]byte, 0, pipeKeySize+len(msg.Control))
		control = append(append(control, pipeKey(from.id)...), msg.Control...)
		msg.Control = control
	}
	p.inbound = append(p.inbound, msg)
	l.refreshAround(p)
}

// fanOut queues a copy of msg on every peer with room except the one
// a raw BUS message came from.  Peers without room miss the message.
func (l *Layer) fanOut(sock *socket, msg *sp.Message) {
	skip := sp.NoSocket
	if stampsOrigin(sock) {
		if id, rest, ok := popPipeKey(msg.Control); ok {
			skip, msg.Control = id, rest
		}
	}
	body, control := msg.Body, msg.Control
	first := true
	for _, p := range sock.peers {
		if p.id == skip || !l.hasRoom(p) {
			continue
		}
		m := msg
		if !first {
			m = &sp.Message{Body: body, Control: control}
		}
		first = false
		l.deliver(sock, p, m)
	}
}
