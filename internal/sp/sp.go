// Package sp defines the contract between the forwarding device and the
// scalable-protocols socket layer it runs on.
//
// The device never opens, binds or closes sockets.  It only queries
// options, receives whole messages and sends them on.  Everything it
// needs from a socket layer is captured by the [Layer] interface, which
// keeps the device testable against fakes and against the in-process
// layer in package inproc.
package sp

import "errors"

// Socket is an opaque handle issued by a socket layer.  Negative values
// mean "no socket".
type Socket int

// NoSocket is the canonical unset handle.
const NoSocket Socket = -1

// Valid reports whether s refers to a socket at all.
func (s Socket) Valid() bool { return s >= 0 }

// NoFd marks a direction the socket does not expose.
const NoFd = -1

// ── Domains ──────────────────────────────────────────────────────────

// Domain selects between full protocol sockets and raw sockets.
type Domain int

const (
	// AFSP sockets run the full protocol state machine.
	AFSP Domain = 1
	// AFSPRaw sockets pass messages without protocol-role
	// restrictions.  Devices require them.
	AFSPRaw Domain = 2
)

func (d Domain) String() string {
	switch d {
	case AFSP:
		return "AF_SP"
	case AFSPRaw:
		return "AF_SP_RAW"
	default:
		return "unknown"
	}
}

// ── Protocols ────────────────────────────────────────────────────────

// Protocol packs a family in its high bits and a role in the low four.
// Two protocols belong to the same family when Protocol/16 matches.
type Protocol int

const (
	Pair       Protocol = 1*16 + 0
	Pub        Protocol = 2*16 + 0
	Sub        Protocol = 2*16 + 1
	Req        Protocol = 3*16 + 0
	Rep        Protocol = 3*16 + 1
	Push       Protocol = 5*16 + 0
	Pull       Protocol = 5*16 + 1
	Surveyor   Protocol = 6*16 + 2
	Respondent Protocol = 6*16 + 3
	Bus        Protocol = 7*16 + 0
)

// Family returns the protocol family number.
func (p Protocol) Family() int { return int(p) / 16 }

// CanSend reports whether sockets of this protocol have a send side.
func (p Protocol) CanSend() bool { return p != Sub && p != Pull }

// CanRecv reports whether sockets of this protocol have a receive side.
func (p Protocol) CanRecv() bool { return p != Pub && p != Push }

func (p Protocol) String() string {
	switch p {
	case Pair:
		return "pair"
	case Pub:
		return "pub"
	case Sub:
		return "sub"
	case Req:
		return "req"
	case Rep:
		return "rep"
	case Push:
		return "push"
	case Pull:
		return "pull"
	case Surveyor:
		return "surveyor"
	case Respondent:
		return "respondent"
	case Bus:
		return "bus"
	default:
		return "unknown"
	}
}

// ── Options ──────────────────────────────────────────────────────────

// Level is an option level.
type Level int

// SolSocket is the generic socket-level option namespace.
const SolSocket Level = 0

// Option names a socket option.
type Option int

const (
	OptDomain Option = iota + 1
	OptProtocol
	OptRcvFd
	OptSndFd
)

func (o Option) String() string {
	switch o {
	case OptDomain:
		return "domain"
	case OptProtocol:
		return "protocol"
	case OptRcvFd:
		return "rcvfd"
	case OptSndFd:
		return "sndfd"
	default:
		return "unknown"
	}
}

// ── Messages ─────────────────────────────────────────────────────────

// Flags modify a receive or send call.
type Flags int

const (
	// Blocking is the zero value: wait until the call can complete.
	Blocking Flags = 0
	// DontWait returns ErrAgain instead of blocking.
	DontWait Flags = 1
)

// Message is a whole message: body plus control (header) payload.
// Layers hand out the same *Message they were given; nobody copies it
// on the way through a device.
type Message struct {
	Body    []byte
	Control []byte
}

// Layer is the part of a socket layer a device consumes.
type Layer interface {
	// GetOption returns an integer option.  It returns ErrNoSuchOption
	// when the option does not apply to the socket.
	GetOption(s Socket, level Level, option Option) (int, error)

	// RecvMsg receives one whole message and its body length.
	RecvMsg(s Socket, flags Flags) (*Message, int, error)

	// SendMsg sends one whole message.  On success the layer owns msg.
	SendMsg(s Socket, msg *Message, flags Flags) error
}

// ── Errors ───────────────────────────────────────────────────────────

var (
	// ErrNoSuchOption means the option does not apply to this socket.
	// For descriptor options it means the direction is unsupported.
	ErrNoSuchOption = errors.New("sp: protocol not available")

	// ErrBadSocket means the handle is invalid or was closed.
	ErrBadSocket = errors.New("sp: bad socket")

	// ErrTerminated means the owning layer was torn down.
	ErrTerminated = errors.New("sp: layer terminated")

	// ErrAgain means a DontWait call could not complete right now.
	ErrAgain = errors.New("sp: resource temporarily unavailable")

	// ErrNotSupported means the operation is not valid for the
	// socket's protocol (e.g. receiving on a PUB socket).
	ErrNotSupported = errors.New("sp: operation not supported")

	// ErrInvalid covers bad arguments: unknown domain, protocol or
	// address.
	ErrInvalid = errors.New("sp: invalid argument")

	// ErrAddrInUse means an address is already bound.
	ErrAddrInUse = errors.New("sp: address in use")

	// ErrConnRefused means nothing is bound at the address.
	ErrConnRefused = errors.New("sp: connection refused")
)

// IsShutdown reports whether err is the socket layer telling its
// caller to stop: the layer was terminated or the socket went away.
func IsShutdown(err error) bool {
	return errors.Is(err, ErrTerminated) || errors.Is(err, ErrBadSocket)
}
