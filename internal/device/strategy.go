package device

import (
	"fmt"

	"spdev/internal/errors"
	"spdev/internal/sp"
)

// Strategy is the forwarding loop a device runs.
type Strategy int

const (
	// Loopback moves messages from one socket back into itself.
	Loopback Strategy = iota + 1
	// OneWayForward moves messages from the first socket to the second.
	OneWayForward
	// OneWayBackward moves messages from the second socket to the first.
	OneWayBackward
	// TwoWay multiplexes both directions on readiness.
	TwoWay
)

func (s Strategy) String() string {
	switch s {
	case Loopback:
		return "loopback"
	case OneWayForward:
		return "one-way a->b"
	case OneWayBackward:
		return "one-way b->a"
	case TwoWay:
		return "two-way"
	default:
		return "none"
	}
}

// Directions holds the readiness descriptors of both sockets, with
// sp.NoFd for each direction a socket does not expose.
type Directions struct {
	ARecv, ASend int
	BRecv, BSend int
}

func has(fd int) bool { return fd != sp.NoFd }

// Pattern renders which directions are present, e.g. "rs/rs" or "r-/-s".
func (d Directions) Pattern() string {
	mark := func(fd int, c byte) byte {
		if has(fd) {
			return c
		}
		return '-'
	}
	return string([]byte{
		mark(d.ARecv, 'r'), mark(d.ASend, 's'), '/',
		mark(d.BRecv, 'r'), mark(d.BSend, 's'),
	})
}

// checkDirectionality requires that every direction one socket offers
// is matched by the opposite direction on the other.
func checkDirectionality(d Directions) error {
	switch {
	case has(d.ARecv) && !has(d.BSend):
		return errors.Invalid("directions", d.Pattern(), "first socket receives but second cannot send")
	case has(d.ASend) && !has(d.BRecv):
		return errors.Invalid("directions", d.Pattern(), "first socket sends but second cannot receive")
	case has(d.BRecv) && !has(d.ASend):
		return errors.Invalid("directions", d.Pattern(), "second socket receives but first cannot send")
	case has(d.BSend) && !has(d.ARecv):
		return errors.Invalid("directions", d.Pattern(), "second socket sends but first cannot receive")
	}
	return nil
}

// SelectStrategy picks the loop for two sockets.  It depends only on
// which directions are present and which loops the checks allow.
func SelectStrategy(c Checks, d Directions) (Strategy, error) {
	if c.AllowBidirectional && has(d.ARecv) && has(d.ASend) && has(d.BRecv) && has(d.BSend) {
		return TwoWay, nil
	}
	if c.AllowUnidirectional {
		if has(d.ARecv) && !has(d.ASend) && !has(d.BRecv) && has(d.BSend) {
			return OneWayForward, nil
		}
		if !has(d.ARecv) && has(d.ASend) && has(d.BRecv) && !has(d.BSend) {
			return OneWayBackward, nil
		}
	}
	return 0, &errors.ConfigError{
		Field:   "directions",
		Value:   d.Pattern(),
		Message: fmt.Sprintf("no forwarding loop fits under checks %v", c.Names()),
		Err:     errors.Join(errors.ErrNoStrategy, errors.ErrInvalidConfig),
	}
}
