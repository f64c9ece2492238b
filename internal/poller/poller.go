// Package poller provides the readiness wait a two-way device blocks in.
//
// A Waiter blocks until at least one armed descriptor becomes readable.
// Two backends exist, one built on poll(2) and one on select(2).  They
// differ only in how the kernel is asked; a device loop written against
// Waiter behaves identically on either.
package poller

import (
	"fmt"

	"spdev/internal/errors"
)

// Event is one descriptor in a wait set.  Only armed events are
// waited on; Wait sets Ready on those that became readable and leaves
// the others untouched.
type Event struct {
	Fd    int
	Armed bool
	Ready bool
}

// Waiter blocks on a set of readiness descriptors.
type Waiter interface {
	// Wait blocks with no timeout until at least one armed event is
	// readable and returns how many were marked ready.
	Wait(events []Event) (int, error)

	// Name identifies the backend in logs.
	Name() string
}

// Backend names accepted by New.
const (
	BackendPoll   = "poll"
	BackendSelect = "select"
)

// DefaultBackend is used when no backend is configured.
const DefaultBackend = BackendPoll

// errNothingArmed guards against a wait that could never return.
var errNothingArmed = errors.New("poller: no armed events")

// New returns a fresh Waiter for the named backend.  Waiters keep
// scratch state and must not be shared between goroutines.
func New(name string) (Waiter, error) {
	switch name {
	case "", BackendPoll:
		return newPoll()
	case BackendSelect:
		return newSelect()
	default:
		return nil, fmt.Errorf("poller: unknown backend %q", name)
	}
}

// Backends lists the backend names New accepts.
func Backends() []string { return []string{BackendPoll, BackendSelect} }

func armedCount(events []Event) int {
	n := 0
	for i := range events {
		if events[i].Armed {
			n++
		}
	}
	return n
}
