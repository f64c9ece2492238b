package device

import (
	"fmt"

	"spdev/internal/errors"
	"spdev/internal/poller"
	"spdev/internal/sp"
)

// loopback moves every message s receives back into s.
func (d *Device) loopback(r *Recipe, s sp.Socket) error {
	domain, err := d.option(s, sp.OptDomain)
	if err != nil {
		return err
	}
	if sp.Domain(domain) != sp.AFSPRaw {
		return errors.Invalid("domain", sp.Domain(domain), "loopback device needs a raw socket")
	}

	d.logger().Verbose("device %d: %s", s, Loopback)
	return d.track(func() error {
		for {
			if err := d.move(r, s, s, sp.Blocking); err != nil {
				return err
			}
		}
	})
}

// oneWay moves messages from src to dst with blocking calls.  With one
// direction there is nothing to multiplex; the blocking receive and
// send provide the backpressure.
func (d *Device) oneWay(r *Recipe, src, dst sp.Socket) error {
	for {
		if err := d.move(r, src, dst, sp.Blocking); err != nil {
			return err
		}
	}
}

// Slots of the two-way wait set.
const (
	aRecv = iota
	aSend
	bRecv
	bSend
)

// twoWay multiplexes both directions.  A descriptor that reports ready
// stays ready, and out of the wait set, until a move consumes it; both
// descriptors of a direction are consumed by every move, so the next
// message in that direction needs fresh readiness on both sides.
func (d *Device) twoWay(r *Recipe, w poller.Waiter, s1, s2 sp.Socket, dirs Directions) error {
	events := []poller.Event{
		aRecv: {Fd: dirs.ARecv},
		aSend: {Fd: dirs.ASend},
		bRecv: {Fd: dirs.BRecv},
		bSend: {Fd: dirs.BSend},
	}

	for {
		for i := range events {
			events[i].Armed = !events[i].Ready
		}
		if _, err := w.Wait(events); err != nil {
			if sp.IsShutdown(err) {
				return errors.ErrShutdown
			}
			return fmt.Errorf("device: %w", err)
		}

		if events[aRecv].Ready && events[bSend].Ready {
			if err := d.move(r, s1, s2, sp.DontWait); err != nil {
				return err
			}
			events[aRecv].Ready = false
			events[bSend].Ready = false
		}

		if events[bRecv].Ready && events[aSend].Ready {
			if err := d.move(r, s2, s1, sp.DontWait); err != nil {
				return err
			}
			events[bRecv].Ready = false
			events[aSend].Ready = false
		}
	}
}
