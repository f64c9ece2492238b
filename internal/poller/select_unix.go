//go:build unix

package poller

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"

	"spdev/internal/sp"
)

// fdSetSize is the number of descriptors an FdSet can hold.
const fdSetSize = int(unsafe.Sizeof(unix.FdSet{})) * 8

// selectWaiter waits with select(2) over a read descriptor set.
type selectWaiter struct {
	set unix.FdSet
}

func newSelect() (Waiter, error) { return &selectWaiter{}, nil }

func (w *selectWaiter) Name() string { return BackendSelect }

func (w *selectWaiter) Wait(events []Event) (int, error) {
	if armedCount(events) == 0 {
		return 0, errNothingArmed
	}

	for {
		w.set.Zero()
		maxFd := -1
		for _, ev := range events {
			if !ev.Armed {
				continue
			}
			if ev.Fd < 0 || ev.Fd >= fdSetSize {
				return 0, fmt.Errorf("select: descriptor %d out of range", ev.Fd)
			}
			w.set.Set(ev.Fd)
			if ev.Fd > maxFd {
				maxFd = ev.Fd
			}
		}

		_, err := unix.Select(maxFd+1, &w.set, nil, nil, nil)
		if err == unix.EINTR {
			continue
		}
		if err == unix.EBADF {
			// A descriptor in the set was closed under us: the socket
			// behind it is gone.
			return 0, fmt.Errorf("select: %w", sp.ErrBadSocket)
		}
		if err != nil {
			return 0, fmt.Errorf("select: %w", err)
		}
		break
	}

	n := 0
	for i := range events {
		if events[i].Armed && w.set.IsSet(events[i].Fd) {
			events[i].Ready = true
			n++
		}
	}
	return n, nil
}
