//go:build unix

package poller

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// pollWaiter waits with poll(2).
type pollWaiter struct {
	fds   []unix.PollFd
	index []int // fds[i] belongs to events[index[i]]
}

func newPoll() (Waiter, error) { return &pollWaiter{}, nil }

func (w *pollWaiter) Name() string { return BackendPoll }

func (w *pollWaiter) Wait(events []Event) (int, error) {
	if armedCount(events) == 0 {
		return 0, errNothingArmed
	}

	w.fds = w.fds[:0]
	w.index = w.index[:0]
	for i, ev := range events {
		if !ev.Armed {
			continue
		}
		w.fds = append(w.fds, unix.PollFd{Fd: int32(ev.Fd), Events: unix.POLLIN})
		w.index = append(w.index, i)
	}

	for {
		_, err := unix.Poll(w.fds, -1)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("poll: %w", err)
		}
		break
	}

	// Error conditions count as ready: the next receive or send on the
	// socket reports what actually went wrong.
	const readyMask = unix.POLLIN | unix.POLLERR | unix.POLLHUP | unix.POLLNVAL
	n := 0
	for i, pfd := range w.fds {
		if pfd.Revents&readyMask != 0 {
			events[w.index[i]].Ready = true
			n++
		}
	}
	return n, nil
}
