//go:build unix

package inproc

import "golang.org/x/sys/unix"

// efd is a level-triggered event descriptor built from a non-blocking
// pipe: its read end is readable exactly while the event is signalled.
type efd struct {
	r, w     int
	signaled bool
}

func newEFD() (*efd, error) {
	var p [2]int
	if err := unix.Pipe(p[:]); err != nil {
		return nil, err
	}
	for _, fd := range p {
		unix.CloseOnExec(fd)
		if err := unix.SetNonblock(fd, true); err != nil {
			unix.Close(p[0])
			unix.Close(p[1])
			return nil, err
		}
	}
	return &efd{r: p[0], w: p[1]}, nil
}

func (e *efd) fd() int { return e.r }

func (e *efd) set(on bool) {
	if e == nil || on == e.signaled {
		return
	}
	if on {
		unix.Write(e.w, []byte{1}) //nolint:errcheck
	} else {
		var buf [16]byte
		for {
			n, err := unix.Read(e.r, buf[:])
			if n <= 0 || err != nil {
				break
			}
		}
	}
	e.signaled = on
}

func (e *efd) close() {
	if e == nil {
		return
	}
	unix.Close(e.r)
	unix.Close(e.w)
}
