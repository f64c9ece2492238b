package device

import (
	"fmt"

	"spdev/internal/errors"
	"spdev/internal/sp"
)

// option reads a socket-level integer option.
func (d *Device) option(s sp.Socket, opt sp.Option) (int, error) {
	v, err := d.Layer.GetOption(s, sp.SolSocket, opt)
	if err != nil {
		return 0, fmt.Errorf("device: socket %d %s: %w", s, opt, err)
	}
	return v, nil
}

// descriptor reads a readiness descriptor option.  A socket without
// that direction reports sp.NoFd.
func (d *Device) descriptor(s sp.Socket, opt sp.Option) (int, error) {
	fd, err := d.Layer.GetOption(s, sp.SolSocket, opt)
	if errors.Is(err, sp.ErrNoSuchOption) {
		return sp.NoFd, nil
	}
	if err != nil {
		return sp.NoFd, fmt.Errorf("device: socket %d %s: %w", s, opt, err)
	}
	if fd < 0 {
		errors.Fatal(fmt.Sprintf("socket %d %s", s, opt), fmt.Errorf("negative descriptor %d", fd))
	}
	return fd, nil
}

// directions probes all four readiness descriptors.
func (d *Device) directions(s1, s2 sp.Socket) (Directions, error) {
	var dirs Directions
	probes := []struct {
		s   sp.Socket
		opt sp.Option
		dst *int
	}{
		{s1, sp.OptRcvFd, &dirs.ARecv},
		{s1, sp.OptSndFd, &dirs.ASend},
		{s2, sp.OptRcvFd, &dirs.BRecv},
		{s2, sp.OptSndFd, &dirs.BSend},
	}
	for _, p := range probes {
		fd, err := d.descriptor(p.s, p.opt)
		if err != nil {
			return Directions{}, err
		}
		*p.dst = fd
	}
	return dirs, nil
}
