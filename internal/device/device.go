// Package device implements the forwarding device: an engine that
// bridges two scalable-protocols sockets, or loops one socket back on
// itself, so messages flow without an application re-sending them.
//
// A call to Run validates the sockets against a Recipe, picks exactly
// one forwarding loop, and then blocks in that loop for good.  It
// returns only when the sockets go away (errors.ErrShutdown), when the
// recipe's rewrite hook fails (*HookError), or straight away when the
// configuration is unusable (*errors.ConfigError).  A socket layer that
// breaks its contract mid-loop is a programming error and panics with
// *errors.FatalError.
//
// Devices share no state.  Run as many as needed, one goroutine each.
package device

import (
	"fmt"

	"spdev/internal/errors"
	"spdev/internal/metrics"
	"spdev/internal/poller"
	"spdev/internal/sp"
	"spdev/util"
)

// RunFlags alter how Run treats edge cases.
type RunFlags int

const (
	// AbortOnNoStrategy panics with *errors.FatalError when validation
	// passes but no loop fits the sockets, instead of returning a
	// configuration error.
	AbortOnNoStrategy RunFlags = 1 << iota
)

// Device runs forwarding loops over one socket layer.
type Device struct {
	Layer   sp.Layer
	Backend string // readiness backend for two-way loops; "" = poller.DefaultBackend
	Logger  *util.Logger
	Metrics *metrics.Collector
}

var quiet = util.NewLogger(0)

func (d *Device) logger() *util.Logger {
	if d.Logger == nil {
		return quiet
	}
	return d.Logger
}

// Proxy runs a transparent device between s1 and s2 with the Ordinary
// recipe.
func (d *Device) Proxy(s1, s2 sp.Socket) error {
	return d.Run(Ordinary(), s1, s2, 0)
}

// Run validates s1 and s2 against recipe and forwards messages between
// them until shutdown.  A nil recipe means Ordinary.  Either socket may
// be sp.NoSocket when the recipe allows loopback.
func (d *Device) Run(recipe *Recipe, s1, s2 sp.Socket, flags RunFlags) error {
	if recipe == nil {
		recipe = Ordinary()
	}
	c := recipe.Checks

	if c.AtLeastOneSocket && !s1.Valid() && !s2.Valid() {
		return &errors.ConfigError{
			Field:   "sockets",
			Message: "at least one socket is required",
			Err:     errors.ErrBadDescriptor,
		}
	}

	if c.AllowLoopback {
		if !s2.Valid() {
			return d.loopback(recipe, s1)
		}
		if !s1.Valid() {
			return d.loopback(recipe, s2)
		}
	}

	if c.RequireRaw {
		for _, s := range []sp.Socket{s1, s2} {
			domain, err := d.option(s, sp.OptDomain)
			if err != nil {
				return err
			}
			if sp.Domain(domain) != sp.AFSPRaw {
				return errors.Invalid("domain", sp.Domain(domain),
					fmt.Sprintf("socket %d is not %s", s, sp.AFSPRaw))
			}
		}
	}

	if c.SameFamily {
		p1, err := d.option(s1, sp.OptProtocol)
		if err != nil {
			return err
		}
		p2, err := d.option(s2, sp.OptProtocol)
		if err != nil {
			return err
		}
		if p1/16 != p2/16 {
			return errors.Invalid("protocol", fmt.Sprintf("%s/%s", sp.Protocol(p1), sp.Protocol(p2)),
				"sockets belong to different protocol families")
		}
	}

	dirs, err := d.directions(s1, s2)
	if err != nil {
		return err
	}

	if c.Directionality {
		if err := checkDirectionality(dirs); err != nil {
			return err
		}
	}

	strategy, err := SelectStrategy(c, dirs)
	if err != nil {
		if flags&AbortOnNoStrategy != 0 {
			errors.Fatal("select strategy", err)
		}
		return err
	}

	log := d.logger()
	switch strategy {
	case TwoWay:
		waiter, err := poller.New(d.Backend)
		if err != nil {
			return err
		}
		log.Verbose("device %d<->%d: %s (%s)", s1, s2, strategy, waiter.Name())
		return d.track(func() error { return d.twoWay(recipe, waiter, s1, s2, dirs) })
	case OneWayForward:
		log.Verbose("device %d->%d: %s", s1, s2, strategy)
		return d.track(func() error { return d.oneWay(recipe, s1, s2) })
	default:
		log.Verbose("device %d->%d: %s", s2, s1, strategy)
		return d.track(func() error { return d.oneWay(recipe, s2, s1) })
	}
}

// track brackets a running loop in the device gauge.
func (d *Device) track(loop func() error) error {
	d.Metrics.DeviceStarted()
	defer d.Metrics.DeviceStopped()
	err := loop()
	if errors.IsShutdown(err) {
		d.logger().Verbose("device shut down")
	}
	return err
}
