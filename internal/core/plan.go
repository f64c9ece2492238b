package core

import (
	"fmt"

	"spdev/config"
	"spdev/internal/device"
	"spdev/internal/sp"
)

// Plan is everything needed to start one device, resolved from its
// configuration before any socket exists.
type Plan struct {
	Name    string
	Pattern string

	// Front and Back are the raw protocols of the device's sockets.
	// Back is zero for loopback devices.
	Front, Back sp.Protocol

	FrontEndpoints []config.Endpoint
	BackEndpoints  []config.Endpoint

	Checks   device.Checks
	Strategy device.Strategy
	Hooks    []config.HookConfig
	Flags    device.RunFlags
}

// Loopback reports whether the device runs over its front socket only.
func (p *Plan) Loopback() bool { return p.Back == 0 }

// FrontAddr and BackAddr are where the device's sockets are bound on
// the in-process layer.
func (p *Plan) FrontAddr() string { return "inproc://" + p.Name + "/front" }
func (p *Plan) BackAddr() string  { return "inproc://" + p.Name + "/back" }

// patternProtocols maps a pattern to the protocols of the device's
// front and back sockets.  The front faces the pattern's initiators
// (requesters, publishers, pushers, surveyors); the back faces the
// other role.
func patternProtocols(pattern string) (front, back sp.Protocol, err error) {
	switch pattern {
	case config.PatternPair:
		return sp.Pair, sp.Pair, nil
	case config.PatternReqRep:
		return sp.Rep, sp.Req, nil
	case config.PatternPubSub:
		return sp.Sub, sp.Pub, nil
	case config.PatternPipeline:
		return sp.Pull, sp.Push, nil
	case config.PatternSurvey:
		return sp.Respondent, sp.Surveyor, nil
	case config.PatternBus:
		return sp.Bus, 0, nil
	default:
		return 0, 0, fmt.Errorf("unknown pattern %q", pattern)
	}
}

// peerProtocol is the protocol remote peers speak towards a device
// socket of protocol p.
func peerProtocol(p sp.Protocol) sp.Protocol {
	switch p {
	case sp.Req:
		return sp.Rep
	case sp.Rep:
		return sp.Req
	case sp.Pub:
		return sp.Sub
	case sp.Sub:
		return sp.Pub
	case sp.Push:
		return sp.Pull
	case sp.Pull:
		return sp.Push
	case sp.Surveyor:
		return sp.Respondent
	case sp.Respondent:
		return sp.Surveyor
	default:
		return p
	}
}

// directionsOf mirrors what a device will probe on sockets of the given
// protocols, so a plan can name its loop before the sockets exist.
func directionsOf(front, back sp.Protocol) device.Directions {
	fd := func(ok bool) int {
		if ok {
			return 0
		}
		return sp.NoFd
	}
	return device.Directions{
		ARecv: fd(front.CanRecv()), ASend: fd(front.CanSend()),
		BRecv: fd(back.CanRecv()), BSend: fd(back.CanSend()),
	}
}

// PlanDevices resolves every device in cfg.  cfg must have defaults
// applied and be valid.
func PlanDevices(cfg *config.Config) ([]Plan, error) {
	plans := make([]Plan, 0, len(cfg.Devices))
	for i := range cfg.Devices {
		p, err := planDevice(&cfg.Devices[i])
		if err != nil {
			return nil, fmt.Errorf("device %s: %w", cfg.Devices[i].Name, err)
		}
		plans = append(plans, p)
	}
	return plans, nil
}

func planDevice(d *config.DeviceConfig) (Plan, error) {
	p := Plan{Name: d.Name, Pattern: d.Pattern, Hooks: d.Hooks}
	var err error
	if p.Front, p.Back, err = patternProtocols(d.Pattern); err != nil {
		return Plan{}, err
	}
	if p.Checks, err = device.ParseChecks(d.Checks); err != nil {
		return Plan{}, err
	}
	if d.AbortOnNoStrategy {
		p.Flags |= device.AbortOnNoStrategy
	}
	if p.FrontEndpoints, err = parseEndpoints(d.Front); err != nil {
		return Plan{}, err
	}
	if p.BackEndpoints, err = parseEndpoints(d.Back); err != nil {
		return Plan{}, err
	}

	switch {
	case p.Loopback() && p.Checks.AllowLoopback:
		p.Strategy = device.Loopback
	case p.Loopback():
		return Plan{}, fmt.Errorf("pattern %s needs the %s check", d.Pattern, device.CheckAllowLoopback)
	default:
		p.Strategy, err = device.SelectStrategy(p.Checks, directionsOf(p.Front, p.Back))
		// With AbortOnNoStrategy the device itself gets to abort.
		if err != nil && p.Flags&device.AbortOnNoStrategy == 0 {
			return Plan{}, err
		}
	}
	return p, nil
}

func parseEndpoints(raw []string) ([]config.Endpoint, error) {
	eps := make([]config.Endpoint, 0, len(raw))
	for _, r := range raw {
		ep, err := config.ParseEndpoint(r)
		if err != nil {
			return nil, err
		}
		eps = append(eps, ep)
	}
	return eps, nil
}
