package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"spdev/config"
	"spdev/internal/device"
	"spdev/internal/errors"
	"spdev/internal/hooks"
	"spdev/internal/metrics"
	"spdev/internal/retry"
	"spdev/internal/sp"
	"spdev/internal/sp/inproc"
	"spdev/internal/transport"
	"spdev/util"
)

// DeviceMode runs every planned device on one in-process layer and
// connects the devices to their endpoints.
type DeviceMode struct {
	Plans     []Plan
	Backend   string
	QueueLen  int
	Transport transport.Options
	Redial    retry.Backoff

	// StatsInterval > 0 logs a metrics line that often and once more on
	// exit.
	StatsInterval time.Duration

	Logger  *util.Logger
	Metrics *metrics.Collector
}

var quiet = util.NewLogger(0)

func (m *DeviceMode) logger() *util.Logger {
	if m.Logger == nil {
		return quiet
	}
	return m.Logger
}

// task is one goroutine of a running mode.
type task func(ctx context.Context) error

// Run starts everything and blocks until ctx is done or something
// fails.  Devices ending in errors.ErrShutdown during teardown are the
// normal case and not reported.
func (m *DeviceMode) Run(ctx context.Context) error {
	log := m.logger()
	layer := inproc.New(inproc.WithQueueLen(m.QueueLen))
	defer layer.Term()

	var tasks []task
	var listeners []transport.Listener
	for i := range m.Plans {
		ts, lns, err := m.setup(layer, &m.Plans[i])
		listeners = append(listeners, lns...)
		if err != nil {
			for _, ln := range listeners {
				ln.Close()
			}
			return fmt.Errorf("device %s: %w", m.Plans[i].Name, err)
		}
		tasks = append(tasks, ts...)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errc := make(chan error, len(tasks))
	var wg sync.WaitGroup
	for _, t := range tasks {
		wg.Add(1)
		go func(t task) {
			defer wg.Done()
			if err := t(ctx); err != nil && !errors.IsShutdown(err) {
				errc <- err
			}
		}(t)
	}
	if m.StatsInterval > 0 {
		go m.reportStats(ctx)
	}

	var err error
	select {
	case <-ctx.Done():
		log.Verbose("shutting down")
	case err = <-errc:
		log.Verbose("stopping: %v", err)
	}
	cancel()
	layer.Term()
	wg.Wait()

	if m.StatsInterval > 0 {
		log.Info("final %s", statsLine(m.Metrics))
	}
	log.Debug("metrics %s", m.Metrics.JSON())
	return err
}

// setup creates and binds a device's sockets, builds its recipe and
// opens its listeners.  Nothing runs until the returned tasks start.
func (m *DeviceMode) setup(layer *inproc.Layer, p *Plan) ([]task, []transport.Listener, error) {
	log := m.logger().Named(p.Name)

	front, err := bound(layer, p.Front, p.FrontAddr())
	if err != nil {
		return nil, nil, err
	}
	back := sp.NoSocket
	if !p.Loopback() {
		if back, err = bound(layer, p.Back, p.BackAddr()); err != nil {
			return nil, nil, err
		}
	}

	rewriter, err := hooks.Build(p.Hooks, hooks.Sides{Front: front, Back: back}, log)
	if err != nil {
		return nil, nil, err
	}
	recipe := &device.Recipe{Checks: p.Checks, Rewrite: rewriter}
	dev := &device.Device{Layer: layer, Backend: m.Backend, Logger: log, Metrics: m.Metrics}

	tasks := []task{func(context.Context) error {
		if err := dev.Run(recipe, front, back, p.Flags); !errors.IsShutdown(err) {
			return fmt.Errorf("device %s: %w", p.Name, err)
		}
		return errors.ErrShutdown
	}}

	sides := []struct {
		protocol sp.Protocol
		addr     string
		eps      []config.Endpoint
	}{
		{p.Front, p.FrontAddr(), p.FrontEndpoints},
		{p.Back, p.BackAddr(), p.BackEndpoints},
	}
	var listeners []transport.Listener
	for _, side := range sides {
		port := &transport.Port{
			Layer:    layer,
			Addr:     side.addr,
			Protocol: peerProtocol(side.protocol),
			Logger:   log,
			Metrics:  m.Metrics,
		}
		for _, ep := range side.eps {
			t, ln, err := m.endpointTask(port, ep)
			if ln != nil {
				listeners = append(listeners, ln)
			}
			if err != nil {
				return nil, listeners, err
			}
			tasks = append(tasks, t)
		}
	}
	log.Verbose("%s device %s: %s/%s, %s", p.Pattern, p.Name, p.Front, p.Back, p.Strategy)
	return tasks, listeners, nil
}

func (m *DeviceMode) endpointTask(port *transport.Port, ep config.Endpoint) (task, transport.Listener, error) {
	if ep.Listen {
		ln, err := transport.Listen(ep, m.Transport)
		if err != nil {
			return nil, nil, err
		}
		return func(ctx context.Context) error { return port.Serve(ctx, ln) }, ln, nil
	}
	d, err := transport.NewDialer(ep.Scheme, m.Transport)
	if err != nil {
		return nil, nil, err
	}
	return func(ctx context.Context) error {
		defer d.Close()
		return port.Redial(ctx, d, ep, m.Redial)
	}, nil, nil
}

// bound creates a raw socket and binds it at addr.
func bound(layer *inproc.Layer, p sp.Protocol, addr string) (sp.Socket, error) {
	s, err := layer.Socket(sp.AFSPRaw, p)
	if err != nil {
		return sp.NoSocket, fmt.Errorf("%s socket: %w", p, err)
	}
	if err := layer.Bind(s, addr); err != nil {
		return sp.NoSocket, err
	}
	return s, nil
}

// ── stats ────────────────────────────────────────────────────────────

func (m *DeviceMode) reportStats(ctx context.Context) {
	t := time.NewTicker(m.StatsInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.logger().Info("%s", statsLine(m.Metrics))
		}
	}
}

func statsLine(c *metrics.Collector) string {
	s := c.Snapshot()
	line := fmt.Sprintf("stats: up %s, %d forwarded (%d bytes), %d dropped, %d hook failures, %d/%d connections, %d redials",
		s.Uptime, s.MessagesForwarded, s.BytesForwarded, s.MessagesDropped, s.HookFailures,
		s.ConnectionsActive, s.ConnectionsTotal, s.Redials)
	if s.LastErrorMessage != "" {
		line += ", last error: " + s.LastErrorMessage
	}
	return line
}
