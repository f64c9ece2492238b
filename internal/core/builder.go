package core

import (
	"os"

	"spdev/config"
	"spdev/internal/metrics"
	"spdev/internal/retry"
	"spdev/internal/transport"
	"spdev/util"
)

// Build constructs the Mode for a validated configuration: a PlanMode
// for dry runs, a DeviceMode otherwise.
func Build(cfg *config.Config, logger *util.Logger) (Mode, error) {
	plans, err := PlanDevices(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.DryRun {
		return &PlanMode{Plans: plans, Out: os.Stdout}, nil
	}

	m := &DeviceMode{
		Plans:    plans,
		Backend:  cfg.Backend,
		QueueLen: cfg.QueueLen,
		Transport: transport.Options{
			DialTimeout: cfg.DialTimeout,
			MaxConns:    cfg.MaxConns,
			QUICKey:     cfg.QUICKey,
		},
		Redial: retry.Backoff{
			InitialDelay: config.DefaultInitialBackoff,
			MaxDelay:     cfg.ReconnectBackoff,
			Multiplier:   2,
			MaxAttempts:  cfg.ReconnectAttempts,
			Jitter:       true,
		},
		Logger:  logger,
		Metrics: metrics.New(),
	}
	if cfg.Stats {
		m.StatsInterval = config.DefaultStatsInterval
	}
	return m, nil
}
