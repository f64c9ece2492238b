// Package cmd wires up the CLI flags and dispatches to the core modes.
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	flag "github.com/spf13/pflag"
	"golang.org/x/term"

	"spdev/config"
	"spdev/internal/core"
	"spdev/util"
)

// version is overridable at link time:
//
//	go build -ldflags "-X spdev/cmd.version=2.0.0"
var version = "0.3.0" //nolint:gochecknoglobals

// stdout and stderr are swapped out by tests.
var (
	stdout io.Writer = os.Stdout //nolint:gochecknoglobals
	stderr io.Writer = os.Stderr //nolint:gochecknoglobals
)

// flagValues holds what the command line said, before it is merged
// over the config file and environment.
type flagValues struct {
	configPath        string
	pattern           string
	name              string
	checks            []string
	hooks             []string
	backend           string
	queueLen          int
	maxConns          int
	dialTimeout       int
	reconnectAttempts int
	quicKey           string
	abortOnNoStrategy bool
	verbose           int
	stats             bool
	dryRun            bool
}

// Execute parses args and runs the configured devices until ctx is done.
func Execute(ctx context.Context, args []string) error {
	var fv flagValues
	fs := flag.NewFlagSet("spdev", flag.ContinueOnError)
	fs.SetOutput(stderr)

	// ── device ───────────────────────────────────────────────────
	fs.StringVarP(&fv.configPath, "config", "f", "", "YAML config file (also $"+config.EnvConfigFile+")")
	fs.StringVarP(&fv.pattern, "pattern", "P", "", "Messaging pattern: pair, reqrep, pubsub, pipeline, survey, bus")
	fs.StringVar(&fv.name, "name", "", "Name of the command-line device")
	fs.StringSliceVar(&fv.checks, "checks", nil, "Device checks to enable (default all)")
	fs.StringArrayVarP(&fv.hooks, "hook", "H", nil, "Rewrite hook [forward:|backward:]name[=arg] (repeatable)")
	fs.BoolVar(&fv.abortOnNoStrategy, "abort-on-no-strategy", false, "Abort instead of failing when no loop fits")

	// ── runtime ──────────────────────────────────────────────────
	fs.StringVar(&fv.backend, "backend", "", "Readiness backend: poll or select")
	fs.IntVar(&fv.queueLen, "queue-len", 0, "Per-socket inbound queue length")

	// ── transport ────────────────────────────────────────────────
	fs.IntVar(&fv.maxConns, "max-conns", 0, "Connections per listen endpoint (0 = unlimited)")
	fs.IntVarP(&fv.dialTimeout, "timeout", "w", 0, "Dial timeout in seconds")
	fs.IntVar(&fv.reconnectAttempts, "reconnect-attempts", 0, "Give up on a connect endpoint after N attempts (0 = never)")
	fs.StringVar(&fv.quicKey, "quic-key", "", "Shared key both QUIC ends derive their certificate from")

	// ── output ───────────────────────────────────────────────────
	fs.CountVarP(&fv.verbose, "verbose", "v", "Increase verbosity (repeatable)")
	fs.BoolVar(&fv.stats, "stats", false, "Log traffic statistics periodically and on exit")
	fs.BoolVarP(&fv.dryRun, "dry-run", "n", false, "Print the device plan and exit")

	var showVersion, showHelp bool
	fs.BoolVar(&showVersion, "version", false, "Print version and exit")
	fs.BoolVarP(&showHelp, "help", "h", false, "Show this help")

	fs.Usage = func() { printUsage(fs) }

	// ── parse ────────────────────────────────────────────────────
	if err := fs.Parse(args); err != nil {
		return err
	}
	if showHelp || len(args) == 0 {
		printUsage(fs)
		return nil
	}
	if showVersion {
		fmt.Fprintf(stdout, "spdev %s\n", version)
		return nil
	}

	// ── layer the configuration ──────────────────────────────────
	cfg := &config.Config{}
	path := fv.configPath
	if path == "" {
		path = os.Getenv(config.EnvConfigFile)
	}
	if path != "" {
		if err := config.LoadFile(path, cfg); err != nil {
			return err
		}
	}
	if err := config.LoadFromEnv(cfg); err != nil {
		return err
	}
	if err := applyFlags(fs, &fv, cfg); err != nil {
		return err
	}
	if err := addPositional(cfg, &fv, fs.Args()); err != nil {
		return err
	}

	// ── validate ─────────────────────────────────────────────────
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}

	// ── build and run ────────────────────────────────────────────
	logger := util.NewLogger(cfg.Verbose + 1)
	logger.SetOutput(stderr)
	if f, ok := stderr.(*os.File); ok && !term.IsTerminal(int(f.Fd())) {
		// Piped into a collector: timestamp every line.
		logger.SetTimestamps(true)
	}

	mode, err := core.Build(cfg, logger)
	if err != nil {
		return err
	}
	if pm, ok := mode.(*core.PlanMode); ok {
		pm.Out = stdout
	}
	return mode.Run(ctx)
}

// ── helpers ──────────────────────────────────────────────────────────

// applyFlags copies every flag the user set over cfg.
func applyFlags(fs *flag.FlagSet, fv *flagValues, cfg *config.Config) error {
	set := fs.Changed
	if set("pattern") {
		cfg.Pattern = fv.pattern
	}
	if set("checks") {
		cfg.Checks = fv.checks
	}
	if set("hook") {
		cfg.Hooks = nil
		for _, spec := range fv.hooks {
			h, err := config.ParseHook(spec)
			if err != nil {
				return err
			}
			cfg.Hooks = append(cfg.Hooks, h)
		}
	}
	if set("backend") {
		cfg.Backend = fv.backend
	}
	if set("queue-len") {
		cfg.QueueLen = fv.queueLen
	}
	if set("max-conns") {
		cfg.MaxConns = fv.maxConns
	}
	if set("timeout") {
		cfg.DialTimeout = secondsFlag(fv.dialTimeout)
	}
	if set("reconnect-attempts") {
		cfg.ReconnectAttempts = fv.reconnectAttempts
	}
	if set("quic-key") {
		cfg.QUICKey = fv.quicKey
	}
	if set("verbose") {
		cfg.Verbose = fv.verbose
	}
	if set("stats") {
		cfg.Stats = fv.stats
	}
	cfg.DryRun = fv.dryRun
	return nil
}

// addPositional turns "front [back]" into a device.  Each side may list
// several endpoints separated by commas.
func addPositional(cfg *config.Config, fv *flagValues, args []string) error {
	if len(args) == 0 {
		return nil
	}
	if len(args) > 2 {
		return fmt.Errorf("too many arguments: expected <front> [back]")
	}
	d := config.DeviceConfig{
		Name:              fv.name,
		Front:             splitList(args[0]),
		AbortOnNoStrategy: fv.abortOnNoStrategy,
	}
	if len(args) == 2 {
		d.Back = splitList(args[1])
	}
	cfg.Devices = append(cfg.Devices, d)
	return nil
}

func printUsage(fs *flag.FlagSet) {
	fmt.Fprintf(stderr, `spdev – scalable-protocols forwarding device v%s

Bridges two sides of a messaging pattern: peers on the front talk to
peers on the back through a device that forwards whole messages.

Usage:
  spdev [options] <front> [back]
  spdev -f devices.yaml

Endpoints:
  @tcp://0.0.0.0:5555      listen        tcp://host:5555      connect
  @unix:///run/dev.sock    listen        unix:///run/dev.sock connect
  @quic://:5556            listen        quic://host:5556     connect
  @ws://:8080/path         listen        ws://host:8080/path  connect

Options:
`, version)
	fs.PrintDefaults()
	fmt.Fprintf(stderr, `
Examples:
  spdev -P reqrep @tcp://:5555 @tcp://:5556          Broker between clients and workers
  spdev -P pubsub @tcp://:7000 @ws://:8080/feed      Fan a feed out to websockets
  spdev -P bus @tcp://:6000                          Loop a bus back on itself
  spdev -H forward:compress=zstd -H backward:decompress @tcp://:1 tcp://far:2
`)
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func secondsFlag(sec int) time.Duration { return time.Duration(sec) * time.Second }
