// Package config defines the runtime configuration for spdev and
// provides helpers for parsing endpoints and hook specifications.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"spdev/internal/errors"
)

// Config holds every tuneable for one spdev process.
type Config struct {
	// ── Devices ──────────────────────────────────────────────────────
	Devices []DeviceConfig `yaml:"devices"`

	// ── Device defaults ──────────────────────────────────────────────
	// Applied to every device that leaves the field empty.
	Pattern string       `yaml:"pattern"`
	Checks  []string     `yaml:"checks"`
	Hooks   []HookConfig `yaml:"hooks"`

	// ── Runtime ──────────────────────────────────────────────────────
	Backend  string `yaml:"backend"`   // readiness backend: poll | select
	QueueLen int    `yaml:"queue_len"` // per-socket inbound queue

	// ── Transport ────────────────────────────────────────────────────
	MaxConns          int           `yaml:"max_conns"` // per listen endpoint, 0 = unlimited
	DialTimeout       time.Duration `yaml:"dial_timeout"`
	ReconnectAttempts int           `yaml:"reconnect_attempts"` // 0 = forever
	ReconnectBackoff  time.Duration `yaml:"reconnect_backoff"`  // cap between attempts
	QUICKey           string        `yaml:"quic_key"`

	// ── Output ───────────────────────────────────────────────────────
	Verbose int  `yaml:"verbose"`
	Stats   bool `yaml:"stats"`
	DryRun  bool `yaml:"-"`
}

// DeviceConfig describes one device: a pattern and the endpoints on
// each side of it.
type DeviceConfig struct {
	Name    string       `yaml:"name"`
	Pattern string       `yaml:"pattern"`
	Front   []string     `yaml:"front"`
	Back    []string     `yaml:"back"`
	Checks  []string     `yaml:"checks"`
	Hooks   []HookConfig `yaml:"hooks"`

	// AbortOnNoStrategy panics instead of failing when no forwarding
	// loop fits the sockets.
	AbortOnNoStrategy bool `yaml:"abort_on_no_strategy"`
}

// Loopback reports whether the device runs over a single socket.
func (d *DeviceConfig) Loopback() bool { return d.Pattern == PatternBus }

// ── Patterns ─────────────────────────────────────────────────────────

// Messaging patterns a device can bridge.
const (
	PatternPair     = "pair"
	PatternReqRep   = "reqrep"
	PatternPubSub   = "pubsub"
	PatternPipeline = "pipeline"
	PatternSurvey   = "survey"
	PatternBus      = "bus"
)

// Patterns lists every known pattern.
func Patterns() []string {
	return []string{PatternPair, PatternReqRep, PatternPubSub, PatternPipeline, PatternSurvey, PatternBus}
}

func knownPattern(p string) bool {
	for _, q := range Patterns() {
		if p == q {
			return true
		}
	}
	return false
}

// ── Hooks ────────────────────────────────────────────────────────────

// HookConfig names one rewrite hook.  Arg is hook specific: a size for
// max-size, an algorithm for compress, a secret for digest and seal.
type HookConfig struct {
	Name      string `yaml:"name"`
	Arg       string `yaml:"arg"`
	Direction string `yaml:"direction"` // forward | backward | both (default)
}

// Hook names.
const (
	HookLog          = "log"
	HookMaxSize      = "max-size"
	HookDropEmpty    = "drop-empty"
	HookCompress     = "compress"
	HookDecompress   = "decompress"
	HookDigest       = "digest"
	HookVerifyDigest = "verify-digest"
	HookSeal         = "seal"
	HookOpen         = "open"
)

// Hook directions.
const (
	DirectionBoth     = "both"
	DirectionForward  = "forward"  // front to back
	DirectionBackward = "backward" // back to front
)

// HookNames lists every known hook.
func HookNames() []string {
	return []string{
		HookLog, HookMaxSize, HookDropEmpty, HookCompress, HookDecompress,
		HookDigest, HookVerifyDigest, HookSeal, HookOpen,
	}
}

// ParseHook parses "[forward:|backward:]name[=arg]", e.g.
// "compress=lz4" or "backward:verify-digest=s3cret".
func ParseHook(spec string) (HookConfig, error) {
	var h HookConfig
	head, arg, hasArg := strings.Cut(spec, "=")
	if hasArg {
		h.Arg = arg
	}
	if dir, name, ok := strings.Cut(head, ":"); ok {
		h.Direction, h.Name = dir, name
	} else {
		h.Name = head
	}
	h.Name = strings.TrimSpace(strings.ToLower(h.Name))
	if err := h.validate(); err != nil {
		return HookConfig{}, err
	}
	return h, nil
}

func (h HookConfig) validate() error {
	known := false
	for _, n := range HookNames() {
		if h.Name == n {
			known = true
			break
		}
	}
	if !known {
		return &errors.ConfigError{
			Field:   "hook",
			Value:   h.Name,
			Message: "unknown hook",
			Hint:    "known hooks: " + strings.Join(HookNames(), ", "),
			Err:     errors.ErrInvalidConfig,
		}
	}
	switch h.Direction {
	case "", DirectionBoth, DirectionForward, DirectionBackward:
	default:
		return errors.Invalid("hook.direction", h.Direction, "expected forward, backward or both")
	}
	if h.Name == HookMaxSize {
		if n, err := strconv.Atoi(h.Arg); err != nil || n < 0 {
			return errors.Invalid("hook.arg", h.Arg, "max-size needs a byte count")
		}
	}
	switch h.Name {
	case HookDigest, HookVerifyDigest, HookSeal, HookOpen:
		if h.Arg == "" {
			return errors.Invalid("hook.arg", nil, h.Name+" needs a secret")
		}
	}
	return nil
}

// String renders h in ParseHook syntax.
func (h HookConfig) String() string {
	s := h.Name
	if h.Direction != "" && h.Direction != DirectionBoth {
		s = h.Direction + ":" + s
	}
	if h.Arg != "" {
		s += "=" + h.Arg
	}
	return s
}

// ── Defaults and validation ──────────────────────────────────────────

// ApplyDefaults fills unset fields from the device defaults and from
// defaults.go.
func (c *Config) ApplyDefaults() {
	if c.Pattern == "" {
		c.Pattern = DefaultPattern
	}
	if len(c.Checks) == 0 {
		c.Checks = []string{DefaultChecks}
	}
	if c.Backend == "" {
		c.Backend = DefaultBackend
	}
	if c.QueueLen == 0 {
		c.QueueLen = DefaultQueueLen
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.ReconnectBackoff == 0 {
		c.ReconnectBackoff = DefaultReconnectBackoff
	}
	for i := range c.Devices {
		d := &c.Devices[i]
		if d.Name == "" {
			d.Name = fmt.Sprintf("dev%d", i)
		}
		if d.Pattern == "" {
			d.Pattern = c.Pattern
		}
		if len(d.Checks) == 0 {
			d.Checks = c.Checks
		}
		if d.Hooks == nil {
			d.Hooks = c.Hooks
		}
	}
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if len(c.Devices) == 0 {
		return &errors.ConfigError{
			Field:   "devices",
			Message: "no device configured",
			Hint:    "pass endpoints on the command line or use --config",
			Err:     errors.ErrInvalidConfig,
		}
	}
	switch c.Backend {
	case "", "poll", "select":
	default:
		return errors.Invalid("backend", c.Backend, "expected poll or select")
	}
	if c.QueueLen < 0 {
		return errors.Invalid("queue_len", c.QueueLen, "must not be negative")
	}
	if c.MaxConns < 0 {
		return errors.Invalid("max_conns", c.MaxConns, "must not be negative")
	}
	if c.ReconnectAttempts < 0 {
		return errors.Invalid("reconnect_attempts", c.ReconnectAttempts, "must not be negative")
	}

	seen := map[string]bool{}
	for i := range c.Devices {
		d := &c.Devices[i]
		if err := d.validate(); err != nil {
			return err
		}
		if seen[d.Name] {
			return errors.Invalid("devices.name", d.Name, "duplicate device name")
		}
		seen[d.Name] = true
	}
	return nil
}

func (d *DeviceConfig) validate() error {
	if d.Name == "" || strings.ContainsAny(d.Name, "/ ") {
		return errors.Invalid("devices.name", d.Name, "names must be non-empty without spaces or slashes")
	}
	if !knownPattern(d.Pattern) {
		return &errors.ConfigError{
			Field:   "devices." + d.Name + ".pattern",
			Value:   d.Pattern,
			Message: "unknown pattern",
			Hint:    "known patterns: " + strings.Join(Patterns(), ", "),
			Err:     errors.ErrInvalidConfig,
		}
	}

	if len(d.Front) == 0 {
		return errors.Invalid("devices."+d.Name+".front", nil, "at least one endpoint is required")
	}
	if d.Loopback() {
		if len(d.Back) > 0 {
			return errors.Invalid("devices."+d.Name+".back", strings.Join(d.Back, ","),
				"a bus device loops one socket back and takes no back endpoints")
		}
	} else if len(d.Back) == 0 {
		return errors.Invalid("devices."+d.Name+".back", nil, "at least one endpoint is required")
	}

	for _, raw := range append(append([]string{}, d.Front...), d.Back...) {
		if _, err := ParseEndpoint(raw); err != nil {
			return err
		}
	}
	for _, h := range d.Hooks {
		if err := h.validate(); err != nil {
			return err
		}
	}
	return nil
}
