package config

// loader.go - configuration loading from environment variables.
//
// Precedence order (highest wins):
//   1. CLI flags  (handled by cmd/root.go)
//   2. Environment variables  (this file)
//   3. Config file  (file.go)
//   4. Defaults   (defaults.go)

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// ── Environment variable mapping ─────────────────────────────────────
//
// Every supported env var uses the SPDEV_ prefix.  Boolean values
// accept "1", "true", "yes" (case-insensitive).  Lists are comma
// separated.

// EnvConfigFile names the environment variable holding a config path.
const EnvConfigFile = "SPDEV_CONFIG"

// LoadFromEnv overlays environment variables onto cfg.  Only non-empty
// env vars override the existing value.  This should be called BEFORE
// CLI flag parsing so that flags take precedence.
func LoadFromEnv(cfg *Config) error {
	// Device defaults
	if v := os.Getenv("SPDEV_PATTERN"); v != "" {
		cfg.Pattern = v
	}
	if v := envList("SPDEV_CHECKS"); v != nil {
		cfg.Checks = v
	}
	if v := envList("SPDEV_HOOKS"); v != nil {
		cfg.Hooks = nil
		for _, spec := range v {
			h, err := ParseHook(spec)
			if err != nil {
				return err
			}
			cfg.Hooks = append(cfg.Hooks, h)
		}
	}

	// Runtime
	if v := os.Getenv("SPDEV_BACKEND"); v != "" {
		cfg.Backend = v
	}
	if v := envInt("SPDEV_QUEUE_LEN"); v > 0 {
		cfg.QueueLen = v
	}

	// Transport
	if v := envInt("SPDEV_MAX_CONNS"); v > 0 {
		cfg.MaxConns = v
	}
	if v := envInt("SPDEV_DIAL_TIMEOUT"); v > 0 {
		cfg.DialTimeout = secondsDuration(v)
	}
	if v := envInt("SPDEV_RECONNECT_ATTEMPTS"); v > 0 {
		cfg.ReconnectAttempts = v
	}
	if v := envInt("SPDEV_RECONNECT_BACKOFF"); v > 0 {
		cfg.ReconnectBackoff = secondsDuration(v)
	}
	if v := os.Getenv("SPDEV_QUIC_KEY"); v != "" {
		cfg.QUICKey = v
	}

	// Output
	if v := envInt("SPDEV_VERBOSE"); v > 0 {
		cfg.Verbose = v
	}
	if envBool("SPDEV_STATS") {
		cfg.Stats = true
	}
	return nil
}

// ── helpers ──────────────────────────────────────────────────────────

func envInt(key string) int {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

func envBool(key string) bool {
	v := strings.ToLower(os.Getenv(key))
	return v == "1" || v == "true" || v == "yes"
}

func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func secondsDuration(sec int) time.Duration {
	return time.Duration(sec) * time.Second
}
