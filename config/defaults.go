package config

import "time"

// ── Default values ───────────────────────────────────────────────────
//
// All tuneable defaults live here so they are easy to audit and reuse
// across CLI flags, config file parsing, and environment variable
// loading.

const (
	// DefaultPattern is the messaging pattern of a device that names
	// none.
	DefaultPattern = PatternPair

	// DefaultChecks enables every device check.
	DefaultChecks = "all"

	// DefaultBackend is the readiness backend of two-way devices.
	DefaultBackend = "poll"

	// DefaultQueueLen bounds each in-process socket's inbound queue.
	DefaultQueueLen = 64

	// DefaultDialTimeout bounds one connection attempt.
	DefaultDialTimeout = 10 * time.Second

	// DefaultReconnectBackoff caps the exponential backoff between
	// attempts to reach a connect endpoint.
	DefaultReconnectBackoff = 30 * time.Second

	// DefaultInitialBackoff is the first delay between attempts.
	DefaultInitialBackoff = 250 * time.Millisecond

	// DefaultStatsInterval is how often --stats prints a snapshot while
	// devices run.
	DefaultStatsInterval = 10 * time.Second

	// DefaultQUICKey seeds the self-signed QUIC certificate when no key
	// is configured.  Both ends must agree on it.
	DefaultQUICKey = "spdev"
)
