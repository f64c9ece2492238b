// Package metrics provides lightweight, lock-free counters for tracking
// what running devices and their transports are doing.
//
// All methods are safe for concurrent use.  A nil *Collector is a
// valid no-op receiver, so callers never need to nil-check.
package metrics

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// Collector tracks runtime metrics for a set of devices.
// A nil Collector is safe to use; all methods become no-ops.
type Collector struct {
	messagesForwarded atomic.Int64
	messagesDropped   atomic.Int64
	bytesForwarded    atomic.Int64
	hookFailures      atomic.Int64
	devicesRunning    atomic.Int64
	connectionsActive atomic.Int64
	connectionsTotal  atomic.Int64
	redials           atomic.Int64
	errorsTotal       atomic.Int64

	mu           sync.RWMutex
	startTime    time.Time
	lastError    time.Time
	lastErrorMsg string
}

// New creates a metrics collector with the start time set to now.
func New() *Collector {
	return &Collector{startTime: time.Now()}
}

// ── Message metrics ──────────────────────────────────────────────────

// MessageForwarded records one message of n body bytes sent on.
func (c *Collector) MessageForwarded(n int64) {
	if c == nil {
		return
	}
	c.messagesForwarded.Add(1)
	c.bytesForwarded.Add(n)
}

// MessageDropped records one message a rewrite hook discarded.
func (c *Collector) MessageDropped() {
	if c == nil {
		return
	}
	c.messagesDropped.Add(1)
}

// HookFailed records a rewrite hook failure.
func (c *Collector) HookFailed() {
	if c == nil {
		return
	}
	c.hookFailures.Add(1)
}

// MessagesForwarded returns the number of messages sent on.
func (c *Collector) MessagesForwarded() int64 {
	if c == nil {
		return 0
	}
	return c.messagesForwarded.Load()
}

// MessagesDropped returns the number of dropped messages.
func (c *Collector) MessagesDropped() int64 {
	if c == nil {
		return 0
	}
	return c.messagesDropped.Load()
}

// BytesForwarded returns the total body bytes sent on.
func (c *Collector) BytesForwarded() int64 {
	if c == nil {
		return 0
	}
	return c.bytesForwarded.Load()
}

// HookFailures returns the number of hook failures.
func (c *Collector) HookFailures() int64 {
	if c == nil {
		return 0
	}
	return c.hookFailures.Load()
}

// ── Device metrics ───────────────────────────────────────────────────

// DeviceStarted increments the running device gauge.
func (c *Collector) DeviceStarted() {
	if c == nil {
		return
	}
	c.devicesRunning.Add(1)
}

// DeviceStopped decrements the running device gauge.
func (c *Collector) DeviceStopped() {
	if c == nil {
		return
	}
	c.devicesRunning.Add(-1)
}

// DevicesRunning returns the number of devices currently forwarding.
func (c *Collector) DevicesRunning() int64 {
	if c == nil {
		return 0
	}
	return c.devicesRunning.Load()
}

// ── Connection metrics ───────────────────────────────────────────────

// ConnectionOpened increments both the active and total counters.
func (c *Collector) ConnectionOpened() {
	if c == nil {
		return
	}
	c.connectionsActive.Add(1)
	c.connectionsTotal.Add(1)
}

// ConnectionClosed decrements the active connection counter.
func (c *Collector) ConnectionClosed() {
	if c == nil {
		return
	}
	c.connectionsActive.Add(-1)
}

// ActiveConnections returns the current number of attached connections.
func (c *Collector) ActiveConnections() int64 {
	if c == nil {
		return 0
	}
	return c.connectionsActive.Load()
}

// TotalConnections returns the lifetime connection count.
func (c *Collector) TotalConnections() int64 {
	if c == nil {
		return 0
	}
	return c.connectionsTotal.Load()
}

// Redial records a reconnection attempt by a connecting endpoint.
func (c *Collector) Redial() {
	if c == nil {
		return
	}
	c.redials.Add(1)
}

// Redials returns the total number of redials.
func (c *Collector) Redials() int64 {
	if c == nil {
		return 0
	}
	return c.redials.Load()
}

// ── Error metrics ────────────────────────────────────────────────────

// RecordError increments the error counter and stores the message.
func (c *Collector) RecordError(msg string) {
	if c == nil {
		return
	}
	c.errorsTotal.Add(1)
	c.mu.Lock()
	c.lastError = time.Now()
	c.lastErrorMsg = msg
	c.mu.Unlock()
}

// ErrorCount returns the total number of errors recorded.
func (c *Collector) ErrorCount() int64 {
	if c == nil {
		return 0
	}
	return c.errorsTotal.Load()
}

// ── Snapshot ─────────────────────────────────────────────────────────

// Snapshot is a point-in-time view of all metrics.
type Snapshot struct {
	Uptime            string `json:"uptime"`
	MessagesForwarded int64  `json:"messages_forwarded"`
	MessagesDropped   int64  `json:"messages_dropped"`
	BytesForwarded    int64  `json:"bytes_forwarded"`
	HookFailures      int64  `json:"hook_failures"`
	DevicesRunning    int64  `json:"devices_running"`
	ConnectionsActive int64  `json:"connections_active"`
	ConnectionsTotal  int64  `json:"connections_total"`
	Redials           int64  `json:"redials"`
	ErrorsTotal       int64  `json:"errors_total"`
	LastError         string `json:"last_error,omitempty"`
	LastErrorMessage  string `json:"last_error_message,omitempty"`
}

// Snapshot returns a copy of all current metrics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Snapshot{
		Uptime:            time.Since(c.startTime).Truncate(time.Second).String(),
		MessagesForwarded: c.messagesForwarded.Load(),
		MessagesDropped:   c.messagesDropped.Load(),
		BytesForwarded:    c.bytesForwarded.Load(),
		HookFailures:      c.hookFailures.Load(),
		DevicesRunning:    c.devicesRunning.Load(),
		ConnectionsActive: c.connectionsActive.Load(),
		ConnectionsTotal:  c.connectionsTotal.Load(),
		Redials:           c.redials.Load(),
		ErrorsTotal:       c.errorsTotal.Load(),
	}
	if !c.lastError.IsZero() {
		s.LastError = c.lastError.Format(time.RFC3339)
		s.LastErrorMessage = c.lastErrorMsg
	}
	return s
}

// JSON returns the snapshot as an indented JSON string.
func (c *Collector) JSON() string {
	s := c.Snapshot()
	data, _ := json.MarshalIndent(s, "", "  ")
	return string(data)
}
