package device

import (
	"fmt"
	"sort"
	"strings"

	"spdev/internal/sp"
)

// Checks selects which validations a device runs and which forwarding
// loops it may enter.  Each check is independent of the others.
type Checks struct {
	AtLeastOneSocket    bool // reject a device with no sockets at all
	AllowLoopback       bool // one socket set: loop it back on itself
	RequireRaw          bool // both sockets must be AF_SP_RAW
	SameFamily          bool // both protocols must share a family
	Directionality      bool // every direction needs its complement
	AllowBidirectional  bool // permit the two-way loop
	AllowUnidirectional bool // permit the one-way loop
}

// AllChecks returns every check enabled.
func AllChecks() Checks {
	return Checks{
		AtLeastOneSocket:    true,
		AllowLoopback:       true,
		RequireRaw:          true,
		SameFamily:          true,
		Directionality:      true,
		AllowBidirectional:  true,
		AllowUnidirectional: true,
	}
}

// Check names used in configuration.
const (
	CheckAtLeastOneSocket    = "at-least-one-socket"
	CheckAllowLoopback       = "allow-loopback"
	CheckRequireRaw          = "require-raw"
	CheckSameFamily          = "same-family"
	CheckDirectionality      = "directionality"
	CheckAllowBidirectional  = "bidirectional"
	CheckAllowUnidirectional = "unidirectional"
	CheckAll                 = "all"
)

func (c *Checks) fields() map[string]*bool {
	return map[string]*bool{
		CheckAtLeastOneSocket:    &c.AtLeastOneSocket,
		CheckAllowLoopback:       &c.AllowLoopback,
		CheckRequireRaw:          &c.RequireRaw,
		CheckSameFamily:          &c.SameFamily,
		CheckDirectionality:      &c.Directionality,
		CheckAllowBidirectional:  &c.AllowBidirectional,
		CheckAllowUnidirectional: &c.AllowUnidirectional,
	}
}

// ParseChecks enables the named checks.  "all" enables every check.
func ParseChecks(names []string) (Checks, error) {
	var c Checks
	fields := c.fields()
	for _, raw := range names {
		name := strings.ToLower(strings.TrimSpace(raw))
		if name == CheckAll {
			c = AllChecks()
			fields = c.fields()
			continue
		}
		f, ok := fields[name]
		if !ok {
			return Checks{}, fmt.Errorf("unknown check %q (known: %s, %s)",
				raw, strings.Join(CheckNames(), ", "), CheckAll)
		}
		*f = true
	}
	return c, nil
}

// Names returns the enabled checks in sorted order.
func (c Checks) Names() []string {
	var out []string
	for name, f := range c.fields() {
		if *f {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// CheckNames lists every check name in sorted order.
func CheckNames() []string { return AllChecks().Names() }

// Verdict is a rewrite hook's decision about one message.
type Verdict int

const (
	// Forward sends the (possibly rewritten) message on.
	Forward Verdict = iota
	// Drop discards the message; the device keeps running.
	Drop
)

func (v Verdict) String() string {
	switch v {
	case Forward:
		return "forward"
	case Drop:
		return "drop"
	default:
		return fmt.Sprintf("verdict(%d)", int(v))
	}
}

// Rewriter inspects and may rewrite each message a device moves.
// Returning an error stops the device.
type Rewriter interface {
	Rewrite(r *Recipe, from, to sp.Socket, flags sp.Flags, msg *sp.Message, n int) (Verdict, error)
}

// RewriteFunc adapts a function to Rewriter.
type RewriteFunc func(r *Recipe, from, to sp.Socket, flags sp.Flags, msg *sp.Message, n int) (Verdict, error)

// Rewrite calls f.
func (f RewriteFunc) Rewrite(r *Recipe, from, to sp.Socket, flags sp.Flags, msg *sp.Message, n int) (Verdict, error) {
	return f(r, from, to, flags, msg, n)
}

// Recipe is the policy of one device: what to check and how to treat
// each message.  It never changes how messages are moved.
type Recipe struct {
	Checks  Checks
	Rewrite Rewriter // nil forwards every message unchanged
}

// Ordinary returns the recipe of a plain transparent proxy: every check
// enabled and every message forwarded.
func Ordinary() *Recipe {
	return &Recipe{Checks: AllChecks()}
}

func (r *Recipe) rewrite(from, to sp.Socket, flags sp.Flags, msg *sp.Message, n int) (Verdict, error) {
	if r.Rewrite == nil {
		return Forward, nil
	}
	v, err := r.Rewrite.Rewrite(r, from, to, flags, msg, n)
	if err != nil {
		return v, err
	}
	if v != Forward && v != Drop {
		return v, fmt.Errorf("rewrite hook returned %s", v)
	}
	return v, nil
}

// HookError reports a rewrite hook failure, which ends the device.
type HookError struct {
	From, To sp.Socket
	Err      error
}

func (e *HookError) Error() string {
	return fmt.Sprintf("rewrite %d->%d: %v", e.From, e.To, e.Err)
}

func (e *HookError) Unwrap() error { return e.Err }
