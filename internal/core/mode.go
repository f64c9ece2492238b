// Package core is the orchestration layer.  It turns a validated
// Config into running devices: one in-process socket layer, a pair of
// raw sockets per device, a forwarding loop per device, and a
// transport Port per endpoint feeding the sockets from the network.
//
// Architecture layers (bottom → top):
//
//	sp/inproc  →  device + hooks  →  transport  →  core  →  cmd (CLI)
//
// Build is the single dispatch point from a Config to a Mode.
package core

import "context"

// Mode is a complete operational mode of spdev.  Each mode owns its
// full lifecycle from setup to teardown.
type Mode interface {
	Run(ctx context.Context) error
}
