// Package hooks provides rewrite hooks for devices: filters, logging,
// compression, digests and sealing.  Every hook is a device.Rewriter and
// hooks compose with Chain.
package hooks

import (
	"spdev/internal/device"
	"spdev/internal/sp"
	"spdev/util"
)

// Chain runs hooks in order.  The first hook to drop or fail decides;
// later hooks never see that message.
func Chain(hooks ...device.Rewriter) device.Rewriter {
	var list []device.Rewriter
	for _, h := range hooks {
		if h != nil {
			list = append(list, h)
		}
	}
	return device.RewriteFunc(func(r *device.Recipe, from, to sp.Socket, flags sp.Flags, msg *sp.Message, n int) (device.Verdict, error) {
		for _, h := range list {
			v, err := h.Rewrite(r, from, to, flags, msg, n)
			if err != nil || v != device.Forward {
				return v, err
			}
			n = len(msg.Body)
		}
		return device.Forward, nil
	})
}

// From applies h only to messages received on socket s.
func From(s sp.Socket, h device.Rewriter) device.Rewriter {
	return device.RewriteFunc(func(r *device.Recipe, from, to sp.Socket, flags sp.Flags, msg *sp.Message, n int) (device.Verdict, error) {
		if from != s {
			return device.Forward, nil
		}
		return h.Rewrite(r, from, to, flags, msg, n)
	})
}

// Log writes one debug line per message.
func Log(logger *util.Logger) device.Rewriter {
	return device.RewriteFunc(func(_ *device.Recipe, from, to sp.Socket, _ sp.Flags, msg *sp.Message, n int) (device.Verdict, error) {
		logger.Debug("%d->%d: %d bytes, %d control", from, to, n, len(msg.Control))
		return device.Forward, nil
	})
}

// MaxSize drops messages whose body is longer than limit bytes.
func MaxSize(limit int) device.Rewriter {
	return device.RewriteFunc(func(_ *device.Recipe, _, _ sp.Socket, _ sp.Flags, msg *sp.Message, _ int) (device.Verdict, error) {
		if len(msg.Body) > limit {
			return device.Drop, nil
		}
		return device.Forward, nil
	})
}

// DropEmpty drops messages with an empty body.
func DropEmpty() device.Rewriter {
	return device.RewriteFunc(func(_ *device.Recipe, _, _ sp.Socket, _ sp.Flags, msg *sp.Message, _ int) (device.Verdict, error) {
		if len(msg.Body) == 0 {
			return device.Drop, nil
		}
		return device.Forward, nil
	})
}
