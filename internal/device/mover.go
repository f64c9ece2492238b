package device

import (
	"fmt"

	"spdev/internal/errors"
	"spdev/internal/sp"
)

// move receives one whole message from `from`, runs the recipe's hook
// on it and, unless dropped, sends it to `to`.  It returns nil to keep
// going, errors.ErrShutdown when either socket went away, or a
// *HookError.  Any other socket-layer failure panics.
func (d *Device) move(r *Recipe, from, to sp.Socket, flags sp.Flags) error {
	msg, n, err := d.Layer.RecvMsg(from, flags)
	if err != nil {
		if sp.IsShutdown(err) {
			return errors.ErrShutdown
		}
		errors.Fatal(fmt.Sprintf("recv from socket %d", from), err)
	}

	verdict, err := r.rewrite(from, to, flags, msg, n)
	if err != nil {
		d.Metrics.HookFailed()
		d.Metrics.RecordError(err.Error())
		return &HookError{From: from, To: to, Err: err}
	}
	if verdict == Drop {
		d.Metrics.MessageDropped()
		d.logger().Debug("%d->%d: dropped %d bytes", from, to, n)
		return nil
	}

	// Socket close is a shutdown on the send side too: either socket
	// closing is how a caller stops a device.
	if err := d.Layer.SendMsg(to, msg, flags); err != nil {
		if sp.IsShutdown(err) {
			return errors.ErrShutdown
		}
		errors.Fatal(fmt.Sprintf("send to socket %d", to), err)
	}

	d.Metrics.MessageForwarded(int64(len(msg.Body)))
	d.logger().Debug("%d->%d: forwarded %d bytes", from, to, len(msg.Body))
	return nil
}
