package hooks

import (
	"crypto/subtle"
	"encoding/binary"

	"github.com/zeebo/blake3"

	"spdev/internal/device"
	"spdev/internal/sp"
)

// DigestSize is the length of the digest Digest appends to the control
// payload.
const DigestSize = 32

const digestContext = "spdev 2026 message digest v1"

// digester computes keyed BLAKE3 digests over a message.
type digester struct {
	key [32]byte
}

func newDigester(secret string) *digester {
	d := &digester{}
	blake3.DeriveKey(digestContext, []byte(secret), d.key[:])
	return d
}

// sum covers the control payload, its length, and the body, so bytes
// cannot move between the two.
func (d *digester) sum(control, body []byte) []byte {
	h, err := blake3.NewKeyed(d.key[:])
	if err != nil {
		panic("hooks: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(len(control)))
	h.Write(n[:])
	h.Write(control)
	h.Write(body)
	return h.Sum(nil)
}

// Digest appends a keyed BLAKE3 digest of the message to its control
// payload.
func Digest(secret string) device.Rewriter {
	d := newDigester(secret)
	return device.RewriteFunc(func(_ *device.Recipe, _, _ sp.Socket, _ sp.Flags, msg *sp.Message, _ int) (device.Verdict, error) {
		sum := d.sum(msg.Control, msg.Body)
		control := make([]byte, 0, len(msg.Control)+DigestSize)
		control = append(control, msg.Control...)
		msg.Control = append(control, sum...)
		return device.Forward, nil
	})
}

// VerifyDigest checks and strips the digest Digest appended.  Messages
// without a valid digest are dropped.
func VerifyDigest(secret string) device.Rewriter {
	d := newDigester(secret)
	return device.RewriteFunc(func(_ *device.Recipe, _, _ sp.Socket, _ sp.Flags, msg *sp.Message, _ int) (device.Verdict, error) {
		if len(msg.Control) < DigestSize {
			return device.Drop, nil
		}
		split := len(msg.Control) - DigestSize
		control, got := msg.Control[:split], msg.Control[split:]
		if subtle.ConstantTimeCompare(got, d.sum(control, msg.Body)) != 1 {
			return device.Drop, nil
		}
		msg.Control = control
		return device.Forward, nil
	})
}
