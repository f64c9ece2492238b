package hooks

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"spdev/internal/device"
	"spdev/internal/sp"
)

// SealVersion is the first byte of every sealed body.  It is also
// authenticated, together with the control payload.
const SealVersion byte = 0x01

// SealOverhead is what Seal adds to a body: version, nonce and tag.
const SealOverhead = 1 + chacha20poly1305.NonceSizeX + chacha20poly1305.Overhead

var hkdfInfoSeal = []byte("spdev.seal.v1")

func newAEAD(secret string) (cipher.AEAD, error) {
	if secret == "" {
		return nil, fmt.Errorf("seal: empty secret")
	}
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, hkdfInfoSeal), key); err != nil {
		return nil, fmt.Errorf("seal: deriving key: %w", err)
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("creating XChaCha20-Poly1305 cipher: %w", err)
	}
	return aead, nil
}

func sealAAD(control []byte) []byte {
	aad := make([]byte, 0, 1+len(control))
	return append(append(aad, SealVersion), control...)
}

// Seal encrypts message bodies with XChaCha20-Poly1305 under a key
// derived from secret.  The sealed body is
//
//	[version][24-byte nonce][ciphertext+tag]
//
// and the control payload is bound as associated data.
func Seal(secret string) (device.Rewriter, error) {
	aead, err := newAEAD(secret)
	if err != nil {
		return nil, err
	}
	return device.RewriteFunc(func(_ *device.Recipe, _, _ sp.Socket, _ sp.Flags, msg *sp.Message, _ int) (device.Verdict, error) {
		out := make([]byte, 1+chacha20poly1305.NonceSizeX, SealOverhead+len(msg.Body))
		out[0] = SealVersion
		if _, err := io.ReadFull(rand.Reader, out[1:]); err != nil {
			return device.Forward, fmt.Errorf("seal: generating nonce: %w", err)
		}
		msg.Body = aead.Seal(out, out[1:], msg.Body, sealAAD(msg.Control))
		return device.Forward, nil
	}), nil
}

// Open reverses Seal.  Bodies that fail to authenticate are dropped.
func Open(secret string) (device.Rewriter, error) {
	aead, err := newAEAD(secret)
	if err != nil {
		return nil, err
	}
	return device.RewriteFunc(func(_ *device.Recipe, _, _ sp.Socket, _ sp.Flags, msg *sp.Message, _ int) (device.Verdict, error) {
		if len(msg.Body) < SealOverhead || msg.Body[0] != SealVersion {
			return device.Drop, nil
		}
		nonce := msg.Body[1 : 1+chacha20poly1305.NonceSizeX]
		sealed := msg.Body[1+chacha20poly1305.NonceSizeX:]
		plain, err := aead.Open(nil, nonce, sealed, sealAAD(msg.Control))
		if err != nil {
			return device.Drop, nil
		}
		msg.Body = plain
		return device.Forward, nil
	}), nil
}
