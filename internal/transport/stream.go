package transport

import (
	"io"

	"spdev/internal/sp"
	"spdev/internal/wire"
)

// streamConn frames messages over a byte stream.
type streamConn struct {
	rwc    io.ReadWriteCloser
	enc    *wire.Encoder
	dec    *wire.Decoder
	remote string
}

func newStreamConn(rwc io.ReadWriteCloser, remote string) *streamConn {
	return &streamConn{
		rwc:    rwc,
		enc:    wire.NewEncoder(rwc),
		dec:    wire.NewDecoder(rwc),
		remote: remote,
	}
}

func (c *streamConn) ReadMsg() (*sp.Message, error)  { return c.dec.Decode() }
func (c *streamConn) WriteMsg(msg *sp.Message) error { return c.enc.Encode(msg) }
func (c *streamConn) Close() error                   { return c.rwc.Close() }
func (c *streamConn) RemoteAddr() string             { return c.remote }
