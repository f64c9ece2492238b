// Package wire frames messages for stream transports.  Each message is
// one CBOR map {1: body, 2: control}, written back to back, encoded
// with Core Deterministic Encoding so equal messages produce equal
// bytes.
package wire

import (
	"errors"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"

	"spdev/internal/sp"
)

// MaxFrameSize bounds the byte strings a decoder accepts.
const MaxFrameSize = 64 << 20

type frame struct {
	Body    []byte `cbor:"1,keyasint"`
	Control []byte `cbor:"2,keyasint,omitempty"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("wire: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		MaxByteStringLen: MaxFrameSize,
		DupMapKey:        cbor.DupMapKeyEnforcedAPF,
	}.DecMode()
	if err != nil {
		panic("wire: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes one message as a frame.
func Marshal(msg *sp.Message) ([]byte, error) {
	return encMode.Marshal(frame{Body: body(msg.Body), Control: msg.Control})
}

// Unmarshal decodes one frame.
func Unmarshal(data []byte) (*sp.Message, error) {
	var f frame
	if err := decMode.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("wire: %w", err)
	}
	return &sp.Message{Body: body(f.Body), Control: f.Control}, nil
}

// body keeps an empty body a zero-length byte string rather than CBOR
// null.
func body(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}

// Encoder writes frames to a stream.
type Encoder struct {
	enc *cbor.Encoder
}

// NewEncoder returns an Encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{enc: encMode.NewEncoder(w)}
}

// Encode writes msg as one frame.
func (e *Encoder) Encode(msg *sp.Message) error {
	return e.enc.Encode(frame{Body: body(msg.Body), Control: msg.Control})
}

// Decoder reads frames from a stream.
type Decoder struct {
	dec *cbor.Decoder
}

// NewDecoder returns a Decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{dec: decMode.NewDecoder(r)}
}

// Decode reads the next frame.  It returns io.EOF at a clean end of
// stream and io.ErrUnexpectedEOF when the stream stops mid-frame.
func (d *Decoder) Decode() (*sp.Message, error) {
	var f frame
	if err := d.dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, err
		}
		return nil, fmt.Errorf("wire: %w", err)
	}
	return &sp.Message{Body: body(f.Body), Control: f.Control}, nil
}
