package hooks

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"spdev/internal/device"
	"spdev/internal/sp"
)

// Algorithm tags the compression of a body.  The tag is the first byte
// of every compressed body, followed by the uncompressed length as a
// uvarint.
type Algorithm uint8

const (
	None Algorithm = 0
	LZ4  Algorithm = 1
	Zstd Algorithm = 2
)

func (a Algorithm) String() string {
	switch a {
	case None:
		return "none"
	case LZ4:
		return "lz4"
	case Zstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(a))
	}
}

// ParseAlgorithm parses "lz4", "zstd" or "none".  An empty name means
// zstd.
func ParseAlgorithm(name string) (Algorithm, error) {
	switch name {
	case "", "zstd":
		return Zstd, nil
	case "lz4":
		return LZ4, nil
	case "none":
		return None, nil
	default:
		return 0, fmt.Errorf("unknown compression algorithm %q", name)
	}
}

// maxBody bounds the uncompressed length a peer may announce.
const maxBody = 64 << 20

var (
	errIncompressible = errors.New("incompressible")
	errMalformed      = errors.New("malformed compressed body")
)

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("hooks: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxBody))
	if err != nil {
		panic("hooks: zstd decoder initialization failed: " + err.Error())
	}
}

// Compress compresses message bodies with alg.  Bodies that do not
// shrink are tagged None and carried as they are.
func Compress(alg Algorithm) device.Rewriter {
	return device.RewriteFunc(func(_ *device.Recipe, _, _ sp.Socket, _ sp.Flags, msg *sp.Message, _ int) (device.Verdict, error) {
		body, err := compressBody(msg.Body, alg)
		if err != nil {
			return device.Forward, err
		}
		msg.Body = body
		return device.Forward, nil
	})
}

// Decompress reverses Compress.  Bodies that do not parse are dropped.
func Decompress() device.Rewriter {
	return device.RewriteFunc(func(_ *device.Recipe, _, _ sp.Socket, _ sp.Flags, msg *sp.Message, _ int) (device.Verdict, error) {
		body, err := decompressBody(msg.Body)
		if err != nil {
			return device.Drop, nil
		}
		msg.Body = body
		return device.Forward, nil
	})
}

func compressBody(data []byte, alg Algorithm) ([]byte, error) {
	var packed []byte
	var err error
	switch alg {
	case None:
		err = errIncompressible
	case LZ4:
		packed, err = compressLZ4(data)
	case Zstd:
		packed, err = compressZstd(data)
	default:
		return nil, fmt.Errorf("unsupported compression %s", alg)
	}
	if errors.Is(err, errIncompressible) {
		alg, packed, err = None, data, nil
	}
	if err != nil {
		return nil, err
	}

	out := make([]byte, 1+binary.MaxVarintLen64, 1+binary.MaxVarintLen64+len(packed))
	out[0] = byte(alg)
	n := binary.PutUvarint(out[1:], uint64(len(data)))
	out = append(out[:1+n], packed...)
	return out, nil
}

func decompressBody(data []byte) ([]byte, error) {
	if len(data) < 2 {
		return nil, errMalformed
	}
	alg := Algorithm(data[0])
	size, n := binary.Uvarint(data[1:])
	if n <= 0 || size > maxBody {
		return nil, errMalformed
	}
	packed := data[1+n:]

	switch alg {
	case None:
		if uint64(len(packed)) != size {
			return nil, errMalformed
		}
		return packed, nil
	case LZ4:
		return decompressLZ4(packed, int(size))
	case Zstd:
		return decompressZstd(packed, int(size))
	default:
		return nil, fmt.Errorf("%w: tag %s", errMalformed, alg)
	}
}

func compressLZ4(data []byte) ([]byte, error) {
	dst := make([]byte, lz4.CompressBlockBound(len(data)))
	written, err := lz4.CompressBlock(data, dst, nil)
	if err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	if written == 0 || written >= len(data) {
		return nil, errIncompressible
	}
	return dst[:written], nil
}

func decompressLZ4(packed []byte, size int) ([]byte, error) {
	dst := make([]byte, size)
	read, err := lz4.UncompressBlock(packed, dst)
	if err != nil {
		return nil, fmt.Errorf("lz4 decompress: %w", err)
	}
	if read != size {
		return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", read, size)
	}
	return dst, nil
}

func compressZstd(data []byte) ([]byte, error) {
	packed := zstdEncoder.EncodeAll(data, nil)
	if len(packed) >= len(data) {
		return nil, errIncompressible
	}
	return packed, nil
}

func decompressZstd(packed []byte, size int) ([]byte, error) {
	out, err := zstdDecoder.DecodeAll(packed, make([]byte, 0, size))
	if err != nil {
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}
	if len(out) != size {
		return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d", len(out), size)
	}
	return out, nil
}
