// Package compress provides optional payload compression for entry files.
//
// Compressed payloads are framed as [compressedSize uint32][bytes...]; a
// compressedSize of 0 marks an incompressible payload stored raw. The
// uncompressed size is not part of the frame because the entry header
// already records the logical value size.
package compress

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// frameHeaderSize is the fixed prefix of every compressed payload.
const frameHeaderSize = 4

// ErrFrame indicates a malformed compression frame.
var ErrFrame = errors.New("compress: malformed frame")

// Codec compresses and decompresses entry payloads.
// Implementations must be safe for concurrent use.
type Codec interface {
	// Name is a stable identifier, recorded for diagnostics.
	Name() string
	// Compress frames src for storage.
	Compress(src []byte) ([]byte, error)
	// Decompress recovers exactly size bytes from a framed payload.
	Decompress(payload []byte, size int) ([]byte, error)
}

// ByName returns a built-in codec by its stable name.
func ByName(name string) (Codec, bool) {
	switch name {
	case "none":
		return None, true
	case "lz4":
		return LZ4, true
	case "zstd":
		return Zstd, true
	default:
		return nil, false
	}
}

var (
	// None stores payloads verbatim with no frame.
	None Codec = noneCodec{}
	// LZ4 uses LZ4 block compression (fast, good for hot data).
	LZ4 Codec = lz4Codec{}
	// Zstd uses zstd block compression (better ratio, good for cold data).
	Zstd Codec = zstdCodec{}
)

type noneCodec struct{}

func (noneCodec) Name() string { return "none" }

func (noneCodec) Compress(src []byte) ([]byte, error) { return src, nil }

func (noneCodec) Decompress(payload []byte, size int) ([]byte, error) {
	if len(payload) != size {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrFrame, len(payload), size)
	}
	return payload, nil
}

// storeRaw frames src uncompressed (compressedSize == 0).
func storeRaw(src []byte) []byte {
	out := make([]byte, frameHeaderSize+len(src))
	binary.LittleEndian.PutUint32(out, 0)
	copy(out[frameHeaderSize:], src)
	return out
}

// storeCompressed frames a compressed block.
func storeCompressed(compressed []byte) []byte {
	out := make([]byte, frameHeaderSize+len(compressed))
	binary.LittleEndian.PutUint32(out, uint32(len(compressed)))
	copy(out[frameHeaderSize:], compressed)
	return out
}

// splitFrame validates a frame and returns its body and whether it is compressed.
func splitFrame(payload []byte) (body []byte, compressed bool, err error) {
	if len(payload) < frameHeaderSize {
		return nil, false, ErrFrame
	}
	compressedSize := binary.LittleEndian.Uint32(payload)
	body = payload[frameHeaderSize:]
	if compressedSize == 0 {
		return body, false, nil
	}
	if int(compressedSize) != len(body) {
		return nil, false, fmt.Errorf("%w: frame size %d, body %d", ErrFrame, compressedSize, len(body))
	}
	return body, true, nil
}

// worthIt reports whether a compressed block is small enough to prefer over
// storing raw. Ratios above 0.9 are not worth the decompression cost.
func worthIt(compressedLen, rawLen int) bool {
	return compressedLen > 0 && float64(compressedLen) <= float64(rawLen)*0.9
}

type lz4Codec struct{}

func (lz4Codec) Name() string { return "lz4" }

func (lz4Codec) Compress(src []byte) ([]byte, error) {
	if len(src) == 0 {
		return storeRaw(src), nil
	}
	buf := make([]byte, lz4.CompressBlockBound(len(src)))
	n, err := lz4.CompressBlock(src, buf, nil)
	if err != nil {
		return nil, err
	}
	// n == 0 means incompressible.
	if !worthIt(n, len(src)) {
		return storeRaw(src), nil
	}
	return storeCompressed(buf[:n]), nil
}

func (lz4Codec) Decompress(payload []byte, size int) ([]byte, error) {
	body, compressed, err := splitFrame(payload)
	if err != nil {
		return nil, err
	}
	if !compressed {
		if len(body) != size {
			return nil, ErrFrame
		}
		return body, nil
	}
	out := make([]byte, size)
	n, err := lz4.UncompressBlock(body, out)
	if err != nil {
		return nil, err
	}
	if n != size {
		return nil, fmt.Errorf("%w: decompressed %d bytes, want %d", ErrFrame, n, size)
	}
	return out, nil
}

var (
	// A single Encoder/Decoder pair is safe for concurrent EncodeAll/DecodeAll use.
	zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	zstdDecoder, _ = zstd.NewReader(nil)
)

type zstdCodec struct{}

func (zstdCodec) Name() string { return "zstd" }

func (zstdCodec) Compress(src []byte) ([]byte, error) {
	if len(src) == 0 {
		return storeRaw(src), nil
	}
	compressed := zstdEncoder.EncodeAll(src, make([]byte, 0, len(src)))
	if !worthIt(len(compressed), len(src)) {
		return storeRaw(src), nil
	}
	return storeCompressed(compressed), nil
}

func (zstdCodec) Decompress(payload []byte, size int) ([]byte, error) {
	body, compressed, err := splitFrame(payload)
	if err != nil {
		return nil, err
	}
	if !compressed {
		if len(body) != size {
			return nil, ErrFrame
		}
		return body, nil
	}
	out, err := zstdDecoder.DecodeAll(body, make([]byte, 0, size))
	if err != nil {
		return nil, err
	}
	if len(out) != size {
		return nil, fmt.Errorf("%w: decompressed %d bytes, want %d", ErrFrame, len(out), size)
	}
	return out, nil
}
