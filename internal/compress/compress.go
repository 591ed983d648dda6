// Package compress implements the block compression used for stored descriptor
// blobs.
//
// A block is laid out as
//
//	[Type uint8][UncompressedSize uint32][CompressedSize uint32][Data...]
//
// with little-endian sizes. A CompressedSize of 0 means the data is stored
// raw, which happens for CompressionNone and whenever compression does not pay
// off.
package compress

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Type defines the compression algorithm used.
type Type uint8

const (
	// None stores data uncompressed.
	None Type = 0
	// LZ4 uses LZ4 block compression (fast decode, the default).
	LZ4 Type = 1
	// Zstd uses Zstandard (better ratio, slower).
	Zstd Type = 2
)

// HeaderSize is the size of the block header in bytes.
const HeaderSize = 9

var (
	// ErrCorrupt is returned when a block cannot be decoded.
	ErrCorrupt = errors.New("compress: corrupt block")
)

func (t Type) String() string {
	switch t {
	case None:
		return "none"
	case LZ4:
		return "lz4"
	case Zstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// Parse parses a compression name.
func Parse(s string) (Type, error) {
	switch strings.ToLower(s) {
	case "", "none":
		return None, nil
	case "lz4":
		return LZ4, nil
	case "zstd", "zstandard":
		return Zstd, nil
	default:
		return None, fmt.Errorf("compress: unknown type %q", s)
	}
}

// Zstd encoder/decoder pools for efficiency
var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() (*zstd.Encoder, error) {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder), nil
	}
	return zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
}

func getZstdDecoder() (*zstd.Decoder, error) {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder), nil
	}
	return zstd.NewReader(nil)
}

// Encode compresses data into a self-describing block.
func Encode(data []byte, t Type) ([]byte, error) {
	var (
		compressed []byte
		err        error
	)

	switch t {
	case None:
	case LZ4:
		compressed, err = encodeLZ4(data)
	case Zstd:
		compressed, err = encodeZstd(data)
	default:
		return nil, fmt.Errorf("compress: unknown type %d", uint8(t))
	}
	if err != nil {
		return nil, err
	}

	// Store raw when compression does not reach a 10% saving.
	if len(compressed) == 0 || float64(len(compressed)) > float64(len(data))*0.9 {
		return frame(t, data, 0), nil
	}
	return frame(t, compressed, uint32(len(data))), nil
}

func frame(t Type, body []byte, uncompressed uint32) []byte {
	out := make([]byte, HeaderSize+len(body))
	out[0] = byte(t)
	if uncompressed == 0 {
		binary.LittleEndian.PutUint32(out[1:], uint32(len(body)))
		binary.LittleEndian.PutUint32(out[5:], 0)
	} else {
		binary.LittleEndian.PutUint32(out[1:], uncompressed)
		binary.LittleEndian.PutUint32(out[5:], uint32(len(body)))
	}
	copy(out[HeaderSize:], body)
	return out
}

func encodeLZ4(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}
	dst := make([]byte, lz4.CompressBlockBound(len(data)))
	n, err := lz4.CompressBlock(data, dst, nil)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil // incompressible
	}
	return dst[:n], nil
}

func encodeZstd(data []byte) ([]byte, error) {
	enc, err := getZstdEncoder()
	if err != nil {
		return nil, err
	}
	defer zstdEncoderPool.Put(enc)

	return enc.EncodeAll(data, nil), nil
}

// Decode decompresses a block produced by Encode.
func Decode(block []byte) ([]byte, error) {
	if len(block) < HeaderSize {
		return nil, fmt.Errorf("%w: block too small for header", ErrCorrupt)
	}

	t := Type(block[0])
	uncompressedSize := binary.LittleEndian.Uint32(block[1:])
	compressedSize := binary.LittleEndian.Uint32(block[5:])
	body := block[HeaderSize:]

	if compressedSize == 0 {
		if uint32(len(body)) < uncompressedSize {
			return nil, fmt.Errorf("%w: truncated raw block", ErrCorrupt)
		}
		return body[:uncompressedSize], nil
	}

	if uint32(len(body)) < compressedSize {
		return nil, fmt.Errorf("%w: truncated compressed block", ErrCorrupt)
	}
	body = body[:compressedSize]
	result := make([]byte, uncompressedSize)

	switch t {
	case LZ4:
		n, err := lz4.UncompressBlock(body, result)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
		}
		if uint32(n) != uncompressedSize {
			return nil, fmt.Errorf("%w: decompressed size mismatch", ErrCorrupt)
		}
		return result, nil

	case Zstd:
		dec, err := getZstdDecoder()
		if err != nil {
			return nil, err
		}
		defer zstdDecoderPool.Put(dec)

		decoded, err := dec.DecodeAll(body, result[:0])
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
		}
		if uint32(len(decoded)) != uncompressedSize {
			return nil, fmt.Errorf("%w: decompressed size mismatch", ErrCorrupt)
		}
		return decoded, nil

	default:
		return nil, fmt.Errorf("%w: unknown type %d", ErrCorrupt, uint8(t))
	}
}
