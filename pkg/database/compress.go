package database

import (
	"encoding/binary"
	"errors"

	"github.com/pierrec/lz4/v4"
)

// CompressionThreshold is the raw payload size above which archives are
// lz4-compressed
const CompressionThreshold = 128

// maxRawSize bounds decompression; a frame never exceeds 65535 bytes
const maxRawSize = 0xFFFF

var (
	ErrInvalidCompressedLen = errors.New("compressed payload too short")
	ErrDecompressionFailed  = errors.New("payload decompression failed")
)

// CompressPayload compresses data using LZ4 and prepends the uncompressed size.
// Format: [Uncompressed Size (4 bytes, big-endian)][LZ4 Compressed Data]
// Returns the original data when it is below the threshold or compression
// doesn't reduce size.
func CompressPayload(data []byte) ([]byte, bool) {
	if len(data) <= CompressionThreshold {
		return data, false
	}

	compressed := make([]byte, 4+lz4.CompressBlockBound(len(data)))
	binary.BigEndian.PutUint32(compressed[:4], uint32(len(data)))

	n, err := lz4.CompressBlock(data, compressed[4:], nil)
	if err != nil || n == 0 {
		// incompressible
		return data, false
	}
	if 4+n >= len(data) {
		return data, false
	}
	return compressed[:4+n], true
}

// DecompressPayload reverses CompressPayload
func DecompressPayload(data []byte) ([]byte, error) {
	if len(data) < 4 {
		return nil, ErrInvalidCompressedLen
	}

	size := binary.BigEndian.Uint32(data[:4])
	if size > maxRawSize {
		return nil, ErrDecompressionFailed
	}

	out := make([]byte, size)
	n, err := lz4.UncompressBlock(data[4:], out)
	if err != nil || n != int(size) {
		return nil, ErrDecompressionFailed
	}
	return out, nil
}
