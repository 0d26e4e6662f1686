// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package blob

import (
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// CompressionTag identifies how a stored blob was compressed. Tags are
// persisted inside directory trees, so the values are format constants.
type CompressionTag uint8

const (
	// CompressionNone stores the bytes as-is. Used for small files and
	// content that is already compressed (archives, images, PDBs
	// compressed by the linker).
	CompressionNone CompressionTag = 0

	// CompressionLZ4 is LZ4 block compression: cheap to decode, modest
	// ratio. Selected for binary build products that compress a little.
	CompressionLZ4 CompressionTag = 1

	// CompressionZstd is zstd at the default level. Selected for text,
	// object files, and anything with a good ratio.
	CompressionZstd CompressionTag = 2
)

// minCompressSize is the smallest input worth probing. Below this the
// frame overhead eats any gain.
const minCompressSize = 512

// probeSize bounds how much of a file is compressed to choose a codec.
const probeSize = 64 * 1024

// String returns the name of a compression tag.
func (tag CompressionTag) String() string {
	switch tag {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", tag)
	}
}

// ParseCompressionTag parses the output of [CompressionTag.String].
func ParseCompressionTag(name string) (CompressionTag, error) {
	switch name {
	case "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZstd, nil
	default:
		return 0, fmt.Errorf("unknown compression tag: %q", name)
	}
}

// errIncompressible means the compressed form was not smaller.
var errIncompressible = errors.New("data is incompressible")

// zstd encoders and decoders are safe for concurrent use and expensive
// to construct, so one of each is shared.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("blob: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("blob: zstd decoder initialization failed: " + err.Error())
	}
}

// SelectCompression probes the head of data with zstd. A ratio of at
// least 1.5 selects zstd, at least 1.1 selects LZ4, anything less is
// stored uncompressed.
func SelectCompression(data []byte) CompressionTag {
	if len(data) < minCompressSize {
		return CompressionNone
	}
	probe := data
	if len(probe) > probeSize {
		probe = probe[:probeSize]
	}
	compressed := zstdEncoder.EncodeAll(probe, nil)
	ratio := float64(len(probe)) / float64(len(compressed))
	switch {
	case ratio >= 1.5:
		return CompressionZstd
	case ratio >= 1.1:
		return CompressionLZ4
	default:
		return CompressionNone
	}
}

// Compress encodes data with the selected codec. When compression does
// not shrink the data, the original bytes are returned with
// CompressionNone, so the returned tag is always the one to record.
func Compress(data []byte, tag CompressionTag) ([]byte, CompressionTag, error) {
	var (
		compressed []byte
		err        error
	)
	switch tag {
	case CompressionNone:
		return data, CompressionNone, nil
	case CompressionLZ4:
		compressed, err = compressLZ4(data)
	case CompressionZstd:
		compressed, err = compressZstd(data)
	default:
		return nil, 0, fmt.Errorf("unsupported compression tag: %d", tag)
	}
	if errors.Is(err, errIncompressible) {
		return data, CompressionNone, nil
	}
	if err != nil {
		return nil, 0, err
	}
	return compressed, tag, nil
}

// CompressAuto selects a codec for data and compresses with it.
func CompressAuto(data []byte) ([]byte, CompressionTag, error) {
	return Compress(data, SelectCompression(data))
}

// Decompress reverses [Compress]. The decoded length must equal size
// exactly; a mismatch means the blob or the tree referencing it is
// corrupt.
func Decompress(stored []byte, tag CompressionTag, size int64) ([]byte, error) {
	switch tag {
	case CompressionNone:
		if int64(len(stored)) != size {
			return nil, fmt.Errorf("uncompressed blob: size %d does not match expected %d", len(stored), size)
		}
		return stored, nil
	case CompressionLZ4:
		return decompressLZ4(stored, size)
	case CompressionZstd:
		return decompressZstd(stored, size)
	default:
		return nil, fmt.Errorf("unsupported compression tag: %d", tag)
	}
}

func compressLZ4(data []byte) ([]byte, error) {
	destination := make([]byte, lz4.CompressBlockBound(len(data)))
	written, err := lz4.CompressBlock(data, destination, nil)
	if err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	// CompressBlock reports 0 for incompressible input.
	if written == 0 || written >= len(data) {
		return nil, errIncompressible
	}
	return destination[:written], nil
}

func decompressLZ4(compressed []byte, size int64) ([]byte, error) {
	destination := make([]byte, size)
	read, err := lz4.UncompressBlock(compressed, destination)
	if err != nil {
		return nil, fmt.Errorf("lz4 decompress: %w", err)
	}
	if int64(read) != size {
		return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", read, size)
	}
	return destination, nil
}

func compressZstd(data []byte) ([]byte, error) {
	compressed := zstdEncoder.EncodeAll(data, nil)
	if len(compressed) >= len(data) {
		return nil, errIncompressible
	}
	return compressed, nil
}

func decompressZstd(compressed []byte, size int64) ([]byte, error) {
	result, err := zstdDecoder.DecodeAll(compressed, make([]byte, 0, size))
	if err != nil {
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}
	if int64(len(result)) != size {
		return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d", len(result), size)
	}
	return result, nil
}
