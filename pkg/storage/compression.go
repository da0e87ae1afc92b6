package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/klauspost/compress/zstd"
)

var errTruncated = errors.New("truncated column")

// Compressor encodes sample columns of a block: timestamps with
// delta-of-delta varints, feature values with XOR of IEEE bits. Both are
// then run through zstd.
type Compressor struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewCompressor creates a new compressor. Level ranges from 1 (fastest) to
// 4 (best compression).
func NewCompressor(level int) (*Compressor, error) {
	var encLevel zstd.EncoderLevel
	switch level {
	case 1:
		encLevel = zstd.SpeedFastest
	case 2:
		encLevel = zstd.SpeedDefault
	case 3:
		encLevel = zstd.SpeedBetterCompression
	case 4:
		encLevel = zstd.SpeedBestCompression
	default:
		return nil, fmt.Errorf("invalid compression level %d", level)
	}

	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(encLevel))
	if err != nil {
		return nil, fmt.Errorf("failed to create encoder: %w", err)
	}

	decoder, err := zstd.NewReader(nil)
	if err != nil {
		encoder.Close()
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}

	return &Compressor{
		encoder: encoder,
		decoder: decoder,
	}, nil
}

// CompressTimestamps compresses unix-nanosecond timestamps
func (c *Compressor) CompressTimestamps(timestamps []int64) ([]byte, error) {
	if len(timestamps) == 0 {
		return nil, nil
	}

	buf := make([]byte, 0, len(timestamps)*2+binary.MaxVarintLen64)
	buf = binary.AppendVarint(buf, timestamps[0])

	var prevDelta int64
	for i := 1; i < len(timestamps); i++ {
		delta := timestamps[i] - timestamps[i-1]
		buf = binary.AppendVarint(buf, delta-prevDelta)
		prevDelta = delta
	}

	return c.encoder.EncodeAll(buf, make([]byte, 0, len(buf))), nil
}

// DecompressTimestamps reverses CompressTimestamps
func (c *Compressor) DecompressTimestamps(data []byte, count int) ([]int64, error) {
	if len(data) == 0 || count == 0 {
		return nil, nil
	}

	raw, err := c.decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("decompression failed: %w", err)
	}

	timestamps := make([]int64, count)
	first, n := binary.Varint(raw)
	if n <= 0 {
		return nil, errTruncated
	}
	timestamps[0] = first
	raw = raw[n:]

	var prevDelta int64
	for i := 1; i < count; i++ {
		dod, n := binary.Varint(raw)
		if n <= 0 {
			return nil, errTruncated
		}
		raw = raw[n:]

		delta := dod + prevDelta
		timestamps[i] = timestamps[i-1] + delta
		prevDelta = delta
	}

	return timestamps, nil
}

// CompressValues compresses one feature column. Missing values are stored
// as NaN.
func (c *Compressor) CompressValues(values []float64) ([]byte, error) {
	if len(values) == 0 {
		return nil, nil
	}

	buf := make([]byte, 0, len(values)*8)
	var prevBits uint64
	for _, v := range values {
		bits := math.Float64bits(v)
		buf = binary.LittleEndian.AppendUint64(buf, bits^prevBits)
		prevBits = bits
	}

	return c.encoder.EncodeAll(buf, make([]byte, 0, len(buf))), nil
}

// DecompressValues reverses CompressValues
func (c *Compressor) DecompressValues(data []byte, count int) ([]float64, error) {
	if len(data) == 0 || count == 0 {
		return nil, nil
	}

	raw, err := c.decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("decompression failed: %w", err)
	}
	if len(raw) < count*8 {
		return nil, errTruncated
	}

	values := make([]float64, count)
	var prevBits uint64
	for i := 0; i < count; i++ {
		bits := binary.LittleEndian.Uint64(raw[i*8:]) ^ prevBits
		values[i] = math.Float64frombits(bits)
		prevBits = bits
	}

	return values, nil
}

// Close closes the compressor resources
func (c *Compressor) Close() {
	if c.encoder != nil {
		c.encoder.Close()
	}
	if c.decoder != nil {
		c.decoder.Close()
	}
}
