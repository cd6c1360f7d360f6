package odb

import (
	"bytes"
	"errors"
	"fmt"
	"io"
)

// ErrDeltaApply reports a delta stream that cannot be applied to its
// base: out-of-range copy, declared-size mismatch, or a malformed
// instruction.
var ErrDeltaApply = errors.New("delta apply failed")

// ErrDeltaChainTooDeep reports a delta whose base chain exceeds
// maxDeltaDepth, guarding against cyclic or degenerate chains.
var ErrDeltaChainTooDeep = errors.New("delta chain too deep")

// maxDeltaDepth bounds recursive base resolution during pack reads.
const maxDeltaDepth = 50

func encodeDeltaVarint(v uint64) []byte {
	if v == 0 {
		return []byte{0}
	}
	out := make([]byte, 0, 10)
	for v > 0 {
		b := byte(v & 0x7f)
		v >>= 7
		if v > 0 {
			b |= 0x80
		}
		out = append(out, b)
	}
	return out
}

func decodeDeltaVarint(r io.ByteReader) (uint64, error) {
	var (
		value uint64
		shift uint
	)
	for {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		value |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return value, nil
		}
		shift += 7
		if shift > 63 {
			return 0, fmt.Errorf("delta varint too large")
		}
	}
}

// encodeOfsDeltaDistance encodes a backward distance for OFS_DELTA
// entries in the pack's big-endian chained-varint form.
func encodeOfsDeltaDistance(distance uint64) []byte {
	if distance == 0 {
		return []byte{0}
	}
	b := []byte{byte(distance & 0x7f)}
	for distance >>= 7; distance > 0; distance >>= 7 {
		distance--
		b = append([]byte{byte((distance & 0x7f) | 0x80)}, b...)
	}
	return b
}

func decodeOfsDeltaDistance(data []byte) (uint64, int, error) {
	if len(data) == 0 {
		return 0, 0, fmt.Errorf("ofs-delta distance truncated")
	}
	i := 0
	c := data[i]
	i++
	offset := uint64(c & 0x7f)
	for c&0x80 != 0 {
		if i >= len(data) {
			return 0, 0, fmt.Errorf("ofs-delta distance truncated")
		}
		c = data[i]
		i++
		offset = ((offset + 1) << 7) | uint64(c&0x7f)
	}
	return offset, i, nil
}

// ApplyDelta applies copy/insert instructions to base and returns the
// reconstructed target. The stream's declared base and result sizes
// are enforced; any violation fails with ErrDeltaApply.
func ApplyDelta(base, delta []byte) ([]byte, error) {
	dr := bytes.NewReader(delta)

	baseSize, err := decodeDeltaVarint(dr)
	if err != nil {
		return nil, fmt.Errorf("%w: read base size: %v", ErrDeltaApply, err)
	}
	if int(baseSize) != len(base) {
		return nil, fmt.Errorf("%w: base size mismatch: declared %d, have %d", ErrDeltaApply, baseSize, len(base))
	}
	resultSize, err := decodeDeltaVarint(dr)
	if err != nil {
		return nil, fmt.Errorf("%w: read result size: %v", ErrDeltaApply, err)
	}

	out := make([]byte, 0, resultSize)
	for dr.Len() > 0 {
		cmd, err := dr.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDeltaApply, err)
		}

		if cmd&0x80 != 0 {
			offset, size, err := readCopyArgs(dr, cmd)
			if err != nil {
				return nil, err
			}
			if offset+size > int64(len(base)) {
				return nil, fmt.Errorf("%w: copy [%d,%d) out of base range %d", ErrDeltaApply, offset, offset+size, len(base))
			}
			out = append(out, base[offset:offset+size]...)
			continue
		}

		if cmd == 0 {
			return nil, fmt.Errorf("%w: reserved zero command", ErrDeltaApply)
		}
		insert := make([]byte, int(cmd))
		if _, err := io.ReadFull(dr, insert); err != nil {
			return nil, fmt.Errorf("%w: insert truncated: %v", ErrDeltaApply, err)
		}
		out = append(out, insert...)
	}

	if uint64(len(out)) != resultSize {
		return nil, fmt.Errorf("%w: result size mismatch: got %d, declared %d", ErrDeltaApply, len(out), resultSize)
	}
	return out, nil
}

// readCopyArgs decodes the bit-packed offset and size arguments of a
// copy command. A size of zero means 0x10000 by convention.
func readCopyArgs(r io.ByteReader, cmd byte) (offset, size int64, err error) {
	arg := func(bit byte, shift uint, dst *int64) error {
		if cmd&bit == 0 {
			return nil
		}
		b, err := r.ReadByte()
		if err != nil {
			return fmt.Errorf("%w: copy arguments truncated: %v", ErrDeltaApply, err)
		}
		*dst |= int64(b) << shift
		return nil
	}

	for i, bit := range []byte{0x01, 0x02, 0x04, 0x08} {
		if err := arg(bit, uint(8*i), &offset); err != nil {
			return 0, 0, err
		}
	}
	for i, bit := range []byte{0x10, 0x20, 0x40} {
		if err := arg(bit, uint(8*i), &size); err != nil {
			return 0, 0, err
		}
	}
	if size == 0 {
		size = 0x10000
	}
	return offset, size, nil
}
