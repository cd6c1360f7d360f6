package odb

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/gritvcs/grit/pkg/object"
)

const (
	packHeaderSize       = 12
	supportedPackVersion = 2
)

var packMagic = [4]byte{'P', 'A', 'C', 'K'}

// ErrPackChecksum reports a pack whose trailing checksum disagrees
// with a recomputed checksum over the stream.
var ErrPackChecksum = errors.New("pack checksum mismatch")

// ErrPackIndexMismatch reports an index whose own checksum fails or
// whose recorded pack identity disagrees with the pack it names.
var ErrPackIndexMismatch = errors.New("pack index mismatch")

// EntryType is the per-record type tag in a pack stream. Values match
// the canonical wire/storage format, including the two delta subtypes.
type EntryType uint8

const (
	EntryCommit   EntryType = 1
	EntryTree     EntryType = 2
	EntryBlob     EntryType = 3
	EntryTag      EntryType = 4
	EntryOfsDelta EntryType = 6
	EntryRefDelta EntryType = 7
)

// IsDelta reports whether the entry stores delta instructions rather
// than a full object.
func (t EntryType) IsDelta() bool {
	return t == EntryOfsDelta || t == EntryRefDelta
}

// entryTypeOf maps an object type to its pack tag.
func entryTypeOf(t object.Type) EntryType {
	switch t {
	case object.TypeCommit:
		return EntryCommit
	case object.TypeTree:
		return EntryTree
	case object.TypeBlob:
		return EntryBlob
	case object.TypeTag:
		return EntryTag
	}
	return 0
}

// objectTypeOf maps a full-object pack tag back to an object type.
func objectTypeOf(t EntryType) (object.Type, bool) {
	switch t {
	case EntryCommit:
		return object.TypeCommit, true
	case EntryTree:
		return object.TypeTree, true
	case EntryBlob:
		return object.TypeBlob, true
	case EntryTag:
		return object.TypeTag, true
	}
	return "", false
}

// PackHeader is the fixed-size pack header.
//
// Bytes:
//   - 0..3:  "PACK"
//   - 4..7:  version (big-endian)
//   - 8..11: number of objects (big-endian)
type PackHeader struct {
	Version    uint32
	NumObjects uint32
}

// Marshal serializes the header to its canonical 12 bytes.
func (h PackHeader) Marshal() []byte {
	buf := make([]byte, packHeaderSize)
	copy(buf[:4], packMagic[:])
	binary.BigEndian.PutUint32(buf[4:8], h.Version)
	binary.BigEndian.PutUint32(buf[8:12], h.NumObjects)
	return buf
}

// UnmarshalPackHeader parses and validates a pack header.
func UnmarshalPackHeader(data []byte) (*PackHeader, error) {
	if len(data) < packHeaderSize {
		return nil, fmt.Errorf("pack header too short: got %d bytes", len(data))
	}
	if string(data[:4]) != string(packMagic[:]) {
		return nil, fmt.Errorf("invalid pack magic %q", data[:4])
	}

	version := binary.BigEndian.Uint32(data[4:8])
	if version != supportedPackVersion {
		return nil, fmt.Errorf("unsupported pack version %d", version)
	}

	return &PackHeader{
		Version:    version,
		NumObjects: binary.BigEndian.Uint32(data[8:12]),
	}, nil
}

// encodeEntryHeader encodes the variable-length record header: type in
// bits 4-6 of the first byte, uncompressed size in little-endian
// 7-bit groups.
func encodeEntryHeader(t EntryType, size uint64) []byte {
	b := byte((t & 0x7) << 4)
	b |= byte(size & 0x0f)
	size >>= 4

	out := make([]byte, 0, 10)
	if size > 0 {
		b |= 0x80
	}
	out = append(out, b)

	for size > 0 {
		next := byte(size & 0x7f)
		size >>= 7
		if size > 0 {
			next |= 0x80
		}
		out = append(out, next)
	}

	return out
}

// decodeEntryHeader decodes a record header, returning the entry type,
// uncompressed size, and bytes consumed.
func decodeEntryHeader(data []byte) (EntryType, uint64, int, error) {
	if len(data) == 0 {
		return 0, 0, 0, fmt.Errorf("entry header truncated")
	}

	b := data[0]
	t := EntryType((b >> 4) & 0x7)
	size := uint64(b & 0x0f)
	shift := uint(4)
	consumed := 1

	for b&0x80 != 0 {
		if consumed >= len(data) {
			return 0, 0, 0, fmt.Errorf("entry header truncated")
		}
		b = data[consumed]
		size |= uint64(b&0x7f) << shift
		shift += 7
		consumed++
	}

	return t, size, consumed, nil
}
