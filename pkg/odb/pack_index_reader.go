package odb

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/gritvcs/grit/pkg/object"
)

// PackIndex is an in-memory version-2 index: fanout-bounded binary
// search over IDs sorted lexicographically by raw bytes.
type PackIndex struct {
	format        object.Format
	fanout        [256]uint32
	entries       []IndexEntry
	PackChecksum  []byte
	IndexChecksum []byte
}

// Entries returns a copy of all rows in ID order.
func (idx *PackIndex) Entries() []IndexEntry {
	out := make([]IndexEntry, len(idx.entries))
	copy(out, idx.entries)
	return out
}

// Len returns the number of indexed objects.
func (idx *PackIndex) Len() int {
	return len(idx.entries)
}

// Find locates id in the index via fanout-bounded binary search.
func (idx *PackIndex) Find(id object.ID) (IndexEntry, bool) {
	if id.Format() != idx.format {
		return IndexEntry{}, false
	}
	raw := id.Raw()

	bucket := int(raw[0])
	start := uint32(0)
	if bucket > 0 {
		start = idx.fanout[bucket-1]
	}
	end := idx.fanout[bucket]
	if end <= start {
		return IndexEntry{}, false
	}

	lo := int(start)
	hi := int(end)
	for lo < hi {
		mid := lo + (hi-lo)/2
		if bytes.Compare(idx.entries[mid].ID.Raw(), raw) < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < int(end) && idx.entries[lo].ID.Equal(id) {
		return idx.entries[lo], true
	}
	return IndexEntry{}, false
}

// ReadPackIndexFromReader parses a version-2 index stream.
func ReadPackIndexFromReader(r io.Reader, format object.Format) (*PackIndex, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read pack index stream: %w", err)
	}
	return ReadPackIndex(data, format)
}

// ReadPackIndex parses and validates a version-2 index, including its
// trailing self-checksum.
func ReadPackIndex(data []byte, format object.Format) (*PackIndex, error) {
	idWidth := format.Size()
	minLen := packIndexHeaderSize + packIndexFanoutSize + 2*idWidth
	if len(data) < minLen {
		return nil, fmt.Errorf("%w: index too short: %d bytes", ErrPackIndexMismatch, len(data))
	}
	if string(data[:4]) != string(packIndexMagic[:]) {
		return nil, fmt.Errorf("%w: invalid index magic %q", ErrPackIndexMismatch, data[:4])
	}
	version := binary.BigEndian.Uint32(data[4:8])
	if version != packIndexVersion {
		return nil, fmt.Errorf("%w: unsupported index version %d", ErrPackIndexMismatch, version)
	}

	declaredSum := data[len(data)-idWidth:]
	h := format.New()
	h.Write(data[:len(data)-idWidth])
	if !bytes.Equal(declaredSum, h.Sum(nil)) {
		return nil, fmt.Errorf("%w: index checksum mismatch", ErrPackIndexMismatch)
	}

	var fanout [256]uint32
	cursor := packIndexHeaderSize
	for i := 0; i < 256; i++ {
		fanout[i] = binary.BigEndian.Uint32(data[cursor:])
		// Non-decreasing fanout also bounds every bucket by the entry
		// count in fanout[255], so Find never indexes past the table.
		if i > 0 && fanout[i] < fanout[i-1] {
			return nil, fmt.Errorf("%w: fanout not monotonic at bucket %d", ErrPackIndexMismatch, i)
		}
		cursor += 4
	}
	n := int(fanout[255])

	namesLen := n * idWidth
	crcLen := n * 4
	offsetLen := n * 4
	if cursor+namesLen+crcLen+offsetLen+2*idWidth > len(data) {
		return nil, fmt.Errorf("%w: index truncated", ErrPackIndexMismatch)
	}

	namesStart := cursor
	cursor += namesLen
	crcStart := cursor
	cursor += crcLen
	offsetStart := cursor
	cursor += offsetLen

	offset32 := make([]uint32, n)
	largeNeeded := uint32(0)
	for i := 0; i < n; i++ {
		v := binary.BigEndian.Uint32(data[offsetStart+(i*4):])
		offset32[i] = v
		if v&packIndexLargeOffsetBit != 0 {
			if ref := v & ^packIndexLargeOffsetBit; ref+1 > largeNeeded {
				largeNeeded = ref + 1
			}
		}
	}

	largeOffsets := make([]uint64, largeNeeded)
	for i := uint32(0); i < largeNeeded; i++ {
		if cursor+8 > len(data)-2*idWidth {
			return nil, fmt.Errorf("%w: large-offset table truncated", ErrPackIndexMismatch)
		}
		largeOffsets[i] = binary.BigEndian.Uint64(data[cursor:])
		cursor += 8
	}

	if cursor+2*idWidth != len(data) {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrPackIndexMismatch, len(data)-(cursor+2*idWidth))
	}

	packChecksum := make([]byte, idWidth)
	copy(packChecksum, data[cursor:cursor+idWidth])
	indexChecksum := make([]byte, idWidth)
	copy(indexChecksum, data[cursor+idWidth:])

	entries := make([]IndexEntry, n)
	for i := 0; i < n; i++ {
		id, err := object.IDFromBytes(format, data[namesStart+(i*idWidth):namesStart+((i+1)*idWidth)])
		if err != nil {
			return nil, fmt.Errorf("%w: entry %d: %v", ErrPackIndexMismatch, i, err)
		}
		offset := uint64(offset32[i])
		if offset32[i]&packIndexLargeOffsetBit != 0 {
			ref := offset32[i] & ^packIndexLargeOffsetBit
			if int(ref) >= len(largeOffsets) {
				return nil, fmt.Errorf("%w: invalid large offset reference %d", ErrPackIndexMismatch, ref)
			}
			offset = largeOffsets[ref]
		}
		entries[i] = IndexEntry{
			ID:     id,
			CRC32:  binary.BigEndian.Uint32(data[crcStart+(i*4):]),
			Offset: offset,
		}
	}

	return &PackIndex{
		format:        format,
		fanout:        fanout,
		entries:       entries,
		PackChecksum:  packChecksum,
		IndexChecksum: indexChecksum,
	}, nil
}
