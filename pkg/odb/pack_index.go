package odb

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"sort"

	"github.com/gritvcs/grit/pkg/object"
)

const (
	packIndexVersion        = 2
	packIndexHeaderSize     = 8
	packIndexFanoutSize     = 256 * 4
	packIndexLargeOffsetBit = uint32(1 << 31)
)

var packIndexMagic = [4]byte{0xff, 't', 'O', 'c'}

// IndexEntry is one row in a pack index: an object ID, the byte offset
// of its record in the pack, and the CRC-32 of the on-disk record.
type IndexEntry struct {
	ID     object.ID
	Offset uint64
	CRC32  uint32
}

func sortIndexEntries(entries []IndexEntry) []IndexEntry {
	out := make([]IndexEntry, len(entries))
	copy(out, entries)
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].ID.Raw(), out[j].ID.Raw()) < 0
	})
	return out
}

// WritePackIndex emits a version-2 index for the given entries and the
// checksum of the pack it describes. It returns the index's own
// trailing checksum.
func WritePackIndex(w io.Writer, format object.Format, entries []IndexEntry, packChecksum []byte) ([]byte, error) {
	if len(packChecksum) != format.Size() {
		return nil, fmt.Errorf("pack checksum must be %d bytes, got %d", format.Size(), len(packChecksum))
	}
	for i, e := range entries {
		if e.ID.Format() != format {
			return nil, fmt.Errorf("entry %d: id format %s, index format %s", i, e.ID.Format(), format)
		}
	}
	sorted := sortIndexEntries(entries)

	var buf bytes.Buffer
	buf.Write(packIndexMagic[:])
	_ = binary.Write(&buf, binary.BigEndian, uint32(packIndexVersion))

	fanout := buildFanout(sorted)
	for i := 0; i < 256; i++ {
		_ = binary.Write(&buf, binary.BigEndian, fanout[i])
	}

	for _, entry := range sorted {
		buf.Write(entry.ID.Raw())
	}
	for _, entry := range sorted {
		_ = binary.Write(&buf, binary.BigEndian, entry.CRC32)
	}

	var largeOffsets []uint64
	for _, entry := range sorted {
		if entry.Offset < uint64(packIndexLargeOffsetBit) {
			_ = binary.Write(&buf, binary.BigEndian, uint32(entry.Offset))
			continue
		}
		ref := packIndexLargeOffsetBit | uint32(len(largeOffsets))
		_ = binary.Write(&buf, binary.BigEndian, ref)
		largeOffsets = append(largeOffsets, entry.Offset)
	}
	for _, offset := range largeOffsets {
		_ = binary.Write(&buf, binary.BigEndian, offset)
	}

	buf.Write(packChecksum)

	h := format.New()
	h.Write(buf.Bytes())
	indexSum := h.Sum(nil)
	buf.Write(indexSum)

	if _, err := w.Write(buf.Bytes()); err != nil {
		return nil, fmt.Errorf("write pack index: %w", err)
	}
	return indexSum, nil
}

// buildFanout computes the cumulative 256-way first-byte table.
func buildFanout(sorted []IndexEntry) [256]uint32 {
	var counts [256]uint32
	for _, entry := range sorted {
		counts[entry.ID.Raw()[0]]++
	}

	var fanout [256]uint32
	var total uint32
	for i := 0; i < 256; i++ {
		total += counts[i]
		fanout[i] = total
	}
	return fanout
}
