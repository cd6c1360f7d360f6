package odb

import (
	"bytes"
	"fmt"
	"hash/crc32"
	"io"

	lru "github.com/hashicorp/golang-lru"
	"github.com/klauspost/compress/zlib"

	"github.com/gritvcs/grit/pkg/object"
)

// baseCacheSize bounds the per-pack cache of resolved delta bases.
const baseCacheSize = 256

// BaseFunc resolves a REF_DELTA base that lives outside the pack,
// typically via the surrounding object database.
type BaseFunc func(object.ID) (object.Type, []byte, error)

type cachedEntry struct {
	t    object.Type
	data []byte
}

// Pack is a read-only, random-access view over a sealed pack file and
// its index. Records are decoded on demand; delta chains are resolved
// recursively with a depth guard and an LRU cache of resolved bases.
type Pack struct {
	format   object.Format
	data     []byte
	idx      *PackIndex
	external BaseFunc
	cache    *lru.Cache
}

// OpenPack validates the pack trailer checksum and the index against
// the pack, returning a queryable handle. external may be nil when
// REF_DELTA bases are known to live inside the pack.
func OpenPack(packData, idxData []byte, format object.Format, external BaseFunc) (*Pack, error) {
	checksum, err := verifyPackTrailer(packData, format)
	if err != nil {
		return nil, err
	}
	if _, err := UnmarshalPackHeader(packData); err != nil {
		return nil, err
	}

	idx, err := ReadPackIndex(idxData, format)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(idx.PackChecksum, checksum) {
		return nil, fmt.Errorf("%w: index names pack %x, pack trailer is %x", ErrPackIndexMismatch, idx.PackChecksum, checksum)
	}

	cache, err := lru.New(baseCacheSize)
	if err != nil {
		return nil, err
	}
	return &Pack{
		format:   format,
		data:     packData,
		idx:      idx,
		external: external,
		cache:    cache,
	}, nil
}

func verifyPackTrailer(data []byte, format object.Format) ([]byte, error) {
	w := format.Size()
	if len(data) < packHeaderSize+w {
		return nil, fmt.Errorf("%w: pack too short: %d bytes", ErrPackChecksum, len(data))
	}
	payload := data[:len(data)-w]
	trailer := data[len(data)-w:]

	h := format.New()
	h.Write(payload)
	if !bytes.Equal(h.Sum(nil), trailer) {
		return nil, ErrPackChecksum
	}
	return trailer, nil
}

// Checksum returns the pack's trailing checksum.
func (p *Pack) Checksum() []byte {
	sum := make([]byte, len(p.idx.PackChecksum))
	copy(sum, p.idx.PackChecksum)
	return sum
}

// Index returns the pack's index.
func (p *Pack) Index() *PackIndex {
	return p.idx
}

// Contains reports whether the pack's index holds id.
func (p *Pack) Contains(id object.ID) bool {
	_, ok := p.idx.Find(id)
	return ok
}

// Get decodes the object stored for id, resolving any delta chain. The
// returned payload re-hashes to id or the read fails.
func (p *Pack) Get(id object.ID) (object.Type, []byte, error) {
	entry, ok := p.idx.Find(id)
	if !ok {
		return "", nil, fmt.Errorf("pack object %s: %w", id, ErrNotFound)
	}
	t, data, err := p.entryAt(entry.Offset, 0)
	if err != nil {
		return "", nil, fmt.Errorf("pack object %s: %w", id, err)
	}
	if computed := object.HashObject(p.format, t, data); !computed.Equal(id) {
		return "", nil, fmt.Errorf("pack object %s: content hashes to %s", id, computed)
	}
	return t, data, nil
}

// entryAt decodes the record at offset, recursing through delta bases.
func (p *Pack) entryAt(offset uint64, depth int) (object.Type, []byte, error) {
	if depth > maxDeltaDepth {
		return "", nil, fmt.Errorf("%w: depth %d at offset %d", ErrDeltaChainTooDeep, depth, offset)
	}
	if v, ok := p.cache.Get(offset); ok {
		e := v.(cachedEntry)
		return e.t, e.data, nil
	}

	limit := uint64(len(p.data) - p.format.Size())
	if offset >= limit {
		return "", nil, fmt.Errorf("record offset %d out of range", offset)
	}
	pos := offset

	et, size, n, err := decodeEntryHeader(p.data[pos:limit])
	if err != nil {
		return "", nil, fmt.Errorf("record at %d: %w", offset, err)
	}
	pos += uint64(n)

	var (
		baseType object.Type
		baseData []byte
	)
	switch et {
	case EntryOfsDelta:
		distance, n, err := decodeOfsDeltaDistance(p.data[pos:limit])
		if err != nil {
			return "", nil, fmt.Errorf("record at %d: %w", offset, err)
		}
		pos += uint64(n)
		if distance == 0 || distance > offset {
			return "", nil, fmt.Errorf("record at %d: ofs-delta distance %d out of range", offset, distance)
		}
		baseType, baseData, err = p.entryAt(offset-distance, depth+1)
		if err != nil {
			return "", nil, err
		}

	case EntryRefDelta:
		w := uint64(p.format.Size())
		if pos+w > limit {
			return "", nil, fmt.Errorf("record at %d: truncated ref-delta base id", offset)
		}
		baseID, err := object.IDFromBytes(p.format, p.data[pos:pos+w])
		if err != nil {
			return "", nil, fmt.Errorf("record at %d: %w", offset, err)
		}
		pos += w
		if entry, ok := p.idx.Find(baseID); ok {
			baseType, baseData, err = p.entryAt(entry.Offset, depth+1)
		} else if p.external != nil {
			baseType, baseData, err = p.external(baseID)
		} else {
			err = fmt.Errorf("ref-delta base %s: %w", baseID, ErrNotFound)
		}
		if err != nil {
			return "", nil, err
		}

	default:
		t, ok := objectTypeOf(et)
		if !ok {
			return "", nil, fmt.Errorf("record at %d: unsupported entry type %d", offset, et)
		}
		raw, _, err := p.inflate(pos, limit, size)
		if err != nil {
			return "", nil, fmt.Errorf("record at %d: %w", offset, err)
		}
		p.cache.Add(offset, cachedEntry{t: t, data: raw})
		return t, raw, nil
	}

	delta, _, err := p.inflate(pos, limit, 0)
	if err != nil {
		return "", nil, fmt.Errorf("record at %d: %w", offset, err)
	}
	if size != 0 && uint64(len(delta)) != size {
		return "", nil, fmt.Errorf("record at %d: delta size mismatch header=%d decoded=%d", offset, size, len(delta))
	}
	target, err := ApplyDelta(baseData, delta)
	if err != nil {
		return "", nil, fmt.Errorf("record at %d: %w", offset, err)
	}
	p.cache.Add(offset, cachedEntry{t: baseType, data: target})
	return baseType, target, nil
}

// inflate decompresses one zlib stream starting at pos, returning the
// raw bytes and how many compressed bytes were consumed. A nonzero
// expected size is enforced.
func (p *Pack) inflate(pos, limit, expected uint64) ([]byte, uint64, error) {
	return inflateAt(p.data, pos, limit, expected)
}

// IndexPack scans a bare pack stream record by record, resolving all
// deltas, and reconstructs the index rows (ID, offset, CRC-32) the
// pack's index file would contain. It is the recovery path when only
// the pack bytes are at hand, and the cross-check used by verify.
func IndexPack(packData []byte, format object.Format, external BaseFunc) ([]IndexEntry, []byte, error) {
	checksum, err := verifyPackTrailer(packData, format)
	if err != nil {
		return nil, nil, err
	}
	header, err := UnmarshalPackHeader(packData)
	if err != nil {
		return nil, nil, err
	}

	limit := uint64(len(packData) - format.Size())
	byOffset := make(map[uint64]cachedEntry, header.NumObjects)
	byID := make(map[object.ID]cachedEntry, header.NumObjects)
	entries := make([]IndexEntry, 0, header.NumObjects)

	pos := uint64(packHeaderSize)
	for i := uint32(0); i < header.NumObjects; i++ {
		offset := pos
		et, size, n, err := decodeEntryHeader(packData[pos:limit])
		if err != nil {
			return nil, nil, fmt.Errorf("record %d: %w", i, err)
		}
		pos += uint64(n)

		var (
			t   object.Type
			raw []byte
		)
		switch et {
		case EntryOfsDelta:
			distance, n, err := decodeOfsDeltaDistance(packData[pos:limit])
			if err != nil {
				return nil, nil, fmt.Errorf("record %d: %w", i, err)
			}
			pos += uint64(n)
			if distance == 0 || distance > offset {
				return nil, nil, fmt.Errorf("record %d: ofs-delta distance %d out of range", i, distance)
			}
			base, ok := byOffset[offset-distance]
			if !ok {
				return nil, nil, fmt.Errorf("record %d: no base record at offset %d", i, offset-distance)
			}
			delta, consumed, err := inflateAt(packData, pos, limit, size)
			if err != nil {
				return nil, nil, fmt.Errorf("record %d: %w", i, err)
			}
			pos += consumed
			if raw, err = ApplyDelta(base.data, delta); err != nil {
				return nil, nil, fmt.Errorf("record %d: %w", i, err)
			}
			t = base.t

		case EntryRefDelta:
			w := uint64(format.Size())
			if pos+w > limit {
				return nil, nil, fmt.Errorf("record %d: truncated ref-delta base id", i)
			}
			baseID, err := object.IDFromBytes(format, packData[pos:pos+w])
			if err != nil {
				return nil, nil, fmt.Errorf("record %d: %w", i, err)
			}
			pos += w
			base, ok := byID[baseID]
			if !ok {
				if external == nil {
					return nil, nil, fmt.Errorf("record %d: ref-delta base %s: %w", i, baseID, ErrNotFound)
				}
				bt, bd, err := external(baseID)
				if err != nil {
					return nil, nil, fmt.Errorf("record %d: ref-delta base %s: %w", i, baseID, err)
				}
				base = cachedEntry{t: bt, data: bd}
			}
			delta, consumed, err := inflateAt(packData, pos, limit, size)
			if err != nil {
				return nil, nil, fmt.Errorf("record %d: %w", i, err)
			}
			pos += consumed
			if raw, err = ApplyDelta(base.data, delta); err != nil {
				return nil, nil, fmt.Errorf("record %d: %w", i, err)
			}
			t = base.t

		default:
			var ok bool
			if t, ok = objectTypeOf(et); !ok {
				return nil, nil, fmt.Errorf("record %d: unsupported entry type %d", i, et)
			}
			var consumed uint64
			if raw, consumed, err = inflateAt(packData, pos, limit, size); err != nil {
				return nil, nil, fmt.Errorf("record %d: %w", i, err)
			}
			pos += consumed
		}

		id := object.HashObject(format, t, raw)
		resolved := cachedEntry{t: t, data: raw}
		byOffset[offset] = resolved
		byID[id] = resolved
		entries = append(entries, IndexEntry{
			ID:     id,
			Offset: offset,
			CRC32:  crc32.ChecksumIEEE(packData[offset:pos]),
		})
	}

	if pos != limit {
		return nil, nil, fmt.Errorf("pack has %d trailing undecoded bytes", limit-pos)
	}
	return entries, checksum, nil
}

func inflateAt(data []byte, pos, limit, expected uint64) ([]byte, uint64, error) {
	sub := bytes.NewReader(data[pos:limit])
	zr, err := zlib.NewReader(sub)
	if err != nil {
		return nil, 0, fmt.Errorf("zlib reader: %w", err)
	}
	raw, err := io.ReadAll(zr)
	if err != nil {
		_ = zr.Close()
		return nil, 0, fmt.Errorf("decompress: %w", err)
	}
	if err := zr.Close(); err != nil {
		return nil, 0, fmt.Errorf("close zlib stream: %w", err)
	}
	if expected != 0 && uint64(len(raw)) != expected {
		return nil, 0, fmt.Errorf("size mismatch header=%d decoded=%d", expected, len(raw))
	}
	consumed := uint64(len(data[pos:limit]) - sub.Len())
	return raw, consumed, nil
}
