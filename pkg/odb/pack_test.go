package odb

import (
	"bytes"
	"encoding/binary"
	"errors"
	"sort"
	"strings"
	"testing"

	"github.com/gritvcs/grit/pkg/object"
)

// testPack holds a pack/index pair built in memory plus the ids stored
// in it.
type testPack struct {
	packData []byte
	idxData  []byte
	ids      map[string]object.ID // label -> id
}

// buildTestPack writes a pack holding a full blob, an OFS_DELTA against
// it, a full tree, and a REF_DELTA whose base is outside the pack.
func buildTestPack(t *testing.T, external map[object.ID][]byte) *testPack {
	t.Helper()
	f := object.SHA1

	basePayload := []byte(strings.Repeat("shared content line\n", 30))
	nearDup := append(append([]byte{}, basePayload...), []byte("extra tail\n")...)

	treeEntryID := object.HashObject(f, object.TypeBlob, basePayload)
	tree := &object.Tree{Entries: []object.TreeEntry{
		{Mode: object.TreeModeFile, Name: "data.txt", ID: treeEntryID},
	}}
	treePayload := tree.Encode()

	extPayload := []byte(strings.Repeat("external base text\n", 10))
	extTarget := append(append([]byte{}, extPayload...), []byte("patched\n")...)
	extID := object.HashObject(f, object.TypeBlob, extPayload)
	if external != nil {
		external[extID] = extPayload
	}

	ids := map[string]object.ID{
		"base":    object.HashObject(f, object.TypeBlob, basePayload),
		"neardup": object.HashObject(f, object.TypeBlob, nearDup),
		"tree":    object.HashObject(f, object.TypeTree, treePayload),
		"patched": object.HashObject(f, object.TypeBlob, extTarget),
	}

	var buf bytes.Buffer
	pw, err := NewPackWriter(&buf, f, 4)
	if err != nil {
		t.Fatalf("NewPackWriter: %v", err)
	}

	var entries []IndexEntry
	add := func(label string, offset uint64, crc uint32) {
		entries = append(entries, IndexEntry{ID: ids[label], Offset: offset, CRC32: crc})
	}

	baseOff, crc, err := pw.WriteFull(object.TypeBlob, basePayload)
	if err != nil {
		t.Fatalf("WriteFull(base): %v", err)
	}
	add("base", baseOff, crc)

	off, crc, err := pw.WriteOfsDelta(baseOff, ComputeDelta(basePayload, nearDup))
	if err != nil {
		t.Fatalf("WriteOfsDelta: %v", err)
	}
	add("neardup", off, crc)

	off, crc, err = pw.WriteFull(object.TypeTree, treePayload)
	if err != nil {
		t.Fatalf("WriteFull(tree): %v", err)
	}
	add("tree", off, crc)

	off, crc, err = pw.WriteRefDelta(extID, ComputeDelta(extPayload, extTarget))
	if err != nil {
		t.Fatalf("WriteRefDelta: %v", err)
	}
	add("patched", off, crc)

	checksum, err := pw.Finish()
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}

	var idx bytes.Buffer
	if _, err := WritePackIndex(&idx, f, entries, checksum); err != nil {
		t.Fatalf("WritePackIndex: %v", err)
	}

	return &testPack{packData: buf.Bytes(), idxData: idx.Bytes(), ids: ids}
}

func externalResolver(bases map[object.ID][]byte) BaseFunc {
	return func(id object.ID) (object.Type, []byte, error) {
		payload, ok := bases[id]
		if !ok {
			return "", nil, ErrNotFound
		}
		return object.TypeBlob, payload, nil
	}
}

func TestPackWriteReadRoundTrip(t *testing.T) {
	external := map[object.ID][]byte{}
	tp := buildTestPack(t, external)

	pack, err := OpenPack(tp.packData, tp.idxData, object.SHA1, externalResolver(external))
	if err != nil {
		t.Fatalf("OpenPack: %v", err)
	}

	for label, id := range tp.ids {
		typ, payload, err := pack.Get(id)
		if err != nil {
			t.Fatalf("Get(%s): %v", label, err)
		}
		// Get re-hashes, so a successful return already proves the
		// payload; cross-check the type tag too.
		if computed := object.HashObject(object.SHA1, typ, payload); !computed.Equal(id) {
			t.Fatalf("Get(%s) returned content hashing to %s", label, computed)
		}
	}

	if pack.Contains(object.HashObject(object.SHA1, object.TypeBlob, []byte("absent"))) {
		t.Fatalf("Contains reported an absent object")
	}
	if _, _, err := pack.Get(object.HashObject(object.SHA1, object.TypeBlob, []byte("absent"))); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get(absent) error = %v, want ErrNotFound", err)
	}
}

func TestPackChecksumDetectsCorruption(t *testing.T) {
	external := map[object.ID][]byte{}
	tp := buildTestPack(t, external)

	// Flip one byte in the data region (past the header, before the
	// trailer) and the pack must be rejected outright.
	for _, pos := range []int{packHeaderSize + 1, len(tp.packData) / 2, len(tp.packData) - 21} {
		corrupt := append([]byte{}, tp.packData...)
		corrupt[pos] ^= 0x40
		if _, err := OpenPack(corrupt, tp.idxData, object.SHA1, nil); !errors.Is(err, ErrPackChecksum) {
			t.Fatalf("OpenPack with flipped byte %d: error = %v, want ErrPackChecksum", pos, err)
		}
	}
}

func TestPackIndexChecksumDetectsCorruption(t *testing.T) {
	tp := buildTestPack(t, nil)

	corrupt := append([]byte{}, tp.idxData...)
	corrupt[packIndexHeaderSize+7] ^= 0x01
	if _, err := ReadPackIndex(corrupt, object.SHA1); !errors.Is(err, ErrPackIndexMismatch) {
		t.Fatalf("ReadPackIndex error = %v, want ErrPackIndexMismatch", err)
	}
}

func TestPackIndexRejectsBrokenFanout(t *testing.T) {
	tp := buildTestPack(t, nil)
	f := object.SHA1
	idx := append([]byte{}, tp.idxData...)

	// Inflate every intermediate bucket past the object count in
	// fanout[255], then re-sign the index so the corruption survives the
	// checksum check. Without fanout validation a Find in an inflated
	// bucket reads past the entry table.
	count := binary.BigEndian.Uint32(idx[packIndexHeaderSize+4*255:])
	for b := 0; b < 255; b++ {
		binary.BigEndian.PutUint32(idx[packIndexHeaderSize+4*b:], count+4)
	}
	h := f.New()
	h.Write(idx[:len(idx)-f.Size()])
	copy(idx[len(idx)-f.Size():], h.Sum(nil))

	if _, err := ReadPackIndex(idx, f); !errors.Is(err, ErrPackIndexMismatch) {
		t.Fatalf("ReadPackIndex error = %v, want ErrPackIndexMismatch", err)
	}
}

func TestPackIndexNamesItsPack(t *testing.T) {
	a := buildTestPack(t, nil)

	// A different pack: same writer, different content.
	f := object.SHA1
	var buf bytes.Buffer
	pw, err := NewPackWriter(&buf, f, 1)
	if err != nil {
		t.Fatalf("NewPackWriter: %v", err)
	}
	payload := []byte("a different pack entirely")
	off, crc, err := pw.WriteFull(object.TypeBlob, payload)
	if err != nil {
		t.Fatalf("WriteFull: %v", err)
	}
	checksum, err := pw.Finish()
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	var idx bytes.Buffer
	entry := IndexEntry{ID: object.HashObject(f, object.TypeBlob, payload), Offset: off, CRC32: crc}
	if _, err := WritePackIndex(&idx, f, []IndexEntry{entry}, checksum); err != nil {
		t.Fatalf("WritePackIndex: %v", err)
	}

	if _, err := OpenPack(a.packData, idx.Bytes(), f, nil); !errors.Is(err, ErrPackIndexMismatch) {
		t.Fatalf("OpenPack with foreign index: error = %v, want ErrPackIndexMismatch", err)
	}
}

func TestPackIndexFind(t *testing.T) {
	tp := buildTestPack(t, nil)
	idx, err := ReadPackIndex(tp.idxData, object.SHA1)
	if err != nil {
		t.Fatalf("ReadPackIndex: %v", err)
	}
	if idx.Len() != 4 {
		t.Fatalf("Len = %d, want 4", idx.Len())
	}

	for label, id := range tp.ids {
		entry, ok := idx.Find(id)
		if !ok {
			t.Fatalf("Find(%s) missed", label)
		}
		if !entry.ID.Equal(id) {
			t.Fatalf("Find(%s) returned entry for %s", label, entry.ID)
		}
	}

	if _, ok := idx.Find(object.HashObject(object.SHA1, object.TypeBlob, []byte("absent"))); ok {
		t.Fatalf("Find reported an absent id")
	}

	// Rows come back sorted by raw id bytes.
	entries := idx.Entries()
	if !sort.SliceIsSorted(entries, func(i, j int) bool {
		return bytes.Compare(entries[i].ID.Raw(), entries[j].ID.Raw()) < 0
	}) {
		t.Fatalf("index entries not sorted by id")
	}
}

func TestIndexPackReconstruction(t *testing.T) {
	external := map[object.ID][]byte{}
	tp := buildTestPack(t, external)

	derived, checksum, err := IndexPack(tp.packData, object.SHA1, externalResolver(external))
	if err != nil {
		t.Fatalf("IndexPack: %v", err)
	}

	idx, err := ReadPackIndex(tp.idxData, object.SHA1)
	if err != nil {
		t.Fatalf("ReadPackIndex: %v", err)
	}
	if !bytes.Equal(checksum, idx.PackChecksum) {
		t.Fatalf("IndexPack checksum %x, index says %x", checksum, idx.PackChecksum)
	}

	sort.Slice(derived, func(i, j int) bool {
		return bytes.Compare(derived[i].ID.Raw(), derived[j].ID.Raw()) < 0
	})
	stored := idx.Entries()
	if len(derived) != len(stored) {
		t.Fatalf("IndexPack found %d entries, index holds %d", len(derived), len(stored))
	}
	for i := range stored {
		if derived[i] != stored[i] {
			t.Fatalf("entry %d mismatch: derived %+v, stored %+v", i, derived[i], stored[i])
		}
	}
}

func TestPackRefDeltaNeedsResolver(t *testing.T) {
	external := map[object.ID][]byte{}
	tp := buildTestPack(t, external)

	pack, err := OpenPack(tp.packData, tp.idxData, object.SHA1, nil)
	if err != nil {
		t.Fatalf("OpenPack: %v", err)
	}
	if _, _, err := pack.Get(tp.ids["patched"]); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get(ref-delta without resolver) error = %v, want ErrNotFound", err)
	}

	// Intra-pack entries still read fine.
	if _, _, err := pack.Get(tp.ids["neardup"]); err != nil {
		t.Fatalf("Get(neardup): %v", err)
	}
}

func TestPackDeltaChainTooDeep(t *testing.T) {
	f := object.SHA1
	count := maxDeltaDepth + 10

	// One full record followed by a chain of deltas, each against the
	// previous record, far past the depth bound.
	payloads := make([][]byte, count)
	payloads[0] = []byte(strings.Repeat("chain base content\n", 20))
	for i := 1; i < count; i++ {
		payloads[i] = append(append([]byte{}, payloads[i-1]...), byte('a'+i%26))
	}

	var buf bytes.Buffer
	pw, err := NewPackWriter(&buf, f, uint32(count))
	if err != nil {
		t.Fatalf("NewPackWriter: %v", err)
	}

	var entries []IndexEntry
	prevOff, crc, err := pw.WriteFull(object.TypeBlob, payloads[0])
	if err != nil {
		t.Fatalf("WriteFull: %v", err)
	}
	entries = append(entries, IndexEntry{ID: object.HashObject(f, object.TypeBlob, payloads[0]), Offset: prevOff, CRC32: crc})
	for i := 1; i < count; i++ {
		off, crc, err := pw.WriteOfsDelta(prevOff, ComputeDelta(payloads[i-1], payloads[i]))
		if err != nil {
			t.Fatalf("WriteOfsDelta(%d): %v", i, err)
		}
		entries = append(entries, IndexEntry{ID: object.HashObject(f, object.TypeBlob, payloads[i]), Offset: off, CRC32: crc})
		prevOff = off
	}
	checksum, err := pw.Finish()
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	var idx bytes.Buffer
	if _, err := WritePackIndex(&idx, f, entries, checksum); err != nil {
		t.Fatalf("WritePackIndex: %v", err)
	}

	pack, err := OpenPack(buf.Bytes(), idx.Bytes(), f, nil)
	if err != nil {
		t.Fatalf("OpenPack: %v", err)
	}

	// The deep end of the chain is refused; shallow entries resolve.
	// Deep first: resolving a shallow entry caches bases that would
	// shorten the deep chain.
	if _, _, err := pack.Get(entries[count-1].ID); !errors.Is(err, ErrDeltaChainTooDeep) {
		t.Fatalf("Get(deep chain entry) error = %v, want ErrDeltaChainTooDeep", err)
	}
	if _, _, err := pack.Get(entries[maxDeltaDepth/2].ID); err != nil {
		t.Fatalf("Get(shallow chain entry): %v", err)
	}
}

func TestPackHeaderRoundTrip(t *testing.T) {
	h := PackHeader{Version: 2, NumObjects: 42}
	parsed, err := UnmarshalPackHeader(h.Marshal())
	if err != nil {
		t.Fatalf("UnmarshalPackHeader: %v", err)
	}
	if parsed.Version != 2 || parsed.NumObjects != 42 {
		t.Fatalf("parsed header = %+v", parsed)
	}

	if _, err := UnmarshalPackHeader([]byte("JUNK\x00\x00\x00\x02\x00\x00\x00\x01")); err == nil {
		t.Fatalf("UnmarshalPackHeader accepted bad magic")
	}
	bad := PackHeader{Version: 9, NumObjects: 1}.Marshal()
	if _, err := UnmarshalPackHeader(bad); err == nil {
		t.Fatalf("UnmarshalPackHeader accepted unsupported version")
	}
}

func TestEntryHeaderRoundTrip(t *testing.T) {
	cases := []struct {
		t    EntryType
		size uint64
	}{
		{EntryBlob, 0},
		{EntryBlob, 15},
		{EntryBlob, 16},
		{EntryCommit, 1 << 20},
		{EntryOfsDelta, 300},
		{EntryRefDelta, 1<<32 + 7},
	}
	for _, tc := range cases {
		enc := encodeEntryHeader(tc.t, tc.size)
		typ, size, n, err := decodeEntryHeader(enc)
		if err != nil {
			t.Fatalf("decodeEntryHeader(%v, %d): %v", tc.t, tc.size, err)
		}
		if typ != tc.t || size != tc.size || n != len(enc) {
			t.Fatalf("header round-trip: got (%v, %d, %d), want (%v, %d, %d)", typ, size, n, tc.t, tc.size, len(enc))
		}
	}
}

func TestPackWriterCountEnforced(t *testing.T) {
	var buf bytes.Buffer
	pw, err := NewPackWriter(&buf, object.SHA1, 1)
	if err != nil {
		t.Fatalf("NewPackWriter: %v", err)
	}
	if _, err := pw.Finish(); err == nil {
		t.Fatalf("Finish with missing records succeeded")
	}

	pw, _ = NewPackWriter(&bytes.Buffer{}, object.SHA1, 1)
	if _, _, err := pw.WriteFull(object.TypeBlob, []byte("one")); err != nil {
		t.Fatalf("WriteFull: %v", err)
	}
	if _, _, err := pw.WriteFull(object.TypeBlob, []byte("two")); err == nil {
		t.Fatalf("WriteFull past declared count succeeded")
	}
}
