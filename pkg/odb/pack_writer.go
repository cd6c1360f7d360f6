package odb

import (
	"bytes"
	"fmt"
	"hash"
	"hash/crc32"
	"io"

	"github.com/klauspost/compress/zlib"

	"github.com/gritvcs/grit/pkg/object"
)

type countedWriter struct {
	w io.Writer
	n uint64
}

func (cw *countedWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += uint64(n)
	return n, err
}

func compressPayload(raw []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		_ = zw.Close()
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// PackWriter emits a pack stream: fixed header, zlib-compressed object
// records (full or delta), and a trailing checksum in the repository's
// hash format over all preceding bytes. Each record's byte offset and
// CRC-32 of its on-disk bytes are returned for index construction.
type PackWriter struct {
	hasher   hash.Hash
	hashedW  io.Writer
	counter  *countedWriter
	out      io.Writer
	expected uint32
	written  uint32
	finished bool
}

// NewPackWriter writes the pack header for numObjects records hashed
// with the given format.
func NewPackWriter(out io.Writer, format object.Format, numObjects uint32) (*PackWriter, error) {
	hasher := format.New()
	counter := &countedWriter{w: out}
	pw := &PackWriter{
		hasher:   hasher,
		hashedW:  io.MultiWriter(counter, hasher),
		counter:  counter,
		out:      out,
		expected: numObjects,
	}

	header := PackHeader{
		Version:    supportedPackVersion,
		NumObjects: numObjects,
	}
	if _, err := pw.hashedW.Write(header.Marshal()); err != nil {
		return nil, fmt.Errorf("write pack header: %w", err)
	}
	return pw, nil
}

// CurrentOffset returns the byte offset the next record will start at.
func (p *PackWriter) CurrentOffset() uint64 {
	return p.counter.n
}

// writeRecord writes the record's raw parts, tracking CRC-32 over the
// exact on-disk bytes.
func (p *PackWriter) writeRecord(parts ...[]byte) (offset uint64, crc uint32, err error) {
	if p.finished {
		return 0, 0, fmt.Errorf("pack writer already finished")
	}
	if p.written >= p.expected {
		return 0, 0, fmt.Errorf("pack object count exceeded: expected %d", p.expected)
	}

	offset = p.CurrentOffset()
	crcSum := crc32.NewIEEE()
	w := io.MultiWriter(p.hashedW, crcSum)
	for _, part := range parts {
		if _, err := w.Write(part); err != nil {
			return 0, 0, fmt.Errorf("write pack record: %w", err)
		}
	}
	p.written++
	return offset, crcSum.Sum32(), nil
}

// WriteFull appends a full (non-delta) object record.
func (p *PackWriter) WriteFull(t object.Type, payload []byte) (offset uint64, crc uint32, err error) {
	et := entryTypeOf(t)
	if et == 0 {
		return 0, 0, fmt.Errorf("unsupported pack object type %q", t)
	}
	compressed, err := compressPayload(payload)
	if err != nil {
		return 0, 0, fmt.Errorf("compress pack record: %w", err)
	}
	return p.writeRecord(encodeEntryHeader(et, uint64(len(payload))), compressed)
}

// WriteOfsDelta appends a delta record whose base lives earlier in the
// same pack at baseOffset.
func (p *PackWriter) WriteOfsDelta(baseOffset uint64, delta []byte) (offset uint64, crc uint32, err error) {
	current := p.CurrentOffset()
	if baseOffset >= current {
		return 0, 0, fmt.Errorf("ofs-delta base offset %d not before current offset %d", baseOffset, current)
	}
	compressed, err := compressPayload(delta)
	if err != nil {
		return 0, 0, fmt.Errorf("compress delta payload: %w", err)
	}
	return p.writeRecord(
		encodeEntryHeader(EntryOfsDelta, uint64(len(delta))),
		encodeOfsDeltaDistance(current-baseOffset),
		compressed,
	)
}

// WriteRefDelta appends a delta record naming its base by ID. The base
// may live in another pack or loose storage.
func (p *PackWriter) WriteRefDelta(base object.ID, delta []byte) (offset uint64, crc uint32, err error) {
	compressed, err := compressPayload(delta)
	if err != nil {
		return 0, 0, fmt.Errorf("compress delta payload: %w", err)
	}
	return p.writeRecord(
		encodeEntryHeader(EntryRefDelta, uint64(len(delta))),
		base.Raw(),
		compressed,
	)
}

// Finish validates the record count and writes the trailing checksum,
// returning it for use in pack/index naming.
func (p *PackWriter) Finish() ([]byte, error) {
	if p.finished {
		return nil, fmt.Errorf("pack writer already finished")
	}
	if p.written != p.expected {
		return nil, fmt.Errorf("pack object count mismatch: wrote %d, expected %d", p.written, p.expected)
	}

	sum := p.hasher.Sum(nil)
	if _, err := p.out.Write(sum); err != nil {
		return nil, fmt.Errorf("write pack trailer checksum: %w", err)
	}
	p.finished = true
	return sum, nil
}
