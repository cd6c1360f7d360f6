package object

import (
	"bytes"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
)

// Format selects the content-hash algorithm of a repository. Every ID
// carries the format it was produced with; IDs of different formats are
// never equal and cannot be compared.
type Format int

const (
	// SHA1 is the legacy 20-byte object format.
	SHA1 Format = iota
	// SHA256 is the 32-byte object format.
	SHA256
)

const maxRawSize = sha256.Size

var ErrMalformedID = errors.New("malformed object id")
var ErrIncompatibleFormat = errors.New("incompatible object id formats")

// Size returns the raw digest width in bytes.
func (f Format) Size() int {
	if f == SHA256 {
		return sha256.Size
	}
	return sha1.Size
}

// HexSize returns the width of the hex-encoded form.
func (f Format) HexSize() int {
	return f.Size() * 2
}

// New returns a fresh hash.Hash for the format.
func (f Format) New() hash.Hash {
	if f == SHA256 {
		return sha256.New()
	}
	return sha1.New()
}

func (f Format) String() string {
	if f == SHA256 {
		return "sha256"
	}
	return "sha1"
}

// ParseFormat maps a format name ("sha1" or "sha256") to a Format.
func ParseFormat(s string) (Format, error) {
	switch s {
	case "sha1":
		return SHA1, nil
	case "sha256":
		return SHA256, nil
	default:
		return 0, fmt.Errorf("unknown object format %q", s)
	}
}

// ID is a fixed-width content hash identifying one object. The zero
// value is the "absent" ID (IsZero reports true) and never names a
// stored object.
type ID struct {
	format Format
	raw    [maxRawSize]byte
}

// IDFromBytes builds an ID from a raw digest. The slice length must
// match the format width exactly.
func IDFromBytes(f Format, raw []byte) (ID, error) {
	if len(raw) != f.Size() {
		return ID{}, fmt.Errorf("%w: want %d raw bytes, got %d", ErrMalformedID, f.Size(), len(raw))
	}
	var id ID
	id.format = f
	copy(id.raw[:], raw)
	return id, nil
}

// IDFromHex parses the lowercase-hex form of an ID. Wrong length,
// uppercase digits, or non-hex characters fail with ErrMalformedID.
func IDFromHex(f Format, s string) (ID, error) {
	if len(s) != f.HexSize() {
		return ID{}, fmt.Errorf("%w: want %d hex chars, got %d", ErrMalformedID, f.HexSize(), len(s))
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return ID{}, fmt.Errorf("%w: invalid hex digit %q", ErrMalformedID, c)
		}
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return ID{}, fmt.Errorf("%w: %v", ErrMalformedID, err)
	}
	return IDFromBytes(f, raw)
}

// Format returns the hash format the ID was produced with.
func (id ID) Format() Format {
	return id.format
}

// Raw returns the raw digest bytes.
func (id ID) Raw() []byte {
	out := make([]byte, id.format.Size())
	copy(out, id.raw[:])
	return out
}

// Hex returns the lowercase hex encoding.
func (id ID) Hex() string {
	return hex.EncodeToString(id.raw[:id.format.Size()])
}

func (id ID) String() string {
	return id.Hex()
}

// IsZero reports whether the ID is the absent value.
func (id ID) IsZero() bool {
	return id.raw == [maxRawSize]byte{}
}

// Equal reports whether two IDs have the same format and digest. IDs of
// different formats are never equal.
func (id ID) Equal(other ID) bool {
	return id == other
}

// Compare orders two IDs of the same format lexicographically over
// their raw bytes. Comparing across formats fails with
// ErrIncompatibleFormat.
func (id ID) Compare(other ID) (int, error) {
	if id.format != other.format {
		return 0, fmt.Errorf("%w: %s vs %s", ErrIncompatibleFormat, id.format, other.format)
	}
	return bytes.Compare(id.raw[:id.format.Size()], other.raw[:other.format.Size()]), nil
}

// HashObject computes the ID of an object from its type and payload:
// the digest of "<type> <len>\x00" followed by the payload bytes.
func HashObject(f Format, t Type, payload []byte) ID {
	h := f.New()
	fmt.Fprintf(h, "%s %d\x00", t, len(payload))
	h.Write(payload)
	var id ID
	id.format = f
	copy(id.raw[:], h.Sum(nil))
	return id
}

// HashOf computes the ID of a fully framed object encoding (header
// already included). Used when re-hashing raw loose-object content.
func HashOf(f Format, framed []byte) ID {
	h := f.New()
	h.Write(framed)
	var id ID
	id.format = f
	copy(id.raw[:], h.Sum(nil))
	return id
}
