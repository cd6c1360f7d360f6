package object

import (
	"errors"
	"strings"
	"testing"
)

func TestIDFromHexRoundTrip(t *testing.T) {
	hex := "ce013625030ba8dba906f756967f9e9ca394464a"
	id, err := IDFromHex(SHA1, hex)
	if err != nil {
		t.Fatalf("IDFromHex: %v", err)
	}
	if id.Hex() != hex {
		t.Fatalf("Hex() = %q, want %q", id.Hex(), hex)
	}
	if id.Format() != SHA1 {
		t.Fatalf("Format() = %v, want SHA1", id.Format())
	}

	again, err := IDFromBytes(SHA1, id.Raw())
	if err != nil {
		t.Fatalf("IDFromBytes: %v", err)
	}
	if !again.Equal(id) {
		t.Fatalf("round-trip through raw bytes changed the id")
	}
}

func TestIDFromHexRejectsMalformed(t *testing.T) {
	cases := []struct {
		name string
		hex  string
	}{
		{"empty", ""},
		{"short", "ce0136"},
		{"long", strings.Repeat("a", 42)},
		{"uppercase", strings.Repeat("A", 40)},
		{"nonhex", strings.Repeat("z", 40)},
		{"sha256 width for sha1", strings.Repeat("a", 64)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := IDFromHex(SHA1, tc.hex); !errors.Is(err, ErrMalformedID) {
				t.Fatalf("IDFromHex(%q) error = %v, want ErrMalformedID", tc.hex, err)
			}
		})
	}
}

func TestIDFromBytesChecksWidth(t *testing.T) {
	if _, err := IDFromBytes(SHA256, make([]byte, 20)); !errors.Is(err, ErrMalformedID) {
		t.Fatalf("IDFromBytes with short raw: error = %v, want ErrMalformedID", err)
	}
}

func TestIDCompare(t *testing.T) {
	a, _ := IDFromHex(SHA1, strings.Repeat("0", 39)+"1")
	b, _ := IDFromHex(SHA1, strings.Repeat("0", 39)+"2")

	if c, err := a.Compare(b); err != nil || c >= 0 {
		t.Fatalf("Compare(a,b) = %d, %v; want negative, nil", c, err)
	}
	if c, err := b.Compare(a); err != nil || c <= 0 {
		t.Fatalf("Compare(b,a) = %d, %v; want positive, nil", c, err)
	}
	if c, err := a.Compare(a); err != nil || c != 0 {
		t.Fatalf("Compare(a,a) = %d, %v; want 0, nil", c, err)
	}
}

func TestIDCrossFormat(t *testing.T) {
	sha1ID, _ := IDFromHex(SHA1, strings.Repeat("ab", 20))
	sha256ID, _ := IDFromHex(SHA256, strings.Repeat("ab", 32))

	if sha1ID.Equal(sha256ID) {
		t.Fatalf("ids of different formats compare equal")
	}
	if _, err := sha1ID.Compare(sha256ID); !errors.Is(err, ErrIncompatibleFormat) {
		t.Fatalf("cross-format Compare error = %v, want ErrIncompatibleFormat", err)
	}
}

func TestHashObjectKnownVector(t *testing.T) {
	// The blob "hello\n" hashes over "blob 6\x00hello\n".
	id := HashObject(SHA1, TypeBlob, []byte("hello\n"))
	if got, want := id.Hex(), "ce013625030ba8dba906f756967f9e9ca394464a"; got != want {
		t.Fatalf("HashObject = %s, want %s", got, want)
	}

	// Stable across repeated computation.
	if again := HashObject(SHA1, TypeBlob, []byte("hello\n")); !again.Equal(id) {
		t.Fatalf("HashObject is not deterministic")
	}

	empty := HashObject(SHA1, TypeBlob, nil)
	if got, want := empty.Hex(), "e69de29bb2d1d6434b8b29ae775ad8c2e48c5391"; got != want {
		t.Fatalf("HashObject(empty blob) = %s, want %s", got, want)
	}
}

func TestHashObjectFormats(t *testing.T) {
	payload := []byte("hello\n")
	sha1ID := HashObject(SHA1, TypeBlob, payload)
	sha256ID := HashObject(SHA256, TypeBlob, payload)

	if len(sha1ID.Raw()) != 20 || len(sha256ID.Raw()) != 32 {
		t.Fatalf("raw widths = %d/%d, want 20/32", len(sha1ID.Raw()), len(sha256ID.Raw()))
	}
	if sha1ID.Equal(sha256ID) {
		t.Fatalf("same content under different formats must not be equal")
	}
}

func TestParseFormat(t *testing.T) {
	for name, want := range map[string]Format{"sha1": SHA1, "sha256": SHA256} {
		got, err := ParseFormat(name)
		if err != nil || got != want {
			t.Fatalf("ParseFormat(%q) = %v, %v; want %v, nil", name, got, err, want)
		}
	}
	if _, err := ParseFormat("md5"); err == nil {
		t.Fatalf("ParseFormat(md5) succeeded, want error")
	}
}
