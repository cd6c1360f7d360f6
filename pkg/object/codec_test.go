package object

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func mustID(t *testing.T, f Format, hex string) ID {
	t.Helper()
	id, err := IDFromHex(f, hex)
	if err != nil {
		t.Fatalf("IDFromHex(%q): %v", hex, err)
	}
	return id
}

func sig(name string, unix int64, offsetSecs int) Signature {
	return Signature{
		Name:  name,
		Email: name + "@example.com",
		When:  time.Unix(unix, 0).In(time.FixedZone("", offsetSecs)),
	}
}

var cmpOpts = []cmp.Option{
	cmp.AllowUnexported(ID{}),
	cmp.Comparer(func(a, b time.Time) bool { return a.Equal(b) && zoneOffset(a) == zoneOffset(b) }),
}

func TestBlobRoundTrip(t *testing.T) {
	blob := &Blob{Data: []byte("hello\n")}
	enc := blob.Encode()
	if !bytes.Equal(enc, []byte("hello\n")) {
		t.Fatalf("blob encoding = %q, want payload verbatim", enc)
	}

	dec, err := Decode(SHA1, TypeBlob, enc)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if diff := cmp.Diff(blob, dec, cmpOpts...); diff != "" {
		t.Fatalf("round-trip mismatch (-want +got):\n%s", diff)
	}
}

func TestTreeEncodeSortsEntries(t *testing.T) {
	blob1 := mustID(t, SHA1, strings.Repeat("11", 20))
	blob2 := mustID(t, SHA1, strings.Repeat("22", 20))

	// Inserted in reverse order; encoding must list a.txt first.
	tree := &Tree{Entries: []TreeEntry{
		{Mode: TreeModeFile, Name: "b.txt", ID: blob2},
		{Mode: TreeModeFile, Name: "a.txt", ID: blob1},
	}}
	enc := tree.Encode()

	a := bytes.Index(enc, []byte("a.txt"))
	b := bytes.Index(enc, []byte("b.txt"))
	if a < 0 || b < 0 || a > b {
		t.Fatalf("encoded entry order wrong: a.txt at %d, b.txt at %d", a, b)
	}

	dec, err := DecodeTree(SHA1, enc)
	if err != nil {
		t.Fatalf("DecodeTree: %v", err)
	}
	if len(dec.Entries) != 2 || dec.Entries[0].Name != "a.txt" || dec.Entries[1].Name != "b.txt" {
		t.Fatalf("decoded entries = %+v", dec.Entries)
	}
}

func TestTreeDirectorySortOrder(t *testing.T) {
	// Directory names compare as if suffixed with "/": "foo.txt" (file)
	// sorts before "foo" (directory) because '.' < '/'.
	tree := &Tree{Entries: []TreeEntry{
		{Mode: TreeModeDir, Name: "foo", ID: mustID(t, SHA1, strings.Repeat("11", 20))},
		{Mode: TreeModeFile, Name: "foo.txt", ID: mustID(t, SHA1, strings.Repeat("22", 20))},
	}}
	enc := tree.Encode()

	dec, err := DecodeTree(SHA1, enc)
	if err != nil {
		t.Fatalf("DecodeTree: %v", err)
	}
	if dec.Entries[0].Name != "foo.txt" || dec.Entries[1].Name != "foo" {
		t.Fatalf("directory sort order wrong: %+v", dec.Entries)
	}
}

func TestDecodeTreeRejectsInvalid(t *testing.T) {
	id1 := mustID(t, SHA1, strings.Repeat("11", 20))
	id2 := mustID(t, SHA1, strings.Repeat("22", 20))

	entry := func(mode, name string, id ID) []byte {
		var buf bytes.Buffer
		buf.WriteString(mode)
		buf.WriteByte(' ')
		buf.WriteString(name)
		buf.WriteByte(0)
		buf.Write(id.Raw())
		return buf.Bytes()
	}

	cases := []struct {
		name string
		data []byte
	}{
		{"unsorted", append(entry(TreeModeFile, "b.txt", id2), entry(TreeModeFile, "a.txt", id1)...)},
		{"duplicate", append(entry(TreeModeFile, "a.txt", id1), entry(TreeModeFile, "a.txt", id2)...)},
		{"bad mode", entry("999999", "a.txt", id1)},
		{"leading zero mode", entry("0644", "a.txt", id1)},
		{"bare numeric mode", entry("1", "a.txt", id1)},
		{"non-canonical mode", entry("170000", "a.txt", id1)},
		{"zero id", entry(TreeModeFile, "a.txt", mustID(t, SHA1, strings.Repeat("00", 20)))},
		{"dot name", entry(TreeModeFile, ".", id1)},
		{"slash in name", entry(TreeModeFile, "a/b", id1)},
		{"truncated id", entry(TreeModeFile, "a.txt", id1)[:20]},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := DecodeTree(SHA1, tc.data); !errors.Is(err, ErrInvalidEncoding) {
				t.Fatalf("DecodeTree error = %v, want ErrInvalidEncoding", err)
			}
		})
	}
}

func TestDecodeTreeRejectsFileDirNameCollision(t *testing.T) {
	id1 := mustID(t, SHA1, strings.Repeat("11", 20))
	id2 := mustID(t, SHA1, strings.Repeat("22", 20))

	// "a" the file and "a" the directory sort apart ("a" < "a.c" < "a/")
	// so the input is strictly ordered, yet the name occurs twice.
	var buf bytes.Buffer
	for _, e := range []TreeEntry{
		{Mode: TreeModeFile, Name: "a", ID: id1},
		{Mode: TreeModeFile, Name: "a.c", ID: id2},
		{Mode: TreeModeDir, Name: "a", ID: id2},
	} {
		buf.WriteString(e.Mode)
		buf.WriteByte(' ')
		buf.WriteString(e.Name)
		buf.WriteByte(0)
		buf.Write(e.ID.Raw())
	}

	if _, err := DecodeTree(SHA1, buf.Bytes()); !errors.Is(err, ErrInvalidEncoding) {
		t.Fatalf("DecodeTree error = %v, want ErrInvalidEncoding", err)
	}
}

func TestCommitRoundTrip(t *testing.T) {
	commit := &Commit{
		Tree: mustID(t, SHA1, strings.Repeat("aa", 20)),
		Parents: []ID{
			mustID(t, SHA1, strings.Repeat("bb", 20)),
			mustID(t, SHA1, strings.Repeat("cc", 20)),
		},
		Author:    sig("alice", 1700000000, 3600),
		Committer: sig("bob", 1700000100, -8*3600),
		Message:   "merge both lines of work\n\nlonger body text\n",
	}

	dec, err := Decode(SHA1, TypeCommit, commit.Encode())
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if diff := cmp.Diff(commit, dec, cmpOpts...); diff != "" {
		t.Fatalf("round-trip mismatch (-want +got):\n%s", diff)
	}
}

func TestCommitEncodingLayout(t *testing.T) {
	commit := &Commit{
		Tree:      mustID(t, SHA1, strings.Repeat("aa", 20)),
		Author:    sig("alice", 1700000000, 3600),
		Committer: sig("alice", 1700000000, 3600),
		Message:   "initial\n",
	}
	enc := string(commit.Encode())

	want := "tree " + strings.Repeat("aa", 20) + "\n" +
		"author alice <alice@example.com> 1700000000 +0100\n" +
		"committer alice <alice@example.com> 1700000000 +0100\n" +
		"\n" +
		"initial\n"
	if enc != want {
		t.Fatalf("commit encoding:\n%q\nwant:\n%q", enc, want)
	}
}

func TestCommitGPGSigRoundTrip(t *testing.T) {
	commit := &Commit{
		Tree:      mustID(t, SHA1, strings.Repeat("aa", 20)),
		Author:    sig("alice", 1700000000, 0),
		Committer: sig("alice", 1700000000, 0),
		GPGSig:    "-----BEGIN PGP SIGNATURE-----\nabc\ndef\n-----END PGP SIGNATURE-----",
		Message:   "signed\n",
	}

	dec, err := DecodeCommit(SHA1, commit.Encode())
	if err != nil {
		t.Fatalf("DecodeCommit: %v", err)
	}
	if dec.GPGSig != commit.GPGSig {
		t.Fatalf("gpgsig = %q, want %q", dec.GPGSig, commit.GPGSig)
	}
}

func TestCommitExtraHeadersRoundTrip(t *testing.T) {
	commit := &Commit{
		Tree:      mustID(t, SHA1, strings.Repeat("aa", 20)),
		Parents:   []ID{mustID(t, SHA1, strings.Repeat("bb", 20))},
		Author:    sig("alice", 1700000000, 0),
		Committer: sig("alice", 1700000000, 0),
		Extra: []Header{
			{Key: "encoding", Value: "ISO-8859-1"},
			{Key: "mergetag", Value: "object " + strings.Repeat("cc", 20) + "\ntype commit\ntag v2"},
		},
		GPGSig:  "-----BEGIN PGP SIGNATURE-----\nxyz\n-----END PGP SIGNATURE-----",
		Message: "merge tag 'v2'\n",
	}

	dec, err := DecodeCommit(SHA1, commit.Encode())
	if err != nil {
		t.Fatalf("DecodeCommit: %v", err)
	}
	if diff := cmp.Diff(commit, dec, cmpOpts...); diff != "" {
		t.Fatalf("round-trip mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeCommitKeepsUnknownHeaders(t *testing.T) {
	raw := "tree " + strings.Repeat("aa", 20) + "\n" +
		"author alice <alice@example.com> 1700000000 +0000\n" +
		"committer alice <alice@example.com> 1700000000 +0000\n" +
		"frobnicate two words\n" +
		"\n" +
		"msg\n"

	c, err := DecodeCommit(SHA1, []byte(raw))
	if err != nil {
		t.Fatalf("DecodeCommit: %v", err)
	}
	want := Header{Key: "frobnicate", Value: "two words"}
	if len(c.Extra) != 1 || c.Extra[0] != want {
		t.Fatalf("Extra = %+v, want [%+v]", c.Extra, want)
	}
	if got := string(c.Encode()); got != raw {
		t.Fatalf("re-encode:\n%q\nwant:\n%q", got, raw)
	}
}

func TestDecodeCommitRejectsInvalid(t *testing.T) {
	treeLine := "tree " + strings.Repeat("aa", 20) + "\n"
	authorLine := "author alice <alice@example.com> 1700000000 +0000\n"
	committerLine := "committer alice <alice@example.com> 1700000000 +0000\n"

	cases := []struct {
		name string
		data string
	}{
		{"missing tree", authorLine + committerLine + "\nmsg"},
		{"missing author", treeLine + committerLine + "\nmsg"},
		{"missing committer", treeLine + authorLine + "\nmsg"},
		{"bad tree id", "tree nothex\n" + authorLine + committerLine + "\nmsg"},
		{"bad parent id", treeLine + "parent tooshort\n" + authorLine + committerLine + "\nmsg"},
		{"duplicate gpgsig", treeLine + authorLine + committerLine + "gpgsig a\ngpgsig b\n\nmsg"},
		{"no separator", treeLine + authorLine + committerLine},
		{"bad timestamp", treeLine + "author alice <alice@example.com> soon +0000\n" + committerLine + "\nmsg"},
		{"bad timezone", treeLine + "author alice <alice@example.com> 1700000000 UTC\n" + committerLine + "\nmsg"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := DecodeCommit(SHA1, []byte(tc.data)); !errors.Is(err, ErrInvalidEncoding) {
				t.Fatalf("DecodeCommit error = %v, want ErrInvalidEncoding", err)
			}
		})
	}
}

func TestTagRoundTrip(t *testing.T) {
	tag := &Tag{
		Object:     mustID(t, SHA1, strings.Repeat("dd", 20)),
		TargetType: TypeCommit,
		Name:       "v1.0.0",
		Tagger:     sig("carol", 1700000200, 5*3600+1800),
		Message:    "first stable release\n",
	}

	dec, err := Decode(SHA1, TypeTag, tag.Encode())
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if diff := cmp.Diff(tag, dec, cmpOpts...); diff != "" {
		t.Fatalf("round-trip mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeTagRejectsInvalid(t *testing.T) {
	valid := "object " + strings.Repeat("dd", 20) + "\n" +
		"type commit\n" +
		"tag v1\n" +
		"tagger carol <carol@example.com> 1700000200 +0530\n" +
		"\nrelease\n"
	if _, err := DecodeTag(SHA1, []byte(valid)); err != nil {
		t.Fatalf("DecodeTag(valid): %v", err)
	}

	cases := []struct {
		name string
		data string
	}{
		{"missing tagger", "object " + strings.Repeat("dd", 20) + "\ntype commit\ntag v1\n\nrelease\n"},
		{"unknown target type", strings.Replace(valid, "type commit", "type widget", 1)},
		{"reordered headers", "type commit\nobject " + strings.Repeat("dd", 20) + "\ntag v1\ntagger carol <carol@example.com> 1700000200 +0530\n\nrelease\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := DecodeTag(SHA1, []byte(tc.data)); !errors.Is(err, ErrInvalidEncoding) {
				t.Fatalf("DecodeTag error = %v, want ErrInvalidEncoding", err)
			}
		})
	}
}

func TestRoundTripSHA256(t *testing.T) {
	commit := &Commit{
		Tree:      mustID(t, SHA256, strings.Repeat("aa", 32)),
		Parents:   []ID{mustID(t, SHA256, strings.Repeat("bb", 32))},
		Author:    sig("alice", 1700000000, 0),
		Committer: sig("alice", 1700000000, 0),
		Message:   "sha256 repo commit\n",
	}

	dec, err := Decode(SHA256, TypeCommit, commit.Encode())
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if diff := cmp.Diff(commit, dec, cmpOpts...); diff != "" {
		t.Fatalf("round-trip mismatch (-want +got):\n%s", diff)
	}
}
