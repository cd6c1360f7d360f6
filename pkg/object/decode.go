package object

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidEncoding reports structurally malformed object content:
// bad headers, violated tree ordering, out-of-range values. Decoding
// never partially accepts malformed input.
var ErrInvalidEncoding = errors.New("invalid object encoding")

// maxParents bounds the parent list of a decoded commit. Octopus
// merges are rare and small; anything past this is corrupt data.
const maxParents = 256

// Decode parses canonical object bytes into the variant named by t.
// It is the inverse of Object.Encode for all valid values.
func Decode(f Format, t Type, data []byte) (Object, error) {
	switch t {
	case TypeBlob:
		return DecodeBlob(data)
	case TypeTree:
		return DecodeTree(f, data)
	case TypeCommit:
		return DecodeCommit(f, data)
	case TypeTag:
		return DecodeTag(f, data)
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidEncoding, t)
	}
}

// DecodeBlob copies the payload into a Blob. Blobs have no structure
// and never fail to decode.
func DecodeBlob(data []byte) (*Blob, error) {
	out := make([]byte, len(data))
	copy(out, data)
	return &Blob{Data: out}, nil
}

// DecodeTree parses tree entries and enforces the canonical invariants:
// entries strictly sorted (directory names comparing as name+"/") and
// no duplicate names. Duplicates are tracked by name, not sort key: a
// file "a" and a directory "a" sort apart (entries like "a.c" land
// between them) yet still collide.
func DecodeTree(f Format, data []byte) (*Tree, error) {
	tr := &Tree{}
	prevKey := ""
	seen := make(map[string]bool)
	for pos := 0; pos < len(data); {
		sp := bytes.IndexByte(data[pos:], ' ')
		if sp <= 0 {
			return nil, fmt.Errorf("%w: tree entry missing mode", ErrInvalidEncoding)
		}
		mode := string(data[pos : pos+sp])
		if err := checkTreeMode(mode); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidEncoding, err)
		}
		pos += sp + 1

		nul := bytes.IndexByte(data[pos:], 0)
		if nul < 0 {
			return nil, fmt.Errorf("%w: tree entry missing NUL after name", ErrInvalidEncoding)
		}
		name := string(data[pos : pos+nul])
		if err := checkTreeName(name); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidEncoding, err)
		}
		pos += nul + 1

		if pos+f.Size() > len(data) {
			return nil, fmt.Errorf("%w: tree entry %q truncated id", ErrInvalidEncoding, name)
		}
		id, err := IDFromBytes(f, data[pos:pos+f.Size()])
		if err != nil {
			return nil, fmt.Errorf("%w: tree entry %q: %v", ErrInvalidEncoding, name, err)
		}
		if id.IsZero() {
			return nil, fmt.Errorf("%w: tree entry %q has zero id", ErrInvalidEncoding, name)
		}
		pos += f.Size()

		entry := TreeEntry{Mode: mode, Name: name, ID: id}
		if seen[name] {
			return nil, fmt.Errorf("%w: duplicate tree entry %q", ErrInvalidEncoding, name)
		}
		seen[name] = true
		if key := entry.sortKey(); key <= prevKey {
			return nil, fmt.Errorf("%w: tree entry %q out of order", ErrInvalidEncoding, name)
		} else {
			prevKey = key
		}
		tr.Entries = append(tr.Entries, entry)
	}
	return tr, nil
}

func checkTreeMode(mode string) error {
	switch mode {
	case TreeModeDir, TreeModeFile, TreeModeExecutable, TreeModeSymlink, TreeModeGitlink:
		return nil
	}
	return fmt.Errorf("bad tree entry mode %q", mode)
}

func checkTreeName(name string) error {
	switch name {
	case "", ".", "..":
		return fmt.Errorf("bad tree entry name %q", name)
	}
	if strings.ContainsRune(name, '/') {
		return fmt.Errorf("bad tree entry name %q", name)
	}
	return nil
}

// DecodeCommit parses a commit. Headers must start in canonical order:
// tree, parents, author, committer. Headers after committer are
// preserved in Extra, except gpgsig which decodes into GPGSig.
func DecodeCommit(f Format, data []byte) (*Commit, error) {
	headers, message, err := splitHeaders(data)
	if err != nil {
		return nil, err
	}

	c := &Commit{Message: message}
	i := 0
	next := func() (string, string, bool) {
		if i >= len(headers) {
			return "", "", false
		}
		h := headers[i]
		i++
		return h.key, h.value, true
	}

	key, val, ok := next()
	if !ok || key != "tree" {
		return nil, fmt.Errorf("%w: commit must start with tree header", ErrInvalidEncoding)
	}
	if c.Tree, err = IDFromHex(f, val); err != nil {
		return nil, fmt.Errorf("%w: commit tree: %v", ErrInvalidEncoding, err)
	}

	key, val, ok = next()
	for ok && key == "parent" {
		p, err := IDFromHex(f, val)
		if err != nil {
			return nil, fmt.Errorf("%w: commit parent: %v", ErrInvalidEncoding, err)
		}
		c.Parents = append(c.Parents, p)
		if len(c.Parents) > maxParents {
			return nil, fmt.Errorf("%w: commit has more than %d parents", ErrInvalidEncoding, maxParents)
		}
		key, val, ok = next()
	}

	if !ok || key != "author" {
		return nil, fmt.Errorf("%w: commit missing author header", ErrInvalidEncoding)
	}
	if c.Author, err = parseSignature(val); err != nil {
		return nil, fmt.Errorf("%w: commit author: %v", ErrInvalidEncoding, err)
	}

	key, val, ok = next()
	if !ok || key != "committer" {
		return nil, fmt.Errorf("%w: commit missing committer header", ErrInvalidEncoding)
	}
	if c.Committer, err = parseSignature(val); err != nil {
		return nil, fmt.Errorf("%w: commit committer: %v", ErrInvalidEncoding, err)
	}

	// Anything after committer is carried through: encoding, mergetag,
	// and headers this code has never heard of. Only gpgsig is lifted
	// out, since signing tooling needs it by name.
	sawSig := false
	for key, val, ok = next(); ok; key, val, ok = next() {
		if key == "gpgsig" {
			if sawSig {
				return nil, fmt.Errorf("%w: duplicate gpgsig header", ErrInvalidEncoding)
			}
			sawSig = true
			c.GPGSig = val
			continue
		}
		c.Extra = append(c.Extra, Header{Key: key, Value: val})
	}
	return c, nil
}

// DecodeTag parses an annotated tag: object, type, tag, and tagger
// headers in order, then the message.
func DecodeTag(f Format, data []byte) (*Tag, error) {
	headers, message, err := splitHeaders(data)
	if err != nil {
		return nil, err
	}
	if len(headers) != 4 {
		return nil, fmt.Errorf("%w: tag must have object, type, tag, and tagger headers", ErrInvalidEncoding)
	}
	want := [4]string{"object", "type", "tag", "tagger"}
	for i, h := range headers {
		if h.key != want[i] {
			return nil, fmt.Errorf("%w: tag header %d is %q, want %q", ErrInvalidEncoding, i, h.key, want[i])
		}
	}

	t := &Tag{Name: headers[2].value, Message: message}
	if t.Object, err = IDFromHex(f, headers[0].value); err != nil {
		return nil, fmt.Errorf("%w: tag object: %v", ErrInvalidEncoding, err)
	}
	if t.TargetType, err = ParseType(headers[1].value); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEncoding, err)
	}
	if t.Tagger, err = parseSignature(headers[3].value); err != nil {
		return nil, fmt.Errorf("%w: tagger: %v", ErrInvalidEncoding, err)
	}
	return t, nil
}

type header struct {
	key   string
	value string
}

// splitHeaders cuts commit/tag bytes at the first blank line and folds
// space-prefixed continuation lines into the preceding header value.
func splitHeaders(data []byte) ([]header, string, error) {
	sep := bytes.Index(data, []byte("\n\n"))
	if sep < 0 {
		return nil, "", fmt.Errorf("%w: missing header/message separator", ErrInvalidEncoding)
	}
	message := string(data[sep+2:])

	var headers []header
	for _, line := range strings.Split(string(data[:sep]), "\n") {
		if strings.HasPrefix(line, " ") {
			if len(headers) == 0 {
				return nil, "", fmt.Errorf("%w: continuation line without header", ErrInvalidEncoding)
			}
			headers[len(headers)-1].value += "\n" + line[1:]
			continue
		}
		key, value, ok := strings.Cut(line, " ")
		if !ok || key == "" {
			return nil, "", fmt.Errorf("%w: malformed header line %q", ErrInvalidEncoding, line)
		}
		headers = append(headers, header{key: key, value: value})
	}
	return headers, message, nil
}

// parseSignature parses "Name <email> unixtime +hhmm".
func parseSignature(s string) (Signature, error) {
	open := strings.Index(s, " <")
	end := strings.Index(s, "> ")
	if open < 0 || end < open {
		return Signature{}, fmt.Errorf("malformed signature %q", s)
	}

	sig := Signature{
		Name:  s[:open],
		Email: s[open+2 : end],
	}

	rest := s[end+2:]
	tsStr, tzStr, ok := strings.Cut(rest, " ")
	if !ok {
		return Signature{}, fmt.Errorf("signature %q missing timezone", s)
	}
	ts, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return Signature{}, fmt.Errorf("bad signature timestamp %q: %v", tsStr, err)
	}
	offset, err := parseZoneOffset(tzStr)
	if err != nil {
		return Signature{}, err
	}
	sig.When = time.Unix(ts, 0).In(time.FixedZone("", offset))
	return sig, nil
}

func parseZoneOffset(s string) (int, error) {
	if len(s) != 5 || (s[0] != '+' && s[0] != '-') {
		return 0, fmt.Errorf("bad timezone offset %q", s)
	}
	hhmm, err := strconv.Atoi(s[1:])
	if err != nil {
		return 0, fmt.Errorf("bad timezone offset %q: %v", s, err)
	}
	secs := (hhmm/100)*3600 + (hhmm%100)*60
	if s[0] == '-' {
		secs = -secs
	}
	return secs, nil
}
