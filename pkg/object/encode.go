package object

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Encode returns the blob payload verbatim.
func (b *Blob) Encode() []byte {
	out := make([]byte, len(b.Data))
	copy(out, b.Data)
	return out
}

// Encode serializes a tree in canonical form: entries sorted by name
// (directories comparing as name+"/"), each entry encoded as
// "<mode> <name>\x00" followed by the raw child ID.
func (t *Tree) Encode() []byte {
	sorted := make([]TreeEntry, len(t.Entries))
	copy(sorted, t.Entries)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].sortKey() < sorted[j].sortKey()
	})

	var buf bytes.Buffer
	for _, e := range sorted {
		buf.WriteString(e.Mode)
		buf.WriteByte(' ')
		buf.WriteString(e.Name)
		buf.WriteByte(0)
		buf.Write(e.ID.Raw())
	}
	return buf.Bytes()
}

// Encode serializes a commit:
//
//	tree H
//	parent H      (zero or more, in order)
//	author N <E> TS TZ
//	committer N <E> TS TZ
//	<extra headers, e.g. encoding, mergetag>
//	gpgsig ...    (optional, continuation lines space-prefixed)
//
//	message
func (c *Commit) Encode() []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "tree %s\n", c.Tree.Hex())
	for _, p := range c.Parents {
		fmt.Fprintf(&buf, "parent %s\n", p.Hex())
	}
	fmt.Fprintf(&buf, "author %s\n", c.Author.encode())
	fmt.Fprintf(&buf, "committer %s\n", c.Committer.encode())
	for _, h := range c.Extra {
		fmt.Fprintf(&buf, "%s %s\n", h.Key, strings.ReplaceAll(h.Value, "\n", "\n "))
	}
	if c.GPGSig != "" {
		fmt.Fprintf(&buf, "gpgsig %s\n", strings.ReplaceAll(c.GPGSig, "\n", "\n "))
	}
	buf.WriteByte('\n')
	buf.WriteString(c.Message)
	return buf.Bytes()
}

// Encode serializes an annotated tag:
//
//	object H
//	type T
//	tag NAME
//	tagger N <E> TS TZ
//
//	message
func (t *Tag) Encode() []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "object %s\n", t.Object.Hex())
	fmt.Fprintf(&buf, "type %s\n", t.TargetType)
	fmt.Fprintf(&buf, "tag %s\n", t.Name)
	fmt.Fprintf(&buf, "tagger %s\n", t.Tagger.encode())
	buf.WriteByte('\n')
	buf.WriteString(t.Message)
	return buf.Bytes()
}

// encode renders a signature as "Name <email> unixtime +hhmm".
func (s Signature) encode() string {
	return fmt.Sprintf("%s <%s> %d %s", s.Name, s.Email, s.When.Unix(), zoneOffset(s.When))
}

func zoneOffset(t time.Time) string {
	_, secs := t.Zone()
	sign := "+"
	if secs < 0 {
		sign = "-"
		secs = -secs
	}
	return fmt.Sprintf("%s%02d%02d", sign, secs/3600, (secs%3600)/60)
}
