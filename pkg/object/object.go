package object

import (
	"fmt"
	"time"
)

// Type identifies the kind of object stored.
type Type string

const (
	TypeBlob   Type = "blob"
	TypeTree   Type = "tree"
	TypeCommit Type = "commit"
	TypeTag    Type = "tag"
)

// ParseType maps a type name to a Type, rejecting unknown kinds.
func ParseType(s string) (Type, error) {
	switch Type(s) {
	case TypeBlob, TypeTree, TypeCommit, TypeTag:
		return Type(s), nil
	default:
		return "", fmt.Errorf("unknown object type %q", s)
	}
}

const (
	// Tree mode constants matching Git's canonical mode strings.
	TreeModeDir        = "40000"
	TreeModeFile       = "100644"
	TreeModeExecutable = "100755"
	TreeModeSymlink    = "120000"
	TreeModeGitlink    = "160000"
)

// Object is the tagged union over the four object variants. It is
// implemented by Blob, Tree, Commit, and Tag. Encode returns the
// canonical byte encoding; an object's ID is always the hash of that
// encoding (see HashObject).
type Object interface {
	Type() Type
	Encode() []byte
}

// Blob holds raw file data.
type Blob struct {
	Data []byte
}

func (*Blob) Type() Type { return TypeBlob }

// TreeEntry is one entry in a tree object: a mode string, a name, and
// the ID of the child blob or subtree.
type TreeEntry struct {
	Mode string
	Name string
	ID   ID
}

// IsDir reports whether the entry names a subtree.
func (e TreeEntry) IsDir() bool { return e.Mode == TreeModeDir }

// Tree is an ordered list of entries. Canonical order sorts entries by
// name with directory names compared as if suffixed by "/"; Encode
// establishes that order, DecodeTree rejects input that violates it.
type Tree struct {
	Entries []TreeEntry
}

func (*Tree) Type() Type { return TypeTree }

// sortKey is the byte string an entry sorts by in canonical tree order.
func (e TreeEntry) sortKey() string {
	if e.IsDir() {
		return e.Name + "/"
	}
	return e.Name
}

// Signature is an identity triple attached to commits and tags. The
// timezone offset is carried in When's Location.
type Signature struct {
	Name  string
	Email string
	When  time.Time
}

// Header is an uninterpreted commit header such as "encoding" or
// "mergetag". Multi-line values hold embedded newlines; the codec folds
// them to space-prefixed continuation lines on the wire.
type Header struct {
	Key   string
	Value string
}

// Commit points at a root tree and zero or more parent commits. Parent
// order is significant: the first parent is the mainline. Headers other
// than the structural five are kept verbatim in Extra so existing
// commits survive a decode/encode round trip.
type Commit struct {
	Tree      ID
	Parents   []ID
	Author    Signature
	Committer Signature
	Extra     []Header
	GPGSig    string
	Message   string
}

func (*Commit) Type() Type { return TypeCommit }

// Tag is an annotated tag: a named, attributed pointer at another
// object, conventionally a commit.
type Tag struct {
	Object     ID
	TargetType Type
	Name       string
	Tagger     Signature
	Message    string
}

func (*Tag) Type() Type { return TypeTag }
