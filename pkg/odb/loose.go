package odb

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zlib"

	"github.com/gritvcs/grit/pkg/object"
)

// ErrCorruptLoose reports a loose object file whose content cannot be
// trusted: undecompressable stream, malformed header, length mismatch,
// or a payload that re-hashes to a different ID.
var ErrCorruptLoose = errors.New("corrupt loose object")

// Loose stores one zlib-compressed object per file with a 2-hex-char
// fan-out directory layout: <root>/ab/cdef0123...
type Loose struct {
	root   string
	format object.Format
}

// NewLoose creates a loose store over the given objects directory.
// Fan-out directories are created lazily on first write.
func NewLoose(root string, f object.Format) *Loose {
	return &Loose{root: root, format: f}
}

// Format returns the ID format objects are hashed with.
func (l *Loose) Format() object.Format {
	return l.format
}

func (l *Loose) path(id object.ID) string {
	hex := id.Hex()
	return filepath.Join(l.root, hex[:2], hex[2:])
}

// Contains reports whether a loose file exists for id.
func (l *Loose) Contains(id object.ID) (bool, error) {
	_, err := os.Stat(l.path(id))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("loose stat %s: %w", id, err)
}

// Put encodes and stores an object, returning its ID.
func (l *Loose) Put(obj object.Object) (object.ID, error) {
	return l.PutRaw(obj.Type(), obj.Encode())
}

// PutRaw stores a pre-encoded payload. The write is atomic: the
// compressed stream goes to a temp file in the target fan-out
// directory and is renamed into place. Duplicate inserts are no-ops.
func (l *Loose) PutRaw(t object.Type, payload []byte) (object.ID, error) {
	id := object.HashObject(l.format, t, payload)

	ok, err := l.Contains(id)
	if err != nil {
		return object.ID{}, err
	}
	if ok {
		return id, nil
	}

	hex := id.Hex()
	dir := filepath.Join(l.root, hex[:2])
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return object.ID{}, fmt.Errorf("loose write mkdir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return object.ID{}, fmt.Errorf("loose write tmpfile: %w", err)
	}
	tmpName := tmp.Name()

	zw := zlib.NewWriter(tmp)
	if _, err := fmt.Fprintf(zw, "%s %d\x00", t, len(payload)); err == nil {
		_, err = zw.Write(payload)
	}
	if err == nil {
		err = zw.Close()
	}
	if err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return object.ID{}, fmt.Errorf("loose write %s: %w", id, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return object.ID{}, fmt.Errorf("loose write close: %w", err)
	}

	if err := os.Rename(tmpName, l.path(id)); err != nil {
		os.Remove(tmpName)
		return object.ID{}, fmt.Errorf("loose write rename: %w", err)
	}
	return id, nil
}

// Get reads and decodes the object stored for id.
func (l *Loose) Get(id object.ID) (object.Object, error) {
	t, payload, err := l.GetRaw(id)
	if err != nil {
		return nil, err
	}
	obj, err := object.Decode(l.format, t, payload)
	if err != nil {
		return nil, fmt.Errorf("loose object %s: %w", id, err)
	}
	return obj, nil
}

// GetRaw reads the type and payload stored for id, validating the
// header length and re-hashing the content against id.
func (l *Loose) GetRaw(id object.ID) (object.Type, []byte, error) {
	f, err := os.Open(l.path(id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil, fmt.Errorf("loose object %s: %w", id, ErrNotFound)
		}
		return "", nil, fmt.Errorf("loose object %s: %w", id, err)
	}
	defer f.Close()

	zr, err := zlib.NewReader(f)
	if err != nil {
		return "", nil, fmt.Errorf("loose object %s: %w: %v", id, ErrCorruptLoose, err)
	}
	framed, err := io.ReadAll(zr)
	if err != nil {
		return "", nil, fmt.Errorf("loose object %s: %w: decompress: %v", id, ErrCorruptLoose, err)
	}
	if err := zr.Close(); err != nil {
		return "", nil, fmt.Errorf("loose object %s: %w: close stream: %v", id, ErrCorruptLoose, err)
	}

	t, payload, err := parseFrame(framed)
	if err != nil {
		return "", nil, fmt.Errorf("loose object %s: %w: %v", id, ErrCorruptLoose, err)
	}
	if computed := object.HashObject(l.format, t, payload); !computed.Equal(id) {
		return "", nil, fmt.Errorf("loose object %s: %w: content hashes to %s", id, ErrCorruptLoose, computed)
	}
	return t, payload, nil
}

// parseFrame splits "<type> <len>\x00<payload>" and validates the
// declared length against the payload.
func parseFrame(framed []byte) (object.Type, []byte, error) {
	nul := bytes.IndexByte(framed, 0)
	if nul < 0 {
		return "", nil, fmt.Errorf("missing NUL after header")
	}
	head := string(framed[:nul])
	payload := framed[nul+1:]

	typeStr, lenStr, ok := strings.Cut(head, " ")
	if !ok {
		return "", nil, fmt.Errorf("malformed header %q", head)
	}
	t, err := object.ParseType(typeStr)
	if err != nil {
		return "", nil, err
	}
	n, err := strconv.Atoi(lenStr)
	if err != nil || n < 0 {
		return "", nil, fmt.Errorf("bad length %q", lenStr)
	}
	if n != len(payload) {
		return "", nil, fmt.Errorf("length mismatch: header=%d actual=%d", n, len(payload))
	}
	return t, payload, nil
}

// Remove deletes the loose file for id. Missing files are not an
// error; repack retirement is best-effort.
func (l *Loose) Remove(id object.ID) error {
	err := os.Remove(l.path(id))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("loose remove %s: %w", id, err)
	}
	return nil
}

// Walk enumerates every loose object ID under the fan-out layout.
func (l *Loose) Walk(fn func(object.ID) error) error {
	fanout, err := os.ReadDir(l.root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read objects dir: %w", err)
	}

	for _, dir := range fanout {
		if !dir.IsDir() || !isHexComponent(dir.Name(), 2) {
			continue
		}
		entries, err := os.ReadDir(filepath.Join(l.root, dir.Name()))
		if err != nil {
			return fmt.Errorf("read objects fanout %s: %w", dir.Name(), err)
		}
		for _, entry := range entries {
			if entry.IsDir() || !isHexComponent(entry.Name(), l.format.HexSize()-2) {
				continue
			}
			id, err := object.IDFromHex(l.format, dir.Name()+entry.Name())
			if err != nil {
				continue
			}
			if err := fn(id); err != nil {
				return err
			}
		}
	}
	return nil
}

func isHexComponent(s string, wantLen int) bool {
	if len(s) != wantLen {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

var _ Store = (*Loose)(nil)
