package refs

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gritvcs/grit/pkg/object"
)

const packedRefsFile = "packed-refs"

const packedRefsHeader = "# pack-refs with: peeled fully-peeled sorted\n"

// readPacked parses <root>/packed-refs into a name-to-ID map. A
// missing file yields an empty map. Peeled annotation lines ("^<id>")
// are tolerated and skipped.
func (s *Store) readPacked() (map[string]object.ID, error) {
	data, err := os.ReadFile(filepath.Join(s.root, packedRefsFile))
	if errors.Is(err, os.ErrNotExist) {
		return map[string]object.ID{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read packed-refs: %w", err)
	}

	out := make(map[string]object.ID)
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := sc.Text()
		if line == "" || line[0] == '#' || line[0] == '^' {
			continue
		}
		hex, name, ok := strings.Cut(line, " ")
		if !ok {
			return nil, fmt.Errorf("read packed-refs: malformed line %q", line)
		}
		id, err := object.IDFromHex(s.format, hex)
		if err != nil {
			return nil, fmt.Errorf("read packed-refs: line %q: %w", line, err)
		}
		if err := checkName(name); err != nil {
			return nil, fmt.Errorf("read packed-refs: %w", err)
		}
		out[name] = id
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read packed-refs: %w", err)
	}
	return out, nil
}

// writePacked replaces packed-refs atomically with the given entries,
// sorted by name. The caller must hold the packed-refs lock.
func (s *Store) writePacked(entries map[string]object.ID) error {
	path := filepath.Join(s.root, packedRefsFile)
	if len(entries) == 0 {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("write packed-refs: %w", err)
		}
		return nil
	}

	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	buf.WriteString(packedRefsHeader)
	for _, name := range names {
		fmt.Fprintf(&buf, "%s %s\n", entries[name], name)
	}

	tmp, err := os.CreateTemp(s.root, "packed-refs-*")
	if err != nil {
		return fmt.Errorf("write packed-refs: %w", err)
	}
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write packed-refs: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write packed-refs: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write packed-refs: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write packed-refs: %w", err)
	}
	return nil
}

// acquirePackedLock serializes packed-refs rewrites.
func (s *Store) acquirePackedLock() (*lock, error) {
	return s.acquireLock(packedRefsFile)
}

// removePacked drops name from packed-refs if present.
func (s *Store) removePacked(name string) error {
	l, err := s.acquirePackedLock()
	if err != nil {
		return err
	}
	defer l.abort()

	entries, err := s.readPacked()
	if err != nil {
		return err
	}
	if _, ok := entries[name]; !ok {
		return nil
	}
	delete(entries, name)
	return s.writePacked(entries)
}

// Compact folds every loose direct reference under refs/ into
// packed-refs and prunes the loose files. Symbolic references stay
// loose. A loose reference updated concurrently is left in place: the
// prune re-checks each value under the reference's own lock.
func (s *Store) Compact() error {
	pl, err := s.acquirePackedLock()
	if err != nil {
		return err
	}
	defer pl.abort()

	entries, err := s.readPacked()
	if err != nil {
		return err
	}

	loose, err := s.List("refs/")
	if err != nil {
		return err
	}
	folded := make(map[string]object.ID)
	for _, ref := range loose {
		if ref.IsSymbolic() {
			continue
		}
		entries[ref.Name] = ref.ID
		folded[ref.Name] = ref.ID
	}

	if err := s.writePacked(entries); err != nil {
		return err
	}

	for name, id := range folded {
		if err := s.pruneLoose(name, id); err != nil {
			return err
		}
	}
	return nil
}

// pruneLoose removes the loose file for name if it still holds value.
func (s *Store) pruneLoose(name string, value object.ID) error {
	path := s.refPath(name)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}

	l, err := s.acquireLock(name)
	if err != nil {
		return err
	}
	defer l.abort()

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("prune ref %q: %w", name, err)
	}
	ref, err := s.parseLoose(name, data)
	if err != nil || ref.IsSymbolic() || !ref.ID.Equal(value) {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("prune ref %q: %w", name, err)
	}
	return nil
}
