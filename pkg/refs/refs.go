// Package refs implements the reference store: named, mutable pointers
// to object IDs (or to other references) kept as individual files with
// an atomic compare-and-swap update protocol, plus a compacted bulk
// form (packed-refs) for fast reads.
package refs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gritvcs/grit/pkg/object"
)

var (
	// ErrNotFound reports that no reference with the given name exists,
	// loose or packed.
	ErrNotFound = errors.New("reference not found")

	// ErrRefCycle reports a symbolic reference chain that did not
	// terminate within the hop bound.
	ErrRefCycle = errors.New("symbolic reference cycle")

	// ErrDanglingRef reports a reference whose terminal ID names no
	// existing object.
	ErrDanglingRef = errors.New("dangling reference")

	// ErrInvalidName reports a reference name outside the allowed
	// hierarchical form.
	ErrInvalidName = errors.New("invalid reference name")
)

// maxSymrefHops bounds symbolic chain resolution.
const maxSymrefHops = 10

// symrefPrefix marks the content of a symbolic reference file.
const symrefPrefix = "ref: "

// Ref is one reference value: either a direct ID or a symbolic alias
// to another name.
type Ref struct {
	Name   string
	ID     object.ID // direct target; zero when symbolic
	Symref string    // alias target; empty when direct
}

// IsSymbolic reports whether the reference aliases another name.
func (r Ref) IsSymbolic() bool {
	return r.Symref != ""
}

// Store is a reference store rooted at a repository directory. Loose
// reference files live under <root>/<name>; the compacted form lives
// at <root>/packed-refs. A loose entry always shadows a packed entry
// of the same name.
type Store struct {
	root   string
	format object.Format

	// Exists, when set, lets Resolve validate that a terminal ID names
	// a stored object. Left nil, Resolve skips the dangling check.
	Exists func(object.ID) (bool, error)
}

// NewStore opens a reference store over root.
func NewStore(root string, format object.Format) *Store {
	return &Store{root: root, format: format}
}

func (s *Store) refPath(name string) string {
	return filepath.Join(s.root, filepath.FromSlash(name))
}

// checkName validates a hierarchical reference name. "HEAD" is
// allowed; everything else must be slash-separated components without
// traversal or lock-file collisions.
func checkName(name string) error {
	if name == "HEAD" {
		return nil
	}
	if name == "" || strings.HasPrefix(name, "/") || strings.HasSuffix(name, "/") {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	for _, part := range strings.Split(name, "/") {
		switch {
		case part == "", part == ".", part == "..":
			return fmt.Errorf("%w: %q", ErrInvalidName, name)
		case strings.HasSuffix(part, ".lock"):
			return fmt.Errorf("%w: %q", ErrInvalidName, name)
		case strings.ContainsAny(part, " \t\n\\:?*[~^"):
			return fmt.Errorf("%w: %q", ErrInvalidName, name)
		}
	}
	return nil
}

// Read returns the current value of name. Loose storage wins over the
// compacted file; a missing name fails with ErrNotFound.
func (s *Store) Read(name string) (Ref, error) {
	if err := checkName(name); err != nil {
		return Ref{}, err
	}

	data, err := os.ReadFile(s.refPath(name))
	if err == nil {
		return s.parseLoose(name, data)
	}
	if !errors.Is(err, os.ErrNotExist) {
		return Ref{}, fmt.Errorf("read ref %q: %w", name, err)
	}

	packed, err := s.readPacked()
	if err != nil {
		return Ref{}, err
	}
	if id, ok := packed[name]; ok {
		return Ref{Name: name, ID: id}, nil
	}
	return Ref{}, fmt.Errorf("ref %q: %w", name, ErrNotFound)
}

func (s *Store) parseLoose(name string, data []byte) (Ref, error) {
	content := strings.TrimRight(string(data), "\n")
	if target, ok := strings.CutPrefix(content, symrefPrefix); ok {
		target = strings.TrimSpace(target)
		if err := checkName(target); err != nil {
			return Ref{}, fmt.Errorf("ref %q: symbolic target: %w", name, err)
		}
		return Ref{Name: name, Symref: target}, nil
	}
	id, err := object.IDFromHex(s.format, content)
	if err != nil {
		return Ref{}, fmt.Errorf("ref %q: %w", name, err)
	}
	return Ref{Name: name, ID: id}, nil
}

// Resolve follows symbolic aliases from name to a direct ID. Chains
// longer than the hop bound fail with ErrRefCycle; a terminal ID that
// names no stored object fails with ErrDanglingRef.
func (s *Store) Resolve(name string) (object.ID, error) {
	current := name
	for hop := 0; hop <= maxSymrefHops; hop++ {
		ref, err := s.Read(current)
		if err != nil {
			return object.ID{}, err
		}
		if ref.IsSymbolic() {
			current = ref.Symref
			continue
		}
		if s.Exists != nil {
			ok, err := s.Exists(ref.ID)
			if err != nil {
				return object.ID{}, fmt.Errorf("resolve ref %q: %w", name, err)
			}
			if !ok {
				return object.ID{}, fmt.Errorf("ref %q: %s: %w", current, ref.ID, ErrDanglingRef)
			}
		}
		return ref.ID, nil
	}
	return object.ID{}, fmt.Errorf("resolve ref %q: %w", name, ErrRefCycle)
}

// List returns every reference whose name starts with prefix, sorted
// by name. Loose entries shadow packed entries of the same name.
// Symbolic references are returned unresolved.
func (s *Store) List(prefix string) ([]Ref, error) {
	merged := make(map[string]Ref)

	packed, err := s.readPacked()
	if err != nil {
		return nil, err
	}
	for name, id := range packed {
		if strings.HasPrefix(name, prefix) {
			merged[name] = Ref{Name: name, ID: id}
		}
	}

	refsDir := filepath.Join(s.root, "refs")
	err = filepath.WalkDir(refsDir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || strings.HasSuffix(path, ".lock") {
			return nil
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(rel)
		if !strings.HasPrefix(name, prefix) {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		ref, err := s.parseLoose(name, data)
		if err != nil {
			return err
		}
		merged[name] = ref
		return nil
	})
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("list refs: %w", err)
	}

	names := make([]string, 0, len(merged))
	for name := range merged {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]Ref, 0, len(names))
	for _, name := range names {
		out = append(out, merged[name])
	}
	return out, nil
}
