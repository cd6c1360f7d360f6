// Package repo composes the object database and the reference store
// over a repository directory layout: objects/ with its pack/
// subdirectory, refs/, HEAD, and the optional packed-refs file.
package repo

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gritvcs/grit/pkg/object"
	"github.com/gritvcs/grit/pkg/odb"
	"github.com/gritvcs/grit/pkg/refs"
)

// ErrNotRepository reports a directory that does not hold a repository
// layout.
var ErrNotRepository = errors.New("not a repository")

// Repo is an explicit handle over one repository directory. Multiple
// handles over distinct directories coexist in one process; there is no
// process-global repository state.
type Repo struct {
	// Root is the repository directory.
	Root string

	// Format is the object-hash format the repository was created with.
	Format object.Format

	// Objects is the object database under <root>/objects.
	Objects *odb.DB

	// Refs is the reference store rooted at <root>.
	Refs *refs.Store
}

// Open validates the layout under dir and returns a handle. The object
// format is read from format.toml; its absence means SHA-1.
func Open(dir string) (*Repo, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("open repository: %w", err)
	}

	for _, required := range []string{"objects", "refs", "HEAD"} {
		if _, err := os.Stat(filepath.Join(abs, required)); err != nil {
			return nil, fmt.Errorf("%w: %s: missing %s", ErrNotRepository, abs, required)
		}
	}

	format, err := readFormatFile(abs)
	if err != nil {
		return nil, err
	}
	return newRepo(abs, format), nil
}

func newRepo(root string, format object.Format) *Repo {
	r := &Repo{
		Root:    root,
		Format:  format,
		Objects: odb.NewDB(filepath.Join(root, "objects"), format),
		Refs:    refs.NewStore(root, format),
	}
	r.Refs.Exists = r.Objects.Contains
	return r
}

// ResolveRef follows name to a direct ID. The reference store is wired
// to the object database, so a terminal ID naming no stored object
// fails with refs.ErrDanglingRef.
func (r *Repo) ResolveRef(name string) (object.ID, error) {
	return r.Refs.Resolve(name)
}

// Head returns the current HEAD reference, symbolic or direct.
func (r *Repo) Head() (refs.Ref, error) {
	return r.Refs.Read("HEAD")
}
