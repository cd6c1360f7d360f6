package odb

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gritvcs/grit/pkg/object"
)

// DB is the on-disk object database: loose storage backed by any
// number of sealed packs under <root>/pack. Lookups probe loose
// storage first, then packs newest-first. Writes always go loose;
// packs are produced only by Repack.
type DB struct {
	root   string
	format object.Format
	loose  *Loose

	mu     sync.RWMutex
	packs  []*loadedPack
	loaded map[string]bool
}

type loadedPack struct {
	name  string // idx basename
	mtime time.Time
	pack  *Pack
}

// NewDB opens an object database over the given objects directory.
// Packs are discovered lazily and re-scanned when a lookup misses.
func NewDB(root string, format object.Format) *DB {
	return &DB{
		root:   root,
		format: format,
		loose:  NewLoose(root, format),
		loaded: make(map[string]bool),
	}
}

// Format returns the database's ID format.
func (db *DB) Format() object.Format {
	return db.format
}

// Loose exposes the loose-object stratum.
func (db *DB) Loose() *Loose {
	return db.loose
}

func (db *DB) packDir() string {
	return filepath.Join(db.root, "pack")
}

// Refresh scans the pack directory and loads any pack not yet known.
// A pack becomes visible only once both its data and index files exist
// and validate against each other.
func (db *DB) Refresh() error {
	entries, err := os.ReadDir(db.packDir())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read pack dir: %w", err)
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	added := false
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".idx") || db.loaded[name] {
			continue
		}
		idxPath := filepath.Join(db.packDir(), name)
		packPath := strings.TrimSuffix(idxPath, ".idx") + ".pack"

		idxData, err := os.ReadFile(idxPath)
		if err != nil {
			return fmt.Errorf("read pack index %s: %w", name, err)
		}
		packData, err := os.ReadFile(packPath)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				// Index without data: not yet (or no longer) visible.
				continue
			}
			return fmt.Errorf("read pack %s: %w", filepath.Base(packPath), err)
		}

		pack, err := OpenPack(packData, idxData, db.format, db.getRawLocked)
		if err != nil {
			return fmt.Errorf("open pack %s: %w", name, err)
		}
		info, err := entry.Info()
		if err != nil {
			return fmt.Errorf("stat pack index %s: %w", name, err)
		}
		db.packs = append(db.packs, &loadedPack{name: name, mtime: info.ModTime(), pack: pack})
		db.loaded[name] = true
		added = true
	}

	if added {
		// Newest-first probe order. Pack names are checksum-derived, so
		// recency comes from the index file's mtime, not its name.
		sort.SliceStable(db.packs, func(i, j int) bool {
			if !db.packs[i].mtime.Equal(db.packs[j].mtime) {
				return db.packs[i].mtime.After(db.packs[j].mtime)
			}
			return db.packs[i].name > db.packs[j].name
		})
	}
	return nil
}

// getRawLocked resolves cross-pack REF_DELTA bases. It reads loose
// storage and already-loaded packs only; it must not trigger a refresh
// while the lock is held.
func (db *DB) getRawLocked(id object.ID) (object.Type, []byte, error) {
	t, payload, err := db.loose.GetRaw(id)
	if err == nil {
		return t, payload, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return "", nil, err
	}
	for _, lp := range db.packs {
		if lp.pack.Contains(id) {
			return lp.pack.Get(id)
		}
	}
	return "", nil, fmt.Errorf("object %s: %w", id, ErrNotFound)
}

// Contains reports whether the database holds id, loose or packed.
func (db *DB) Contains(id object.ID) (bool, error) {
	ok, err := db.loose.Contains(id)
	if err != nil || ok {
		return ok, err
	}
	_, _, err = db.getPacked(id)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return false, err
}

// Get returns the decoded object for id: loose first, then each pack
// newest-first, re-scanning the pack directory once on a miss so packs
// created by other writers are discovered.
func (db *DB) Get(id object.ID) (object.Object, error) {
	t, payload, err := db.GetRaw(id)
	if err != nil {
		return nil, err
	}
	obj, err := object.Decode(db.format, t, payload)
	if err != nil {
		return nil, fmt.Errorf("object %s: %w", id, err)
	}
	return obj, nil
}

// GetRaw returns the type and canonical payload for id.
func (db *DB) GetRaw(id object.ID) (object.Type, []byte, error) {
	t, payload, err := db.loose.GetRaw(id)
	if err == nil {
		return t, payload, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return "", nil, err
	}
	return db.getPacked(id)
}

func (db *DB) getPacked(id object.ID) (object.Type, []byte, error) {
	db.mu.RLock()
	for _, lp := range db.packs {
		if lp.pack.Contains(id) {
			t, payload, err := lp.pack.Get(id)
			db.mu.RUnlock()
			return t, payload, err
		}
	}
	known := len(db.loaded)
	db.mu.RUnlock()

	if err := db.Refresh(); err != nil {
		return "", nil, err
	}

	db.mu.RLock()
	defer db.mu.RUnlock()
	if len(db.loaded) > known {
		for _, lp := range db.packs {
			if lp.pack.Contains(id) {
				return lp.pack.Get(id)
			}
		}
	}
	return "", nil, fmt.Errorf("object %s: %w", id, ErrNotFound)
}

// Put inserts an object as a loose file. Content already present
// (loose or packed) is not rewritten.
func (db *DB) Put(obj object.Object) (object.ID, error) {
	return db.PutRaw(obj.Type(), obj.Encode())
}

// PutRaw inserts a pre-encoded payload as a loose file.
func (db *DB) PutRaw(t object.Type, payload []byte) (object.ID, error) {
	id := object.HashObject(db.format, t, payload)
	ok, err := db.Contains(id)
	if err != nil {
		return object.ID{}, err
	}
	if ok {
		return id, nil
	}
	return db.loose.PutRaw(t, payload)
}

// Walk enumerates every object in the database exactly once, loose and
// packed.
func (db *DB) Walk(fn func(object.ID) error) error {
	if err := db.Refresh(); err != nil {
		return err
	}

	seen := make(map[object.ID]bool)
	if err := db.loose.Walk(func(id object.ID) error {
		seen[id] = true
		return fn(id)
	}); err != nil {
		return err
	}

	db.mu.RLock()
	packs := make([]*loadedPack, len(db.packs))
	copy(packs, db.packs)
	db.mu.RUnlock()

	for _, lp := range packs {
		for _, entry := range lp.pack.Index().Entries() {
			if seen[entry.ID] {
				continue
			}
			seen[entry.ID] = true
			if err := fn(entry.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

var _ Store = (*DB)(nil)
