// Package odb implements the object database: the loose-object codec,
// the pack codec with its delta engine, and the on-disk composition
// that answers lookups from loose storage first and packs second.
package odb

import (
	"errors"

	"github.com/gritvcs/grit/pkg/object"
)

// ErrNotFound reports that no store holds the requested object. It is
// a normal outcome used to drive fallback lookups, not a corruption
// signal.
var ErrNotFound = errors.New("object not found")

// Store is the capability interface over any object backend. All
// methods are safe for concurrent readers; Put is safe against
// concurrent duplicate inserts because content is immutable and
// addressed by its own hash.
type Store interface {
	// Contains reports whether the store holds id.
	Contains(id object.ID) (bool, error)

	// Get returns the decoded object for id, or an error wrapping
	// ErrNotFound.
	Get(id object.ID) (object.Object, error)

	// Put inserts an object and returns its computed ID. Inserting
	// identical content twice is a no-op returning the same ID.
	Put(obj object.Object) (object.ID, error)

	// Walk calls fn for every object ID in the store, in unspecified
	// order, stopping at the first error.
	Walk(fn func(object.ID) error) error
}
