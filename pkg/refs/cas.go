package refs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gritvcs/grit/pkg/object"
)

var (
	// ErrLockTimeout reports that a reference lock could not be
	// acquired within the wait bound.
	ErrLockTimeout = errors.New("reference lock timeout")

	// ErrConflict is the sentinel matched by ConflictError.
	ErrConflict = errors.New("reference update conflict")
)

const (
	lockRetryDelay = 5 * time.Millisecond
	lockWaitLimit  = 2 * time.Second
)

// ConflictError reports a compare-and-swap whose expected value did
// not match the stored one. Current is the value found; a zero
// Current means the reference did not exist.
type ConflictError struct {
	Name    string
	Current object.ID
}

func (e *ConflictError) Error() string {
	if e.Current.IsZero() {
		return fmt.Sprintf("ref %q: conflict: reference does not exist", e.Name)
	}
	return fmt.Sprintf("ref %q: conflict: current value is %s", e.Name, e.Current)
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// lock holds <path>.lock, created exclusively. Updates are staged into
// the lock file and renamed over the reference, so a crash leaves the
// old value intact.
type lock struct {
	path string // the locked reference file
	f    *os.File
}

func (s *Store) acquireLock(name string) (*lock, error) {
	path := s.refPath(name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("lock ref %q: %w", name, err)
	}
	lockPath := path + ".lock"
	deadline := time.Now().Add(lockWaitLimit)
	for {
		f, err := os.OpenFile(lockPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			return &lock{path: path, f: f}, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("lock ref %q: %w", name, err)
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("lock ref %q: %w", name, ErrLockTimeout)
		}
		time.Sleep(lockRetryDelay)
	}
}

// commit writes content into the lock file and renames it over the
// reference.
func (l *lock) commit(content string) error {
	if _, err := l.f.WriteString(content); err != nil {
		l.abort()
		return err
	}
	if err := l.f.Sync(); err != nil {
		l.abort()
		return err
	}
	if err := l.f.Close(); err != nil {
		os.Remove(l.f.Name())
		return err
	}
	if err := os.Rename(l.f.Name(), l.path); err != nil {
		os.Remove(l.f.Name())
		return err
	}
	return nil
}

// abort releases the lock without changing the reference.
func (l *lock) abort() {
	l.f.Close()
	os.Remove(l.f.Name())
}

// currentID returns the stored direct value of name, or a zero ID when
// the reference does not exist. A symbolic reference is an error here:
// CAS operates on direct values only.
func (s *Store) currentID(name string) (object.ID, error) {
	ref, err := s.Read(name)
	if errors.Is(err, ErrNotFound) {
		return object.ID{}, nil
	}
	if err != nil {
		return object.ID{}, err
	}
	if ref.IsSymbolic() {
		return object.ID{}, fmt.Errorf("ref %q: cannot compare-and-swap a symbolic reference", name)
	}
	return ref.ID, nil
}

// CompareAndSwap atomically updates name from old to new. A zero old
// asserts the reference must not exist; mismatch fails with a
// ConflictError carrying the stored value. The update is durable
// before return.
func (s *Store) CompareAndSwap(name string, old, new object.ID, reason string) error {
	if err := checkName(name); err != nil {
		return err
	}
	if new.IsZero() {
		return fmt.Errorf("ref %q: new value must not be zero", name)
	}

	l, err := s.acquireLock(name)
	if err != nil {
		return err
	}

	current, err := s.currentID(name)
	if err != nil {
		l.abort()
		return err
	}
	if !current.Equal(old) {
		l.abort()
		return &ConflictError{Name: name, Current: current}
	}

	if err := l.commit(new.String() + "\n"); err != nil {
		return fmt.Errorf("update ref %q: %w", name, err)
	}
	if err := s.appendReflog(name, old, new, reason); err != nil {
		return fmt.Errorf("update ref %q: %w", name, err)
	}
	return nil
}

// SetSymbolic points name at target unconditionally, e.g. HEAD at a
// branch.
func (s *Store) SetSymbolic(name, target string) error {
	if err := checkName(name); err != nil {
		return err
	}
	if err := checkName(target); err != nil {
		return fmt.Errorf("ref %q: symbolic target: %w", name, ErrInvalidName)
	}
	l, err := s.acquireLock(name)
	if err != nil {
		return err
	}
	if err := l.commit(symrefPrefix + target + "\n"); err != nil {
		return fmt.Errorf("set symbolic ref %q: %w", name, err)
	}
	return nil
}

// Delete removes name after verifying its current value equals old.
// Both the loose file and any packed entry are removed.
func (s *Store) Delete(name string, old object.ID) error {
	if err := checkName(name); err != nil {
		return err
	}

	l, err := s.acquireLock(name)
	if err != nil {
		return err
	}
	defer l.abort()

	current, err := s.currentID(name)
	if err != nil {
		return err
	}
	if current.IsZero() {
		return fmt.Errorf("delete ref %q: %w", name, ErrNotFound)
	}
	if !current.Equal(old) {
		return &ConflictError{Name: name, Current: current}
	}

	if err := os.Remove(s.refPath(name)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete ref %q: %w", name, err)
	}
	if err := s.removePacked(name); err != nil {
		return fmt.Errorf("delete ref %q: %w", name, err)
	}
	return nil
}
