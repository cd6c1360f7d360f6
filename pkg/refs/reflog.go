package refs

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gritvcs/grit/pkg/object"
)

// ReflogEntry is one line of a reference's update history.
type ReflogEntry struct {
	Name      string
	Old       object.ID // zero for the first update
	New       object.ID
	Timestamp int64
	Reason    string
}

func (s *Store) reflogPath(name string) string {
	return filepath.Join(s.root, "logs", filepath.FromSlash(name))
}

func (s *Store) zeroHex() string {
	return strings.Repeat("0", s.format.HexSize())
}

// appendReflog records one update under <root>/logs/<name>. Reflogs are
// append-only history, not a source of truth; failures here still fail
// the update so history never silently diverges from the references.
func (s *Store) appendReflog(name string, old, new object.ID, reason string) error {
	if strings.TrimSpace(reason) == "" {
		reason = "update"
	}

	path := s.reflogPath(name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("reflog mkdir: %w", err)
	}

	oldHex := s.zeroHex()
	if !old.IsZero() {
		oldHex = old.Hex()
	}
	line := fmt.Sprintf("%s %s %d %s\n", oldHex, new.Hex(), time.Now().Unix(), reason)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("reflog open: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("reflog write: %w", err)
	}
	return nil
}

// ReadReflog returns the update history of name, newest first. A
// missing log yields nil. limit > 0 truncates the result.
func (s *Store) ReadReflog(name string, limit int) ([]ReflogEntry, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}

	f, err := os.Open(s.reflogPath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read reflog: %w", err)
	}
	defer f.Close()

	zero := s.zeroHex()
	var entries []ReflogEntry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, " ", 4)
		if len(parts) < 4 {
			continue
		}
		ts, err := strconv.ParseInt(parts[2], 10, 64)
		if err != nil {
			continue
		}
		entry := ReflogEntry{Name: name, Timestamp: ts, Reason: parts[3]}
		if parts[0] != zero {
			if entry.Old, err = object.IDFromHex(s.format, parts[0]); err != nil {
				continue
			}
		}
		if entry.New, err = object.IDFromHex(s.format, parts[1]); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read reflog: %w", err)
	}

	// Newest first.
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}
