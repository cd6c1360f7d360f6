package repo

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/gritvcs/grit/pkg/object"
)

const formatFile = "format.toml"

// DefaultBranch is the branch HEAD points at in a fresh repository.
const DefaultBranch = "refs/heads/main"

// Options configures repository creation.
type Options struct {
	// Format selects the object-hash format. The zero value is SHA1,
	// the format interoperable with standard repositories.
	Format object.Format
}

// formatConfig is the on-disk shape of format.toml. The file exists
// only in SHA-256 repositories; SHA-1 repositories stay free of
// layout additions a standard reader would not expect.
type formatConfig struct {
	ObjectFormat string `toml:"object-format"`
}

// Init creates an empty repository under dir: objects/ with its pack
// directory, refs/heads and refs/tags, and HEAD pointing at the default
// branch. Initializing over an existing repository is an error.
func Init(dir string, opts Options) (*Repo, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("init repository: %w", err)
	}
	if _, err := os.Stat(filepath.Join(abs, "HEAD")); err == nil {
		return nil, fmt.Errorf("init repository: %s already exists", abs)
	}

	for _, sub := range []string{
		filepath.Join("objects", "pack"),
		filepath.Join("refs", "heads"),
		filepath.Join("refs", "tags"),
	} {
		if err := os.MkdirAll(filepath.Join(abs, sub), 0o755); err != nil {
			return nil, fmt.Errorf("init repository: %w", err)
		}
	}

	if opts.Format == object.SHA256 {
		if err := writeFormatFile(abs, opts.Format); err != nil {
			return nil, err
		}
	}

	r := newRepo(abs, opts.Format)
	if err := r.Refs.SetSymbolic("HEAD", DefaultBranch); err != nil {
		return nil, fmt.Errorf("init repository: %w", err)
	}
	return r, nil
}

func writeFormatFile(root string, format object.Format) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(formatConfig{ObjectFormat: format.String()}); err != nil {
		return fmt.Errorf("init repository: encode %s: %w", formatFile, err)
	}
	if err := os.WriteFile(filepath.Join(root, formatFile), buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("init repository: write %s: %w", formatFile, err)
	}
	return nil
}

// readFormatFile reads format.toml under root. A missing file means
// SHA-1.
func readFormatFile(root string) (object.Format, error) {
	data, err := os.ReadFile(filepath.Join(root, formatFile))
	if errors.Is(err, os.ErrNotExist) {
		return object.SHA1, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", formatFile, err)
	}

	var cfg formatConfig
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return 0, fmt.Errorf("read %s: %w", formatFile, err)
	}
	format, err := object.ParseFormat(cfg.ObjectFormat)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", formatFile, err)
	}
	return format, nil
}
