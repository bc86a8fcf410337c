// Package discovery finds command descriptors on disk.
package discovery

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"

	"github.com/BurntSushi/toml"

	"github.com/small-frappuccino/soerbot/pkg/discord/commands/core"
	"github.com/small-frappuccino/soerbot/pkg/log"
)

// DefaultPattern matches command manifest files.
const DefaultPattern = "*.command.toml"

// Discoverer turns a directory and a file name pattern into command
// descriptors.
type Discoverer interface {
	Discover(dir, pattern string) ([]core.Descriptor, error)
}

// FileDiscoverer reads TOML command manifests from a directory tree.
type FileDiscoverer struct {
	Logger *slog.Logger
}

// NewFileDiscoverer returns a discoverer logging through logger, or through
// the command logger when logger is nil.
func NewFileDiscoverer(logger *slog.Logger) *FileDiscoverer {
	if logger == nil {
		logger = log.CommandLogger()
	}
	return &FileDiscoverer{Logger: logger}
}

// Discover walks dir recursively and decodes every file whose base name
// matches pattern. Results are ordered by path. A missing dir yields no
// descriptors; manifests that fail to decode are skipped.
func (d *FileDiscoverer) Discover(dir, pattern string) ([]core.Descriptor, error) {
	if pattern == "" {
		pattern = DefaultPattern
	}
	if _, err := filepath.Match(pattern, ""); err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}
	logger := d.Logger
	if logger == nil {
		logger = log.CommandLogger()
	}

	info, err := os.Stat(dir)
	if errors.Is(err, fs.ErrNotExist) {
		logger.Warn("Commands directory not found; no commands discovered", "dir", dir)
		return []core.Descriptor{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("stat commands directory %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("commands path %s is not a directory", dir)
	}

	var paths []string
	err = filepath.WalkDir(dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			return nil
		}
		if ok, _ := filepath.Match(pattern, entry.Name()); ok {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk commands directory %s: %w", dir, err)
	}
	slices.Sort(paths)

	out := make([]core.Descriptor, 0, len(paths))
	for _, path := range paths {
		desc, err := decodeManifest(path)
		if err != nil {
			logger.Warn("Skipping command manifest", "path", path, "error", err)
			continue
		}
		out = append(out, desc)
	}
	logger.Info("Command manifests discovered", "dir", dir, "pattern", pattern, "count", len(out))
	return out, nil
}

func decodeManifest(path string) (core.Descriptor, error) {
	var desc core.Descriptor
	md, err := toml.DecodeFile(path, &desc)
	if err != nil {
		return core.Descriptor{}, err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return core.Descriptor{}, fmt.Errorf("unknown keys %v", undecoded)
	}
	if desc.Name == "" || desc.Handler == "" {
		return core.Descriptor{}, errors.New("name and handler are required")
	}
	desc.Source = path
	return desc, nil
}

// Static returns a fixed list of descriptors regardless of its arguments.
type Static []core.Descriptor

// Discover returns a copy of the list.
func (s Static) Discover(string, string) ([]core.Descriptor, error) {
	return slices.Clone([]core.Descriptor(s)), nil
}
