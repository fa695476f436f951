// SPDX-License-Identifier: BSD-3-Clause

package assets

import (
	"context"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"sync"

	"github.com/netdimm-fleet/cabinetd/pkg/file"
)

// DirIndex is a filesystem-backed Index scanning one or more directories
// per kind. Checksums come from a precomputed cache (the fleet
// configuration's filenames map) rather than being recomputed on every
// List; checksums are an opaque, externally maintained value refreshed
// only by Write and Recalculate.
type DirIndex struct {
	dirs map[Kind][]string

	mu        sync.RWMutex
	checksums map[string]string
}

// NewDirIndex builds a DirIndex scanning dirs (by kind) and annotating
// entries with checksums looked up by absolute path in checksums. A nil
// checksums map is treated as empty.
func NewDirIndex(dirs map[Kind][]string, checksums map[string]string) *DirIndex {
	if checksums == nil {
		checksums = map[string]string{}
	}
	return &DirIndex{dirs: dirs, checksums: checksums}
}

// List implements Index by scanning every configured directory for kind
// and returning one entry per regular file found.
func (d *DirIndex) List(ctx context.Context, kind Kind) ([]Entry, error) {
	var out []Entry
	for _, dir := range d.dirs[kind] {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("scan %s directory %s: %w", kind, dir, err)
		}
		for _, de := range entries {
			if de.IsDir() {
				continue
			}
			path := filepath.Join(dir, de.Name())
			out = append(out, Entry{
				Name:     de.Name(),
				Path:     path,
				Checksum: d.checksum(path),
			})
		}
	}
	return out, nil
}

// Resolve implements Index by scanning for a regular file named name
// within any of kind's configured directories.
func (d *DirIndex) Resolve(ctx context.Context, kind Kind, name string) (Entry, error) {
	for _, dir := range d.dirs[kind] {
		path := filepath.Join(dir, name)
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if info.IsDir() {
			continue
		}
		return Entry{Name: name, Path: path, Checksum: d.checksum(path)}, nil
	}
	return Entry{}, ErrNotFound
}

// Write implements Writer by placing data in the first configured
// directory for kind, replacing any previous file of the same name. Only
// the base of name is honored so an upload cannot escape the directory.
func (d *DirIndex) Write(ctx context.Context, kind Kind, name string, data []byte) (Entry, error) {
	dirs := d.dirs[kind]
	if len(dirs) == 0 {
		return Entry{}, fmt.Errorf("no %s directory configured", kind)
	}

	base := filepath.Base(name)
	if base == "." || base == string(filepath.Separator) {
		return Entry{}, fmt.Errorf("invalid %s name %q", kind, name)
	}
	path := filepath.Join(dirs[0], base)
	if err := file.AtomicReplaceFile(path, data, 0o644); err != nil {
		return Entry{}, fmt.Errorf("store %s %s: %w", kind, base, err)
	}

	sum := checksumOf(data)
	d.mu.Lock()
	d.checksums[path] = sum
	d.mu.Unlock()

	return Entry{Name: base, Path: path, Checksum: sum}, nil
}

// Recalculate implements Recalculator by re-reading every file of kind
// and re-deriving its checksum, refreshing the cache as it goes.
func (d *DirIndex) Recalculate(ctx context.Context, kind Kind) ([]Entry, error) {
	var out []Entry
	for _, dir := range d.dirs[kind] {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("scan %s directory %s: %w", kind, dir, err)
		}
		for _, de := range entries {
			if de.IsDir() {
				continue
			}
			path := filepath.Join(dir, de.Name())
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("read %s: %w", path, err)
			}
			sum := checksumOf(data)
			d.mu.Lock()
			d.checksums[path] = sum
			d.mu.Unlock()
			out = append(out, Entry{Name: de.Name(), Path: path, Checksum: sum})
		}
	}
	return out, nil
}

func (d *DirIndex) checksum(path string) string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.checksums[path]
}

func checksumOf(data []byte) string {
	return fmt.Sprintf("%08x", crc32.ChecksumIEEE(data))
}
