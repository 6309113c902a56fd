package layout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// FileStore is a Store backed by a directory of layout JSON files, one
// file per layout named "<id>.json".
type FileStore struct {
	dir string
}

// NewFileStore creates a file-backed layout store rooted at dir.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

// GetLayout implements Store. The layout id doubles as the file name, so
// ids containing path separators are rejected outright.
func (s *FileStore) GetLayout(_ context.Context, id string) (*Definition, error) {
	if id == "" || strings.ContainsAny(id, `/\`) || id == ".." {
		return nil, ErrLayoutNotFound
	}
	path := filepath.Join(s.dir, id+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrLayoutNotFound
		}
		return nil, fmt.Errorf("layout: read %s: %w", path, err)
	}
	var def Definition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("layout: parse %s: %w", path, err)
	}
	if def.ID == "" {
		def.ID = id
	}
	return &def, nil
}

// List returns the ids of all layouts in the store directory.
func (s *FileStore) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("layout: list %s: %w", s.dir, err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(e.Name(), ".json"))
	}
	return ids, nil
}

// DirMedia is a MediaStore backed by a flat directory of asset files.
type DirMedia struct {
	dir string
}

// NewDirMedia creates a directory-backed media store.
func NewDirMedia(dir string) *DirMedia {
	return &DirMedia{dir: dir}
}

// GetAsset implements MediaStore. Names with path separators are
// rejected so a layout cannot read outside the asset directory.
func (m *DirMedia) GetAsset(_ context.Context, name string) ([]byte, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || name == ".." {
		return nil, ErrAssetNotFound
	}
	data, err := os.ReadFile(filepath.Join(m.dir, name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrAssetNotFound
		}
		return nil, fmt.Errorf("layout: read asset %s: %w", name, err)
	}
	return data, nil
}
