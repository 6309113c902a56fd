package layout

import (
	"context"
	"errors"
	"sync"
)

// Store errors.
var (
	// ErrLayoutNotFound is returned when a layout id is unknown.
	ErrLayoutNotFound = errors.New("layout: layout not found")

	// ErrAssetNotFound is returned when a media asset name is unknown.
	ErrAssetNotFound = errors.New("layout: asset not found")
)

// Store resolves layout definitions by id. Implementations are external
// collaborators; the distribution pipeline only reads from them.
type Store interface {
	GetLayout(ctx context.Context, id string) (*Definition, error)
}

// DataProvider fetches the current key→value data for one data source.
// Each source may fail independently of the others.
type DataProvider interface {
	FetchData(ctx context.Context, ref DataSourceRef) (map[string]string, error)
}

// MediaStore loads binary asset bytes by name.
type MediaStore interface {
	GetAsset(ctx context.Context, name string) ([]byte, error)
}

// MemoryStore is an in-memory Store, used in tests and as the default
// when no layout directory is configured.
type MemoryStore struct {
	mu      sync.RWMutex
	layouts map[string]*Definition
}

// NewMemoryStore creates an empty in-memory layout store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{layouts: make(map[string]*Definition)}
}

// Put stores or replaces a layout.
func (s *MemoryStore) Put(def *Definition) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.layouts[def.ID] = def
}

// GetLayout implements Store. The returned definition is a deep copy so
// callers can mutate it freely.
func (s *MemoryStore) GetLayout(_ context.Context, id string) (*Definition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	def, ok := s.layouts[id]
	if !ok {
		return nil, ErrLayoutNotFound
	}
	return def.Clone(), nil
}

// MemoryMedia is an in-memory MediaStore.
type MemoryMedia struct {
	mu     sync.RWMutex
	assets map[string][]byte
}

// NewMemoryMedia creates an empty in-memory media store.
func NewMemoryMedia() *MemoryMedia {
	return &MemoryMedia{assets: make(map[string][]byte)}
}

// Put stores or replaces an asset.
func (m *MemoryMedia) Put(name string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assets[name] = data
}

// GetAsset implements MediaStore.
func (m *MemoryMedia) GetAsset(_ context.Context, name string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.assets[name]
	if !ok {
		return nil, ErrAssetNotFound
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// StaticProvider is a DataProvider backed by fixed per-source maps,
// used in tests and for config-declared static feeds.
type StaticProvider struct {
	mu      sync.RWMutex
	sources map[string]map[string]string
}

// NewStaticProvider creates an empty static data provider.
func NewStaticProvider() *StaticProvider {
	return &StaticProvider{sources: make(map[string]map[string]string)}
}

// Set stores the data for a named source.
func (p *StaticProvider) Set(name string, data map[string]string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sources[name] = data
}

// FetchData implements DataProvider. Unknown sources yield an empty map
// rather than an error: static feeds have nothing to fail on.
func (p *StaticProvider) FetchData(_ context.Context, ref DataSourceRef) (map[string]string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	data := p.sources[ref.Name]
	out := make(map[string]string, len(data))
	for k, v := range data {
		out[k] = v
	}
	return out, nil
}
