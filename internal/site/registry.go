// internal/site/registry.go
package site

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/valpere/SiteHarvester/internal/utils"
)

// ErrUnknownSite is returned for ids missing from the registry
var ErrUnknownSite = errors.New("unknown site")

// File is the on-disk layout of a sites file
type File struct {
	Sites []Definition `yaml:"sites"`
}

// ParseDefinitions decodes a sites file and validates every definition
func ParseDefinitions(data []byte) ([]Definition, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse sites file: %w", err)
	}
	seen := make(map[string]bool, len(f.Sites))
	for i := range f.Sites {
		applyDefaults(&f.Sites[i])
		if err := f.Sites[i].Validate(); err != nil {
			return nil, err
		}
		if seen[f.Sites[i].ID] {
			return nil, fmt.Errorf("duplicate site id %q", f.Sites[i].ID)
		}
		seen[f.Sites[i].ID] = true
	}
	return f.Sites, nil
}

// LoadDefinitions reads and parses a sites file with ${ENV} expansion
func LoadDefinitions(path string) ([]Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read sites file %s: %w", path, err)
	}
	return ParseDefinitions([]byte(utils.ExpandEnv(string(data))))
}

// Registry maps site ids to adapters. It is safe for concurrent use and can
// be swapped atomically when the sites file changes.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register adds an adapter; ids must be unique
func (r *Registry) Register(a Adapter) error {
	id := a.Definition().ID
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.adapters[id]; exists {
		return fmt.Errorf("site %q already registered", id)
	}
	r.adapters[id] = a
	return nil
}

// Replace swaps the whole adapter set. Runs already holding an adapter keep it.
func (r *Registry) Replace(adapters []Adapter) {
	next := make(map[string]Adapter, len(adapters))
	for _, a := range adapters {
		next[a.Definition().ID] = a
	}
	r.mu.Lock()
	r.adapters = next
	r.mu.Unlock()
}

// Get returns the adapter for id
func (r *Registry) Get(id string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[id]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownSite, id)
	}
	return a, nil
}

// IDs returns the registered site ids in order
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.adapters))
	for id := range r.adapters {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// LoadFile builds selector adapters from a sites file and replaces the
// registry contents. On error the previous contents are kept.
func (r *Registry) LoadFile(path string) error {
	defs, err := LoadDefinitions(path)
	if err != nil {
		return err
	}
	adapters := make([]Adapter, 0, len(defs))
	for _, def := range defs {
		a, err := NewSelectorAdapter(def)
		if err != nil {
			return err
		}
		adapters = append(adapters, a)
	}
	r.Replace(adapters)
	return nil
}
