// Package catalog loads and validates the provision catalog, the YAML
// file that defines every contractual clause type the system checks
// for. The catalog is immutable once loaded; reloads swap in a whole
// new catalog between analyses.
package catalog

import (
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"clausecheck/internal/logging"
	"clausecheck/internal/types"
)

// =============================================================================
// CATALOG LOADING
// =============================================================================

// Catalog is one loaded, validated provision catalog.
type Catalog struct {
	Version    string
	Provisions []types.Provision
	Path       string
	LoadedAt   time.Time

	byID map[string]types.Provision
}

// catalogFile is the YAML shape of a catalog on disk.
type catalogFile struct {
	Version    string            `yaml:"version"`
	Provisions []types.Provision `yaml:"provisions"`
}

// Load reads and validates a catalog file.
func Load(path string) (*Catalog, error) {
	timer := logging.StartTimer(logging.CategoryCatalog, "Load")
	defer timer.Stop()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog %s: %w", path, err)
	}

	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse catalog %s: %w", path, err)
	}

	cat := &Catalog{
		Version:    file.Version,
		Provisions: file.Provisions,
		Path:       path,
		LoadedAt:   time.Now().UTC(),
		byID:       make(map[string]types.Provision, len(file.Provisions)),
	}
	if err := cat.validate(); err != nil {
		return nil, fmt.Errorf("invalid catalog %s: %w", path, err)
	}
	for _, p := range cat.Provisions {
		cat.byID[p.ID] = p
	}

	logging.Catalog("Loaded catalog %s: version=%s provisions=%d", path, cat.Version, len(cat.Provisions))
	return cat, nil
}

// validate checks the invariants every pipeline stage relies on.
func (c *Catalog) validate() error {
	if len(c.Provisions) == 0 {
		return fmt.Errorf("catalog has no provisions")
	}
	seen := make(map[string]bool, len(c.Provisions))
	for i, p := range c.Provisions {
		if p.ID == "" {
			return fmt.Errorf("provision %d has no id", i)
		}
		if seen[p.ID] {
			return fmt.Errorf("duplicate provision id %q", p.ID)
		}
		seen[p.ID] = true
		if !p.Priority.Valid() {
			return fmt.Errorf("provision %q has invalid priority %q", p.ID, p.Priority)
		}
		if p.CanonicalWording == "" {
			return fmt.Errorf("provision %q has no canonical wording", p.ID)
		}
		if p.Definition == "" {
			return fmt.Errorf("provision %q has no definition", p.ID)
		}
	}
	return nil
}

// Get returns the provision with the given id.
func (c *Catalog) Get(id string) (types.Provision, bool) {
	p, ok := c.byID[id]
	return p, ok
}

// Len returns the number of provisions.
func (c *Catalog) Len() int { return len(c.Provisions) }

// CountByPriority tallies provisions per tier.
func (c *Catalog) CountByPriority() map[types.Priority]int {
	out := make(map[types.Priority]int, 4)
	for _, p := range c.Provisions {
		out[p.Priority]++
	}
	return out
}

// =============================================================================
// CATALOG MANAGER
// =============================================================================

// Manager holds the live catalog and swaps it atomically on reload.
// Analyses snapshot the catalog once at start, so a reload never
// changes the provision set of a run already in flight.
type Manager struct {
	mu      sync.RWMutex
	current *Catalog
}

// NewManager loads the initial catalog from path.
func NewManager(path string) (*Manager, error) {
	cat, err := Load(path)
	if err != nil {
		return nil, err
	}
	return &Manager{current: cat}, nil
}

// Current returns the live catalog.
func (m *Manager) Current() *Catalog {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Reload loads the catalog from path again. On failure the previous
// catalog stays live; a broken edit must not take analyses down.
func (m *Manager) Reload() error {
	m.mu.RLock()
	path := m.current.Path
	m.mu.RUnlock()

	cat, err := Load(path)
	if err != nil {
		logging.Get(logging.CategoryCatalog).Error("Reload failed, keeping previous catalog: %v", err)
		return err
	}

	m.mu.Lock()
	old := m.current
	m.current = cat
	m.mu.Unlock()

	logging.Catalog("Catalog reloaded: %d -> %d provisions", old.Len(), cat.Len())
	return nil
}
