// Package exchange maps caller-facing exchange names to stored identifiers
// and stored identifiers to public exchange codes.
package exchange

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strconv"

	"gopkg.in/yaml.v3"
)

//go:embed exchanges.yaml
var defaultRegistry []byte

// Exchange is one entry of the registry.
type Exchange struct {
	Name string `yaml:"name"`
	ID   int    `yaml:"id"`
	Code string `yaml:"code"`
}

type registryFile struct {
	Exchanges []Exchange `yaml:"exchanges"`
}

// Registry is an immutable name/id/code lookup table.
type Registry struct {
	byName map[string]Exchange
	byID   map[int]Exchange
}

// Default returns the built-in registry.
func Default() *Registry {
	r, err := Parse(defaultRegistry)
	if err != nil {
		panic(fmt.Sprintf("embedded exchange registry: %v", err))
	}
	return r
}

// Load reads a registry from a YAML file. An empty path yields the default.
func Load(path string) (*Registry, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path) //nolint:gosec // path is operator-controlled
	if err != nil {
		return nil, fmt.Errorf("read exchange registry: %w", err)
	}
	return Parse(data)
}

// Parse builds a registry from YAML. Names and ids must be unique.
func Parse(data []byte) (*Registry, error) {
	var f registryFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse exchange registry: %w", err)
	}
	if len(f.Exchanges) == 0 {
		return nil, fmt.Errorf("exchange registry is empty")
	}
	return New(f.Exchanges)
}

// New builds a registry from explicit entries.
func New(entries []Exchange) (*Registry, error) {
	r := &Registry{
		byName: make(map[string]Exchange, len(entries)),
		byID:   make(map[int]Exchange, len(entries)),
	}
	for _, e := range entries {
		if e.Name == "" || e.Code == "" {
			return nil, fmt.Errorf("exchange %d: name and code are required", e.ID)
		}
		if _, dup := r.byName[e.Name]; dup {
			return nil, fmt.Errorf("duplicate exchange name %q", e.Name)
		}
		if _, dup := r.byID[e.ID]; dup {
			return nil, fmt.Errorf("duplicate exchange id %d", e.ID)
		}
		r.byName[e.Name] = e
		r.byID[e.ID] = e
	}
	return r, nil
}

// Resolve maps names to ids. Unknown names are returned separately and
// otherwise ignored. The ids are sorted.
func (r *Registry) Resolve(names []string) (ids []int, unknown []string) {
	for _, n := range names {
		e, ok := r.byName[n]
		if !ok {
			unknown = append(unknown, n)
			continue
		}
		ids = append(ids, e.ID)
	}
	sort.Ints(ids)
	return ids, unknown
}

// Code returns the public code for an id, or the id itself when unknown.
func (r *Registry) Code(id int) string {
	if e, ok := r.byID[id]; ok {
		return e.Code
	}
	return strconv.Itoa(id)
}

// Entries returns all exchanges ordered by id.
func (r *Registry) Entries() []Exchange {
	out := make([]Exchange, 0, len(r.byID))
	for _, e := range r.byID {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
