// SPDX-License-Identifier: MIT

package models

import (
	"fmt"
	"sort"
)

// Config assembles a Registry. Zero values fall back to the built-in
// catalog, style map, and fallback model.
type Config struct {
	Catalog       []Model           `yaml:"catalog"`
	StyleDefaults map[string]string `yaml:"style_defaults"`
	Fallback      string            `yaml:"fallback"`
}

// Registry is the immutable model table plus the style selection policy.
type Registry struct {
	byID     map[string]Model
	styles   map[string]string
	fallback string
	ordered  []Model
}

// NewRegistry validates cfg and builds the registry. It fails fast on a
// fallback or style default that names an unknown model, so a bad config
// cannot surface later as a mid-pipeline lookup miss.
func NewRegistry(cfg Config) (*Registry, error) {
	catalog := cfg.Catalog
	if len(catalog) == 0 {
		catalog = DefaultCatalog()
	}
	styles := cfg.StyleDefaults
	if len(styles) == 0 {
		styles = DefaultStyleMap()
	}
	fallback := cfg.Fallback
	if fallback == "" {
		fallback = DefaultFallbackModel
	}

	r := &Registry{
		byID:     make(map[string]Model, len(catalog)),
		styles:   make(map[string]string, len(styles)),
		fallback: fallback,
	}
	for _, m := range catalog {
		if m.ID == "" {
			return nil, fmt.Errorf("models: catalog entry without id")
		}
		if _, dup := r.byID[m.ID]; dup {
			return nil, fmt.Errorf("models: duplicate catalog id %q", m.ID)
		}
		if m.CreditsPer5s <= 0 {
			return nil, fmt.Errorf("models: %s: credits_per_5s must be > 0", m.ID)
		}
		if m.MaxDurationSec <= 0 {
			return nil, fmt.Errorf("models: %s: max_duration must be > 0", m.ID)
		}
		r.byID[m.ID] = m
	}
	if _, ok := r.byID[fallback]; !ok {
		return nil, fmt.Errorf("models: fallback model %q not in catalog", fallback)
	}
	for style, id := range styles {
		if _, ok := r.byID[id]; !ok {
			return nil, fmt.Errorf("models: style %q maps to unknown model %q", style, id)
		}
		r.styles[style] = id
	}

	r.ordered = make([]Model, 0, len(r.byID))
	for _, m := range r.byID {
		r.ordered = append(r.ordered, m)
	}
	sort.Slice(r.ordered, func(i, j int) bool {
		a, b := r.ordered[i], r.ordered[j]
		if a.Tier.rank() != b.Tier.rank() {
			return a.Tier.rank() < b.Tier.rank()
		}
		if a.CreditsPer5s != b.CreditsPer5s {
			return a.CreditsPer5s < b.CreditsPer5s
		}
		return a.ID < b.ID
	})
	return r, nil
}

// Resolve picks the model for a submission: a known override wins, then the
// style default, then the fallback. It never fails; unknown styles ride the
// fallback model.
func (r *Registry) Resolve(styleKey, override string) Model {
	if override != "" {
		if m, ok := r.byID[override]; ok {
			return m
		}
	}
	if id, ok := r.styles[styleKey]; ok {
		return r.byID[id]
	}
	return r.byID[r.fallback]
}

// Describe returns the record for id.
func (r *Registry) Describe(id string) (Model, bool) {
	m, ok := r.byID[id]
	return m, ok
}

// Known reports whether id names a catalog entry.
func (r *Registry) Known(id string) bool {
	_, ok := r.byID[id]
	return ok
}

// Fallback returns the default-of-defaults model.
func (r *Registry) Fallback() Model {
	return r.byID[r.fallback]
}

// List returns the catalog ordered by tier, then cost, then id.
func (r *Registry) List() []Model {
	out := make([]Model, len(r.ordered))
	copy(out, r.ordered)
	return out
}

// StyleDefaults returns a copy of the style-to-model mapping.
func (r *Registry) StyleDefaults() map[string]string {
	out := make(map[string]string, len(r.styles))
	for k, v := range r.styles {
		out[k] = v
	}
	return out
}
