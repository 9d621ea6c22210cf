// Copyright 2025 NexusGate
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package llm

import (
	"sort"
	"sync"
)

// Registry holds the providers discovered at startup, keyed by tag.
// Grounded on orchestrator/llm/registry.go's provider map + RWMutex
// shape, trimmed down since this gateway has no persistent storage or
// licensing concern to gate providers against.
type Registry struct {
	mu        sync.RWMutex
	providers map[ProviderTag]Provider
	order     []ProviderTag // first-registered-wins iteration order
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[ProviderTag]Provider)}
}

// Register adds or replaces a provider under its own tag.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.providers[p.Tag()]; !exists {
		r.order = append(r.order, p.Tag())
	}
	r.providers[p.Tag()] = p
}

// Get returns the provider registered under tag, if any.
func (r *Registry) Get(tag ProviderTag) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[tag]
	return p, ok
}

// Default returns the first provider registered (bootstrap order
// matches config.Config.ConfiguredProviders' preference list).
func (r *Registry) Default() (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.order) == 0 {
		return nil, false
	}
	return r.providers[r.order[0]], true
}

// Tags returns every registered provider tag, sorted for determinism.
func (r *Registry) Tags() []ProviderTag {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tags := make([]ProviderTag, 0, len(r.providers))
	for t := range r.providers {
		tags = append(tags, t)
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i] < tags[j] })
	return tags
}

// Empty reports whether no providers are configured, so the caller
// can warn at startup. Queries against an empty registry fail in the
// adapter with an ErrUnsupported ProviderError; no HTTP 503 is produced.
func (r *Registry) Empty() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.providers) == 0
}
