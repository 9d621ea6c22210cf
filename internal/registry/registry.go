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

// Package registry implements an in-memory, thread-safe map of
// registered downstream agents, their capabilities, health, and
// advertised LLM providers. Grounded on the reader/writer-mutex
// discipline of orchestrator/agent_registry.go, trimmed to a dynamic
// register/unregister/heartbeat surface in place of a file-backed YAML
// loader.
package registry

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// LLMProvider is advertised metadata about a provider an agent can
// speak to, supplied at registration time.
type LLMProvider struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Record is a single registered agent.
type Record struct {
	AgentID      string        `json:"agentId"`
	Name         string        `json:"name"`
	Description  string        `json:"description,omitempty"`
	URL          string        `json:"url"`
	Capabilities []string      `json:"capabilities,omitempty"`
	Providers    []LLMProvider `json:"providers,omitempty"`
	Healthy      bool          `json:"healthy"`
	LastSeen     time.Time     `json:"lastSeen"`
}

// Registry is the shared, concurrency-safe agent store. The primary
// map and capability index are always mutated together under mu, so
// the capability index stays the exact inverse of the per-agent
// capability lists.
type Registry struct {
	mu           sync.RWMutex
	agents       map[string]*Record             // agentId -> record
	byName       map[string]string              // lowercased display name -> agentId
	capabilities map[string]map[string]struct{} // capability -> set of agentId
	order        []string                       // registration order, for the "first registered" default
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		agents:       make(map[string]*Record),
		byName:       make(map[string]string),
		capabilities: make(map[string]map[string]struct{}),
	}
}

// Register inserts or replaces a record. A second registration under
// an existing *different* agentId with a display name already taken
// by another agent is rejected, since the LLM's name-based selection
// would otherwise become ambiguous. Registering the same agentId again
// is idempotent replacement.
func (r *Registry) Register(rec Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	lowerName := strings.ToLower(rec.Name)
	if existingID, taken := r.byName[lowerName]; taken && existingID != rec.AgentID {
		return fmt.Errorf("registry: display name %q already registered to agent %q", rec.Name, existingID)
	}

	if existing, ok := r.agents[rec.AgentID]; ok {
		r.removeFromCapabilityIndex(rec.AgentID, existing.Capabilities)
		delete(r.byName, strings.ToLower(existing.Name))
	} else {
		r.order = append(r.order, rec.AgentID)
	}

	if rec.LastSeen.IsZero() {
		rec.LastSeen = time.Now()
	}
	copyRec := rec
	r.agents[rec.AgentID] = &copyRec
	r.byName[lowerName] = rec.AgentID
	r.addToCapabilityIndex(rec.AgentID, rec.Capabilities)

	return nil
}

func (r *Registry) addToCapabilityIndex(agentID string, caps []string) {
	for _, c := range caps {
		set, ok := r.capabilities[c]
		if !ok {
			set = make(map[string]struct{})
			r.capabilities[c] = set
		}
		set[agentID] = struct{}{}
	}
}

func (r *Registry) removeFromCapabilityIndex(agentID string, caps []string) {
	for _, c := range caps {
		if set, ok := r.capabilities[c]; ok {
			delete(set, agentID)
			if len(set) == 0 {
				delete(r.capabilities, c)
			}
		}
	}
}

// Unregister removes an agent from the primary map and every
// capability set it belonged to.
func (r *Registry) Unregister(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.agents[agentID]
	if !ok {
		return
	}
	r.removeFromCapabilityIndex(agentID, rec.Capabilities)
	delete(r.byName, strings.ToLower(rec.Name))
	delete(r.agents, agentID)
	for i, id := range r.order {
		if id == agentID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// UpdateHealth mutates an agent's health flag and last-seen timestamp.
// A no-op when the agent is unknown.
func (r *Registry) UpdateHealth(agentID string, healthy bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.agents[agentID]; ok {
		rec.Healthy = healthy
		rec.LastSeen = time.Now()
	}
}

// Heartbeat refreshes last-seen and marks the agent healthy.
func (r *Registry) Heartbeat(agentID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.agents[agentID]
	if !ok {
		return false
	}
	rec.Healthy = true
	rec.LastSeen = time.Now()
	return true
}

// FindCandidates returns every healthy agent; it performs no keyword
// filtering — that is the routing engine's job. If none are healthy,
// falls back to an agent literally named "general", else the first
// ever registered, else an empty list.
func (r *Registry) FindCandidates() []Record {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var healthy []Record
	for _, id := range r.order {
		if rec, ok := r.agents[id]; ok && rec.Healthy {
			healthy = append(healthy, *rec)
		}
	}
	if len(healthy) > 0 {
		return healthy
	}

	if id, ok := r.byName["general"]; ok {
		if rec, ok := r.agents[id]; ok {
			return []Record{*rec}
		}
	}
	if len(r.order) > 0 {
		if rec, ok := r.agents[r.order[0]]; ok {
			return []Record{*rec}
		}
	}
	return nil
}

// HasHealthyAgent reports whether at least one agent is currently
// healthy, independent of FindCandidates's last-resort fallback chain.
func (r *Registry) HasHealthyAgent() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, rec := range r.agents {
		if rec.Healthy {
			return true
		}
	}
	return false
}

// FindByName performs a case-insensitive exact match on display name.
func (r *Registry) FindByName(name string) (Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byName[strings.ToLower(name)]
	if !ok {
		return Record{}, false
	}
	rec, ok := r.agents[id]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// Get returns a record by agentId.
func (r *Registry) Get(agentID string) (Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.agents[agentID]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// GetAdvertisedProviders returns the union of provider metadata across
// all agents, deduplicated by provider id, first occurrence wins.
func (r *Registry) GetAdvertisedProviders() []LLMProvider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{})
	var out []LLMProvider
	for _, id := range r.order {
		rec, ok := r.agents[id]
		if !ok {
			continue
		}
		for _, p := range rec.Providers {
			if _, dup := seen[p.ID]; dup {
				continue
			}
			seen[p.ID] = struct{}{}
			out = append(out, p)
		}
	}
	return out
}

// Count returns the total number of registered agents, healthy or not.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}

// All returns every registered record, in registration order. Used by
// the health sweep.
func (r *Registry) All() []Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Record, 0, len(r.order))
	for _, id := range r.order {
		if rec, ok := r.agents[id]; ok {
			out = append(out, *rec)
		}
	}
	return out
}
