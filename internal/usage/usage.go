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

// Package usage implements request-scoped token accounting and LLM
// pricing lookups, grounded on common/usage/types.go's event shape and
// common/usage/pricing.go's cents-per-1K-tokens lookup table. The
// counters here live on a per-request Counters value rather than
// module-level state, so concurrent queries never share or race on
// totals.
package usage

import "sync"

// Counters accumulates token usage for exactly one user query. The
// caller must create a fresh Counters per request; sharing one across
// concurrent queries would let their totals race and bleed into each
// other.
type Counters struct {
	mu                sync.Mutex
	coordinatorTokens int
	agentTokens       int
}

// NewCounters returns a zeroed, request-scoped Counters.
func NewCounters() *Counters { return &Counters{} }

// AddCoordinatorTokens accumulates tokens spent on coordinator-side LLM
// calls (translation, routing, synthesis, validation).
func (c *Counters) AddCoordinatorTokens(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.coordinatorTokens += n
}

// AddAgentTokens accumulates tokens reported by downstream agent calls.
func (c *Counters) AddAgentTokens(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.agentTokens += n
}

// Snapshot is an immutable view suitable for attaching to response
// metadata. total_tokens == coordinator_tokens + agent_tokens always
// holds.
type Snapshot struct {
	CoordinatorTokens int `json:"coordinator_tokens"`
	AgentTokens       int `json:"agent_tokens"`
	TotalTokens       int `json:"total_tokens"`
}

// Snapshot returns the current totals.
func (c *Counters) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		CoordinatorTokens: c.coordinatorTokens,
		AgentTokens:       c.agentTokens,
		TotalTokens:       c.coordinatorTokens + c.agentTokens,
	}
}

// Pricing holds per-1K-token cost in cents for prompt and completion
// tokens, a cents-denominated representation that avoids float
// precision loss.
type Pricing struct {
	PromptCentsPer1K     int
	CompletionCentsPer1K int
}

var providerPricing = map[string]Pricing{
	"openai-gpt-4":                  {3000, 6000},
	"openai-gpt-4-turbo":            {1000, 3000},
	"openai-gpt-3.5-turbo":          {50, 150},
	"anthropic-claude-3-opus":       {1500, 7500},
	"anthropic-claude-3-sonnet":     {300, 1500},
	"anthropic-claude-3-haiku":      {25, 125},
	"anthropic-claude-3.5-sonnet":   {300, 1500},
	"gcp-gemini-1.5-pro":            {125, 500},
	"gcp-gemini-1.5-flash":          {8, 30},
	"aws-anthropic.claude-3-sonnet": {300, 1500},
	"default":                       {1000, 3000},
}

// CalculateCostCents returns the estimated cost, in integer cents, of
// an LLM call for provider/model with the given token counts.
func CalculateCostCents(provider, model string, promptTokens, completionTokens int) int {
	pricing, ok := providerPricing[provider+"-"+model]
	if !ok {
		pricing = providerPricing["default"]
	}
	return (promptTokens*pricing.PromptCentsPer1K)/1000 + (completionTokens*pricing.CompletionCentsPer1K)/1000
}
