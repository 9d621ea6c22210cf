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

package usage

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCountersTotalIsSumOfParts(t *testing.T) {
	c := NewCounters()
	c.AddCoordinatorTokens(100)
	c.AddAgentTokens(250)

	snap := c.Snapshot()
	assert.Equal(t, 100, snap.CoordinatorTokens)
	assert.Equal(t, 250, snap.AgentTokens)
	assert.Equal(t, 350, snap.TotalTokens)
}

func TestCountersAreIndependentPerRequest(t *testing.T) {
	a := NewCounters()
	b := NewCounters()
	a.AddCoordinatorTokens(10)
	assert.Equal(t, 0, b.Snapshot().TotalTokens)
}

func TestCountersConcurrentAddsAreSafe(t *testing.T) {
	c := NewCounters()
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.AddAgentTokens(1)
		}()
	}
	wg.Wait()
	assert.Equal(t, 100, c.Snapshot().AgentTokens)
}

func TestCalculateCostCentsFallsBackToDefault(t *testing.T) {
	cost := CalculateCostCents("unknown-provider", "unknown-model", 1000, 1000)
	assert.Equal(t, 4000, cost)
}

func TestCalculateCostCentsKnownModel(t *testing.T) {
	cost := CalculateCostCents("anthropic", "claude-3-haiku", 1000, 1000)
	assert.Equal(t, 150, cost)
}
