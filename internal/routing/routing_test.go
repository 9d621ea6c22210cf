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

package routing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexusgate/gateway/internal/llm"
	"github.com/nexusgate/gateway/internal/registry"
)

type fakeProvider struct {
	tag  llm.ProviderTag
	text string
}

func (f *fakeProvider) Tag() llm.ProviderTag { return f.tag }
func (f *fakeProvider) Generate(ctx context.Context, req llm.Request) (*llm.Result, error) {
	return &llm.Result{Text: f.text}, nil
}

func newEngineWithLLMText(text string, reg *registry.Registry) *Engine {
	reg2 := reg
	if reg2 == nil {
		reg2 = registry.New()
	}
	r := llm.NewRegistry()
	r.Register(&fakeProvider{tag: llm.ProviderOpenAI, text: text})
	adapter := llm.NewAdapter(r)
	return New(adapter, reg2)
}

func registryWithHRAndIT() *registry.Registry {
	reg := registry.New()
	_ = reg.Register(registry.Record{AgentID: "a-hr", Name: "hr", Description: "HR", Healthy: true})
	_ = reg.Register(registry.Record{AgentID: "a-it", Name: "it", Description: "IT", Healthy: true})
	return reg
}

func TestRouteSingleAgent(t *testing.T) {
	reg := registryWithHRAndIT()
	e := newEngineWithLLMText(`{"agents":[{"agent":"hr","subQuery":"vacation days"}],"reasoning":"hr owns leave"}`, reg)

	strat, err := e.Route(context.Background(), Input{Query: "vacation days?", Candidates: reg.FindCandidates()})
	require.NoError(t, err)
	assert.Equal(t, StrategySingle, strat.Kind)
	require.Len(t, strat.Agents, 1)
	assert.Equal(t, "hr", strat.Agents[0].Agent)
}

func TestRouteParallelAgents(t *testing.T) {
	reg := registryWithHRAndIT()
	e := newEngineWithLLMText(`{"agents":[{"agent":"hr","subQuery":"manager"},{"agent":"it","subQuery":"tickets"}],"reasoning":"both"}`, reg)

	strat, err := e.Route(context.Background(), Input{Query: "manager and tickets?", Candidates: reg.FindCandidates()})
	require.NoError(t, err)
	assert.Equal(t, StrategyParallel, strat.Kind)
	assert.Len(t, strat.Agents, 2)
}

func TestRouteDeclinedOnEmptyAgents(t *testing.T) {
	reg := registryWithHRAndIT()
	e := newEngineWithLLMText(`{"agents":[],"reasoning":"out of scope"}`, reg)

	strat, err := e.Route(context.Background(), Input{Query: "what's the weather", Candidates: reg.FindCandidates()})
	require.NoError(t, err)
	assert.Equal(t, StrategyDeclined, strat.Kind)
	assert.Equal(t, "out of scope", strat.Reason)
}

func TestRouteUnknownAgentIsHardError(t *testing.T) {
	reg := registryWithHRAndIT()
	e := newEngineWithLLMText(`{"agents":[{"agent":"finance","subQuery":"budget"}],"reasoning":"x"}`, reg)

	_, err := e.Route(context.Background(), Input{Query: "budget?", Candidates: reg.FindCandidates()})
	require.Error(t, err)
}

func TestRouteStripsCodeFencesAndProse(t *testing.T) {
	reg := registryWithHRAndIT()
	fenced := "```json\n{\"agents\":[{\"agent\":\"hr\",\"subQuery\":\"q\"}],\"reasoning\":\"r\"}\n```"
	e := newEngineWithLLMText(fenced, reg)

	strat, err := e.Route(context.Background(), Input{Query: "q", Candidates: reg.FindCandidates()})
	require.NoError(t, err)
	assert.Equal(t, StrategySingle, strat.Kind)
}

func TestRouteSequentialWhenLLMFlagsDependency(t *testing.T) {
	reg := registryWithHRAndIT()
	e := newEngineWithLLMText(`{"agents":[{"agent":"hr","subQuery":"start date"},{"agent":"it","subQuery":"provision laptop for that start date"}],"sequential":true,"reasoning":"it needs hr's answer first"}`, reg)

	strat, err := e.Route(context.Background(), Input{Query: "onboard a new hire", Candidates: reg.FindCandidates()})
	require.NoError(t, err)
	assert.Equal(t, StrategySequential, strat.Kind)
	assert.True(t, strat.Sequence)
	require.Len(t, strat.Agents, 2)
	assert.Equal(t, "hr", strat.Agents[0].Agent)
	assert.Equal(t, "it", strat.Agents[1].Agent)
}

func TestRouteUnparseableOutputIsHardError(t *testing.T) {
	reg := registryWithHRAndIT()
	e := newEngineWithLLMText("not json at all", reg)

	_, err := e.Route(context.Background(), Input{Query: "q", Candidates: reg.FindCandidates()})
	require.Error(t, err)
}
