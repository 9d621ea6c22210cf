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

package orchestrator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexusgate/gateway/internal/llm"
	"github.com/nexusgate/gateway/internal/mcp"
	"github.com/nexusgate/gateway/internal/policy"
	"github.com/nexusgate/gateway/internal/registry"
	"github.com/nexusgate/gateway/internal/routing"
	"github.com/nexusgate/gateway/internal/streaming"
)

// scriptedProvider dispatches canned responses based on a keyword
// match against the incoming prompt, letting one fake LLM stand in for
// the distinct routing / synthesis / validation calls the pipeline
// makes in a single request.
type scriptedProvider struct {
	tag   llm.ProviderTag
	rules []struct {
		contains string
		text     string
	}
}

func (p *scriptedProvider) Tag() llm.ProviderTag { return p.tag }

func (p *scriptedProvider) Generate(ctx context.Context, req llm.Request) (*llm.Result, error) {
	for _, r := range p.rules {
		if strings.Contains(req.Prompt, r.contains) {
			return &llm.Result{Text: r.text, PromptTokens: 10, CompletionTokens: 5}, nil
		}
	}
	return &llm.Result{Text: req.Prompt}, nil
}

func (p *scriptedProvider) addRule(contains, text string) {
	p.rules = append(p.rules, struct {
		contains string
		text     string
	}{contains, text})
}

func passthroughValidation() (string, string) {
	return "Judge whether the response", `{"isRelevant": false, "keyInformation": "", "confidence": 0.5, "reasoning": "n/a"}`
}

func mcpAgentServer(t *testing.T, responseText string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req mcp.Request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		w.Header().Set("Content-Type", "application/json")
		if req.Method == "initialize" {
			_ = json.NewEncoder(w).Encode(mcp.Response{JSONRPC: "2.0", ID: req.ID, Result: json.RawMessage(`{"sessionId":"sess-1"}`)})
			return
		}
		_ = json.NewEncoder(w).Encode(mcp.Response{JSONRPC: "2.0", ID: req.ID, Result: json.RawMessage(`{"text":"` + responseText + `"}`)})
	}))
}

func buildOrchestrator(t *testing.T, provider *scriptedProvider, reg *registry.Registry, policyClient *policy.Client) *Orchestrator {
	llmReg := llm.NewRegistry()
	llmReg.Register(provider)
	adapter := llm.NewAdapter(llmReg)
	routingEngine := routing.New(adapter, reg)
	mcpClient := mcp.New(5*time.Second, func(agentID string) { reg.UpdateHealth(agentID, false) })
	return New(policyClient, reg, mcpClient, routingEngine, adapter)
}

func TestSingleAgentHappyPath(t *testing.T) {
	hrSrv := mcpAgentServer(t, "you have 15 vacation days")
	defer hrSrv.Close()
	itSrv := mcpAgentServer(t, "no open tickets")
	defer itSrv.Close()

	reg := registry.New()
	require.NoError(t, reg.Register(registry.Record{AgentID: "a-hr", Name: "hr", Description: "HR", URL: hrSrv.URL, Healthy: true}))
	require.NoError(t, reg.Register(registry.Record{AgentID: "a-it", Name: "it", Description: "IT", URL: itSrv.URL, Healthy: true}))

	provider := &scriptedProvider{tag: llm.ProviderOpenAI}
	provider.addRule("Available agents:", `{"agents":[{"agent":"hr","subQuery":"vacation days"}],"reasoning":"hr owns leave"}`)
	key, text := passthroughValidation()
	provider.addRule(key, text)

	o := buildOrchestrator(t, provider, reg, policy.New("", "", ""))

	var events []streaming.Event
	sink := func(e streaming.Event) { events = append(events, e) }

	res := o.Process(context.Background(), Request{
		Query:    "How many vacation days do I have?",
		Language: "en",
		Phase:    Phase2,
		UserContext: UserContext{Email: "a@b.com"},
	}, sink)

	require.True(t, res.Success)
	assert.Contains(t, res.Response, "15 vacation days")
	assert.Equal(t, "hr", res.AgentUsed)

	var thinkingCount, responseCount int
	for _, e := range events {
		switch e.Type {
		case streaming.EventThinking:
			thinkingCount++
		case streaming.EventResponse:
			responseCount++
		}
	}
	assert.GreaterOrEqual(t, thinkingCount, 2)
	assert.Equal(t, 1, responseCount)
	assert.Equal(t, streaming.EventResponse, events[len(events)-1].Type)
}

func TestDeclinedQueryNoDownstreamCall(t *testing.T) {
	reg := registry.New()
	require.NoError(t, reg.Register(registry.Record{AgentID: "a-hr", Name: "hr", Healthy: true}))

	provider := &scriptedProvider{tag: llm.ProviderOpenAI}
	provider.addRule("Available agents:", `{"agents":[],"reasoning":"out of scope for any registered agent"}`)

	o := buildOrchestrator(t, provider, reg, policy.New("", "", ""))

	res := o.Process(context.Background(), Request{Query: "what's the weather", Language: "en", Phase: Phase2}, nil)
	require.True(t, res.Success)
	assert.True(t, res.Declined)
	assert.Equal(t, "out of scope for any registered agent", res.Response)
}

func TestZeroHealthyAgentsReturnsErrorWithoutRouting(t *testing.T) {
	reg := registry.New()
	require.NoError(t, reg.Register(registry.Record{AgentID: "a-hr", Name: "hr", Healthy: false}))

	provider := &scriptedProvider{tag: llm.ProviderOpenAI}
	o := buildOrchestrator(t, provider, reg, policy.New("", "", ""))

	res := o.Process(context.Background(), Request{Query: "anything", Language: "en", Phase: Phase2}, nil)
	assert.False(t, res.Success)
	assert.Contains(t, res.ErrorMessage, "no agents available")
}

func TestPhase3InputBlockShortCircuits(t *testing.T) {
	policySrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := json.Marshal(map[string]interface{}{})
		_ = body
		var decoded map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&decoded)
		contents, _ := decoded["contents"].(map[string]interface{})
		prompt, _ := contents["prompt"].(string)

		w.Header().Set("Content-Type", "application/json")
		if strings.Contains(prompt, "SECRET-X") {
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"action": "block", "message": "blocked: sensitive token detected"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"action": "allow"})
	}))
	defer policySrv.Close()

	reg := registry.New()
	require.NoError(t, reg.Register(registry.Record{AgentID: "a-hr", Name: "hr", Healthy: true}))

	provider := &scriptedProvider{tag: llm.ProviderOpenAI}
	policyClient := policy.New(policySrv.URL, "tok", "profile")
	o := buildOrchestrator(t, provider, reg, policyClient)

	var events []streaming.Event
	sink := func(e streaming.Event) { events = append(events, e) }

	res := o.Process(context.Background(), Request{Query: "my SECRET-X please", Language: "en", Phase: Phase3, UserContext: UserContext{Email: "a@b.com"}}, sink)
	require.True(t, res.Success)
	assert.True(t, res.Blocked)
	assert.Equal(t, "blocked: sensitive token detected", res.Response)

	var checkpointCount int
	for _, e := range events {
		if e.Type == streaming.EventCheckpoint {
			checkpointCount++
			assert.Equal(t, 1, e.Number)
			assert.Equal(t, streaming.CheckpointBlocked, e.Status)
		}
	}
	assert.Equal(t, 1, checkpointCount)

	snap := res.Metadata["coordinator_tokens"]
	assert.Equal(t, 0, snap)
}

func TestCheckpoint2OutboundBlockSurfacesVisibleText(t *testing.T) {
	policySrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var decoded map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&decoded)
		contents, _ := decoded["contents"].(map[string]interface{})
		prompt, _ := contents["prompt"].(string)

		w.Header().Set("Content-Type", "application/json")
		if strings.Contains(prompt, "SECRET-Y") {
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"action": "block", "message": "blocked: outbound payload contains a secret"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"action": "allow"})
	}))
	defer policySrv.Close()

	hrSrv := mcpAgentServer(t, "should never be reached")
	defer hrSrv.Close()

	reg := registry.New()
	require.NoError(t, reg.Register(registry.Record{AgentID: "a-hr", Name: "hr", Description: "HR", URL: hrSrv.URL, Healthy: true}))

	provider := &scriptedProvider{tag: llm.ProviderOpenAI}
	provider.addRule("Available agents:", `{"agents":[{"agent":"hr","subQuery":"forward SECRET-Y to hr"}],"reasoning":"hr owns leave"}`)
	key, text := passthroughValidation()
	provider.addRule(key, text)

	policyClient := policy.New(policySrv.URL, "tok", "profile")
	o := buildOrchestrator(t, provider, reg, policyClient)

	res := o.Process(context.Background(), Request{Query: "ask hr something", Language: "en", Phase: Phase3}, nil)
	require.True(t, res.Success)
	assert.Contains(t, res.Response, "[security-blocked] blocked: outbound payload contains a secret")
}

func TestPersonalQueryGuardShortCircuitsWithoutIdentity(t *testing.T) {
	reg := registry.New()
	require.NoError(t, reg.Register(registry.Record{AgentID: "a-hr", Name: "hr", Healthy: true}))

	provider := &scriptedProvider{tag: llm.ProviderOpenAI}
	o := buildOrchestrator(t, provider, reg, policy.New("", "", ""))

	res := o.Process(context.Background(), Request{Query: "what is my salary", Language: "en", Phase: Phase2}, nil)
	require.True(t, res.Success)
	assert.Contains(t, res.Response, "sign in")
}
