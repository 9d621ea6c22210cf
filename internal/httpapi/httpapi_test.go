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

package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexusgate/gateway/internal/health"
	"github.com/nexusgate/gateway/internal/llm"
	"github.com/nexusgate/gateway/internal/mcp"
	"github.com/nexusgate/gateway/internal/metrics"
	"github.com/nexusgate/gateway/internal/orchestrator"
	"github.com/nexusgate/gateway/internal/policy"
	"github.com/nexusgate/gateway/internal/registry"
	"github.com/nexusgate/gateway/internal/routing"
)

type stubProvider struct {
	tag  llm.ProviderTag
	text string
}

func (p *stubProvider) Tag() llm.ProviderTag { return p.tag }
func (p *stubProvider) Generate(ctx context.Context, req llm.Request) (*llm.Result, error) {
	return &llm.Result{Text: p.text}, nil
}

func buildServer(t *testing.T) (*Server, *registry.Registry) {
	reg := registry.New()
	llmReg := llm.NewRegistry()
	llmReg.Register(&stubProvider{tag: llm.ProviderOpenAI, text: `{"agents":[],"reasoning":"nothing registered"}`})
	adapter := llm.NewAdapter(llmReg)
	routingEngine := routing.New(adapter, reg)
	mcpClient := mcp.New(time.Second, func(agentID string) { reg.UpdateHealth(agentID, false) })
	orch := orchestrator.New(policy.New("", "", ""), reg, mcpClient, routingEngine, adapter)
	sweeper := health.New(reg, mcpClient)
	m := metrics.New(prometheus.NewRegistry())
	return New(orch, reg, sweeper, m, nil), reg
}

func TestHealthEndpointReportsOK(t *testing.T) {
	s, _ := buildServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestHealthEndpointReportsDraining(t *testing.T) {
	s, _ := buildServer(t)
	s.sweeper.Drain()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestRegisterAgentThenAppearsInProviders(t *testing.T) {
	s, reg := buildServer(t)

	body := `{"agentId":"a1","name":"hr","url":"http://hr.local","providers":[{"id":"openai","name":"OpenAI"}]}`
	req := httptest.NewRequest(http.MethodPost, "/api/agents/register", strings.NewReader(body))
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, 1, reg.Count())

	w2 := httptest.NewRecorder()
	req2 := httptest.NewRequest(http.MethodGet, "/api/llm-providers", nil)
	s.Router().ServeHTTP(w2, req2)
	assert.Contains(t, w2.Body.String(), "OpenAI")
}

func TestRegisterDuplicateNameRejected(t *testing.T) {
	s, _ := buildServer(t)
	body1 := `{"agentId":"a1","name":"hr","url":"http://hr.local"}`
	body2 := `{"agentId":"a2","name":"hr","url":"http://hr2.local"}`

	w1 := httptest.NewRecorder()
	s.Router().ServeHTTP(w1, httptest.NewRequest(http.MethodPost, "/api/agents/register", strings.NewReader(body1)))
	require.Equal(t, http.StatusOK, w1.Code)

	w2 := httptest.NewRecorder()
	s.Router().ServeHTTP(w2, httptest.NewRequest(http.MethodPost, "/api/agents/register", strings.NewReader(body2)))
	assert.Equal(t, http.StatusConflict, w2.Code)
}

func TestHeartbeatUnknownAgentNotFound(t *testing.T) {
	s, _ := buildServer(t)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/agents/ghost/heartbeat", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestQueryNonStreamingNoAgentsReturnsError(t *testing.T) {
	s, _ := buildServer(t)
	body := `{"query":"what's the capital of France","phase":"phase2"}`
	req := httptest.NewRequest(http.MethodPost, "/api/query", strings.NewReader(body))
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusInternalServerError, w.Code)
	var res orchestrator.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.False(t, res.Success)
	assert.Contains(t, res.ErrorMessage, "no agents available")
}

func TestQueryStreamingEmitsLineDelimitedEventsTerminatedByDone(t *testing.T) {
	s, _ := buildServer(t)
	body := `{"query":"what's the capital of France","phase":"phase2","streamThinking":true}`
	req := httptest.NewRequest(http.MethodPost, "/api/query", strings.NewReader(body))
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	scanner := bufio.NewScanner(bytes.NewReader(w.Body.Bytes()))
	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	require.NotEmpty(t, lines)
	assert.Equal(t, "[DONE]", lines[len(lines)-1])
}

func TestQueryMissingBodyIsBadRequest(t *testing.T) {
	s, _ := buildServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/query", strings.NewReader(`{}`))
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
