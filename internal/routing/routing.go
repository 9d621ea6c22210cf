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

// Package routing implements the routing engine: an LLM-driven
// selection among healthy agents that emits a routing strategy. The
// defensive JSON parsing here follows the same fmt.Errorf wrapping and
// structured logging (via internal/logger) used throughout the rest of
// the gateway.
package routing

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nexusgate/gateway/internal/llm"
	"github.com/nexusgate/gateway/internal/logger"
	"github.com/nexusgate/gateway/internal/registry"
)

// StrategyKind tags which shape a Strategy holds.
type StrategyKind string

const (
	StrategySingle     StrategyKind = "single"
	StrategyParallel   StrategyKind = "parallel"
	StrategySequential StrategyKind = "sequential"
	StrategyDeclined   StrategyKind = "declined"
)

// AgentDispatch is one (agentName, subQuery) pair in a strategy.
type AgentDispatch struct {
	Agent    string
	SubQuery string
}

// Strategy is the tagged-variant routing decision.
type Strategy struct {
	Kind     StrategyKind
	Agents   []AgentDispatch // single/parallel/sequential
	Reason   string          // declined
	Sequence bool            // true when dispatch must be serial (sequential)
}

// Turn is one user/assistant exchange passed as conversation history.
type Turn struct {
	Role    string
	Content string
}

// Input bundles everything the routing prompt needs.
type Input struct {
	Query       string
	Candidates  []registry.Record
	History     []Turn
	Provider    llm.ProviderTag
}

type llmRoutingOutput struct {
	Agents []struct {
		Agent    string `json:"agent"`
		SubQuery string `json:"subQuery"`
	} `json:"agents"`
	Sequential bool   `json:"sequential"`
	Reasoning  string `json:"reasoning"`
}

// Engine drives the LLM-assisted routing algorithm.
type Engine struct {
	adapter *llm.Adapter
	reg     *registry.Registry
	log     *logger.Logger
}

// New builds a routing Engine.
func New(adapter *llm.Adapter, reg *registry.Registry) *Engine {
	return &Engine{adapter: adapter, reg: reg, log: logger.New("routing-engine")}
}

// Route selects a dispatch strategy for in.Query among in.Candidates.
func (e *Engine) Route(ctx context.Context, in Input) (*Strategy, error) {
	prompt := buildRoutingPrompt(in)

	res, err := e.adapter.Generate(ctx, llm.Request{
		Prompt:      prompt,
		System:      "Respond with a single JSON object and nothing else. No markdown, no prose, no code fences.",
		Temperature: 0,
		MaxTokens:   200,
		Provider:    in.Provider,
	})
	if err != nil {
		return nil, fmt.Errorf("routing: llm call failed: %w", err)
	}

	parsed, err := parseRoutingOutput(res.Text)
	if err != nil {
		e.log.ErrorWithErr("", "routing: unparseable LLM output", err, map[string]interface{}{"raw": res.Text})
		return nil, fmt.Errorf("routing: %w", err)
	}

	if len(parsed.Agents) == 0 {
		return &Strategy{Kind: StrategyDeclined, Reason: parsed.Reasoning}, nil
	}

	dispatches := make([]AgentDispatch, 0, len(parsed.Agents))
	for _, a := range parsed.Agents {
		rec, ok := e.reg.FindByName(a.Agent)
		if !ok || !rec.Healthy {
			return nil, fmt.Errorf("routing: unknown agent %q selected by LLM", a.Agent)
		}
		dispatches = append(dispatches, AgentDispatch{Agent: rec.Name, SubQuery: a.SubQuery})
	}

	if len(dispatches) == 1 {
		return &Strategy{Kind: StrategySingle, Agents: dispatches}, nil
	}
	if parsed.Sequential {
		return &Strategy{Kind: StrategySequential, Agents: dispatches, Sequence: true}, nil
	}
	return &Strategy{Kind: StrategyParallel, Agents: dispatches}, nil
}

func buildRoutingPrompt(in Input) string {
	var b strings.Builder
	b.WriteString("Available agents:\n")
	for _, c := range in.Candidates {
		fmt.Fprintf(&b, "- name: %s\n  description: %s\n", c.Name, c.Description)
		for _, cap := range c.Capabilities {
			fmt.Fprintf(&b, "  - capability: %s\n", cap)
		}
	}
	if len(in.History) > 0 {
		b.WriteString("\nRecent conversation:\n")
		for _, t := range in.History {
			fmt.Fprintf(&b, "%s: %s\n", t.Role, t.Content)
		}
	}
	fmt.Fprintf(&b, "\nUser query: %s\n\n", in.Query)
	b.WriteString(`Select the agents best suited to answer this query. Respond with exactly one JSON object of the shape {"agents":[{"agent":"<name>","subQuery":"<text>"}],"sequential":<bool>,"reasoning":"<why>"}. Set "sequential" to true only when a later agent's subQuery depends on an earlier agent's answer (e.g. "book a flight, then reserve a hotel for those dates"); otherwise set it to false so independent agents run in parallel. If no agent is suitable, return an empty agents array.`)
	return b.String()
}

// parseRoutingOutput strips code fences and locates the outermost
// {...} before decoding JSON. It parses only the adapter's Text; it has
// no thinking field of its own to fall back to.
func parseRoutingOutput(raw string) (*llmRoutingOutput, error) {
	text := stripCodeFences(raw)
	text = extractOutermostObject(text)
	if text == "" {
		return nil, fmt.Errorf("no JSON object found in routing output")
	}

	var out llmRoutingOutput
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return nil, fmt.Errorf("malformed routing JSON: %w", err)
	}
	return &out, nil
}

func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(s, "```")
	}
	return strings.TrimSpace(s)
}

func extractOutermostObject(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end == -1 || end < start {
		return ""
	}
	return s[start : end+1]
}
