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

// Package orchestrator implements the top-level per-query pipeline:
// translate, route, dispatch, synthesize, validate, respond,
// interleaved with the four security checkpoints. Grounded on the
// staged, sequentially-logged shape of orchestrator/run.go's
// processRequestHandler, but every counter and checkpoint log here
// lives on a request-scoped value rather than module-level state, so
// concurrent queries never interleave each other's bookkeeping.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nexusgate/gateway/internal/llm"
	"github.com/nexusgate/gateway/internal/logger"
	"github.com/nexusgate/gateway/internal/mcp"
	"github.com/nexusgate/gateway/internal/policy"
	"github.com/nexusgate/gateway/internal/registry"
	"github.com/nexusgate/gateway/internal/routing"
	"github.com/nexusgate/gateway/internal/streaming"
	"github.com/nexusgate/gateway/internal/usage"
)

var firstPersonPronoun = regexp.MustCompile(`(?i)\b(i|me|my|mine|myself)\b`)

// Orchestrator wires together every other component into the
// per-query pipeline.
type Orchestrator struct {
	policy    *policy.Client
	registry  *registry.Registry
	mcpClient *mcp.Client
	routing   *routing.Engine
	adapter   *llm.Adapter
	log       *logger.Logger
}

// New builds an Orchestrator from its collaborators.
func New(policyClient *policy.Client, reg *registry.Registry, mcpClient *mcp.Client, routingEngine *routing.Engine, adapter *llm.Adapter) *Orchestrator {
	return &Orchestrator{
		policy:    policyClient,
		registry:  reg,
		mcpClient: mcpClient,
		routing:   routingEngine,
		adapter:   adapter,
		log:       logger.New("orchestrator"),
	}
}

// requestState is the request-scoped mutable state for a single query,
// so concurrent queries never share or race on counters and checkpoints.
type requestState struct {
	tokens      *usage.Counters
	checkpoints []CheckpointEntry
	mu          sync.Mutex
}

func (s *requestState) addCheckpoint(e CheckpointEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoints = append(s.checkpoints, e)
}

// Process runs one query through the full pipeline, emitting thinking,
// checkpoint, and a single terminal response event (an error event when
// the query fails) through sink, then
// returns the terminal Result. sink may be a no-op for non-streaming
// callers; the Result is authoritative either way.
func (o *Orchestrator) Process(ctx context.Context, req Request, sink streaming.Sink) Result {
	if sink == nil {
		sink = func(streaming.Event) {}
	}

	state := &requestState{tokens: usage.NewCounters()}
	trID := uuid.NewString()
	checkpointsEnabled := req.Phase == Phase3

	sink(streaming.Thinking("received query"))

	// Step 2: personal-query guard.
	if firstPersonPronoun.MatchString(req.Query) && !req.UserContext.HasIdentity() {
		msg := "I can't answer personal questions without knowing who you are. Please sign in or provide your identity."
		return o.finish(sink, state, Result{
			Success:  true,
			Response: msg,
			Metadata: o.metadata(state),
		})
	}

	policyCtx := policy.Context{
		Language: req.Language,
		AppName:  "nexusgate",
		AppUser:  req.UserContext.Email,
		AIModel:  string(req.LLMProvider),
		TrID:     trID,
	}

	workingQuery := req.Query

	// Step 3: checkpoint 1 — input.
	if checkpointsEnabled {
		cp, err := o.runCheckpoint(ctx, state, 1, "input", workingQuery, func() (*policy.Result, error) {
			return o.policy.AnalyzePrompt(ctx, workingQuery, policyCtx)
		})
		if err != nil {
			return o.finish(sink, state, o.errorResult(fmt.Sprintf("policy check failed: %v", err)))
		}
		sink(cp.event)
		if !cp.result.Approved {
			return o.finish(sink, state, Result{
				Success:  true,
				Blocked:  true,
				Response: cp.result.Message,
				Metadata: o.metadata(state),
			})
		}
		if cp.result.MaskedPromptData != "" {
			workingQuery = cp.result.MaskedPromptData
		}
	}

	// Zero healthy agents is checked before any further LLM spend: no
	// point translating or routing a query nothing can answer. Checked
	// against HasHealthyAgent rather than FindCandidates's length, since
	// FindCandidates falls back to an unhealthy or "general" agent once
	// anything has ever registered.
	if !o.registry.HasHealthyAgent() {
		return o.finish(sink, state, o.errorResult("no agents available"))
	}
	candidates := o.registry.FindCandidates()

	// Step 4: translate to English.
	translatedQuery := workingQuery
	if req.Language != "" && req.Language != "en" {
		sink(streaming.Thinking("translating query to English"))
		if translated, err := o.translate(ctx, state, workingQuery, req.Language, "en", req.LLMProvider); err == nil {
			translatedQuery = translated
		} else {
			o.log.ErrorWithErr(trID, "translation failed, proceeding with original text", err, nil)
		}
	}

	// Step 5: route.
	sink(streaming.Thinking("selecting the best agent for this query"))
	strategy, err := o.routing.Route(ctx, routing.Input{
		Query:      translatedQuery,
		Candidates: candidates,
		History:    toRoutingTurns(req.UserContext.History),
		Provider:   req.LLMProvider,
	})
	if err != nil {
		return o.finish(sink, state, o.errorResult(fmt.Sprintf("routing failed: %v", err)))
	}
	if strategy.Kind == routing.StrategyDeclined {
		return o.finish(sink, state, Result{
			Success:         true,
			Declined:        true,
			Response:        strategy.Reason,
			TranslatedQuery: translatedQuery,
			Metadata:        o.metadata(state),
		})
	}

	// Step 6-8: dispatch with checkpoints 2/3.
	sink(streaming.Thinking(fmt.Sprintf("dispatching to %d agent(s)", len(strategy.Agents))))
	var branches []dispatchResult
	switch strategy.Kind {
	case routing.StrategySingle, routing.StrategyParallel:
		branches = o.dispatchParallel(ctx, state, strategy.Agents, req, policyCtx, checkpointsEnabled, sink)
	case routing.StrategySequential:
		branches = o.dispatchSequential(ctx, state, strategy.Agents, req, policyCtx, checkpointsEnabled, sink)
	}

	agentUsed := strings.Join(agentNames(strategy.Agents), ",")

	// Step 9: synthesize.
	var finalText string
	if len(branches) == 1 {
		finalText = branches[0].text
	} else {
		sink(streaming.Thinking("synthesizing responses"))
		finalText = o.synthesize(ctx, state, translatedQuery, branches, req.LLMProvider)
	}

	// Step 10: validate / condense.
	sink(streaming.Thinking("validating response relevance"))
	finalText = o.validateAndCondense(ctx, state, translatedQuery, finalText, req.LLMProvider)

	// Step 11: translate response back.
	if req.Language != "" && req.Language != "en" {
		if translatedBack, err := o.translate(ctx, state, finalText, "en", req.Language, req.LLMProvider); err == nil {
			finalText = translatedBack
		} else {
			o.log.ErrorWithErr(trID, "reverse translation failed, returning English text", err, nil)
		}
	}

	// Step 12: checkpoint 4 — final.
	if checkpointsEnabled {
		cp, err := o.runCheckpoint(ctx, state, 4, "final", finalText, func() (*policy.Result, error) {
			return o.policy.AnalyzePromptAndResponse(ctx, req.Query, finalText, policyCtx)
		})
		if err != nil {
			return o.finish(sink, state, o.errorResult(fmt.Sprintf("final policy check failed: %v", err)))
		}
		sink(cp.event)
		if !cp.result.Approved {
			return o.finish(sink, state, Result{
				Success:  true,
				Blocked:  true,
				Response: cp.result.Message,
				Metadata: o.metadata(state),
			})
		}
		if cp.result.MaskedResponseData != "" {
			finalText = cp.result.MaskedResponseData
		}
	}

	return o.finish(sink, state, Result{
		Success:         true,
		Response:        finalText,
		AgentUsed:       agentUsed,
		TranslatedQuery: translatedQuery,
		Metadata:        o.metadata(state),
	})
}

func (o *Orchestrator) finish(sink streaming.Sink, state *requestState, res Result) Result {
	if res.Success {
		sink(streaming.Response(res.Response, res.Metadata))
	} else {
		sink(streaming.ErrorEvent(res.ErrorMessage))
	}
	return res
}

func (o *Orchestrator) errorResult(message string) Result {
	return Result{Success: false, ErrorMessage: message}
}

func (o *Orchestrator) metadata(state *requestState) map[string]interface{} {
	snap := state.tokens.Snapshot()
	return map[string]interface{}{
		"total_tokens":        snap.TotalTokens,
		"coordinator_tokens":  snap.CoordinatorTokens,
		"agent_tokens":        snap.AgentTokens,
		"timestamp":           time.Now().UTC().Format(time.RFC3339),
		"securityCheckpoints": state.checkpoints,
	}
}

type checkpointOutcome struct {
	result *policy.Result
	event  streaming.Event
}

func (o *Orchestrator) runCheckpoint(ctx context.Context, state *requestState, number int, label, input string, call func() (*policy.Result, error)) (*checkpointOutcome, error) {
	start := time.Now()
	res, err := call()
	latency := time.Since(start).Milliseconds()
	if err != nil {
		return nil, err
	}

	status := streaming.CheckpointApproved
	output := "approved"
	if !res.Approved {
		status = streaming.CheckpointBlocked
		output = res.Message
	} else if res.MaskedPromptData != "" {
		output = res.MaskedPromptData
	} else if res.MaskedResponseData != "" {
		output = res.MaskedResponseData
	}

	entry := CheckpointEntry{
		Number:      number,
		Label:       label,
		Status:      string(status),
		LatencyMS:   latency,
		Input:       input,
		Output:      output,
		RawRequest:  res.RawRequest,
		RawResponse: res.RawResponse,
	}
	state.addCheckpoint(entry)

	return &checkpointOutcome{
		result: res,
		event:  streaming.Checkpoint(number, label, status, latency, entry.Input, entry.Output),
	}, nil
}

func (o *Orchestrator) translate(ctx context.Context, state *requestState, text, from, to string, provider llm.ProviderTag) (string, error) {
	prompt := fmt.Sprintf("Translate the following text from %s to %s. Return only the translated text, nothing else.\n\n%s", from, to, text)
	res, err := o.adapter.Generate(ctx, llm.Request{Prompt: prompt, Temperature: 0, MaxTokens: 1000, Provider: provider})
	if err != nil {
		return "", err
	}
	state.tokens.AddCoordinatorTokens(res.PromptTokens + res.CompletionTokens)
	return strings.TrimSpace(res.Text), nil
}

type dispatchResult struct {
	agent string
	text  string
	null  bool
}

func (o *Orchestrator) dispatchParallel(ctx context.Context, state *requestState, agents []routing.AgentDispatch, req Request, pctx policy.Context, checkpointsEnabled bool, sink streaming.Sink) []dispatchResult {
	results := make([]dispatchResult, len(agents))
	var wg sync.WaitGroup
	for i, a := range agents {
		wg.Add(1)
		go func(i int, a routing.AgentDispatch) {
			defer wg.Done()
			results[i] = o.dispatchOne(ctx, state, a, req, pctx, checkpointsEnabled, sink)
		}(i, a)
	}
	wg.Wait()
	return results
}

func (o *Orchestrator) dispatchSequential(ctx context.Context, state *requestState, agents []routing.AgentDispatch, req Request, pctx policy.Context, checkpointsEnabled bool, sink streaming.Sink) []dispatchResult {
	results := make([]dispatchResult, 0, len(agents))
	for _, a := range agents {
		results = append(results, o.dispatchOne(ctx, state, a, req, pctx, checkpointsEnabled, sink))
	}
	return results
}

func (o *Orchestrator) dispatchOne(ctx context.Context, state *requestState, a routing.AgentDispatch, req Request, pctx policy.Context, checkpointsEnabled bool, sink streaming.Sink) dispatchResult {
	rec, ok := o.registry.FindByName(a.Agent)
	if !ok {
		return dispatchResult{agent: a.Agent, null: true}
	}

	outboundQuery := a.SubQuery

	// Checkpoint 2 — outbound.
	if checkpointsEnabled {
		cp, err := o.runCheckpoint(ctx, state, 2, "outbound", outboundQuery, func() (*policy.Result, error) {
			return o.policy.AnalyzePrompt(ctx, outboundQuery, pctx)
		})
		if err != nil {
			return dispatchResult{agent: a.Agent, null: true}
		}
		sink(cp.event)
		if !cp.result.Approved {
			return dispatchResult{agent: a.Agent, text: "[security-blocked] " + cp.result.Message}
		}
		if cp.result.MaskedPromptData != "" {
			// Masking replaces only the query portion, never the identity tail appended below.
			outboundQuery = cp.result.MaskedPromptData
		}
	}

	enrichedPayload := enrichPayload(outboundQuery, req.UserContext)
	uri := buildResourceURI(rec.Name, enrichedPayload, req.LLMProvider)

	rpcReq := mcp.Request{
		JSONRPC: "2.0",
		ID:      2,
		Method:  "resources/read",
		Params:  mcp.ResourceReadParams(uri),
	}

	rpcResp, err := o.mcpClient.ForwardRequest(ctx, rec.AgentID, rec.URL, rpcReq)
	if err != nil {
		o.registry.UpdateHealth(rec.AgentID, false)
		return dispatchResult{agent: a.Agent, null: true}
	}
	if rpcResp.Error != nil {
		return dispatchResult{agent: a.Agent, null: true}
	}

	responseText := extractResultText(rpcResp.Result)
	state.tokens.AddAgentTokens(estimateTokens(responseText))

	// Checkpoint 3 — inbound.
	if checkpointsEnabled {
		cp, err := o.runCheckpoint(ctx, state, 3, "inbound", responseText, func() (*policy.Result, error) {
			return o.policy.AnalyzePromptAndResponse(ctx, outboundQuery, responseText, pctx)
		})
		if err != nil {
			return dispatchResult{agent: a.Agent, null: true}
		}
		sink(cp.event)
		if !cp.result.Approved {
			return dispatchResult{agent: a.Agent, text: "[security-blocked] " + cp.result.Message}
		}
		if cp.result.MaskedResponseData != "" {
			responseText = cp.result.MaskedResponseData
		}
	}

	return dispatchResult{agent: a.Agent, text: responseText}
}

func (o *Orchestrator) synthesize(ctx context.Context, state *requestState, query string, branches []dispatchResult, provider llm.ProviderTag) string {
	var b strings.Builder
	for _, br := range branches {
		if br.null {
			continue
		}
		fmt.Fprintf(&b, "Agent %s said:\n%s\n\n", br.agent, br.text)
	}

	prompt := fmt.Sprintf("The user asked: %q\n\nSynthesize the following agent responses into a single coherent answer:\n\n%s", query, b.String())
	res, err := o.adapter.Generate(ctx, llm.Request{Prompt: prompt, Temperature: 0.3, MaxTokens: 800, Provider: provider})
	if err != nil {
		return fallbackConcat(branches)
	}
	state.tokens.AddCoordinatorTokens(res.PromptTokens + res.CompletionTokens)
	return res.Text
}

func fallbackConcat(branches []dispatchResult) string {
	var b strings.Builder
	for _, br := range branches {
		if br.null {
			continue
		}
		fmt.Fprintf(&b, "**%s**: %s\n\n", br.agent, br.text)
	}
	return strings.TrimSpace(b.String())
}

type validationOutput struct {
	IsRelevant     bool    `json:"isRelevant"`
	KeyInformation string  `json:"keyInformation"`
	Confidence     float64 `json:"confidence"`
	Reasoning      string  `json:"reasoning"`
}

func (o *Orchestrator) validateAndCondense(ctx context.Context, state *requestState, query, response string, provider llm.ProviderTag) string {
	prompt := fmt.Sprintf(`User query: %q
Candidate response: %q

Judge whether the response is relevant to the query. Respond with only a JSON object: {"isRelevant": bool, "keyInformation": "<condensed relevant content, or empty>", "confidence": <0..1>, "reasoning": "<why>"}.`, query, response)

	res, err := o.adapter.Generate(ctx, llm.Request{Prompt: prompt, Temperature: 0, MaxTokens: 400, Provider: provider})
	if err != nil {
		return response
	}
	state.tokens.AddCoordinatorTokens(res.PromptTokens + res.CompletionTokens)

	text := extractOutermostJSON(res.Text)
	if text == "" {
		return response
	}
	var out validationOutput
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return response
	}
	if out.IsRelevant && out.KeyInformation != "" {
		return out.KeyInformation
	}
	return response
}

func enrichPayload(query string, uc UserContext) string {
	var tail strings.Builder
	tail.WriteString(query)
	if uc.Name != "" || uc.Email != "" || uc.Role != "" || uc.Department != "" || uc.EmployeeID != "" {
		fmt.Fprintf(&tail, "\n[User context: name=%s, email=%s, role=%s, department=%s, employeeId=%s]",
			uc.Name, uc.Email, uc.Role, uc.Department, uc.EmployeeID)
	}
	return tail.String()
}

func buildResourceURI(agentName, payload string, provider llm.ProviderTag) string {
	v := url.Values{}
	v.Set("q", payload)
	if provider != "" {
		v.Set("provider", string(provider))
	}
	return fmt.Sprintf("%s://query?%s", agentName, v.Encode())
}

func extractResultText(raw json.RawMessage) string {
	var withText struct {
		Contents []struct {
			Text string `json:"text"`
		} `json:"contents"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &withText); err == nil {
		if withText.Text != "" {
			return withText.Text
		}
		if len(withText.Contents) > 0 {
			return withText.Contents[0].Text
		}
	}
	return string(raw)
}

// estimateTokens approximates the token count of a downstream agent's
// reply, which carries no usage figures of its own: observed text
// volume / 4.
func estimateTokens(text string) int {
	return len(text) / 4
}

func toRoutingTurns(turns []Turn) []routing.Turn {
	out := make([]routing.Turn, 0, len(turns))
	for _, t := range turns {
		out = append(out, routing.Turn{Role: t.Role, Content: t.Content})
	}
	return out
}

func agentNames(dispatches []routing.AgentDispatch) []string {
	names := make([]string, 0, len(dispatches))
	for _, d := range dispatches {
		names = append(names, d.Agent)
	}
	return names
}

func extractOutermostJSON(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end == -1 || end < start {
		return ""
	}
	return s[start : end+1]
}
