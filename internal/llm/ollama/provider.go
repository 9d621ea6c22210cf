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

// Package ollama adapts a self-hosted Ollama server's /api/generate
// endpoint to the gateway's llm.Provider interface.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nexusgate/gateway/internal/llm"
)

const defaultTimeout = 120 * time.Second

// Provider implements llm.Provider for a self-hosted Ollama server.
type Provider struct {
	baseURL string
	model   string
	client  *http.Client
}

// New builds an Ollama provider pointed at baseURL (e.g.
// http://localhost:11434). model defaults to "llama3" when empty.
func New(baseURL, model string) *Provider {
	if model == "" {
		model = "llama3"
	}
	return &Provider{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client:  &http.Client{Timeout: defaultTimeout},
	}
}

func (p *Provider) Tag() llm.ProviderTag { return llm.ProviderOllama }

type generateRequest struct {
	Model   string                 `json:"model"`
	Prompt  string                 `json:"prompt"`
	System  string                 `json:"system,omitempty"`
	Stream  bool                   `json:"stream"`
	Options map[string]interface{} `json:"options,omitempty"`
}

type generateResponse struct {
	Response       string `json:"response"`
	Thinking       string `json:"thinking"`
	PromptEvalCount int   `json:"prompt_eval_count"`
	EvalCount       int   `json:"eval_count"`
}

// Generate implements llm.Provider.
func (p *Provider) Generate(ctx context.Context, req llm.Request) (*llm.Result, error) {
	body, err := json.Marshal(generateRequest{
		Model:  p.model,
		Prompt: req.Prompt,
		System: req.System,
		Stream: false,
		Options: map[string]interface{}{
			"temperature": req.Temperature,
			"num_predict": req.MaxTokens,
		},
	})
	if err != nil {
		return nil, &llm.ProviderError{Kind: llm.ErrOther, Message: err.Error()}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, &llm.ProviderError{Kind: llm.ErrOther, Message: err.Error()}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, &llm.ProviderError{Kind: classifyNetErr(ctx), Message: err.Error()}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &llm.ProviderError{Kind: llm.ErrOther, Message: err.Error()}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &llm.ProviderError{Kind: llm.ErrOther, Message: fmt.Sprintf("ollama: unexpected status %d", resp.StatusCode)}
	}

	var parsed generateResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, &llm.ProviderError{Kind: llm.ErrOther, Message: "ollama: malformed response body"}
	}

	return &llm.Result{
		Text:             llm.RescueText(parsed.Response, parsed.Thinking),
		PromptTokens:     parsed.PromptEvalCount,
		CompletionTokens: parsed.EvalCount,
	}, nil
}

func classifyNetErr(ctx context.Context) llm.ErrorKind {
	if ctx.Err() != nil {
		return llm.ErrTimeout
	}
	return llm.ErrOther
}
