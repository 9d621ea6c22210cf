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

// Package gemini adapts Google's Gemini/Vertex models to the gateway's
// llm.Provider interface using the official google.golang.org/genai SDK.
package gemini

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/nexusgate/gateway/internal/llm"
)

const defaultModel = "gemini-2.0-flash"

// Provider implements llm.Provider for Google Gemini.
type Provider struct {
	client *genai.Client
	model  string
}

// New builds a Gemini provider from an API key. model defaults to
// gemini-2.0-flash when empty.
func New(apiKey, model string) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini: API key is required")
	}
	if model == "" {
		model = defaultModel
	}
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("gemini: creating client: %w", err)
	}
	return &Provider{client: client, model: model}, nil
}

func (p *Provider) Tag() llm.ProviderTag { return llm.ProviderGCP }

// Generate implements llm.Provider.
func (p *Provider) Generate(ctx context.Context, req llm.Request) (*llm.Result, error) {
	contents := []*genai.Content{
		genai.NewContentFromText(req.Prompt, genai.RoleUser),
	}

	config := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(req.Temperature)),
	}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.System != "" {
		config.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}

	resp, err := p.client.Models.GenerateContent(ctx, p.model, contents, config)
	if err != nil {
		return nil, &llm.ProviderError{Kind: classifyErr(ctx), Message: err.Error()}
	}
	if len(resp.Candidates) == 0 {
		return nil, &llm.ProviderError{Kind: llm.ErrOther, Message: "gemini: no candidates returned"}
	}

	result := &llm.Result{Text: resp.Text()}
	if resp.UsageMetadata != nil {
		result.PromptTokens = int(resp.UsageMetadata.PromptTokenCount)
		result.CompletionTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	return result, nil
}

func classifyErr(ctx context.Context) llm.ErrorKind {
	if ctx.Err() != nil {
		return llm.ErrTimeout
	}
	return llm.ErrOther
}
