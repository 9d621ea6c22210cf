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

// Package anthropic adapts Anthropic's Claude models to the gateway's
// llm.Provider interface using the official anthropic-sdk-go client
// rather than a hand-rolled HTTP surface.
package anthropic

import (
	"context"
	"errors"
	"strings"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/nexusgate/gateway/internal/llm"
)

const defaultModel = "claude-3-5-sonnet-20241022"

// Provider implements llm.Provider for Anthropic Claude models.
type Provider struct {
	client anthropicsdk.Client
	model  string
}

// New builds an Anthropic provider. apiKey must be non-empty; callers
// in bootstrap.go only register the provider when the credential is
// configured.
func New(apiKey, model string) *Provider {
	if model == "" {
		model = defaultModel
	}
	return &Provider{
		client: anthropicsdk.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

func (p *Provider) Tag() llm.ProviderTag { return llm.ProviderAnthropic }

// Generate implements llm.Provider.
func (p *Provider) Generate(ctx context.Context, req llm.Request) (*llm.Result, error) {
	params := anthropicsdk.MessageNewParams{
		Model:     anthropicsdk.Model(p.model),
		MaxTokens: int64(maxTokensOrDefault(req.MaxTokens)),
		Messages: []anthropicsdk.MessageParam{
			anthropicsdk.NewUserMessage(anthropicsdk.NewTextBlock(req.Prompt)),
		},
		Temperature: anthropicsdk.Float(req.Temperature),
	}
	if req.System != "" {
		params.System = []anthropicsdk.TextBlockParam{{Text: req.System}}
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, &llm.ProviderError{Kind: classify(err), Message: err.Error()}
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	return &llm.Result{
		Text:             text.String(),
		PromptTokens:     int(msg.Usage.InputTokens),
		CompletionTokens: int(msg.Usage.OutputTokens),
	}, nil
}

func maxTokensOrDefault(v int) int {
	if v <= 0 {
		return 4096
	}
	return v
}

func classify(err error) llm.ErrorKind {
	var apiErr *anthropicsdk.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 401, 403:
			return llm.ErrAuth
		case 429:
			return llm.ErrRate
		case 408:
			return llm.ErrTimeout
		}
	}
	return llm.ErrOther
}
