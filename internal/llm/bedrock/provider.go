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

// Package bedrock adapts AWS Bedrock to the gateway's llm.Provider
// interface using AWS SDK v2, authenticating through the ambient IAM
// credential chain rather than a long-lived API key.
package bedrock

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/nexusgate/gateway/internal/llm"
)

// Provider implements llm.Provider for AWS Bedrock.
type Provider struct {
	client *bedrockruntime.Client
	region string
	model  string
}

// New loads the default AWS config for region and constructs a
// Bedrock runtime client.
func New(ctx context.Context, region, model string) (*Provider, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("bedrock: loading AWS config: %w", err)
	}
	return &Provider{
		client: bedrockruntime.NewFromConfig(cfg),
		region: region,
		model:  model,
	}, nil
}

func (p *Provider) Tag() llm.ProviderTag { return llm.ProviderAWS }

// Generate implements llm.Provider. Bedrock's wire format differs by
// model family, so the request/response shape is translated per
// family, mirroring the dispatch shape of llm_router.go's
// BedrockProvider.
func (p *Provider) Generate(ctx context.Context, req llm.Request) (*llm.Result, error) {
	model := p.model
	family := detectFamily(model)

	body, err := buildBody(family, req)
	if err != nil {
		return nil, &llm.ProviderError{Kind: llm.ErrUnsupported, Message: err.Error()}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &llm.ProviderError{Kind: llm.ErrOther, Message: err.Error()}
	}

	out, err := p.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(model),
		Body:        payload,
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
	})
	if err != nil {
		return nil, &llm.ProviderError{Kind: classifyErr(ctx), Message: err.Error()}
	}

	return parseResponse(family, out.Body)
}

func detectFamily(model string) string {
	switch {
	case strings.HasPrefix(model, "anthropic."):
		return "anthropic"
	case strings.HasPrefix(model, "amazon."):
		return "amazon"
	case strings.HasPrefix(model, "meta."):
		return "meta"
	case strings.HasPrefix(model, "mistral."):
		return "mistral"
	default:
		return "anthropic"
	}
}

func buildBody(family string, req llm.Request) (map[string]interface{}, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	switch family {
	case "anthropic":
		return map[string]interface{}{
			"anthropic_version": "bedrock-2023-05-31",
			"max_tokens":        maxTokens,
			"temperature":       req.Temperature,
			"messages": []map[string]string{
				{"role": "user", "content": req.Prompt},
			},
		}, nil
	case "amazon":
		return map[string]interface{}{
			"inputText": req.Prompt,
			"textGenerationConfig": map[string]interface{}{
				"maxTokenCount": maxTokens,
				"temperature":   req.Temperature,
				"topP":          0.9,
			},
		}, nil
	case "meta":
		return map[string]interface{}{
			"prompt":      req.Prompt,
			"max_gen_len": maxTokens,
			"temperature": req.Temperature,
			"top_p":       0.9,
		}, nil
	case "mistral":
		return map[string]interface{}{
			"prompt":      req.Prompt,
			"max_tokens":  maxTokens,
			"temperature": req.Temperature,
			"top_p":       0.9,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported bedrock model family: %s", family)
	}
}

func parseResponse(family string, raw []byte) (*llm.Result, error) {
	switch family {
	case "anthropic":
		var parsed struct {
			Content []struct {
				Text string `json:"text"`
			} `json:"content"`
			Usage struct {
				InputTokens  int `json:"input_tokens"`
				OutputTokens int `json:"output_tokens"`
			} `json:"usage"`
		}
		if err := json.Unmarshal(raw, &parsed); err != nil {
			return nil, &llm.ProviderError{Kind: llm.ErrOther, Message: "bedrock: malformed anthropic response"}
		}
		var text strings.Builder
		for _, c := range parsed.Content {
			text.WriteString(c.Text)
		}
		return &llm.Result{Text: text.String(), PromptTokens: parsed.Usage.InputTokens, CompletionTokens: parsed.Usage.OutputTokens}, nil
	case "amazon":
		var parsed struct {
			Results []struct {
				OutputText string `json:"outputText"`
			} `json:"results"`
		}
		if err := json.Unmarshal(raw, &parsed); err != nil {
			return nil, &llm.ProviderError{Kind: llm.ErrOther, Message: "bedrock: malformed titan response"}
		}
		if len(parsed.Results) == 0 {
			return nil, &llm.ProviderError{Kind: llm.ErrOther, Message: "bedrock: empty titan results"}
		}
		return &llm.Result{Text: parsed.Results[0].OutputText}, nil
	case "meta":
		var parsed struct {
			Generation string `json:"generation"`
		}
		if err := json.Unmarshal(raw, &parsed); err != nil {
			return nil, &llm.ProviderError{Kind: llm.ErrOther, Message: "bedrock: malformed llama response"}
		}
		return &llm.Result{Text: parsed.Generation}, nil
	case "mistral":
		var parsed struct {
			Outputs []struct {
				Text string `json:"text"`
			} `json:"outputs"`
		}
		if err := json.Unmarshal(raw, &parsed); err != nil {
			return nil, &llm.ProviderError{Kind: llm.ErrOther, Message: "bedrock: malformed mistral response"}
		}
		if len(parsed.Outputs) == 0 {
			return nil, &llm.ProviderError{Kind: llm.ErrOther, Message: "bedrock: empty mistral outputs"}
		}
		return &llm.Result{Text: parsed.Outputs[0].Text}, nil
	default:
		return nil, &llm.ProviderError{Kind: llm.ErrUnsupported, Message: "bedrock: unknown model family"}
	}
}

func classifyErr(ctx context.Context) llm.ErrorKind {
	if ctx.Err() != nil {
		return llm.ErrTimeout
	}
	return llm.ErrOther
}
