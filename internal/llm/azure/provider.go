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

// Package azure adapts Azure OpenAI Service deployments to the
// gateway's llm.Provider interface. Classic *.openai.azure.com
// endpoints authenticate with the api-key header; *.cognitiveservices
// Azure AI Foundry endpoints authenticate with a Bearer token obtained
// through azidentity's DefaultAzureCredential.
package azure

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"

	"github.com/nexusgate/gateway/internal/llm"
)

const (
	defaultAPIVersion = "2024-08-01-preview"
	defaultTimeout    = 120 * time.Second
	cognitiveScope    = "https://cognitiveservices.azure.com/.default"
)

// AuthType selects how the provider authenticates to Azure.
type AuthType string

const (
	AuthTypeAPIKey AuthType = "api-key"
	AuthTypeBearer AuthType = "bearer"
)

// Provider implements llm.Provider for Azure OpenAI Service.
type Provider struct {
	endpoint       string
	apiKey         string
	deploymentName string
	apiVersion     string
	authType       AuthType
	client         *http.Client
	cred           *azidentity.DefaultAzureCredential
}

// Config configures the Azure provider.
type Config struct {
	Endpoint       string
	APIKey         string
	DeploymentName string
	APIVersion     string
}

// New constructs an Azure OpenAI provider, auto-detecting the auth
// type from the endpoint hostname.
func New(cfg Config) (*Provider, error) {
	if cfg.Endpoint == "" || cfg.DeploymentName == "" {
		return nil, fmt.Errorf("azure: endpoint and deployment name are required")
	}
	apiVersion := cfg.APIVersion
	if apiVersion == "" {
		apiVersion = defaultAPIVersion
	}

	p := &Provider{
		endpoint:       strings.TrimRight(cfg.Endpoint, "/"),
		apiKey:         cfg.APIKey,
		deploymentName: cfg.DeploymentName,
		apiVersion:     apiVersion,
		authType:       detectAuthType(cfg.Endpoint),
		client:         &http.Client{Timeout: defaultTimeout},
	}

	if p.authType == AuthTypeBearer {
		cred, err := azidentity.NewDefaultAzureCredential(nil)
		if err != nil {
			return nil, fmt.Errorf("azure: building default credential: %w", err)
		}
		p.cred = cred
	}
	return p, nil
}

func detectAuthType(endpoint string) AuthType {
	if strings.Contains(strings.ToLower(endpoint), ".cognitiveservices.azure.com") {
		return AuthTypeBearer
	}
	return AuthTypeAPIKey
}

func (p *Provider) Tag() llm.ProviderTag { return llm.ProviderAzure }

type chatRequest struct {
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	} `json:"error"`
}

// Generate implements llm.Provider.
func (p *Provider) Generate(ctx context.Context, req llm.Request) (*llm.Result, error) {
	messages := []chatMessage{}
	if req.System != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.Prompt})

	body, err := json.Marshal(chatRequest{
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   maxTokensOrDefault(req.MaxTokens),
	})
	if err != nil {
		return nil, &llm.ProviderError{Kind: llm.ErrOther, Message: err.Error()}
	}

	url := fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s", p.endpoint, p.deploymentName, p.apiVersion)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, &llm.ProviderError{Kind: llm.ErrOther, Message: err.Error()}
	}
	if err := p.setAuthHeaders(ctx, httpReq); err != nil {
		return nil, &llm.ProviderError{Kind: llm.ErrAuth, Message: err.Error()}
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, &llm.ProviderError{Kind: classifyNetErr(ctx), Message: err.Error()}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &llm.ProviderError{Kind: llm.ErrOther, Message: err.Error()}
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, &llm.ProviderError{Kind: llm.ErrOther, Message: "azure: malformed response body"}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &llm.ProviderError{Kind: classifyStatus(resp.StatusCode), Message: errMessage(parsed, resp.StatusCode)}
	}
	if len(parsed.Choices) == 0 {
		return nil, &llm.ProviderError{Kind: llm.ErrOther, Message: "azure: empty choices in response"}
	}

	return &llm.Result{
		Text:             parsed.Choices[0].Message.Content,
		PromptTokens:     parsed.Usage.PromptTokens,
		CompletionTokens: parsed.Usage.CompletionTokens,
	}, nil
}

func (p *Provider) setAuthHeaders(ctx context.Context, req *http.Request) error {
	req.Header.Set("Content-Type", "application/json")
	switch p.authType {
	case AuthTypeBearer:
		token, err := p.cred.GetToken(ctx, policy.TokenRequestOptions{Scopes: []string{cognitiveScope}})
		if err != nil {
			return fmt.Errorf("acquiring azure bearer token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token.Token)
	default:
		req.Header.Set("api-key", p.apiKey)
	}
	return nil
}

func errMessage(parsed chatResponse, status int) string {
	if parsed.Error != nil && parsed.Error.Message != "" {
		return parsed.Error.Message
	}
	return fmt.Sprintf("azure: unexpected status %d", status)
}

func classifyStatus(status int) llm.ErrorKind {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return llm.ErrAuth
	case http.StatusTooManyRequests:
		return llm.ErrRate
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return llm.ErrTimeout
	default:
		return llm.ErrOther
	}
}

func classifyNetErr(ctx context.Context) llm.ErrorKind {
	if ctx.Err() != nil {
		return llm.ErrTimeout
	}
	return llm.ErrOther
}

func maxTokensOrDefault(v int) int {
	if v <= 0 {
		return 4096
	}
	return v
}
