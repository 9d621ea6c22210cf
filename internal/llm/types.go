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

// Package llm provides a uniform generate() surface over a pool of
// provider implementations, and a Registry that discovers which
// providers are configured at startup.
package llm

import "context"

// ProviderTag identifies a concrete LLM backend.
type ProviderTag string

const (
	ProviderOpenAI    ProviderTag = "openai"
	ProviderAnthropic ProviderTag = "anthropic"
	ProviderAzure     ProviderTag = "azure"
	ProviderGCP       ProviderTag = "gcp"
	ProviderAWS       ProviderTag = "aws"
	ProviderOllama    ProviderTag = "ollama"
)

// Request is the unified request passed to every provider.
type Request struct {
	Prompt      string
	System      string
	Temperature float64
	MaxTokens   int
	Provider    ProviderTag
}

// Result is the uniform response returned by generate().
//
// Some providers (notably reasoning models that answer through a
// "thinking" field rather than the primary text field) populate Text
// from that secondary field; see rescueText in adapter.go.
type Result struct {
	Text             string
	PromptTokens     int
	CompletionTokens int
}

// ErrorKind classifies a provider failure.
type ErrorKind string

const (
	ErrAuth        ErrorKind = "auth"
	ErrRate        ErrorKind = "rate"
	ErrTimeout     ErrorKind = "timeout"
	ErrUnsupported ErrorKind = "unsupported"
	ErrOther       ErrorKind = "other"
)

// ProviderError is returned by Provider.Generate on failure.
type ProviderError struct {
	Kind    ErrorKind
	Message string
}

func (e *ProviderError) Error() string { return string(e.Kind) + ": " + e.Message }

// Provider is implemented by every concrete LLM backend. Implementations
// must be safe for concurrent use.
type Provider interface {
	Tag() ProviderTag
	Generate(ctx context.Context, req Request) (*Result, error)
}
