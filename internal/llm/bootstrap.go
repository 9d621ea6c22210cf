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

package llm

import (
	"context"

	"github.com/nexusgate/gateway/internal/config"
	"github.com/nexusgate/gateway/internal/llm/anthropic"
	"github.com/nexusgate/gateway/internal/llm/azure"
	"github.com/nexusgate/gateway/internal/llm/bedrock"
	"github.com/nexusgate/gateway/internal/llm/gemini"
	"github.com/nexusgate/gateway/internal/llm/ollama"
	"github.com/nexusgate/gateway/internal/llm/openai"
	"github.com/nexusgate/gateway/internal/logger"
)

// Bootstrap inspects cfg and registers every provider whose
// credentials are present, discovered at startup in a fixed order.
// Providers that fail to construct are logged and skipped rather than
// aborting startup — a single bad credential should not take down
// every other provider.
func Bootstrap(ctx context.Context, cfg *config.Config) *Registry {
	log := logger.New("llm-bootstrap")
	reg := NewRegistry()

	if cfg.OpenAIAPIKey != "" || cfg.LiteLLMAPIKey != "" {
		key := cfg.OpenAIAPIKey
		base := ""
		if cfg.LiteLLMBaseURL != "" {
			base = cfg.LiteLLMBaseURL
			if cfg.LiteLLMAPIKey != "" {
				key = cfg.LiteLLMAPIKey
			}
		}
		reg.Register(openai.New(key, base, cfg.CoordinatorModel))
		log.Info("", "registered provider", map[string]interface{}{"provider": "openai"})
	}

	if cfg.AnthropicAPIKey != "" {
		reg.Register(anthropic.New(cfg.AnthropicAPIKey, cfg.CoordinatorModel))
		log.Info("", "registered provider", map[string]interface{}{"provider": "anthropic"})
	}

	if cfg.AzureAPIKey != "" && cfg.AzureResourceName != "" {
		endpoint := "https://" + cfg.AzureResourceName + ".openai.azure.com"
		p, err := azure.New(azure.Config{
			Endpoint:       endpoint,
			APIKey:         cfg.AzureAPIKey,
			DeploymentName: cfg.AzureDeploymentName,
		})
		if err != nil {
			log.ErrorWithErr("", "failed to construct azure provider", err, nil)
		} else {
			reg.Register(p)
			log.Info("", "registered provider", map[string]interface{}{"provider": "azure"})
		}
	}

	if cfg.AWSRegion != "" && cfg.BedrockModel != "" {
		p, err := bedrock.New(ctx, cfg.AWSRegion, cfg.BedrockModel)
		if err != nil {
			log.ErrorWithErr("", "failed to construct bedrock provider", err, nil)
		} else {
			reg.Register(p)
			log.Info("", "registered provider", map[string]interface{}{"provider": "aws"})
		}
	}

	if cfg.GoogleAPIKey != "" {
		p, err := gemini.New(cfg.GoogleAPIKey, cfg.CoordinatorModel)
		if err != nil {
			log.ErrorWithErr("", "failed to construct gemini provider", err, nil)
		} else {
			reg.Register(p)
			log.Info("", "registered provider", map[string]interface{}{"provider": "gcp"})
		}
	}

	if cfg.OllamaServerURL != "" {
		reg.Register(ollama.New(cfg.OllamaServerURL, cfg.CoordinatorModel))
		log.Info("", "registered provider", map[string]interface{}{"provider": "ollama"})
	}

	if reg.Empty() {
		log.Warn("", "no LLM providers configured", nil)
	}

	return reg
}
