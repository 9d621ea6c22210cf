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
	"strings"

	"github.com/nexusgate/gateway/internal/logger"
)

// Adapter exposes a single generate() operation, dispatching to
// whichever provider is named (or the registry's default when unset).
// No retries happen at this layer; callers decide whether to fall
// back.
type Adapter struct {
	registry *Registry
	log      *logger.Logger
}

// NewAdapter builds an Adapter backed by registry.
func NewAdapter(registry *Registry) *Adapter {
	return &Adapter{registry: registry, log: logger.New("llm-adapter")}
}

// Generate runs a single completion. provider may be empty, in which
// case the registry's default (first-configured) provider is used.
func (a *Adapter) Generate(ctx context.Context, req Request) (*Result, error) {
	var (
		p  Provider
		ok bool
	)
	if req.Provider != "" {
		p, ok = a.registry.Get(req.Provider)
		if !ok {
			return nil, &ProviderError{Kind: ErrUnsupported, Message: "provider not configured: " + string(req.Provider)}
		}
	} else {
		p, ok = a.registry.Default()
		if !ok {
			return nil, &ProviderError{Kind: ErrUnsupported, Message: "no LLM providers configured"}
		}
	}

	res, err := p.Generate(ctx, req)
	if err != nil {
		a.log.ErrorWithErr("", "llm generate failed", err, map[string]interface{}{"provider": string(p.Tag())})
		return nil, err
	}

	res.Text = rescueText(res.Text, res.Text)
	return res, nil
}

// rescueText returns primary when non-empty, otherwise thinking. Some
// reasoning-model providers place their actual output under a secondary
// "thinking" field and leave the primary text field empty. Providers
// whose payload carries a distinct thinking field (ollama) apply the
// exported RescueText to the two fields; Generate applies it to the
// single Text field twice, which is a harmless no-op.
func rescueText(primary, thinking string) string {
	if strings.TrimSpace(primary) != "" {
		return primary
	}
	return thinking
}

// RescueText is the exported form, used by provider packages when
// parsing raw payloads that carry both fields (see ollama.Provider).
func RescueText(primary, thinking string) string {
	return rescueText(primary, thinking)
}
