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

// Package health implements periodic agent health probes, downstream
// session pruning, and a graceful drain gate for shutdown. Grounded on
// orchestrator/llm_router.go's healthCheckRoutine ticker-driven
// background loop, generalized from polling LLM providers to polling
// registered agents.
package health

import (
	"context"
	"math/rand"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/nexusgate/gateway/internal/logger"
	"github.com/nexusgate/gateway/internal/mcp"
	"github.com/nexusgate/gateway/internal/registry"
)

const probeTimeout = 5 * time.Second

// Sweeper runs the periodic agent health sweep and session pruning,
// and gates new requests during shutdown.
type Sweeper struct {
	reg        *registry.Registry
	mcpClient  *mcp.Client
	httpClient *http.Client
	log        *logger.Logger

	draining atomic.Bool
}

// New builds a Sweeper over reg and mcpClient. The idle bound for
// session pruning is passed to RunSessionPruning, not to New.
func New(reg *registry.Registry, mcpClient *mcp.Client) *Sweeper {
	return &Sweeper{
		reg:        reg,
		mcpClient:  mcpClient,
		httpClient: &http.Client{Timeout: probeTimeout},
		log:        logger.New("health-sweeper"),
	}
}

// Draining reports whether the gateway is shutting down and should
// reject new requests with 503.
func (s *Sweeper) Draining() bool { return s.draining.Load() }

// Drain flips the gateway into shutdown mode; it is irreversible for
// the lifetime of the process.
func (s *Sweeper) Drain() { s.draining.Store(true) }

// RunHealthSweeps blocks, probing every registered agent's /health
// endpoint roughly every interval until ctx is cancelled. A small
// random jitter is added per tick so many gateway instances polling
// the same agent fleet don't all land on the same network second.
func (s *Sweeper) RunHealthSweeps(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			jitter := time.Duration(rand.Int63n(int64(interval) / 4))
			time.Sleep(jitter)
			s.sweepOnce(ctx)
		}
	}
}

func (s *Sweeper) sweepOnce(ctx context.Context) {
	for _, rec := range s.reg.All() {
		healthy := s.probe(ctx, rec.URL)
		s.reg.UpdateHealth(rec.AgentID, healthy)
		if !healthy {
			s.log.Warn("", "agent health probe failed", map[string]interface{}{"agent": rec.Name, "url": rec.URL})
		}
	}
}

func (s *Sweeper) probe(ctx context.Context, baseURL string) bool {
	if baseURL == "" {
		return false
	}
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// RunSessionPruning blocks, evicting downstream sessions idle beyond
// maxIdle roughly every interval until ctx is cancelled.
func (s *Sweeper) RunSessionPruning(ctx context.Context, interval, maxIdle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pruned := s.mcpClient.PruneIdle(maxIdle)
			if pruned > 0 {
				s.log.Info("", "pruned idle downstream sessions", map[string]interface{}{"count": pruned})
			}
		}
	}
}
