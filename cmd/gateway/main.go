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

// Command gateway wires and runs the NexusGate server. Component
// construction order follows run.go's initializeComponents: config,
// then providers, then the registry and downstream clients, then the
// orchestrator, then the HTTP router.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nexusgate/gateway/internal/audit"
	"github.com/nexusgate/gateway/internal/config"
	"github.com/nexusgate/gateway/internal/health"
	"github.com/nexusgate/gateway/internal/httpapi"
	"github.com/nexusgate/gateway/internal/llm"
	"github.com/nexusgate/gateway/internal/logger"
	"github.com/nexusgate/gateway/internal/mcp"
	"github.com/nexusgate/gateway/internal/metrics"
	"github.com/nexusgate/gateway/internal/orchestrator"
	"github.com/nexusgate/gateway/internal/policy"
	"github.com/nexusgate/gateway/internal/registry"
	"github.com/nexusgate/gateway/internal/routing"
)

func main() {
	log := logger.New("gateway")
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	llmRegistry := llm.Bootstrap(ctx, cfg)
	if llmRegistry.Empty() {
		log.Warn("", "no LLM providers configured, routing and synthesis calls will fail", nil)
	}
	adapter := llm.NewAdapter(llmRegistry)

	agentRegistry := registry.New()
	routingEngine := routing.New(adapter, agentRegistry)

	promReg := prometheus.NewRegistry()
	metricsRegistry := metrics.New(promReg)

	onUnhealthy := func(agentID string) {
		agentRegistry.UpdateHealth(agentID, false)
		metricsRegistry.AgentHealth.WithLabelValues(agentID).Set(0)
	}

	var mcpClient *mcp.Client
	if cfg.SessionCacheRedisURL != "" {
		sessionCache, err := mcp.NewRedisSessionCache(cfg.SessionCacheRedisURL, cfg.SessionMaxIdle)
		if err != nil {
			log.ErrorWithErr("", "failed to connect session cache, falling back to in-process sessions", err, nil)
			mcpClient = mcp.New(cfg.DownstreamTimeout, onUnhealthy)
		} else {
			mcpClient = mcp.NewWithSessionStore(cfg.DownstreamTimeout, onUnhealthy, sessionCache)
		}
	} else {
		mcpClient = mcp.New(cfg.DownstreamTimeout, onUnhealthy)
	}

	var policyClient *policy.Client
	if cfg.PrismaAIRSAPIURL != "" {
		policyClient = policy.New(cfg.PrismaAIRSAPIURL, cfg.PrismaAIRSAPIToken, cfg.PrismaAIRSProfile)
	} else {
		policyClient = policy.New("", "", "")
	}

	auditLogger := audit.New(cfg.AuditDatabaseURL)
	defer auditLogger.Close()

	orch := orchestrator.New(policyClient, agentRegistry, mcpClient, routingEngine, adapter)

	sweeper := health.New(agentRegistry, mcpClient)
	go sweeper.RunHealthSweeps(ctx, cfg.HealthCheckInterval)
	go sweeper.RunSessionPruning(ctx, cfg.SessionPruneInterval, cfg.SessionMaxIdle)

	server := httpapi.New(orch, agentRegistry, sweeper, metricsRegistry, auditLogger)
	router := server.Router()

	mux := http.NewServeMux()
	mux.Handle("/", router)
	mux.Handle("/prometheus", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))

	httpServer := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: mux,
	}

	go func() {
		log.Info("", "gateway listening", map[string]interface{}{"port": cfg.Port})
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.ErrorWithErr("", "http server failed", err, nil)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("", "shutdown signal received, draining", nil)
	sweeper.Drain()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.ErrorWithErr("", "graceful shutdown failed", err, nil)
	}
}
