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

// Package metrics exposes Prometheus instrumentation for the gateway,
// grounded directly on orchestrator/run.go's promRequestsTotal /
// promRequestDuration / promLLMCalls / promPolicyEvaluations /
// promBlockedRequests vectors — same metric shapes, renamed for this
// module and extended with routing/checkpoint/session gauges this
// gateway's multi-agent coordinator needs that a single-LLM coordinator
// would not.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry bundles every counter/histogram the gateway records.
type Registry struct {
	RequestsTotal       *prometheus.CounterVec
	RequestDuration     *prometheus.HistogramVec
	PolicyEvaluations   *prometheus.CounterVec
	BlockedRequests     prometheus.Counter
	LLMCalls            *prometheus.CounterVec
	RoutingDecisions    *prometheus.CounterVec
	DownstreamSessions  prometheus.Gauge
	AgentHealth         *prometheus.GaugeVec
}

// New builds and registers every gateway metric against reg.
func New(reg prometheus.Registerer) *Registry {
	m := &Registry{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nexusgate_requests_total",
			Help: "Total number of queries processed by the gateway, labeled by outcome.",
		}, []string{"status"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "nexusgate_request_duration_milliseconds",
			Help:    "Query processing duration in milliseconds, labeled by pipeline stage.",
			Buckets: []float64{10, 50, 100, 200, 500, 1000, 2000, 5000, 10000, 30000},
		}, []string{"stage"}),
		PolicyEvaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nexusgate_policy_evaluations_total",
			Help: "Total number of policy-client checkpoint evaluations, labeled by checkpoint number.",
		}, []string{"checkpoint"}),
		BlockedRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nexusgate_blocked_requests_total",
			Help: "Total number of queries blocked at any security checkpoint.",
		}),
		LLMCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nexusgate_llm_calls_total",
			Help: "Total number of LLM adapter calls, labeled by provider and outcome.",
		}, []string{"provider", "status"}),
		RoutingDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nexusgate_routing_decisions_total",
			Help: "Total number of routing strategies emitted, labeled by strategy kind.",
		}, []string{"kind"}),
		DownstreamSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nexusgate_downstream_sessions",
			Help: "Current number of cached downstream MCP sessions.",
		}),
		AgentHealth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "nexusgate_agent_health",
			Help: "Most recent health probe result per agent, 1=healthy 0=unhealthy.",
		}, []string{"agent"}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.PolicyEvaluations,
		m.BlockedRequests,
		m.LLMCalls,
		m.RoutingDecisions,
		m.DownstreamSessions,
		m.AgentHealth,
	)

	return m
}
