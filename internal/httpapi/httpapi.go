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

// Package httpapi is the gateway's streaming front-door: agent
// registration/heartbeat, the query endpoint (streaming and
// non-streaming), the provider catalog, and the health probe target.
// Router and CORS wiring is lifted directly from run.go's mux.NewRouter
// / rs/cors setup; the request-ID and error-response helpers mirror
// run.go's generateRequestID / sendErrorResponse.
package httpapi

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/nexusgate/gateway/internal/audit"
	"github.com/nexusgate/gateway/internal/health"
	"github.com/nexusgate/gateway/internal/llm"
	"github.com/nexusgate/gateway/internal/logger"
	"github.com/nexusgate/gateway/internal/metrics"
	"github.com/nexusgate/gateway/internal/orchestrator"
	"github.com/nexusgate/gateway/internal/registry"
	"github.com/nexusgate/gateway/internal/streaming"
)

// Server bundles the collaborators the HTTP handlers dispatch to.
type Server struct {
	orch     *orchestrator.Orchestrator
	reg      *registry.Registry
	sweeper  *health.Sweeper
	metrics  *metrics.Registry
	auditLog *audit.Logger
	log      *logger.Logger
}

// New builds a Server. auditLog may be nil when audit persistence is
// disabled.
func New(orch *orchestrator.Orchestrator, reg *registry.Registry, sweeper *health.Sweeper, m *metrics.Registry, auditLog *audit.Logger) *Server {
	return &Server{
		orch:     orch,
		reg:      reg,
		sweeper:  sweeper,
		metrics:  m,
		auditLog: auditLog,
		log:      logger.New("httpapi"),
	}
}

// Router builds the wired http.Handler: CORS middleware over a
// gorilla/mux router exposing every gateway endpoint.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/health", s.handleHealth).Methods("GET")
	r.HandleFunc("/api/agents/register", s.handleRegister).Methods("POST")
	r.HandleFunc("/api/agents/{agentId}/unregister", s.handleUnregister).Methods("POST")
	r.HandleFunc("/api/agents/{agentId}/heartbeat", s.handleHeartbeat).Methods("POST")
	r.HandleFunc("/api/query", s.handleQuery).Methods("POST")
	r.HandleFunc("/api/llm-providers", s.handleProviders).Methods("GET")

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})
	return c.Handler(r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.sweeper.Draining() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status": "draining",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "ok",
		"agent_count": s.reg.Count(),
	})
}

type registerRequest struct {
	AgentID      string                 `json:"agentId"`
	Name         string                 `json:"name"`
	Description  string                 `json:"description"`
	URL          string                 `json:"url"`
	Capabilities []string               `json:"capabilities"`
	Providers    []registry.LLMProvider `json:"providers"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.AgentID == "" || req.Name == "" || req.URL == "" {
		writeError(w, http.StatusBadRequest, "agentId, name and url are required")
		return
	}

	rec := registry.Record{
		AgentID:      req.AgentID,
		Name:         req.Name,
		Description:  req.Description,
		URL:          req.URL,
		Capabilities: req.Capabilities,
		Providers:    req.Providers,
		Healthy:      true,
		LastSeen:     time.Now(),
	}
	if err := s.reg.Register(rec); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	s.log.Info("", "agent registered", map[string]interface{}{"agent_id": req.AgentID, "name": req.Name})
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

func (s *Server) handleUnregister(w http.ResponseWriter, r *http.Request) {
	agentID := mux.Vars(r)["agentId"]
	s.reg.Unregister(agentID)
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	agentID := mux.Vars(r)["agentId"]
	if !s.reg.Heartbeat(agentID) {
		writeError(w, http.StatusNotFound, "unknown agent")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

func (s *Server) handleProviders(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"providers": s.reg.GetAdvertisedProviders(),
	})
}

type queryRequest struct {
	Query          string                   `json:"query"`
	Language       string                   `json:"language"`
	Phase          string                   `json:"phase"`
	StreamThinking bool                     `json:"streamThinking"`
	LLMProvider    string                   `json:"llmProvider"`
	UserContext    orchestrator.UserContext `json:"userContext"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	if s.sweeper.Draining() {
		writeError(w, http.StatusServiceUnavailable, "gateway is draining")
		return
	}

	var qr queryRequest
	if err := json.NewDecoder(r.Body).Decode(&qr); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if qr.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	if qr.Phase == "" {
		qr.Phase = string(orchestrator.Phase2)
	}

	req := orchestrator.Request{
		Query:          qr.Query,
		Language:       qr.Language,
		Phase:          orchestrator.Phase(qr.Phase),
		StreamThinking: qr.StreamThinking,
		UserContext:    qr.UserContext,
		LLMProvider:    llm.ProviderTag(qr.LLMProvider),
	}

	requestID := generateRequestID()
	start := time.Now()

	if qr.StreamThinking {
		s.serveStreaming(w, r, requestID, req)
		return
	}
	s.serveBuffered(w, r, requestID, req, start)
}

func (s *Server) serveBuffered(w http.ResponseWriter, r *http.Request, requestID string, req orchestrator.Request, start time.Time) {
	res := s.orch.Process(r.Context(), req, nil)
	s.recordMetrics(res, time.Since(start))
	s.recordAudit(requestID, req, res)

	status := http.StatusOK
	if !res.Success {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, res)
}

func (s *Server) serveStreaming(w http.ResponseWriter, r *http.Request, requestID string, req orchestrator.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)

	start := time.Now()
	sw := streaming.NewWriter(w, flusher.Flush)
	sink := func(e streaming.Event) {
		if err := sw.Emit(e); err != nil {
			s.log.Warn(requestID, "failed to emit streaming event", map[string]interface{}{"error": err.Error()})
		}
	}

	res := s.orch.Process(r.Context(), req, sink)
	_ = sw.Done()

	s.recordMetrics(res, time.Since(start))
	s.recordAudit(requestID, req, res)
}

func (s *Server) recordMetrics(res orchestrator.Result, elapsed time.Duration) {
	if s.metrics == nil {
		return
	}
	status := "success"
	switch {
	case res.Blocked:
		status = "blocked"
		s.metrics.BlockedRequests.Inc()
	case !res.Success:
		status = "error"
	case res.Declined:
		status = "declined"
	}
	s.metrics.RequestsTotal.WithLabelValues(status).Inc()
	s.metrics.RequestDuration.WithLabelValues("total").Observe(float64(elapsed.Milliseconds()))
}

func (s *Server) recordAudit(requestID string, req orchestrator.Request, res orchestrator.Result) {
	if s.auditLog == nil {
		return
	}
	decision := "allowed"
	switch {
	case res.Blocked:
		decision = "blocked"
	case res.Declined:
		decision = "declined"
	case !res.Success:
		decision = "error"
	}
	totalTokens, _ := res.Metadata["total_tokens"].(int)
	var checkpoints json.RawMessage
	if cps, ok := res.Metadata["securityCheckpoints"]; ok {
		if b, err := json.Marshal(cps); err == nil {
			checkpoints = b
		}
	}
	s.auditLog.Log(audit.Entry{
		RequestID:    requestID,
		Timestamp:    time.Now(),
		UserEmail:    req.UserContext.Email,
		Query:        req.Query,
		Decision:     decision,
		AgentUsed:    res.AgentUsed,
		Provider:     string(req.LLMProvider),
		TotalTokens:  totalTokens,
		ErrorMessage: res.ErrorMessage,
		Checkpoints:  checkpoints,
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{"success": false, "error": message})
}

func generateRequestID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return fmt.Sprintf("req_%d_%x", time.Now().UnixNano(), b)
}
