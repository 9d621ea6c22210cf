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

// Package mcp implements a downstream session manager: a JSON-RPC 2.0
// client over HTTP toward each registered agent, with lazy session
// initialization and tolerant plain-JSON/SSE body parsing. Grounded on
// the HTTP-client shape in orchestrator/mcp_query_router.go (shared
// *http.Client with pooled transport and per-call context timeout),
// generalized from that file's bespoke connector protocol to a
// JSON-RPC 2.0 surface.
package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nexusgate/gateway/internal/logger"
)

const (
	protocolVersion   = "2025-06-18"
	clientName        = "nexusgate"
	clientVersion     = "1.0.0"
	sessionHeaderName = "mcp-session-id"
	defaultTimeout    = 20 * time.Minute
)

// Request is a JSON-RPC 2.0 request envelope.
type Request struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      int         `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

// Response is a JSON-RPC 2.0 response envelope.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is a JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string { return fmt.Sprintf("mcp: rpc error %d: %s", e.Code, e.Message) }

// UnhealthyFunc is invoked whenever a transport failure should mark an
// agent unhealthy in the registry.
type UnhealthyFunc func(agentID string)

// Client manages JSON-RPC sessions toward a set of downstream agents
// addressed by base URL. One Client serves every registered agent;
// sessions are cached per agentId, either in-process or, when a
// sessionStore is supplied, in a store shared across gateway replicas.
type Client struct {
	httpClient *http.Client
	log        *logger.Logger
	onUnhealth UnhealthyFunc
	store      sessionStore

	mu       sync.Mutex
	sessions map[string]*session
}

type session struct {
	id       string
	lastUsed time.Time
}

// New builds an MCP session manager backed by an in-process session
// map. timeout governs each individual HTTP round-trip; a default in
// the tens of minutes accommodates slow LLM-backed agents.
func New(timeout time.Duration, onUnhealthy UnhealthyFunc) *Client {
	return newClient(timeout, onUnhealthy, nil)
}

// NewWithSessionStore builds an MCP session manager backed by store
// instead of the in-process map, so multiple gateway replicas can
// share downstream session IDs for the same agent and avoid needlessly
// re-initializing every session.
func NewWithSessionStore(timeout time.Duration, onUnhealthy UnhealthyFunc, store sessionStore) *Client {
	return newClient(timeout, onUnhealthy, store)
}

func newClient(timeout time.Duration, onUnhealthy UnhealthyFunc, store sessionStore) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 100,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		log:        logger.New("mcp-client"),
		onUnhealth: onUnhealthy,
		store:      store,
		sessions:   make(map[string]*session),
	}
}

// InitializeSession sends the JSON-RPC `initialize` call to agentID's
// base URL at path /mcp and caches the resulting session id for reuse.
// If a session is already cached, it is returned without a network
// call.
func (c *Client) InitializeSession(ctx context.Context, agentID, baseURL string) (string, error) {
	if id, ok := c.cachedSession(ctx, agentID); ok {
		return id, nil
	}

	req := Request{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "initialize",
		Params: map[string]interface{}{
			"protocolVersion": protocolVersion,
			"capabilities":    map[string]interface{}{},
			"clientInfo": map[string]interface{}{
				"name":    clientName,
				"version": clientVersion,
			},
		},
	}

	resp, header, err := c.post(ctx, baseURL, "", req)
	if err != nil {
		c.markUnhealthy(agentID)
		return "", fmt.Errorf("mcp: initialize session for %s: %w", agentID, err)
	}
	if resp.Error != nil {
		return "", resp.Error
	}

	sessionID := extractSessionID(resp.Result, header)
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	c.cacheSession(ctx, agentID, sessionID)

	return sessionID, nil
}

// sessionStore abstracts the session cache so the gateway can run
// against either the in-process map (default) or a shared cache across
// replicas (see RedisSessionCache).
type sessionStore interface {
	Get(ctx context.Context, agentID string) (string, bool)
	Set(ctx context.Context, agentID, sessionID string)
	Delete(ctx context.Context, agentID string)
}

func (c *Client) cachedSession(ctx context.Context, agentID string) (string, bool) {
	if c.store != nil {
		if id, ok := c.store.Get(ctx, agentID); ok {
			c.touchLocal(agentID, id)
			return id, true
		}
		return "", false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.sessions[agentID]; ok {
		return s.id, true
	}
	return "", false
}

func (c *Client) cacheSession(ctx context.Context, agentID, sessionID string) {
	if c.store != nil {
		c.store.Set(ctx, agentID, sessionID)
	}
	c.touchLocal(agentID, sessionID)
}

func (c *Client) touchLocal(agentID, sessionID string) {
	c.mu.Lock()
	c.sessions[agentID] = &session{id: sessionID, lastUsed: time.Now()}
	c.mu.Unlock()
}

// ForwardRequest ensures a session exists for agentID, then POSTs req
// carrying the mcp-session-id header.
func (c *Client) ForwardRequest(ctx context.Context, agentID, baseURL string, req Request) (*Response, error) {
	sessionID, err := c.InitializeSession(ctx, agentID, baseURL)
	if err != nil {
		return nil, err
	}

	resp, _, err := c.post(ctx, baseURL, sessionID, req)
	if err != nil {
		c.markUnhealthy(agentID)
		c.invalidateSession(ctx, agentID)
		return nil, fmt.Errorf("mcp: forward request to %s: %w", agentID, err)
	}

	c.mu.Lock()
	if s, ok := c.sessions[agentID]; ok {
		s.lastUsed = time.Now()
	}
	c.mu.Unlock()

	return resp, nil
}

func (c *Client) markUnhealthy(agentID string) {
	if c.onUnhealth != nil {
		c.onUnhealth(agentID)
	}
}

func (c *Client) invalidateSession(ctx context.Context, agentID string) {
	if c.store != nil {
		c.store.Delete(ctx, agentID)
	}
	c.mu.Lock()
	delete(c.sessions, agentID)
	c.mu.Unlock()
}

// PruneIdle evicts cached sessions idle longer than maxIdle.
func (c *Client) PruneIdle(maxIdle time.Duration) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	pruned := 0
	now := time.Now()
	for id, s := range c.sessions {
		if now.Sub(s.lastUsed) > maxIdle {
			delete(c.sessions, id)
			pruned++
		}
	}
	return pruned
}

// SessionCount reports how many agent sessions are currently cached.
func (c *Client) SessionCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sessions)
}

func (c *Client) post(ctx context.Context, baseURL, sessionID string, req Request) (*Response, http.Header, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, nil, fmt.Errorf("marshaling jsonrpc request: %w", err)
	}

	url := strings.TrimRight(baseURL, "/") + "/mcp"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, nil, fmt.Errorf("building http request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json, text/event-stream")
	if sessionID != "" {
		httpReq.Header.Set(sessionHeaderName, sessionID)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, nil, fmt.Errorf("transport error: %w", err)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("reading response body: %w", err)
	}

	if httpResp.StatusCode >= 400 {
		return nil, nil, fmt.Errorf("downstream returned status %d", httpResp.StatusCode)
	}

	resp, err := parseBody(httpResp.Header.Get("Content-Type"), raw)
	if err != nil {
		return nil, nil, err
	}
	return resp, httpResp.Header, nil
}

// parseBody accepts either a plain application/json body or a
// text/event-stream body carrying "event: message\ndata: <json>\n\n"
// frames, since some agents answer JSON-RPC calls over SSE.
func parseBody(contentType string, raw []byte) (*Response, error) {
	if strings.Contains(contentType, "text/event-stream") {
		return parseSSE(raw)
	}
	return parseJSON(raw)
}

func parseJSON(raw []byte) (*Response, error) {
	var resp Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("malformed json-rpc response: %w", err)
	}
	return &resp, nil
}

func parseSSE(raw []byte) (*Response, error) {
	lines := strings.Split(string(raw), "\n")
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "data:") {
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if payload == "" {
				continue
			}
			return parseJSON([]byte(payload))
		}
	}
	return nil, fmt.Errorf("mcp: no data frame found in event-stream body")
}

// extractSessionID draws the session id from result.sessionId, falling
// back to the mcp-session-id response header.
func extractSessionID(result json.RawMessage, header http.Header) string {
	if len(result) > 0 {
		var withSession struct {
			SessionID string `json:"sessionId"`
		}
		if err := json.Unmarshal(result, &withSession); err == nil && withSession.SessionID != "" {
			return withSession.SessionID
		}
	}
	if header != nil {
		if h := header.Get(sessionHeaderName); h != "" {
			return h
		}
	}
	return ""
}

// ResourceReadParams wraps uri as the params object for a
// resources/read call against a downstream agent. The caller builds uri
// (in the form <agentName>://query?q=<encoded>&provider=<tag>); no
// encoding happens here.
func ResourceReadParams(uri string) map[string]interface{} {
	return map[string]interface{}{"uri": uri}
}
