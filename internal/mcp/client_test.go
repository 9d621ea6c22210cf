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

package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func jsonRPCHandler(t *testing.T, initCalls *int32, sessionID string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req Request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		w.Header().Set("Content-Type", "application/json")
		if req.Method == "initialize" {
			atomic.AddInt32(initCalls, 1)
			_ = json.NewEncoder(w).Encode(Response{
				JSONRPC: "2.0",
				ID:      req.ID,
				Result:  json.RawMessage(fmt.Sprintf(`{"sessionId":%q}`, sessionID)),
			})
			return
		}

		assert.Equal(t, sessionID, r.Header.Get(sessionHeaderName))
		_ = json.NewEncoder(w).Encode(Response{
			JSONRPC: "2.0",
			ID:      req.ID,
			Result:  json.RawMessage(`{"ok":true}`),
		})
	}
}

func TestInitializeSessionExtractsSessionIDFromResult(t *testing.T) {
	var initCalls int32
	srv := httptest.NewServer(jsonRPCHandler(t, &initCalls, "sess-123"))
	defer srv.Close()

	c := New(5*time.Second, nil)
	id, err := c.InitializeSession(context.Background(), "agent-1", srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "sess-123", id)
}

func TestForwardRequestReusesSessionAcrossCalls(t *testing.T) {
	var initCalls int32
	srv := httptest.NewServer(jsonRPCHandler(t, &initCalls, "sess-abc"))
	defer srv.Close()

	c := New(5*time.Second, nil)
	_, err := c.ForwardRequest(context.Background(), "agent-1", srv.URL, Request{JSONRPC: "2.0", ID: 2, Method: "resources/read"})
	require.NoError(t, err)
	_, err = c.ForwardRequest(context.Background(), "agent-1", srv.URL, Request{JSONRPC: "2.0", ID: 3, Method: "resources/read"})
	require.NoError(t, err)

	assert.Equal(t, int32(1), atomic.LoadInt32(&initCalls))
}

func TestForwardRequestParsesSSEBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req Request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		w.Header().Set("Content-Type", "text/event-stream")
		if req.Method == "initialize" {
			fmt.Fprint(w, "event: message\ndata: {\"jsonrpc\":\"2.0\",\"id\":1,\"result\":{\"sessionId\":\"sse-sess\"}}\n\n")
			return
		}
		fmt.Fprint(w, "event: message\ndata: {\"jsonrpc\":\"2.0\",\"id\":2,\"result\":{\"ok\":true}}\n\n")
	}))
	defer srv.Close()

	c := New(5*time.Second, nil)
	resp, err := c.ForwardRequest(context.Background(), "agent-sse", srv.URL, Request{JSONRPC: "2.0", ID: 2, Method: "resources/read"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(resp.Result))
}

func TestTransportFailureMarksAgentUnhealthy(t *testing.T) {
	var markedUnhealthy string
	c := New(time.Second, func(agentID string) { markedUnhealthy = agentID })

	_, err := c.ForwardRequest(context.Background(), "agent-down", "http://127.0.0.1:1", Request{JSONRPC: "2.0", ID: 1, Method: "resources/read"})
	require.Error(t, err)
	assert.Equal(t, "agent-down", markedUnhealthy)
}

func TestPruneIdleEvictsStaleSessions(t *testing.T) {
	var initCalls int32
	srv := httptest.NewServer(jsonRPCHandler(t, &initCalls, "sess-prune"))
	defer srv.Close()

	c := New(5*time.Second, nil)
	_, err := c.InitializeSession(context.Background(), "agent-1", srv.URL)
	require.NoError(t, err)
	assert.Equal(t, 1, c.SessionCount())

	pruned := c.PruneIdle(-time.Second)
	assert.Equal(t, 1, pruned)
	assert.Equal(t, 0, c.SessionCount())
}
