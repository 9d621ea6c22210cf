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

package policy

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientPassThroughWhenUnconfigured(t *testing.T) {
	c := New("", "", "")
	assert.False(t, c.Configured())

	res, err := c.AnalyzePrompt(context.Background(), "hello there", Context{TrID: "tr-1"})
	require.NoError(t, err)
	assert.True(t, res.Approved)
	assert.Equal(t, "hello there", res.MaskedPromptData)
}

func TestClientAnalyzePromptAllows(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/scan/sync/request", r.URL.Path)
		assert.Equal(t, "test-token", r.Header.Get("x-pan-token"))

		var req scanRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "tr-1", req.TrID)
		assert.Equal(t, "hello there", req.Contents.Prompt)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(scanResponse{Action: "allow"})
	}))
	defer srv.Close()

	c := New(srv.URL, "test-token", "profile-1")
	res, err := c.AnalyzePrompt(context.Background(), "hello there", Context{TrID: "tr-1"})
	require.NoError(t, err)
	assert.True(t, res.Approved)
	assert.NotEmpty(t, res.RawRequest)
	assert.NotEmpty(t, res.RawResponse)
}

func TestClientAnalyzePromptAndResponseBlocks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(scanResponse{
			Action:   "block",
			Category: "prompt_injection",
			ReportID: "rpt-42",
			Message:  "blocked by policy",
		})
	}))
	defer srv.Close()

	c := New(srv.URL, "test-token", "profile-1")
	res, err := c.AnalyzePromptAndResponse(context.Background(), "prompt", "response", Context{TrID: "tr-2"})
	require.NoError(t, err)
	assert.False(t, res.Approved)
	assert.Equal(t, "prompt_injection", res.Category)
	assert.Equal(t, "rpt-42", res.ReportID)
}

func TestClientNonOKStatusIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(srv.URL, "test-token", "profile-1")
	_, err := c.AnalyzePrompt(context.Background(), "hello", Context{TrID: "tr-3"})
	require.Error(t, err)
}
