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

package orchestrator

import "github.com/nexusgate/gateway/internal/llm"

// Phase is the caller-selected security regime for a query.
type Phase string

const (
	Phase1 Phase = "phase1"
	Phase2 Phase = "phase2"
	Phase3 Phase = "phase3"
)

// Turn is one user/assistant exchange supplied as conversation history.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// UserContext identifies the caller, optionally, for checkpoint-2
// identity enrichment and the personal-query guard.
type UserContext struct {
	Name       string `json:"name,omitempty"`
	Email      string `json:"email,omitempty"`
	Role       string `json:"role,omitempty"`
	Department string `json:"department,omitempty"`
	EmployeeID string `json:"employeeId,omitempty"`
	History    []Turn `json:"history,omitempty"`
}

// HasIdentity reports whether enough identity was supplied to answer a
// first-person query.
func (u UserContext) HasIdentity() bool {
	return u.Name != "" || u.Email != "" || u.EmployeeID != ""
}

// Request is the per-query input to the Orchestrator.
type Request struct {
	Query          string          `json:"query"`
	Language       string          `json:"language,omitempty"`
	Phase          Phase           `json:"phase"`
	UserContext    UserContext     `json:"userContext,omitempty"`
	StreamThinking bool            `json:"streamThinking,omitempty"`
	LLMProvider    llm.ProviderTag `json:"provider,omitempty"`
}

// CheckpointEntry is one row of the security-checkpoint log attached
// to the result metadata.
type CheckpointEntry struct {
	Number      int    `json:"number"`
	Label       string `json:"label"`
	Status      string `json:"status"`
	LatencyMS   int64  `json:"latencyMs"`
	Input       string `json:"input,omitempty"`
	Output      string `json:"output,omitempty"`
	RawRequest  []byte `json:"-"`
	RawResponse []byte `json:"-"`
}

// Result is the terminal, non-streaming shape of a completed query.
type Result struct {
	Success         bool                   `json:"success"`
	Response        string                 `json:"response,omitempty"`
	AgentUsed       string                 `json:"agentUsed,omitempty"`
	TranslatedQuery string                 `json:"translatedQuery,omitempty"`
	Declined        bool                   `json:"declined,omitempty"`
	Blocked         bool                   `json:"blocked,omitempty"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
	ErrorMessage    string                 `json:"errorMessage,omitempty"`
}
