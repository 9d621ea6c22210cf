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

// Package policy implements a thin HTTP client in front of the Palo
// Alto Networks PRISMA AIRS content-safety backend, following the same
// external-REST-client shape as orchestrator/amadeus_client.go applied
// to a new domain.
package policy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/nexusgate/gateway/internal/logger"
)

const defaultTimeout = 15 * time.Second

// Context carries the per-call metadata PRISMA AIRS expects alongside
// the text under evaluation.
type Context struct {
	Language string
	AppName  string
	AppUser  string
	AIModel  string
	TrID     string
}

// Result is the uniform verdict both operations return.
type Result struct {
	Approved           bool
	Category           string
	ReportID           string
	Message            string
	MaskedPromptData   string
	MaskedResponseData string
	Detections         []string
	RawRequest         json.RawMessage
	RawResponse        json.RawMessage
}

// Client implements analyzePrompt / analyzePromptAndResponse. When no
// PRISMA_AIRS_API_URL is configured, every call is a pass-through
// approval: approved=true with the input passed through unchanged.
type Client struct {
	baseURL   string
	apiToken  string
	profileID string
	http      *http.Client
	log       *logger.Logger
}

// New builds a Client. An empty baseURL puts the client in pass-through
// mode permanently.
func New(baseURL, apiToken, profileID string) *Client {
	return &Client{
		baseURL:   baseURL,
		apiToken:  apiToken,
		profileID: profileID,
		http:      &http.Client{Timeout: defaultTimeout},
		log:       logger.New("policy-client"),
	}
}

// Configured reports whether a PRISMA AIRS backend is wired in.
func (c *Client) Configured() bool { return c.baseURL != "" }

type scanRequest struct {
	TrID      string `json:"tr_id"`
	ProfileID string `json:"ai_profile_id,omitempty"`
	Metadata  struct {
		AppName  string `json:"app_name"`
		AppUser  string `json:"app_user"`
		AIModel  string `json:"ai_model"`
		Language string `json:"language,omitempty"`
	} `json:"metadata"`
	Contents struct {
		Prompt   string `json:"prompt,omitempty"`
		Response string `json:"response,omitempty"`
	} `json:"contents"`
}

type scanResponse struct {
	Action         string   `json:"action"` // "allow" or "block"
	Category       string   `json:"category,omitempty"`
	ReportID       string   `json:"report_id,omitempty"`
	Message        string   `json:"message,omitempty"`
	MaskedPrompt   string   `json:"masked_prompt_data,omitempty"`
	MaskedResponse string   `json:"masked_response_data,omitempty"`
	Detections     []string `json:"detections,omitempty"`
}

// AnalyzePrompt runs checkpoint evaluation on a user prompt alone
// (input checkpoint and outbound-to-agent checkpoint both call this).
func (c *Client) AnalyzePrompt(ctx context.Context, text string, rc Context) (*Result, error) {
	return c.scan(ctx, rc, text, "")
}

// AnalyzePromptAndResponse runs checkpoint evaluation on a prompt/response
// pair (inbound and final checkpoints both call this).
func (c *Client) AnalyzePromptAndResponse(ctx context.Context, prompt, response string, rc Context) (*Result, error) {
	return c.scan(ctx, rc, prompt, response)
}

func (c *Client) scan(ctx context.Context, rc Context, prompt, response string) (*Result, error) {
	if !c.Configured() {
		return &Result{Approved: true, MaskedPromptData: prompt, MaskedResponseData: response}, nil
	}

	req := scanRequest{TrID: rc.TrID, ProfileID: c.profileID}
	req.Metadata.AppName = rc.AppName
	req.Metadata.AppUser = rc.AppUser
	req.Metadata.AIModel = rc.AIModel
	req.Metadata.Language = rc.Language
	req.Contents.Prompt = prompt
	req.Contents.Response = response

	reqBody, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("policy: marshaling scan request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/scan/sync/request", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("policy: building scan request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-pan-token", c.apiToken)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		c.log.ErrorWithErr(rc.TrID, "policy scan request failed", err, nil)
		return nil, fmt.Errorf("policy: scan request failed: %w", err)
	}
	defer resp.Body.Close()

	rawResp, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("policy: reading scan response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("policy: backend returned status %d", resp.StatusCode)
	}

	var parsed scanResponse
	if err := json.Unmarshal(rawResp, &parsed); err != nil {
		return nil, fmt.Errorf("policy: malformed scan response: %w", err)
	}

	return &Result{
		Approved:           parsed.Action != "block",
		Category:           parsed.Category,
		ReportID:           parsed.ReportID,
		Message:            parsed.Message,
		MaskedPromptData:   parsed.MaskedPrompt,
		MaskedResponseData: parsed.MaskedResponse,
		Detections:         parsed.Detections,
		RawRequest:         json.RawMessage(reqBody),
		RawResponse:        json.RawMessage(rawResp),
	}, nil
}
