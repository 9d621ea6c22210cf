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

// Package gwerrors defines the gateway's error taxonomy: a small set
// of kinds that callers switch on, wrapping the underlying cause the
// way the rest of the codebase wraps errors with fmt.Errorf.
package gwerrors

import (
	"errors"
	"fmt"
)

// Kind classifies a gateway error into one of a small set of taxonomy rows.
type Kind string

const (
	KindConfig              Kind = "config"
	KindPolicyBlock         Kind = "policy_block"
	KindRoutingLLM          Kind = "routing_llm"
	KindUnknownAgent        Kind = "unknown_agent"
	KindDownstreamTransport Kind = "downstream_transport"
	KindTimeout             Kind = "timeout"
	KindProviderError       Kind = "provider_error"
	KindNoAgentsAvailable   Kind = "no_agents_available"
)

// Error is the gateway's structured error type. Op names the operation
// that failed (e.g. "routing.Route", "mcp.ForwardRequest").
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a new Error of the given kind.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf extracts the Kind from err if it is (or wraps) a *Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}
