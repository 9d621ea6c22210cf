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

// Package streaming defines the thinking-event stream that the
// Orchestrator emits and the HTTP front-door serializes to the wire as
// line-delimited JSON terminated by a literal "[DONE]" line.
package streaming

import (
	"encoding/json"
	"fmt"
	"io"
)

// EventType tags the four event shapes on the wire: one JSON object
// per line, each carrying a type of thinking, checkpoint, response, or
// error.
type EventType string

const (
	EventThinking   EventType = "thinking"
	EventCheckpoint EventType = "checkpoint"
	EventResponse   EventType = "response"
	EventError      EventType = "error"
)

// CheckpointStatus is the outcome of a single security-checkpoint call.
type CheckpointStatus string

const (
	CheckpointApproved CheckpointStatus = "approved"
	CheckpointBlocked  CheckpointStatus = "blocked"
)

// Event is the single wire shape for every line of the stream; unused
// fields are omitted by tag per event type.
type Event struct {
	Type EventType `json:"type"`

	// thinking
	Text string `json:"text,omitempty"`

	// checkpoint
	Number    int              `json:"number,omitempty"`
	Label     string           `json:"label,omitempty"`
	Status    CheckpointStatus `json:"status,omitempty"`
	LatencyMS int64            `json:"latency_ms,omitempty"`
	Input     string           `json:"input,omitempty"`
	Output    string           `json:"output,omitempty"`

	// response
	Content  string                 `json:"content,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
	Declined bool                   `json:"declined,omitempty"`
	Blocked  bool                   `json:"blocked,omitempty"`

	// error
	Success bool   `json:"success,omitempty"`
	Message string `json:"message,omitempty"`
	Error   bool   `json:"error,omitempty"`
}

// Sink is the callback the Orchestrator writes events through; the
// Streaming Front-Door binds it to the HTTP response writer, tests
// bind it to an in-memory slice.
type Sink func(Event)

// Writer serializes events to w as line-delimited JSON, one object per
// line, flushing a literal "[DONE]" line last. This is plain
// line-delimited JSON, not SSE; any SSE translation belongs to the
// caller.
type Writer struct {
	w       io.Writer
	flusher func()
}

// NewWriter builds a Writer over w. flush, if non-nil, is called after
// every emitted line (e.g. an http.Flusher.Flush) so proxies don't
// buffer partial output.
func NewWriter(w io.Writer, flush func()) *Writer {
	return &Writer{w: w, flusher: flush}
}

// Emit writes a single event line.
func (sw *Writer) Emit(e Event) error {
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("streaming: marshaling event: %w", err)
	}
	if _, err := sw.w.Write(append(b, '\n')); err != nil {
		return fmt.Errorf("streaming: writing event: %w", err)
	}
	if sw.flusher != nil {
		sw.flusher()
	}
	return nil
}

// Done writes the terminal "[DONE]" sentinel line.
func (sw *Writer) Done() error {
	if _, err := sw.w.Write([]byte("[DONE]\n")); err != nil {
		return fmt.Errorf("streaming: writing done sentinel: %w", err)
	}
	if sw.flusher != nil {
		sw.flusher()
	}
	return nil
}

// Thinking builds a progress-note event.
func Thinking(text string) Event { return Event{Type: EventThinking, Text: text} }

// Checkpoint builds a checkpoint event.
func Checkpoint(number int, label string, status CheckpointStatus, latencyMS int64, input, output string) Event {
	return Event{
		Type:      EventCheckpoint,
		Number:    number,
		Label:     label,
		Status:    status,
		LatencyMS: latencyMS,
		Input:     input,
		Output:    output,
	}
}

// Response builds the single terminal (non-sentinel) response event.
func Response(content string, metadata map[string]interface{}) Event {
	return Event{Type: EventResponse, Content: content, Metadata: metadata}
}

// ErrorEvent builds an error event emitted before [DONE] on failure.
func ErrorEvent(message string) Event {
	return Event{Type: EventError, Success: false, Message: message, Error: true}
}
