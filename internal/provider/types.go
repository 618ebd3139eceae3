// Package provider types - the normalized completion request/result shapes.
//
// DESIGN: Both provider families (custom-trained and upstream) return the
// same polymorphic result: a tagged Outcome holding either one Completion
// or a chunk Stream. Downstream stages (usage, recording, transport) switch
// on Outcome.Kind and never probe for stream-like behavior.
package provider

import (
	"encoding/json"

	"github.com/openpipe/completions-gateway/internal/stream"
)

// CustomModelPrefix is the reserved namespace marker for custom-trained
// models. The remainder of the identifier is the model's slug.
const CustomModelPrefix = "openpipe:"

// Message is one role-tagged chat message. Content is kept raw because
// callers may send either a plain string or structured content parts; the
// gateway forwards it verbatim and only the usage calculator looks inside.
type Message struct {
	Role         string          `json:"role"`
	Content      json.RawMessage `json:"content,omitempty"`
	Name         string          `json:"name,omitempty"`
	FunctionCall json.RawMessage `json:"function_call,omitempty"`
	ToolCalls    json.RawMessage `json:"tool_calls,omitempty"`
	ToolCallID   string          `json:"tool_call_id,omitempty"`
}

// Request is the immutable normalized input for one completion attempt.
type Request struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	Functions      json.RawMessage `json:"functions,omitempty"`
	FunctionCall   json.RawMessage `json:"function_call,omitempty"`
	Tools          json.RawMessage `json:"tools,omitempty"`
	ToolChoice     json.RawMessage `json:"tool_choice,omitempty"`
	N              *int            `json:"n,omitempty"`
	MaxTokens      *int            `json:"max_tokens,omitempty"`
	Temperature    *float64        `json:"temperature,omitempty"`
	ResponseFormat json.RawMessage `json:"response_format,omitempty"`
	Stream         bool            `json:"stream,omitempty"`
}

// ReportedUsage is the provider-reported token accounting, when present.
type ReportedUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Choice is one generated alternative.
type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason,omitempty"`
}

// Completion is a full (non-streamed, or stream-assembled) result.
type Completion struct {
	ID      string         `json:"id"`
	Object  string         `json:"object,omitempty"`
	Created int64          `json:"created,omitempty"`
	Model   string         `json:"model"`
	Choices []Choice       `json:"choices"`
	Usage   *ReportedUsage `json:"usage,omitempty"`
}

// OutcomeKind tags the Outcome variant.
type OutcomeKind int

const (
	// KindCompletion means Outcome.Completion is set.
	KindCompletion OutcomeKind = iota
	// KindStream means Outcome.Stream is set; chunks are raw JSON
	// completion-chunk payloads in provider order.
	KindStream
)

// Outcome is the tagged dispatch result: exactly one of Completion or
// Stream is set, per Kind.
type Outcome struct {
	Kind       OutcomeKind
	Completion *Completion
	Stream     *stream.Stream
}

// CustomModelRecord is the deployed custom model entity, owned by the
// training/deployment subsystem. The gateway reads it and never writes it.
type CustomModelRecord struct {
	ID              string
	ProjectID       string
	Slug            string
	ServingEndpoint string
	Ready           bool

	// Cost basis for usage computation, per million tokens.
	InputCostPerMTok  float64
	OutputCostPerMTok float64
}
