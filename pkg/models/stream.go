package models

import "encoding/json"

// AnthropicStreamEvent represents an Anthropic SSE event.
type AnthropicStreamEvent struct {
	Type         string          `json:"type"`
	Index        int             `json:"index"`
	Message      json.RawMessage `json:"message,omitempty"`
	ContentBlock json.RawMessage `json:"content_block,omitempty"`
	Delta        json.RawMessage `json:"delta,omitempty"`
	Usage        *AnthropicUsage `json:"usage,omitempty"`
}

// AnthropicDelta is the delta payload of content_block_delta and
// message_delta events. PartialJSON carries tool input fragments.
type AnthropicDelta struct {
	Type        string `json:"type"`
	Text        string `json:"text,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
	StopReason  string `json:"stop_reason,omitempty"`
}
