// Package anthropic defines the client-facing wire types for the
// Anthropic-style Messages API the gateway accepts.
//
// The schema is polymorphic in two places: a message's content is either a
// single string or an array of typed blocks, and the system prompt is either
// a string or an array of text blocks. Both are held as json.RawMessage at
// the boundary and decoded on demand so that malformed fragments degrade to
// empty values instead of failing the request.
package anthropic

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Message roles accepted by the gateway.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Content block type tags.
const (
	BlockText       = "text"
	BlockThinking   = "thinking"
	BlockToolUse    = "tool_use"
	BlockToolResult = "tool_result"
)

// Request is one inbound chat-completion request.
type Request struct {
	Model       string          `json:"model"`
	System      json.RawMessage `json:"system,omitempty"`
	Messages    []Message       `json:"messages"`
	Tools       []Tool          `json:"tools,omitempty"`
	ToolChoice  *ToolChoice     `json:"tool_choice,omitempty"`
	Thinking    *Thinking       `json:"thinking,omitempty"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature *float64        `json:"temperature,omitempty"`
	Stream      bool            `json:"stream,omitempty"`
}

// Message is a single conversation turn. Content is a string or a block
// array; use Text/Blocks to decode.
type Message struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

// ContentBlock is one element of a block-array content value. The Type tag
// selects which of the remaining fields are meaningful.
type ContentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	Thinking  string          `json:"thinking,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

// Tool is a client-supplied tool definition.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// ToolChoice steers upstream tool selection. Type is one of "auto", "any",
// "tool" or "none"; Name is set when Type is "tool".
type ToolChoice struct {
	Type string `json:"type"`
	Name string `json:"name,omitempty"`
}

// Thinking requests extended reasoning. Type "enabled" turns it on.
type Thinking struct {
	Type         string `json:"type"`
	BudgetTokens int    `json:"budget_tokens,omitempty"`
}

// Text decodes the content as a plain string. ok is false when the content
// is absent, a block array, or malformed.
func (m Message) Text() (string, bool) {
	return rawString(m.Content)
}

// Blocks decodes the content as a block array. ok is false when the content
// is absent, a plain string, or malformed.
func (m Message) Blocks() ([]ContentBlock, bool) {
	return rawBlocks(m.Content)
}

// ResultText decodes a tool_result block's payload: a plain string passes
// through, an array of text blocks is joined with newlines, anything else
// yields the empty string.
func (b ContentBlock) ResultText() string {
	if b.Type != BlockToolResult {
		return ""
	}
	if s, ok := rawString(b.Content); ok {
		return s
	}
	if blocks, ok := rawBlocks(b.Content); ok {
		return JoinText(blocks)
	}
	return ""
}

// SystemText coerces the polymorphic system field to a single string: a
// string passes through, an array of blocks is reduced to its text blocks
// joined with newlines, anything else yields the empty string.
func SystemText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	if s, ok := rawString(raw); ok {
		return s
	}
	if blocks, ok := rawBlocks(raw); ok {
		return JoinText(blocks)
	}
	return ""
}

// JoinText joins the texts of the text blocks in order with newlines,
// skipping every other block type.
func JoinText(blocks []ContentBlock) string {
	var parts []string
	for _, b := range blocks {
		if b.Type == BlockText {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n")
}

func rawString(raw json.RawMessage) (string, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '"' {
		return "", false
	}
	var s string
	if err := json.Unmarshal(trimmed, &s); err != nil {
		return "", false
	}
	return s, true
}

func rawBlocks(raw json.RawMessage) ([]ContentBlock, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, false
	}
	var blocks []ContentBlock
	if err := json.Unmarshal(trimmed, &blocks); err != nil {
		return nil, false
	}
	return blocks, true
}
