// Package kiro defines the wire types and failure taxonomy for the upstream
// Kiro conversational service.
//
// The upstream speaks a CodeWhisperer-like protocol: one POST per request
// carrying a conversationState envelope whose history strictly alternates
// user and assistant turns and whose current message is always a user turn.
package kiro

// Envelope is the request body sent to generateAssistantResponse.
type Envelope struct {
	ConversationState ConversationState `json:"conversationState"`
	ProfileArn        string            `json:"profileArn,omitempty"`
}

// Chat trigger types.
const (
	TriggerManual = "MANUAL"
	TriggerAuto   = "AUTO"
)

// Fixed envelope discriminators.
const (
	AgentTaskTypeVibe = "vibe"
	OriginAIEditor    = "AI_EDITOR"
)

// ConversationState carries the full conversation for one upstream call.
// History holds strictly alternating user/assistant turns; CurrentMessage
// is always a user turn.
type ConversationState struct {
	ChatTriggerType     string `json:"chatTriggerType"`
	ConversationID      string `json:"conversationId"`
	AgentContinuationID string `json:"agentContinuationId"`
	AgentTaskType       string `json:"agentTaskType"`
	CurrentMessage      Turn   `json:"currentMessage"`
	History             []Turn `json:"history"`
}

// Turn is a union of exactly one of the two message kinds.
type Turn struct {
	UserInputMessage         *UserInputMessage         `json:"userInputMessage,omitempty"`
	AssistantResponseMessage *AssistantResponseMessage `json:"assistantResponseMessage,omitempty"`
}

// UserTurn wraps a user message as a history turn.
func UserTurn(m UserInputMessage) Turn {
	return Turn{UserInputMessage: &m}
}

// AssistantTurn wraps an assistant message as a history turn.
func AssistantTurn(m AssistantResponseMessage) Turn {
	return Turn{AssistantResponseMessage: &m}
}

// UserInputMessage is one user turn.
type UserInputMessage struct {
	Content                 string                   `json:"content"`
	ModelID                 string                   `json:"modelId"`
	Origin                  string                   `json:"origin"`
	UserInputMessageContext *UserInputMessageContext `json:"userInputMessageContext,omitempty"`
}

// UserInputMessageContext carries tool definitions and tool results attached
// to a user turn. Omitted entirely when both are empty.
type UserInputMessageContext struct {
	Tools       []Tool       `json:"tools,omitempty"`
	ToolResults []ToolResult `json:"toolResults,omitempty"`
}

// AssistantResponseMessage is one assistant turn. Content must be non-empty.
type AssistantResponseMessage struct {
	Content  string    `json:"content"`
	ToolUses []ToolUse `json:"toolUses,omitempty"`
}

// ToolUse records an assistant tool invocation.
type ToolUse struct {
	ToolUseID string         `json:"toolUseId"`
	Name      string         `json:"name"`
	Input     map[string]any `json:"input"`
}

// Tool result statuses.
const (
	ResultSuccess = "success"
	ResultError   = "error"
)

// ToolResult is a client-reported tool outcome threaded into a user turn.
type ToolResult struct {
	ToolUseID string              `json:"toolUseId"`
	Status    string              `json:"status"`
	Content   []ToolResultContent `json:"content"`
}

// ToolResultContent is one text fragment of a tool result.
type ToolResultContent struct {
	Text string `json:"text"`
}

// Tool is an upstream tool definition.
type Tool struct {
	ToolSpecification ToolSpecification `json:"toolSpecification"`
}

// ToolSpecification names a tool and carries its JSON schema verbatim.
type ToolSpecification struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	InputSchema InputSchema `json:"inputSchema"`
}

// InputSchema wraps the schema document under the upstream's "json" key.
type InputSchema struct {
	JSON map[string]any `json:"json"`
}
