// Package translate builds upstream conversation envelopes from inbound
// chat-completion requests.
//
// The upstream contract is stricter than the client one: history must
// alternate user/assistant turns exactly, the current message must be a user
// turn, tool names live in an identifier-restricted namespace, and tool
// results ride inside the user turn that reports them. The translator
// enforces all of that in one pass and returns the per-request tool-name map
// so a downstream decoder can undo the renaming.
package translate

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/haasonsaas/kirogate/internal/anthropic"
	"github.com/haasonsaas/kirogate/internal/kiro"
)

// Filler strings the upstream protocol expects in degenerate spots.
const (
	fillerContinue = "continue"
	fillerOK       = "OK"
	systemAck      = "I will follow these instructions."
)

const (
	thinkingPrefixFormat  = "<thinking_mode>enabled</thinking_mode><max_thinking_length>%d</max_thinking_length>"
	defaultThinkingBudget = 10000
	maxToolDescription    = 10000
)

// Translator converts one client request into one upstream envelope.
type Translator struct {
	mapper *ModelMapper
	logger *slog.Logger
}

// NewTranslator creates a translator over the given model mapper.
func NewTranslator(mapper *ModelMapper, logger *slog.Logger) *Translator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Translator{mapper: mapper, logger: logger}
}

// Translate builds the envelope and the tool-name map (original name to
// sanitized name) for req. The envelope's ProfileArn is left empty; the
// dispatcher fills it in once an account has been selected. Fails with an
// empty-messages or unsupported-model error; everything else is total.
func (t *Translator) Translate(ctx context.Context, req *anthropic.Request) (*kiro.Envelope, map[string]string, error) {
	if len(req.Messages) == 0 {
		return nil, nil, kiro.NewError(kiro.ErrEmptyMessages, "messages must not be empty")
	}
	modelID, err := t.mapper.Map(ctx, req.Model)
	if err != nil {
		return nil, nil, err
	}

	names := NewNameTable()

	// The current window is the longest all-user suffix. An empty window
	// means the request ends on an assistant turn and the current message
	// will be synthesized.
	historyEnd := len(req.Messages)
	for historyEnd > 0 && req.Messages[historyEnd-1].Role == anthropic.RoleUser {
		historyEnd--
	}
	window := req.Messages[historyEnd:]
	endsWithAssistant := len(window) == 0

	history := []kiro.Turn{}
	pushPair := func(userContent string) {
		history = append(history,
			kiro.UserTurn(kiro.UserInputMessage{
				Content: userContent,
				ModelID: modelID,
				Origin:  kiro.OriginAIEditor,
			}),
			kiro.AssistantTurn(kiro.AssistantResponseMessage{Content: systemAck}),
		)
	}

	thinkingPrefix := ""
	if req.Thinking != nil && req.Thinking.Type == "enabled" {
		budget := req.Thinking.BudgetTokens
		if budget <= 0 {
			budget = defaultThinkingBudget
		}
		thinkingPrefix = fmt.Sprintf(thinkingPrefixFormat, budget)
	}

	systemText := anthropic.SystemText(req.System)
	switch {
	case systemText != "":
		if thinkingPrefix != "" &&
			!strings.Contains(systemText, "<thinking_mode>") &&
			!strings.Contains(systemText, "<max_thinking_length>") {
			systemText = thinkingPrefix + "\n" + systemText
		}
		pushPair(systemText)
	case thinkingPrefix != "":
		pushPair(thinkingPrefix)
	}

	// Walk the history span, buffering consecutive user messages so each
	// assistant turn is preceded by exactly one merged user turn.
	var buffer []anthropic.Message
	for _, msg := range req.Messages[:historyEnd] {
		if msg.Role == anthropic.RoleUser {
			buffer = append(buffer, msg)
			continue
		}
		history = append(history, kiro.UserTurn(mergeUserMessages(buffer, modelID)))
		buffer = buffer[:0]
		ac := ExtractAssistantContent(msg, names)
		turn := kiro.AssistantResponseMessage{Content: ac.Text}
		if len(ac.ToolUses) > 0 {
			turn.ToolUses = ac.ToolUses
		}
		history = append(history, kiro.AssistantTurn(turn))
	}
	if len(buffer) > 0 {
		history = append(history, kiro.UserTurn(mergeUserMessages(buffer, modelID)))
		history = append(history, kiro.AssistantTurn(kiro.AssistantResponseMessage{Content: fillerOK}))
	}

	current := kiro.UserInputMessage{ModelID: modelID, Origin: kiro.OriginAIEditor}
	var currentResults []kiro.ToolResult
	if endsWithAssistant {
		current.Content = fillerContinue
	} else {
		var texts []string
		for _, msg := range window {
			uc := ExtractUserContent(msg)
			if uc.Text != "" {
				texts = append(texts, uc.Text)
			}
			currentResults = append(currentResults, uc.ToolResults...)
		}
		current.Content = strings.Join(texts, "\n")
		if current.Content == "" {
			current.Content = fillerContinue
		}
	}

	var tools []kiro.Tool
	for _, tool := range req.Tools {
		if IsUnsupportedTool(tool.Name) {
			continue
		}
		tools = append(tools, kiro.Tool{ToolSpecification: kiro.ToolSpecification{
			Name:        names.Assign(tool.Name),
			Description: truncateRunes(tool.Description, maxToolDescription),
			InputSchema: kiro.InputSchema{JSON: CoerceObject(tool.InputSchema)},
		}})
	}

	if len(tools) > 0 || len(currentResults) > 0 {
		current.UserInputMessageContext = &kiro.UserInputMessageContext{
			Tools:       tools,
			ToolResults: currentResults,
		}
	}

	trigger := kiro.TriggerManual
	if len(tools) > 0 && req.ToolChoice != nil &&
		(req.ToolChoice.Type == "any" || req.ToolChoice.Type == "tool") {
		trigger = kiro.TriggerAuto
	}

	env := &kiro.Envelope{
		ConversationState: kiro.ConversationState{
			ChatTriggerType:     trigger,
			ConversationID:      uuid.NewString(),
			AgentContinuationID: uuid.NewString(),
			AgentTaskType:       kiro.AgentTaskTypeVibe,
			CurrentMessage:      kiro.Turn{UserInputMessage: &current},
			History:             history,
		},
	}

	t.logger.Debug("request translated",
		"model", req.Model,
		"model_id", modelID,
		"history_turns", len(history),
		"tools", len(tools),
		"tool_results", len(currentResults),
		"trigger", trigger,
	)
	return env, names.Mapping(), nil
}

// mergeUserMessages folds buffered consecutive user messages into a single
// user turn: texts join with newlines (empties dropped), tool results
// concatenate in order. A turn that carries only tool results gets a literal
// "continue" so its content is non-empty; an empty buffer folds to an empty
// placeholder turn, which keeps history alternation intact when a request
// opens with an assistant message.
func mergeUserMessages(buffer []anthropic.Message, modelID string) kiro.UserInputMessage {
	var texts []string
	var results []kiro.ToolResult
	for _, m := range buffer {
		uc := ExtractUserContent(m)
		if uc.Text != "" {
			texts = append(texts, uc.Text)
		}
		results = append(results, uc.ToolResults...)
	}
	content := strings.Join(texts, "\n")
	if content == "" && len(results) > 0 {
		content = fillerContinue
	}
	msg := kiro.UserInputMessage{
		Content: content,
		ModelID: modelID,
		Origin:  kiro.OriginAIEditor,
	}
	if len(results) > 0 {
		msg.UserInputMessageContext = &kiro.UserInputMessageContext{ToolResults: results}
	}
	return msg
}

func truncateRunes(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
