package translate

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/haasonsaas/kirogate/internal/anthropic"
	"github.com/haasonsaas/kirogate/internal/kiro"
)

// UserContent is the normalized form of one user message: flattened text
// plus the tool results threaded out of its blocks.
type UserContent struct {
	Text        string
	ToolResults []kiro.ToolResult
}

// AssistantContent is the normalized form of one assistant message:
// flattened text (with thinking blocks wrapped) plus the surviving tool uses.
type AssistantContent struct {
	Text     string
	ToolUses []kiro.ToolUse
}

// ExtractText flattens a message's content to plain text. Strings pass
// through, block arrays reduce to their text blocks joined with newlines,
// anything else yields the empty string.
func ExtractText(m anthropic.Message) string {
	if s, ok := m.Text(); ok {
		return s
	}
	if blocks, ok := m.Blocks(); ok {
		return anthropic.JoinText(blocks)
	}
	return ""
}

// ExtractUserContent normalizes a user message. Every tool_result block
// becomes one upstream tool result; its payload is coerced to a single text
// fragment.
func ExtractUserContent(m anthropic.Message) UserContent {
	if s, ok := m.Text(); ok {
		return UserContent{Text: s}
	}
	blocks, ok := m.Blocks()
	if !ok {
		return UserContent{}
	}
	var texts []string
	var results []kiro.ToolResult
	for _, b := range blocks {
		switch b.Type {
		case anthropic.BlockText:
			texts = append(texts, b.Text)
		case anthropic.BlockToolResult:
			status := kiro.ResultSuccess
			if b.IsError {
				status = kiro.ResultError
			}
			results = append(results, kiro.ToolResult{
				ToolUseID: b.ToolUseID,
				Status:    status,
				Content:   []kiro.ToolResultContent{{Text: b.ResultText()}},
			})
		}
	}
	return UserContent{Text: strings.Join(texts, "\n"), ToolResults: results}
}

// ExtractAssistantContent normalizes an assistant message. Thinking blocks
// concatenate into a <thinking> wrapper ahead of the text; tool_use blocks
// are renamed through the table, with unsupported tools dropped. The
// upstream requires non-empty assistant content, so a turn that reduced to
// nothing but tool uses gets a literal "OK".
func ExtractAssistantContent(m anthropic.Message, names *NameTable) AssistantContent {
	if s, ok := m.Text(); ok {
		return AssistantContent{Text: s}
	}
	blocks, ok := m.Blocks()
	if !ok {
		return AssistantContent{}
	}
	var thinking strings.Builder
	var texts []string
	var uses []kiro.ToolUse
	for _, b := range blocks {
		switch b.Type {
		case anthropic.BlockThinking:
			thinking.WriteString(b.Thinking)
		case anthropic.BlockText:
			texts = append(texts, b.Text)
		case anthropic.BlockToolUse:
			if IsUnsupportedTool(b.Name) {
				continue
			}
			uses = append(uses, kiro.ToolUse{
				ToolUseID: b.ID,
				Name:      names.Assign(b.Name),
				Input:     CoerceObject(b.Input),
			})
		}
	}
	text := composeAssistantText(thinking.String(), texts)
	if text == "" && len(uses) > 0 {
		text = fillerOK
	}
	return AssistantContent{Text: text, ToolUses: uses}
}

func composeAssistantText(thinking string, texts []string) string {
	body := strings.Join(texts, "\n")
	switch {
	case thinking != "" && body != "":
		return "<thinking>" + thinking + "</thinking>\n\n" + body
	case thinking != "":
		return "<thinking>" + thinking + "</thinking>"
	default:
		return body
	}
}

// CoerceObject forces an arbitrary JSON value into an object. Objects pass
// through; strings are parsed and must themselves contain an object;
// everything else, including arrays and parse failures, becomes the empty
// object.
func CoerceObject(raw json.RawMessage) map[string]any {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return map[string]any{}
	}
	switch trimmed[0] {
	case '{':
		var obj map[string]any
		if err := json.Unmarshal(trimmed, &obj); err != nil || obj == nil {
			return map[string]any{}
		}
		return obj
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return map[string]any{}
		}
		var obj map[string]any
		if err := json.Unmarshal([]byte(s), &obj); err != nil || obj == nil {
			return map[string]any{}
		}
		return obj
	default:
		return map[string]any{}
	}
}
