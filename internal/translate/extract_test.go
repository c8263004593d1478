package translate

import (
	"encoding/json"
	"reflect"
	"testing"

	"github.com/haasonsaas/kirogate/internal/anthropic"
	"github.com/haasonsaas/kirogate/internal/kiro"
)

func userMsg(content string) anthropic.Message {
	return anthropic.Message{Role: anthropic.RoleUser, Content: json.RawMessage(content)}
}

func assistantMsg(content string) anthropic.Message {
	return anthropic.Message{Role: anthropic.RoleAssistant, Content: json.RawMessage(content)}
}

func TestExtractText(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"plain string", `"hello"`, "hello"},
		{"single text block", `[{"type":"text","text":"hi"}]`, "hi"},
		{"joins text blocks", `[{"type":"text","text":"a"},{"type":"text","text":"b"}]`, "a\nb"},
		{"skips non-text blocks", `[{"type":"text","text":"a"},{"type":"tool_use","id":"t1","name":"x"},{"type":"text","text":"b"}]`, "a\nb"},
		{"number content", `42`, ""},
		{"object content", `{"oops":true}`, ""},
		{"empty content", ``, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractText(userMsg(tt.content)); got != tt.want {
				t.Errorf("ExtractText() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExtractUserContent_PlainString(t *testing.T) {
	uc := ExtractUserContent(userMsg(`"run it"`))
	if uc.Text != "run it" {
		t.Errorf("Text = %q, want %q", uc.Text, "run it")
	}
	if len(uc.ToolResults) != 0 {
		t.Errorf("ToolResults = %v, want none", uc.ToolResults)
	}
}

func TestExtractUserContent_ToolResults(t *testing.T) {
	content := `[
		{"type":"text","text":"here"},
		{"type":"tool_result","tool_use_id":"T1","content":"42"},
		{"type":"tool_result","tool_use_id":"T2","content":[{"type":"text","text":"a"},{"type":"text","text":"b"}],"is_error":true}
	]`
	uc := ExtractUserContent(userMsg(content))

	if uc.Text != "here" {
		t.Errorf("Text = %q, want %q", uc.Text, "here")
	}
	want := []kiro.ToolResult{
		{ToolUseID: "T1", Status: kiro.ResultSuccess, Content: []kiro.ToolResultContent{{Text: "42"}}},
		{ToolUseID: "T2", Status: kiro.ResultError, Content: []kiro.ToolResultContent{{Text: "a\nb"}}},
	}
	if !reflect.DeepEqual(uc.ToolResults, want) {
		t.Errorf("ToolResults = %+v, want %+v", uc.ToolResults, want)
	}
}

func TestExtractUserContent_ToolResultOddPayload(t *testing.T) {
	uc := ExtractUserContent(userMsg(`[{"type":"tool_result","tool_use_id":"T1","content":{"not":"text"}}]`))
	if len(uc.ToolResults) != 1 {
		t.Fatalf("got %d tool results, want 1", len(uc.ToolResults))
	}
	if uc.ToolResults[0].Content[0].Text != "" {
		t.Errorf("odd payload coerced to %q, want empty string", uc.ToolResults[0].Content[0].Text)
	}
}

func TestExtractAssistantContent_ThinkingWrapping(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{
			"thinking with text",
			`[{"type":"thinking","thinking":"hmm"},{"type":"text","text":"answer"}]`,
			"<thinking>hmm</thinking>\n\nanswer",
		},
		{
			"thinking only",
			`[{"type":"thinking","thinking":"hmm"}]`,
			"<thinking>hmm</thinking>",
		},
		{
			"thinking blocks concatenate",
			`[{"type":"thinking","thinking":"a"},{"type":"thinking","thinking":"b"},{"type":"text","text":"c"}]`,
			"<thinking>ab</thinking>\n\nc",
		},
		{
			"text only",
			`[{"type":"text","text":"a"},{"type":"text","text":"b"}]`,
			"a\nb",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ac := ExtractAssistantContent(assistantMsg(tt.content), NewNameTable())
			if ac.Text != tt.want {
				t.Errorf("Text = %q, want %q", ac.Text, tt.want)
			}
		})
	}
}

func TestExtractAssistantContent_ToolUses(t *testing.T) {
	names := NewNameTable()
	content := `[
		{"type":"text","text":"calling"},
		{"type":"tool_use","id":"T1","name":"do.thing","input":{"q":"hi"}},
		{"type":"tool_use","id":"T2","name":"web.search!","input":{"q":"dropped"}}
	]`
	ac := ExtractAssistantContent(assistantMsg(content), names)

	if ac.Text != "calling" {
		t.Errorf("Text = %q, want %q", ac.Text, "calling")
	}
	if len(ac.ToolUses) != 1 {
		t.Fatalf("got %d tool uses, want 1 (web.search! must be dropped)", len(ac.ToolUses))
	}
	use := ac.ToolUses[0]
	if use.ToolUseID != "T1" {
		t.Errorf("ToolUseID = %q, want T1 (ids are never rewritten)", use.ToolUseID)
	}
	if use.Name != "do_thing" {
		t.Errorf("Name = %q, want do_thing", use.Name)
	}
	if use.Input["q"] != "hi" {
		t.Errorf("Input = %v, want q=hi", use.Input)
	}
	if _, mapped := names.Mapping()["web.search!"]; mapped {
		t.Error("dropped tool must not enter the name map")
	}
}

func TestExtractAssistantContent_OKFiller(t *testing.T) {
	ac := ExtractAssistantContent(assistantMsg(`[{"type":"tool_use","id":"T1","name":"run","input":{}}]`), NewNameTable())
	if ac.Text != "OK" {
		t.Errorf("Text = %q, want OK when only tool uses remain", ac.Text)
	}

	// No tool uses and no text stays empty, no filler.
	ac = ExtractAssistantContent(assistantMsg(`[]`), NewNameTable())
	if ac.Text != "" {
		t.Errorf("Text = %q, want empty for empty block array", ac.Text)
	}
}

func TestCoerceObject(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want map[string]any
	}{
		{"object passes", `{"a":1}`, map[string]any{"a": float64(1)}},
		{"string holding object", `"{\"a\":1}"`, map[string]any{"a": float64(1)}},
		{"string holding garbage", `"not json"`, map[string]any{}},
		{"string holding array", `"[1,2]"`, map[string]any{}},
		{"array", `[1,2]`, map[string]any{}},
		{"number", `7`, map[string]any{}},
		{"bool", `true`, map[string]any{}},
		{"null", `null`, map[string]any{}},
		{"empty", ``, map[string]any{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CoerceObject(json.RawMessage(tt.in))
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("CoerceObject(%s) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}
