package translate

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	invalidToolChars = regexp.MustCompile(`[^A-Za-z0-9_]`)
	underscoreRuns   = regexp.MustCompile(`_{2,}`)
	leadingDigit     = regexp.MustCompile(`^[0-9]`)
)

// Tool names the upstream rejects. Matched against the lowercased sanitized
// base with surrounding underscores stripped, so "web.search!" is caught the
// same as "web_search".
var unsupportedToolNames = map[string]bool{
	"web_search": true,
	"websearch":  true,
}

// SanitizeToolName rewrites an arbitrary tool name into the upstream's
// identifier namespace: characters outside [A-Za-z0-9_] become underscores,
// underscore runs collapse to one, the empty result becomes "tool", and a
// leading digit gets a "t_" prefix.
func SanitizeToolName(name string) string {
	s := invalidToolChars.ReplaceAllString(name, "_")
	s = underscoreRuns.ReplaceAllString(s, "_")
	if s == "" {
		return "tool"
	}
	if leadingDigit.MatchString(s) {
		s = "t_" + s
	}
	return s
}

// IsUnsupportedTool reports whether a tool must be dropped from tool
// definitions and assistant tool uses. User tool results referencing such a
// tool are kept.
func IsUnsupportedTool(name string) bool {
	base := strings.Trim(strings.ToLower(SanitizeToolName(name)), "_")
	return unsupportedToolNames[base]
}

// NameTable assigns sanitized tool names for one request, keeping the
// original-to-sanitized mapping stable across repeated sightings and
// resolving collisions with numeric suffixes.
type NameTable struct {
	assigned map[string]string
	used     map[string]bool
}

// NewNameTable returns an empty per-request table.
func NewNameTable() *NameTable {
	return &NameTable{
		assigned: make(map[string]string),
		used:     make(map[string]bool),
	}
}

// Assign returns the sanitized name for original, allocating one on first
// sight. A base name already taken by a different original gets "_2", "_3",
// and so on appended until unused.
func (t *NameTable) Assign(original string) string {
	if name, ok := t.assigned[original]; ok {
		return name
	}
	base := SanitizeToolName(original)
	name := base
	for i := 2; t.used[name]; i++ {
		name = fmt.Sprintf("%s_%d", base, i)
	}
	t.assigned[original] = name
	t.used[name] = true
	return name
}

// Mapping returns a copy of the original-to-sanitized map accumulated so far.
func (t *NameTable) Mapping() map[string]string {
	m := make(map[string]string, len(t.assigned))
	for k, v := range t.assigned {
		m[k] = v
	}
	return m
}

// Len reports how many distinct original names have been assigned.
func (t *NameTable) Len() int {
	return len(t.assigned)
}
