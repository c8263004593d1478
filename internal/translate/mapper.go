package translate

import (
	"context"
	"log/slog"
	"strings"

	"github.com/haasonsaas/kirogate/internal/kiro"
)

// Fallback upstream model identifiers, used when no rule table is bound or
// the table has no match for the label.
const (
	ModelSonnet = "CLAUDE_SONNET_4_5_20250929_V1_0"
	ModelOpus   = "CLAUDE_OPUS_4_1_20250805_V1_0"
	ModelHaiku  = "CLAUDE_3_7_SONNET_20250219_V1_0"
)

// MappingSource looks a client model label up in the rule table. ok is false
// on a miss; err is reserved for infrastructure failures, which the mapper
// treats as a miss so requests keep flowing.
type MappingSource interface {
	FindMapping(ctx context.Context, clientModel string) (internalID string, ok bool, err error)
}

// ModelMapper resolves client model labels to upstream model identifiers.
type ModelMapper struct {
	source MappingSource
	logger *slog.Logger
}

// NewModelMapper creates a mapper. source may be nil, in which case only the
// built-in fallback applies.
func NewModelMapper(source MappingSource, logger *slog.Logger) *ModelMapper {
	if logger == nil {
		logger = slog.Default()
	}
	return &ModelMapper{source: source, logger: logger}
}

// Map resolves clientModel. The rule table is authoritative; the fallback
// scans the lowercased label for the family substrings in a fixed order.
// Returns an unsupported-model error when nothing matches.
func (m *ModelMapper) Map(ctx context.Context, clientModel string) (string, error) {
	if m.source != nil {
		id, ok, err := m.source.FindMapping(ctx, clientModel)
		if err != nil {
			m.logger.Warn("model mapping lookup failed, falling back",
				"model", clientModel, "error", err)
		} else if ok {
			return id, nil
		}
	}
	lower := strings.ToLower(clientModel)
	switch {
	case strings.Contains(lower, "sonnet"):
		return ModelSonnet, nil
	case strings.Contains(lower, "opus"):
		return ModelOpus, nil
	case strings.Contains(lower, "haiku"):
		return ModelHaiku, nil
	}
	return "", kiro.Errorf(kiro.ErrUnsupportedModel, "unsupported model %q", clientModel)
}
