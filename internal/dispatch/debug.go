package dispatch

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Bounds for the request-debug summary. The summary describes the shape of a
// failed request body without reproducing any payload text, so it is safe to
// log.
const (
	SummaryMaxDepth    = 6
	SummaryMaxKeys     = 60
	SummaryArraySample = 3
)

// SummarizeRequest renders a bounded structural sketch of a JSON request
// body. Strings become "<string len=N>" markers, objects become
// {_type: object, keys: ...} with at most SummaryMaxKeys keys, arrays become
// {_type: array, length, sample} with the first SummaryArraySample elements,
// and nesting stops at SummaryMaxDepth with a "[MaxDepth]" marker. The _type
// tag tells a summarized container apart from a payload object with the same
// field names.
func SummarizeRequest(body []byte) any {
	var decoded any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return fmt.Sprintf("<unparseable body len=%d>", len(body))
	}
	return summarizeValue(decoded, 0)
}

func summarizeValue(v any, depth int) any {
	if depth >= SummaryMaxDepth {
		return "[MaxDepth]"
	}
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make(map[string]any, len(keys))
		for i, k := range keys {
			if i >= SummaryMaxKeys {
				out["..."] = fmt.Sprintf("<%d more keys>", len(keys)-SummaryMaxKeys)
				break
			}
			out[k] = summarizeValue(val[k], depth+1)
		}
		return map[string]any{
			"_type": "object",
			"keys":  out,
		}
	case []any:
		n := len(val)
		if n > SummaryArraySample {
			n = SummaryArraySample
		}
		sample := make([]any, n)
		for i := 0; i < n; i++ {
			sample[i] = summarizeValue(val[i], depth+1)
		}
		return map[string]any{
			"_type":  "array",
			"length": len(val),
			"sample": sample,
		}
	case string:
		return fmt.Sprintf("<string len=%d>", len(val))
	default:
		// Numbers, booleans and nulls carry no payload text.
		return val
	}
}
