package workflow

import (
	"encoding/json"
	"fmt"
)

// DecodeContext converts a workflow context into a typed struct. The engine
// keeps contexts as plain maps; definitions that want a concrete shape
// decode at the call site.
func DecodeContext[C any](m map[string]any) (C, error) {
	var out C
	data, err := json.Marshal(m)
	if err != nil {
		return out, fmt.Errorf("failed to encode workflow context: %w", err)
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("failed to decode workflow context: %w", err)
	}
	return out, nil
}

// EncodeContext converts a typed struct into a context map suitable for a
// StepResult.
func EncodeContext[C any](c C) (map[string]any, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to encode workflow context: %w", err)
	}
	out := map[string]any{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to decode workflow context: %w", err)
	}
	return out, nil
}

// cloneValue deep copies the map and slice structure of v.
func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

// mergeContext writes the top level keys of patch into dst.
func mergeContext(dst, patch map[string]any) {
	for k, v := range patch {
		dst[k] = cloneValue(v)
	}
}
