package codec

import "fmt"

// The As* helpers type-assert a decoded generic value, returning a
// descriptive error on mismatch. Every Unmarshal in the codebase reads
// a map[string]any produced by Decode through these rather than bare
// type assertions, so a malformed patch fails with a codec error
// instead of a panic (spec.md §7: "the reducer ... raise[s] on
// malformed patch ops by surfacing the codec error").
func AsMap(v any) (map[string]any, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("codec: expected map, got %T", v)
	}
	return m, nil
}

func AsList(v any) ([]any, error) {
	l, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("codec: expected list, got %T", v)
	}
	return l, nil
}

func AsString(v any) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("codec: expected string, got %T", v)
	}
	return s, nil
}

func AsUint64(v any) (uint64, error) {
	switch x := v.(type) {
	case uint64:
		return x, nil
	case int64:
		return uint64(x), nil
	default:
		return 0, fmt.Errorf("codec: expected integer, got %T", v)
	}
}

func AsInt64(v any) (int64, error) {
	switch x := v.(type) {
	case int64:
		return x, nil
	case uint64:
		return int64(x), nil
	default:
		return 0, fmt.Errorf("codec: expected integer, got %T", v)
	}
}

func Field(m map[string]any, key string) (any, error) {
	v, ok := m[key]
	if !ok {
		return nil, fmt.Errorf("codec: missing field %q", key)
	}
	return v, nil
}

// OptField returns (value, true) if present, (nil, false) otherwise —
// for optional fields like reads/writes/provenance that may be omitted
// entirely from the encoded map.
func OptField(m map[string]any, key string) (any, bool) {
	v, ok := m[key]
	return v, ok
}
