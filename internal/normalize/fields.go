package normalize

// stringField returns data[key] as a non-empty string and true, or
// ("", false) if absent, not a string, or empty — "non-empty wins"
// chains rely on the false branch to keep falling through.
func stringField(data map[string]any, key string) (string, bool) {
	v, ok := data[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

// nestedString walks data through a chain of map keys and returns the
// final string value. Any missing key, non-map intermediate, or
// non-string/empty leaf yields ("", false).
func nestedString(data map[string]any, path ...string) (string, bool) {
	cur := any(data)
	for i, key := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return "", false
		}
		v, ok := m[key]
		if !ok {
			return "", false
		}
		if i == len(path)-1 {
			s, ok := v.(string)
			if !ok || s == "" {
				return "", false
			}
			return s, true
		}
		cur = v
	}
	return "", false
}

// firstNonEmpty evaluates each lookup in order and returns the first
// one that reports a present value.
func firstNonEmpty(lookups ...func() (string, bool)) string {
	for _, lookup := range lookups {
		if v, ok := lookup(); ok {
			return v
		}
	}
	return ""
}

// deepCopyMap produces a structurally independent copy of data: no
// mutation of the upstream source after normalization can reach the
// returned value at any depth. JSON decoding only ever produces
// map[string]any, []any, string, float64, bool, and nil, so those are
// the only cases handled; any other concrete type is immutable or
// copied by value already and is returned as-is.
func deepCopyMap(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return deepCopyMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = deepCopyValue(e)
		}
		return out
	default:
		return t
	}
}
