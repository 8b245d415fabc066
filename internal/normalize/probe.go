package normalize

import (
	"strconv"
	"strings"
)

// pathValue resolves a dotted path with optional array-index segments
// (e.g. "statuses[0].errors[0].code") against a decoded JSON value.
// Returns nil when any segment is missing.
func pathValue(v any, path string) any {
	cur := v
	for _, seg := range strings.Split(path, ".") {
		key := seg
		var idxs []int
		for strings.HasSuffix(key, "]") {
			open := strings.LastIndex(key, "[")
			if open < 0 {
				return nil
			}
			n, err := strconv.Atoi(key[open+1 : len(key)-1])
			if err != nil {
				return nil
			}
			idxs = append([]int{n}, idxs...)
			key = key[:open]
		}

		if key != "" {
			m, ok := asMap(cur)
			if !ok {
				return nil
			}
			cur = m[key]
		}
		for _, n := range idxs {
			arr, ok := cur.([]any)
			if !ok || n < 0 || n >= len(arr) {
				return nil
			}
			cur = arr[n]
		}
	}
	return cur
}

// probe tries each path in order and returns the first non-empty value.
func probe(v any, paths ...string) any {
	for _, p := range paths {
		if got := pathValue(v, p); !isEmpty(got) {
			return got
		}
	}
	return nil
}

// searchKey walks the payload tree breadth-first and returns the first
// non-empty value whose key matches any of keys, case-insensitively.
func searchKey(v any, keys ...string) any {
	lowered := make([]string, len(keys))
	for i, k := range keys {
		lowered[i] = strings.ToLower(k)
	}

	queue := []any{v}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		switch node := cur.(type) {
		case []any:
			queue = append(queue, node...)
		default:
			m, ok := asMap(node)
			if !ok {
				continue
			}
			for mk, mv := range m {
				lk := strings.ToLower(mk)
				for _, want := range lowered {
					if lk == want && !isEmpty(mv) {
						return mv
					}
				}
			}
			for _, mv := range m {
				queue = append(queue, mv)
			}
		}
	}
	return nil
}

// isEmpty reports whether a value carries no signal: nil, blank string
// after trim, or empty array.
func isEmpty(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(val) == ""
	case []any:
		return len(val) == 0
	}
	return false
}

// asMap normalizes both map[string]any and map[string]interface{} shapes.
func asMap(v any) (map[string]any, bool) {
	if m, ok := v.(map[string]any); ok {
		return m, true
	}
	if m, ok := v.(map[string]interface{}); ok {
		out := make(map[string]any, len(m))
		for k, val := range m {
			out[k] = val
		}
		return out, true
	}
	return nil, false
}

// asString renders scalar JSON values as trimmed strings. Numbers keep
// their integer form when they have no fractional part (JSON decodes all
// numbers as float64).
func asString(v any) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case float64:
		if val == float64(int64(val)) {
			return strconv.FormatInt(int64(val), 10)
		}
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case nil:
		return ""
	}
	return ""
}
