package config

// MergeMaps merges src into dst recursively and returns dst. Nested maps
// are merged key by key; any other value in src replaces the one in dst.
// A nil dst is allocated.
func MergeMaps(dst, src map[string]interface{}) map[string]interface{} {
	if dst == nil {
		dst = make(map[string]interface{}, len(src))
	}
	for k, sv := range src {
		sm, srcIsMap := sv.(map[string]interface{})
		dm, dstIsMap := dst[k].(map[string]interface{})
		if srcIsMap && dstIsMap {
			dst[k] = MergeMaps(dm, sm)
			continue
		}
		if srcIsMap {
			dst[k] = MergeMaps(nil, sm)
			continue
		}
		if list, ok := sv.([]interface{}); ok {
			sv = append([]interface{}(nil), list...)
		}
		dst[k] = sv
	}
	return dst
}

// CopyMap returns a deep copy of m.
func CopyMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	return MergeMaps(nil, m)
}

func copyStrings(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
