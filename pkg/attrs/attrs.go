// Package attrs reads values back out of slog-style key/value argument lists.
package attrs

// ExtractString returns the string value stored under key in a
// [key1, value1, key2, value2, ...] slice, or "" when absent or not a string.
func ExtractString(attrs []any, key string) string {
	if v, ok := Extract(attrs, key).(string); ok {
		return v
	}
	return ""
}

// Extract returns the raw value stored under key, or nil.
func Extract(attrs []any, key string) any {
	for i := 0; i < len(attrs)-1; i += 2 {
		if k, ok := attrs[i].(string); ok && k == key {
			return attrs[i+1]
		}
	}
	return nil
}

// FirstString returns the first non-empty string among keys, in order.
func FirstString(attrs []any, keys ...string) string {
	for _, key := range keys {
		if v := ExtractString(attrs, key); v != "" {
			return v
		}
	}
	return ""
}
