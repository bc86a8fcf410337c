package config

import (
	"strings"

	"github.com/spf13/cast"
)

// Bool reads key as a boolean, falling back to def for unset or unparsable values.
func Bool(p Provider, key string, def bool) bool {
	b, err := cast.ToBoolE(p.Get(key, def))
	if err != nil {
		return def
	}
	return b
}

// String reads key as a trimmed string.
func String(p Provider, key, def string) string {
	s, err := cast.ToStringE(p.Get(key, def))
	if err != nil {
		return def
	}
	return strings.TrimSpace(s)
}

// StringSlice reads key as a list. A single string is split on commas, which
// is how lists arrive from environment variables.
func StringSlice(p Provider, key string) []string {
	raw := p.Get(key, nil)
	if raw == nil {
		return nil
	}
	var items []string
	if s, ok := raw.(string); ok {
		items = strings.Split(s, ",")
	} else {
		list, err := cast.ToStringSliceE(raw)
		if err != nil {
			return nil
		}
		items = list
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		if it = strings.TrimSpace(it); it != "" {
			out = append(out, it)
		}
	}
	return out
}
