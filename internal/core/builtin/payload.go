package builtin

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Payload is a decoded job payload. Numbers are kept as json.Number.
type Payload map[string]any

func (p Payload) String(key, def string) string {
	v, ok := p[key]
	if !ok || v == nil {
		return def
	}
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

// Int accepts JSON numbers and numeric strings, truncating fractions.
func (p Payload) Int(key string, def int64) (int64, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return def, nil
	}
	var s string
	switch t := v.(type) {
	case json.Number:
		s = t.String()
	case string:
		s = strings.TrimSpace(t)
	case bool:
		if t {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, fmt.Errorf("%s: expected an integer, got %T", key, v)
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid literal for int(): %q", s)
	}
	return int64(f), nil
}

func (p Payload) Bool(key string, def bool) bool {
	v, ok := p[key]
	if !ok || v == nil {
		return def
	}
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return t != ""
	case json.Number:
		return t.String() != "0"
	}
	return def
}

func (p Payload) Floats(key string) ([]float64, error) {
	items, err := p.list(key)
	if err != nil {
		return nil, err
	}
	out := make([]float64, 0, len(items))
	for _, it := range items {
		n, ok := it.(json.Number)
		if !ok {
			return nil, fmt.Errorf("%s: expected numbers, got %T", key, it)
		}
		f, err := n.Float64()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		out = append(out, f)
	}
	return out, nil
}

func (p Payload) Strings(key string) ([]string, error) {
	items, err := p.list(key)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		s, ok := it.(string)
		if !ok {
			return nil, fmt.Errorf("%s: expected strings, got %T", key, it)
		}
		out = append(out, s)
	}
	return out, nil
}

func (p Payload) list(key string) ([]any, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return nil, nil
	}
	items, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("%s: expected a list, got %T", key, v)
	}
	return items, nil
}
