package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"gopkg.in/yaml.v3"
)

// StringList is a list of strings that also decodes bare strings, objects
// and nulls. Decoded values are always non-nil so renderers can range over
// them without checks.
type StringList []string

// Normalize returns a non-nil list.
func (l StringList) Normalize() StringList {
	if l == nil {
		return StringList{}
	}
	return l
}

// Clone returns a non-nil copy.
func (l StringList) Clone() StringList {
	return append(StringList{}, l...)
}

func (l StringList) MarshalJSON() ([]byte, error) {
	return json.Marshal([]string(l.Normalize()))
}

func (l *StringList) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode string list: %w", err)
	}
	*l = coerceList(raw)
	return nil
}

func (l *StringList) UnmarshalYAML(node *yaml.Node) error {
	var raw any
	if err := node.Decode(&raw); err != nil {
		return fmt.Errorf("decode string list: %w", err)
	}
	if node.Kind == yaml.MappingNode {
		// Keep document order instead of map order.
		out := StringList{}
		for i := 1; i < len(node.Content); i += 2 {
			var v any
			if err := node.Content[i].Decode(&v); err != nil {
				return fmt.Errorf("decode string list: %w", err)
			}
			out = append(out, coerceList(v)...)
		}
		*l = out
		return nil
	}
	*l = coerceList(raw)
	return nil
}

// Improvements groups remediation suggestions by category.
type Improvements map[string]StringList

// Normalize returns a non-nil map whose lists are all non-nil.
func (m Improvements) Normalize() Improvements {
	out := make(Improvements, len(m))
	for k, v := range m {
		out[k] = v.Normalize()
	}
	return out
}

// Clone returns a deep, normalized copy.
func (m Improvements) Clone() Improvements {
	out := make(Improvements, len(m))
	for k, v := range m {
		out[k] = v.Clone()
	}
	return out
}

func (m Improvements) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]StringList(m.Normalize()))
}

func (m *Improvements) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode improvements: %w", err)
	}
	*m = coerceImprovements(raw)
	return nil
}

func (m *Improvements) UnmarshalYAML(node *yaml.Node) error {
	var raw any
	if err := node.Decode(&raw); err != nil {
		return fmt.Errorf("decode improvements: %w", err)
	}
	*m = coerceImprovements(raw)
	return nil
}

const generalCategory = "general"

func coerceImprovements(raw any) Improvements {
	out := Improvements{}
	switch v := raw.(type) {
	case nil:
	case map[string]any:
		for k, item := range v {
			out[k] = coerceList(item)
		}
	default:
		if list := coerceList(v); len(list) > 0 {
			out[generalCategory] = list
		}
	}
	return out
}

func coerceList(raw any) StringList {
	out := StringList{}
	switch v := raw.(type) {
	case nil:
	case string:
		if v != "" {
			out = append(out, v)
		}
	case []any:
		for _, item := range v {
			if s, ok := scalarString(item); ok {
				if s != "" {
					out = append(out, s)
				}
				continue
			}
			out = append(out, compactJSON(item))
		}
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			out = append(out, coerceList(v[k])...)
		}
	default:
		if s, ok := scalarString(v); ok {
			out = append(out, s)
		}
	}
	return out
}

func scalarString(v any) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64), true
	case int:
		return strconv.Itoa(s), true
	case bool:
		return strconv.FormatBool(s), true
	}
	return "", false
}

func compactJSON(v any) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return fmt.Sprint(v)
	}
	return string(bytes.TrimSpace(buf.Bytes()))
}
