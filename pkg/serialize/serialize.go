// Package serialize renders interchange headers and tables deterministically.
//
// Two processes serializing the same logical value must produce byte-identical
// output regardless of map iteration or insertion order.
package serialize

import (
	"bytes"
	"encoding"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"gopkg.in/yaml.v3"
)

// TimeFormat is the textual form every timestamp is coerced to.
const TimeFormat = "2006-01-02T15:04:05.000Z07:00"

var timeType = reflect.TypeOf(time.Time{})

// FormatTime renders t in the canonical UTC form, e.g. 2026-01-02T15:04:05.000Z.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeFormat)
}

// Frontmatter renders meta as YAML with recursively sorted keys and
// double-quoted string scalars. The result ends with a newline.
func Frontmatter(meta map[string]any) (string, error) {
	node, err := toNode(reflect.ValueOf(meta))
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(node); err != nil {
		return "", fmt.Errorf("serialize: encode frontmatter: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("serialize: close encoder: %w", err)
	}
	return buf.String(), nil
}

func toNode(v reflect.Value) (*yaml.Node, error) {
	if !v.IsValid() {
		return nullNode(), nil
	}
	for v.Kind() == reflect.Interface || v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return nullNode(), nil
		}
		v = v.Elem()
	}

	if t, ok := asTime(v); ok {
		return stringNode(FormatTime(t)), nil
	}
	if v.CanInterface() {
		if tm, ok := v.Interface().(encoding.TextMarshaler); ok && v.Kind() != reflect.String {
			text, err := tm.MarshalText()
			if err != nil {
				return nil, fmt.Errorf("serialize: marshal %s: %w", v.Type(), err)
			}
			return stringNode(string(text)), nil
		}
	}

	switch v.Kind() {
	case reflect.String:
		return stringNode(v.String()), nil
	case reflect.Bool:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!bool", Value: strconv.FormatBool(v.Bool())}, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!int", Value: strconv.FormatInt(v.Int(), 10)}, nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!int", Value: strconv.FormatUint(v.Uint(), 10)}, nil
	case reflect.Float32, reflect.Float64:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!float", Value: strconv.FormatFloat(v.Float(), 'g', -1, 64)}, nil
	case reflect.Slice, reflect.Array:
		if v.Kind() == reflect.Slice && v.IsNil() {
			return &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}, nil
		}
		seq := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		for i := 0; i < v.Len(); i++ {
			child, err := toNode(v.Index(i))
			if err != nil {
				return nil, err
			}
			seq.Content = append(seq.Content, child)
		}
		return seq, nil
	case reflect.Map:
		if v.Type().Key().Kind() != reflect.String {
			return nil, fmt.Errorf("serialize: unsupported map key type %s", v.Type().Key())
		}
		keys := make([]string, 0, v.Len())
		for _, k := range v.MapKeys() {
			keys = append(keys, k.String())
		}
		sort.Strings(keys)
		m := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
		for _, k := range keys {
			child, err := toNode(v.MapIndex(reflect.ValueOf(k).Convert(v.Type().Key())))
			if err != nil {
				return nil, fmt.Errorf("serialize: key %q: %w", k, err)
			}
			m.Content = append(m.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: k}, child)
		}
		return m, nil
	default:
		return nil, fmt.Errorf("serialize: unsupported value type %s", v.Type())
	}
}

// asTime unwraps time.Time and single-field structs embedding it, so wrapper
// types get the canonical form instead of their promoted MarshalText.
func asTime(v reflect.Value) (time.Time, bool) {
	if v.Type() == timeType {
		return v.Interface().(time.Time), true
	}
	if v.Kind() == reflect.Struct && v.NumField() == 1 {
		f := v.Type().Field(0)
		if f.Anonymous && f.Type == timeType {
			return v.Field(0).Interface().(time.Time), true
		}
	}
	return time.Time{}, false
}

func stringNode(s string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Style: yaml.DoubleQuotedStyle, Value: s}
}

func nullNode() *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!null", Value: "null"}
}

// Table renders a pipe-delimited markdown table. Each column is as wide as its
// longest header or cell, with a floor of 3. Literal pipes in cells are escaped
// so columns stay aligned. Lines are joined with "\n" without a trailing newline.
func Table(headers []string, rows [][]string) string {
	cols := len(headers)
	for _, r := range rows {
		if len(r) > cols {
			cols = len(r)
		}
	}

	cell := func(r []string, i int) string {
		if i < len(r) {
			return escapeCell(r[i])
		}
		return ""
	}

	widths := make([]int, cols)
	for i := range widths {
		widths[i] = 3
		if w := utf8.RuneCountInString(cell(headers, i)); w > widths[i] {
			widths[i] = w
		}
		for _, r := range rows {
			if w := utf8.RuneCountInString(cell(r, i)); w > widths[i] {
				widths[i] = w
			}
		}
	}

	line := func(values func(i int) string) string {
		var b strings.Builder
		b.WriteString("|")
		for i := 0; i < cols; i++ {
			v := values(i)
			b.WriteString(" ")
			b.WriteString(v)
			b.WriteString(strings.Repeat(" ", widths[i]-utf8.RuneCountInString(v)))
			b.WriteString(" |")
		}
		return b.String()
	}

	lines := make([]string, 0, len(rows)+2)
	lines = append(lines, line(func(i int) string { return cell(headers, i) }))
	lines = append(lines, line(func(i int) string { return strings.Repeat("-", widths[i]) }))
	for _, r := range rows {
		lines = append(lines, line(func(i int) string { return cell(r, i) }))
	}
	return strings.Join(lines, "\n")
}

func escapeCell(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.ReplaceAll(s, "|", `\|`)
}
