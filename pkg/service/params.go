package service

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// DefaultDuration is used when a requested duration is missing or not
// positive.
const DefaultDuration = 10

// SplitList splits s by sep, dropping empty items.
func SplitList(s, sep string) []string {
	out := []string{}
	for _, v := range strings.Split(s, sep) {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}

// ParseList decodes s as a JSON list, falling back to a single element list
// or an empty list for an empty string.
func ParseList(s string) []string {
	var raw []json.RawMessage
	if err := json.Unmarshal([]byte(s), &raw); err == nil {
		return listItems(raw)
	}
	if s == "" {
		return []string{}
	}
	return []string{s}
}

// RawList accepts a JSON array or a string holding either a JSON array or a
// single value. Anything else is an empty list.
func RawList(raw json.RawMessage) []string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return []string{}
	}
	switch raw[0] {
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return []string{}
		}
		return listItems(items)
	case '"':
		return ParseList(RawString(raw))
	default:
		return []string{}
	}
}

func listItems(items []json.RawMessage) []string {
	out := []string{}
	for _, item := range items {
		item = bytes.TrimSpace(item)
		if len(item) == 0 || string(item) == "null" {
			continue
		}
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			out = append(out, s)
			continue
		}
		out = append(out, string(item))
	}
	return out
}

func RawString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

// RawDuration accepts a JSON number or a numeric string.
func RawDuration(raw json.RawMessage) int {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return DefaultDuration
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return Duration(int(n))
	}
	return ParseDuration(RawString(raw))
}

func ParseDuration(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return DefaultDuration
	}
	return Duration(n)
}

// Duration returns n, or DefaultDuration when n is not positive.
func Duration(n int) int {
	if n <= 0 {
		return DefaultDuration
	}
	return n
}
