package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrNoJSON is returned when a response contains no JSON value of the
// expected shape.
var ErrNoJSON = errors.New("schema: no JSON value in response")

// ExtractJSON strips code fences and surrounding prose from raw and returns
// the first complete JSON value that starts with open ('{' or '[').
// Anything after that value is ignored.
func ExtractJSON(raw string, open byte) (json.RawMessage, error) {
	text := stripCodeFence(strings.TrimSpace(raw))
	start := strings.IndexByte(text, open)
	if start < 0 {
		return nil, ErrNoJSON
	}

	dec := json.NewDecoder(strings.NewReader(text[start:]))
	var value json.RawMessage
	if err := dec.Decode(&value); err != nil {
		return nil, fmt.Errorf("schema: decode JSON: %w", err)
	}
	return bytes.TrimSpace(value), nil
}

// stripCodeFence returns the body of the first ``` fenced block, or text
// unchanged when no fence is present.
func stripCodeFence(text string) string {
	open := strings.Index(text, "```")
	if open < 0 {
		return text
	}
	body := text[open+3:]
	// Drop the info string ("json", "JSON", ...) on the opening fence line.
	if nl := strings.IndexByte(body, '\n'); nl >= 0 {
		info := strings.TrimSpace(body[:nl])
		if info == "" || !strings.ContainsAny(info, "{[") {
			body = body[nl+1:]
		}
	}
	if end := strings.Index(body, "```"); end >= 0 {
		body = body[:end]
	}
	return strings.TrimSpace(body)
}

// looseString accepts any JSON value and keeps it only when it is a string.
// Used for fields where a wrong type must not fail the whole extraction.
type looseString struct {
	value string
	ok    bool
}

func (s *looseString) UnmarshalJSON(b []byte) error {
	var v string
	if err := json.Unmarshal(b, &v); err != nil {
		*s = looseString{}
		return nil
	}
	*s = looseString{value: v, ok: true}
	return nil
}

// optional trims p and maps empty or "null" text to nil.
func optional(p *string) *string {
	if p == nil {
		return nil
	}
	v := strings.TrimSpace(*p)
	if v == "" || strings.EqualFold(v, "null") || strings.EqualFold(v, "none") {
		return nil
	}
	return &v
}

func (s looseString) ptr() *string {
	if !s.ok {
		return nil
	}
	return optional(&s.value)
}
