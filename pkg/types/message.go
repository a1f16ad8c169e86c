package types

import (
	"encoding/json"
	"strings"
)

// Message is a single chat turn stored in a session window.
// Role is free-form ("user", "assistant", "system", ...).
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Line renders the message the way it is shown to the summarizer.
func (m Message) Line() string {
	return m.Role + ": " + m.Content
}

// EncodeMessage serializes a message into a single list element.
func EncodeMessage(m Message) (string, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// DecodeMessage parses a stored list element. Elements written in the
// legacy "role: content" line format are still accepted.
func DecodeMessage(raw string) Message {
	if strings.HasPrefix(raw, "{") {
		var m Message
		if err := json.Unmarshal([]byte(raw), &m); err == nil {
			return m
		}
	}
	role, content, ok := strings.Cut(raw, ": ")
	if !ok {
		return Message{Content: raw}
	}
	return Message{Role: role, Content: content}
}

// MemoryResponse is the result of reading a session window.
type MemoryResponse struct {
	Messages []Message `json:"messages"`
	Context  *string   `json:"context,omitempty"`
	Tokens   int64     `json:"tokens"`
}

// SearchResult is one long-term memory hit.
// Distance is the similarity distance reported by the index (lower is closer).
type SearchResult struct {
	Role     string  `json:"role"`
	Content  string  `json:"content"`
	Distance float64 `json:"dist"`
}
