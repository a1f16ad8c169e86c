// Package parser provides utilities for cleaning structured content out of
// LLM completions.
package parser

import (
	"strings"
)

// ThinkingParser separates <thinking> and <think> blocks from regular
// content. It keeps state across Parse calls so tags may span chunks.
type ThinkingParser struct {
	thinking   strings.Builder
	message    strings.Builder
	tagBuffer  strings.Builder // Buffer for potential tag content between < and >
	inThinking bool
	inTag      bool // true when we're buffering a potential tag (saw '<' but not yet '>')
}

// NewThinkingParser creates a new thinking parser.
func NewThinkingParser() *ThinkingParser {
	return &ThinkingParser{}
}

func isOpenTag(tag string) bool  { return tag == "<thinking>" || tag == "<think>" }
func isCloseTag(tag string) bool { return tag == "</thinking>" || tag == "</think>" }

// Parse consumes a content chunk.
func (p *ThinkingParser) Parse(content string) {
	for _, ch := range content {
		if ch == '<' {
			// If we're already in a tag, the previous < wasn't a real tag
			if p.inTag {
				p.write(p.tagBuffer.String())
			}
			p.inTag = true
			p.tagBuffer.Reset()
			p.tagBuffer.WriteRune(ch)
			continue
		}

		if ch == '>' && p.inTag {
			p.tagBuffer.WriteRune(ch)
			tag := p.tagBuffer.String()
			p.tagBuffer.Reset()
			p.inTag = false

			switch {
			case isOpenTag(tag):
				p.inThinking = true
			case isCloseTag(tag):
				p.inThinking = false
			default:
				p.write(tag)
			}
			continue
		}

		if p.inTag {
			p.tagBuffer.WriteRune(ch)
		} else {
			p.write(string(ch))
		}
	}
}

func (p *ThinkingParser) write(s string) {
	if p.inThinking {
		p.thinking.WriteString(s)
		return
	}
	p.message.WriteString(s)
}

// Flush emits any partially buffered tag as content and returns the
// accumulated thinking and message text.
func (p *ThinkingParser) Flush() (thinking, message string) {
	if p.inTag {
		p.write(p.tagBuffer.String())
		p.tagBuffer.Reset()
		p.inTag = false
	}
	return p.thinking.String(), p.message.String()
}

// StripThinking removes reasoning blocks from a full completion and trims
// surrounding whitespace.
func StripThinking(text string) string {
	p := NewThinkingParser()
	p.Parse(text)
	_, message := p.Flush()
	return strings.TrimSpace(message)
}
