// Package chat defines the uniform completion interface the evaluation
// pipeline speaks, hiding the concrete inference backend behind it.
package chat

import (
	"context"
	"strings"
)

type Role string

const (
	RoleSystem Role = "system"
	RoleUser   Role = "user"
)

// Message is one turn of a chat prompt. Prompts are always an ordered
// slice of messages, never a free-form map.
type Message struct {
	Role    Role
	Content string
}

func System(content string) Message { return Message{Role: RoleSystem, Content: content} }
func User(content string) Message   { return Message{Role: RoleUser, Content: content} }

// Options are per-call sampling parameters. Temperature 0 requests
// greedy decoding on every backend.
type Options struct {
	Temperature    float64
	TopP           float64
	MaxTokens      int
	EnableThinking bool
}

// Completion is the backend's reply. Thinking is empty unless the
// backend exposes a separate reasoning channel.
type Completion struct {
	Thinking string
	Text     string
}

// Engine is a single text-completion backend.
type Engine interface {
	Name() string
	Model() string
	Complete(ctx context.Context, msgs []Message, opts Options) (Completion, error)
	Close() error
}

const (
	thinkOpen  = "<think>"
	thinkClose = "</think>"
)

// SplitThinking extracts explicit <think>…</think> markers from raw model
// output. Backends that emit reasoning in-band call this before returning.
func SplitThinking(raw string) (thinking, text string) {
	start := strings.Index(raw, thinkOpen)
	if start < 0 {
		return "", strings.TrimSpace(raw)
	}
	end := strings.Index(raw[start:], thinkClose)
	if end < 0 {
		// Unterminated marker: everything after the open tag is reasoning.
		return strings.TrimSpace(raw[start+len(thinkOpen):]), strings.TrimSpace(raw[:start])
	}
	end += start
	thinking = strings.TrimSpace(raw[start+len(thinkOpen) : end])
	text = strings.TrimSpace(raw[:start] + raw[end+len(thinkClose):])
	return thinking, text
}
