// Package gemini implements chat.Engine over the Google generative AI API.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"personabench/internal/chat"
)

type Engine struct {
	APIKey string
	model  string
}

func New(apiKey, model string) *Engine {
	return &Engine{
		APIKey: strings.TrimSpace(apiKey),
		model:  strings.TrimSpace(model),
	}
}

func (e *Engine) Name() string  { return "gemini" }
func (e *Engine) Model() string { return e.model }
func (e *Engine) Close() error  { return nil }

func (e *Engine) Complete(ctx context.Context, msgs []chat.Message, opts chat.Options) (chat.Completion, error) {
	if e.APIKey == "" {
		return chat.Completion{}, errors.New("GEMINI_API_KEY is empty")
	}
	cl, err := genai.NewClient(ctx, option.WithAPIKey(e.APIKey))
	if err != nil {
		return chat.Completion{}, err
	}
	defer cl.Close()

	m := cl.GenerativeModel(e.model)
	if m == nil {
		return chat.Completion{}, fmt.Errorf("gemini: model is nil")
	}
	temp := float32(opts.Temperature)
	cfg := genai.GenerationConfig{Temperature: &temp}
	if opts.TopP > 0 {
		topP := float32(opts.TopP)
		cfg.TopP = &topP
	}
	if opts.MaxTokens > 0 {
		maxTok := int32(opts.MaxTokens)
		cfg.MaxOutputTokens = &maxTok
	}
	m.GenerationConfig = cfg

	var parts []genai.Part
	for _, msg := range msgs {
		switch msg.Role {
		case chat.RoleSystem:
			m.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(msg.Content)}}
		default:
			parts = append(parts, genai.Text(msg.Content))
		}
	}
	if len(parts) == 0 {
		return chat.Completion{}, fmt.Errorf("gemini: no user content")
	}

	resp, err := m.GenerateContent(ctx, parts...)
	if err != nil {
		return chat.Completion{}, err
	}
	txt := firstText(resp)
	if txt == "" {
		return chat.Completion{}, fmt.Errorf("gemini: empty response")
	}
	// The API has no separate reasoning channel.
	return chat.Completion{Text: strings.TrimSpace(txt)}, nil
}

func firstText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	var b strings.Builder
	for _, c := range resp.Candidates {
		if c == nil || c.Content == nil {
			continue
		}
		for _, p := range c.Content.Parts {
			if t, ok := p.(genai.Text); ok {
				b.WriteString(string(t))
			}
		}
		if b.Len() > 0 {
			break
		}
	}
	return b.String()
}
