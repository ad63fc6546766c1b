// Package openai implements chat.Engine over any OpenAI-compatible
// chat-completions endpoint. It covers both hosted APIs and local
// tensor-parallel servers (vLLM and friends expose the same surface).
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"personabench/internal/chat"
)

type Engine struct {
	BaseURL string
	APIKey  string
	model   string
	httpc   *http.Client
}

func New(baseURL, key, model string) *Engine {
	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout: 10 * time.Second,
		// First headers can take a long time on cold local models.
		ResponseHeaderTimeout: 300 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   100,
	}
	return &Engine{
		BaseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		APIKey:  strings.TrimSpace(key),
		model:   strings.TrimSpace(model),
		// Timeout=0 so long generations are not cut off mid-body.
		httpc: &http.Client{Timeout: 0, Transport: tr},
	}
}

// WithHTTPClient overrides the internal HTTP client (e.g. for tests).
func (e *Engine) WithHTTPClient(c *http.Client) *Engine {
	if c != nil {
		e.httpc = c
	}
	return e
}

func (e *Engine) Name() string  { return "openai" }
func (e *Engine) Model() string { return e.model }
func (e *Engine) Close() error {
	e.httpc.CloseIdleConnections()
	return nil
}

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionRequest struct {
	Model       string        `json:"model"`
	Messages    []wireMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	TopP        float64       `json:"top_p,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type completionResponse struct {
	Choices []struct {
		Message struct {
			Role             string `json:"role"`
			Content          string `json:"content"`
			ReasoningContent string `json:"reasoning_content,omitempty"`
		} `json:"message"`
		FinishReason string `json:"finish_reason,omitempty"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

func (e *Engine) Complete(ctx context.Context, msgs []chat.Message, opts chat.Options) (chat.Completion, error) {
	if e.BaseURL == "" {
		return chat.Completion{}, fmt.Errorf("openai: base URL is empty")
	}
	body := completionRequest{
		Model:       e.model,
		Temperature: opts.Temperature,
		TopP:        opts.TopP,
		MaxTokens:   opts.MaxTokens,
	}
	for _, m := range msgs {
		body.Messages = append(body.Messages, wireMessage{Role: string(m.Role), Content: m.Content})
	}

	payload, _ := json.Marshal(body)
	req, err := http.NewRequestWithContext(ctx, "POST", e.BaseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return chat.Completion{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if e.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.APIKey)
	}

	resp, err := e.httpc.Do(req)
	if err != nil {
		return chat.Completion{}, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return chat.Completion{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return chat.Completion{}, fmt.Errorf("openai %d: %s", resp.StatusCode, truncateBytes(raw, 500))
	}

	var out completionResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return chat.Completion{}, fmt.Errorf("openai: bad response JSON: %w", err)
	}
	if out.Error != nil {
		return chat.Completion{}, fmt.Errorf("openai: %s", out.Error.Message)
	}
	if len(out.Choices) == 0 {
		return chat.Completion{}, fmt.Errorf("openai: empty choices")
	}

	msg := out.Choices[0].Message
	c := chat.Completion{Text: strings.TrimSpace(msg.Content)}
	if opts.EnableThinking {
		if msg.ReasoningContent != "" {
			c.Thinking = strings.TrimSpace(msg.ReasoningContent)
		} else {
			c.Thinking, c.Text = chat.SplitThinking(msg.Content)
		}
	} else {
		// Some local models emit <think> blocks unconditionally.
		_, c.Text = chat.SplitThinking(msg.Content)
	}
	return c, nil
}

func truncateBytes(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
