// Package deepseek implements chat.Engine over the DeepSeek chat API.
package deepseek

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"personabench/internal/chat"
)

const apiURL = "https://api.deepseek.com/v1/chat/completions"

type Engine struct {
	APIKey string
	model  string
	httpc  *http.Client
}

func New(key, model string) *Engine {
	if model == "" {
		model = "deepseek-chat"
	}
	return &Engine{
		APIKey: key,
		model:  model,
		httpc:  &http.Client{Timeout: 180 * time.Second},
	}
}

func (e *Engine) Name() string  { return "deepseek" }
func (e *Engine) Model() string { return e.model }
func (e *Engine) Close() error {
	e.httpc.CloseIdleConnections()
	return nil
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type request struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	Temperature float64   `json:"temperature"`
	TopP        float64   `json:"top_p,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

type response struct {
	Choices []struct {
		Message message `json:"message"`
	} `json:"choices"`
}

func (e *Engine) Complete(ctx context.Context, msgs []chat.Message, opts chat.Options) (chat.Completion, error) {
	if e.APIKey == "" {
		return chat.Completion{}, fmt.Errorf("DEEPSEEK_API_KEY is empty")
	}
	body := request{Model: e.model, Temperature: opts.Temperature, TopP: opts.TopP, MaxTokens: opts.MaxTokens}
	for _, m := range msgs {
		body.Messages = append(body.Messages, message{Role: string(m.Role), Content: m.Content})
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return chat.Completion{}, err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", apiURL, bytes.NewBuffer(payload))
	if err != nil {
		return chat.Completion{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.APIKey)

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
		return chat.Completion{}, fmt.Errorf("deepseek %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var out response
	if err := json.Unmarshal(raw, &out); err != nil {
		return chat.Completion{}, fmt.Errorf("deepseek: bad response JSON: %w", err)
	}
	if len(out.Choices) == 0 {
		return chat.Completion{}, fmt.Errorf("deepseek: empty choices")
	}
	return chat.Completion{Text: strings.TrimSpace(out.Choices[0].Message.Content)}, nil
}
