// Package translate is a best-effort text→text translation gateway over a
// LibreTranslate-compatible HTTP service. Failures never break the
// pipeline: the caller gets the original text back.
package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"
)

const (
	// Chunks are capped at 400 runes; longer inputs are split at
	// sentence boundaries.
	maxChunkRunes = 400
	maxAttempts   = 3
)

type Gateway struct {
	URL    string
	APIKey string
	httpc  *http.Client

	// chunkTimeout is per-attempt; overridable in tests.
	chunkTimeout time.Duration
	backoffBase  time.Duration
}

func New(url, apiKey string) *Gateway {
	return &Gateway{
		URL:          strings.TrimSpace(url),
		APIKey:       strings.TrimSpace(apiKey),
		httpc:        &http.Client{Timeout: 0},
		chunkTimeout: 30 * time.Second,
		backoffBase:  time.Second,
	}
}

// WithHTTPClient overrides the internal HTTP client (e.g. for tests).
func (g *Gateway) WithHTTPClient(c *http.Client) *Gateway {
	if c != nil {
		g.httpc = c
	}
	return g
}

type request struct {
	Q      string `json:"q"`
	Source string `json:"source"`
	Target string `json:"target"`
	APIKey string `json:"api_key,omitempty"`
}

type response struct {
	TranslatedText string `json:"translatedText"`
	Error          string `json:"error,omitempty"`
}

// Translate converts text into the target language code. Inputs over the
// chunk cap are split at sentence boundaries, translated independently
// and concatenated in order. On permanent failure the original text is
// returned unchanged.
func (g *Gateway) Translate(ctx context.Context, text, targetLang string) string {
	text = strings.TrimSpace(text)
	if text == "" || g.URL == "" {
		return text
	}
	chunks := splitSentences(text, maxChunkRunes)
	out := make([]string, len(chunks))

	eg, ctx := errgroup.WithContext(ctx)
	for i, c := range chunks {
		i, c := i, c
		eg.Go(func() error {
			t, err := g.translateChunk(ctx, c, targetLang)
			if err != nil {
				return err
			}
			out[i] = t
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return text
	}
	return strings.Join(out, " ")
}

// TranslateField rewrites only the revised_persona member of a JSON
// object, leaving the surrounding structure intact.
func (g *Gateway) TranslateField(ctx context.Context, rawJSON, targetLang string) string {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(rawJSON), &obj); err != nil {
		return rawJSON
	}
	raw, ok := obj["revised_persona"]
	if !ok {
		return rawJSON
	}
	var persona string
	if err := json.Unmarshal(raw, &persona); err != nil {
		return rawJSON
	}
	translated, _ := json.Marshal(g.Translate(ctx, persona, targetLang))
	obj["revised_persona"] = translated
	b, err := json.Marshal(obj)
	if err != nil {
		return rawJSON
	}
	return string(b)
}

func (g *Gateway) translateChunk(ctx context.Context, text, targetLang string) (string, error) {
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			// 1s, 2s, 4s.
			delay := g.backoffBase << (attempt - 1)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
		t, err := g.doRequest(ctx, text, targetLang)
		if err == nil {
			return t, nil
		}
		lastErr = err
		if !retryable(err) {
			break
		}
	}
	return "", lastErr
}

func (g *Gateway) doRequest(ctx context.Context, text, targetLang string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.chunkTimeout)
	defer cancel()

	payload, _ := json.Marshal(request{Q: text, Source: "auto", Target: targetLang, APIKey: g.APIKey})
	req, err := http.NewRequestWithContext(ctx, "POST", g.URL, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpc.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("translate %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	var out response
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("translate: bad response JSON: %w", err)
	}
	if out.Error != "" {
		return "", fmt.Errorf("translate: %s", out.Error)
	}
	return strings.TrimSpace(out.TranslatedText), nil
}

func retryable(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	// 5xx responses surface as formatted errors; retry those too.
	s := err.Error()
	return strings.Contains(s, "translate 5")
}

var sentenceEnders = ".!?。！？؟"

// splitSentences breaks text into chunks of at most maxRunes, cutting at
// sentence boundaries when possible and hard-splitting otherwise.
func splitSentences(text string, maxRunes int) []string {
	if utf8.RuneCountInString(text) <= maxRunes {
		return []string{text}
	}
	var sentences []string
	var cur strings.Builder
	for _, r := range text {
		cur.WriteRune(r)
		if strings.ContainsRune(sentenceEnders, r) {
			sentences = append(sentences, cur.String())
			cur.Reset()
		}
	}
	if cur.Len() > 0 {
		sentences = append(sentences, cur.String())
	}

	var chunks []string
	var chunk strings.Builder
	count := 0
	flush := func() {
		if chunk.Len() > 0 {
			chunks = append(chunks, strings.TrimSpace(chunk.String()))
			chunk.Reset()
			count = 0
		}
	}
	for _, s := range sentences {
		n := utf8.RuneCountInString(s)
		if n > maxRunes {
			flush()
			chunks = append(chunks, hardSplit(s, maxRunes)...)
			continue
		}
		if count+n > maxRunes {
			flush()
		}
		chunk.WriteString(s)
		count += n
	}
	flush()
	return chunks
}

func hardSplit(s string, maxRunes int) []string {
	var out []string
	runes := []rune(s)
	for len(runes) > 0 {
		n := maxRunes
		if n > len(runes) {
			n = len(runes)
		}
		out = append(out, strings.TrimSpace(string(runes[:n])))
		runes = runes[n:]
	}
	return out
}
