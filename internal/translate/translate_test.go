package translate

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"
)

func newTestGateway(t *testing.T, handler http.HandlerFunc) *Gateway {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	g := New(srv.URL, "")
	g.backoffBase = time.Millisecond
	g.chunkTimeout = 200 * time.Millisecond
	return g
}

func TestTranslateSmallInput(t *testing.T) {
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		var in request
		_ = json.NewDecoder(r.Body).Decode(&in)
		_ = json.NewEncoder(w).Encode(response{TranslatedText: "[" + in.Target + "]" + in.Q})
	})

	got := g.Translate(context.Background(), "Hello there.", "ja")
	if got != "[ja]Hello there." {
		t.Fatalf("got %q", got)
	}
}

func TestTranslateChunksPreserveOrder(t *testing.T) {
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		var in request
		_ = json.NewDecoder(r.Body).Decode(&in)
		_ = json.NewEncoder(w).Encode(response{TranslatedText: in.Q})
	})

	var b strings.Builder
	for i := 0; i < 40; i++ {
		fmt.Fprintf(&b, "Sentence number %02d is here. ", i)
	}
	text := strings.TrimSpace(b.String())

	got := g.Translate(context.Background(), text, "de")
	// Chunk joins may normalize inter-chunk spacing; sentence order must hold.
	for i := 0; i < 39; i++ {
		a := fmt.Sprintf("number %02d", i)
		z := fmt.Sprintf("number %02d", i+1)
		if strings.Index(got, a) >= strings.Index(got, z) {
			t.Fatalf("sentence order broken around %d", i)
		}
	}
}

func TestTranslateFallsBackToOriginalOnTimeout(t *testing.T) {
	var calls int32
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		time.Sleep(2 * time.Second)
	})

	got := g.Translate(context.Background(), "untranslatable", "ja")
	if got != "untranslatable" {
		t.Fatalf("expected original text back, got %q", got)
	}
	if n := atomic.LoadInt32(&calls); n != 3 {
		t.Fatalf("expected 3 attempts, got %d", n)
	}
}

func TestTranslateRetriesServerErrors(t *testing.T) {
	var calls int32
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(response{TranslatedText: "ok"})
	})

	if got := g.Translate(context.Background(), "x", "fr"); got != "ok" {
		t.Fatalf("got %q", got)
	}
}

func TestTranslateField(t *testing.T) {
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		var in request
		_ = json.NewDecoder(r.Body).Decode(&in)
		_ = json.NewEncoder(w).Encode(response{TranslatedText: "translated"})
	})

	in := `{"reasoning": "keep me", "revised_persona": "You are an expert"}`
	out := g.TranslateField(context.Background(), in, "ja")

	var obj map[string]string
	if err := json.Unmarshal([]byte(out), &obj); err != nil {
		t.Fatalf("output does not parse: %v", err)
	}
	if obj["reasoning"] != "keep me" {
		t.Fatalf("reasoning was altered: %q", obj["reasoning"])
	}
	if obj["revised_persona"] != "translated" {
		t.Fatalf("revised_persona = %q", obj["revised_persona"])
	}

	if got := g.TranslateField(context.Background(), "not json", "ja"); got != "not json" {
		t.Fatalf("non-JSON input must pass through, got %q", got)
	}
}

func TestSplitSentences(t *testing.T) {
	long := strings.Repeat("word ", 200) // no sentence enders, 1000 runes
	chunks := splitSentences(strings.TrimSpace(long), maxChunkRunes)
	for i, c := range chunks {
		if n := utf8.RuneCountInString(c); n > maxChunkRunes {
			t.Fatalf("chunk %d has %d runes", i, n)
		}
	}
	if len(chunks) < 3 {
		t.Fatalf("expected hard split into >=3 chunks, got %d", len(chunks))
	}

	if got := splitSentences("short", maxChunkRunes); len(got) != 1 || got[0] != "short" {
		t.Fatalf("short input must be a single chunk: %v", got)
	}
}
