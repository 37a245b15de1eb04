package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestOllama_EmbedBatch(t *testing.T) {
	t.Parallel()

	var got ollamaEmbedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			t.Errorf("path = %q, want /api/embed", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"embeddings":[[0.1,0.2],[0.3,0.4]]}`))
	}))
	defer srv.Close()

	o := NewOllama(srv.URL+"/", "test-model")
	out, err := o.EmbedBatch(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if got.Model != "test-model" {
		t.Errorf("model = %q, want test-model", got.Model)
	}
	if len(got.Input) != 2 || got.Input[0] != "a" || got.Input[1] != "b" {
		t.Errorf("input = %v, want [a b]", got.Input)
	}
	if len(out) != 2 || out[1][1] != 0.4 {
		t.Errorf("embeddings = %v", out)
	}
}

func TestOllama_EmbedSingle(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"embeddings":[[1,0]]}`))
	}))
	defer srv.Close()

	v, err := NewOllama(srv.URL, "").Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(v) != 2 || v[0] != 1 {
		t.Errorf("vector = %v, want [1 0]", v)
	}
}

func TestOllama_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		status  int
		body    string
		wantSub string
	}{
		{"non-200", http.StatusInternalServerError, "model not loaded", "500"},
		{"bad json", http.StatusOK, "{not json", "decode"},
		{"count mismatch", http.StatusOK, `{"embeddings":[[1]]}`, "got 1 embeddings for 2 inputs"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewOllama(srv.URL, "m").EmbedBatch(context.Background(), []string{"a", "b"})
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("error = %q, want substring %q", err, tt.wantSub)
			}
		})
	}
}

func TestOllama_EmptyBatch(t *testing.T) {
	t.Parallel()

	out, err := NewOllama("http://127.0.0.1:1", "m").EmbedBatch(context.Background(), nil)
	if err != nil || out != nil {
		t.Errorf("EmbedBatch(nil) = %v, %v; want nil, nil", out, err)
	}
}

func TestOllama_Defaults(t *testing.T) {
	t.Parallel()

	o := NewOllama("", "")
	if o.endpoint != defaultOllamaEndpoint {
		t.Errorf("endpoint = %q, want %q", o.endpoint, defaultOllamaEndpoint)
	}
	if o.Name() != "ollama:"+defaultOllamaModel {
		t.Errorf("Name() = %q", o.Name())
	}
}

func TestNew(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	p, err := New(ctx, Config{Kind: KindNone})
	if err != nil || p != nil {
		t.Errorf("New(none) = %v, %v; want nil, nil", p, err)
	}

	p, err = New(ctx, Config{Kind: KindOllama, OllamaModel: "m"})
	if err != nil {
		t.Fatalf("New(ollama): %v", err)
	}
	if p.Name() != "ollama:m" {
		t.Errorf("Name() = %q, want ollama:m", p.Name())
	}

	if _, err := New(ctx, Config{Kind: KindGenAI}); err == nil {
		t.Error("expected error for genai without api key")
	}

	if _, err := New(ctx, Config{Kind: "word2vec"}); err == nil {
		t.Error("expected error for unknown provider")
	}
}
