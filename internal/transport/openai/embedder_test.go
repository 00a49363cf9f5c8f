package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap/zaptest"

	"github.com/kailas-cloud/ragmcp/internal/metrics"
)

func TestMain(m *testing.M) {
	metrics.RegisterEmbeddingMetrics()
	os.Exit(m.Run())
}

// --- Fake API ---

type embeddingRequest struct {
	Input          []string `json:"input"`
	Model          string   `json:"model"`
	Dimensions     int      `json:"dimensions"`
	EncodingFormat string   `json:"encoding_format"`
}

type embeddingDatum struct {
	Object    string    `json:"object"`
	Embedding []float32 `json:"embedding"`
	Index     int       `json:"index"`
}

type embeddingResponse struct {
	Object string           `json:"object"`
	Model  string           `json:"model"`
	Data   []embeddingDatum `json:"data"`
	Usage  struct {
		PromptTokens int `json:"prompt_tokens"`
		TotalTokens  int `json:"total_tokens"`
	} `json:"usage"`
}

// fakeAPI answers /embeddings with one vector per input: [len(input), index].
// Data is returned in reverse order to exercise index sorting. drop removes
// vectors from the tail of the answer.
type fakeAPI struct {
	t    *testing.T
	last embeddingRequest
	auth string
	drop int
}

func (f *fakeAPI) server() *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			f.t.Errorf("unexpected path: %s", r.URL.Path)
		}
		f.auth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&f.last); err != nil {
			f.t.Errorf("decode request: %v", err)
		}

		resp := embeddingResponse{Object: "list", Model: f.last.Model}
		tokens := 0
		for i := len(f.last.Input) - 1; i >= f.drop; i-- {
			in := f.last.Input[i]
			tokens += len(in)
			resp.Data = append(resp.Data, embeddingDatum{
				Object:    "embedding",
				Embedding: []float32{float32(len(in)), float32(i)},
				Index:     i,
			})
		}
		resp.Usage.PromptTokens = tokens
		resp.Usage.TotalTokens = tokens

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	f.t.Cleanup(srv.Close)
	return srv
}

func newTestEmbedder(t *testing.T, baseURL string, dims int) *Embedder {
	return NewEmbedder(&Config{
		APIKey:     "test-key",
		BaseURL:    baseURL,
		Model:      "nomic-embed-text",
		Dimensions: dims,
		Provider:   "ollama",
		Logger:     zaptest.NewLogger(t),
	})
}

// --- Tests ---

func TestEmbedder_Embed(t *testing.T) {
	api := &fakeAPI{t: t}
	emb := newTestEmbedder(t, api.server().URL, 0)

	res, err := emb.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if api.auth != "Bearer test-key" {
		t.Errorf("authorization = %q", api.auth)
	}
	if api.last.Model != "nomic-embed-text" || api.last.EncodingFormat != "float" {
		t.Errorf("request = %+v", api.last)
	}
	if api.last.Dimensions != 0 {
		t.Errorf("dimensions sent without config: %d", api.last.Dimensions)
	}
	if len(res.Embedding) != 2 || res.Embedding[0] != 5 {
		t.Errorf("embedding = %v", res.Embedding)
	}
	if res.PromptTokens != 5 || res.TotalTokens != 5 {
		t.Errorf("usage = %d/%d, want 5/5", res.PromptTokens, res.TotalTokens)
	}
}

func TestEmbedder_Dimensions(t *testing.T) {
	api := &fakeAPI{t: t}
	emb := newTestEmbedder(t, api.server().URL, 256)

	if _, err := emb.Embed(context.Background(), "x"); err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if api.last.Dimensions != 256 {
		t.Errorf("dimensions = %d, want 256", api.last.Dimensions)
	}
}

func TestEmbedder_BatchEmbed_InputOrder(t *testing.T) {
	api := &fakeAPI{t: t}
	emb := newTestEmbedder(t, api.server().URL, 0)

	texts := []string{"a", "bb", "ccc"}
	res, err := emb.BatchEmbed(context.Background(), texts)
	if err != nil {
		t.Fatalf("BatchEmbed: %v", err)
	}
	if len(res.Embeddings) != len(texts) {
		t.Fatalf("got %d vectors, want %d", len(res.Embeddings), len(texts))
	}
	for i, v := range res.Embeddings {
		if int(v[1]) != i || int(v[0]) != len(texts[i]) {
			t.Errorf("vector %d = %v, out of order", i, v)
		}
	}
	if res.TotalTokens != 6 {
		t.Errorf("total tokens = %d, want 6", res.TotalTokens)
	}
}

func TestEmbedder_BatchEmbed_Empty(t *testing.T) {
	emb := newTestEmbedder(t, "http://127.0.0.1:1", 0)

	res, err := emb.BatchEmbed(context.Background(), nil)
	if err != nil {
		t.Fatalf("BatchEmbed: %v", err)
	}
	if len(res.Embeddings) != 0 {
		t.Errorf("expected no vectors, got %d", len(res.Embeddings))
	}
}

func TestEmbedder_BatchEmbed_CountMismatch(t *testing.T) {
	api := &fakeAPI{t: t, drop: 1}
	emb := newTestEmbedder(t, api.server().URL, 0)

	before := testutil.ToFloat64(metrics.EmbeddingErrorsTotal.WithLabelValues("ollama", "nomic-embed-text", "count_mismatch"))
	if _, err := emb.BatchEmbed(context.Background(), []string{"a", "b"}); err == nil {
		t.Fatal("expected error for count mismatch")
	}
	after := testutil.ToFloat64(metrics.EmbeddingErrorsTotal.WithLabelValues("ollama", "nomic-embed-text", "count_mismatch"))
	if after-before != 1 {
		t.Errorf("count_mismatch errors delta = %v, want 1", after-before)
	}
}

func TestEmbedder_HealthCheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","data":[]}`))
	}))
	defer srv.Close()

	if err := newTestEmbedder(t, srv.URL, 0).HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}
}

func TestEmbedder_HealthCheck_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	if err := newTestEmbedder(t, srv.URL, 0).HealthCheck(context.Background()); err == nil {
		t.Fatal("expected health check error")
	}
}
