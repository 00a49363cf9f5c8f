package domain

import (
	"context"
	"errors"
	"testing"
)

// --- Mocks ---

// wordCounter embeds text as a one-element vector holding its length and
// bills one token per byte.
type wordCounter struct {
	seen []string
	err  error
}

func (w *wordCounter) Embed(_ context.Context, text string) (EmbeddingResult, error) {
	w.seen = append(w.seen, text)
	if w.err != nil {
		return EmbeddingResult{}, w.err
	}
	return EmbeddingResult{Embedding: []float32{float32(len(text))}, PromptTokens: len(text), TotalTokens: len(text)}, nil
}

type stubBatchEmbedder struct {
	batchResult BatchEmbeddingResult
	batchErr    error
	batchTexts  []string
	health      error
}

func (s *stubBatchEmbedder) Embed(context.Context, string) (EmbeddingResult, error) {
	return EmbeddingResult{}, errors.New("single embed must not be called")
}

func (s *stubBatchEmbedder) BatchEmbed(_ context.Context, texts []string) (BatchEmbeddingResult, error) {
	s.batchTexts = texts
	return s.batchResult, s.batchErr
}

func (s *stubBatchEmbedder) HealthCheck(context.Context) error { return s.health }

// --- Tests ---

func TestEmbedEach(t *testing.T) {
	inner := &wordCounter{}
	res, err := EmbedEach(context.Background(), inner, []string{"a", "bb", "ccc"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Embeddings) != 3 || res.Embeddings[2][0] != 3 {
		t.Fatalf("unexpected embeddings: %v", res.Embeddings)
	}
	if res.TotalTokens != 6 || res.PromptTokens != 6 {
		t.Errorf("expected 6 tokens, got %+v", res)
	}
}

func TestEmbedEach_StopsAtFirstError(t *testing.T) {
	boom := errors.New("provider down")
	inner := &wordCounter{err: boom}

	_, err := EmbedEach(context.Background(), inner, []string{"a", "b"})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped provider error, got %v", err)
	}
	if len(inner.seen) != 1 {
		t.Errorf("expected 1 call before stopping, got %d", len(inner.seen))
	}
}

func TestEmbedBatch_PrefersNativeBatch(t *testing.T) {
	inner := &stubBatchEmbedder{batchResult: BatchEmbeddingResult{Embeddings: [][]float32{{1}, {2}}, TotalTokens: 9}}

	res, err := EmbedBatch(context.Background(), inner, []string{"x", "y"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(inner.batchTexts) != 2 || res.TotalTokens != 9 {
		t.Errorf("expected one native batch call, got texts=%v res=%+v", inner.batchTexts, res)
	}
}

func TestPrefixEmbedder(t *testing.T) {
	tests := []struct {
		name   string
		prefix string
		text   string
		want   string
	}{
		{"document", "search_document: ", "hello world", "search_document: hello world"},
		{"query", "search_query: ", "go", "search_query: go"},
		{"empty prefix", "", "test", "test"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inner := &wordCounter{}
			if _, err := NewPrefixEmbedder(inner, tt.prefix).Embed(context.Background(), tt.text); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if inner.seen[0] != tt.want {
				t.Errorf("inner saw %q, want %q", inner.seen[0], tt.want)
			}
		})
	}
}

func TestPrefixEmbedder_Batch(t *testing.T) {
	native := &stubBatchEmbedder{batchResult: BatchEmbeddingResult{Embeddings: [][]float32{{1}, {2}}}}
	if _, err := NewPrefixEmbedder(native, "q: ").BatchEmbed(context.Background(), []string{"a", "b"}); err != nil {
		t.Fatalf("native batch: %v", err)
	}
	if native.batchTexts[0] != "q: a" || native.batchTexts[1] != "q: b" {
		t.Errorf("expected prefixed batch, got %v", native.batchTexts)
	}

	single := &wordCounter{}
	res, err := NewPrefixEmbedder(single, "q: ").BatchEmbed(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("per-text batch: %v", err)
	}
	if len(single.seen) != 2 || res.TotalTokens != 8 {
		t.Errorf("expected two prefixed calls of 4 bytes, got %v (%d tokens)", single.seen, res.TotalTokens)
	}
}

func TestPrefixEmbedder_Errors(t *testing.T) {
	boom := errors.New("batch fail")
	emb := NewPrefixEmbedder(&stubBatchEmbedder{batchErr: boom}, "x: ")
	if _, err := emb.BatchEmbed(context.Background(), []string{"a"}); !errors.Is(err, boom) {
		t.Errorf("expected wrapped batch error, got %v", err)
	}

	emb = NewPrefixEmbedder(&wordCounter{err: boom}, "x: ")
	if _, err := emb.Embed(context.Background(), "a"); !errors.Is(err, boom) {
		t.Errorf("expected wrapped embed error, got %v", err)
	}
}

func TestProbeHealth(t *testing.T) {
	if err := ProbeHealth(context.Background(), &wordCounter{}); err != nil {
		t.Errorf("embedder without probe: got %v", err)
	}
	down := errors.New("down")
	emb := NewPrefixEmbedder(&stubBatchEmbedder{health: down}, "p: ")
	if err := ProbeHealth(context.Background(), emb); !errors.Is(err, down) {
		t.Errorf("expected probe error through prefix, got %v", err)
	}
}

// --- EmbedAll tests ---

type echoEmbedder struct{ calls []string }

func (e *echoEmbedder) Embed(_ context.Context, text string) (EmbeddingResult, error) {
	e.calls = append(e.calls, text)
	return EmbeddingResult{Embedding: []float32{float32(len(e.calls))}}, nil
}

func TestEmbedAll_PreservesOrder(t *testing.T) {
	inner := &echoEmbedder{}
	texts := []string{"t0", "t1", "t2", "t3", "t4"}

	vecs, err := EmbedAll(context.Background(), inner, texts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vecs) != len(texts) {
		t.Fatalf("expected %d vectors, got %d", len(texts), len(vecs))
	}
	for i := range texts {
		if inner.calls[i] != texts[i] {
			t.Errorf("call %d: expected %q, got %q", i, texts[i], inner.calls[i])
		}
		if vecs[i][0] != float32(i+1) {
			t.Errorf("vector %d out of order: %v", i, vecs[i])
		}
	}
}

func TestEmbedAll_UsesBatchEmbedder(t *testing.T) {
	inner := &stubBatchEmbedder{batchResult: BatchEmbeddingResult{Embeddings: [][]float32{{1}, {2}}}}

	vecs, err := EmbedAll(context.Background(), inner, []string{"a", "b"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(inner.batchTexts) != 2 || len(vecs) != 2 {
		t.Fatalf("expected batch call with 2 texts, got %v", inner.batchTexts)
	}
}

func TestEmbedAll_CountMismatch(t *testing.T) {
	inner := &stubBatchEmbedder{batchResult: BatchEmbeddingResult{Embeddings: [][]float32{{1}}}}

	_, err := EmbedAll(context.Background(), inner, []string{"a", "b"})
	if !errors.Is(err, ErrEmbeddingUnavailable) {
		t.Fatalf("expected ErrEmbeddingUnavailable, got %v", err)
	}
}

func TestEmbedAll_Empty(t *testing.T) {
	vecs, err := EmbedAll(context.Background(), &echoEmbedder{}, nil)
	if err != nil || vecs != nil {
		t.Fatalf("expected nil, nil; got %v, %v", vecs, err)
	}
}

func TestUpstreamError(t *testing.T) {
	err := error(&UpstreamError{StatusCode: 503, Body: "model loading", Attempts: 10})
	if !errors.Is(err, ErrEmbeddingUnavailable) {
		t.Fatal("expected UpstreamError to unwrap to ErrEmbeddingUnavailable")
	}
	want := "embedding unavailable after 10 attempts: status 503: model loading"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
}

func TestEmbeddingUsage(t *testing.T) {
	if u := UsageFromContext(context.Background()); u != nil {
		t.Fatalf("usage = %+v, want nil", u)
	}
	var nilUsage *EmbeddingUsage
	nilUsage.AddTokens(3)
	if nilUsage.Used() || nilUsage.Tokens() != 0 {
		t.Error("nil collector must stay empty")
	}

	ctx, u := WithEmbeddingUsage(context.Background())
	if u.Used() {
		t.Error("fresh collector reports used")
	}
	UsageFromContext(ctx).AddTokens(0)
	if !u.Used() || u.Tokens() != 0 {
		t.Errorf("after cache hit used=%v tokens=%d", u.Used(), u.Tokens())
	}
	UsageFromContext(ctx).AddTokens(5)
	if u.Tokens() != 5 {
		t.Errorf("tokens = %d, want 5", u.Tokens())
	}
}
