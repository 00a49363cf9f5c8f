package embedding

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/ragmcp/internal/domain"
	"github.com/kailas-cloud/ragmcp/internal/transport/ollama"
)

func fastPolicy(attempts int) RetryPolicy {
	return RetryPolicy{MaxAttempts: attempts, Step: time.Millisecond}
}

// scriptedEmbedder fails with errs in order, then succeeds.
type scriptedEmbedder struct {
	errs  []error
	calls int
	texts []string
}

func (s *scriptedEmbedder) Embed(_ context.Context, text string) (domain.EmbeddingResult, error) {
	s.calls++
	s.texts = append(s.texts, text)
	if s.calls <= len(s.errs) {
		return domain.EmbeddingResult{}, s.errs[s.calls-1]
	}
	return domain.EmbeddingResult{Embedding: []float32{float32(len(text))}}, nil
}

func TestRetryingEmbedder_StopsAfterMaxAttemptsAgainstServer(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "overloaded", http.StatusInternalServerError)
	}))
	defer server.Close()

	inner := ollama.NewEmbedder(&ollama.Config{BaseURL: server.URL, Model: "m"})
	r := NewRetryingEmbedder(inner, "ollama", "m", fastPolicy(10), zap.NewNop())

	_, err := r.Embed(context.Background(), "hello")
	if err == nil {
		t.Fatal("expected error")
	}
	if got := hits.Load(); got != 10 {
		t.Errorf("expected exactly 10 attempts, got %d", got)
	}

	var ue *domain.UpstreamError
	if !errors.As(err, &ue) {
		t.Fatalf("expected *domain.UpstreamError, got %T: %v", err, err)
	}
	if ue.StatusCode != http.StatusInternalServerError || ue.Attempts != 10 {
		t.Errorf("unexpected upstream error: %+v", ue)
	}
	if !strings.Contains(ue.Body, "overloaded") {
		t.Errorf("body should carry upstream text, got %q", ue.Body)
	}
	if !errors.Is(err, domain.ErrEmbeddingUnavailable) {
		t.Error("expected ErrEmbeddingUnavailable")
	}
}

func TestRetryingEmbedder_ClientErrorIsPermanent(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "bad model", http.StatusBadRequest)
	}))
	defer server.Close()

	inner := ollama.NewEmbedder(&ollama.Config{BaseURL: server.URL, Model: "m"})
	r := NewRetryingEmbedder(inner, "ollama", "m", fastPolicy(10), zap.NewNop())

	_, err := r.Embed(context.Background(), "hello")
	if hits.Load() != 1 {
		t.Errorf("expected a single attempt, got %d", hits.Load())
	}
	var ue *domain.UpstreamError
	if !errors.As(err, &ue) || ue.StatusCode != http.StatusBadRequest || ue.Attempts != 1 {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestRetryingEmbedder_RecoversAfterTransientFailures(t *testing.T) {
	inner := &scriptedEmbedder{errs: []error{
		&ollama.StatusError{StatusCode: 503, Body: "loading"},
		fmt.Errorf("connection reset"),
	}}
	r := NewRetryingEmbedder(inner, "p", "m", fastPolicy(10), zap.NewNop())

	res, err := r.Embed(context.Background(), "abc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inner.calls != 3 {
		t.Errorf("expected 3 calls, got %d", inner.calls)
	}
	if len(res.Embedding) != 1 || res.Embedding[0] != 3 {
		t.Errorf("unexpected embedding: %v", res.Embedding)
	}
}

func TestRetryingEmbedder_LinearBackoff(t *testing.T) {
	b := &linearBackOff{step: 2 * time.Second}
	for i, want := range []time.Duration{2 * time.Second, 4 * time.Second, 6 * time.Second} {
		if got := b.NextBackOff(); got != want {
			t.Errorf("wait %d = %v, want %v", i, got, want)
		}
	}
	b.Reset()
	if got := b.NextBackOff(); got != 2*time.Second {
		t.Errorf("after reset = %v, want 2s", got)
	}
}

func TestRetryingEmbedder_BatchPreservesOrder(t *testing.T) {
	inner := &scriptedEmbedder{}
	r := NewRetryingEmbedder(inner, "p", "m", fastPolicy(3), zap.NewNop())

	texts := []string{"a", "bb", "ccc", "dddd", "eeeee"}
	res, err := r.BatchEmbed(context.Background(), texts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Embeddings) != len(texts) {
		t.Fatalf("expected %d vectors, got %d", len(texts), len(res.Embeddings))
	}
	for i, v := range res.Embeddings {
		if v[0] != float32(len(texts[i])) {
			t.Errorf("vector %d = %v, expected it to belong to %q", i, v, texts[i])
		}
	}
	for i, got := range inner.texts {
		if got != texts[i] {
			t.Errorf("call %d embedded %q, want %q", i, got, texts[i])
		}
	}
}

func TestRetryingEmbedder_BatchFailsWhole(t *testing.T) {
	inner := &scriptedEmbedder{errs: []error{&ollama.StatusError{StatusCode: 404, Body: "no"}}}
	r := NewRetryingEmbedder(inner, "p", "m", fastPolicy(3), zap.NewNop())

	res, err := r.BatchEmbed(context.Background(), []string{"a", "b"})
	if err == nil {
		t.Fatal("expected error")
	}
	if res.Embeddings != nil {
		t.Errorf("no partial result expected, got %v", res.Embeddings)
	}
}

func TestRetryingEmbedder_ContextCanceled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer server.Close()

	inner := ollama.NewEmbedder(&ollama.Config{BaseURL: server.URL, Model: "m"})
	r := NewRetryingEmbedder(inner, "ollama", "m",
		RetryPolicy{MaxAttempts: 10, Step: time.Hour}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	done := make(chan error, 1)
	go func() {
		_, err := r.Embed(ctx, "hello")
		done <- err
	}()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("retry loop ignored cancellation")
	}
}

func TestRetryingEmbedder_Throttle(t *testing.T) {
	inner := &scriptedEmbedder{}
	r := NewRetryingEmbedder(inner, "p", "m",
		RetryPolicy{MaxAttempts: 1, Throttle: 30 * time.Millisecond}, zap.NewNop())

	start := time.Now()
	if _, err := r.Embed(context.Background(), "x"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Errorf("expected throttle pause, elapsed %v", elapsed)
	}
}
