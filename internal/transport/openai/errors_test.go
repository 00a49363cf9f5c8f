package openai

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kailas-cloud/ragmcp/internal/domain"
)

func TestEmbedder_UpstreamErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		message string
	}{
		{name: "openai error object", status: http.StatusTooManyRequests,
			body: `{"error":{"message":"rate limit exceeded","type":"rate_limit_error"}}`, message: "rate limit exceeded"},
		{name: "nebius detail", status: http.StatusBadRequest,
			body: `{"detail":"input too long"}`, message: "input too long"},
		{name: "ollama error string", status: http.StatusNotFound,
			body: `{"error":"model \"nomic\" not found"}`, message: `model "nomic" not found`},
		{name: "plain text", status: http.StatusBadGateway,
			body: "upstream down\n", message: "upstream down"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			_, err := newTestEmbedder(t, srv.URL, 0).Embed(context.Background(), "hello")

			var se *StatusError
			if !errors.As(err, &se) {
				t.Fatalf("expected *StatusError, got %v", err)
			}
			if se.HTTPStatus() != tc.status {
				t.Errorf("status = %d, want %d", se.HTTPStatus(), tc.status)
			}
			if se.Message != tc.message {
				t.Errorf("message = %q, want %q", se.Message, tc.message)
			}
			if !errors.Is(err, domain.ErrEmbeddingUnavailable) {
				t.Error("expected ErrEmbeddingUnavailable in chain")
			}
		})
	}
}

func TestUpstreamError_TransportFailure(t *testing.T) {
	cause := errors.New("connection refused")
	err := upstreamError(cause, domain.ErrCompletionUnavailable)

	if !errors.Is(err, domain.ErrCompletionUnavailable) || !errors.Is(err, cause) {
		t.Errorf("expected sentinel and cause in chain, got %v", err)
	}
	var se *StatusError
	if errors.As(err, &se) {
		t.Error("transport failure must not carry a status")
	}
}

func TestBodyMessage(t *testing.T) {
	if got := bodyMessage([]byte(`{"error":""}`)); got != `{"error":""}` {
		t.Errorf("empty error field should fall back to raw body, got %q", got)
	}
	if got := bodyMessage([]byte(`{"detail":"a","error":"b"}`)); got != "a" {
		t.Errorf("detail should win, got %q", got)
	}
}
