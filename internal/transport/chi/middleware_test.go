package chi

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newLoggedRouter(t *testing.T, f *fixture) (http.Handler, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zapcore.InfoLevel)
	srv := NewServer(f.retriever, f.answerer, f.jobs, f.info, f.health, Defaults{}, zap.NewNop())
	return NewRouter(srv, nil, zap.New(core)), logs
}

func TestAccessLog_OneLinePerRequest(t *testing.T) {
	f := newFixture(t)
	f.retriever.tokens = 3
	h, logs := newLoggedRouter(t, f)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest("POST", "/search", strings.NewReader(`{"collection_name":"c","query":"q"}`)))

	entries := logs.FilterMessage("http_request").All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 access log line, got %d", len(entries))
	}
	e := entries[0]
	fields := e.ContextMap()
	if e.Level != zapcore.InfoLevel {
		t.Errorf("level = %v, want info", e.Level)
	}
	if fields["status"] != int64(http.StatusOK) || fields["route"] != "/search" {
		t.Errorf("fields = %v", fields)
	}
	if fields["embedding_tokens"] != "3" {
		t.Errorf("embedding_tokens = %v, want 3", fields["embedding_tokens"])
	}
	id := rr.Header().Get(requestIDHeader)
	if id == "" || fields["request_id"] != id {
		t.Errorf("request id header %q, logged %v", id, fields["request_id"])
	}
}

func TestAccessLog_ServerErrorsAtWarn(t *testing.T) {
	f := newFixture(t)
	f.health.report.Status = "error"
	h, logs := newLoggedRouter(t, f)

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/health", http.NoBody))

	entries := logs.FilterMessage("http_request").All()
	if len(entries) != 1 || entries[0].Level != zapcore.WarnLevel {
		t.Fatalf("expected one warn entry, got %v", entries)
	}
	if _, ok := entries[0].ContextMap()["embedding_tokens"]; ok {
		t.Error("embedding_tokens logged without embedding")
	}
}

func TestRecover(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	h := Recover(zap.New(core))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest("GET", "/", http.NoBody))

	if rr.Code != http.StatusInternalServerError {
		t.Errorf("got %d", rr.Code)
	}
	if resp := decode[ErrorResponse](t, rr); resp.Code != CodeInternalError {
		t.Errorf("got code %s", resp.Code)
	}
	if logs.FilterMessage("Handler panicked").Len() != 1 {
		t.Error("panic not logged")
	}
}

func TestRecover_ReraisesAbort(t *testing.T) {
	h := Recover(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(http.ErrAbortHandler)
	}))
	defer func() {
		if r := recover(); r != http.ErrAbortHandler { //nolint:errorlint // sentinel panic value
			t.Errorf("recovered %v, want ErrAbortHandler", r)
		}
	}()
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", http.NoBody))
}
