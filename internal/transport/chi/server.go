package chi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kailas-cloud/ragmcp/internal/domain"
	domjob "github.com/kailas-cloud/ragmcp/internal/domain/job"
	domusage "github.com/kailas-cloud/ragmcp/internal/domain/usage"
	logpkg "github.com/kailas-cloud/ragmcp/internal/logger"
	healthuc "github.com/kailas-cloud/ragmcp/internal/usecase/health"
	jobuc "github.com/kailas-cloud/ragmcp/internal/usecase/job"
)

// Request limits for POST /search.
const (
	maxQueryLength = 4000
	maxTopK        = 100
	maxBodyBytes   = 32 << 20
)

// ErrorCode is the machine-readable error code in an error response.
type ErrorCode string

// Error codes.
const (
	CodeBadRequest            ErrorCode = "bad_request"
	CodeValidationFailed      ErrorCode = "validation_failed"
	CodeUnauthorized          ErrorCode = "unauthorized"
	CodeCollectionNotFound    ErrorCode = "collection_not_found"
	CodeJobNotFound           ErrorCode = "job_not_found"
	CodeVectorDimMismatch     ErrorCode = "vector_dim_mismatch"
	CodeQueueFull             ErrorCode = "queue_full"
	CodeQuotaExceeded         ErrorCode = "embedding_quota_exceeded"
	CodeEmbeddingUnavailable  ErrorCode = "embedding_unavailable"
	CodeCompletionUnavailable ErrorCode = "completion_unavailable"
	CodeStoreUnavailable      ErrorCode = "store_unavailable"
	CodeInternalError         ErrorCode = "internal_error"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error, msg string) bool

// Defaults holds request defaults and the static parts of GET /info.
type Defaults struct {
	Collection        string
	SearchTopK        int
	SearchThreshold   float64
	QueryLimit        int
	Storage           string
	EmbeddingProvider string
	EmbeddingModel    string
}

// Server serves the HTTP API.
type Server struct {
	retriever     Retriever
	answerer      Answerer
	jobs          JobQueue
	info          CollectionInfoReader
	health        HealthChecker
	usage         UsageReporter
	defaults      Defaults
	logger        *zap.Logger
	errorHandlers []errorHandler
}

// NewServer creates an HTTP API server.
func NewServer(
	retriever Retriever,
	answerer Answerer,
	jobs JobQueue,
	info CollectionInfoReader,
	health HealthChecker,
	defaults Defaults,
	logger *zap.Logger,
) *Server {
	if defaults.Collection == "" {
		defaults.Collection = "rag-collection"
	}
	if defaults.SearchTopK <= 0 {
		defaults.SearchTopK = 50
	}
	if defaults.QueryLimit <= 0 {
		defaults.QueryLimit = 3
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		retriever: retriever,
		answerer:  answerer,
		jobs:      jobs,
		info:      info,
		health:    health,
		defaults:  defaults,
		logger:    logger,
	}
	s.errorHandlers = []errorHandler{
		sentinelHandler(domain.ErrInvalidArgument, http.StatusBadRequest, CodeValidationFailed),
		sentinelHandler(domain.ErrNotFound, http.StatusNotFound, CodeCollectionNotFound),
		sentinelHandler(domain.ErrJobNotFound, http.StatusNotFound, CodeJobNotFound),
		sentinelHandler(domain.ErrVectorDimMismatch, http.StatusBadRequest, CodeVectorDimMismatch),
		sentinelHandler(domain.ErrQueueFull, http.StatusServiceUnavailable, CodeQueueFull),
		sentinelHandler(domain.ErrEmbeddingQuotaExceeded, http.StatusTooManyRequests, CodeQuotaExceeded),
		sentinelHandler(domain.ErrEmbeddingUnavailable, http.StatusBadGateway, CodeEmbeddingUnavailable),
		sentinelHandler(domain.ErrCompletionUnavailable, http.StatusBadGateway, CodeCompletionUnavailable),
		sentinelHandler(domain.ErrStoreUnavailable, http.StatusServiceUnavailable, CodeStoreUnavailable),
	}
	return s
}

// WithUsage enables GET /usage.
func (s *Server) WithUsage(u UsageReporter) *Server {
	s.usage = u
	return s
}

// Routes mounts the API on r.
func (s *Server) Routes(r chi.Router) {
	r.Post("/search", s.Search)
	r.Post("/query", s.Query)
	r.Post("/documents", s.SubmitDocuments)
	r.Get("/documents/jobs", s.ListJobs)
	r.Get("/documents/jobs/{id}", s.GetJob)
	r.Get("/info", s.Info)
	r.Get("/health", s.HealthCheck)
	if s.usage != nil {
		r.Get("/usage", s.Usage)
	}
	r.Get("/metrics", s.Metrics)
}

// SearchRequest is the body of POST /search.
type SearchRequest struct {
	CollectionName string   `json:"collection_name"`
	Query          string   `json:"query"`
	TopK           *int     `json:"top_k,omitempty"`
	ScoreThreshold *float64 `json:"score_threshold,omitempty"`
}

// SearchResultItem is one hit in a search response.
type SearchResultItem struct {
	Text       string  `json:"text"`
	SourcePath string  `json:"source_path"`
	Score      float64 `json:"score"`
}

// SearchResponse is the body of a successful POST /search.
type SearchResponse struct {
	Count   int                `json:"count"`
	Results []SearchResultItem `json:"results"`
}

// Search handles POST /search.
func (s *Server) Search(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	if !decodeBody(w, r, &req) {
		return
	}

	topK := s.defaults.SearchTopK
	if req.TopK != nil {
		topK = *req.TopK
	}
	threshold := s.defaults.SearchThreshold
	if req.ScoreThreshold != nil {
		threshold = *req.ScoreThreshold
	}

	switch n := utf8.RuneCountInString(req.Query); {
	case strings.TrimSpace(req.CollectionName) == "":
		writeError(w, http.StatusBadRequest, CodeValidationFailed, "collection_name must not be empty")
		return
	case strings.TrimSpace(req.Query) == "":
		writeError(w, http.StatusBadRequest, CodeValidationFailed, "query must not be empty")
		return
	case n > maxQueryLength:
		writeError(w, http.StatusBadRequest, CodeValidationFailed, "query must not exceed 4000 characters")
		return
	case topK < 1 || topK > maxTopK:
		writeError(w, http.StatusBadRequest, CodeValidationFailed, "top_k must be between 1 and 100")
		return
	case threshold < 0 || threshold > 1:
		writeError(w, http.StatusBadRequest, CodeValidationFailed, "score_threshold must be between 0 and 1")
		return
	}

	ctx, usage := domain.WithEmbeddingUsage(r.Context())
	results, err := s.retriever.Retrieve(ctx, req.Query, req.CollectionName, topK, threshold)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	items := make([]SearchResultItem, len(results))
	for i, res := range results {
		items[i] = SearchResultItem{Text: res.Text, SourcePath: res.SourcePath, Score: res.Score}
	}
	setEmbeddingHeaders(w, usage)
	writeJSON(w, http.StatusOK, SearchResponse{Count: len(items), Results: items})
}

// QueryRequest is the body of POST /query.
type QueryRequest struct {
	CollectionName string `json:"collection_name,omitempty"`
	Question       string `json:"question"`
	TopK           *int   `json:"top_k,omitempty"`
}

// QueryResponse is the body of a successful POST /query.
type QueryResponse struct {
	Answer  string             `json:"answer"`
	Sources []SearchResultItem `json:"sources"`
}

// Query handles POST /query.
func (s *Server) Query(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeError(w, http.StatusBadRequest, CodeValidationFailed, "question must not be empty")
		return
	}
	limit := s.defaults.QueryLimit
	if req.TopK != nil {
		limit = *req.TopK
	}
	if limit < 1 || limit > maxTopK {
		writeError(w, http.StatusBadRequest, CodeValidationFailed, "top_k must be between 1 and 100")
		return
	}
	collection := req.CollectionName
	if collection == "" {
		collection = s.defaults.Collection
	}

	ctx, usage := domain.WithEmbeddingUsage(r.Context())
	ans, err := s.answerer.Answer(ctx, req.Question, collection, limit)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	sources := make([]SearchResultItem, len(ans.Sources))
	for i, src := range ans.Sources {
		sources[i] = SearchResultItem{Text: src.Text, SourcePath: src.SourcePath, Score: src.Score}
	}
	setEmbeddingHeaders(w, usage)
	writeJSON(w, http.StatusOK, QueryResponse{Answer: ans.Text, Sources: sources})
}

// DocumentsRequest is the body of POST /documents.
type DocumentsRequest struct {
	CollectionName string `json:"collection_name,omitempty"`
	Text           string `json:"text,omitempty"`
	SourcePath     string `json:"source_path,omitempty"`
	Path           string `json:"path,omitempty"`
}

// JobResponse describes an ingestion job.
type JobResponse struct {
	JobID      string     `json:"job_id"`
	Status     string     `json:"status"`
	Collection string     `json:"collection_name"`
	Source     string     `json:"source"`
	Files      int        `json:"files"`
	Chunks     int        `json:"chunks"`
	Error      string     `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// JobListResponse is the body of GET /documents/jobs.
type JobListResponse struct {
	Items []JobResponse `json:"items"`
}

// SubmitDocuments handles POST /documents.
func (s *Server) SubmitDocuments(w http.ResponseWriter, r *http.Request) {
	var req DocumentsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	collection := req.CollectionName
	if collection == "" {
		collection = s.defaults.Collection
	}

	j, err := s.jobs.Submit(r.Context(), jobuc.Request{
		Collection: collection,
		Text:       req.Text,
		SourcePath: req.SourcePath,
		Path:       req.Path,
	})
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	w.Header().Set("Location", "/documents/jobs/"+j.ID())
	writeJSON(w, http.StatusAccepted, jobToResponse(j))
}

// GetJob handles GET /documents/jobs/{id}.
func (s *Server) GetJob(w http.ResponseWriter, r *http.Request) {
	j, err := s.jobs.Get(chi.URLParam(r, "id"))
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, jobToResponse(j))
}

// ListJobs handles GET /documents/jobs.
func (s *Server) ListJobs(w http.ResponseWriter, _ *http.Request) {
	jobs := s.jobs.List()
	items := make([]JobResponse, len(jobs))
	for i, j := range jobs {
		items[i] = jobToResponse(j)
	}
	writeJSON(w, http.StatusOK, JobListResponse{Items: items})
}

// EmbeddingInfo names the embedding model behind a collection.
type EmbeddingInfo struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

// InfoResponse is the body of GET /info.
type InfoResponse struct {
	CollectionName string        `json:"collection_name"`
	Count          int           `json:"count"`
	Dimensions     int           `json:"dimensions"`
	Storage        string        `json:"storage"`
	Similarity     string        `json:"similarity"`
	Embedding      EmbeddingInfo `json:"embedding"`
}

// Info handles GET /info.
func (s *Server) Info(w http.ResponseWriter, r *http.Request) {
	collection := r.URL.Query().Get("collection_name")
	if collection == "" {
		collection = s.defaults.Collection
	}

	info, err := s.info.Info(r.Context(), collection)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, InfoResponse{
		CollectionName: info.Name,
		Count:          info.Count,
		Dimensions:     info.Dimensions,
		Storage:        s.defaults.Storage,
		Similarity:     "Cosine Similarity",
		Embedding: EmbeddingInfo{
			Provider: s.defaults.EmbeddingProvider,
			Model:    s.defaults.EmbeddingModel,
		},
	})
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// HealthCheck handles GET /health.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	checks := make(map[string]string, len(report.Checks))
	for k, v := range report.Checks {
		checks[k] = string(v)
	}

	httpStatus := http.StatusOK
	if report.Status != healthuc.Healthy {
		httpStatus = http.StatusServiceUnavailable
	}
	writeJSON(w, httpStatus, HealthResponse{Status: string(report.Status), Checks: checks})
}

// BudgetStatus is the token budget part of a usage response.
type BudgetStatus struct {
	TokensLimit     int64     `json:"tokens_limit"`
	TokensRemaining int64     `json:"tokens_remaining"`
	IsExhausted     bool      `json:"is_exhausted"`
	ResetsAt        time.Time `json:"resets_at"`
}

// UsageResponse is the body of GET /usage.
type UsageResponse struct {
	Period        string       `json:"period"`
	PeriodStartAt time.Time    `json:"period_start_at"`
	PeriodEndAt   time.Time    `json:"period_end_at"`
	Tokens        int64        `json:"tokens"`
	Budget        BudgetStatus `json:"budget"`
}

// Usage handles GET /usage?period=day|month.
func (s *Server) Usage(w http.ResponseWriter, r *http.Request) {
	period, err := domusage.ParsePeriod(r.URL.Query().Get("period"))
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	report := s.usage.Report(r.Context(), period)
	writeJSON(w, http.StatusOK, UsageResponse{
		Period:        string(report.Period),
		PeriodStartAt: report.PeriodStart,
		PeriodEndAt:   report.PeriodEnd,
		Tokens:        report.TokensUsed,
		Budget: BudgetStatus{
			TokensLimit:     report.TokensLimit,
			TokensRemaining: report.TokensRemaining,
			IsExhausted:     report.Exhausted,
			ResetsAt:        report.PeriodEnd,
		},
	})
}

// Metrics handles GET /metrics.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

func jobToResponse(j domjob.Job) JobResponse {
	resp := JobResponse{
		JobID:      j.ID(),
		Status:     string(j.State()),
		Collection: j.Collection(),
		Source:     j.Source(),
		Files:      j.Files(),
		Chunks:     j.Chunks(),
		Error:      j.Error(),
		CreatedAt:  j.CreatedAt().UTC(),
	}
	if t := j.StartedAt(); !t.IsZero() {
		started := t.UTC()
		resp.StartedAt = &started
	}
	if t := j.FinishedAt(); !t.IsZero() {
		finished := t.UTC()
		resp.FinishedAt = &finished
	}
	return resp
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "Invalid request body: "+err.Error())
		return false
	}
	return true
}

// setEmbeddingHeaders reports the embedding tokens the request consumed.
func setEmbeddingHeaders(w http.ResponseWriter, usage *domain.EmbeddingUsage) {
	if usage.Used() {
		w.Header().Set(domain.EmbeddingTokensHeader, strconv.Itoa(usage.Tokens()))
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code ErrorCode, message string) {
	writeJSON(w, status, ErrorResponse{Code: code, Message: message})
}

// safeDomainMessage returns a client-safe message. Validation failures are
// echoed in full; other sentinels are reported by name only.
func safeDomainMessage(err error) string {
	if errors.Is(err, domain.ErrInvalidArgument) || errors.Is(err, domain.ErrVectorDimMismatch) {
		return err.Error()
	}
	sentinels := []error{
		domain.ErrNotFound,
		domain.ErrJobNotFound,
		domain.ErrQueueFull,
		domain.ErrEmbeddingQuotaExceeded,
		domain.ErrEmbeddingUnavailable,
		domain.ErrCompletionUnavailable,
		domain.ErrStoreUnavailable,
	}
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return "internal error"
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int, code ErrorCode) errorHandler {
	return func(w http.ResponseWriter, err error, msg string) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, msg)
		return true
	}
}

func (s *Server) handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	log := logpkg.FromOr(r.Context(), s.logger)
	log.Warn("domain error", zap.Error(err))
	msg := safeDomainMessage(err)
	for _, h := range s.errorHandlers {
		if h(w, err, msg) {
			return
		}
	}
	log.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, CodeInternalError, "internal error")
}
