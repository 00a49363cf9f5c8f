package chi

import (
	"context"

	"github.com/kailas-cloud/ragmcp/internal/domain"
	domjob "github.com/kailas-cloud/ragmcp/internal/domain/job"
	domusage "github.com/kailas-cloud/ragmcp/internal/domain/usage"
	answeruc "github.com/kailas-cloud/ragmcp/internal/usecase/answer"
	healthuc "github.com/kailas-cloud/ragmcp/internal/usecase/health"
	jobuc "github.com/kailas-cloud/ragmcp/internal/usecase/job"
)

// Retriever serves POST /search.
type Retriever interface {
	Retrieve(ctx context.Context, query, collection string, limit int, threshold float64) ([]domain.SearchResult, error)
}

// Answerer serves POST /query.
type Answerer interface {
	Answer(ctx context.Context, question, collection string, limit int) (answeruc.Answer, error)
}

// JobQueue serves the document ingestion routes.
type JobQueue interface {
	Submit(ctx context.Context, req jobuc.Request) (domjob.Job, error)
	Get(id string) (domjob.Job, error)
	List() []domjob.Job
}

// CollectionInfoReader serves GET /info.
type CollectionInfoReader interface {
	Info(ctx context.Context, collection string) (domain.CollectionInfo, error)
}

// HealthChecker serves GET /health.
type HealthChecker interface {
	Check(ctx context.Context) healthuc.Report
}

// UsageReporter serves GET /usage.
type UsageReporter interface {
	Report(ctx context.Context, period domusage.Period) domusage.Report
}
