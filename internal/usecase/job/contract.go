package job

import (
	"context"

	"github.com/kailas-cloud/ragmcp/internal/domain/batch"
	"github.com/kailas-cloud/ragmcp/internal/usecase/ingest"
)

// Ingester stores documents. Satisfied by *ingest.Service.
type Ingester interface {
	Ingest(ctx context.Context, text, sourcePath, collection string) (ingest.Result, error)
	IngestDir(ctx context.Context, dir, collection string) ([]batch.Result, error)
}
