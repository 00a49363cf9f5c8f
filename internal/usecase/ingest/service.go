package ingest

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/kailas-cloud/ragmcp/internal/chunker"
	"github.com/kailas-cloud/ragmcp/internal/domain"
	"github.com/kailas-cloud/ragmcp/internal/domain/batch"
)

// Result reports the outcome of a single Ingest call.
type Result struct {
	// Chunks is the number of chunks the text produced.
	Chunks int
	// Written is the number of records stored. Less than Chunks after a failure.
	Written int
	// Skipped is set when the content was rejected as non-text.
	Skipped bool
}

// Service chunks, embeds and stores documents.
type Service struct {
	repo    Repository
	embed   domain.Embedder
	chunker Chunker
	logger  *zap.Logger
}

// New creates an ingestion service.
func New(repo Repository, embed domain.Embedder, ch Chunker) *Service {
	return &Service{repo: repo, embed: embed, chunker: ch, logger: zap.NewNop()}
}

// WithLogger sets the logger.
func (s *Service) WithLogger(l *zap.Logger) *Service {
	if l != nil {
		s.logger = l
	}
	return s
}

// Ingest stores text as chunk records in collection. Binary input is skipped
// without error. The first failing write aborts the rest; records already
// written stay.
func (s *Service) Ingest(ctx context.Context, text, sourcePath, collection string) (Result, error) {
	if collection == "" {
		return Result{}, fmt.Errorf("collection is required: %w", domain.ErrInvalidArgument)
	}

	if err := chunker.Validate(text); err != nil {
		s.logger.Warn("Skipping unsupported content",
			zap.String("source_path", sourcePath),
			zap.Error(err),
		)
		return Result{Skipped: true}, nil
	}

	chunks := s.chunker.Chunks(text, sourcePath)
	res := Result{Chunks: len(chunks)}
	if len(chunks) == 0 {
		return res, nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	vecs, err := domain.EmbedAll(ctx, s.embed, texts)
	if err != nil {
		return res, fmt.Errorf("embed chunks: %w", err)
	}

	if err := s.repo.EnsureCollection(ctx, collection); err != nil {
		return res, fmt.Errorf("ensure collection: %w", err)
	}

	for i, c := range chunks {
		rec, err := domain.NewRecord(c.Text, c.SourcePath, vecs[i])
		if err != nil {
			return res, fmt.Errorf("build record %d: %w", i, err)
		}
		if err := s.repo.Upsert(ctx, collection, rec); err != nil {
			s.logger.Error("Chunk write failed",
				zap.String("collection", collection),
				zap.String("source_path", sourcePath),
				zap.Int("chunk", i),
				zap.Int("written", res.Written),
				zap.Error(err),
			)
			return res, fmt.Errorf("upsert chunk %d: %w", i, err)
		}
		res.Written++
	}

	s.logger.Info("Document ingested",
		zap.String("collection", collection),
		zap.String("source_path", sourcePath),
		zap.Int("chunks", res.Written),
	)
	return res, nil
}

// IngestDir ingests every .txt and .md file under dir. A failing file is
// recorded and the walk continues; only cancellation stops it early.
func (s *Service) IngestDir(ctx context.Context, dir, collection string) ([]batch.Result, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w: %w", dir, domain.ErrInvalidArgument, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory: %w", dir, domain.ErrInvalidArgument)
	}

	var results []batch.Result
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if walkErr != nil {
			results = append(results, batch.NewError(path, 0, walkErr))
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !isTextFile(path) {
			return nil
		}
		results = append(results, s.ingestFile(ctx, path, collection))
		return nil
	})
	if err != nil {
		return results, fmt.Errorf("walk %s: %w", dir, err)
	}

	sum := batch.Summarize(results)
	s.logger.Info("Directory ingested",
		zap.String("dir", dir),
		zap.String("collection", collection),
		zap.Int("ok", sum.OK),
		zap.Int("skipped", sum.Skipped),
		zap.Int("failed", sum.Failed),
		zap.Int("chunks", sum.Chunks),
	)
	return results, nil
}

func (s *Service) ingestFile(ctx context.Context, path, collection string) batch.Result {
	data, err := os.ReadFile(path)
	if err != nil {
		return batch.NewError(path, 0, fmt.Errorf("read file: %w", err))
	}

	res, err := s.Ingest(ctx, string(data), path, collection)
	switch {
	case err != nil:
		return batch.NewError(path, res.Written, err)
	case res.Skipped:
		return batch.NewSkipped(path)
	default:
		return batch.NewOK(path, res.Written)
	}
}

func isTextFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt", ".md":
		return true
	}
	return false
}
