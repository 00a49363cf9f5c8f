package job

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kailas-cloud/ragmcp/internal/domain"
	"github.com/kailas-cloud/ragmcp/internal/domain/batch"
	domjob "github.com/kailas-cloud/ragmcp/internal/domain/job"
	"github.com/kailas-cloud/ragmcp/internal/metrics"
)

// Defaults for the worker pool.
const (
	DefaultWorkers   = 2
	DefaultQueueSize = 64
)

// inlineSource names jobs that carry their text in the request.
const inlineSource = "inline"

// Request describes one ingestion job. Exactly one of Text or Path is set.
type Request struct {
	Collection string
	Text       string
	// SourcePath labels inline text. Ignored for Path jobs.
	SourcePath string
	// Path is a file or a directory on the server's filesystem.
	Path string
}

func (r Request) validate() error {
	if r.Collection == "" {
		return fmt.Errorf("collection is required: %w", domain.ErrInvalidArgument)
	}
	hasText := strings.TrimSpace(r.Text) != ""
	hasPath := strings.TrimSpace(r.Path) != ""
	if hasText == hasPath {
		return fmt.Errorf("exactly one of text or path is required: %w", domain.ErrInvalidArgument)
	}
	return nil
}

type task struct {
	id  string
	req Request
}

// Service runs ingestion jobs on a bounded worker pool and keeps their status.
type Service struct {
	ingester Ingester
	workers  int
	queue    chan task
	logger   *zap.Logger
	now      func() time.Time

	mu    sync.RWMutex
	jobs  map[string]domjob.Job
	order []string
}

// New creates a job service with the given pool size. Non-positive values
// fall back to the defaults.
func New(ing Ingester, workers, queueSize int) *Service {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Service{
		ingester: ing,
		workers:  workers,
		queue:    make(chan task, queueSize),
		logger:   zap.NewNop(),
		now:      time.Now,
		jobs:     make(map[string]domjob.Job),
	}
}

// WithLogger sets the logger.
func (s *Service) WithLogger(l *zap.Logger) *Service {
	if l != nil {
		s.logger = l
	}
	return s
}

// Submit records a pending job and queues it. Returns ErrQueueFull without
// recording anything when the queue is at capacity.
func (s *Service) Submit(_ context.Context, req Request) (domjob.Job, error) {
	if err := req.validate(); err != nil {
		return domjob.Job{}, err
	}

	source := req.Path
	if source == "" {
		source = req.SourcePath
		if source == "" {
			source = inlineSource
		}
	}
	j := domjob.New(req.Collection, source, s.now())

	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case s.queue <- task{id: j.ID(), req: req}:
	default:
		return domjob.Job{}, fmt.Errorf("submit job: %w", domain.ErrQueueFull)
	}
	s.jobs[j.ID()] = j
	s.order = append(s.order, j.ID())
	metrics.JobsInFlight.Inc()

	s.logger.Info("Job submitted",
		zap.String("job_id", j.ID()),
		zap.String("collection", j.Collection()),
		zap.String("source", j.Source()),
	)
	return j, nil
}

// Get returns a job snapshot.
func (s *Service) Get(id string) (domjob.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return domjob.Job{}, fmt.Errorf("job %q: %w", id, domain.ErrJobNotFound)
	}
	return j, nil
}

// List returns all jobs in submission order.
func (s *Service) List() []domjob.Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domjob.Job, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.jobs[id])
	}
	return out
}

// Run starts the workers and blocks until ctx is cancelled and every worker
// has returned. Jobs still queued at shutdown are marked failed.
func (s *Service) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for range s.workers {
		g.Go(func() error {
			s.work(gctx)
			return nil
		})
	}
	err := g.Wait()
	s.drain(ctx.Err())
	return err
}

func (s *Service) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-s.queue:
			s.process(ctx, t)
		}
	}
}

func (s *Service) drain(cause error) {
	for {
		select {
		case t := <-s.queue:
			s.abandon(t.id, cause)
		default:
			return
		}
	}
}

func (s *Service) abandon(id string, cause error) {
	if cause == nil {
		cause = context.Canceled
	}
	s.finish(id, func(j domjob.Job) (domjob.Job, error) {
		return j.Fail(s.now(), 0, fmt.Errorf("shutdown before start: %w", cause))
	})
}

func (s *Service) process(ctx context.Context, t task) {
	if err := ctx.Err(); err != nil {
		s.abandon(t.id, err)
		return
	}
	if !s.update(t.id, func(j domjob.Job) (domjob.Job, error) { return j.Start(s.now()) }) {
		return
	}

	files, chunks, err := s.execute(ctx, t.req)
	s.finish(t.id, func(j domjob.Job) (domjob.Job, error) {
		if err != nil {
			return j.Fail(s.now(), chunks, err)
		}
		return j.Complete(s.now(), files, chunks)
	})
}

func (s *Service) execute(ctx context.Context, req Request) (files, chunks int, err error) {
	if req.Path == "" {
		source := req.SourcePath
		if source == "" {
			source = inlineSource
		}
		res, err := s.ingester.Ingest(ctx, req.Text, source, req.Collection)
		return 1, res.Written, err
	}

	info, err := os.Stat(req.Path)
	if err != nil {
		return 0, 0, fmt.Errorf("stat %s: %w: %w", req.Path, domain.ErrInvalidArgument, err)
	}
	if !info.IsDir() {
		data, err := os.ReadFile(req.Path)
		if err != nil {
			return 0, 0, fmt.Errorf("read file: %w", err)
		}
		res, err := s.ingester.Ingest(ctx, string(data), req.Path, req.Collection)
		return 1, res.Written, err
	}

	results, err := s.ingester.IngestDir(ctx, req.Path, req.Collection)
	sum := batch.Summarize(results)
	if err != nil {
		return sum.OK, sum.Chunks, err
	}
	if sum.Failed > 0 {
		return sum.OK, sum.Chunks, fmt.Errorf("%d of %d files failed", sum.Failed, len(results))
	}
	return sum.OK, sum.Chunks, nil
}

// update applies a transition; false when the job is gone or the
// transition is rejected.
func (s *Service) update(id string, fn func(domjob.Job) (domjob.Job, error)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return false
	}
	next, err := fn(j)
	if err != nil {
		s.logger.Error("Job transition rejected", zap.String("job_id", id), zap.Error(err))
		return false
	}
	s.jobs[id] = next
	return true
}

func (s *Service) finish(id string, fn func(domjob.Job) (domjob.Job, error)) {
	if !s.update(id, fn) {
		return
	}
	j, _ := s.Get(id)

	metrics.JobsInFlight.Dec()
	metrics.JobsTotal.WithLabelValues(string(j.State())).Inc()

	fields := []zap.Field{
		zap.String("job_id", id),
		zap.String("state", string(j.State())),
		zap.Int("files", j.Files()),
		zap.Int("chunks", j.Chunks()),
		zap.Duration("duration", j.FinishedAt().Sub(j.CreatedAt())),
	}
	if j.State() == domjob.Failed {
		s.logger.Warn("Job failed", append(fields, zap.String("error", j.Error()))...)
		return
	}
	s.logger.Info("Job completed", fields...)
}
