// Package chunk bounds memory by cutting large splitter sets into chunks
// executed one after another, or by a small worker pool.
package chunk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/neutrons/PyVDrive-sub000/internal/domain/splitter"
	"github.com/neutrons/PyVDrive-sub000/internal/engine"
	"github.com/neutrons/PyVDrive-sub000/internal/metrics"
)

var tracer = otel.Tracer("vdrive.chunk")

// Func processes one chunk.
type Func func(ctx context.Context, ch Chunk) (Outcome, error)

// Controller plans and executes chunked runs.
type Controller struct {
	maxChunk int
	workers  int
	logger   *slog.Logger
}

// NewController creates a controller. Zero values select the defaults of
// DefaultMaxChunk segments and one worker.
func NewController(maxChunk, workers int, logger *slog.Logger) (*Controller, error) {
	if maxChunk == 0 {
		maxChunk = DefaultMaxChunk
	}
	if workers == 0 {
		workers = 1
	}
	if maxChunk < 0 || workers < 0 {
		return nil, fmt.Errorf("%w: max_chunk=%d workers=%d", ErrInvalidConfig, maxChunk, workers)
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Controller{maxChunk: maxChunk, workers: workers, logger: logger}, nil
}

// MaxChunk returns the resident segment cap.
func (c *Controller) MaxChunk() int { return c.maxChunk }

// size is the per-chunk segment count. With parallel workers every chunk
// shrinks so that all in-flight chunks together stay within maxChunk.
func (c *Controller) size() int {
	if c.workers <= 1 {
		return c.maxChunk
	}
	s := (c.maxChunk + c.workers - 1) / c.workers
	return max(s, 1)
}

// Plan cuts set into ceil(N/size) chunks in segment order. Epoch sets are
// re-based to runStart so every chunk is run-relative.
func (c *Controller) Plan(set splitter.Set, runStart time.Time) (Plan, error) {
	if err := set.Validate(); err != nil {
		return Plan{}, err
	}
	if set.Clock == splitter.Epoch && runStart.IsZero() {
		return Plan{}, ErrMissingRunStart
	}
	size := c.size()
	n := set.Len()
	plan := Plan{Tag: set.Tag, Segments: n, Size: size}
	for i, off := 0, 0; off < n; i, off = i+1, off+size {
		plan.Chunks = append(plan.Chunks, Chunk{
			Index:  i,
			Offset: off,
			Set:    set.Slice(off, off+size).Rebase(runStart),
		})
	}
	return plan, nil
}

// Run executes fn for every chunk of plan. A failed chunk is recorded and
// the run continues; engine.ErrSourceUnavailable aborts the remaining
// chunks. When any chunk failed the returned error is a *PartialFailure.
func (c *Controller) Run(ctx context.Context, plan Plan, fn Func) (Result, error) {
	ctx, span := tracer.Start(ctx, "chunk.Run", trace.WithAttributes(
		attribute.String("splitter.tag", plan.Tag),
		attribute.Int("chunk.count", len(plan.Chunks)),
		attribute.Int("chunk.size", plan.Size),
		attribute.Int("chunk.workers", c.workers),
	))
	defer span.End()

	c.logger.InfoContext(ctx, "running chunks",
		"tag", plan.Tag, "segments", plan.Segments, "chunks", len(plan.Chunks), "size", plan.Size, "workers", c.workers)

	var (
		results []ChunkResult
		abort   error
	)
	if c.workers <= 1 {
		results, abort = c.runSequential(ctx, plan, fn)
	} else {
		results, abort = c.runParallel(ctx, plan, fn)
	}

	res := summarize(results)
	if abort != nil {
		res.Success = false
		res.Aborted = true
		span.RecordError(abort)
		span.SetStatus(codes.Error, abort.Error())
		c.logger.ErrorContext(ctx, "chunked run aborted", "tag", plan.Tag, "error", abort)
		return res, abort
	}
	if !res.Success {
		pf := &PartialFailure{Total: len(plan.Chunks)}
		for _, r := range results {
			if r.Err != nil {
				pf.Failed = append(pf.Failed, r)
			}
		}
		span.SetStatus(codes.Error, pf.Error())
		c.logger.WarnContext(ctx, "chunked run finished with failures",
			"tag", plan.Tag, "failed", len(pf.Failed), "chunks", len(plan.Chunks))
		return res, pf
	}
	c.logger.InfoContext(ctx, "chunked run complete", "tag", plan.Tag, "targets", len(res.Targets))
	return res, nil
}

func (c *Controller) runSequential(ctx context.Context, plan Plan, fn Func) ([]ChunkResult, error) {
	results := make([]ChunkResult, 0, len(plan.Chunks))
	for _, ch := range plan.Chunks {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		r := c.runOne(ctx, ch, fn)
		results = append(results, r)
		if errors.Is(r.Err, engine.ErrSourceUnavailable) {
			return results, r.Err
		}
	}
	return results, nil
}

func (c *Controller) runParallel(ctx context.Context, plan Plan, fn Func) ([]ChunkResult, error) {
	sem := semaphore.NewWeighted(int64(c.maxChunk))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)

	var mu sync.Mutex
	results := make([]ChunkResult, 0, len(plan.Chunks))

	for _, ch := range plan.Chunks {
		g.Go(func() error {
			weight := int64(max(ch.Set.Len(), 1))
			if err := sem.Acquire(gctx, weight); err != nil {
				return nil
			}
			defer sem.Release(weight)
			if gctx.Err() != nil {
				return nil
			}

			r := c.runOne(gctx, ch, fn)
			mu.Lock()
			results = append(results, r)
			mu.Unlock()
			if errors.Is(r.Err, engine.ErrSourceUnavailable) {
				return r.Err
			}
			return nil
		})
	}
	err := g.Wait()
	sortResults(results)
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	return results, err
}

func (c *Controller) runOne(ctx context.Context, ch Chunk, fn Func) ChunkResult {
	ctx, span := tracer.Start(ctx, "chunk.Execute", trace.WithAttributes(
		attribute.Int("chunk.index", ch.Index),
		attribute.Int("chunk.offset", ch.Offset),
		attribute.Int("chunk.segments", ch.Set.Len()),
	))
	defer span.End()

	started := time.Now()
	out, err := fn(ctx, ch)
	r := ChunkResult{
		Index:    ch.Index,
		Targets:  out.Targets,
		Message:  out.Message,
		Err:      err,
		Duration: time.Since(started),
	}
	metrics.ChunkDuration.Observe(r.Duration.Seconds())

	switch {
	case errors.Is(err, engine.ErrSourceUnavailable):
		metrics.ChunksTotal.WithLabelValues("aborted").Inc()
	case err != nil:
		metrics.ChunksTotal.WithLabelValues("failure").Inc()
	default:
		metrics.ChunksTotal.WithLabelValues("success").Inc()
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.Message = fmt.Sprintf("chunk %d failed: %v", ch.Index, err)
		c.logger.ErrorContext(ctx, "chunk failed", "chunk", ch.Index, "segments", ch.Set.Len(), "error", err)
		return r
	}
	c.logger.DebugContext(ctx, "chunk complete",
		"chunk", ch.Index, "segments", ch.Set.Len(), "targets", len(out.Targets), "duration", r.Duration)
	return r
}

func summarize(results []ChunkResult) Result {
	res := Result{Success: true, Chunks: results}
	msgs := make([]string, 0, len(results))
	seen := make(map[splitter.Target]struct{})
	for _, r := range results {
		if r.Err != nil {
			res.Success = false
		}
		for _, t := range r.Targets {
			if _, ok := seen[t]; !ok {
				seen[t] = struct{}{}
				res.Targets = append(res.Targets, t)
			}
		}
		if r.Message != "" {
			msgs = append(msgs, r.Message)
		}
	}
	res.Message = strings.Join(msgs, "\n")
	return res
}

func sortResults(rs []ChunkResult) {
	sort.Slice(rs, func(i, j int) bool { return rs[i].Index < rs[j].Index })
}
