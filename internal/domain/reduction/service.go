// Package reduction runs a complete reduction job: it slices the run,
// chops and focuses every chunk, writes one GSAS file per target and keeps
// the reduction trackers up to date.
package reduction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/neutrons/PyVDrive-sub000/internal/domain/calibration"
	"github.com/neutrons/PyVDrive-sub000/internal/domain/chunk"
	"github.com/neutrons/PyVDrive-sub000/internal/domain/focus"
	"github.com/neutrons/PyVDrive-sub000/internal/domain/splitter"
	"github.com/neutrons/PyVDrive-sub000/internal/domain/tracker"
	"github.com/neutrons/PyVDrive-sub000/internal/engine"
	"github.com/neutrons/PyVDrive-sub000/internal/gsas"
	"github.com/neutrons/PyVDrive-sub000/internal/metrics"
)

// DefaultBinning is the VDRIVE logarithmic TOF binning.
var DefaultBinning = []float64{-0.001}

// Options are the service-wide reduction settings.
type Options struct {
	MaxChunk          int
	Workers           int
	CompressTolerance float64
	IParm             string
}

// Service handles reduction jobs.
type Service struct {
	eng      engine.Engine
	cals     Calibrations
	trackers Trackers
	sink     Sink
	opts     Options
	logger   *slog.Logger
	focus    *focus.Engine
	chunks   *chunk.Controller
}

// NewService creates a reduction service. A nil logger discards output.
func NewService(eng engine.Engine, cals Calibrations, trackers Trackers, sink Sink, opts Options, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	chunks, err := chunk.NewController(opts.MaxChunk, opts.Workers, logger)
	if err != nil {
		return nil, err
	}
	fe := focus.NewEngine(eng, logger)
	if opts.CompressTolerance > 0 {
		fe = fe.WithCompressTolerance(opts.CompressTolerance)
	}
	return &Service{
		eng:      eng,
		cals:     cals,
		trackers: trackers,
		sink:     sink,
		opts:     opts,
		logger:   logger,
		focus:    fe,
		chunks:   chunks,
	}, nil
}

// run is the per-job state shared by every chunk.
type run struct {
	job      Job
	events   engine.Handle
	info     engine.RunInfo
	meta     gsas.Metadata
	bundle   *calibration.Bundle
	binning  focus.Binning
	vanadium []gsas.Spectrum
	logger   *slog.Logger
}

func applyDefaults(job Job) Job {
	if job.Unit == "" {
		job.Unit = engine.TOF
	}
	if len(job.Binning) == 0 {
		job.Binning = DefaultBinning
	}
	if job.Slicing.Kind == "" {
		job.Slicing.Kind = SliceNone
	}
	if job.Slicing.Tag == "" && job.Slicing.Kind != SliceNone {
		job.Slicing.Tag = string(job.Slicing.Kind)
	}
	return job
}

// Reduce runs job to completion. The report is returned even when some
// sets or chunks failed; the error then describes the failures.
func (s *Service) Reduce(ctx context.Context, job Job) (*Report, error) {
	job = applyDefaults(job)
	if err := ValidateJob(job); err != nil {
		return nil, err
	}
	binning, err := focus.ParseBinning(job.Binning, job.Unit)
	if err != nil {
		return nil, err
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	logger := s.logger.With("job", job.ID)

	report := &Report{JobID: job.ID, Started: time.Now()}
	defer func() { report.Finished = time.Now() }()

	h, err := s.eng.LoadEventStream(ctx, job.EventFile)
	if err != nil {
		return nil, engine.Wrap("LoadEventStream", engine.Handle(job.EventFile), err)
	}
	defer func() {
		if job.Retain {
			return
		}
		if err := s.eng.Delete(ctx, h); err != nil {
			logger.WarnContext(ctx, "failed to release raw events", "events", h, "error", err)
		}
	}()
	info, err := s.eng.RunInfo(ctx, h)
	if err != nil {
		return nil, engine.Wrap("RunInfo", h, err)
	}
	report.RunNumber = info.RunNumber
	logger = logger.With("run", info.RunNumber)

	r := &run{job: job, events: h, info: info, binning: binning, logger: logger, meta: metadataOf(info)}
	runDate, _, err := r.meta.PulseWindow()
	if err != nil {
		return nil, fmt.Errorf("run %d: %w", info.RunNumber, err)
	}
	if r.bundle, err = s.cals.Bundle(ctx, runDate, job.BankCount); err != nil {
		return nil, fmt.Errorf("run %d calibration: %w", info.RunNumber, err)
	}
	if job.Vanadium != "" {
		if r.vanadium, err = loadVanadium(job.Vanadium); err != nil {
			return nil, err
		}
	}

	logger.InfoContext(ctx, "reducing run",
		"events", job.EventFile, "banks", job.BankCount, "slicing", job.Slicing.Kind, "calibration", r.bundle.Key.String())

	if job.Slicing.Kind == SliceNone {
		sr := s.reduceWhole(ctx, r)
		report.Sets = append(report.Sets, sr)
		return report, sr.Err
	}

	sets, err := s.buildSets(ctx, r)
	if err != nil {
		return nil, err
	}
	var errs []error
	for _, set := range sets {
		sr := s.reduceSet(ctx, r, set)
		report.Sets = append(report.Sets, sr)
		if sr.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", sr.Key, sr.Err))
			if errors.Is(sr.Err, engine.ErrSourceUnavailable) {
				break
			}
		}
	}
	return report, errors.Join(errs...)
}

func metadataOf(info engine.RunInfo) gsas.Metadata {
	return gsas.Metadata{
		RunNumber:  info.RunNumber,
		IPTS:       info.IPTS,
		Title:      info.Title,
		RunStart:   info.RunStart,
		Duration:   time.Duration(info.Duration * float64(time.Second)),
		PulseTimes: info.PulseTimes,
	}
}

func loadVanadium(path string) ([]gsas.Spectrum, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read vanadium: %w", err)
	}
	f, err := gsas.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse vanadium %s: %w", path, err)
	}
	out := make([]gsas.Spectrum, len(f.Banks))
	for i, b := range f.Banks {
		out[i] = b.Spectrum()
	}
	return out, nil
}

func (s *Service) buildSets(ctx context.Context, r *run) ([]splitter.Set, error) {
	sl := r.job.Slicing
	b := splitter.NewBuilder(
		splitter.RunSpan{Start: r.info.RunStart, Duration: r.info.Duration},
		engine.LogFilter{Engine: s.eng, Handle: r.events},
		r.logger,
	)
	one := func(set splitter.Set, err error) ([]splitter.Set, error) {
		if err != nil {
			return nil, err
		}
		return []splitter.Set{set}, nil
	}

	switch sl.Kind {
	case SliceInterval:
		return one(b.ByInterval(sl.Tag, sl.Start, sl.Stop, sl.Step))
	case SliceLog:
		q := *sl.Log
		q.Tag = sl.Tag
		return one(b.ByLogThreshold(ctx, q))
	case SliceArbitrary:
		return one(b.FromArbitrary(sl.Tag, sl.Clock, sl.Segments))
	case SliceTable:
		f, err := os.Open(sl.Table)
		if err != nil {
			return nil, fmt.Errorf("open splitter table: %w", err)
		}
		defer f.Close()
		clock := sl.Clock
		if clock == "" {
			clock = splitter.RunRelative
		}
		return one(splitter.ParseTable(f, sl.Tag, clock))
	case SliceWindows:
		start, stop := 0.0, r.info.Duration
		if sl.Start != nil {
			start = *sl.Start
		}
		if sl.Stop != nil {
			stop = *sl.Stop
		}
		return b.OverlappingWindows(sl.Tag, start, stop, sl.Window, sl.Stride)
	}
	return nil, fmt.Errorf("%w: slicing %q", ErrInvalidJob, sl.Kind)
}

// open returns a fresh tracker for key. A key that already progressed
// past raw is not reduced again.
func (s *Service) open(ctx context.Context, key tracker.Key) error {
	t, err := s.trackers.Open(ctx, key)
	if err != nil {
		return err
	}
	if t.State != tracker.StateRaw || t.Reduced {
		return fmt.Errorf("%w: %s is %s", ErrAlreadyReduced, key, t.State)
	}
	return nil
}

// advance walks the tracker through states in order.
func (s *Service) advance(ctx context.Context, key tracker.Key, message string, states ...tracker.State) error {
	for _, st := range states {
		if _, err := s.trackers.Advance(ctx, key, st, message); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) doneStates(r *run) []tracker.State {
	states := []tracker.State{tracker.StateFocused}
	if r.vanadium != nil {
		states = append(states, tracker.StateNormalized)
	}
	return append(states, tracker.StateWritten)
}

func (s *Service) reduceWhole(ctx context.Context, r *run) SetReport {
	key := tracker.Key{RunNumber: r.info.RunNumber}
	sr := SetReport{Key: key, Artifacts: map[splitter.Target]string{}}
	if sr.Err = s.open(ctx, key); sr.Err != nil {
		return sr
	}
	if r.job.DryRun {
		_, sr.Err = s.trackers.Finish(ctx, key, "dry run")
		return sr
	}

	target := splitter.IntTarget(r.info.RunNumber)
	rel := string(target) + ".gda"
	// Reduce releases the raw events when the job ends.
	path, err := s.focusAndWrite(ctx, r, r.events, true, r.meta, rel)
	if err != nil {
		sr.Err = err
		return sr
	}
	sr.Artifacts[target] = path
	if err := s.trackers.RecordArtifact(ctx, key, string(target), path); err != nil {
		sr.Err = err
		return sr
	}
	sr.Err = s.advance(ctx, key, "wrote "+rel, s.doneStates(r)...)
	return sr
}

func (s *Service) reduceSet(ctx context.Context, r *run, set splitter.Set) SetReport {
	key := tracker.Key{RunNumber: r.info.RunNumber, SliceKey: set.Tag}
	sr := SetReport{
		Key:       key,
		Segments:  set.Len(),
		Windows:   set.Windows(r.info.RunStart),
		Artifacts: map[splitter.Target]string{},
	}
	if sr.Err = s.open(ctx, key); sr.Err != nil {
		return sr
	}
	if set.Overlapping() {
		r.logger.WarnContext(ctx, "splitters overlap; events may land in several targets", "tag", set.Tag)
	}
	plan, err := s.chunks.Plan(set, r.info.RunStart)
	if err != nil {
		sr.Err = err
		return sr
	}

	w := &setWriter{svc: s, run: r, key: key, written: map[splitter.Target]int{}, artifacts: sr.Artifacts}
	res, runErr := s.chunks.Run(ctx, plan, w.chunk)
	sr.Result = res

	if len(res.Targets) == 0 && runErr != nil {
		sr.Err = runErr
		return sr
	}
	msg := res.Message
	if msg == "" {
		msg = fmt.Sprintf("%d targets", len(res.Targets))
	}
	if err := s.advance(ctx, key, msg, tracker.StateChopped); err != nil {
		sr.Err = errors.Join(runErr, err)
		return sr
	}
	switch {
	case runErr != nil:
		sr.Err = runErr
	case r.job.DryRun:
		_, sr.Err = s.trackers.Finish(ctx, key, "dry run")
	default:
		sr.Err = s.advance(ctx, key, msg, s.doneStates(r)...)
	}
	return sr
}

// setWriter processes the chunks of one set.
type setWriter struct {
	svc *Service
	run *run
	key tracker.Key

	mu        sync.Mutex
	written   map[splitter.Target]int
	artifacts map[splitter.Target]string
}

func (w *setWriter) chunk(ctx context.Context, ch chunk.Chunk) (chunk.Outcome, error) {
	s, r := w.svc, w.run
	slices, err := s.focus.Chop(ctx, r.events, ch.Set)
	if err != nil {
		return chunk.Outcome{}, err
	}
	release := func(rest []focus.Slice) {
		for _, sl := range rest {
			if err := s.eng.Delete(ctx, sl.Events); err != nil {
				r.logger.DebugContext(ctx, "slice already released", "workspace", sl.Events, "error", err)
			}
		}
	}

	var out chunk.Outcome
	if r.job.DryRun {
		release(slices)
		for _, sl := range slices {
			out.Targets = append(out.Targets, sl.Target)
		}
		out.Message = fmt.Sprintf("chunk %d chopped %d targets", ch.Index, len(slices))
		return out, nil
	}

	spans := targetSpans(ch.Set)
	for i, sl := range slices {
		if !validTarget(string(sl.Target)) {
			release(slices[i:])
			return out, fmt.Errorf("%w: %q", ErrInvalidTarget, sl.Target)
		}
		rel := w.path(ctx, sl.Target, ch.Index)
		span := spans[sl.Target]
		path, err := s.focusAndWrite(ctx, r, sl.Events, false, r.meta.Slice(span[0], span[1]), rel)
		if err != nil {
			release(slices[i:])
			return out, fmt.Errorf("target %s: %w", sl.Target, err)
		}
		if err := s.trackers.RecordArtifact(ctx, w.key, string(sl.Target), path); err != nil {
			release(slices[i+1:])
			return out, err
		}
		w.mu.Lock()
		w.artifacts[sl.Target] = path
		w.mu.Unlock()
		out.Targets = append(out.Targets, sl.Target)
	}
	out.Message = fmt.Sprintf("chunk %d wrote %d targets", ch.Index, len(out.Targets))
	return out, nil
}

// path is <run>/<tag>/<target>.gda. A target already written by an
// earlier chunk gets the chunk index appended.
func (w *setWriter) path(ctx context.Context, target splitter.Target, chunkIndex int) string {
	w.mu.Lock()
	defer w.mu.Unlock()
	name := string(target)
	if _, seen := w.written[target]; seen {
		name = fmt.Sprintf("%s_chunk%d", target, chunkIndex)
		w.run.logger.WarnContext(ctx, "target recurs across chunks", "tag", w.key.SliceKey, "target", target, "chunk", chunkIndex)
	}
	w.written[target]++
	return filepath.Join(strconv.Itoa(w.run.info.RunNumber), w.key.SliceKey, name+".gda")
}

// targetSpans returns the run-relative [first start, last stop] of every
// target in set. A target that recurs within the chunk gets the envelope of
// its segments, gaps included, since one GSAS file carries one header window.
func targetSpans(set splitter.Set) map[splitter.Target][2]float64 {
	spans := make(map[splitter.Target][2]float64)
	for _, seg := range set.Segments {
		sp, ok := spans[seg.Target]
		if !ok {
			spans[seg.Target] = [2]float64{seg.Start, seg.Stop}
			continue
		}
		sp[0] = min(sp[0], seg.Start)
		sp[1] = max(sp[1], seg.Stop)
		spans[seg.Target] = sp
	}
	return spans
}

func (s *Service) focusAndWrite(ctx context.Context, r *run, events engine.Handle, retain bool, meta gsas.Metadata, rel string) (string, error) {
	spectra, err := s.focus.Focus(ctx, focus.Request{
		Events:  events,
		Bundle:  r.bundle,
		Binning: r.binning,
		Unit:    r.job.Unit,
		Retain:  retain,
	})
	if err != nil {
		return "", err
	}
	data, err := gsas.Writer{IParm: s.opts.IParm, FileName: rel}.Write(spectra, meta, gsas.Options{
		Vanadium: r.vanadium,
		Align:    r.job.Align,
	})
	if err != nil {
		return "", fmt.Errorf("write %s: %w", rel, err)
	}
	exists, err := s.sink.Exists(rel)
	if err != nil {
		return "", err
	}
	if exists {
		r.logger.InfoContext(ctx, "replacing existing gsas file", "file", rel)
	}
	path, err := s.sink.Put(ctx, rel, data)
	if err != nil {
		return "", err
	}
	metrics.BanksWritten.Add(float64(len(spectra)))
	r.logger.DebugContext(ctx, "wrote gsas", "path", path, "banks", len(spectra))
	return path, nil
}
