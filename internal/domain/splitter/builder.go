package splitter

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"
)

// Direction selects which log value changes open a segment.
type Direction string

const (
	Both     Direction = "Both"
	Increase Direction = "Increase"
	Decrease Direction = "Decrease"
)

// Valid reports whether d is a known direction.
func (d Direction) Valid() bool {
	switch d {
	case Both, Increase, Decrease:
		return true
	}
	return false
}

// MaxIntervalSegments caps the number of segments ByInterval may produce.
const MaxIntervalSegments = 10_000_000

// RunSpan is the run-relative extent of the loaded run, used to default
// open interval ends.
type RunSpan struct {
	Start    time.Time
	Duration float64
}

// LogThreshold describes a log-value slicing request.
type LogThreshold struct {
	Tag       string    `yaml:"tag" json:"tag,omitempty"`
	LogName   string    `yaml:"name" json:"name"`
	Step      float64   `yaml:"step" json:"step,omitempty"`
	Start     *float64  `yaml:"start" json:"start,omitempty"`
	Stop      *float64  `yaml:"stop" json:"stop,omitempty"`
	Min       *float64  `yaml:"min" json:"min,omitempty"`
	Max       *float64  `yaml:"max" json:"max,omitempty"`
	Direction Direction `yaml:"direction" json:"direction,omitempty"`
}

// Entry is one caller-supplied segment. Target is optional.
type Entry struct {
	Start  float64 `yaml:"start" json:"start"`
	Stop   float64 `yaml:"stop" json:"stop"`
	Target *Target `yaml:"target" json:"target,omitempty"`
}

// Builder constructs validated splitter sets.
type Builder struct {
	span   RunSpan
	logs   LogFilterGenerator
	logger *slog.Logger
}

// NewBuilder creates a builder for one run. logs may be nil when log-value
// slicing is not needed.
func NewBuilder(span RunSpan, logs LogFilterGenerator, logger *slog.Logger) *Builder {
	return &Builder{span: span, logs: logs, logger: logger}
}

// ByInterval slices [start, stop] into consecutive segments of length step.
// Nil start defaults to the run start, nil stop to the run end and nil step
// to a single segment. Targets are 1, 2, ...
func (b *Builder) ByInterval(tag string, start, stop, step *float64) (Set, error) {
	if start == nil && stop == nil && step == nil {
		return Set{}, ErrInvalidInput
	}
	lo := 0.0
	if start != nil {
		lo = *start
	}
	var hi float64
	switch {
	case stop != nil:
		hi = *stop
	case b.span.Duration > 0:
		hi = b.span.Duration
	default:
		return Set{}, fmt.Errorf("%w: stop not given and run duration unknown", ErrInvalidInput)
	}
	if !(lo < hi) {
		return Set{}, fmt.Errorf("%w: start %g >= stop %g", ErrInvalidRange, lo, hi)
	}
	width := hi - lo
	if step != nil {
		if !(*step > 0) {
			return Set{}, fmt.Errorf("%w: step %g must be positive", ErrInvalidRange, *step)
		}
		width = *step
	}

	count := math.Ceil((hi - lo) / width)
	if math.IsNaN(count) || math.IsInf(count, 0) || count > MaxIntervalSegments {
		return Set{}, fmt.Errorf("%w: step %g gives more than %d segments over [%g, %g]",
			ErrInvalidRange, width, MaxIntervalSegments, lo, hi)
	}
	n := int(count)
	// Guard against a final sliver produced by float rounding.
	if n > 1 && lo+float64(n-1)*width >= hi-OverlapTolerance {
		n--
	}
	segs := make([]Segment, 0, n)
	for i := 0; i < n; i++ {
		s := lo + float64(i)*width
		e := lo + float64(i+1)*width
		if i == n-1 || e > hi {
			e = hi
		}
		segs = append(segs, Segment{Start: s, Stop: e, Target: IntTarget(i + 1)})
	}
	return Set{Tag: tag, Clock: RunRelative, Segments: segs}, nil
}

// ByLogThreshold validates a log-value slicing request and delegates the
// crossing detection to the engine.
func (b *Builder) ByLogThreshold(ctx context.Context, q LogThreshold) (Set, error) {
	if strings.TrimSpace(q.LogName) == "" {
		return Set{}, fmt.Errorf("%w: log name required", ErrInvalidInput)
	}
	if q.Direction == "" {
		q.Direction = Both
	}
	if !q.Direction.Valid() {
		return Set{}, fmt.Errorf("%w: %q", ErrInvalidDirection, q.Direction)
	}
	if !(q.Step > 0) {
		return Set{}, fmt.Errorf("%w: log step %g must be positive", ErrInvalidRange, q.Step)
	}
	if q.Start != nil && q.Stop != nil && !(*q.Start < *q.Stop) {
		return Set{}, fmt.Errorf("%w: start %g >= stop %g", ErrInvalidRange, *q.Start, *q.Stop)
	}
	if q.Min != nil && q.Max != nil && !(*q.Min < *q.Max) {
		return Set{}, fmt.Errorf("%w: min value %g >= max value %g", ErrInvalidRange, *q.Min, *q.Max)
	}
	if b.logs == nil {
		return Set{}, fmt.Errorf("%w: no log filter generator configured", ErrInvalidInput)
	}

	set, err := b.logs.GenerateLogFilter(ctx, q)
	if err != nil {
		return Set{}, fmt.Errorf("generating log filter %s: %w", q.LogName, err)
	}
	if set.Tag == "" {
		set.Tag = q.Tag
	}
	if err := set.Validate(); err != nil {
		return Set{}, fmt.Errorf("log filter %s: %w", q.LogName, err)
	}
	if b.logger != nil {
		b.logger.Debug("log filter generated", "log", q.LogName, "segments", set.Len())
	}
	return set, nil
}

// FromArbitrary builds a set from caller-supplied segments. Either every
// entry names its target or none does; implicit targets are index+1.
func (b *Builder) FromArbitrary(tag string, clock Clock, entries []Entry) (Set, error) {
	if len(entries) == 0 {
		return Set{}, fmt.Errorf("%w: no segments", ErrInvalidInput)
	}
	if clock == "" {
		clock = RunRelative
	}
	if !clock.Valid() {
		return Set{}, fmt.Errorf("%w: unknown clock %q", ErrInvalidInput, clock)
	}
	explicit := entries[0].Target != nil
	segs := make([]Segment, len(entries))
	for i, e := range entries {
		if (e.Target != nil) != explicit {
			return Set{}, ErrMixedTargets
		}
		if !(e.Start < e.Stop) {
			return Set{}, fmt.Errorf("%w: segment %d start %g >= stop %g", ErrInvalidRange, i, e.Start, e.Stop)
		}
		target := IntTarget(i + 1)
		if explicit {
			target = *e.Target
		}
		segs[i] = Segment{Start: e.Start, Stop: e.Stop, Target: target}
	}
	sort.SliceStable(segs, func(i, j int) bool { return segs[i].Start < segs[j].Start })

	set := Set{Tag: tag, Clock: clock, Segments: segs}
	if set.Overlapping() && b.logger != nil {
		b.logger.Warn("arbitrary splitters overlap", "tag", tag, "segments", len(segs))
	}
	return set, nil
}

// OverlappingWindows builds round(window/stride) phase-shifted sets of
// back-to-back windows over [start, stop]. Set k starts at start+k*stride.
func (b *Builder) OverlappingWindows(tag string, start, stop, window, stride float64) ([]Set, error) {
	if !(start < stop) {
		return nil, fmt.Errorf("%w: start %g >= stop %g", ErrInvalidRange, start, stop)
	}
	if !(stride > 0) || !(window > stride) {
		return nil, fmt.Errorf("%w: window %g must exceed stride %g > 0", ErrInvalidRange, window, stride)
	}
	count := int(math.Round(window / stride))
	sets := make([]Set, 0, count)
	for k := 0; k < count; k++ {
		var segs []Segment
		for s := start + float64(k)*stride; s < stop-OverlapTolerance; s += window {
			e := math.Min(s+window, stop)
			segs = append(segs, Segment{Start: s, Stop: e, Target: IntTarget(len(segs) + 1)})
		}
		if len(segs) == 0 {
			continue
		}
		sets = append(sets, Set{Tag: fmt.Sprintf("%s_%d", tag, k), Clock: RunRelative, Segments: segs})
	}
	return sets, nil
}
