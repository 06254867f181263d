package splitter

import (
	"sort"
	"strconv"
	"time"
)

// OverlapTolerance is the slack allowed between one segment's stop and the
// next segment's start before the pair counts as overlapping.
const OverlapTolerance = 1e-10

// Clock names the origin segment times are measured from.
type Clock string

const (
	// RunRelative times are seconds since the run start.
	RunRelative Clock = "run_relative"
	// Epoch times are seconds since 1970-01-01T00:00:00Z.
	Epoch Clock = "epoch"
)

// Valid reports whether c is a known clock.
func (c Clock) Valid() bool {
	return c == RunRelative || c == Epoch
}

// Target identifies the output bucket a segment's events go to.
type Target string

// IntTarget renders an integer target id.
func IntTarget(i int) Target {
	return Target(strconv.Itoa(i))
}

// Segment is one slice of the experiment timeline.
type Segment struct {
	Start  float64 `json:"start" yaml:"start"`
	Stop   float64 `json:"stop" yaml:"stop"`
	Target Target  `json:"target" yaml:"target"`
}

// Duration returns the segment length.
func (s Segment) Duration() time.Duration {
	return secondsToDuration(s.Stop - s.Start)
}

// Set is an ordered collection of segments produced by one slicing policy.
// Sets are values: every derivation returns a new Set.
type Set struct {
	Tag      string    `json:"tag" yaml:"tag"`
	Clock    Clock     `json:"clock" yaml:"clock"`
	Segments []Segment `json:"segments" yaml:"segments"`
}

// Len returns the number of segments.
func (s Set) Len() int { return len(s.Segments) }

// Targets returns the distinct targets in segment order.
func (s Set) Targets() []Target {
	seen := make(map[Target]struct{}, len(s.Segments))
	out := make([]Target, 0, len(s.Segments))
	for _, seg := range s.Segments {
		if _, ok := seen[seg.Target]; ok {
			continue
		}
		seen[seg.Target] = struct{}{}
		out = append(out, seg.Target)
	}
	return out
}

// Validate checks the clock tag and that every segment has start < stop.
func (s Set) Validate() error {
	if !s.Clock.Valid() {
		return ErrInvalidInput
	}
	for _, seg := range s.Segments {
		if !(seg.Start < seg.Stop) {
			return ErrInvalidRange
		}
	}
	return nil
}

// Overlapping reports whether any two segments overlap by more than
// OverlapTolerance. Segments are compared in start order, so the input
// ordering does not matter.
func (s Set) Overlapping() bool {
	if len(s.Segments) < 2 {
		return false
	}
	sorted := make([]Segment, len(s.Segments))
	copy(sorted, s.Segments)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })
	for i := 1; i < len(sorted); i++ {
		if sorted[i-1].Stop-sorted[i].Start > OverlapTolerance {
			return true
		}
	}
	return false
}

// Slice returns the segments in [from, to) as a new set with the same tag
// and clock. Bounds are clamped to the set length.
func (s Set) Slice(from, to int) Set {
	if from < 0 {
		from = 0
	}
	if to > len(s.Segments) {
		to = len(s.Segments)
	}
	if from > to {
		from = to
	}
	segs := make([]Segment, to-from)
	copy(segs, s.Segments[from:to])
	return Set{Tag: s.Tag, Clock: s.Clock, Segments: segs}
}

// Rebase converts an Epoch set to RunRelative seconds from runStart.
// RunRelative sets are returned as a copy.
func (s Set) Rebase(runStart time.Time) Set {
	out := s.Slice(0, len(s.Segments))
	if s.Clock != Epoch {
		return out
	}
	zero := float64(runStart.UnixNano()) / 1e9
	for i := range out.Segments {
		out.Segments[i].Start -= zero
		out.Segments[i].Stop -= zero
	}
	out.Clock = RunRelative
	return out
}

// Window is an absolute time window, the shape engines consume.
type Window struct {
	Start  time.Time
	Stop   time.Time
	Target Target
}

// Windows converts the set into absolute windows anchored at runStart.
func (s Set) Windows(runStart time.Time) []Window {
	rel := s.Rebase(runStart)
	out := make([]Window, len(rel.Segments))
	for i, seg := range rel.Segments {
		out[i] = Window{
			Start:  runStart.Add(secondsToDuration(seg.Start)),
			Stop:   runStart.Add(secondsToDuration(seg.Stop)),
			Target: seg.Target,
		}
	}
	return out
}

func secondsToDuration(sec float64) time.Duration {
	return time.Duration(sec * float64(time.Second))
}
