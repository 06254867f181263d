package chunk

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/neutrons/PyVDrive-sub000/internal/domain/splitter"
)

// DefaultMaxChunk bounds the number of segments resident at once.
const DefaultMaxChunk = 200

var (
	// ErrChunkFailed is matched by every PartialFailure.
	ErrChunkFailed = errors.New("chunk failed")
	// ErrMissingRunStart indicates an epoch splitter set without a run start to re-base on.
	ErrMissingRunStart = errors.New("epoch splitters need a run start")
	// ErrInvalidConfig indicates a non-positive chunk size or worker count.
	ErrInvalidConfig = errors.New("invalid chunk configuration")
)

// Chunk is a bounded run-relative sub-set of a splitter set.
type Chunk struct {
	Index  int
	Offset int // index of the first segment in the parent set
	Set    splitter.Set
}

// Plan is the ordered chunk decomposition of one splitter set.
type Plan struct {
	Tag      string
	Segments int
	Size     int
	Chunks   []Chunk
}

// Outcome is what a chunk function reports on success.
type Outcome struct {
	Targets []splitter.Target
	Message string
}

// ChunkResult is the record of one executed chunk.
type ChunkResult struct {
	Index    int
	Targets  []splitter.Target
	Message  string
	Err      error
	Duration time.Duration
}

// Result aggregates a whole run. Success is the AND of every chunk.
type Result struct {
	Success bool
	Message string
	Chunks  []ChunkResult
	Targets []splitter.Target
	Aborted bool
}

// PartialFailure reports the chunks that failed while the rest completed.
type PartialFailure struct {
	Total  int
	Failed []ChunkResult
}

func (p *PartialFailure) Error() string {
	parts := make([]string, len(p.Failed))
	for i, f := range p.Failed {
		parts[i] = fmt.Sprintf("chunk %d: %v", f.Index, f.Err)
	}
	return fmt.Sprintf("%d of %d chunks failed: %s", len(p.Failed), p.Total, strings.Join(parts, "; "))
}

func (p *PartialFailure) Unwrap() []error {
	errs := make([]error, len(p.Failed))
	for i, f := range p.Failed {
		errs[i] = f.Err
	}
	return errs
}

func (p *PartialFailure) Is(target error) bool { return target == ErrChunkFailed }
