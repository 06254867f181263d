package splitter

import "context"

// LogFilterGenerator finds the segments where a sample log crosses value
// thresholds. It is backed by the event-processing engine for one loaded run.
type LogFilterGenerator interface {
	GenerateLogFilter(ctx context.Context, q LogThreshold) (Set, error)
}
