package memengine

import (
	"context"
	"fmt"
	"math"

	"github.com/neutrons/PyVDrive-sub000/internal/domain/splitter"
	"github.com/neutrons/PyVDrive-sub000/internal/engine"
)

// GenerateLogFilter slices the run wherever a sample log moves between
// value bands of width q.Step in [Min, Max). Each band is one target,
// numbered from 0 at Min. Increase keeps samples not below their
// predecessor and Decrease keeps those not above it.
func (e *Engine) GenerateLogFilter(ctx context.Context, h engine.Handle, q splitter.LogThreshold) (splitter.Set, error) {
	if err := ctx.Err(); err != nil {
		return splitter.Set{}, err
	}
	w, err := e.get(h)
	if err != nil {
		return splitter.Set{}, err
	}
	series, ok := w.logs[q.LogName]
	if !ok || len(series.Times) == 0 {
		return splitter.Set{}, fmt.Errorf("%w: %s", ErrUnknownLog, q.LogName)
	}
	if !(q.Step > 0) {
		return splitter.Set{}, fmt.Errorf("log %s: step %g must be positive", q.LogName, q.Step)
	}

	end := w.info.Duration
	if last := series.Times[len(series.Times)-1]; end <= last {
		end = last
	}
	from, to := math.Inf(-1), math.Inf(1)
	if q.Start != nil {
		from = *q.Start
	}
	if q.Stop != nil {
		to = *q.Stop
	}

	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range series.Values {
		lo, hi = math.Min(lo, v), math.Max(hi, v)
	}
	if q.Min != nil {
		lo = *q.Min
	}
	if q.Max != nil {
		hi = *q.Max
	}

	var segs []splitter.Segment
	open := -1
	for i, t := range series.Times {
		stop := end
		if i+1 < len(series.Times) {
			stop = series.Times[i+1]
		}
		start := math.Max(t, from)
		stop = math.Min(stop, to)

		band := -1
		v := series.Values[i]
		if v >= lo && (v < hi || (q.Max == nil && v == hi)) && accept(q.Direction, series.Values, i) {
			band = int(math.Floor((v - lo) / q.Step))
		}
		if !(start < stop) || band < 0 {
			open = -1
			continue
		}
		if band == open && len(segs) > 0 && segs[len(segs)-1].Stop == start {
			segs[len(segs)-1].Stop = stop
			continue
		}
		segs = append(segs, splitter.Segment{Start: start, Stop: stop, Target: splitter.IntTarget(band)})
		open = band
	}
	return splitter.Set{Tag: q.Tag, Clock: splitter.RunRelative, Segments: segs}, nil
}

func accept(d splitter.Direction, values []float64, i int) bool {
	if d == splitter.Both || d == "" || i == 0 {
		return true
	}
	if d == splitter.Increase {
		return values[i] >= values[i-1]
	}
	return values[i] <= values[i-1]
}
