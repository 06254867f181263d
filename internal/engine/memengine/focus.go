package memengine

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/neutrons/PyVDrive-sub000/internal/engine"
	"github.com/neutrons/PyVDrive-sub000/internal/gsas"
)

type spectrum struct {
	id   int
	difc float64
	x    []float64
	w    []float64
}

type focused struct {
	unit    engine.Unit
	binning []float64
	spectra []spectrum
}

func (f *focused) convert(unit engine.Unit) {
	if f.unit == unit {
		return
	}
	for i := range f.spectra {
		s := &f.spectra[i]
		for j := range s.x {
			if unit == engine.TOF {
				s.x[j] *= s.difc
			} else {
				s.x[j] /= s.difc
			}
		}
	}
	f.unit = unit
}

// AlignAndFocus converts every event to d-spacing with its detector's
// DIFC and sums detectors into the grouped focused spectra. TOF output
// uses each focused spectrum's own DIFC.
func (e *Engine) AlignAndFocus(ctx context.Context, h engine.Handle, p engine.FocusParams) (engine.Handle, error) {
	w, err := e.get(h)
	if err != nil {
		return "", err
	}
	if w.focused != nil {
		return "", fmt.Errorf("focus %s: workspace already focused", h)
	}
	if !p.Unit.Valid() {
		return "", fmt.Errorf("focus %s: unknown unit %q", h, p.Unit)
	}
	if len(p.L2) != len(p.SpectrumIDs) || len(p.Polar) != len(p.SpectrumIDs) {
		return "", fmt.Errorf("focus %s: geometry has %d L2, %d polar for %d spectra", h, len(p.L2), len(p.Polar), len(p.SpectrumIDs))
	}

	e.mu.RLock()
	cal, calOK := e.cals[p.CalibrationWorkspace]
	group, groupOK := e.cals[p.GroupingWorkspace]
	mask := e.cals[p.MaskWorkspace]
	e.mu.RUnlock()
	if !calOK {
		return "", fmt.Errorf("focus %s: calibration %q not loaded", h, p.CalibrationWorkspace)
	}
	if !groupOK {
		return "", fmt.Errorf("focus %s: grouping %q not loaded", h, p.GroupingWorkspace)
	}

	out := &focused{unit: engine.DSpacing, binning: p.Binning, spectra: make([]spectrum, len(p.SpectrumIDs))}
	index := make(map[int]int, len(p.SpectrumIDs))
	for i, id := range p.SpectrumIDs {
		az := 0.0
		if i < len(p.Azimuthal) {
			az = p.Azimuthal[i]
		}
		geom := gsas.Geometry{
			Source:   gsas.Vec3{Z: -p.L1},
			Detector: gsas.Spherical(p.L2[i], p.Polar[i], az),
		}
		out.spectra[i] = spectrum{id: id, difc: geom.Derive().DIFC}
		index[id] = i
	}

	var dropped int
	ev := w.events
	for i, det := range ev.Detector {
		if i%65536 == 0 {
			if err := ctx.Err(); err != nil {
				return "", err
			}
		}
		difc, ok := cal.difc[det]
		// Non-positive flight times have no d-spacing and no log bin.
		if !ok || !(ev.TOF[i] > 0) || (mask != nil && mask.mask[det]) {
			dropped++
			continue
		}
		k, ok := index[group.group[det]]
		if !ok {
			dropped++
			continue
		}
		s := &out.spectra[k]
		s.x = append(s.x, ev.TOF[i]/difc)
		s.w = append(s.w, 1)
	}
	out.convert(p.Unit)

	fh := e.put(newName(string(h)+"_focused"), &workspace{info: w.info, logs: w.logs, focused: out})
	e.logger.DebugContext(ctx, "focused events", "workspace", h, "focused", fh, "dropped", dropped)
	return fh, nil
}

// CompressEvents merges events of a focused workspace whose x values lie
// within tolerance of the first event of their run. TOF tolerance is in
// microseconds; d-spacing tolerance is scaled by each spectrum's DIFC.
func (e *Engine) CompressEvents(ctx context.Context, h engine.Handle, tolerance float64) error {
	w, err := e.get(h)
	if err != nil {
		return err
	}
	if w.focused == nil {
		return fmt.Errorf("%w: %s", ErrNotFocused, h)
	}
	if tolerance < 0 {
		return fmt.Errorf("compress %s: negative tolerance %g", h, tolerance)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range w.focused.spectra {
		if err := ctx.Err(); err != nil {
			return err
		}
		s := &w.focused.spectra[i]
		tol := tolerance
		if w.focused.unit == engine.DSpacing {
			tol /= s.difc
		}
		s.x, s.w = compress(s.x, s.w, tol)
	}
	return nil
}

func compress(x, w []float64, tol float64) ([]float64, []float64) {
	if len(x) == 0 {
		return x, w
	}
	order := make([]int, len(x))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return x[order[a]] < x[order[b]] })

	var ox, ow []float64
	start := x[order[0]]
	var sum, wsum float64
	for _, k := range order {
		if x[k]-start > tol {
			ox = append(ox, sum/wsum)
			ow = append(ow, wsum)
			start, sum, wsum = x[k], 0, 0
		}
		sum += x[k] * w[k]
		wsum += w[k]
	}
	ox = append(ox, sum/wsum)
	ow = append(ow, wsum)
	return ox, ow
}

// Histograms bins every focused spectrum. A single binning parameter is a
// width applied over the data range of the whole workspace.
func (e *Engine) Histograms(_ context.Context, h engine.Handle) ([]engine.Histogram, error) {
	w, err := e.get(h)
	if err != nil {
		return nil, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	f := w.focused
	if f == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFocused, h)
	}

	params, err := f.params()
	if err != nil {
		return nil, fmt.Errorf("histogram %s: %w", h, err)
	}
	edges, err := gsas.ParamEdges(params)
	if err != nil {
		return nil, fmt.Errorf("histogram %s: %w", h, err)
	}

	out := make([]engine.Histogram, len(f.spectra))
	for i, s := range f.spectra {
		y := make([]float64, len(edges)-1)
		for j, x := range s.x {
			k := sort.SearchFloat64s(edges, x)
			// SearchFloat64s returns the first edge >= x.
			if k < len(edges) && edges[k] == x {
				k++
			}
			if k == 0 || k == len(edges) {
				continue
			}
			y[k-1] += s.w[j]
		}
		sigma := make([]float64, len(y))
		for k, v := range y {
			sigma[k] = math.Sqrt(v)
		}
		x := make([]float64, len(edges))
		copy(x, edges)
		out[i] = engine.Histogram{SpectrumID: s.id, Unit: f.unit, X: x, Y: y, E: sigma}
	}
	return out, nil
}

func (f *focused) params() ([]float64, error) {
	switch len(f.binning) {
	case 3:
		return f.binning, nil
	case 1:
	default:
		return nil, fmt.Errorf("want 1 or 3 binning parameters, got %d", len(f.binning))
	}
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, s := range f.spectra {
		for _, x := range s.x {
			lo = math.Min(lo, x)
			hi = math.Max(hi, x)
		}
	}
	if math.IsInf(lo, 1) {
		return nil, ErrNoEvents
	}
	width := f.binning[0]
	// Pad the top edge so the largest event falls inside the last bin.
	if width < 0 {
		hi *= 1 - width
	} else {
		hi += width
	}
	return []float64{lo, width, hi}, nil
}
