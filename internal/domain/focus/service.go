// Package focus turns raw event slices into focused per-bank spectra by
// orchestrating the event-processing engine.
package focus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/neutrons/PyVDrive-sub000/internal/domain/calibration"
	"github.com/neutrons/PyVDrive-sub000/internal/domain/splitter"
	"github.com/neutrons/PyVDrive-sub000/internal/engine"
	"github.com/neutrons/PyVDrive-sub000/internal/gsas"
	"github.com/neutrons/PyVDrive-sub000/internal/metrics"
)

var tracer = otel.Tracer("vdrive.focus")

// DefaultCompressTolerance is the event compression tolerance in microseconds.
const DefaultCompressTolerance = 0.01

// Request is one focus call.
type Request struct {
	Events  engine.Handle
	Bundle  *calibration.Bundle
	Binning Binning
	Unit    engine.Unit
	// Retain keeps the raw event handle alive after focusing.
	Retain bool
}

// Slice is one chopped target with its event handle.
type Slice struct {
	Target splitter.Target
	Events engine.Handle
	Count  int64
}

// Engine sequences convert, focus and compress on the event engine.
type Engine struct {
	eng               engine.Engine
	logger            *slog.Logger
	compressTolerance float64
}

// NewEngine creates a focus engine. A nil logger discards output.
func NewEngine(eng engine.Engine, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Engine{eng: eng, logger: logger, compressTolerance: DefaultCompressTolerance}
}

// WithCompressTolerance overrides the event compression tolerance.
func (e *Engine) WithCompressTolerance(tol float64) *Engine {
	e.compressTolerance = tol
	return e
}

// Focus converts the events to TOF, aligns and focuses them onto the
// bundle's banks, compresses the result and reads the spectra back with
// the focused geometry attached.
func (e *Engine) Focus(ctx context.Context, req Request) (_ []gsas.Spectrum, err error) {
	ctx, span := tracer.Start(ctx, "focus.Focus", trace.WithAttributes(
		attribute.String("focus.events", string(req.Events)),
		attribute.String("focus.unit", string(req.Unit)),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if req.Bundle == nil {
		return nil, ErrNoBundle
	}
	if err := req.Binning.Validate(req.Unit); err != nil {
		return nil, err
	}
	geom := req.Bundle.Geometry

	if err := e.eng.ConvertUnit(ctx, req.Events, engine.TOF); err != nil {
		return nil, engine.Wrap("ConvertUnit", req.Events, err)
	}
	focused, err := e.eng.AlignAndFocus(ctx, req.Events, engine.FocusParams{
		CalibrationWorkspace: req.Bundle.Names.Calibration,
		GroupingWorkspace:    req.Bundle.Names.Grouping,
		MaskWorkspace:        req.Bundle.Names.Mask,
		Binning:              req.Binning.Params(),
		Unit:                 req.Unit,
		L1:                   geom.L1,
		L2:                   geom.L2,
		Polar:                geom.Polar,
		Azimuthal:            geom.Azimuthal,
		SpectrumIDs:          geom.SpectrumIDs,
	})
	if err != nil {
		return nil, engine.Wrap("AlignAndFocus", req.Events, err)
	}
	if !req.Retain {
		if err := e.eng.Delete(ctx, req.Events); err != nil {
			e.logger.WarnContext(ctx, "failed to release raw events", "events", req.Events, "error", err)
		}
	}
	defer func() {
		if derr := e.eng.Delete(ctx, focused); derr != nil {
			e.logger.WarnContext(ctx, "failed to release focused workspace", "workspace", focused, "error", derr)
		}
	}()

	if err := e.eng.CompressEvents(ctx, focused, e.compressTolerance); err != nil {
		return nil, engine.Wrap("CompressEvents", focused, err)
	}
	hists, err := e.eng.Histograms(ctx, focused)
	if err != nil {
		return nil, engine.Wrap("Histograms", focused, err)
	}

	spectra, err := attachGeometry(hists, geom)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("focus.banks", len(spectra)))
	e.logger.DebugContext(ctx, "focused events", "events", req.Events, "banks", len(spectra), "unit", req.Unit)
	return spectra, nil
}

// Chop splits events by the set's targets. Targets that receive no events
// are released and skipped.
func (e *Engine) Chop(ctx context.Context, events engine.Handle, set splitter.Set) ([]Slice, error) {
	ctx, span := tracer.Start(ctx, "focus.Chop", trace.WithAttributes(
		attribute.String("splitter.tag", set.Tag),
		attribute.Int("splitter.segments", set.Len()),
	))
	defer span.End()

	byTarget, err := e.eng.FilterEvents(ctx, events, set)
	if err != nil {
		// The raw events vanishing mid-run is a lost source, not a bad chunk.
		if errors.Is(err, engine.ErrUnknownHandle) {
			err = fmt.Errorf("%w: %w", engine.ErrSourceUnavailable, err)
		}
		err = engine.Wrap("FilterEvents", events, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	slices := make([]Slice, 0, len(byTarget))
	for _, target := range set.Targets() {
		h, ok := byTarget[target]
		if !ok {
			e.logger.InfoContext(ctx, "target produced no workspace", "tag", set.Tag, "target", target)
			metrics.SegmentsSkipped.Inc()
			continue
		}
		n, err := e.eng.EventCount(ctx, h)
		if err != nil {
			return nil, engine.Wrap("EventCount", h, err)
		}
		if n == 0 {
			e.logger.InfoContext(ctx, "skipping target with zero events", "tag", set.Tag, "target", target)
			metrics.SegmentsSkipped.Inc()
			if derr := e.eng.Delete(ctx, h); derr != nil {
				e.logger.WarnContext(ctx, "failed to release empty slice", "workspace", h, "error", derr)
			}
			continue
		}
		slices = append(slices, Slice{Target: target, Events: h, Count: n})
	}
	span.SetAttributes(attribute.Int("splitter.targets", len(slices)))
	return slices, nil
}

func attachGeometry(hists []engine.Histogram, geom calibration.FocusGeometry) ([]gsas.Spectrum, error) {
	if len(hists) != geom.Banks() {
		return nil, fmt.Errorf("%w: %d spectra for %d banks", ErrGeometryMismatch, len(hists), geom.Banks())
	}
	index := make(map[int]int, len(geom.SpectrumIDs))
	for i, id := range geom.SpectrumIDs {
		index[id] = i
	}
	out := make([]gsas.Spectrum, len(hists))
	for _, h := range hists {
		i, ok := index[h.SpectrumID]
		if !ok || out[i].BankID != 0 {
			return nil, fmt.Errorf("%w: unexpected spectrum %d", ErrGeometryMismatch, h.SpectrumID)
		}
		az := 0.0
		if i < len(geom.Azimuthal) {
			az = geom.Azimuthal[i]
		}
		out[i] = gsas.Spectrum{
			BankID: h.SpectrumID,
			X:      h.X,
			Y:      h.Y,
			E:      h.E,
			Geometry: gsas.Geometry{
				Source:   gsas.Vec3{Z: -geom.L1},
				Detector: gsas.Spherical(geom.L2[i], geom.Polar[i], az),
			},
		}
	}
	return out, nil
}
