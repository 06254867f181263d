// Package memengine is an in-process event engine over columnar event
// dumps. It implements the full engine contract and backs the CLI and the
// end-to-end tests.
package memengine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/neutrons/PyVDrive-sub000/internal/domain/splitter"
	"github.com/neutrons/PyVDrive-sub000/internal/engine"
)

// workspace is one data set held by the engine. Raw workspaces carry
// events; focused ones carry per-spectrum weighted values.
type workspace struct {
	info    engine.RunInfo
	logs    map[string]LogSeries
	events  Events
	focused *focused
}

// Engine holds workspaces in memory. It is safe for concurrent use.
type Engine struct {
	logger *slog.Logger

	mu   sync.RWMutex
	ws   map[engine.Handle]*workspace
	cals map[string]*diffCal
}

// New creates an empty engine. A nil logger discards output.
func New(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Engine{
		logger: logger,
		ws:     make(map[engine.Handle]*workspace),
		cals:   make(map[string]*diffCal),
	}
}

func (e *Engine) get(h engine.Handle) (*workspace, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	w, ok := e.ws[h]
	if !ok {
		return nil, fmt.Errorf("%w: %s", engine.ErrUnknownHandle, h)
	}
	return w, nil
}

func (e *Engine) put(name string, w *workspace) engine.Handle {
	h := engine.Handle(name)
	e.mu.Lock()
	e.ws[h] = w
	e.mu.Unlock()
	return h
}

func newName(prefix string) string {
	return prefix + "_" + uuid.NewString()[:8]
}

// LoadEventStream reads an event dump into a new workspace.
func (e *Engine) LoadEventStream(ctx context.Context, path string) (engine.Handle, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	f, err := ReadEventFile(path)
	if err != nil {
		return "", err
	}
	info := engine.RunInfo{
		RunNumber: f.RunNumber,
		IPTS:      f.IPTS,
		Title:     f.Title,
		RunStart:  f.RunStart,
		Duration:  f.Duration,
	}
	if !f.RunStart.IsZero() {
		info.PulseTimes = make([]time.Time, len(f.ProtonCharge))
		for i, sec := range f.ProtonCharge {
			info.PulseTimes[i] = f.RunStart.Add(time.Duration(sec * float64(time.Second)))
		}
	}
	h := e.put(newName(fmt.Sprintf("VULCAN_%d_events", f.RunNumber)), &workspace{
		info:   info,
		logs:   f.Logs,
		events: f.Events,
	})
	e.logger.DebugContext(ctx, "loaded event stream", "path", path, "workspace", h, "events", f.Events.Len())
	return h, nil
}

// RunInfo returns the sample metadata of a workspace.
func (e *Engine) RunInfo(_ context.Context, h engine.Handle) (engine.RunInfo, error) {
	w, err := e.get(h)
	if err != nil {
		return engine.RunInfo{}, err
	}
	return w.info, nil
}

// FilterEvents splits raw events by the set's segments into one workspace
// per target. Targets receiving no events still get an empty workspace.
func (e *Engine) FilterEvents(ctx context.Context, h engine.Handle, set splitter.Set) (map[splitter.Target]engine.Handle, error) {
	w, err := e.get(h)
	if err != nil {
		return nil, err
	}
	if w.focused != nil {
		return nil, fmt.Errorf("filter %s: workspace already focused", h)
	}
	if set.Clock == splitter.Epoch {
		if w.info.RunStart.IsZero() {
			return nil, fmt.Errorf("filter %s: epoch splitters need a run start", h)
		}
		set = set.Rebase(w.info.RunStart)
	}

	parts := make(map[splitter.Target]*Events, len(set.Targets()))
	for _, t := range set.Targets() {
		parts[t] = &Events{}
	}
	ev := w.events
	for i := range ev.TOF {
		if i%65536 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		p := ev.Pulse[i]
		for _, seg := range set.Segments {
			if p >= seg.Start && p < seg.Stop {
				dst := parts[seg.Target]
				dst.Pulse = append(dst.Pulse, p)
				dst.TOF = append(dst.TOF, ev.TOF[i])
				dst.Detector = append(dst.Detector, ev.Detector[i])
			}
		}
	}

	out := make(map[splitter.Target]engine.Handle, len(parts))
	for t, part := range parts {
		out[t] = e.put(fmt.Sprintf("%s_%s_%s", h, set.Tag, t), &workspace{
			info:   w.info,
			logs:   w.logs,
			events: *part,
		})
	}
	return out, nil
}

// EventCount returns the number of events, or of compressed weighted
// events for focused workspaces.
func (e *Engine) EventCount(_ context.Context, h engine.Handle) (int64, error) {
	w, err := e.get(h)
	if err != nil {
		return 0, err
	}
	if w.focused != nil {
		var n int64
		for _, s := range w.focused.spectra {
			n += int64(len(s.x))
		}
		return n, nil
	}
	return int64(w.events.Len()), nil
}

// ConvertUnit converts a workspace's x axis. Raw events are always TOF.
func (e *Engine) ConvertUnit(_ context.Context, h engine.Handle, unit engine.Unit) error {
	if !unit.Valid() {
		return fmt.Errorf("unknown unit %q", unit)
	}
	w, err := e.get(h)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if w.focused == nil {
		if unit != engine.TOF {
			return fmt.Errorf("convert %s: raw events convert to %s only after focusing", h, unit)
		}
		return nil
	}
	w.focused.convert(unit)
	return nil
}

// Has reports whether a calibration artifact or workspace is loaded.
func (e *Engine) Has(_ context.Context, name string) (bool, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if _, ok := e.cals[name]; ok {
		return true, nil
	}
	_, ok := e.ws[engine.Handle(name)]
	return ok, nil
}

// LoadDiffCal loads calibration files under prefix_cal, prefix_group and
// prefix_mask.
func (e *Engine) LoadDiffCal(ctx context.Context, files engine.CalibrationFiles, prefix string) error {
	dc, err := loadDiffCal(files.Calibration, files.Grouping, files.Mask)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.cals[prefix+"_cal"] = dc
	e.cals[prefix+"_group"] = dc
	e.cals[prefix+"_mask"] = dc
	e.mu.Unlock()
	e.logger.DebugContext(ctx, "loaded calibration", "prefix", prefix, "detectors", len(dc.difc))
	return nil
}

// Delete releases a workspace.
func (e *Engine) Delete(_ context.Context, h engine.Handle) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.ws[h]; !ok {
		return fmt.Errorf("%w: %s", engine.ErrUnknownHandle, h)
	}
	delete(e.ws, h)
	return nil
}

// Workspaces returns the number of live workspaces.
func (e *Engine) Workspaces() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.ws)
}

var _ engine.Engine = (*Engine)(nil)
