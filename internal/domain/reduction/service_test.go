package reduction_test

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/neutrons/PyVDrive-sub000/internal/domain/calibration"
	"github.com/neutrons/PyVDrive-sub000/internal/domain/reduction"
	"github.com/neutrons/PyVDrive-sub000/internal/domain/splitter"
	"github.com/neutrons/PyVDrive-sub000/internal/domain/tracker"
	"github.com/neutrons/PyVDrive-sub000/internal/engine"
	"github.com/neutrons/PyVDrive-sub000/internal/engine/memengine"
	"github.com/neutrons/PyVDrive-sub000/internal/gsas"
	"github.com/neutrons/PyVDrive-sub000/internal/output"
	"github.com/neutrons/PyVDrive-sub000/internal/sqlite"
)

var t0 = time.Date(2019, time.July, 1, 8, 0, 0, 0, time.UTC)

const runNumber = 170000

type harness struct {
	eng      *memengine.Engine
	svc      *reduction.Service
	trackers *tracker.Manager
	cache    *calibration.Cache
	resolver *calibration.Resolver
	sink     *output.FileSink
	out      string
	events   string
}

// runEvents is the test run; protonCharge holds run-relative pulse seconds.
func runEvents(protonCharge []float64) *memengine.EventFile {
	return &memengine.EventFile{
		RunNumber:    runNumber,
		IPTS:         22753,
		Title:        "e2e run",
		RunStart:     t0,
		Duration:     120,
		ProtonCharge: protonCharge,
		Events: memengine.Events{
			Pulse:    []float64{10, 30, 70, 90},
			TOF:      []float64{33000, 36000, 38000, 40000},
			Detector: []int{1, 1, 2, 2},
		},
	}
}

func newHarness(t *testing.T, opts reduction.Options) *harness {
	t.Helper()
	dir := t.TempDir()
	write := func(name, content string) string {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
		return path
	}
	cal := write("cal.yaml", "detectors:\n  - {id: 1, difc: 10000, group: 1}\n  - {id: 2, difc: 10000, group: 2}\n")
	table, err := calibration.ParseTable([]byte(fmt.Sprintf(`
instrument: VULCAN
entries:
  - effective_date: "2019-01-01"
    banks:
      2: {calibration: %q, grouping: "", mask: ""}
`, cal)))
	require.NoError(t, err)

	events := filepath.Join(dir, "VULCAN_170000_events.json.zst")
	require.NoError(t, memengine.WriteEventFile(events, runEvents(nil)))

	db, err := sqlite.New(":memory:")
	require.NoError(t, err)
	require.NoError(t, db.RunMigrations())
	t.Cleanup(func() { db.Close() })

	eng := memengine.New(nil)
	cache := calibration.NewCache(engine.CalibrationLoader{Engine: eng}, nil)
	mgr := tracker.NewManager(sqlite.NewTrackerRepository(db), sqlite.NewHistoryRepository(db), nil)
	out := filepath.Join(dir, "out")
	sink, err := output.NewFileSink(out)
	require.NoError(t, err)

	h := &harness{
		eng:      eng,
		trackers: mgr,
		cache:    cache,
		resolver: calibration.NewResolver(table, cache),
		sink:     sink,
		out:      out,
		events:   events,
	}
	h.svc = h.service(t, eng, opts)
	return h
}

func (h *harness) service(t *testing.T, eng engine.Engine, opts reduction.Options) *reduction.Service {
	t.Helper()
	svc, err := reduction.NewService(eng, h.resolver, h.trackers, h.sink, opts, nil)
	require.NoError(t, err)
	return svc
}

// droppingEngine loses the raw events after the first chop.
type droppingEngine struct {
	*memengine.Engine
	filters int
}

func (d *droppingEngine) FilterEvents(ctx context.Context, h engine.Handle, set splitter.Set) (map[splitter.Target]engine.Handle, error) {
	out, err := d.Engine.FilterEvents(ctx, h, set)
	d.filters++
	if d.filters == 1 {
		_ = d.Engine.Delete(ctx, h)
	}
	return out, err
}

func readGSAS(t *testing.T, path string) gsas.File {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	f, err := gsas.Parse(data)
	require.NoError(t, err)
	return f
}

func target(s string) *splitter.Target {
	t := splitter.Target(s)
	return &t
}

func TestReduce_ArbitrarySegments(t *testing.T) {
	h := newHarness(t, reduction.Options{})
	ctx := context.Background()

	report, err := h.svc.Reduce(ctx, reduction.Job{
		EventFile: h.events,
		BankCount: 2,
		Slicing: reduction.Slicing{
			Kind: reduction.SliceArbitrary,
			Tag:  "e2e",
			Segments: []splitter.Entry{
				{Start: 0, Stop: 60, Target: target("1")},
				{Start: 60, Stop: 120, Target: target("2")},
			},
		},
	})
	require.NoError(t, err)
	require.True(t, report.Success())
	require.NotEmpty(t, report.JobID)
	require.Equal(t, runNumber, report.RunNumber)
	require.Len(t, report.Sets, 1)

	start := gsas.PulseNanos(t0)
	for target, window := range map[splitter.Target][2]int64{
		"1": {start, start + 60e9},
		"2": {start + 60e9, start + 120e9},
	} {
		path := filepath.Join(h.out, "170000", "e2e", string(target)+".gda")
		require.Equal(t, path, report.Sets[0].Artifacts[target])
		f := readGSAS(t, path)
		require.Equal(t, "e2e run", f.Title)
		require.Equal(t, window[0], f.PulseStart, "target %s", target)
		require.Equal(t, window[1], f.PulseStop, "target %s", target)
		require.Len(t, f.Banks, 2)
	}

	tr, err := h.trackers.Get(ctx, tracker.Key{RunNumber: runNumber, SliceKey: "e2e"})
	require.NoError(t, err)
	require.Equal(t, tracker.StateWritten, tr.State)
	require.True(t, tr.Reduced)
	require.Len(t, tr.Artifacts, 2)

	// The raw workspace is released once the job ends.
	require.Zero(t, h.eng.Workspaces())
	require.Equal(t, int64(1), h.cache.Stats().Loads)
}

func TestReduce_RecurringTargetHeaderIsEnvelope(t *testing.T) {
	h := newHarness(t, reduction.Options{})
	ctx := context.Background()

	report, err := h.svc.Reduce(ctx, reduction.Job{
		EventFile: h.events,
		BankCount: 2,
		Slicing: reduction.Slicing{
			Kind: reduction.SliceArbitrary,
			Tag:  "gaps",
			Segments: []splitter.Entry{
				{Start: 0, Stop: 20, Target: target("1")},
				{Start: 20, Stop: 80, Target: target("2")},
				{Start: 80, Stop: 100, Target: target("1")},
			},
		},
	})
	require.NoError(t, err)
	require.True(t, report.Success())

	start := gsas.PulseNanos(t0)
	f := readGSAS(t, filepath.Join(h.out, "170000", "gaps", "1.gda"))
	require.Equal(t, start, f.PulseStart)
	require.Equal(t, start+100e9, f.PulseStop)

	f = readGSAS(t, filepath.Join(h.out, "170000", "gaps", "2.gda"))
	require.Equal(t, start+20e9, f.PulseStart)
	require.Equal(t, start+80e9, f.PulseStop)
}

func TestReduce_Unsliced(t *testing.T) {
	h := newHarness(t, reduction.Options{IParm: "vulcan.prm"})
	ctx := context.Background()

	report, err := h.svc.Reduce(ctx, reduction.Job{EventFile: h.events, BankCount: 2})
	require.NoError(t, err)

	path := filepath.Join(h.out, "170000.gda")
	require.Equal(t, path, report.Sets[0].Artifacts["170000"])
	f := readGSAS(t, path)
	require.Equal(t, gsas.PulseNanos(t0), f.PulseStart)
	require.Equal(t, gsas.PulseNanos(t0)+120e9, f.PulseStop)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "Instrument parameter file: vulcan.prm")

	tr, err := h.trackers.Get(ctx, tracker.Key{RunNumber: runNumber})
	require.NoError(t, err)
	require.Equal(t, tracker.StateWritten, tr.State)
	require.Zero(t, h.eng.Workspaces())

	_, err = h.svc.Reduce(ctx, reduction.Job{EventFile: h.events, BankCount: 2})
	require.ErrorIs(t, err, reduction.ErrAlreadyReduced)
}

func TestReduce_IntervalChunks(t *testing.T) {
	for _, workers := range []int{1, 2} {
		t.Run(fmt.Sprintf("workers=%d", workers), func(t *testing.T) {
			h := newHarness(t, reduction.Options{MaxChunk: 50, Workers: workers})
			step := 1.0

			report, err := h.svc.Reduce(context.Background(), reduction.Job{
				EventFile: h.events,
				BankCount: 2,
				Slicing:   reduction.Slicing{Kind: reduction.SliceInterval, Step: &step},
			})
			require.NoError(t, err)

			set := report.Sets[0]
			require.Equal(t, "interval", set.Key.SliceKey)
			require.Equal(t, 120, set.Segments)
			require.Len(t, set.Result.Chunks, map[int]int{1: 3, 2: 5}[workers])
			require.ElementsMatch(t, []splitter.Target{"11", "31", "71", "91"}, set.Result.Targets)
			for _, target := range []string{"11", "31", "71", "91"} {
				_, err := os.Stat(filepath.Join(h.out, "170000", "interval", target+".gda"))
				require.NoError(t, err)
			}
		})
	}
}

func TestReduce_DryRun(t *testing.T) {
	h := newHarness(t, reduction.Options{})
	ctx := context.Background()
	step := 60.0

	report, err := h.svc.Reduce(ctx, reduction.Job{
		EventFile: h.events,
		BankCount: 2,
		DryRun:    true,
		Slicing:   reduction.Slicing{Kind: reduction.SliceInterval, Tag: "dry", Step: &step},
	})
	require.NoError(t, err)
	require.ElementsMatch(t, []splitter.Target{"1", "2"}, report.Sets[0].Result.Targets)

	tr, err := h.trackers.Get(ctx, tracker.Key{RunNumber: runNumber, SliceKey: "dry"})
	require.NoError(t, err)
	require.Equal(t, tracker.StateChopped, tr.State)
	require.True(t, tr.Reduced)

	_, err = os.Stat(filepath.Join(h.out, "170000"))
	require.ErrorIs(t, err, os.ErrNotExist)
	require.Zero(t, h.eng.Workspaces())

	windows := report.Sets[0].Windows
	require.Len(t, windows, 2)
	require.Equal(t, t0, windows[0].Start)
	require.Equal(t, t0.Add(time.Minute), windows[0].Stop)
	require.Equal(t, t0.Add(2*time.Minute), windows[1].Stop)
}

func TestReduce_ReplacesStaleOutput(t *testing.T) {
	h := newHarness(t, reduction.Options{})
	ctx := context.Background()
	stale := filepath.Join(h.out, "170000.gda")
	require.NoError(t, os.WriteFile(stale, []byte("stale"), 0o644))

	var logs bytes.Buffer
	svc, err := reduction.NewService(h.eng, h.resolver, h.trackers, h.sink, reduction.Options{},
		slog.New(slog.NewTextHandler(&logs, nil)))
	require.NoError(t, err)

	_, err = svc.Reduce(ctx, reduction.Job{EventFile: h.events, BankCount: 2})
	require.NoError(t, err)
	require.Contains(t, logs.String(), "replacing existing gsas file")
	require.Len(t, readGSAS(t, stale).Banks, 2)
}

func TestReduce_Vanadium(t *testing.T) {
	h := newHarness(t, reduction.Options{})
	ctx := context.Background()
	binning := []float64{40000, -0.001, 80000}

	_, err := h.svc.Reduce(ctx, reduction.Job{EventFile: h.events, BankCount: 2, Binning: binning})
	require.NoError(t, err)

	step := 60.0
	report, err := h.svc.Reduce(ctx, reduction.Job{
		EventFile: h.events,
		BankCount: 2,
		Binning:   binning,
		Vanadium:  filepath.Join(h.out, "170000.gda"),
		Slicing:   reduction.Slicing{Kind: reduction.SliceInterval, Tag: "norm", Step: &step},
	})
	require.NoError(t, err)

	data, err := os.ReadFile(report.Sets[0].Artifacts["1"])
	require.NoError(t, err)
	require.Contains(t, string(data), "     1.00000")

	history, err := h.trackers.History(ctx, tracker.Key{RunNumber: runNumber, SliceKey: "norm"})
	require.NoError(t, err)
	var states []tracker.State
	for _, e := range history {
		states = append(states, e.To)
	}
	require.Equal(t, []tracker.State{
		tracker.StateRaw, tracker.StateChopped, tracker.StateFocused, tracker.StateNormalized, tracker.StateWritten,
	}, states)
}

func TestReduce_OverlappingWindows(t *testing.T) {
	h := newHarness(t, reduction.Options{})
	start, stop := 0.0, 120.0

	report, err := h.svc.Reduce(context.Background(), reduction.Job{
		EventFile: h.events,
		BankCount: 2,
		Slicing: reduction.Slicing{
			Kind: reduction.SliceWindows, Tag: "win",
			Start: &start, Stop: &stop, Window: 60, Stride: 30,
		},
	})
	require.NoError(t, err)
	require.Len(t, report.Sets, 2)
	require.Equal(t, "win_0", report.Sets[0].Key.SliceKey)
	require.Equal(t, "win_1", report.Sets[1].Key.SliceKey)
}

func TestReduce_Rejects(t *testing.T) {
	h := newHarness(t, reduction.Options{})
	ctx := context.Background()

	_, err := h.svc.Reduce(ctx, reduction.Job{EventFile: h.events, BankCount: 5})
	require.ErrorIs(t, err, reduction.ErrInvalidJob)

	_, err = h.svc.Reduce(ctx, reduction.Job{EventFile: h.events, BankCount: 2, Unit: engine.DSpacing})
	require.ErrorIs(t, err, reduction.ErrGSASNeedsTOF)

	_, err = h.svc.Reduce(ctx, reduction.Job{EventFile: h.events, BankCount: 2, Binning: []float64{1, 2}})
	require.Error(t, err)

	_, err = h.svc.Reduce(ctx, reduction.Job{EventFile: filepath.Join(t.TempDir(), "missing.json"), BankCount: 2})
	require.ErrorIs(t, err, engine.ErrSourceUnavailable)
	require.ErrorIs(t, err, engine.ErrDelegation)

	_, err = h.svc.Reduce(ctx, reduction.Job{
		EventFile: h.events,
		BankCount: 2,
		Slicing:   reduction.Slicing{Kind: reduction.SliceWindows, Window: 10, Stride: 20},
	})
	require.ErrorIs(t, err, reduction.ErrInvalidJob)

	_, err = h.svc.Reduce(ctx, reduction.Job{
		EventFile: h.events,
		BankCount: 3,
	})
	require.ErrorIs(t, err, calibration.ErrUnknownBankCount)
}

func TestReduce_ArbitrarySegmentsWithProtonCharge(t *testing.T) {
	h := newHarness(t, reduction.Options{})
	require.NoError(t, memengine.WriteEventFile(h.events, runEvents([]float64{0.5, 20, 59.5, 60.5, 100, 119.5})))

	report, err := h.svc.Reduce(context.Background(), reduction.Job{
		EventFile: h.events,
		BankCount: 2,
		Slicing: reduction.Slicing{
			Kind: reduction.SliceArbitrary,
			Tag:  "pc",
			Segments: []splitter.Entry{
				{Start: 0, Stop: 60, Target: target("1")},
				{Start: 60, Stop: 120, Target: target("2")},
			},
		},
	})
	require.NoError(t, err)

	start := gsas.PulseNanos(t0)
	f := readGSAS(t, report.Sets[0].Artifacts["1"])
	require.Equal(t, start, f.PulseStart)
	require.Equal(t, start+60e9, f.PulseStop)
	f = readGSAS(t, report.Sets[0].Artifacts["2"])
	require.Equal(t, start+60e9, f.PulseStart)
	require.Equal(t, start+120e9, f.PulseStop)
}

func TestReduce_UnslicedDryRun(t *testing.T) {
	h := newHarness(t, reduction.Options{})
	ctx := context.Background()

	report, err := h.svc.Reduce(ctx, reduction.Job{EventFile: h.events, BankCount: 2, DryRun: true})
	require.NoError(t, err)
	require.Empty(t, report.Sets[0].Artifacts)

	_, err = os.Stat(filepath.Join(h.out, "170000.gda"))
	require.ErrorIs(t, err, os.ErrNotExist)

	tr, err := h.trackers.Get(ctx, tracker.Key{RunNumber: runNumber})
	require.NoError(t, err)
	require.Equal(t, tracker.StateRaw, tr.State)
	require.True(t, tr.Reduced)
	require.Zero(t, h.eng.Workspaces())
}

func TestReduce_RawEventsLostMidRun(t *testing.T) {
	h := newHarness(t, reduction.Options{})
	svc := h.service(t, &droppingEngine{Engine: h.eng}, reduction.Options{MaxChunk: 50, Workers: 1})
	step := 1.0

	report, err := svc.Reduce(context.Background(), reduction.Job{
		EventFile: h.events,
		BankCount: 2,
		Slicing:   reduction.Slicing{Kind: reduction.SliceInterval, Step: &step},
	})
	require.ErrorIs(t, err, engine.ErrSourceUnavailable)

	res := report.Sets[0].Result
	require.True(t, res.Aborted)
	require.Len(t, res.Chunks, 2)
	require.ElementsMatch(t, []splitter.Target{"11", "31"}, res.Targets)
	require.Zero(t, h.eng.Workspaces())
}

func TestReduce_ReleasesRawEventsOnEarlyFailure(t *testing.T) {
	h := newHarness(t, reduction.Options{})
	ctx := context.Background()

	_, err := h.svc.Reduce(ctx, reduction.Job{EventFile: h.events, BankCount: 3})
	require.ErrorIs(t, err, calibration.ErrUnknownBankCount)
	require.Zero(t, h.eng.Workspaces())

	_, err = h.svc.Reduce(ctx, reduction.Job{
		EventFile: h.events,
		BankCount: 2,
		Vanadium:  filepath.Join(h.out, "missing.gda"),
	})
	require.ErrorContains(t, err, "read vanadium")
	require.Zero(t, h.eng.Workspaces())
}
