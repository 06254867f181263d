// Command vdrive reduces VULCAN event runs into focused GSAS files.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/neutrons/PyVDrive-sub000/internal/config"
	"github.com/neutrons/PyVDrive-sub000/internal/domain/calibration"
	"github.com/neutrons/PyVDrive-sub000/internal/domain/reduction"
	"github.com/neutrons/PyVDrive-sub000/internal/domain/tracker"
	"github.com/neutrons/PyVDrive-sub000/internal/engine"
	"github.com/neutrons/PyVDrive-sub000/internal/engine/memengine"
	"github.com/neutrons/PyVDrive-sub000/internal/output"
	"github.com/neutrons/PyVDrive-sub000/internal/sqlite"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root := &cobra.Command{
		Use:           "vdrive",
		Short:         "Reduce VULCAN event runs into focused GSAS files",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newReduceCmd(), newTrackersCmd(), newCalibrationsCmd())

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "vdrive: %v\n", err)
		os.Exit(1)
	}
}

// app holds the wired dependencies shared by the commands.
type app struct {
	cfg      config.Config
	logger   *slog.Logger
	db       *sqlite.DB
	trackers *tracker.Manager
	closers  []io.Closer
}

func newApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	a := &app{cfg: cfg}

	logWriter := io.Writer(os.Stderr)
	if cfg.Log.Path != "" {
		fileWriter, file, err := newLogFileWriter(cfg.Log.Path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "log file error: %v\n", err)
		} else {
			a.closers = append(a.closers, file)
			logWriter = fileWriter
		}
	}
	a.logger = slog.New(slog.NewTextHandler(logWriter, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Log.Level),
	}))

	if err := ensureDir(cfg.DB.Path); err != nil {
		a.Close()
		return nil, fmt.Errorf("prepare database path: %w", err)
	}
	if a.db, err = sqlite.Open(cfg.DB.Path); err != nil {
		a.Close()
		return nil, err
	}
	a.closers = append(a.closers, a.db)
	a.trackers = tracker.NewManager(sqlite.NewTrackerRepository(a.db), sqlite.NewHistoryRepository(a.db), a.logger)
	return a, nil
}

// reducer wires the reduction service on top of the shared dependencies.
func (a *app) reducer() (*reduction.Service, error) {
	table, err := calibration.LoadTable(a.cfg.Calibration.Table)
	if err != nil {
		return nil, err
	}
	eng := memengine.New(a.logger)
	cache := calibration.NewCache(engine.CalibrationLoader{Engine: eng}, a.logger)

	sink, err := output.NewFileSink(a.cfg.Reduction.OutputDir)
	if err != nil {
		return nil, err
	}
	return reduction.NewService(eng, calibration.NewResolver(table, cache), a.trackers, sink, reduction.Options{
		MaxChunk:          a.cfg.Reduction.MaxChunk,
		Workers:           a.cfg.Reduction.Workers,
		CompressTolerance: a.cfg.Reduction.CompressTolerance,
		IParm:             a.cfg.Reduction.IParm,
	}, a.logger)
}

// Close releases the database and the log file, last opened first.
func (a *app) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func ensureDir(path string) error {
	if path == ":memory:" || path == "" {
		return nil
	}
	dir := filepath.Dir(path)
	if dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
