// Package metrics holds the prometheus collectors of the reduction pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ChunksTotal counts executed chunks by result (success, failure, aborted).
	ChunksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vdrive_chunks_total",
		Help: "Chunks executed by result",
	}, []string{"result"})

	// ChunkDuration tracks per-chunk wall time.
	ChunkDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "vdrive_chunk_duration_seconds",
		Help:    "Chunk focus+write duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~80s
	})

	// SegmentsSkipped counts time segments dropped because they held no events.
	SegmentsSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vdrive_segments_skipped_total",
		Help: "Time segments skipped for having zero events",
	})

	// CalibrationCache counts cache lookups by result (hit, miss, adopted).
	CalibrationCache = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vdrive_calibration_cache_total",
		Help: "Calibration cache lookups by result",
	}, []string{"result"})

	// BanksWritten counts GSAS banks serialized.
	BanksWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vdrive_gsas_banks_written_total",
		Help: "GSAS banks written",
	})
)
