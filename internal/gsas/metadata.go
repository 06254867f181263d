package gsas

import (
	"time"
)

// PulseEpoch is the origin of the Pulsestart/Pulsestop header values.
var PulseEpoch = time.Date(1990, time.January, 1, 0, 0, 0, 0, time.UTC)

// Metadata is the run information written into the GSAS header.
type Metadata struct {
	RunNumber int
	IPTS      int
	Title     string
	// RunStart is zero when the run_start log is absent.
	RunStart time.Time
	// Duration is zero when the duration log is absent.
	Duration time.Duration
	// PulseTimes are proton-charge pulse times, if logged.
	PulseTimes []time.Time
}

// PulseWindow returns the first and last proton pulse of the run. It falls
// back to run_start and run_start plus duration.
func (m Metadata) PulseWindow() (time.Time, time.Time, error) {
	if len(m.PulseTimes) > 0 {
		first, last := m.PulseTimes[0], m.PulseTimes[0]
		for _, t := range m.PulseTimes[1:] {
			if t.Before(first) {
				first = t
			}
			if t.After(last) {
				last = t
			}
		}
		return first, last, nil
	}
	if m.RunStart.IsZero() || m.Duration <= 0 {
		return time.Time{}, time.Time{}, ErrMissingTimeMetadata
	}
	return m.RunStart, m.RunStart.Add(m.Duration), nil
}

// Slice narrows the metadata to the run-relative window [start, stop)
// seconds. Pulse times are dropped so the header window of a slice is the
// segment itself rather than its first and last pulse.
func (m Metadata) Slice(start, stop float64) Metadata {
	origin := m.RunStart
	if origin.IsZero() && len(m.PulseTimes) > 0 {
		origin = m.PulseTimes[0]
	}
	out := m
	out.PulseTimes = nil
	if origin.IsZero() {
		return out
	}
	from := origin.Add(seconds(start))
	to := origin.Add(seconds(stop))
	out.RunStart = from
	out.Duration = to.Sub(from)
	return out
}

// PulseNanos is t in nanoseconds since PulseEpoch.
func PulseNanos(t time.Time) int64 { return t.UnixNano() - PulseEpoch.UnixNano() }

func seconds(s float64) time.Duration { return time.Duration(s * float64(time.Second)) }
