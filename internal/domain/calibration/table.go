package calibration

import (
	_ "embed"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed vulcan_calibration.yaml
var defaultTable []byte

type tableFile struct {
	Instrument string `yaml:"instrument"`
	Entries    []struct {
		EffectiveDate string        `yaml:"effective_date"`
		Banks         map[int]Files `yaml:"banks"`
	} `yaml:"entries"`
}

type dated struct {
	date  time.Time
	banks map[int]Files
}

// Table maps effective dates to per-bank-count calibration files.
// It is immutable after loading.
type Table struct {
	instrument string
	dates      []dated
}

// DefaultTable returns the built-in VULCAN calibration table.
func DefaultTable() (*Table, error) {
	return ParseTable(defaultTable)
}

// LoadTable reads a calibration table from a YAML file. An empty path
// returns the built-in table.
func LoadTable(path string) (*Table, error) {
	if path == "" {
		return DefaultTable()
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open calibration table: %w", err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read calibration table: %w", err)
	}
	return ParseTable(data)
}

// ParseTable parses a YAML calibration table.
func ParseTable(data []byte) (*Table, error) {
	var tf tableFile
	if err := yaml.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTable, err)
	}
	if len(tf.Entries) == 0 {
		return nil, fmt.Errorf("%w: no entries", ErrInvalidTable)
	}
	t := &Table{instrument: tf.Instrument}
	seen := make(map[string]bool, len(tf.Entries))
	for _, e := range tf.Entries {
		d, err := time.Parse(DateLayout, e.EffectiveDate)
		if err != nil {
			return nil, fmt.Errorf("%w: effective date %q: %v", ErrInvalidTable, e.EffectiveDate, err)
		}
		if seen[e.EffectiveDate] {
			return nil, fmt.Errorf("%w: duplicate effective date %s", ErrInvalidTable, e.EffectiveDate)
		}
		seen[e.EffectiveDate] = true
		if len(e.Banks) == 0 {
			return nil, fmt.Errorf("%w: %s has no bank entries", ErrInvalidTable, e.EffectiveDate)
		}
		t.dates = append(t.dates, dated{date: d, banks: e.Banks})
	}
	sort.Slice(t.dates, func(i, j int) bool { return t.dates[i].date.Before(t.dates[j].date) })
	return t, nil
}

// Instrument returns the instrument the table belongs to.
func (t *Table) Instrument() string { return t.instrument }

// EffectiveDates returns the effective dates in ascending order.
func (t *Table) EffectiveDates() []time.Time {
	out := make([]time.Time, len(t.dates))
	for i, d := range t.dates {
		out[i] = d.date
	}
	return out
}

// Resolve returns the calibration with the latest effective date not after
// runDate for the given bank count.
func (t *Table) Resolve(runDate time.Time, bankCount int) (Entry, error) {
	day := time.Date(runDate.Year(), runDate.Month(), runDate.Day(), 0, 0, 0, 0, time.UTC)
	idx := sort.Search(len(t.dates), func(i int) bool { return t.dates[i].date.After(day) }) - 1
	if idx < 0 {
		return Entry{}, fmt.Errorf("%w: %s is before %s", ErrNoCalibration,
			day.Format(DateLayout), t.dates[0].date.Format(DateLayout))
	}
	d := t.dates[idx]
	files, ok := d.banks[bankCount]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %d banks not calibrated at %s", ErrUnknownBankCount,
			bankCount, d.date.Format(DateLayout))
	}
	return Entry{EffectiveDate: d.date, BankCount: bankCount, Files: files}, nil
}
