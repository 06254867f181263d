package calibration

import (
	"fmt"
	"time"
)

// DateLayout is the layout of effective dates in the calibration table.
const DateLayout = "2006-01-02"

// Files are the on-disk artifacts of one calibration.
type Files struct {
	Calibration string `yaml:"calibration" json:"calibration"`
	Grouping    string `yaml:"grouping" json:"grouping"`
	Mask        string `yaml:"mask" json:"mask"`
}

// Entry is a resolved calibration for one effective date and bank count.
type Entry struct {
	EffectiveDate time.Time `json:"effective_date"`
	BankCount     int       `json:"bank_count"`
	Files         Files     `json:"files"`
}

// Key returns the cache key of the entry.
func (e Entry) Key() Key {
	return Key{EffectiveDate: e.EffectiveDate.Format(DateLayout), BankCount: e.BankCount}
}

// Key identifies a cached bundle.
type Key struct {
	EffectiveDate string
	BankCount     int
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%d", k.EffectiveDate, k.BankCount)
}

// Names returns the engine artifact names the calibration is loaded under.
func (k Key) Names() Names {
	prefix := fmt.Sprintf("VULCAN_%s_%dbanks", k.EffectiveDate, k.BankCount)
	return Names{
		Prefix:      prefix,
		Calibration: prefix + "_cal",
		Grouping:    prefix + "_group",
		Mask:        prefix + "_mask",
	}
}

// Names are the engine-side names of loaded calibration artifacts.
type Names struct {
	Prefix      string
	Calibration string
	Grouping    string
	Mask        string
}

// Bundle is a loaded calibration with the focused detector layout.
type Bundle struct {
	Key      Key
	Entry    Entry
	Names    Names
	Geometry FocusGeometry
	LoadedAt time.Time
	// Adopted is set when the artifacts were already loaded in the engine.
	Adopted bool
}

// FocusGeometry describes the virtual detector layout after focusing.
type FocusGeometry struct {
	L1          float64   `json:"l1"`
	L2          []float64 `json:"l2"`
	Polar       []float64 `json:"polar"`
	Azimuthal   []float64 `json:"azimuthal"`
	SpectrumIDs []int     `json:"spectrum_ids"`
}

// Banks returns the number of focused banks.
func (g FocusGeometry) Banks() int { return len(g.SpectrumIDs) }
