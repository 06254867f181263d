package memengine

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// CalibrationFile maps detectors to their DIFC and, optionally, a group.
type CalibrationFile struct {
	Detectors []DetectorCal `yaml:"detectors"`
}

// DetectorCal is one detector pixel calibration.
type DetectorCal struct {
	ID    int     `yaml:"id"`
	DIFC  float64 `yaml:"difc"`
	Group int     `yaml:"group,omitempty"`
}

// GroupingFile assigns detectors to focused spectra.
type GroupingFile struct {
	Groups map[int][]int `yaml:"groups"`
}

// MaskFile lists masked detectors.
type MaskFile struct {
	Masked []int `yaml:"masked"`
}

func readYAML(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedCalibration, path, err)
	}
	return nil
}

// diffCal is a loaded calibration held by the engine.
type diffCal struct {
	difc  map[int]float64
	group map[int]int
	mask  map[int]bool
}

func loadDiffCal(calPath, groupPath, maskPath string) (*diffCal, error) {
	if calPath == "" {
		return nil, fmt.Errorf("%w: no calibration file", ErrMalformedCalibration)
	}
	var cf CalibrationFile
	if err := readYAML(calPath, &cf); err != nil {
		return nil, err
	}
	dc := &diffCal{difc: map[int]float64{}, group: map[int]int{}, mask: map[int]bool{}}
	for _, d := range cf.Detectors {
		if !(d.DIFC > 0) {
			return nil, fmt.Errorf("%w: detector %d has DIFC %g", ErrMalformedCalibration, d.ID, d.DIFC)
		}
		dc.difc[d.ID] = d.DIFC
		if d.Group > 0 {
			dc.group[d.ID] = d.Group
		}
	}

	if groupPath != "" {
		var gf GroupingFile
		if err := readYAML(groupPath, &gf); err != nil {
			return nil, err
		}
		dc.group = map[int]int{}
		for g, dets := range gf.Groups {
			for _, det := range dets {
				dc.group[det] = g
			}
		}
	}
	if maskPath != "" {
		var mf MaskFile
		if err := readYAML(maskPath, &mf); err != nil {
			return nil, err
		}
		for _, det := range mf.Masked {
			dc.mask[det] = true
		}
	}
	return dc, nil
}
