package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config defines the reduction configuration.
type Config struct {
	Reduction   ReductionConfig   `yaml:"reduction"`
	Calibration CalibrationConfig `yaml:"calibration"`
	DB          DBConfig          `yaml:"db"`
	Log         LogConfig         `yaml:"log"`
}

type ReductionConfig struct {
	MaxChunk          int       `yaml:"max_chunk" validate:"gte=1"`
	Workers           int       `yaml:"workers" validate:"gte=1,lte=64"`
	OutputDir         string    `yaml:"output_dir" validate:"required"`
	RetainRaw         bool      `yaml:"retain_raw"`
	CompressTolerance float64   `yaml:"compress_tolerance" validate:"gt=0"`
	Unit              string    `yaml:"unit" validate:"oneof=TOF dSpacing"`
	Binning           []float64 `yaml:"binning" validate:"min=1,max=3"`
	AlignToVDriveBins bool      `yaml:"align_to_vdrive_bins"`
	IParm             string    `yaml:"iparm"`
}

type CalibrationConfig struct {
	// Table is a calibration table file; empty selects the built-in table.
	Table string `yaml:"table"`
}

type DBConfig struct {
	Path string `yaml:"path" validate:"required"`
}

type LogConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn error"`
	// Path, when set, sends logs to a size-capped file instead of stderr.
	Path string `yaml:"path"`
}

var validate = validator.New()

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Reduction: ReductionConfig{
			MaxChunk:          200,
			Workers:           1,
			OutputDir:         "vdrive_output",
			CompressTolerance: 0.01,
			Unit:              "TOF",
			Binning:           []float64{-0.001},
			IParm:             "Vulcan.prm",
		},
		DB: DBConfig{
			Path: "vdrive.db",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from an optional YAML file and environment variables.
func Load() (Config, error) {
	cfg := Default()

	if path := os.Getenv("VDRIVE_CONFIG_PATH"); path != "" {
		if err := loadFromFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	if dir := os.Getenv("VDRIVE_OUTPUT_DIR"); dir != "" {
		cfg.Reduction.OutputDir = dir
	}
	if dbPath := os.Getenv("VDRIVE_DB_PATH"); dbPath != "" {
		cfg.DB.Path = dbPath
	}
	if level := os.Getenv("VDRIVE_LOG_LEVEL"); level != "" {
		cfg.Log.Level = level
	}
	if logPath := os.Getenv("VDRIVE_LOG_PATH"); logPath != "" {
		cfg.Log.Path = logPath
	}
	if table := os.Getenv("VDRIVE_CALIBRATION_TABLE"); table != "" {
		cfg.Calibration.Table = table
	}
	if err := envInt("VDRIVE_MAX_CHUNK", &cfg.Reduction.MaxChunk); err != nil {
		return Config{}, err
	}
	if err := envInt("VDRIVE_WORKERS", &cfg.Reduction.Workers); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration against its field constraints.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func envInt(name string, dst *int) error {
	s := os.Getenv(name)
	if s == "" {
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	*dst = v
	return nil
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}
