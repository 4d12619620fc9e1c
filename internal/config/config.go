// Package config loads truncf settings from YAML, with defaults that
// reproduce the original serial run.
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/23skdu/longbow-truncf/internal/compare"
)

// Output formats.
const (
	FormatText    = "text"
	FormatArrow   = "arrow"
	FormatSummary = "summary"
)

var ErrInvalidConfig = errors.New("invalid config")

// Config holds every tunable of the CLI and servers.
type Config struct {
	Start      int64  `yaml:"start"`
	End        int64  `yaml:"end"`
	Width      int    `yaml:"width"`
	Precision  int    `yaml:"precision"`
	LineEnding string `yaml:"line_ending"`
	Format     string `yaml:"format"`
	Output     string `yaml:"output"`

	Workers   int `yaml:"workers"`
	BatchSize int `yaml:"batch_size"`

	Listen        string `yaml:"listen"`
	Flight        string `yaml:"flight"`
	Server        string `yaml:"server"`
	Dataset       string `yaml:"dataset"`
	MaxConcurrent int64  `yaml:"max_concurrent"`
	MaxRows       int64  `yaml:"max_rows"`
	CacheEntries  int    `yaml:"cache_entries"`

	OTel bool `yaml:"otel"`
}

// Default mirrors the firmware: 0..500, dtostrf(v, 7, 4), CRLF lines.
func Default() Config {
	return Config{
		Start:         0,
		End:           500,
		Width:         7,
		Precision:     4,
		LineEnding:    "\r\n",
		Format:        FormatText,
		Dataset:       "truncf",
		BatchSize:     4096,
		MaxConcurrent: 1 << 24,
		MaxRows:       1 << 22,
		CacheEntries:  256,
	}
}

// Load reads a YAML file over the defaults. Unknown keys are rejected.
func Load(path string) (Config, error) {
	cfg := Default()

	f, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to open config: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate checks ranges and enumerations.
func (c Config) Validate() error {
	if err := compare.ValidateRange(c.Start, c.End); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	switch c.Format {
	case FormatText, FormatArrow, FormatSummary:
	default:
		return fmt.Errorf("%w: unknown format %q", ErrInvalidConfig, c.Format)
	}
	if c.Width < -64 || c.Width > 64 {
		return fmt.Errorf("%w: width %d out of [-64, 64]", ErrInvalidConfig, c.Width)
	}
	if c.Precision < 0 || c.Precision > 20 {
		return fmt.Errorf("%w: precision %d out of [0, 20]", ErrInvalidConfig, c.Precision)
	}
	if c.Workers < 0 || c.BatchSize < 0 {
		return fmt.Errorf("%w: workers and batch_size must not be negative", ErrInvalidConfig)
	}
	if c.MaxConcurrent < 1 || c.MaxRows < 1 {
		return fmt.Errorf("%w: max_concurrent and max_rows must be positive", ErrInvalidConfig)
	}
	return nil
}

// ComparatorOptions translates the worker settings.
func (c Config) ComparatorOptions() []compare.Option {
	return []compare.Option{
		compare.WithWorkers(c.Workers),
		compare.WithBatchSize(c.BatchSize),
	}
}
