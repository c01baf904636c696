// Package config loads IntakeDesk's optional YAML tuning file. Keys that are absent keep their
// defaults, so a file may override a single threshold.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/BTreeMap/IntakeDesk/internal/intake"
	"github.com/BTreeMap/IntakeDesk/internal/intent"
	"github.com/BTreeMap/IntakeDesk/internal/scheduler"
)

// DefaultSessionTTL mirrors the flow default so the file can be loaded without the flow package.
const DefaultSessionTTL = 30 * time.Minute

// ErrInvalidConfig is returned for values that parse but make no sense.
var ErrInvalidConfig = errors.New("invalid config")

// GenAI tunes the semantic capability client.
type GenAI struct {
	Model      string   `yaml:"model"`
	Timeout    Duration `yaml:"timeout"`
	RatePerSec float64  `yaml:"rate_per_sec"`
	Burst      int      `yaml:"burst"`
}

// File is the YAML document.
type File struct {
	Thresholds        intake.Thresholds `yaml:"thresholds"`
	SemanticThreshold float64           `yaml:"semantic_threshold"`
	SessionTTL        Duration          `yaml:"session_ttl"`
	SweepSchedule     string            `yaml:"sweep_schedule"`
	CacheSize         int               `yaml:"cache_size"`
	GenAI             GenAI             `yaml:"genai"`
}

// Duration is a time.Duration written as "30m" or "90s" in YAML.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("%w: duration %q: %v", ErrInvalidConfig, s, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Defaults returns the configuration used when no file is given.
func Defaults() File {
	return File{
		Thresholds:        intake.DefaultThresholds(),
		SemanticThreshold: intent.DefaultSemanticThreshold,
		SessionTTL:        Duration(DefaultSessionTTL),
		SweepSchedule:     scheduler.DefaultSweepSchedule,
		CacheSize:         1024,
	}
}

// Parse decodes data over the defaults and validates the result.
func Parse(data []byte) (File, error) {
	f := Defaults()
	if err := yaml.Unmarshal(data, &f); err != nil {
		return File{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := f.Validate(); err != nil {
		return File{}, err
	}
	return f, nil
}

// Load reads path. An empty path returns the defaults.
func Load(path string) (File, error) {
	if path == "" {
		return Defaults(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("read config %s: %w", path, err)
	}
	f, err := Parse(data)
	if err != nil {
		return File{}, fmt.Errorf("config %s: %w", path, err)
	}
	slog.Info("config.Load: loaded", "path", path, "fieldThreshold", f.Thresholds.Field, "sessionTTL", f.SessionTTL.Std())
	return f, nil
}

// Validate checks ranges.
func (f File) Validate() error {
	if err := f.Thresholds.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if f.SemanticThreshold < 0 || f.SemanticThreshold > 1 {
		return fmt.Errorf("%w: semantic_threshold out of range: %v", ErrInvalidConfig, f.SemanticThreshold)
	}
	if f.SessionTTL.Std() <= 0 {
		return fmt.Errorf("%w: session_ttl must be positive", ErrInvalidConfig)
	}
	if f.CacheSize < 0 || f.GenAI.Burst < 0 || f.GenAI.RatePerSec < 0 {
		return fmt.Errorf("%w: negative size or rate", ErrInvalidConfig)
	}
	return nil
}
