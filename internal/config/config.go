// Package config holds the settings of an analysis run. Settings come from
// an optional YAML file; command-line flags override them.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Exporters accepted by Metrics.Exporter.
const (
	ExporterNone       = "none"
	ExporterStdout     = "stdout"
	ExporterPrometheus = "prometheus"
)

// Config holds all settings of an analysis run.
type Config struct {
	// Packages are the Go packages to analyze, or a single model file.
	Packages []string `yaml:"packages"`

	// Go treats the arguments as Go packages even if they look like a
	// model file.
	Go bool `yaml:"go"`

	// Workers bounds the notification pool and the parallel phases. Zero
	// means runtime.NumCPU().
	Workers int `yaml:"workers" validate:"gte=0,lte=4096"`

	BuildTags []string `yaml:"build_tags" validate:"dive,required"`

	// Tests loads test files, so tests become roots.
	Tests bool `yaml:"tests"`

	// Strict drops the exported API of library packages from the roots.
	Strict bool `yaml:"strict"`

	SkipGenerated bool `yaml:"skip_generated"`

	// Seal seals the universe once the analysis finishes.
	Seal bool `yaml:"seal"`

	JSON    bool `yaml:"json"`
	Verbose bool `yaml:"verbose"`
	Profile bool `yaml:"profile"`

	Layer   Layer   `yaml:"layer"`
	Metrics Metrics `yaml:"metrics"`
}

// Layer configures reading and writing persisted layers.
type Layer struct {
	// In is the directory of a base layer to build on.
	In string `yaml:"in"`

	// Out is the directory the finished analysis is persisted to.
	Out string `yaml:"out" validate:"omitempty,nefield=In"`

	// Name names the persisted layer.
	Name string `yaml:"name" validate:"required_with=Out"`
}

// Metrics configures the OpenTelemetry meter provider.
type Metrics struct {
	Exporter string `yaml:"exporter" validate:"omitempty,oneof=none stdout prometheus"`

	// Path is the text file the Prometheus exporter writes to on exit.
	Path string `yaml:"path" validate:"required_if=Exporter prometheus"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Default returns the settings used when no file is given.
func Default() *Config {
	return &Config{
		SkipGenerated: true,
		Layer:         Layer{Name: "base"},
		Metrics:       Metrics{Exporter: ExporterNone},
	}
}

// Load reads the YAML file at path over the defaults and validates the
// result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML settings over the defaults and validates the result.
// Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("invalid config: %s fails %q", verrs[0].Namespace(), verrs[0].Tag())
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
