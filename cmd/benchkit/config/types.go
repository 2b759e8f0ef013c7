// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads and validates the benchkit YAML configuration.
package config

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/benchkit/pkg/logging"
	"github.com/AleutianAI/benchkit/services/harness"
	"github.com/AleutianAI/benchkit/services/harness/clock"
	"github.com/AleutianAI/benchkit/services/harness/engine"
	"github.com/AleutianAI/benchkit/services/harness/report"
	"github.com/AleutianAI/benchkit/services/harness/telemetry"
)

// DefaultFileName is the config file looked up in the working directory.
const DefaultFileName = "benchkit.yaml"

// None disables an optional duration or destination.
const None = "none"

// Duration is a time.Duration that reads from YAML as a Go duration string
// ("250ms") or "none".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, None) {
		*d = 0
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	if d == 0 {
		return None, nil
	}
	return time.Duration(d).String(), nil
}

// Config is the benchkit configuration file.
type Config struct {
	WarmupIterations       int       `yaml:"warmupIterations" validate:"gte=0"`
	MeasurementIterations  int       `yaml:"measurementIterations" validate:"gte=1"`
	BatchSize              int64     `yaml:"batchSize" validate:"gte=0"`
	MaxBatchSize           int64     `yaml:"maxBatchSize" validate:"gte=0"`
	Mode                   string    `yaml:"mode,omitempty" validate:"omitempty,benchmode"`
	TimeBudgetPerIteration Duration  `yaml:"timeBudgetPerIteration" validate:"gte=0"`
	ConfidenceLevel        float64   `yaml:"confidenceLevel" validate:"gt=0,lt=1"`
	ReportDestination      string    `yaml:"reportDestination"`
	TimeUnit               string    `yaml:"timeUnit" validate:"required,timeunit"`
	RawData                bool      `yaml:"rawData"`
	Percentiles            []float64 `yaml:"percentiles,omitempty" validate:"dive,gte=0,lte=100"`
	Include                string    `yaml:"include,omitempty" validate:"omitempty,regexp"`
	Clock                  string    `yaml:"clock" validate:"omitempty,oneof=auto raw monotonic wall"`
	Archive                string    `yaml:"archive,omitempty"`

	Logging   LoggingConfig    `yaml:"logging"`
	Telemetry telemetry.Config `yaml:"telemetry"`
	Influx    *InfluxConfig    `yaml:"influx,omitempty"`
	GCS       GCSConfig        `yaml:"gcs,omitempty"`
	Serve     ServeConfig      `yaml:"serve"`
}

// LoggingConfig configures pkg/logging.
type LoggingConfig struct {
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	Dir   string `yaml:"dir,omitempty"`
	JSON  bool   `yaml:"json"`
}

// InfluxConfig enables the InfluxDB sink when present.
type InfluxConfig struct {
	URL         string `yaml:"url" validate:"required,url"`
	Token       string `yaml:"token"`
	Org         string `yaml:"org" validate:"required"`
	Bucket      string `yaml:"bucket" validate:"required"`
	Measurement string `yaml:"measurement,omitempty"`
}

// GCSConfig configures gs:// report destinations.
type GCSConfig struct {
	CredentialsFile string `yaml:"credentialsFile,omitempty"`
}

// ServeConfig configures the report server.
type ServeConfig struct {
	Addr string `yaml:"addr" validate:"omitempty,hostname_port"`
}

// Default returns the built-in configuration.
func Default() Config {
	it := harness.DefaultIterationConfig()
	return Config{
		WarmupIterations:      it.Warmup,
		MeasurementIterations: it.Measurement,
		BatchSize:             it.BatchSize,
		MaxBatchSize:          it.MaxBatchSize,
		ConfidenceLevel:       0.99,
		ReportDestination:     None,
		TimeUnit:              string(report.Nanoseconds),
		Clock:                 string(clock.KindAuto),
		Logging:               LoggingConfig{Level: "info"},
		Telemetry:             telemetry.DefaultConfig(),
		Serve:                 ServeConfig{Addr: "127.0.0.1:8089"},
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("benchmode", func(fl validator.FieldLevel) bool {
		_, err := harness.ParseMode(fl.Field().String())
		return err == nil
	})
	_ = v.RegisterValidation("timeunit", func(fl validator.FieldLevel) bool {
		_, err := report.ParseTimeUnit(fl.Field().String())
		return err == nil
	})
	_ = v.RegisterValidation("regexp", func(fl validator.FieldLevel) bool {
		_, err := regexp.Compile(fl.Field().String())
		return err == nil
	})
	return v
}

// Validate checks every field.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// HasDestination reports whether a report destination is configured.
func (c *Config) HasDestination() bool {
	d := strings.TrimSpace(c.ReportDestination)
	return d != "" && !strings.EqualFold(d, None)
}

// IncludePattern compiles Include. It returns nil when no filter is set.
func (c *Config) IncludePattern() (*regexp.Regexp, error) {
	if c.Include == "" {
		return nil, nil
	}
	return regexp.Compile(c.Include)
}

// LogLevel parses Logging.Level, defaulting to info.
func (c *Config) LogLevel() (logging.Level, error) {
	if c.Logging.Level == "" {
		return logging.LevelInfo, nil
	}
	return logging.ParseLevel(c.Logging.Level)
}

// EngineOptions translates the configuration into engine options.
func (c *Config) EngineOptions() ([]engine.Option, error) {
	unit, err := report.ParseTimeUnit(c.TimeUnit)
	if err != nil {
		return nil, err
	}
	opts := []engine.Option{
		engine.WithWarmup(c.WarmupIterations),
		engine.WithIterations(c.MeasurementIterations),
		engine.WithBatchSize(c.BatchSize),
		engine.WithMaxBatchSize(c.MaxBatchSize),
		engine.WithTimeBudget(time.Duration(c.TimeBudgetPerIteration)),
		engine.WithConfidenceLevel(c.ConfidenceLevel),
		engine.WithTimeUnit(unit),
		engine.WithRawData(c.RawData),
	}
	if c.Mode != "" {
		mode, err := harness.ParseMode(c.Mode)
		if err != nil {
			return nil, err
		}
		opts = append(opts, engine.WithMode(mode))
	}
	if len(c.Percentiles) > 0 {
		opts = append(opts, engine.WithPercentiles(c.Percentiles...))
	}
	return opts, nil
}

// InfluxSinkConfig converts the influx section for the telemetry package.
func (c *InfluxConfig) InfluxSinkConfig() telemetry.InfluxConfig {
	return telemetry.InfluxConfig{
		URL:         c.URL,
		Token:       c.Token,
		Org:         c.Org,
		Bucket:      c.Bucket,
		Measurement: c.Measurement,
	}
}
