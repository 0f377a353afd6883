// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package config loads the YAML configuration of the envsense host program.
//
// Keys absent from the file keep the values of Default. Named sensor options
// aren't checked here, they are validated by the drivers when applied.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/GermanBionicSystems/envsensors/regbus"
	"github.com/GermanBionicSystems/envsensors/regmap"
	"github.com/GermanBionicSystems/envsensors/veml7700"
	"github.com/GermanBionicSystems/envsensors/xgzp"
)

// Duration is a time.Duration read from strings such as "250ms".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Retry configures the read retry policy shared by both sensors.
type Retry struct {
	Attempts int      `yaml:"attempts"`
	Backoff  Duration `yaml:"backoff"`
}

// Policy returns the regbus.Policy logging to logger.
func (r Retry) Policy(logger *slog.Logger) regbus.Policy {
	return regbus.Policy{MaxAttempts: r.Attempts, Backoff: time.Duration(r.Backoff), Logger: logger}
}

// Threshold holds a raw interrupt threshold count.
type Threshold struct {
	MSB byte `yaml:"msb"`
	LSB byte `yaml:"lsb"`
}

// VEML7700 configures the ambient light sensor.
type VEML7700 struct {
	Enabled bool   `yaml:"enabled"`
	Address uint16 `yaml:"address"`
	// Config maps configuration register fields to option names, for example
	// gain: 1/8x.
	Config map[string]string `yaml:"config"`
	// PowerSave maps psm and psm_enable to option names.
	PowerSave map[string]string `yaml:"power_save"`
	// Refresh enables power save mode with the given refresh time. It
	// overrides the integration time of Config.
	Refresh string `yaml:"refresh"`
	// Resolution selects gain 2x and a matching integration time.
	Resolution string     `yaml:"resolution"`
	High       *Threshold `yaml:"high_threshold"`
	Low        *Threshold `yaml:"low_threshold"`
}

// Values returns Config as named regmap values.
func (v *VEML7700) Values() regmap.Values {
	return named(v.Config)
}

// PowerSaveValues returns PowerSave as named regmap values.
func (v *VEML7700) PowerSaveValues() regmap.Values {
	return named(v.PowerSave)
}

func named(m map[string]string) regmap.Values {
	if len(m) == 0 {
		return nil
	}
	values := make(regmap.Values, len(m))
	for field, option := range m {
		values[field] = regmap.Named(option)
	}
	return values
}

// XGZP configures the pressure sensor.
type XGZP struct {
	Enabled bool   `yaml:"enabled"`
	Address uint16 `yaml:"address"`
	// Mode is a command name such as "combined" or "dormant-1s". Empty leaves
	// the device mode untouched.
	Mode string `yaml:"mode"`
}

// Command returns the parsed Mode, zero when Mode is empty.
func (x *XGZP) Command() (xgzp.Command, error) {
	if x.Mode == "" {
		return 0, nil
	}
	return xgzp.ParseCommand(x.Mode)
}

// Config is the top level configuration.
type Config struct {
	// Bus is the I²C bus name passed to i2creg.Open. Empty selects the
	// default bus.
	Bus      string   `yaml:"bus"`
	LogLevel string   `yaml:"log_level"`
	Interval Duration `yaml:"interval"`
	// Round is the number of decimal places of logged readings, -1 for none.
	Round    int      `yaml:"round"`
	Retry    Retry    `yaml:"retry"`
	VEML7700 VEML7700 `yaml:"veml7700"`
	XGZP     XGZP     `yaml:"xgzp"`
}

// Default returns the configuration used for keys absent from the file.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Interval: Duration(time.Second),
		Round:    2,
		Retry: Retry{
			Attempts: regbus.DefaultPolicy.MaxAttempts,
			Backoff:  Duration(regbus.DefaultPolicy.Backoff),
		},
		VEML7700: VEML7700{Enabled: true, Address: veml7700.DefaultAddress},
		XGZP:     XGZP{Enabled: true, Address: xgzp.DefaultAddress, Mode: xgzp.ModeCombined.String()},
	}
}

// Level returns the parsed LogLevel.
func (c *Config) Level() (slog.Level, error) {
	var l slog.Level
	err := l.UnmarshalText([]byte(c.LogLevel))
	return l, err
}

// Validate checks the values that don't depend on a driver.
func (c *Config) Validate() error {
	if _, err := c.Level(); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	if c.Interval <= 0 {
		return fmt.Errorf("interval must be positive, got %s", time.Duration(c.Interval))
	}
	if c.Round < -1 {
		return fmt.Errorf("round must be -1 or more, got %d", c.Round)
	}
	if c.Retry.Attempts < 1 {
		return fmt.Errorf("retry.attempts must be at least 1, got %d", c.Retry.Attempts)
	}
	if c.Retry.Backoff < 0 {
		return fmt.Errorf("retry.backoff must not be negative")
	}
	if c.VEML7700.Address > 0x7f {
		return fmt.Errorf("veml7700.address 0x%x is not a 7 bit address", c.VEML7700.Address)
	}
	if c.XGZP.Address > 0x7f {
		return fmt.Errorf("xgzp.address 0x%x is not a 7 bit address", c.XGZP.Address)
	}
	if _, err := c.XGZP.Command(); err != nil {
		return fmt.Errorf("xgzp.mode: %w", err)
	}
	if !c.VEML7700.Enabled && !c.XGZP.Enabled {
		return fmt.Errorf("no sensor enabled")
	}
	return nil
}

// LoadError provides details about a configuration loading error.
type LoadError struct {
	// File is the path of the file that failed to load, empty when parsing
	// bytes.
	File string

	// Message describes the error.
	Message string

	// Cause is the underlying error, if any.
	Cause error
}

func (e *LoadError) Error() string {
	msg := e.Message
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	if e.File == "" {
		return msg
	}
	return e.File + ": " + msg
}

func (e *LoadError) Unwrap() error {
	return e.Cause
}

// Parse parses a configuration from YAML bytes over Default.
func Parse(data []byte) (*Config, error) {
	c := Default()
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, &LoadError{
			Message: "failed to parse YAML",
			Cause:   err,
		}
	}
	if err := c.Validate(); err != nil {
		return nil, &LoadError{
			Message: "invalid configuration",
			Cause:   err,
		}
	}
	return c, nil
}

// Load loads a configuration from a file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{
			File:    path,
			Message: "failed to read file",
			Cause:   err,
		}
	}

	c, err := Parse(data)
	if err != nil {
		if le, ok := err.(*LoadError); ok {
			le.File = path
			return nil, le
		}
		return nil, &LoadError{
			File:    path,
			Message: err.Error(),
		}
	}

	return c, nil
}
