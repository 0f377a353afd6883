// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Command envsense polls a VEML7700 ambient light sensor and an XGZP
// pressure sensor sharing one I²C bus and logs their readings.
//
// Usage:
//
//	envsense [flags]
//
// Flags:
//
//	-config string      Configuration file path
//	-bus string         I²C bus name, overrides the configuration
//	-log-level string   Log level: debug, info, warn, error
//	-once               Take a single reading and exit
//
// Examples:
//
//	# Poll with the default configuration
//	envsense
//
//	# Use a configuration file and log every register write
//	envsense -config /etc/envsense.yaml -log-level debug
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"

	"github.com/GermanBionicSystems/envsensors/common"
	"github.com/GermanBionicSystems/envsensors/config"
	"github.com/GermanBionicSystems/envsensors/regbus"
	"github.com/GermanBionicSystems/envsensors/veml7700"
	"github.com/GermanBionicSystems/envsensors/xgzp"
)

var (
	configFile string
	busName    string
	logLevel   string
	once       bool
)

func init() {
	flag.StringVar(&configFile, "config", "", "Configuration file path")
	flag.StringVar(&busName, "bus", "", "I²C bus name, overrides the configuration")
	flag.StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	flag.BoolVar(&once, "once", false, "Take a single reading and exit")
}

func main() {
	flag.Parse()

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "envsense: %v\n", err)
		os.Exit(2)
	}
	level, _ := cfg.Level()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("envsense failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if configFile != "" {
		var err error
		if cfg, err = config.Load(configFile); err != nil {
			return nil, err
		}
	}
	if busName != "" {
		cfg.Bus = busName
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	if _, err := host.Init(); err != nil {
		return err
	}
	b, err := i2creg.Open(cfg.Bus)
	if err != nil {
		return fmt.Errorf("failed to open I²C: %w", err)
	}
	defer b.Close()

	s, err := openSensors(ctx, regbus.New(b), cfg, logger)
	if err != nil {
		return err
	}
	defer s.halt()
	logger.Info("sensors ready", slog.String("bus", b.String()), slog.Duration("interval", time.Duration(cfg.Interval)))

	if once {
		return s.poll(ctx, cfg.Round)
	}
	ticker := time.NewTicker(time.Duration(cfg.Interval))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			return nil
		case <-ticker.C:
			if err := s.poll(ctx, cfg.Round); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("poll failed", slog.String("error", err.Error()))
			}
		}
	}
}

// sensors are the devices enabled by the configuration. Either may be nil.
type sensors struct {
	light    *veml7700.Dev
	pressure *xgzp.Dev
	log      *slog.Logger
}

// openSensors opens and configures the enabled sensors on a shared bus.
func openSensors(ctx context.Context, bus *regbus.Bus, cfg *config.Config, logger *slog.Logger) (*sensors, error) {
	s := &sensors{log: logger}
	policy := cfg.Retry.Policy(logger)

	if v := cfg.VEML7700; v.Enabled {
		d, err := veml7700.New(bus, v.Address, &veml7700.Opts{
			Config:    v.Values(),
			PowerSave: v.PowerSaveValues(),
			Policy:    policy,
			Logger:    logger.With(slog.String("sensor", "veml7700")),
		})
		if err != nil {
			return nil, err
		}
		if v.Resolution != "" {
			if err := d.SetResolution(ctx, v.Resolution); err != nil {
				return nil, err
			}
		}
		if v.Refresh != "" {
			if err := d.SetRefreshTime(ctx, v.Refresh); err != nil {
				return nil, err
			}
		}
		if v.High != nil {
			if err := d.SetThresholdWindow(ctx, veml7700.WindowHigh, v.High.MSB, v.High.LSB); err != nil {
				return nil, err
			}
		}
		if v.Low != nil {
			if err := d.SetThresholdWindow(ctx, veml7700.WindowLow, v.Low.MSB, v.Low.LSB); err != nil {
				return nil, err
			}
		}
		logger.Debug("veml7700 configured", slog.Any("config", d.Config()))
		s.light = d
	}

	if x := cfg.XGZP; x.Enabled {
		cmd, err := x.Command()
		if err != nil {
			return nil, err
		}
		d, err := xgzp.New(bus, x.Address, &xgzp.Opts{
			Mode:   cmd,
			Policy: policy,
			Logger: logger.With(slog.String("sensor", "xgzp")),
		})
		if err != nil {
			return nil, err
		}
		s.pressure = d
	}
	return s, nil
}

// poll reads every sensor once and logs the result. Every sensor is read
// even when an earlier one failed, the first error is returned.
func (s *sensors) poll(ctx context.Context, round int) error {
	var first error
	if s.light != nil {
		if err := s.pollLight(ctx, round); err != nil {
			first = err
		}
	}
	if s.pressure != nil {
		p, t, err := s.pressure.Measure(ctx, round)
		if err != nil {
			if first == nil {
				first = err
			}
		} else {
			s.log.Info("xgzp", slog.Float64("pressure_kpa", p), slog.Float64("temperature_c", t))
		}
	}
	return first
}

func (s *sensors) pollLight(ctx context.Context, round int) error {
	lux, err := s.light.AmbientLux(ctx)
	if err != nil {
		return err
	}
	white, err := s.light.WhiteCount(ctx)
	if err != nil {
		return err
	}
	attrs := []any{slog.Float64("lux", common.Round(lux, round)), slog.Int("white", int(white))}
	if cfg := s.light.Config(); cfg[veml7700.FieldInterruptEnable] != 0 {
		st, err := s.light.InterruptStatus(ctx)
		if err != nil {
			return err
		}
		attrs = append(attrs, slog.Bool("low_threshold", st.Low), slog.Bool("high_threshold", st.High))
	}
	s.log.Info("veml7700", attrs...)
	return nil
}

// halt puts the devices to rest. The light sensor is shut down, the
// pressure sensor stops any continuous read.
func (s *sensors) halt() {
	if s.light != nil {
		if err := s.light.Halt(); err != nil {
			s.log.Warn("veml7700 halt failed", slog.String("error", err.Error()))
		}
	}
	if s.pressure != nil {
		_ = s.pressure.Halt()
	}
}
