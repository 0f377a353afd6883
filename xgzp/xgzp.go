// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package xgzp provides a driver for the CFSensor XGZP series I²C pressure
// and temperature sensors.
//
// Pressure is a 24 bit two's complement value spread over three registers,
// temperature a 16 bit two's complement value over two. Each register is read
// on its own, so composite reads hold the bus for their whole duration.
//
// The driver doesn't wait for a conversion to finish. Select a mode with
// SetMode and read at a pace compatible with it.
package xgzp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"

	"github.com/GermanBionicSystems/envsensors/common"
	"github.com/GermanBionicSystems/envsensors/regbus"
)

// Command is a measurement mode written to the command register.
type Command byte

const (
	// ModeCombined converts pressure and temperature.
	ModeCombined Command = 0x0a
	// ModeSingleTemperature converts temperature only.
	ModeSingleTemperature Command = 0x08
	// ModeSinglePressure converts pressure only.
	ModeSinglePressure Command = 0x09
	// Sleep between conversions, waking up every 62.5ms, 125ms or 1s.
	ModeDormant63ms  Command = 0x1b
	ModeDormant125ms Command = 0x2b
	ModeDormant1s    Command = 0xfb
)

func (c Command) valid() bool {
	switch c {
	case ModeCombined, ModeSingleTemperature, ModeSinglePressure, ModeDormant63ms, ModeDormant125ms, ModeDormant1s:
		return true
	}
	return false
}

func (c Command) String() string {
	switch c {
	case ModeCombined:
		return "combined"
	case ModeSingleTemperature:
		return "single-temperature"
	case ModeSinglePressure:
		return "single-pressure"
	case ModeDormant63ms:
		return "dormant-63.5ms"
	case ModeDormant125ms:
		return "dormant-125ms"
	case ModeDormant1s:
		return "dormant-1s"
	}
	return fmt.Sprintf("Command(%#02x)", byte(c))
}

var commands = []Command{ModeCombined, ModeSingleTemperature, ModeSinglePressure, ModeDormant63ms, ModeDormant125ms, ModeDormant1s}

// ParseCommand returns the Command named s, as printed by Command.String.
func ParseCommand(s string) (Command, error) {
	for _, c := range commands {
		if c.String() == s {
			return c, nil
		}
	}
	return 0, &common.UnknownOptionError{Field: "mode", Option: s}
}

const (
	// DefaultAddress is the fixed I²C address of the sensor.
	DefaultAddress uint16 = 0x6d

	// PressureScale is the count per kPa.
	PressureScale float64 = 4096
	// TemperatureScale is the count per °C.
	TemperatureScale float64 = 256

	regCommand byte = 0x30
)

// Data registers, most significant byte first.
var (
	regsPressure    = []byte{0x06, 0x07, 0x08}
	regsTemperature = []byte{0x09, 0x0a}
	regsAll         = []byte{0x06, 0x07, 0x08, 0x09, 0x0a}
)

// DecodePressure returns the pressure of a 3 byte, MSB first two's complement
// count divided by scale.
func DecodePressure(raw []byte, scale float64) (float64, error) {
	v, err := common.Signed24(raw)
	if err != nil {
		return 0, err
	}
	return float64(v) / scale, nil
}

// DecodeTemperature returns the temperature of a 2 byte, MSB first two's
// complement count divided by scale.
func DecodeTemperature(raw []byte, scale float64) (float64, error) {
	v, err := common.Signed16(raw)
	if err != nil {
		return 0, err
	}
	return float64(v) / scale, nil
}

// Opts represents configurable options for the sensor.
type Opts struct {
	// Mode is written when the device is opened. Zero leaves the device mode
	// untouched.
	Mode Command
	// Policy is used for every register read. Zero value uses
	// regbus.DefaultPolicy.
	Policy regbus.Policy
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Dev represents an XGZP pressure/temperature sensor.
type Dev struct {
	bus    *regbus.Bus
	addr   uint16
	policy regbus.Policy
	log    *slog.Logger

	mu       sync.Mutex
	shutdown chan struct{}
	wg       sync.WaitGroup
}

// NewI2C returns a new sensor on its own regbus.Bus wrapping b. Use New when
// other devices share the bus.
func NewI2C(b i2c.Bus, addr uint16, opts *Opts) (*Dev, error) {
	return New(regbus.New(b), addr, opts)
}

// New returns a new sensor using bus and address.
func New(bus *regbus.Bus, addr uint16, opts *Opts) (*Dev, error) {
	if opts == nil {
		opts = &Opts{}
	}
	d := &Dev{bus: bus, addr: addr, policy: opts.Policy, log: opts.Logger}
	if d.policy.MaxAttempts == 0 {
		d.policy = regbus.DefaultPolicy
	}
	if d.log == nil {
		d.log = slog.Default()
	}
	if d.policy.Logger == nil {
		d.policy.Logger = d.log
	}
	if opts.Mode != 0 {
		if err := d.SetMode(context.Background(), opts.Mode); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// SetMode writes cmd to the command register. The write isn't retried nor
// read back.
func (d *Dev) SetMode(ctx context.Context, cmd Command) error {
	if !cmd.valid() {
		return &common.ConfigurationError{Field: "mode", Value: cmd, Reason: "unknown command"}
	}
	if err := d.bus.WriteRegister(ctx, d.addr, regCommand, []byte{byte(cmd)}); err != nil {
		return fmt.Errorf("xgzp: set mode %s: %w", cmd, err)
	}
	d.log.Debug("xgzp: mode set", slog.String("mode", cmd.String()))
	return nil
}

// read reads regs one byte at a time while holding the bus.
func (d *Dev) read(ctx context.Context, regs []byte) ([]byte, error) {
	raw := make([]byte, len(regs))
	err := d.bus.Exclusive(ctx, func(t regbus.Transport) error {
		for i, reg := range regs {
			b, err := regbus.ReadWithRetry(ctx, t, d.addr, reg, 1, d.policy)
			if err != nil {
				return err
			}
			raw[i] = b[0]
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("xgzp: %w", err)
	}
	return raw, nil
}

// Pressure returns the pressure in kPa, rounded to round decimal places.
// Pass common.NoRounding to get the full resolution.
func (d *Dev) Pressure(ctx context.Context, round int) (float64, error) {
	raw, err := d.read(ctx, regsPressure)
	if err != nil {
		return 0, err
	}
	p, err := DecodePressure(raw, PressureScale)
	if err != nil {
		return 0, err
	}
	return common.Round(p, round), nil
}

// Temperature returns the temperature in °C, rounded to round decimal places.
func (d *Dev) Temperature(ctx context.Context, round int) (float64, error) {
	raw, err := d.read(ctx, regsTemperature)
	if err != nil {
		return 0, err
	}
	t, err := DecodeTemperature(raw, TemperatureScale)
	if err != nil {
		return 0, err
	}
	return common.Round(t, round), nil
}

// Measure returns pressure and temperature read in a single bus transaction.
func (d *Dev) Measure(ctx context.Context, round int) (pressure, temperature float64, err error) {
	raw, err := d.read(ctx, regsAll)
	if err != nil {
		return 0, 0, err
	}
	if pressure, err = DecodePressure(raw[:3], PressureScale); err != nil {
		return 0, 0, err
	}
	if temperature, err = DecodeTemperature(raw[3:], TemperatureScale); err != nil {
		return 0, 0, err
	}
	return common.Round(pressure, round), common.Round(temperature, round), nil
}

// Sense reads pressure and temperature and writes them to env. Implements
// physic.SenseEnv.
func (d *Dev) Sense(env *physic.Env) error {
	env.Humidity = 0
	p, t, err := d.Measure(context.Background(), common.NoRounding)
	if err != nil {
		return err
	}
	env.Pressure = physic.Pressure(p * float64(physic.KiloPascal))
	env.Temperature = physic.ZeroCelsius + physic.Temperature(t*float64(physic.Kelvin))
	return nil
}

// SenseContinuous reads from the device every interval and sends the result
// to the returned channel. Failed reads are logged and skipped. To terminate
// the continuous read, call Halt().
func (d *Dev) SenseContinuous(interval time.Duration) (<-chan physic.Env, error) {
	if interval <= 0 {
		return nil, errors.New("xgzp: invalid sample interval")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.shutdown != nil {
		return nil, errors.New("xgzp: SenseContinuous already running")
	}
	d.shutdown = make(chan struct{})
	ch := make(chan physic.Env, 16)
	d.wg.Add(1)
	go func(shutdown <-chan struct{}) {
		defer d.wg.Done()
		defer close(ch)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-shutdown:
				return
			case <-ticker.C:
				env := physic.Env{}
				if err := d.Sense(&env); err != nil {
					d.log.Warn("xgzp: sense failed", slog.String("error", err.Error()))
					continue
				}
				select {
				case ch <- env:
				default:
				}
			}
		}
	}(d.shutdown)
	return ch, nil
}

// Precision returns the smallest step of pressure and temperature readings.
// Implements physic.SenseEnv.
func (d *Dev) Precision(env *physic.Env) {
	env.Pressure = physic.Pressure(float64(physic.KiloPascal) / PressureScale)
	env.Temperature = physic.Temperature(float64(physic.Kelvin) / TemperatureScale)
	env.Humidity = 0
}

// Halt stops a SenseContinuous operation in progress. Implements
// conn.Resource.
func (d *Dev) Halt() error {
	d.mu.Lock()
	if d.shutdown != nil {
		close(d.shutdown)
		d.shutdown = nil
	}
	d.mu.Unlock()
	d.wg.Wait()
	return nil
}

func (d *Dev) String() string {
	return fmt.Sprintf("xgzp: %s addr 0x%02x", d.bus, d.addr)
}

var _ conn.Resource = &Dev{}
var _ physic.SenseEnv = &Dev{}
