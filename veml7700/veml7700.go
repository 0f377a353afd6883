// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package veml7700

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/i2c"

	"github.com/GermanBionicSystems/envsensors/common"
	"github.com/GermanBionicSystems/envsensors/regbus"
	"github.com/GermanBionicSystems/envsensors/regmap"
)

// Window selects one of the two interrupt threshold registers.
type Window byte

const (
	WindowHigh Window = iota
	WindowLow
)

// InterruptStatus reports which threshold window was crossed.
type InterruptStatus struct {
	Low  bool
	High bool
}

// Opts represents configurable options for the VEML7700.
type Opts struct {
	// Config is applied over the power-on defaults (gain 1x, 100ms,
	// protect_1, int_disable, als_on) when the device is opened.
	Config regmap.Values
	// PowerSave is applied over psm_1, psm_disable.
	PowerSave regmap.Values
	// Policy is used for every register read. Zero value uses
	// regbus.DefaultPolicy.
	Policy regbus.Policy
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Dev represents a VEML7700 ambient light sensor.
type Dev struct {
	bus    *regbus.Bus
	addr   uint16
	regs   *registers
	policy regbus.Policy
	log    *slog.Logger

	mu        sync.Mutex
	config    map[string]uint32
	powerSave map[string]uint32
}

// NewI2C returns a new VEML7700 on its own regbus.Bus wrapping b. Use New
// when other devices share the bus.
func NewI2C(b i2c.Bus, addr uint16, opts *Opts) (*Dev, error) {
	return New(regbus.New(b), addr, opts)
}

// New returns a new VEML7700 using bus and address. The configuration and
// power save registers are written so the cached state matches the device.
func New(bus *regbus.Bus, addr uint16, opts *Opts) (*Dev, error) {
	if opts == nil {
		opts = &Opts{}
	}
	d := &Dev{
		bus:    bus,
		addr:   addr,
		regs:   newRegisters(),
		policy: opts.Policy,
		log:    opts.Logger,
		config: map[string]uint32{
			FieldGain: 0, FieldIntegrationTime: 0, FieldPersistence: 0, FieldInterruptEnable: 0, FieldShutdown: 0,
		},
		powerSave: map[string]uint32{FieldPowerSaveMode: 0, FieldPowerSaveEnable: 0},
	}
	if d.policy.MaxAttempts == 0 {
		d.policy = regbus.DefaultPolicy
	}
	if d.log == nil {
		d.log = slog.Default()
	}
	if d.policy.Logger == nil {
		d.policy.Logger = d.log
	}
	ctx := context.Background()
	if err := d.SetConfig(ctx, opts.Config); err != nil {
		return nil, err
	}
	if err := d.SetPowerSaveMode(ctx, opts.PowerSave); err != nil {
		return nil, err
	}
	return d, nil
}

// merge returns the cached codes overlaid with values.
func merge(cached map[string]uint32, values regmap.Values) regmap.Values {
	merged := make(regmap.Values, len(cached)+len(values))
	for name, code := range cached {
		merged[name] = regmap.Code(code)
	}
	for name, v := range values {
		merged[name] = v
	}
	return merged
}

// update encodes values over cached into l and writes it. cached is only
// modified once the write succeeded.
func (d *Dev) update(ctx context.Context, l *regmap.Layout, cached map[string]uint32, values regmap.Values) error {
	raw, err := regmap.Encode(l, merge(cached, values))
	if err != nil {
		return fmt.Errorf("veml7700: %s: %w", l.Name, err)
	}
	if err := d.bus.WriteRegister(ctx, d.addr, l.Addr, raw); err != nil {
		return fmt.Errorf("veml7700: %s: %w", l.Name, err)
	}
	codes, err := regmap.Decode(l, raw)
	if err != nil {
		return err
	}
	for name, code := range codes {
		cached[name] = code
	}
	d.log.Debug("veml7700: register written", slog.String("register", l.Name), slog.Any("raw", raw))
	return nil
}

// SetConfig changes fields of the configuration register. Fields not in
// values keep their current setting. Values may be named options, for
// example regmap.Named("25ms"), or codes.
func (d *Dev) SetConfig(ctx context.Context, values regmap.Values) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.update(ctx, d.regs.config, d.config, values)
}

// SetPowerSaveMode changes the psm and psm_enable fields.
func (d *Dev) SetPowerSaveMode(ctx context.Context, values regmap.Values) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.update(ctx, d.regs.powerSave, d.powerSave, values)
}

// SetRefreshTime enables power save mode and selects the integration time
// and mode giving refresh, for example "1100ms". Refer to RefreshTimes.
func (d *Dev) SetRefreshTime(ctx context.Context, refresh string) error {
	s, ok := d.regs.refresh[refresh]
	if !ok {
		return fmt.Errorf("veml7700: %w", &common.UnsupportedRefreshTimeError{Refresh: refresh})
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	// Both buffers are built before anything is written.
	cfg := merge(d.config, regmap.Values{FieldIntegrationTime: regmap.Code(s.it)})
	if _, err := regmap.Encode(d.regs.config, cfg); err != nil {
		return fmt.Errorf("veml7700: %w", err)
	}
	psm := regmap.Values{FieldPowerSaveMode: regmap.Code(s.psm), FieldPowerSaveEnable: regmap.Named("psm_enable")}
	if _, err := regmap.Encode(d.regs.powerSave, merge(d.powerSave, psm)); err != nil {
		return fmt.Errorf("veml7700: %w", err)
	}
	if err := d.update(ctx, d.regs.config, d.config, cfg); err != nil {
		return err
	}
	return d.update(ctx, d.regs.powerSave, d.powerSave, psm)
}

// SetResolution selects gain 2x and the integration time giving resolution,
// one of the names of ResolutionOptions such as "0.0036lx".
func (d *Dev) SetResolution(ctx context.Context, resolution string) error {
	it, err := ResolutionOptions().Lookup(resolution)
	if err != nil {
		return fmt.Errorf("veml7700: %w", err)
	}
	return d.SetConfig(ctx, regmap.Values{FieldGain: regmap.Named("2x"), FieldIntegrationTime: regmap.Code(it)})
}

// SetThresholdWindow writes the high or low interrupt threshold as a raw 16
// bit count.
func (d *Dev) SetThresholdWindow(ctx context.Context, w Window, msb, lsb byte) error {
	var l *regmap.Layout
	switch w {
	case WindowHigh:
		l = d.regs.high
	case WindowLow:
		l = d.regs.low
	default:
		return fmt.Errorf("veml7700: invalid threshold window %d", w)
	}
	raw, err := regmap.Encode(l, regmap.Values{fieldMSB: regmap.Code(uint32(msb)), fieldLSB: regmap.Code(uint32(lsb))})
	if err != nil {
		return fmt.Errorf("veml7700: %s: %w", l.Name, err)
	}
	if err := d.bus.WriteRegister(ctx, d.addr, l.Addr, raw); err != nil {
		return fmt.Errorf("veml7700: %s: %w", l.Name, err)
	}
	return nil
}

// Config returns the cached codes of the configuration register.
func (d *Dev) Config() map[string]uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	c := make(map[string]uint32, len(d.config))
	for k, v := range d.config {
		c[k] = v
	}
	return c
}

// Register reads back a configuration or status register and returns its
// field codes.
func (d *Dev) Register(ctx context.Context, reg byte) (map[string]uint32, error) {
	l, err := d.regs.all.Layout(reg)
	if err != nil {
		return nil, fmt.Errorf("veml7700: %w", err)
	}
	raw, err := regbus.ReadWithRetry(ctx, d.bus, d.addr, reg, l.Size, d.policy)
	if err != nil {
		return nil, fmt.Errorf("veml7700: %s: %w", l.Name, err)
	}
	return regmap.Decode(l, raw)
}

func (d *Dev) readCount(ctx context.Context, reg byte) (uint16, error) {
	raw, err := regbus.ReadWithRetry(ctx, d.bus, d.addr, reg, countRegLength, d.policy)
	if err != nil {
		return 0, fmt.Errorf("veml7700: %w", err)
	}
	return DecodeUnsignedCount(raw)
}

// AmbientCount returns the raw ALS channel count.
func (d *Dev) AmbientCount(ctx context.Context) (uint16, error) {
	return d.readCount(ctx, regAmbient)
}

// WhiteCount returns the raw white channel count.
func (d *Dev) WhiteCount(ctx context.Context) (uint16, error) {
	return d.readCount(ctx, regWhite)
}

// AmbientLux returns the illuminance in lux, using the resolution of the
// currently configured gain and integration time.
func (d *Dev) AmbientLux(ctx context.Context) (float64, error) {
	cfg := d.Config()
	res, err := Resolution(cfg[FieldGain], cfg[FieldIntegrationTime])
	if err != nil {
		return 0, fmt.Errorf("veml7700: %w", err)
	}
	count, err := d.AmbientCount(ctx)
	if err != nil {
		return 0, err
	}
	return ToIlluminance(count, res), nil
}

// InterruptStatus reads which threshold window triggered the interrupt.
func (d *Dev) InterruptStatus(ctx context.Context) (InterruptStatus, error) {
	l := d.regs.interrupt
	raw, err := regbus.ReadWithRetry(ctx, d.bus, d.addr, l.Addr, l.Size, d.policy)
	if err != nil {
		return InterruptStatus{}, fmt.Errorf("veml7700: %w", err)
	}
	flags, err := regmap.DecodeFlags(l, raw)
	if err != nil {
		return InterruptStatus{}, fmt.Errorf("veml7700: %w", err)
	}
	return InterruptStatus{Low: flags[flagLowWindow], High: flags[flagHighWindow]}, nil
}

// Halt shuts the ALS down. Implements conn.Resource.
func (d *Dev) Halt() error {
	return d.SetConfig(context.Background(), regmap.Values{FieldShutdown: regmap.Named("als_down")})
}

func (d *Dev) String() string {
	return fmt.Sprintf("veml7700: %s addr 0x%02x", d.bus, d.addr)
}

var _ conn.Resource = &Dev{}
