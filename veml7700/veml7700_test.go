// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package veml7700

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2ctest"

	"github.com/GermanBionicSystems/envsensors/common"
	"github.com/GermanBionicSystems/envsensors/regbus"
	"github.com/GermanBionicSystems/envsensors/regmap"
)

const addr = DefaultAddress

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

var testOpts = Opts{Policy: regbus.Policy{MaxAttempts: 3}, Logger: quiet}

// Writes issued by New with default options.
func defaultOps() []i2ctest.IO {
	return []i2ctest.IO{
		{Addr: addr, W: []byte{regConfig, 0x00, 0x00}},
		{Addr: addr, W: []byte{regPowerSave, 0x00}},
	}
}

func getDev(t *testing.T, ops ...i2ctest.IO) (*Dev, *i2ctest.Playback) {
	pb := &i2ctest.Playback{Ops: append(defaultOps(), ops...), DontPanic: true}
	opts := testOpts
	dev, err := NewI2C(pb, addr, &opts)
	require.NoError(t, err)
	return dev, pb
}

func TestNew(t *testing.T) {
	dev, pb := getDev(t)
	assert.NoError(t, pb.Close())
	assert.Equal(t, map[string]uint32{
		FieldGain: 0, FieldIntegrationTime: 0, FieldPersistence: 0, FieldInterruptEnable: 0, FieldShutdown: 0,
	}, dev.Config())
	assert.NotEmpty(t, dev.String())
}

func TestNewWithOptions(t *testing.T) {
	pb := &i2ctest.Playback{
		Ops: []i2ctest.IO{
			{Addr: addr, W: []byte{regConfig, 0x00, 0xc0}},
			{Addr: addr, W: []byte{regPowerSave, 0x05}},
		},
		DontPanic: true,
	}
	opts := testOpts
	opts.Config = regmap.Values{FieldIntegrationTime: regmap.Named("800ms")}
	opts.PowerSave = regmap.Values{FieldPowerSaveMode: regmap.Named("psm_3"), FieldPowerSaveEnable: regmap.Named("psm_enable")}
	_, err := NewI2C(pb, addr, &opts)
	require.NoError(t, err)
	assert.NoError(t, pb.Close())

	opts.Config = regmap.Values{FieldGain: regmap.Named("3x")}
	_, err = NewI2C(&i2ctest.Playback{DontPanic: true}, addr, &opts)
	var uo *common.UnknownOptionError
	assert.ErrorAs(t, err, &uo)
}

// Every named option of every field encodes to its documented code at the
// field's position.
func TestOptionCodes(t *testing.T) {
	positions := map[string]struct {
		reg   byte
		shift uint
		size  int
	}{
		FieldGain:            {regConfig, 11, 2},
		FieldIntegrationTime: {regConfig, 6, 2},
		FieldPersistence:     {regConfig, 4, 2},
		FieldInterruptEnable: {regConfig, 1, 2},
		FieldShutdown:        {regConfig, 0, 2},
		FieldPowerSaveMode:   {regPowerSave, 1, 1},
		FieldPowerSaveEnable: {regPowerSave, 0, 1},
	}
	table := Options()
	for field, pos := range positions {
		set, ok := table.Set(field)
		require.True(t, ok, field)
		for _, name := range set.Names() {
			code, err := table.Lookup(field, name)
			require.NoError(t, err)

			record := &i2ctest.Record{}
			opts := testOpts
			dev, err := NewI2C(record, addr, &opts)
			require.NoError(t, err)
			if pos.reg == regConfig {
				err = dev.SetConfig(context.Background(), regmap.Values{field: regmap.Named(name)})
			} else {
				err = dev.SetPowerSaveMode(context.Background(), regmap.Values{field: regmap.Named(name)})
			}
			require.NoError(t, err)

			last := record.Ops[len(record.Ops)-1]
			word := code << pos.shift
			expected := []byte{pos.reg, byte(word)}
			if pos.size == 2 {
				expected = []byte{pos.reg, byte(word >> 8), byte(word)}
			}
			assert.Equal(t, expected, last.W, "%s=%s", field, name)
		}
	}
}

func TestDocumentedCodes(t *testing.T) {
	table := Options()
	code, err := table.Lookup(FieldGain, "1x")
	require.NoError(t, err)
	assert.Equal(t, uint32(0b00), code)
	code, err = table.Lookup(FieldIntegrationTime, "25ms")
	require.NoError(t, err)
	assert.Equal(t, uint32(0b1100), code)

	_, err = table.Lookup(FieldGain, "foo")
	var uo *common.UnknownOptionError
	assert.ErrorAs(t, err, &uo)
	// Options never leak between fields.
	_, err = table.Lookup(FieldGain, "25ms")
	assert.ErrorAs(t, err, &uo)
}

func TestSetConfig(t *testing.T) {
	dev, pb := getDev(t,
		i2ctest.IO{Addr: addr, W: []byte{regConfig, 0x0b, 0x00}},
		i2ctest.IO{Addr: addr, W: []byte{regConfig, 0x0b, 0x32}},
	)
	ctx := context.Background()
	require.NoError(t, dev.SetConfig(ctx, regmap.Values{FieldGain: regmap.Named("2x"), FieldIntegrationTime: regmap.Named("25ms")}))
	require.NoError(t, dev.SetConfig(ctx, regmap.Values{FieldPersistence: regmap.Named("protect_8"), FieldInterruptEnable: regmap.Code(1)}))
	assert.NoError(t, pb.Close())
	assert.Equal(t, map[string]uint32{
		FieldGain: 0b01, FieldIntegrationTime: 0b1100, FieldPersistence: 0b11, FieldInterruptEnable: 1, FieldShutdown: 0,
	}, dev.Config())
}

func TestSetConfigRejected(t *testing.T) {
	record := &i2ctest.Record{}
	opts := testOpts
	dev, err := NewI2C(record, addr, &opts)
	require.NoError(t, err)
	before := dev.Config()
	n := len(record.Ops)
	ctx := context.Background()

	err = dev.SetConfig(ctx, regmap.Values{FieldIntegrationTime: regmap.Code(16)})
	var ce *common.ConfigurationError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, FieldIntegrationTime, ce.Field)

	err = dev.SetConfig(ctx, regmap.Values{FieldGain: regmap.Named("foo")})
	var uo *common.UnknownOptionError
	require.ErrorAs(t, err, &uo)

	err = dev.SetConfig(ctx, regmap.Values{"colour": regmap.Code(1)})
	require.ErrorAs(t, err, &ce)

	// psm is a field of the power save register, not of the config register.
	err = dev.SetConfig(ctx, regmap.Values{FieldPowerSaveMode: regmap.Named("psm_1")})
	require.ErrorAs(t, err, &ce)

	assert.Len(t, record.Ops, n, "no write after a failed encode")
	assert.Equal(t, before, dev.Config())
}

func TestSetConfigBusError(t *testing.T) {
	dev, _ := getDev(t)
	before := dev.Config()
	err := dev.SetConfig(context.Background(), regmap.Values{FieldGain: regmap.Named("2x")})
	var be *common.BusError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, "write", be.Op)
	assert.Equal(t, before, dev.Config())
}

func TestSetRefreshTime(t *testing.T) {
	dev, pb := getDev(t,
		i2ctest.IO{Addr: addr, W: []byte{regConfig, 0x00, 0x00}},
		i2ctest.IO{Addr: addr, W: []byte{regPowerSave, 0x03}},
		i2ctest.IO{Addr: addr, W: []byte{regConfig, 0x00, 0xc0}},
		i2ctest.IO{Addr: addr, W: []byte{regPowerSave, 0x01}},
		i2ctest.IO{Addr: addr, W: []byte{regConfig, 0x00, 0x80}},
		i2ctest.IO{Addr: addr, W: []byte{regPowerSave, 0x07}},
	)
	ctx := context.Background()
	require.NoError(t, dev.SetRefreshTime(ctx, "1100ms"))
	require.NoError(t, dev.SetRefreshTime(ctx, "1300ms"))
	require.NoError(t, dev.SetRefreshTime(ctx, "4400ms"))

	err := dev.SetRefreshTime(ctx, "1000ms")
	var ue *common.UnsupportedRefreshTimeError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, "1000ms", ue.Refresh)
	assert.NoError(t, pb.Close())
}

func TestRefreshTable(t *testing.T) {
	times := RefreshTimes()
	require.Len(t, times, 16)
	assert.Equal(t, "600ms", times[0])
	assert.Equal(t, "4800ms", times[15])

	expected := map[string][2]uint32{
		"600ms": {0b0000, 0}, "700ms": {0b0001, 0}, "900ms": {0b0010, 0}, "1300ms": {0b0011, 0},
		"1100ms": {0b0000, 1}, "1200ms": {0b0001, 1}, "1400ms": {0b0010, 1}, "1800ms": {0b0011, 1},
		"2100ms": {0b0000, 2}, "2200ms": {0b0001, 2}, "2400ms": {0b0010, 2}, "2800ms": {0b0011, 2},
		"4100ms": {0b0000, 3}, "4200ms": {0b0001, 3}, "4400ms": {0b0010, 3}, "4800ms": {0b0011, 3},
	}
	for refresh, codes := range expected {
		it, psm, err := LookupRefresh(refresh)
		require.NoError(t, err, refresh)
		assert.Equal(t, codes[0], it, refresh)
		assert.Equal(t, codes[1], psm, refresh)
	}
	_, _, err := LookupRefresh("25ms")
	var ue *common.UnsupportedRefreshTimeError
	assert.ErrorAs(t, err, &ue)
}

func TestSetThresholdWindow(t *testing.T) {
	dev, pb := getDev(t,
		i2ctest.IO{Addr: addr, W: []byte{regHighWindow, 0xff, 0xff}},
		i2ctest.IO{Addr: addr, W: []byte{regLowWindow, 0x00, 0x10}},
	)
	ctx := context.Background()
	require.NoError(t, dev.SetThresholdWindow(ctx, WindowHigh, 0xff, 0xff))
	require.NoError(t, dev.SetThresholdWindow(ctx, WindowLow, 0x00, 0x10))
	assert.Error(t, dev.SetThresholdWindow(ctx, Window(7), 0, 0))
	assert.NoError(t, pb.Close())
}

func TestAmbientLux(t *testing.T) {
	dev, pb := getDev(t,
		i2ctest.IO{Addr: addr, W: []byte{regAmbient}, R: []byte{0x00, 0x64}},
		i2ctest.IO{Addr: addr, W: []byte{regConfig, 0x08, 0x00}},
		i2ctest.IO{Addr: addr, W: []byte{regAmbient}, R: []byte{0x00, 0x64}},
		i2ctest.IO{Addr: addr, W: []byte{regWhite}, R: []byte{0x12, 0x34}},
	)
	ctx := context.Background()

	lux, err := dev.AmbientLux(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 5.76, lux, 1e-9)

	require.NoError(t, dev.SetResolution(ctx, "0.0288lx"))
	lux, err = dev.AmbientLux(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 2.88, lux, 1e-9)

	white, err := dev.WhiteCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x1234), white)
	assert.NoError(t, pb.Close())

	var uo *common.UnknownOptionError
	assert.ErrorAs(t, dev.SetResolution(ctx, "1lx"), &uo)
}

func TestInterruptStatus(t *testing.T) {
	dev, pb := getDev(t,
		i2ctest.IO{Addr: addr, W: []byte{regInterrupt}, R: []byte{0x80, 0x00}},
		i2ctest.IO{Addr: addr, W: []byte{regInterrupt}, R: []byte{0x7f, 0xff}},
	)
	ctx := context.Background()
	st, err := dev.InterruptStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, InterruptStatus{Low: true}, st)
	st, err = dev.InterruptStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, InterruptStatus{High: true}, st)
	assert.NoError(t, pb.Close())
}

func TestRegister(t *testing.T) {
	dev, pb := getDev(t,
		i2ctest.IO{Addr: addr, W: []byte{regConfig}, R: []byte{0x0b, 0x00}},
	)
	ctx := context.Background()
	codes, err := dev.Register(ctx, regConfig)
	require.NoError(t, err)
	assert.Equal(t, uint32(0b01), codes[FieldGain])
	assert.Equal(t, uint32(0b1100), codes[FieldIntegrationTime])

	_, err = dev.Register(ctx, regAmbient)
	var ure *common.UnknownRegisterError
	assert.ErrorAs(t, err, &ure)
	assert.NoError(t, pb.Close())
}

// flakyBus fails the first failures read transactions.
type flakyBus struct {
	i2c.Bus
	failures int
	reads    int
}

func (f *flakyBus) Tx(addr uint16, w, r []byte) error {
	if len(r) != 0 {
		f.reads++
		if f.failures < 0 || f.reads <= f.failures {
			return errors.New("remote I/O error")
		}
	}
	return f.Bus.Tx(addr, w, r)
}

func TestReadRetry(t *testing.T) {
	pb := &i2ctest.Playback{
		Ops:       append(defaultOps(), i2ctest.IO{Addr: addr, W: []byte{regWhite}, R: []byte{0x00, 0x2a}}),
		DontPanic: true,
	}
	bus := &flakyBus{Bus: pb, failures: 2}
	opts := testOpts
	dev, err := NewI2C(bus, addr, &opts)
	require.NoError(t, err)
	white, err := dev.WhiteCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint16(42), white)
	assert.Equal(t, 3, bus.reads)

	bus.failures = -1
	bus.reads = 0
	_, err = dev.WhiteCount(context.Background())
	var re *common.RetryExhausted
	require.ErrorAs(t, err, &re)
	assert.Equal(t, 3, bus.reads)
}

func TestHalt(t *testing.T) {
	dev, pb := getDev(t, i2ctest.IO{Addr: addr, W: []byte{regConfig, 0x00, 0x01}})
	require.NoError(t, dev.Halt())
	assert.Equal(t, uint32(1), dev.Config()[FieldShutdown])
	assert.NoError(t, pb.Close())
}

func TestResolution(t *testing.T) {
	tests := []struct {
		gain, it string
		expected float64
	}{
		{"2x", "800ms", 0.0036},
		{"2x", "400ms", 0.0072},
		{"2x", "200ms", 0.0144},
		{"2x", "100ms", 0.0288},
		{"1x", "100ms", 0.0576},
		{"1/4x", "100ms", 0.2304},
		{"1/8x", "25ms", 1.8432},
	}
	table := Options()
	for _, test := range tests {
		g, err := table.Lookup(FieldGain, test.gain)
		require.NoError(t, err)
		it, err := table.Lookup(FieldIntegrationTime, test.it)
		require.NoError(t, err)
		res, err := Resolution(g, it)
		require.NoError(t, err)
		assert.InDelta(t, test.expected, res, 1e-9, "%s %s", test.gain, test.it)
	}
	_, err := Resolution(0, 0b0111)
	var ce *common.ConfigurationError
	assert.ErrorAs(t, err, &ce)

	opts := ResolutionOptions()
	for _, name := range opts.Names() {
		it, err := opts.Lookup(name)
		require.NoError(t, err)
		res, err := Resolution(0b01, it)
		require.NoError(t, err)
		lux, err := strconv.ParseFloat(strings.TrimSuffix(name, "lx"), 64)
		require.NoError(t, err)
		assert.InDelta(t, lux, res, 1e-9, name)
	}
}

func TestDecodeUnsignedCount(t *testing.T) {
	count, err := DecodeUnsignedCount([]byte{0x00, 0x64})
	require.NoError(t, err)
	assert.Equal(t, uint16(100), count)
	assert.InDelta(t, 2.88, ToIlluminance(count, 0.0288), 1e-12)

	count, err = DecodeUnsignedCount([]byte{0xff, 0xff})
	require.NoError(t, err)
	assert.Equal(t, uint16(65535), count)

	_, err = DecodeUnsignedCount([]byte{0x01})
	var pe *common.ProtocolError
	assert.ErrorAs(t, err, &pe)
}
