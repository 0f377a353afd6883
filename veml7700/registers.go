// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package veml7700

import (
	"fmt"
	"sort"

	"github.com/GermanBionicSystems/envsensors/common"
	"github.com/GermanBionicSystems/envsensors/regmap"
)

const (
	// DefaultAddress is the fixed I²C address of the VEML7700.
	DefaultAddress uint16 = 0x10

	// Addresses of registers to read/write.
	regConfig     byte = 0x00
	regHighWindow byte = 0x01
	regLowWindow  byte = 0x02
	regPowerSave  byte = 0x03
	regAmbient    byte = 0x04
	regWhite      byte = 0x05
	regInterrupt  byte = 0x06
)

const countRegLength = 2

// Names of the register fields accepted by SetConfig and SetPowerSaveMode.
const (
	FieldGain            = "gain"
	FieldIntegrationTime = "integration_time"
	FieldPersistence     = "persistence"
	FieldInterruptEnable = "interrupt_enable"
	FieldShutdown        = "shutdown"
	FieldPowerSaveMode   = "psm"
	FieldPowerSaveEnable = "psm_enable"

	fieldMSB       = "msb"
	fieldLSB       = "lsb"
	flagLowWindow  = "low_threshold"
	flagHighWindow = "high_threshold"
)

// Options returns the named options of every configurable field. Each field
// has its own namespace.
func Options() *regmap.Table {
	return regmap.NewTable(
		regmap.NewOptionSet(FieldGain, map[string]uint32{"1x": 0b00, "2x": 0b01, "1/8x": 0b10, "1/4x": 0b11}),
		regmap.NewOptionSet(FieldIntegrationTime, map[string]uint32{
			"25ms": 0b1100, "50ms": 0b1000, "100ms": 0b0000, "200ms": 0b0001, "400ms": 0b0010, "800ms": 0b0011,
		}),
		regmap.NewOptionSet(FieldPersistence, map[string]uint32{"protect_1": 0b00, "protect_2": 0b01, "protect_4": 0b10, "protect_8": 0b11}),
		regmap.NewOptionSet(FieldInterruptEnable, map[string]uint32{"int_disable": 0, "int_enable": 1}),
		regmap.NewOptionSet(FieldShutdown, map[string]uint32{"als_on": 0, "als_down": 1}),
		regmap.NewOptionSet(FieldPowerSaveMode, map[string]uint32{"psm_1": 0b00, "psm_2": 0b01, "psm_3": 0b10, "psm_4": 0b11}),
		regmap.NewOptionSet(FieldPowerSaveEnable, map[string]uint32{"psm_disable": 0, "psm_enable": 1}),
	)
}

// ResolutionOptions maps a resolution at gain 2x to the integration time
// code producing it.
func ResolutionOptions() *regmap.OptionSet {
	return regmap.NewOptionSet("resolution", map[string]uint32{
		"0.0288lx": 0b0000, "0.0144lx": 0b0001, "0.0072lx": 0b0010, "0.0036lx": 0b0011,
	})
}

// registers holds the layouts of the device. Built once per Dev and never
// modified.
type registers struct {
	options   *regmap.Table
	config    *regmap.Layout
	high      *regmap.Layout
	low       *regmap.Layout
	powerSave *regmap.Layout
	interrupt *regmap.Layout
	all       *regmap.Map
	refresh   map[string]refreshSetting
}

func newRegisters() *registers {
	t := Options()
	set := func(field string) *regmap.OptionSet {
		s, _ := t.Set(field)
		return s
	}
	r := &registers{
		options: t,
		config: regmap.MustLayout("ALS_CONF", regConfig, 2,
			regmap.Reserved(3),
			regmap.Field{Name: FieldGain, Width: 2, Options: set(FieldGain)},
			regmap.Reserved(1),
			regmap.Field{Name: FieldIntegrationTime, Width: 4, Options: set(FieldIntegrationTime)},
			regmap.Field{Name: FieldPersistence, Width: 2, Options: set(FieldPersistence)},
			regmap.Reserved(2),
			regmap.Field{Name: FieldInterruptEnable, Width: 1, Options: set(FieldInterruptEnable)},
			regmap.Field{Name: FieldShutdown, Width: 1, Options: set(FieldShutdown)},
		),
		high: regmap.MustLayout("ALS_WH", regHighWindow, 2,
			regmap.Field{Name: fieldMSB, Width: 8},
			regmap.Field{Name: fieldLSB, Width: 8},
		),
		low: regmap.MustLayout("ALS_WL", regLowWindow, 2,
			regmap.Field{Name: fieldMSB, Width: 8},
			regmap.Field{Name: fieldLSB, Width: 8},
		),
		powerSave: regmap.MustLayout("PSM", regPowerSave, 1,
			regmap.Reserved(5),
			regmap.Field{Name: FieldPowerSaveMode, Width: 2, Options: set(FieldPowerSaveMode)},
			regmap.Field{Name: FieldPowerSaveEnable, Width: 1, Options: set(FieldPowerSaveEnable)},
		),
		interrupt: regmap.MustLayout("ALS_INT", regInterrupt, 2,
			regmap.Field{Name: flagLowWindow, Width: 1},
			regmap.Field{Name: flagHighWindow, Width: 1},
			regmap.Reserved(14),
		),
	}
	r.all = regmap.NewMap(r.config, r.high, r.low, r.powerSave, r.interrupt)
	r.refresh = refreshTable(t)
	return r
}

// Integration times usable with power save mode, and the power save wait for
// psm_1. Each further mode doubles the wait.
var (
	refreshIntegrationTimes = []struct {
		name string
		ms   int
	}{{"100ms", 100}, {"200ms", 200}, {"400ms", 400}, {"800ms", 800}}
	refreshModes = []string{"psm_1", "psm_2", "psm_3", "psm_4"}
)

const psmBaseWaitMs = 500

type refreshSetting struct {
	it  uint32
	psm uint32
}

// refreshTable derives the refresh time produced by every integration time
// and power save mode pair: refresh = IT + 500ms * 2^mode.
func refreshTable(t *regmap.Table) map[string]refreshSetting {
	table := make(map[string]refreshSetting, len(refreshIntegrationTimes)*len(refreshModes))
	for i, mode := range refreshModes {
		psm, err := t.Lookup(FieldPowerSaveMode, mode)
		if err != nil {
			panic(err)
		}
		for _, it := range refreshIntegrationTimes {
			code, err := t.Lookup(FieldIntegrationTime, it.name)
			if err != nil {
				panic(err)
			}
			ms := it.ms + psmBaseWaitMs<<i
			table[fmt.Sprintf("%dms", ms)] = refreshSetting{it: code, psm: psm}
		}
	}
	return table
}

// LookupRefresh returns the integration time and power save mode codes that
// produce the refresh time, such as "1100ms". The result only applies when
// power save mode is enabled.
func LookupRefresh(refresh string) (itCode, psmCode uint32, err error) {
	s, ok := refreshTable(Options())[refresh]
	if !ok {
		return 0, 0, &common.UnsupportedRefreshTimeError{Refresh: refresh}
	}
	return s.it, s.psm, nil
}

// RefreshTimes returns every supported refresh time, shortest first.
func RefreshTimes() []string {
	table := refreshTable(Options())
	names := make([]string, 0, len(table))
	for name := range table {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		var a, b int
		fmt.Sscanf(names[i], "%dms", &a)
		fmt.Sscanf(names[j], "%dms", &b)
		return a < b
	})
	return names
}

// Resolution is 0.0036 lx/count at gain 2x and 800ms, doubling for every
// halving of either the gain or the integration time.
const maxResolution = 0.0036

var (
	gainFactor = map[uint32]float64{0b01: 1, 0b00: 2, 0b11: 8, 0b10: 16}
	itFactor   = map[uint32]float64{0b0011: 1, 0b0010: 2, 0b0001: 4, 0b0000: 8, 0b1000: 16, 0b1100: 32}
)

// Resolution returns the lux per count for the gain and integration time
// codes.
func Resolution(gainCode, itCode uint32) (float64, error) {
	g, ok := gainFactor[gainCode]
	if !ok {
		return 0, &common.ConfigurationError{Field: FieldGain, Value: gainCode, Reason: "unknown gain code"}
	}
	i, ok := itFactor[itCode]
	if !ok {
		return 0, &common.ConfigurationError{Field: FieldIntegrationTime, Value: itCode, Reason: "unknown integration time code"}
	}
	return maxResolution * g * i, nil
}

// DecodeUnsignedCount returns the 16 bit count of a 2 byte, MSB first
// buffer. No sign handling is applied.
func DecodeUnsignedCount(raw []byte) (uint16, error) {
	if len(raw) != countRegLength {
		return 0, &common.ProtocolError{Want: countRegLength, Got: len(raw)}
	}
	return uint16(common.Unsigned(raw)), nil
}

// ToIlluminance converts a count to lux using resolution in lx/count.
func ToIlluminance(count uint16, resolution float64) float64 {
	return float64(count) * resolution
}
