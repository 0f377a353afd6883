// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package regmap translates between named register fields and the raw bytes
// sent over the wire.
//
// A Layout lists the fields of one register from the most significant bit
// down, including reserved fillers, and Encode packs values into exactly
// Layout.Size bytes, most significant byte first. Codes that don't fit their
// field are rejected rather than truncated.
package regmap

import (
	"fmt"
	"sort"

	"github.com/GermanBionicSystems/envsensors/common"
)

// Field is a bit field within a register. A Field without a name is a
// reserved filler, always encoded as zeros.
type Field struct {
	Name    string
	Width   uint
	Options *OptionSet
}

// Reserved returns a filler of width bits.
func Reserved(width uint) Field {
	return Field{Width: width}
}

// IsReserved reports whether f is a filler.
func (f Field) IsReserved() bool {
	return f.Name == ""
}

// Layout describes one register.
type Layout struct {
	Name   string
	Addr   byte
	Size   int
	Fields []Field
}

// NewLayout returns a Layout after checking that the field widths add up to
// size bytes and that names are unique.
func NewLayout(name string, addr byte, size int, fields ...Field) (*Layout, error) {
	if size < 1 || size > 4 {
		return nil, fmt.Errorf("regmap: %s: invalid register size %d", name, size)
	}
	var total uint
	seen := make(map[string]bool, len(fields))
	for _, f := range fields {
		if f.Width == 0 {
			return nil, fmt.Errorf("regmap: %s: zero width field %q", name, f.Name)
		}
		if !f.IsReserved() {
			if seen[f.Name] {
				return nil, fmt.Errorf("regmap: %s: duplicate field %q", name, f.Name)
			}
			seen[f.Name] = true
		}
		total += f.Width
	}
	if total != uint(size)*8 {
		return nil, fmt.Errorf("regmap: %s: fields total %d bits, register is %d", name, total, size*8)
	}
	return &Layout{Name: name, Addr: addr, Size: size, Fields: fields}, nil
}

// MustLayout is like NewLayout but panics on error. It is meant for layouts
// built from constants.
func MustLayout(name string, addr byte, size int, fields ...Field) *Layout {
	l, err := NewLayout(name, addr, size, fields...)
	if err != nil {
		panic(err)
	}
	return l
}

// Field returns the named field.
func (l *Layout) Field(name string) (Field, bool) {
	for _, f := range l.Fields {
		if !f.IsReserved() && f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Value is either a raw code or a named option resolved through the field's
// OptionSet.
type Value struct {
	code  uint32
	name  string
	named bool
}

// Code returns a Value holding a pre-resolved code.
func Code(c uint32) Value {
	return Value{code: c}
}

// Named returns a Value holding an option name.
func Named(name string) Value {
	return Value{name: name, named: true}
}

func (v Value) String() string {
	if v.named {
		return v.name
	}
	return fmt.Sprintf("%#x", v.code)
}

// Values maps field names to values.
type Values map[string]Value

func (v Value) resolve(f Field) (uint32, error) {
	if !v.named {
		return v.code, nil
	}
	if f.Options == nil {
		return 0, &common.ConfigurationError{Field: f.Name, Value: v.name, Reason: "field has no named options"}
	}
	code, err := f.Options.Lookup(v.name)
	if err != nil {
		return 0, &common.ConfigurationError{Field: f.Name, Value: v.name, Reason: "unknown option", Err: err}
	}
	return code, nil
}

// Encode packs values into the bytes of register l. Every named field of the
// layout must have a value, and no value may name a field the layout doesn't
// declare.
func Encode(l *Layout, values Values) ([]byte, error) {
	unknown := make([]string, 0)
	for name := range values {
		if _, ok := l.Field(name); !ok {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, &common.ConfigurationError{Field: unknown[0], Reason: "not a field of " + l.Name}
	}

	var word uint64
	for _, f := range l.Fields {
		word <<= f.Width
		if f.IsReserved() {
			continue
		}
		v, ok := values[f.Name]
		if !ok {
			return nil, &common.ConfigurationError{Field: f.Name, Reason: "missing value"}
		}
		code, err := v.resolve(f)
		if err != nil {
			return nil, err
		}
		if uint64(code) >= 1<<f.Width {
			return nil, &common.ConfigurationError{Field: f.Name, Value: code, Reason: fmt.Sprintf("does not fit in %d bits", f.Width)}
		}
		word |= uint64(code)
	}

	raw := make([]byte, l.Size)
	for i := range raw {
		raw[i] = byte(word >> (8 * uint(l.Size-1-i)))
	}
	return raw, nil
}

// Decode unpacks raw into the codes of each named field of l.
func Decode(l *Layout, raw []byte) (map[string]uint32, error) {
	if len(raw) != l.Size {
		return nil, &common.ProtocolError{Register: l.Addr, Want: l.Size, Got: len(raw)}
	}
	word := uint64(common.Unsigned(raw))
	codes := make(map[string]uint32, len(l.Fields))
	shift := uint(l.Size) * 8
	for _, f := range l.Fields {
		shift -= f.Width
		if f.IsReserved() {
			continue
		}
		codes[f.Name] = uint32(word>>shift) & (1<<f.Width - 1)
	}
	return codes, nil
}

// DecodeFlags returns the state of every named single bit field of l. All
// other bits are ignored.
func DecodeFlags(l *Layout, raw []byte) (map[string]bool, error) {
	codes, err := Decode(l, raw)
	if err != nil {
		return nil, err
	}
	flags := make(map[string]bool)
	for _, f := range l.Fields {
		if f.IsReserved() || f.Width != 1 {
			continue
		}
		flags[f.Name] = codes[f.Name] == 1
	}
	return flags, nil
}

// Map is the set of register layouts of a device, keyed by address.
type Map struct {
	layouts map[byte]*Layout
}

// NewMap returns a Map of layouts.
func NewMap(layouts ...*Layout) *Map {
	m := &Map{layouts: make(map[byte]*Layout, len(layouts))}
	for _, l := range layouts {
		m.layouts[l.Addr] = l
	}
	return m
}

// Layout returns the layout of the register at addr.
func (m *Map) Layout(addr byte) (*Layout, error) {
	l, ok := m.layouts[addr]
	if !ok {
		return nil, &common.UnknownRegisterError{Register: addr}
	}
	return l, nil
}
