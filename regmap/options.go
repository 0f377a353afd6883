// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package regmap

import (
	"sort"

	"github.com/GermanBionicSystems/envsensors/common"
)

// OptionSet maps the named options of a single register field to their bit
// codes. Each field owns its own set, so identical names in two fields never
// collide.
type OptionSet struct {
	field string
	codes map[string]uint32
}

// NewOptionSet returns an OptionSet for field. The options map is copied.
func NewOptionSet(field string, options map[string]uint32) *OptionSet {
	codes := make(map[string]uint32, len(options))
	for name, code := range options {
		codes[name] = code
	}
	return &OptionSet{field: field, codes: codes}
}

// Field returns the name of the field the set belongs to.
func (o *OptionSet) Field() string {
	return o.field
}

// Lookup returns the code for the named option.
func (o *OptionSet) Lookup(name string) (uint32, error) {
	code, ok := o.codes[name]
	if !ok {
		return 0, &common.UnknownOptionError{Field: o.field, Option: name}
	}
	return code, nil
}

// Name returns the option name registered for code.
func (o *OptionSet) Name(code uint32) (string, bool) {
	for name, c := range o.codes {
		if c == code {
			return name, true
		}
	}
	return "", false
}

// Names returns the registered option names in sorted order.
func (o *OptionSet) Names() []string {
	names := make([]string, 0, len(o.codes))
	for name := range o.codes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Table groups the option sets of a device, keyed by field name.
type Table struct {
	sets map[string]*OptionSet
}

// NewTable returns a Table holding sets.
func NewTable(sets ...*OptionSet) *Table {
	t := &Table{sets: make(map[string]*OptionSet, len(sets))}
	for _, s := range sets {
		t.sets[s.field] = s
	}
	return t
}

// Set returns the option set of field.
func (t *Table) Set(field string) (*OptionSet, bool) {
	s, ok := t.sets[field]
	return s, ok
}

// Lookup returns the code of option within field.
func (t *Table) Lookup(field, option string) (uint32, error) {
	s, ok := t.sets[field]
	if !ok {
		return 0, &common.UnknownOptionError{Field: field, Option: option}
	}
	return s.Lookup(option)
}
