// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package common

import "fmt"

// ConfigurationError is returned when a field value cannot be encoded: the
// field is unknown to the layout, missing, or the code doesn't fit its width.
type ConfigurationError struct {
	Field  string
	Value  any
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	if e.Value == nil {
		return fmt.Sprintf("configuration error: field %q: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("configuration error: field %q value %v: %s", e.Field, e.Value, e.Reason)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// UnknownRegisterError is returned when a register address has no declared
// layout.
type UnknownRegisterError struct {
	Register byte
}

func (e *UnknownRegisterError) Error() string {
	return fmt.Sprintf("unknown register 0x%02x", e.Register)
}

// UnknownOptionError is returned when a named option isn't registered for
// the field it was looked up in.
type UnknownOptionError struct {
	Field  string
	Option string
}

func (e *UnknownOptionError) Error() string {
	return fmt.Sprintf("unknown option %q for field %q", e.Option, e.Field)
}

// UnsupportedRefreshTimeError is returned when no integration time and power
// save mode pair produces the requested refresh time.
type UnsupportedRefreshTimeError struct {
	Refresh string
}

func (e *UnsupportedRefreshTimeError) Error() string {
	return fmt.Sprintf("unsupported refresh time %q", e.Refresh)
}

// BusError is a transport level failure. On reads it is considered transient
// and may be retried.
type BusError struct {
	Op       string
	Addr     uint16
	Register byte
	Err      error
}

func (e *BusError) Error() string {
	return fmt.Sprintf("bus error: %s addr 0x%02x reg 0x%02x: %v", e.Op, e.Addr, e.Register, e.Err)
}

func (e *BusError) Unwrap() error { return e.Err }

// ProtocolError is a non transient failure such as a malformed byte count.
// It is never retried.
type ProtocolError struct {
	Register byte
	Want     int
	Got      int
	Reason   string
}

func (e *ProtocolError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("protocol error: reg 0x%02x: %s", e.Register, e.Reason)
	}
	return fmt.Sprintf("protocol error: reg 0x%02x: want %d bytes, got %d", e.Register, e.Want, e.Got)
}

// RetryExhausted is returned when every attempt of a bounded read failed. Err
// holds the last failure.
type RetryExhausted struct {
	Addr     uint16
	Register byte
	Attempts int
	Err      error
}

func (e *RetryExhausted) Error() string {
	return fmt.Sprintf("read addr 0x%02x reg 0x%02x failed after %d attempts: %v", e.Addr, e.Register, e.Attempts, e.Err)
}

func (e *RetryExhausted) Unwrap() error { return e.Err }
