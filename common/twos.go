// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package common contains functions and error types used across multiple
// packages. For example, two's complement reconstruction of sensor outputs.
package common

import "math"

// NoRounding disables rounding in Round.
const NoRounding = -1

// Unsigned assembles bytes most significant first into an unsigned integer.
func Unsigned(raw []byte) uint32 {
	var v uint32
	for _, b := range raw {
		v = v<<8 | uint32(b)
	}
	return v
}

// SignExtend interprets the low width bits of value as a two's complement
// number. If the sign bit is set, 2^width is subtracted.
func SignExtend(value uint32, width uint) int32 {
	if value >= 1<<(width-1) {
		return int32(int64(value) - 1<<width)
	}
	return int32(value)
}

// Signed16 returns the two's complement value of a 2 byte, MSB first buffer.
func Signed16(raw []byte) (int32, error) {
	if len(raw) != 2 {
		return 0, &ProtocolError{Want: 2, Got: len(raw)}
	}
	return SignExtend(Unsigned(raw), 16), nil
}

// Signed24 returns the two's complement value of a 3 byte, MSB first buffer.
func Signed24(raw []byte) (int32, error) {
	if len(raw) != 3 {
		return 0, &ProtocolError{Want: 3, Got: len(raw)}
	}
	return SignExtend(Unsigned(raw), 24), nil
}

// Round rounds v to places decimal places. A negative places returns v
// unchanged.
func Round(v float64, places int) float64 {
	if places < 0 {
		return v
	}
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
