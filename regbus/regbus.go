// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package regbus provides register level access to I²C devices sharing one
// bus, with scoped exclusive access for multi register reads and a bounded
// retry policy for reads.
package regbus

import (
	"context"
	"fmt"
	"sync"

	"periph.io/x/conn/v3/i2c"

	"github.com/GermanBionicSystems/envsensors/common"
)

// Transport reads and writes device registers.
type Transport interface {
	ReadRegister(ctx context.Context, addr uint16, reg byte, n int) ([]byte, error)
	WriteRegister(ctx context.Context, addr uint16, reg byte, data []byte) error
}

// Bus is a Transport over a periph i2c.Bus. A single Bus should be shared by
// all devices on the same physical bus so that Exclusive serializes them.
type Bus struct {
	b  i2c.Bus
	mu sync.Mutex
}

// New returns a Bus using b.
func New(b i2c.Bus) *Bus {
	return &Bus{b: b}
}

// ReadRegister reads n bytes starting at reg.
func (bus *Bus) ReadRegister(ctx context.Context, addr uint16, reg byte, n int) ([]byte, error) {
	bus.mu.Lock()
	defer bus.mu.Unlock()
	return locked{bus}.ReadRegister(ctx, addr, reg, n)
}

// WriteRegister writes data starting at reg.
func (bus *Bus) WriteRegister(ctx context.Context, addr uint16, reg byte, data []byte) error {
	bus.mu.Lock()
	defer bus.mu.Unlock()
	return locked{bus}.WriteRegister(ctx, addr, reg, data)
}

// Exclusive runs fn while holding the bus. Register operations done through
// the Transport passed to fn aren't interleaved with any other user of the
// Bus. The bus is released when fn returns, whatever the outcome.
//
// The Transport passed to fn must not be used after fn returns.
func (bus *Bus) Exclusive(ctx context.Context, fn func(t Transport) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	bus.mu.Lock()
	defer bus.mu.Unlock()
	return fn(locked{bus})
}

func (bus *Bus) String() string {
	return fmt.Sprintf("regbus: %s", bus.b)
}

// locked performs register operations with the Bus mutex already held.
type locked struct {
	bus *Bus
}

func (l locked) ReadRegister(ctx context.Context, addr uint16, reg byte, n int) ([]byte, error) {
	if n <= 0 {
		return nil, &common.ProtocolError{Register: reg, Reason: fmt.Sprintf("invalid read length %d", n)}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r := make([]byte, n)
	if err := l.bus.b.Tx(addr, []byte{reg}, r); err != nil {
		return nil, &common.BusError{Op: "read", Addr: addr, Register: reg, Err: err}
	}
	return r, nil
}

func (l locked) WriteRegister(ctx context.Context, addr uint16, reg byte, data []byte) error {
	if len(data) == 0 {
		return &common.ProtocolError{Register: reg, Reason: "empty write"}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	w := make([]byte, 0, len(data)+1)
	w = append(w, reg)
	w = append(w, data...)
	if err := l.bus.b.Tx(addr, w, nil); err != nil {
		return &common.BusError{Op: "write", Addr: addr, Register: reg, Err: err}
	}
	return nil
}

var _ Transport = &Bus{}
var _ Transport = locked{}
