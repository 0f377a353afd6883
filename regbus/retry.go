// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package regbus

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/GermanBionicSystems/envsensors/common"
)

// Policy bounds the retries of a register read.
type Policy struct {
	// MaxAttempts is the total number of reads tried, including the first one.
	// Values below 1 are treated as 1.
	MaxAttempts int
	// Backoff is the pause between two attempts.
	Backoff time.Duration
	// Logger receives one entry per failed attempt. nil uses slog.Default().
	Logger *slog.Logger
}

// DefaultPolicy tolerates a loosely seated sensor without stalling a caller
// for long.
var DefaultPolicy = Policy{
	MaxAttempts: 5,
	Backoff:     10 * time.Millisecond,
}

func (p Policy) logger() *slog.Logger {
	if p.Logger == nil {
		return slog.Default()
	}
	return p.Logger
}

// ReadWithRetry reads n bytes from reg, retrying bus errors up to
// p.MaxAttempts times. A protocol error, including a reply of the wrong
// length, is returned immediately. Cancelling ctx stops the retries.
func ReadWithRetry(ctx context.Context, t Transport, addr uint16, reg byte, n int, p Policy) ([]byte, error) {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	var last error
	for attempt := 1; attempt <= attempts; attempt++ {
		raw, err := t.ReadRegister(ctx, addr, reg, n)
		if err == nil {
			if len(raw) != n {
				return nil, &common.ProtocolError{Register: reg, Want: n, Got: len(raw)}
			}
			return raw, nil
		}
		var be *common.BusError
		if !errors.As(err, &be) {
			return nil, err
		}
		last = err
		p.logger().Warn("register read failed",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", attempts),
			slog.Int("addr", int(addr)),
			slog.Int("reg", int(reg)),
			slog.String("error", err.Error()))
		if attempt == attempts {
			break
		}
		if err := sleep(ctx, p.Backoff); err != nil {
			return nil, err
		}
	}
	return nil, &common.RetryExhausted{Addr: addr, Register: reg, Attempts: attempts, Err: last}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
