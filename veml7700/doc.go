// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package veml7700 provides a driver for the Vishay VEML7700 I²C ambient
// light sensor.
//
// Configuration is done with named options, scoped per field:
//
//	gain:             1x, 2x, 1/8x, 1/4x
//	integration_time: 25ms, 50ms, 100ms, 200ms, 400ms, 800ms
//	persistence:      protect_1, protect_2, protect_4, protect_8
//	interrupt_enable: int_disable, int_enable
//	shutdown:         als_on, als_down
//	psm:              psm_1, psm_2, psm_3, psm_4
//	psm_enable:       psm_disable, psm_enable
//
// Range: 0 - 120 klx
//
// Resolution: 0.0036 lx/count at gain 2x and 800ms integration time.
//
// For detailed information, refer to the [datasheet].
//
// [datasheet]: https://www.vishay.com/docs/84286/veml7700.pdf
package veml7700
