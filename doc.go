// Copyright 2021 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package envsensors is a container for the drivers of a small environmental
// sensor node: a VEML7700 ambient light sensor and an XGZP pressure and
// temperature sensor sharing one I²C bus.
//
// The register bit-field codec lives in regmap, the bus access and read retry
// policy in regbus, and the error types shared by all of them in common.
package envsensors
