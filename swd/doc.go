// Copyright 2025 The swd-rp2350 Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package swd implements an on-device Serial Wire Debug host for RP2350-class
// RISC-V targets.
//
// A Target drives two GPIO pins (SWCLK, SWDIO) through a pluggable line
// engine to speak the SWD bit protocol, layers the Arm-style Debug Access
// Port (DP/AP) transaction model on top, and on top of that the RISC-V
// External Debug Support v0.13.2 Debug Module used to halt, step, resume
// and inspect either of the target's two harts.
//
// Basic usage:
//
//	cfg := swd.DefaultConfig()
//	cfg.PinSWCLK, cfg.PinSWDIO = 2, 3
//	t, err := swd.New(cfg)
//	if err != nil {
//		// handle error
//	}
//	defer t.Close()
//
//	if err := t.Connect(); err != nil {
//		// handle error
//	}
//	if err := t.HaltHart(0); err != nil {
//		// handle error
//	}
package swd
