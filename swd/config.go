// Copyright 2025 The swd-rp2350 Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package swd

import "periph.io/x/conn/v3/physic"

// Auto requests automatic selection of a PIO block or state machine index
// during Target creation, instead of a fixed value.
const Auto = -1

const (
	minFreqKHz = 100
	maxFreqKHz = 2000

	defaultFreqKHz    = 1000
	defaultRetryCount = 5

	numPIOBlocks      = 2
	numStateMachines  = 4
)

// Config configures a Target before creation. Use DefaultConfig to obtain a
// Config with sensible defaults and then override only the fields that
// matter (pins are mandatory and have no default).
type Config struct {
	// PIOBlock selects which PIO block (0 or 1) to reserve, or Auto to pick
	// the first block with a free state machine.
	PIOBlock int
	// StateMachine selects which state machine (0..3) within PIOBlock to
	// reserve, or Auto to pick the first free one.
	StateMachine int
	// PinSWCLK and PinSWDIO are the GPIO indices driving the SWD clock and
	// data lines. Mandatory.
	PinSWCLK int
	PinSWDIO int
	// FreqKHz is the SWCLK frequency in kHz, in [100, 2000]. Defaults to 1000.
	FreqKHz int
	// EnableCaching enables the per-hart register cache (PC and GPRs). DAP
	// SELECT write-elision is always on and does not depend on it. Defaults
	// to true.
	EnableCaching bool
	// RetryCount bounds WAIT-ACK handling in the DAP transactor: a
	// transaction that receives RetryCount WAIT responses in a row fails
	// with ErrWait. Defaults to 5.
	RetryCount int
}

// DefaultConfig returns a Config with the library's documented defaults:
// 1 MHz SWCLK, caching enabled, 5 WAIT retries, automatic PIO/SM selection.
// PinSWCLK and PinSWDIO are left unset (-1) and must be assigned before use.
func DefaultConfig() Config {
	return Config{
		PIOBlock:      Auto,
		StateMachine:  Auto,
		PinSWCLK:      Auto,
		PinSWDIO:      Auto,
		FreqKHz:       defaultFreqKHz,
		EnableCaching: true,
		RetryCount:    defaultRetryCount,
	}
}

// normalize fills in zero-valued optional fields with their defaults and
// validates the configuration. PIOBlock and StateMachine are returned as
// given, Auto included; Auto is resolved when the registry reserves a slot.
// Pin fields are not defaulted: any negative pin index, Auto included, is a
// configuration error.
func (c Config) normalize() (Config, error) {
	out := c
	if out.FreqKHz == 0 {
		out.FreqKHz = defaultFreqKHz
	}
	if out.RetryCount == 0 {
		out.RetryCount = defaultRetryCount
	}
	if out.FreqKHz < minFreqKHz || out.FreqKHz > maxFreqKHz {
		return Config{}, newError(ErrInvalidConfiguration,
			"freq_khz %d out of range [%d, %d]", out.FreqKHz, minFreqKHz, maxFreqKHz)
	}
	if out.PinSWCLK < 0 {
		return Config{}, newError(ErrInvalidConfiguration, "pin_swclk is mandatory")
	}
	if out.PinSWDIO < 0 {
		return Config{}, newError(ErrInvalidConfiguration, "pin_swdio is mandatory")
	}
	if out.PinSWCLK == out.PinSWDIO {
		return Config{}, newError(ErrInvalidConfiguration, "pin_swclk and pin_swdio must differ")
	}
	if out.PIOBlock != Auto && (out.PIOBlock < 0 || out.PIOBlock >= numPIOBlocks) {
		return Config{}, newError(ErrInvalidConfiguration, "pio_block %d out of range", out.PIOBlock)
	}
	if out.StateMachine != Auto && (out.StateMachine < 0 || out.StateMachine >= numStateMachines) {
		return Config{}, newError(ErrInvalidConfiguration, "state_machine %d out of range", out.StateMachine)
	}
	return out, nil
}

// frequency returns the configured SWCLK rate as a physic.Frequency, the
// unit the line engine's clock divider computation works in.
func (c Config) frequency() physic.Frequency {
	return physic.Frequency(c.FreqKHz) * physic.KiloHertz
}
