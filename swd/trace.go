// Copyright 2025 The swd-rp2350 Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package swd

// TraceEntry is one instruction-trace step: the PC it was fetched from, the
// raw 32-bit word read from memory at that PC (reported as fetched, with no
// compressed-instruction decoding; a PC that is not 4-byte aligned ends the
// trace with ErrAlignment), and (only when TraceOptions.CaptureGPRs is set)
// a snapshot of all 32 general registers.
type TraceEntry struct {
	PC          uint32
	Instruction uint32
	GPRs        *[32]uint32
}

// TraceCallback is invoked once per traced step. UserData is passed through
// unexamined; returning stop == true ends the trace early, matching the
// function-pointer-plus-user-data callback shape used throughout the
// library's re-architected public surface.
type TraceCallback func(userData interface{}, entry TraceEntry) (stop bool)

// TraceOptions configures Trace.
type TraceOptions struct {
	// MaxSteps bounds how many instructions Trace single-steps through.
	MaxSteps int
	// CaptureGPRs, when true, populates TraceEntry.GPRs on every step. This
	// costs 31 additional abstract-command reads per step (x1..x31; x0 is
	// reported as 0 without a read).
	CaptureGPRs bool
	// SuppressInterrupts, when true, sets dcsr.stepie clear so interrupts do
	// not fire between single-steps. Defaults to false: interrupts are
	// allowed to interleave with the trace, matching the hart's normal
	// runtime behavior as closely as a single-stepped trace can.
	SuppressInterrupts bool
	UserData interface{}
}

const dcsrSTEPIE = 1 << 11

// Trace single-steps the given hart up to MaxSteps times, reading the PC and
// the 32-bit instruction word at that PC before each step and invoking cb
// with the result. The hart must already be halted; Trace returns the
// number of entries delivered to cb and leaves the hart halted at its final
// position, whether MaxSteps was reached, the callback requested an early
// stop, or an error interrupted the loop partway through a step. When cb
// requests an early stop, the instruction of that last entry is not stepped,
// so the count is one more than the number of single-steps executed.
//
// cb is invoked with the Target's lock released, not held, so it may call
// back into other Target methods for the current hart (read/write a
// register, inspect memory) without deadlocking. It must not call Trace
// itself or otherwise re-enter this trace.
func (t *Target) Trace(hart int, cb TraceCallback, opts TraceOptions) (int, error) {
	t.mu.Lock()
	hs, err := t.hartByIndex(hart)
	if err != nil {
		t.mu.Unlock()
		return 0, err
	}
	if hs.state != haltHalted {
		t.mu.Unlock()
		return 0, newError(ErrNotHalted, "hart %d not halted", hart)
	}
	if err := t.dm.selectHart(hart); err != nil {
		t.mu.Unlock()
		return 0, err
	}

	if opts.SuppressInterrupts {
		dcsr, err := t.dm.readAbstractReg(csrDCSR)
		if err != nil {
			t.mu.Unlock()
			return 0, err
		}
		if err := t.dm.writeAbstractReg(csrDCSR, dcsr&^uint32(dcsrSTEPIE)); err != nil {
			t.mu.Unlock()
			return 0, err
		}
	}

	steps := 0
	for steps < opts.MaxSteps {
		pc, err := t.dm.readAbstractReg(regnoDPC)
		if err != nil {
			t.mu.Unlock()
			return steps, err
		}
		instr, err := t.sba.readWord(pc)
		if err != nil {
			t.mu.Unlock()
			return steps, err
		}
		entry := TraceEntry{PC: pc, Instruction: instr}
		if opts.CaptureGPRs {
			var gprs [32]uint32
			for i := 1; i < numGPRs; i++ {
				v, err := t.dm.readAbstractReg(regnoGPRBase + uint32(i))
				if err != nil {
					t.mu.Unlock()
					return steps, err
				}
				gprs[i] = v
			}
			entry.GPRs = &gprs
		}

		steps++

		t.mu.Unlock()
		stop := cb != nil && cb(opts.UserData, entry)
		t.mu.Lock()
		if stop {
			t.mu.Unlock()
			return steps, nil
		}

		if err := hs.step(t.dm); err != nil {
			t.mu.Unlock()
			return steps, err
		}
	}
	t.mu.Unlock()
	return steps, nil
}
