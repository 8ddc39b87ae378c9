// Copyright 2025 The swd-rp2350 Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package swd

import "time"

// haltState is a hart's last-known run state, tracked so redundant halt/
// resume requests and stale reads can be rejected without a round trip.
type haltState int

const (
	haltUnknown haltState = iota
	haltRunning
	haltHalted
)

const numGPRs = 32

// hartState tracks one hart's run state and the per-hart register cache the
// library keeps when Config.EnableCaching is set. A cache entry is filled by
// a read while the hart is halted; any halt, resume, step or reset
// invalidates every entry, and a write invalidates just the written entry.
type hartState struct {
	state haltState

	cacheEnabled bool
	pcValid      bool
	pc           uint32
	gprValid     [numGPRs]bool
	gpr          [numGPRs]uint32

	haltTimeout  time.Duration
	resumeTimeout time.Duration
	stepTimeout   time.Duration
}

func newHartState(cacheEnabled bool) *hartState {
	return &hartState{
		cacheEnabled:  cacheEnabled,
		haltTimeout:   200 * time.Millisecond,
		resumeTimeout: 200 * time.Millisecond,
		stepTimeout:   200 * time.Millisecond,
	}
}

func (h *hartState) invalidateCache() {
	h.pcValid = false
	for i := range h.gprValid {
		h.gprValid[i] = false
	}
}

func (h *hartState) invalidateReg(n int) {
	if n == 0 {
		// x0 is hardwired to zero; never cached as dirty.
		return
	}
	h.gprValid[n] = false
}

// halt requests a halt on the currently selected hart (dm.selectHart must
// already have been called) and waits for DMSTATUS.allhalted. Halting an
// already-halted hart is a no-op that returns ErrAlreadyHalted, matching the
// documented idempotency rule: repeated halt requests are safe but report
// the redundant call.
func (h *hartState) halt(dm *dmState) error {
	if h.state == haltHalted {
		return newError(ErrAlreadyHalted, "hart already halted")
	}
	if err := dm.writeReg(dmDMCONTROL, dmcontrolDMACTIVE|dmcontrolHALTREQ|hartselBits(dm)); err != nil {
		return err
	}
	deadline := time.Now().Add(h.haltTimeout)
	for {
		v, err := dm.status()
		if err != nil {
			return err
		}
		if v&dmstatusALLHALTED != 0 {
			break
		}
		if v&dmstatusANYUNAVAIL != 0 {
			return newError(ErrTargetFault, "hart unavailable while halting")
		}
		if time.Now().After(deadline) {
			return newError(ErrTimeout, "halt request timed out")
		}
		time.Sleep(20 * time.Microsecond)
	}
	// Clear haltreq once halted, per the v0.13.2 state machine: leaving it
	// set would re-assert halt immediately after any resume.
	if err := dm.writeReg(dmDMCONTROL, dmcontrolDMACTIVE|hartselBits(dm)); err != nil {
		return err
	}
	h.state = haltHalted
	h.invalidateCache()
	return nil
}

// resume requests resume and waits for allresumeack, then invalidates the
// register cache (the hart may have changed every register by the time the
// next halt happens).
func (h *hartState) resume(dm *dmState) error {
	if h.state != haltHalted {
		return newError(ErrNotHalted, "hart not halted")
	}
	if err := dm.writeReg(dmDMCONTROL, dmcontrolDMACTIVE|dmcontrolRESUMEREQ|hartselBits(dm)); err != nil {
		return err
	}
	deadline := time.Now().Add(h.resumeTimeout)
	for {
		v, err := dm.status()
		if err != nil {
			return err
		}
		if v&dmstatusALLRESUMEACK != 0 {
			break
		}
		if time.Now().After(deadline) {
			return newError(ErrTimeout, "resume request timed out")
		}
		time.Sleep(20 * time.Microsecond)
	}
	h.state = haltRunning
	h.invalidateCache()
	return nil
}

// step performs a single-step: set dcsr.step, resume, wait for the re-halt
// that single-step causes, then clear dcsr.step again. The register cache
// is invalidated exactly as on a resume, since one instruction can change
// any register.
func (h *hartState) step(dm *dmState) error {
	if h.state != haltHalted {
		return newError(ErrNotHalted, "hart not halted")
	}
	dcsr, err := dm.readAbstractReg(csrDCSR)
	if err != nil {
		return err
	}
	if err := dm.writeAbstractReg(csrDCSR, dcsr|dcsrSTEP); err != nil {
		return err
	}
	if err := dm.writeReg(dmDMCONTROL, dmcontrolDMACTIVE|dmcontrolRESUMEREQ|hartselBits(dm)); err != nil {
		return err
	}
	deadline := time.Now().Add(h.stepTimeout)
	for {
		v, err := dm.status()
		if err != nil {
			return err
		}
		if v&dmstatusALLHALTED != 0 {
			break
		}
		if time.Now().After(deadline) {
			return newError(ErrTimeout, "single-step timed out")
		}
		time.Sleep(20 * time.Microsecond)
	}
	if err := dm.writeReg(dmDMCONTROL, dmcontrolDMACTIVE|hartselBits(dm)); err != nil {
		return err
	}
	dcsr, err = dm.readAbstractReg(csrDCSR)
	if err == nil {
		_ = dm.writeAbstractReg(csrDCSR, dcsr&^uint32(dcsrSTEP))
	}
	h.state = haltHalted
	h.invalidateCache()
	return nil
}

// reset asserts NDMRESET, holds it briefly, then deasserts it, per the
// documented "debug module controlled reset" path. The hart's run state
// becomes unknown until the caller re-halts or observes DMSTATUS directly.
func (h *hartState) reset(dm *dmState) error {
	if err := dm.writeReg(dmDMCONTROL, dmcontrolDMACTIVE|dmcontrolNDMRESET); err != nil {
		return err
	}
	time.Sleep(1 * time.Millisecond)
	if err := dm.writeReg(dmDMCONTROL, dmcontrolDMACTIVE); err != nil {
		return err
	}
	h.state = haltUnknown
	h.invalidateCache()
	return nil
}

// hartselBits returns the current hartsel field already shifted into place,
// for commands that must be issued alongside haltreq/resumereq (those writes
// bypass dm.selectHart's cache since they OR in extra control bits).
func hartselBits(dm *dmState) uint32 {
	return (uint32(dm.lastHartsel) << hartselShift) & dmcontrolHARTSELLO
}
