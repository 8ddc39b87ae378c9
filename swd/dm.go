// Copyright 2025 The swd-rp2350 Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package swd

import "time"

// dmState is the RISC-V Debug Module driver: it reads/writes DM registers
// through the fixed dmAPIndex MEM-AP, runs the abstract-command engine, and
// tracks which hart DMCONTROL.hartsel currently points at so redundant
// hartsel writes can be elided, mirroring dapState's SELECT cache.
type dmState struct {
	dap *dapState

	abstractBusyTimeout time.Duration
	powerupTimeout      time.Duration

	hartselValid bool
	lastHartsel  int

	dmactive bool
}

func newDMState(dap *dapState) *dmState {
	return &dmState{
		dap:                 dap,
		abstractBusyTimeout: 100 * time.Millisecond,
		powerupTimeout:      100 * time.Millisecond,
	}
}

func (d *dmState) readReg(offset uint32) (uint32, error) {
	return d.dap.readAP(dmAPIndex, bankOf(offset), regOf(offset))
}

func (d *dmState) writeReg(offset uint32, val uint32) error {
	return d.dap.writeAP(dmAPIndex, bankOf(offset), regOf(offset), val)
}

// bankOf/regOf split a DM register's AP-relative address into the AP's
// 4-bit bank select and 2-bit in-bank register field, the same banking
// convention generic MEM-AP windows use for any address wider than 4 bits.
func bankOf(offset uint32) uint8 { return uint8((offset >> 4) & 0xF) }
func regOf(offset uint32) uint8  { return uint8(offset & 0xC) }

// powerUp requests debug power (CDBGPWRUPREQ/CSYSPWRUPREQ), waits for both
// acks, then sets DMCONTROL.dmactive and confirms it reads back set. This is
// the mandatory sequence before any DM register other than DMCONTROL itself
// is touched.
func (d *dmState) powerUp() error {
	if err := d.dap.clearStickyErrors(); err != nil {
		return err
	}
	if _, err := d.dap.rawWrite(false, dpCTRLSTAT, ctrlStatCDBGPWRUPREQ|ctrlStatCSYSPWRUPREQ); err != nil {
		return err
	}
	deadline := time.Now().Add(d.powerupTimeout)
	for {
		v, err := d.dap.rawRead(false, dpCTRLSTAT)
		if err != nil {
			return err
		}
		if v&(ctrlStatCDBGPWRUPACK|ctrlStatCSYSPWRUPACK) == ctrlStatCDBGPWRUPACK|ctrlStatCSYSPWRUPACK {
			break
		}
		if time.Now().After(deadline) {
			return newError(ErrTimeout, "debug power-up ack timed out")
		}
		time.Sleep(50 * time.Microsecond)
	}
	d.dap.powered = true

	if err := d.writeReg(dmDMCONTROL, dmcontrolDMACTIVE); err != nil {
		return err
	}
	v, err := d.readReg(dmDMCONTROL)
	if err != nil {
		return err
	}
	if v&dmcontrolDMACTIVE == 0 {
		return newError(ErrNotInitialized, "DMCONTROL.dmactive did not stick")
	}
	d.dmactive = true
	d.hartselValid = false
	return nil
}

// selectHart writes DMCONTROL.hartsel if it differs from the cached value,
// preserving dmactive and leaving halt/resume request bits clear.
func (d *dmState) selectHart(hart int) error {
	if d.hartselValid && d.lastHartsel == hart {
		return nil
	}
	v := uint32(dmcontrolDMACTIVE) | (uint32(hart)<<hartselShift)&dmcontrolHARTSELLO
	if err := d.writeReg(dmDMCONTROL, v); err != nil {
		return err
	}
	d.hartselValid = true
	d.lastHartsel = hart
	return nil
}

// waitAbstractCommand polls ABSTRACTCS.busy, then inspects cmderr. A nonzero
// cmderr is cleared (write-1-to-clear across the whole field) before
// returning, so the next command starts from a clean state.
func (d *dmState) waitAbstractCommand() error {
	deadline := time.Now().Add(d.abstractBusyTimeout)
	var cs uint32
	for {
		v, err := d.readReg(dmABSTRACTCS)
		if err != nil {
			return err
		}
		cs = v
		if cs&abstractcsBUSY == 0 {
			break
		}
		if time.Now().After(deadline) {
			return newError(ErrTimeout, "abstract command busy-wait timed out")
		}
		time.Sleep(20 * time.Microsecond)
	}
	cmderr := (cs & abstractcsCMDERRMASK) >> abstractcsCMDERRSHIFT
	if cmderr == 0 {
		return nil
	}
	_ = d.writeReg(dmABSTRACTCS, abstractcsCMDERRMASK)
	return newError(ErrAbstractCommand, "abstract command cmderr=%d", cmderr)
}

// readAbstractReg reads one GPR/CSR/dpc value via the abstract-command
// engine: program DATA0 is not needed for a read, issue COMMAND, wait, then
// read DATA0.
func (d *dmState) readAbstractReg(regno uint32) (uint32, error) {
	cmd := uint32(cmdtypeAccessRegister) | aarsize32 | transferBit | regno
	if err := d.writeReg(dmCOMMAND, cmd); err != nil {
		return 0, err
	}
	if err := d.waitAbstractCommand(); err != nil {
		return 0, err
	}
	return d.readReg(dmDATA0)
}

// writeAbstractReg writes one GPR/CSR/dpc value: DATA0 first, then COMMAND
// with the write bit set.
func (d *dmState) writeAbstractReg(regno uint32, val uint32) error {
	if err := d.writeReg(dmDATA0, val); err != nil {
		return err
	}
	cmd := uint32(cmdtypeAccessRegister) | aarsize32 | transferBit | writeBit | regno
	if err := d.writeReg(dmCOMMAND, cmd); err != nil {
		return err
	}
	return d.waitAbstractCommand()
}

func (d *dmState) status() (uint32, error) {
	return d.readReg(dmDMSTATUS)
}
