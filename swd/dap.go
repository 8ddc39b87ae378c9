// Copyright 2025 The swd-rp2350 Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package swd

import "time"

// DP register addresses (A[3:2] field of the request header).
const (
	dpIDCODE   = 0x0 // read
	dpABORT    = 0x0 // write
	dpCTRLSTAT = 0x4 // read/write, banked by DPBANKSEL
	dpSELECT   = 0x8 // write
	dpRDBUFF   = 0xC // read
)

// CTRL/STAT sticky error bits, set-to-clear.
const (
	ctrlStatSTICKYORUN = 1 << 1
	ctrlStatSTICKYCMP  = 1 << 4
	ctrlStatSTICKYERR  = 1 << 5
	ctrlStatWDATAERR   = 1 << 7
	ctrlStatCDBGPWRUPREQ = 1 << 28
	ctrlStatCDBGPWRUPACK  = 1 << 29
	ctrlStatCSYSPWRUPREQ  = 1 << 30
	ctrlStatCSYSPWRUPACK  = 1 << 31
)

// selectKey is the (APSEL, bank, CTRLSEL) triple that determines the SELECT
// register's value. Caching on this key is what lets the transactor elide
// redundant SELECT writes (testable property: the SELECT write-count over
// any sequence is <= the number of distinct triples touched).
type selectKey struct {
	apsel   uint8
	bank    uint8
	ctrlSel bool
}

func (k selectKey) word() uint32 {
	w := uint32(k.apsel)<<24 | uint32(k.bank)<<4
	if k.ctrlSel {
		w |= 1
	}
	return w
}

// dapState is the DAP substate: the live SELECT cache, whether CDBGPWRUPREQ/
// CSYSPWRUPREQ have been requested, and the retry budget for WAIT ACKs.
type dapState struct {
	eng engine

	selectValid bool
	lastSelect  selectKey

	powered    bool
	retryCount int

	needsLineReset bool
}

func newDAPState(eng engine, retryCount int) *dapState {
	return &dapState{eng: eng, retryCount: retryCount}
}

// header builds the 8-bit SWD request header for the given APnDP/RnW/addr.
func header(apndp bool, rnw bool, addr uint8) byte {
	h := reqStart | reqPark
	if apndp {
		h |= reqAPnDP
	}
	if rnw {
		h |= reqRnW
	}
	if addr&0x4 != 0 {
		h |= reqAddr2
	}
	if addr&0x8 != 0 {
		h |= reqAddr3
	}
	// Header parity covers APnDP, RnW and the address bits.
	p := (h & (reqAPnDP | reqRnW | reqAddr2 | reqAddr3))
	if parityOfByte(p) {
		h |= reqParK
	}
	return h
}

func parityOfByte(b byte) bool {
	b ^= b >> 4
	b ^= b >> 2
	b ^= b >> 1
	return b&1 != 0
}

// ensureSelect writes SELECT only if k differs from the cached value.
func (d *dapState) ensureSelect(k selectKey) error {
	if d.selectValid && d.lastSelect == k {
		return nil
	}
	if _, err := d.rawWrite(false, dpSELECT, k.word()); err != nil {
		return err
	}
	d.selectValid = true
	d.lastSelect = k
	return nil
}

// clearStickyErrors reads CTRL/STAT and writes the sticky-error bits back
// as set-to-clear, per the FAULT recovery procedure.
func (d *dapState) clearStickyErrors() error {
	v, err := d.rawRead(false, dpCTRLSTAT)
	if err != nil {
		return err
	}
	clear := v | ctrlStatSTICKYORUN | ctrlStatSTICKYCMP | ctrlStatSTICKYERR | ctrlStatWDATAERR
	_, err = d.rawWrite(false, dpCTRLSTAT, clear)
	return err
}

// rawWrite performs one write transaction with WAIT retry and FAULT
// recovery, but no SELECT management (callers that touch banked/AP
// registers must call ensureSelect first).
func (d *dapState) rawWrite(apndp bool, addr uint8, data uint32) (bool, error) {
	h := header(apndp, false, addr)
	attempt := 0
	for {
		ack, _, _, err := d.eng.transact(h, true, data)
		if err != nil {
			d.needsLineReset = true
			return false, err
		}
		switch ack {
		case ackOK:
			return true, nil
		case ackWait:
			attempt++
			if attempt >= d.retryCount {
				return false, newError(ErrWait, "WAIT retry exhausted after %d attempts", attempt)
			}
			d.idleDelay()
			continue
		case ackFault:
			if err := d.clearStickyErrors(); err != nil {
				return false, err
			}
			return false, newError(ErrTargetFault, "FAULT on write addr 0x%x", addr)
		default:
			d.needsLineReset = true
			d.selectValid = false
			return false, newError(ErrProtocol, "unexpected ACK 0x%x", ack)
		}
	}
}

// rawRead performs one read transaction with WAIT retry and FAULT recovery.
func (d *dapState) rawRead(apndp bool, addr uint8) (uint32, error) {
	h := header(apndp, true, addr)
	attempt := 0
	for {
		ack, data, parityOK, err := d.eng.transact(h, false, 0)
		if err != nil {
			d.needsLineReset = true
			return 0, err
		}
		switch ack {
		case ackOK:
			if !parityOK {
				return 0, newError(ErrParity, "parity mismatch reading addr 0x%x", addr)
			}
			return data, nil
		case ackWait:
			attempt++
			if attempt >= d.retryCount {
				return 0, newError(ErrWait, "WAIT retry exhausted after %d attempts", attempt)
			}
			d.idleDelay()
			continue
		case ackFault:
			if err := d.clearStickyErrors(); err != nil {
				return 0, err
			}
			return 0, newError(ErrTargetFault, "FAULT on read addr 0x%x", addr)
		default:
			d.needsLineReset = true
			d.selectValid = false
			return 0, newError(ErrProtocol, "unexpected ACK 0x%x", ack)
		}
	}
}

func (d *dapState) idleDelay() {
	time.Sleep(100 * time.Microsecond)
}

// readDP reads a DP register, selecting the right DPBANKSEL bank first when
// addr is the banked CTRL/STAT register.
func (d *dapState) readDP(addr uint8, bank uint8) (uint32, error) {
	if addr == dpCTRLSTAT && bank != 0 {
		if err := d.ensureSelect(selectKey{apsel: d.lastSelect.apsel, bank: bank, ctrlSel: true}); err != nil {
			return 0, err
		}
	}
	return d.rawRead(false, addr)
}

// writeDP writes a DP register.
func (d *dapState) writeDP(addr uint8, val uint32) error {
	_, err := d.rawWrite(false, addr, val)
	return err
}

// readAP performs a posted AP register read: the first AP read returns the
// previous transaction's result, so this issues a dummy AP read and then
// collects the real value from DP RDBUFF, per the posted-read design.
func (d *dapState) readAP(apsel uint8, bank uint8, reg uint8) (uint32, error) {
	if err := d.ensureSelect(selectKey{apsel: apsel, bank: bank}); err != nil {
		return 0, err
	}
	if _, err := d.rawRead(true, reg); err != nil {
		return 0, err
	}
	return d.rawRead(false, dpRDBUFF)
}

// writeAP writes an AP register. Writes are not posted: each write
// completes before the next request is issued.
func (d *dapState) writeAP(apsel uint8, bank uint8, reg uint8, val uint32) error {
	if err := d.ensureSelect(selectKey{apsel: apsel, bank: bank}); err != nil {
		return err
	}
	_, err := d.rawWrite(true, reg, val)
	return err
}
