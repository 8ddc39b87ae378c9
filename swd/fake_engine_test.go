// Copyright 2025 The swd-rp2350 Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package swd

import "sync"

// hartSim is one simulated hart's visible state inside fakeEngine.
type hartSim struct {
	halted    bool
	resumeAck bool
	pc        uint32
	gpr       [numGPRs]uint32
	dcsr      uint32
	csr       map[uint32]uint32
}

// fakeEngine is a software model of a DP, a single MEM-AP-shaped Debug
// Module window, and a system bus memory, standing in for real silicon the
// way d2xxtest.Fake stands in for a physical FTDI chip. It implements engine
// so dapState, dmState, sbaState and hartState can be driven in tests
// without any GPIO hardware.
type fakeEngine struct {
	mu sync.Mutex

	idcode   uint32
	ctrlStat uint32

	selectAPSel uint8
	selectBank  uint8
	rdbuff      uint32

	dmcontrol uint32
	curHart   int
	cmderr    uint32
	data0     uint32

	sbcs    uint32
	sberror uint32
	sbAddr  uint32
	mem     map[uint32]uint32

	harts [numHarts]hartSim

	forceWaitCount int
	forceFaultOnce bool

	lineResetCount int
	wakeupCount    int
	freqKHz        int

	transactCount int
	selectWrites  int
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		idcode: 0x2BA01477,
		mem:    map[uint32]uint32{},
	}
}

func (e *fakeEngine) setFrequency(freqKHz int) error {
	if freqKHz < minFreqKHz || freqKHz > maxFreqKHz {
		return newError(ErrInvalidConfiguration, "freq_khz %d out of range", freqKHz)
	}
	e.freqKHz = freqKHz
	return nil
}

func (e *fakeEngine) lineReset() error {
	e.lineResetCount++
	return nil
}

func (e *fakeEngine) wakeup() error {
	e.wakeupCount++
	return nil
}

// injectWait makes the next n transactions return ackWait before any real
// register effect, for exercising the WAIT-retry budget.
func (e *fakeEngine) injectWait(n int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.forceWaitCount = n
}

// injectFault makes the next transaction return ackFault once.
func (e *fakeEngine) injectFault() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.forceFaultOnce = true
}

func (e *fakeEngine) transact(h byte, isWrite bool, data uint32) (byte, uint32, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.transactCount++

	if e.forceWaitCount > 0 {
		e.forceWaitCount--
		return ackWait, 0, true, nil
	}
	if e.forceFaultOnce {
		e.forceFaultOnce = false
		return ackFault, 0, true, nil
	}

	apndp := h&reqAPnDP != 0
	rnw := h&reqRnW != 0
	var reg byte
	if h&reqAddr2 != 0 {
		reg |= 0x4
	}
	if h&reqAddr3 != 0 {
		reg |= 0x8
	}

	if !apndp {
		switch reg {
		case dpIDCODE: // same address as dpABORT; rnw disambiguates
			if rnw {
				return ackOK, e.idcode, true, nil
			}
			return ackOK, 0, true, nil
		case dpCTRLSTAT:
			if rnw {
				return ackOK, e.ctrlStat, true, nil
			}
			const stickyMask = ctrlStatSTICKYORUN | ctrlStatSTICKYCMP | ctrlStatSTICKYERR | ctrlStatWDATAERR
			v := data &^ uint32(stickyMask)
			if data&ctrlStatCDBGPWRUPREQ != 0 {
				v |= ctrlStatCDBGPWRUPACK
			}
			if data&ctrlStatCSYSPWRUPREQ != 0 {
				v |= ctrlStatCSYSPWRUPACK
			}
			e.ctrlStat = v
			return ackOK, 0, true, nil
		case dpSELECT:
			e.selectWrites++
			e.selectAPSel = uint8(data >> 24)
			e.selectBank = uint8((data >> 4) & 0xF)
			return ackOK, 0, true, nil
		case dpRDBUFF:
			return ackOK, e.rdbuff, true, nil
		}
		return ackOK, 0, true, nil
	}

	// AP access. dmAPIndex is the only AP this package ever selects; its
	// (bank, reg) pair is read directly as a Debug Module register offset,
	// bypassing any TAR/DRW windowing.
	offset := uint32(e.selectBank)<<4 | uint32(reg)
	if rnw {
		v := e.readDM(offset)
		e.rdbuff = v
		return ackOK, v, true, nil
	}
	e.writeDM(offset, data)
	return ackOK, 0, true, nil
}

func (e *fakeEngine) readDM(offset uint32) uint32 {
	switch offset {
	case dmDMCONTROL:
		return e.dmcontrol
	case dmDMSTATUS:
		return e.dmstatus()
	case dmABSTRACTCS:
		return e.cmderr << abstractcsCMDERRSHIFT
	case dmDATA0:
		return e.data0
	case dmSBCS:
		return e.sbcs | (e.sberror << sbcsSBERRORSHIFT)
	case dmSBDATA0:
		return e.sbaReadData()
	}
	return 0
}

func (e *fakeEngine) writeDM(offset uint32, v uint32) {
	switch offset {
	case dmDMCONTROL:
		e.applyDMCONTROL(v)
	case dmABSTRACTCS:
		if v&abstractcsCMDERRMASK != 0 {
			e.cmderr = 0
		}
	case dmCOMMAND:
		e.execCommand(v)
	case dmDATA0:
		e.data0 = v
	case dmSBCS:
		if v&sbcsSBERRORMASK != 0 {
			e.sberror = 0
		}
		e.sbcs = v &^ uint32(sbcsSBERRORMASK|sbcsSBBUSY)
	case dmSBADDRESS0:
		e.sbAddr = v
	case dmSBDATA0:
		e.sbaWriteData(v)
	}
}

func (e *fakeEngine) dmstatus() uint32 {
	h := e.harts[e.curHart]
	var v uint32
	if h.halted {
		v |= dmstatusALLHALTED
	} else {
		v |= dmstatusALLRUNNING
	}
	if h.resumeAck {
		v |= dmstatusALLRESUMEACK
	}
	return v
}

func (e *fakeEngine) applyDMCONTROL(v uint32) {
	hartsel := int((v & dmcontrolHARTSELLO) >> hartselShift)
	if hartsel < 0 || hartsel >= numHarts {
		hartsel = 0
	}
	e.curHart = hartsel
	e.dmcontrol = v

	if v&dmcontrolNDMRESET != 0 {
		for i := range e.harts {
			e.harts[i] = hartSim{}
		}
		return
	}
	if v&(dmcontrolHALTREQ|dmcontrolRESUMEREQ) != 0 {
		e.harts[hartsel].resumeAck = false
	}
	if v&dmcontrolHALTREQ != 0 {
		e.harts[hartsel].halted = true
	}
	if v&dmcontrolRESUMEREQ != 0 {
		if e.harts[hartsel].dcsr&dcsrSTEP != 0 {
			e.harts[hartsel].pc += 4
			e.harts[hartsel].halted = true
		} else {
			e.harts[hartsel].halted = false
		}
		e.harts[hartsel].resumeAck = true
	}
}

func (e *fakeEngine) execCommand(cmd uint32) {
	regno := cmd & 0xFFFF
	write := cmd&writeBit != 0
	hart := &e.harts[e.curHart]

	if !hart.halted {
		e.cmderr = 4
		return
	}

	switch {
	case regno >= regnoGPRBase && regno < regnoGPRBase+numGPRs:
		idx := regno - regnoGPRBase
		if write {
			if idx != 0 {
				hart.gpr[idx] = e.data0
			}
		} else {
			e.data0 = hart.gpr[idx]
		}
	case regno == regnoDPC:
		if write {
			hart.pc = e.data0
		} else {
			e.data0 = hart.pc
		}
	case regno == csrDCSR:
		if write {
			hart.dcsr = e.data0
		} else {
			e.data0 = hart.dcsr
		}
	default:
		if hart.csr == nil {
			hart.csr = map[uint32]uint32{}
		}
		if write {
			hart.csr[regno] = e.data0
		} else {
			e.data0 = hart.csr[regno]
		}
	}
	e.cmderr = 0
}

func (e *fakeEngine) sbaReadData() uint32 {
	v := e.mem[e.sbAddr]
	if e.sbcs&sbcsSBAUTOINCR != 0 {
		e.sbAddr += 4
	}
	return v
}

func (e *fakeEngine) sbaWriteData(v uint32) {
	e.mem[e.sbAddr] = v
	if e.sbcs&sbcsSBAUTOINCR != 0 {
		e.sbAddr += 4
	}
}

// newTestTarget wires a Target directly on top of a fakeEngine, bypassing
// New's GPIO pin resolution and PIO/state-machine registry reservation.
func newTestTarget(eng *fakeEngine) *Target {
	cfg, _ := Config{
		PIOBlock: 0, StateMachine: 0,
		PinSWCLK: 0, PinSWDIO: 1,
		FreqKHz: defaultFreqKHz, EnableCaching: true, RetryCount: defaultRetryCount,
	}.normalize()

	t := &Target{cfg: cfg}
	t.eng = eng
	t.dap = newDAPState(eng, cfg.RetryCount)
	t.dm = newDMState(t.dap)
	t.sba = newSBAState(t.dm)
	for i := range t.hart {
		t.hart[i] = newHartState(cfg.EnableCaching)
	}
	return t
}
