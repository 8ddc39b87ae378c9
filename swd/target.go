// Copyright 2025 The swd-rp2350 Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package swd

import (
	"fmt"
	"sync"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
)

const numHarts = 2

var _ conn.Resource = &Target{}

// Target is a handle to one RP2350 debug connection: a reserved PIO/state
// machine slot, the DAP transactor built on top of it, the Debug Module
// driver, and the per-hart state the library caches on top of both. The
// zero value is not usable; construct one with New.
type Target struct {
	mu sync.Mutex

	cfg  Config
	slot slot

	eng  engine
	dap  *dapState
	dm   *dmState
	sba  *sbaState
	hart [numHarts]*hartState

	connected bool
	lastErr   *Error
}

// New validates cfg, reserves a PIO/state-machine slot, resolves the
// configured pins, and returns a disconnected Target. Call Connect before
// issuing any DAP or DM operation.
func New(cfg Config) (*Target, error) {
	cfg, err := cfg.normalize()
	if err != nil {
		return nil, err
	}

	clk := gpioreg.ByName(fmt.Sprintf("GPIO%d", cfg.PinSWCLK))
	if clk == nil {
		return nil, newError(ErrInvalidConfiguration, "pin GPIO%d not found", cfg.PinSWCLK)
	}
	dio := gpioreg.ByName(fmt.Sprintf("GPIO%d", cfg.PinSWDIO))
	if dio == nil {
		return nil, newError(ErrInvalidConfiguration, "pin GPIO%d not found", cfg.PinSWDIO)
	}
	if err := clk.Out(gpio.Low); err != nil {
		return nil, newError(ErrInvalidConfiguration, "pin GPIO%d cannot drive output: %v", cfg.PinSWCLK, err)
	}

	t := &Target{cfg: cfg}
	s, err := globalRegistry.reserve(t, cfg.PIOBlock, cfg.StateMachine)
	if err != nil {
		return nil, err
	}
	t.slot = s
	t.cfg.PIOBlock = s.pio
	t.cfg.StateMachine = s.sm

	eng := newBitbangEngine(clk, dio, cfg.FreqKHz)
	t.eng = eng
	t.dap = newDAPState(eng, cfg.RetryCount)
	t.dm = newDMState(t.dap)
	t.sba = newSBAState(t.dm)
	for i := range t.hart {
		t.hart[i] = newHartState(cfg.EnableCaching)
	}
	return t, nil
}

// String implements conn.Resource.
func (t *Target) String() string {
	return fmt.Sprintf("swd.Target{pio%d sm%d swclk=GPIO%d swdio=GPIO%d}",
		t.cfg.PIOBlock, t.cfg.StateMachine, t.cfg.PinSWCLK, t.cfg.PinSWDIO)
}

// record remembers err as the Target's last error, for LastErrorDetail. It
// must be called while t.mu is held and is a no-op for nil or foreign
// errors. It always returns err unchanged, so callers can wrap a return
// statement with it.
func (t *Target) record(err error) error {
	if e, ok := err.(*Error); ok {
		t.lastErr = e
	}
	return err
}

// LastErrorDetail returns the detail string of the most recent *Error any
// operation on this Target returned, or "" if none has failed yet.
func (t *Target) LastErrorDetail() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.lastErr == nil {
		return ""
	}
	return t.lastErr.Detail
}

// Halt implements conn.Resource: it disconnects the SWD link without
// releasing the reserved PIO/state-machine slot, so the Target can be
// reconnected later without contending for resources again. This is
// distinct from HaltHart, which halts a RISC-V hart.
func (t *Target) Halt() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connected = false
	return nil
}

// Close disconnects (if connected) and releases the PIO/state-machine slot.
// The Target must not be used after Close.
func (t *Target) Close() error {
	t.mu.Lock()
	t.connected = false
	t.mu.Unlock()
	globalRegistry.release(t, t.slot)
	return nil
}

// Connect performs the SWD wakeup sequence, reads and discards the target's
// IDCODE to confirm the link is alive, and powers up the Debug Module.
func (t *Target) Connect() (err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	defer func() { t.record(err) }()

	if err = t.eng.wakeup(); err != nil {
		return err
	}
	t.dap.selectValid = false
	if _, err = t.dap.rawRead(false, dpIDCODE); err != nil {
		return err
	}
	if err = t.dm.powerUp(); err != nil {
		return err
	}
	t.connected = true
	return nil
}

// Disconnect clears the DP's debug power request bits and marks the link
// disconnected, leaving the slot reserved.
func (t *Target) Disconnect() (err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	defer func() { t.record(err) }()

	t.connected = false
	_, err = t.dap.rawWrite(false, dpCTRLSTAT, 0)
	return err
}

// IsConnected reports whether Connect has succeeded and Halt/Disconnect has
// not since been called.
func (t *Target) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

// ReadIDCODE reads the DP IDCODE register.
func (t *Target) ReadIDCODE() (v uint32, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	defer func() { t.record(err) }()

	v, err = t.dap.rawRead(false, dpIDCODE)
	return v, err
}

// Info returns a short human-readable description of the connection,
// including pin assignment and slot, for logging and diagnostics.
func (t *Target) Info() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	state := "disconnected"
	if t.connected {
		state = "connected"
	}
	return fmt.Sprintf("%s (%s, %s, retry=%d)", t.String(), state, t.cfg.frequency(), t.cfg.RetryCount)
}

// SetFrequency reprograms the SWCLK rate.
func (t *Target) SetFrequency(freqKHz int) (err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	defer func() { t.record(err) }()

	if err = t.eng.setFrequency(freqKHz); err != nil {
		return err
	}
	t.cfg.FreqKHz = freqKHz
	return nil
}

// GetFrequency returns the currently configured SWCLK rate in kHz.
func (t *Target) GetFrequency() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cfg.FreqKHz
}

func (t *Target) hartByIndex(hart int) (*hartState, error) {
	if hart < 0 || hart >= numHarts {
		return nil, newError(ErrInvalidParameter, "hart index %d out of range", hart)
	}
	return t.hart[hart], nil
}

// HaltHart halts the given hart and waits for it to report halted.
func (t *Target) HaltHart(hart int) (err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	defer func() { t.record(err) }()

	hs, err := t.hartByIndex(hart)
	if err != nil {
		return err
	}
	if err = t.dm.selectHart(hart); err != nil {
		return err
	}
	return hs.halt(t.dm)
}

// ResumeHart resumes the given hart.
func (t *Target) ResumeHart(hart int) (err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	defer func() { t.record(err) }()

	hs, err := t.hartByIndex(hart)
	if err != nil {
		return err
	}
	if err = t.dm.selectHart(hart); err != nil {
		return err
	}
	return hs.resume(t.dm)
}

// StepHart single-steps the given hart by one instruction.
func (t *Target) StepHart(hart int) (err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	defer func() { t.record(err) }()

	hs, err := t.hartByIndex(hart)
	if err != nil {
		return err
	}
	if err = t.dm.selectHart(hart); err != nil {
		return err
	}
	return hs.step(t.dm)
}

// ResetHart asserts and releases NDMRESET, affecting both harts as the
// hardware reset domain is shared, but tracked per-hart since each Target
// side keeps independent halt/resume bookkeeping.
func (t *Target) ResetHart(hart int) (err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	defer func() { t.record(err) }()

	hs, err := t.hartByIndex(hart)
	if err != nil {
		return err
	}
	if err = t.dm.selectHart(hart); err != nil {
		return err
	}
	return hs.reset(t.dm)
}

// ReadPC reads the halted hart's program counter (the dpc CSR).
func (t *Target) ReadPC(hart int) (v uint32, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	defer func() { t.record(err) }()

	hs, err := t.hartByIndex(hart)
	if err != nil {
		return 0, err
	}
	if hs.state != haltHalted {
		return 0, newError(ErrNotHalted, "hart %d not halted", hart)
	}
	if hs.cacheEnabled && hs.pcValid {
		return hs.pc, nil
	}
	if err = t.dm.selectHart(hart); err != nil {
		return 0, err
	}
	v, err = t.dm.readAbstractReg(regnoDPC)
	if err != nil {
		return 0, err
	}
	if hs.cacheEnabled {
		hs.pc = v
		hs.pcValid = true
	}
	return v, nil
}

// WritePC writes the halted hart's program counter.
func (t *Target) WritePC(hart int, val uint32) (err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	defer func() { t.record(err) }()

	hs, err := t.hartByIndex(hart)
	if err != nil {
		return err
	}
	if hs.state != haltHalted {
		return newError(ErrNotHalted, "hart %d not halted", hart)
	}
	if err = t.dm.selectHart(hart); err != nil {
		return err
	}
	if err = t.dm.writeAbstractReg(regnoDPC, val); err != nil {
		return err
	}
	hs.pcValid = false
	return nil
}

// ReadReg reads GPR n (0..31) of the given halted hart.
func (t *Target) ReadReg(hart int, n int) (v uint32, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	defer func() { t.record(err) }()

	hs, err := t.hartByIndex(hart)
	if err != nil {
		return 0, err
	}
	if n < 0 || n >= numGPRs {
		return 0, newError(ErrInvalidParameter, "register index %d out of range", n)
	}
	if n == 0 {
		return 0, nil
	}
	if hs.state != haltHalted {
		return 0, newError(ErrNotHalted, "hart %d not halted", hart)
	}
	if hs.cacheEnabled && hs.gprValid[n] {
		return hs.gpr[n], nil
	}
	if err = t.dm.selectHart(hart); err != nil {
		return 0, err
	}
	v, err = t.dm.readAbstractReg(regnoGPRBase + uint32(n))
	if err != nil {
		return 0, err
	}
	if hs.cacheEnabled {
		hs.gpr[n] = v
		hs.gprValid[n] = true
	}
	return v, nil
}

// WriteReg writes GPR n (1..31; x0 cannot be written) of the given halted
// hart.
func (t *Target) WriteReg(hart int, n int, val uint32) (err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	defer func() { t.record(err) }()

	hs, err := t.hartByIndex(hart)
	if err != nil {
		return err
	}
	if n <= 0 || n >= numGPRs {
		return newError(ErrInvalidParameter, "register index %d out of range", n)
	}
	if hs.state != haltHalted {
		return newError(ErrNotHalted, "hart %d not halted", hart)
	}
	if err = t.dm.selectHart(hart); err != nil {
		return err
	}
	if err = t.dm.writeAbstractReg(regnoGPRBase+uint32(n), val); err != nil {
		return err
	}
	hs.invalidateReg(n)
	return nil
}

// ReadAllRegs reads all 32 GPRs of the given halted hart.
func (t *Target) ReadAllRegs(hart int) ([32]uint32, error) {
	var out [32]uint32
	for i := 0; i < numGPRs; i++ {
		v, err := t.ReadReg(hart, i)
		if err != nil {
			return out, err
		}
		out[i] = v
	}
	return out, nil
}

// ReadCSR reads an arbitrary CSR (0x000..0xFFF) of the given halted hart.
// CSR reads are never cached: too many CSRs (mcycle, time) are volatile.
func (t *Target) ReadCSR(hart int, csr uint16) (v uint32, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	defer func() { t.record(err) }()

	hs, err := t.hartByIndex(hart)
	if err != nil {
		return 0, err
	}
	if hs.state != haltHalted {
		return 0, newError(ErrNotHalted, "hart %d not halted", hart)
	}
	if err = t.dm.selectHart(hart); err != nil {
		return 0, err
	}
	v, err = t.dm.readAbstractReg(uint32(csr))
	return v, err
}

// WriteCSR writes an arbitrary CSR of the given halted hart.
func (t *Target) WriteCSR(hart int, csr uint16, val uint32) (err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	defer func() { t.record(err) }()

	hs, err := t.hartByIndex(hart)
	if err != nil {
		return err
	}
	if hs.state != haltHalted {
		return newError(ErrNotHalted, "hart %d not halted", hart)
	}
	if err = t.dm.selectHart(hart); err != nil {
		return err
	}
	return t.dm.writeAbstractReg(uint32(csr), val)
}

// ReadMem32 reads one 32-bit word from the target's memory via System Bus
// Access; it does not require any hart to be halted.
func (t *Target) ReadMem32(addr uint32) (v uint32, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	defer func() { t.record(err) }()

	v, err = t.sba.readWord(addr)
	return v, err
}

// WriteMem32 writes one 32-bit word to the target's memory via System Bus
// Access.
func (t *Target) WriteMem32(addr uint32, val uint32) (err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	defer func() { t.record(err) }()

	err = t.sba.writeWord(addr, val)
	return err
}

// ReadMem32Block reads n consecutive 32-bit words starting at addr.
func (t *Target) ReadMem32Block(addr uint32, n int) (v []uint32, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	defer func() { t.record(err) }()

	v, err = t.sba.readBlock(addr, n)
	return v, err
}
