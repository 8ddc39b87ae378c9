// Copyright 2025 The swd-rp2350 Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package swd

import "testing"

// TestConnectReadIDCODE covers scenario S1: after the wakeup sequence, the
// target's IDCODE must be readable and the power-up sequence must succeed.
func TestConnectReadIDCODE(t *testing.T) {
	eng := newFakeEngine()
	eng.idcode = 0x0BC12477
	tg := newTestTarget(eng)

	if err := tg.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if !tg.IsConnected() {
		t.Fatalf("IsConnected() = false after a successful Connect")
	}
	if eng.wakeupCount != 1 {
		t.Fatalf("wakeup called %d times, want 1", eng.wakeupCount)
	}

	id, err := tg.ReadIDCODE()
	if err != nil {
		t.Fatalf("ReadIDCODE: %v", err)
	}
	if id != 0x0BC12477 {
		t.Fatalf("ReadIDCODE() = 0x%x, want 0x0BC12477", id)
	}
}

// TestExecuteOnHart1 covers scenario S3: a program can be halted, stepped,
// and read back entirely through hart index 1 without ever touching hart 0.
func TestExecuteOnHart1(t *testing.T) {
	eng := newFakeEngine()
	tg := newTestTarget(eng)
	if err := tg.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	if err := tg.HaltHart(1); err != nil {
		t.Fatalf("HaltHart(1): %v", err)
	}
	if err := tg.WriteReg(1, 1, 0x40000000); err != nil {
		t.Fatalf("WriteReg(1,1): %v", err)
	}
	if err := tg.WritePC(1, 0x10000000); err != nil {
		t.Fatalf("WritePC(1): %v", err)
	}
	if err := tg.StepHart(1); err != nil {
		t.Fatalf("StepHart(1): %v", err)
	}

	pc, err := tg.ReadPC(1)
	if err != nil {
		t.Fatalf("ReadPC(1): %v", err)
	}
	if pc != 0x10000004 {
		t.Fatalf("ReadPC(1) = 0x%x, want 0x10000004", pc)
	}
	reg1, err := tg.ReadReg(1, 1)
	if err != nil {
		t.Fatalf("ReadReg(1,1): %v", err)
	}
	if reg1 != 0x40000000 {
		t.Fatalf("ReadReg(1,1) = 0x%x, want 0x40000000", reg1)
	}

	if st := tg.hart[0].state; st == haltHalted {
		t.Fatalf("hart 0 was unexpectedly touched")
	}
}

func TestLastErrorDetailRecorded(t *testing.T) {
	eng := newFakeEngine()
	tg := newTestTarget(eng)
	if err := tg.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	if got := tg.LastErrorDetail(); got != "" {
		t.Fatalf("LastErrorDetail() = %q before any failure, want empty", got)
	}

	if err := tg.HaltHart(5); codeOf(err) != ErrInvalidParameter {
		t.Fatalf("expected ErrInvalidParameter, got %v", err)
	}
	if got := tg.LastErrorDetail(); got == "" {
		t.Fatalf("LastErrorDetail() empty after a recorded failure")
	}
}

func TestResourceBusyOnExplicitSlotConflict(t *testing.T) {
	globalRegistry = registry{owner: map[slot]*Target{}}
	a, err := newTestTargetWithRealRegistry(0, 0)
	if err != nil {
		t.Fatalf("first reservation: %v", err)
	}
	defer a.Close()

	_, err = newTestTargetWithRealRegistry(0, 0)
	if codeOf(err) != ErrResourceBusy {
		t.Fatalf("expected ErrResourceBusy on conflicting slot, got %v", err)
	}
}

// newTestTargetWithRealRegistry exercises the real registry reservation path
// (unlike newTestTarget, which bypasses it) without requiring real GPIO
// pins, by reserving directly and wiring a fakeEngine afterward.
func newTestTargetWithRealRegistry(pio, sm int) (*Target, error) {
	t := &Target{cfg: Config{PIOBlock: pio, StateMachine: sm, FreqKHz: defaultFreqKHz, RetryCount: defaultRetryCount}}
	s, err := globalRegistry.reserve(t, pio, sm)
	if err != nil {
		return nil, err
	}
	t.slot = s
	eng := newFakeEngine()
	t.eng = eng
	t.dap = newDAPState(eng, defaultRetryCount)
	t.dm = newDMState(t.dap)
	t.sba = newSBAState(t.dm)
	for i := range t.hart {
		t.hart[i] = newHartState(true)
	}
	return t, nil
}
