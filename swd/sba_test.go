// Copyright 2025 The swd-rp2350 Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package swd

import "testing"

func TestSBAReadWriteWord(t *testing.T) {
	eng := newFakeEngine()
	sba := newSBAState(newDMState(newDAPState(eng, defaultRetryCount)))

	if err := sba.writeWord(0x20000000, 0xDEADBEEF); err != nil {
		t.Fatalf("writeWord: %v", err)
	}
	v, err := sba.readWord(0x20000000)
	if err != nil {
		t.Fatalf("readWord: %v", err)
	}
	if v != 0xDEADBEEF {
		t.Fatalf("readWord = 0x%x, want 0xDEADBEEF", v)
	}
}

func TestSBAAlignment(t *testing.T) {
	eng := newFakeEngine()
	sba := newSBAState(newDMState(newDAPState(eng, defaultRetryCount)))

	if _, err := sba.readWord(0x20000001); codeOf(err) != ErrAlignment {
		t.Fatalf("expected ErrAlignment for an unaligned read, got %v", err)
	}
	if err := sba.writeWord(0x20000002, 0); codeOf(err) != ErrAlignment {
		t.Fatalf("expected ErrAlignment for an unaligned write, got %v", err)
	}
}

// TestSBACheckerboard covers scenario S4: write a 256-word checkerboard
// pattern and read it back with a single autoincrementing block read.
func TestSBACheckerboard(t *testing.T) {
	eng := newFakeEngine()
	sba := newSBAState(newDMState(newDAPState(eng, defaultRetryCount)))

	const base = 0x20010000
	const n = 256
	for i := 0; i < n; i++ {
		want := uint32(0xAAAAAAAA)
		if i%2 == 1 {
			want = 0x55555555
		}
		if err := sba.writeWord(uint32(base+4*i), want); err != nil {
			t.Fatalf("writeWord[%d]: %v", i, err)
		}
	}

	got, err := sba.readBlock(base, n)
	if err != nil {
		t.Fatalf("readBlock: %v", err)
	}
	for i, v := range got {
		want := uint32(0xAAAAAAAA)
		if i%2 == 1 {
			want = 0x55555555
		}
		if v != want {
			t.Fatalf("word[%d] = 0x%x, want 0x%x", i, v, want)
		}
	}
}
