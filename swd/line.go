// Copyright 2025 The swd-rp2350 Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package swd

import (
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
)

// ACK values returned by the target on the SWD ACK phase, LSB first.
const (
	ackOK    byte = 0x1
	ackWait  byte = 0x2
	ackFault byte = 0x4
)

// SWD request header bit positions (LSB first on the wire).
const (
	reqStart byte = 1 << 0
	reqAPnDP byte = 1 << 1
	reqRnW   byte = 1 << 2
	reqAddr2 byte = 1 << 3
	reqAddr3 byte = 1 << 4
	reqParK  byte = 1 << 5 // header parity
	reqStop  byte = 1 << 6 // always 0
	reqPark  byte = 1 << 7 // always 1
)

// engine is the single primitive the line driver is built on: clock one SWD
// packet. Alternative back ends (bit-banged GPIO, a PIO program, a
// USB-attached probe) implement this interface; the rest of the package
// never talks to hardware directly.
type engine interface {
	// transact clocks a full SWD transaction: the 8-bit header, turnaround,
	// 3-bit ACK, and (depending on isWrite and the returned ack) the 32-bit
	// data phase with parity. data is the value to write when isWrite is
	// true; it is ignored for reads. rdata is valid only when ack == ackOK.
	transact(header byte, isWrite bool, data uint32) (ack byte, rdata uint32, parityOK bool, err error)
	// lineReset drives >=50 clocks with DIO high followed by >=2 idle clocks.
	lineReset() error
	// wakeup emits the JTAG-to-Dormant then Dormant-to-SWD selection alert
	// sequences from ADIv5.2.
	wakeup() error
	// setFrequency reprograms the clock rate. freqKHz is already validated
	// to be in [100, 2000].
	setFrequency(freqKHz int) error
}

// bitbangEngine is the production engine: it drives SWCLK and SWDIO as two
// plain GPIO pins in a tight software loop. On real RP2350 firmware this
// role is played by a PIO state machine instead; engine exists precisely so
// that substitution is a one-line change (see newBitbangEngine vs the
// fakeEngine used in tests).
type bitbangEngine struct {
	clk gpio.PinIO
	dio gpio.PinIO

	halfPeriod time.Duration
}

func newBitbangEngine(clk, dio gpio.PinIO, freqKHz int) *bitbangEngine {
	e := &bitbangEngine{clk: clk, dio: dio}
	_ = e.setFrequency(freqKHz)
	return e
}

// setFrequency recomputes the half-clock-period delay. Two clock edges
// (high then low) produce one SCK edge-pair, so the delay applies to each
// edge, not the whole cycle.
func (e *bitbangEngine) setFrequency(freqKHz int) error {
	if freqKHz < minFreqKHz || freqKHz > maxFreqKHz {
		return newError(ErrInvalidConfiguration, "freq_khz %d out of range", freqKHz)
	}
	f := physic.Frequency(freqKHz) * physic.KiloHertz
	period := time.Second * time.Duration(physic.Hertz) / time.Duration(f)
	e.halfPeriod = period / 2
	return nil
}

func (e *bitbangEngine) delay() {
	if e.halfPeriod > 0 {
		time.Sleep(e.halfPeriod)
	}
}

// clockBit drives one SCK rising+falling edge. If out != nil, DIO is driven
// to *out for the duration of the clock. It never samples DIO; clockBitIn
// does that. DIO must already be set to the right direction
// by the caller (Out/In) before calling clockBit for a sustained run of bits.
func (e *bitbangEngine) clockBit(out *gpio.Level) {
	if out != nil {
		_ = e.dio.Out(*out)
	}
	e.delay()
	_ = e.clk.Out(gpio.High)
	e.delay()
	_ = e.clk.Out(gpio.Low)
}

func (e *bitbangEngine) clockBitIn() gpio.Level {
	e.delay()
	_ = e.clk.Out(gpio.High)
	v := e.dio.Read()
	e.delay()
	_ = e.clk.Out(gpio.Low)
	return v
}

func (e *bitbangEngine) writeBits(v uint32, n int) {
	_ = e.dio.Out(gpio.Low)
	for i := 0; i < n; i++ {
		bit := gpio.Level((v>>uint(i))&1 != 0)
		e.clockBit(&bit)
	}
}

func (e *bitbangEngine) readBits(n int) uint32 {
	var v uint32
	_ = e.dio.In(gpio.Float, gpio.NoEdge)
	for i := 0; i < n; i++ {
		if e.clockBitIn() {
			v |= 1 << uint(i)
		}
	}
	return v
}

func parity32(v uint32) byte {
	p := v
	p ^= p >> 16
	p ^= p >> 8
	p ^= p >> 4
	p ^= p >> 2
	p ^= p >> 1
	return byte(p) & 1
}

// transact implements engine.
func (e *bitbangEngine) transact(header byte, isWrite bool, data uint32) (byte, uint32, bool, error) {
	e.writeBits(uint32(header), 8)

	// Turnaround: one clock with DIO tristated.
	_ = e.dio.In(gpio.Float, gpio.NoEdge)
	e.delay()
	_ = e.clk.Out(gpio.High)
	e.delay()
	_ = e.clk.Out(gpio.Low)

	ack := byte(e.readBits(3))
	switch ack {
	case ackOK, ackWait, ackFault:
	default:
		e.idle(8)
		return ack, 0, false, newError(ErrProtocol, "unexpected ACK 0x%x", ack)
	}
	if ack != ackOK {
		// No data phase follows a WAIT or FAULT response.
		if isWrite {
			// Turnaround back to host-drive before idle.
			_ = e.dio.In(gpio.Float, gpio.NoEdge)
			e.delay()
			_ = e.clk.Out(gpio.High)
			e.delay()
			_ = e.clk.Out(gpio.Low)
		}
		e.idle(8)
		return ack, 0, true, nil
	}

	if isWrite {
		// Turnaround, then 32 data bits + parity.
		_ = e.dio.In(gpio.Float, gpio.NoEdge)
		e.delay()
		_ = e.clk.Out(gpio.High)
		e.delay()
		_ = e.clk.Out(gpio.Low)

		e.writeBits(data, 32)
		p := gpio.Level(parity32(data) != 0)
		e.clockBit(&p)
		e.idle(8)
		return ack, 0, true, nil
	}

	rdata := e.readBits(32)
	parityBit := e.clockBitIn()
	parityOK := byte(boolToBit(bool(parityBit))) == parity32(rdata)
	// Turnaround back to host-drive.
	e.delay()
	_ = e.clk.Out(gpio.High)
	e.delay()
	_ = e.clk.Out(gpio.Low)
	e.idle(8)
	return ack, rdata, parityOK, nil
}

func boolToBit(b bool) int {
	if b {
		return 1
	}
	return 0
}

// idle drives n clocks with DIO low, per the "at least 8 idle clocks after
// every transaction" rule.
func (e *bitbangEngine) idle(n int) {
	_ = e.dio.Out(gpio.Low)
	for i := 0; i < n; i++ {
		e.delay()
		_ = e.clk.Out(gpio.High)
		e.delay()
		_ = e.clk.Out(gpio.Low)
	}
}

// lineReset implements engine: >=50 cycles with DIO high, then >=2 idle
// clocks.
func (e *bitbangEngine) lineReset() error {
	_ = e.dio.Out(gpio.High)
	for i := 0; i < 50; i++ {
		e.delay()
		_ = e.clk.Out(gpio.High)
		e.delay()
		_ = e.clk.Out(gpio.Low)
	}
	e.idle(2)
	return nil
}

// dormantSelectionAlert is the 128-bit selection alert sequence from
// ADIv5.2 that precedes the Dormant-to-SWD activation code.
var dormantSelectionAlert = [...]uint32{
	0x6209F392, 0x86852D95, 0xE3DDAFE9, 0x19BC0EA2,
}

// dormantActivationSWDCode is the 16-bit SWD activation code that wakeup
// sends, after 4 line-low cycles, following the selection alert while in
// Dormant state.
const dormantActivationSWDCode = 0x1A01

// wakeup implements engine: JTAG-to-Dormant then Dormant-to-SWD, emitted
// bit-for-bit as ADIv5.2 specifies.
func (e *bitbangEngine) wakeup() error {
	// JTAG-to-Dormant: >= 50 cycles high, then the 16-bit 0xE3BC code LSB
	// first, all while DIO is driven by the host.
	if err := e.lineReset(); err != nil {
		return err
	}
	e.writeBits(0xE3BC, 16)

	// Dormant-to-SWD: the 128-bit selection alert sequence, LSB-first word
	// by word, then 4 cycles low, then the 16-bit activation code, then a
	// standard line reset and >=2 idle cycles.
	for _, w := range dormantSelectionAlert {
		e.writeBits(w, 32)
	}
	e.writeBits(0, 4)
	e.writeBits(dormantActivationSWDCode, 16)
	if err := e.lineReset(); err != nil {
		return err
	}
	e.idle(2)
	return nil
}
