// Copyright 2025 The swd-rp2350 Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package swd

// RP2350 identification and Debug Module transport constants, per the
// RISC-V External Debug Support v0.13.2 register map with the RP2350
// datasheet's deviations (DM base AP index, SBA register offsets).
const (
	// dmAPIndex is the MEM-AP index used as the Debug Module transport on
	// RP2350; the DM registers are reached as a direct (bank, register)
	// address into that AP's register file.
	dmAPIndex = 0
)

// Debug Module register offsets within the DM's register file, addressed
// directly through dmAPIndex. Names follow the RISC-V External Debug
// Support v0.13.2 register map.
const (
	dmDMCONTROL  = 0x10 << 2
	dmDMSTATUS   = 0x11 << 2
	dmABSTRACTCS = 0x16 << 2
	dmCOMMAND    = 0x17 << 2
	dmDATA0      = 0x04 << 2
	dmSBCS       = 0x38 << 2
	dmSBADDRESS0 = 0x39 << 2
	dmSBDATA0    = 0x3C << 2
)

// DMCONTROL fields.
const (
	dmcontrolDMACTIVE  = 1 << 0
	dmcontrolNDMRESET   = 1 << 1
	dmcontrolHALTREQ    = 1 << 31
	dmcontrolRESUMEREQ  = 1 << 30
	dmcontrolHARTSELLO  = 0x3FF << 16
	hartselShift        = 16
)

// DMSTATUS fields.
const (
	dmstatusALLHALTED    = 1 << 9
	dmstatusALLRUNNING   = 1 << 11
	dmstatusALLRESUMEACK = 1 << 17
	dmstatusANYUNAVAIL   = 1 << 12
)

// ABSTRACTCS fields.
const (
	abstractcsBUSY       = 1 << 12
	abstractcsCMDERRMASK = 0x7 << 8
	abstractcsCMDERRSHIFT = 8
)

// COMMAND (access register) fields.
const (
	cmdtypeAccessRegister = 0 << 24
	aarsize32             = 2 << 20
	transferBit           = 1 << 17
	writeBit              = 1 << 16
)

// Abstract-command regno values.
const (
	regnoGPRBase = 0x1000 // x0..x31 at regno 0x1000..0x101F
	regnoDPC     = 0x7B1  // dpc CSR: the halted hart's program counter
)

// SBCS fields.
const (
	sbcsSBBUSY        = 1 << 21
	sbcsSBREADONADDR  = 1 << 20
	sbcsSBACCESSSHIFT = 17
	sbcsSBACCESSMASK  = 0x7 << 17
	sbcsSBAUTOINCR    = 1 << 16
	sbcsSBERRORMASK   = 0x7 << 12
	sbcsSBERRORSHIFT  = 12
)

// dcsr (debug control and status CSR) fields, used by single-step.
const (
	csrDCSR     = 0x7B0
	dcsrSTEP    = 1 << 2
)
