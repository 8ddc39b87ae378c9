// Copyright 2025 The swd-rp2350 Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package swd

import "fmt"

// ErrorCode is one of the stable error codes a Target operation can fail
// with. Callers that need to branch on failure kind should use errors.As to
// recover an *Error and switch on its Code, rather than comparing error
// strings.
type ErrorCode uint8

// Stable error codes, matching the three tiers described by the library's
// error handling design: line-level, protocol-level and semantic.
const (
	ErrNone ErrorCode = iota
	ErrTimeout
	ErrTargetFault
	ErrProtocol
	ErrParity
	ErrWait
	ErrNotConnected
	ErrNotHalted
	ErrAlreadyHalted
	ErrInvalidState
	ErrNoMemory
	ErrInvalidConfiguration
	ErrResourceBusy
	ErrInvalidParameter
	ErrNotInitialized
	ErrAbstractCommand
	ErrBus
	ErrAlignment
	ErrVerify
)

var errorCodeNames = [...]string{
	ErrNone:                 "success",
	ErrTimeout:              "timeout",
	ErrTargetFault:          "target-fault",
	ErrProtocol:             "protocol",
	ErrParity:               "parity",
	ErrWait:                 "wait",
	ErrNotConnected:         "not-connected",
	ErrNotHalted:            "not-halted",
	ErrAlreadyHalted:        "already-halted",
	ErrInvalidState:         "invalid-state",
	ErrNoMemory:             "no-memory",
	ErrInvalidConfiguration: "invalid-configuration",
	ErrResourceBusy:         "resource-busy",
	ErrInvalidParameter:     "invalid-parameter",
	ErrNotInitialized:       "not-initialized",
	ErrAbstractCommand:      "abstract-command",
	ErrBus:                  "bus",
	ErrAlignment:            "alignment",
	ErrVerify:               "verify",
}

// String implements fmt.Stringer.
func (c ErrorCode) String() string {
	if int(c) < len(errorCodeNames) && errorCodeNames[c] != "" {
		return errorCodeNames[c]
	}
	return fmt.Sprintf("ErrorCode(%d)", uint8(c))
}

// maxDetailBytes bounds Error.Detail, per the library's error handling
// design: every failure populates a last-error detail string truncated to at
// most 128 bytes, silently, on overflow.
const maxDetailBytes = 128

// Error is returned by every Target operation that can fail. Code is one of
// the stable ErrorCode values; Detail is a short human-readable string
// (never more than 128 bytes) that may include protocol-level context such
// as a raw cmderr or sberror value.
type Error struct {
	Code   ErrorCode
	Detail string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Detail == "" {
		return "swd: " + e.Code.String()
	}
	return "swd: " + e.Code.String() + ": " + e.Detail
}

// newError builds an *Error, truncating the formatted detail to
// maxDetailBytes.
func newError(code ErrorCode, format string, args ...interface{}) *Error {
	d := fmt.Sprintf(format, args...)
	if len(d) > maxDetailBytes {
		d = d[:maxDetailBytes]
	}
	return &Error{Code: code, Detail: d}
}

// codeOf extracts the ErrorCode carried by err, or ErrNone if err is nil, or
// ErrInvalidState if err is a foreign error not produced by this package.
func codeOf(err error) ErrorCode {
	if err == nil {
		return ErrNone
	}
	if e, ok := err.(*Error); ok {
		return e.Code
	}
	return ErrInvalidState
}
