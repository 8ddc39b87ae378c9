// Copyright 2025 The swd-rp2350 Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package swd

import "sync"

// slot identifies one (PIO block, state machine) pair. There are
// numPIOBlocks*numStateMachines of these process-wide.
type slot struct {
	pio int
	sm  int
}

// registry is the process-wide PIO/SM allocation table. Every slot is owned
// by at most one Target at a time; reserve fails if the slot is occupied.
// This mirrors the single package-level driver instance ftdi/driver.go
// guards with a sync.Mutex, except the table here holds availability
// instead of a list of opened devices.
type registry struct {
	mu    sync.Mutex
	owner map[slot]*Target
}

var globalRegistry = registry{owner: map[slot]*Target{}}

// reserve claims a slot for t. pio/sm of Auto (-1) search for the first free
// slot; a concrete value requires that exact slot to be free. Returns the
// concrete slot claimed.
func (r *registry) reserve(t *Target, pio, sm int) (slot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if pio != Auto && sm != Auto {
		s := slot{pio, sm}
		if _, busy := r.owner[s]; busy {
			return slot{}, newError(ErrResourceBusy, "pio%d sm%d already in use", pio, sm)
		}
		r.owner[s] = t
		return s, nil
	}

	pios := []int{0, 1}
	if pio != Auto {
		pios = []int{pio}
	}
	sms := []int{0, 1, 2, 3}
	if sm != Auto {
		sms = []int{sm}
	}
	for _, p := range pios {
		for _, m := range sms {
			s := slot{p, m}
			if _, busy := r.owner[s]; !busy {
				r.owner[s] = t
				return s, nil
			}
		}
	}
	return slot{}, newError(ErrResourceBusy, "no free PIO/state-machine slot")
}

// release frees s, if it is still owned by t. Releasing a slot not owned by
// t is a no-op, matching the lifecycle invariant that only Close (not Halt)
// touches the registry.
func (r *registry) release(t *Target, s slot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.owner[s] == t {
		delete(r.owner, s)
	}
}

// ResourceInfo reports current PIO/SM slot usage and active target count, as
// named by the query-resource-usage operation.
type ResourceInfo struct {
	PIO0SMUsed    [4]bool
	PIO1SMUsed    [4]bool
	ActiveTargets int
}

// ResourceUsage returns a snapshot of the process-wide PIO/SM registry.
func ResourceUsage() ResourceInfo {
	globalRegistry.mu.Lock()
	defer globalRegistry.mu.Unlock()

	var info ResourceInfo
	for s := range globalRegistry.owner {
		switch s.pio {
		case 0:
			info.PIO0SMUsed[s.sm] = true
		case 1:
			info.PIO1SMUsed[s.sm] = true
		}
		info.ActiveTargets++
	}
	return info
}
