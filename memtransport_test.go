// https://github.com/tech2077/litepcie-go
//
// Copyright (c) The litepcie-go Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package litepcie

import "sync"

// memTransport is an in-memory Transport backing every unit test in this
// package: a sparse map of CSR addresses to 32-bit values, guarded by a
// mutex so tests can also exercise concurrent handler/consumer access.
type memTransport struct {
	mu   sync.Mutex
	regs map[uint32]uint32

	// onRead, if set, is invoked after every Read32 (used to simulate a
	// status register that flips DONE after a number of polls).
	onRead func(addr uint32)

	// onWrite, if set, is invoked after every Write32 (used to capture
	// the sequence of values written to a repeatedly-addressed register,
	// e.g. a descriptor table's VALUE word across successive slots).
	onWrite func(addr, val uint32)
}

func newMemTransport() *memTransport {
	return &memTransport{regs: make(map[uint32]uint32)}
}

func (m *memTransport) Read32(addr uint32) (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.onRead != nil {
		m.onRead(addr)
	}

	return m.regs[addr], nil
}

func (m *memTransport) Write32(addr uint32, val uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.regs[addr] = val

	if m.onWrite != nil {
		m.onWrite(addr, val)
	}

	return nil
}
