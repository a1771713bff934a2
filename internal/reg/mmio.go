// https://github.com/tech2077/litepcie-go
//
// Copyright (c) The litepcie-go Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package reg provides volatile, atomic access to a memory-mapped register
// window, generalizing the raw-pointer register primitives used throughout
// the tamago SoC drivers (internal/reg.Read/Write) to a bounds-checked
// mmap'd BAR window: user-space code cannot dereference arbitrary physical
// addresses the way a bare-metal driver does, so every access here goes
// through a byte slice obtained from mmap rather than unsafe.Pointer over a
// raw physical address.
package reg

import (
	"fmt"
	"sync/atomic"
	"unsafe"
)

// Window is a memory-mapped aligned register window. All accesses are
// 32-bit aligned loads/stores performed with sync/atomic, matching the
// ordering discipline of tamago's internal/reg package.
type Window struct {
	mem []byte
}

// NewWindow wraps an already-mapped byte slice (typically obtained from
// golang.org/x/sys/unix.Mmap over a PCI BAR resource file) as a register
// window. The slice must remain valid and must not be resized for the
// lifetime of the Window.
func NewWindow(mem []byte) *Window {
	return &Window{mem: mem}
}

// Len returns the size in bytes of the mapped window.
func (w *Window) Len() int {
	return len(w.mem)
}

func (w *Window) ptr32(off uint32) (*uint32, error) {
	if off%4 != 0 {
		return nil, fmt.Errorf("reg: unaligned offset %#x", off)
	}

	if int(off)+4 > len(w.mem) {
		return nil, fmt.Errorf("reg: offset %#x out of range (window size %d)", off, len(w.mem))
	}

	return (*uint32)(unsafe.Pointer(&w.mem[off])), nil
}

// Read32 performs an atomic 32-bit load at the given byte offset.
func (w *Window) Read32(off uint32) (uint32, error) {
	p, err := w.ptr32(off)
	if err != nil {
		return 0, err
	}

	return atomic.LoadUint32(p), nil
}

// Write32 performs an atomic 32-bit store at the given byte offset.
func (w *Window) Write32(off uint32, val uint32) error {
	p, err := w.ptr32(off)
	if err != nil {
		return err
	}

	atomic.StoreUint32(p, val)
	return nil
}
