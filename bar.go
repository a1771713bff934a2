// https://github.com/tech2077/litepcie-go
//
// Copyright (c) The litepcie-go Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package litepcie

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/tech2077/litepcie-go/internal/reg"
)

// Transport is the CSR transport contract (spec §4.1): ordered, synchronous
// 32-bit load/store against BAR0 at a device-relative offset. No retry
// policy — callers treat a transport error as a device-gone condition
// (KindDeviceError).
type Transport interface {
	Read32(addr uint32) (uint32, error)
	Write32(addr uint32, val uint32) error
}

// BAR maps BAR0 of a LitePCIe endpoint through its Linux sysfs resource
// file and serves as the CSR Transport. It is the user-space analogue of
// the typed BAR handle called for in the design notes: every access goes
// through reg.Window, which enforces 32-bit alignment and uses
// sync/atomic for the volatile-read/volatile-write discipline tamago's
// register packages rely on.
type BAR struct {
	file *os.File
	win  *reg.Window
	base uint32
	mem  []byte
}

// OpenBAR mmaps the given PCI sysfs resource file (e.g.
// "/sys/bus/pci/devices/0000:01:00.0/resource0") and returns a BAR
// transport with the given CSRBase (subtracted from every absolute CSR
// address passed to Read32/Write32, per spec §4.1).
func OpenBAR(path string, csrBase uint32) (*BAR, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_SYNC, 0)
	if err != nil {
		return nil, newErr("OpenBAR", KindDeviceError, fmt.Errorf("open %s: %w", path, err))
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, newErr("OpenBAR", KindDeviceError, fmt.Errorf("stat %s: %w", path, err))
	}

	size := fi.Size()
	if size == 0 {
		f.Close()
		return nil, newErr("OpenBAR", KindDeviceError, fmt.Errorf("%s: zero-length resource", path))
	}

	mem, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, newErr("OpenBAR", KindDeviceError, fmt.Errorf("mmap %s: %w", path, err))
	}

	return &BAR{
		file: f,
		win:  reg.NewWindow(mem),
		base: csrBase,
		mem:  mem,
	}, nil
}

// NewBARWindow wraps an already-mapped memory window as a BAR transport,
// without opening a file — used by tests and by callers that obtain their
// mapping through a different mechanism (e.g. VFIO).
func NewBARWindow(mem []byte, csrBase uint32) *BAR {
	return &BAR{win: reg.NewWindow(mem), base: csrBase, mem: mem}
}

// Read32 reads the CSR at the given absolute address.
func (b *BAR) Read32(addr uint32) (uint32, error) {
	v, err := b.win.Read32(addr - b.base)
	if err != nil {
		return 0, newErr("Read32", KindDeviceError, err)
	}

	return v, nil
}

// Write32 writes the CSR at the given absolute address.
func (b *BAR) Write32(addr uint32, val uint32) error {
	if err := b.win.Write32(addr-b.base, val); err != nil {
		return newErr("Write32", KindDeviceError, err)
	}

	return nil
}

// Close unmaps BAR0 and closes the backing resource file.
func (b *BAR) Close() error {
	var err error

	if b.mem != nil {
		err = unix.Munmap(b.mem)
		b.mem = nil
	}

	if b.file != nil {
		if cerr := b.file.Close(); err == nil {
			err = cerr
		}
	}

	if err != nil {
		return newErr("Close", KindDeviceError, err)
	}

	return nil
}
