// https://github.com/tech2077/litepcie-go
//
// Copyright (c) The litepcie-go Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package dmabuf provides pinned, DMA-addressable buffer regions for the
// LitePCIe scatter-gather DMA engines.
//
// It generalizes tamago's dma.Region (a first-fit allocator over a single
// bare-metal RAM window reserved from the Go runtime) to a user-space
// equivalent: a region backed by an mmap'd, locked (mlock'd) anonymous
// mapping, carved into DMA_BUFFER_COUNT equal-size slots rather than
// arbitrary-size first-fit blocks, since every LitePCIe DMA engine drives a
// fixed ring of fixed-size buffers (spec: "Two arrays of N buffers, each
// DMA_BUFFER_SIZE bytes, pinned for DMA with known physical addresses").
package dmabuf

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// AddressResolver translates a buffer's virtual address into the bus
// (DMA-capable) address the device must be programmed with. On a system
// with an IOMMU this is the IOMMU-mapped address of the pinned pages; in
// its absence (e.g. a VFIO no-IOMMU or loopback test harness) the identity
// resolver is used, which only produces valid hardware addresses with an
// IOMMU-free direct-mapped configuration.
type AddressResolver func(virtual []byte) (uint64, error)

// IdentityResolver treats the virtual address of the first byte of buf as
// its DMA bus address. Only valid for loopback self-tests and simulated
// devices; production use requires a resolver backed by the platform's
// IOMMU or VFIO DMA-mapping ioctl.
func IdentityResolver(buf []byte) (uint64, error) {
	if len(buf) == 0 {
		return 0, fmt.Errorf("dmabuf: empty buffer")
	}

	return addressOf(buf), nil
}

// Region is a single mmap'd, pinned allocation carved into equal-size
// buffer slots.
type Region struct {
	mem        []byte
	bufferSize int
	count      int
	resolver   AddressResolver
}

// NewRegion mmaps count*bufferSize bytes of anonymous, locked memory and
// returns a Region ready to hand out buffer slots. The resolver is used to
// compute each slot's DMA bus address; pass nil to use IdentityResolver.
func NewRegion(count, bufferSize int, resolver AddressResolver) (*Region, error) {
	if count <= 0 || bufferSize <= 0 {
		return nil, fmt.Errorf("dmabuf: invalid region size (count=%d, bufferSize=%d)", count, bufferSize)
	}

	if resolver == nil {
		resolver = IdentityResolver
	}

	mem, err := unix.Mmap(-1, 0, count*bufferSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("dmabuf: mmap: %w", err)
	}

	if err := unix.Mlock(mem); err != nil {
		unix.Munmap(mem)
		return nil, fmt.Errorf("dmabuf: mlock: %w", err)
	}

	return &Region{
		mem:        mem,
		bufferSize: bufferSize,
		count:      count,
		resolver:   resolver,
	}, nil
}

// Count returns the number of buffer slots in the region.
func (r *Region) Count() int {
	return r.count
}

// BufferSize returns the size in bytes of each slot.
func (r *Region) BufferSize() int {
	return r.bufferSize
}

// Slice returns the slot i as a byte slice backed directly by the pinned
// mapping: writes are visible to the device and vice versa.
func (r *Region) Slice(i int) []byte {
	off := i * r.bufferSize
	return r.mem[off : off+r.bufferSize]
}

// Full returns the entire region as one contiguous byte slice, the layout
// exposed to the user client as a DMA_READER/DMA_WRITER shared memory
// region (spec §6).
func (r *Region) Full() []byte {
	return r.mem
}

// Address returns the DMA bus address of slot i, as produced by the
// region's AddressResolver.
func (r *Region) Address(i int) (uint64, error) {
	addr, err := r.resolver(r.Slice(i))
	if err != nil {
		return 0, fmt.Errorf("dmabuf: resolve slot %d: %w", i, err)
	}

	return addr, nil
}

// Free unmaps the region. The region must not be used afterward.
func (r *Region) Free() error {
	if r.mem == nil {
		return nil
	}

	if err := unix.Munlock(r.mem); err != nil {
		return fmt.Errorf("dmabuf: munlock: %w", err)
	}

	if err := unix.Munmap(r.mem); err != nil {
		return fmt.Errorf("dmabuf: munmap: %w", err)
	}

	r.mem = nil
	return nil
}
