// https://github.com/tech2077/litepcie-go
//
// Copyright (c) The litepcie-go Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package litepcie

// Descriptor is one entry of a DMA engine's scatter-gather table (spec §3).
// The 64-bit value is written word-wise: the low 32 bits (config) go to
// TABLE_VALUE, the next 32 bits (address LSB) go to TABLE_VALUE+4, and the
// high 32 bits (address MSB) go to TABLE_WE, whose write also latches the
// whole descriptor (spec §4.2).
//
// The config word bitfield (length:24 | disableIRQ:1 | last:1 | _:6) is
// encoded with explicit shift-and-mask rather than a native Go bitfield, per
// the design notes, to fix its endianness and layout independently of the
// host's struct packing rules — the same discipline tamago's bits package
// applies to SoC register fields.
type Descriptor struct {
	Address    uint64
	Length     uint32
	DisableIRQ bool
	Last       bool
}

const (
	descLengthMask = 0x00FFFFFF
	descIRQBit     = 24
	descLastBit    = 25
)

// ConfigWord packs Length/DisableIRQ/Last into the 32-bit config word
// written to TABLE_VALUE.
func (d Descriptor) ConfigWord() uint32 {
	word := d.Length & descLengthMask

	if d.DisableIRQ {
		word |= 1 << descIRQBit
	}

	if d.Last {
		word |= 1 << descLastBit
	}

	return word
}

// AddressLSB returns the low 32 bits of Address, written to TABLE_VALUE+4.
func (d Descriptor) AddressLSB() uint32 {
	return uint32(d.Address)
}

// AddressMSB returns the high 32 bits of Address, written to TABLE_WE
// (latching the descriptor).
func (d Descriptor) AddressMSB() uint32 {
	return uint32(d.Address >> 32)
}

// DecodeConfigWord recovers Length, DisableIRQ and Last from a raw config
// word, the inverse of ConfigWord. Used by the descriptor round-trip test
// (spec §8 property 5) and by any future read-back of TABLE_VALUE.
func DecodeConfigWord(word uint32) (length uint32, disableIRQ, last bool) {
	length = word & descLengthMask
	disableIRQ = (word>>descIRQBit)&1 == 1
	last = (word>>descLastBit)&1 == 1
	return
}

// disableIRQForSlot reports whether IRQ should be disabled for buffer slot
// i of a ring whose descriptors signal completion every buffersPerIRQ
// buffers: spec §4.2 follows the "IRQ asserted only every k buffers"
// convention (disableIRQ=0 exactly when (i+1) mod buffersPerIRQ == 0),
// correcting the original's first-in-group convention (design notes, open
// question).
func disableIRQForSlot(i, buffersPerIRQ int) bool {
	return (i+1)%buffersPerIRQ != 0
}
