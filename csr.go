// https://github.com/tech2077/litepcie-go
//
// Copyright (c) The litepcie-go Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package litepcie

// The exact CSR addresses of a given LitePCIe gateware build come from a
// generated header (csr.h) produced by the SoC build flow; that generator
// is an external collaborator (spec: "the generated CSR address header"),
// out of scope for this driver. What the driver owns is the *layout*
// convention described by the register map summary: control registers,
// a repeating per-channel DMA sub-block, MSI, ICAP and flash SPI blocks,
// each CSR occupying one or more 4-byte-aligned 32-bit words.
//
// RegisterMap expresses that layout in Go types instead of preprocessor
// constants, so channel count and spacing are parameters rather than
// `#ifdef CSR_PCIE_DMA7_*` chains (liblitepcie/litepcie_dma.c enumerates
// channels 0-7 this way in the original).

const csrWordBytes = 4

// ChannelRegisters holds the CSR offsets of one DMA channel's reader and
// writer sub-blocks, expressed as absolute CSR addresses (CSRBase-relative
// subtraction happens in the transport, per spec §4.1).
type ChannelRegisters struct {
	LoopbackEnable uint32

	ReaderEnable     uint32
	ReaderTableValue uint32 // 8 bytes: config word then address LSB word
	ReaderTableWE    uint32 // address MSB word; write triggers latch
	ReaderTableReset uint32
	ReaderTableFlush uint32
	ReaderLoopProgN  uint32
	ReaderLoopStatus uint32
	ReaderLevel      uint32

	WriterEnable     uint32
	WriterTableValue uint32
	WriterTableWE    uint32
	WriterTableReset uint32
	WriterTableFlush uint32
	WriterLoopProgN  uint32
	WriterLoopStatus uint32
	WriterLevel      uint32
}

// ControlRegisters holds the device-wide control block.
type ControlRegisters struct {
	Scratch uint32
	DNAHi   uint32
	DNALo   uint32
	LEDs    uint32
}

// MSIRegisters holds the MSI demultiplexing block.
type MSIRegisters struct {
	Enable uint32
	Clear  uint32
	Vector uint32
}

// ICAPRegisters holds the Internal Configuration Access Port block.
type ICAPRegisters struct {
	Addr  uint32
	Data  uint32
	Write uint32
}

// FlashRegisters holds the flash SPI block.
type FlashRegisters struct {
	MOSI    uint32
	MISO    uint32
	Control uint32
	Status  uint32
}

// Flash SPI control/status bit positions (spec §4.4).
const (
	flashStartBit   = 0
	flashLenShift   = 8
	flashStatusDone = 0
)

// RegisterMap aggregates every CSR block the driver addresses.
type RegisterMap struct {
	Control  ControlRegisters
	MSI      MSIRegisters
	ICAP     ICAPRegisters
	Flash    FlashRegisters
	Channels []ChannelRegisters
}

// NewRegisterMap lays out a self-consistent register map for the given
// channel count, starting at base. The exact values are placeholders for
// whatever a real gateware build's csr.h generates; callers targeting real
// hardware construct a RegisterMap from that header's values instead of
// calling this constructor. It exists so the rest of the driver, and its
// tests, have a concrete, internally-consistent map to operate against.
func NewRegisterMap(base uint32, channelCount int) RegisterMap {
	addr := base

	next := func(words int) uint32 {
		a := addr
		addr += uint32(words) * csrWordBytes
		return a
	}

	rm := RegisterMap{
		Control: ControlRegisters{
			Scratch: next(1),
			DNAHi:   next(1),
			DNALo:   next(1),
			LEDs:    next(1),
		},
	}

	rm.Channels = make([]ChannelRegisters, channelCount)
	for i := range rm.Channels {
		rm.Channels[i] = ChannelRegisters{
			LoopbackEnable: next(1),

			ReaderEnable:     next(1),
			ReaderTableValue: next(2),
			ReaderTableWE:    next(1),
			ReaderTableReset: next(1),
			ReaderTableFlush: next(1),
			ReaderLoopProgN:  next(1),
			ReaderLoopStatus: next(1),
			ReaderLevel:      next(1),

			WriterEnable:     next(1),
			WriterTableValue: next(2),
			WriterTableWE:    next(1),
			WriterTableReset: next(1),
			WriterTableFlush: next(1),
			WriterLoopProgN:  next(1),
			WriterLoopStatus: next(1),
			WriterLevel:      next(1),
		}
	}

	rm.MSI = MSIRegisters{
		Enable: next(1),
		Clear:  next(1),
		Vector: next(1),
	}

	rm.ICAP = ICAPRegisters{
		Addr:  next(1),
		Data:  next(1),
		Write: next(1),
	}

	rm.Flash = FlashRegisters{
		MOSI:    next(2),
		MISO:    next(2),
		Control: next(1),
		Status:  next(1),
	}

	return rm
}
