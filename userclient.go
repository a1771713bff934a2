// https://github.com/tech2077/litepcie-go
//
// Copyright (c) The litepcie-go Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package litepcie

import (
	"fmt"
	"sync"
)

// Selector identifies one entry of the user-client method table (spec
// §4.4). Inputs and outputs are fixed-layout Go structs rather than packed
// C structures; the dispatcher still rejects an out-of-range channel or
// flash length the same way the original selector table rejects a wrong
// ioctl buffer size.
type Selector int

const (
	SelectorConfigDMAReaderChannel Selector = iota
	SelectorConfigDMAWriterChannel
	SelectorReadCSR
	SelectorWriteCSR
	SelectorICAP
	SelectorFlash
)

// ConfigDMAChannelRequest is the input to SelectorConfigDMAReaderChannel
// and SelectorConfigDMAWriterChannel.
type ConfigDMAChannelRequest struct {
	Channel int
	Enable  bool
}

// ReadCSRRequest/Response is SelectorReadCSR's input/output.
type ReadCSRRequest struct{ Addr uint32 }
type ReadCSRResponse struct{ Value uint32 }

// WriteCSRRequest is SelectorWriteCSR's input.
type WriteCSRRequest struct {
	Addr  uint32
	Value uint32
}

// ICAPRequest is SelectorICAP's input.
type ICAPRequest struct {
	Addr uint32
	Data uint32
}

// FlashRequest/Response is SelectorFlash's input/output.
type FlashRequest struct {
	TxLen  uint32
	TxData uint64
}
type FlashResponse struct {
	TxLen  uint32
	TxData uint64
	RxData uint64
}

// MemoryKind classifies a shared-memory region returned by a memory-type
// query (spec §6).
type MemoryKind uint32

const (
	MemoryKindDMAReader MemoryKind = 0x1
	MemoryKindDMAWriter MemoryKind = 0x2
	MemoryKindDMACounts MemoryKind = 0x4
)

// MemoryDescriptor is what a memory-type query returns: the region's bytes
// and whether the client may write to it.
type MemoryDescriptor struct {
	Kind     MemoryKind
	Channel  int
	Bytes    []byte
	ReadOnly bool
}

type memoryKey struct {
	kind    MemoryKind
	channel int
}

// Dispatcher is the selector-indexed request router (spec §4.4) sitting in
// front of a Device. It is the single entry point a user-client process
// talks to; every method is safe for concurrent use.
type Dispatcher struct {
	mu  sync.Mutex
	dev *Device

	cache map[memoryKey]*MemoryDescriptor
}

// NewDispatcher builds a Dispatcher over dev.
func NewDispatcher(dev *Device) *Dispatcher {
	return &Dispatcher{
		dev:   dev,
		cache: make(map[memoryKey]*MemoryDescriptor),
	}
}

// ConfigDMAReaderChannel implements SelectorConfigDMAReaderChannel: if
// req.Enable differs from the channel's current reader state, enabling
// means setup+start(loop=true) and disabling means stop.
func (d *Dispatcher) ConfigDMAReaderChannel(req ConfigDMAChannelRequest) error {
	ch, err := d.dev.Channel(req.Channel)
	if err != nil {
		return err
	}

	ch.mu.Lock()
	enabled := ch.readerEnabled
	ch.mu.Unlock()

	if req.Enable == enabled {
		return nil
	}

	if req.Enable {
		if err := ch.SetupReader(); err != nil {
			return err
		}
		return ch.StartReader(true)
	}

	return ch.StopReader()
}

// ConfigDMAWriterChannel is the writer-side equivalent of
// ConfigDMAReaderChannel.
func (d *Dispatcher) ConfigDMAWriterChannel(req ConfigDMAChannelRequest) error {
	ch, err := d.dev.Channel(req.Channel)
	if err != nil {
		return err
	}

	ch.mu.Lock()
	enabled := ch.writerEnabled
	ch.mu.Unlock()

	if req.Enable == enabled {
		return nil
	}

	if req.Enable {
		if err := ch.SetupWriter(); err != nil {
			return err
		}
		return ch.StartWriter(true)
	}

	return ch.StopWriter()
}

// ReadCSR implements SelectorReadCSR.
func (d *Dispatcher) ReadCSR(req ReadCSRRequest) (ReadCSRResponse, error) {
	v, err := d.dev.ReadCSR(req.Addr)
	if err != nil {
		return ReadCSRResponse{}, err
	}

	return ReadCSRResponse{Value: v}, nil
}

// WriteCSR implements SelectorWriteCSR.
func (d *Dispatcher) WriteCSR(req WriteCSRRequest) error {
	return d.dev.WriteCSR(req.Addr, req.Value)
}

// ICAP implements SelectorICAP.
func (d *Dispatcher) ICAP(req ICAPRequest) error {
	return d.dev.ICAPWrite(req.Addr, req.Data)
}

// Flash implements SelectorFlash.
func (d *Dispatcher) Flash(req FlashRequest) (FlashResponse, error) {
	rx, err := d.dev.FlashTransaction(req.TxLen, req.TxData)
	if err != nil {
		return FlashResponse{}, err
	}

	return FlashResponse{TxLen: req.TxLen, TxData: req.TxData, RxData: rx}, nil
}

// Memory services a memory-type query (spec §6): memType packs a
// MemoryKind into bits 16-19 and a channel index into the low nibble.
// DMA_READER and DMA_WRITER descriptors are cached per (kind, channel) so
// repeat queries return the same backing slice. DMA_COUNTS is not cached
// and is not a shared mapping: each query returns a new 32-byte copy of the
// counters, which does not change after it is returned.
func (d *Dispatcher) Memory(memType uint64) (*MemoryDescriptor, error) {
	kind := MemoryKind((memType >> 16) & 0xF)
	channel := int(memType & 0xF)

	ch, err := d.dev.Channel(channel)
	if err != nil {
		return nil, err
	}

	// DMA_COUNTS is a read-only snapshot, not a mapped region, so it is
	// always recomputed rather than cached: caching it would freeze the
	// counters at their first-query value.
	if kind == MemoryKindDMACounts {
		return &MemoryDescriptor{Kind: kind, Channel: channel, Bytes: ch.Counts().Bytes(), ReadOnly: true}, nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	key := memoryKey{kind: kind, channel: channel}
	if desc, ok := d.cache[key]; ok {
		return desc, nil
	}

	var desc *MemoryDescriptor

	switch kind {
	case MemoryKindDMAReader:
		buf, err := ch.ReaderBuffer()
		if err != nil {
			return nil, err
		}
		desc = &MemoryDescriptor{Kind: kind, Channel: channel, Bytes: buf}

	case MemoryKindDMAWriter:
		buf, err := ch.WriterBuffer()
		if err != nil {
			return nil, err
		}
		desc = &MemoryDescriptor{Kind: kind, Channel: channel, Bytes: buf}

	default:
		return nil, newErr("Memory", KindBadArgument, fmt.Errorf("unknown memory kind 0x%x", uint32(kind)))
	}

	d.cache[key] = desc
	return desc, nil
}
