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
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tech2077/litepcie-go/internal/dmabuf"
)

// flushDrainDelay is the minimum time stop_reader/stop_writer wait after
// asserting the flush strobe for in-flight TLPs to drain (spec §4.2).
// Implementations that expose a drain-complete status may poll it instead;
// this driver does not, so it always sleeps the full delay.
const flushDrainDelay = 1 * time.Millisecond

// ChannelConfig parameterizes a DMA channel's ring geometry.
type ChannelConfig struct {
	// BufferCount is N, the number of buffers per ring. Must be a power
	// of two dividing 0x10000 (spec §4.2 correctness requirement, so the
	// interrupt handler's wrap arithmetic is exact).
	BufferCount int
	// BufferSize is the size in bytes of each buffer.
	BufferSize int
	// BuffersPerIRQ is the number of buffers serviced between completion
	// interrupts (spec §4.2: disableIRQ is 0 exactly every BuffersPerIRQ
	// buffers).
	BuffersPerIRQ int
	// ZeroCopy makes client.Stream.NextReadBuffer hand out the mapped DMA
	// buffer directly instead of a caller-owned copy. NextWriteBuffer
	// always returns the mapped slot, whatever this is set to
	// (supplemental feature carried from
	// liblitepcie_dma.c's zero_copy field, spec.md is silent on it).
	ZeroCopy bool
	// AddressResolver resolves a pinned buffer's DMA bus address. Pass
	// nil to use dmabuf.IdentityResolver (loopback/self-test only).
	AddressResolver dmabuf.AddressResolver
}

func (c ChannelConfig) validate() error {
	if c.BufferCount <= 0 || c.BufferCount&(c.BufferCount-1) != 0 {
		return fmt.Errorf("buffer count %d is not a power of two", c.BufferCount)
	}

	if 0x10000%c.BufferCount != 0 {
		return fmt.Errorf("buffer count %d does not evenly divide 0x10000", c.BufferCount)
	}

	if c.BufferSize <= 0 {
		return fmt.Errorf("invalid buffer size %d", c.BufferSize)
	}

	if c.BuffersPerIRQ <= 0 || c.BuffersPerIRQ > c.BufferCount {
		return fmt.Errorf("invalid buffers-per-irq %d", c.BuffersPerIRQ)
	}

	return nil
}

// DMAChannel owns one LitePCIe DMA channel: its reader and writer
// descriptor rings, pinned buffer arrays, and the shared DMACounts page
// updated by the interrupt handler (spec §3, §4.2).
type DMAChannel struct {
	mu sync.Mutex

	index     int
	regs      ChannelRegisters
	msi       MSIRegisters
	transport Transport
	cfg       ChannelConfig
	log       *logrus.Entry

	readerEnabled bool
	writerEnabled bool

	readerRegion *dmabuf.Region
	writerRegion *dmabuf.Region

	counts DMACounts
}

// ReaderInterruptBit and WriterInterruptBit are the index's MSI vector
// positions: by convention each channel occupies two consecutive bits,
// reader then writer (spec §3 "reader_interrupt_bit, writer_interrupt_bit:
// indices in the MSI vector").
func (ch *DMAChannel) ReaderInterruptBit() int { return ch.index * 2 }
func (ch *DMAChannel) WriterInterruptBit() int { return ch.index*2 + 1 }

// Counts returns the channel's shared hardware counter page, read by the
// user-space stream helper and written only by the interrupt handler.
func (ch *DMAChannel) Counts() *DMACounts { return &ch.counts }

// ZeroCopy reports whether the channel hands out its mapped DMA buffers
// directly rather than through a copy (supplemental feature carried from
// liblitepcie_dma.c's zero_copy field).
func (ch *DMAChannel) ZeroCopy() bool { return ch.cfg.ZeroCopy }

// NewDMAChannel builds a DMA channel bound to the given transport and
// register sub-block, without allocating buffers (call Init to do that).
// Most callers get a DMAChannel through Device.Channel instead; this
// constructor exists for callers wiring a custom Transport directly (tests,
// or a non-BAR transport such as a VFIO-backed mapping).
func NewDMAChannel(index int, regs ChannelRegisters, msi MSIRegisters, transport Transport, cfg ChannelConfig, log *logrus.Entry) (*DMAChannel, error) {
	if err := cfg.validate(); err != nil {
		return nil, newErr("NewDMAChannel", KindBadArgument, err)
	}

	return &DMAChannel{
		index:     index,
		regs:      regs,
		msi:       msi,
		transport: transport,
		cfg:       cfg,
		log:       log.WithField("channel", index),
	}, nil
}

// Init allocates the reader and writer buffer arrays, pinned and
// DMA-addressable, and enables the MSI bits for both vector positions of
// the channel. On any failure, buffers already allocated are released
// before the error is returned (spec §7: "Partial DMA-channel init is
// rolled back").
func (ch *DMAChannel) Init() (err error) {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	ch.readerRegion, err = dmabuf.NewRegion(ch.cfg.BufferCount, ch.cfg.BufferSize, ch.cfg.AddressResolver)
	if err != nil {
		return newErr("Init", KindDeviceError, err)
	}

	ch.writerRegion, err = dmabuf.NewRegion(ch.cfg.BufferCount, ch.cfg.BufferSize, ch.cfg.AddressResolver)
	if err != nil {
		ch.readerRegion.Free()
		ch.readerRegion = nil
		return newErr("Init", KindDeviceError, err)
	}

	mask := uint32(1<<uint(ch.ReaderInterruptBit()) | 1<<uint(ch.WriterInterruptBit()))
	if err := ch.orMSIEnable(mask); err != nil {
		ch.writerRegion.Free()
		ch.readerRegion.Free()
		ch.writerRegion, ch.readerRegion = nil, nil
		return newErr("Init", KindDeviceError, err)
	}

	ch.log.Debug("dma channel initialized")
	return nil
}

func (ch *DMAChannel) orMSIEnable(mask uint32) error {
	cur, err := ch.transport.Read32(ch.msi.Enable)
	if err != nil {
		return err
	}

	return ch.transport.Write32(ch.msi.Enable, cur|mask)
}

// SetLoopback toggles the channel's device-side reader->writer loopback
// route, used for host-side self-test (spec §4.2).
func (ch *DMAChannel) SetLoopback(enable bool) error {
	var v uint32
	if enable {
		v = 1
	}

	if err := ch.transport.Write32(ch.regs.LoopbackEnable, v); err != nil {
		return newErr("SetLoopback", KindDeviceError, err)
	}

	return nil
}

func (ch *DMAChannel) setupEngine(enableReg, resetReg, tableValue, tableWE, loopProgN uint32, region *dmabuf.Region) error {
	if err := ch.transport.Write32(enableReg, 0); err != nil {
		return err
	}

	if err := ch.transport.Write32(resetReg, 1); err != nil {
		return err
	}

	if err := ch.transport.Write32(loopProgN, 0); err != nil {
		return err
	}

	for i := 0; i < region.Count(); i++ {
		addr, err := region.Address(i)
		if err != nil {
			return err
		}

		d := Descriptor{
			Address:    addr,
			Length:     uint32(region.BufferSize()),
			Last:       true,
			DisableIRQ: disableIRQForSlot(i, ch.cfg.BuffersPerIRQ),
		}

		// Ordering is load-bearing: VALUE low word, VALUE high word
		// (address LSB), then WE (address MSB), whose write latches
		// the descriptor (spec §4.2).
		if err := ch.transport.Write32(tableValue, d.ConfigWord()); err != nil {
			return err
		}

		if err := ch.transport.Write32(tableValue+4, d.AddressLSB()); err != nil {
			return err
		}

		if err := ch.transport.Write32(tableWE, d.AddressMSB()); err != nil {
			return err
		}
	}

	return ch.transport.Write32(loopProgN, 1)
}

// SetupReader disables the reader engine, resets and clears its descriptor
// table, then programs one descriptor per reader buffer (spec §4.2).
func (ch *DMAChannel) SetupReader() error {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	if ch.readerRegion == nil {
		return newErr("SetupReader", KindNoDevice, fmt.Errorf("channel %d not initialized", ch.index))
	}

	if err := ch.setupEngine(ch.regs.ReaderEnable, ch.regs.ReaderTableReset, ch.regs.ReaderTableValue, ch.regs.ReaderTableWE, ch.regs.ReaderLoopProgN, ch.readerRegion); err != nil {
		return newErr("SetupReader", KindDeviceError, err)
	}

	return nil
}

// SetupWriter is the writer-side equivalent of SetupReader.
func (ch *DMAChannel) SetupWriter() error {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	if ch.writerRegion == nil {
		return newErr("SetupWriter", KindNoDevice, fmt.Errorf("channel %d not initialized", ch.index))
	}

	if err := ch.setupEngine(ch.regs.WriterEnable, ch.regs.WriterTableReset, ch.regs.WriterTableValue, ch.regs.WriterTableWE, ch.regs.WriterLoopProgN, ch.writerRegion); err != nil {
		return newErr("SetupWriter", KindDeviceError, err)
	}

	return nil
}

// StartReader clears the reader's hardware counters, programs loop mode,
// and asserts enable. Idempotent on an already-enabled engine (spec §4.2,
// §8 property 6).
func (ch *DMAChannel) StartReader(loop bool) error {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	if ch.readerEnabled {
		return nil
	}

	ch.counts.resetReader()

	loopVal := uint32(0)
	if loop {
		loopVal = 1
	}

	if err := ch.transport.Write32(ch.regs.ReaderLoopProgN, loopVal); err != nil {
		return newErr("StartReader", KindDeviceError, err)
	}

	if err := ch.transport.Write32(ch.regs.ReaderEnable, 1); err != nil {
		return newErr("StartReader", KindDeviceError, err)
	}

	ch.readerEnabled = true
	return nil
}

// StartWriter is the writer-side equivalent of StartReader.
func (ch *DMAChannel) StartWriter(loop bool) error {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	if ch.writerEnabled {
		return nil
	}

	ch.counts.resetWriter()

	loopVal := uint32(0)
	if loop {
		loopVal = 1
	}

	if err := ch.transport.Write32(ch.regs.WriterLoopProgN, loopVal); err != nil {
		return newErr("StartWriter", KindDeviceError, err)
	}

	if err := ch.transport.Write32(ch.regs.WriterEnable, 1); err != nil {
		return newErr("StartWriter", KindDeviceError, err)
	}

	ch.writerEnabled = true
	return nil
}

func (ch *DMAChannel) stopEngine(loopProgN, flush, enable uint32, sleep func(time.Duration)) error {
	if err := ch.transport.Write32(loopProgN, 0); err != nil {
		return err
	}

	if err := ch.transport.Write32(flush, 1); err != nil {
		return err
	}

	sleep(flushDrainDelay)

	if err := ch.transport.Write32(enable, 0); err != nil {
		return err
	}

	return ch.transport.Write32(flush, 1)
}

// StopReader clears loop mode, flushes, waits for in-flight TLPs to drain,
// clears enable, and flushes again (spec §4.2).
func (ch *DMAChannel) StopReader() error {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	if err := ch.stopEngine(ch.regs.ReaderLoopProgN, ch.regs.ReaderTableFlush, ch.regs.ReaderEnable, time.Sleep); err != nil {
		return newErr("StopReader", KindDeviceError, err)
	}

	ch.readerEnabled = false
	return nil
}

// StopWriter is the writer-side equivalent of StopReader.
func (ch *DMAChannel) StopWriter() error {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	if err := ch.stopEngine(ch.regs.WriterLoopProgN, ch.regs.WriterTableFlush, ch.regs.WriterEnable, time.Sleep); err != nil {
		return newErr("StopWriter", KindDeviceError, err)
	}

	ch.writerEnabled = false
	return nil
}

// Teardown stops both engines, waits, and frees the reader and writer
// buffer regions. The channel must not be used afterward.
func (ch *DMAChannel) Teardown() error {
	if ch.readerEnabled {
		if err := ch.StopReader(); err != nil {
			return err
		}
	}

	if ch.writerEnabled {
		if err := ch.StopWriter(); err != nil {
			return err
		}
	}

	time.Sleep(flushDrainDelay)

	ch.mu.Lock()
	defer ch.mu.Unlock()

	var err error

	if ch.readerRegion != nil {
		if ferr := ch.readerRegion.Free(); ferr != nil && err == nil {
			err = ferr
		}
		ch.readerRegion = nil
	}

	if ch.writerRegion != nil {
		if ferr := ch.writerRegion.Free(); ferr != nil && err == nil {
			err = ferr
		}
		ch.writerRegion = nil
	}

	if err != nil {
		return newErr("Teardown", KindDeviceError, err)
	}

	return nil
}

// ReaderBuffer returns the full host->device buffer array (N*BufferSize
// bytes), exposed to the user client as the DMA_READER shared memory
// region.
func (ch *DMAChannel) ReaderBuffer() ([]byte, error) {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	if ch.readerRegion == nil {
		return nil, newErr("ReaderBuffer", KindNoDevice, fmt.Errorf("channel %d not initialized", ch.index))
	}

	return ch.readerRegion.Full(), nil
}

// WriterBuffer returns the full device->host buffer array, exposed as the
// DMA_WRITER shared memory region.
func (ch *DMAChannel) WriterBuffer() ([]byte, error) {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	if ch.writerRegion == nil {
		return nil, newErr("WriterBuffer", KindNoDevice, fmt.Errorf("channel %d not initialized", ch.index))
	}

	return ch.writerRegion.Full(), nil
}

// ReadLoopStatus reads and decodes the given engine's LOOP_STATUS register
// (spec §4.3): { index:16, count:16 }.
func ReadLoopStatus(t Transport, addr uint32) (index, count uint16, err error) {
	raw, err := t.Read32(addr)
	if err != nil {
		return 0, 0, err
	}

	count = uint16(raw)
	index = uint16(raw >> 16)
	return index, count, nil
}
