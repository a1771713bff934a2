// https://github.com/tech2077/litepcie-go
//
// Copyright (c) The litepcie-go Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package client implements the user-space half of a LitePCIe DMA stream:
// mapping a channel's reader/writer buffer arrays and shared counter page,
// and deriving available buffer slots from the hardware/software counter
// pair (spec §4.5). It is the pull-iterator analogue of
// liblitepcie_dma.c's litepcie_dma_process()/next_read_buffer()/
// next_write_buffer().
package client

import (
	"sync"

	litepcie "github.com/tech2077/litepcie-go"
)

// Hysteresis constants (spec §4.5).
const (
	// writerReadyThreshold: the writer path only hands out new buffers
	// once the hardware is at least this far ahead of the software
	// count, avoiding a race with the interrupt handler mid-update.
	writerReadyThreshold = 2
)

// Stream maps one DMA channel's buffer arrays and counter page into the
// caller's view and tracks the software side of the producer/consumer
// contract. A Stream is not safe for concurrent use by more than one
// consumer goroutine (spec §5: "one user-space consumer process, typically
// on one thread").
type Stream struct {
	mu sync.Mutex

	ch         *litepcie.DMAChannel
	bufferSize int
	n          int

	readerBuf []byte
	writerBuf []byte
	zeroCopy  bool

	swReaderCount uint64
	swWriterCount uint64

	availableRead  int
	availableWrite int
	readOffset     int
	writeOffset    int

	enabled bool

	readerOverruns uint64
	writerOverruns uint64
}

// NewStream builds a Stream over ch. bufferCount and bufferSize must match
// the ChannelConfig ch was initialized with.
func NewStream(ch *litepcie.DMAChannel, bufferCount, bufferSize int) *Stream {
	return &Stream{
		ch:         ch,
		n:          bufferCount,
		bufferSize: bufferSize,
	}
}

// Open maps the channel's reader and writer buffer arrays. Must be called
// once before Process.
func (s *Stream) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rb, err := s.ch.ReaderBuffer()
	if err != nil {
		return err
	}

	wb, err := s.ch.WriterBuffer()
	if err != nil {
		return err
	}

	s.readerBuf = rb
	s.writerBuf = wb
	s.zeroCopy = s.ch.ZeroCopy()
	return nil
}

// Overruns returns the total number of overrun events observed on the
// reader and writer paths respectively (spec §4.5, §7 KindOverrun).
func (s *Stream) Overruns() (reader, writer uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readerOverruns, s.writerOverruns
}

// Process is the consumer's per-iteration poll (spec §4.5). On first call
// it enables both engines (loop mode) through the channel. It then
// refreshes the number of buffers available to read (device→host) and to
// write (host→device), applying the overrun policy first if the hardware
// has lapped the software count by more than N.
func (s *Stream) Process() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.enabled {
		if err := s.ch.SetupReader(); err != nil {
			return err
		}
		if err := s.ch.SetupWriter(); err != nil {
			return err
		}
		if err := s.ch.StartReader(true); err != nil {
			return err
		}
		if err := s.ch.StartWriter(true); err != nil {
			return err
		}
		s.enabled = true
	}

	counts := s.ch.Counts()

	hwWriterTotal := counts.WriterCountTotal()
	s.applyWriterOverrun(hwWriterTotal)

	if hwWriterTotal-s.swWriterCount > writerReadyThreshold {
		avail := hwWriterTotal - s.swWriterCount
		if avail > uint64(s.n) {
			avail = uint64(s.n)
		}
		s.availableRead = int(avail)
		s.readOffset = int(s.swWriterCount % uint64(s.n))
		s.swWriterCount += avail
	} else {
		s.availableRead = 0
	}

	hwReaderTotal := counts.ReaderCountTotal()
	s.applyReaderOverrun(hwReaderTotal)

	if s.swReaderCount-hwReaderTotal < uint64(s.n/2) {
		avail := hwReaderTotal - s.swReaderCount
		if avail > uint64(s.n) {
			avail = uint64(s.n)
		}
		s.availableWrite = int(avail)
		s.writeOffset = int(s.swReaderCount % uint64(s.n))
		s.swReaderCount += avail
	} else {
		s.availableWrite = 0
	}

	return nil
}

// applyWriterOverrun implements spec §4.5's overrun policy for the
// device→host path: if the hardware has advanced by more than N since the
// last Process, skip the software count ahead to hw_count_total - N and
// record one overrun.
func (s *Stream) applyWriterOverrun(hwTotal uint64) {
	if hwTotal-s.swWriterCount > uint64(s.n) {
		s.swWriterCount = hwTotal - uint64(s.n)
		s.writerOverruns++
	}
}

func (s *Stream) applyReaderOverrun(hwTotal uint64) {
	if s.swReaderCount-hwTotal > uint64(s.n) {
		s.swReaderCount = hwTotal + uint64(s.n)
		s.readerOverruns++
	}
}

// NextReadBuffer returns the next device→host slot ready for the consumer,
// or ok=false if none remain since the last Process call (spec §4.5, §8
// property 4: successive calls return distinct, non-overlapping slices).
func (s *Stream) NextReadBuffer() (buf []byte, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.availableRead == 0 {
		return nil, false
	}

	off := s.readOffset * s.bufferSize
	slot := s.writerBuf[off : off+s.bufferSize]

	s.availableRead--
	s.readOffset = (s.readOffset + 1) % s.n

	if s.zeroCopy {
		return slot, true
	}

	// Non-zero-copy mode: hand the caller an owned copy so they never
	// observe the device refilling this slot after the ring wraps back
	// around to it.
	buf = make([]byte, len(slot))
	copy(buf, slot)
	return buf, true
}

// NextWriteBuffer returns the next host→device slot the consumer may fill,
// or ok=false if none remain since the last Process call. Always returns
// the mapped slot directly regardless of ZeroCopy: the consumer writes it
// before the engine ever reads it, so there is no stale-copy hazard on this
// side the way there is on NextReadBuffer's device-filled slots.
func (s *Stream) NextWriteBuffer() (buf []byte, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.availableWrite == 0 {
		return nil, false
	}

	off := s.writeOffset * s.bufferSize
	buf = s.readerBuf[off : off+s.bufferSize]

	s.availableWrite--
	s.writeOffset = (s.writeOffset + 1) % s.n
	return buf, true
}
