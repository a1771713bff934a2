// https://github.com/tech2077/litepcie-go
//
// Copyright (c) The litepcie-go Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package litepcie

import (
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// wrapSpan is the range a 16-bit loop-status index field wraps over before
// repeating (spec §4.3: "The 0x10000 reflects the 16-bit index field
// wrapping").
const wrapSpan = 0x10000

// InterruptHandler demultiplexes the MSI vector into per-channel
// reader/writer events and reconstructs each engine's monotonic 64-bit
// buffer count from the wrapping (index, count) pair reported by
// LOOP_STATUS (spec §4.3). A single InterruptHandler instance must only
// ever be invoked by one goroutine at a time — the driver's interrupt
// dispatch queue serializes this in the original; callers here are
// expected to do the same (e.g. a single-goroutine interrupt reader loop).
type InterruptHandler struct {
	transport Transport
	regs      RegisterMap
	channels  []*DMAChannel
	log       *logrus.Entry

	instrumentEvery uint64
	limiter         *rate.Limiter

	count      uint64
	lastReader uint64
	lastWriter uint64
	lastTime   time.Time
}

// NewInterruptHandler builds a handler over the given channels. Every
// instrumentEvery interrupts (0 disables instrumentation), it logs
// aggregate throughput, throttled by limiter so a pathological interrupt
// storm cannot itself become a bottleneck (SPEC_FULL.md domain stack).
func NewInterruptHandler(transport Transport, regs RegisterMap, channels []*DMAChannel, log *logrus.Entry, instrumentEvery uint64, limiter *rate.Limiter) *InterruptHandler {
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Limit(1), 1)
	}

	return &InterruptHandler{
		transport:       transport,
		regs:            regs,
		channels:        channels,
		log:             log,
		instrumentEvery: instrumentEvery,
		limiter:         limiter,
	}
}

// Handle services one MSI event: read MSI_VECTOR, update every signalled
// channel's hardware counters, and acknowledge via MSI_CLEAR. A failed
// LOOP_STATUS read is logged and its bit is still cleared, so it does not
// turn into an interrupt storm. Handle returns an error only when the
// MSI_VECTOR read fails (nothing is cleared then, since the signalled bits
// are unknown) or when the MSI_CLEAR write fails.
func (h *InterruptHandler) Handle() error {
	vector, err := h.transport.Read32(h.regs.MSI.Vector)
	if err != nil {
		h.log.WithError(err).Error("failed to read MSI vector")
		return newErr("Handle", KindDeviceError, err)
	}

	var clear uint32

	for _, ch := range h.channels {
		if vector&(1<<uint(ch.ReaderInterruptBit())) != 0 {
			clear |= 1 << uint(ch.ReaderInterruptBit())
			if err := h.updateReader(ch); err != nil {
				h.log.WithError(err).WithField("channel", ch.index).Warn("reader loop status read failed")
			}
		}

		if vector&(1<<uint(ch.WriterInterruptBit())) != 0 {
			clear |= 1 << uint(ch.WriterInterruptBit())
			if err := h.updateWriter(ch); err != nil {
				h.log.WithError(err).WithField("channel", ch.index).Warn("writer loop status read failed")
			}
		}
	}

	if err := h.transport.Write32(h.regs.MSI.Clear, clear); err != nil {
		return newErr("Handle", KindDeviceError, err)
	}

	h.count++
	h.maybeInstrument()

	return nil
}

func (h *InterruptHandler) updateReader(ch *DMAChannel) error {
	index, count, err := ReadLoopStatus(h.transport, ch.regs.ReaderLoopStatus)
	if err != nil {
		return err
	}

	raw := rawCount(index, count, ch.cfg.BufferCount)
	advanceCount(&ch.counts.hwReaderCountTotal, &ch.counts.hwReaderCountPrev, raw, ch.cfg.BufferCount)
	return nil
}

func (h *InterruptHandler) updateWriter(ch *DMAChannel) error {
	index, count, err := ReadLoopStatus(h.transport, ch.regs.WriterLoopStatus)
	if err != nil {
		return err
	}

	raw := rawCount(index, count, ch.cfg.BufferCount)
	advanceCount(&ch.counts.hwWriterCountTotal, &ch.counts.hwWriterCountPrev, raw, ch.cfg.BufferCount)
	return nil
}

// rawCount extends a (index, count) loop-status sample to a single
// "generation-relative" count. spec §4.3: raw = index*N + count. The
// original implementation used index*N + index, a known bug the driver's
// design notes direct us not to reproduce.
func rawCount(index, count uint16, n int) uint64 {
	return uint64(index)*uint64(n) + uint64(count)
}

// advanceCount folds a new raw sample into the monotonic total, handling
// the 16-bit index wraparound (spec §4.3):
//
//	raw >= prev: delta = raw - prev
//	raw <  prev: delta = (N*0x10000 - prev) + raw
func advanceCount(total, prev *atomic.Uint64, raw uint64, n int) {
	p := prev.Load()

	var delta uint64
	if raw >= p {
		delta = raw - p
	} else {
		delta = (uint64(n)*wrapSpan - p) + raw
	}

	total.Add(delta)
	prev.Store(raw)
}

func (h *InterruptHandler) maybeInstrument() {
	if h.instrumentEvery == 0 || h.count%h.instrumentEvery != 0 {
		return
	}

	if !h.limiter.Allow() {
		return
	}

	now := time.Now()

	var readerTotal, writerTotal uint64
	for _, ch := range h.channels {
		readerTotal += ch.counts.ReaderCountTotal()
		writerTotal += ch.counts.WriterCountTotal()
	}

	if !h.lastTime.IsZero() {
		elapsed := now.Sub(h.lastTime).Seconds()
		if elapsed > 0 {
			h.log.WithFields(logrus.Fields{
				"interrupts":  h.count,
				"reader_rate": float64(readerTotal-h.lastReader) / elapsed,
				"writer_rate": float64(writerTotal-h.lastWriter) / elapsed,
			}).Debug("interrupt throughput sample")
		}
	}

	h.lastReader, h.lastWriter, h.lastTime = readerTotal, writerTotal, now
}
