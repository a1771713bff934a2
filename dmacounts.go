// https://github.com/tech2077/litepcie-go
//
// Copyright (c) The litepcie-go Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package litepcie

import (
	"encoding/binary"
	"sync/atomic"
)

// DMACounts is the shared page described by spec §3: per engine, a
// monotonic total and the last raw loop-status sample (prev, which drops
// back when the 16-bit index wraps), written only by the interrupt handler
// (the Total/Prev pairs)
// or only by the consumer (the software counters live in client.Stream,
// not here — this type models only the hardware-visible half of the
// page). Fields are atomic so the handler (writer) and any number of
// concurrent readers (the user-space consumer polling process()) never
// race, matching spec §5's "no shared writer" contract without requiring
// a lock on the hot path.
type DMACounts struct {
	hwReaderCountTotal atomic.Uint64
	hwReaderCountPrev  atomic.Uint64
	hwWriterCountTotal atomic.Uint64
	hwWriterCountPrev  atomic.Uint64
}

// resetReader zeroes the reader's total and prev counters, and resetWriter
// the writer's, each called when that engine is (re)started (spec §4.2
// start_reader/start_writer: "Clears hw_*_count_total and
// hw_*_count_prev").
func (c *DMACounts) resetReader() {
	c.hwReaderCountTotal.Store(0)
	c.hwReaderCountPrev.Store(0)
}

func (c *DMACounts) resetWriter() {
	c.hwWriterCountTotal.Store(0)
	c.hwWriterCountPrev.Store(0)
}

// ReaderCountTotal returns the monotonic host->device buffer count.
func (c *DMACounts) ReaderCountTotal() uint64 { return c.hwReaderCountTotal.Load() }

// WriterCountTotal returns the monotonic device->host buffer count.
func (c *DMACounts) WriterCountTotal() uint64 { return c.hwWriterCountTotal.Load() }

// Bytes snapshots the four counters into the 32-byte, read-only DMA_COUNTS
// page layout exposed to the user client by a DMA_COUNTS memory-type query
// (spec §6): reader total, reader prev, writer total, writer prev, each a
// little-endian u64.
func (c *DMACounts) Bytes() []byte {
	buf := make([]byte, 32)
	binary.LittleEndian.PutUint64(buf[0:8], c.hwReaderCountTotal.Load())
	binary.LittleEndian.PutUint64(buf[8:16], c.hwReaderCountPrev.Load())
	binary.LittleEndian.PutUint64(buf[16:24], c.hwWriterCountTotal.Load())
	binary.LittleEndian.PutUint64(buf[24:32], c.hwWriterCountPrev.Load())
	return buf
}
