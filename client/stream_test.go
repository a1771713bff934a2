// https://github.com/tech2077/litepcie-go
//
// Copyright (c) The litepcie-go Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package client

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	litepcie "github.com/tech2077/litepcie-go"
	"github.com/tech2077/litepcie-go/internal/testlog"
)

type fakeTransport struct {
	mu   sync.Mutex
	regs map[uint32]uint32
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{regs: make(map[uint32]uint32)}
}

func (f *fakeTransport) Read32(addr uint32) (uint32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.regs[addr], nil
}

func (f *fakeTransport) Write32(addr uint32, val uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.regs[addr] = val
	return nil
}

// testRig bundles a Stream with everything needed to drive its backing
// channel's hardware counters the same way the real interrupt handler
// would: through MSI_VECTOR + LOOP_STATUS, not by poking private counter
// state.
type testRig struct {
	stream  *Stream
	ch      *litepcie.DMAChannel
	tr      *fakeTransport
	regs    litepcie.RegisterMap
	handler *litepcie.InterruptHandler
}

func newTestRig(t *testing.T, n, size int) *testRig {
	t.Helper()

	tr := newFakeTransport()
	regs := litepcie.NewRegisterMap(0, 1)

	ch, err := litepcie.NewDMAChannel(0, regs.Channels[0], regs.MSI, tr, litepcie.ChannelConfig{
		BufferCount:   n,
		BufferSize:    size,
		BuffersPerIRQ: 1,
	}, testlog.New())
	require.NoError(t, err)
	require.NoError(t, ch.Init())

	s := NewStream(ch, n, size)
	require.NoError(t, s.Open())

	handler := litepcie.NewInterruptHandler(tr, regs, []*litepcie.DMAChannel{ch}, testlog.New(), 0, nil)

	return &testRig{stream: s, ch: ch, tr: tr, regs: regs, handler: handler}
}

// bumpWriter simulates count completed-buffer writer-side interrupts by
// driving WRITER_LOOP_STATUS to (index, count) for raw = hw_total+count and
// firing the writer's MSI bit through the real handler.
func (r *testRig) bumpWriter(t *testing.T, count int) {
	t.Helper()

	n := r.ch.Counts().WriterCountTotal()
	raw := n + uint64(count)

	index := uint32(raw / uint64(r.stream.n))
	slot := uint32(raw % uint64(r.stream.n))

	r.tr.Write32(r.regs.Channels[0].WriterLoopStatus, slot|index<<16)
	r.tr.Write32(r.regs.MSI.Vector, 1<<r.ch.WriterInterruptBit())

	require.NoError(t, r.handler.Handle())
}

func TestStreamProcessEnablesEnginesOnce(t *testing.T) {
	rig := newTestRig(t, 4, 16)
	defer rig.ch.Teardown()

	require.NoError(t, rig.stream.Process())

	// Perturb a register that setup rewrites; a second enable would reset it.
	rig.tr.Write32(rig.regs.Channels[0].ReaderLoopProgN, 0xFF)

	require.NoError(t, rig.stream.Process())

	v, _ := rig.tr.Read32(rig.regs.Channels[0].ReaderLoopProgN)
	assert.Equal(t, uint32(0xFF), v, "second Process must not set up and start the engines again")
}

func TestStreamWriterHysteresis(t *testing.T) {
	rig := newTestRig(t, 8, 16)
	defer rig.ch.Teardown()

	require.NoError(t, rig.stream.Process())

	rig.bumpWriter(t, 2) // exactly at, not above, the threshold
	require.NoError(t, rig.stream.Process())

	_, ok := rig.stream.NextReadBuffer()
	assert.False(t, ok, "writer hysteresis must hold back buffers at the threshold")
}

func TestStreamNextReadBuffersDistinctUntilDrained(t *testing.T) {
	rig := newTestRig(t, 4, 16)
	defer rig.ch.Teardown()

	require.NoError(t, rig.stream.Process())

	rig.bumpWriter(t, 4)
	require.NoError(t, rig.stream.Process())

	// Tag each writer slot so the returned buffers identify their slot.
	for i := 0; i < 4; i++ {
		rig.stream.writerBuf[i*16] = byte(i + 1)
	}

	offsets := make(map[int]bool)
	for i := 0; i < 4; i++ {
		buf, ok := rig.stream.NextReadBuffer()
		require.True(t, ok)
		require.Len(t, buf, 16)
		offsets[int(buf[0])] = true
	}

	_, ok := rig.stream.NextReadBuffer()
	assert.False(t, ok, "ring must be drained after N reads")
	assert.Len(t, offsets, 4)
}

func TestStreamOverrunDetection(t *testing.T) {
	rig := newTestRig(t, 4, 16)
	defer rig.ch.Teardown()

	require.NoError(t, rig.stream.Process())

	rig.bumpWriter(t, 10) // more than N since the last Process: overrun
	require.NoError(t, rig.stream.Process())

	_, writerOverruns := rig.stream.Overruns()
	assert.Equal(t, uint64(1), writerOverruns)

	_, ok := rig.stream.NextReadBuffer()
	assert.True(t, ok)
}
