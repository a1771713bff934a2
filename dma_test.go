// https://github.com/tech2077/litepcie-go
//
// Copyright (c) The litepcie-go Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package litepcie

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tech2077/litepcie-go/internal/testlog"
)

func testChannel(t *testing.T, bufferCount, bufferSize, buffersPerIRQ int) (*DMAChannel, *memTransport, ChannelRegisters) {
	t.Helper()

	log := testlog.New()
	tr := newMemTransport()
	regs := NewRegisterMap(0, 1)

	ch, err := NewDMAChannel(0, regs.Channels[0], regs.MSI, tr, ChannelConfig{
		BufferCount:   bufferCount,
		BufferSize:    bufferSize,
		BuffersPerIRQ: buffersPerIRQ,
	}, log)
	require.NoError(t, err)
	require.NoError(t, ch.Init())

	return ch, tr, regs.Channels[0]
}

func TestChannelConfigValidation(t *testing.T) {
	log := testlog.New()
	tr := newMemTransport()
	regs := NewRegisterMap(0, 1)

	_, err := NewDMAChannel(0, regs.Channels[0], regs.MSI, tr, ChannelConfig{BufferCount: 3, BufferSize: 16, BuffersPerIRQ: 1}, log)
	require.Error(t, err)

	_, err = NewDMAChannel(0, regs.Channels[0], regs.MSI, tr, ChannelConfig{BufferCount: 3000, BufferSize: 16, BuffersPerIRQ: 1}, log)
	require.Error(t, err)

	_, err = NewDMAChannel(0, regs.Channels[0], regs.MSI, tr, ChannelConfig{BufferCount: 4, BufferSize: 0, BuffersPerIRQ: 1}, log)
	require.Error(t, err)

	_, err = NewDMAChannel(0, regs.Channels[0], regs.MSI, tr, ChannelConfig{BufferCount: 4, BufferSize: 16, BuffersPerIRQ: 5}, log)
	require.Error(t, err)
}

func TestChannelInitEnablesMSIBits(t *testing.T) {
	ch, tr, _ := testChannel(t, 4, 16, 1)
	defer ch.Teardown()

	v, err := tr.Read32(ch.msi.Enable)
	require.NoError(t, err)

	want := uint32(1<<ch.ReaderInterruptBit() | 1<<ch.WriterInterruptBit())
	assert.Equal(t, want, v)
}

func TestStartIdempotent(t *testing.T) {
	ch, tr, regs := testChannel(t, 4, 16, 1)
	defer ch.Teardown()

	require.NoError(t, ch.SetupReader())
	require.NoError(t, ch.StartReader(true))

	tr.Write32(regs.ReaderLoopProgN, 0xFF) // perturb; a second Start must not rewrite it

	require.NoError(t, ch.StartReader(true))

	v, _ := tr.Read32(regs.ReaderLoopProgN)
	assert.Equal(t, uint32(0xFF), v, "second StartReader must be a no-op on an already-enabled engine")
}

func TestSetupReaderWritesDescriptorsInOrder(t *testing.T) {
	log := testlog.New()
	tr := newMemTransport()
	regs := NewRegisterMap(0, 1)

	var configWords []uint32
	tr.onWrite = func(addr, val uint32) {
		if addr == regs.Channels[0].ReaderTableValue {
			configWords = append(configWords, val)
		}
	}

	ch, err := NewDMAChannel(0, regs.Channels[0], regs.MSI, tr, ChannelConfig{BufferCount: 4, BufferSize: 8, BuffersPerIRQ: 2}, log)
	require.NoError(t, err)
	require.NoError(t, ch.Init())
	defer ch.Teardown()

	require.NoError(t, ch.SetupReader())

	require.Len(t, configWords, 4)
	for i, cfg := range configWords {
		length, irq, last := DecodeConfigWord(cfg)
		assert.Equal(t, uint32(8), length)
		assert.True(t, last)
		assert.Equal(t, (i+1)%2 != 0, irq, "slot %d", i)
	}

	loopProgN, _ := tr.Read32(regs.Channels[0].ReaderLoopProgN)
	assert.Equal(t, uint32(1), loopProgN)
}

func TestReaderWriterBuffersDistinct(t *testing.T) {
	ch, _, _ := testChannel(t, 4, 32, 1)
	defer ch.Teardown()

	rb, err := ch.ReaderBuffer()
	require.NoError(t, err)
	wb, err := ch.WriterBuffer()
	require.NoError(t, err)

	require.Len(t, rb, 4*32)
	require.Len(t, wb, 4*32)

	rb[0] = 0xAA
	assert.NotEqual(t, rb[0], wb[0], "reader and writer regions must not overlap")
}

func TestUninitializedChannelRejectsSetup(t *testing.T) {
	log := testlog.New()
	tr := newMemTransport()
	regs := NewRegisterMap(0, 1)

	ch, err := NewDMAChannel(0, regs.Channels[0], regs.MSI, tr, ChannelConfig{BufferCount: 4, BufferSize: 16, BuffersPerIRQ: 1}, log)
	require.NoError(t, err)

	err = ch.SetupReader()
	require.Error(t, err)

	var derr *Error
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, KindNoDevice, derr.Kind)
}

func TestReadLoopStatusDecode(t *testing.T) {
	tr := newMemTransport()
	tr.Write32(0x10, uint32(0x0007)|uint32(0x0002)<<16)

	index, count, err := ReadLoopStatus(tr, 0x10)
	require.NoError(t, err)
	assert.Equal(t, uint16(2), index)
	assert.Equal(t, uint16(7), count)
}
