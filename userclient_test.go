// https://github.com/tech2077/litepcie-go
//
// Copyright (c) The litepcie-go Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package litepcie

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tech2077/litepcie-go/internal/testlog"
)

func testDispatcher(t *testing.T) (*Dispatcher, *memTransport, RegisterMap) {
	t.Helper()

	log := testlog.New()
	tr := newMemTransport()
	regs := NewRegisterMap(0, 1)

	ch, err := NewDMAChannel(0, regs.Channels[0], regs.MSI, tr, ChannelConfig{BufferCount: 4, BufferSize: 16, BuffersPerIRQ: 1}, log)
	require.NoError(t, err)
	require.NoError(t, ch.Init())

	dev := &Device{
		transport: tr,
		regs:      regs,
		channels:  []*DMAChannel{ch},
		log:       log,
		sleep:     func(time.Duration) {},
	}

	return NewDispatcher(dev), tr, regs
}

func TestDispatcherReadWriteCSR(t *testing.T) {
	d, _, regs := testDispatcher(t)

	require.NoError(t, d.WriteCSR(WriteCSRRequest{Addr: regs.Control.Scratch, Value: 0xDEADBEEF}))

	resp, err := d.ReadCSR(ReadCSRRequest{Addr: regs.Control.Scratch})
	require.NoError(t, err)
	assert.Equal(t, uint32(0xDEADBEEF), resp.Value)
}

func TestDispatcherConfigDMAReaderChannel(t *testing.T) {
	d, _, _ := testDispatcher(t)

	require.NoError(t, d.ConfigDMAReaderChannel(ConfigDMAChannelRequest{Channel: 0, Enable: true}))
	require.NoError(t, d.ConfigDMAReaderChannel(ConfigDMAChannelRequest{Channel: 0, Enable: false}))
}

func TestDispatcherUnknownChannelIsBadArgument(t *testing.T) {
	d, _, _ := testDispatcher(t)

	err := d.ConfigDMAReaderChannel(ConfigDMAChannelRequest{Channel: 5, Enable: true})
	require.Error(t, err)

	var derr *Error
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, KindBadArgument, derr.Kind)
}

func TestDispatcherMemoryQueryCaching(t *testing.T) {
	d, _, _ := testDispatcher(t)

	memType := uint64(MemoryKindDMAReader)<<16 | 0

	first, err := d.Memory(memType)
	require.NoError(t, err)
	second, err := d.Memory(memType)
	require.NoError(t, err)

	assert.Same(t, &first.Bytes[0], &second.Bytes[0], "repeat queries must return the same backing memory")
	assert.False(t, first.ReadOnly)
}

func TestDispatcherMemoryCountsIsReadOnlyAndLive(t *testing.T) {
	d, _, _ := testDispatcher(t)

	memType := uint64(MemoryKindDMACounts)<<16 | 0

	desc, err := d.Memory(memType)
	require.NoError(t, err)
	assert.True(t, desc.ReadOnly)
	require.Len(t, desc.Bytes, 32)

	d.dev.channels[0].counts.hwWriterCountTotal.Store(5)

	again, err := d.Memory(memType)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), binary.LittleEndian.Uint64(again.Bytes[16:24]), "a repeat query must reflect the current counters")
}

func TestDispatcherMemoryUnknownKind(t *testing.T) {
	d, _, _ := testDispatcher(t)

	_, err := d.Memory(uint64(0x9)<<16 | 0)
	require.Error(t, err)
}
