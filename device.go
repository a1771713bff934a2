// https://github.com/tech2077/litepcie-go
//
// Copyright (c) The litepcie-go Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package litepcie

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// InterruptSource abstracts the platform-specific mechanism that delivers
// MSI events to user space (e.g. a VFIO eventfd read, or a UIO interrupt
// file). Wait blocks until the next event, or ctx is done. Constructing and
// arming the actual interrupt source (the "host OS kernel-extension
// runtime" in spec §9's Non-goals) is outside this driver's scope; Device
// only consumes one.
type InterruptSource interface {
	Wait(ctx context.Context) error
}

// Device is the top-level handle for one LitePCIe endpoint: the CSR
// transport, the register map, every configured DMA channel, and the
// interrupt demultiplexer wired together (spec §3, §5).
type Device struct {
	transport Transport
	bar       *BAR
	regs      RegisterMap
	channels  []*DMAChannel
	handler   *InterruptHandler
	log       *logrus.Entry

	sleep func(time.Duration)

	interrupts lifecycle
	services   lifecycle
}

// Options configures Open.
type Options struct {
	// CSRBase is the CSR base address subtracted from every absolute
	// register address (spec §4.1).
	CSRBase uint32
	// Channels configures each DMA channel, one entry per reader/writer
	// pair the gateware build exposes.
	Channels []ChannelConfig
	// Log receives driver diagnostics. A discarding logger is used if nil.
	Log *logrus.Entry
	// InstrumentEvery, if non-zero, logs aggregate DMA throughput every
	// InstrumentEvery interrupts (SPEC_FULL.md domain stack).
	InstrumentEvery uint64
}

// Open maps BAR0 at path, builds a register map for len(opts.Channels)
// channels, and initializes every channel's buffer regions. On any failure
// already-initialized channels and the BAR mapping are torn down before the
// error is returned (spec §7: partial init is rolled back).
func Open(path string, opts Options) (dev *Device, err error) {
	log := opts.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	bar, err := OpenBAR(path, opts.CSRBase)
	if err != nil {
		return nil, err
	}

	defer func() {
		if err != nil {
			bar.Close()
		}
	}()

	regs := NewRegisterMap(opts.CSRBase, len(opts.Channels))

	channels := make([]*DMAChannel, len(opts.Channels))
	for i, cfg := range opts.Channels {
		ch, cerr := NewDMAChannel(i, regs.Channels[i], regs.MSI, bar, cfg, log)
		if cerr != nil {
			err = cerr
			break
		}

		if ierr := ch.Init(); ierr != nil {
			err = ierr
			break
		}

		channels[i] = ch
	}

	if err != nil {
		for _, ch := range channels {
			if ch != nil {
				ch.Teardown()
			}
		}
		return nil, err
	}

	handler := NewInterruptHandler(bar, regs, channels, log, opts.InstrumentEvery, nil)

	return &Device{
		transport: bar,
		bar:       bar,
		regs:      regs,
		channels:  channels,
		handler:   handler,
		log:       log,
		sleep:     time.Sleep,
	}, nil
}

// Channel returns the i-th configured DMA channel.
func (d *Device) Channel(i int) (*DMAChannel, error) {
	if i < 0 || i >= len(d.channels) {
		return nil, newErr("Channel", KindBadArgument, fmt.Errorf("channel index %d out of range [0, %d)", i, len(d.channels)))
	}

	return d.channels[i], nil
}

// ChannelCount returns the number of configured DMA channels.
func (d *Device) ChannelCount() int {
	return len(d.channels)
}

// ReadCSR reads the CSR at addr.
func (d *Device) ReadCSR(addr uint32) (uint32, error) {
	return d.transport.Read32(addr)
}

// WriteCSR writes val to the CSR at addr.
func (d *Device) WriteCSR(addr uint32, val uint32) error {
	return d.transport.Write32(addr, val)
}

// Serve runs the interrupt dispatch loop: wait for the next MSI event from
// src, service it, repeat, until ctx is done. It is the "interrupt dispatch
// queue" of spec §5's dual-latch shutdown and is meant to be run in its own
// goroutine by the caller.
func (d *Device) Serve(ctx context.Context, src InterruptSource) error {
	d.interrupts.track()
	defer d.interrupts.release()

	for {
		if err := src.Wait(ctx); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := d.handler.Handle(); err != nil {
			d.log.WithError(err).Error("interrupt handling failed")
			return err
		}
	}
}

// Shutdown tears down every DMA channel and closes BAR0, the "default
// queue" work of spec §5's Stop. It waits (bounded by ctx) for any Serve
// goroutine to have already exited before proceeding, so the interrupt
// handler never races the teardown of the channels it dereferences.
func (d *Device) Shutdown(ctx context.Context) error {
	if err := d.interrupts.wait(ctx); err != nil {
		return newErr("Shutdown", KindTimeout, err)
	}

	d.services.track()
	defer d.services.release()

	var err error
	for _, ch := range d.channels {
		if terr := ch.Teardown(); terr != nil && err == nil {
			err = terr
		}
	}

	if cerr := d.bar.Close(); cerr != nil && err == nil {
		err = cerr
	}

	return err
}
