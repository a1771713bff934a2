// https://github.com/tech2077/litepcie-go
//
// Copyright (c) The litepcie-go Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package litepcie

import (
	"fmt"
	"time"
)

// Flash SPI transaction bounds and timing (spec §4.4).
const (
	flashMinTxLen = 8
	flashMaxTxLen = 40

	flashStartDelay = 16 * time.Microsecond
	flashPollDelay  = 1 * time.Microsecond
	flashMaxPolls   = 100000 // 100ms total budget at a 1us poll interval
)

// FlashTransaction drives one bit-banged SPI transaction against the flash
// block: the core shifts tx_len bits of tx_data out on MOSI and captures
// MISO, and the combined 64-bit rx_data read back from SPI_MISO is returned.
//
// Sequence (spec §4.4): write the upper 32 bits of tx_data to SPI_MOSI, the
// lower 32 bits to SPI_MOSI+4; write SPI_CONTROL = START | (tx_len << 8);
// wait 16us for the core to latch the transaction; poll SPI_STATUS for DONE
// every 1us, up to 100,000 attempts; read the MSB word from SPI_MISO and
// the LSB word from SPI_MISO+4.
func (d *Device) FlashTransaction(txLen uint32, txData uint64) (uint64, error) {
	if txLen < flashMinTxLen || txLen > flashMaxTxLen {
		return 0, newErr("FlashTransaction", KindBadArgument, fmt.Errorf("tx_len %d out of range [%d, %d]", txLen, flashMinTxLen, flashMaxTxLen))
	}

	regs := d.regs.Flash

	if err := d.transport.Write32(regs.MOSI, uint32(txData>>32)); err != nil {
		return 0, newErr("FlashTransaction", KindDeviceError, err)
	}

	if err := d.transport.Write32(regs.MOSI+4, uint32(txData)); err != nil {
		return 0, newErr("FlashTransaction", KindDeviceError, err)
	}

	ctrl := uint32(1<<flashStartBit) | (txLen << flashLenShift)
	if err := d.transport.Write32(regs.Control, ctrl); err != nil {
		return 0, newErr("FlashTransaction", KindDeviceError, err)
	}

	d.sleep(flashStartDelay)

	done := false
	for i := 0; i < flashMaxPolls; i++ {
		status, err := d.transport.Read32(regs.Status)
		if err != nil {
			return 0, newErr("FlashTransaction", KindDeviceError, err)
		}

		if status&(1<<flashStatusDone) != 0 {
			done = true
			break
		}

		d.sleep(flashPollDelay)
	}

	if !done {
		return 0, newErr("FlashTransaction", KindTimeout, fmt.Errorf("flash SPI: DONE not observed within %d polls", flashMaxPolls))
	}

	msb, err := d.transport.Read32(regs.MISO)
	if err != nil {
		return 0, newErr("FlashTransaction", KindDeviceError, err)
	}

	lsb, err := d.transport.Read32(regs.MISO + 4)
	if err != nil {
		return 0, newErr("FlashTransaction", KindDeviceError, err)
	}

	return uint64(msb)<<32 | uint64(lsb), nil
}
