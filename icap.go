// https://github.com/tech2077/litepcie-go
//
// Copyright (c) The litepcie-go Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package litepcie

// ICAPWrite drives one write cycle through the Internal Configuration
// Access Port: program the target configuration register address, the
// value to write, then strobe Write to commit it (spec §4.4). Used for
// warm-reloading the FPGA bitstream (e.g. writing IPROG to the command
// register) without a PCIe rescan.
func (d *Device) ICAPWrite(addr, data uint32) error {
	regs := d.regs.ICAP

	if err := d.transport.Write32(regs.Addr, addr); err != nil {
		return newErr("ICAPWrite", KindDeviceError, err)
	}

	if err := d.transport.Write32(regs.Data, data); err != nil {
		return newErr("ICAPWrite", KindDeviceError, err)
	}

	if err := d.transport.Write32(regs.Write, 1); err != nil {
		return newErr("ICAPWrite", KindDeviceError, err)
	}

	return nil
}
