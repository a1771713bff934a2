// https://github.com/tech2077/litepcie-go
//
// Copyright (c) The litepcie-go Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package dmabuf

import "unsafe"

// addressOf returns the virtual address of the first byte of buf.
func addressOf(buf []byte) uint64 {
	return uint64(uintptr(unsafe.Pointer(&buf[0])))
}
