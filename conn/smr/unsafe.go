// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package smr

import "unsafe"

// wordPtr/dwordPtr/hwordPtr cast the start of b onto a pointer to an
// 8/4/2-byte word, the same "black magic" pointer-cast periph.io's
// pmem.Slice.Struct performs on mmap'ed memory, scoped here to the three
// field widths the SmrHeader uses. b must have at least 8 bytes of
// backing capacity from this offset onward, which NewHeader's fixed
// HeaderSize check guarantees for every defined field offset.
func wordPtr(b []byte) unsafe.Pointer {
	return unsafe.Pointer(&b[0])
}

func dwordPtr(b []byte) unsafe.Pointer {
	return unsafe.Pointer(&b[0])
}

func hwordPtr(b []byte) unsafe.Pointer {
	return unsafe.Pointer(&b[0])
}
