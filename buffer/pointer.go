package buffer

import "unsafe"

func pointerOf(buf []byte) uintptr {
	return uintptr(unsafe.Pointer(&buf[0]))
}
