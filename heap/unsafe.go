package heap

import "unsafe"

// offsetOf returns the position of b's first byte within region
func offsetOf(region []byte, b []byte) (int, bool) {
	if len(region) == 0 || cap(b) == 0 {
		return 0, false
	}

	base := uintptr(unsafe.Pointer(unsafe.SliceData(region)))
	addr := uintptr(unsafe.Pointer(unsafe.SliceData(b)))
	if addr < base || addr >= base+uintptr(len(region)) {
		return 0, false
	}

	return int(addr - base), true
}
