package device

import (
	"unsafe"

	"github.com/goki/vulkan"
)

// goki handles are pointer typed on 64-bit targets; driver handles carry
// the same value as an integer.

func raw[H ~uint64](h H) unsafe.Pointer {
	return unsafe.Pointer(uintptr(h))
}

func addr(p unsafe.Pointer) uint64 {
	return uint64(uintptr(p))
}

func vkBool(b bool) uint32 {
	if b {
		return uint32(vulkan.True)
	}
	return uint32(vulkan.False)
}

func cString(s string) string {
	return s + "\x00"
}
