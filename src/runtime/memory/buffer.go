package memory

import (
	"github.com/WowVeryLogin/vkprism/src/runtime/driver"
)

// noCopy makes go vet flag UniqueBuffer values that get copied.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

// UniqueBuffer is the single owner of a device buffer and its memory.
// Release frees both exactly once; Take moves ownership to a new value.
type UniqueBuffer struct {
	noCopy noCopy

	allocator *Allocator
	buffer    driver.Buffer
	memory    driver.Memory
	size      uint64
	usage     driver.BufferUsage
	class     Class
	mapped    bool
}

// Valid reports whether b still owns a buffer. A nil buffer is not valid.
func (b *UniqueBuffer) Valid() bool {
	return b != nil && b.allocator != nil
}

func (b *UniqueBuffer) Handle() driver.Buffer {
	if !b.Valid() {
		return 0
	}
	return b.buffer
}

func (b *UniqueBuffer) Memory() driver.Memory {
	if !b.Valid() {
		return 0
	}
	return b.memory
}

func (b *UniqueBuffer) Size() uint64 {
	if !b.Valid() {
		return 0
	}
	return b.size
}

func (b *UniqueBuffer) Usage() driver.BufferUsage {
	return b.usage
}

func (b *UniqueBuffer) Class() Class {
	return b.class
}

// Map returns a host view of the whole buffer. The slice must not be used
// after Unmap or Release.
func (b *UniqueBuffer) Map() ([]byte, error) {
	if !b.Valid() {
		return nil, ErrReleased
	}
	if !b.class.hostVisible() {
		return nil, ErrNotHostVisible
	}
	if b.mapped {
		return nil, ErrAlreadyMapped
	}

	data, err := b.allocator.dev.MapMemory(b.memory, b.size)
	if err != nil {
		return nil, err
	}
	b.mapped = true
	return data, nil
}

func (b *UniqueBuffer) Unmap() {
	if !b.Valid() || !b.mapped {
		return
	}
	b.allocator.dev.UnmapMemory(b.memory)
	b.mapped = false
}

// DeviceAddress resolves the GPU address of the start of the buffer.
func (b *UniqueBuffer) DeviceAddress() (driver.DeviceAddress, error) {
	if !b.Valid() {
		return 0, ErrReleased
	}
	if b.usage&driver.BufferUsageShaderDeviceAddress == 0 {
		return 0, ErrNoDeviceAddress
	}
	return b.allocator.dev.BufferAddress(b.buffer), nil
}

// Release frees the buffer. Calling it again, or on nil, does nothing.
func (b *UniqueBuffer) Release() {
	if !b.Valid() {
		return
	}
	b.Unmap()
	b.allocator.free(b)
	b.allocator = nil
	b.buffer = 0
	b.memory = 0
}

// Abandon gives up ownership without freeing the device buffer, for work
// that was submitted but never observed to finish. The buffer stays
// allocated on the device and b is left empty.
func (b *UniqueBuffer) Abandon() {
	if !b.Valid() {
		return
	}
	b.Unmap()
	b.allocator.forget(b)
	b.allocator = nil
	b.buffer = 0
	b.memory = 0
}

// Take moves ownership out of b. b is left empty and Release on it is a no-op.
func (b *UniqueBuffer) Take() *UniqueBuffer {
	if !b.Valid() {
		return nil
	}

	moved := &UniqueBuffer{
		allocator: b.allocator,
		buffer:    b.buffer,
		memory:    b.memory,
		size:      b.size,
		usage:     b.usage,
		class:     b.class,
		mapped:    b.mapped,
	}

	a := b.allocator
	a.mu.Lock()
	delete(a.live, b)
	a.live[moved] = struct{}{}
	a.mu.Unlock()

	b.allocator = nil
	b.buffer = 0
	b.memory = 0
	b.mapped = false
	return moved
}
