// Package memory owns GPU buffer allocation and lifetime.
package memory

import (
	"errors"
	"fmt"
	"sync"

	"github.com/WowVeryLogin/vkprism/src/runtime/driver"
	"go.uber.org/zap"
)

var (
	ErrZeroSize        = errors.New("memory: zero sized allocation")
	ErrAllocation      = errors.New("memory: allocation failed")
	ErrNotHostVisible  = errors.New("memory: buffer is not host visible")
	ErrAlreadyMapped   = errors.New("memory: buffer is already mapped")
	ErrNoDeviceAddress = errors.New("memory: buffer was created without device address usage")
	ErrReleased        = errors.New("memory: buffer was released")
	ErrElementSize     = errors.New("memory: buffer cannot be viewed as the element type")
)

// Class selects where an allocation lives and how the host may reach it.
type Class int

const (
	// DeviceLocal memory is never mapped.
	DeviceLocal Class = iota
	// HostUpload is host visible staging memory written by the CPU.
	HostUpload
	// HostDownload is host visible memory read back by the CPU.
	HostDownload
	// HostToDevice is host visible memory read by the GPU, preferring
	// device-local heaps when they are mappable.
	HostToDevice
)

func (c Class) String() string {
	switch c {
	case DeviceLocal:
		return "device-local"
	case HostUpload:
		return "host-upload"
	case HostDownload:
		return "host-download"
	case HostToDevice:
		return "host-to-device"
	}
	return fmt.Sprintf("class(%d)", int(c))
}

func (c Class) properties() (required, preferred driver.MemoryProperty) {
	hostVisible := driver.MemoryPropertyHostVisible | driver.MemoryPropertyHostCoherent
	switch c {
	case HostUpload:
		return hostVisible, 0
	case HostDownload:
		return hostVisible, driver.MemoryPropertyHostCached
	case HostToDevice:
		return hostVisible, driver.MemoryPropertyDeviceLocal
	default:
		return driver.MemoryPropertyDeviceLocal, 0
	}
}

func (c Class) hostVisible() bool {
	return c != DeviceLocal
}

type Stats struct {
	Buffers int
	Bytes   uint64

	// Abandoned buffers were handed back while the device could still be
	// using them. They stay allocated on the device for the process lifetime.
	Abandoned      int
	AbandonedBytes uint64
}

// Allocator issues UniqueBuffers and keeps track of the ones still alive.
type Allocator struct {
	dev driver.Device
	log *zap.Logger

	mu   sync.Mutex
	live map[*UniqueBuffer]struct{}
	size uint64

	abandoned     int
	abandonedSize uint64
}

func New(dev driver.Device, log *zap.Logger) *Allocator {
	return &Allocator{
		dev:  dev,
		log:  log.Named("memory"),
		live: map[*UniqueBuffer]struct{}{},
	}
}

func (a *Allocator) Device() driver.Device {
	return a.dev
}

// Allocate creates a buffer of size bytes backed by memory of the given class.
func (a *Allocator) Allocate(size uint64, usage driver.BufferUsage, class Class) (*UniqueBuffer, error) {
	if size == 0 {
		return nil, ErrZeroSize
	}

	required, preferred := class.properties()
	buffer, memory, err := a.dev.CreateBuffer(driver.BufferDesc{
		Size:      size,
		Usage:     usage,
		Required:  required,
		Preferred: preferred,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %d bytes of %s memory: %w", ErrAllocation, size, class, err)
	}

	b := &UniqueBuffer{
		allocator: a,
		buffer:    buffer,
		memory:    memory,
		size:      size,
		usage:     usage,
		class:     class,
	}

	a.mu.Lock()
	a.live[b] = struct{}{}
	a.size += size
	a.mu.Unlock()

	a.log.Debug("allocated buffer",
		zap.Uint64("size", size),
		zap.Stringer("class", class),
		zap.Uint32("usage", uint32(usage)),
	)
	return b, nil
}

func (a *Allocator) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()

	return Stats{
		Buffers:        len(a.live),
		Bytes:          a.size,
		Abandoned:      a.abandoned,
		AbandonedBytes: a.abandonedSize,
	}
}

func (a *Allocator) free(b *UniqueBuffer) {
	a.mu.Lock()
	if _, ok := a.live[b]; ok {
		delete(a.live, b)
		a.size -= b.size
	}
	a.mu.Unlock()

	a.dev.DestroyBuffer(b.buffer, b.memory)
}

func (a *Allocator) forget(b *UniqueBuffer) {
	a.mu.Lock()
	if _, ok := a.live[b]; ok {
		delete(a.live, b)
		a.size -= b.size
		a.abandoned++
		a.abandonedSize += b.size
	}
	a.mu.Unlock()

	a.log.Warn("buffer abandoned to pending device work",
		zap.Uint64("size", b.size),
		zap.Stringer("class", b.class),
	)
}

// Close releases buffers that are still alive and reports them as leaks.
func (a *Allocator) Close() {
	a.mu.Lock()
	leaked := make([]*UniqueBuffer, 0, len(a.live))
	for b := range a.live {
		leaked = append(leaked, b)
	}
	a.mu.Unlock()

	for _, b := range leaked {
		a.log.Warn("buffer leaked until allocator close",
			zap.Uint64("size", b.size),
			zap.Stringer("class", b.class),
		)
		b.Release()
	}
}
