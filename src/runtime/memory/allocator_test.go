package memory

import (
	"errors"
	"testing"

	"github.com/WowVeryLogin/vkprism/src/runtime/driver"
	"github.com/WowVeryLogin/vkprism/src/runtime/driver/drivertest"
	"go.uber.org/zap"
)

func newAllocator(t *testing.T) (*drivertest.Device, *Allocator) {
	t.Helper()
	dev := drivertest.New()
	return dev, New(dev, zap.NewNop())
}

func TestAllocateMapsClassToMemoryProperties(t *testing.T) {
	dev, alloc := newAllocator(t)

	cases := []struct {
		class     Class
		required  driver.MemoryProperty
		preferred driver.MemoryProperty
	}{
		{DeviceLocal, driver.MemoryPropertyDeviceLocal, 0},
		{HostUpload, driver.MemoryPropertyHostVisible | driver.MemoryPropertyHostCoherent, 0},
		{HostDownload, driver.MemoryPropertyHostVisible | driver.MemoryPropertyHostCoherent, driver.MemoryPropertyHostCached},
		{HostToDevice, driver.MemoryPropertyHostVisible | driver.MemoryPropertyHostCoherent, driver.MemoryPropertyDeviceLocal},
	}

	for _, c := range cases {
		b, err := alloc.Allocate(64, driver.BufferUsageStorageBuffer, c.class)
		if err != nil {
			t.Fatalf("%s: unexpected error %v", c.class, err)
		}
		desc, ok := dev.BufferDesc(b.Handle())
		if !ok {
			t.Fatalf("%s: buffer not created on device", c.class)
		}
		if desc.Required != c.required || desc.Preferred != c.preferred {
			t.Errorf("%s: expected required %#x preferred %#x; got %#x %#x", c.class, c.required, c.preferred, desc.Required, desc.Preferred)
		}
		if desc.Size != 64 {
			t.Errorf("%s: expected size 64; got %d", c.class, desc.Size)
		}
		b.Release()
	}

	if live := dev.Live().Buffers; live != 0 {
		t.Fatalf("expected no live buffers; got %d", live)
	}
}

func TestAllocateZeroSize(t *testing.T) {
	dev, alloc := newAllocator(t)

	if _, err := alloc.Allocate(0, driver.BufferUsageStorageBuffer, DeviceLocal); !errors.Is(err, ErrZeroSize) {
		t.Fatalf("expected ErrZeroSize; got %v", err)
	}
	if n := len(dev.CreatedBuffers); n != 0 {
		t.Fatalf("expected no device allocation; got %d", n)
	}
}

func TestAllocateFailureIsAllocationError(t *testing.T) {
	dev, alloc := newAllocator(t)
	outOfMemory := errors.New("out of device memory")
	dev.FailCreateBuffer = func(driver.BufferDesc) error { return outOfMemory }

	_, err := alloc.Allocate(128, driver.BufferUsageStorageBuffer, DeviceLocal)
	if !errors.Is(err, ErrAllocation) {
		t.Fatalf("expected ErrAllocation; got %v", err)
	}
	if !errors.Is(err, outOfMemory) {
		t.Fatalf("expected device error to be wrapped; got %v", err)
	}
	if stats := alloc.Stats(); stats.Buffers != 0 || stats.Bytes != 0 {
		t.Fatalf("expected empty stats; got %+v", stats)
	}
}

func TestStatsAndCloseReleaseLeaks(t *testing.T) {
	dev, alloc := newAllocator(t)

	for _, size := range []uint64{16, 32, 64} {
		if _, err := alloc.Allocate(size, driver.BufferUsageStorageBuffer, DeviceLocal); err != nil {
			t.Fatalf("unexpected error %v", err)
		}
	}
	if stats := alloc.Stats(); stats.Buffers != 3 || stats.Bytes != 112 {
		t.Fatalf("expected 3 buffers of 112 bytes; got %+v", stats)
	}

	alloc.Close()
	if stats := alloc.Stats(); stats.Buffers != 0 || stats.Bytes != 0 {
		t.Fatalf("expected empty stats after close; got %+v", stats)
	}
	if live := dev.Live().Buffers; live != 0 {
		t.Fatalf("expected no live buffers after close; got %d", live)
	}
}
