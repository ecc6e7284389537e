package memory

import (
	"errors"
	"testing"

	"github.com/WowVeryLogin/vkprism/src/runtime/driver"
)

func TestReleaseIsIdempotent(t *testing.T) {
	dev, alloc := newAllocator(t)

	b, err := alloc.Allocate(32, driver.BufferUsageTransferSrc, HostUpload)
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	b.Release()
	b.Release()

	var nilBuffer *UniqueBuffer
	nilBuffer.Release()

	if len(dev.Faults) != 0 {
		t.Fatalf("expected a single destroy; got faults %v", dev.Faults)
	}
	if b.Valid() {
		t.Fatalf("expected released buffer to be invalid")
	}
	if _, err := b.Map(); !errors.Is(err, ErrReleased) {
		t.Fatalf("expected ErrReleased; got %v", err)
	}
}

func TestTakeMovesOwnership(t *testing.T) {
	dev, alloc := newAllocator(t)

	b, err := alloc.Allocate(32, driver.BufferUsageStorageBuffer, DeviceLocal)
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	handle := b.Handle()

	moved := b.Take()
	if b.Valid() || b.Handle() != 0 {
		t.Fatalf("expected source to be empty after Take")
	}
	if moved.Handle() != handle {
		t.Fatalf("expected moved handle %d; got %d", handle, moved.Handle())
	}

	b.Release()
	if dev.Live().Buffers != 1 {
		t.Fatalf("release of moved-from buffer freed the allocation")
	}
	moved.Release()
	if dev.Live().Buffers != 0 {
		t.Fatalf("expected moved buffer to free the allocation")
	}
	if alloc.Stats().Buffers != 0 {
		t.Fatalf("expected allocator to forget moved buffer; got %+v", alloc.Stats())
	}
}

func TestMapRules(t *testing.T) {
	dev, alloc := newAllocator(t)

	local, err := alloc.Allocate(16, driver.BufferUsageStorageBuffer, DeviceLocal)
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	defer local.Release()
	if _, err := local.Map(); !errors.Is(err, ErrNotHostVisible) {
		t.Fatalf("expected ErrNotHostVisible; got %v", err)
	}

	staging, err := alloc.Allocate(16, driver.BufferUsageTransferSrc, HostUpload)
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	defer staging.Release()

	data, err := staging.Map()
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if len(data) != 16 {
		t.Fatalf("expected 16 mapped bytes; got %d", len(data))
	}
	if _, err := staging.Map(); !errors.Is(err, ErrAlreadyMapped) {
		t.Fatalf("expected ErrAlreadyMapped; got %v", err)
	}
	if !dev.Mapped(staging.Memory()) {
		t.Fatalf("expected device memory to be mapped")
	}
	staging.Unmap()
	if dev.Mapped(staging.Memory()) {
		t.Fatalf("expected device memory to be unmapped")
	}
}

func TestDeviceAddressRequiresUsage(t *testing.T) {
	_, alloc := newAllocator(t)

	plain, err := alloc.Allocate(16, driver.BufferUsageStorageBuffer, DeviceLocal)
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	defer plain.Release()
	if _, err := plain.DeviceAddress(); !errors.Is(err, ErrNoDeviceAddress) {
		t.Fatalf("expected ErrNoDeviceAddress; got %v", err)
	}

	addressed, err := alloc.Allocate(16, driver.BufferUsageStorageBuffer|driver.BufferUsageShaderDeviceAddress, DeviceLocal)
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	defer addressed.Release()
	address, err := addressed.DeviceAddress()
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if address == 0 {
		t.Fatalf("expected a non-null device address")
	}
}

func TestUploadDownloadTyped(t *testing.T) {
	_, alloc := newAllocator(t)

	b, err := alloc.Allocate(4*4, driver.BufferUsageTransferSrc, HostDownload)
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	defer b.Release()

	want := []float32{1, 2.5, -3, 4}
	if err := Upload(b, want); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	got, err := Download[float32](b, len(want))
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("element %d: expected %v; got %v", i, want[i], got[i])
		}
	}

	if err := Upload(b, make([]float32, 5)); err == nil {
		t.Fatalf("expected oversized upload to fail")
	}
}

func TestMapAsRejectsUndersizedBuffer(t *testing.T) {
	_, alloc := newAllocator(t)

	b, err := alloc.Allocate(4, driver.BufferUsageTransferSrc, HostUpload)
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	defer b.Release()

	view, err := MapAs[uint64](b)
	if !errors.Is(err, ErrElementSize) {
		t.Fatalf("expected ErrElementSize; got view %v err %v", view, err)
	}
	if _, err := MapAs[struct{}](b); !errors.Is(err, ErrElementSize) {
		t.Fatalf("expected ErrElementSize for a zero sized element; got %v", err)
	}

	if _, err := b.Map(); err != nil {
		t.Fatalf("expected buffer to be unmapped after a failed view; got %v", err)
	}
	b.Unmap()
}

func TestAbandonKeepsDeviceBuffer(t *testing.T) {
	dev, alloc := newAllocator(t)

	b, err := alloc.Allocate(64, driver.BufferUsageTransferDst, HostUpload)
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if _, err := b.Map(); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	handle, memory := b.Handle(), b.Memory()

	b.Abandon()
	b.Abandon()
	b.Release()

	if b.Valid() {
		t.Fatalf("expected abandoned buffer to be invalid")
	}
	if _, ok := dev.BufferBytes(handle); !ok {
		t.Fatalf("expected device buffer %d to stay allocated", handle)
	}
	if dev.Mapped(memory) {
		t.Errorf("expected abandoned buffer to be unmapped")
	}

	stats := alloc.Stats()
	if stats.Buffers != 0 || stats.Bytes != 0 {
		t.Errorf("expected no live buffers; got %+v", stats)
	}
	if stats.Abandoned != 1 || stats.AbandonedBytes != 64 {
		t.Errorf("expected one abandoned 64 byte buffer; got %+v", stats)
	}

	alloc.Close()
	if live := dev.Live(); live.Buffers != 1 {
		t.Errorf("expected allocator close to leave the abandoned buffer alone; got %d live", live.Buffers)
	}
	if len(dev.Faults) != 0 {
		t.Errorf("unexpected faults %v", dev.Faults)
	}
}
