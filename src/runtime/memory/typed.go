package memory

import (
	"fmt"
	"unsafe"
)

// MapAs maps b and views it as a slice of T. b stays mapped only on success.
func MapAs[T any](b *UniqueBuffer) ([]T, error) {
	var t T
	elementSize := int(unsafe.Sizeof(t))
	if elementSize == 0 {
		return nil, fmt.Errorf("%w: zero sized element %T", ErrElementSize, t)
	}

	raw, err := b.Map()
	if err != nil {
		return nil, err
	}
	if len(raw) < elementSize {
		b.Unmap()
		return nil, fmt.Errorf("%w: %d byte buffer holds no %d byte %T", ErrElementSize, len(raw), elementSize, t)
	}
	return unsafe.Slice((*T)(unsafe.Pointer(&raw[0])), len(raw)/elementSize), nil
}

// Upload copies data into the start of a host visible buffer.
func Upload[T any](b *UniqueBuffer, data []T) error {
	src := Bytes(data)
	if uint64(len(src)) > b.Size() {
		return fmt.Errorf("memory: upload of %d bytes into buffer of %d", len(src), b.Size())
	}

	dst, err := b.Map()
	if err != nil {
		return err
	}
	copy(dst, src)
	b.Unmap()
	return nil
}

// Download copies the contents of a host visible buffer out as count values of T.
func Download[T any](b *UniqueBuffer, count int) ([]T, error) {
	view, err := MapAs[T](b)
	if err != nil {
		return nil, err
	}
	defer b.Unmap()

	if count > len(view) {
		return nil, fmt.Errorf("memory: download of %d elements from buffer holding %d", count, len(view))
	}
	return append([]T(nil), view[:count]...), nil
}

// Bytes reinterprets a slice of plain values as its raw bytes.
func Bytes[T any](data []T) []byte {
	if len(data) == 0 {
		return nil
	}
	var t T
	return unsafe.Slice((*byte)(unsafe.Pointer(&data[0])), len(data)*int(unsafe.Sizeof(t)))
}
