// Package transfer copies host arrays into device-local buffers through
// staging memory.
package transfer

import (
	"context"
	"errors"
	"fmt"

	"github.com/WowVeryLogin/vkprism/src/runtime/driver"
	"github.com/WowVeryLogin/vkprism/src/runtime/memory"
	"github.com/WowVeryLogin/vkprism/src/runtime/submit"
	"go.uber.org/zap"
)

const Stage = "transfer"

// Array is one host array and the usage its device copy needs besides
// transfer-destination.
type Array struct {
	Name  string
	Data  []byte
	Usage driver.BufferUsage
}

func Of[T any](name string, data []T, usage driver.BufferUsage) Array {
	return Array{Name: name, Data: memory.Bytes(data), Usage: usage}
}

type Engine struct {
	alloc *memory.Allocator
	queue *submit.Queue
	log   *zap.Logger
}

func New(alloc *memory.Allocator, queue *submit.Queue, log *zap.Logger) *Engine {
	return &Engine{alloc: alloc, queue: queue, log: log.Named("transfer")}
}

// Stage fills a new staging buffer with a.Data, allocates the device-local
// destination and records the copy into cb. The staging buffer must stay
// alive until cb has finished executing.
func (e *Engine) Stage(cb driver.CommandBuffer, a Array) (dst, staging *memory.UniqueBuffer, err error) {
	size := uint64(len(a.Data))

	staging, err = e.alloc.Allocate(size, driver.BufferUsageTransferSrc, memory.HostUpload)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to allocate staging buffer for %s: %w", a.Name, err)
	}
	if err := memory.Upload(staging, a.Data); err != nil {
		staging.Release()
		return nil, nil, fmt.Errorf("failed to fill staging buffer for %s: %w", a.Name, err)
	}

	dst, err = e.alloc.Allocate(size, driver.BufferUsageTransferDst|a.Usage, memory.DeviceLocal)
	if err != nil {
		staging.Release()
		return nil, nil, fmt.Errorf("failed to allocate device buffer for %s: %w", a.Name, err)
	}

	cb.CopyBuffer(staging.Handle(), dst.Handle(), driver.BufferCopy{Size: size})
	return dst, staging, nil
}

// Upload copies every non-empty array to its own device-local buffer in one
// submission and waits for it. Empty arrays yield a nil buffer in the same
// position. On error nothing allocated by the call survives, except after a
// fence timeout: then its buffers are abandoned to the pending copies.
func (e *Engine) Upload(ctx context.Context, arrays ...Array) ([]*memory.UniqueBuffer, error) {
	results := make([]*memory.UniqueBuffer, len(arrays))

	pending := 0
	for _, a := range arrays {
		if len(a.Data) > 0 {
			pending++
		}
	}
	if pending == 0 {
		return results, nil
	}

	cbs, err := e.queue.Begin(1)
	if err != nil {
		return nil, &submit.StageError{Stage: Stage, Err: err}
	}

	var staging []*memory.UniqueBuffer
	defer func() {
		for _, s := range staging {
			s.Release()
		}
	}()
	fail := func(err error) ([]*memory.UniqueBuffer, error) {
		for _, r := range results {
			r.Release()
		}
		return nil, err
	}

	for i, a := range arrays {
		if len(a.Data) == 0 {
			e.log.Debug("skipping empty array", zap.String("array", a.Name))
			continue
		}
		dst, st, err := e.Stage(cbs[0], a)
		if err != nil {
			e.queue.Discard(cbs)
			return fail(&submit.StageError{Stage: Stage, Err: err})
		}
		results[i] = dst
		staging = append(staging, st)

		e.log.Debug("staged array", zap.String("array", a.Name), zap.Int("bytes", len(a.Data)))
	}

	if err := e.queue.SubmitAndWait(ctx, Stage, cbs); err != nil {
		if errors.Is(err, submit.ErrTimeout) {
			// The copies may still run; none of their buffers can be freed.
			for _, b := range append(staging, results...) {
				b.Abandon()
			}
			e.log.Warn("abandoned buffers of an unfinished upload", zap.Int("arrays", pending))
			return nil, err
		}
		return fail(err)
	}
	return results, nil
}
