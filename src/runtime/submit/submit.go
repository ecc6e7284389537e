// Package submit runs one-shot command buffers to completion.
package submit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/WowVeryLogin/vkprism/src/runtime/driver"
	"go.uber.org/zap"
)

// DefaultTimeout bounds every fence wait unless configured otherwise.
const DefaultTimeout = 60 * time.Second

// ErrTimeout means a fence did not signal in time. The device is treated as
// hung; work submitted with it is abandoned rather than freed.
var ErrTimeout = errors.New("submit: fence wait expired")

// StageError names the build stage that failed.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return e.Stage + ": " + e.Err.Error()
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Queue submits recorded work and blocks until it finishes.
type Queue struct {
	dev     driver.Device
	log     *zap.Logger
	timeout time.Duration
}

func NewQueue(dev driver.Device, log *zap.Logger, timeout time.Duration) *Queue {
	if timeout < 0 {
		timeout = DefaultTimeout
	}
	return &Queue{dev: dev, log: log.Named("submit"), timeout: timeout}
}

func (q *Queue) Device() driver.Device {
	return q.dev
}

func (q *Queue) Timeout() time.Duration {
	return q.timeout
}

// Begin allocates count command buffers ready for recording.
func (q *Queue) Begin(count int) ([]driver.CommandBuffer, error) {
	cbs, err := q.dev.AllocateCommandBuffers(count)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate command buffers: %w", err)
	}
	for _, cb := range cbs {
		if err := cb.Begin(); err != nil {
			q.dev.FreeCommandBuffers(cbs)
			return nil, fmt.Errorf("failed to begin recording command buffer: %w", err)
		}
	}
	return cbs, nil
}

// Discard frees command buffers that were never submitted.
func (q *Queue) Discard(cbs []driver.CommandBuffer) {
	if len(cbs) > 0 {
		q.dev.FreeCommandBuffers(cbs)
	}
}

// SubmitAndWait ends cbs, submits them as one batch and waits on a single
// fence. The command buffers are freed unless the wait times out.
func (q *Queue) SubmitAndWait(ctx context.Context, stage string, cbs []driver.CommandBuffer) error {
	for _, cb := range cbs {
		if err := cb.End(); err != nil {
			q.Discard(cbs)
			return &StageError{Stage: stage, Err: fmt.Errorf("failed to end command buffer: %w", err)}
		}
	}

	if err := ctx.Err(); err != nil {
		q.Discard(cbs)
		return &StageError{Stage: stage, Err: err}
	}

	timeout := q.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < timeout {
			timeout = max(left, 0)
		}
	}

	start := time.Now()
	fence, err := q.dev.Submit(cbs)
	if err != nil {
		q.Discard(cbs)
		return &StageError{Stage: stage, Err: fmt.Errorf("failed to submit: %w", err)}
	}

	if err := q.dev.WaitFence(fence, timeout); err != nil {
		if errors.Is(err, driver.ErrTimeout) {
			q.log.Error("fence wait expired",
				zap.String("stage", stage),
				zap.Duration("timeout", timeout),
				zap.Int("command_buffers", len(cbs)),
			)
			return &StageError{Stage: stage, Err: fmt.Errorf("%w after %s: %w", ErrTimeout, timeout, err)}
		}
		q.dev.DestroyFence(fence)
		q.Discard(cbs)
		return &StageError{Stage: stage, Err: fmt.Errorf("failed to wait for fence: %w", err)}
	}

	q.dev.DestroyFence(fence)
	q.Discard(cbs)

	q.log.Debug("stage complete",
		zap.String("stage", stage),
		zap.Int("command_buffers", len(cbs)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return nil
}
