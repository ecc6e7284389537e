package driver

import "fmt"

// Result mirrors VkResult for the calls whose non-zero codes carry meaning.
type Result int32

const (
	Success                   Result = 0
	NotReady                  Result = 1
	Timeout                   Result = 2
	ErrorOutOfHostMemory      Result = -1
	ErrorOutOfDeviceMemory    Result = -2
	ErrorInitializationFailed Result = -3
	ErrorDeviceLost           Result = -4
	OperationDeferred         Result = 1000268002
	OperationNotDeferred      Result = 1000268003
	PipelineCompileRequired   Result = 1000297000
)

func (r Result) String() string {
	switch r {
	case Success:
		return "success"
	case NotReady:
		return "not ready"
	case Timeout:
		return "timeout"
	case ErrorOutOfHostMemory:
		return "out of host memory"
	case ErrorOutOfDeviceMemory:
		return "out of device memory"
	case ErrorInitializationFailed:
		return "initialization failed"
	case ErrorDeviceLost:
		return "device lost"
	case OperationDeferred:
		return "operation deferred"
	case OperationNotDeferred:
		return "operation not deferred"
	case PipelineCompileRequired:
		return "pipeline compile required"
	}
	return fmt.Sprintf("vulkan result %d", int32(r))
}
