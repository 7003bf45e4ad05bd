package core

import (
	"errors"
	"fmt"

	vk "github.com/goki/vulkan"
)

var (
	ErrOutOfHostMemory = errors.New("out of host memory")
	ErrUnknown         = errors.New("unknown")
)

// VulkanError wraps a failing vk.Result together with the call that
// produced it so the failure code survives error unwrapping.
type VulkanError struct {
	Op     string
	Result vk.Result
}

func (e *VulkanError) Error() string {
	return fmt.Sprintf("%s failed with %s", e.Op, VulkanResultString(e.Result))
}

// NewVulkanError returns nil when res is vk.Success.
func NewVulkanError(op string, res vk.Result) error {
	if res == vk.Success {
		return nil
	}
	return &VulkanError{Op: op, Result: res}
}

// ResultFromError recovers the vk.Result carried by err, or
// vk.ErrorUnknown when err carries none.
func ResultFromError(err error) vk.Result {
	var ve *VulkanError
	if errors.As(err, &ve) {
		return ve.Result
	}
	if err == nil {
		return vk.Success
	}
	return vk.ErrorUnknown
}

func VulkanResultString(result vk.Result) string {
	switch result {
	case vk.Success:
		return "VK_SUCCESS"
	case vk.NotReady:
		return "VK_NOT_READY"
	case vk.Timeout:
		return "VK_TIMEOUT"
	case vk.Incomplete:
		return "VK_INCOMPLETE"
	case vk.ErrorOutOfHostMemory:
		return "VK_ERROR_OUT_OF_HOST_MEMORY"
	case vk.ErrorOutOfDeviceMemory:
		return "VK_ERROR_OUT_OF_DEVICE_MEMORY"
	case vk.ErrorInitializationFailed:
		return "VK_ERROR_INITIALIZATION_FAILED"
	case vk.ErrorDeviceLost:
		return "VK_ERROR_DEVICE_LOST"
	case vk.ErrorMemoryMapFailed:
		return "VK_ERROR_MEMORY_MAP_FAILED"
	case vk.ErrorFormatNotSupported:
		return "VK_ERROR_FORMAT_NOT_SUPPORTED"
	case vk.ErrorFragmentedPool:
		return "VK_ERROR_FRAGMENTED_POOL"
	case vk.ErrorOutOfPoolMemory:
		return "VK_ERROR_OUT_OF_POOL_MEMORY"
	default:
		return fmt.Sprintf("VK_RESULT(%d)", int32(result))
	}
}
