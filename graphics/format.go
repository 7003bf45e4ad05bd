package graphics

import (
	"math"

	vk "github.com/goki/vulkan"
)

// IndexTypeUint8EXT is VK_INDEX_TYPE_UINT8_EXT from VK_EXT_index_type_uint8.
const IndexTypeUint8EXT = vk.IndexType(1000265000)

// IndexTypeBytes returns the width in bytes of one index of the given type.
func IndexTypeBytes(t vk.IndexType) uint32 {
	switch t {
	case IndexTypeUint8EXT:
		return 1
	case vk.IndexTypeUint16:
		return 2
	case vk.IndexTypeUint32:
		return 4
	default:
		return 0
	}
}

// IndexRestartValue returns the primitive restart index for the given
// index type, the all-ones value of its width.
func IndexRestartValue(t vk.IndexType) uint32 {
	switch t {
	case IndexTypeUint8EXT:
		return math.MaxUint8
	case vk.IndexTypeUint16:
		return math.MaxUint16
	default:
		return math.MaxUint32
	}
}

// FormatHasStencil reports whether the format carries a stencil aspect.
func FormatHasStencil(format vk.Format) bool {
	switch format {
	case vk.FormatS8Uint,
		vk.FormatD16UnormS8Uint,
		vk.FormatD24UnormS8Uint,
		vk.FormatD32SfloatS8Uint:
		return true
	default:
		return false
	}
}

// FormatHasDepth reports whether the format carries a depth aspect.
func FormatHasDepth(format vk.Format) bool {
	switch format {
	case vk.FormatD16Unorm,
		vk.FormatX8D24UnormPack32,
		vk.FormatD32Sfloat,
		vk.FormatD16UnormS8Uint,
		vk.FormatD24UnormS8Uint,
		vk.FormatD32SfloatS8Uint:
		return true
	default:
		return false
	}
}

// FormatElementSize returns the byte size of one texel (or one vertex
// attribute element) of the given format. Block-compressed formats are
// not used as vertex attributes or readable attachments and report 0.
func FormatElementSize(format vk.Format) uint32 {
	switch format {
	case vk.FormatR8Unorm, vk.FormatR8Snorm, vk.FormatR8Uint, vk.FormatR8Sint, vk.FormatR8Srgb,
		vk.FormatS8Uint:
		return 1

	case vk.FormatR8g8Unorm, vk.FormatR8g8Snorm, vk.FormatR8g8Uint, vk.FormatR8g8Sint,
		vk.FormatR16Unorm, vk.FormatR16Snorm, vk.FormatR16Uint, vk.FormatR16Sint, vk.FormatR16Sfloat,
		vk.FormatD16Unorm,
		vk.FormatR5g6b5UnormPack16, vk.FormatR4g4b4a4UnormPack16, vk.FormatR5g5b5a1UnormPack16:
		return 2

	case vk.FormatR8g8b8Unorm, vk.FormatR8g8b8Snorm, vk.FormatR8g8b8Uint, vk.FormatR8g8b8Sint,
		vk.FormatB8g8r8Unorm, vk.FormatD16UnormS8Uint:
		return 3

	case vk.FormatR8g8b8a8Unorm, vk.FormatR8g8b8a8Snorm, vk.FormatR8g8b8a8Uint, vk.FormatR8g8b8a8Sint, vk.FormatR8g8b8a8Srgb,
		vk.FormatB8g8r8a8Unorm, vk.FormatB8g8r8a8Srgb,
		vk.FormatA8b8g8r8UnormPack32, vk.FormatA2b10g10r10UnormPack32, vk.FormatA2r10g10b10UnormPack32,
		vk.FormatB10g11r11UfloatPack32, vk.FormatE5b9g9r9UfloatPack32,
		vk.FormatR16g16Unorm, vk.FormatR16g16Snorm, vk.FormatR16g16Uint, vk.FormatR16g16Sint, vk.FormatR16g16Sfloat,
		vk.FormatR32Uint, vk.FormatR32Sint, vk.FormatR32Sfloat,
		vk.FormatD32Sfloat, vk.FormatD24UnormS8Uint, vk.FormatX8D24UnormPack32:
		return 4

	case vk.FormatD32SfloatS8Uint:
		return 5

	case vk.FormatR16g16b16Unorm, vk.FormatR16g16b16Snorm, vk.FormatR16g16b16Uint, vk.FormatR16g16b16Sint, vk.FormatR16g16b16Sfloat:
		return 6

	case vk.FormatR16g16b16a16Unorm, vk.FormatR16g16b16a16Snorm, vk.FormatR16g16b16a16Uint, vk.FormatR16g16b16a16Sint, vk.FormatR16g16b16a16Sfloat,
		vk.FormatR32g32Uint, vk.FormatR32g32Sint, vk.FormatR32g32Sfloat,
		vk.FormatR64Uint, vk.FormatR64Sint, vk.FormatR64Sfloat:
		return 8

	case vk.FormatR32g32b32Uint, vk.FormatR32g32b32Sint, vk.FormatR32g32b32Sfloat:
		return 12

	case vk.FormatR32g32b32a32Uint, vk.FormatR32g32b32a32Sint, vk.FormatR32g32b32a32Sfloat,
		vk.FormatR64g64Uint, vk.FormatR64g64Sint, vk.FormatR64g64Sfloat:
		return 16

	case vk.FormatR64g64b64Uint, vk.FormatR64g64b64Sint, vk.FormatR64g64b64Sfloat:
		return 24

	case vk.FormatR64g64b64a64Uint, vk.FormatR64g64b64a64Sint, vk.FormatR64g64b64a64Sfloat:
		return 32

	default:
		return 0
	}
}

// ImageAspectForFormat returns the aspect the dumper reads back for the
// given format: depth for depth formats, color for everything else.
// Stencil contents are not read separately.
func ImageAspectForFormat(format vk.Format) vk.ImageAspectFlagBits {
	if FormatHasDepth(format) {
		return vk.ImageAspectDepthBit
	}
	return vk.ImageAspectColorBit
}
