package graphics

import (
	"testing"

	vk "github.com/goki/vulkan"
)

func TestIndexTypeBytes(t *testing.T) {
	cases := []struct {
		indexType vk.IndexType
		want      uint32
	}{
		{IndexTypeUint8EXT, 1},
		{vk.IndexTypeUint16, 2},
		{vk.IndexTypeUint32, 4},
		{vk.IndexType(99), 0},
	}
	for _, c := range cases {
		if got := IndexTypeBytes(c.indexType); got != c.want {
			t.Errorf("IndexTypeBytes(%d) = %d, want %d", c.indexType, got, c.want)
		}
	}
}

func TestIndexRestartValue(t *testing.T) {
	if IndexRestartValue(IndexTypeUint8EXT) != 0xFF {
		t.Error("uint8 restart value")
	}
	if IndexRestartValue(vk.IndexTypeUint16) != 0xFFFF {
		t.Error("uint16 restart value")
	}
	if IndexRestartValue(vk.IndexTypeUint32) != 0xFFFFFFFF {
		t.Error("uint32 restart value")
	}
}

func TestFormatElementSize(t *testing.T) {
	cases := []struct {
		format vk.Format
		want   uint32
	}{
		{vk.FormatR8Unorm, 1},
		{vk.FormatR16Sfloat, 2},
		{vk.FormatR8g8b8a8Unorm, 4},
		{vk.FormatB8g8r8a8Srgb, 4},
		{vk.FormatD24UnormS8Uint, 4},
		{vk.FormatR32g32b32Sfloat, 12},
		{vk.FormatR32g32b32a32Sfloat, 16},
		{vk.FormatR64g64b64a64Sfloat, 32},
		{vk.FormatBc1RgbUnormBlock, 0},
	}
	for _, c := range cases {
		if got := FormatElementSize(c.format); got != c.want {
			t.Errorf("FormatElementSize(%d) = %d, want %d", c.format, got, c.want)
		}
	}
}

func TestImageAspectForFormat(t *testing.T) {
	if ImageAspectForFormat(vk.FormatD32Sfloat) != vk.ImageAspectDepthBit {
		t.Error("depth formats read the depth aspect")
	}
	if ImageAspectForFormat(vk.FormatR8g8b8a8Unorm) != vk.ImageAspectColorBit {
		t.Error("color formats read the color aspect")
	}
}
