package graphics

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/zongdu-arm/gfxreconstruct/core"
)

// ResourcesUtil reads GPU resource contents back to the host through a
// host-visible staging buffer. All submissions are serialized on the
// supplied queue and command buffer; the caller guarantees both are idle
// between calls.
type ResourcesUtil struct {
	device   vk.Device
	queue    vk.Queue
	cmdBuf   vk.CommandBuffer
	table    DeviceTable
	memProps vk.PhysicalDeviceMemoryProperties
}

func NewResourcesUtil(device vk.Device, queue vk.Queue, cmdBuf vk.CommandBuffer,
	table DeviceTable, memProps vk.PhysicalDeviceMemoryProperties) *ResourcesUtil {
	return &ResourcesUtil{
		device:   device,
		queue:    queue,
		cmdBuf:   cmdBuf,
		table:    table,
		memProps: memProps,
	}
}

// FindMemoryTypeIndex returns the first memory type matching typeBits
// with all the requested property flags.
func (ru *ResourcesUtil) FindMemoryTypeIndex(typeBits uint32, flags vk.MemoryPropertyFlags) (uint32, error) {
	for i := uint32(0); i < ru.memProps.MemoryTypeCount; i++ {
		ru.memProps.MemoryTypes[i].Deref()
		if typeBits&(1<<i) != 0 && ru.memProps.MemoryTypes[i].PropertyFlags&flags == flags {
			return i, nil
		}
	}
	return 0, fmt.Errorf("no memory type matches filter 0x%x with flags 0x%x", typeBits, flags)
}

// CreateStagingBuffer allocates a host-visible, coherent buffer usable as
// both transfer source and destination.
func (ru *ResourcesUtil) CreateStagingBuffer(size vk.DeviceSize) (vk.Buffer, vk.DeviceMemory, error) {
	bufferInfo := vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        size,
		Usage:       vk.BufferUsageFlags(vk.BufferUsageTransferSrcBit) | vk.BufferUsageFlags(vk.BufferUsageTransferDstBit),
		SharingMode: vk.SharingModeExclusive,
	}

	buffer, res := ru.table.CreateBuffer(ru.device, &bufferInfo)
	if res != vk.Success {
		return nil, nil, core.NewVulkanError("vkCreateBuffer", res)
	}

	memReqs := ru.table.GetBufferMemoryRequirements(ru.device, buffer)

	memTypeIndex, err := ru.FindMemoryTypeIndex(memReqs.MemoryTypeBits,
		vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit)|vk.MemoryPropertyFlags(vk.MemoryPropertyHostCoherentBit))
	if err != nil {
		ru.table.DestroyBuffer(ru.device, buffer)
		return nil, nil, err
	}

	allocInfo := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  memReqs.Size,
		MemoryTypeIndex: memTypeIndex,
	}

	memory, res := ru.table.AllocateMemory(ru.device, &allocInfo)
	if res != vk.Success {
		ru.table.DestroyBuffer(ru.device, buffer)
		return nil, nil, core.NewVulkanError("vkAllocateMemory", res)
	}

	if res := ru.table.BindBufferMemory(ru.device, buffer, memory, 0); res != vk.Success {
		ru.table.FreeMemory(ru.device, memory)
		ru.table.DestroyBuffer(ru.device, buffer)
		return nil, nil, core.NewVulkanError("vkBindBufferMemory", res)
	}

	return buffer, memory, nil
}

// ReadFromBufferResource copies size bytes starting at offset out of the
// given buffer and returns them.
func (ru *ResourcesUtil) ReadFromBufferResource(buffer vk.Buffer, size, offset vk.DeviceSize) ([]byte, error) {
	if size == 0 {
		return nil, nil
	}

	staging, stagingMem, err := ru.CreateStagingBuffer(size)
	if err != nil {
		return nil, err
	}
	defer func() {
		ru.table.DestroyBuffer(ru.device, staging)
		ru.table.FreeMemory(ru.device, stagingMem)
	}()

	beginInfo := vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit),
	}
	if res := ru.table.BeginCommandBuffer(ru.cmdBuf, &beginInfo); res != vk.Success {
		return nil, core.NewVulkanError("vkBeginCommandBuffer", res)
	}

	region := vk.BufferCopy{SrcOffset: offset, DstOffset: 0, Size: size}
	ru.table.CmdCopyBuffer(ru.cmdBuf, buffer, staging, []vk.BufferCopy{region})

	barrier := vk.BufferMemoryBarrier{
		SType:               vk.StructureTypeBufferMemoryBarrier,
		SrcAccessMask:       vk.AccessFlags(vk.AccessTransferWriteBit),
		DstAccessMask:       vk.AccessFlags(vk.AccessHostReadBit),
		SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
		DstQueueFamilyIndex: vk.QueueFamilyIgnored,
		Buffer:              staging,
		Offset:              0,
		Size:                size,
	}
	ru.table.CmdPipelineBarrier(ru.cmdBuf,
		vk.PipelineStageFlags(vk.PipelineStageTransferBit),
		vk.PipelineStageFlags(vk.PipelineStageHostBit),
		0, nil, []vk.BufferMemoryBarrier{barrier}, nil)

	if err := ru.submitAndWait(); err != nil {
		return nil, err
	}

	return ru.mapAndCopy(stagingMem, size)
}

// ReadFromImageResource copies one mip level / layer of an image in
// TransferSrcOptimal layout into host memory, tightly packed.
func (ru *ResourcesUtil) ReadFromImageResource(image vk.Image, format vk.Format,
	width, height uint32, aspect vk.ImageAspectFlagBits) ([]byte, error) {

	texelSize := FormatElementSize(format)
	if texelSize == 0 {
		return nil, fmt.Errorf("format %d has no readable element size", format)
	}
	if aspect == vk.ImageAspectDepthBit && FormatHasStencil(format) {
		// Depth aspect copies of packed depth/stencil formats write only
		// the depth payload.
		switch format {
		case vk.FormatD16UnormS8Uint:
			texelSize = 2
		case vk.FormatD24UnormS8Uint, vk.FormatD32SfloatS8Uint:
			texelSize = 4
		}
	}

	size := vk.DeviceSize(width) * vk.DeviceSize(height) * vk.DeviceSize(texelSize)
	staging, stagingMem, err := ru.CreateStagingBuffer(size)
	if err != nil {
		return nil, err
	}
	defer func() {
		ru.table.DestroyBuffer(ru.device, staging)
		ru.table.FreeMemory(ru.device, stagingMem)
	}()

	beginInfo := vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit),
	}
	if res := ru.table.BeginCommandBuffer(ru.cmdBuf, &beginInfo); res != vk.Success {
		return nil, core.NewVulkanError("vkBeginCommandBuffer", res)
	}

	region := vk.BufferImageCopy{
		BufferOffset:      0,
		BufferRowLength:   0,
		BufferImageHeight: 0,
		ImageSubresource: vk.ImageSubresourceLayers{
			AspectMask:     vk.ImageAspectFlags(aspect),
			MipLevel:       0,
			BaseArrayLayer: 0,
			LayerCount:     1,
		},
		ImageOffset: vk.Offset3D{X: 0, Y: 0, Z: 0},
		ImageExtent: vk.Extent3D{Width: width, Height: height, Depth: 1},
	}
	ru.table.CmdCopyImageToBuffer(ru.cmdBuf, image, vk.ImageLayoutTransferSrcOptimal, staging,
		[]vk.BufferImageCopy{region})

	barrier := vk.BufferMemoryBarrier{
		SType:               vk.StructureTypeBufferMemoryBarrier,
		SrcAccessMask:       vk.AccessFlags(vk.AccessTransferWriteBit),
		DstAccessMask:       vk.AccessFlags(vk.AccessHostReadBit),
		SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
		DstQueueFamilyIndex: vk.QueueFamilyIgnored,
		Buffer:              staging,
		Offset:              0,
		Size:                size,
	}
	ru.table.CmdPipelineBarrier(ru.cmdBuf,
		vk.PipelineStageFlags(vk.PipelineStageTransferBit),
		vk.PipelineStageFlags(vk.PipelineStageHostBit),
		0, nil, []vk.BufferMemoryBarrier{barrier}, nil)

	if err := ru.submitAndWait(); err != nil {
		return nil, err
	}

	return ru.mapAndCopy(stagingMem, size)
}

func (ru *ResourcesUtil) submitAndWait() error {
	if res := ru.table.EndCommandBuffer(ru.cmdBuf); res != vk.Success {
		return core.NewVulkanError("vkEndCommandBuffer", res)
	}

	submitInfo := vk.SubmitInfo{
		SType:              vk.StructureTypeSubmitInfo,
		CommandBufferCount: 1,
		PCommandBuffers:    []vk.CommandBuffer{ru.cmdBuf},
	}
	if res := ru.table.QueueSubmit(ru.queue, []vk.SubmitInfo{submitInfo}, nil); res != vk.Success {
		return core.NewVulkanError("vkQueueSubmit", res)
	}

	if res := ru.table.QueueWaitIdle(ru.queue); res != vk.Success {
		return core.NewVulkanError("vkQueueWaitIdle", res)
	}

	return nil
}

func (ru *ResourcesUtil) mapAndCopy(memory vk.DeviceMemory, size vk.DeviceSize) ([]byte, error) {
	ptr, res := ru.table.MapMemory(ru.device, memory, 0, size)
	if res != vk.Success {
		return nil, core.NewVulkanError("vkMapMemory", res)
	}
	defer ru.table.UnmapMemory(ru.device, memory)

	data := make([]byte, size)
	copy(data, unsafe.Slice((*byte)(ptr), size))

	core.DumpMetrics().BytesRead.Add(float64(size))

	return data, nil
}
