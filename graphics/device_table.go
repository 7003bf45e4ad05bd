// Package graphics provides the GPU-side plumbing for the resource
// dumper: a per-device dispatch abstraction, scratch buffer cloning and
// staged readback of buffer and image contents.
package graphics

import (
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/zongdu-arm/gfxreconstruct/core"
)

// DeviceTable is the slice of the Vulkan device/queue API the dumper
// drives. Production code uses the goki/vulkan backed table returned by
// NewDeviceTable; tests substitute recording fakes.
type DeviceTable interface {
	AllocateCommandBuffers(device vk.Device, info *vk.CommandBufferAllocateInfo, bufs []vk.CommandBuffer) vk.Result
	FreeCommandBuffers(device vk.Device, pool vk.CommandPool, bufs []vk.CommandBuffer)
	BeginCommandBuffer(cb vk.CommandBuffer, info *vk.CommandBufferBeginInfo) vk.Result
	EndCommandBuffer(cb vk.CommandBuffer) vk.Result

	CreateFence(device vk.Device, info *vk.FenceCreateInfo) (vk.Fence, vk.Result)
	DestroyFence(device vk.Device, fence vk.Fence)
	ResetFences(device vk.Device, fences []vk.Fence) vk.Result
	WaitForFences(device vk.Device, fences []vk.Fence, timeoutNs uint64) vk.Result

	QueueSubmit(queue vk.Queue, infos []vk.SubmitInfo, fence vk.Fence) vk.Result
	QueueWaitIdle(queue vk.Queue) vk.Result

	CreateRenderPass(device vk.Device, info *vk.RenderPassCreateInfo) (vk.RenderPass, vk.Result)
	DestroyRenderPass(device vk.Device, renderPass vk.RenderPass)

	CreateBuffer(device vk.Device, info *vk.BufferCreateInfo) (vk.Buffer, vk.Result)
	DestroyBuffer(device vk.Device, buffer vk.Buffer)
	GetBufferMemoryRequirements(device vk.Device, buffer vk.Buffer) vk.MemoryRequirements
	AllocateMemory(device vk.Device, info *vk.MemoryAllocateInfo) (vk.DeviceMemory, vk.Result)
	FreeMemory(device vk.Device, memory vk.DeviceMemory)
	BindBufferMemory(device vk.Device, buffer vk.Buffer, memory vk.DeviceMemory, offset vk.DeviceSize) vk.Result
	MapMemory(device vk.Device, memory vk.DeviceMemory, offset, size vk.DeviceSize) (unsafe.Pointer, vk.Result)
	UnmapMemory(device vk.Device, memory vk.DeviceMemory)

	CmdCopyBuffer(cb vk.CommandBuffer, src, dst vk.Buffer, regions []vk.BufferCopy)
	CmdCopyImageToBuffer(cb vk.CommandBuffer, image vk.Image, layout vk.ImageLayout, buffer vk.Buffer, regions []vk.BufferImageCopy)
	CmdPipelineBarrier(cb vk.CommandBuffer, srcStage, dstStage vk.PipelineStageFlags, flags vk.DependencyFlags,
		memBarriers []vk.MemoryBarrier, bufBarriers []vk.BufferMemoryBarrier, imgBarriers []vk.ImageMemoryBarrier)
	CmdBeginRenderPass(cb vk.CommandBuffer, info *vk.RenderPassBeginInfo, contents vk.SubpassContents)
	CmdNextSubpass(cb vk.CommandBuffer, contents vk.SubpassContents)
	CmdEndRenderPass(cb vk.CommandBuffer)
	CmdEndRendering(cb vk.CommandBuffer)
}

type liveTable struct{}

// NewDeviceTable returns the dispatch table backed by the loaded Vulkan
// driver.
func NewDeviceTable() DeviceTable {
	return liveTable{}
}

func (liveTable) AllocateCommandBuffers(device vk.Device, info *vk.CommandBufferAllocateInfo, bufs []vk.CommandBuffer) vk.Result {
	return vk.AllocateCommandBuffers(device, info, bufs)
}

func (liveTable) FreeCommandBuffers(device vk.Device, pool vk.CommandPool, bufs []vk.CommandBuffer) {
	vk.FreeCommandBuffers(device, pool, uint32(len(bufs)), bufs)
}

func (liveTable) BeginCommandBuffer(cb vk.CommandBuffer, info *vk.CommandBufferBeginInfo) vk.Result {
	return vk.BeginCommandBuffer(cb, info)
}

func (liveTable) EndCommandBuffer(cb vk.CommandBuffer) vk.Result {
	return vk.EndCommandBuffer(cb)
}

func (liveTable) CreateFence(device vk.Device, info *vk.FenceCreateInfo) (vk.Fence, vk.Result) {
	var fence vk.Fence
	res := vk.CreateFence(device, info, nil, &fence)
	return fence, res
}

func (liveTable) DestroyFence(device vk.Device, fence vk.Fence) {
	vk.DestroyFence(device, fence, nil)
}

func (liveTable) ResetFences(device vk.Device, fences []vk.Fence) vk.Result {
	return vk.ResetFences(device, uint32(len(fences)), fences)
}

func (liveTable) WaitForFences(device vk.Device, fences []vk.Fence, timeoutNs uint64) vk.Result {
	return vk.WaitForFences(device, uint32(len(fences)), fences, vk.True, timeoutNs)
}

func (liveTable) QueueSubmit(queue vk.Queue, infos []vk.SubmitInfo, fence vk.Fence) vk.Result {
	return vk.QueueSubmit(queue, uint32(len(infos)), infos, fence)
}

func (liveTable) QueueWaitIdle(queue vk.Queue) vk.Result {
	return vk.QueueWaitIdle(queue)
}

func (liveTable) CreateRenderPass(device vk.Device, info *vk.RenderPassCreateInfo) (vk.RenderPass, vk.Result) {
	var renderPass vk.RenderPass
	res := vk.CreateRenderPass(device, info, nil, &renderPass)
	return renderPass, res
}

func (liveTable) DestroyRenderPass(device vk.Device, renderPass vk.RenderPass) {
	vk.DestroyRenderPass(device, renderPass, nil)
}

func (liveTable) CreateBuffer(device vk.Device, info *vk.BufferCreateInfo) (vk.Buffer, vk.Result) {
	var buffer vk.Buffer
	res := vk.CreateBuffer(device, info, nil, &buffer)
	return buffer, res
}

func (liveTable) DestroyBuffer(device vk.Device, buffer vk.Buffer) {
	vk.DestroyBuffer(device, buffer, nil)
}

func (liveTable) GetBufferMemoryRequirements(device vk.Device, buffer vk.Buffer) vk.MemoryRequirements {
	var memReqs vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(device, buffer, &memReqs)
	memReqs.Deref()
	return memReqs
}

func (liveTable) AllocateMemory(device vk.Device, info *vk.MemoryAllocateInfo) (vk.DeviceMemory, vk.Result) {
	var memory vk.DeviceMemory
	res := vk.AllocateMemory(device, info, nil, &memory)
	return memory, res
}

func (liveTable) FreeMemory(device vk.Device, memory vk.DeviceMemory) {
	vk.FreeMemory(device, memory, nil)
}

func (liveTable) BindBufferMemory(device vk.Device, buffer vk.Buffer, memory vk.DeviceMemory, offset vk.DeviceSize) vk.Result {
	return vk.BindBufferMemory(device, buffer, memory, offset)
}

func (liveTable) MapMemory(device vk.Device, memory vk.DeviceMemory, offset, size vk.DeviceSize) (unsafe.Pointer, vk.Result) {
	var data unsafe.Pointer
	res := vk.MapMemory(device, memory, offset, size, 0, &data)
	return data, res
}

func (liveTable) UnmapMemory(device vk.Device, memory vk.DeviceMemory) {
	vk.UnmapMemory(device, memory)
}

func (liveTable) CmdCopyBuffer(cb vk.CommandBuffer, src, dst vk.Buffer, regions []vk.BufferCopy) {
	vk.CmdCopyBuffer(cb, src, dst, uint32(len(regions)), regions)
}

func (liveTable) CmdCopyImageToBuffer(cb vk.CommandBuffer, image vk.Image, layout vk.ImageLayout, buffer vk.Buffer, regions []vk.BufferImageCopy) {
	vk.CmdCopyImageToBuffer(cb, image, layout, buffer, uint32(len(regions)), regions)
}

func (liveTable) CmdPipelineBarrier(cb vk.CommandBuffer, srcStage, dstStage vk.PipelineStageFlags, flags vk.DependencyFlags,
	memBarriers []vk.MemoryBarrier, bufBarriers []vk.BufferMemoryBarrier, imgBarriers []vk.ImageMemoryBarrier) {
	vk.CmdPipelineBarrier(cb, srcStage, dstStage, flags,
		uint32(len(memBarriers)), memBarriers,
		uint32(len(bufBarriers)), bufBarriers,
		uint32(len(imgBarriers)), imgBarriers)
}

func (liveTable) CmdBeginRenderPass(cb vk.CommandBuffer, info *vk.RenderPassBeginInfo, contents vk.SubpassContents) {
	vk.CmdBeginRenderPass(cb, info, contents)
}

func (liveTable) CmdNextSubpass(cb vk.CommandBuffer, contents vk.SubpassContents) {
	vk.CmdNextSubpass(cb, contents)
}

func (liveTable) CmdEndRenderPass(cb vk.CommandBuffer) {
	vk.CmdEndRenderPass(cb)
}

// The binding exposes no VK_KHR_dynamic_rendering entry points, so the
// live table cannot record vkCmdEndRendering. The clone stays open and
// fails validation at submit instead of crashing the replay here.
func (liveTable) CmdEndRendering(cb vk.CommandBuffer) {
	core.LogWarnOnce("cmd-end-rendering",
		"vkCmdEndRendering is unavailable through the loaded Vulkan binding; dynamic rendering clones cannot be finalized")
}
