package decode

import (
	"encoding/binary"
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/zongdu-arm/gfxreconstruct/core"
	"github.com/zongdu-arm/gfxreconstruct/graphics"
)

// CopyDrawIndirectParameters injects a copy of an indirect draw's
// parameter span into the clone that will execute the draw, so the
// parameters can be read back after submission even if the application
// overwrites them later. Count variants clone the 4-byte count word too.
func (ctx *DrawCallsDumpingContext) CopyDrawIndirectParameters(params *DrawCallParams) error {
	ip := params.indirectParams()
	if ip == nil {
		panic("copying indirect parameters of a direct draw")
	}

	cmdSize := drawIndirectCommandSize(params.Type.IsIndexed())

	count := ip.DrawCount
	if params.Type.IsIndirectCount() {
		count = params.IndirectCount.MaxDrawCount
	}
	if count == 0 {
		return nil
	}

	stride := vk.DeviceSize(ip.Stride)
	copySize := cmdSize
	if count > 1 {
		copySize = stride*vk.DeviceSize(count-1) + cmdSize
	}

	cb := ctx.drawCloneCommandBuffer()
	if cb == nil {
		return fmt.Errorf("no active clone for indirect parameter copy")
	}

	util := graphics.NewResourcesUtil(ctx.device, nil, nil, ctx.table, ctx.memProps)

	buffer, memory, err := util.CreateStagingBuffer(copySize)
	if err != nil {
		return err
	}
	ip.NewParamsBuffer = buffer
	ip.NewParamsMemory = memory
	ip.NewParamsSize = copySize

	var regions []vk.BufferCopy
	if count > 1 && stride != cmdSize {
		regions = make([]vk.BufferCopy, count)
		for i := vk.DeviceSize(0); i < vk.DeviceSize(count); i++ {
			regions[i] = vk.BufferCopy{
				SrcOffset: ip.Offset + i*stride,
				DstOffset: i * stride,
				Size:      cmdSize,
			}
		}
	} else {
		regions = []vk.BufferCopy{{SrcOffset: ip.Offset, Size: copySize}}
	}
	ctx.table.CmdCopyBuffer(cb, ip.ParamsBuffer.Handle, buffer, regions)

	barriers := []vk.BufferMemoryBarrier{scratchBarrier(buffer, copySize)}

	if params.Type.IsIndirectCount() {
		icp := &params.IndirectCount
		countBuffer, countMemory, err := util.CreateStagingBuffer(4)
		if err != nil {
			return err
		}
		icp.NewCountBuffer = countBuffer
		icp.NewCountMemory = countMemory

		ctx.table.CmdCopyBuffer(cb, icp.CountBuffer.Handle, countBuffer,
			[]vk.BufferCopy{{SrcOffset: icp.CountOffset, Size: 4}})
		barriers = append(barriers, scratchBarrier(countBuffer, 4))
	}

	ctx.table.CmdPipelineBarrier(cb,
		vk.PipelineStageFlags(vk.PipelineStageTransferBit),
		vk.PipelineStageFlags(vk.PipelineStageTransferBit),
		0, nil, barriers, nil)

	return nil
}

// drawCloneCommandBuffer returns the clone the current draw executes
// in: with before-snapshots the even clone stops short of the draw and
// the odd one contains it.
func (ctx *DrawCallsDumpingContext) drawCloneCommandBuffer() vk.CommandBuffer {
	index := ctx.currentCBIndex
	if ctx.dumpBefore {
		index++
	}
	if index >= uint64(len(ctx.commandBuffers)) {
		return nil
	}
	return ctx.commandBuffers[index]
}

func scratchBarrier(buffer vk.Buffer, size vk.DeviceSize) vk.BufferMemoryBarrier {
	return vk.BufferMemoryBarrier{
		SType:               vk.StructureTypeBufferMemoryBarrier,
		SrcAccessMask:       vk.AccessFlags(vk.AccessTransferWriteBit),
		DstAccessMask:       vk.AccessFlags(vk.AccessTransferReadBit),
		SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
		DstQueueFamilyIndex: vk.QueueFamilyIgnored,
		Buffer:              buffer,
		Size:                size,
	}
}

// fetchDrawIndirectParams reads the cloned parameter buffers of one
// indirect draw back to the host. Must run after the clone executing the
// draw completed; scratch of draws whose clones have not been submitted
// holds nothing meaningful yet.
func (ctx *DrawCallsDumpingContext) fetchDrawIndirectParams(dcIndex uint64) error {
	params := ctx.drawCallParams[dcIndex]
	if params == nil {
		return nil
	}
	ip := params.indirectParams()
	if ip == nil || ip.NewParamsBuffer == nil {
		return nil
	}

	count := ip.DrawCount
	if params.Type.IsIndirectCount() {
		icp := &params.IndirectCount
		actual, err := ctx.readCountWord(icp)
		if err != nil {
			return err
		}
		if actual > icp.MaxDrawCount {
			actual = icp.MaxDrawCount
		}
		icp.ActualDrawCount = actual
		count = actual
	}
	if count == 0 {
		return nil
	}

	return ctx.readDrawParams(params, ip, count)
}

func (ctx *DrawCallsDumpingContext) readCountWord(icp *IndirectCountParams) (uint32, error) {
	ptr, res := ctx.table.MapMemory(ctx.device, icp.NewCountMemory, 0, 4)
	if res != vk.Success {
		return 0, core.NewVulkanError("vkMapMemory", res)
	}
	defer ctx.table.UnmapMemory(ctx.device, icp.NewCountMemory)

	data := unsafe.Slice((*byte)(ptr), 4)
	return binary.LittleEndian.Uint32(data), nil
}

func (ctx *DrawCallsDumpingContext) readDrawParams(params *DrawCallParams,
	ip *IndirectParams, count uint32) error {

	cmdSize := drawIndirectCommandSize(params.Type.IsIndexed())
	stride := vk.DeviceSize(ip.Stride)
	if stride == 0 {
		stride = cmdSize
	}
	needed := stride*vk.DeviceSize(count-1) + cmdSize
	if needed > ip.NewParamsSize {
		return fmt.Errorf("%w: %d indirect records need %d bytes, scratch holds %d",
			core.ErrOutOfHostMemory, count, needed, ip.NewParamsSize)
	}

	ptr, res := ctx.table.MapMemory(ctx.device, ip.NewParamsMemory, 0, ip.NewParamsSize)
	if res != vk.Success {
		return core.NewVulkanError("vkMapMemory", res)
	}
	defer ctx.table.UnmapMemory(ctx.device, ip.NewParamsMemory)

	data := unsafe.Slice((*byte)(ptr), ip.NewParamsSize)

	if params.Type.IsIndexed() {
		ip.IndexedDrawParams = make([]vk.DrawIndexedIndirectCommand, count)
		for i := uint32(0); i < count; i++ {
			entry := data[vk.DeviceSize(i)*stride:]
			ip.IndexedDrawParams[i] = vk.DrawIndexedIndirectCommand{
				IndexCount:    binary.LittleEndian.Uint32(entry[0:]),
				InstanceCount: binary.LittleEndian.Uint32(entry[4:]),
				FirstIndex:    binary.LittleEndian.Uint32(entry[8:]),
				VertexOffset:  int32(binary.LittleEndian.Uint32(entry[12:])),
				FirstInstance: binary.LittleEndian.Uint32(entry[16:]),
			}
		}
	} else {
		ip.DrawParams = make([]vk.DrawIndirectCommand, count)
		for i := uint32(0); i < count; i++ {
			entry := data[vk.DeviceSize(i)*stride:]
			ip.DrawParams[i] = vk.DrawIndirectCommand{
				VertexCount:   binary.LittleEndian.Uint32(entry[0:]),
				InstanceCount: binary.LittleEndian.Uint32(entry[4:]),
				FirstVertex:   binary.LittleEndian.Uint32(entry[8:]),
				FirstInstance: binary.LittleEndian.Uint32(entry[12:]),
			}
		}
	}

	return nil
}

// ResetFetchedIndirectParams drops the host copies of every indirect
// draw so a later submission of the same clones re-reads fresh values.
// The GPU scratch buffers stay alive.
func (ctx *DrawCallsDumpingContext) ResetFetchedIndirectParams() {
	for _, params := range ctx.drawCallParams {
		ip := params.indirectParams()
		if ip == nil {
			continue
		}
		ip.DrawParams = nil
		ip.IndexedDrawParams = nil
		if params.Type.IsIndirectCount() {
			params.IndirectCount.ActualDrawCount = actualDrawCountUnfetched
		}
	}
}

// releaseIndirectParams additionally destroys the GPU scratch buffers.
func (ctx *DrawCallsDumpingContext) releaseIndirectParams() {
	for _, params := range ctx.drawCallParams {
		ip := params.indirectParams()
		if ip == nil {
			continue
		}
		ip.DrawParams = nil
		ip.IndexedDrawParams = nil
		if ip.NewParamsBuffer != nil {
			ctx.table.DestroyBuffer(ctx.device, ip.NewParamsBuffer)
			ip.NewParamsBuffer = nil
		}
		if ip.NewParamsMemory != nil {
			ctx.table.FreeMemory(ctx.device, ip.NewParamsMemory)
			ip.NewParamsMemory = nil
		}
		if params.Type.IsIndirectCount() {
			icp := &params.IndirectCount
			icp.ActualDrawCount = actualDrawCountUnfetched
			if icp.NewCountBuffer != nil {
				ctx.table.DestroyBuffer(ctx.device, icp.NewCountBuffer)
				icp.NewCountBuffer = nil
			}
			if icp.NewCountMemory != nil {
				ctx.table.FreeMemory(ctx.device, icp.NewCountMemory)
				icp.NewCountMemory = nil
			}
		}
	}
}
