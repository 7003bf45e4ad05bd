package decode

import (
	"fmt"
	"math"

	vk "github.com/goki/vulkan"

	"github.com/zongdu-arm/gfxreconstruct/core"
	"github.com/zongdu-arm/gfxreconstruct/graphics"
)

// DumpDrawCalls submits the finalized clones one by one in place of the
// original command buffer and extracts each targeted draw's resources
// after its clone completes. The caller's wait semaphores gate only the
// first submission and its signal semaphores fire only on the last, so
// the batch is externally indistinguishable from the original submit.
func (ctx *DrawCallsDumpingContext) DumpDrawCalls(queue vk.Queue,
	waitSemaphores []vk.Semaphore, waitDstStages []vk.PipelineStageFlags,
	signalSemaphores []vk.Semaphore, callerFence vk.Fence) error {

	if len(ctx.commandBuffers) == 0 {
		return fmt.Errorf("no cloned command buffers to submit")
	}

	core.LogInfo("dumping %d draw calls (%d submissions) for dump %s",
		len(ctx.drawIndices), len(ctx.commandBuffers), ctx.id)

	if err := ctx.submitAndDumpClones(queue, waitSemaphores, waitDstStages, signalSemaphores, callerFence); err != nil {
		core.LogError("dump %s aborted: %v", ctx.id, err)
		core.DumpMetrics().DumpFailuresTotal.Inc()
		return err
	}

	ctx.ResetFetchedIndirectParams()
	for i := range ctx.dumpedDescriptors {
		ctx.dumpedDescriptors[i] = newDumpedDescriptors()
	}

	return nil
}

func (ctx *DrawCallsDumpingContext) submitAndDumpClones(queue vk.Queue,
	waitSemaphores []vk.Semaphore, waitDstStages []vk.PipelineStageFlags,
	signalSemaphores []vk.Semaphore, callerFence vk.Fence) error {

	util := graphics.NewResourcesUtil(ctx.device, queue, ctx.auxCommandBuffer, ctx.table, ctx.memProps)

	for cb := uint64(0); cb < uint64(len(ctx.commandBuffers)); cb++ {
		first := cb == 0
		last := cb == uint64(len(ctx.commandBuffers))-1

		submitInfo := vk.SubmitInfo{
			SType:              vk.StructureTypeSubmitInfo,
			CommandBufferCount: 1,
			PCommandBuffers:    []vk.CommandBuffer{ctx.commandBuffers[cb]},
		}
		if first {
			submitInfo.WaitSemaphoreCount = uint32(len(waitSemaphores))
			submitInfo.PWaitSemaphores = waitSemaphores
			submitInfo.PWaitDstStageMask = waitDstStages
		}
		if last {
			submitInfo.SignalSemaphoreCount = uint32(len(signalSemaphores))
			submitInfo.PSignalSemaphores = signalSemaphores
		}

		fence := callerFence
		ownFence := false
		if !last || fence == nil {
			fenceInfo := vk.FenceCreateInfo{SType: vk.StructureTypeFenceCreateInfo}
			var res vk.Result
			fence, res = ctx.table.CreateFence(ctx.device, &fenceInfo)
			if res != vk.Success {
				return core.NewVulkanError("vkCreateFence", res)
			}
			ownFence = true
		}

		if res := ctx.table.QueueSubmit(queue, []vk.SubmitInfo{submitInfo}, fence); res != vk.Success {
			if ownFence {
				ctx.table.DestroyFence(ctx.device, fence)
			}
			return core.NewVulkanError("vkQueueSubmit", res)
		}
		core.DumpMetrics().SubmissionsTotal.Inc()

		res := ctx.table.WaitForFences(ctx.device, []vk.Fence{fence}, math.MaxUint64)
		if ownFence {
			ctx.table.DestroyFence(ctx.device, fence)
		}
		if res != vk.Success {
			return core.NewVulkanError("vkWaitForFences", res)
		}

		if err := ctx.dumpCompletedClone(util, queue, cb); err != nil {
			return err
		}
	}

	return nil
}

// dumpCompletedClone extracts everything the clone's draw produced or
// consumed. Render targets are dumped for both halves of a before/after
// pair; inputs and the draw summary only once, after the draw executed.
func (ctx *DrawCallsDumpingContext) dumpCompletedClone(util *graphics.ResourcesUtil,
	queue vk.Queue, cb uint64) error {

	dcIndex := ctx.drawIndices[ctx.CmdBufToDCVectorIndex(cb)]
	params := ctx.drawCallParams[dcIndex]
	if params == nil {
		return fmt.Errorf("no parameters recorded for draw %d", dcIndex)
	}

	drawExecuted := !ctx.isBeforeCommandBuffer(cb)

	if drawExecuted && params.Type.IsIndirect() {
		if err := ctx.fetchDrawIndirectParams(dcIndex); err != nil {
			return fmt.Errorf("fetching indirect parameters of draw %d: %w", dcIndex, err)
		}
	}

	if drawExecuted && ctx.dumpVertexIdx {
		if err := ctx.dumpVertexIndexBuffers(util, cb, dcIndex, params); err != nil {
			return err
		}
	}

	if err := ctx.dumpRenderTargetAttachments(util, cb, dcIndex); err != nil {
		return err
	}

	if drawExecuted && ctx.dumpImmutable {
		if err := ctx.dumpImmutableDescriptors(util, cb, dcIndex, params); err != nil {
			return err
		}
	}

	if drawExecuted {
		if err := ctx.delegate.DumpDrawCallInfo(ctx.buildDrawCallInfo(cb, dcIndex, params)); err != nil {
			return fmt.Errorf("delegate rejected draw call info for draw %d: %w", dcIndex, err)
		}
		core.DumpMetrics().DrawCallsDumped.Inc()
	}

	return ctx.revertRenderTargetImageLayouts(queue, dcIndex)
}

func (ctx *DrawCallsDumpingContext) buildDrawCallInfo(cb, dcIndex uint64, params *DrawCallParams) *DrawCallInfo {
	info := &DrawCallInfo{
		DumpID:             ctx.id,
		QueueSubmitIndex:   ctx.queueSubmitIndex,
		CommandBufferIndex: cb,
		DrawCallIndex:      dcIndex,
		RenderPassIndex:    params.RenderPassIndex,
		SubpassIndex:       params.SubpassIndex,
		Type:               params.Type,
	}

	switch {
	case params.Type == kDraw:
		info.DrawParams = []vk.DrawIndirectCommand{params.DrawParam}
	case params.Type == kDrawIndexed:
		info.IndexedDrawParams = []vk.DrawIndexedIndirectCommand{params.IndexedDrawParam}
	case params.Type.IsIndexed():
		info.IndexedDrawParams = params.indirectParams().IndexedDrawParams
	default:
		info.DrawParams = params.indirectParams().DrawParams
	}

	return info
}

// revertRenderTargetImageLayouts moves dynamic rendering attachments
// back from TransferSrcOptimal to the layouts the application left them
// in, so the next clone (or the rest of the replay) sees what it
// expects. Render pass clones revert through their own initial/final
// layouts and need nothing here.
func (ctx *DrawCallsDumpingContext) revertRenderTargetImageLayouts(queue vk.Queue, dcIndex uint64) error {
	rp, sp := ctx.GetRenderPassIndex(dcIndex)
	if rp >= uint64(len(ctx.dynamicAttachmentLayouts)) || !ctx.dynamicAttachmentLayouts[rp].isDynamic {
		return nil
	}
	layouts := &ctx.dynamicAttachmentLayouts[rp]

	if sp >= uint64(len(ctx.renderTargets[rp])) {
		return nil
	}
	rts := &ctx.renderTargets[rp][sp]

	var barriers []vk.ImageMemoryBarrier
	for i, img := range rts.colorAttachments {
		if img == nil {
			continue
		}
		newLayout := vk.ImageLayoutColorAttachmentOptimal
		if i < len(layouts.colorLayouts) {
			newLayout = layouts.colorLayouts[i]
		}
		barriers = append(barriers, vk.ImageMemoryBarrier{
			SType:               vk.StructureTypeImageMemoryBarrier,
			SrcAccessMask:       vk.AccessFlags(vk.AccessTransferReadBit),
			DstAccessMask:       vk.AccessFlags(vk.AccessColorAttachmentWriteBit),
			OldLayout:           vk.ImageLayoutTransferSrcOptimal,
			NewLayout:           newLayout,
			SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
			DstQueueFamilyIndex: vk.QueueFamilyIgnored,
			Image:               img.Handle,
			SubresourceRange:    imageFullRange(img, vk.ImageAspectFlags(vk.ImageAspectColorBit)),
		})
	}
	if rts.depthAttachment != nil {
		img := rts.depthAttachment
		newLayout := layouts.depthLayout
		if newLayout == vk.ImageLayoutUndefined {
			newLayout = vk.ImageLayoutDepthStencilAttachmentOptimal
		}
		aspect := vk.ImageAspectFlags(vk.ImageAspectDepthBit)
		if graphics.FormatHasStencil(img.Format) {
			aspect |= vk.ImageAspectFlags(vk.ImageAspectStencilBit)
		}
		barriers = append(barriers, vk.ImageMemoryBarrier{
			SType:               vk.StructureTypeImageMemoryBarrier,
			SrcAccessMask:       vk.AccessFlags(vk.AccessTransferReadBit),
			DstAccessMask:       vk.AccessFlags(vk.AccessDepthStencilAttachmentWriteBit),
			OldLayout:           vk.ImageLayoutTransferSrcOptimal,
			NewLayout:           newLayout,
			SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
			DstQueueFamilyIndex: vk.QueueFamilyIgnored,
			Image:               img.Handle,
			SubresourceRange:    imageFullRange(img, aspect),
		})
	}
	if len(barriers) == 0 {
		return nil
	}

	beginInfo := vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit),
	}
	if res := ctx.table.BeginCommandBuffer(ctx.auxCommandBuffer, &beginInfo); res != vk.Success {
		return core.NewVulkanError("vkBeginCommandBuffer", res)
	}

	ctx.table.CmdPipelineBarrier(ctx.auxCommandBuffer,
		vk.PipelineStageFlags(vk.PipelineStageTransferBit),
		vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit)|
			vk.PipelineStageFlags(vk.PipelineStageEarlyFragmentTestsBit),
		0, nil, nil, barriers)

	if res := ctx.table.EndCommandBuffer(ctx.auxCommandBuffer); res != vk.Success {
		return core.NewVulkanError("vkEndCommandBuffer", res)
	}

	if res := ctx.table.ResetFences(ctx.device, []vk.Fence{ctx.auxFence}); res != vk.Success {
		return core.NewVulkanError("vkResetFences", res)
	}

	submitInfo := vk.SubmitInfo{
		SType:              vk.StructureTypeSubmitInfo,
		CommandBufferCount: 1,
		PCommandBuffers:    []vk.CommandBuffer{ctx.auxCommandBuffer},
	}
	if res := ctx.table.QueueSubmit(queue, []vk.SubmitInfo{submitInfo}, ctx.auxFence); res != vk.Success {
		return core.NewVulkanError("vkQueueSubmit", res)
	}
	if res := ctx.table.WaitForFences(ctx.device, []vk.Fence{ctx.auxFence}, math.MaxUint64); res != vk.Success {
		return core.NewVulkanError("vkWaitForFences", res)
	}

	return nil
}
