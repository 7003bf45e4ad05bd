package decode

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/zongdu-arm/gfxreconstruct/core"
	"github.com/zongdu-arm/gfxreconstruct/graphics"
)

// cloneRenderPass builds the ladder of cloned render passes for one
// recorded pass: entry i contains subpasses 0..i, so a clone ending at a
// draw in subpass i can legally end the pass there. Every attachment is
// forced to store its contents and finish in TransferSrcOptimal.
func (ctx *DrawCallsDumpingContext) cloneRenderPass(rpInfo *RenderPassInfo,
	fbInfo *FramebufferInfo) ([]vk.RenderPass, error) {

	attachments := make([]vk.AttachmentDescription, len(rpInfo.AttachmentDescs))
	for i, desc := range rpInfo.AttachmentDescs {
		desc.StoreOp = vk.AttachmentStoreOpStore
		if graphics.FormatHasStencil(desc.Format) {
			desc.StencilStoreOp = vk.AttachmentStoreOpStore
		}
		desc.FinalLayout = vk.ImageLayoutTransferSrcOptimal
		attachments[i] = desc
	}

	// The attachments now end the pass in a transfer-readable layout;
	// later passes and the readback revert logic need to know.
	for i := range attachments {
		if fbInfo == nil || i >= len(fbInfo.AttachmentImageViewIDs) {
			break
		}
		viewInfo := ctx.objectTable.GetImageViewInfo(fbInfo.AttachmentImageViewIDs[i])
		if viewInfo == nil {
			continue
		}
		if imgInfo := ctx.objectTable.GetImageInfo(viewInfo.ImageID); imgInfo != nil {
			imgInfo.IntermediateLayout = vk.ImageLayoutTransferSrcOptimal
			ctx.origCommandBuffer.ImageLayoutBarriers[imgInfo.CaptureID] = vk.ImageLayoutTransferSrcOptimal
		}
	}

	subpassCount := len(rpInfo.SubpassRefs)
	ladder := make([]vk.RenderPass, 0, subpassCount)

	for sub := 0; sub < subpassCount; sub++ {
		subpasses := make([]vk.SubpassDescription, sub+1)
		hasColor := false
		hasDepth := false
		for sp := 0; sp <= sub; sp++ {
			refs := &rpInfo.SubpassRefs[sp]
			desc := vk.SubpassDescription{
				Flags:                refs.FlagBits,
				PipelineBindPoint:    refs.PipelineBind,
				InputAttachmentCount: uint32(len(refs.InputRefs)),
				PInputAttachments:    refs.InputRefs,
				ColorAttachmentCount: uint32(len(refs.ColorRefs)),
				PColorAttachments:    refs.ColorRefs,
				PResolveAttachments:  refs.ResolveRefs,
			}
			if refs.DepthStencilRef != nil {
				depthRef := *refs.DepthStencilRef
				desc.PDepthStencilAttachment = &depthRef
				hasDepth = true
			}
			if len(refs.ColorRefs) > 0 {
				hasColor = true
			}
			subpasses[sp] = desc
		}

		deps := filterDependencies(rpInfo.Dependencies, uint32(sub))
		deps = appendReadbackDependency(deps, uint32(sub), hasColor, hasDepth)

		createInfo := vk.RenderPassCreateInfo{
			SType:           vk.StructureTypeRenderPassCreateInfo,
			AttachmentCount: uint32(len(attachments)),
			PAttachments:    attachments,
			SubpassCount:    uint32(len(subpasses)),
			PSubpasses:      subpasses,
			DependencyCount: uint32(len(deps)),
			PDependencies:   deps,
		}

		if len(rpInfo.ViewMasks) > 0 {
			multiview := vk.RenderPassMultiviewCreateInfo{
				SType:                vk.StructureTypeRenderPassMultiviewCreateInfo,
				SubpassCount:         uint32(sub + 1),
				PViewMasks:           rpInfo.ViewMasks[:sub+1],
				CorrelationMaskCount: uint32(len(rpInfo.CorrelationMasks)),
				PCorrelationMasks:    rpInfo.CorrelationMasks,
			}
			// The chained struct must be in C layout; only the top-level
			// create info is converted by the dispatch call itself.
			cMultiview, _ := multiview.PassRef()
			createInfo.PNext = unsafe.Pointer(cMultiview)
		}

		clone, res := ctx.table.CreateRenderPass(ctx.device, &createInfo)
		if res != vk.Success {
			for _, rp := range ladder {
				ctx.table.DestroyRenderPass(ctx.device, rp)
			}
			return nil, core.NewVulkanError("vkCreateRenderPass", res)
		}
		ladder = append(ladder, clone)
	}

	return ladder, nil
}

// filterDependencies keeps the subpass dependencies valid for a clone
// holding subpasses 0..sub. Dependencies reaching past sub are dropped;
// dependencies into EXTERNAL are redirected at the transfer reads the
// dump performs after the pass.
func filterDependencies(deps []vk.SubpassDependency, sub uint32) []vk.SubpassDependency {
	out := make([]vk.SubpassDependency, 0, len(deps))
	for _, dep := range deps {
		if dep.SrcSubpass != vk.SubpassExternal && dep.SrcSubpass > sub {
			continue
		}
		if dep.DstSubpass != vk.SubpassExternal && dep.DstSubpass > sub {
			continue
		}
		if dep.DstSubpass == vk.SubpassExternal {
			dep.DstStageMask = vk.PipelineStageFlags(vk.PipelineStageTransferBit)
			dep.DstAccessMask = vk.AccessFlags(vk.AccessTransferReadBit)
		}
		out = append(out, dep)
	}
	return out
}

// appendReadbackDependency synthesizes the post-pass external dependency
// when the original pass declared none, ordering attachment writes
// before the dump's transfer reads.
func appendReadbackDependency(deps []vk.SubpassDependency, sub uint32, hasColor, hasDepth bool) []vk.SubpassDependency {
	for _, dep := range deps {
		if dep.DstSubpass == vk.SubpassExternal {
			return deps
		}
	}

	var srcStages vk.PipelineStageFlags
	var srcAccess vk.AccessFlags
	if hasColor {
		srcStages |= vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit)
		srcAccess |= vk.AccessFlags(vk.AccessColorAttachmentWriteBit)
	}
	if hasDepth {
		srcStages |= vk.PipelineStageFlags(vk.PipelineStageEarlyFragmentTestsBit) |
			vk.PipelineStageFlags(vk.PipelineStageLateFragmentTestsBit)
		srcAccess |= vk.AccessFlags(vk.AccessDepthStencilAttachmentWriteBit)
	}
	if srcStages == 0 {
		return deps
	}

	return append(deps, vk.SubpassDependency{
		SrcSubpass:    sub,
		DstSubpass:    vk.SubpassExternal,
		SrcStageMask:  srcStages,
		DstStageMask:  vk.PipelineStageFlags(vk.PipelineStageTransferBit),
		SrcAccessMask: srcAccess,
		DstAccessMask: vk.AccessFlags(vk.AccessTransferReadBit),
	})
}

// BeginRenderPass handles a recorded vkCmdBeginRenderPass: captures the
// pass's render targets per subpass, clones the pass into its ladder and
// begins the right pass in every active clone. Clones whose draw falls
// inside this pass get the ladder entry for the draw's subpass; clones
// for later draws get the original pass.
func (ctx *DrawCallsDumpingContext) BeginRenderPass(rpInfo *RenderPassInfo,
	fbInfo *FramebufferInfo, renderArea vk.Rect2D,
	clearValues []vk.ClearValue, contents vk.SubpassContents) error {

	ctx.transitionRenderPassState(kRenderPass)

	rpIndex := uint64(len(ctx.renderPassClones))
	ctx.currentRenderPass = rpIndex
	ctx.currentSubpass = 0
	ctx.renderArea = append(ctx.renderArea, renderArea)

	targets := make([]renderTargets, len(rpInfo.SubpassRefs))
	for sp, refs := range rpInfo.SubpassRefs {
		for _, ref := range refs.ColorRefs {
			targets[sp].colorAttachments = append(targets[sp].colorAttachments,
				ctx.framebufferImage(fbInfo, ref.Attachment))
		}
		if refs.DepthStencilRef != nil {
			targets[sp].depthAttachment = ctx.framebufferImage(fbInfo, refs.DepthStencilRef.Attachment)
		}
	}
	ctx.renderTargets = append(ctx.renderTargets, targets)
	ctx.dynamicAttachmentLayouts = append(ctx.dynamicAttachmentLayouts, dynamicAttachmentLayouts{})
	ctx.dumpedDescriptors = append(ctx.dumpedDescriptors, newDumpedDescriptors())

	ladder, err := ctx.cloneRenderPass(rpInfo, fbInfo)
	if err != nil {
		return err
	}
	ctx.renderPassClones = append(ctx.renderPassClones, ladder)

	beginInfo := vk.RenderPassBeginInfo{
		SType:           vk.StructureTypeRenderPassBeginInfo,
		Framebuffer:     fbInfo.Handle,
		RenderArea:      renderArea,
		ClearValueCount: uint32(len(clearValues)),
		PClearValues:    clearValues,
	}

	for rel, cb := range ctx.GetDrawCallActiveCommandBuffers() {
		dcIndex := ctx.drawIndices[ctx.CmdBufToDCVectorIndex(ctx.currentCBIndex+uint64(rel))]
		drawRP, drawSP := ctx.GetRenderPassIndex(dcIndex)

		if drawRP == rpIndex && dcIndex > ctx.renderPasses[rpIndex][0] {
			if drawSP >= uint64(len(ladder)) {
				return fmt.Errorf("draw %d targets subpass %d of a %d-subpass pass", dcIndex, drawSP, len(ladder))
			}
			beginInfo.RenderPass = ladder[drawSP]
		} else {
			beginInfo.RenderPass = rpInfo.Handle
		}
		ctx.table.CmdBeginRenderPass(cb, &beginInfo, contents)
	}

	return nil
}

// NextSubpass handles a recorded vkCmdNextSubpass: advanced only in
// clones whose draw lies at or past the new subpass, since clones ending
// earlier hold a ladder pass without it.
func (ctx *DrawCallsDumpingContext) NextSubpass(contents vk.SubpassContents) {
	ctx.currentSubpass++

	for rel, cb := range ctx.GetDrawCallActiveCommandBuffers() {
		dcIndex := ctx.drawIndices[ctx.CmdBufToDCVectorIndex(ctx.currentCBIndex+uint64(rel))]
		drawRP, drawSP := ctx.GetRenderPassIndex(dcIndex)

		if drawRP != ctx.currentRenderPass || drawSP >= ctx.currentSubpass {
			ctx.table.CmdNextSubpass(cb, contents)
		}
	}
}

// EndRenderPass handles a recorded vkCmdEndRenderPass. Clones targeted
// at draws inside this pass were finalized at their draw; the remaining
// clones carry the original pass and end it here.
func (ctx *DrawCallsDumpingContext) EndRenderPass() {
	for rel, cb := range ctx.GetDrawCallActiveCommandBuffers() {
		dcIndex := ctx.drawIndices[ctx.CmdBufToDCVectorIndex(ctx.currentCBIndex+uint64(rel))]
		drawRP, _ := ctx.GetRenderPassIndex(dcIndex)

		if drawRP != ctx.currentRenderPass {
			ctx.table.CmdEndRenderPass(cb)
		}
	}

	ctx.transitionRenderPassState(kNone)
}

// BeginRendering handles a recorded vkCmdBeginRendering. Dynamic
// rendering has no pass object to clone; the replay loop records the
// command itself into the active clones, and the context only captures
// the attachments and their layouts so FinalizeCommandBuffer and the
// post-dump revert can transition them.
func (ctx *DrawCallsDumpingContext) BeginRendering(colorImages []*ImageInfo,
	colorLayouts []vk.ImageLayout, depthImage *ImageInfo, depthLayout vk.ImageLayout,
	renderArea vk.Rect2D) {

	ctx.transitionRenderPassState(kDynamicRendering)

	ctx.currentRenderPass = uint64(len(ctx.renderPassClones))
	ctx.currentSubpass = 0
	ctx.renderArea = append(ctx.renderArea, renderArea)

	ctx.renderTargets = append(ctx.renderTargets, []renderTargets{{
		colorAttachments: colorImages,
		depthAttachment:  depthImage,
	}})
	ctx.renderPassClones = append(ctx.renderPassClones, nil)
	ctx.dumpedDescriptors = append(ctx.dumpedDescriptors, newDumpedDescriptors())
	ctx.dynamicAttachmentLayouts = append(ctx.dynamicAttachmentLayouts, dynamicAttachmentLayouts{
		isDynamic:    true,
		colorLayouts: colorLayouts,
		depthLayout:  depthLayout,
	})
}

// EndRendering handles a recorded vkCmdEndRendering.
func (ctx *DrawCallsDumpingContext) EndRendering() {
	ctx.transitionRenderPassState(kNone)
}

func (ctx *DrawCallsDumpingContext) framebufferImage(fbInfo *FramebufferInfo, attachment uint32) *ImageInfo {
	if attachment == vk.AttachmentUnused || int(attachment) >= len(fbInfo.AttachmentImageViewIDs) {
		return nil
	}
	viewInfo := ctx.objectTable.GetImageViewInfo(fbInfo.AttachmentImageViewIDs[attachment])
	if viewInfo == nil {
		return nil
	}
	return ctx.objectTable.GetImageInfo(viewInfo.ImageID)
}
