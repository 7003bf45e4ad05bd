package decode

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/google/uuid"
	"golang.org/x/exp/slices"

	"github.com/zongdu-arm/gfxreconstruct/core"
	"github.com/zongdu-arm/gfxreconstruct/graphics"
)

// renderTargets is the set of attachments a subpass draws into, captured
// when the render pass begins.
type renderTargets struct {
	colorAttachments []*ImageInfo
	depthAttachment  *ImageInfo
}

// dynamicAttachmentLayouts remembers the attachment layouts of a dynamic
// rendering scope so they can be restored after readback.
type dynamicAttachmentLayouts struct {
	isDynamic    bool
	colorLayouts []vk.ImageLayout
	depthLayout  vk.ImageLayout
}

// dumpedDescriptors dedups descriptor readback within one render pass.
type dumpedDescriptors struct {
	images  map[HandleID]struct{}
	buffers map[HandleID]struct{}
}

func newDumpedDescriptors() dumpedDescriptors {
	return dumpedDescriptors{
		images:  make(map[HandleID]struct{}),
		buffers: make(map[HandleID]struct{}),
	}
}

// mutableResourceBackup holds GPU copies of storage buffers the targeted
// draws may overwrite, keyed by capture ID. Descriptor readback prefers
// the backup over the live handle, so a dump reflects the contents the
// first referencing draw observed.
type mutableResourceBackup struct {
	buffers  map[HandleID]vk.Buffer
	memories map[HandleID]vk.DeviceMemory
}

// DrawCallsDumpingContext dumps the resources of selected draw calls of
// one recorded command buffer. The replay loop records every command of
// the original stream into the active clones, notifies the context of
// state-binding and render-pass commands, and finalizes one clone per
// targeted draw.
type DrawCallsDumpingContext struct {
	id uuid.UUID

	drawIndices   []uint64
	renderPasses  [][]uint64
	dumpBefore    bool
	dumpDepth     bool
	colorAttIndex int
	dumpVertexIdx bool
	dumpImmutable bool

	objectTable ObjectInfoTable
	table       graphics.DeviceTable
	delegate    Delegate

	origCommandBuffer *CommandBufferInfo
	device            vk.Device
	commandPool       vk.CommandPool
	queueFamilyIndex  uint32
	memProps          vk.PhysicalDeviceMemoryProperties

	commandBuffers   []vk.CommandBuffer
	auxCommandBuffer vk.CommandBuffer
	auxFence         vk.Fence
	currentCBIndex   uint64

	drawCallParams map[uint64]*DrawCallParams
	bound          boundState

	currentRenderPassType renderPassType
	currentRenderPass     uint64
	currentSubpass        uint64
	renderArea            []vk.Rect2D

	// renderPassClones[rp] is the ladder of cloned passes for render pass
	// rp, one entry per subpass.
	renderPassClones [][]vk.RenderPass
	renderTargets    [][]renderTargets

	dynamicAttachmentLayouts []dynamicAttachmentLayouts
	dumpedDescriptors        []dumpedDescriptors

	backup mutableResourceBackup

	queueSubmitIndex uint64
	bcbIndex         uint64
}

// NewDrawCallsDumpingContext builds a context for one targeted command
// buffer. opts must already be validated.
func NewDrawCallsDumpingContext(opts *Options, objectTable ObjectInfoTable,
	table graphics.DeviceTable, delegate Delegate,
	queueSubmitIndex, bcbIndex uint64) *DrawCallsDumpingContext {
	ctx := &DrawCallsDumpingContext{
		id:               uuid.New(),
		drawIndices:      slices.Clone(opts.DrawIndices),
		dumpBefore:       opts.DumpResourcesBefore,
		dumpDepth:        opts.DumpDepth,
		colorAttIndex:    opts.ColorAttachmentIndex,
		dumpVertexIdx:    opts.DumpVertexIndexBuffers,
		dumpImmutable:    opts.DumpImmutableResources,
		objectTable:      objectTable,
		table:            table,
		delegate:         delegate,
		drawCallParams:   make(map[uint64]*DrawCallParams),
		bound:            newBoundState(),
		queueSubmitIndex: queueSubmitIndex,
		bcbIndex:         bcbIndex,
	}

	ctx.renderPasses = make([][]uint64, len(opts.RenderPassIndices))
	for i, boundaries := range opts.RenderPassIndices {
		ctx.renderPasses[i] = slices.Clone(boundaries)
	}

	return ctx
}

// ID is the identity of this dump operation, carried in every delegate
// callback.
func (ctx *DrawCallsDumpingContext) ID() uuid.UUID { return ctx.id }

// MustDumpDrawCall reports whether the draw at the given capture index
// is targeted.
func (ctx *DrawCallsDumpingContext) MustDumpDrawCall(index uint64) bool {
	_, found := slices.BinarySearch(ctx.drawIndices, index)
	return found
}

// CloneCommandBuffer allocates the clone command buffers for the
// targeted draws (two per draw when before-snapshots are requested),
// plus an auxiliary command buffer and fence for layout restoration.
// The clones come from the original command buffer's pool.
func (ctx *DrawCallsDumpingContext) CloneCommandBuffer(origInfo *CommandBufferInfo) error {
	if len(ctx.commandBuffers) != 0 {
		return fmt.Errorf("command buffer %d already cloned", origInfo.ParentID)
	}

	devInfo := ctx.objectTable.GetDeviceInfo(origInfo.ParentID)
	if devInfo == nil {
		return fmt.Errorf("unknown device %d", origInfo.ParentID)
	}
	physInfo := ctx.objectTable.GetPhysicalDeviceInfo(devInfo.ParentID)
	if physInfo == nil {
		return fmt.Errorf("unknown physical device %d", devInfo.ParentID)
	}
	poolInfo := ctx.objectTable.GetCommandPoolInfo(origInfo.PoolID)
	if poolInfo == nil {
		return fmt.Errorf("unknown command pool %d", origInfo.PoolID)
	}

	ctx.origCommandBuffer = origInfo
	ctx.device = devInfo.Handle
	ctx.commandPool = poolInfo.Handle
	ctx.queueFamilyIndex = poolInfo.QueueFamilyIndex
	ctx.memProps = physInfo.MemoryProperties

	count := len(ctx.drawIndices)
	if ctx.dumpBefore {
		count *= 2
	}

	allocInfo := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        ctx.commandPool,
		Level:              vk.CommandBufferLevelPrimary,
		CommandBufferCount: uint32(count),
	}
	clones := make([]vk.CommandBuffer, count)
	if res := ctx.table.AllocateCommandBuffers(ctx.device, &allocInfo, clones); res != vk.Success {
		return core.NewVulkanError("vkAllocateCommandBuffers", res)
	}
	ctx.commandBuffers = clones

	beginInfo := vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit),
	}
	for _, cb := range clones {
		if res := ctx.table.BeginCommandBuffer(cb, &beginInfo); res != vk.Success {
			ctx.Release()
			return core.NewVulkanError("vkBeginCommandBuffer", res)
		}
	}

	allocInfo.CommandBufferCount = 1
	aux := make([]vk.CommandBuffer, 1)
	if res := ctx.table.AllocateCommandBuffers(ctx.device, &allocInfo, aux); res != vk.Success {
		ctx.Release()
		return core.NewVulkanError("vkAllocateCommandBuffers", res)
	}
	ctx.auxCommandBuffer = aux[0]

	fenceInfo := vk.FenceCreateInfo{SType: vk.StructureTypeFenceCreateInfo}
	fence, res := ctx.table.CreateFence(ctx.device, &fenceInfo)
	if res != vk.Success {
		ctx.Release()
		return core.NewVulkanError("vkCreateFence", res)
	}
	ctx.auxFence = fence

	if origInfo.ImageLayoutBarriers == nil {
		origInfo.ImageLayoutBarriers = make(map[HandleID]vk.ImageLayout)
	}

	return nil
}

// Release frees every resource the context owns. Safe to call on a
// partially constructed context and after a failed clone.
func (ctx *DrawCallsDumpingContext) Release() {
	if ctx.device == nil {
		return
	}

	ctx.releaseIndirectParams()
	ctx.destroyMutableResourceBackup()

	for _, ladder := range ctx.renderPassClones {
		for _, rp := range ladder {
			if rp != nil {
				ctx.table.DestroyRenderPass(ctx.device, rp)
			}
		}
	}
	ctx.renderPassClones = nil

	if len(ctx.commandBuffers) != 0 {
		ctx.table.FreeCommandBuffers(ctx.device, ctx.commandPool, ctx.commandBuffers)
		ctx.commandBuffers = nil
	}
	if ctx.auxCommandBuffer != nil {
		ctx.table.FreeCommandBuffers(ctx.device, ctx.commandPool, []vk.CommandBuffer{ctx.auxCommandBuffer})
		ctx.auxCommandBuffer = nil
	}
	if ctx.auxFence != nil {
		ctx.table.DestroyFence(ctx.device, ctx.auxFence)
		ctx.auxFence = nil
	}

	ctx.drawCallParams = make(map[uint64]*DrawCallParams)
	ctx.currentCBIndex = 0
}

// GetDrawCallActiveCommandBuffers returns the clones the replay loop
// must record the next command into: every clone not yet finalized.
func (ctx *DrawCallsDumpingContext) GetDrawCallActiveCommandBuffers() []vk.CommandBuffer {
	if ctx.currentCBIndex >= uint64(len(ctx.commandBuffers)) {
		return nil
	}
	return ctx.commandBuffers[ctx.currentCBIndex:]
}

// CmdBufToDCVectorIndex maps a clone index to the targeted draw it
// terminates at. With before-snapshots two consecutive clones belong to
// the same draw.
func (ctx *DrawCallsDumpingContext) CmdBufToDCVectorIndex(cbIndex uint64) uint64 {
	if ctx.dumpBefore {
		return cbIndex / 2
	}
	return cbIndex
}

// isBeforeCommandBuffer reports whether the clone snapshots state before
// its draw executes.
func (ctx *DrawCallsDumpingContext) isBeforeCommandBuffer(cbIndex uint64) bool {
	return ctx.dumpBefore && cbIndex%2 == 0
}

// GetRenderPassIndex locates the render pass and subpass a draw index
// falls into. A draw at index d is inside subpass sp of render pass rp
// when boundaries[rp][sp] < d < boundaries[rp][sp+1].
func (ctx *DrawCallsDumpingContext) GetRenderPassIndex(dcIndex uint64) (uint64, uint64) {
	for rp, boundaries := range ctx.renderPasses {
		if dcIndex > boundaries[len(boundaries)-1] {
			continue
		}
		for sp := 0; sp < len(boundaries)-1; sp++ {
			if dcIndex > boundaries[sp] && dcIndex < boundaries[sp+1] {
				return uint64(rp), uint64(sp)
			}
		}
	}
	core.LogWarn("draw call %d is outside every tracked render pass", dcIndex)
	return 0, 0
}

// FinalizeCommandBuffer closes the active clone at the current draw:
// ends the open drawing scope, transitions dynamic rendering attachments
// for readback and ends the command buffer.
func (ctx *DrawCallsDumpingContext) FinalizeCommandBuffer() error {
	if ctx.currentCBIndex >= uint64(len(ctx.commandBuffers)) {
		return fmt.Errorf("no active clone to finalize")
	}
	cb := ctx.commandBuffers[ctx.currentCBIndex]

	switch ctx.currentRenderPassType {
	case kRenderPass:
		ctx.table.CmdEndRenderPass(cb)

	case kDynamicRendering:
		ctx.table.CmdEndRendering(cb)
		ctx.transitionDynamicAttachmentsForReadback(cb)
	}

	if res := ctx.table.EndCommandBuffer(cb); res != vk.Success {
		return core.NewVulkanError("vkEndCommandBuffer", res)
	}

	ctx.currentCBIndex++
	return nil
}

// transitionDynamicAttachmentsForReadback injects barriers moving the
// current render targets into TransferSrcOptimal. Cloned render passes
// do this through their final layouts; dynamic rendering has no
// equivalent, so it happens here.
func (ctx *DrawCallsDumpingContext) transitionDynamicAttachmentsForReadback(cb vk.CommandBuffer) {
	rts := ctx.currentRenderTargets()
	if rts == nil {
		return
	}

	var barriers []vk.ImageMemoryBarrier
	for _, img := range rts.colorAttachments {
		if img == nil {
			continue
		}
		barriers = append(barriers, vk.ImageMemoryBarrier{
			SType:               vk.StructureTypeImageMemoryBarrier,
			SrcAccessMask:       vk.AccessFlags(vk.AccessColorAttachmentWriteBit),
			DstAccessMask:       vk.AccessFlags(vk.AccessTransferReadBit),
			OldLayout:           vk.ImageLayoutColorAttachmentOptimal,
			NewLayout:           vk.ImageLayoutTransferSrcOptimal,
			SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
			DstQueueFamilyIndex: vk.QueueFamilyIgnored,
			Image:               img.Handle,
			SubresourceRange:    imageFullRange(img, vk.ImageAspectFlags(vk.ImageAspectColorBit)),
		})
	}
	if ctx.dumpDepth && rts.depthAttachment != nil {
		img := rts.depthAttachment
		aspect := vk.ImageAspectFlags(vk.ImageAspectDepthBit)
		if graphics.FormatHasStencil(img.Format) {
			aspect |= vk.ImageAspectFlags(vk.ImageAspectStencilBit)
		}
		barriers = append(barriers, vk.ImageMemoryBarrier{
			SType:               vk.StructureTypeImageMemoryBarrier,
			SrcAccessMask:       vk.AccessFlags(vk.AccessDepthStencilAttachmentWriteBit),
			DstAccessMask:       vk.AccessFlags(vk.AccessTransferReadBit),
			OldLayout:           vk.ImageLayoutDepthStencilAttachmentOptimal,
			NewLayout:           vk.ImageLayoutTransferSrcOptimal,
			SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
			DstQueueFamilyIndex: vk.QueueFamilyIgnored,
			Image:               img.Handle,
			SubresourceRange:    imageFullRange(img, aspect),
		})
	}
	if len(barriers) == 0 {
		return
	}

	ctx.table.CmdPipelineBarrier(cb,
		vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit)|
			vk.PipelineStageFlags(vk.PipelineStageLateFragmentTestsBit),
		vk.PipelineStageFlags(vk.PipelineStageTransferBit),
		0, nil, nil, barriers)
}

func imageFullRange(img *ImageInfo, aspect vk.ImageAspectFlags) vk.ImageSubresourceRange {
	levels := img.Levels
	if levels == 0 {
		levels = 1
	}
	layers := img.Layers
	if layers == 0 {
		layers = 1
	}
	return vk.ImageSubresourceRange{
		AspectMask: aspect,
		LevelCount: levels,
		LayerCount: layers,
	}
}

func (ctx *DrawCallsDumpingContext) currentRenderTargets() *renderTargets {
	rp := ctx.currentRenderPass
	sp := ctx.currentSubpass
	if rp >= uint64(len(ctx.renderTargets)) || sp >= uint64(len(ctx.renderTargets[rp])) {
		return nil
	}
	return &ctx.renderTargets[rp][sp]
}

// backupMutableResources snapshots the storage buffers a draw references
// before the draw's clone executes. With a single targeted draw nothing
// can overwrite a resource between dump points, so no backups are made.
func (ctx *DrawCallsDumpingContext) backupMutableResources(params *DrawCallParams) {
	if len(ctx.drawIndices) < 2 {
		return
	}
	cb := ctx.drawCloneCommandBuffer()
	if cb == nil {
		return
	}

	for _, bindings := range params.ReferencedDescriptors {
		for _, desc := range bindings {
			switch desc.Type {
			case vk.DescriptorTypeStorageBuffer,
				vk.DescriptorTypeStorageBufferDynamic,
				vk.DescriptorTypeStorageTexelBuffer:
			default:
				continue
			}
			for _, bb := range desc.BufferBindings {
				buf := ctx.objectTable.GetBufferInfo(bb.BufferID)
				if buf == nil {
					continue
				}
				if err := ctx.backupMutableBuffer(cb, buf); err != nil {
					core.LogError("backing up storage buffer %d: %v", buf.CaptureID, err)
				}
			}
		}
	}
}

// backupMutableBuffer records a full copy of the buffer into a staging
// clone, in the command buffer executing the current draw. The first
// backup of a buffer wins.
func (ctx *DrawCallsDumpingContext) backupMutableBuffer(cb vk.CommandBuffer, buf *BufferInfo) error {
	if ctx.backup.buffers == nil {
		ctx.backup.buffers = make(map[HandleID]vk.Buffer)
		ctx.backup.memories = make(map[HandleID]vk.DeviceMemory)
	}
	if _, done := ctx.backup.buffers[buf.CaptureID]; done {
		return nil
	}

	util := graphics.NewResourcesUtil(ctx.device, nil, nil, ctx.table, ctx.memProps)
	clone, memory, err := util.CreateStagingBuffer(buf.Size)
	if err != nil {
		return err
	}

	ctx.table.CmdCopyBuffer(cb, buf.Handle, clone, []vk.BufferCopy{{Size: buf.Size}})
	ctx.table.CmdPipelineBarrier(cb,
		vk.PipelineStageFlags(vk.PipelineStageTransferBit),
		vk.PipelineStageFlags(vk.PipelineStageTransferBit),
		0, nil, []vk.BufferMemoryBarrier{scratchBarrier(clone, buf.Size)}, nil)

	ctx.backup.buffers[buf.CaptureID] = clone
	ctx.backup.memories[buf.CaptureID] = memory
	return nil
}

// backupBuffer returns the backed-up handle of a buffer, or the live one
// when no backup exists.
func (ctx *DrawCallsDumpingContext) backupBuffer(buf *BufferInfo) vk.Buffer {
	if backup, ok := ctx.backup.buffers[buf.CaptureID]; ok {
		return backup
	}
	return buf.Handle
}

func (ctx *DrawCallsDumpingContext) destroyMutableResourceBackup() {
	for _, buf := range ctx.backup.buffers {
		ctx.table.DestroyBuffer(ctx.device, buf)
	}
	for _, mem := range ctx.backup.memories {
		ctx.table.FreeMemory(ctx.device, mem)
	}
	ctx.backup = mutableResourceBackup{}
}
