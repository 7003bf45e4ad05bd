package decode

import (
	"unsafe"

	vk "github.com/goki/vulkan"
)

// fakeTable records every dispatch call and backs buffer memory with
// host slices, so the engine can run end to end without a GPU.
type fakeTable struct {
	handles []*byte

	allocatedCommandBuffers int
	freedCommandBuffers     int
	begunCommandBuffers     []vk.CommandBuffer
	endedCommandBuffers     []vk.CommandBuffer

	createdFences   int
	destroyedFences int
	resetFences     int
	waitedFences    int

	submits []fakeSubmit

	renderPassCreateInfos []fakeRenderPassCreateInfo
	destroyedRenderPasses int

	bufferSizes      map[vk.Buffer]vk.DeviceSize
	destroyedBuffers int
	memoryData       map[vk.DeviceMemory][]byte
	freedMemories    int
	bufferMemory     map[vk.Buffer]vk.DeviceMemory
	bufferBacking    map[vk.Buffer][]byte

	copies        []fakeCopy
	imageCopies   []fakeImageCopy
	barrierCalls  int
	beganPasses   []vk.RenderPass
	nextSubpasses int
	endedPasses   int
	endedRenders  int
}

type fakeSubmit struct {
	queue            vk.Queue
	commandBuffers   []vk.CommandBuffer
	waitSemaphores   []vk.Semaphore
	signalSemaphores []vk.Semaphore
	fence            vk.Fence
}

type fakeRenderPassCreateInfo struct {
	attachments  []vk.AttachmentDescription
	subpassCount int
	dependencies []vk.SubpassDependency
	pNext        unsafe.Pointer
	handle       vk.RenderPass
}

type fakeCopy struct {
	cb      vk.CommandBuffer
	src     vk.Buffer
	dst     vk.Buffer
	regions []vk.BufferCopy
}

type fakeImageCopy struct {
	image   vk.Image
	layout  vk.ImageLayout
	buffer  vk.Buffer
	regions []vk.BufferImageCopy
}

func newFakeTable() *fakeTable {
	return &fakeTable{
		bufferSizes:   make(map[vk.Buffer]vk.DeviceSize),
		memoryData:    make(map[vk.DeviceMemory][]byte),
		bufferMemory:  make(map[vk.Buffer]vk.DeviceMemory),
		bufferBacking: make(map[vk.Buffer][]byte),
	}
}

// seedBuffer gives a fabricated buffer handle host contents, so copies
// out of it land real bytes in the staging memory.
func (f *fakeTable) seedBuffer(buffer vk.Buffer, data []byte) {
	f.bufferBacking[buffer] = data
}

// handle mints a unique non-nil pointer usable as any dispatchable or
// non-dispatchable Vulkan handle.
func (f *fakeTable) handle() unsafe.Pointer {
	b := new(byte)
	f.handles = append(f.handles, b)
	return unsafe.Pointer(b)
}

func (f *fakeTable) AllocateCommandBuffers(device vk.Device, info *vk.CommandBufferAllocateInfo, bufs []vk.CommandBuffer) vk.Result {
	for i := range bufs {
		bufs[i] = vk.CommandBuffer(f.handle())
	}
	f.allocatedCommandBuffers += len(bufs)
	return vk.Success
}

func (f *fakeTable) FreeCommandBuffers(device vk.Device, pool vk.CommandPool, bufs []vk.CommandBuffer) {
	f.freedCommandBuffers += len(bufs)
}

func (f *fakeTable) BeginCommandBuffer(cb vk.CommandBuffer, info *vk.CommandBufferBeginInfo) vk.Result {
	f.begunCommandBuffers = append(f.begunCommandBuffers, cb)
	return vk.Success
}

func (f *fakeTable) EndCommandBuffer(cb vk.CommandBuffer) vk.Result {
	f.endedCommandBuffers = append(f.endedCommandBuffers, cb)
	return vk.Success
}

func (f *fakeTable) CreateFence(device vk.Device, info *vk.FenceCreateInfo) (vk.Fence, vk.Result) {
	f.createdFences++
	return vk.Fence(f.handle()), vk.Success
}

func (f *fakeTable) DestroyFence(device vk.Device, fence vk.Fence) {
	f.destroyedFences++
}

func (f *fakeTable) ResetFences(device vk.Device, fences []vk.Fence) vk.Result {
	f.resetFences++
	return vk.Success
}

func (f *fakeTable) WaitForFences(device vk.Device, fences []vk.Fence, timeoutNs uint64) vk.Result {
	f.waitedFences++
	return vk.Success
}

func (f *fakeTable) QueueSubmit(queue vk.Queue, infos []vk.SubmitInfo, fence vk.Fence) vk.Result {
	for _, info := range infos {
		f.submits = append(f.submits, fakeSubmit{
			queue:            queue,
			commandBuffers:   append([]vk.CommandBuffer(nil), info.PCommandBuffers...),
			waitSemaphores:   append([]vk.Semaphore(nil), info.PWaitSemaphores...),
			signalSemaphores: append([]vk.Semaphore(nil), info.PSignalSemaphores...),
			fence:            fence,
		})
	}
	return vk.Success
}

func (f *fakeTable) QueueWaitIdle(queue vk.Queue) vk.Result {
	return vk.Success
}

func (f *fakeTable) CreateRenderPass(device vk.Device, info *vk.RenderPassCreateInfo) (vk.RenderPass, vk.Result) {
	handle := vk.RenderPass(f.handle())
	f.renderPassCreateInfos = append(f.renderPassCreateInfos, fakeRenderPassCreateInfo{
		attachments:  append([]vk.AttachmentDescription(nil), info.PAttachments...),
		subpassCount: int(info.SubpassCount),
		dependencies: append([]vk.SubpassDependency(nil), info.PDependencies...),
		pNext:        info.PNext,
		handle:       handle,
	})
	return handle, vk.Success
}

func (f *fakeTable) DestroyRenderPass(device vk.Device, renderPass vk.RenderPass) {
	f.destroyedRenderPasses++
}

func (f *fakeTable) CreateBuffer(device vk.Device, info *vk.BufferCreateInfo) (vk.Buffer, vk.Result) {
	buffer := vk.Buffer(f.handle())
	f.bufferSizes[buffer] = info.Size
	return buffer, vk.Success
}

func (f *fakeTable) DestroyBuffer(device vk.Device, buffer vk.Buffer) {
	f.destroyedBuffers++
}

func (f *fakeTable) GetBufferMemoryRequirements(device vk.Device, buffer vk.Buffer) vk.MemoryRequirements {
	return vk.MemoryRequirements{
		Size:           f.bufferSizes[buffer],
		MemoryTypeBits: 1,
	}
}

func (f *fakeTable) AllocateMemory(device vk.Device, info *vk.MemoryAllocateInfo) (vk.DeviceMemory, vk.Result) {
	memory := vk.DeviceMemory(f.handle())
	f.memoryData[memory] = make([]byte, info.AllocationSize)
	return memory, vk.Success
}

func (f *fakeTable) FreeMemory(device vk.Device, memory vk.DeviceMemory) {
	f.freedMemories++
	delete(f.memoryData, memory)
}

func (f *fakeTable) BindBufferMemory(device vk.Device, buffer vk.Buffer, memory vk.DeviceMemory, offset vk.DeviceSize) vk.Result {
	f.bufferMemory[buffer] = memory
	return vk.Success
}

func (f *fakeTable) MapMemory(device vk.Device, memory vk.DeviceMemory, offset, size vk.DeviceSize) (unsafe.Pointer, vk.Result) {
	data, ok := f.memoryData[memory]
	if !ok || len(data) == 0 {
		return nil, vk.ErrorMemoryMapFailed
	}
	return unsafe.Pointer(&data[offset]), vk.Success
}

func (f *fakeTable) UnmapMemory(device vk.Device, memory vk.DeviceMemory) {}

func (f *fakeTable) CmdCopyBuffer(cb vk.CommandBuffer, src, dst vk.Buffer, regions []vk.BufferCopy) {
	f.copies = append(f.copies, fakeCopy{
		cb:      cb,
		src:     src,
		dst:     dst,
		regions: append([]vk.BufferCopy(nil), regions...),
	})

	// Execute the copy eagerly when the source has host contents, so
	// readbacks observe them. Staging buffers created by the engine are
	// backed by their bound fake memory.
	srcData, ok := f.bufferBacking[src]
	if !ok {
		srcData = f.memoryData[f.bufferMemory[src]]
	}
	if srcData == nil {
		return
	}
	dstData := f.memoryData[f.bufferMemory[dst]]
	if dstData == nil {
		return
	}
	for _, region := range regions {
		if int(region.SrcOffset)+int(region.Size) > len(srcData) ||
			int(region.DstOffset)+int(region.Size) > len(dstData) {
			continue
		}
		copy(dstData[region.DstOffset:region.DstOffset+region.Size],
			srcData[region.SrcOffset:region.SrcOffset+region.Size])
	}
}

func (f *fakeTable) CmdCopyImageToBuffer(cb vk.CommandBuffer, image vk.Image, layout vk.ImageLayout, buffer vk.Buffer, regions []vk.BufferImageCopy) {
	f.imageCopies = append(f.imageCopies, fakeImageCopy{
		image:   image,
		layout:  layout,
		buffer:  buffer,
		regions: append([]vk.BufferImageCopy(nil), regions...),
	})
}

func (f *fakeTable) CmdPipelineBarrier(cb vk.CommandBuffer, srcStage, dstStage vk.PipelineStageFlags, flags vk.DependencyFlags,
	memBarriers []vk.MemoryBarrier, bufBarriers []vk.BufferMemoryBarrier, imgBarriers []vk.ImageMemoryBarrier) {
	f.barrierCalls++
}

func (f *fakeTable) CmdBeginRenderPass(cb vk.CommandBuffer, info *vk.RenderPassBeginInfo, contents vk.SubpassContents) {
	f.beganPasses = append(f.beganPasses, info.RenderPass)
}

func (f *fakeTable) CmdNextSubpass(cb vk.CommandBuffer, contents vk.SubpassContents) {
	f.nextSubpasses++
}

func (f *fakeTable) CmdEndRenderPass(cb vk.CommandBuffer) {
	f.endedPasses++
}

func (f *fakeTable) CmdEndRendering(cb vk.CommandBuffer) {
	f.endedRenders++
}

// scratchData returns the host backing of a fake memory allocation.
func (f *fakeTable) scratchData(memory vk.DeviceMemory) []byte {
	return f.memoryData[memory]
}

// fakeObjectTable resolves capture IDs from plain maps.
type fakeObjectTable struct {
	devices         map[HandleID]*DeviceInfo
	physicalDevices map[HandleID]*PhysicalDeviceInfo
	commandPools    map[HandleID]*CommandPoolInfo
	buffers         map[HandleID]*BufferInfo
	images          map[HandleID]*ImageInfo
	imageViews      map[HandleID]*ImageViewInfo
}

func newFakeObjectTable() *fakeObjectTable {
	return &fakeObjectTable{
		devices:         make(map[HandleID]*DeviceInfo),
		physicalDevices: make(map[HandleID]*PhysicalDeviceInfo),
		commandPools:    make(map[HandleID]*CommandPoolInfo),
		buffers:         make(map[HandleID]*BufferInfo),
		images:          make(map[HandleID]*ImageInfo),
		imageViews:      make(map[HandleID]*ImageViewInfo),
	}
}

func (t *fakeObjectTable) GetDeviceInfo(id HandleID) *DeviceInfo                 { return t.devices[id] }
func (t *fakeObjectTable) GetPhysicalDeviceInfo(id HandleID) *PhysicalDeviceInfo { return t.physicalDevices[id] }
func (t *fakeObjectTable) GetCommandPoolInfo(id HandleID) *CommandPoolInfo       { return t.commandPools[id] }
func (t *fakeObjectTable) GetBufferInfo(id HandleID) *BufferInfo                 { return t.buffers[id] }
func (t *fakeObjectTable) GetImageInfo(id HandleID) *ImageInfo                   { return t.images[id] }
func (t *fakeObjectTable) GetImageViewInfo(id HandleID) *ImageViewInfo           { return t.imageViews[id] }

// recordingDelegate captures every delegate call in order.
type recordingDelegate struct {
	resources []ResourceInfo
	drawInfos []DrawCallInfo
	failWith  error
}

func (d *recordingDelegate) DumpResource(res *ResourceInfo) error {
	if d.failWith != nil {
		return d.failWith
	}
	d.resources = append(d.resources, *res)
	return nil
}

func (d *recordingDelegate) DumpDrawCallInfo(info *DrawCallInfo) error {
	if d.failWith != nil {
		return d.failWith
	}
	d.drawInfos = append(d.drawInfos, *info)
	return nil
}

// hostVisibleMemProps is a memory property table with one host visible,
// host coherent type.
func hostVisibleMemProps() vk.PhysicalDeviceMemoryProperties {
	props := vk.PhysicalDeviceMemoryProperties{MemoryTypeCount: 1}
	props.MemoryTypes[0] = vk.MemoryType{
		PropertyFlags: vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit) |
			vk.MemoryPropertyFlags(vk.MemoryPropertyHostCoherentBit),
	}
	return props
}

// newTestContext builds a context with cloned command buffers over the
// fake table. Render pass boundaries and draw indices come from opts.
func newTestContext(opts *Options, table *fakeTable) (*DrawCallsDumpingContext, *recordingDelegate, *fakeObjectTable) {
	objects := newFakeObjectTable()
	objects.devices[1] = &DeviceInfo{Handle: vk.Device(table.handle()), ParentID: 2}
	objects.physicalDevices[2] = &PhysicalDeviceInfo{MemoryProperties: hostVisibleMemProps()}
	objects.commandPools[3] = &CommandPoolInfo{QueueFamilyIndex: 0}

	delegate := &recordingDelegate{}
	ctx := NewDrawCallsDumpingContext(opts, objects, table, delegate, 0, 0)

	origInfo := &CommandBufferInfo{ParentID: 1, PoolID: 3}
	if err := ctx.CloneCommandBuffer(origInfo); err != nil {
		panic(err)
	}

	return ctx, delegate, objects
}
