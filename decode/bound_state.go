package decode

import (
	vk "github.com/goki/vulkan"
	"golang.org/x/exp/slices"

	"github.com/zongdu-arm/gfxreconstruct/core"
)

// boundState mirrors the graphics bind state of the command buffer being
// replayed, so each draw can snapshot exactly what it consumes.
type boundState struct {
	pipeline *PipelineInfo

	// set -> binding -> descriptor, with dynamic offsets already folded
	// into the buffer binding offsets.
	descriptorSets map[uint32]map[uint32]DescriptorInfo

	vertexBuffers map[uint32]*BoundVertexBuffer
	indexBuffer   *BoundIndexBuffer

	dynamicVertexInput    VertexInputState
	dynamicVertexInputSet bool
}

func newBoundState() boundState {
	return boundState{
		descriptorSets: make(map[uint32]map[uint32]DescriptorInfo),
		vertexBuffers:  make(map[uint32]*BoundVertexBuffer),
	}
}

// BindPipeline tracks vkCmdBindPipeline. Compute and ray tracing binds
// are ignored.
func (ctx *DrawCallsDumpingContext) BindPipeline(bindPoint vk.PipelineBindPoint, pipeline *PipelineInfo) {
	if bindPoint != vk.PipelineBindPointGraphics {
		return
	}
	ctx.bound.pipeline = pipeline
}

// BindDescriptorSets tracks vkCmdBindDescriptorSets. Dynamic offsets are
// folded into the buffer binding offsets now, in binding declaration
// order, so later snapshots see absolute offsets.
func (ctx *DrawCallsDumpingContext) BindDescriptorSets(bindPoint vk.PipelineBindPoint,
	firstSet uint32, sets []*DescriptorSetInfo, dynamicOffsets []uint32) {
	if bindPoint != vk.PipelineBindPointGraphics {
		return
	}

	offsetCursor := 0
	for i, set := range sets {
		if set == nil {
			continue
		}

		bindings := make(map[uint32]DescriptorInfo, len(set.Descriptors))

		bindingIDs := make([]uint32, 0, len(set.Descriptors))
		for b := range set.Descriptors {
			bindingIDs = append(bindingIDs, b)
		}
		slices.Sort(bindingIDs)

		for _, b := range bindingIDs {
			desc := set.Descriptors[b]
			copied := desc
			copied.ImageBindings = slices.Clone(desc.ImageBindings)
			copied.BufferBindings = slices.Clone(desc.BufferBindings)
			copied.InlineUniformBlock = slices.Clone(desc.InlineUniformBlock)

			if desc.Type == vk.DescriptorTypeUniformBufferDynamic ||
				desc.Type == vk.DescriptorTypeStorageBufferDynamic {
				for e := range copied.BufferBindings {
					if offsetCursor >= len(dynamicOffsets) {
						core.LogWarn("descriptor set %d binding %d: ran out of dynamic offsets", firstSet+uint32(i), b)
						break
					}
					copied.BufferBindings[e].Offset += vk.DeviceSize(dynamicOffsets[offsetCursor])
					offsetCursor++
				}
			}

			bindings[b] = copied
		}

		ctx.bound.descriptorSets[firstSet+uint32(i)] = bindings
	}
}

// BindVertexBuffers tracks vkCmdBindVertexBuffers.
func (ctx *DrawCallsDumpingContext) BindVertexBuffers(firstBinding uint32,
	buffers []*BufferInfo, offsets []vk.DeviceSize) {
	for i, buf := range buffers {
		ctx.bound.vertexBuffers[firstBinding+uint32(i)] = &BoundVertexBuffer{
			Buffer: buf,
			Offset: offsets[i],
		}
	}
}

// BindVertexBuffers2 tracks vkCmdBindVertexBuffers2, resolving WholeSize
// sizes against the buffer size at bind time. Sizes and strides may be
// nil when the application did not provide them.
func (ctx *DrawCallsDumpingContext) BindVertexBuffers2(firstBinding uint32,
	buffers []*BufferInfo, offsets, sizes, strides []vk.DeviceSize) {
	for i, buf := range buffers {
		bound := &BoundVertexBuffer{
			Buffer: buf,
			Offset: offsets[i],
		}
		if sizes != nil {
			bound.Size = sizes[i]
			if bound.Size == vk.DeviceSize(vk.WholeSize) && buf != nil {
				bound.Size = buf.Size - bound.Offset
			}
		}
		if strides != nil {
			bound.Stride = strides[i]
		}
		ctx.bound.vertexBuffers[firstBinding+uint32(i)] = bound
	}
}

// BindIndexBuffer tracks vkCmdBindIndexBuffer.
func (ctx *DrawCallsDumpingContext) BindIndexBuffer(buffer *BufferInfo,
	offset vk.DeviceSize, indexType vk.IndexType) {
	ctx.bound.indexBuffer = &BoundIndexBuffer{
		Buffer:    buffer,
		Offset:    offset,
		IndexType: indexType,
	}
}

// BindIndexBuffer2 tracks vkCmdBindIndexBuffer2, resolving WholeSize
// against the buffer size at bind time.
func (ctx *DrawCallsDumpingContext) BindIndexBuffer2(buffer *BufferInfo,
	offset, size vk.DeviceSize, indexType vk.IndexType) {
	if size == vk.DeviceSize(vk.WholeSize) && buffer != nil {
		size = buffer.Size - offset
	}
	ctx.bound.indexBuffer = &BoundIndexBuffer{
		Buffer:    buffer,
		Offset:    offset,
		Size:      size,
		IndexType: indexType,
	}
}

// SetVertexInput tracks vkCmdSetVertexInputEXT.
func (ctx *DrawCallsDumpingContext) SetVertexInput(bindings map[uint32]VertexInputBinding,
	attributes map[uint32]VertexInputAttribute) {
	ctx.bound.dynamicVertexInput = VertexInputState{
		Bindings:   bindings,
		Attributes: attributes,
	}
	ctx.bound.dynamicVertexInputSet = true
}

// snapshotState copies the currently bound descriptors, vertex input
// configuration and vertex/index buffers into the draw's record.
func (ctx *DrawCallsDumpingContext) snapshotState(params *DrawCallParams) {
	params.ReferencedDescriptors = ctx.bound.snapshotDescriptors()
	ctx.bound.copyVertexInputState(params)
}

func (bs *boundState) snapshotDescriptors() map[uint32]map[uint32]DescriptorInfo {
	snap := make(map[uint32]map[uint32]DescriptorInfo, len(bs.descriptorSets))
	for set, bindings := range bs.descriptorSets {
		copied := make(map[uint32]DescriptorInfo, len(bindings))
		for b, desc := range bindings {
			c := desc
			c.ImageBindings = slices.Clone(desc.ImageBindings)
			c.BufferBindings = slices.Clone(desc.BufferBindings)
			c.InlineUniformBlock = slices.Clone(desc.InlineUniformBlock)
			copied[b] = c
		}
		snap[set] = copied
	}
	return snap
}

// copyVertexInputState resolves the vertex fetch configuration the draw
// will use. Dynamic vertex input state wins over the pipeline's; a
// pipeline with only dynamic binding strides keeps its own bindings and
// attributes but takes strides from the bound vertex buffers.
func (bs *boundState) copyVertexInputState(params *DrawCallParams) {
	pp := bs.pipeline
	if pp == nil {
		if bs.dynamicVertexInputSet {
			params.VertexInput = cloneVertexInputState(bs.dynamicVertexInput)
			bs.snapshotVertexBindings(params)
		}
		return
	}

	if len(pp.VertexInput.Bindings) == 0 && !pp.DynamicVertexInput && !pp.DynamicVertexBindingStride {
		return
	}

	switch {
	case pp.DynamicVertexInput && bs.dynamicVertexInputSet:
		params.VertexInput = cloneVertexInputState(bs.dynamicVertexInput)

	case pp.DynamicVertexBindingStride:
		params.VertexInput = cloneVertexInputState(pp.VertexInput)
		for binding, vis := range params.VertexInput.Bindings {
			if vb, ok := bs.vertexBuffers[binding]; ok && vb.Stride != 0 {
				vis.Stride = uint32(vb.Stride)
				params.VertexInput.Bindings[binding] = vis
			}
		}

	default:
		params.VertexInput = cloneVertexInputState(pp.VertexInput)
	}

	bs.snapshotVertexBindings(params)
}

func (bs *boundState) snapshotVertexBindings(params *DrawCallParams) {
	params.VertexBuffers = make(map[uint32]*BoundVertexBuffer, len(bs.vertexBuffers))
	for binding, vb := range bs.vertexBuffers {
		copied := *vb
		params.VertexBuffers[binding] = &copied
	}
	if bs.indexBuffer != nil && params.Type.IsIndexed() {
		copied := *bs.indexBuffer
		params.IndexBuffer = &copied
	}
}

func cloneVertexInputState(in VertexInputState) VertexInputState {
	out := VertexInputState{
		Bindings:   make(map[uint32]VertexInputBinding, len(in.Bindings)),
		Attributes: make(map[uint32]VertexInputAttribute, len(in.Attributes)),
	}
	for k, v := range in.Bindings {
		out.Bindings[k] = v
	}
	for k, v := range in.Attributes {
		out.Attributes[k] = v
	}
	return out
}
