package decode

import (
	"fmt"
	"math"

	vk "github.com/goki/vulkan"
)

// Descriptor type values from extensions not covered by the binding's
// core enum.
const (
	descriptorTypeInlineUniformBlock    = vk.DescriptorType(1000138000)
	descriptorTypeAccelerationStructure = vk.DescriptorType(1000150000)
)

// DrawCallType tags the recorded draw command a parameter block belongs
// to.
type DrawCallType int

const (
	kDraw DrawCallType = iota
	kDrawIndexed
	kDrawIndirect
	kDrawIndexedIndirect
	kDrawIndirectCount
	kDrawIndexedIndirectCount
	kDrawIndirectCountKHR
	kDrawIndexedIndirectCountKHR
)

func (t DrawCallType) String() string {
	switch t {
	case kDraw:
		return "vkCmdDraw"
	case kDrawIndexed:
		return "vkCmdDrawIndexed"
	case kDrawIndirect:
		return "vkCmdDrawIndirect"
	case kDrawIndexedIndirect:
		return "vkCmdDrawIndexedIndirect"
	case kDrawIndirectCount:
		return "vkCmdDrawIndirectCount"
	case kDrawIndexedIndirectCount:
		return "vkCmdDrawIndexedIndirectCount"
	case kDrawIndirectCountKHR:
		return "vkCmdDrawIndirectCountKHR"
	case kDrawIndexedIndirectCountKHR:
		return "vkCmdDrawIndexedIndirectCountKHR"
	default:
		return fmt.Sprintf("DrawCallType(%d)", int(t))
	}
}

// IsIndexed reports whether the draw consumes an index buffer.
func (t DrawCallType) IsIndexed() bool {
	switch t {
	case kDrawIndexed, kDrawIndexedIndirect, kDrawIndexedIndirectCount, kDrawIndexedIndirectCountKHR:
		return true
	default:
		return false
	}
}

// IsIndirect reports whether the draw reads its parameters from a GPU
// buffer.
func (t DrawCallType) IsIndirect() bool {
	return t != kDraw && t != kDrawIndexed
}

// IsIndirectCount reports whether the draw additionally reads its draw
// count from a GPU buffer.
func (t DrawCallType) IsIndirectCount() bool {
	switch t {
	case kDrawIndirectCount, kDrawIndexedIndirectCount, kDrawIndirectCountKHR, kDrawIndexedIndirectCountKHR:
		return true
	default:
		return false
	}
}

// actualDrawCountUnfetched marks an indirect-count draw whose count
// buffer has not been read back yet.
const actualDrawCountUnfetched = math.MaxUint32

// IndirectParams holds the GPU-side sources of an indirect draw and the
// scratch resources used to snapshot them at draw time.
type IndirectParams struct {
	ParamsBuffer *BufferInfo
	Offset       vk.DeviceSize
	DrawCount    uint32
	Stride       uint32

	// Scratch clone of the parameter span, filled by an injected copy
	// right before the draw executes.
	NewParamsBuffer vk.Buffer
	NewParamsMemory vk.DeviceMemory
	NewParamsSize   vk.DeviceSize

	// Host copies, populated after the clone submission completes.
	DrawParams        []vk.DrawIndirectCommand
	IndexedDrawParams []vk.DrawIndexedIndirectCommand
}

// IndirectCountParams extends IndirectParams with the count buffer
// sources of the DrawIndirectCount family.
type IndirectCountParams struct {
	IndirectParams

	CountBuffer  *BufferInfo
	CountOffset  vk.DeviceSize
	MaxDrawCount uint32

	// Scratch clone of the 4-byte count word.
	NewCountBuffer vk.Buffer
	NewCountMemory vk.DeviceMemory

	// ActualDrawCount is read back from the count buffer clone;
	// actualDrawCountUnfetched until then.
	ActualDrawCount uint32
}

// BoundVertexBuffer is one vertex binding captured at draw time, with
// the region the dump actually wrote.
type BoundVertexBuffer struct {
	Buffer *BufferInfo
	Offset vk.DeviceSize

	// Size and Stride are non-zero only when bound with
	// vkCmdBindVertexBuffers2.
	Size   vk.DeviceSize
	Stride vk.DeviceSize

	// Region dumped for the owning draw.
	DumpedOffset vk.DeviceSize
	DumpedSize   vk.DeviceSize
}

// BoundIndexBuffer is the index binding captured at draw time.
type BoundIndexBuffer struct {
	Buffer    *BufferInfo
	Offset    vk.DeviceSize
	IndexType vk.IndexType

	// Size is non-zero only when bound with vkCmdBindIndexBuffer2.
	Size vk.DeviceSize

	DumpedOffset vk.DeviceSize
	DumpedSize   vk.DeviceSize
}

// DrawCallParams is the per-draw record: the draw's own arguments plus a
// snapshot of every piece of bound state it consumed.
type DrawCallParams struct {
	Type DrawCallType

	// Direct draws.
	DrawParam        vk.DrawIndirectCommand
	IndexedDrawParam vk.DrawIndexedIndirectCommand

	// Indirect draws; exactly one is set, matching Type.
	Indirect      IndirectParams
	IndirectCount IndirectCountParams

	// Bound state snapshots taken when the draw was recorded.
	ReferencedDescriptors map[uint32]map[uint32]DescriptorInfo
	VertexInput           VertexInputState
	VertexBuffers         map[uint32]*BoundVertexBuffer
	IndexBuffer           *BoundIndexBuffer

	// Render pass coordinates, filled when the draw is recorded.
	RenderPassIndex uint64
	SubpassIndex    uint64
}

func (ctx *DrawCallsDumpingContext) insertDrawCallParams(index uint64, params *DrawCallParams) {
	if _, exists := ctx.drawCallParams[index]; exists {
		panic(fmt.Sprintf("duplicate draw call parameters for index %d", index))
	}
	ctx.snapshotState(params)
	params.RenderPassIndex, params.SubpassIndex = ctx.GetRenderPassIndex(index)
	ctx.backupMutableResources(params)
	ctx.drawCallParams[index] = params
}

// InsertNewDrawParameters records a vkCmdDraw.
func (ctx *DrawCallsDumpingContext) InsertNewDrawParameters(index uint64,
	vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	ctx.insertDrawCallParams(index, &DrawCallParams{
		Type: kDraw,
		DrawParam: vk.DrawIndirectCommand{
			VertexCount:   vertexCount,
			InstanceCount: instanceCount,
			FirstVertex:   firstVertex,
			FirstInstance: firstInstance,
		},
	})
}

// InsertNewDrawIndexedParameters records a vkCmdDrawIndexed.
func (ctx *DrawCallsDumpingContext) InsertNewDrawIndexedParameters(index uint64,
	indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32) {
	ctx.insertDrawCallParams(index, &DrawCallParams{
		Type: kDrawIndexed,
		IndexedDrawParam: vk.DrawIndexedIndirectCommand{
			IndexCount:    indexCount,
			InstanceCount: instanceCount,
			FirstIndex:    firstIndex,
			VertexOffset:  vertexOffset,
			FirstInstance: firstInstance,
		},
	})
}

// InsertNewDrawIndirectParameters records a vkCmdDrawIndirect.
func (ctx *DrawCallsDumpingContext) InsertNewDrawIndirectParameters(index uint64,
	buffer *BufferInfo, offset vk.DeviceSize, drawCount, stride uint32) {
	ctx.insertDrawCallParams(index, &DrawCallParams{
		Type: kDrawIndirect,
		Indirect: IndirectParams{
			ParamsBuffer: buffer,
			Offset:       offset,
			DrawCount:    drawCount,
			Stride:       stride,
		},
	})
}

// InsertNewDrawIndexedIndirectParameters records a vkCmdDrawIndexedIndirect.
func (ctx *DrawCallsDumpingContext) InsertNewDrawIndexedIndirectParameters(index uint64,
	buffer *BufferInfo, offset vk.DeviceSize, drawCount, stride uint32) {
	ctx.insertDrawCallParams(index, &DrawCallParams{
		Type: kDrawIndexedIndirect,
		Indirect: IndirectParams{
			ParamsBuffer: buffer,
			Offset:       offset,
			DrawCount:    drawCount,
			Stride:       stride,
		},
	})
}

func newIndirectCountParams(buffer *BufferInfo, offset vk.DeviceSize,
	countBuffer *BufferInfo, countOffset vk.DeviceSize, maxDrawCount, stride uint32) IndirectCountParams {
	return IndirectCountParams{
		IndirectParams: IndirectParams{
			ParamsBuffer: buffer,
			Offset:       offset,
			Stride:       stride,
		},
		CountBuffer:     countBuffer,
		CountOffset:     countOffset,
		MaxDrawCount:    maxDrawCount,
		ActualDrawCount: actualDrawCountUnfetched,
	}
}

// InsertNewDrawIndirectCountParameters records a vkCmdDrawIndirectCount.
func (ctx *DrawCallsDumpingContext) InsertNewDrawIndirectCountParameters(index uint64,
	buffer *BufferInfo, offset vk.DeviceSize,
	countBuffer *BufferInfo, countOffset vk.DeviceSize, maxDrawCount, stride uint32) {
	ctx.insertDrawCallParams(index, &DrawCallParams{
		Type:          kDrawIndirectCount,
		IndirectCount: newIndirectCountParams(buffer, offset, countBuffer, countOffset, maxDrawCount, stride),
	})
}

// InsertNewDrawIndexedIndirectCountParameters records a
// vkCmdDrawIndexedIndirectCount.
func (ctx *DrawCallsDumpingContext) InsertNewDrawIndexedIndirectCountParameters(index uint64,
	buffer *BufferInfo, offset vk.DeviceSize,
	countBuffer *BufferInfo, countOffset vk.DeviceSize, maxDrawCount, stride uint32) {
	ctx.insertDrawCallParams(index, &DrawCallParams{
		Type:          kDrawIndexedIndirectCount,
		IndirectCount: newIndirectCountParams(buffer, offset, countBuffer, countOffset, maxDrawCount, stride),
	})
}

// InsertNewDrawIndirectCountKHRParameters records a
// vkCmdDrawIndirectCountKHR.
func (ctx *DrawCallsDumpingContext) InsertNewDrawIndirectCountKHRParameters(index uint64,
	buffer *BufferInfo, offset vk.DeviceSize,
	countBuffer *BufferInfo, countOffset vk.DeviceSize, maxDrawCount, stride uint32) {
	ctx.insertDrawCallParams(index, &DrawCallParams{
		Type:          kDrawIndirectCountKHR,
		IndirectCount: newIndirectCountParams(buffer, offset, countBuffer, countOffset, maxDrawCount, stride),
	})
}

// InsertNewDrawIndexedIndirectCountKHRParameters records a
// vkCmdDrawIndexedIndirectCountKHR.
func (ctx *DrawCallsDumpingContext) InsertNewDrawIndexedIndirectCountKHRParameters(index uint64,
	buffer *BufferInfo, offset vk.DeviceSize,
	countBuffer *BufferInfo, countOffset vk.DeviceSize, maxDrawCount, stride uint32) {
	ctx.insertDrawCallParams(index, &DrawCallParams{
		Type:          kDrawIndexedIndirectCountKHR,
		IndirectCount: newIndirectCountParams(buffer, offset, countBuffer, countOffset, maxDrawCount, stride),
	})
}

// indirectParams returns the indirect parameter block of the draw, nil
// for direct draws.
func (p *DrawCallParams) indirectParams() *IndirectParams {
	switch {
	case p.Type.IsIndirectCount():
		return &p.IndirectCount.IndirectParams
	case p.Type.IsIndirect():
		return &p.Indirect
	default:
		return nil
	}
}

func drawIndirectCommandSize(indexed bool) vk.DeviceSize {
	// 4 uint32 fields, or 4 uint32 + 1 int32 for the indexed variant.
	if indexed {
		return 20
	}
	return 16
}
