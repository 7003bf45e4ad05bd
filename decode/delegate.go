package decode

import (
	vk "github.com/goki/vulkan"
	"github.com/google/uuid"
)

// ResourceType classifies a dumped artifact handed to the delegate.
type ResourceType int

const (
	ResourceTypeRtv ResourceType = iota
	ResourceTypeDsv
	ResourceTypeVertex
	ResourceTypeIndex
	ResourceTypeImageDescriptor
	ResourceTypeBufferDescriptor
	ResourceTypeInlineUniformBlockDescriptor
)

func (t ResourceType) String() string {
	switch t {
	case ResourceTypeRtv:
		return "rtv"
	case ResourceTypeDsv:
		return "dsv"
	case ResourceTypeVertex:
		return "vertex"
	case ResourceTypeIndex:
		return "index"
	case ResourceTypeImageDescriptor:
		return "image_descriptor"
	case ResourceTypeBufferDescriptor:
		return "buffer_descriptor"
	case ResourceTypeInlineUniformBlockDescriptor:
		return "inline_uniform_block"
	default:
		return "unknown"
	}
}

// ResourceInfo describes one dumped resource. Data holds the readback
// bytes; the remaining fields locate the resource within the dump.
type ResourceInfo struct {
	DumpID uuid.UUID
	Type   ResourceType

	// Submission coordinates of the owning draw.
	QueueSubmitIndex   uint64
	CommandBufferIndex uint64
	DrawCallIndex      uint64
	RenderPassIndex    uint64

	// True when the artifact captures state before the draw executed.
	BeforeDrawCall bool

	Data []byte

	// Attachment artifacts.
	AttachmentIndex int
	Format          vk.Format
	Width           uint32
	Height          uint32

	// Descriptor artifacts.
	Set          uint32
	Binding      uint32
	ArrayElement uint32

	// Vertex/index buffer artifacts.
	VertexBinding uint32
	IndexType     vk.IndexType
	Offset        vk.DeviceSize
}

// DrawCallInfo summarizes one dumped draw for the delegate, emitted
// after all of the draw's resources.
type DrawCallInfo struct {
	DumpID uuid.UUID

	QueueSubmitIndex   uint64
	CommandBufferIndex uint64
	DrawCallIndex      uint64
	RenderPassIndex    uint64
	SubpassIndex       uint64

	Type DrawCallType

	// Resolved parameters. For indirect draws these are the values read
	// back from the parameter buffer.
	DrawParams        []vk.DrawIndirectCommand
	IndexedDrawParams []vk.DrawIndexedIndirectCommand
}

// Delegate receives dumped resources and per-draw summaries. A non-nil
// error aborts the dump of the current submission.
type Delegate interface {
	DumpResource(res *ResourceInfo) error
	DumpDrawCallInfo(info *DrawCallInfo) error
}
