// Package decode implements the draw-call resource dumping engine: it
// clones targeted command buffers during replay, splits them at draw
// boundaries, resolves indirect draw parameters from the GPU and hands
// every resource a draw consumed or produced to a delegate.
package decode

import (
	vk "github.com/goki/vulkan"
)

// HandleID identifies an object in the capture stream. IDs are assigned
// at capture time and stay stable across replays.
type HandleID uint64

// NullHandleID marks an absent object reference.
const NullHandleID HandleID = 0

type DeviceInfo struct {
	Handle   vk.Device
	ParentID HandleID // physical device
}

type PhysicalDeviceInfo struct {
	Handle           vk.PhysicalDevice
	MemoryProperties vk.PhysicalDeviceMemoryProperties
}

type CommandPoolInfo struct {
	Handle           vk.CommandPool
	QueueFamilyIndex uint32
}

// CommandBufferInfo tracks replay state of a recorded command buffer.
// ImageLayoutBarriers accumulates the layout every attachment is left in
// by the cloned render passes, keyed by image capture ID.
type CommandBufferInfo struct {
	Handle              vk.CommandBuffer
	ParentID            HandleID // device
	PoolID              HandleID
	ImageLayoutBarriers map[HandleID]vk.ImageLayout
}

type BufferInfo struct {
	Handle           vk.Buffer
	CaptureID        HandleID
	Size             vk.DeviceSize
	QueueFamilyIndex uint32
}

type ImageInfo struct {
	Handle    vk.Image
	CaptureID HandleID
	Format    vk.Format
	Extent    vk.Extent3D
	Levels    uint32
	Layers    uint32

	// IntermediateLayout is the layout the cloned render passes leave the
	// image in, recorded when the pass is cloned.
	IntermediateLayout vk.ImageLayout
}

type ImageViewInfo struct {
	Handle    vk.ImageView
	CaptureID HandleID
	ImageID   HandleID
}

// SubpassReferences carries the attachment references of one subpass of
// a recorded render pass.
type SubpassReferences struct {
	ColorRefs       []vk.AttachmentReference
	InputRefs       []vk.AttachmentReference
	ResolveRefs     []vk.AttachmentReference
	DepthStencilRef *vk.AttachmentReference
	FlagBits        vk.SubpassDescriptionFlags
	PipelineBind    vk.PipelineBindPoint
	ViewMask        uint32
	Dependencies    []vk.SubpassDependency
}

type RenderPassInfo struct {
	Handle          vk.RenderPass
	CaptureID       HandleID
	AttachmentDescs []vk.AttachmentDescription
	SubpassRefs     []SubpassReferences
	Dependencies    []vk.SubpassDependency

	// Multiview view masks and correlation masks, empty when the pass was
	// created without multiview.
	ViewMasks        []uint32
	CorrelationMasks []uint32
}

type FramebufferInfo struct {
	Handle                 vk.Framebuffer
	CaptureID              HandleID
	AttachmentImageViewIDs []HandleID
	Width                  uint32
	Height                 uint32
}

// VertexInputBinding is one entry of a pipeline's (or dynamically set)
// vertex binding description.
type VertexInputBinding struct {
	Stride    uint32
	InputRate vk.VertexInputRate
	Divisor   uint32
}

// VertexInputAttribute is one entry of a pipeline's (or dynamically set)
// vertex attribute description, keyed by location.
type VertexInputAttribute struct {
	Binding uint32
	Format  vk.Format
	Offset  uint32
}

// VertexInputState is the complete vertex fetch configuration consumed
// by a draw, from the pipeline or from CmdSetVertexInput.
type VertexInputState struct {
	Bindings   map[uint32]VertexInputBinding   // keyed by binding number
	Attributes map[uint32]VertexInputAttribute // keyed by location
}

type PipelineInfo struct {
	Handle    vk.Pipeline
	CaptureID HandleID

	VertexInput VertexInputState

	// Dynamic state flags from the pipeline create info.
	DynamicVertexInput         bool // VK_DYNAMIC_STATE_VERTEX_INPUT_EXT
	DynamicVertexBindingStride bool // VK_DYNAMIC_STATE_VERTEX_INPUT_BINDING_STRIDE
}

// DescriptorImageBinding is one array element of an image-like
// descriptor binding.
type DescriptorImageBinding struct {
	ImageViewID HandleID
	Layout      vk.ImageLayout
}

// DescriptorBufferBinding is one array element of a buffer-like
// descriptor binding. Range may be vk.WholeSize.
type DescriptorBufferBinding struct {
	BufferID HandleID
	Offset   vk.DeviceSize
	Range    vk.DeviceSize
}

// DescriptorInfo is the replay-side view of one descriptor binding.
// Only the slice matching Type is populated.
type DescriptorInfo struct {
	Type               vk.DescriptorType
	ImageBindings      []DescriptorImageBinding
	BufferBindings     []DescriptorBufferBinding
	InlineUniformBlock []byte
}

type DescriptorSetInfo struct {
	Handle    vk.DescriptorSet
	CaptureID HandleID

	// Descriptors keyed by binding number.
	Descriptors map[uint32]DescriptorInfo
}

// ObjectInfoTable resolves capture IDs to replay object state. It is
// populated by the surrounding replay consumer and read-only here.
type ObjectInfoTable interface {
	GetDeviceInfo(id HandleID) *DeviceInfo
	GetPhysicalDeviceInfo(id HandleID) *PhysicalDeviceInfo
	GetCommandPoolInfo(id HandleID) *CommandPoolInfo
	GetBufferInfo(id HandleID) *BufferInfo
	GetImageInfo(id HandleID) *ImageInfo
	GetImageViewInfo(id HandleID) *ImageViewInfo
}
