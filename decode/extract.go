package decode

import (
	"encoding/binary"
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/zongdu-arm/gfxreconstruct/core"
	"github.com/zongdu-arm/gfxreconstruct/graphics"
)

// drawRange is one (indexCount, firstIndex, vertexOffset) span a draw
// consumes from the index buffer, or its non-indexed equivalent.
type drawRange struct {
	indexCount    uint32
	firstIndex    uint32
	vertexOffset  int32
	vertexCount   uint32
	firstVertex   uint32
	instanceCount uint32
}

// drawRanges resolves the vertex/index spans of a draw. Indirect draws
// must have their parameters fetched first.
func (p *DrawCallParams) drawRanges() []drawRange {
	switch {
	case p.Type == kDraw:
		return []drawRange{{
			vertexCount:   p.DrawParam.VertexCount,
			firstVertex:   p.DrawParam.FirstVertex,
			instanceCount: p.DrawParam.InstanceCount,
		}}

	case p.Type == kDrawIndexed:
		return []drawRange{{
			indexCount:    p.IndexedDrawParam.IndexCount,
			firstIndex:    p.IndexedDrawParam.FirstIndex,
			vertexOffset:  p.IndexedDrawParam.VertexOffset,
			instanceCount: p.IndexedDrawParam.InstanceCount,
		}}

	case p.Type.IsIndexed():
		ip := p.indirectParams()
		ranges := make([]drawRange, 0, len(ip.IndexedDrawParams))
		for _, cmd := range ip.IndexedDrawParams {
			ranges = append(ranges, drawRange{
				indexCount:    cmd.IndexCount,
				firstIndex:    cmd.FirstIndex,
				vertexOffset:  cmd.VertexOffset,
				instanceCount: cmd.InstanceCount,
			})
		}
		return ranges

	default:
		ip := p.indirectParams()
		ranges := make([]drawRange, 0, len(ip.DrawParams))
		for _, cmd := range ip.DrawParams {
			ranges = append(ranges, drawRange{
				vertexCount:   cmd.VertexCount,
				firstVertex:   cmd.FirstVertex,
				instanceCount: cmd.InstanceCount,
			})
		}
		return ranges
	}
}

// findMinMaxVertexIndices scans the index data each range touches and
// returns the smallest and greatest referenced vertex, with the range's
// vertexOffset applied. Primitive restart values are skipped.
func findMinMaxVertexIndices(indexData []byte, indexType vk.IndexType, ranges []drawRange) (int64, int64) {
	indexSize := graphics.IndexTypeBytes(indexType)
	restart := graphics.IndexRestartValue(indexType)

	minIndex := int64(-1)
	maxIndex := int64(-1)

	for _, r := range ranges {
		for i := uint32(0); i < r.indexCount; i++ {
			at := uint64(r.firstIndex+i) * uint64(indexSize)
			if at+uint64(indexSize) > uint64(len(indexData)) {
				break
			}

			var index uint32
			switch indexSize {
			case 1:
				index = uint32(indexData[at])
			case 2:
				index = uint32(binary.LittleEndian.Uint16(indexData[at:]))
			default:
				index = binary.LittleEndian.Uint32(indexData[at:])
			}
			if index == restart {
				continue
			}

			vertex := int64(index) + int64(r.vertexOffset)
			if minIndex < 0 || vertex < minIndex {
				minIndex = vertex
			}
			if vertex > maxIndex {
				maxIndex = vertex
			}
		}
	}

	return minIndex, maxIndex
}

// dumpVertexIndexBuffers reads back the index buffer span and the
// vertex buffer spans the draw consumed and hands them to the delegate.
func (ctx *DrawCallsDumpingContext) dumpVertexIndexBuffers(util *graphics.ResourcesUtil,
	cbIndex, dcIndex uint64, params *DrawCallParams) error {

	ranges := params.drawRanges()
	if len(ranges) == 0 {
		return nil
	}

	minVertex := int64(0)
	maxVertex := int64(-1)
	maxInstances := uint32(0)
	for _, r := range ranges {
		if r.instanceCount > maxInstances {
			maxInstances = r.instanceCount
		}
	}

	if params.Type.IsIndexed() {
		ib := params.IndexBuffer
		if ib == nil || ib.Buffer == nil {
			core.LogWarn("indexed draw %d has no bound index buffer", dcIndex)
			return nil
		}

		indexSize := graphics.IndexTypeBytes(ib.IndexType)
		var absIndexCount uint64
		for _, r := range ranges {
			if end := uint64(r.firstIndex) + uint64(r.indexCount); end > absIndexCount {
				absIndexCount = end
			}
		}

		totalSize := ib.Size
		if totalSize == 0 {
			totalSize = vk.DeviceSize(absIndexCount) * vk.DeviceSize(indexSize)
		}
		if available := ib.Buffer.Size - ib.Offset; totalSize > available {
			totalSize = available
		}

		data, err := util.ReadFromBufferResource(ib.Buffer.Handle, totalSize, ib.Offset)
		if err != nil {
			return fmt.Errorf("reading index buffer of draw %d: %w", dcIndex, err)
		}
		ib.DumpedOffset = ib.Offset
		ib.DumpedSize = totalSize

		if err := ctx.emitResource(&ResourceInfo{
			Type:               ResourceTypeIndex,
			CommandBufferIndex: cbIndex,
			DrawCallIndex:      dcIndex,
			Data:               data,
			IndexType:          ib.IndexType,
			Offset:             ib.Offset,
		}); err != nil {
			return err
		}

		minVertex, maxVertex = findMinMaxVertexIndices(data, ib.IndexType, ranges)
		if maxVertex < 0 {
			return nil
		}
	} else {
		first := int64(-1)
		for _, r := range ranges {
			if int64(r.vertexCount) > maxVertex {
				maxVertex = int64(r.vertexCount)
			}
			if first < 0 || int64(r.firstVertex) < first {
				first = int64(r.firstVertex)
			}
		}
		if maxVertex <= 0 {
			return nil
		}
		minVertex = first
		maxVertex = first + maxVertex - 1
	}

	vertexCount := uint64(maxVertex - minVertex + 1)

	for binding, vis := range params.VertexInput.Bindings {
		vb := params.VertexBuffers[binding]
		if vb == nil || vb.Buffer == nil {
			continue
		}

		count := vertexCount
		offsetIntoBinding := uint64(minVertex)
		if vis.InputRate == vk.VertexInputRateInstance {
			count = uint64(maxInstances)
			offsetIntoBinding = 0
		}
		if count == 0 {
			continue
		}

		stride := uint64(vis.Stride)
		var totalSize vk.DeviceSize
		var offset vk.DeviceSize

		if stride == 0 {
			// Packed attributes with no declared stride: a single element
			// spanning every attribute sourced from this binding.
			totalSize = vk.DeviceSize(packedBindingSize(&params.VertexInput, binding))
			offset = vb.Offset
		} else {
			if vb.Size != 0 {
				totalSize = vb.Size
				offset = vb.Offset
			} else {
				totalSize = vk.DeviceSize(count * stride)
				offset = vb.Offset + vk.DeviceSize(offsetIntoBinding*stride)
			}
		}

		if offset >= vb.Buffer.Size {
			continue
		}
		if available := vb.Buffer.Size - offset; totalSize > available {
			totalSize = available
		}

		data, err := util.ReadFromBufferResource(vb.Buffer.Handle, totalSize, offset)
		if err != nil {
			return fmt.Errorf("reading vertex binding %d of draw %d: %w", binding, dcIndex, err)
		}
		vb.DumpedOffset = offset
		vb.DumpedSize = totalSize

		if err := ctx.emitResource(&ResourceInfo{
			Type:               ResourceTypeVertex,
			CommandBufferIndex: cbIndex,
			DrawCallIndex:      dcIndex,
			Data:               data,
			VertexBinding:      binding,
			Offset:             offset,
		}); err != nil {
			return err
		}
	}

	return nil
}

// packedBindingSize is the span of one tightly packed element of a
// zero-stride binding: every attribute's element size plus the smallest
// attribute offset.
func packedBindingSize(vi *VertexInputState, binding uint32) uint32 {
	var sum uint32
	minOffset := ^uint32(0)
	for _, attr := range vi.Attributes {
		if attr.Binding != binding {
			continue
		}
		sum += graphics.FormatElementSize(attr.Format)
		if attr.Offset < minOffset {
			minOffset = attr.Offset
		}
	}
	if sum == 0 {
		return 0
	}
	return sum + minOffset
}

// dumpRenderTargetAttachments reads back the attachments of the draw's
// subpass: color attachments (optionally one of them) and, when enabled,
// the depth attachment.
func (ctx *DrawCallsDumpingContext) dumpRenderTargetAttachments(util *graphics.ResourcesUtil,
	cbIndex, dcIndex uint64) error {

	rp, sp := ctx.GetRenderPassIndex(dcIndex)
	if rp >= uint64(len(ctx.renderTargets)) || sp >= uint64(len(ctx.renderTargets[rp])) {
		return nil
	}
	rts := &ctx.renderTargets[rp][sp]
	before := ctx.isBeforeCommandBuffer(cbIndex)

	for att, img := range rts.colorAttachments {
		if img == nil {
			continue
		}
		if ctx.colorAttIndex >= 0 && att != ctx.colorAttIndex {
			continue
		}

		data, err := util.ReadFromImageResource(img.Handle, img.Format,
			img.Extent.Width, img.Extent.Height, vk.ImageAspectColorBit)
		if err != nil {
			return fmt.Errorf("reading color attachment %d of draw %d: %w", att, dcIndex, err)
		}

		if err := ctx.emitResource(&ResourceInfo{
			Type:               ResourceTypeRtv,
			CommandBufferIndex: cbIndex,
			DrawCallIndex:      dcIndex,
			RenderPassIndex:    rp,
			BeforeDrawCall:     before,
			Data:               data,
			AttachmentIndex:    att,
			Format:             img.Format,
			Width:              img.Extent.Width,
			Height:             img.Extent.Height,
		}); err != nil {
			return err
		}
	}

	if ctx.dumpDepth && rts.depthAttachment != nil {
		img := rts.depthAttachment
		data, err := util.ReadFromImageResource(img.Handle, img.Format,
			img.Extent.Width, img.Extent.Height, vk.ImageAspectDepthBit)
		if err != nil {
			return fmt.Errorf("reading depth attachment of draw %d: %w", dcIndex, err)
		}

		if err := ctx.emitResource(&ResourceInfo{
			Type:               ResourceTypeDsv,
			CommandBufferIndex: cbIndex,
			DrawCallIndex:      dcIndex,
			RenderPassIndex:    rp,
			BeforeDrawCall:     before,
			Data:               data,
			AttachmentIndex:    -1,
			Format:             img.Format,
			Width:              img.Extent.Width,
			Height:             img.Extent.Height,
		}); err != nil {
			return err
		}
	}

	return nil
}

// dumpImmutableDescriptors reads back the images and buffers the draw
// references through its descriptor sets. Each resource is dumped at
// most once per render pass.
func (ctx *DrawCallsDumpingContext) dumpImmutableDescriptors(util *graphics.ResourcesUtil,
	cbIndex, dcIndex uint64, params *DrawCallParams) error {

	rp, _ := ctx.GetRenderPassIndex(dcIndex)
	if rp >= uint64(len(ctx.dumpedDescriptors)) {
		return nil
	}
	dedup := &ctx.dumpedDescriptors[rp]

	for set, bindings := range params.ReferencedDescriptors {
		for binding, desc := range bindings {
			switch desc.Type {
			case vk.DescriptorTypeCombinedImageSampler,
				vk.DescriptorTypeSampledImage,
				vk.DescriptorTypeStorageImage,
				vk.DescriptorTypeInputAttachment:
				for elem, ib := range desc.ImageBindings {
					if err := ctx.dumpImageDescriptor(util, dedup, cbIndex, dcIndex, rp,
						set, binding, uint32(elem), &ib); err != nil {
						return err
					}
				}

			case vk.DescriptorTypeUniformTexelBuffer,
				vk.DescriptorTypeStorageTexelBuffer,
				vk.DescriptorTypeUniformBuffer,
				vk.DescriptorTypeStorageBuffer,
				vk.DescriptorTypeUniformBufferDynamic,
				vk.DescriptorTypeStorageBufferDynamic:
				for elem, bb := range desc.BufferBindings {
					if err := ctx.dumpBufferDescriptor(util, dedup, cbIndex, dcIndex, rp,
						set, binding, uint32(elem), &bb); err != nil {
						return err
					}
				}

			case descriptorTypeInlineUniformBlock:
				if len(desc.InlineUniformBlock) == 0 {
					continue
				}
				if err := ctx.emitResource(&ResourceInfo{
					Type:               ResourceTypeInlineUniformBlockDescriptor,
					CommandBufferIndex: cbIndex,
					DrawCallIndex:      dcIndex,
					RenderPassIndex:    rp,
					Data:               desc.InlineUniformBlock,
					Set:                set,
					Binding:            binding,
				}); err != nil {
					return err
				}

			case vk.DescriptorTypeSampler, descriptorTypeAccelerationStructure:
				// Nothing to read back.

			default:
				core.LogWarnOnce(fmt.Sprintf("descriptor-type-%d", desc.Type),
					"descriptor type %d is not dumped", desc.Type)
			}
		}
	}

	return nil
}

func (ctx *DrawCallsDumpingContext) dumpImageDescriptor(util *graphics.ResourcesUtil,
	dedup *dumpedDescriptors, cbIndex, dcIndex, rp uint64,
	set, binding, elem uint32, ib *DescriptorImageBinding) error {

	viewInfo := ctx.objectTable.GetImageViewInfo(ib.ImageViewID)
	if viewInfo == nil {
		return nil
	}
	img := ctx.objectTable.GetImageInfo(viewInfo.ImageID)
	if img == nil {
		return nil
	}
	if _, seen := dedup.images[img.CaptureID]; seen {
		return nil
	}
	dedup.images[img.CaptureID] = struct{}{}

	data, err := util.ReadFromImageResource(img.Handle, img.Format,
		img.Extent.Width, img.Extent.Height, graphics.ImageAspectForFormat(img.Format))
	if err != nil {
		return fmt.Errorf("reading image descriptor (%d, %d) of draw %d: %w", set, binding, dcIndex, err)
	}

	return ctx.emitResource(&ResourceInfo{
		Type:               ResourceTypeImageDescriptor,
		CommandBufferIndex: cbIndex,
		DrawCallIndex:      dcIndex,
		RenderPassIndex:    rp,
		Data:               data,
		Format:             img.Format,
		Width:              img.Extent.Width,
		Height:             img.Extent.Height,
		Set:                set,
		Binding:            binding,
		ArrayElement:       elem,
	})
}

func (ctx *DrawCallsDumpingContext) dumpBufferDescriptor(util *graphics.ResourcesUtil,
	dedup *dumpedDescriptors, cbIndex, dcIndex, rp uint64,
	set, binding, elem uint32, bb *DescriptorBufferBinding) error {

	buf := ctx.objectTable.GetBufferInfo(bb.BufferID)
	if buf == nil {
		return nil
	}
	if _, seen := dedup.buffers[buf.CaptureID]; seen {
		return nil
	}
	dedup.buffers[buf.CaptureID] = struct{}{}

	size := bb.Range
	if size == vk.DeviceSize(vk.WholeSize) || size == 0 {
		size = buf.Size - bb.Offset
	}
	if available := buf.Size - bb.Offset; size > available {
		size = available
	}

	// Storage buffers a later draw may have overwritten were backed up
	// when the first referencing draw was recorded.
	data, err := util.ReadFromBufferResource(ctx.backupBuffer(buf), size, bb.Offset)
	if err != nil {
		return fmt.Errorf("reading buffer descriptor (%d, %d) of draw %d: %w", set, binding, dcIndex, err)
	}

	return ctx.emitResource(&ResourceInfo{
		Type:               ResourceTypeBufferDescriptor,
		CommandBufferIndex: cbIndex,
		DrawCallIndex:      dcIndex,
		RenderPassIndex:    rp,
		Data:               data,
		Set:                set,
		Binding:            binding,
		ArrayElement:       elem,
		Offset:             bb.Offset,
	})
}

// emitResource stamps the dump identity on the artifact and forwards it
// to the delegate.
func (ctx *DrawCallsDumpingContext) emitResource(res *ResourceInfo) error {
	res.DumpID = ctx.id
	res.QueueSubmitIndex = ctx.queueSubmitIndex

	if err := ctx.delegate.DumpResource(res); err != nil {
		return fmt.Errorf("delegate rejected %s resource of draw %d: %w", res.Type, res.DrawCallIndex, err)
	}

	core.DumpMetrics().ResourcesDumped.WithLabelValues(res.Type.String()).Inc()
	return nil
}
